package httputil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

var errMissing = errors.New("missing")

func TestErrorMapperMatchesWrapped(t *testing.T) {
	m := NewErrorMapper().WithMapping(errMissing, http.StatusNotFound, "not found")

	info := m.Map(fmt.Errorf("lookup: %w", errMissing))
	assert.Equal(t, http.StatusNotFound, info.Status)
	assert.Equal(t, "not found", info.Message)
}

func TestErrorMapperDefaults(t *testing.T) {
	m := NewErrorMapper().WithDefault(http.StatusBadGateway, "upstream")

	assert.Equal(t, http.StatusBadGateway, m.Status(errors.New("boom")))
	assert.Equal(t, http.StatusGatewayTimeout, m.Status(context.DeadlineExceeded))
	assert.Equal(t, http.StatusOK, m.Status(nil))
}
