package transport

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"reliefWs/internal/modules/alerts/application/usecase"
	"reliefWs/internal/modules/alerts/domain"
	"reliefWs/internal/shared/auth"
	"reliefWs/internal/shared/httputil"
)

// Deps are the collaborators of every handler in this package.
type Deps struct {
	Connections    *usecase.ConnectionUseCase
	Dispatcher     *usecase.Dispatcher
	Admin          *usecase.AdminUseCase
	Crpf           *usecase.CrpfUseCase
	Inbox          *usecase.InboxUseCase
	Validator      auth.TokenValidator
	InternalAPIKey string
	SendBuffer     int
	CommandTimeout time.Duration
	// Health checks the durable store. Nil when notifications live in memory.
	Health         func(ctx context.Context) error
}

const identityKey = "alerts.identity"

var errorMapper = httputil.NewErrorMapper().
	WithMapping(auth.ErrMissingToken, http.StatusUnauthorized, "missing token").
	WithMapping(auth.ErrInvalidToken, http.StatusUnauthorized, "invalid token").
	WithMapping(domain.ErrInvalidCrpfStatus, http.StatusBadRequest, "Invalid status. Only 'notified' status is allowed.").
	WithMapping(domain.ErrInvalidEvent, http.StatusBadRequest, "invalid event").
	WithMapping(domain.ErrForbidden, http.StatusForbidden, "forbidden").
	WithMapping(domain.ErrNotificationNotFound, http.StatusNotFound, "notification not found").
	WithMapping(domain.ErrCrpfNotFound, http.StatusNotFound, "CRPF notification not found").
	WithMapping(domain.ErrStoreUnavailable, http.StatusServiceUnavailable, "notification store unavailable")

func httpError(err error) *echo.HTTPError {
	info := errorMapper.Map(err)
	return echo.NewHTTPError(info.Status, info.Message)
}

// identityFromClaims maps verified token claims onto an alert identity.
func identityFromClaims(claims *auth.Claims) domain.Identity {
	if claims == nil {
		return domain.Anonymous()
	}
	return domain.Identity{
		UserID:   claims.UserID(),
		Role:     domain.ParseRole(claims.PrimaryRole()),
		Location: domain.Location{City: strings.TrimSpace(claims.City), State: strings.TrimSpace(claims.State)},
	}
}

// requireUser resolves the caller identity from a bearer token and rejects anonymous calls.
func requireUser(validator auth.TokenValidator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := auth.ExtractBearerToken(c.Request())
			if token == "" {
				return httpError(auth.ErrMissingToken)
			}
			if validator == nil {
				return httpError(auth.ErrInvalidToken)
			}
			claims, err := validator.Validate(token)
			if err != nil {
				return httpError(err)
			}
			c.Set(identityKey, identityFromClaims(claims))
			return next(c)
		}
	}
}

func identityFrom(c echo.Context) domain.Identity {
	if identity, ok := c.Get(identityKey).(domain.Identity); ok {
		return identity
	}
	return domain.Anonymous()
}
