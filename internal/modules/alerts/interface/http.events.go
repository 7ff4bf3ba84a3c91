package transport

import (
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"reliefWs/internal/modules/alerts/application/port"
	"reliefWs/internal/modules/alerts/domain"
)

const internalKeyHeader = "X-Internal-Api-Key"

// EventResponse is returned by POST /api/events.
type EventResponse struct {
	Success bool                  `json:"success"`
	Result  domain.DispatchResult `json:"result"`
	Warning string                `json:"warning,omitempty"`
}

// NewEventsHTTPHandler lets trusted backends push domain events, the same path the Kafka consumer takes.
func NewEventsHTTPHandler(dispatcher port.EventDispatcher) echo.HandlerFunc {
	return func(c echo.Context) error {
		body, err := io.ReadAll(io.LimitReader(c.Request().Body, 1<<20))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
		ev, err := domain.DecodeEvent(body)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		ev.Origin = firstNonEmpty(ev.Origin, "http:"+c.RealIP())
		// The id is fixed here so a retry that echoes result.eventId lands on the same records.
		ev = ev.Normalize(time.Now())

		result, err := dispatcher.Dispatch(c.Request().Context(), ev)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidEvent) {
				return echo.NewHTTPError(http.StatusBadRequest, err.Error())
			}
			return httpError(err)
		}

		resp := EventResponse{Success: true, Result: result}
		status := http.StatusOK
		if result.Retryable() {
			resp.Warning = "some offline recipients were not persisted; resend the event with id set to result.eventId"
			status = http.StatusAccepted
		}
		slog.Info("events http: event dispatched",
			slog.String("eventId", result.EventID),
			slog.String("kind", string(ev.Kind)),
			slog.Int("delivered", result.DeliveredCount),
		)
		return c.JSON(status, resp)
	}
}

// requireInternalKey guards internal routes. With no key configured the routes are closed.
func requireInternalKey(key string) echo.MiddlewareFunc {
	expected := []byte(strings.TrimSpace(key))
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			got := []byte(strings.TrimSpace(c.Request().Header.Get(internalKeyHeader)))
			if len(expected) == 0 || subtle.ConstantTimeCompare(got, expected) != 1 {
				return echo.NewHTTPError(http.StatusForbidden, "invalid internal api key")
			}
			return next(c)
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
