package transport

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Register mounts every alert route on e.
func Register(e *echo.Echo, deps Deps) {
	notifications := NewNotificationHandlers(deps.Inbox)
	crpf := NewCrpfHandlers(deps.Crpf)
	requiredAuth := requireUser(deps.Validator)

	e.GET("/ws", NewAlertsWebsocketHandler(deps))
	e.GET("/healthz", func(c echo.Context) error {
		if deps.Health != nil {
			if err := deps.Health(c.Request().Context()); err != nil {
				slog.Warn("health check failed", slog.Any("error", err))
				return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			}
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	api := e.Group("/api")
	api.GET("/live-feed", NewLiveFeedHandler(deps.Dispatcher))
	api.POST("/events", NewEventsHTTPHandler(deps.Dispatcher), requireInternalKey(deps.InternalAPIKey))

	n := api.Group("/notifications")
	n.GET("/latest", notifications.Latest)
	n.GET("/me", notifications.Mine, requiredAuth)
	n.PUT("/read-all", notifications.MarkAllRead, requiredAuth)
	n.PUT("/:id/read", notifications.MarkRead, requiredAuth)

	cr := api.Group("/crpf-notifications", requiredAuth)
	cr.GET("", crpf.List)
	cr.GET("/pending", crpf.Pending)
	cr.GET("/:id", crpf.Get)
	cr.POST("", crpf.Create)
	cr.PUT("/:id/status", crpf.UpdateStatus)
}
