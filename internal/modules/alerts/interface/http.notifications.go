package transport

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"reliefWs/internal/modules/alerts/application/usecase"
)

// NotificationHandlers serves the durable inbox and the public latest feed.
type NotificationHandlers struct {
	inbox *usecase.InboxUseCase
}

func NewNotificationHandlers(inbox *usecase.InboxUseCase) *NotificationHandlers {
	return &NotificationHandlers{inbox: inbox}
}

func (h *NotificationHandlers) Latest(c echo.Context) error {
	items, err := h.inbox.Latest(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *NotificationHandlers) Mine(c echo.Context) error {
	unreadOnly, _ := strconv.ParseBool(c.QueryParam("unread"))
	page, err := h.inbox.List(c.Request().Context(), identityFrom(c), unreadOnly)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, page)
}

func (h *NotificationHandlers) MarkRead(c echo.Context) error {
	if err := h.inbox.MarkRead(c.Request().Context(), identityFrom(c), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true})
}

func (h *NotificationHandlers) MarkAllRead(c echo.Context) error {
	updated, err := h.inbox.MarkAllRead(c.Request().Context(), identityFrom(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "updated": updated})
}
