package transport

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"reliefWs/internal/modules/alerts/application/usecase"
)

type crpfRequestBody struct {
	DisasterID string `json:"disasterId"`
	Title      string `json:"title"`
	Message    string `json:"message"`
	Priority   string `json:"priority"`
}

func (b crpfRequestBody) toRequest() usecase.CrpfRequest {
	return usecase.CrpfRequest{DisasterID: b.DisasterID, Title: b.Title, Message: b.Message, Priority: b.Priority}
}

type crpfStatusBody struct {
	Status string `json:"status"`
}

// CrpfHandlers serves /api/crpf-notifications. Every route requires an administrator.
type CrpfHandlers struct {
	crpf *usecase.CrpfUseCase
}

func NewCrpfHandlers(crpf *usecase.CrpfUseCase) *CrpfHandlers {
	return &CrpfHandlers{crpf: crpf}
}

func (h *CrpfHandlers) List(c echo.Context) error {
	items, err := h.crpf.List(c.Request().Context(), identityFrom(c), false)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *CrpfHandlers) Pending(c echo.Context) error {
	items, err := h.crpf.List(c.Request().Context(), identityFrom(c), true)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *CrpfHandlers) Get(c echo.Context) error {
	item, err := h.crpf.Get(c.Request().Context(), identityFrom(c), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, item)
}

func (h *CrpfHandlers) Create(c echo.Context) error {
	var body crpfRequestBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	record, result, err := h.crpf.Request(c.Request().Context(), identityFrom(c), body.toRequest())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, map[string]any{
		"success":          true,
		"crpfNotification": record,
		"dispatch":         result,
	})
}

// UpdateStatus acknowledges a request. Only "notified" is accepted; repeating it returns the
// stored record unchanged.
func (h *CrpfHandlers) UpdateStatus(c echo.Context) error {
	var body crpfStatusBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	record, changed, err := h.crpf.Acknowledge(c.Request().Context(), identityFrom(c), c.Param("id"), body.Status)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":          true,
		"changed":          changed,
		"crpfNotification": record,
	})
}
