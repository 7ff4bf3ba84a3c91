package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"reliefWs/internal/modules/alerts/application/port"
	"reliefWs/internal/modules/alerts/domain"
)

// CrpfUseCase manages CRPF requests. Every operation requires an administrator.
type CrpfUseCase struct {
	store      port.CrpfStore
	dispatcher port.EventDispatcher
	now        func() time.Time
}

func NewCrpfUseCase(store port.CrpfStore, dispatcher port.EventDispatcher) *CrpfUseCase {
	return &CrpfUseCase{store: store, dispatcher: dispatcher, now: time.Now}
}

type CrpfRequest struct {
	DisasterID string `json:"disasterId"`
	Title      string `json:"title"`
	Message    string `json:"message"`
	Priority   string `json:"priority"`
}

// Request opens a pending CRPF request and alerts administrators and the public about it.
func (uc *CrpfUseCase) Request(ctx context.Context, actor domain.Identity, req CrpfRequest) (domain.CrpfNotification, domain.DispatchResult, error) {
	if !actor.IsAdmin() {
		return domain.CrpfNotification{}, domain.DispatchResult{}, domain.ErrForbidden
	}
	priority, ok := domain.ParsePriority(req.Priority)
	if !ok {
		priority = domain.PriorityMedium
	}
	payload := domain.CrpfAlert{
		DisasterID: req.DisasterID,
		Title:      req.Title,
		Message:    req.Message,
		Priority:   priority,
		AdminName:  actor.UserID,
	}
	if err := payload.Validate(); err != nil {
		return domain.CrpfNotification{}, domain.DispatchResult{}, fmt.Errorf("%w: %v", domain.ErrInvalidEvent, err)
	}

	now := uc.now()
	record := domain.NewCrpfNotification(req.DisasterID, actor.UserID, req.Title, req.Message, priority, now)
	if err := uc.store.Create(ctx, record); err != nil {
		return domain.CrpfNotification{}, domain.DispatchResult{}, err
	}
	payload.CrpfID = record.ID

	result, err := uc.dispatcher.Dispatch(ctx, domain.NewEvent(payload, "admin:"+actor.UserID, now))
	if err != nil {
		return record, domain.DispatchResult{}, err
	}
	slog.Info("crpf request opened", slog.String("crpfNotificationId", record.ID), slog.String("adminId", actor.UserID))
	return record, result, nil
}

// Acknowledge marks the request notified. A repeated acknowledgment returns the record unchanged.
func (uc *CrpfUseCase) Acknowledge(ctx context.Context, actor domain.Identity, id, status string) (domain.CrpfNotification, bool, error) {
	if !actor.IsAdmin() {
		return domain.CrpfNotification{}, false, domain.ErrForbidden
	}
	if _, err := domain.ParseCrpfStatus(status); err != nil {
		return domain.CrpfNotification{}, false, err
	}
	record, changed, err := uc.store.Acknowledge(ctx, id, uc.now())
	if err != nil {
		return domain.CrpfNotification{}, false, err
	}
	if changed {
		slog.Info("crpf request acknowledged", slog.String("crpfNotificationId", record.ID), slog.String("adminId", actor.UserID))
	}
	return record, changed, nil
}

func (uc *CrpfUseCase) Get(ctx context.Context, actor domain.Identity, id string) (domain.CrpfNotification, error) {
	if !actor.IsAdmin() {
		return domain.CrpfNotification{}, domain.ErrForbidden
	}
	return uc.store.Get(ctx, id)
}

// List returns every request, or only pending ones.
func (uc *CrpfUseCase) List(ctx context.Context, actor domain.Identity, pendingOnly bool) ([]domain.CrpfNotification, error) {
	if !actor.IsAdmin() {
		return nil, domain.ErrForbidden
	}
	status := domain.CrpfStatus("")
	if pendingOnly {
		status = domain.CrpfStatusPending
	}
	items, err := uc.store.List(ctx, status)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.CrpfNotification{}
	}
	return items, nil
}
