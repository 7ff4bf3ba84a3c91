package usecase

import (
	"context"
	"time"

	"reliefWs/internal/modules/alerts/application/port"
	"reliefWs/internal/modules/alerts/domain"
)

// AdminUseCase turns administrator commands into domain events.
type AdminUseCase struct {
	dispatcher port.EventDispatcher
	now        func() time.Time
}

func NewAdminUseCase(dispatcher port.EventDispatcher) *AdminUseCase {
	return &AdminUseCase{dispatcher: dispatcher, now: time.Now}
}

// Publish dispatches payload on behalf of actor, who must be an administrator.
func (uc *AdminUseCase) Publish(ctx context.Context, actor domain.Identity, payload domain.Payload) (domain.DispatchResult, error) {
	if !actor.IsAdmin() {
		return domain.DispatchResult{}, domain.ErrForbidden
	}
	return uc.dispatcher.Dispatch(ctx, domain.NewEvent(stampAdmin(payload, actor), "admin:"+actor.UserID, uc.now()))
}

func stampAdmin(payload domain.Payload, actor domain.Identity) domain.Payload {
	switch p := payload.(type) {
	case domain.AdminBroadcast:
		if p.AdminName == "" {
			p.AdminName = actor.UserID
		}
		return p
	case domain.Emergency:
		if p.AdminName == "" {
			p.AdminName = actor.UserID
		}
		return p
	case domain.SeverityNotification:
		if p.AdminName == "" {
			p.AdminName = actor.UserID
		}
		return p
	case domain.DisasterAlert:
		p.AdminTest = true
		if p.Source == "" {
			p.Source = "admin"
		}
		return p
	default:
		return payload
	}
}
