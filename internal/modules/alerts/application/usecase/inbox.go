package usecase

import (
	"context"
	"strings"
	"time"

	"reliefWs/internal/modules/alerts/application/port"
	"reliefWs/internal/modules/alerts/domain"
)

const defaultInboxLimit = 50

// InboxUseCase serves the durable notifications of a user and the public feed.
type InboxUseCase struct {
	store    port.NotificationStore
	feedSize int
	now      func() time.Time
}

func NewInboxUseCase(store port.NotificationStore, feedSize int) *InboxUseCase {
	if feedSize <= 0 {
		feedSize = defaultPublicFeedSize
	}
	return &InboxUseCase{store: store, feedSize: feedSize, now: time.Now}
}

type InboxPage struct {
	Notifications []domain.Notification `json:"notifications"`
	UnreadCount   int                   `json:"unreadCount"`
}

func (uc *InboxUseCase) List(ctx context.Context, actor domain.Identity, unreadOnly bool) (InboxPage, error) {
	if actor.IsAnonymous() {
		return InboxPage{}, domain.ErrForbidden
	}
	items, err := uc.store.List(ctx, actor.UserID, unreadOnly, defaultInboxLimit)
	if err != nil {
		return InboxPage{}, err
	}
	if items == nil {
		items = []domain.Notification{}
	}
	unread, err := uc.store.CountUnread(ctx, actor.UserID)
	if err != nil {
		return InboxPage{}, err
	}
	return InboxPage{Notifications: items, UnreadCount: unread}, nil
}

func (uc *InboxUseCase) MarkRead(ctx context.Context, actor domain.Identity, id string) error {
	if actor.IsAnonymous() {
		return domain.ErrForbidden
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.ErrNotificationNotFound
	}
	return uc.store.MarkRead(ctx, actor.UserID, id, uc.now())
}

// MarkAllRead is idempotent: a second call changes nothing and succeeds.
func (uc *InboxUseCase) MarkAllRead(ctx context.Context, actor domain.Identity) (int, error) {
	if actor.IsAnonymous() {
		return 0, domain.ErrForbidden
	}
	return uc.store.MarkAllRead(ctx, actor.UserID, uc.now())
}

// Latest returns the public feed anonymous subscribers read on reconnect.
func (uc *InboxUseCase) Latest(ctx context.Context) ([]domain.Notification, error) {
	items, err := uc.store.LatestPublic(ctx, uc.feedSize)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.Notification{}
	}
	return items, nil
}
