package port

import (
	"context"
	"time"

	"reliefWs/internal/modules/alerts/domain"
)

// NotificationStore persists per-recipient notifications. Every failure wraps domain.ErrStoreUnavailable
// except lookups of unknown records, which return domain.ErrNotificationNotFound.
type NotificationStore interface {
	// Save inserts n unless a record with the same id exists. It reports whether a record was created.
	Save(ctx context.Context, n domain.Notification) (bool, error)
	// List returns the recipient's records, newest first. limit <= 0 means no limit.
	List(ctx context.Context, recipient string, unreadOnly bool, limit int) ([]domain.Notification, error)
	// CountUnread counts every unread record of the recipient, unbounded by any list limit.
	CountUnread(ctx context.Context, recipient string) (int, error)
	MarkRead(ctx context.Context, recipient, id string, at time.Time) error
	// MarkAllRead flags every unread record of the recipient and returns how many changed.
	MarkAllRead(ctx context.Context, recipient string, at time.Time) (int, error)
	// AppendPublic pushes n onto the capped public feed, keeping the newest keep entries.
	AppendPublic(ctx context.Context, n domain.Notification, keep int) error
	LatestPublic(ctx context.Context, limit int) ([]domain.Notification, error)
}

// CrpfStore persists CRPF requests.
type CrpfStore interface {
	// Create inserts n unless a request with the same id exists.
	Create(ctx context.Context, n domain.CrpfNotification) error
	Get(ctx context.Context, id string) (domain.CrpfNotification, error)
	// List returns requests newest first, filtered by status unless status is empty.
	List(ctx context.Context, status domain.CrpfStatus) ([]domain.CrpfNotification, error)
	// Acknowledge atomically marks the request notified. It reports false when it already was.
	Acknowledge(ctx context.Context, id string, at time.Time) (domain.CrpfNotification, bool, error)
}

// AudienceDirectory remembers which users are interested in which topics so the dispatcher
// can find intended recipients that are not connected.
type AudienceDirectory interface {
	// Remember records the topic set of an authenticated identity, replacing what was known before.
	Remember(ctx context.Context, identity domain.Identity) error
	// Members returns the user ids known to be interested in topic.
	Members(ctx context.Context, topic domain.Topic) ([]string, error)
}
