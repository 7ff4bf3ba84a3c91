package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"reliefWs/internal/modules/alerts/domain"
	"reliefWs/internal/shared/normalization"
)

// ErrConfirmationFailed is returned when the server did not confirm an optimistic read. The
// local change has been rolled back and the call may be retried.
var ErrConfirmationFailed = errors.New("read confirmation failed")

// IsRetryable reports whether err came from a rolled back optimistic update or a transient store failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConfirmationFailed) || domain.IsRetryable(err)
}

// NotificationAPI is the durable inbox as seen from the client.
type NotificationAPI interface {
	Fetch(ctx context.Context) ([]domain.Notification, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
}

// JoinCommand is one room join sent after every (re)connect.
type JoinCommand struct {
	Action  string `json:"action"`
	Payload any    `json:"payload,omitempty"`
}

// Joiner sends join commands over the live connection.
type Joiner interface {
	Join(ctx context.Context, cmd JoinCommand) error
}

// CommandsFor lists the joins an identity needs. Room membership is lost on every disconnect,
// so the list is replayed each time.
func CommandsFor(id domain.Identity) []JoinCommand {
	if id.IsAnonymous() {
		if id.NotificationsEnabled {
			return []JoinCommand{{Action: "join_public_notifications"}}
		}
		return nil
	}
	cmds := []JoinCommand{{Action: "join_user", Payload: map[string]string{"userId": id.UserID}}}
	if id.Location.Complete() {
		cmds = append(cmds, JoinCommand{Action: "join_location", Payload: id.Location})
	}
	return cmds
}

type entry struct {
	n domain.Notification
	// local entries came from live frames only and have no durable record to confirm against.
	local       bool
	pendingRead bool
}

// Reconciler merges live frames with the durable inbox and keeps the unread count consistent
// across reconnects.
type Reconciler struct {
	api    NotificationAPI
	joiner Joiner
	now    func() time.Time

	mu       sync.Mutex
	state    State
	identity domain.Identity
	items    map[string]*entry
	onChange func()
}

type Option func(*Reconciler)

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// WithOnChange registers a callback run after the notification list or unread count changes.
func WithOnChange(fn func()) Option {
	return func(r *Reconciler) {
		r.onChange = fn
	}
}

func NewReconciler(identity domain.Identity, api NotificationAPI, joiner Joiner, opts ...Option) *Reconciler {
	r := &Reconciler{
		api:      api,
		joiner:   joiner,
		now:      time.Now,
		state:    StateDisconnected,
		identity: identity,
		items:    make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Reconciler) Identity() domain.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.identity
}

// Topics returns the rooms the current identity should be a member of once synced.
func (r *Reconciler) Topics() []domain.Topic {
	return domain.TopicsFor(r.Identity())
}

func (r *Reconciler) setState(to State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.state.transition(to); err != nil {
		return err
	}
	r.state = to
	return nil
}

func (r *Reconciler) Connecting() error {
	return r.setState(StateConnecting)
}

// Disconnected drops live readiness. Local notifications and the unread count survive.
func (r *Reconciler) Disconnected() {
	_ = r.setState(StateDisconnected)
}

// Connected replays the joins of the current identity, then fetches the durable inbox and
// merges it. The session is synced only after both succeed.
func (r *Reconciler) Connected(ctx context.Context) error {
	if err := r.setState(StateConnected); err != nil {
		return err
	}
	return r.sync(ctx)
}

// Resync re-runs joins and the inbox fetch on a live connection.
func (r *Reconciler) Resync(ctx context.Context) error {
	if !r.State().Live() {
		return fmt.Errorf("%w: not connected", ErrInvalidTransition)
	}
	return r.sync(ctx)
}

func (r *Reconciler) sync(ctx context.Context) error {
	r.mu.Lock()
	if r.state == StateSynced || r.state == StateConnected {
		r.state = StateJoining
	}
	identity := r.identity
	r.mu.Unlock()

	for _, cmd := range CommandsFor(identity) {
		if r.joiner == nil {
			break
		}
		if err := r.joiner.Join(ctx, cmd); err != nil {
			_ = r.setState(StateConnected)
			return fmt.Errorf("join %s: %w", cmd.Action, err)
		}
	}

	if r.api != nil {
		durable, err := r.api.Fetch(ctx)
		if err != nil {
			slog.Warn("notification fetch failed", slog.String("userId", identity.UserID), slog.Any("error", err))
			return fmt.Errorf("fetch notifications: %w", err)
		}
		r.Merge(durable)
	}
	return r.setState(StateSynced)
}

// SetIdentity switches the session to a new identity. A different user starts from an empty
// list; a live session re-joins immediately.
func (r *Reconciler) SetIdentity(ctx context.Context, identity domain.Identity) error {
	r.mu.Lock()
	if identity.UserID != r.identity.UserID {
		r.items = make(map[string]*entry)
	}
	r.identity = identity
	live := r.state.Live()
	r.mu.Unlock()
	r.changed()

	if !live {
		return nil
	}
	return r.sync(ctx)
}

// Merge folds durable records into the local list. Records are keyed by id, so merging the
// same page twice is a no-op. A fetch never undoes a local read.
func (r *Reconciler) Merge(durable []domain.Notification) {
	r.mu.Lock()
	for _, n := range durable {
		if strings.TrimSpace(n.ID) == "" {
			continue
		}
		existing, ok := r.items[n.ID]
		if ok && (existing.pendingRead || existing.n.Read) && !n.Read {
			n.Read = true
			n.ReadAt = existing.n.ReadAt
		}
		pending := ok && existing.pendingRead
		r.items[n.ID] = &entry{n: n, pendingRead: pending}
	}
	r.mu.Unlock()
	r.changed()
}

// OnLive records a live event frame. The entry id matches the id of the durable record the
// server would have written for this recipient, so a later fetch collapses onto it.
func (r *Reconciler) OnLive(msg *domain.Message) (domain.Notification, bool) {
	if msg == nil || strings.TrimSpace(msg.EventID) == "" || strings.HasPrefix(msg.Event, domain.SystemEntity+".") {
		return domain.Notification{}, false
	}
	r.mu.Lock()
	recipient := r.identity.UserID
	if r.identity.IsAnonymous() {
		recipient = domain.PublicRecipient
	}
	id := domain.NotificationID(msg.EventID, recipient)
	if existing, ok := r.items[id]; ok {
		r.mu.Unlock()
		return existing.n, false
	}
	n := domain.Notification{
		ID:        id,
		Recipient: recipient,
		EventID:   msg.EventID,
		Type:      msg.Kind,
		Message:   summaryOf(msg.Data),
		CreatedAt: msg.Timestamp.UTC(),
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = r.now().UTC()
	}
	if sev, ok := domain.ParseSeverity(stringField(msg.Data, "severity"), ""); ok {
		n.Severity = sev
	}
	r.items[id] = &entry{n: n, local: true}
	r.mu.Unlock()
	r.changed()
	return n, true
}

// MarkRead marks one notification read locally and asks the server to confirm it. On failure
// the local change is rolled back and ErrConfirmationFailed is returned.
func (r *Reconciler) MarkRead(ctx context.Context, id string) error {
	r.mu.Lock()
	e, ok := r.items[id]
	if !ok {
		r.mu.Unlock()
		return domain.ErrNotificationNotFound
	}
	if e.n.Read {
		r.mu.Unlock()
		return nil
	}
	readAt := r.now().UTC()
	e.n.Read = true
	e.n.ReadAt = &readAt
	confirm := !e.local && !r.identity.IsAnonymous() && r.api != nil
	e.pendingRead = confirm
	r.mu.Unlock()
	r.changed()

	if !confirm {
		return nil
	}
	err := r.api.MarkRead(ctx, id)

	r.mu.Lock()
	if current, ok := r.items[id]; ok && current.pendingRead {
		current.pendingRead = false
		if err != nil && !errors.Is(err, domain.ErrNotificationNotFound) {
			current.n.Read = false
			current.n.ReadAt = nil
		}
	}
	r.mu.Unlock()

	if err != nil && !errors.Is(err, domain.ErrNotificationNotFound) {
		r.changed()
		return fmt.Errorf("%w: %v", ErrConfirmationFailed, err)
	}
	return nil
}

// MarkAllRead marks every unread notification read. Nothing unread means no server call.
func (r *Reconciler) MarkAllRead(ctx context.Context) error {
	r.mu.Lock()
	readAt := r.now().UTC()
	var changed []string
	confirm := false
	anonymous := r.identity.IsAnonymous()
	for id, e := range r.items {
		if e.n.Read {
			continue
		}
		e.n.Read = true
		e.n.ReadAt = &readAt
		if !e.local && !anonymous {
			e.pendingRead = true
			confirm = true
		}
		changed = append(changed, id)
	}
	r.mu.Unlock()
	if len(changed) == 0 {
		return nil
	}
	r.changed()

	if !confirm || r.api == nil {
		r.clearPending(changed, false)
		return nil
	}
	err := r.api.MarkAllRead(ctx)
	r.clearPending(changed, err != nil)
	if err != nil {
		r.changed()
		return fmt.Errorf("%w: %v", ErrConfirmationFailed, err)
	}
	return nil
}

func (r *Reconciler) clearPending(ids []string, rollback bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		e, ok := r.items[id]
		if !ok {
			continue
		}
		if rollback {
			e.n.Read = false
			e.n.ReadAt = nil
		}
		e.pendingRead = false
	}
}

func (r *Reconciler) UnreadCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, e := range r.items {
		if !e.n.Read {
			count++
		}
	}
	return count
}

// Notifications returns a snapshot, newest first.
func (r *Reconciler) Notifications() []domain.Notification {
	r.mu.Lock()
	out := make([]domain.Notification, 0, len(r.items))
	for _, e := range r.items {
		out = append(out, e.n)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (r *Reconciler) changed() {
	if r.onChange != nil {
		r.onChange()
	}
}

func summaryOf(data any) string {
	if payload, ok := data.(domain.Payload); ok {
		return payload.Summary()
	}
	return normalization.FirstString(normalization.MapFromPayload(data), "message", "title", "description")
}

func stringField(data any, key string) string {
	return normalization.FirstString(normalization.MapFromPayload(data), key)
}
