package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"reliefWs/internal/modules/alerts/application/port"
	"reliefWs/internal/modules/alerts/domain"
	"reliefWs/internal/shared/metrics"
)

const defaultPublicFeedSize = 5

// MessageHandler receives frames published on a subscribed topic.
type MessageHandler func(msg *domain.Message)

type subscription struct {
	id      uint64
	topic   domain.Topic
	owner   string
	handler MessageHandler
}

// Subscription is the token returned by Subscribe.
type Subscription struct {
	id         uint64
	dispatcher *Dispatcher
}

// Unsubscribe releases the subscription. Calling it more than once is a no-op.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.dispatcher == nil {
		return
	}
	s.dispatcher.release(s.id)
}

// Dispatcher resolves the targets of a domain event, delivers it to live members and queues a
// durable notification for every intended recipient it could not reach.
type Dispatcher struct {
	connections port.ConnectionRegistry
	rooms       port.RoomIndex
	store       port.NotificationStore
	audience    port.AudienceDirectory
	crpf        port.CrpfStore
	metrics     *metrics.Metrics
	feedSize    int
	now         func() time.Time

	// order serializes fan-out so members of a topic observe events in dispatch order.
	order sync.Mutex

	subsMu  sync.RWMutex
	subs    map[domain.Topic]map[uint64]*subscription
	byID    map[uint64]*subscription
	byOwner map[string]map[uint64]struct{}
	nextSub uint64
}

type DispatcherOption func(*Dispatcher)

func WithAudience(a port.AudienceDirectory) DispatcherOption {
	return func(d *Dispatcher) { d.audience = a }
}

// WithCrpfStore lets escalating disaster alerts open a pending CRPF request before fan-out.
func WithCrpfStore(s port.CrpfStore) DispatcherOption {
	return func(d *Dispatcher) { d.crpf = s }
}

func WithMetrics(m *metrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithPublicFeedSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.feedSize = n
		}
	}
}

func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

func NewDispatcher(connections port.ConnectionRegistry, rooms port.RoomIndex, store port.NotificationStore, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		connections: connections,
		rooms:       rooms,
		store:       store,
		feedSize:    defaultPublicFeedSize,
		now:         time.Now,
		subs:        make(map[domain.Topic]map[uint64]*subscription),
		byID:        make(map[uint64]*subscription),
		byOwner:     make(map[string]map[uint64]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Dispatch routes ev. Invalid events return ErrInvalidEvent with no side effects. Store failures
// never fail the dispatch: they are aggregated into DispatchResult.StoreErr.
func (d *Dispatcher) Dispatch(ctx context.Context, ev domain.Event) (domain.DispatchResult, error) {
	started := d.now()
	ev = ev.Normalize(started)
	if err := ev.Validate(); err != nil {
		d.metrics.ObserveDispatch(string(ev.Kind), "invalid", time.Since(started))
		return domain.DispatchResult{}, err
	}
	targets, err := domain.ResolveTargets(ev)
	if err != nil {
		d.metrics.ObserveDispatch(string(ev.Kind), "invalid", time.Since(started))
		return domain.DispatchResult{}, err
	}

	ctx, span := otel.Tracer("reliefWs/alerts").Start(ctx, "alerts.dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("alert.event_id", ev.ID),
		attribute.String("alert.kind", string(ev.Kind)),
		attribute.Int("alert.targets", len(targets)),
	)

	var storeErrs []error
	ev, err = d.openCrpfRequest(ctx, ev)
	if err != nil {
		storeErrs = append(storeErrs, err)
	}

	result := domain.DispatchResult{EventID: ev.ID, QueuedForOffline: []string{}}
	reached := d.fanOut(ev, targets, &result)

	for _, user := range d.intendedRecipients(ctx, targets, &storeErrs) {
		if _, ok := reached[user]; ok {
			continue
		}
		if _, err := d.store.Save(ctx, domain.NewNotification(ev, user, ev.OccurredAt)); err != nil {
			d.metrics.IncrementStoreFailure("save")
			storeErrs = append(storeErrs, fmt.Errorf("recipient %s: %w", user, err))
			continue
		}
		result.QueuedForOffline = append(result.QueuedForOffline, user)
	}
	d.metrics.AddOfflineQueued(string(ev.Kind), len(result.QueuedForOffline))

	if reachesGlobal(targets) {
		if err := d.store.AppendPublic(ctx, domain.NewNotification(ev, domain.PublicRecipient, ev.OccurredAt), d.feedSize); err != nil {
			d.metrics.IncrementStoreFailure("append_public")
			storeErrs = append(storeErrs, fmt.Errorf("public feed: %w", err))
		}
	}

	if call, ok := volunteerCall(ev); ok {
		follow, err := d.Dispatch(ctx, call)
		switch {
		case err != nil:
			slog.Warn("volunteer call rejected", slog.String("eventId", ev.ID), slog.Any("error", err))
		case follow.StoreErr != nil:
			storeErrs = append(storeErrs, fmt.Errorf("volunteer call: %w", follow.StoreErr))
		}
	}

	outcome := "ok"
	if len(storeErrs) > 0 {
		result.StoreErr = asStoreUnavailable(errors.Join(storeErrs...))
		outcome = "store_error"
		span.RecordError(result.StoreErr)
		span.SetStatus(codes.Error, "store unavailable")
		slog.Warn("dispatch store failure", slog.String("eventId", ev.ID), slog.String("kind", string(ev.Kind)), slog.Any("error", result.StoreErr))
	}
	span.SetAttributes(
		attribute.Int("alert.delivered", result.DeliveredCount),
		attribute.Int("alert.queued", len(result.QueuedForOffline)),
	)
	d.metrics.AddMisses(result.Misses)
	d.metrics.ObserveDispatch(string(ev.Kind), outcome, time.Since(started))
	slog.Info("event dispatched",
		slog.String("eventId", ev.ID),
		slog.String("kind", string(ev.Kind)),
		slog.Int("delivered", result.DeliveredCount),
		slog.Int("queued", len(result.QueuedForOffline)),
		slog.Int("misses", result.Misses),
	)
	return result, nil
}

// fanOut delivers one frame per member connection, the highest-precedence variant winning,
// and returns the users reached live.
func (d *Dispatcher) fanOut(ev domain.Event, targets []domain.Target, result *domain.DispatchResult) map[string]struct{} {
	d.order.Lock()
	defer d.order.Unlock()

	seen := make(map[string]struct{})
	reached := make(map[string]struct{})
	for _, target := range targets {
		msg := domain.BuildEventMessage(ev, target)
		delivered := 0
		for _, connID := range d.rooms.MembersOf(target.Topic) {
			if _, dup := seen[connID]; dup {
				continue
			}
			seen[connID] = struct{}{}
			identity, live := d.connections.Identity(connID)
			if !live || !d.connections.Deliver(connID, msg) {
				result.Misses++
				continue
			}
			delivered++
			if !identity.IsAnonymous() {
				reached[identity.UserID] = struct{}{}
			}
		}
		result.DeliveredCount += delivered
		d.metrics.AddDeliveries(target.Event, delivered)
		d.publish(target.Topic, msg)
	}
	return reached
}

// intendedRecipients lists, in stable order, every user the event is meant for.
func (d *Dispatcher) intendedRecipients(ctx context.Context, targets []domain.Target, storeErrs *[]error) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(user string) {
		user = strings.TrimSpace(user)
		if user == "" {
			return
		}
		if _, ok := seen[user]; ok {
			return
		}
		seen[user] = struct{}{}
		out = append(out, user)
	}
	for _, target := range targets {
		if user, ok := domain.UserIDFromTopic(target.Topic); ok {
			add(user)
			continue
		}
		if d.audience == nil {
			continue
		}
		users, err := d.audience.Members(ctx, target.Topic)
		if err != nil {
			d.metrics.IncrementStoreFailure("audience")
			*storeErrs = append(*storeErrs, fmt.Errorf("audience %s: %w", target.Topic, err))
			continue
		}
		for _, user := range users {
			add(user)
		}
	}
	return out
}

// openCrpfRequest attaches a pending CRPF request to escalating disaster alerts that do not carry one.
func (d *Dispatcher) openCrpfRequest(ctx context.Context, ev domain.Event) (domain.Event, error) {
	alert, ok := ev.Payload.(domain.DisasterAlert)
	if !ok || d.crpf == nil || alert.CrpfID != "" || !alert.Severity.Escalates() {
		return ev, nil
	}
	priority := domain.PriorityMedium
	if alert.Severity == domain.SeverityCritical || alert.Severity == domain.SeverityExtreme {
		priority = domain.PriorityHigh
	}
	record := domain.NewCrpfNotification(
		alert.DisasterID,
		ev.Origin,
		fmt.Sprintf("%s alert: %s", strings.ToUpper(string(alert.Severity)), alert.Type),
		alert.Summary(),
		priority,
		ev.OccurredAt,
	)
	record.ID = domain.CrpfRequestID(ev.ID)
	if err := d.crpf.Create(ctx, record); err != nil {
		d.metrics.IncrementStoreFailure("crpf_create")
		return ev, fmt.Errorf("crpf request: %w", err)
	}
	alert.CrpfID = record.ID
	ev.Payload = alert
	return ev, nil
}

// Subscribe registers an in-process handler for frames published on topic.
func (d *Dispatcher) Subscribe(topic domain.Topic, handler MessageHandler) *Subscription {
	return d.subscribe(topic, "", handler)
}

// SubscribeConnection is Subscribe bound to a live connection: the subscription is released when
// the connection is deregistered.
func (d *Dispatcher) SubscribeConnection(connID string, topic domain.Topic, handler MessageHandler) (*Subscription, error) {
	if _, live := d.connections.Identity(connID); !live {
		return nil, domain.ErrUnknownConnection
	}
	sub := d.subscribe(topic, connID, handler)
	if _, live := d.connections.Identity(connID); !live {
		sub.Unsubscribe()
		return nil, domain.ErrUnknownConnection
	}
	return sub, nil
}

// ReleaseConnection drops every subscription owned by connID.
func (d *Dispatcher) ReleaseConnection(connID string) {
	d.subsMu.Lock()
	defer d.subsMu.Unlock()
	for id := range d.byOwner[connID] {
		d.removeLocked(id)
	}
	delete(d.byOwner, connID)
}

func (d *Dispatcher) subscribe(topic domain.Topic, owner string, handler MessageHandler) *Subscription {
	d.subsMu.Lock()
	defer d.subsMu.Unlock()
	d.nextSub++
	sub := &subscription{id: d.nextSub, topic: topic, owner: owner, handler: handler}
	if d.subs[topic] == nil {
		d.subs[topic] = make(map[uint64]*subscription)
	}
	d.subs[topic][sub.id] = sub
	d.byID[sub.id] = sub
	if owner != "" {
		if d.byOwner[owner] == nil {
			d.byOwner[owner] = make(map[uint64]struct{})
		}
		d.byOwner[owner][sub.id] = struct{}{}
	}
	return &Subscription{id: sub.id, dispatcher: d}
}

func (d *Dispatcher) release(id uint64) {
	d.subsMu.Lock()
	defer d.subsMu.Unlock()
	d.removeLocked(id)
}

func (d *Dispatcher) removeLocked(id uint64) {
	sub, ok := d.byID[id]
	if !ok {
		return
	}
	delete(d.byID, id)
	if subs, ok := d.subs[sub.topic]; ok {
		delete(subs, id)
		if len(subs) == 0 {
			delete(d.subs, sub.topic)
		}
	}
	if owned, ok := d.byOwner[sub.owner]; ok {
		delete(owned, id)
		if len(owned) == 0 {
			delete(d.byOwner, sub.owner)
		}
	}
}

// Subscriptions returns the number of live subscriptions on topic.
func (d *Dispatcher) Subscriptions(topic domain.Topic) int {
	d.subsMu.RLock()
	defer d.subsMu.RUnlock()
	return len(d.subs[topic])
}

func (d *Dispatcher) publish(topic domain.Topic, msg *domain.Message) {
	d.subsMu.RLock()
	handlers := make([]MessageHandler, 0, len(d.subs[topic]))
	for _, sub := range d.subs[topic] {
		handlers = append(handlers, sub.handler)
	}
	d.subsMu.RUnlock()

	for _, handler := range handlers {
		func(h MessageHandler) {
			defer func() {
				if r := recover(); r != nil {
					slog.Warn("topic subscriber panic", slog.String("topic", string(topic)), slog.Any("error", r))
				}
			}()
			h(msg)
		}(handler)
	}
}

// volunteerCall turns a test or predicted disaster into a help opportunity for all volunteers.
func volunteerCall(ev domain.Event) (domain.Event, bool) {
	alert, ok := ev.Payload.(domain.DisasterAlert)
	if !ok {
		return domain.Event{}, false
	}
	call, ok := alert.VolunteerCall()
	if !ok {
		return domain.Event{}, false
	}
	return domain.Event{
		ID:         domain.FollowUpID(ev.ID, domain.KindVolunteerOpportunity),
		Kind:       domain.KindVolunteerOpportunity,
		Origin:     ev.Origin,
		OccurredAt: ev.OccurredAt,
		Payload:    call,
	}, true
}

func reachesGlobal(targets []domain.Target) bool {
	for _, target := range targets {
		if target.Topic == domain.TopicGlobal {
			return true
		}
	}
	return false
}

func asStoreUnavailable(err error) error {
	if err == nil || errors.Is(err, domain.ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
}
