package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reliefWs/internal/modules/alerts/domain"
	"reliefWs/internal/modules/alerts/infrastructure"
	"reliefWs/internal/shared/metrics"
)

var dispatchNow = time.Date(2026, time.May, 4, 10, 0, 0, 0, time.UTC)

type sink struct {
	mu     sync.Mutex
	frames []*domain.Message
	broken bool
	closed bool
}

func (s *sink) Send(msg *domain.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken || s.closed {
		return false
	}
	s.frames = append(s.frames, msg)
	return true
}

func (s *sink) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *sink) events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.frames))
	for _, f := range s.frames {
		out = append(out, f.Event)
	}
	return out
}

type failingStore struct {
	*infrastructure.MemoryNotificationStore
}

var errRedisDown = errors.New("redis: connection refused")

func (failingStore) Save(context.Context, domain.Notification) (bool, error) {
	return false, errRedisDown
}

func (failingStore) AppendPublic(context.Context, domain.Notification, int) error {
	return errRedisDown
}

type fixture struct {
	registry   *infrastructure.Registry
	store      *infrastructure.MemoryNotificationStore
	audience   *infrastructure.MemoryAudience
	crpf       *infrastructure.MemoryCrpfStore
	dispatcher *Dispatcher
	conns      *ConnectionUseCase
}

func newFixture(t *testing.T, opts ...DispatcherOption) *fixture {
	t.Helper()
	registry := infrastructure.NewRegistry(nil, nil)
	f := &fixture{
		registry: registry,
		store:    infrastructure.NewMemoryNotificationStore(),
		audience: infrastructure.NewMemoryAudience(),
		crpf:     infrastructure.NewMemoryCrpfStore(),
	}
	base := []DispatcherOption{
		WithAudience(f.audience),
		WithCrpfStore(f.crpf),
		WithClock(func() time.Time { return dispatchNow }),
	}
	f.dispatcher = NewDispatcher(registry, registry, f.store, append(base, opts...)...)
	registry.OnDeregister(f.dispatcher.ReleaseConnection)
	f.conns = NewConnectionUseCase(registry, registry, f.audience)
	return f
}

func (f *fixture) connect(t *testing.T, connID string, identity domain.Identity) *sink {
	t.Helper()
	s := &sink{}
	_, err := f.conns.Connect(context.Background(), connID, identity, s)
	require.NoError(t, err)
	return s
}

var (
	pune      = domain.Location{City: "Pune", State: "MH"}
	delhi     = domain.Location{City: "Delhi", State: "DL"}
	admin     = domain.Identity{UserID: "admin-1", Role: domain.RoleAdmin, Location: pune}
	localVol  = domain.Identity{UserID: "vol-1", Role: domain.RoleVolunteer, Location: pune}
	farUser   = domain.Identity{UserID: "user-1", Role: domain.RoleUser, Location: delhi}
	offline   = domain.Identity{UserID: "user-2", Role: domain.RoleUser, Location: pune}
	floodPune = domain.DisasterAlert{DisasterID: "d-1", Type: "flood", Severity: domain.SeverityCritical, Location: pune}
)

func TestDispatchOneFramePerConnection(t *testing.T) {
	f := newFixture(t)
	adminSink := f.connect(t, "c-admin", admin)
	volSink := f.connect(t, "c-vol", localVol)
	farSink := f.connect(t, "c-far", farUser)

	result, err := f.dispatcher.Dispatch(context.Background(), domain.NewEvent(floodPune, "test", dispatchNow))
	require.NoError(t, err)

	assert.Equal(t, 3, result.DeliveredCount)
	assert.Zero(t, result.Misses)
	assert.Equal(t, []string{domain.OutExtremeDisasterAlert}, adminSink.events())
	assert.Equal(t, []string{domain.OutLocalDisasterAlert}, volSink.events())
	assert.Equal(t, []string{domain.OutNewDisasterAlert}, farSink.events())
	assert.Empty(t, result.QueuedForOffline)
	assert.NoError(t, result.StoreErr)
}

func TestDispatchQueuesOfflineRecipientsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.audience.Remember(ctx, offline))
	f.connect(t, "c-vol", localVol)

	ev := domain.NewEvent(floodPune, "test", dispatchNow)
	result, err := f.dispatcher.Dispatch(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, []string{"user-2"}, result.QueuedForOffline)

	_, err = f.dispatcher.Dispatch(ctx, ev)
	require.NoError(t, err)

	inbox, err := f.store.List(ctx, "user-2", false, 0)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, domain.NotificationID(ev.ID, "user-2"), inbox[0].ID)

	volInbox, err := f.store.List(ctx, "vol-1", false, 0)
	require.NoError(t, err)
	assert.Empty(t, volInbox, "users reached live get no durable record")

	latest, err := f.store.LatestPublic(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, latest, 1)
}

func TestDispatchUserTopicWithoutAudience(t *testing.T) {
	f := newFixture(t)
	result, err := f.dispatcher.Dispatch(context.Background(), domain.NewEvent(domain.PointsUpdate{UserID: "user-9", PointsEarned: 5, NewPoints: 15}, "test", dispatchNow))
	require.NoError(t, err)
	assert.Zero(t, result.DeliveredCount)
	assert.Equal(t, []string{"user-9"}, result.QueuedForOffline)

	latest, err := f.store.LatestPublic(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, latest, "private events never reach the public feed")
}

func TestDispatchMissFallsBackToDurable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.audience.Remember(ctx, farUser))
	broken := f.connect(t, "c-far", farUser)
	broken.mu.Lock()
	broken.broken = true
	broken.mu.Unlock()

	result, err := f.dispatcher.Dispatch(ctx, domain.NewEvent(domain.AdminBroadcast{Message: "drill"}, "test", dispatchNow))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Misses)
	assert.Zero(t, result.DeliveredCount)
	assert.Equal(t, []string{"user-1"}, result.QueuedForOffline)

	require.Eventually(t, func() bool { return f.registry.Count() == 0 }, time.Second, 5*time.Millisecond)
}

func TestDispatchInvalidEventHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.audience.Remember(ctx, offline))
	s := f.connect(t, "c-far", farUser)
	var published int
	f.dispatcher.Subscribe(domain.TopicGlobal, func(*domain.Message) { published++ })

	bad := []domain.Event{
		domain.NewEvent(domain.DisasterAlert{Type: "flood", Location: domain.Location{City: "Pune"}}, "test", dispatchNow),
		{Kind: "unknown"},
		{Kind: domain.KindAdminBroadcast},
	}
	for _, ev := range bad {
		result, err := f.dispatcher.Dispatch(ctx, ev)
		assert.ErrorIs(t, err, domain.ErrInvalidEvent)
		assert.Zero(t, result.DeliveredCount)
	}

	assert.Empty(t, s.events())
	assert.Zero(t, published)
	inbox, _ := f.store.List(ctx, "user-2", false, 0)
	assert.Empty(t, inbox)
	pending, _ := f.crpf.List(ctx, "")
	assert.Empty(t, pending)
}

func TestDispatchAggregatesStoreFailures(t *testing.T) {
	registry := infrastructure.NewRegistry(nil, nil)
	audience := infrastructure.NewMemoryAudience()
	ctx := context.Background()
	require.NoError(t, audience.Remember(ctx, offline))
	require.NoError(t, audience.Remember(ctx, domain.Identity{UserID: "user-3", Role: domain.RoleUser}))
	live := &sink{}
	require.NoError(t, registry.Register("c-far", farUser, live))

	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)
	d := NewDispatcher(registry, registry, failingStore{infrastructure.NewMemoryNotificationStore()}, WithAudience(audience), WithMetrics(m))

	result, err := d.Dispatch(ctx, domain.NewEvent(domain.AdminBroadcast{Message: "drill"}, "test", dispatchNow))
	require.NoError(t, err, "store failures never fail the dispatch")
	assert.Equal(t, 1, result.DeliveredCount)
	assert.Empty(t, result.QueuedForOffline)
	require.Error(t, result.StoreErr)
	assert.True(t, result.Retryable())
	assert.ErrorIs(t, result.StoreErr, domain.ErrStoreUnavailable)
	assert.ErrorIs(t, result.StoreErr, errRedisDown)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.StoreFailures.WithLabelValues("save")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StoreFailures.WithLabelValues("append_public")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Dispatches.WithLabelValues(string(domain.KindAdminBroadcast), "store_error")))
}

func TestDispatchOpensCrpfForEscalatingAlert(t *testing.T) {
	f := newFixture(t)
	adminSink := f.connect(t, "c-admin", admin)

	ev := domain.NewEvent(floodPune, "backend", dispatchNow)
	_, err := f.dispatcher.Dispatch(context.Background(), ev)
	require.NoError(t, err)

	pending, err := f.crpf.List(context.Background(), domain.CrpfStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, domain.PriorityHigh, pending[0].Priority)
	assert.Equal(t, domain.CrpfRequestID(ev.ID), pending[0].ID)

	adminSink.mu.Lock()
	frame := adminSink.frames[0]
	adminSink.mu.Unlock()
	assert.True(t, frame.RequiresAck)
	assert.Equal(t, pending[0].ID, frame.Metadata["crpfNotificationId"])

	_, _, err = f.crpf.Acknowledge(context.Background(), pending[0].ID, dispatchNow)
	require.NoError(t, err)
	_, err = f.dispatcher.Dispatch(context.Background(), ev)
	require.NoError(t, err)
	redelivered, err := f.crpf.Get(context.Background(), pending[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CrpfStatusNotified, redelivered.Status, "a redelivered event reuses its acknowledged request")

	low := floodPune
	low.Severity = domain.SeverityLow
	_, err = f.dispatcher.Dispatch(context.Background(), domain.NewEvent(low, "backend", dispatchNow))
	require.NoError(t, err)
	pending, _ = f.crpf.List(context.Background(), "")
	assert.Len(t, pending, 1, "low severity opens no request")
}

func TestDispatchAnonymousSubscribers(t *testing.T) {
	f := newFixture(t)
	optedIn := f.connect(t, "c-anon-1", domain.Anonymous().WithNotifications(true))
	silent := f.connect(t, "c-anon-2", domain.Anonymous())

	result, err := f.dispatcher.Dispatch(context.Background(), domain.NewEvent(domain.Emergency{Message: "evacuate"}, "test", dispatchNow))
	require.NoError(t, err)
	assert.Equal(t, 1, result.DeliveredCount)
	assert.Equal(t, []string{domain.OutEmergencyMessage}, optedIn.events())
	assert.Empty(t, silent.events())
	assert.Empty(t, result.QueuedForOffline)

	latest, err := f.store.LatestPublic(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "EMERGENCY: evacuate", latest[0].Message)
}

func TestDispatchKeepsOrderPerTopic(t *testing.T) {
	f := newFixture(t)
	s := f.connect(t, "c-far", farUser)
	for _, msg := range []string{"one", "two", "three"} {
		_, err := f.dispatcher.Dispatch(context.Background(), domain.NewEvent(domain.AdminBroadcast{Message: msg}, "test", dispatchNow))
		require.NoError(t, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.frames, 3)
	assert.Equal(t, "two", s.frames[1].Data.(domain.AdminBroadcast).Message)
}

func TestSubscribeAndRelease(t *testing.T) {
	f := newFixture(t)
	f.connect(t, "c-far", farUser)

	var got []string
	sub := f.dispatcher.Subscribe(domain.TopicGlobal, func(msg *domain.Message) { got = append(got, msg.Event) })
	connSub, err := f.dispatcher.SubscribeConnection("c-far", domain.TopicGlobal, func(*domain.Message) { panic("boom") })
	require.NoError(t, err)
	require.NotNil(t, connSub)
	assert.Equal(t, 2, f.dispatcher.Subscriptions(domain.TopicGlobal))

	_, err = f.dispatcher.SubscribeConnection("ghost", domain.TopicGlobal, func(*domain.Message) {})
	assert.ErrorIs(t, err, domain.ErrUnknownConnection)

	_, err = f.dispatcher.Dispatch(context.Background(), domain.NewEvent(domain.AdminBroadcast{Message: "hi"}, "test", dispatchNow))
	require.NoError(t, err)
	assert.Equal(t, []string{domain.OutGlobalAlert}, got)

	f.conns.Disconnect("c-far")
	assert.Equal(t, 1, f.dispatcher.Subscriptions(domain.TopicGlobal), "connection subscriptions are released on teardown")

	sub.Unsubscribe()
	sub.Unsubscribe()
	assert.Zero(t, f.dispatcher.Subscriptions(domain.TopicGlobal))
}

func TestDispatchPredictedDisasterCallsVolunteers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.audience.Remember(ctx, domain.Identity{UserID: "vol-2", Role: domain.RoleVolunteer, Location: pune}))
	volSink := f.connect(t, "c-vol", localVol)
	userSink := f.connect(t, "c-far", farUser)

	predicted := domain.DisasterAlert{DisasterID: "d-7", Type: "cyclone", Severity: domain.SeverityMedium, Location: delhi, Message: "Cyclone expected", Predicted: true}
	ev := domain.NewEvent(predicted, "forecast", dispatchNow)
	_, err := f.dispatcher.Dispatch(ctx, ev)
	require.NoError(t, err)

	assert.Equal(t, []string{domain.OutNewDisasterAlert, domain.OutVolunteerHelpOpportunity}, volSink.events())
	assert.Equal(t, []string{domain.OutLocalDisasterAlert}, userSink.events())

	_, err = f.dispatcher.Dispatch(ctx, ev)
	require.NoError(t, err)
	inbox, err := f.store.List(ctx, "vol-2", false, 0)
	require.NoError(t, err)
	callID := domain.NotificationID(domain.FollowUpID(ev.ID, domain.KindVolunteerOpportunity), "vol-2")
	var calls int
	for _, n := range inbox {
		if n.ID == callID {
			calls++
			assert.Equal(t, domain.KindVolunteerOpportunity, n.Type)
			assert.Equal(t, "Cyclone expected - Volunteers needed!", n.Message)
		}
	}
	assert.Equal(t, 1, calls, "offline volunteers get one durable call per event")
}

// peerKillerSink disconnects another member the first time it receives a frame.
type peerKillerSink struct {
	sink
	once sync.Once
	kill func()
}

func (s *peerKillerSink) Send(msg *domain.Message) bool {
	s.once.Do(s.kill)
	return s.sink.Send(msg)
}

func TestDispatchIsolatesMemberLostMidFanOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := &peerKillerSink{kill: func() { f.conns.Disconnect("c-b") }}
	_, err := f.conns.Connect(ctx, "c-a", domain.Identity{UserID: "u-a", Role: domain.RoleUser}, a)
	require.NoError(t, err)
	b := f.connect(t, "c-b", domain.Identity{UserID: "u-b", Role: domain.RoleUser})
	c := f.connect(t, "c-c", domain.Identity{UserID: "u-c", Role: domain.RoleUser})

	result, err := f.dispatcher.Dispatch(ctx, domain.NewEvent(domain.AdminBroadcast{Message: "drill"}, "test", dispatchNow))
	require.NoError(t, err)

	assert.Equal(t, 2, result.DeliveredCount)
	assert.Equal(t, 1, result.Misses)
	assert.Equal(t, []string{"u-b"}, result.QueuedForOffline)
	assert.NoError(t, result.StoreErr)
	assert.Equal(t, []string{domain.OutGlobalAlert}, a.events())
	assert.Empty(t, b.events())
	assert.Equal(t, []string{domain.OutGlobalAlert}, c.events())
	assert.Equal(t, 2, f.registry.Count())
}
