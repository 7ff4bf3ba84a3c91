package broker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reliefWs/internal/modules/alerts/domain"
)

func TestDecodeEventEnvelope(t *testing.T) {
	m := kafka.Message{
		Topic: "relief.events",
		Value: []byte(`{"id":"evt-1","kind":"admin-broadcast","payload":{"message":"Shelters open at 6pm"}}`),
	}

	ev, err := decodeEvent(m)
	require.NoError(t, err)
	assert.Equal(t, "evt-1", ev.ID)
	assert.Equal(t, domain.KindAdminBroadcast, ev.Kind)
	assert.Equal(t, domain.AdminBroadcast{Message: "Shelters open at 6pm"}, ev.Payload)
}

func TestDecodeEventBarePayloadUsesHeaderKind(t *testing.T) {
	m := kafka.Message{
		Topic:   "relief.events",
		Headers: []kafka.Header{{Key: "kind", Value: []byte("points_updated")}},
		Value:   []byte(`{"userId":"u-7","pointsEarned":10,"newPoints":120}`),
	}

	ev, err := decodeEvent(m)
	require.NoError(t, err)
	assert.Equal(t, domain.KindPointsUpdate, ev.Kind)
	assert.Equal(t, "kafka:relief.events", ev.Origin)
	assert.Equal(t, domain.PointsUpdate{UserID: "u-7", PointsEarned: 10, NewPoints: 120}, ev.Payload)
}

func TestDecodeEventBarePayloadUsesTopicSuffix(t *testing.T) {
	m := kafka.Message{
		Topic: "relief.emergency",
		Value: []byte(`{"message":"Evacuate now"}`),
	}

	ev, err := decodeEvent(m)
	require.NoError(t, err)
	assert.Equal(t, domain.KindEmergency, ev.Kind)
}

func TestDecodeEventRejectsGarbage(t *testing.T) {
	_, err := decodeEvent(kafka.Message{Topic: "relief.events", Value: []byte("not json")})
	require.ErrorIs(t, err, domain.ErrInvalidEvent)
}

type fakeReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.pending) > 0 {
		m := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func startConsumer(t *testing.T, reader *fakeReader, handler func(context.Context, string, domain.Event) error) (context.CancelFunc, <-chan error) {
	t.Helper()
	c := newKafkaConsumer(reader)
	c.minBackoff = time.Millisecond
	c.maxBackoff = 4 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Consume(ctx, handler) }()
	t.Cleanup(cancel)
	return cancel, done
}

func TestConsumeRetriesStoreFailuresWithStableEventID(t *testing.T) {
	reader := &fakeReader{pending: []kafka.Message{
		{Topic: "relief.events", Offset: 1, Value: []byte("not json")},
		{
			Topic:   "relief.events",
			Offset:  2,
			Headers: []kafka.Header{{Key: "kind", Value: []byte("admin-broadcast")}},
			Value:   []byte(`{"message":"Shelters open at 6pm"}`),
		},
	}}

	var (
		mu  sync.Mutex
		ids []string
	)
	handler := func(_ context.Context, _ string, ev domain.Event) error {
		mu.Lock()
		defer mu.Unlock()
		ids = append(ids, ev.ID)
		if len(ids) < 3 {
			return fmt.Errorf("%w: redis down", domain.ErrStoreUnavailable)
		}
		return nil
	}
	cancel, done := startConsumer(t, reader, handler)

	require.Eventually(t, func() bool { return len(reader.commits()) == 2 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{1, 2}, reader.commits())
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, ids, 3)
	assert.NotEmpty(t, ids[0])
	assert.Equal(t, ids[0], ids[1])
	assert.Equal(t, ids[0], ids[2])
}

func TestConsumeLeavesOffsetWhenStoreStaysDown(t *testing.T) {
	reader := &fakeReader{pending: []kafka.Message{{
		Topic: "relief.events",
		Value: []byte(`{"id":"evt-9","kind":"emergency","payload":{"message":"Evacuate now"}}`),
	}}}

	attempts := make(chan struct{}, 64)
	handler := func(context.Context, string, domain.Event) error {
		select {
		case attempts <- struct{}{}:
		default:
		}
		return domain.ErrStoreUnavailable
	}
	cancel, done := startConsumer(t, reader, handler)

	for i := 0; i < 3; i++ {
		select {
		case <-attempts:
		case <-time.After(time.Second):
			t.Fatal("handler was not retried")
		}
	}
	cancel()
	require.NoError(t, <-done)
	assert.Empty(t, reader.commits())

	reader.mu.Lock()
	defer reader.mu.Unlock()
	assert.True(t, reader.closed)
}

func TestConsumeCommitsAfterPermanentHandlerError(t *testing.T) {
	reader := &fakeReader{pending: []kafka.Message{{
		Topic:  "relief.events",
		Offset: 7,
		Value:  []byte(`{"id":"evt-7","kind":"emergency","payload":{"message":"Evacuate now"}}`),
	}}}
	cancel, done := startConsumer(t, reader, func(context.Context, string, domain.Event) error {
		return fmt.Errorf("handler bug")
	})

	require.Eventually(t, func() bool { return len(reader.commits()) == 1 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []int64{7}, reader.commits())
}
