package broker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"reliefWs/internal/modules/alerts/domain"
)

// messageReader is the part of *kafka.Reader the consumer needs.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaConsumer struct {
	reader     messageReader
	minBackoff time.Duration
	maxBackoff time.Duration
	now        func() time.Time
}

func NewKafkaConsumer(brokers []string, groupID string, topic string) *KafkaConsumer {
	return newKafkaConsumer(kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		GroupID: groupID,
		Topic:   topic,
	}))
}

func newKafkaConsumer(reader messageReader) *KafkaConsumer {
	return &KafkaConsumer{
		reader:     reader,
		minBackoff: 250 * time.Millisecond,
		maxBackoff: 15 * time.Second,
		now:        time.Now,
	}
}

// Consume reads until ctx is cancelled. Undecodable messages are logged, committed and skipped.
// A message is committed only once its handler succeeded or failed for good; ErrStoreUnavailable
// is retried with backoff.
func (c *KafkaConsumer) Consume(ctx context.Context, handler func(context.Context, string, domain.Event) error) error {
	defer c.reader.Close()
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			slog.Warn("kafka read error", slog.Any("error", err))
			continue
		}
		ev, err := decodeEvent(m)
		if err != nil {
			slog.Warn("kafka message rejected",
				slog.String("topic", m.Topic),
				slog.Int("partition", m.Partition),
				slog.Int64("offset", m.Offset),
				slog.Any("error", err),
			)
			c.commit(ctx, m)
			continue
		}
		// Fix the id once so every retry resolves to the same notification ids.
		ev = ev.Normalize(c.now())
		slog.Info("kafka message consumed",
			slog.String("topic", m.Topic),
			slog.Int("partition", m.Partition),
			slog.Int64("offset", m.Offset),
			slog.String("eventId", ev.ID),
			slog.String("kind", string(ev.Kind)),
		)
		if err := c.handle(ctx, m.Topic, ev, handler); err != nil {
			// Cancelled mid-retry: the offset stays uncommitted and the group redelivers it.
			return nil
		}
		c.commit(ctx, m)
	}
}

func (c *KafkaConsumer) handle(ctx context.Context, topic string, ev domain.Event, handler func(context.Context, string, domain.Event) error) error {
	delay := c.minBackoff
	for attempt := 1; ; attempt++ {
		err := handler(ctx, topic, ev)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrStoreUnavailable) {
			slog.Warn("kafka handler error", slog.String("eventId", ev.ID), slog.Any("error", err))
			return nil
		}
		slog.Warn("kafka handler retrying",
			slog.String("eventId", ev.ID),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.Any("error", err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, c.maxBackoff)
	}
}

func (c *KafkaConsumer) commit(ctx context.Context, m kafka.Message) {
	if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
		slog.Warn("kafka commit failed",
			slog.String("topic", m.Topic),
			slog.Int("partition", m.Partition),
			slog.Int64("offset", m.Offset),
			slog.Any("error", err),
		)
	}
}

// decodeEvent accepts a full event envelope. A bare payload is accepted too when the kind can be
// inferred from the "kind" header or the last segment of the topic name.
func decodeEvent(m kafka.Message) (domain.Event, error) {
	ev, err := domain.DecodeEvent(m.Value)
	if err == nil {
		return ev, nil
	}
	kind := headerValue(m.Headers, "kind")
	if kind == "" {
		kind = normalizeTopic(m.Topic)
	}
	if _, ok := domain.ParseKind(kind); !ok {
		return domain.Event{}, err
	}
	if !json.Valid(m.Value) {
		return domain.Event{}, err
	}
	wrapped, marshalErr := json.Marshal(map[string]any{
		"id":      headerValue(m.Headers, "eventId"),
		"kind":    kind,
		"origin":  "kafka:" + m.Topic,
		"payload": json.RawMessage(m.Value),
	})
	if marshalErr != nil {
		return domain.Event{}, err
	}
	return domain.DecodeEvent(wrapped)
}

func headerValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Key, key) {
			return strings.TrimSpace(string(h.Value))
		}
	}
	return ""
}

func normalizeTopic(topic string) string {
	if idx := strings.LastIndex(topic, "."); idx >= 0 {
		topic = topic[idx+1:]
	}
	return strings.TrimSpace(topic)
}
