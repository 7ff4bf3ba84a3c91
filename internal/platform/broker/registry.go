package broker

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"reliefWs/internal/modules/alerts/domain"
)

// EventRouter hands a consumed event to the handler of its topic.
type EventRouter interface {
	Dispatch(ctx context.Context, topic string, ev domain.Event) error
}

// RunKafkaConsumers consumes every topic until ctx is cancelled.
func RunKafkaConsumers(
	ctx context.Context,
	router EventRouter,
	brokers []string,
	groupID string,
	topics []string,
) error {
	if len(brokers) == 0 || len(topics) == 0 {
		slog.Info("kafka ingest disabled: no brokers or topics configured")
		return nil
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, topic := range topics {
		consumer := NewKafkaConsumer(brokers, groupID, topic)
		g.Go(func() error {
			return consumer.Consume(ctx, router.Dispatch)
		})
	}
	slog.Info("kafka consumers started", slog.Any("topics", topics), slog.String("groupId", groupID))
	return g.Wait()
}
