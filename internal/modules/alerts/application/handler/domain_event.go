package handler

import (
	"context"
	"errors"
	"log/slog"

	"reliefWs/internal/modules/alerts/application/port"
	"reliefWs/internal/modules/alerts/domain"
)

// DomainEventHandler feeds events consumed from one broker topic into the dispatcher.
type DomainEventHandler struct {
	topic      string
	dispatcher port.EventDispatcher
}

func NewDomainEventHandler(topic string, dispatcher port.EventDispatcher) *DomainEventHandler {
	return &DomainEventHandler{topic: topic, dispatcher: dispatcher}
}

func (h *DomainEventHandler) Topic() string { return h.topic }

// Handle dispatches ev. Malformed events are logged and dropped so they do not block the partition.
// A dispatch that could not persist every offline recipient returns its StoreErr so the consumer
// withholds the commit and redelivers the same event.
func (h *DomainEventHandler) Handle(ctx context.Context, ev domain.Event) error {
	result, err := h.dispatcher.Dispatch(ctx, ev)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidEvent) {
			slog.Warn("broker event rejected", slog.String("topic", h.topic), slog.String("eventId", ev.ID), slog.Any("error", err))
			return nil
		}
		return err
	}
	if result.Retryable() {
		slog.Warn("broker event partially persisted", slog.String("topic", h.topic), slog.String("eventId", result.EventID), slog.Any("error", result.StoreErr))
		return result.StoreErr
	}
	return nil
}

var _ port.TopicHandler = (*DomainEventHandler)(nil)
