package infrastructure

import (
	"context"
	"log/slog"

	"reliefWs/internal/modules/alerts/application/port"
	"reliefWs/internal/modules/alerts/domain"
)

// HandlerRegistry routes broker topics to their handlers.
type HandlerRegistry struct {
	handlers map[string]port.TopicHandler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]port.TopicHandler)}
}

func (r *HandlerRegistry) Register(h port.TopicHandler) {
	r.handlers[h.Topic()] = h
}

func (r *HandlerRegistry) Topics() []string {
	topics := make([]string, 0, len(r.handlers))
	for topic := range r.handlers {
		topics = append(topics, topic)
	}
	return topics
}

func (r *HandlerRegistry) Dispatch(ctx context.Context, topic string, ev domain.Event) error {
	if handler, ok := r.handlers[topic]; ok {
		return handler.Handle(ctx, ev)
	}
	slog.Debug("broker event without handler", slog.String("topic", topic), slog.String("kind", string(ev.Kind)))
	return nil
}
