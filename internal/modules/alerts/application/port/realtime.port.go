package port

import (
	"context"

	"reliefWs/internal/modules/alerts/domain"
)

// Sink is the write side of one live connection.
type Sink interface {
	// Send enqueues msg without blocking. It reports false when the connection can no longer accept frames.
	Send(msg *domain.Message) bool
	Close()
}

// ConnectionRegistry tracks live connections and their identities.
type ConnectionRegistry interface {
	Register(connID string, identity domain.Identity, sink Sink) error
	UpdateIdentity(connID string, identity domain.Identity) error
	Deregister(connID string) bool
	Deliver(connID string, msg *domain.Message) bool
	Identity(connID string) (domain.Identity, bool)
}

// RoomIndex exposes topic membership for reads.
type RoomIndex interface {
	MembersOf(topic domain.Topic) []string
	TopicsOf(connID string) []domain.Topic
	Rooms() []domain.RoomStat
}

// EventDispatcher fans domain events out to live connections and the durable store.
type EventDispatcher interface {
	Dispatch(ctx context.Context, ev domain.Event) (domain.DispatchResult, error)
}

// TopicHandler handles domain events arriving on one broker topic.
type TopicHandler interface {
	Topic() string
	Handle(ctx context.Context, ev domain.Event) error
}
