package usecase

import (
	"context"
	"log/slog"

	"reliefWs/internal/modules/alerts/application/port"
	"reliefWs/internal/modules/alerts/domain"
)

// ConnectionUseCase keeps the registry and the audience directory in step as connections come and go.
type ConnectionUseCase struct {
	registry port.ConnectionRegistry
	rooms    port.RoomIndex
	audience port.AudienceDirectory
}

func NewConnectionUseCase(registry port.ConnectionRegistry, rooms port.RoomIndex, audience port.AudienceDirectory) *ConnectionUseCase {
	return &ConnectionUseCase{registry: registry, rooms: rooms, audience: audience}
}

// Connect registers the connection and returns the topics it joined.
func (uc *ConnectionUseCase) Connect(ctx context.Context, connID string, identity domain.Identity, sink port.Sink) ([]domain.Topic, error) {
	if err := uc.registry.Register(connID, identity, sink); err != nil {
		return nil, err
	}
	uc.remember(ctx, identity)
	return uc.rooms.TopicsOf(connID), nil
}

// UpdateIdentity re-derives the rooms of a live connection.
func (uc *ConnectionUseCase) UpdateIdentity(ctx context.Context, connID string, identity domain.Identity) ([]domain.Topic, error) {
	if err := uc.registry.UpdateIdentity(connID, identity); err != nil {
		return nil, err
	}
	uc.remember(ctx, identity)
	return uc.rooms.TopicsOf(connID), nil
}

func (uc *ConnectionUseCase) Identity(connID string) (domain.Identity, bool) {
	return uc.registry.Identity(connID)
}

func (uc *ConnectionUseCase) Disconnect(connID string) {
	uc.registry.Deregister(connID)
}

// RoomData is the admin occupancy view. TotalUsers counts distinct connections across rooms.
func (uc *ConnectionUseCase) RoomData() domain.RoomData {
	rooms := uc.rooms.Rooms()
	members := make(map[string]struct{})
	for _, room := range rooms {
		for _, connID := range uc.rooms.MembersOf(domain.Topic(room.Name)) {
			members[connID] = struct{}{}
		}
	}
	return domain.RoomData{Rooms: rooms, TotalUsers: len(members)}
}

// remember is best effort: a connection stays live even when the directory is down.
func (uc *ConnectionUseCase) remember(ctx context.Context, identity domain.Identity) {
	if uc.audience == nil || identity.IsAnonymous() {
		return
	}
	if err := uc.audience.Remember(ctx, identity); err != nil {
		slog.Warn("audience update failed", slog.String("userId", identity.UserID), slog.Any("error", err))
	}
}
