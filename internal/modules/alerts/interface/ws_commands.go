package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"reliefWs/internal/modules/alerts/domain"
	"reliefWs/internal/modules/alerts/infrastructure"
)

// commandSet implements the inbound websocket commands.
type commandSet struct {
	deps Deps
}

func newCommandSet(deps Deps) *commandSet {
	return &commandSet{deps: deps}
}

func (s *commandSet) processor() *infrastructure.CommandProcessor {
	p := infrastructure.NewCommandProcessor(s.deps.CommandTimeout)
	p.Register("join_user", s.joinUser)
	p.Register("join_location", s.joinLocation)
	p.Register("join_public_notifications", s.joinPublic)
	p.Register("admin_get_room_data", s.roomData)
	p.Register("admin-broadcast", s.adminBroadcast)
	p.Register("emergency-broadcast", s.emergencyBroadcast)
	p.Register("disaster-alert", s.disasterAlert)
	p.Register("severity-notification", s.severityNotification)
	p.Register("crpf-notification", s.crpfNotification)
	return p
}

type joinUserPayload struct {
	UserID string `json:"userId"`
	Token  string `json:"token,omitempty"`
}

// joinUser binds the connection to a user. Anonymous connections must present a token; the
// claimed userId has to match the verified subject.
func (s *commandSet) joinUser(ctx context.Context, client *infrastructure.Client, cmd infrastructure.Command) error {
	payload, err := decodeCommand[joinUserPayload](cmd.Payload)
	if err != nil {
		return errInvalidPayload
	}
	current, ok := s.deps.Connections.Identity(client.ID())
	if !ok {
		return domain.ErrUnknownConnection
	}
	identity := current
	if token := strings.TrimSpace(payload.Token); token != "" {
		if s.deps.Validator == nil {
			return domain.ErrForbidden
		}
		claims, err := s.deps.Validator.Validate(token)
		if err != nil {
			return err
		}
		verified := identityFromClaims(claims)
		if verified.Location.IsZero() {
			verified.Location = current.Location
		}
		verified.NotificationsEnabled = current.NotificationsEnabled
		identity = verified
	}
	if identity.IsAnonymous() {
		return fmt.Errorf("%w: authentication required", domain.ErrForbidden)
	}
	if claimed := strings.TrimSpace(payload.UserID); claimed != "" && claimed != identity.UserID {
		return fmt.Errorf("%w: user mismatch", domain.ErrForbidden)
	}
	return s.rejoin(ctx, client, cmd.Action, identity)
}

func (s *commandSet) joinLocation(ctx context.Context, client *infrastructure.Client, cmd infrastructure.Command) error {
	loc, err := decodeCommand[domain.Location](cmd.Payload)
	if err != nil {
		return errInvalidPayload
	}
	current, ok := s.deps.Connections.Identity(client.ID())
	if !ok {
		return domain.ErrUnknownConnection
	}
	return s.rejoin(ctx, client, cmd.Action, current.WithLocation(loc))
}

func (s *commandSet) joinPublic(ctx context.Context, client *infrastructure.Client, cmd infrastructure.Command) error {
	current, ok := s.deps.Connections.Identity(client.ID())
	if !ok {
		return domain.ErrUnknownConnection
	}
	return s.rejoin(ctx, client, cmd.Action, current.WithNotifications(true))
}

func (s *commandSet) rejoin(ctx context.Context, client *infrastructure.Client, action string, identity domain.Identity) error {
	topics, err := s.deps.Connections.UpdateIdentity(ctx, client.ID(), identity)
	if err != nil {
		return err
	}
	client.Send(domain.BuildSystemMessage(domain.FrameSystemJoined, map[string]string{
		"action": action,
		"userId": identity.UserID,
	}, map[string]any{"topics": topics}, time.Now()))
	return nil
}

// roomData answers only the requesting administrator. Room occupancy is never persisted.
func (s *commandSet) roomData(_ context.Context, client *infrastructure.Client, _ infrastructure.Command) error {
	if _, err := s.requireAdmin(client); err != nil {
		return err
	}
	client.Send(&domain.Message{
		Event:     domain.OutRoomDataUpdate,
		Data:      s.deps.Connections.RoomData(),
		Timestamp: time.Now().UTC(),
	})
	return nil
}

func (s *commandSet) adminBroadcast(ctx context.Context, client *infrastructure.Client, cmd infrastructure.Command) error {
	return publishAs[domain.AdminBroadcast](ctx, s, client, cmd)
}

func (s *commandSet) emergencyBroadcast(ctx context.Context, client *infrastructure.Client, cmd infrastructure.Command) error {
	return publishAs[domain.Emergency](ctx, s, client, cmd)
}

func (s *commandSet) disasterAlert(ctx context.Context, client *infrastructure.Client, cmd infrastructure.Command) error {
	return publishAs[domain.DisasterAlert](ctx, s, client, cmd)
}

func (s *commandSet) severityNotification(ctx context.Context, client *infrastructure.Client, cmd infrastructure.Command) error {
	return publishAs[domain.SeverityNotification](ctx, s, client, cmd)
}

func (s *commandSet) crpfNotification(ctx context.Context, client *infrastructure.Client, cmd infrastructure.Command) error {
	actor, err := s.requireAdmin(client)
	if err != nil {
		return err
	}
	req, err := decodeCommand[crpfRequestBody](cmd.Payload)
	if err != nil {
		return errInvalidPayload
	}
	record, result, err := s.deps.Crpf.Request(ctx, actor, req.toRequest())
	if err != nil {
		return err
	}
	sendAck(client, cmd.Action, result, map[string]string{"crpfNotificationId": record.ID})
	return nil
}

func publishAs[T domain.Payload](ctx context.Context, s *commandSet, client *infrastructure.Client, cmd infrastructure.Command) error {
	actor, err := s.requireAdmin(client)
	if err != nil {
		return err
	}
	payload, err := decodeCommand[T](cmd.Payload)
	if err != nil {
		return errInvalidPayload
	}
	result, err := s.deps.Admin.Publish(ctx, actor, payload)
	if err != nil {
		return err
	}
	sendAck(client, cmd.Action, result, nil)
	return nil
}

func (s *commandSet) requireAdmin(client *infrastructure.Client) (domain.Identity, error) {
	identity, ok := s.deps.Connections.Identity(client.ID())
	if !ok {
		return domain.Identity{}, domain.ErrUnknownConnection
	}
	if !identity.IsAdmin() {
		return domain.Identity{}, fmt.Errorf("%w: admin role required", domain.ErrForbidden)
	}
	return identity, nil
}

func sendAck(client *infrastructure.Client, action string, result domain.DispatchResult, extra map[string]string) {
	metadata := map[string]string{"action": action, "eventId": result.EventID}
	for k, v := range extra {
		metadata[k] = v
	}
	if result.Retryable() {
		metadata["warning"] = "some offline recipients were not persisted"
	}
	client.Send(domain.BuildSystemMessage(domain.FrameSystemAck, metadata, result, time.Now()))
}

var errInvalidPayload = fmt.Errorf("%w: invalid payload", domain.ErrInvalidEvent)

func decodeCommand[T any](raw json.RawMessage) (T, error) {
	var payload T
	if len(raw) == 0 {
		return payload, nil
	}
	return payload, json.Unmarshal(raw, &payload)
}
