package domain

import (
	"strings"
	"time"
)

const (
	SystemEntity = "system"

	FrameSystemConnected = SystemEntity + ".connected"
	FrameSystemPong      = SystemEntity + ".pong"
	FrameSystemError     = SystemEntity + ".error"
	FrameSystemJoined    = SystemEntity + ".joined"
	FrameSystemAck       = SystemEntity + ".ack"
)

// Message is the frame written to a live connection.
type Message struct {
	Event       string            `json:"event"`
	EventID     string            `json:"eventId,omitempty"`
	Kind        Kind              `json:"kind,omitempty"`
	Topic       Topic             `json:"topic,omitempty"`
	Sticky      bool              `json:"sticky,omitempty"`
	RequiresAck bool              `json:"requiresAck,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Data        any               `json:"data,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// BuildEventMessage renders the frame that members of target receive for e.
func BuildEventMessage(e Event, target Target) *Message {
	severity := EventSeverity(e)
	msg := &Message{
		Event:     target.Event,
		EventID:   e.ID,
		Kind:      e.Kind,
		Topic:     target.Topic,
		Sticky:    severity.Escalates(),
		Data:      e.Payload,
		Timestamp: e.OccurredAt,
	}
	if target.Actionable {
		msg.RequiresAck = true
		msg.Sticky = true
		msg.Metadata = map[string]string{"action": "notify_crpf"}
		if id := crpfIDOf(e); id != "" {
			msg.Metadata["crpfNotificationId"] = id
		}
		// Admins get this frame instead of the public one, so it names the public variant too.
		if public := publicEventOf(e); public != "" {
			msg.Metadata["publicEvent"] = public
		}
	}
	return msg
}

func crpfIDOf(e Event) string {
	switch p := e.Payload.(type) {
	case DisasterAlert:
		return p.CrpfID
	case CrpfAlert:
		return p.CrpfID
	default:
		return ""
	}
}

func publicEventOf(e Event) string {
	switch e.Payload.(type) {
	case DisasterAlert:
		return OutNewDisasterAlert
	case CrpfAlert:
		return OutCrpfAlert
	default:
		return ""
	}
}

// BuildSystemMessage composes a control frame such as system.connected or system.error.
func BuildSystemMessage(frame string, metadata map[string]string, data any, at time.Time) *Message {
	cleaned := make(map[string]string, len(metadata))
	for key, value := range metadata {
		trimmedKey := strings.TrimSpace(key)
		trimmedValue := strings.TrimSpace(value)
		if trimmedKey == "" || trimmedValue == "" {
			continue
		}
		cleaned[trimmedKey] = trimmedValue
	}
	if len(cleaned) == 0 {
		cleaned = nil
	}
	return &Message{
		Event:     frame,
		Metadata:  cleaned,
		Data:      data,
		Timestamp: at.UTC(),
	}
}

// RoomStat is one row of the admin room occupancy view.
type RoomStat struct {
	Name    string `json:"name"`
	Members int    `json:"members"`
}

// RoomData is the payload of room_data_update. It is a presence signal and is never persisted.
type RoomData struct {
	Rooms      []RoomStat `json:"rooms"`
	TotalUsers int        `json:"totalUsers"`
}
