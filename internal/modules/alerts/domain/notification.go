package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// notificationNamespace seeds deterministic notification ids.
var notificationNamespace = uuid.MustParse("6f1d2a4e-8c3b-4f7a-9e21-5b0c7d3e9a10")

// PublicRecipient is the recipient key of the capped public feed read by anonymous subscribers.
const PublicRecipient = "public"

// Notification is the durable per-recipient record of an event a user missed.
type Notification struct {
	ID        string            `json:"_id"`
	Recipient string            `json:"recipient"`
	EventID   string            `json:"eventId"`
	Type      Kind              `json:"type"`
	Message   string            `json:"message"`
	Link      string            `json:"link,omitempty"`
	Severity  Severity          `json:"severity,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
	Read      bool              `json:"read"`
	CreatedAt time.Time         `json:"createdAt"`
	ReadAt    *time.Time        `json:"readAt,omitempty"`
}

// NotificationID derives the id of the record for (eventID, recipient). Retried writes collapse onto one record.
func NotificationID(eventID, recipient string) string {
	key := strings.TrimSpace(eventID) + "|" + strings.TrimSpace(recipient)
	return uuid.NewSHA1(notificationNamespace, []byte(key)).String()
}

// NewNotification builds the unread record of e for recipient.
func NewNotification(e Event, recipient string, at time.Time) Notification {
	n := Notification{
		ID:        NotificationID(e.ID, recipient),
		Recipient: strings.TrimSpace(recipient),
		EventID:   e.ID,
		Type:      e.Kind,
		Severity:  EventSeverity(e),
		CreatedAt: at.UTC(),
	}
	if e.Payload != nil {
		n.Message = e.Payload.Summary()
	}
	n.Link, n.Data = linkAndData(e)
	return n
}

func linkAndData(e Event) (string, map[string]string) {
	switch p := e.Payload.(type) {
	case DisasterAlert:
		data := map[string]string{"city": p.Location.City, "state": p.Location.State}
		if p.DisasterID != "" {
			data["disasterId"] = p.DisasterID
			return "/disasters/" + p.DisasterID, data
		}
		return "/disasters", data
	case CrpfAlert:
		if p.CrpfID != "" {
			return "/admin/crpf-notifications", map[string]string{"crpfNotificationId": p.CrpfID}
		}
		return "/admin/crpf-notifications", nil
	case PointsUpdate:
		return "/profile", nil
	case VolunteerOpportunity:
		if p.DisasterID != "" {
			return "/volunteer/sign-up/" + p.DisasterID, map[string]string{"disasterId": p.DisasterID}
		}
		return "/volunteer/tasks", nil
	default:
		return "", nil
	}
}
