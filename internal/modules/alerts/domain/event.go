package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind discriminates the payload carried by an Event.
type Kind string

const (
	KindDisasterAlert        Kind = "disaster-alert"
	KindCrpfAlert            Kind = "crpf-alert"
	KindAdminBroadcast       Kind = "admin-broadcast"
	KindEmergency            Kind = "emergency"
	KindSeverityNotification Kind = "severity-notification"
	KindPointsUpdate         Kind = "points-update"
	KindVolunteerOpportunity Kind = "volunteer-opportunity"
)

// ParseKind folds the wire spellings used by the web client and backend onto one kind.
func ParseKind(raw string) (Kind, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.ReplaceAll(key, "_", "-")
	switch key {
	case "disaster-alert", "new-disaster-alert", "local-disaster-alert", "disasteralert":
		return KindDisasterAlert, true
	case "crpf-alert", "crpf-notification", "crpfalert":
		return KindCrpfAlert, true
	case "admin-broadcast", "admin-notification", "globalalert":
		return KindAdminBroadcast, true
	case "emergency", "emergency-broadcast", "emergency-alert", "emergency-message":
		return KindEmergency, true
	case "severity-notification":
		return KindSeverityNotification, true
	case "points-update", "points-updated", "contribution-update":
		return KindPointsUpdate, true
	case "volunteer-opportunity", "volunteer-help-opportunity":
		return KindVolunteerOpportunity, true
	default:
		return "", false
	}
}

// Payload is the kind-specific body of an Event. The set of implementations is closed.
type Payload interface {
	Kind() Kind
	Validate() error
	// Summary is the human readable text stored on durable notifications.
	Summary() string
	normalize() Payload
}

// Event is one alert occurrence. It is immutable once dispatched.
type Event struct {
	ID         string
	Kind       Kind
	Origin     string
	OccurredAt time.Time
	Payload    Payload
}

// NewEvent wraps payload in a normalized event with a fresh id.
func NewEvent(payload Payload, origin string, at time.Time) Event {
	ev := Event{Origin: origin, OccurredAt: at, Payload: payload}
	if payload != nil {
		ev.Kind = payload.Kind()
	}
	return ev.Normalize(at)
}

// Normalize fills the id and timestamp when missing and canonicalizes payload fields.
func (e Event) Normalize(now time.Time) Event {
	if strings.TrimSpace(e.ID) == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = now
	}
	e.OccurredAt = e.OccurredAt.UTC()
	e.Origin = strings.TrimSpace(e.Origin)
	if e.Payload != nil {
		e.Payload = e.Payload.normalize()
		if e.Kind == "" {
			e.Kind = e.Payload.Kind()
		}
	}
	return e
}

// Validate rejects events that must not be dispatched.
func (e Event) Validate() error {
	if _, ok := payloadDecoders[e.Kind]; !ok {
		return fmt.Errorf("%w: unrecognized kind %q", ErrInvalidEvent, e.Kind)
	}
	if e.Payload == nil {
		return fmt.Errorf("%w: %s missing payload", ErrInvalidEvent, e.Kind)
	}
	if e.Payload.Kind() != e.Kind {
		return fmt.Errorf("%w: payload %s does not match kind %s", ErrInvalidEvent, e.Payload.Kind(), e.Kind)
	}
	if err := e.Payload.Validate(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidEvent, e.Kind, err)
	}
	return nil
}

type eventEnvelope struct {
	ID         string          `json:"id,omitempty"`
	Kind       string          `json:"kind"`
	Origin     string          `json:"origin,omitempty"`
	OccurredAt time.Time       `json:"occurredAt,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

// MarshalJSON encodes the event as {id, kind, origin, occurredAt, payload}.
func (e Event) MarshalJSON() ([]byte, error) {
	var raw json.RawMessage
	if e.Payload != nil {
		encoded, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, err
		}
		raw = encoded
	}
	return json.Marshal(eventEnvelope{
		ID:         e.ID,
		Kind:       string(e.Kind),
		Origin:     e.Origin,
		OccurredAt: e.OccurredAt,
		Payload:    raw,
	})
}

// UnmarshalJSON decodes the envelope and the kind-specific payload.
func (e *Event) UnmarshalJSON(data []byte) error {
	decoded, err := DecodeEvent(data)
	if err != nil {
		return err
	}
	*e = decoded
	return nil
}

// DecodeEvent parses a JSON envelope. Unknown kinds and undecodable payloads are ErrInvalidEvent.
func DecodeEvent(data []byte) (Event, error) {
	var env eventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("%w: decode envelope: %v", ErrInvalidEvent, err)
	}
	kind, ok := ParseKind(env.Kind)
	if !ok {
		return Event{}, fmt.Errorf("%w: unrecognized kind %q", ErrInvalidEvent, env.Kind)
	}
	payload, err := payloadDecoders[kind](env.Payload)
	if err != nil {
		return Event{}, fmt.Errorf("%w: decode %s payload: %v", ErrInvalidEvent, kind, err)
	}
	return Event{
		ID:         strings.TrimSpace(env.ID),
		Kind:       kind,
		Origin:     env.Origin,
		OccurredAt: env.OccurredAt,
		Payload:    payload,
	}, nil
}

var payloadDecoders = map[Kind]func(json.RawMessage) (Payload, error){
	KindDisasterAlert:        decodePayload[DisasterAlert],
	KindCrpfAlert:            decodePayload[CrpfAlert],
	KindAdminBroadcast:       decodePayload[AdminBroadcast],
	KindEmergency:            decodePayload[Emergency],
	KindSeverityNotification: decodePayload[SeverityNotification],
	KindPointsUpdate:         decodePayload[PointsUpdate],
	KindVolunteerOpportunity: decodePayload[VolunteerOpportunity],
}

func decodePayload[T Payload](raw json.RawMessage) (Payload, error) {
	var payload T
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("empty payload")
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// DisasterAlert announces a new or predicted disaster at a location.
type DisasterAlert struct {
	DisasterID string   `json:"disasterId,omitempty"`
	Type       string   `json:"type"`
	Severity   Severity `json:"severity"`
	Location   Location `json:"location"`
	Message    string   `json:"message"`
	Source     string   `json:"source,omitempty"`
	Predicted  bool     `json:"predicted,omitempty"`
	AdminTest  bool     `json:"adminTest,omitempty"`
	// CrpfID is filled by the dispatcher when an escalating alert opens a CRPF record.
	CrpfID string `json:"crpfNotificationId,omitempty"`
}

func (DisasterAlert) Kind() Kind { return KindDisasterAlert }

func (p DisasterAlert) Validate() error {
	if !p.Location.Complete() {
		return fmt.Errorf("location city and state are required")
	}
	if strings.TrimSpace(p.Type) == "" && strings.TrimSpace(p.Message) == "" {
		return fmt.Errorf("type or message is required")
	}
	if _, ok := ParseSeverity(string(p.Severity), SeverityMedium); !ok {
		return fmt.Errorf("unknown severity %q", p.Severity)
	}
	return nil
}

func (p DisasterAlert) Summary() string {
	if msg := strings.TrimSpace(p.Message); msg != "" {
		return msg
	}
	return fmt.Sprintf("%s reported in %s, %s", strings.ToUpper(strings.TrimSpace(p.Type)), p.Location.City, p.Location.State)
}

func (p DisasterAlert) normalize() Payload {
	p.DisasterID = strings.TrimSpace(p.DisasterID)
	p.Type = strings.TrimSpace(p.Type)
	p.Message = strings.TrimSpace(p.Message)
	p.Source = strings.TrimSpace(p.Source)
	p.Location = Location{City: strings.TrimSpace(p.Location.City), State: strings.TrimSpace(p.Location.State)}
	if sev, ok := ParseSeverity(string(p.Severity), SeverityMedium); ok {
		p.Severity = sev
	}
	return p
}

// VolunteerCall is the help opportunity a test or predicted disaster raises for every volunteer.
func (p DisasterAlert) VolunteerCall() (VolunteerOpportunity, bool) {
	if !p.Predicted && !p.AdminTest && !strings.EqualFold(p.Source, "manual") {
		return VolunteerOpportunity{}, false
	}
	return VolunteerOpportunity{
		DisasterID: p.DisasterID,
		Type:       p.Type,
		Severity:   p.Severity,
		Location:   p.Location,
		Message:    p.Summary(),
	}, true
}

// FollowUpID derives the id of the kind event raised while dispatching eventID.
func FollowUpID(eventID string, kind Kind) string {
	return uuid.NewSHA1(notificationNamespace, []byte(string(kind)+"|"+strings.TrimSpace(eventID))).String()
}

// CrpfAlert routes an emergency-response request to administrators and the public.
type CrpfAlert struct {
	CrpfID     string   `json:"crpfNotificationId,omitempty"`
	DisasterID string   `json:"disasterId,omitempty"`
	Title      string   `json:"title,omitempty"`
	Message    string   `json:"message"`
	Priority   Priority `json:"priority"`
	AdminName  string   `json:"adminName,omitempty"`
}

func (CrpfAlert) Kind() Kind { return KindCrpfAlert }

func (p CrpfAlert) Validate() error {
	if strings.TrimSpace(p.Message) == "" {
		return fmt.Errorf("message is required")
	}
	if _, ok := ParsePriority(string(p.Priority)); !ok {
		return fmt.Errorf("unknown priority %q", p.Priority)
	}
	return nil
}

func (p CrpfAlert) Summary() string {
	if title := strings.TrimSpace(p.Title); title != "" {
		return title + ": " + strings.TrimSpace(p.Message)
	}
	return strings.TrimSpace(p.Message)
}

func (p CrpfAlert) normalize() Payload {
	p.CrpfID = strings.TrimSpace(p.CrpfID)
	p.DisasterID = strings.TrimSpace(p.DisasterID)
	p.Title = strings.TrimSpace(p.Title)
	p.Message = strings.TrimSpace(p.Message)
	p.AdminName = strings.TrimSpace(p.AdminName)
	if pr, ok := ParsePriority(string(p.Priority)); ok {
		p.Priority = pr
	}
	return p
}

// AdminBroadcast is a free-form message from an administrator to everyone.
type AdminBroadcast struct {
	Type      string `json:"type,omitempty"`
	Message   string `json:"message"`
	AdminName string `json:"adminName,omitempty"`
}

func (AdminBroadcast) Kind() Kind { return KindAdminBroadcast }

func (p AdminBroadcast) Validate() error {
	if strings.TrimSpace(p.Message) == "" {
		return fmt.Errorf("message is required")
	}
	return nil
}

func (p AdminBroadcast) Summary() string { return strings.TrimSpace(p.Message) }

func (p AdminBroadcast) normalize() Payload {
	p.Type = strings.TrimSpace(p.Type)
	p.Message = strings.TrimSpace(p.Message)
	p.AdminName = strings.TrimSpace(p.AdminName)
	return p
}

// Emergency is an administrator emergency broadcast. It defaults to extreme severity.
type Emergency struct {
	Message   string   `json:"message"`
	Severity  Severity `json:"severity"`
	AdminName string   `json:"adminName,omitempty"`
}

func (Emergency) Kind() Kind { return KindEmergency }

func (p Emergency) Validate() error {
	if strings.TrimSpace(p.Message) == "" {
		return fmt.Errorf("message is required")
	}
	if _, ok := ParseSeverity(string(p.Severity), SeverityExtreme); !ok {
		return fmt.Errorf("unknown severity %q", p.Severity)
	}
	return nil
}

func (p Emergency) Summary() string { return "EMERGENCY: " + strings.TrimSpace(p.Message) }

func (p Emergency) normalize() Payload {
	p.Message = strings.TrimSpace(p.Message)
	p.AdminName = strings.TrimSpace(p.AdminName)
	if sev, ok := ParseSeverity(string(p.Severity), SeverityExtreme); ok {
		p.Severity = sev
	}
	return p
}

// SeverityNotification is a graded public notice from an administrator.
type SeverityNotification struct {
	Title     string   `json:"title,omitempty"`
	Message   string   `json:"message"`
	Severity  Severity `json:"severity"`
	AdminName string   `json:"adminName,omitempty"`
}

func (SeverityNotification) Kind() Kind { return KindSeverityNotification }

func (p SeverityNotification) Validate() error {
	if strings.TrimSpace(p.Message) == "" {
		return fmt.Errorf("message is required")
	}
	if strings.TrimSpace(string(p.Severity)) == "" {
		return fmt.Errorf("severity is required")
	}
	if _, ok := ParseSeverity(string(p.Severity), ""); !ok {
		return fmt.Errorf("unknown severity %q", p.Severity)
	}
	return nil
}

func (p SeverityNotification) Summary() string {
	if title := strings.TrimSpace(p.Title); title != "" {
		return title + ": " + strings.TrimSpace(p.Message)
	}
	return strings.TrimSpace(p.Message)
}

func (p SeverityNotification) normalize() Payload {
	p.Title = strings.TrimSpace(p.Title)
	p.Message = strings.TrimSpace(p.Message)
	p.AdminName = strings.TrimSpace(p.AdminName)
	if sev, ok := ParseSeverity(string(p.Severity), ""); ok {
		p.Severity = sev
	}
	return p
}

// PointsUpdate tells a user their contribution points changed.
type PointsUpdate struct {
	UserID       string `json:"userId"`
	PointsEarned int    `json:"pointsEarned"`
	NewPoints    int    `json:"newPoints"`
}

func (PointsUpdate) Kind() Kind { return KindPointsUpdate }

func (p PointsUpdate) Validate() error {
	if strings.TrimSpace(p.UserID) == "" {
		return fmt.Errorf("userId is required")
	}
	return nil
}

func (p PointsUpdate) Summary() string {
	return fmt.Sprintf("You earned %d points (total %d)", p.PointsEarned, p.NewPoints)
}

func (p PointsUpdate) normalize() Payload {
	p.UserID = strings.TrimSpace(p.UserID)
	return p
}

// VolunteerOpportunity asks volunteers to sign up for a disaster. An empty UserID targets every volunteer.
type VolunteerOpportunity struct {
	UserID     string   `json:"userId,omitempty"`
	DisasterID string   `json:"disasterId,omitempty"`
	Type       string   `json:"type,omitempty"`
	Severity   Severity `json:"severity,omitempty"`
	Location   Location `json:"location"`
	Message    string   `json:"message"`
}

func (VolunteerOpportunity) Kind() Kind { return KindVolunteerOpportunity }

func (p VolunteerOpportunity) Validate() error {
	if strings.TrimSpace(p.Message) == "" {
		return fmt.Errorf("message is required")
	}
	if _, ok := ParseSeverity(string(p.Severity), SeverityMedium); !ok {
		return fmt.Errorf("unknown severity %q", p.Severity)
	}
	return nil
}

func (p VolunteerOpportunity) Summary() string {
	return strings.TrimSpace(p.Message) + " - Volunteers needed!"
}

func (p VolunteerOpportunity) normalize() Payload {
	p.UserID = strings.TrimSpace(p.UserID)
	p.DisasterID = strings.TrimSpace(p.DisasterID)
	p.Type = strings.TrimSpace(p.Type)
	p.Message = strings.TrimSpace(p.Message)
	p.Location = Location{City: strings.TrimSpace(p.Location.City), State: strings.TrimSpace(p.Location.State)}
	if sev, ok := ParseSeverity(string(p.Severity), SeverityMedium); ok {
		p.Severity = sev
	}
	return p
}
