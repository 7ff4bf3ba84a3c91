package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// CrpfStatus tracks whether the response force has been notified.
type CrpfStatus string

const (
	CrpfStatusPending  CrpfStatus = "pending"
	CrpfStatusNotified CrpfStatus = "notified"
)

// DefaultCrpfUnits are alerted when a request does not name specific units.
var DefaultCrpfUnits = []string{
	"CRPF Battalion 123 - Delhi",
	"CRPF Battalion 456 - Mumbai",
	"Emergency Response Team Alpha",
}

// CrpfNotification is an emergency-response request awaiting administrator acknowledgment.
type CrpfNotification struct {
	ID         string     `json:"_id"`
	DisasterID string     `json:"disasterId,omitempty"`
	NotifiedBy string     `json:"notifiedBy"`
	Status     CrpfStatus `json:"status"`
	Title      string     `json:"title,omitempty"`
	Message    string     `json:"message"`
	Priority   Priority   `json:"priority"`
	Units      []string   `json:"crpfUnits"`
	CreatedAt  time.Time  `json:"createdAt"`
	NotifiedAt *time.Time `json:"notifiedAt"`
}

// NewCrpfNotification opens a pending request.
func NewCrpfNotification(disasterID, notifiedBy, title, message string, priority Priority, at time.Time) CrpfNotification {
	if priority == "" {
		priority = PriorityMedium
	}
	units := make([]string, len(DefaultCrpfUnits))
	copy(units, DefaultCrpfUnits)
	return CrpfNotification{
		ID:         uuid.NewString(),
		DisasterID: strings.TrimSpace(disasterID),
		NotifiedBy: strings.TrimSpace(notifiedBy),
		Status:     CrpfStatusPending,
		Title:      strings.TrimSpace(title),
		Message:    strings.TrimSpace(message),
		Priority:   priority,
		Units:      units,
		CreatedAt:  at.UTC(),
	}
}

// CrpfRequestID derives the id of the request opened by eventID. A redelivered event reopens the same record.
func CrpfRequestID(eventID string) string {
	return uuid.NewSHA1(notificationNamespace, []byte("crpf|"+strings.TrimSpace(eventID))).String()
}

// Acknowledge marks the request notified. It reports false when it already was, leaving it untouched.
func (c CrpfNotification) Acknowledge(at time.Time) (CrpfNotification, bool) {
	if c.Status == CrpfStatusNotified {
		return c, false
	}
	notifiedAt := at.UTC()
	c.Status = CrpfStatusNotified
	c.NotifiedAt = &notifiedAt
	return c, true
}

// ParseCrpfStatus accepts only the notified status, which is the single transition clients may request.
func ParseCrpfStatus(raw string) (CrpfStatus, error) {
	if strings.ToLower(strings.TrimSpace(raw)) != string(CrpfStatusNotified) {
		return "", ErrInvalidCrpfStatus
	}
	return CrpfStatusNotified, nil
}
