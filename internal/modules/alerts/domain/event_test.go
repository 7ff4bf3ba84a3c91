package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

var testNow = time.Date(2026, time.March, 2, 8, 30, 0, 0, time.UTC)

func TestDecodeEventEnvelope(t *testing.T) {
	raw := []byte(`{"id":"ev-1","kind":"new_disaster_alert","origin":"backend","payload":{"type":"flood","severity":"severe","location":{"city":"Pune","state":"MH"}}}`)
	ev, err := DecodeEvent(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Kind != KindDisasterAlert {
		t.Fatalf("unexpected kind %s", ev.Kind)
	}
	ev = ev.Normalize(testNow)
	if err := ev.Validate(); err != nil {
		t.Fatalf("expected valid event: %v", err)
	}
	alert := ev.Payload.(DisasterAlert)
	if alert.Severity != SeverityCritical {
		t.Fatalf("severity should be normalized, got %s", alert.Severity)
	}
	if !ev.OccurredAt.Equal(testNow) {
		t.Fatalf("missing occurredAt should default to now, got %s", ev.OccurredAt)
	}
}

func TestDecodeEventRejects(t *testing.T) {
	cases := map[string]string{
		"bad json":     `{`,
		"unknown kind": `{"kind":"weather","payload":{}}`,
		"no payload":   `{"kind":"points-update"}`,
		"bad payload":  `{"kind":"points-update","payload":"x"}`,
	}
	for name, raw := range cases {
		if _, err := DecodeEvent([]byte(raw)); !errors.Is(err, ErrInvalidEvent) {
			t.Fatalf("%s: expected ErrInvalidEvent, got %v", name, err)
		}
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]Event{
		"missing payload":   {Kind: KindAdminBroadcast},
		"unknown kind":      {Kind: "other", Payload: AdminBroadcast{Message: "x"}},
		"kind mismatch":     {Kind: KindEmergency, Payload: AdminBroadcast{Message: "x"}},
		"partial location":  NewEvent(DisasterAlert{Type: "fire", Location: Location{City: "Pune"}}, "", testNow),
		"bad severity":      NewEvent(Emergency{Message: "x", Severity: "apocalyptic"}, "", testNow),
		"points no user":    NewEvent(PointsUpdate{PointsEarned: 3}, "", testNow),
		"empty broadcast":   NewEvent(AdminBroadcast{Message: "  "}, "", testNow),
		"severity required": NewEvent(SeverityNotification{Message: "x"}, "", testNow),
	}
	for name, ev := range cases {
		if err := ev.Validate(); !errors.Is(err, ErrInvalidEvent) {
			t.Fatalf("%s: expected ErrInvalidEvent, got %v", name, err)
		}
	}
}

func TestNewEventAssignsIDAndKind(t *testing.T) {
	ev := NewEvent(PointsUpdate{UserID: " u-1 ", PointsEarned: 5, NewPoints: 50}, " test ", testNow)
	if ev.ID == "" {
		t.Fatal("expected generated id")
	}
	if ev.Kind != KindPointsUpdate || ev.Origin != "test" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.Payload.(PointsUpdate).UserID != "u-1" {
		t.Fatal("payload should be trimmed")
	}
}

func TestEventJSONRoundTrip(t *testing.T) {
	ev := NewEvent(Emergency{Message: "evacuate"}, "admin", testNow)
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Event
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.ID != ev.ID || back.Kind != KindEmergency {
		t.Fatalf("round trip mismatch %+v", back)
	}
	if back.Payload.(Emergency).Severity != SeverityExtreme {
		t.Fatalf("emergency should default to extreme, got %s", back.Payload.(Emergency).Severity)
	}
}

func TestParseKindAliases(t *testing.T) {
	cases := map[string]Kind{
		"local_disaster_alert": KindDisasterAlert,
		"crpf-notification":    KindCrpfAlert,
		"globalAlert":          KindAdminBroadcast,
		"emergency-broadcast":  KindEmergency,
		"points_updated":       KindPointsUpdate,
	}
	for raw, want := range cases {
		got, ok := ParseKind(raw)
		if !ok || got != want {
			t.Fatalf("ParseKind(%q) = %s,%v want %s", raw, got, ok, want)
		}
	}
	if _, ok := ParseKind("weather"); ok {
		t.Fatal("unexpected kind accepted")
	}
}

func TestDisasterVolunteerCall(t *testing.T) {
	pune := Location{City: "Pune", State: "MH"}
	cases := []struct {
		name  string
		alert DisasterAlert
		want  bool
	}{
		{"reported", DisasterAlert{Type: "flood", Location: pune, Source: "backend"}, false},
		{"predicted", DisasterAlert{Type: "flood", Location: pune, Predicted: true}, true},
		{"admin test", DisasterAlert{Type: "flood", Location: pune, AdminTest: true}, true},
		{"manual", DisasterAlert{Type: "flood", Location: pune, Source: "Manual"}, true},
	}
	for _, tc := range cases {
		call, ok := tc.alert.VolunteerCall()
		if ok != tc.want {
			t.Fatalf("%s: got %v, want %v", tc.name, ok, tc.want)
		}
		if ok && (call.UserID != "" || call.Location != pune || call.Message == "") {
			t.Fatalf("%s: unexpected opportunity %+v", tc.name, call)
		}
	}

	if FollowUpID("ev-1", KindVolunteerOpportunity) != FollowUpID("ev-1", KindVolunteerOpportunity) {
		t.Fatal("follow-up ids must be stable")
	}
	if FollowUpID("ev-1", KindVolunteerOpportunity) == FollowUpID("ev-2", KindVolunteerOpportunity) {
		t.Fatal("follow-up ids must differ per event")
	}
}
