package domain

import (
	"errors"
	"testing"
)

func topicsOf(targets []Target) []Topic {
	out := make([]Topic, 0, len(targets))
	for _, target := range targets {
		out = append(out, target.Topic)
	}
	return out
}

func TestResolveTargetsDisaster(t *testing.T) {
	loc := Location{City: "Pune", State: "MH"}

	low := NewEvent(DisasterAlert{Type: "flood", Severity: SeverityLow, Location: loc}, "", testNow)
	targets, err := ResolveTargets(low)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(targets) != 2 || targets[0].Event != OutLocalDisasterAlert || targets[1].Event != OutNewDisasterAlert {
		t.Fatalf("unexpected low severity targets %+v", targets)
	}

	high := NewEvent(DisasterAlert{Type: "flood", Severity: SeverityExtreme, Location: loc}, "", testNow)
	targets, err = ResolveTargets(high)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(targets) != 3 {
		t.Fatalf("expected admin target, got %+v", targets)
	}
	admin := targets[0]
	if admin.Topic != RoleTopic(RoleAdmin) || admin.Event != OutExtremeDisasterAlert || !admin.Actionable {
		t.Fatalf("unexpected admin target %+v", admin)
	}
	for i := 1; i < len(targets); i++ {
		if targets[i].Precedence > targets[i-1].Precedence {
			t.Fatalf("targets must be ordered by precedence: %+v", targets)
		}
	}
}

func TestResolveTargetsTable(t *testing.T) {
	cases := []struct {
		name    string
		payload Payload
		want    []Topic
		event   string
	}{
		{"crpf", CrpfAlert{Message: "send units"}, []Topic{"role:admin", "global"}, OutCrpfAlert},
		{"emergency", Emergency{Message: "evacuate"}, []Topic{"role:admin", "global"}, OutExtremeDisasterAlert},
		{"broadcast", AdminBroadcast{Message: "hello"}, []Topic{"global"}, OutGlobalAlert},
		{"severity", SeverityNotification{Message: "heat", Severity: SeverityHigh}, []Topic{"global"}, OutGlobalAlert},
		{"points", PointsUpdate{UserID: "u-1"}, []Topic{"user:u-1"}, OutPointsUpdated},
		{"volunteer direct", VolunteerOpportunity{UserID: "u-2", Message: "help"}, []Topic{"user:u-2"}, OutVolunteerHelpOpportunity},
		{"volunteer role", VolunteerOpportunity{Message: "help"}, []Topic{"role:volunteer"}, OutVolunteerHelpOpportunity},
	}
	for _, tc := range cases {
		targets, err := ResolveTargets(NewEvent(tc.payload, "", testNow))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		got := topicsOf(targets)
		if len(got) != len(tc.want) {
			t.Fatalf("%s: topics want=%v got=%v", tc.name, tc.want, got)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("%s: topics want=%v got=%v", tc.name, tc.want, got)
			}
		}
		if targets[0].Event != tc.event {
			t.Fatalf("%s: first target event want=%s got=%s", tc.name, tc.event, targets[0].Event)
		}
	}
}

func TestResolveTargetsMissingPayload(t *testing.T) {
	if _, err := ResolveTargets(Event{Kind: KindAdminBroadcast}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
}

func TestBuildEventMessageActionable(t *testing.T) {
	ev := NewEvent(DisasterAlert{Type: "quake", Severity: SeverityCritical, Location: Location{City: "A", State: "B"}, CrpfID: "c-1"}, "", testNow)
	targets, _ := ResolveTargets(ev)

	admin := BuildEventMessage(ev, targets[0])
	if !admin.RequiresAck || !admin.Sticky {
		t.Fatalf("admin variant must be sticky and require ack: %+v", admin)
	}
	if admin.Metadata["crpfNotificationId"] != "c-1" {
		t.Fatalf("missing crpf id metadata: %v", admin.Metadata)
	}
	if admin.Metadata["publicEvent"] != OutNewDisasterAlert {
		t.Fatalf("admin frame must name the public variant: %v", admin.Metadata)
	}

	public := BuildEventMessage(ev, targets[len(targets)-1])
	if public.RequiresAck || !public.Sticky || public.Metadata != nil {
		t.Fatalf("public variant of an escalating alert is sticky only: %+v", public)
	}
	if public.EventID != ev.ID || public.Event != OutNewDisasterAlert {
		t.Fatalf("unexpected public frame %+v", public)
	}
}

func TestBuildSystemMessageDropsBlankMetadata(t *testing.T) {
	msg := BuildSystemMessage(FrameSystemError, map[string]string{"reason": " nope ", "": "x", "empty": " "}, nil, testNow)
	if len(msg.Metadata) != 1 || msg.Metadata["reason"] != "nope" {
		t.Fatalf("unexpected metadata %v", msg.Metadata)
	}
	if BuildSystemMessage(FrameSystemPong, nil, nil, testNow).Metadata != nil {
		t.Fatal("expected nil metadata")
	}
}

func TestEventSeverity(t *testing.T) {
	if EventSeverity(NewEvent(CrpfAlert{Message: "x", Priority: PriorityHigh}, "", testNow)) != SeverityHigh {
		t.Fatal("high priority crpf maps to high severity")
	}
	if EventSeverity(NewEvent(PointsUpdate{UserID: "u"}, "", testNow)) != "" {
		t.Fatal("points carry no severity")
	}
	if !SeverityExtreme.Escalates() || SeverityMedium.Escalates() {
		t.Fatal("escalation threshold is high")
	}
}
