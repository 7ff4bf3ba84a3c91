package domain

import "fmt"

// Outbound event names as seen by clients.
const (
	OutNewDisasterAlert         = "new_disaster_alert"
	OutLocalDisasterAlert       = "local_disaster_alert"
	OutGlobalAlert              = "globalAlert"
	OutCrpfAlert                = "crpfAlert"
	OutExtremeDisasterAlert     = "extreme_disaster_alert"
	OutPointsUpdated            = "points_updated"
	OutVolunteerHelpOpportunity = "volunteer_help_opportunity"
	OutEmergencyMessage         = "emergency_message"
	OutRoomDataUpdate           = "room_data_update"
)

// Target precedence. A connection reached through several targets of one event
// receives only the variant with the highest precedence.
const (
	PrecedenceGlobal   = 10
	PrecedenceRole     = 20
	PrecedenceUser     = 30
	PrecedenceLocation = 40
	PrecedenceAdmin    = 50
)

// Target is one topic an event fans out to, with the frame variant its members receive.
type Target struct {
	Topic      Topic
	Event      string
	Actionable bool
	Precedence int
}

// ResolveTargets applies the routing policy for e. Targets are ordered by descending precedence.
// The event must already be valid.
func ResolveTargets(e Event) ([]Target, error) {
	switch p := e.Payload.(type) {
	case DisasterAlert:
		targets := make([]Target, 0, 3)
		if p.Severity.Escalates() {
			targets = append(targets, adminTarget(OutExtremeDisasterAlert))
		}
		loc := LocationTopic(p.Location)
		if loc == "" {
			return nil, fmt.Errorf("%w: disaster alert without location", ErrInvalidEvent)
		}
		targets = append(targets,
			Target{Topic: loc, Event: OutLocalDisasterAlert, Precedence: PrecedenceLocation},
			Target{Topic: TopicGlobal, Event: OutNewDisasterAlert, Precedence: PrecedenceGlobal},
		)
		return targets, nil
	case CrpfAlert:
		return []Target{
			adminTarget(OutCrpfAlert),
			{Topic: TopicGlobal, Event: OutCrpfAlert, Precedence: PrecedenceGlobal},
		}, nil
	case Emergency:
		return []Target{
			adminTarget(OutExtremeDisasterAlert),
			{Topic: TopicGlobal, Event: OutEmergencyMessage, Precedence: PrecedenceGlobal},
		}, nil
	case AdminBroadcast, SeverityNotification:
		return []Target{{Topic: TopicGlobal, Event: OutGlobalAlert, Precedence: PrecedenceGlobal}}, nil
	case PointsUpdate:
		topic := UserTopic(p.UserID)
		if topic == "" {
			return nil, fmt.Errorf("%w: points update without user", ErrInvalidEvent)
		}
		return []Target{{Topic: topic, Event: OutPointsUpdated, Precedence: PrecedenceUser}}, nil
	case VolunteerOpportunity:
		if topic := UserTopic(p.UserID); topic != "" {
			return []Target{{Topic: topic, Event: OutVolunteerHelpOpportunity, Precedence: PrecedenceUser}}, nil
		}
		return []Target{{Topic: RoleTopic(RoleVolunteer), Event: OutVolunteerHelpOpportunity, Precedence: PrecedenceRole}}, nil
	case nil:
		return nil, fmt.Errorf("%w: missing payload", ErrInvalidEvent)
	default:
		return nil, fmt.Errorf("%w: unrecognized kind %q", ErrInvalidEvent, e.Kind)
	}
}

func adminTarget(event string) Target {
	return Target{Topic: RoleTopic(RoleAdmin), Event: event, Actionable: true, Precedence: PrecedenceAdmin}
}

// EventSeverity returns the severity carried by e, or "" for kinds without one.
func EventSeverity(e Event) Severity {
	switch p := e.Payload.(type) {
	case DisasterAlert:
		return p.Severity
	case Emergency:
		return p.Severity
	case SeverityNotification:
		return p.Severity
	case VolunteerOpportunity:
		return p.Severity
	case CrpfAlert:
		if p.Priority == PriorityHigh {
			return SeverityHigh
		}
		return ""
	default:
		return ""
	}
}
