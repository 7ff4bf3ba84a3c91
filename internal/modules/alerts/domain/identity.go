package domain

import "strings"

// Role is the authorization role carried by an authenticated identity.
type Role string

const (
	RoleUser      Role = "user"
	RoleVolunteer Role = "volunteer"
	RoleAdmin     Role = "admin"
)

// ParseRole normalizes a textual role, defaulting unknown values to RoleUser.
func ParseRole(raw string) Role {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "admin", "administrator":
		return RoleAdmin
	case "volunteer":
		return RoleVolunteer
	default:
		return RoleUser
	}
}

// Location is the city/state pair used for location-scoped rooms.
type Location struct {
	City  string `json:"city"`
	State string `json:"state"`
}

// IsZero reports whether neither city nor state is set.
func (l Location) IsZero() bool {
	return strings.TrimSpace(l.City) == "" && strings.TrimSpace(l.State) == ""
}

// Complete reports whether both city and state are set.
func (l Location) Complete() bool {
	return strings.TrimSpace(l.City) != "" && strings.TrimSpace(l.State) != ""
}

// Key returns the normalized "city,state" form used in topic ids.
func (l Location) Key() string {
	return strings.ToLower(strings.TrimSpace(l.City)) + "," + strings.ToLower(strings.TrimSpace(l.State))
}

// Identity is who a connection speaks for. An empty UserID means anonymous.
type Identity struct {
	UserID               string   `json:"userId,omitempty"`
	Role                 Role     `json:"role,omitempty"`
	Location             Location `json:"location"`
	NotificationsEnabled bool     `json:"notificationsEnabled,omitempty"`
}

// Anonymous returns the identity of an unauthenticated connection.
func Anonymous() Identity {
	return Identity{}
}

// IsAnonymous reports whether the identity has no authenticated user.
func (i Identity) IsAnonymous() bool {
	return strings.TrimSpace(i.UserID) == ""
}

// IsAdmin reports whether the identity is an authenticated administrator.
func (i Identity) IsAdmin() bool {
	return !i.IsAnonymous() && i.Role == RoleAdmin
}

// WithLocation returns a copy of the identity bound to loc.
func (i Identity) WithLocation(loc Location) Identity {
	i.Location = Location{City: strings.TrimSpace(loc.City), State: strings.TrimSpace(loc.State)}
	return i
}

// WithNotifications returns a copy of the identity with the public opt-in set.
func (i Identity) WithNotifications(enabled bool) Identity {
	i.NotificationsEnabled = enabled
	return i
}
