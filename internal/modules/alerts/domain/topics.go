package domain

import (
	"sort"
	"strings"
)

// Topic is a fan-out channel id. Topics are derived from identities and never stored on their own.
type Topic string

const (
	// TopicGlobal reaches every authenticated connection and anonymous connections that opted in.
	TopicGlobal Topic = "global"

	rolePrefix     = "role:"
	locationPrefix = "location:"
	userPrefix     = "user:"
)

// RoleTopic returns the topic for every connection holding role.
func RoleTopic(role Role) Topic {
	return Topic(rolePrefix + strings.ToLower(strings.TrimSpace(string(role))))
}

// LocationTopic returns the topic for a city/state pair, or "" when the location is incomplete.
func LocationTopic(loc Location) Topic {
	if !loc.Complete() {
		return ""
	}
	return Topic(locationPrefix + loc.Key())
}

// UserTopic returns the private topic of a user, or "" for an empty id.
func UserTopic(userID string) Topic {
	trimmed := strings.TrimSpace(userID)
	if trimmed == "" {
		return ""
	}
	return Topic(userPrefix + trimmed)
}

// UserIDFromTopic extracts the user id of a private topic.
func UserIDFromTopic(t Topic) (string, bool) {
	raw := string(t)
	if !strings.HasPrefix(raw, userPrefix) {
		return "", false
	}
	id := strings.TrimSpace(strings.TrimPrefix(raw, userPrefix))
	return id, id != ""
}

// IsLocation reports whether t is a location-scoped topic.
func (t Topic) IsLocation() bool {
	return strings.HasPrefix(string(t), locationPrefix)
}

// IsRole reports whether t is a role topic.
func (t Topic) IsRole() bool {
	return strings.HasPrefix(string(t), rolePrefix)
}

// TopicsFor derives the full topic set of an identity. It is a pure function of its input.
//
// Anonymous identities get nothing unless they opted into public notifications, in which
// case they get the global topic only. Authenticated identities get global, their role
// topic and their private topic, plus their location topic when the location is complete.
func TopicsFor(id Identity) []Topic {
	if id.IsAnonymous() {
		if id.NotificationsEnabled {
			return []Topic{TopicGlobal}
		}
		return nil
	}

	role := id.Role
	if role == "" {
		role = RoleUser
	}
	set := map[Topic]struct{}{
		TopicGlobal:          {},
		RoleTopic(role):      {},
		UserTopic(id.UserID): {},
	}
	if role == RoleAdmin {
		set[RoleTopic(RoleAdmin)] = struct{}{}
	}
	if loc := LocationTopic(id.Location); loc != "" {
		set[loc] = struct{}{}
	}
	return SortTopics(set)
}

// SortTopics flattens a topic set into a deterministic slice.
func SortTopics(set map[Topic]struct{}) []Topic {
	out := make([]Topic, 0, len(set))
	for t := range set {
		if t == "" {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
