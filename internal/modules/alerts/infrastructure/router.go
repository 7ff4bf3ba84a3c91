package infrastructure

import (
	"log/slog"
	"sort"
	"sync"

	"reliefWs/internal/modules/alerts/domain"
)

// Router is the room membership index. Only attached connections can hold memberships,
// and detaching a connection purges all of its memberships in one step.
type Router struct {
	topics  map[domain.Topic]map[string]struct{}
	members map[string]map[domain.Topic]struct{}
	mu      sync.RWMutex
}

func NewRouter() *Router {
	return &Router{
		topics:  make(map[domain.Topic]map[string]struct{}),
		members: make(map[string]map[domain.Topic]struct{}),
	}
}

// TopicsFor derives the topics an identity belongs to.
func (r *Router) TopicsFor(id domain.Identity) []domain.Topic {
	return domain.TopicsFor(id)
}

func (r *Router) attach(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[connID]; !ok {
		r.members[connID] = make(map[domain.Topic]struct{})
	}
}

func (r *Router) detach(connID string) []domain.Topic {
	r.mu.Lock()
	defer r.mu.Unlock()
	joined, ok := r.members[connID]
	if !ok {
		return nil
	}
	for topic := range joined {
		r.removeLocked(connID, topic)
	}
	delete(r.members, connID)
	return domain.SortTopics(joined)
}

// Join adds connID to topic. Joining twice is a no-op.
func (r *Router) Join(connID string, topic domain.Topic) error {
	if topic == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.joinLocked(connID, topic)
}

// Leave removes connID from topic. Leaving a topic that was never joined is a no-op.
func (r *Router) Leave(connID string, topic domain.Topic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[connID]; !ok {
		return
	}
	r.removeLocked(connID, topic)
}

// Sync makes the membership of connID equal to desired, leaving stale topics before joining new ones.
func (r *Router) Sync(connID string, desired []domain.Topic) (joined, left []domain.Topic, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.members[connID]
	if !ok {
		return nil, nil, domain.ErrUnknownConnection
	}
	want := make(map[domain.Topic]struct{}, len(desired))
	for _, topic := range desired {
		if topic != "" {
			want[topic] = struct{}{}
		}
	}
	for topic := range current {
		if _, keep := want[topic]; !keep {
			r.removeLocked(connID, topic)
			left = append(left, topic)
		}
	}
	for topic := range want {
		if _, has := current[topic]; has {
			continue
		}
		if err := r.joinLocked(connID, topic); err != nil {
			return nil, nil, err
		}
		joined = append(joined, topic)
	}
	sortTopics(joined)
	sortTopics(left)
	if len(joined) > 0 || len(left) > 0 {
		slog.Debug("ws rooms synced", slog.String("connectionId", connID), slog.Any("joined", joined), slog.Any("left", left))
	}
	return joined, left, nil
}

// MembersOf returns the attached connections of topic, sorted by id.
func (r *Router) MembersOf(topic domain.Topic) []string {
	r.mu.RLock()
	subs := r.topics[topic]
	out := make([]string, 0, len(subs))
	for connID := range subs {
		out = append(out, connID)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// TopicsOf returns the topics connID is currently a member of.
func (r *Router) TopicsOf(connID string) []domain.Topic {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return domain.SortTopics(r.members[connID])
}

// Rooms reports the occupancy of every non-empty topic.
func (r *Router) Rooms() []domain.RoomStat {
	r.mu.RLock()
	stats := make([]domain.RoomStat, 0, len(r.topics))
	for topic, subs := range r.topics {
		stats = append(stats, domain.RoomStat{Name: string(topic), Members: len(subs)})
	}
	r.mu.RUnlock()
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

func (r *Router) joinLocked(connID string, topic domain.Topic) error {
	joined, ok := r.members[connID]
	if !ok {
		return domain.ErrUnknownConnection
	}
	if r.topics[topic] == nil {
		r.topics[topic] = make(map[string]struct{})
	}
	r.topics[topic][connID] = struct{}{}
	joined[topic] = struct{}{}
	return nil
}

func (r *Router) removeLocked(connID string, topic domain.Topic) {
	if subs, ok := r.topics[topic]; ok {
		delete(subs, connID)
		if len(subs) == 0 {
			delete(r.topics, topic)
		}
	}
	if joined, ok := r.members[connID]; ok {
		delete(joined, topic)
	}
}

func sortTopics(topics []domain.Topic) {
	sort.Slice(topics, func(i, j int) bool { return topics[i] < topics[j] })
}
