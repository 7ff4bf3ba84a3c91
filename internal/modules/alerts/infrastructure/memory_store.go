package infrastructure

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"reliefWs/internal/modules/alerts/domain"
)

// MemoryNotificationStore keeps notifications in process. It backs tests and single-node runs without Redis.
type MemoryNotificationStore struct {
	items  map[string]domain.Notification
	inbox  map[string][]string
	public []domain.Notification
	mu     sync.RWMutex
}

func NewMemoryNotificationStore() *MemoryNotificationStore {
	return &MemoryNotificationStore{
		items: make(map[string]domain.Notification),
		inbox: make(map[string][]string),
	}
}

func (s *MemoryNotificationStore) Save(_ context.Context, n domain.Notification) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[n.ID]; exists {
		return false, nil
	}
	s.items[n.ID] = n
	s.inbox[n.Recipient] = append(s.inbox[n.Recipient], n.ID)
	return true, nil
}

func (s *MemoryNotificationStore) List(_ context.Context, recipient string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	s.mu.RLock()
	out := make([]domain.Notification, 0, len(s.inbox[recipient]))
	for _, id := range s.inbox[recipient] {
		n := s.items[id]
		if unreadOnly && n.Read {
			continue
		}
		out = append(out, n)
	}
	s.mu.RUnlock()
	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryNotificationStore) CountUnread(_ context.Context, recipient string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	unread := 0
	for _, id := range s.inbox[recipient] {
		if !s.items[id].Read {
			unread++
		}
	}
	return unread, nil
}

func (s *MemoryNotificationStore) MarkRead(_ context.Context, recipient, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok || n.Recipient != recipient {
		return domain.ErrNotificationNotFound
	}
	if n.Read {
		return nil
	}
	readAt := at.UTC()
	n.Read = true
	n.ReadAt = &readAt
	s.items[id] = n
	return nil
}

func (s *MemoryNotificationStore) MarkAllRead(_ context.Context, recipient string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	readAt := at.UTC()
	changed := 0
	for _, id := range s.inbox[recipient] {
		n := s.items[id]
		if n.Read {
			continue
		}
		n.Read = true
		n.ReadAt = &readAt
		s.items[id] = n
		changed++
	}
	return changed, nil
}

func (s *MemoryNotificationStore) AppendPublic(_ context.Context, n domain.Notification, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.public {
		if existing.ID == n.ID {
			return nil
		}
	}
	s.public = append([]domain.Notification{n}, s.public...)
	if keep > 0 && len(s.public) > keep {
		s.public = s.public[:keep]
	}
	return nil
}

func (s *MemoryNotificationStore) LatestPublic(_ context.Context, limit int) ([]domain.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.public)
	if limit > 0 && n > limit {
		n = limit
	}
	out := make([]domain.Notification, n)
	copy(out, s.public[:n])
	return out, nil
}

// MemoryCrpfStore keeps CRPF requests in process.
type MemoryCrpfStore struct {
	items map[string]domain.CrpfNotification
	mu    sync.Mutex
}

func NewMemoryCrpfStore() *MemoryCrpfStore {
	return &MemoryCrpfStore{items: make(map[string]domain.CrpfNotification)}
}

func (s *MemoryCrpfStore) Create(_ context.Context, n domain.CrpfNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[n.ID]; exists {
		return nil
	}
	s.items[n.ID] = n
	return nil
}

func (s *MemoryCrpfStore) Get(_ context.Context, id string) (domain.CrpfNotification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[strings.TrimSpace(id)]
	if !ok {
		return domain.CrpfNotification{}, domain.ErrCrpfNotFound
	}
	return n, nil
}

func (s *MemoryCrpfStore) List(_ context.Context, status domain.CrpfStatus) ([]domain.CrpfNotification, error) {
	s.mu.Lock()
	out := make([]domain.CrpfNotification, 0, len(s.items))
	for _, n := range s.items {
		if status != "" && n.Status != status {
			continue
		}
		out = append(out, n)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryCrpfStore) Acknowledge(_ context.Context, id string, at time.Time) (domain.CrpfNotification, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[strings.TrimSpace(id)]
	if !ok {
		return domain.CrpfNotification{}, false, domain.ErrCrpfNotFound
	}
	updated, changed := n.Acknowledge(at)
	if changed {
		s.items[n.ID] = updated
	}
	return updated, changed, nil
}

// MemoryAudience is the in-process AudienceDirectory.
type MemoryAudience struct {
	byTopic map[domain.Topic]map[string]struct{}
	byUser  map[string][]domain.Topic
	mu      sync.RWMutex
}

func NewMemoryAudience() *MemoryAudience {
	return &MemoryAudience{
		byTopic: make(map[domain.Topic]map[string]struct{}),
		byUser:  make(map[string][]domain.Topic),
	}
}

func (a *MemoryAudience) Remember(_ context.Context, identity domain.Identity) error {
	if identity.IsAnonymous() {
		return nil
	}
	userID := strings.TrimSpace(identity.UserID)
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, topic := range a.byUser[userID] {
		if users, ok := a.byTopic[topic]; ok {
			delete(users, userID)
			if len(users) == 0 {
				delete(a.byTopic, topic)
			}
		}
	}
	topics := domain.TopicsFor(identity)
	for _, topic := range topics {
		if a.byTopic[topic] == nil {
			a.byTopic[topic] = make(map[string]struct{})
		}
		a.byTopic[topic][userID] = struct{}{}
	}
	a.byUser[userID] = topics
	return nil
}

func (a *MemoryAudience) Members(_ context.Context, topic domain.Topic) ([]string, error) {
	a.mu.RLock()
	users := a.byTopic[topic]
	out := make([]string, 0, len(users))
	for userID := range users {
		out = append(out, userID)
	}
	a.mu.RUnlock()
	sort.Strings(out)
	return out, nil
}

func sortNewestFirst(items []domain.Notification) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID > items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}
