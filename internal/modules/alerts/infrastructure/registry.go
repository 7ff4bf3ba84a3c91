package infrastructure

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"reliefWs/internal/modules/alerts/application/port"
	"reliefWs/internal/modules/alerts/domain"
	"reliefWs/internal/shared/metrics"
)

type connection struct {
	id          string
	identity    domain.Identity
	sink        port.Sink
	connectedAt time.Time
}

// Registry tracks live connections and keeps their room memberships derived from their identity.
// Lock order is Registry then Router.
type Registry struct {
	router  *Router
	conns   map[string]*connection
	hooks   []func(connID string)
	metrics *metrics.Metrics
	mu      sync.RWMutex
	hookMu  sync.Mutex
}

func NewRegistry(router *Router, m *metrics.Metrics) *Registry {
	if router == nil {
		router = NewRouter()
	}
	return &Registry{
		router:  router,
		conns:   make(map[string]*connection),
		metrics: m,
	}
}

func (r *Registry) Router() *Router {
	return r.router
}

// OnDeregister registers a callback run once per removed connection, after its memberships are gone.
func (r *Registry) OnDeregister(fn func(connID string)) {
	if fn == nil {
		return
	}
	r.hookMu.Lock()
	r.hooks = append(r.hooks, fn)
	r.hookMu.Unlock()
}

func (r *Registry) Register(connID string, identity domain.Identity, sink port.Sink) error {
	connID = strings.TrimSpace(connID)
	if connID == "" || sink == nil {
		return domain.ErrUnknownConnection
	}
	r.mu.Lock()
	if _, exists := r.conns[connID]; exists {
		r.mu.Unlock()
		return domain.ErrDuplicateConnection
	}
	r.conns[connID] = &connection{id: connID, identity: identity, sink: sink, connectedAt: time.Now().UTC()}
	r.router.attach(connID)
	_, _, err := r.router.Sync(connID, domain.TopicsFor(identity))
	count := len(r.conns)
	r.mu.Unlock()
	if err != nil {
		return err
	}

	r.metrics.SetConnectedClients(count)
	slog.Info("ws client registered", slog.String("connectionId", connID), slog.String("userId", identity.UserID), slog.String("role", string(identity.Role)))
	return nil
}

// UpdateIdentity replaces the identity of a live connection and re-derives its rooms.
func (r *Registry) UpdateIdentity(connID string, identity domain.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[connID]
	if !ok {
		return domain.ErrUnknownConnection
	}
	conn.identity = identity
	_, _, err := r.router.Sync(connID, domain.TopicsFor(identity))
	return err
}

// Deregister removes the connection and every membership it held. It is idempotent.
func (r *Registry) Deregister(connID string) bool {
	r.mu.Lock()
	conn, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, connID)
	r.router.detach(connID)
	count := len(r.conns)
	r.mu.Unlock()

	conn.sink.Close()
	r.metrics.SetConnectedClients(count)
	r.invokeHooks(connID)
	slog.Info("ws client detached", slog.String("connectionId", connID), slog.String("userId", conn.identity.UserID))
	return true
}

// Deliver enqueues msg on the connection. A false result is a delivery miss: the connection is
// gone or could not keep up, in which case it is detached.
func (r *Registry) Deliver(connID string, msg *domain.Message) bool {
	r.mu.RLock()
	conn, ok := r.conns[connID]
	r.mu.RUnlock()
	if !ok || msg == nil {
		return false
	}
	if conn.sink.Send(msg) {
		return true
	}
	slog.Warn("websocket send buffer full", slog.String("connectionId", connID), slog.String("userId", conn.identity.UserID))
	go r.Deregister(connID)
	return false
}

func (r *Registry) Identity(connID string) (domain.Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[connID]
	if !ok {
		return domain.Identity{}, false
	}
	return conn.identity, true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) MembersOf(topic domain.Topic) []string {
	return r.router.MembersOf(topic)
}

func (r *Registry) TopicsOf(connID string) []domain.Topic {
	return r.router.TopicsOf(connID)
}

func (r *Registry) Rooms() []domain.RoomStat {
	return r.router.Rooms()
}

// Close deregisters every connection.
func (r *Registry) Close() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	for _, id := range ids {
		r.Deregister(id)
	}
}

func (r *Registry) invokeHooks(connID string) {
	r.hookMu.Lock()
	hooks := append([]func(string){}, r.hooks...)
	r.hookMu.Unlock()

	for _, hook := range hooks {
		func(h func(string)) {
			defer func() {
				if rec := recover(); rec != nil {
					slog.Warn("ws deregister hook panic", slog.Any("error", rec))
				}
			}()
			h(connID)
		}(hook)
	}
}
