package client

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"reliefWs/internal/modules/alerts/domain"
)

const (
	writeWait = 10 * time.Second
	readWait  = 75 * time.Second
)

var errNotConnected = errors.New("websocket not connected")

// FrameHandler observes inbound frames by event name.
type FrameHandler func(msg domain.Message)

// Session keeps one websocket connection to the alerts service open, reconnecting with backoff
// and driving a Reconciler through its lifecycle. It implements Joiner.
type Session struct {
	url        string
	header     http.Header
	dialer     *websocket.Dialer
	minBackoff time.Duration
	maxBackoff time.Duration

	handlersMu sync.RWMutex
	handlers   map[string][]FrameHandler

	connMu sync.Mutex
	conn   *websocket.Conn
}

type SessionOption func(*Session)

func WithDialer(d *websocket.Dialer) SessionOption {
	return func(s *Session) {
		if d != nil {
			s.dialer = d
		}
	}
}

func WithBackoff(minDelay, maxDelay time.Duration) SessionOption {
	return func(s *Session) {
		if minDelay > 0 {
			s.minBackoff = minDelay
		}
		if maxDelay >= s.minBackoff {
			s.maxBackoff = maxDelay
		}
	}
}

// NewSession prepares a session for rawURL (ws:// or wss://). An empty token connects anonymously.
func NewSession(rawURL, token string, opts ...SessionOption) *Session {
	header := http.Header{}
	if trimmed := strings.TrimSpace(token); trimmed != "" {
		header.Set("Authorization", "Bearer "+trimmed)
	}
	s := &Session{
		url:        rawURL,
		header:     header,
		dialer:     websocket.DefaultDialer,
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 15 * time.Second,
		handlers:   make(map[string][]FrameHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// On registers fn for frames named event. "*" receives every frame.
func (s *Session) On(event string, fn FrameHandler) {
	if fn == nil {
		return
	}
	s.handlersMu.Lock()
	s.handlers[event] = append(s.handlers[event], fn)
	s.handlersMu.Unlock()
}

func (s *Session) Join(ctx context.Context, cmd JoinCommand) error {
	return s.Send(ctx, cmd.Action, cmd.Payload)
}

// Send writes one command frame on the current connection.
func (s *Session) Send(ctx context.Context, action string, payload any) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return errNotConnected
	}
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = s.conn.SetWriteDeadline(deadline)
	return s.conn.WriteJSON(JoinCommand{Action: action, Payload: payload})
}

// Run connects and reconnects until ctx is cancelled. Every successful connect replays the
// joins and refetches the inbox through rec.
func (s *Session) Run(ctx context.Context, rec *Reconciler) error {
	backoff := s.minBackoff
	for {
		if ctx.Err() != nil {
			return nil
		}
		_ = rec.Connecting()
		conn, _, err := s.dialer.DialContext(ctx, s.url, s.header)
		if err != nil {
			rec.Disconnected()
			slog.Warn("websocket dial failed", slog.String("url", s.url), slog.Duration("retryIn", backoff), slog.Any("error", err))
			if !sleepCtx(ctx, backoff) {
				return nil
			}
			backoff = nextBackoff(backoff, s.maxBackoff)
			continue
		}
		backoff = s.minBackoff
		s.setConn(conn)

		done := make(chan struct{})
		go func() {
			defer close(done)
			s.readLoop(conn, rec)
		}()
		if err := rec.Connected(ctx); err != nil {
			slog.Warn("session sync failed", slog.Any("error", err))
		}

		select {
		case <-ctx.Done():
			s.closeConn(conn)
			<-done
			s.setConn(nil)
			rec.Disconnected()
			return nil
		case <-done:
		}
		s.setConn(nil)
		rec.Disconnected()
		slog.Info("websocket disconnected", slog.String("url", s.url), slog.Duration("retryIn", backoff))
		if !sleepCtx(ctx, backoff) {
			return nil
		}
	}
}

func (s *Session) readLoop(conn *websocket.Conn, rec *Reconciler) {
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("websocket read ended", slog.Any("error", err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		var msg domain.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("websocket frame decode failed", slog.Any("error", err))
			continue
		}
		rec.OnLive(&msg)
		s.emit(msg)
	}
}

func (s *Session) emit(msg domain.Message) {
	s.handlersMu.RLock()
	handlers := append(append([]FrameHandler(nil), s.handlers[msg.Event]...), s.handlers["*"]...)
	s.handlersMu.RUnlock()
	for _, fn := range handlers {
		fn(msg)
	}
}

func (s *Session) setConn(conn *websocket.Conn) {
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
}

func (s *Session) closeConn(conn *websocket.Conn) {
	s.connMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	s.connMu.Unlock()
	_ = conn.Close()
}

func nextBackoff(current, limit time.Duration) time.Duration {
	next := current * 2
	if next > limit {
		return limit
	}
	return next
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

var _ Joiner = (*Session)(nil)
