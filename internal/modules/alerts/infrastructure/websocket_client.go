package infrastructure

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"reliefWs/internal/modules/alerts/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	readLimit  = 1 << 16
)

// Client owns one websocket connection. It implements port.Sink.
type Client struct {
	conn      *websocket.Conn
	codec     FrameCodec
	send      chan []byte
	connID    string
	commands  *CommandProcessor
	detach    func(connID string)
	closeOnce sync.Once
	closed    bool
	mu        sync.RWMutex
}

// NewClient wraps conn with a buffered outbound queue of size buf. detach runs once when the read side ends.
func NewClient(conn *websocket.Conn, connID string, codec FrameCodec, buf int, commands *CommandProcessor, detach func(string)) *Client {
	if codec == nil {
		codec = JSONCodec{}
	}
	if buf <= 0 {
		buf = 256
	}
	return &Client{
		conn:     conn,
		codec:    codec,
		send:     make(chan []byte, buf),
		connID:   connID,
		commands: commands,
		detach:   detach,
	}
}

func (c *Client) ID() string {
	return c.connID
}

// Send enqueues msg without blocking. It returns false once the client is closed or its buffer is full.
func (c *Client) Send(msg *domain.Message) bool {
	data, err := c.codec.Encode(msg)
	if err != nil {
		slog.Error("websocket marshal error", slog.String("connectionId", c.connID), slog.Any("error", err))
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Close stops the outbound queue. The write pump flushes what is queued, then closes the socket.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
	})
}

func (c *Client) WritePump() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(c.codec.MessageType(), msg); err != nil {
				slog.Warn("websocket write error", slog.String("connectionId", c.connID), slog.Any("error", err))
				return
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				slog.Warn("websocket ping error", slog.String("connectionId", c.connID), slog.Any("error", err))
				return
			}
		}
	}
}

func (c *Client) ReadPump() {
	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	defer func() {
		if c.detach != nil {
			c.detach(c.connID)
		}
		c.Close()
	}()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("websocket read error", slog.String("connectionId", c.connID), slog.Any("error", err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		cmd, err := c.codec.DecodeCommand(data)
		if err != nil {
			c.Send(domain.BuildSystemMessage(domain.FrameSystemError, map[string]string{"reason": "malformed command"}, nil, time.Now()))
			continue
		}
		c.processCommand(cmd)
	}
}

func (c *Client) processCommand(cmd Command) {
	if c.commands == nil {
		return
	}
	c.commands.Process(c, cmd)
}
