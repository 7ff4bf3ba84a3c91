package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"reliefWs/internal/modules/alerts/domain"
)

type Command struct {
	Action  string          `json:"action"`
	Topic   string          `json:"topic,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (c Command) actionKey() string {
	return normalizeAction(c.Action)
}

// CommandHandler runs one inbound command. A returned error is answered with a system.error frame.
type CommandHandler func(ctx context.Context, client *Client, cmd Command) error

// CommandProcessor routes inbound commands by action. Commands of one connection run in order.
type CommandProcessor struct {
	handlers map[string]CommandHandler
	timeout  time.Duration
}

func NewCommandProcessor(timeout time.Duration) *CommandProcessor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	processor := &CommandProcessor{
		handlers: make(map[string]CommandHandler),
		timeout:  timeout,
	}
	processor.Register("ping", processor.handlePing)
	return processor
}

// Register binds handler to action. Actions are matched case-insensitively.
func (p *CommandProcessor) Register(action string, handler CommandHandler) {
	if handler == nil {
		return
	}
	key := normalizeAction(action)
	if key == "" {
		return
	}
	p.handlers[key] = handler
}

func (p *CommandProcessor) Process(client *Client, cmd Command) {
	if client == nil {
		return
	}

	action := cmd.actionKey()
	if action == "" {
		return
	}

	handler, ok := p.handlers[action]
	if !ok {
		slog.Debug("ws command ignored", slog.String("connectionId", client.ID()), slog.String("action", action))
		client.Send(commandError(action, errUnknownCommand))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := handler(ctx, client, cmd); err != nil {
		slog.Debug("ws command failed", slog.String("connectionId", client.ID()), slog.String("action", action), slog.Any("error", err))
		client.Send(commandError(action, err))
	}
}

var errUnknownCommand = errors.New("unknown command")

func (p *CommandProcessor) handlePing(_ context.Context, client *Client, _ Command) error {
	client.Send(domain.BuildSystemMessage(domain.FrameSystemPong, nil, nil, time.Now()))
	return nil
}

func commandError(action string, err error) *domain.Message {
	return domain.BuildSystemMessage(domain.FrameSystemError, map[string]string{
		"action": action,
		"reason": err.Error(),
	}, nil, time.Now())
}

func normalizeAction(action string) string {
	return strings.ToLower(strings.TrimSpace(action))
}
