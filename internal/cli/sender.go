package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"reliefWs/internal/modules/alerts/domain"
	"reliefWs/internal/platform/broker"
)

// eventSender hands a validated event to the alert service.
type eventSender interface {
	Send(ctx context.Context, ev domain.Event) (string, error)
	Close() error
}

func newSender(opts *RootOptions) (eventSender, error) {
	switch opts.Via {
	case "kafka":
		if len(opts.Brokers) == 0 {
			return nil, errors.New("--brokers is required with --via kafka")
		}
		return &kafkaSender{publisher: broker.NewKafkaPublisher(opts.Brokers, opts.Topic), topic: opts.Topic}, nil
	default:
		if strings.TrimSpace(opts.InternalKey) == "" {
			return nil, errors.New("--internal-key is required with --via http")
		}
		return &httpSender{
			baseURL: strings.TrimRight(opts.URL, "/"),
			key:     opts.InternalKey,
			client:  &http.Client{Timeout: opts.Timeout},
		}, nil
	}
}

type kafkaSender struct {
	publisher *broker.KafkaPublisher
	topic     string
}

func (s *kafkaSender) Send(ctx context.Context, ev domain.Event) (string, error) {
	if err := s.publisher.Publish(ctx, ev); err != nil {
		return "", err
	}
	return fmt.Sprintf("published %s to %s", ev.ID, s.topic), nil
}

func (s *kafkaSender) Close() error { return s.publisher.Close() }

type httpSender struct {
	baseURL string
	key     string
	client  *http.Client
}

type eventResponse struct {
	Success bool                  `json:"success"`
	Result  domain.DispatchResult `json:"result"`
	Warning string                `json:"warning,omitempty"`
	Message string                `json:"message,omitempty"`
}

func (s *httpSender) Send(ctx context.Context, ev domain.Event) (string, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("encode event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/events", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Internal-Api-Key", s.key)

	res, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("post event: %w", err)
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var out eventResponse
	_ = json.Unmarshal(raw, &out)
	if res.StatusCode >= http.StatusBadRequest {
		msg := out.Message
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return "", fmt.Errorf("alert service returned %d: %s", res.StatusCode, msg)
	}

	summary := fmt.Sprintf("dispatched %s: delivered=%d queued=%d", out.Result.EventID, out.Result.DeliveredCount, len(out.Result.QueuedForOffline))
	if out.Warning != "" {
		summary += " warning: " + out.Warning
	}
	return summary, nil
}

func (s *httpSender) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func sendTimeout(opts *RootOptions) time.Duration {
	if opts.Timeout <= 0 {
		return 10 * time.Second
	}
	return opts.Timeout
}
