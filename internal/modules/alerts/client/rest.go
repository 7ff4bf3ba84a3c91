package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"reliefWs/internal/modules/alerts/domain"
)

// restClient wraps http.Client with base URL handling.
type restClient struct {
	baseURL string
	client  *http.Client
}

func newRESTClient(baseURL string, timeout time.Duration, client *http.Client) *restClient {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		trimmed = "http://localhost:8081"
	}
	trimmed = strings.TrimRight(trimmed, "/")
	if client == nil {
		client = &http.Client{Timeout: timeoutOrDefault(timeout)}
	} else if timeout > 0 {
		client.Timeout = timeout
	}
	return &restClient{baseURL: trimmed, client: client}
}

func (c *restClient) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, method, c.baseURL+"/"+strings.TrimLeft(endpoint, "/"), body)
}

func timeoutOrDefault(value time.Duration) time.Duration {
	if value <= 0 {
		return 10 * time.Second
	}
	return value
}

// HTTPNotificationAPI implements NotificationAPI against the /api/notifications endpoints.
// Without a token it reads the public latest feed and cannot confirm reads.
type HTTPNotificationAPI struct {
	rest  *restClient
	token string
}

func NewHTTPNotificationAPI(baseURL, token string, timeout time.Duration, client *http.Client) *HTTPNotificationAPI {
	return &HTTPNotificationAPI{rest: newRESTClient(baseURL, timeout, client), token: strings.TrimSpace(token)}
}

type inboxResponse struct {
	Notifications []domain.Notification `json:"notifications"`
	UnreadCount   int                   `json:"unreadCount"`
}

func (a *HTTPNotificationAPI) Fetch(ctx context.Context) ([]domain.Notification, error) {
	if a.token == "" {
		var items []domain.Notification
		if err := a.do(ctx, http.MethodGet, "/api/notifications/latest", &items); err != nil {
			return nil, err
		}
		return items, nil
	}
	var page inboxResponse
	if err := a.do(ctx, http.MethodGet, "/api/notifications/me", &page); err != nil {
		return nil, err
	}
	return page.Notifications, nil
}

func (a *HTTPNotificationAPI) MarkRead(ctx context.Context, id string) error {
	if a.token == "" {
		return domain.ErrForbidden
	}
	return a.do(ctx, http.MethodPut, "/api/notifications/"+url.PathEscape(id)+"/read", nil)
}

func (a *HTTPNotificationAPI) MarkAllRead(ctx context.Context) error {
	if a.token == "" {
		return domain.ErrForbidden
	}
	return a.do(ctx, http.MethodPut, "/api/notifications/read-all", nil)
}

func (a *HTTPNotificationAPI) do(ctx context.Context, method, path string, out any) error {
	req, err := a.rest.newRequest(ctx, method, path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	res, err := a.rest.client.Do(req)
	if err != nil {
		slog.Debug("notification api request error", slog.String("path", path), slog.Any("error", err))
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusOK:
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		return nil
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return domain.ErrForbidden
	case res.StatusCode == http.StatusNotFound:
		return domain.ErrNotificationNotFound
	case res.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: status %d", domain.ErrStoreUnavailable, res.StatusCode)
	default:
		body, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
		return fmt.Errorf("unexpected response %d from %s: %s", res.StatusCode, path, strings.TrimSpace(string(body)))
	}
}

var _ NotificationAPI = (*HTTPNotificationAPI)(nil)
