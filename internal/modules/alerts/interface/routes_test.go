package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reliefWs/internal/modules/alerts/application/usecase"
	"reliefWs/internal/modules/alerts/client"
	"reliefWs/internal/modules/alerts/domain"
	"reliefWs/internal/modules/alerts/infrastructure"
	"reliefWs/internal/shared/auth"
)

const (
	testSecret      = "test-secret"
	testInternalKey = "internal-key"
)

type harness struct {
	srv      *httptest.Server
	deps     Deps
	registry *infrastructure.Registry
	store    *infrastructure.MemoryNotificationStore
	audience *infrastructure.MemoryAudience
}

func newHarness(t *testing.T, internalKey string) *harness {
	t.Helper()
	registry := infrastructure.NewRegistry(nil, nil)
	store := infrastructure.NewMemoryNotificationStore()
	audience := infrastructure.NewMemoryAudience()
	crpfStore := infrastructure.NewMemoryCrpfStore()
	dispatcher := usecase.NewDispatcher(registry, registry, store, usecase.WithAudience(audience), usecase.WithCrpfStore(crpfStore))
	registry.OnDeregister(dispatcher.ReleaseConnection)
	validator, err := auth.NewJWTValidator(testSecret, "")
	require.NoError(t, err)

	deps := Deps{
		Connections:    usecase.NewConnectionUseCase(registry, registry, audience),
		Dispatcher:     dispatcher,
		Admin:          usecase.NewAdminUseCase(dispatcher),
		Crpf:           usecase.NewCrpfUseCase(crpfStore, dispatcher),
		Inbox:          usecase.NewInboxUseCase(store, 5),
		Validator:      validator,
		InternalAPIKey: internalKey,
		SendBuffer:     16,
		CommandTimeout: time.Second,
	}
	e := echo.New()
	e.HideBanner = true
	Register(e, deps)
	srv := httptest.NewServer(e)
	t.Cleanup(func() {
		registry.Close()
		srv.Close()
	})
	return &harness{srv: srv, deps: deps, registry: registry, store: store, audience: audience}
}

func token(t *testing.T, userID, role string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		Role:  role,
		City:  "Pune",
		State: "MH",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (h *harness) do(t *testing.T, method, path, bearer, body string, headers map[string]string) (*http.Response, string) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, string(data)
}

func TestHealthz(t *testing.T) {
	h := newHarness(t, "")
	res, body := h.do(t, http.MethodGet, "/healthz", "", "", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, body)
}

func TestNotificationRoutes(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	ev := domain.NewEvent(domain.PointsUpdate{UserID: "user-1", PointsEarned: 5, NewPoints: 20}, "test", time.Now())
	n := domain.NewNotification(ev, "user-1", time.Now())
	_, err := h.store.Save(ctx, n)
	require.NoError(t, err)
	userToken := token(t, "user-1", "user")

	res, _ := h.do(t, http.MethodGet, "/api/notifications/me", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	res, _ = h.do(t, http.MethodGet, "/api/notifications/me", "garbage", "", nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, body := h.do(t, http.MethodGet, "/api/notifications/me", userToken, "", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var page usecase.InboxPage
	require.NoError(t, json.Unmarshal([]byte(body), &page))
	assert.Equal(t, 1, page.UnreadCount)
	require.Len(t, page.Notifications, 1)
	assert.Equal(t, n.ID, page.Notifications[0].ID)

	res, _ = h.do(t, http.MethodPut, "/api/notifications/unknown/read", userToken, "", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	res, _ = h.do(t, http.MethodPut, "/api/notifications/"+n.ID+"/read", userToken, "", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, body = h.do(t, http.MethodPut, "/api/notifications/read-all", userToken, "", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"success":true,"updated":0}`, body)

	res, body = h.do(t, http.MethodGet, "/api/notifications/latest", "", "", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `[]`, body)
}

func TestCrpfRoutes(t *testing.T) {
	h := newHarness(t, "")
	adminToken := token(t, "admin-1", "admin")
	userToken := token(t, "user-1", "user")
	body := `{"disasterId":"d-1","title":"Flood","message":"Send boats","priority":"high"}`

	res, _ := h.do(t, http.MethodPost, "/api/crpf-notifications", userToken, body, nil)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	res, created := h.do(t, http.MethodPost, "/api/crpf-notifications", adminToken, body, nil)
	require.Equal(t, http.StatusCreated, res.StatusCode)
	var createdResp struct {
		CrpfNotification domain.CrpfNotification `json:"crpfNotification"`
	}
	require.NoError(t, json.Unmarshal([]byte(created), &createdResp))
	id := createdResp.CrpfNotification.ID
	require.NotEmpty(t, id)

	res, pending := h.do(t, http.MethodGet, "/api/crpf-notifications/pending", adminToken, "", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, pending, id)

	res, msg := h.do(t, http.MethodPut, "/api/crpf-notifications/"+id+"/status", adminToken, `{"status":"pending"}`, nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Contains(t, msg, "Only 'notified' status is allowed.")

	var ack struct {
		Changed          bool                    `json:"changed"`
		CrpfNotification domain.CrpfNotification `json:"crpfNotification"`
	}
	res, first := h.do(t, http.MethodPut, "/api/crpf-notifications/"+id+"/status", adminToken, `{"status":"notified"}`, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.NoError(t, json.Unmarshal([]byte(first), &ack))
	assert.True(t, ack.Changed)
	notifiedAt := ack.CrpfNotification.NotifiedAt

	res, second := h.do(t, http.MethodPut, "/api/crpf-notifications/"+id+"/status", adminToken, `{"status":"notified"}`, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.NoError(t, json.Unmarshal([]byte(second), &ack))
	assert.False(t, ack.Changed)
	require.NotNil(t, notifiedAt)
	assert.True(t, notifiedAt.Equal(*ack.CrpfNotification.NotifiedAt))

	res, _ = h.do(t, http.MethodGet, "/api/crpf-notifications/missing", adminToken, "", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestEventsRoute(t *testing.T) {
	h := newHarness(t, testInternalKey)
	key := map[string]string{internalKeyHeader: testInternalKey}
	valid := `{"kind":"points-update","payload":{"userId":"user-5","pointsEarned":10,"newPoints":110}}`

	res, _ := h.do(t, http.MethodPost, "/api/events", "", valid, nil)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	res, _ = h.do(t, http.MethodPost, "/api/events", "", valid, map[string]string{internalKeyHeader: "nope"})
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	res, _ = h.do(t, http.MethodPost, "/api/events", "", `{"kind":"weather","payload":{}}`, key)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	res, _ = h.do(t, http.MethodPost, "/api/events", "", `{"kind":"points-update","payload":{"pointsEarned":1}}`, key)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, body := h.do(t, http.MethodPost, "/api/events", "", valid, key)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var resp EventResponse
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, []string{"user-5"}, resp.Result.QueuedForOffline)

	closed := newHarness(t, "")
	res, _ = closed.do(t, http.MethodPost, "/api/events", "", valid, map[string]string{internalKeyHeader: ""})
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
}

func TestLiveFeedStreamsGlobalFrames(t *testing.T) {
	h := newHarness(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.srv.URL+"/api/live-feed", nil)
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, "text/event-stream", res.Header.Get(echo.HeaderContentType))
	require.Equal(t, 1, h.deps.Dispatcher.Subscriptions(domain.TopicGlobal))

	_, err = h.deps.Dispatcher.Dispatch(context.Background(), domain.NewEvent(domain.AdminBroadcast{Message: "drill"}, "test", time.Now()))
	require.NoError(t, err)

	lines := make(chan string, 8)
	go func() {
		scanner := bufio.NewScanner(res.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			require.True(t, ok, "stream ended early")
			if line == "event: "+domain.OutGlobalAlert {
				cancel()
				require.Eventually(t, func() bool {
					return h.deps.Dispatcher.Subscriptions(domain.TopicGlobal) == 0
				}, 2*time.Second, 10*time.Millisecond)
				return
			}
		case <-deadline:
			t.Fatal("no live feed frame")
		}
	}
}

func TestHealthzReportsStoreFailure(t *testing.T) {
	h := newHarness(t, "")
	e := echo.New()
	deps := h.deps
	deps.Health = func(context.Context) error { return domain.ErrStoreUnavailable }
	Register(e, deps)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	res, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
}

type partialDispatcher struct {
	seen []domain.Event
}

func (d *partialDispatcher) Dispatch(_ context.Context, ev domain.Event) (domain.DispatchResult, error) {
	d.seen = append(d.seen, ev)
	return domain.DispatchResult{
		EventID:          ev.ID,
		QueuedForOffline: []string{},
		StoreErr:         domain.ErrStoreUnavailable,
	}, nil
}

func TestEventsRouteTellsCallerWhichIDToResend(t *testing.T) {
	dispatcher := &partialDispatcher{}
	e := echo.New()
	e.POST("/api/events", NewEventsHTTPHandler(dispatcher))
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	post := func(body string) EventResponse {
		t.Helper()
		res, err := http.Post(srv.URL+"/api/events", echo.MIMEApplicationJSON, strings.NewReader(body))
		require.NoError(t, err)
		defer res.Body.Close()
		require.Equal(t, http.StatusAccepted, res.StatusCode)
		var resp EventResponse
		require.NoError(t, json.NewDecoder(res.Body).Decode(&resp))
		return resp
	}

	first := post(`{"kind":"admin-broadcast","payload":{"message":"Shelters open"}}`)
	require.NotEmpty(t, first.Result.EventID)
	assert.Contains(t, first.Warning, "result.eventId")
	require.Len(t, dispatcher.seen, 1)
	assert.Equal(t, first.Result.EventID, dispatcher.seen[0].ID)

	second := post(`{"id":"` + first.Result.EventID + `","kind":"admin-broadcast","payload":{"message":"Shelters open"}}`)
	assert.Equal(t, first.Result.EventID, second.Result.EventID)
}

type nopJoiner struct{}

func (nopJoiner) Join(context.Context, client.JoinCommand) error { return nil }

type discardSink struct{}

func (discardSink) Send(*domain.Message) bool { return true }
func (discardSink) Close()                    {}

func TestOfflineVolunteerRecoversLocalAlertOnReconnect(t *testing.T) {
	h := newHarness(t, testInternalKey)
	ctx := context.Background()
	mumbaiVol := domain.Identity{UserID: "vol-m", Role: domain.RoleVolunteer, Location: domain.Location{City: "Mumbai", State: "MH"}}

	_, err := h.deps.Connections.Connect(ctx, "c-vol-m", mumbaiVol, discardSink{})
	require.NoError(t, err)
	h.deps.Connections.Disconnect("c-vol-m")

	alert := `{"kind":"local_disaster_alert","payload":{"disasterId":"d-42","type":"flood","severity":"medium","location":{"city":"Mumbai","state":"MH"},"message":"Flooding in Andheri"}}`
	res, body := h.do(t, http.MethodPost, "/api/events", "", alert, map[string]string{internalKeyHeader: testInternalKey})
	require.Equal(t, http.StatusOK, res.StatusCode)
	var resp EventResponse
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	assert.Contains(t, resp.Result.QueuedForOffline, "vol-m")

	api := client.NewHTTPNotificationAPI(h.srv.URL, token(t, "vol-m", "volunteer"), time.Second, nil)
	rec := client.NewReconciler(mumbaiVol, api, nopJoiner{})
	require.NoError(t, rec.Connecting())
	require.NoError(t, rec.Connected(ctx))
	assert.Equal(t, client.StateSynced, rec.State())
	assert.Equal(t, 1, rec.UnreadCount())

	items := rec.Notifications()
	require.Len(t, items, 1)
	assert.Equal(t, domain.KindDisasterAlert, items[0].Type)
	assert.Equal(t, "Flooding in Andheri", items[0].Message)

	require.NoError(t, rec.Resync(ctx))
	assert.Equal(t, 1, rec.UnreadCount(), "a second fetch merges onto the same record")
}
