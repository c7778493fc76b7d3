package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	cws "github.com/coder/websocket"
	"github.com/jonboulle/clockwork"

	"taskreminder/internal/alarm"
	"taskreminder/internal/config"
	"taskreminder/internal/db"
	"taskreminder/internal/engine"
	"taskreminder/internal/events"
	"taskreminder/internal/logging"
	"taskreminder/internal/migrate"
	"taskreminder/internal/notify"
	"taskreminder/internal/repo"
)

type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
}

type testServer struct {
	URL    string
	Engine engine.Engine
	Clock  fakeClock
	Hub    *notify.Hub
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

var start = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, authCfg AuthConfig) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	clk := clockwork.NewFakeClockAt(start)
	hub := notify.NewHub()
	sched := alarm.New(alarm.Options{
		Store:    repo.Repo{DB: conn},
		Notifier: hub,
		Journal:  events.Journal{Writer: events.Writer{DB: conn, Now: clk.Now}},
		Clock:    clk,
		Logger:   logging.Discard(),
	})
	e := engine.New(conn, cfg, sched)
	e.Now = clk.Now
	e.Events.Now = clk.Now
	e.Logger = logging.Discard()
	handler, err := New(Config{Engine: e, BasePath: "/v1", Auth: authCfg, Hub: hub, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		Clock:  clk,
		Hub:    hub,
		client: &http.Client{},
		close: func() {
			sched.Close()
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("unmarshal %T: %v (%s)", v, err, string(data))
	}
	return v
}

func TestHealthReportsStats(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
	health := decode[HealthResponse](t, data)
	if health.Status != "ok" || health.Stats.Tasks != 0 {
		t.Fatalf("unexpected health: %+v", health)
	}
}

func TestTaskAlarmLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks", map[string]any{
		"title": "Stretch",
		"alarm": map[string]any{"enabled": true, "minutes": 5},
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	created := decode[TaskResponse](t, data)
	if created.AlarmState != alarm.StateArmed {
		t.Fatalf("expected armed alarm, got %q", created.AlarmState)
	}
	if created.AlarmDuration == nil || *created.AlarmDuration != 5*60*1000 {
		t.Fatalf("unexpected alarm duration %v", created.AlarmDuration)
	}

	srv.Clock.Advance(2 * time.Minute)
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks/"+created.ID+"/countdown", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("countdown status %d: %s", res.StatusCode, string(data))
	}
	cd := decode[CountdownResponse](t, data)
	if !cd.Available || cd.Display != "00:03:00" || cd.Label != "Time remaining" {
		t.Fatalf("unexpected countdown: %+v", cd)
	}

	// Changing only the minutes keeps the mode and re-arms from now.
	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v1/tasks/"+created.ID+"/alarm", map[string]any{
		"minutes": 1,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set alarm status %d: %s", res.StatusCode, string(data))
	}
	updated := decode[TaskResponse](t, data)
	if !updated.Alarm.Enabled || updated.Alarm.Minutes != 1 {
		t.Fatalf("unexpected alarm after patch: %+v", updated.Alarm)
	}

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/tasks/"+created.ID+"/alarm", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("disable status %d: %s", res.StatusCode, string(data))
	}
	disabled := decode[TaskResponse](t, data)
	if disabled.Alarm.Enabled || disabled.AlarmState != alarm.StateDisabled || disabled.AlarmTargetTimestamp != nil {
		t.Fatalf("unexpected disabled task: %+v", disabled)
	}
	if disabled.Alarm.Minutes != 1 {
		t.Fatalf("disable should keep alarm values, got %+v", disabled.Alarm)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/countdowns", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("countdowns status %d: %s", res.StatusCode, string(data))
	}
	if list := decode[[]CountdownResponse](t, data); len(list) != 0 {
		t.Fatalf("expected no countdowns, got %d", len(list))
	}
}

func TestListToggleAndDelete(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()

	var ids []string
	for _, title := range []string{"one", "two"} {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks", map[string]any{"title": title}, nil)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create %s status %d: %s", title, res.StatusCode, string(data))
		}
		ids = append(ids, decode[TaskResponse](t, data).ID)
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+ids[0]+"/toggle", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("toggle status %d: %s", res.StatusCode, string(data))
	}
	if !decode[TaskResponse](t, data).Completed {
		t.Fatalf("expected completed task")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks?status=open", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	open := decode[[]TaskResponse](t, data)
	if len(open) != 1 || open[0].ID != ids[1] {
		t.Fatalf("unexpected open tasks: %+v", open)
	}

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/tasks/"+ids[1], nil, nil)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks/"+ids[1], nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d: %s", res.StatusCode, string(data))
	}
	if !strings.Contains(string(data), `"code":"not_found"`) {
		t.Fatalf("expected error envelope, got %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/tasks", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("clear status %d: %s", res.StatusCode, string(data))
	}
	if got := decode[DeletedResponse](t, data).Deleted; got != 1 {
		t.Fatalf("expected 1 deleted, got %d", got)
	}
}

func TestSetAlarmUnknownTask(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v1/tasks/missing/alarm", map[string]any{"enabled": true, "seconds": 10}, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
}

func TestCreateTaskRequiresTitle(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/tasks", map[string]any{"title": "   "}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", res.StatusCode, string(data))
	}
}

func TestEventsPagination(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()

	for _, title := range []string{"a", "b", "c"} {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks", map[string]any{"title": title}, map[string]string{"X-Actor-Id": "alice"})
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create status %d: %s", res.StatusCode, string(data))
		}
	}
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/events?type=task.created&limit=2", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	page := decode[paginatedEvents](t, data)
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("unexpected first page: %+v", page)
	}
	if page.Items[0].ActorID != "alice" || page.Items[0].Payload["title"] != "c" {
		t.Fatalf("unexpected newest event: %+v", page.Items[0])
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/events?type=task.created&limit=2&cursor="+page.NextCursor, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events page 2 status %d: %s", res.StatusCode, string(data))
	}
	page = decode[paginatedEvents](t, data)
	if len(page.Items) != 1 || page.NextCursor != "" || page.Items[0].Payload["title"] != "a" {
		t.Fatalf("unexpected second page: %+v", page)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/events?cursor=abc", nil, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad cursor, got %d: %s", res.StatusCode, string(data))
	}
}

func TestAuthRequired(t *testing.T) {
	const secret = "test-secret"
	srv, cleanup := newTestServer(t, AuthConfig{JWTSecret: secret, Required: true})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health must stay public, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi must stay public, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", res.StatusCode)
	}

	token, err := IssueToken(secret, "bob", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	bearer := map[string]string{"Authorization": "Bearer " + token}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks", map[string]any{"title": "secured"}, bearer)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create with token status %d: %s", res.StatusCode, string(data))
	}
	evts, err := srv.Engine.Repo.LatestEvents(context.Background(), repo.EventFilters{Type: "task.created"})
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evts) != 1 || evts[0].ActorID != "bob" {
		t.Fatalf("expected event by bob, got %+v", evts)
	}

	_, plaintext, err := srv.Engine.CreateAPIKey(context.Background(), "carol", "ci")
	if err != nil {
		t.Fatalf("create api key: %v", err)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks", nil, map[string]string{"X-Api-Key": plaintext})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list with api key status %d: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks", nil, map[string]string{"X-Api-Key": "trk_bogus"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown api key, got %d", res.StatusCode)
	}
}

func TestDevLogin(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{JWTSecret: "dev-secret"})
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{"actor_id": "dana"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	token := decode[IssueTokenResponse](t, data).Token
	p, err := authenticateJWT(token, "dev-secret")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if p.ActorID != "dana" {
		t.Fatalf("expected dana, got %q", p.ActorID)
	}
}

func TestOpenAPIDeclaresSecurity(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi status %d", res.StatusCode)
	}
	for _, want := range []string{`"bearerAuth"`, `"apiKeyAuth"`, `"/v1/tasks/{task_id}/alarm"`} {
		if !strings.Contains(string(data), want) {
			t.Fatalf("openapi missing %s", want)
		}
	}
}

func TestStreamDeliversFiredAlarms(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/stream"
	conn, _, err := cws.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer conn.Close(cws.StatusNormalClosure, "")

	deadline := time.Now().Add(2 * time.Second)
	for srv.Hub.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("stream never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/tasks", map[string]any{
		"title": "Tea",
		"alarm": map[string]any{"enabled": true, "seconds": 30},
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	taskID := decode[TaskResponse](t, data).ID
	// the timer fires on its own goroutine; the read below waits for it
	srv.Clock.Advance(30 * time.Second)

	_, msg, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("websocket read failed: %v", err)
	}
	got := decode[StreamMessage](t, msg)
	if got.Type != "alarm-triggered" || got.Notification.TaskID != taskID {
		t.Fatalf("unexpected stream message: %+v", got)
	}
	if got.Notification.Message != "Time's up for: Tea" {
		t.Fatalf("unexpected message %q", got.Notification.Message)
	}
}
