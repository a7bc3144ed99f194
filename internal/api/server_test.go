package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-fleet/internal/action"
	"github.com/nerrad567/gray-logic-fleet/internal/audit"
	"github.com/nerrad567/gray-logic-fleet/internal/device"
	"github.com/nerrad567/gray-logic-fleet/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-fleet/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-fleet/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-fleet/internal/orchestrator"
	"github.com/nerrad567/gray-logic-fleet/internal/query"
	_ "github.com/nerrad567/gray-logic-fleet/migrations"
)

// acceptingExecutor accepts every dispatch and leaves the outcome to the
// test.
type acceptingExecutor struct {
	typ action.Type
}

func (e acceptingExecutor) Type() action.Type { return e.typ }

func (e acceptingExecutor) Dispatch(context.Context, *action.Action, orchestrator.Reporter) error {
	return nil
}

type testEnv struct {
	srv    *Server
	router http.Handler
	orch   *orchestrator.Orchestrator
	ledger *action.Ledger
	trail  *audit.Trail
}

// testServer creates a Server over real services backed by a temp SQLite
// file.
func testServer(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{Path: filepath.Join(t.TempDir(), "fleet.db")})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	wsCfg := config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}

	hub := NewHub(wsCfg, log)
	hubCtx, cancelHub := context.WithCancel(context.Background())
	go hub.Run(hubCtx)
	t.Cleanup(cancelHub)

	devices := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	if err := devices.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}
	ledger := action.NewLedger(action.NewSQLiteRepository(db.DB), devices, nil)

	auditRepo := audit.NewSQLiteRepository(db.DB)
	trail := audit.NewTrail(auditRepo, "test", 0)
	trail.Start()
	t.Cleanup(trail.Close)

	orch, err := orchestrator.New(orchestrator.Deps{
		Devices: devices,
		Ledger:  ledger,
		Executors: []orchestrator.Executor{
			acceptingExecutor{typ: action.TypeSoftwareUpdate},
			acceptingExecutor{typ: action.TypeReboot},
		},
		Hub:    hub,
		Audit:  trail,
		Config: orchestrator.Config{ActionTimeout: time.Hour},
	})
	if err != nil {
		t.Fatalf("orchestrator.New() error = %v", err)
	}
	t.Cleanup(func() { orch.Close() })

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS:           wsCfg,
		Logger:       log,
		Orchestrator: orch,
		Query:        query.NewService(devices, ledger),
		Audit:        auditRepo,
		DB:           db,
		Hub:          hub,
		Version:      "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	return &testEnv{srv: srv, router: srv.Handler(), orch: orch, ledger: ledger, trail: trail}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

type deviceList struct {
	Devices []device.Device `json:"devices"`
	Count   int             `json:"count"`
}

type actionList struct {
	Actions []action.Action `json:"actions"`
	Count   int             `json:"count"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return v
}

// waitForStatus polls GET /actions/{id} until the action reaches want.
func (e *testEnv) waitForStatus(t *testing.T, id string, want action.Status) action.Action {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		w := e.do(t, http.MethodGet, "/api/v1/actions/"+id, "")
		if w.Code != http.StatusOK {
			t.Fatalf("GET action status = %d; body: %s", w.Code, w.Body.String())
		}
		a := decode[action.Action](t, w)
		if a.Status == want {
			return a
		}
		if time.Now().After(deadline) {
			t.Fatalf("action %s status = %s, want %s", id, a.Status, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ─── Health & Middleware ───────────────────────────────────────────

func TestHealth(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	resp := decode[HealthStatus](t, w)
	if resp.Status != "ok" || resp.Version != "test" {
		t.Errorf("health = %+v", resp)
	}
	if resp.Components["database"] != "ok" {
		t.Errorf("database = %q, want ok", resp.Components["database"])
	}
}

func TestRequestID(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/health", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want client-123", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := testServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/devices", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want http://localhost:3000", got)
	}
}

func TestNotFoundRoute(t *testing.T) {
	env := testServer(t)
	if w := env.do(t, http.MethodGet, "/api/v1/nonexistent", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want 404", w.Code)
	}
}

// ─── Devices ───────────────────────────────────────────────────────

func TestRegisterAndGetDevice(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodPost, "/api/v1/devices", `{"device_id":"dev-1","status":"IDLE","metadata":{"model":"rpi4"}}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("register status = %d, want 201; body: %s", w.Code, w.Body.String())
	}
	created := decode[device.Device](t, w)
	if created.ID != "dev-1" || created.Status != device.StatusIdle || created.Metadata["model"] != "rpi4" {
		t.Errorf("created = %+v", created)
	}

	w = env.do(t, http.MethodGet, "/api/v1/devices/dev-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", w.Code)
	}
	first := w.Body.String()
	if second := env.do(t, http.MethodGet, "/api/v1/devices/dev-1", "").Body.String(); first != second {
		t.Errorf("repeated reads differ:\n%s\n%s", first, second)
	}

	w = env.do(t, http.MethodPost, "/api/v1/devices", `{"device_id":"dev-1"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate register status = %d, want 409", w.Code)
	}
	if resp := decode[Error](t, w); resp.Code != ErrCodeAlreadyExists {
		t.Errorf("code = %q, want %q", resp.Code, ErrCodeAlreadyExists)
	}
}

func TestRegisterDevice_Invalid(t *testing.T) {
	env := testServer(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"empty id", `{"device_id":""}`, http.StatusBadRequest},
		{"busy status", `{"device_id":"dev-1","status":"BUSY"}`, http.StatusBadRequest},
		{"unknown status", `{"device_id":"dev-1","status":"ASLEEP"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := env.do(t, http.MethodPost, "/api/v1/devices", tt.body); w.Code != tt.want {
				t.Errorf("status = %d, want %d; body: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestGetDevice_NotFound(t *testing.T) {
	env := testServer(t)
	w := env.do(t, http.MethodGet, "/api/v1/devices/ghost", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if resp := decode[Error](t, w); resp.Code != ErrCodeNotFound {
		t.Errorf("code = %q, want not_found", resp.Code)
	}
}

func TestListDevices(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/devices", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if resp := decode[map[string]any](t, w); resp["count"] != float64(0) {
		t.Errorf("count = %v, want 0", resp["count"])
	}

	for _, id := range []string{"dev-b", "dev-a"} {
		env.do(t, http.MethodPost, "/api/v1/devices", `{"device_id":"`+id+`"}`)
	}

	resp := decode[deviceList](t, env.do(t, http.MethodGet, "/api/v1/devices", ""))
	if resp.Count != 2 || resp.Devices[0].ID != "dev-a" || resp.Devices[1].ID != "dev-b" {
		t.Errorf("devices = %+v", resp)
	}
}

func TestSetDeviceStatus(t *testing.T) {
	env := testServer(t)
	env.do(t, http.MethodPost, "/api/v1/devices", `{"device_id":"dev-1"}`)

	w := env.do(t, http.MethodPut, "/api/v1/devices/dev-1/status", `{"status":"OFFLINE"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
	if d := decode[device.Device](t, w); d.Status != device.StatusOffline {
		t.Errorf("Status = %s, want OFFLINE", d.Status)
	}

	w = env.do(t, http.MethodPost, "/api/v1/devices/dev-1/actions", `{"action_type":"REBOOT"}`)
	if w.Code != http.StatusConflict || decode[Error](t, w).Code != ErrCodeDeviceOffline {
		t.Errorf("initiate on offline = %d %s, want 409 device_offline", w.Code, w.Body.String())
	}

	if w := env.do(t, http.MethodPut, "/api/v1/devices/dev-1/status", `{"status":"BUSY"}`); w.Code != http.StatusBadRequest {
		t.Errorf("set BUSY status = %d, want 400", w.Code)
	}
	if w := env.do(t, http.MethodPut, "/api/v1/devices/ghost/status", `{"status":"IDLE"}`); w.Code != http.StatusNotFound {
		t.Errorf("unknown device status = %d, want 404", w.Code)
	}
}

// ─── Actions ───────────────────────────────────────────────────────

func TestActionLifecycle(t *testing.T) {
	env := testServer(t)
	env.do(t, http.MethodPost, "/api/v1/devices", `{"device_id":"dev-1","status":"IDLE"}`)

	w := env.do(t, http.MethodPost, "/api/v1/devices/dev-1/actions", `{"action_type":"SOFTWARE_UPDATE","params":{"version":"2.0"}}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("initiate status = %d, want 202; body: %s", w.Code, w.Body.String())
	}
	created := decode[action.Action](t, w)
	if created.ID == "" || created.Status != action.StatusPending {
		t.Errorf("created = %+v, want PENDING with an ID", created)
	}
	if loc := w.Header().Get("Location"); loc != "/api/v1/actions/"+created.ID {
		t.Errorf("Location = %q", loc)
	}

	dev := decode[device.Device](t, env.do(t, http.MethodGet, "/api/v1/devices/dev-1", ""))
	if dev.Status != device.StatusBusy {
		t.Errorf("device status = %s, want BUSY", dev.Status)
	}

	w = env.do(t, http.MethodPost, "/api/v1/devices/dev-1/actions", `{"action_type":"REBOOT"}`)
	if w.Code != http.StatusConflict || decode[Error](t, w).Code != ErrCodeDeviceBusy {
		t.Errorf("second initiate = %d %s, want 409 device_busy", w.Code, w.Body.String())
	}

	env.waitForStatus(t, created.ID, action.StatusRunning)

	w = env.do(t, http.MethodPost, "/api/v1/actions/"+created.ID+"/outcome", `{"success":true,"message":"updated"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("outcome status = %d, want 200; body: %s", w.Code, w.Body.String())
	}

	done := env.waitForStatus(t, created.ID, action.StatusCompleted)
	if done.Result != "updated" || done.Params["version"] != "2.0.0" {
		t.Errorf("done = %+v", done)
	}
	dev = decode[device.Device](t, env.do(t, http.MethodGet, "/api/v1/devices/dev-1", ""))
	if dev.Status != device.StatusIdle {
		t.Errorf("device status = %s, want IDLE", dev.Status)
	}

	w = env.do(t, http.MethodPost, "/api/v1/actions/"+created.ID+"/outcome", `{"success":false}`)
	if w.Code != http.StatusConflict || decode[Error](t, w).Code != ErrCodeInvalidTransition {
		t.Errorf("late outcome = %d %s, want 409 invalid_transition", w.Code, w.Body.String())
	}

	history := decode[actionList](t, env.do(t, http.MethodGet, "/api/v1/devices/dev-1/actions", ""))
	if history.Count != 1 || history.Actions[0].ID != created.ID {
		t.Errorf("history = %+v", history)
	}
}

func TestInitiateAction_Errors(t *testing.T) {
	env := testServer(t)
	env.do(t, http.MethodPost, "/api/v1/devices", `{"device_id":"dev-1"}`)

	tests := []struct {
		name     string
		path     string
		body     string
		wantCode int
		wantErr  string
	}{
		{"unknown device", "/api/v1/devices/ghost/actions", `{"action_type":"REBOOT"}`, http.StatusNotFound, ErrCodeNotFound},
		{"unknown type", "/api/v1/devices/dev-1/actions", `{"action_type":"FORMAT"}`, http.StatusBadRequest, ErrCodeInvalidArgument},
		{"missing version", "/api/v1/devices/dev-1/actions", `{"action_type":"SOFTWARE_UPDATE"}`, http.StatusBadRequest, ErrCodeInvalidArgument},
		{"bad json", "/api/v1/devices/dev-1/actions", `{`, http.StatusBadRequest, ErrCodeBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, tt.path, tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d; body: %s", w.Code, tt.wantCode, w.Body.String())
			}
			if got := decode[Error](t, w).Code; got != tt.wantErr {
				t.Errorf("code = %q, want %q", got, tt.wantErr)
			}
		})
	}
}

func TestGetAction_NotFound(t *testing.T) {
	env := testServer(t)
	w := env.do(t, http.MethodGet, "/api/v1/actions/does-not-exist", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/devices/ghost/actions", ""); w.Code != http.StatusNotFound {
		t.Errorf("history of unknown device = %d, want 404", w.Code)
	}
}

func TestListActionTypes(t *testing.T) {
	env := testServer(t)
	resp := decode[map[string]any](t, env.do(t, http.MethodGet, "/api/v1/actions/types", ""))
	if resp["count"] != float64(2) {
		t.Errorf("count = %v, want 2", resp["count"])
	}
}

// ─── Audit & Metrics ───────────────────────────────────────────────

func TestListAudit(t *testing.T) {
	env := testServer(t)
	env.do(t, http.MethodPost, "/api/v1/devices", `{"device_id":"dev-1"}`)
	env.do(t, http.MethodPost, "/api/v1/devices/dev-1/actions", `{"action_type":"REBOOT"}`)

	var result audit.ListResult
	deadline := time.Now().Add(5 * time.Second)
	for {
		w := env.do(t, http.MethodGet, "/api/v1/audit?entity_type=device", "")
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
		}
		result = decode[audit.ListResult](t, w)
		if result.Total >= 1 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if result.Total != 1 || result.Entries[0].Event != orchestrator.AuditDeviceRegistered {
		t.Errorf("audit = %+v", result)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/audit?limit=lots", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", w.Code)
	}
}

func TestMetrics(t *testing.T) {
	env := testServer(t)
	env.do(t, http.MethodPost, "/api/v1/devices", `{"device_id":"dev-1"}`)
	env.do(t, http.MethodPost, "/api/v1/devices/dev-1/actions", `{"action_type":"REBOOT"}`)

	w := env.do(t, http.MethodGet, "/api/v1/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	m := decode[SystemMetrics](t, w)
	if m.Devices.Total != 1 || m.Devices.ByStatus["BUSY"] != 1 {
		t.Errorf("devices = %+v", m.Devices)
	}
	if m.Actions.ActiveActions != 1 {
		t.Errorf("active actions = %d, want 1", m.Actions.ActiveActions)
	}
	if m.Database == nil {
		t.Error("database metrics missing")
	}
	if m.Version != "test" || m.Runtime.Goroutines == 0 {
		t.Errorf("metrics = %+v", m)
	}
}

// ─── Lifecycle ─────────────────────────────────────────────────────

func TestServer_StartClose(t *testing.T) {
	env := testServer(t)

	if err := env.srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if err := env.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := env.srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	resp, err := http.Get("http://" + env.srv.Addr() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	if err := env.srv.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := env.srv.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	log := logging.Default()
	if _, err := New(Deps{Logger: log}); err == nil {
		t.Error("New() without orchestrator should fail")
	}
	if _, err := New(Deps{}); err == nil {
		t.Error("New() without logger should fail")
	}
}

// ─── WebSocket ─────────────────────────────────────────────────────

func TestWebSocket_ActionEvents(t *testing.T) {
	env := testServer(t)
	ts := httptest.NewServer(env.router)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	ws, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	defer ws.Close()

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{"action.status_changed"}},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck // test deadline
	var ack WSMessage
	if err := ws.ReadJSON(&ack); err != nil {
		t.Fatalf("read subscribe response: %v", err)
	}
	if ack.Type != WSTypeResponse || ack.ID != "sub-1" {
		t.Errorf("ack = %+v", ack)
	}

	env.do(t, http.MethodPost, "/api/v1/devices", `{"device_id":"dev-1"}`)
	env.do(t, http.MethodPost, "/api/v1/devices/dev-1/actions", `{"action_type":"REBOOT"}`)

	var event WSMessage
	if err := ws.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if event.Type != WSTypeEvent || event.EventType != "action.status_changed" {
		t.Errorf("event = %+v", event)
	}
	if event.Seq == 0 {
		t.Error("event Seq = 0, want a sequence number")
	}
	payload, ok := event.Payload.(map[string]any)
	if !ok || payload["status"] != "PENDING" || payload["device_id"] != "dev-1" {
		t.Errorf("payload = %v", event.Payload)
	}
}

func TestWebSocket_PingAndUnknownType(t *testing.T) {
	env := testServer(t)
	ts := httptest.NewServer(env.router)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer ws.Close()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck // test deadline

	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "p-1"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	var pong WSMessage
	if err := ws.ReadJSON(&pong); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if pong.Type != WSTypePong || pong.ID != "p-1" {
		t.Errorf("pong = %+v", pong)
	}

	if err := ws.WriteJSON(WSMessage{Type: "shout", ID: "x-1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var errMsg WSMessage
	if err := ws.ReadJSON(&errMsg); err != nil {
		t.Fatalf("read error: %v", err)
	}
	if errMsg.Type != WSTypeError {
		t.Errorf("type = %q, want error", errMsg.Type)
	}

	deadline := time.Now().Add(time.Second)
	for env.srv.hub.ClientCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if env.srv.hub.ClientCount() != 1 {
		t.Errorf("ClientCount() = %d, want 1", env.srv.hub.ClientCount())
	}
}
