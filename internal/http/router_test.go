package http

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	appconfig "github.com/saker-ai/openclaw-gateway/internal/config"
	"github.com/saker-ai/openclaw-gateway/internal/gateway"
	"github.com/saker-ai/openclaw-gateway/internal/ratelimit"
	"github.com/saker-ai/openclaw-gateway/internal/security"
	"github.com/saker-ai/openclaw-gateway/internal/storage"
	"github.com/saker-ai/openclaw-gateway/internal/ws"
)

const testToken = "test-token"

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type countingBroadcaster struct {
	mu     sync.Mutex
	frames []string
}

func (b *countingBroadcaster) Broadcast(_ string, payload any) int {
	data, _ := json.Marshal(payload)
	b.mu.Lock()
	b.frames = append(b.frames, string(data))
	b.mu.Unlock()
	return 1
}

func (b *countingBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

type fixture struct {
	router      *gin.Engine
	broadcaster *countingBroadcaster
	clock       *time.Time
	file        *storage.ControlFile
}

func newFixture(t *testing.T, mutate func(*appconfig.Config)) *fixture {
	t.Helper()
	return newFixtureWithLogger(t, mutate, zap.NewNop())
}

func newFixtureWithLogger(t *testing.T, mutate func(*appconfig.Config), logger *zap.Logger) *fixture {
	t.Helper()
	cfg := appconfig.Config{
		Control: appconfig.ControlConfig{
			Token:          testToken,
			AllowedOrigins: security.DefaultAllowedOrigins,
			RateLimit:      30,
			RateWindow:     time.Minute,
			MaxBodyBytes:   4096,
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	now := time.Unix(1_700_000_000, 0)
	f := &fixture{broadcaster: &countingBroadcaster{}, clock: &now}
	file, err := storage.NewControlFile(filepath.Join(t.TempDir(), storage.DefaultControlFileName))
	if err != nil {
		t.Fatalf("NewControlFile error: %v", err)
	}
	f.file = file
	characters, err := appconfig.LoadCharacters("")
	if err != nil {
		t.Fatalf("LoadCharacters error: %v", err)
	}

	hub := ws.NewHandler(zap.NewNop(), security.NewOriginPolicy(cfg.Control.AllowedOrigins))
	t.Cleanup(hub.Close)
	f.router = NewRouter(cfg, Deps{
		Gateway:     gateway.New(f.broadcaster, zap.NewNop()),
		Hub:         hub,
		Limiter:     ratelimit.New(cfg.Control.RateLimit, cfg.Control.RateWindow, ratelimit.WithClock(func() time.Time { return *f.clock })),
		ControlFile: file,
		Characters:  characters,
	}, logger)
	return f
}

func (f *fixture) post(body io.Reader, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/control", body)
	req.RemoteAddr = "192.0.2.10:4567"
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func authed() map[string]string {
	return map[string]string{"Authorization": "Bearer " + testToken}
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response %q is not json: %v", rec.Body.String(), err)
	}
	return body.Error
}

func TestControlAcceptsValidCommand(t *testing.T) {
	f := newFixture(t, nil)
	headers := authed()
	headers["Origin"] = "http://127.0.0.1:5173"
	rec := f.post(strings.NewReader(`{"command":"setMood","value":"excited","id":"ok1"}`), headers)

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s, want 200", rec.Code, rec.Body.String())
	}
	if strings.TrimSpace(rec.Body.String()) != `{"ok":true}` {
		t.Fatalf("body=%s, want {\"ok\":true}", rec.Body.String())
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://127.0.0.1:5173" {
		t.Fatalf("Access-Control-Allow-Origin=%q", got)
	}
	if f.broadcaster.count() != 1 {
		t.Fatalf("broadcasts=%d, want 1", f.broadcaster.count())
	}
}

func TestControlRequiresBearerToken(t *testing.T) {
	f := newFixture(t, nil)
	body := `{"command":"setMood","value":"excited"}`
	for _, headers := range []map[string]string{
		nil,
		{"Authorization": "Bearer wrong"},
		{"Authorization": testToken},
		{"Authorization": "Basic " + testToken},
	} {
		rec := f.post(strings.NewReader(body), headers)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("headers=%v status=%d, want 401", headers, rec.Code)
		}
		if got := errorOf(t, rec); got != "Unauthorized" {
			t.Fatalf("error=%q, want Unauthorized", got)
		}
	}
	if f.broadcaster.count() != 0 {
		t.Fatalf("broadcasts=%d, want 0", f.broadcaster.count())
	}
}

func TestControlRejectsDisallowedOrigin(t *testing.T) {
	f := newFixture(t, nil)
	headers := authed()
	headers["Origin"] = "http://evil.example"
	rec := f.post(strings.NewReader(`{"command":"setMood","value":"calm"}`), headers)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status=%d, want 403", rec.Code)
	}
	if f.broadcaster.count() != 0 {
		t.Fatal("command from disallowed origin was broadcast")
	}
}

func TestControlRejectsOversizedBodyBeforeParsing(t *testing.T) {
	f := newFixture(t, nil)
	// Invalid JSON: a parse attempt would produce 400, not 413.
	oversized := "{" + strings.Repeat("x", 5000)

	rec := f.post(strings.NewReader(oversized), authed())
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("sized body status=%d, want 413", rec.Code)
	}
	if got := errorOf(t, rec); got != "Payload too large" {
		t.Fatalf("error=%q", got)
	}

	// Without Content-Length the cap is enforced while reading.
	rec = f.post(io.MultiReader(strings.NewReader(oversized)), authed())
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("streamed body status=%d, want 413", rec.Code)
	}
	if f.broadcaster.count() != 0 {
		t.Fatal("oversized command was broadcast")
	}
}

func TestControlValidationReasons(t *testing.T) {
	f := newFixture(t, nil)
	cases := []struct {
		body string
		want string
	}{
		{`not json`, "Invalid JSON"},
		{`{"command":"dance","value":1}`, "Invalid command"},
		{`{"command":"setIntensity","value":2.1}`, "Invalid value for command"},
		{`{"command":"setMood","value":"angry"}`, "Invalid value for command"},
		{`{"command":"setMood","value":"calm","id":42}`, "id must be a string"},
	}
	for _, tc := range cases {
		rec := f.post(strings.NewReader(tc.body), authed())
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body=%s status=%d, want 400", tc.body, rec.Code)
		}
		if got := errorOf(t, rec); got != tc.want {
			t.Fatalf("body=%s error=%q, want %q", tc.body, got, tc.want)
		}
	}
	if f.broadcaster.count() != 0 {
		t.Fatal("invalid command was broadcast")
	}
}

func TestControlRateLimitPerWindow(t *testing.T) {
	f := newFixture(t, nil)
	body := `{"command":"setIsThinking","value":true}`

	for i := 1; i <= 30; i++ {
		if rec := f.post(strings.NewReader(body), authed()); rec.Code != http.StatusOK {
			t.Fatalf("request %d status=%d, want 200", i, rec.Code)
		}
	}
	rec := f.post(strings.NewReader(body), authed())
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("request 31 status=%d, want 429", rec.Code)
	}
	if got := errorOf(t, rec); got != "Too many requests" {
		t.Fatalf("error=%q", got)
	}

	*f.clock = f.clock.Add(time.Minute + time.Second)
	if rec := f.post(strings.NewReader(body), authed()); rec.Code != http.StatusOK {
		t.Fatalf("request after window status=%d, want 200", rec.Code)
	}
}

func TestControlDuplicateIDAcceptedOnce(t *testing.T) {
	f := newFixture(t, nil)
	body := `{"command":"setActiveCharacterId","value":"happy-idle","id":"a1"}`
	for i := 0; i < 2; i++ {
		if rec := f.post(strings.NewReader(body), authed()); rec.Code != http.StatusOK {
			t.Fatalf("post %d status=%d, want 200", i, rec.Code)
		}
	}
	if f.broadcaster.count() != 1 {
		t.Fatalf("broadcasts=%d, want 1", f.broadcaster.count())
	}
}

func TestControlPreflight(t *testing.T) {
	f := newFixture(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/control", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status=%d, want 204", rec.Code)
	}
	h := rec.Header()
	if got := h.Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Fatalf("Access-Control-Allow-Origin=%q, want first allowed origin", got)
	}
	if h.Get("Access-Control-Allow-Methods") != "POST" || h.Get("Vary") != "Origin" {
		t.Fatalf("headers=%v", h)
	}
	if h.Get("Access-Control-Allow-Headers") != "Content-Type, Authorization" {
		t.Fatalf("Access-Control-Allow-Headers=%q", h.Get("Access-Control-Allow-Headers"))
	}
}

func TestControlFileIsPollable(t *testing.T) {
	f := newFixture(t, nil)
	get := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/openclaw-control.json", nil))
		return rec
	}

	if rec := get(); rec.Code != http.StatusNotFound {
		t.Fatalf("missing file status=%d, want 404", rec.Code)
	}
	if err := f.file.Write(map[string]any{"command": "setMood", "value": "thinking"}); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	rec := get()
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("Cache-Control=%q, want no-store", rec.Header().Get("Cache-Control"))
	}
	if !strings.Contains(rec.Body.String(), `"thinking"`) {
		t.Fatalf("body=%s", rec.Body.String())
	}
}

func TestCharactersAndHealth(t *testing.T) {
	f := newFixture(t, nil)

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/characters", nil))
	var catalog struct {
		Characters []appconfig.Character `json:"characters"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &catalog); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if len(catalog.Characters) != 2 || catalog.Characters[1].ID != "base-sphere" {
		t.Fatalf("characters=%+v", catalog.Characters)
	}

	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("health status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestUpstreamProxyAllowList(t *testing.T) {
	var hits []string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits = append(hits, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer upstream.Close()

	f := newFixture(t, func(cfg *appconfig.Config) {
		cfg.Proxy = appconfig.ProxyConfig{
			Enabled:      true,
			Target:       upstream.URL,
			AllowedPaths: []string{"/v1/chat/completions", "/v1/models"},
		}
	})

	serve := func(method, path string) int {
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
		return rec.Code
	}
	if code := serve(http.MethodGet, "/v1/models"); code != http.StatusOK {
		t.Fatalf("GET /v1/models status=%d, want 200", code)
	}
	if code := serve(http.MethodPost, "/v1/admin/keys"); code != http.StatusNotFound {
		t.Fatalf("POST /v1/admin/keys status=%d, want 404", code)
	}
	if code := serve(http.MethodGet, "/v1/models/../admin"); code != http.StatusNotFound {
		t.Fatalf("traversal status=%d, want 404", code)
	}
	if len(hits) != 1 || hits[0] != "/v1/models" {
		t.Fatalf("upstream hits=%v, want [/v1/models]", hits)
	}
}

func TestRequestLoggerLevels(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	f := newFixtureWithLogger(t, nil, zap.New(core))

	f.router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	f.post(strings.NewReader(`{"command":"setMood","value":"calm"}`), authed())

	entries := logs.FilterMessage("http request").All()
	if len(entries) != 2 {
		t.Fatalf("http request entries=%d, want 2", len(entries))
	}
	if entries[0].Level != zap.DebugLevel || entries[0].ContextMap()["path"] != "/health" {
		t.Fatalf("poll entry level=%v fields=%v, want debug /health", entries[0].Level, entries[0].ContextMap())
	}
	if entries[1].Level != zap.InfoLevel || entries[1].ContextMap()["status"] != int64(http.StatusOK) {
		t.Fatalf("post entry level=%v fields=%v, want info 200", entries[1].Level, entries[1].ContextMap())
	}
}

func TestNewRouterWithoutLogger(t *testing.T) {
	f := newFixtureWithLogger(t, nil, nil)
	rec := f.post(strings.NewReader(`{"command":"setMood","value":"calm"}`), authed())
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
}
