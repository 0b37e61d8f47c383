package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/eventshot/internal/orchestrator"
	"github.com/MeKo-Tech/eventshot/internal/pipeline"
)

type fakeStatus struct {
	stats  orchestrator.StatsSnapshot
	items  []orchestrator.WorkItem
	active int
}

func (f *fakeStatus) Stats() orchestrator.StatsSnapshot { return f.stats }
func (f *fakeStatus) Items() []orchestrator.WorkItem    { return f.items }
func (f *fakeStatus) Active() int                       { return f.active }

func newTestServer(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	status := &fakeStatus{
		stats: orchestrator.StatsSnapshot{Discovered: 3, Delivered: 1, Failed: 1},
		items: []orchestrator.WorkItem{
			{ID: "a", Path: "/in/a.jpg", Stage: pipeline.Discovered},
			{ID: "b", Path: "/in/b.jpg", Stage: pipeline.Cropping},
		},
		active: 1,
	}
	s := NewServer(cfg, status, "test", slog.New(slog.NewTextHandler(io.Discard, nil)))
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return s, ts
}

func TestHandlers(t *testing.T) {
	_, ts := newTestServer(t, DefaultConfig())

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"health", http.MethodGet, "/health", http.StatusOK, `"status":"healthy"`},
		{"health wrong method", http.MethodPost, "/health", http.StatusMethodNotAllowed, "Method not allowed"},
		{"stats", http.MethodGet, "/stats", http.StatusOK, `"discovered":3`},
		{"items", http.MethodGet, "/items", http.StatusOK, `"count":2`},
		{"items by stage", http.MethodGet, "/items?stage=cropping", http.StatusOK, `"count":1`},
		{"items bad stage", http.MethodGet, "/items?stage=printing", http.StatusBadRequest, "error"},
		{"preflight", http.MethodOptions, "/stats", http.StatusOK, ""},
		{"metrics", http.MethodGet, "/metrics", http.StatusOK, "go_goroutines"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, ts.URL+tt.path, nil)
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Contains(t, string(body), tt.wantBody)
		})
	}
}

func TestItemsHandler_DecodesStages(t *testing.T) {
	_, ts := newTestServer(t, DefaultConfig())
	resp, err := http.Get(ts.URL + "/items?stage=discovered")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var out ItemsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Items, 1)
	assert.Equal(t, "a", out.Items[0].ID)
	assert.Equal(t, pipeline.Discovered, out.Items[0].Stage)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestRateLimitMiddleware(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit = RateLimitConfig{Enabled: true, RequestsPerMinute: 2}
	_, ts := newTestServer(t, cfg)

	codes := make([]int, 0, 3)
	for range 3 {
		resp, err := http.Get(ts.URL + "/stats")
		require.NoError(t, err)
		codes = append(codes, resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests {
			assert.Equal(t, "2", resp.Header.Get("X-RateLimit-Limit"))
			assert.NotEmpty(t, resp.Header.Get("Retry-After"))
		}
		_ = resp.Body.Close()
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// health is never limited
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRateLimiter_Windows(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	now := time.Unix(1700000000, 0)
	rl.now = func() time.Time { return now }

	require.NoError(t, rl.Allow("a"))
	require.Error(t, rl.Allow("a"))
	require.NoError(t, rl.Allow("b"), "clients are counted separately")

	now = now.Add(time.Minute)
	require.NoError(t, rl.Allow("a"))

	now = now.Add(time.Minute)
	err := rl.Allow("a")
	var rle *RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, "hour", rle.Window)
	assert.Equal(t, 58*time.Minute, rle.RetryAfter)

	now = now.Add(2 * time.Hour)
	rl.Cleanup()
	assert.Empty(t, rl.clients)
}

func TestRateLimiter_RunCleanupEvictsIdleClients(t *testing.T) {
	rl := NewRateLimiter(10, 100)
	start := time.Unix(1700000000, 0)
	rl.now = func() time.Time { return start }
	require.NoError(t, rl.Allow("a"))
	require.NoError(t, rl.Allow("b"))
	require.Equal(t, 2, rl.Clients())

	rl.mu.Lock()
	rl.now = func() time.Time { return start.Add(2 * time.Hour) }
	rl.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rl.RunCleanup(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return rl.Clients() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup loop did not stop after cancel")
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded chain", map[string]string{"X-Forwarded-For": "10.0.0.1, 10.0.0.2"}, "1.2.3.4:5", "10.0.0.1"},
		{"real ip", map[string]string{"X-Real-IP": " 10.0.0.9 "}, "1.2.3.4:5", "10.0.0.9"},
		{"remote addr", nil, "1.2.3.4:5", "1.2.3.4"},
		{"bare remote", nil, "1.2.3.4", "1.2.3.4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, getClientIP(r))
		})
	}
}

func TestWebsocket_StreamsTransitions(t *testing.T) {
	s, ts := newTestServer(t, DefaultConfig())

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	defer func() { _ = conn.Close() }()

	require.Eventually(t, func() bool { return s.Hub().Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	s.Hub().OnTransition(orchestrator.Transition{
		ItemID: "a", From: pipeline.Delivering, To: pipeline.Delivered, Location: "/out/a.jpg",
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg struct {
		Type    string                  `json:"type"`
		Payload orchestrator.Transition `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "transition", msg.Type)
	assert.Equal(t, "a", msg.Payload.ItemID)
	assert.Equal(t, pipeline.Delivered, msg.Payload.To)

	s.Hub().CloseAll()
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"disabled skips checks", func(c *Config) { c.Port = 0 }, false},
		{"valid", func(c *Config) { c.Enabled = true }, false},
		{"bad port", func(c *Config) { c.Enabled = true; c.Port = 70000 }, true},
		{"bad interval", func(c *Config) { c.Enabled = true; c.StatsInterval = 0 }, true},
		{"negative limit", func(c *Config) { c.Enabled = true; c.RateLimit.RequestsPerHour = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
