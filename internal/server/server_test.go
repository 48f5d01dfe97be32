package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/orchestrator"
	"github.com/alanyoungcy/flasharb/internal/risk"
	"github.com/alanyoungcy/flasharb/internal/server/handler"
	"github.com/alanyoungcy/flasharb/internal/server/ws"
	"github.com/alanyoungcy/flasharb/internal/store/memory"
)

type flagPauser struct{ paused bool }

func (p *flagPauser) SetPaused(_ context.Context, v bool) error {
	p.paused = v
	return nil
}

type fixture struct {
	h      http.Handler
	execs  *memory.ExecutionStore
	pauser *flagPauser
	bus    *memory.SignalBus
	hub    *ws.Hub
}

func newFixture(t *testing.T, cfg Config, checks map[string]handler.Check) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	execs := memory.NewExecutionStore()
	cal := risk.New(risk.DefaultConfig(), nil, logger)
	state := orchestrator.NewState(nil, nil)
	pauser := &flagPauser{}
	bus := memory.NewSignalBus(0)
	hub := ws.NewHub(bus, func() any { return state.Snapshot() }, nil, logger)

	h := Routes(cfg, Handlers{
		Health:     handler.NewHealthHandler(checks),
		Status:     handler.NewStatusHandler("paper", state, nil, cal),
		Executions: handler.NewExecutionHandler(execs, logger),
		Risk:       handler.NewRiskHandler(cal),
		Admin:      handler.NewAdminHandler(pauser, logger),
	}, hub, nil, logger)
	return &fixture{h: h, execs: execs, pauser: pauser, bus: bus, hub: hub}
}

func do(h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	f := newFixture(t, Config{APIKey: "secret"}, map[string]handler.Check{
		"postgres": func(context.Context) error { return nil },
	})
	rec := do(f.h, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	f = newFixture(t, Config{}, map[string]handler.Check{
		"redis": func(context.Context) error { return errors.New("dial tcp: refused") },
	})
	rec = do(f.h, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "refused")
}

func TestAuthAndCORS(t *testing.T) {
	f := newFixture(t, Config{APIKey: "secret", CORSOrigins: []string{"https://ops.example"}}, nil)

	assert.Equal(t, http.StatusUnauthorized, do(f.h, http.MethodGet, "/api/status", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized,
		do(f.h, http.MethodGet, "/api/status", "", map[string]string{"X-API-Key": "wrong"}).Code)

	rec := do(f.h, http.MethodGet, "/api/status", "", map[string]string{"Authorization": "Bearer secret"})
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "paper", body["mode"])
	assert.Equal(t, "unknown", body["risk_level"])

	rec = do(f.h, http.MethodOptions, "/api/status", "", map[string]string{"Origin": "https://ops.example"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://ops.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestExecutionsListing(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, f.execs.Append(ctx, domain.ExecutionRecord{
			ID: string(rune('a' + i)), Timestamp: base.Add(time.Duration(i) * time.Minute),
			EstimatedProfit: big.NewInt(1), RealizedProfit: big.NewInt(1),
		}))
	}

	rec := do(f.h, http.MethodGet, "/api/executions?limit=2", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Executions []domain.ExecutionRecord `json:"executions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Executions, 2)
	assert.Equal(t, "c", body.Executions[0].ID)

	assert.Equal(t, http.StatusBadRequest, do(f.h, http.MethodGet, "/api/executions?since=yesterday", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(f.h, http.MethodGet, "/api/executions?limit=-1", "", nil).Code)
}

func TestPauseEndpoint(t *testing.T) {
	f := newFixture(t, Config{}, nil)

	rec := do(f.h, http.MethodPost, "/api/admin/pause", `{"paused":true}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.pauser.paused)

	assert.Equal(t, http.StatusBadRequest, do(f.h, http.MethodPost, "/api/admin/pause", `{}`, nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(f.h, http.MethodGet, "/api/admin/pause", "", nil).Code)
}

func TestRiskEndpoint(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	rec := do(f.h, http.MethodGet, "/api/risk", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"recommendation"`)
}

func TestWebsocketStream(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.hub.Run(ctx) }()

	srv := httptest.NewServer(f.h)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var env ws.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, "status", env.Channel)

	// The hub subscribes asynchronously; publish until the frame arrives.
	got := make(chan ws.Envelope, 1)
	go func() {
		var e ws.Envelope
		if conn.ReadJSON(&e) == nil {
			got <- e
		}
	}()
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case e := <-got:
			assert.Equal(t, domain.ChannelRisk, e.Channel)
			assert.JSONEq(t, `{"level":"high"}`, string(e.Data))
			return
		case <-tick.C:
			_ = f.bus.Publish(ctx, domain.ChannelRisk, []byte(`{"level":"high"}`))
		case <-deadline:
			t.Fatal("no frame received")
		}
	}
}

func TestWebsocketReplay(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.hub.Run(ctx) }()

	require.NoError(t, f.bus.StreamAppend(ctx, domain.ChannelExecutions, []byte(`{"n":1}`)))
	require.NoError(t, f.bus.StreamAppend(ctx, domain.ChannelExecutions, []byte(`{"n":2}`)))

	srv := httptest.NewServer(f.h)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var env ws.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	require.Equal(t, "status", env.Channel)

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "replay", "count": 10}))
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, domain.ChannelExecutions, env.Channel)
	assert.JSONEq(t, `{"n":1}`, string(env.Data))
	first := env.ID
	require.NotEmpty(t, first)

	require.NoError(t, conn.ReadJSON(&env))
	assert.JSONEq(t, `{"n":2}`, string(env.Data))

	// resuming after the first entry yields only the second
	require.NoError(t, conn.WriteJSON(map[string]any{"action": "replay", "after": first}))
	require.NoError(t, conn.ReadJSON(&env))
	assert.JSONEq(t, `{"n":2}`, string(env.Data))
}
