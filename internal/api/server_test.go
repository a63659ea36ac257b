package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/quantfleet/unified-trading-bot/internal/config"
	"github.com/quantfleet/unified-trading-bot/internal/exchange"
	"github.com/quantfleet/unified-trading-bot/internal/orchestrator"
	"github.com/quantfleet/unified-trading-bot/internal/risk"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) (*Server, *risk.Monitor) {
	t.Helper()
	logger := zap.NewNop()
	now := func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	paper := exchange.NewPaper(logger, 100000)
	riskMon := risk.New(logger, risk.DefaultConfig(), now)
	orch := orchestrator.New(logger, orchestrator.Config{
		MonitorTick:      time.Second,
		HeartbeatWarn:    time.Minute,
		HeartbeatRestart: 5 * time.Minute,
		MaxRestarts:      3,
	}, nil, riskMon, paper, now)
	return NewServer(logger, config.ServerConfig{Host: "localhost", Port: 0}, orch, nil), riskMon
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	rec := get(t, s, "/api/v1/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v", body["status"])
	}
}

func TestRiskEndpointReflectsBreaker(t *testing.T) {
	s, riskMon := newTestServer(t)

	var state risk.State
	rec := get(t, s, "/api/v1/risk")
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if state.CircuitBreakerActive {
		t.Fatal("breaker should start inactive")
	}

	riskMon.Trip("manual")
	rec = get(t, s, "/api/v1/risk")
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !state.CircuitBreakerActive || state.TripReason != "manual" {
		t.Errorf("state = %+v, want tripped", state)
	}
}

func TestPositionsEndpointEmptyBook(t *testing.T) {
	s, _ := newTestServer(t)
	rec := get(t, s, "/api/v1/positions")
	var body struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 0 {
		t.Errorf("count = %d, want 0", body.Count)
	}
}

func TestWriteMethodsRejected(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/status", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}
