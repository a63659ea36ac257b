// Package api provides the read-only status HTTP server: the
// orchestrator snapshot, per-engine health, open positions, the risk
// state and the prometheus metrics endpoint.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/quantfleet/unified-trading-bot/internal/config"
	"github.com/quantfleet/unified-trading-bot/internal/orchestrator"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Server exposes the orchestrator state over HTTP. Strictly read-only;
// there is no trading control surface.
type Server struct {
	logger     *zap.Logger
	config     config.ServerConfig
	orch       *orchestrator.Orchestrator
	router     *mux.Router
	httpServer *http.Server
}

// NewServer creates the status server. metricsHandler may be nil to
// disable the /metrics endpoint.
func NewServer(logger *zap.Logger, cfg config.ServerConfig, orch *orchestrator.Orchestrator, metricsHandler http.Handler) *Server {
	s := &Server{
		logger: logger.Named("api"),
		config: cfg,
		orch:   orch,
		router: mux.NewRouter(),
	}
	s.routes(metricsHandler)
	return s
}

func (s *Server) routes(metricsHandler http.Handler) {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/v1/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/api/v1/engines", s.handleEngines).Methods("GET")
	s.router.HandleFunc("/api/v1/positions", s.handlePositions).Methods("GET")
	s.router.HandleFunc("/api/v1/risk", s.handleRisk).Methods("GET")
	if metricsHandler != nil {
		s.router.Handle("/metrics", metricsHandler).Methods("GET")
	}
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}).Handler(s.router)
}

// Start runs the server until Stop or a listener error. ListenAndServe
// blocks, so callers run it in a goroutine.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	s.logger.Info("status server listening", zap.String("addr", addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response encode failed", zap.Error(err))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.orch.Status(r.Context()))
}

func (s *Server) handleEngines(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]any{"engines": s.orch.Health()})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions := s.orch.Positions(r.Context())
	s.writeJSON(w, map[string]any{
		"positions": positions,
		"count":     len(positions),
	})
}

func (s *Server) handleRisk(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.orch.RiskState())
}
