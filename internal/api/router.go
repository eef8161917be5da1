// Package api is the controller's HTTP surface: session lifecycle endpoints
// and the SSE execution relay.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/t-brandt/kapsel/internal/config"
	"github.com/t-brandt/kapsel/internal/metrics"
)

type Server struct {
	cfg     *config.Config
	manager SessionService
	logger  *slog.Logger
	mux     *http.ServeMux
}

func NewServer(cfg *config.Config, mgr SessionService, logger *slog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		manager: mgr,
		logger:  logger,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.authMiddleware(s.requestIDMiddleware(s.metricsMiddleware(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /v1/sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /v1/sessions", s.handleListSessions)
	s.mux.HandleFunc("GET /v1/sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("POST /v1/sessions/{id}/exec", s.handleExec)
	s.mux.HandleFunc("POST /v1/sessions/{id}/reset", s.handleReset)
	s.mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleRelease)

	// No auth on liveness or metrics.
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	s.mux.Handle("GET /metrics", metrics.Handler())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
