// Package worker is the HTTP surface of the in-container process: it accepts
// code fragments, streams their output as SSE, and exposes namespace
// inspection and reset.
package worker

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/t-brandt/kapsel/internal/worker/capture"
	"github.com/t-brandt/kapsel/internal/worker/executor"
	"github.com/t-brandt/kapsel/protocol"
)

const serviceName = "kapsel-worker"

type Server struct {
	exec   *executor.Executor
	logger *slog.Logger
	mux    *http.ServeMux

	// echo receives a copy of printed output, normally os.Stdout.
	echo io.Writer
}

func NewServer(exec *executor.Executor, logger *slog.Logger, echo io.Writer) *Server {
	s := &Server{exec: exec, logger: logger, mux: http.NewServeMux(), echo: echo}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) routes() {
	s.mux.HandleFunc("POST /exec", s.handleExec)
	s.mux.HandleFunc("POST /reset", s.handleReset)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /variables", s.handleVariables)
	s.mux.HandleFunc("GET /{$}", s.handleRoot)
}

// handleExec streams one execution. Chunks go out as they are produced; the
// stream always ends with exactly one result chunk.
func (s *Server) handleExec(w http.ResponseWriter, r *http.Request) {
	var req protocol.ExecRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Code == "" {
		http.Error(w, "code must not be empty", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	s.logger.Debug("exec", "code_bytes", len(req.Code), "result_var", req.ResultVar)

	cap := capture.New(s.echo)
	go func() {
		result := s.exec.Run(r.Context(), req.Code, req.ResultVar, cap)
		cap.PushResult(result.JSON())
		cap.Close()
	}()

	for {
		chunk, ok := cap.Next()
		if !ok {
			return
		}
		io.WriteString(w, chunk.SSE())
		flusher.Flush()
	}
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.exec.Reset()
	s.logger.Info("namespace reset")
	writeJSON(w, http.StatusOK, protocol.ResetResponse{
		Success: true,
		Message: "namespace reset",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, protocol.HealthResponse{
		Status:         "healthy",
		ExecutorReady:  true,
		ExecutionCount: s.exec.ExecutionCount(),
		VariablesCount: len(s.exec.VariableNames()),
	})
}

func (s *Server) handleVariables(w http.ResponseWriter, r *http.Request) {
	names := s.exec.VariableNames()
	writeJSON(w, http.StatusOK, protocol.VariablesResponse{
		Count:     len(names),
		Variables: names,
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": serviceName,
		"status":  "running",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
