package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/t-brandt/kapsel/protocol"
)

type execRequest struct {
	Code      string `json:"code"`
	ResultVar string `json:"result_var"`
}

// handleExec relays one execution as an SSE stream. Each chunk the manager
// yields becomes one data line; framing matches the worker's own stream, so
// callers see the identical chunk vocabulary either way.
func (s *Server) handleExec(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := validateSessionID(id); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}

	var req execRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error(), nil)
		return
	}
	if err := validateExecRequest(req); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}

	s.logger.Debug("exec", "session_id", id, "code_bytes", len(req.Code), "result_var", req.ResultVar)

	out := make(chan string, 16)
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.manager.Execute(r.Context(), id, req.Code, req.ResultVar, out)
		close(out)
	}()

	// Wait for the first chunk before committing to a stream response. The
	// channel is closed after the error send, so a closed-without-chunks
	// channel means Execute already finished; lookup and state errors surface
	// as a regular JSON error instead of an empty stream.
	first, ok := <-out
	if !ok {
		if err := <-errCh; err != nil {
			s.logger.Error("exec", "session_id", id, "error", err)
			writeAPIError(w, err)
			return
		}
		flusher, err := setupSSE(w)
		if err != nil {
			writeValidationError(w, err.Error(), nil)
			return
		}
		flusher.Flush()
		return
	}

	flusher, err := setupSSE(w)
	if err != nil {
		for range out {
		}
		<-errCh
		writeValidationError(w, err.Error(), nil)
		return
	}

	io.WriteString(w, protocol.FrameSSE(first))
	flusher.Flush()
	for chunk := range out {
		io.WriteString(w, protocol.FrameSSE(chunk))
		flusher.Flush()
	}
	if err := <-errCh; err != nil {
		s.logger.Error("exec", "session_id", id, "error", err)
	}
}

// setupSSE configures headers for Server-Sent Events streaming.
func setupSSE(w http.ResponseWriter) (http.Flusher, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	return flusher, nil
}
