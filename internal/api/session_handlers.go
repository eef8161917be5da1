package api

import (
	"encoding/json"
	"net/http"

	"github.com/t-brandt/kapsel/internal/docker"
)

type createSessionRequest struct {
	Volumes map[string]docker.VolumeBind `json:"volumes,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeValidationError(w, "invalid json: "+err.Error(), nil)
			return
		}
	}

	if err := validateCreateSessionRequest(req); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}

	s.logger.Debug("create session request", "volumes", len(req.Volumes))
	id, err := s.manager.CreateSession(r.Context(), req.Volumes)
	if err != nil {
		s.logger.Error("create session", "error", err)
		writeAPIError(w, err)
		return
	}
	s.logger.Debug("session created", "session_id", id)
	writeJSON(w, http.StatusCreated, createSessionResponse{SessionID: id})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := validateSessionID(id); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}

	info := s.manager.GetSessionInfo(id)
	if info == nil {
		writeJSON(w, http.StatusNotFound, APIError{
			Code:    ErrCodeSessionNotFound,
			Message: "session not found: " + id,
		})
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.manager.ListSessions()
	s.logger.Debug("list sessions", "count", len(sessions))
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := validateSessionID(id); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}

	released := s.manager.ReleaseSession(r.Context(), id)
	s.logger.Debug("release session", "session_id", id, "released", released)
	writeJSON(w, http.StatusOK, map[string]bool{"released": released})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := validateSessionID(id); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}

	if err := s.manager.ResetSession(r.Context(), id); err != nil {
		s.logger.Error("reset session", "session_id", id, "error", err)
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
