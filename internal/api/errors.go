package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/t-brandt/kapsel/internal/docker"
	"github.com/t-brandt/kapsel/internal/sandbox"
)

// Error codes returned in API responses
const (
	ErrCodeSessionNotFound   = "SESSION_NOT_FOUND"
	ErrCodeSessionNotReady   = "SESSION_NOT_READY"
	ErrCodeEngineUnavailable = "ENGINE_UNAVAILABLE"
	ErrCodeHealthTimeout     = "HEALTH_TIMEOUT"
	ErrCodeStartFailed       = "START_FAILED"
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
)

// APIError is the structured error response body.
type APIError struct {
	Code    string         `json:"error_code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// writeAPIError maps known errors to structured responses.
func writeAPIError(w http.ResponseWriter, err error) {
	var apiErr APIError
	statusCode := http.StatusInternalServerError

	switch {
	case errors.Is(err, sandbox.ErrNotFound):
		apiErr = APIError{Code: ErrCodeSessionNotFound, Message: err.Error()}
		statusCode = http.StatusNotFound

	case errors.Is(err, sandbox.ErrUnavailable):
		apiErr = APIError{Code: ErrCodeSessionNotReady, Message: err.Error()}
		statusCode = http.StatusConflict

	case errors.Is(err, docker.ErrEngineUnavailable):
		apiErr = APIError{Code: ErrCodeEngineUnavailable, Message: err.Error()}
		statusCode = http.StatusServiceUnavailable

	case errors.Is(err, docker.ErrHealthTimeout):
		apiErr = APIError{Code: ErrCodeHealthTimeout, Message: err.Error()}
		statusCode = http.StatusGatewayTimeout

	case errors.Is(err, docker.ErrStartFailed):
		apiErr = APIError{Code: ErrCodeStartFailed, Message: err.Error()}
		statusCode = http.StatusInternalServerError

	default:
		apiErr = APIError{Code: ErrCodeInternalError, Message: err.Error()}
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErr)
}

// writeValidationError writes a 400 Bad Request with validation details.
func writeValidationError(w http.ResponseWriter, message string, details map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(APIError{
		Code:    ErrCodeInvalidRequest,
		Message: message,
		Details: details,
	})
}

// writeUnauthorizedError writes a 401 Unauthorized error.
func writeUnauthorizedError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(APIError{
		Code:    ErrCodeUnauthorized,
		Message: message,
	})
}
