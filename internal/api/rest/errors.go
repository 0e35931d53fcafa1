package rest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kubilitics/resourcemap/internal/k8s"
	"github.com/kubilitics/resourcemap/internal/pkg/logger"
	"github.com/kubilitics/resourcemap/internal/pkg/mapexport"
	"github.com/kubilitics/resourcemap/internal/repository"
	"github.com/kubilitics/resourcemap/internal/service"
	"github.com/kubilitics/resourcemap/internal/sources"
)

// APIError represents a structured API error response
type APIError struct {
	Error     string            `json:"error"`
	Code      string            `json:"code,omitempty"`
	Message   string            `json:"message"`
	RequestID string            `json:"request_id,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// Error codes for common scenarios
const (
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeConflict       = "CONFLICT"
	ErrCodeInternalError  = "INTERNAL_ERROR"
	ErrCodeTimeout        = "TIMEOUT"
	ErrCodeCircuitBreaker = "CIRCUIT_BREAKER_OPEN"
	ErrCodeNotImplemented = "NOT_IMPLEMENTED"
)

// respondStructuredError sends a structured error response with error code and details
func respondStructuredError(w http.ResponseWriter, status int, code, message string, requestID string, details map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIError{
		Error:     message,
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Details:   details,
	})
}

func respondErrorWithCode(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	respondStructuredError(w, status, code, message, logger.FromContext(r.Context()), nil)
}

// statusForError maps service errors onto an HTTP status and error code.
// ok is false for errors that are not the client's business.
func statusForError(err error) (status int, code string, ok bool) {
	switch {
	case errors.Is(err, service.ErrClusterNotFound),
		errors.Is(err, service.ErrNodeNotFound),
		errors.Is(err, repository.ErrSnapshotNotFound),
		errors.Is(err, sources.ErrUnknownSource):
		return http.StatusNotFound, ErrCodeNotFound, true
	case errors.Is(err, service.ErrInvalidView),
		errors.Is(err, service.ErrInvalidQuery),
		errors.Is(err, service.ErrInvalidSourceID),
		errors.Is(err, service.ErrInvalidClusterID),
		errors.Is(err, mapexport.ErrUnsupportedFormat):
		return http.StatusBadRequest, ErrCodeInvalidRequest, true
	case errors.Is(err, service.ErrClusterExists),
		errors.Is(err, service.ErrTooManyClusters):
		return http.StatusConflict, ErrCodeConflict, true
	case errors.Is(err, service.ErrSnapshotsDisabled):
		return http.StatusNotImplemented, ErrCodeNotImplemented, true
	case errors.Is(err, k8s.ErrCircuitOpen):
		return http.StatusServiceUnavailable, ErrCodeCircuitBreaker, true
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrCodeTimeout, true
	}
	return http.StatusInternalServerError, ErrCodeInternalError, false
}

// respondServiceError writes err as a structured error. Internal errors are
// logged and replaced by a generic message.
func respondServiceError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	status, code, ok := statusForError(err)
	message := err.Error()
	if !ok {
		log.Error("request failed",
			"request_id", logger.FromContext(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		message = "Internal server error"
	}
	respondErrorWithCode(w, r, status, code, message)
}
