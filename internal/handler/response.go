package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/coderunner/internal/apperror"
	"github.com/sakif/coderunner/internal/executor"
)

// ErrorResponse is the error body of the history endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`   // Machine-readable error type (e.g., "not_found")
	Message string `json:"message"` // Human-readable description
}

// writeJSON sends a JSON response with the given status code.
// Headers and status must be written before the body.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// classify maps an error onto an HTTP status and a machine-readable type.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, apperror.ErrDaemon):
		return http.StatusBadGateway, "daemon_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeError sends an ErrorResponse. Messages of errors outside the
// apperror taxonomy are not exposed.
func writeError(w http.ResponseWriter, err error) {
	status, errorType := classify(err)

	message := "An internal error occurred"
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}

	writeJSON(w, status, ErrorResponse{
		Error:   errorType,
		Message: message,
	})
}

// writeResult sends an execution result. Failures are rendered as an
// error-shaped result so clients always parse the same body.
func writeResult(w http.ResponseWriter, res *executor.ExecutionResult, err error) {
	status := http.StatusOK
	if err != nil {
		status, _ = classify(err)
	}
	writeJSON(w, status, executor.Shape(res, err))
}
