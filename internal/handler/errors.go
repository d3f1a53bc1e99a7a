package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/pkordes/tripsync/internal/domain"
)

// ErrorDetail is the body of every non-2xx response.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps ErrorDetail as {"error":{...}}.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

// notFound writes a 404. The caller supplies the message (e.g. "trip not
// found") because the handler is the layer that knows what was looked up.
func notFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, "not_found", message)
}

func unauthenticated(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, "unauthenticated", message)
}

// writeServiceError maps a service error onto a status code. Anything that is
// not a domain sentinel is logged and reported as a 500 without detail.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error, notFoundMessage string) {
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		unauthenticated(w, "sign in required")
	case errors.Is(err, domain.ErrNotFound):
		notFound(w, notFoundMessage)
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusUnprocessableEntity, "validation_error", unwrapMessage(err))
	default:
		s.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

// unwrapMessage extracts the human-readable part after the validation sentinel.
// e.g. "service.TripService.GetByID: validation error: id is required" → "id is required"
func unwrapMessage(err error) string {
	msg := err.Error()
	marker := domain.ErrValidation.Error() + ": "
	if i := strings.Index(msg, marker); i >= 0 {
		return msg[i+len(marker):]
	}
	return msg
}
