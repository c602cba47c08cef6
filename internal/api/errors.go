package api

import (
	"encoding/json"
	"net/http"
)

// Error represents a structured error response. Data carries extra
// machine-readable context, such as the status of a suspended account.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Common error codes.
const (
	ErrCodeValidation   = "validation_error"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeRateLimited  = "rate_limited"
	ErrCodeInternal     = "internal_error"
	ErrCodeUnavailable  = "service_unavailable"

	// ErrCodeInvalidCurrentPassword is a validation failure the client
	// handles separately from a weak new password.
	ErrCodeInvalidCurrentPassword = "invalid_current_password"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeErrorData writes a structured error response carrying data.
func writeErrorData(w http.ResponseWriter, status int, code, message string, data any) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
		Data:    data,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeValidation, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// internalError logs err and writes a 500. The cause is only exposed to
// the client in development mode.
func (s *Server) internalError(w http.ResponseWriter, r *http.Request, message string, err error) {
	s.logger.Error(message,
		"error", err,
		"path", r.URL.Path,
		"request_id", requestIDFrom(r.Context()),
	)
	if s.devMode && err != nil {
		writeInternalError(w, message+": "+err.Error())
		return
	}
	writeInternalError(w, message)
}

// decodeJSON decodes the request body into v. It writes a 400 and
// returns false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeBadRequest(w, "cuerpo JSON inválido")
		return false
	}
	return true
}
