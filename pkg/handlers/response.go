package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/relaydata/relay-engine/pkg/apperrors"
)

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// serviceError maps domain errors onto HTTP responses. Internal error text
// never reaches the client for unexpected failures.
func serviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		_ = ErrorResponse(w, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, apperrors.ErrConflict):
		_ = ErrorResponse(w, http.StatusConflict, "conflict", "resource already exists")
	case errors.Is(err, apperrors.ErrJobAlreadyActive):
		_ = ErrorResponse(w, http.StatusConflict, "job_already_active", "a sync is already pending or running for this connection")
	case errors.Is(err, apperrors.ErrJobTerminal):
		_ = ErrorResponse(w, http.StatusConflict, "job_terminal", "job already reached a terminal state")
	case errors.Is(err, apperrors.ErrConnectionInactive):
		_ = ErrorResponse(w, http.StatusConflict, "connection_inactive", "connection is deactivated")
	case errors.Is(err, apperrors.ErrUnsupportedDatabaseType):
		_ = ErrorResponse(w, http.StatusBadRequest, "unsupported_database_type", err.Error())
	case apperrors.CategoryOf(err) == apperrors.CategoryConfig,
		apperrors.CategoryOf(err) == apperrors.CategoryUnsupported:
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

// pathUUID parses a {name} path segment as a UUID, writing a 400 response
// when it is malformed.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_id", "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
