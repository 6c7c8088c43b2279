// Package handlers is the HTTP surface. Handlers decode requests, call the
// services, and translate the error taxonomy into status codes; they never
// see sites, dialects or SQL.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/labmesh-io/labmesh-engine/pkg/apperrors"
	"github.com/labmesh-io/labmesh-engine/pkg/migration"
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

// writeServiceError maps a service error onto the HTTP contract. Partial
// migration failures get their own error code: the caller must know the
// system needs operator attention, not a retry.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var partial *apperrors.MigrationPartialError
	switch {
	case errors.As(err, &partial):
		logger.Error("partition move left partial state",
			zap.String("group_id", partial.GroupID),
			zap.String("step", partial.Step),
			zap.Error(partial.Err),
		)
		_ = ErrorResponse(w, http.StatusInternalServerError, "migration_partial_failure", err.Error())
	case errors.Is(err, apperrors.ErrNotFound):
		_ = ErrorResponse(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, apperrors.ErrInvalidIdentifier),
		errors.Is(err, apperrors.ErrUnknownPartition),
		errors.Is(err, apperrors.ErrInvalidSite),
		errors.Is(err, migration.ErrSamePartition):
		_ = ErrorResponse(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, apperrors.ErrDuplicateKey):
		_ = ErrorResponse(w, http.StatusBadRequest, "already_exists", err.Error())
	case errors.Is(err, apperrors.ErrForeignReference):
		_ = ErrorResponse(w, http.StatusBadRequest, "missing_reference", err.Error())
	case errors.Is(err, apperrors.ErrMigrationInProgress):
		_ = ErrorResponse(w, http.StatusBadRequest, "migration_in_progress", err.Error())
	case errors.Is(err, apperrors.ErrNoAvailableSite),
		errors.Is(err, apperrors.ErrConnectivity):
		_ = ErrorResponse(w, http.StatusServiceUnavailable, "site_unavailable", err.Error())
	default:
		logger.Error("unexpected error", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

// decodeJSON reads a request body into dst, rejecting unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
