// Package handlers exposes the assignment engine over HTTP.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/engagehub/backend/internal/models"
)

const (
	msgNoLongerAvailable = "no longer available"
	msgDuplicateActive   = "you already have an active assignment for this order"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps engine errors to HTTP responses. Anything unknown is
// logged and reported as a 500.
func writeDomainError(w http.ResponseWriter, log *slog.Logger, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, models.ErrAlreadyClaimed), errors.Is(err, models.ErrExpired):
		writeError(w, http.StatusConflict, msgNoLongerAvailable)
	case errors.Is(err, models.ErrDuplicateActiveAssignment):
		writeError(w, http.StatusConflict, msgDuplicateActive)
	case errors.Is(err, models.ErrOwnershipMismatch):
		writeError(w, http.StatusForbidden, "not your assignment")
	case errors.Is(err, models.ErrNotAssignable),
		errors.Is(err, models.ErrPreconditionFailed),
		errors.Is(err, models.ErrNotEligible):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrInvalidOrder), errors.Is(err, models.ErrInvalidProof):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrExternalAnalysisFailure):
		writeError(w, http.StatusServiceUnavailable, "verification service unavailable, retry scheduled")
	default:
		if log == nil {
			log = slog.Default()
		}
		log.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func idParam(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	return id, err == nil
}
