package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/engagehub/backend/internal/middleware"
	"github.com/engagehub/backend/internal/models"
)

type PoolService interface {
	ListAvailable(ctx context.Context, providerID uuid.UUID, limit int) ([]*models.PoolEntry, error)
	GetEntry(ctx context.Context, entryID uuid.UUID) (*models.PoolEntry, error)
	Claim(ctx context.Context, entryID, providerID uuid.UUID) (*models.Assignment, error)
}

type PoolHandler struct {
	Pool   PoolService
	Logger *slog.Logger
}

// ListAvailable handles GET /api/v1/pool.
func (h *PoolHandler) ListAvailable(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFromCtx(r.Context())
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.Pool.ListAvailable(r.Context(), actor.ID, limit)
	if err != nil {
		writeDomainError(w, h.Logger, err)
		return
	}
	if entries == nil {
		entries = []*models.PoolEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// GetEntry handles GET /api/v1/pool/{entryID}.
func (h *PoolHandler) GetEntry(w http.ResponseWriter, r *http.Request) {
	entryID, ok := idParam(r, "entryID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid entry id")
		return
	}
	e, err := h.Pool.GetEntry(r.Context(), entryID)
	if err != nil {
		writeDomainError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// Claim handles POST /api/v1/pool/{entryID}/claim.
func (h *PoolHandler) Claim(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFromCtx(r.Context())
	entryID, ok := idParam(r, "entryID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid entry id")
		return
	}
	a, err := h.Pool.Claim(r.Context(), entryID, actor.ID)
	if err != nil {
		writeDomainError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}
