// Package dashboard serves the provider's own view: balance, credit history
// and assignments.
package dashboard

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/engagehub/backend/internal/middleware"
	"github.com/engagehub/backend/internal/models"
)

type Ledger interface {
	Balance(ctx context.Context, providerID uuid.UUID) (*models.ProviderBalance, error)
	History(ctx context.Context, providerID uuid.UUID, limit int) ([]*models.CreditTransaction, error)
}

type Assignments interface {
	ListForProvider(ctx context.Context, providerID uuid.UUID, limit int) ([]*models.Assignment, error)
}

type Handler struct {
	ledger      Ledger
	assignments Assignments
	log         *slog.Logger
}

func NewHandler(ledger Ledger, assignments Assignments, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{ledger: ledger, assignments: assignments, log: log}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 || n > 200 {
		return 50
	}
	return n
}

// GET /api/v1/me/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	bal, err := h.ledger.Balance(r.Context(), actor.ID)
	if err != nil {
		h.log.Error("get balance failed", "provider_id", actor.ID, "error", err)
		http.Error(w, "get balance failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

// GET /api/v1/me/credits
func (h *Handler) ListCredits(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	list, err := h.ledger.History(r.Context(), actor.ID, limitParam(r))
	if err != nil {
		h.log.Error("list credits failed", "provider_id", actor.ID, "error", err)
		http.Error(w, "list credits failed", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []*models.CreditTransaction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"credits": list})
}

// GET /api/v1/me/assignments
func (h *Handler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	list, err := h.assignments.ListForProvider(r.Context(), actor.ID, limitParam(r))
	if err != nil {
		h.log.Error("list assignments failed", "provider_id", actor.ID, "error", err)
		http.Error(w, "list assignments failed", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []*models.Assignment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"assignments": list})
}
