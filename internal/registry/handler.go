package registry

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/engagehub/backend/internal/middleware"
)

type PreferencesRequest struct {
	Platforms   []string `json:"platforms"`
	ActionTypes []string `json:"action_types"`
}

type Handler struct {
	svc Service
	log *slog.Logger
}

func NewHandler(svc Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

func (h *Handler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	p, err := h.svc.GetPreferences(r.Context(), actor.ID)
	if err != nil {
		h.log.Error("get preferences failed", "provider_id", actor.ID, "error", err)
		http.Error(w, "get preferences failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(p)
}

func (h *Handler) SetPreferences(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req PreferencesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	p, err := h.svc.SetPreferences(r.Context(), actor.ID, req.Platforms, req.ActionTypes)
	if errors.Is(err, ErrInvalidPreferences) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		h.log.Error("set preferences failed", "provider_id", actor.ID, "error", err)
		http.Error(w, "set preferences failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(p)
}
