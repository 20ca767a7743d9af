package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/engagehub/backend/internal/middleware"
	"github.com/engagehub/backend/internal/verification"
)

type Arbiter interface {
	VerifyManually(ctx context.Context, assignmentID, buyerID uuid.UUID, approved bool, reason string) (*verification.Outcome, error)
	PerformAIVerification(ctx context.Context, assignmentID uuid.UUID, force bool) (*verification.Outcome, error)
	ReVerifyBuyerRejection(ctx context.Context, assignmentID, requestedBy uuid.UUID) (*verification.Outcome, error)
}

type VerificationHandler struct {
	Arbiter Arbiter
	Logger  *slog.Logger
}

type verifyRequest struct {
	Approved *bool  `json:"approved"`
	Reason   string `json:"reason"`
}

// Verify handles POST /api/v1/assignments/{id}/verify (buyer).
func (h *VerificationHandler) Verify(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFromCtx(r.Context())
	id, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid assignment id")
		return
	}
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Approved == nil {
		writeError(w, http.StatusBadRequest, "approved is required")
		return
	}
	out, err := h.Arbiter.VerifyManually(r.Context(), id, actor.ID, *req.Approved, req.Reason)
	h.respond(w, out, err)
}

// Reverify handles POST /api/v1/assignments/{id}/reverify (provider).
func (h *VerificationHandler) Reverify(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFromCtx(r.Context())
	id, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid assignment id")
		return
	}
	out, err := h.Arbiter.ReVerifyBuyerRejection(r.Context(), id, actor.ID)
	h.respond(w, out, err)
}

// ForceAI handles POST /api/v1/admin/assignments/{id}/ai-verify (operator).
func (h *VerificationHandler) ForceAI(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid assignment id")
		return
	}
	var body struct {
		Force *bool `json:"force"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	force := body.Force == nil || *body.Force
	out, err := h.Arbiter.PerformAIVerification(r.Context(), id, force)
	h.respond(w, out, err)
}

func (h *VerificationHandler) respond(w http.ResponseWriter, out *verification.Outcome, err error) {
	if err != nil {
		writeDomainError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
