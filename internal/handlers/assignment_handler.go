package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/google/uuid"

	"github.com/engagehub/backend/internal/assignments"
	"github.com/engagehub/backend/internal/config"
	"github.com/engagehub/backend/internal/middleware"
	"github.com/engagehub/backend/internal/models"
)

type AssignmentService interface {
	Get(ctx context.Context, id, actorID uuid.UUID) (*models.Assignment, error)
	Start(ctx context.Context, assignmentID, providerID uuid.UUID) (*models.Assignment, error)
	SubmitProof(ctx context.Context, in assignments.SubmitProofInput) (*assignments.SubmitResult, error)
}

type AssignmentHandler struct {
	Assignments AssignmentService
	Logger      *slog.Logger
}

// Get handles GET /api/v1/assignments/{id}.
func (h *AssignmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFromCtx(r.Context())
	id, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid assignment id")
		return
	}
	a, err := h.Assignments.Get(r.Context(), id, actor.ID)
	if err != nil {
		writeDomainError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Start handles POST /api/v1/assignments/{id}/start.
func (h *AssignmentHandler) Start(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFromCtx(r.Context())
	id, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid assignment id")
		return
	}
	a, err := h.Assignments.Start(r.Context(), id, actor.ID)
	if err != nil {
		writeDomainError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type proofJSON struct {
	ProofURL      string `json:"proof_url"`
	ContentBase64 string `json:"content_base64"`
	ContentType   string `json:"content_type"`
}

type reuseResponse struct {
	Error        string             `json:"error"`
	Warning      bool               `json:"warning"`
	FlaggedTotal int                `json:"flagged_total"`
	Suspended    bool               `json:"suspended"`
	Assignment   *models.Assignment `json:"assignment"`
}

// SubmitProof handles POST /api/v1/assignments/{id}/proof. The body is either
// multipart with a "proof" file part, or JSON with base64 content and an
// optional already-hosted URL.
func (h *AssignmentHandler) SubmitProof(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFromCtx(r.Context())
	id, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid assignment id")
		return
	}
	in, err := readProof(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	in.AssignmentID = id
	in.ProviderID = actor.ID

	res, err := h.Assignments.SubmitProof(r.Context(), in)
	if err != nil {
		writeDomainError(w, h.Logger, err)
		return
	}
	if res.Flagged {
		writeJSON(w, http.StatusUnprocessableEntity, reuseResponse{
			Error:        res.Verdict.Message,
			Warning:      res.Verdict.Warning,
			FlaggedTotal: res.Verdict.ProviderTotal,
			Suspended:    res.Verdict.Suspended,
			Assignment:   res.Assignment,
		})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"assignment":      res.Assignment,
		"review_deadline": res.ReviewDeadline,
	})
}

func readProof(w http.ResponseWriter, r *http.Request) (assignments.SubmitProofInput, error) {
	var in assignments.SubmitProofInput
	// base64 inflates by 4/3; leave room for the JSON envelope.
	r.Body = http.MaxBytesReader(w, r.Body, config.MaxProofBytes*2)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		file, hdr, err := r.FormFile("proof")
		if err != nil {
			return in, fmt.Errorf("missing proof file: %w", err)
		}
		defer file.Close()
		in.Content, err = io.ReadAll(io.LimitReader(file, config.MaxProofBytes+1))
		if err != nil {
			return in, fmt.Errorf("read proof: %w", err)
		}
		in.ContentType = hdr.Header.Get("Content-Type")
		in.ProofURL = r.FormValue("proof_url")
		return in, nil
	}

	var body proofJSON
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return in, errors.New("invalid JSON")
	}
	content, err := base64.StdEncoding.DecodeString(body.ContentBase64)
	if err != nil {
		return in, errors.New("content_base64 is not valid base64")
	}
	in.Content = content
	in.ContentType = body.ContentType
	in.ProofURL = body.ProofURL
	return in, nil
}
