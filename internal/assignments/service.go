// Package assignments drives the provider side of the assignment lifecycle:
// starting work and submitting proof.
package assignments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/engagehub/backend/internal/config"
	"github.com/engagehub/backend/internal/fraud"
	"github.com/engagehub/backend/internal/models"
	"github.com/engagehub/backend/internal/notify"
)

type Store interface {
	GetAssignment(ctx context.Context, id uuid.UUID) (*models.Assignment, error)
	Transition(ctx context.Context, p models.TransitionParams) (*models.Assignment, error)
	HasOtherActive(ctx context.Context, orderID, providerID, exclude uuid.UUID) (bool, error)
	ListAssignmentsByProvider(ctx context.Context, providerID uuid.UUID, limit int) ([]*models.Assignment, error)
}

// FraudChecker is the fingerprint store as seen from proof submission.
type FraudChecker interface {
	CheckReuse(ctx context.Context, hash string, providerID uuid.UUID) (fraud.ReuseCheck, error)
	RecordSubmission(ctx context.Context, hash string, assignmentID, providerID uuid.UUID) error
	FlagReuse(ctx context.Context, hash string, providerID, assignmentID uuid.UUID) (*fraud.ReuseVerdict, error)
}

// ProofUploader stores raw proof bytes and returns a durable URL.
type ProofUploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// Scheduler books the automatic AI review for a submission.
type Scheduler interface {
	ScheduleAIVerification(ctx context.Context, assignmentID uuid.UUID, at time.Time) error
}

type Service struct {
	store        Store
	fraud        FraudChecker
	uploader     ProofUploader
	scheduler    Scheduler
	notifier     notify.Notifier
	reviewWindow time.Duration
	log          *slog.Logger

	// NowFunc allows tests to control timestamps.
	NowFunc func() time.Time
}

type Deps struct {
	Store        Store
	Fraud        FraudChecker
	Uploader     ProofUploader
	Scheduler    Scheduler
	Notifier     notify.Notifier
	ReviewWindow time.Duration
	Logger       *slog.Logger
}

func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.ReviewWindow <= 0 {
		d.ReviewWindow = config.DefaultManualReviewWindow
	}
	return &Service{
		store:        d.Store,
		fraud:        d.Fraud,
		uploader:     d.Uploader,
		scheduler:    d.Scheduler,
		notifier:     d.Notifier,
		reviewWindow: d.ReviewWindow,
		log:          d.Logger,
		NowFunc:      func() time.Time { return time.Now().UTC() },
	}
}

// Get returns the assignment if actorID is its provider or buyer.
func (s *Service) Get(ctx context.Context, id, actorID uuid.UUID) (*models.Assignment, error) {
	a, err := s.store.GetAssignment(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.ProviderID != actorID && a.BuyerID != actorID {
		return nil, models.ErrOwnershipMismatch
	}
	return a, nil
}

func (s *Service) ListForProvider(ctx context.Context, providerID uuid.UUID, limit int) ([]*models.Assignment, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListAssignmentsByProvider(ctx, providerID, limit)
}

// Start moves an assignment from assigned to in_progress.
func (s *Service) Start(ctx context.Context, assignmentID, providerID uuid.UUID) (*models.Assignment, error) {
	a, err := s.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if a.ProviderID != providerID {
		return nil, models.ErrOwnershipMismatch
	}
	if a.Status != models.AssignmentAssigned {
		return nil, models.ErrNotAssignable
	}
	dup, err := s.store.HasOtherActive(ctx, a.OrderID, providerID, a.ID)
	if err != nil {
		return nil, err
	}
	if dup {
		return nil, models.ErrDuplicateActiveAssignment
	}

	updated, err := s.store.Transition(ctx, models.TransitionParams{
		AssignmentID: a.ID,
		From:         models.AssignmentAssigned,
		To:           models.AssignmentInProgress,
		At:           s.NowFunc(),
	})
	if errors.Is(err, models.ErrPreconditionFailed) {
		return nil, models.ErrNotAssignable
	}
	if err != nil {
		return nil, err
	}
	s.log.Info("assignment started", "assignment_id", a.ID, "provider_id", providerID)
	return updated, nil
}

// SubmitProofInput carries one proof submission. Content is always required
// for fingerprinting; ProofURL may be empty when an uploader is configured.
type SubmitProofInput struct {
	AssignmentID uuid.UUID
	ProviderID   uuid.UUID
	Content      []byte
	ContentType  string
	ProofURL     string
}

type SubmitResult struct {
	Assignment *models.Assignment
	// Flagged is set when the content was a reuse; Verdict explains it.
	Flagged        bool
	Verdict        *fraud.ReuseVerdict
	ReviewDeadline time.Time
}

// SubmitProof fingerprints the proof first. Reused content short-circuits to
// flagged_for_reuse and never enters pending_verification. Fresh content is
// recorded, the assignment moves to pending_verification and the AI fallback
// is booked for the end of the buyer's review window.
func (s *Service) SubmitProof(ctx context.Context, in SubmitProofInput) (*SubmitResult, error) {
	if len(in.Content) == 0 {
		return nil, fmt.Errorf("%w: empty proof", models.ErrInvalidProof)
	}
	if len(in.Content) > config.MaxProofBytes {
		return nil, fmt.Errorf("%w: proof exceeds %d bytes", models.ErrInvalidProof, config.MaxProofBytes)
	}

	a, err := s.store.GetAssignment(ctx, in.AssignmentID)
	if err != nil {
		return nil, err
	}
	if a.ProviderID != in.ProviderID {
		return nil, models.ErrOwnershipMismatch
	}
	if a.Status != models.AssignmentInProgress {
		return nil, fmt.Errorf("%w: assignment is %s", models.ErrPreconditionFailed, a.Status)
	}

	hash := fraud.Fingerprint(in.Content)
	check, err := s.fraud.CheckReuse(ctx, hash, in.ProviderID)
	if err != nil {
		return nil, err
	}
	if check.Reused {
		return s.flag(ctx, a, hash, in.ProofURL)
	}

	proofURL := in.ProofURL
	if proofURL == "" {
		if s.uploader == nil {
			return nil, fmt.Errorf("%w: proof url required", models.ErrInvalidProof)
		}
		contentType := in.ContentType
		if contentType == "" {
			contentType = http.DetectContentType(in.Content)
		}
		proofURL, err = s.uploader.Upload(ctx, proofKey(a, hash), in.Content, contentType)
		if err != nil {
			return nil, fmt.Errorf("upload proof: %w", err)
		}
	}

	updated, err := s.store.Transition(ctx, models.TransitionParams{
		AssignmentID:     a.ID,
		From:             models.AssignmentInProgress,
		To:               models.AssignmentPendingVerification,
		At:               s.NowFunc(),
		ProofURL:         &proofURL,
		ProofFingerprint: &hash,
	})
	if err != nil {
		return nil, err
	}

	if err := s.fraud.RecordSubmission(ctx, hash, a.ID, a.ProviderID); err != nil {
		s.log.Error("fingerprint not recorded", "assignment_id", a.ID, "error", err)
	}

	deadline, _ := updated.ManualReviewDeadline(s.reviewWindow)
	if s.scheduler != nil {
		if err := s.scheduler.ScheduleAIVerification(ctx, a.ID, deadline); err != nil {
			s.log.Warn("ai verification not scheduled, sweep will pick it up", "assignment_id", a.ID, "error", err)
		}
	}

	s.log.Info("proof submitted", "assignment_id", a.ID, "provider_id", a.ProviderID, "review_deadline", deadline)
	notify.Emit(ctx, s.notifier, s.log, notify.Event{
		Type:         notify.EventProofSubmitted,
		AssignmentID: a.ID,
		OrderID:      a.OrderID,
		ProviderID:   a.ProviderID,
		BuyerID:      a.BuyerID,
		Recipients:   []uuid.UUID{a.BuyerID},
		Message:      fmt.Sprintf("proof submitted; manual review is open for %s", s.reviewWindow),
		Data:         map[string]any{"proof_url": proofURL, "review_deadline": deadline},
		OccurredAt:   *updated.SubmittedAt,
	})
	return &SubmitResult{Assignment: updated, ReviewDeadline: deadline}, nil
}

func (s *Service) flag(ctx context.Context, a *models.Assignment, hash, proofURL string) (*SubmitResult, error) {
	method := models.VerificationFingerprint
	reason := "proof content previously submitted by this provider"
	p := models.TransitionParams{
		AssignmentID:       a.ID,
		From:               models.AssignmentInProgress,
		To:                 models.AssignmentFlaggedForReuse,
		At:                 s.NowFunc(),
		ProofFingerprint:   &hash,
		VerificationMethod: &method,
		VerificationReason: &reason,
	}
	if proofURL != "" {
		p.ProofURL = &proofURL
	}
	updated, err := s.store.Transition(ctx, p)
	if err != nil {
		return nil, err
	}
	verdict, err := s.fraud.FlagReuse(ctx, hash, a.ProviderID, a.ID)
	if err != nil {
		return nil, err
	}
	return &SubmitResult{Assignment: updated, Flagged: true, Verdict: verdict}, nil
}

func proofKey(a *models.Assignment, hash string) string {
	return fmt.Sprintf("%s/%s/%s", a.ProviderID, a.ID, hash)
}
