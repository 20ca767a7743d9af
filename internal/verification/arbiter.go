// Package verification decides whether submitted work is approved and pays
// for it. Three paths reach a decision: the buyer inside the review window,
// the AI fallback after it, and the AI re-review of a buyer rejection. Every
// write is a conditional transition, so whichever path lands first wins and
// the others become no-ops.
package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/engagehub/backend/internal/config"
	"github.com/engagehub/backend/internal/ledger"
	"github.com/engagehub/backend/internal/models"
	"github.com/engagehub/backend/internal/notify"
	"github.com/engagehub/backend/internal/vision"
)

type Store interface {
	GetAssignment(ctx context.Context, id uuid.UUID) (*models.Assignment, error)
	Transition(ctx context.Context, p models.TransitionParams) (*models.Assignment, error)
	RecordAIFailure(ctx context.Context, p models.AIFailureParams) (*models.Assignment, error)
	GetCreditByAssignment(ctx context.Context, assignmentID uuid.UUID) (*models.CreditTransaction, error)
	ListDueForAIVerification(ctx context.Context, submittedBefore, now time.Time, limit int) ([]uuid.UUID, error)
	ListDueForReverify(ctx context.Context, rejectedBefore, now time.Time, limit int) ([]uuid.UUID, error)
	ListUncredited(ctx context.Context, limit int) ([]*models.Assignment, error)
}

// Ledger is the single guarded credit operation.
type Ledger interface {
	Credit(ctx context.Context, providerID, assignmentID uuid.UUID, amount decimal.Decimal, reason string) (*ledger.Result, error)
}

// Scheduler books the re-review callback after a buyer rejection.
type Scheduler interface {
	ScheduleReverify(ctx context.Context, assignmentID uuid.UUID, at time.Time) error
}

// Outcome is the result of any verification call. AlreadyResolved means the
// call changed nothing and Assignment is the state someone else left.
type Outcome struct {
	Assignment      *models.Assignment        `json:"assignment"`
	AlreadyResolved bool                      `json:"already_resolved"`
	Credit          *models.CreditTransaction `json:"credit,omitempty"`
}

type Options struct {
	ReviewWindow  time.Duration
	ReverifyDelay time.Duration
	MaxAttempts   int
	RetryBackoff  time.Duration
	RetryMax      time.Duration
}

func (o *Options) defaults() {
	if o.ReviewWindow <= 0 {
		o.ReviewWindow = config.DefaultManualReviewWindow
	}
	if o.ReverifyDelay <= 0 {
		o.ReverifyDelay = config.DefaultReverifyDelay
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = config.DefaultAIMaxAttempts
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = config.DefaultAIRetryBackoff
	}
	if o.RetryMax <= 0 {
		o.RetryMax = config.DefaultAIRetryMax
	}
}

type Arbiter struct {
	store     Store
	ledger    Ledger
	analyzer  vision.Analyzer
	scheduler Scheduler
	notifier  notify.Notifier
	opts      Options
	log       *slog.Logger

	// NowFunc allows tests to control timestamps.
	NowFunc func() time.Time
}

type Deps struct {
	Store     Store
	Ledger    Ledger
	Analyzer  vision.Analyzer
	Scheduler Scheduler
	Notifier  notify.Notifier
	Options   Options
	Logger    *slog.Logger
}

func NewArbiter(d Deps) *Arbiter {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	d.Options.defaults()
	return &Arbiter{
		store:     d.Store,
		ledger:    d.Ledger,
		analyzer:  d.Analyzer,
		scheduler: d.Scheduler,
		notifier:  d.Notifier,
		opts:      d.Options,
		log:       d.Logger,
		NowFunc:   func() time.Time { return time.Now().UTC() },
	}
}

// VerifyManually records the buyer's decision. Only the order's buyer may
// decide, only while the assignment is pending and the review window is open.
func (a *Arbiter) VerifyManually(ctx context.Context, assignmentID, buyerID uuid.UUID, approved bool, reason string) (*Outcome, error) {
	asg, err := a.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if asg.BuyerID != buyerID {
		return nil, models.ErrOwnershipMismatch
	}
	switch asg.Status {
	case models.AssignmentPendingVerification:
	case models.AssignmentAssigned, models.AssignmentInProgress:
		return nil, fmt.Errorf("%w: no proof submitted", models.ErrPreconditionFailed)
	default:
		return a.existing(ctx, asg)
	}

	now := a.NowFunc()
	if deadline, ok := asg.ManualReviewDeadline(a.opts.ReviewWindow); !ok || now.After(deadline) {
		return nil, fmt.Errorf("%w: review window closed", models.ErrNotEligible)
	}

	to := models.AssignmentRejectedByBuyer
	if approved {
		to = models.AssignmentApprovedByBuyer
	}
	method := models.VerificationManual
	p := models.TransitionParams{
		AssignmentID:       asg.ID,
		From:               models.AssignmentPendingVerification,
		To:                 to,
		At:                 now,
		VerificationMethod: &method,
	}
	if reason != "" {
		p.VerificationReason = &reason
	}
	updated, err := a.store.Transition(ctx, p)
	if err != nil {
		// Lost the race to the AI fallback; the buyer's decision is not applied.
		return nil, err
	}

	out := &Outcome{Assignment: updated}
	if approved {
		out.Credit = a.credit(ctx, updated, models.CreditReasonBuyerApproval)
		a.emit(ctx, notify.EventVerificationApproved, updated, []uuid.UUID{updated.ProviderID}, "the buyer approved your proof")
		return out, nil
	}

	at, _ := updated.ReverifyAt(a.opts.ReverifyDelay)
	if a.scheduler != nil {
		if err := a.scheduler.ScheduleReverify(ctx, updated.ID, at); err != nil {
			a.log.Warn("re-review not scheduled, sweep will pick it up", "assignment_id", updated.ID, "error", err)
		}
	}
	a.emit(ctx, notify.EventVerificationRejected, updated, []uuid.UUID{updated.ProviderID},
		fmt.Sprintf("the buyer rejected your proof; it will be re-reviewed automatically after %s", at.Format(time.RFC3339)))
	return out, nil
}

// PerformAIVerification runs the AI fallback on a pending submission. Without
// force the review window must have closed first.
func (a *Arbiter) PerformAIVerification(ctx context.Context, assignmentID uuid.UUID, force bool) (*Outcome, error) {
	asg, err := a.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	switch asg.Status {
	case models.AssignmentPendingVerification:
	case models.AssignmentAssigned, models.AssignmentInProgress:
		return nil, fmt.Errorf("%w: no proof submitted", models.ErrNotEligible)
	default:
		return a.existing(ctx, asg)
	}

	if !force {
		now := a.NowFunc()
		if deadline, ok := asg.ManualReviewDeadline(a.opts.ReviewWindow); !ok || now.Before(deadline) {
			return nil, fmt.Errorf("%w: review window still open", models.ErrNotEligible)
		}
		if asg.AIRetryPending(now) {
			return nil, fmt.Errorf("%w: retry backing off until %s", models.ErrNotEligible, asg.NextAIAttemptAt.Format(time.RFC3339))
		}
	}
	return a.runAI(ctx, asg, models.VerificationAI)
}

// ReVerifyBuyerRejection gives a buyer-rejected submission a second look by
// the AI. requestedBy is the provider for a manual request, or uuid.Nil for
// the scheduled callback. Either way the re-review delay must have elapsed and
// any failed analysis must be past its backoff.
func (a *Arbiter) ReVerifyBuyerRejection(ctx context.Context, assignmentID, requestedBy uuid.UUID) (*Outcome, error) {
	asg, err := a.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if requestedBy != uuid.Nil && asg.ProviderID != requestedBy {
		return nil, models.ErrOwnershipMismatch
	}
	if asg.Status != models.AssignmentRejectedByBuyer {
		if resolvedByReverify(asg) {
			return a.existing(ctx, asg)
		}
		return nil, fmt.Errorf("%w: assignment is %s", models.ErrNotEligible, asg.Status)
	}

	at, _ := asg.ReverifyAt(a.opts.ReverifyDelay)
	if now := a.NowFunc(); now.Before(at) {
		return nil, fmt.Errorf("%w: re-review available after %s", models.ErrNotEligible, at.Format(time.RFC3339))
	}
	if asg.AIRetryPending(a.NowFunc()) {
		return nil, fmt.Errorf("%w: retry backing off until %s", models.ErrNotEligible, asg.NextAIAttemptAt.Format(time.RFC3339))
	}
	return a.runAI(ctx, asg, models.VerificationAIReverify)
}

func resolvedByReverify(asg *models.Assignment) bool {
	switch asg.Status {
	case models.AssignmentAIReverified:
		return true
	case models.AssignmentRejectedByAI:
		return asg.VerificationMethod != nil && *asg.VerificationMethod == models.VerificationAIReverify
	}
	return false
}

// runAI calls the analyzer without holding anything, then writes back with a
// transition conditioned on the status read before the call.
func (a *Arbiter) runAI(ctx context.Context, asg *models.Assignment, method string) (*Outcome, error) {
	from := asg.Status
	verdict, err := a.analyzer.Analyze(ctx, visionRequest(asg))
	if err != nil {
		return a.analysisFailed(ctx, asg, method, err)
	}

	reverify := method == models.VerificationAIReverify
	to := models.AssignmentRejectedByAI
	if verdict.Success && reverify {
		to = models.AssignmentAIReverified
	} else if verdict.Success {
		to = models.AssignmentApprovedByAI
	}
	rationale := verdict.Rationale
	confidence := verdict.Confidence
	updated, err := a.store.Transition(ctx, models.TransitionParams{
		AssignmentID:       asg.ID,
		From:               from,
		To:                 to,
		At:                 a.NowFunc(),
		VerificationMethod: &method,
		VerificationReason: &rationale,
		AIConfidence:       &confidence,
	})
	if errors.Is(err, models.ErrPreconditionFailed) {
		return a.reload(ctx, asg.ID)
	}
	if err != nil {
		return nil, err
	}

	a.log.Info("ai verification resolved",
		"assignment_id", updated.ID,
		"method", method,
		"status", updated.Status,
		"confidence", confidence,
	)
	out := &Outcome{Assignment: updated}
	parties := []uuid.UUID{updated.ProviderID, updated.BuyerID}
	switch to {
	case models.AssignmentApprovedByAI:
		out.Credit = a.credit(ctx, updated, models.CreditReasonAIApproval)
		a.emit(ctx, notify.EventVerificationApproved, updated, parties, "proof approved by automated review")
	case models.AssignmentAIReverified:
		out.Credit = a.credit(ctx, updated, models.CreditReasonAIReversal)
		a.emit(ctx, notify.EventVerificationReversed, updated, parties, "automated re-review overturned the buyer rejection; the provider has been paid")
	default:
		a.emit(ctx, notify.EventVerificationRejected, updated, parties, "proof rejected by automated review: "+rationale)
	}
	return out, nil
}

// analysisFailed applies the retry policy. Below the attempt limit the
// failure is recorded with a backoff and surfaced as ErrExternalAnalysisFailure.
// The last allowed failure rejects the assignment for good.
func (a *Arbiter) analysisFailed(ctx context.Context, asg *models.Assignment, method string, cause error) (*Outcome, error) {
	now := a.NowFunc()
	attempt := asg.AIAttempts + 1
	a.log.Warn("ai analysis failed",
		"assignment_id", asg.ID,
		"attempt", attempt,
		"max_attempts", a.opts.MaxAttempts,
		"error", cause,
	)

	if attempt >= a.opts.MaxAttempts {
		reason := "analysis unavailable: " + cause.Error()
		updated, err := a.store.Transition(ctx, models.TransitionParams{
			AssignmentID:       asg.ID,
			From:               asg.Status,
			To:                 models.AssignmentRejectedByAI,
			At:                 now,
			VerificationMethod: &method,
			VerificationReason: &reason,
		})
		if errors.Is(err, models.ErrPreconditionFailed) {
			return a.reload(ctx, asg.ID)
		}
		if err != nil {
			return nil, err
		}
		a.emit(ctx, notify.EventAnalysisFailed, updated, nil,
			fmt.Sprintf("automated review gave up after %d attempts: %v", attempt, cause))
		a.emit(ctx, notify.EventVerificationRejected, updated, []uuid.UUID{updated.ProviderID, updated.BuyerID},
			"proof could not be verified automatically and was rejected")
		return &Outcome{Assignment: updated}, nil
	}

	_, err := a.store.RecordAIFailure(ctx, models.AIFailureParams{
		AssignmentID:   asg.ID,
		ExpectedStatus: asg.Status,
		Error:          cause.Error(),
		NextAttemptAt:  now.Add(a.backoff(attempt)),
		At:             now,
	})
	if errors.Is(err, models.ErrPreconditionFailed) {
		return a.reload(ctx, asg.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("record ai failure: %w", err)
	}
	return nil, fmt.Errorf("%w: %v", models.ErrExternalAnalysisFailure, cause)
}

// backoff doubles from RetryBackoff per attempt, capped at RetryMax.
func (a *Arbiter) backoff(attempt int) time.Duration {
	d := a.opts.RetryBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= a.opts.RetryMax {
			return a.opts.RetryMax
		}
	}
	return min(d, a.opts.RetryMax)
}

func (a *Arbiter) reload(ctx context.Context, id uuid.UUID) (*Outcome, error) {
	asg, err := a.store.GetAssignment(ctx, id)
	if err != nil {
		return nil, err
	}
	return a.existing(ctx, asg)
}

func (a *Arbiter) existing(ctx context.Context, asg *models.Assignment) (*Outcome, error) {
	out := &Outcome{Assignment: asg, AlreadyResolved: true}
	if asg.Status.IsCredited() {
		c, err := a.store.GetCreditByAssignment(ctx, asg.ID)
		switch {
		case err == nil:
			out.Credit = c
		case !errors.Is(err, models.ErrNotFound):
			return nil, err
		}
	}
	return out, nil
}

// credit pays for an approved assignment. A failure here leaves the
// assignment approved but unpaid until ReconcileCredits picks it up.
func (a *Arbiter) credit(ctx context.Context, asg *models.Assignment, reason string) *models.CreditTransaction {
	res, err := a.ledger.Credit(ctx, asg.ProviderID, asg.ID, asg.Payout, reason)
	if err != nil {
		a.log.Error("credit failed, left for reconciliation", "assignment_id", asg.ID, "provider_id", asg.ProviderID, "error", err)
		return nil
	}
	return res.Transaction
}

func (a *Arbiter) emit(ctx context.Context, t notify.EventType, asg *models.Assignment, to []uuid.UUID, msg string) {
	ev := notify.Event{
		Type:         t,
		AssignmentID: asg.ID,
		OrderID:      asg.OrderID,
		ProviderID:   asg.ProviderID,
		BuyerID:      asg.BuyerID,
		Recipients:   to,
		Message:      msg,
		Data:         map[string]any{"status": asg.Status},
		OccurredAt:   asg.UpdatedAt,
	}
	if asg.AIConfidence != nil {
		ev.Data["ai_confidence"] = *asg.AIConfidence
	}
	notify.Emit(ctx, a.notifier, a.log, ev)
}

func visionRequest(asg *models.Assignment) vision.Request {
	req := vision.Request{
		AssignmentID: asg.ID,
		Platform:     asg.Platform,
		ActionType:   asg.ActionType,
		TargetURL:    asg.TargetURL,
		CommentText:  asg.CommentText,
	}
	if asg.ProofURL != nil {
		req.ProofURL = *asg.ProofURL
	}
	return req
}
