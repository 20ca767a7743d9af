package verification

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/engagehub/backend/internal/models"
)

// SweepResult counts what one sweep did.
type SweepResult struct {
	Due      int
	Resolved int
	Failed   int
}

// SweepAIVerification runs the AI fallback on every pending submission whose
// review window has closed. Safe to run concurrently with itself: overlapping
// runs lose the conditional write and see AlreadyResolved.
func (a *Arbiter) SweepAIVerification(ctx context.Context, limit int) (SweepResult, error) {
	now := a.NowFunc()
	ids, err := a.store.ListDueForAIVerification(ctx, now.Add(-a.opts.ReviewWindow), now, limit)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list due for ai verification: %w", err)
	}
	res := SweepResult{Due: len(ids)}
	for _, id := range ids {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		out, err := a.PerformAIVerification(ctx, id, false)
		res.count(out, err)
		if err != nil && !errors.Is(err, models.ErrNotEligible) {
			a.log.Warn("ai sweep item failed", "assignment_id", id, "error", err)
		}
	}
	a.log.Info("ai verification sweep done", "due", res.Due, "resolved", res.Resolved, "failed", res.Failed)
	return res, nil
}

// SweepReverifications re-reviews buyer rejections older than the delay.
func (a *Arbiter) SweepReverifications(ctx context.Context, limit int) (SweepResult, error) {
	now := a.NowFunc()
	ids, err := a.store.ListDueForReverify(ctx, now.Add(-a.opts.ReverifyDelay), now, limit)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list due for reverify: %w", err)
	}
	res := SweepResult{Due: len(ids)}
	for _, id := range ids {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		out, err := a.ReVerifyBuyerRejection(ctx, id, uuid.Nil)
		res.count(out, err)
		if err != nil && !errors.Is(err, models.ErrNotEligible) {
			a.log.Warn("reverify sweep item failed", "assignment_id", id, "error", err)
		}
	}
	a.log.Info("reverify sweep done", "due", res.Due, "resolved", res.Resolved, "failed", res.Failed)
	return res, nil
}

// ReconcileCredits pays approved assignments that have no credit row, which
// happens when the process dies between a transition and its credit.
func (a *Arbiter) ReconcileCredits(ctx context.Context, limit int) (int, error) {
	unpaid, err := a.store.ListUncredited(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list uncredited: %w", err)
	}
	paid := 0
	for _, asg := range unpaid {
		if c := a.credit(ctx, asg, creditReason(asg.Status)); c != nil {
			paid++
		}
	}
	if len(unpaid) > 0 {
		a.log.Warn("reconciled missing credits", "found", len(unpaid), "paid", paid)
	}
	return paid, nil
}

func creditReason(s models.AssignmentStatus) string {
	switch s {
	case models.AssignmentApprovedByAI:
		return models.CreditReasonAIApproval
	case models.AssignmentAIReverified:
		return models.CreditReasonAIReversal
	}
	return models.CreditReasonBuyerApproval
}

func (r *SweepResult) count(out *Outcome, err error) {
	if err != nil {
		r.Failed++
		return
	}
	if out != nil && !out.AlreadyResolved {
		r.Resolved++
	}
}
