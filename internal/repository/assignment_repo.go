package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/engagehub/backend/internal/models"
)

const assignmentColumns = `id, pool_entry_id, order_id, buyer_id, provider_id, action_type, platform, target_url, comment_text,
	payout, status, proof_url, proof_fingerprint, verification_method, verification_reason, ai_confidence,
	ai_attempts, next_ai_attempt_at, last_ai_error, assigned_at, started_at, submitted_at, completed_at, verified_at, updated_at`

type AssignmentRepo struct {
	pool *pgxpool.Pool
}

func NewAssignmentRepo(pool *pgxpool.Pool) *AssignmentRepo {
	return &AssignmentRepo{pool: pool}
}

func scanAssignment(row pgx.Row) (*models.Assignment, error) {
	var a models.Assignment
	err := row.Scan(&a.ID, &a.PoolEntryID, &a.OrderID, &a.BuyerID, &a.ProviderID, &a.ActionType, &a.Platform, &a.TargetURL, &a.CommentText,
		&a.Payout, &a.Status, &a.ProofURL, &a.ProofFingerprint, &a.VerificationMethod, &a.VerificationReason, &a.AIConfidence,
		&a.AIAttempts, &a.NextAIAttemptAt, &a.LastAIError, &a.AssignedAt, &a.StartedAt, &a.SubmittedAt, &a.CompletedAt, &a.VerifiedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AssignmentRepo) GetAssignment(ctx context.Context, id uuid.UUID) (*models.Assignment, error) {
	a, err := scanAssignment(r.pool.QueryRow(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE id = $1`, id))
	if isNoRows(err) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get assignment: %w", err)
	}
	return a, nil
}

// Transition applies p only if the row is still in p.From. A lost race
// returns ErrPreconditionFailed and leaves the row untouched.
func (r *AssignmentRepo) Transition(ctx context.Context, p models.TransitionParams) (*models.Assignment, error) {
	if !models.CanTransition(p.From, p.To) {
		return nil, fmt.Errorf("%w: %s -> %s", models.ErrPreconditionFailed, p.From, p.To)
	}
	st := p.Stamps()
	a, err := scanAssignment(r.pool.QueryRow(ctx, `
		UPDATE assignments SET
			status = $3,
			proof_url = COALESCE($4, proof_url),
			proof_fingerprint = COALESCE($5, proof_fingerprint),
			verification_method = COALESCE($6, verification_method),
			verification_reason = COALESCE($7, verification_reason),
			ai_confidence = COALESCE($8, ai_confidence),
			started_at = COALESCE($9, started_at),
			submitted_at = COALESCE($10, submitted_at),
			completed_at = COALESCE($11, completed_at),
			verified_at = COALESCE($12, verified_at),
			ai_attempts = CASE WHEN $13 THEN 0 ELSE ai_attempts END,
			next_ai_attempt_at = CASE WHEN $13 THEN NULL ELSE next_ai_attempt_at END,
			last_ai_error = CASE WHEN $13 THEN NULL ELSE last_ai_error END,
			updated_at = $14
		WHERE id = $1 AND status = $2
		RETURNING `+assignmentColumns,
		p.AssignmentID, string(p.From), string(p.To),
		p.ProofURL, p.ProofFingerprint, p.VerificationMethod, p.VerificationReason, p.AIConfidence,
		st.StartedAt, st.SubmittedAt, st.CompletedAt, st.VerifiedAt, st.ResetAI, p.At,
	))
	if isNoRows(err) {
		return nil, r.missOrConflict(ctx, p.AssignmentID)
	}
	if err != nil {
		return nil, fmt.Errorf("transition assignment: %w", err)
	}
	return a, nil
}

// RecordAIFailure bumps the retry bookkeeping without touching status.
func (r *AssignmentRepo) RecordAIFailure(ctx context.Context, p models.AIFailureParams) (*models.Assignment, error) {
	a, err := scanAssignment(r.pool.QueryRow(ctx, `
		UPDATE assignments SET
			ai_attempts = ai_attempts + 1,
			last_ai_error = $3,
			next_ai_attempt_at = $4,
			updated_at = $5
		WHERE id = $1 AND status = $2
		RETURNING `+assignmentColumns,
		p.AssignmentID, string(p.ExpectedStatus), p.Error, p.NextAttemptAt, p.At,
	))
	if isNoRows(err) {
		return nil, r.missOrConflict(ctx, p.AssignmentID)
	}
	if err != nil {
		return nil, fmt.Errorf("record ai failure: %w", err)
	}
	return a, nil
}

func (r *AssignmentRepo) missOrConflict(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM assignments WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check assignment: %w", err)
	}
	if !exists {
		return models.ErrNotFound
	}
	return models.ErrPreconditionFailed
}

// HasOtherActive reports whether the provider holds an active assignment for
// the order other than exclude.
func (r *AssignmentRepo) HasOtherActive(ctx context.Context, orderID, providerID, exclude uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM assignments
			WHERE order_id = $1 AND provider_id = $2 AND id <> $3
			  AND status IN ('assigned', 'in_progress', 'pending_verification')
		)
	`, orderID, providerID, exclude).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check active assignment: %w", err)
	}
	return exists, nil
}

func (r *AssignmentRepo) ListAssignmentsByProvider(ctx context.Context, providerID uuid.UUID, limit int) ([]*models.Assignment, error) {
	return r.list(ctx, `
		SELECT `+assignmentColumns+` FROM assignments
		WHERE provider_id = $1 ORDER BY assigned_at DESC LIMIT $2
	`, providerID, limit)
}

// ListDueForAIVerification returns pending assignments submitted at or before
// submittedBefore whose retry backoff, if any, has elapsed at now.
func (r *AssignmentRepo) ListDueForAIVerification(ctx context.Context, submittedBefore, now time.Time, limit int) ([]uuid.UUID, error) {
	return r.listIDs(ctx, `
		SELECT id FROM assignments
		WHERE status = 'pending_verification'
		  AND submitted_at <= $1
		  AND (next_ai_attempt_at IS NULL OR next_ai_attempt_at <= $2)
		ORDER BY submitted_at
		LIMIT $3
	`, submittedBefore, now, limit)
}

// ListDueForReverify returns buyer rejections made at or before rejectedBefore
// whose retry backoff, if any, has elapsed at now.
func (r *AssignmentRepo) ListDueForReverify(ctx context.Context, rejectedBefore, now time.Time, limit int) ([]uuid.UUID, error) {
	return r.listIDs(ctx, `
		SELECT id FROM assignments
		WHERE status = 'rejected_by_buyer'
		  AND verified_at <= $1
		  AND (next_ai_attempt_at IS NULL OR next_ai_attempt_at <= $2)
		ORDER BY verified_at
		LIMIT $3
	`, rejectedBefore, now, limit)
}

// ListUncredited returns assignments in a paid status that have no credit
// transaction yet.
func (r *AssignmentRepo) ListUncredited(ctx context.Context, limit int) ([]*models.Assignment, error) {
	return r.list(ctx, `
		SELECT `+assignmentColumns+` FROM assignments a
		WHERE a.status IN ('approved_by_buyer', 'approved_by_ai', 'ai_reverified_after_rejection')
		  AND NOT EXISTS (SELECT 1 FROM credit_transactions c WHERE c.assignment_id = a.id)
		ORDER BY a.verified_at
		LIMIT $1
	`, limit)
}

func (r *AssignmentRepo) list(ctx context.Context, query string, args ...any) ([]*models.Assignment, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()
	var list []*models.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

func (r *AssignmentRepo) listIDs(ctx context.Context, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list assignment ids: %w", err)
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
