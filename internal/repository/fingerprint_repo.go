package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/engagehub/backend/internal/models"
)

type FingerprintRepo struct {
	pool *pgxpool.Pool
}

func NewFingerprintRepo(pool *pgxpool.Pool) *FingerprintRepo {
	return &FingerprintRepo{pool: pool}
}

// CheckReuse reports whether (hash, provider) was seen before and the
// provider's cumulative flag total.
func (r *FingerprintRepo) CheckReuse(ctx context.Context, hash string, providerID uuid.UUID) (bool, int, error) {
	var seen bool
	var total int
	err := r.pool.QueryRow(ctx, `
		SELECT
			EXISTS (SELECT 1 FROM fingerprint_records WHERE hash = $1 AND provider_id = $2),
			COALESCE((SELECT flagged_total FROM provider_fraud WHERE provider_id = $2), 0)
	`, hash, providerID).Scan(&seen, &total)
	if err != nil {
		return false, 0, fmt.Errorf("check fingerprint: %w", err)
	}
	return seen, total, nil
}

// RecordFingerprint stores the first sighting of (hash, provider). Later sightings keep
// the original row and report inserted=false.
func (r *FingerprintRepo) RecordFingerprint(ctx context.Context, rec *models.FingerprintRecord) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO fingerprint_records (hash, provider_id, assignment_id, flagged_count, first_seen_at)
		VALUES ($1, $2, $3, 0, $4)
		ON CONFLICT (hash, provider_id) DO NOTHING
	`, rec.Hash, rec.ProviderID, rec.AssignmentID, rec.FirstSeenAt)
	if err != nil {
		return false, fmt.Errorf("record fingerprint: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// FlagReuse increments the record and the provider total together, and sets
// suspended_at the first time the total reaches threshold.
func (r *FingerprintRepo) FlagReuse(ctx context.Context, hash string, providerID uuid.UUID, threshold int, at time.Time) (*models.FlagResult, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var res models.FlagResult
	err = tx.QueryRow(ctx, `
		UPDATE fingerprint_records SET flagged_count = flagged_count + 1
		WHERE hash = $1 AND provider_id = $2
		RETURNING flagged_count
	`, hash, providerID).Scan(&res.RecordCount)
	if isNoRows(err) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("flag fingerprint: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO provider_fraud (provider_id, flagged_total, updated_at)
		VALUES ($1, 1, $2)
		ON CONFLICT (provider_id) DO UPDATE
		SET flagged_total = provider_fraud.flagged_total + 1, updated_at = $2
		RETURNING flagged_total
	`, providerID, at).Scan(&res.ProviderTotal)
	if err != nil {
		return nil, fmt.Errorf("bump provider flag total: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE provider_fraud SET suspended_at = $2
		WHERE provider_id = $1 AND suspended_at IS NULL AND flagged_total >= $3
	`, providerID, at, threshold)
	if err != nil {
		return nil, fmt.Errorf("mark suspension: %w", err)
	}
	res.Suspended = tag.RowsAffected() == 1

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &res, nil
}
