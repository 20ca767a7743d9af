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

const poolEntryColumns = `id, order_id, platform, action_type, target_url, comment_text, payout, status,
	claimed_by, claimed_at, assignment_id, created_at, expires_at`

type PoolRepo struct {
	pool *pgxpool.Pool
}

func NewPoolRepo(pool *pgxpool.Pool) *PoolRepo {
	return &PoolRepo{pool: pool}
}

func scanPoolEntry(row pgx.Row) (*models.PoolEntry, error) {
	var p models.PoolEntry
	err := row.Scan(&p.ID, &p.OrderID, &p.Platform, &p.ActionType, &p.TargetURL, &p.CommentText, &p.Payout, &p.Status,
		&p.ClaimedBy, &p.ClaimedAt, &p.AssignmentID, &p.CreatedAt, &p.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateOrderEntries inserts the order and its pool entries in one transaction.
// A re-delivered order is a no-op and reports created=false.
func (r *PoolRepo) CreateOrderEntries(ctx context.Context, order *models.Order, entries []*models.PoolEntry) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := insertOrderTx(ctx, tx, order)
	if err != nil || !created {
		return false, err
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`
			INSERT INTO pool_entries (id, order_id, platform, action_type, target_url, comment_text, payout, status, created_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, e.ID, e.OrderID, e.Platform, e.ActionType, e.TargetURL, e.CommentText, e.Payout, string(e.Status), e.CreatedAt, e.ExpiresAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return false, fmt.Errorf("insert pool entries: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

func (r *PoolRepo) GetEntry(ctx context.Context, id uuid.UUID) (*models.PoolEntry, error) {
	p, err := scanPoolEntry(r.pool.QueryRow(ctx, `SELECT `+poolEntryColumns+` FROM pool_entries WHERE id = $1`, id))
	if isNoRows(err) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pool entry: %w", err)
	}
	return p, nil
}

// ListAvailable returns unexpired available entries matching the filter,
// skipping orders the provider already holds an active assignment for.
func (r *PoolRepo) ListAvailable(ctx context.Context, f models.PoolFilter) ([]*models.PoolEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+poolEntryColumns+`
		FROM pool_entries pe
		WHERE pe.status = 'available'
		  AND pe.expires_at > $1
		  AND (cardinality($2::text[]) = 0 OR pe.platform = ANY($2))
		  AND (cardinality($3::text[]) = 0 OR pe.action_type = ANY($3))
		  AND NOT EXISTS (
			SELECT 1 FROM assignments a
			WHERE a.order_id = pe.order_id AND a.provider_id = $4
			  AND a.status IN ('assigned', 'in_progress', 'pending_verification')
		  )
		ORDER BY pe.payout DESC, pe.created_at
		LIMIT $5
	`, f.At, emptyIfNil(f.Platforms), emptyIfNil(f.ActionTypes), f.ProviderID, f.Limit)
	if err != nil {
		return nil, fmt.Errorf("list pool entries: %w", err)
	}
	defer rows.Close()
	var list []*models.PoolEntry
	for rows.Next() {
		p, err := scanPoolEntry(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// Claim runs the whole claim as one transaction: lock the entry, check the
// one-active-per-order rule, flip the entry to claimed and insert the
// assignment. The partial unique index backs up the duplicate check when two
// claims for different entries of the same order race.
func (r *PoolRepo) Claim(ctx context.Context, p models.ClaimParams) (*models.Assignment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	entry, err := scanPoolEntry(tx.QueryRow(ctx, `SELECT `+poolEntryColumns+` FROM pool_entries WHERE id = $1 FOR UPDATE`, p.EntryID))
	if isNoRows(err) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock pool entry: %w", err)
	}
	if err := entry.CheckClaimable(p.At); err != nil {
		return nil, err
	}

	var buyerID uuid.UUID
	if err := tx.QueryRow(ctx, `SELECT buyer_id FROM orders WHERE id = $1`, entry.OrderID).Scan(&buyerID); err != nil {
		return nil, fmt.Errorf("get order buyer: %w", err)
	}

	var duplicate bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM assignments
			WHERE order_id = $1 AND provider_id = $2
			  AND status IN ('assigned', 'in_progress', 'pending_verification')
		)
	`, entry.OrderID, p.ProviderID).Scan(&duplicate)
	if err != nil {
		return nil, fmt.Errorf("check active assignment: %w", err)
	}
	if duplicate {
		return nil, models.ErrDuplicateActiveAssignment
	}

	tag, err := tx.Exec(ctx, `
		UPDATE pool_entries
		SET status = 'claimed', claimed_by = $2, claimed_at = $3, assignment_id = $4
		WHERE id = $1 AND status = 'available'
	`, entry.ID, p.ProviderID, p.At, p.AssignmentID)
	if err != nil {
		return nil, fmt.Errorf("claim pool entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, models.ErrAlreadyClaimed
	}

	a := &models.Assignment{
		ID:          p.AssignmentID,
		PoolEntryID: entry.ID,
		OrderID:     entry.OrderID,
		BuyerID:     buyerID,
		ProviderID:  p.ProviderID,
		ActionType:  entry.ActionType,
		Platform:    entry.Platform,
		TargetURL:   entry.TargetURL,
		CommentText: entry.CommentText,
		Payout:      entry.Payout,
		Status:      models.AssignmentAssigned,
		AssignedAt:  p.At,
		UpdatedAt:   p.At,
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO assignments (id, pool_entry_id, order_id, buyer_id, provider_id, action_type, platform, target_url, comment_text, payout, status, assigned_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, a.ID, a.PoolEntryID, a.OrderID, a.BuyerID, a.ProviderID, a.ActionType, a.Platform, a.TargetURL, a.CommentText, a.Payout, string(a.Status), a.AssignedAt, a.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, activeAssignmentIndex) {
			return nil, models.ErrDuplicateActiveAssignment
		}
		return nil, fmt.Errorf("insert assignment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return a, nil
}

// ExpireStale flips every elapsed available entry to expired.
func (r *PoolRepo) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE pool_entries SET status = 'expired'
		WHERE status = 'available' AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("expire pool entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// insertOrderTx inserts the order unless it already exists. It reports whether
// a new row was written.
func insertOrderTx(ctx context.Context, tx pgx.Tx, o *models.Order) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO orders (id, buyer_id, service_type, platform, action_type, target_url, comment_text, quantity, unit_price, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`, o.ID, o.BuyerID, o.ServiceType, o.Platform, o.ActionType, o.TargetURL, o.CommentText, o.Quantity, o.UnitPrice, o.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert order: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
