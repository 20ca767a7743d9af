package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/engagehub/backend/internal/models"
)

const creditColumns = `id, provider_id, assignment_id, amount, balance_before, balance_after, reason, created_at`

type CreditRepo struct {
	pool *pgxpool.Pool
}

func NewCreditRepo(pool *pgxpool.Pool) *CreditRepo {
	return &CreditRepo{pool: pool}
}

func scanCredit(row pgx.Row) (*models.CreditTransaction, error) {
	var c models.CreditTransaction
	if err := row.Scan(&c.ID, &c.ProviderID, &c.AssignmentID, &c.Amount, &c.BalanceBefore, &c.BalanceAfter, &c.Reason, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// Credit locks the provider's balance row, then either returns the existing
// transaction for the assignment (duplicate=true) or writes the new balance and
// the transaction row. Credits for one assignment always hit the same provider
// row, so the lock serialises them.
func (r *CreditRepo) Credit(ctx context.Context, p models.CreditParams) (*models.CreditTransaction, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO provider_balances (provider_id, balance, updated_at)
		VALUES ($1, 0, $2)
		ON CONFLICT (provider_id) DO NOTHING
	`, p.ProviderID, p.At)
	if err != nil {
		return nil, false, fmt.Errorf("ensure balance row: %w", err)
	}

	var before decimal.Decimal
	err = tx.QueryRow(ctx, `SELECT balance FROM provider_balances WHERE provider_id = $1 FOR UPDATE`, p.ProviderID).Scan(&before)
	if err != nil {
		return nil, false, fmt.Errorf("lock balance: %w", err)
	}

	existing, err := scanCredit(tx.QueryRow(ctx, `SELECT `+creditColumns+` FROM credit_transactions WHERE assignment_id = $1`, p.AssignmentID))
	if err == nil {
		return existing, true, nil
	}
	if !isNoRows(err) {
		return nil, false, fmt.Errorf("check existing credit: %w", err)
	}

	after := before.Add(p.Amount)
	_, err = tx.Exec(ctx, `UPDATE provider_balances SET balance = $2, updated_at = $3 WHERE provider_id = $1`, p.ProviderID, after, p.At)
	if err != nil {
		return nil, false, fmt.Errorf("update balance: %w", err)
	}

	c, err := scanCredit(tx.QueryRow(ctx, `
		INSERT INTO credit_transactions (id, provider_id, assignment_id, amount, balance_before, balance_after, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+creditColumns,
		uuid.New(), p.ProviderID, p.AssignmentID, p.Amount, before, after, p.Reason, p.At,
	))
	if err != nil {
		if isUniqueViolation(err, "") {
			return nil, false, fmt.Errorf("%w: credit already exists for assignment %s", models.ErrPreconditionFailed, p.AssignmentID)
		}
		return nil, false, fmt.Errorf("insert credit transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit: %w", err)
	}
	return c, false, nil
}

// Balance returns a zero balance for providers never credited.
func (r *CreditRepo) Balance(ctx context.Context, providerID uuid.UUID) (*models.ProviderBalance, error) {
	b := models.ProviderBalance{ProviderID: providerID, Balance: decimal.Zero}
	err := r.pool.QueryRow(ctx, `SELECT balance, updated_at FROM provider_balances WHERE provider_id = $1`, providerID).Scan(&b.Balance, &b.UpdatedAt)
	if err != nil && !isNoRows(err) {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return &b, nil
}

func (r *CreditRepo) GetCreditByAssignment(ctx context.Context, assignmentID uuid.UUID) (*models.CreditTransaction, error) {
	c, err := scanCredit(r.pool.QueryRow(ctx, `SELECT `+creditColumns+` FROM credit_transactions WHERE assignment_id = $1`, assignmentID))
	if isNoRows(err) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get credit: %w", err)
	}
	return c, nil
}

func (r *CreditRepo) ListCreditsByProvider(ctx context.Context, providerID uuid.UUID, limit int) ([]*models.CreditTransaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+creditColumns+` FROM credit_transactions
		WHERE provider_id = $1 ORDER BY created_at DESC LIMIT $2
	`, providerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list credits: %w", err)
	}
	defer rows.Close()
	var list []*models.CreditTransaction
	for rows.Next() {
		c, err := scanCredit(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}
