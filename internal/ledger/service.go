package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/engagehub/backend/internal/models"
)

// ErrInvalidAmount is returned for zero or negative credits.
var ErrInvalidAmount = errors.New("credit amount must be positive")

// Store is the balance and transaction persistence. Credit must be a single
// atomic unit that returns the existing row (duplicate=true) when the
// assignment was already paid.
type Store interface {
	Credit(ctx context.Context, p models.CreditParams) (*models.CreditTransaction, bool, error)
	Balance(ctx context.Context, providerID uuid.UUID) (*models.ProviderBalance, error)
	ListCreditsByProvider(ctx context.Context, providerID uuid.UUID, limit int) ([]*models.CreditTransaction, error)
}

// Result of a credit call. Duplicate means the assignment had already been
// paid and Transaction is the original row.
type Result struct {
	Transaction *models.CreditTransaction
	Duplicate   bool
}

type Service interface {
	Credit(ctx context.Context, providerID, assignmentID uuid.UUID, amount decimal.Decimal, reason string) (*Result, error)
	Balance(ctx context.Context, providerID uuid.UUID) (*models.ProviderBalance, error)
	History(ctx context.Context, providerID uuid.UUID, limit int) ([]*models.CreditTransaction, error)
}

type service struct {
	store Store
	log   *slog.Logger
	now   func() time.Time
}

func NewService(store Store, log *slog.Logger) Service {
	if log == nil {
		log = slog.Default()
	}
	return &service{store: store, log: log, now: func() time.Time { return time.Now().UTC() }}
}

var _ Service = (*service)(nil)

// Credit pays the provider for one assignment exactly once. Every path that
// approves work funnels through here, so retries and races between them are
// safe.
func (s *service) Credit(ctx context.Context, providerID, assignmentID uuid.UUID, amount decimal.Decimal, reason string) (*Result, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	tx, dup, err := s.store.Credit(ctx, models.CreditParams{
		ProviderID:   providerID,
		AssignmentID: assignmentID,
		Amount:       amount,
		Reason:       reason,
		At:           s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("credit assignment %s: %w", assignmentID, err)
	}
	if dup {
		s.log.Info("credit already applied", "assignment_id", assignmentID, "provider_id", providerID, "reason", tx.Reason)
	} else {
		s.log.Info("provider credited",
			"assignment_id", assignmentID,
			"provider_id", providerID,
			"amount", tx.Amount.String(),
			"balance_after", tx.BalanceAfter.String(),
			"reason", reason,
		)
	}
	return &Result{Transaction: tx, Duplicate: dup}, nil
}

func (s *service) Balance(ctx context.Context, providerID uuid.UUID) (*models.ProviderBalance, error) {
	return s.store.Balance(ctx, providerID)
}

func (s *service) History(ctx context.Context, providerID uuid.UUID, limit int) ([]*models.CreditTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListCreditsByProvider(ctx, providerID, limit)
}
