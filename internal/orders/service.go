// Package orders accepts paid orders from the payment side and hands them to
// the pool.
package orders

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/engagehub/backend/internal/models"
)

// PoolCreator is the pool operation intake feeds.
type PoolCreator interface {
	CreatePoolEntries(ctx context.Context, order *models.Order) ([]*models.PoolEntry, bool, error)
}

type Result struct {
	OrderID uuid.UUID `json:"order_id"`
	// Created is false when the order had already been delivered.
	Created bool `json:"created"`
	Entries int  `json:"entries"`
}

type Intake struct {
	validator *Validator
	pool      PoolCreator
	log       *slog.Logger
}

func NewIntake(v *Validator, pool PoolCreator, log *slog.Logger) *Intake {
	if log == nil {
		log = slog.Default()
	}
	return &Intake{validator: v, pool: pool, log: log}
}

// HandleOrderPaid validates one OrderPaid payload and creates its pool
// entries. Safe to call again with the same payload.
func (i *Intake) HandleOrderPaid(ctx context.Context, raw []byte) (*Result, error) {
	ev, err := i.validator.Parse(raw)
	if err != nil {
		i.log.Warn("order payload rejected", "error", err)
		return nil, err
	}
	entries, created, err := i.pool.CreatePoolEntries(ctx, ev.Order())
	if err != nil {
		return nil, err
	}
	return &Result{OrderID: ev.OrderID, Created: created, Entries: len(entries)}, nil
}
