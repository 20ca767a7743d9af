// Package pool turns paid orders into claimable units and hands them out
// under mutual exclusion.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/engagehub/backend/internal/config"
	"github.com/engagehub/backend/internal/models"
	"github.com/engagehub/backend/internal/notify"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Store is the pool persistence. Claim must evaluate the entry precondition,
// the one-active-per-order rule and the assignment insert as one atomic unit.
type Store interface {
	CreateOrderEntries(ctx context.Context, order *models.Order, entries []*models.PoolEntry) (bool, error)
	GetEntry(ctx context.Context, id uuid.UUID) (*models.PoolEntry, error)
	ListAvailable(ctx context.Context, f models.PoolFilter) ([]*models.PoolEntry, error)
	Claim(ctx context.Context, p models.ClaimParams) (*models.Assignment, error)
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

// ProviderLookup resolves a provider's opted-in platforms and actions.
type ProviderLookup interface {
	GetProvider(ctx context.Context, id uuid.UUID) (*models.Provider, error)
}

type Options struct {
	PayoutRatio decimal.Decimal
	EntryTTL    time.Duration
}

type Service struct {
	store     Store
	providers ProviderLookup
	notifier  notify.Notifier
	opts      Options
	log       *slog.Logger

	// NowFunc allows tests to control timestamps.
	NowFunc func() time.Time
}

func NewService(store Store, providers ProviderLookup, notifier notify.Notifier, opts Options, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if !opts.PayoutRatio.IsPositive() {
		opts.PayoutRatio = decimal.NewFromFloat(config.DefaultPayoutRatio)
	}
	if opts.EntryTTL <= 0 {
		opts.EntryTTL = config.DefaultPoolEntryTTL
	}
	return &Service{
		store:     store,
		providers: providers,
		notifier:  notifier,
		opts:      opts,
		log:       log,
		NowFunc:   func() time.Time { return time.Now().UTC() },
	}
}

// Payout is the provider's share of one unit.
func (s *Service) Payout(unitPrice decimal.Decimal) decimal.Decimal {
	return unitPrice.Mul(s.opts.PayoutRatio).Round(2)
}

// CreatePoolEntries creates order.Quantity available entries. Re-delivering an
// order that already exists writes nothing and returns created=false.
func (s *Service) CreatePoolEntries(ctx context.Context, order *models.Order) ([]*models.PoolEntry, bool, error) {
	if order.Quantity <= 0 {
		return nil, false, fmt.Errorf("%w: quantity must be positive", models.ErrInvalidOrder)
	}
	if order.UnitPrice.IsNegative() {
		return nil, false, fmt.Errorf("%w: unit price must not be negative", models.ErrInvalidOrder)
	}
	now := s.NowFunc()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	payout := s.Payout(order.UnitPrice)
	if !payout.IsPositive() {
		return nil, false, fmt.Errorf("%w: unit price %s yields no payout", models.ErrInvalidOrder, order.UnitPrice)
	}
	expires := now.Add(s.opts.EntryTTL)

	entries := make([]*models.PoolEntry, 0, order.Quantity)
	for i := 0; i < order.Quantity; i++ {
		entries = append(entries, &models.PoolEntry{
			ID:          uuid.New(),
			OrderID:     order.ID,
			Platform:    order.Platform,
			ActionType:  order.ActionType,
			TargetURL:   order.TargetURL,
			CommentText: order.CommentText,
			Payout:      payout,
			Status:      models.PoolEntryAvailable,
			CreatedAt:   now,
			ExpiresAt:   expires,
		})
	}

	created, err := s.store.CreateOrderEntries(ctx, order, entries)
	if err != nil {
		return nil, false, fmt.Errorf("create pool entries: %w", err)
	}
	if !created {
		s.log.Info("order already pooled", "order_id", order.ID)
		return nil, false, nil
	}
	s.log.Info("pool entries created", "order_id", order.ID, "count", len(entries), "payout", payout.String())
	return entries, true, nil
}

// ListAvailable returns unexpired entries the provider opted into. Providers
// without stored preferences see everything.
func (s *Service) ListAvailable(ctx context.Context, providerID uuid.UUID, limit int) ([]*models.PoolEntry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	filter := models.PoolFilter{ProviderID: providerID, At: s.NowFunc(), Limit: limit}
	if s.providers != nil {
		p, err := s.providers.GetProvider(ctx, providerID)
		switch {
		case err == nil:
			filter.Platforms = p.Platforms
			filter.ActionTypes = p.ActionTypes
		case !errors.Is(err, models.ErrNotFound):
			return nil, fmt.Errorf("load provider preferences: %w", err)
		}
	}
	return s.store.ListAvailable(ctx, filter)
}

// GetEntry returns one entry while it is still claimable. Claimed and expired
// entries read as ErrAlreadyClaimed and ErrExpired so other providers learn
// nothing about who took them.
func (s *Service) GetEntry(ctx context.Context, entryID uuid.UUID) (*models.PoolEntry, error) {
	e, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if err := e.CheckClaimable(s.NowFunc()); err != nil {
		return nil, err
	}
	return e, nil
}

// Claim atomically takes the entry for the provider and creates its
// assignment. Lost races surface as ErrAlreadyClaimed or ErrExpired and are
// not retried here.
func (s *Service) Claim(ctx context.Context, entryID, providerID uuid.UUID) (*models.Assignment, error) {
	a, err := s.store.Claim(ctx, models.ClaimParams{
		EntryID:      entryID,
		ProviderID:   providerID,
		AssignmentID: uuid.New(),
		At:           s.NowFunc(),
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("pool entry claimed", "entry_id", entryID, "assignment_id", a.ID, "provider_id", providerID)
	notify.Emit(ctx, s.notifier, s.log, notify.Event{
		Type:         notify.EventAssignmentClaimed,
		AssignmentID: a.ID,
		OrderID:      a.OrderID,
		ProviderID:   a.ProviderID,
		BuyerID:      a.BuyerID,
		Recipients:   []uuid.UUID{a.ProviderID},
		Message:      "assignment claimed",
		OccurredAt:   a.AssignedAt,
	})
	return a, nil
}

// ExpireStale retires every elapsed available entry. Safe to run concurrently
// and repeatedly.
func (s *Service) ExpireStale(ctx context.Context) (int64, error) {
	n, err := s.store.ExpireStale(ctx, s.NowFunc())
	if err != nil {
		return 0, fmt.Errorf("expire stale entries: %w", err)
	}
	if n > 0 {
		s.log.Info("pool entries expired", "count", n)
	}
	return n, nil
}
