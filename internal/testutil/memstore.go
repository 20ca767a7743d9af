package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/engagehub/backend/internal/models"
)

// MemStore is an in-memory stand-in for the Postgres repositories. One mutex
// guards everything, so every method is atomic in the same way the matching
// repository transaction is.
type MemStore struct {
	mu sync.Mutex

	Orders       map[uuid.UUID]*models.Order
	Entries      map[uuid.UUID]*models.PoolEntry
	Assignments  map[uuid.UUID]*models.Assignment
	Fingerprints map[fingerprintKey]*models.FingerprintRecord
	FlagTotals   map[uuid.UUID]int
	SuspendedAt  map[uuid.UUID]time.Time
	Balances     map[uuid.UUID]*models.ProviderBalance
	Credits      []*models.CreditTransaction
	Providers    map[uuid.UUID]*models.Provider

	// CreditErr, when set, is returned by Credit without writing anything.
	CreditErr error

	// NowFunc allows tests to control timestamps.
	NowFunc func() time.Time
}

type fingerprintKey struct {
	hash       string
	providerID uuid.UUID
}

// NewMemStore returns a MemStore with empty state.
func NewMemStore() *MemStore {
	return &MemStore{
		Orders:       make(map[uuid.UUID]*models.Order),
		Entries:      make(map[uuid.UUID]*models.PoolEntry),
		Assignments:  make(map[uuid.UUID]*models.Assignment),
		Fingerprints: make(map[fingerprintKey]*models.FingerprintRecord),
		FlagTotals:   make(map[uuid.UUID]int),
		SuspendedAt:  make(map[uuid.UUID]time.Time),
		Balances:     make(map[uuid.UUID]*models.ProviderBalance),
		Providers:    make(map[uuid.UUID]*models.Provider),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (m *MemStore) now() time.Time {
	if m.NowFunc != nil {
		return m.NowFunc()
	}
	return time.Now().UTC()
}

// --- pool ---

func (m *MemStore) CreateOrderEntries(_ context.Context, order *models.Order, entries []*models.PoolEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Orders[order.ID]; ok {
		return false, nil
	}
	o := *order
	m.Orders[o.ID] = &o
	for _, e := range entries {
		cp := *e
		m.Entries[cp.ID] = &cp
	}
	return true, nil
}

func (m *MemStore) GetEntry(_ context.Context, id uuid.UUID) (*models.PoolEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.Entries[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *MemStore) ListAvailable(_ context.Context, f models.PoolFilter) ([]*models.PoolEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.PoolEntry
	for _, e := range m.Entries {
		if !e.IsClaimable(f.At) {
			continue
		}
		if !matches(f.Platforms, e.Platform) || !matches(f.ActionTypes, e.ActionType) {
			continue
		}
		if m.hasActiveLocked(e.OrderID, f.ProviderID, uuid.Nil) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Payout.Cmp(out[j].Payout); c != 0 {
			return c > 0
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemStore) Claim(_ context.Context, p models.ClaimParams) (*models.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.Entries[p.EntryID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if err := e.CheckClaimable(p.At); err != nil {
		return nil, err
	}
	if m.hasActiveLocked(e.OrderID, p.ProviderID, uuid.Nil) {
		return nil, models.ErrDuplicateActiveAssignment
	}
	order, ok := m.Orders[e.OrderID]
	if !ok {
		return nil, models.ErrNotFound
	}

	providerID, assignmentID, at := p.ProviderID, p.AssignmentID, p.At
	e.Status = models.PoolEntryClaimed
	e.ClaimedBy = &providerID
	e.ClaimedAt = &at
	e.AssignmentID = &assignmentID

	a := &models.Assignment{
		ID:          assignmentID,
		PoolEntryID: e.ID,
		OrderID:     e.OrderID,
		BuyerID:     order.BuyerID,
		ProviderID:  providerID,
		ActionType:  e.ActionType,
		Platform:    e.Platform,
		TargetURL:   e.TargetURL,
		CommentText: e.CommentText,
		Payout:      e.Payout,
		Status:      models.AssignmentAssigned,
		AssignedAt:  at,
		UpdatedAt:   at,
	}
	m.Assignments[a.ID] = a
	cp := *a
	return &cp, nil
}

func (m *MemStore) ExpireStale(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, e := range m.Entries {
		if e.Status == models.PoolEntryAvailable && !now.Before(e.ExpiresAt) {
			e.Status = models.PoolEntryExpired
			n++
		}
	}
	return n, nil
}

// --- assignments ---

func (m *MemStore) GetAssignment(_ context.Context, id uuid.UUID) (*models.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.Assignments[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemStore) Transition(_ context.Context, p models.TransitionParams) (*models.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !models.CanTransition(p.From, p.To) {
		return nil, models.ErrPreconditionFailed
	}
	a, ok := m.Assignments[p.AssignmentID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if a.Status != p.From {
		return nil, models.ErrPreconditionFailed
	}
	p.Apply(a)
	cp := *a
	return &cp, nil
}

func (m *MemStore) RecordAIFailure(_ context.Context, p models.AIFailureParams) (*models.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.Assignments[p.AssignmentID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if a.Status != p.ExpectedStatus {
		return nil, models.ErrPreconditionFailed
	}
	msg, next := p.Error, p.NextAttemptAt
	a.AIAttempts++
	a.LastAIError = &msg
	a.NextAIAttemptAt = &next
	a.UpdatedAt = p.At
	cp := *a
	return &cp, nil
}

func (m *MemStore) HasOtherActive(_ context.Context, orderID, providerID, exclude uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasActiveLocked(orderID, providerID, exclude), nil
}

func (m *MemStore) hasActiveLocked(orderID, providerID, exclude uuid.UUID) bool {
	for _, a := range m.Assignments {
		if a.ID != exclude && a.OrderID == orderID && a.ProviderID == providerID && a.Status.IsActive() {
			return true
		}
	}
	return false
}

func (m *MemStore) ListAssignmentsByProvider(_ context.Context, providerID uuid.UUID, limit int) ([]*models.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Assignment
	for _, a := range m.Assignments {
		if a.ProviderID == providerID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssignedAt.After(out[j].AssignedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) ListDueForAIVerification(_ context.Context, submittedBefore, now time.Time, limit int) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dueLocked(models.AssignmentPendingVerification, func(a *models.Assignment) *time.Time { return a.SubmittedAt }, submittedBefore, now, limit), nil
}

func (m *MemStore) ListDueForReverify(_ context.Context, rejectedBefore, now time.Time, limit int) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dueLocked(models.AssignmentRejectedByBuyer, func(a *models.Assignment) *time.Time { return a.VerifiedAt }, rejectedBefore, now, limit), nil
}

func (m *MemStore) dueLocked(status models.AssignmentStatus, stamp func(*models.Assignment) *time.Time, before, now time.Time, limit int) []uuid.UUID {
	var due []*models.Assignment
	for _, a := range m.Assignments {
		ts := stamp(a)
		if a.Status != status || ts == nil || ts.After(before) || a.AIRetryPending(now) {
			continue
		}
		due = append(due, a)
	}
	sort.Slice(due, func(i, j int) bool { return stamp(due[i]).Before(*stamp(due[j])) })
	ids := make([]uuid.UUID, 0, len(due))
	for _, a := range due {
		if limit > 0 && len(ids) == limit {
			break
		}
		ids = append(ids, a.ID)
	}
	return ids
}

func (m *MemStore) ListUncredited(_ context.Context, limit int) ([]*models.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	credited := make(map[uuid.UUID]bool, len(m.Credits))
	for _, c := range m.Credits {
		credited[c.AssignmentID] = true
	}
	var out []*models.Assignment
	for _, a := range m.Assignments {
		if a.Status.IsCredited() && !credited[a.ID] {
			cp := *a
			out = append(out, &cp)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- fingerprints ---

func (m *MemStore) CheckReuse(_ context.Context, hash string, providerID uuid.UUID) (bool, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, seen := m.Fingerprints[fingerprintKey{hash, providerID}]
	return seen, m.FlagTotals[providerID], nil
}

func (m *MemStore) RecordFingerprint(_ context.Context, rec *models.FingerprintRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fingerprintKey{rec.Hash, rec.ProviderID}
	if _, ok := m.Fingerprints[key]; ok {
		return false, nil
	}
	cp := *rec
	cp.FlaggedCount = 0
	m.Fingerprints[key] = &cp
	return true, nil
}

func (m *MemStore) GetFingerprint(_ context.Context, hash string, providerID uuid.UUID) (*models.FingerprintRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.Fingerprints[fingerprintKey{hash, providerID}]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MemStore) FlagReuse(_ context.Context, hash string, providerID uuid.UUID, threshold int, at time.Time) (*models.FlagResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.Fingerprints[fingerprintKey{hash, providerID}]
	if !ok {
		return nil, models.ErrNotFound
	}
	rec.FlaggedCount++
	m.FlagTotals[providerID]++
	res := &models.FlagResult{RecordCount: rec.FlaggedCount, ProviderTotal: m.FlagTotals[providerID]}
	if _, suspended := m.SuspendedAt[providerID]; !suspended && res.ProviderTotal >= threshold {
		m.SuspendedAt[providerID] = at
		res.Suspended = true
	}
	return res, nil
}

// --- ledger ---

func (m *MemStore) Credit(_ context.Context, p models.CreditParams) (*models.CreditTransaction, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreditErr != nil {
		return nil, false, m.CreditErr
	}
	for _, c := range m.Credits {
		if c.AssignmentID == p.AssignmentID {
			cp := *c
			return &cp, true, nil
		}
	}
	b, ok := m.Balances[p.ProviderID]
	if !ok {
		b = &models.ProviderBalance{ProviderID: p.ProviderID, Balance: decimal.Zero}
		m.Balances[p.ProviderID] = b
	}
	c := &models.CreditTransaction{
		ID:            uuid.New(),
		ProviderID:    p.ProviderID,
		AssignmentID:  p.AssignmentID,
		Amount:        p.Amount,
		BalanceBefore: b.Balance,
		BalanceAfter:  b.Balance.Add(p.Amount),
		Reason:        p.Reason,
		CreatedAt:     p.At,
	}
	b.Balance = c.BalanceAfter
	b.UpdatedAt = p.At
	m.Credits = append(m.Credits, c)
	cp := *c
	return &cp, false, nil
}

func (m *MemStore) Balance(_ context.Context, providerID uuid.UUID) (*models.ProviderBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.Balances[providerID]
	if !ok {
		return &models.ProviderBalance{ProviderID: providerID, Balance: decimal.Zero}, nil
	}
	cp := *b
	return &cp, nil
}

func (m *MemStore) GetCreditByAssignment(_ context.Context, assignmentID uuid.UUID) (*models.CreditTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.Credits {
		if c.AssignmentID == assignmentID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *MemStore) ListCreditsByProvider(_ context.Context, providerID uuid.UUID, limit int) ([]*models.CreditTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.CreditTransaction
	for i := len(m.Credits) - 1; i >= 0; i-- {
		if c := m.Credits[i]; c.ProviderID == providerID {
			cp := *c
			out = append(out, &cp)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CreditCount returns how many credit transactions exist for the assignment.
func (m *MemStore) CreditCount(assignmentID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Credits {
		if c.AssignmentID == assignmentID {
			n++
		}
	}
	return n
}

// --- providers ---

func (m *MemStore) GetProvider(_ context.Context, id uuid.UUID) (*models.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Providers[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemStore) UpsertProvider(_ context.Context, p *models.Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.Providers[p.ID]; ok {
		p.CreatedAt = existing.CreatedAt
	} else {
		p.CreatedAt = p.UpdatedAt
	}
	cp := *p
	m.Providers[p.ID] = &cp
	return nil
}

func matches(list []string, v string) bool {
	if len(list) == 0 {
		return true
	}
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
