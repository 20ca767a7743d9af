package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engagehub/backend/internal/models"
	"github.com/engagehub/backend/internal/notify"
	"github.com/engagehub/backend/internal/testutil"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *testutil.MemStore, *testutil.Clock, *testutil.RecordingNotifier) {
	t.Helper()
	store := testutil.NewMemStore()
	clock := testutil.NewClock(t0)
	store.NowFunc = clock.Now
	rec := &testutil.RecordingNotifier{}
	svc := NewService(store, store, rec, Options{PayoutRatio: decimal.RequireFromString("0.5"), EntryTTL: 7 * 24 * time.Hour}, nil)
	svc.NowFunc = clock.Now
	return svc, store, clock, rec
}

func testOrder(qty int, price string) *models.Order {
	return &models.Order{
		ID:          uuid.New(),
		BuyerID:     uuid.New(),
		ServiceType: "instagram_like",
		Platform:    models.PlatformInstagram,
		ActionType:  models.ActionLike,
		TargetURL:   "https://instagram.com/p/abc",
		Quantity:    qty,
		UnitPrice:   decimal.RequireFromString(price),
	}
}

func TestCreatePoolEntries(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	order := testOrder(3, "10.00")
	entries, created, err := svc.CreatePoolEntries(ctx, order)
	require.NoError(t, err)
	require.True(t, created)
	require.Len(t, entries, 3)
	for _, e := range entries {
		assert.Equal(t, models.PoolEntryAvailable, e.Status)
		assert.True(t, e.Payout.Equal(decimal.RequireFromString("5.00")))
		assert.Equal(t, t0.Add(7*24*time.Hour), e.ExpiresAt)
	}
	assert.Len(t, store.Entries, 3)
}

func TestCreatePoolEntries_RedeliveryIsNoop(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	order := testOrder(2, "1.00")
	_, _, err := svc.CreatePoolEntries(ctx, order)
	require.NoError(t, err)

	entries, created, err := svc.CreatePoolEntries(ctx, order)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Nil(t, entries)
	assert.Len(t, store.Entries, 2)
}

func TestCreatePoolEntries_Invalid(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	_, _, err := svc.CreatePoolEntries(context.Background(), testOrder(0, "1.00"))
	assert.ErrorIs(t, err, models.ErrInvalidOrder)
	_, _, err = svc.CreatePoolEntries(context.Background(), testOrder(1, "-1.00"))
	assert.ErrorIs(t, err, models.ErrInvalidOrder)
}

func TestCreatePoolEntries_SubCentPayoutRejected(t *testing.T) {
	svc, store, _, _ := newTestService(t)

	entries, created, err := svc.CreatePoolEntries(context.Background(), testOrder(2, "0.009"))
	require.ErrorIs(t, err, models.ErrInvalidOrder)
	assert.False(t, created)
	assert.Nil(t, entries)
	assert.Empty(t, store.Entries)
	assert.Empty(t, store.Orders)

	// 0.01 * 0.5 rounds to 0.01, the smallest payable amount.
	entries, created, err = svc.CreatePoolEntries(context.Background(), testOrder(1, "0.01"))
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, "0.01", entries[0].Payout.StringFixed(2))
}

func TestPayout_RoundsToCents(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	assert.Equal(t, "0.63", svc.Payout(decimal.RequireFromString("1.25")).StringFixed(2))
}

func TestClaim_HappyPath(t *testing.T) {
	svc, store, _, rec := newTestService(t)
	ctx := context.Background()

	order := testOrder(1, "10.00")
	entries, _, err := svc.CreatePoolEntries(ctx, order)
	require.NoError(t, err)

	provider := uuid.New()
	a, err := svc.Claim(ctx, entries[0].ID, provider)
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentAssigned, a.Status)
	assert.Equal(t, order.BuyerID, a.BuyerID)
	assert.True(t, a.Payout.Equal(decimal.RequireFromString("5.00")))

	e, err := store.GetEntry(ctx, entries[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.PoolEntryClaimed, e.Status)
	require.NotNil(t, e.AssignmentID)
	assert.Equal(t, a.ID, *e.AssignmentID)
	assert.Equal(t, 1, rec.Count(notify.EventAssignmentClaimed))
}

func TestClaim_ConcurrentExactlyOneWinner(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	entries, _, err := svc.CreatePoolEntries(ctx, testOrder(1, "2.00"))
	require.NoError(t, err)

	const claimants = 25
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, lost := 0, 0
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Claim(ctx, entries[0].ID, uuid.New())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, models.ErrAlreadyClaimed):
				lost++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, claimants-1, lost)
	assert.Len(t, store.Assignments, 1)
}

func TestClaim_DuplicateActiveAssignment(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	entries, _, err := svc.CreatePoolEntries(ctx, testOrder(3, "2.00"))
	require.NoError(t, err)
	provider := uuid.New()

	_, err = svc.Claim(ctx, entries[0].ID, provider)
	require.NoError(t, err)

	_, err = svc.Claim(ctx, entries[1].ID, provider)
	assert.ErrorIs(t, err, models.ErrDuplicateActiveAssignment)

	e, _ := store.GetEntry(ctx, entries[1].ID)
	assert.Equal(t, models.PoolEntryAvailable, e.Status, "a rejected claim must not consume the entry")

	// another provider is unaffected
	_, err = svc.Claim(ctx, entries[1].ID, uuid.New())
	assert.NoError(t, err)
}

func TestClaim_ConcurrentSameProviderSameOrder(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	entries, _, err := svc.CreatePoolEntries(ctx, testOrder(10, "2.00"))
	require.NoError(t, err)
	provider := uuid.New()

	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			_, _ = svc.Claim(ctx, id, provider)
		}(e.ID)
	}
	wg.Wait()

	active := 0
	for _, a := range store.Assignments {
		if a.ProviderID == provider && a.Status.IsActive() {
			active++
		}
	}
	assert.Equal(t, 1, active)
}

func TestClaim_AllowedAgainAfterResolution(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	entries, _, err := svc.CreatePoolEntries(ctx, testOrder(2, "2.00"))
	require.NoError(t, err)
	provider := uuid.New()

	a, err := svc.Claim(ctx, entries[0].ID, provider)
	require.NoError(t, err)
	store.Assignments[a.ID].Status = models.AssignmentApprovedByBuyer

	_, err = svc.Claim(ctx, entries[1].ID, provider)
	assert.NoError(t, err)
}

func TestClaim_ExpiredAndMissing(t *testing.T) {
	svc, _, clock, _ := newTestService(t)
	ctx := context.Background()

	entries, _, err := svc.CreatePoolEntries(ctx, testOrder(1, "2.00"))
	require.NoError(t, err)

	_, err = svc.Claim(ctx, uuid.New(), uuid.New())
	assert.ErrorIs(t, err, models.ErrNotFound)

	clock.Advance(7*24*time.Hour + time.Second)
	_, err = svc.Claim(ctx, entries[0].ID, uuid.New())
	assert.ErrorIs(t, err, models.ErrExpired)
}

func TestGetEntry(t *testing.T) {
	svc, _, clock, _ := newTestService(t)
	ctx := context.Background()
	entries, _, err := svc.CreatePoolEntries(ctx, testOrder(2, "1.00"))
	require.NoError(t, err)

	e, err := svc.GetEntry(ctx, entries[0].ID)
	require.NoError(t, err)
	assert.Equal(t, entries[0].ID, e.ID)

	_, err = svc.Claim(ctx, entries[0].ID, uuid.New())
	require.NoError(t, err)
	_, err = svc.GetEntry(ctx, entries[0].ID)
	assert.ErrorIs(t, err, models.ErrAlreadyClaimed)

	clock.Advance(8 * 24 * time.Hour)
	_, err = svc.GetEntry(ctx, entries[1].ID)
	assert.ErrorIs(t, err, models.ErrExpired)

	_, err = svc.GetEntry(ctx, uuid.New())
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestListAvailable_FiltersByPreferencesAndExpiry(t *testing.T) {
	svc, store, clock, _ := newTestService(t)
	ctx := context.Background()

	like := testOrder(1, "4.00")
	follow := testOrder(1, "8.00")
	follow.ActionType = models.ActionFollow
	tiktok := testOrder(1, "6.00")
	tiktok.Platform = models.PlatformTikTok
	for _, o := range []*models.Order{like, follow, tiktok} {
		_, _, err := svc.CreatePoolEntries(ctx, o)
		require.NoError(t, err)
	}

	provider := uuid.New()
	// no preferences: everything, highest payout first
	list, err := svc.ListAvailable(ctx, provider, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, follow.ID, list[0].OrderID)

	require.NoError(t, store.UpsertProvider(ctx, &models.Provider{
		ID:          provider,
		Platforms:   []string{models.PlatformInstagram},
		ActionTypes: []string{models.ActionLike},
		UpdatedAt:   t0,
	}))
	list, err = svc.ListAvailable(ctx, provider, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, like.ID, list[0].OrderID)

	clock.Advance(8 * 24 * time.Hour)
	list, err = svc.ListAvailable(ctx, provider, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestListAvailable_HidesOrdersWithActiveAssignment(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	entries, _, err := svc.CreatePoolEntries(ctx, testOrder(2, "2.00"))
	require.NoError(t, err)
	provider := uuid.New()
	_, err = svc.Claim(ctx, entries[0].ID, provider)
	require.NoError(t, err)

	list, err := svc.ListAvailable(ctx, provider, 0)
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = svc.ListAvailable(ctx, uuid.New(), 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestExpireStale_Idempotent(t *testing.T) {
	svc, store, clock, _ := newTestService(t)
	ctx := context.Background()

	entries, _, err := svc.CreatePoolEntries(ctx, testOrder(3, "2.00"))
	require.NoError(t, err)
	_, err = svc.Claim(ctx, entries[0].ID, uuid.New())
	require.NoError(t, err)

	n, err := svc.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clock.Advance(7 * 24 * time.Hour)
	n, err = svc.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = svc.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	e, _ := store.GetEntry(ctx, entries[0].ID)
	assert.Equal(t, models.PoolEntryClaimed, e.Status, "claimed entries never expire")
}
