package assignments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engagehub/backend/internal/fraud"
	"github.com/engagehub/backend/internal/models"
	"github.com/engagehub/backend/internal/notify"
	"github.com/engagehub/backend/internal/testutil"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeUploader struct {
	keys []string
	err  error
}

func (f *fakeUploader) Upload(_ context.Context, key string, _ []byte, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.keys = append(f.keys, key)
	return "https://cdn.example.com/" + key, nil
}

type fakeScheduler struct {
	at  map[uuid.UUID]time.Time
	err error
}

func (f *fakeScheduler) ScheduleAIVerification(_ context.Context, id uuid.UUID, at time.Time) error {
	if f.err != nil {
		return f.err
	}
	f.at[id] = at
	return nil
}

type fixture struct {
	svc      *Service
	store    *testutil.MemStore
	clock    *testutil.Clock
	rec      *testutil.RecordingNotifier
	uploader *fakeUploader
	sched    *fakeScheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := testutil.NewMemStore()
	clock := testutil.NewClock(t0)
	store.NowFunc = clock.Now
	rec := &testutil.RecordingNotifier{}
	fr := fraud.NewService(store, nil, rec, 5, nil)
	fr.NowFunc = clock.Now
	f := &fixture{
		store:    store,
		clock:    clock,
		rec:      rec,
		uploader: &fakeUploader{},
		sched:    &fakeScheduler{at: make(map[uuid.UUID]time.Time)},
	}
	f.svc = NewService(Deps{
		Store:        store,
		Fraud:        fr,
		Uploader:     f.uploader,
		Scheduler:    f.sched,
		Notifier:     rec,
		ReviewWindow: 48 * time.Hour,
	})
	f.svc.NowFunc = clock.Now
	return f
}

func (f *fixture) seed(providerID uuid.UUID, status models.AssignmentStatus) *models.Assignment {
	a := &models.Assignment{
		ID:          uuid.New(),
		PoolEntryID: uuid.New(),
		OrderID:     uuid.New(),
		BuyerID:     uuid.New(),
		ProviderID:  providerID,
		ActionType:  models.ActionLike,
		Platform:    models.PlatformInstagram,
		TargetURL:   "https://instagram.com/p/abc",
		Payout:      decimal.RequireFromString("5.00"),
		Status:      status,
		AssignedAt:  f.clock.Now(),
		UpdatedAt:   f.clock.Now(),
	}
	f.store.Assignments[a.ID] = a
	return a
}

func TestStart(t *testing.T) {
	f := newFixture(t)
	provider := uuid.New()
	a := f.seed(provider, models.AssignmentAssigned)

	got, err := f.svc.Start(context.Background(), a.ID, provider)
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentInProgress, got.Status)
	require.NotNil(t, got.StartedAt)
	assert.Equal(t, t0, *got.StartedAt)
}

func TestStart_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	provider := uuid.New()

	a := f.seed(provider, models.AssignmentAssigned)
	_, err := f.svc.Start(ctx, a.ID, uuid.New())
	assert.ErrorIs(t, err, models.ErrOwnershipMismatch)

	running := f.seed(provider, models.AssignmentInProgress)
	_, err = f.svc.Start(ctx, running.ID, provider)
	assert.ErrorIs(t, err, models.ErrNotAssignable)

	_, err = f.svc.Start(ctx, uuid.New(), provider)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestStart_DuplicateActiveOnSameOrder(t *testing.T) {
	f := newFixture(t)
	provider := uuid.New()
	a := f.seed(provider, models.AssignmentAssigned)
	other := f.seed(provider, models.AssignmentInProgress)
	other.OrderID = a.OrderID

	_, err := f.svc.Start(context.Background(), a.ID, provider)
	assert.ErrorIs(t, err, models.ErrDuplicateActiveAssignment)
	assert.Equal(t, models.AssignmentAssigned, f.store.Assignments[a.ID].Status)
}

func TestSubmitProof_FreshContent(t *testing.T) {
	f := newFixture(t)
	provider := uuid.New()
	a := f.seed(provider, models.AssignmentInProgress)

	res, err := f.svc.SubmitProof(context.Background(), SubmitProofInput{
		AssignmentID: a.ID,
		ProviderID:   provider,
		Content:      []byte("screenshot-1"),
		ContentType:  "image/png",
	})
	require.NoError(t, err)
	assert.False(t, res.Flagged)
	assert.Equal(t, models.AssignmentPendingVerification, res.Assignment.Status)
	require.NotNil(t, res.Assignment.ProofURL)
	assert.Contains(t, *res.Assignment.ProofURL, a.ID.String())
	require.NotNil(t, res.Assignment.ProofFingerprint)
	assert.Equal(t, fraud.Fingerprint([]byte("screenshot-1")), *res.Assignment.ProofFingerprint)
	assert.Equal(t, t0.Add(48*time.Hour), res.ReviewDeadline)
	assert.Equal(t, t0.Add(48*time.Hour), f.sched.at[a.ID])

	assert.Len(t, f.store.Fingerprints, 1)
	ev, ok := f.rec.Last(notify.EventProofSubmitted)
	require.True(t, ok)
	assert.Equal(t, []uuid.UUID{a.BuyerID}, ev.Recipients)
}

func TestSubmitProof_ProvidedURLSkipsUpload(t *testing.T) {
	f := newFixture(t)
	provider := uuid.New()
	a := f.seed(provider, models.AssignmentInProgress)

	res, err := f.svc.SubmitProof(context.Background(), SubmitProofInput{
		AssignmentID: a.ID,
		ProviderID:   provider,
		Content:      []byte("screenshot-1"),
		ProofURL:     "https://img.example.com/x.png",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://img.example.com/x.png", *res.Assignment.ProofURL)
	assert.Empty(t, f.uploader.keys)
}

func TestSubmitProof_ReuseShortCircuits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	provider := uuid.New()
	first := f.seed(provider, models.AssignmentInProgress)
	second := f.seed(provider, models.AssignmentInProgress)
	content := []byte("same screenshot")

	_, err := f.svc.SubmitProof(ctx, SubmitProofInput{AssignmentID: first.ID, ProviderID: provider, Content: content})
	require.NoError(t, err)

	res, err := f.svc.SubmitProof(ctx, SubmitProofInput{AssignmentID: second.ID, ProviderID: provider, Content: content})
	require.NoError(t, err)
	assert.True(t, res.Flagged)
	assert.Equal(t, models.AssignmentFlaggedForReuse, res.Assignment.Status)
	assert.Equal(t, models.VerificationFingerprint, *res.Assignment.VerificationMethod)
	require.NotNil(t, res.Verdict)
	assert.Contains(t, res.Verdict.Message, "used before")
	assert.Equal(t, 1, res.Verdict.ProviderTotal)

	// No AI review booked for flagged work, and nothing reached the buyer.
	_, booked := f.sched.at[second.ID]
	assert.False(t, booked)
	assert.Equal(t, 1, f.rec.Count(notify.EventProofSubmitted))
	assert.Equal(t, 1, f.rec.Count(notify.EventReuseFlagged))
}

func TestSubmitProof_OtherProviderSameContentIsFresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	content := []byte("shared")
	p1, p2 := uuid.New(), uuid.New()
	a1 := f.seed(p1, models.AssignmentInProgress)
	a2 := f.seed(p2, models.AssignmentInProgress)

	_, err := f.svc.SubmitProof(ctx, SubmitProofInput{AssignmentID: a1.ID, ProviderID: p1, Content: content})
	require.NoError(t, err)
	res, err := f.svc.SubmitProof(ctx, SubmitProofInput{AssignmentID: a2.ID, ProviderID: p2, Content: content})
	require.NoError(t, err)
	assert.False(t, res.Flagged)
	assert.Equal(t, models.AssignmentPendingVerification, res.Assignment.Status)
}

func TestSubmitProof_Preconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	provider := uuid.New()

	assigned := f.seed(provider, models.AssignmentAssigned)
	_, err := f.svc.SubmitProof(ctx, SubmitProofInput{AssignmentID: assigned.ID, ProviderID: provider, Content: []byte("x")})
	assert.ErrorIs(t, err, models.ErrPreconditionFailed)

	running := f.seed(provider, models.AssignmentInProgress)
	_, err = f.svc.SubmitProof(ctx, SubmitProofInput{AssignmentID: running.ID, ProviderID: uuid.New(), Content: []byte("x")})
	assert.ErrorIs(t, err, models.ErrOwnershipMismatch)

	_, err = f.svc.SubmitProof(ctx, SubmitProofInput{AssignmentID: running.ID, ProviderID: provider})
	assert.ErrorIs(t, err, models.ErrInvalidProof)
	assert.Equal(t, models.AssignmentInProgress, f.store.Assignments[running.ID].Status)
}

func TestSubmitProof_UploadFailureLeavesInProgress(t *testing.T) {
	f := newFixture(t)
	f.uploader.err = errors.New("s3 down")
	provider := uuid.New()
	a := f.seed(provider, models.AssignmentInProgress)

	_, err := f.svc.SubmitProof(context.Background(), SubmitProofInput{AssignmentID: a.ID, ProviderID: provider, Content: []byte("x")})
	require.Error(t, err)
	assert.Equal(t, models.AssignmentInProgress, f.store.Assignments[a.ID].Status)
	assert.Empty(t, f.store.Fingerprints)
}

func TestSubmitProof_SchedulerFailureStillSubmits(t *testing.T) {
	f := newFixture(t)
	f.sched.err = errors.New("queue unavailable")
	provider := uuid.New()
	a := f.seed(provider, models.AssignmentInProgress)

	res, err := f.svc.SubmitProof(context.Background(), SubmitProofInput{AssignmentID: a.ID, ProviderID: provider, Content: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentPendingVerification, res.Assignment.Status)
}

func TestGet_VisibleToParticipantsOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	provider := uuid.New()
	a := f.seed(provider, models.AssignmentAssigned)

	_, err := f.svc.Get(ctx, a.ID, provider)
	require.NoError(t, err)
	_, err = f.svc.Get(ctx, a.ID, a.BuyerID)
	require.NoError(t, err)
	_, err = f.svc.Get(ctx, a.ID, uuid.New())
	assert.ErrorIs(t, err, models.ErrOwnershipMismatch)
}
