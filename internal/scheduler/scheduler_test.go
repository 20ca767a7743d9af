package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engagehub/backend/internal/models"
	"github.com/engagehub/backend/internal/verification"
)

type fakeArbiter struct {
	out      *verification.Outcome
	err      error
	forced   []bool
	reverify []uuid.UUID
	sweeps   int
	batch    int
}

func (f *fakeArbiter) PerformAIVerification(_ context.Context, _ uuid.UUID, force bool) (*verification.Outcome, error) {
	f.forced = append(f.forced, force)
	return f.out, f.err
}

func (f *fakeArbiter) ReVerifyBuyerRejection(_ context.Context, _ uuid.UUID, requestedBy uuid.UUID) (*verification.Outcome, error) {
	f.reverify = append(f.reverify, requestedBy)
	return f.out, f.err
}

func (f *fakeArbiter) SweepAIVerification(_ context.Context, limit int) (verification.SweepResult, error) {
	f.sweeps++
	f.batch = limit
	return verification.SweepResult{}, f.err
}

func (f *fakeArbiter) SweepReverifications(_ context.Context, limit int) (verification.SweepResult, error) {
	f.sweeps++
	f.batch = limit
	return verification.SweepResult{}, f.err
}

func (f *fakeArbiter) ReconcileCredits(_ context.Context, limit int) (int, error) {
	f.batch = limit
	return 0, f.err
}

func verifyJob(id uuid.UUID) *river.Job[VerifyAIArgs] {
	return &river.Job[VerifyAIArgs]{JobRow: &rivertype.JobRow{ID: 1}, Args: VerifyAIArgs{AssignmentID: id}}
}

func TestVerifyAIWorker_Settle(t *testing.T) {
	resolved := &verification.Outcome{Assignment: &models.Assignment{Status: models.AssignmentApprovedByBuyer}, AlreadyResolved: true}
	tests := []struct {
		name    string
		out     *verification.Outcome
		err     error
		wantErr bool
	}{
		{name: "resolved now", out: &verification.Outcome{Assignment: &models.Assignment{Status: models.AssignmentApprovedByAI}}},
		{name: "already resolved", out: resolved},
		{name: "window open", err: fmt.Errorf("%w: review window still open", models.ErrNotEligible)},
		{name: "analysis failed", err: fmt.Errorf("%w: 503", models.ErrExternalAnalysisFailure)},
		{name: "missing", err: models.ErrNotFound, wantErr: true},
		{name: "db down", err: errors.New("conn refused"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			arb := &fakeArbiter{out: tt.out, err: tt.err}
			w := &VerifyAIWorker{arbiter: arb, log: discardLogger()}
			err := w.Work(context.Background(), verifyJob(uuid.New()))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, []bool{false}, arb.forced)
		})
	}
}

func TestReverifyRejectionWorker_RunsAsSystem(t *testing.T) {
	arb := &fakeArbiter{out: &verification.Outcome{Assignment: &models.Assignment{Status: models.AssignmentAIReverified}}}
	w := &ReverifyRejectionWorker{arbiter: arb, log: discardLogger()}
	job := &river.Job[ReverifyRejectionArgs]{JobRow: &rivertype.JobRow{ID: 2}, Args: ReverifyRejectionArgs{AssignmentID: uuid.New()}}

	require.NoError(t, w.Work(context.Background(), job))
	assert.Equal(t, []uuid.UUID{uuid.Nil}, arb.reverify)
}

func TestSweepWorkers_PassBatch(t *testing.T) {
	arb := &fakeArbiter{}
	ctx := context.Background()

	require.NoError(t, (&SweepAIWorker{arbiter: arb, batch: 50}).Work(ctx, &river.Job[SweepAIArgs]{JobRow: &rivertype.JobRow{}}))
	require.NoError(t, (&SweepReverifyWorker{arbiter: arb, batch: 50}).Work(ctx, &river.Job[SweepReverifyArgs]{JobRow: &rivertype.JobRow{}}))
	assert.Equal(t, 2, arb.sweeps)
	assert.Equal(t, 50, arb.batch)

	arb.err = errors.New("db down")
	assert.Error(t, (&ReconcileCreditsWorker{arbiter: arb, batch: 10}).Work(ctx, &river.Job[ReconcileCreditsArgs]{JobRow: &rivertype.JobRow{}}))
}

type fakeExpirer struct{ n int64 }

func (f *fakeExpirer) ExpireStale(context.Context) (int64, error) { return f.n, nil }

func TestExpirePoolWorker(t *testing.T) {
	w := &ExpirePoolWorker{pool: &fakeExpirer{n: 3}, log: discardLogger()}
	assert.NoError(t, w.Work(context.Background(), &river.Job[ExpirePoolArgs]{JobRow: &rivertype.JobRow{}}))
}

type fakeInserter struct {
	args []river.JobArgs
	opts []*river.InsertOpts
}

func (f *fakeInserter) Insert(_ context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error) {
	f.args = append(f.args, args)
	f.opts = append(f.opts, opts)
	return &rivertype.JobInsertResult{Job: &rivertype.JobRow{ID: int64(len(f.args))}}, nil
}

func TestEnqueuer(t *testing.T) {
	ctx := context.Background()
	e := NewEnqueuer()
	id := uuid.New()
	at := time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)

	assert.ErrorIs(t, e.ScheduleAIVerification(ctx, id, at), ErrNotWired)

	ins := &fakeInserter{}
	e.SetClient(ins)
	require.NoError(t, e.ScheduleAIVerification(ctx, id, at))
	require.NoError(t, e.ScheduleReverify(ctx, id, at.Add(time.Hour)))

	require.Len(t, ins.args, 2)
	assert.Equal(t, VerifyAIArgs{AssignmentID: id}, ins.args[0])
	assert.Equal(t, ReverifyRejectionArgs{AssignmentID: id}, ins.args[1])
	assert.Equal(t, at, ins.opts[0].ScheduledAt)
	assert.True(t, ins.opts[0].UniqueOpts.ByArgs)
	assert.Equal(t, at.Add(time.Hour), ins.opts[1].ScheduledAt)
}

func TestPeriodicJobs(t *testing.T) {
	jobs := PeriodicJobs(Intervals{AIVerification: time.Hour, Reverify: 24 * time.Hour, PoolExpiry: 6 * time.Hour})
	assert.Len(t, jobs, 4)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
