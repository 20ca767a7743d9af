package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/engagehub/backend/internal/config"
	"github.com/engagehub/backend/internal/models"
	"github.com/engagehub/backend/internal/verification"
)

// Arbiter is the slice of the verification arbiter the workers drive.
type Arbiter interface {
	PerformAIVerification(ctx context.Context, assignmentID uuid.UUID, force bool) (*verification.Outcome, error)
	ReVerifyBuyerRejection(ctx context.Context, assignmentID, requestedBy uuid.UUID) (*verification.Outcome, error)
	SweepAIVerification(ctx context.Context, limit int) (verification.SweepResult, error)
	SweepReverifications(ctx context.Context, limit int) (verification.SweepResult, error)
	ReconcileCredits(ctx context.Context, limit int) (int, error)
}

type PoolExpirer interface {
	ExpireStale(ctx context.Context) (int64, error)
}

// AddWorkers registers every scheduler worker.
func AddWorkers(workers *river.Workers, arb Arbiter, pool PoolExpirer, batch int, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	river.AddWorker(workers, &VerifyAIWorker{arbiter: arb, log: log})
	river.AddWorker(workers, &ReverifyRejectionWorker{arbiter: arb, log: log})
	river.AddWorker(workers, &SweepAIWorker{arbiter: arb, batch: batch})
	river.AddWorker(workers, &SweepReverifyWorker{arbiter: arb, batch: batch})
	river.AddWorker(workers, &ExpirePoolWorker{pool: pool, log: log})
	river.AddWorker(workers, &ReconcileCreditsWorker{arbiter: arb, batch: batch})
}

// aiJobTimeout leaves room for one vision round trip plus the writes.
const aiJobTimeout = 2 * config.VisionRequestTimeout

type VerifyAIWorker struct {
	river.WorkerDefaults[VerifyAIArgs]
	arbiter Arbiter
	log     *slog.Logger
}

func (w *VerifyAIWorker) Timeout(*river.Job[VerifyAIArgs]) time.Duration { return aiJobTimeout }

func (w *VerifyAIWorker) Work(ctx context.Context, job *river.Job[VerifyAIArgs]) error {
	out, err := w.arbiter.PerformAIVerification(ctx, job.Args.AssignmentID, false)
	return settle(w.log, "verify_ai", job.Args.AssignmentID, out, err)
}

type ReverifyRejectionWorker struct {
	river.WorkerDefaults[ReverifyRejectionArgs]
	arbiter Arbiter
	log     *slog.Logger
}

func (w *ReverifyRejectionWorker) Timeout(*river.Job[ReverifyRejectionArgs]) time.Duration {
	return aiJobTimeout
}

func (w *ReverifyRejectionWorker) Work(ctx context.Context, job *river.Job[ReverifyRejectionArgs]) error {
	out, err := w.arbiter.ReVerifyBuyerRejection(ctx, job.Args.AssignmentID, uuid.Nil)
	return settle(w.log, "reverify_rejection", job.Args.AssignmentID, out, err)
}

// settle maps an arbiter result to what River should do with the job. Races
// with manual action and failed analyses are expected: the first is a no-op
// and the second is retried by the sweep on the stored backoff, so neither
// is returned to River.
func settle(log *slog.Logger, kind string, id uuid.UUID, out *verification.Outcome, err error) error {
	switch {
	case err == nil:
		if out.AlreadyResolved {
			log.Info("scheduled verification found assignment resolved", "kind", kind, "assignment_id", id, "status", out.Assignment.Status)
		}
		return nil
	case errors.Is(err, models.ErrNotFound):
		return river.JobCancel(err)
	case errors.Is(err, models.ErrNotEligible):
		log.Info("scheduled verification not eligible", "kind", kind, "assignment_id", id, "reason", err)
		return nil
	case errors.Is(err, models.ErrExternalAnalysisFailure):
		log.Warn("scheduled verification deferred to sweep", "kind", kind, "assignment_id", id, "error", err)
		return nil
	}
	return fmt.Errorf("%s %s: %w", kind, id, err)
}

type SweepAIWorker struct {
	river.WorkerDefaults[SweepAIArgs]
	arbiter Arbiter
	batch   int
}

func (w *SweepAIWorker) Work(ctx context.Context, _ *river.Job[SweepAIArgs]) error {
	_, err := w.arbiter.SweepAIVerification(ctx, w.batch)
	return err
}

type SweepReverifyWorker struct {
	river.WorkerDefaults[SweepReverifyArgs]
	arbiter Arbiter
	batch   int
}

func (w *SweepReverifyWorker) Work(ctx context.Context, _ *river.Job[SweepReverifyArgs]) error {
	_, err := w.arbiter.SweepReverifications(ctx, w.batch)
	return err
}

type ExpirePoolWorker struct {
	river.WorkerDefaults[ExpirePoolArgs]
	pool PoolExpirer
	log  *slog.Logger
}

func (w *ExpirePoolWorker) Work(ctx context.Context, _ *river.Job[ExpirePoolArgs]) error {
	n, err := w.pool.ExpireStale(ctx)
	if err != nil {
		return fmt.Errorf("expire pool entries: %w", err)
	}
	w.log.Info("pool expiry sweep done", "expired", n)
	return nil
}

type ReconcileCreditsWorker struct {
	river.WorkerDefaults[ReconcileCreditsArgs]
	arbiter Arbiter
	batch   int
}

func (w *ReconcileCreditsWorker) Work(ctx context.Context, _ *river.Job[ReconcileCreditsArgs]) error {
	_, err := w.arbiter.ReconcileCredits(ctx, w.batch)
	return err
}
