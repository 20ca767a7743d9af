package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

var ErrNotWired = errors.New("scheduler: river client not wired")

// Inserter is satisfied by *river.Client.
type Inserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// Enqueuer books per-assignment callbacks. The River client is set after
// construction because the client's workers depend on services that depend
// on the Enqueuer.
type Enqueuer struct {
	mu     sync.RWMutex
	client Inserter
}

func NewEnqueuer() *Enqueuer {
	return &Enqueuer{}
}

func (e *Enqueuer) SetClient(c Inserter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.client = c
}

func (e *Enqueuer) ScheduleAIVerification(ctx context.Context, assignmentID uuid.UUID, at time.Time) error {
	return e.insert(ctx, VerifyAIArgs{AssignmentID: assignmentID}, at)
}

func (e *Enqueuer) ScheduleReverify(ctx context.Context, assignmentID uuid.UUID, at time.Time) error {
	return e.insert(ctx, ReverifyRejectionArgs{AssignmentID: assignmentID}, at)
}

func (e *Enqueuer) insert(ctx context.Context, args river.JobArgs, at time.Time) error {
	e.mu.RLock()
	c := e.client
	e.mu.RUnlock()
	if c == nil {
		return ErrNotWired
	}
	_, err := c.Insert(ctx, args, &river.InsertOpts{
		ScheduledAt: at,
		UniqueOpts:  river.UniqueOpts{ByArgs: true},
	})
	if err != nil {
		return fmt.Errorf("insert %s job: %w", args.Kind(), err)
	}
	return nil
}
