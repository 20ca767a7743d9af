package scheduler

import (
	"time"

	"github.com/riverqueue/river"
)

type Intervals struct {
	AIVerification time.Duration
	Reverify       time.Duration
	PoolExpiry     time.Duration
}

// PeriodicJobs returns the sweeps. Credit reconciliation rides on the AI
// sweep interval.
func PeriodicJobs(iv Intervals) []*river.PeriodicJob {
	onStart := &river.PeriodicJobOpts{RunOnStart: true}
	return []*river.PeriodicJob{
		river.NewPeriodicJob(river.PeriodicInterval(iv.AIVerification),
			func() (river.JobArgs, *river.InsertOpts) { return SweepAIArgs{}, nil }, onStart),
		river.NewPeriodicJob(river.PeriodicInterval(iv.Reverify),
			func() (river.JobArgs, *river.InsertOpts) { return SweepReverifyArgs{}, nil }, onStart),
		river.NewPeriodicJob(river.PeriodicInterval(iv.PoolExpiry),
			func() (river.JobArgs, *river.InsertOpts) { return ExpirePoolArgs{}, nil }, onStart),
		river.NewPeriodicJob(river.PeriodicInterval(iv.AIVerification),
			func() (river.JobArgs, *river.InsertOpts) { return ReconcileCreditsArgs{}, nil }, nil),
	}
}
