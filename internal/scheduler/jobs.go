// Package scheduler drives the time-triggered parts of the lifecycle on River.
// Per-assignment jobs fire at the exact due time; periodic sweeps find
// anything those jobs missed, so losing a job never loses work.
package scheduler

import (
	"github.com/google/uuid"
)

// VerifyAIArgs fires the AI fallback once the buyer's review window closes.
type VerifyAIArgs struct {
	AssignmentID uuid.UUID `json:"assignment_id"`
}

func (VerifyAIArgs) Kind() string { return "verify_ai" }

// ReverifyRejectionArgs fires the AI re-review of a buyer rejection.
type ReverifyRejectionArgs struct {
	AssignmentID uuid.UUID `json:"assignment_id"`
}

func (ReverifyRejectionArgs) Kind() string { return "reverify_rejection" }

type SweepAIArgs struct{}

func (SweepAIArgs) Kind() string { return "sweep_ai_verification" }

type SweepReverifyArgs struct{}

func (SweepReverifyArgs) Kind() string { return "sweep_reverify" }

type ExpirePoolArgs struct{}

func (ExpirePoolArgs) Kind() string { return "expire_pool_entries" }

type ReconcileCreditsArgs struct{}

func (ReconcileCreditsArgs) Kind() string { return "reconcile_credits" }
