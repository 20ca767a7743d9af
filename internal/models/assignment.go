package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type AssignmentStatus string

// Assignment lifecycle.
const (
	AssignmentAssigned            AssignmentStatus = "assigned"
	AssignmentInProgress          AssignmentStatus = "in_progress"
	AssignmentPendingVerification AssignmentStatus = "pending_verification"
	AssignmentApprovedByBuyer     AssignmentStatus = "approved_by_buyer"
	AssignmentApprovedByAI        AssignmentStatus = "approved_by_ai"
	AssignmentRejectedByBuyer     AssignmentStatus = "rejected_by_buyer"
	AssignmentRejectedByAI        AssignmentStatus = "rejected_by_ai"
	AssignmentAIReverified        AssignmentStatus = "ai_reverified_after_rejection"
	AssignmentFlaggedForReuse     AssignmentStatus = "flagged_for_reuse"
)

// Verification methods recorded on resolved assignments.
const (
	VerificationManual      = "manual"
	VerificationAI          = "ai"
	VerificationAIReverify  = "ai_reverify"
	VerificationFingerprint = "fingerprint"
)

// assignmentTransitions is the complete set of legal moves. Anything not
// listed here is rejected by CanTransition.
var assignmentTransitions = map[AssignmentStatus][]AssignmentStatus{
	AssignmentAssigned:   {AssignmentInProgress},
	AssignmentInProgress: {AssignmentPendingVerification, AssignmentFlaggedForReuse},
	AssignmentPendingVerification: {
		AssignmentApprovedByBuyer,
		AssignmentRejectedByBuyer,
		AssignmentApprovedByAI,
		AssignmentRejectedByAI,
	},
	AssignmentRejectedByBuyer: {AssignmentAIReverified, AssignmentRejectedByAI},
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to AssignmentStatus) bool {
	for _, next := range assignmentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsActive reports whether the assignment still occupies the provider's
// one-per-order slot.
func (s AssignmentStatus) IsActive() bool {
	switch s {
	case AssignmentAssigned, AssignmentInProgress, AssignmentPendingVerification:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible. RejectedByBuyer
// is not terminal: it still has the AI re-review path.
func (s AssignmentStatus) IsTerminal() bool {
	return len(assignmentTransitions[s]) == 0
}

// IsCredited reports whether the status carries a payout.
func (s AssignmentStatus) IsCredited() bool {
	switch s {
	case AssignmentApprovedByBuyer, AssignmentApprovedByAI, AssignmentAIReverified:
		return true
	}
	return false
}

// ActiveStatuses lists the statuses that count toward the one-per-order rule.
func ActiveStatuses() []AssignmentStatus {
	return []AssignmentStatus{AssignmentAssigned, AssignmentInProgress, AssignmentPendingVerification}
}

// Assignment is the provider-facing unit of work created when a pool entry is claimed.
type Assignment struct {
	ID                 uuid.UUID        `json:"id"`
	PoolEntryID        uuid.UUID        `json:"pool_entry_id"`
	OrderID            uuid.UUID        `json:"order_id"`
	BuyerID            uuid.UUID        `json:"buyer_id"`
	ProviderID         uuid.UUID        `json:"provider_id"`
	ActionType         string           `json:"action_type"`
	Platform           string           `json:"platform"`
	TargetURL          string           `json:"target_url"`
	CommentText        *string          `json:"comment_text,omitempty"`
	Payout             decimal.Decimal  `json:"payout"`
	Status             AssignmentStatus `json:"status"`
	ProofURL           *string          `json:"proof_url,omitempty"`
	ProofFingerprint   *string          `json:"proof_fingerprint,omitempty"`
	VerificationMethod *string          `json:"verification_method,omitempty"`
	VerificationReason *string          `json:"verification_reason,omitempty"`
	AIConfidence       *float64         `json:"ai_confidence,omitempty"`
	AIAttempts         int              `json:"ai_attempts"`
	NextAIAttemptAt    *time.Time       `json:"next_ai_attempt_at,omitempty"`
	LastAIError        *string          `json:"last_ai_error,omitempty"`
	AssignedAt         time.Time        `json:"assigned_at"`
	StartedAt          *time.Time       `json:"started_at,omitempty"`
	SubmittedAt        *time.Time       `json:"submitted_at,omitempty"`
	CompletedAt        *time.Time       `json:"completed_at,omitempty"`
	VerifiedAt         *time.Time       `json:"verified_at,omitempty"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// TransitionParams describes one conditional status change. The store applies
// it only if the row's current status equals From; optional fields are written
// when non-nil.
type TransitionParams struct {
	AssignmentID       uuid.UUID
	From               AssignmentStatus
	To                 AssignmentStatus
	At                 time.Time
	ProofURL           *string
	ProofFingerprint   *string
	VerificationMethod *string
	VerificationReason *string
	AIConfidence       *float64
}

// AIFailureParams records a failed external analysis attempt without changing
// status.
type AIFailureParams struct {
	AssignmentID   uuid.UUID
	ExpectedStatus AssignmentStatus
	Error          string
	NextAttemptAt  time.Time
	At             time.Time
}

// TransitionStamps are the lifecycle timestamps a transition writes. Nil
// fields are left untouched.
type TransitionStamps struct {
	StartedAt   *time.Time
	SubmittedAt *time.Time
	CompletedAt *time.Time
	VerifiedAt  *time.Time
	// ResetAI clears the AI retry bookkeeping for a fresh review stage.
	ResetAI bool
}

// Stamps derives the timestamps written when entering p.To.
func (p TransitionParams) Stamps() TransitionStamps {
	at := p.At
	switch p.To {
	case AssignmentInProgress:
		return TransitionStamps{StartedAt: &at}
	case AssignmentPendingVerification:
		return TransitionStamps{SubmittedAt: &at, CompletedAt: &at, ResetAI: true}
	case AssignmentFlaggedForReuse:
		return TransitionStamps{SubmittedAt: &at, CompletedAt: &at, VerifiedAt: &at}
	case AssignmentRejectedByBuyer:
		return TransitionStamps{VerifiedAt: &at, ResetAI: true}
	case AssignmentApprovedByBuyer, AssignmentApprovedByAI, AssignmentRejectedByAI, AssignmentAIReverified:
		return TransitionStamps{VerifiedAt: &at}
	}
	return TransitionStamps{}
}

// Apply writes the transition onto a, mirroring what the Postgres store does.
func (p TransitionParams) Apply(a *Assignment) {
	st := p.Stamps()
	a.Status = p.To
	if p.ProofURL != nil {
		a.ProofURL = p.ProofURL
	}
	if p.ProofFingerprint != nil {
		a.ProofFingerprint = p.ProofFingerprint
	}
	if p.VerificationMethod != nil {
		a.VerificationMethod = p.VerificationMethod
	}
	if p.VerificationReason != nil {
		a.VerificationReason = p.VerificationReason
	}
	if p.AIConfidence != nil {
		a.AIConfidence = p.AIConfidence
	}
	if st.StartedAt != nil {
		a.StartedAt = st.StartedAt
	}
	if st.SubmittedAt != nil {
		a.SubmittedAt = st.SubmittedAt
	}
	if st.CompletedAt != nil {
		a.CompletedAt = st.CompletedAt
	}
	if st.VerifiedAt != nil {
		a.VerifiedAt = st.VerifiedAt
	}
	if st.ResetAI {
		a.AIAttempts = 0
		a.NextAIAttemptAt = nil
		a.LastAIError = nil
	}
	a.UpdatedAt = p.At
}

// ManualReviewDeadline is when the buyer's review window closes.
func (a *Assignment) ManualReviewDeadline(window time.Duration) (time.Time, bool) {
	if a.SubmittedAt == nil {
		return time.Time{}, false
	}
	return a.SubmittedAt.Add(window), true
}

// ReverifyAt is when a buyer rejection becomes eligible for AI re-review.
func (a *Assignment) ReverifyAt(delay time.Duration) (time.Time, bool) {
	if a.Status != AssignmentRejectedByBuyer || a.VerifiedAt == nil {
		return time.Time{}, false
	}
	return a.VerifiedAt.Add(delay), true
}

// AIRetryPending reports whether a failed analysis is still backing off at now.
func (a *Assignment) AIRetryPending(now time.Time) bool {
	return a.NextAIAttemptAt != nil && now.Before(*a.NextAIAttemptAt)
}
