package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PoolEntryStatus string

const (
	PoolEntryAvailable PoolEntryStatus = "available"
	PoolEntryClaimed   PoolEntryStatus = "claimed"
	PoolEntryExpired   PoolEntryStatus = "expired"
)

// PoolEntry is one claimable unit of work derived from a paid order.
type PoolEntry struct {
	ID           uuid.UUID       `json:"id"`
	OrderID      uuid.UUID       `json:"order_id"`
	Platform     string          `json:"platform"`
	ActionType   string          `json:"action_type"`
	TargetURL    string          `json:"target_url"`
	CommentText  *string         `json:"comment_text,omitempty"`
	Payout       decimal.Decimal `json:"payout"`
	Status       PoolEntryStatus `json:"status"`
	ClaimedBy    *uuid.UUID      `json:"claimed_by,omitempty"`
	ClaimedAt    *time.Time      `json:"claimed_at,omitempty"`
	AssignmentID *uuid.UUID      `json:"assignment_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	ExpiresAt    time.Time       `json:"expires_at"`
}

// IsClaimable reports whether the entry may still be claimed at now.
func (p *PoolEntry) IsClaimable(now time.Time) bool {
	return p.CheckClaimable(now) == nil
}

// ClaimParams describes one claim attempt. AssignmentID is allocated by the
// caller so retries are traceable in logs.
type ClaimParams struct {
	EntryID      uuid.UUID
	ProviderID   uuid.UUID
	AssignmentID uuid.UUID
	At           time.Time
}

// PoolFilter narrows ListAvailable. Empty slices match everything.
type PoolFilter struct {
	ProviderID  uuid.UUID
	Platforms   []string
	ActionTypes []string
	At          time.Time
	Limit       int
}

// CheckClaimable returns the claim failure for the entry at now, or nil.
func (p *PoolEntry) CheckClaimable(now time.Time) error {
	switch {
	case p.Status == PoolEntryClaimed:
		return ErrAlreadyClaimed
	case p.Status == PoolEntryExpired, !now.Before(p.ExpiresAt):
		return ErrExpired
	}
	return nil
}
