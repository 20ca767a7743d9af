package models

import (
	"time"

	"github.com/google/uuid"
)

// FingerprintRecord tracks one proof hash per provider.
type FingerprintRecord struct {
	Hash         string    `json:"hash"`
	ProviderID   uuid.UUID `json:"provider_id"`
	AssignmentID uuid.UUID `json:"assignment_id"`
	FlaggedCount int       `json:"flagged_count"`
	FirstSeenAt  time.Time `json:"first_seen_at"`
}

// FlagResult is what the store reports after a reuse flag is applied.
type FlagResult struct {
	// RecordCount is the flagged count of the (hash, provider) record after the increment.
	RecordCount int
	// ProviderTotal is the provider's cumulative flagged count across all hashes.
	ProviderTotal int
	// Suspended is true only for the single call that crossed the threshold.
	Suspended bool
}
