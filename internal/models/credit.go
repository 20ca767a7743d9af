package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Credit transaction reasons.
const (
	CreditReasonBuyerApproval = "buyer_approval"
	CreditReasonAIApproval    = "ai_approval"
	CreditReasonAIReversal    = "ai_reversal"
)

// CreditTransaction is an immutable ledger row. At most one exists per assignment.
type CreditTransaction struct {
	ID            uuid.UUID       `json:"id"`
	ProviderID    uuid.UUID       `json:"provider_id"`
	AssignmentID  uuid.UUID       `json:"assignment_id"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Reason        string          `json:"reason"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ProviderBalance is the provider's current withdrawable balance.
type ProviderBalance struct {
	ProviderID uuid.UUID       `json:"provider_id"`
	Balance    decimal.Decimal `json:"balance"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// CreditParams is the input to the guarded credit operation.
type CreditParams struct {
	ProviderID   uuid.UUID
	AssignmentID uuid.UUID
	Amount       decimal.Decimal
	Reason       string
	At           time.Time
}
