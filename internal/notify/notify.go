// Package notify carries fire-and-forget assignment events to the outside
// world. Delivery failures are logged by Emit and never reach the caller, so a
// broken sink can not roll back a state transition.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventAssignmentClaimed    EventType = "assignment_claimed"
	EventProofSubmitted       EventType = "proof_submitted"
	EventVerificationApproved EventType = "verification_approved"
	EventVerificationRejected EventType = "verification_rejected"
	EventVerificationReversed EventType = "verification_reversed"
	EventReuseFlagged         EventType = "reuse_flagged"
	EventAccountSuspended     EventType = "account_suspended"
	EventAnalysisFailed       EventType = "analysis_failed"
)

// Event is one notification. Recipients lists the users it is addressed to;
// operator-only events leave it empty.
type Event struct {
	Type         EventType      `json:"type"`
	AssignmentID uuid.UUID      `json:"assignment_id,omitempty"`
	OrderID      uuid.UUID      `json:"order_id,omitempty"`
	ProviderID   uuid.UUID      `json:"provider_id,omitempty"`
	BuyerID      uuid.UUID      `json:"buyer_id,omitempty"`
	Recipients   []uuid.UUID    `json:"recipients,omitempty"`
	Message      string         `json:"message"`
	Data         map[string]any `json:"data,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
}

type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Emit sends ev and logs any failure. A nil notifier drops the event.
func Emit(ctx context.Context, n Notifier, log *slog.Logger, ev Event) {
	if n == nil {
		return
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	if err := n.Notify(ctx, ev); err != nil {
		if log == nil {
			log = slog.Default()
		}
		log.Warn("notification failed", "type", ev.Type, "assignment_id", ev.AssignmentID, "error", err)
	}
}

// Multi fans an event out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes events to the structured log. It is the sink of last
// resort when no broker is configured.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log}
}

func (l *LogNotifier) Notify(_ context.Context, ev Event) error {
	l.log.Info("notification",
		"type", ev.Type,
		"assignment_id", ev.AssignmentID,
		"provider_id", ev.ProviderID,
		"buyer_id", ev.BuyerID,
		"message", ev.Message,
	)
	return nil
}
