package fraud

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/engagehub/backend/internal/config"
	"github.com/engagehub/backend/internal/models"
	"github.com/engagehub/backend/internal/notify"
)

// Store is the fingerprint persistence the service needs.
type Store interface {
	CheckReuse(ctx context.Context, hash string, providerID uuid.UUID) (bool, int, error)
	RecordFingerprint(ctx context.Context, rec *models.FingerprintRecord) (bool, error)
	FlagReuse(ctx context.Context, hash string, providerID uuid.UUID, threshold int, at time.Time) (*models.FlagResult, error)
}

// Suspender is the account service hook. The engine only signals; it does not
// own suspension state.
type Suspender interface {
	Suspend(ctx context.Context, providerID uuid.UUID, reason string) error
}

// ReuseCheck is the answer to "has this provider submitted this exact content before".
type ReuseCheck struct {
	Reused       bool
	FlaggedTotal int
}

// ReuseVerdict is what a flagged provider is told.
type ReuseVerdict struct {
	models.FlagResult
	Message string
	// Warning is set once the provider is close enough to the threshold to see
	// the escalated message.
	Warning bool
}

const reuseMessage = "this image has been used before"

type Service struct {
	store     Store
	suspender Suspender
	notifier  notify.Notifier
	threshold int
	log       *slog.Logger

	// NowFunc allows tests to control timestamps.
	NowFunc func() time.Time
}

func NewService(store Store, suspender Suspender, notifier notify.Notifier, threshold int, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if threshold <= 0 {
		threshold = config.DefaultFraudSuspendThreshold
	}
	return &Service{
		store:     store,
		suspender: suspender,
		notifier:  notifier,
		threshold: threshold,
		log:       log,
		NowFunc:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Fingerprint(proof []byte) string {
	return Fingerprint(proof)
}

func (s *Service) CheckReuse(ctx context.Context, hash string, providerID uuid.UUID) (ReuseCheck, error) {
	reused, total, err := s.store.CheckReuse(ctx, hash, providerID)
	if err != nil {
		return ReuseCheck{}, fmt.Errorf("check reuse: %w", err)
	}
	return ReuseCheck{Reused: reused, FlaggedTotal: total}, nil
}

// RecordSubmission stores the first sighting of hash for the provider. Seeing
// it again is not an error here; detection happens in CheckReuse.
func (s *Service) RecordSubmission(ctx context.Context, hash string, assignmentID, providerID uuid.UUID) error {
	_, err := s.store.RecordFingerprint(ctx, &models.FingerprintRecord{
		Hash:         hash,
		ProviderID:   providerID,
		AssignmentID: assignmentID,
		FirstSeenAt:  s.NowFunc(),
	})
	if err != nil {
		return fmt.Errorf("record fingerprint: %w", err)
	}
	return nil
}

// FlagReuse counts one reuse against the (hash, provider) record and the
// provider's running total. The call that takes the total to the threshold
// triggers the single suspension signal.
func (s *Service) FlagReuse(ctx context.Context, hash string, providerID, assignmentID uuid.UUID) (*ReuseVerdict, error) {
	now := s.NowFunc()
	res, err := s.store.FlagReuse(ctx, hash, providerID, s.threshold, now)
	if err != nil {
		return nil, fmt.Errorf("flag reuse: %w", err)
	}
	verdict := s.verdict(*res)

	s.log.Warn("proof reuse flagged",
		"provider_id", providerID,
		"assignment_id", assignmentID,
		"record_count", res.RecordCount,
		"provider_total", res.ProviderTotal,
	)
	notify.Emit(ctx, s.notifier, s.log, notify.Event{
		Type:         notify.EventReuseFlagged,
		AssignmentID: assignmentID,
		ProviderID:   providerID,
		Recipients:   []uuid.UUID{providerID},
		Message:      verdict.Message,
		Data:         map[string]any{"flagged_total": res.ProviderTotal, "threshold": s.threshold},
		OccurredAt:   now,
	})

	if res.Suspended {
		s.suspend(ctx, providerID, res.ProviderTotal, now)
	}
	return verdict, nil
}

func (s *Service) suspend(ctx context.Context, providerID uuid.UUID, total int, now time.Time) {
	reason := fmt.Sprintf("proof reuse flagged %d times (threshold %d)", total, s.threshold)
	if s.suspender != nil {
		if err := s.suspender.Suspend(ctx, providerID, reason); err != nil {
			s.log.Error("suspension signal failed", "provider_id", providerID, "error", err)
		}
	}
	s.log.Warn("provider suspended", "provider_id", providerID, "flagged_total", total)
	notify.Emit(ctx, s.notifier, s.log, notify.Event{
		Type:       notify.EventAccountSuspended,
		ProviderID: providerID,
		Recipients: []uuid.UUID{providerID},
		Message:    reason,
		OccurredAt: now,
	})
}

func (s *Service) verdict(res models.FlagResult) *ReuseVerdict {
	v := &ReuseVerdict{FlagResult: res, Message: reuseMessage}
	remaining := s.threshold - res.ProviderTotal
	switch {
	case remaining <= 0:
		v.Warning = true
		v.Message = reuseMessage + "; your account has been suspended for repeated proof reuse"
	case remaining <= config.FraudWarningMargin:
		v.Warning = true
		v.Message = fmt.Sprintf("%s; final warning: %d more reused submission(s) will suspend your account", reuseMessage, remaining)
	}
	return v
}
