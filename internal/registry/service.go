// Package registry keeps each provider's work preferences: which platforms
// and action types they want to see in the pool.
package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/engagehub/backend/internal/models"
)

var ErrInvalidPreferences = errors.New("invalid preferences")

var (
	knownPlatforms = []string{
		models.PlatformInstagram, models.PlatformTikTok, models.PlatformYouTube, models.PlatformX, models.PlatformFacebook,
	}
	knownActions = []string{
		models.ActionLike, models.ActionFollow, models.ActionComment, models.ActionShare, models.ActionSubscribe,
	}
)

type Store interface {
	GetProvider(ctx context.Context, id uuid.UUID) (*models.Provider, error)
	UpsertProvider(ctx context.Context, p *models.Provider) error
}

type Service interface {
	GetPreferences(ctx context.Context, providerID uuid.UUID) (*models.Provider, error)
	SetPreferences(ctx context.Context, providerID uuid.UUID, platforms, actionTypes []string) (*models.Provider, error)
}

type service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *service {
	return &service{store: store, now: func() time.Time { return time.Now().UTC() }}
}

var _ Service = (*service)(nil)

// GetPreferences returns the stored preferences, or an empty (accept
// everything) record for providers who never set any.
func (s *service) GetPreferences(ctx context.Context, providerID uuid.UUID) (*models.Provider, error) {
	p, err := s.store.GetProvider(ctx, providerID)
	if errors.Is(err, models.ErrNotFound) {
		return &models.Provider{ID: providerID, Platforms: []string{}, ActionTypes: []string{}}, nil
	}
	return p, err
}

func (s *service) SetPreferences(ctx context.Context, providerID uuid.UUID, platforms, actionTypes []string) (*models.Provider, error) {
	pl, err := normalize(platforms, knownPlatforms, "platform")
	if err != nil {
		return nil, err
	}
	at, err := normalize(actionTypes, knownActions, "action type")
	if err != nil {
		return nil, err
	}
	p := &models.Provider{ID: providerID, Platforms: pl, ActionTypes: at, UpdatedAt: s.now()}
	if err := s.store.UpsertProvider(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// normalize lowercases, dedupes and validates values against known.
func normalize(values, known []string, what string) ([]string, error) {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if !slices.Contains(known, v) {
			return nil, fmt.Errorf("%w: unknown %s %q", ErrInvalidPreferences, what, v)
		}
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return out, nil
}
