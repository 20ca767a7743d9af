package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/engagehub/backend/internal/models"
)

type ProviderRepo struct {
	pool *pgxpool.Pool
}

func NewProviderRepo(pool *pgxpool.Pool) *ProviderRepo {
	return &ProviderRepo{pool: pool}
}

func (r *ProviderRepo) GetProvider(ctx context.Context, id uuid.UUID) (*models.Provider, error) {
	var p models.Provider
	err := r.pool.QueryRow(ctx, `
		SELECT id, action_types, platforms, created_at, updated_at FROM providers WHERE id = $1
	`, id).Scan(&p.ID, &p.ActionTypes, &p.Platforms, &p.CreatedAt, &p.UpdatedAt)
	if isNoRows(err) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get provider: %w", err)
	}
	return &p, nil
}

func (r *ProviderRepo) UpsertProvider(ctx context.Context, p *models.Provider) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO providers (id, action_types, platforms, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (id) DO UPDATE
		SET action_types = EXCLUDED.action_types, platforms = EXCLUDED.platforms, updated_at = EXCLUDED.updated_at
		RETURNING created_at, updated_at
	`, p.ID, emptyIfNil(p.ActionTypes), emptyIfNil(p.Platforms), p.UpdatedAt).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert provider: %w", err)
	}
	return nil
}
