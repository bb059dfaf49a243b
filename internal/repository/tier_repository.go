package repository

import (
	"context"
	"errors"

	"autodm/internal/entities"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TierRepository reads owner plans from the subscriptions table.
type TierRepository struct {
	db *pgxpool.Pool
}

func NewTierRepository(db *pgxpool.Pool) *TierRepository {
	return &TierRepository{db: db}
}

// GetTier returns free for owners without a subscription row.
func (r *TierRepository) GetTier(ctx context.Context, ownerID string) (entities.Tier, error) {
	var plan string
	err := r.db.QueryRow(ctx, "SELECT plan FROM subscriptions WHERE owner_id = $1", ownerID).Scan(&plan)
	if errors.Is(err, pgx.ErrNoRows) {
		return entities.TierFree, nil
	}
	if err != nil {
		return "", err
	}
	return entities.ParseTier(plan), nil
}

func (r *TierRepository) SetPlan(ctx context.Context, ownerID string, tier entities.Tier) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO subscriptions (owner_id, plan, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (owner_id) DO UPDATE SET plan = EXCLUDED.plan, updated_at = now()
	`, ownerID, string(tier))
	return err
}
