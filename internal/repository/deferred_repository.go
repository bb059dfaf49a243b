package repository

import (
	"context"
	"encoding/json"

	"autodm/internal/entities"

	"github.com/jackc/pgx/v5/pgxpool"
)

type DeferredRepository struct {
	db *pgxpool.Pool
}

func NewDeferredRepository(db *pgxpool.Pool) *DeferredRepository {
	return &DeferredRepository{db: db}
}

func (r *DeferredRepository) Enqueue(ctx context.Context, evt *entities.DeferredEvent) error {
	payload, err := json.Marshal(evt.Event)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO deferred_events (queue_id, owner_id, account_id, rule_id, calls, event, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (queue_id) DO NOTHING
	`, evt.QueueID, evt.OwnerID, evt.AccountID, evt.RuleID, evt.Calls, payload, evt.CreatedAt)
	return err
}
