package repository

import (
	"context"
	"errors"

	"autodm/internal/entities"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AccountRepository struct {
	db *pgxpool.Pool
}

func NewAccountRepository(db *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `id, owner_id, platform_id, username, access_token, active,
	story_automation_enabled, replies_sent, dms_sent, follow_checks, created_at, updated_at`

func scanAccount(row pgx.Row) (*entities.ConnectedAccount, error) {
	var a entities.ConnectedAccount
	err := row.Scan(&a.ID, &a.OwnerID, &a.PlatformID, &a.Username, &a.AccessToken, &a.Active,
		&a.StoryAutomationEnabled, &a.RepliesSent, &a.DMsSent, &a.FollowChecks, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetActiveByPlatformID resolves the account a webhook was delivered for.
func (r *AccountRepository) GetActiveByPlatformID(ctx context.Context, platformID string) (*entities.ConnectedAccount, error) {
	return scanAccount(r.db.QueryRow(ctx,
		"SELECT "+accountColumns+" FROM connected_accounts WHERE platform_id = $1 AND active",
		platformID))
}

func (r *AccountRepository) GetByID(ctx context.Context, accountID string) (*entities.ConnectedAccount, error) {
	return scanAccount(r.db.QueryRow(ctx,
		"SELECT "+accountColumns+" FROM connected_accounts WHERE id = $1",
		accountID))
}

// Upsert creates or replaces an account. Counters are left untouched on update.
func (r *AccountRepository) Upsert(ctx context.Context, a *entities.ConnectedAccount) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO connected_accounts
			(id, owner_id, platform_id, username, access_token, active, story_automation_enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			platform_id = EXCLUDED.platform_id,
			username = EXCLUDED.username,
			access_token = EXCLUDED.access_token,
			active = EXCLUDED.active,
			story_automation_enabled = EXCLUDED.story_automation_enabled,
			updated_at = now()
	`, a.ID, a.OwnerID, a.PlatformID, a.Username, a.AccessToken, a.Active, a.StoryAutomationEnabled)
	return err
}

func (r *AccountRepository) IncrementCounters(ctx context.Context, accountID string, delta entities.AccountCounters) error {
	if delta.IsZero() {
		return nil
	}
	_, err := r.db.Exec(ctx, `
		UPDATE connected_accounts
		SET replies_sent = replies_sent + $2,
		    dms_sent = dms_sent + $3,
		    follow_checks = follow_checks + $4,
		    updated_at = now()
		WHERE id = $1
	`, accountID, delta.Replies, delta.DMs, delta.FollowChecks)
	return err
}

func (r *AccountRepository) SetActive(ctx context.Context, accountID string, active bool) error {
	tag, err := r.db.Exec(ctx,
		"UPDATE connected_accounts SET active = $2, updated_at = now() WHERE id = $1",
		accountID, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return entities.ErrAccountNotFound
	}
	return nil
}
