package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"autodm/internal/entities"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UsageRepository stores hourly usage windows in Postgres.
type UsageRepository struct {
	db *pgxpool.Pool
}

func NewUsageRepository(db *pgxpool.Pool) *UsageRepository {
	return &UsageRepository{db: db}
}

// Admit adds req.Calls to the owner's window if it stays within the
// ceiling. The conditional UPDATE takes a row lock, so concurrent
// admissions on the same window serialize and the check-and-increment
// cannot interleave.
func (r *UsageRepository) Admit(ctx context.Context, req entities.AdmitRequest) (entities.AdmitResult, error) {
	var res entities.AdmitResult

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return res, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO usage_windows (owner_id, window_start, tier_limit, total_calls_made)
		VALUES ($1, $2, $3, 0)
		ON CONFLICT (owner_id, window_start) DO NOTHING
	`, req.OwnerID, req.WindowStart, req.TierLimit); err != nil {
		return res, fmt.Errorf("create window: %w", err)
	}

	err = tx.QueryRow(ctx, `
		UPDATE usage_windows
		SET total_calls_made = total_calls_made + $3
		WHERE owner_id = $1 AND window_start = $2 AND total_calls_made + $3 <= tier_limit
		RETURNING tier_limit, total_calls_made
	`, req.OwnerID, req.WindowStart, req.Calls).Scan(&res.TierLimit, &res.TotalCallsMade)
	if errors.Is(err, pgx.ErrNoRows) {
		// over the ceiling: report the current totals and change nothing
		err = tx.QueryRow(ctx, `
			SELECT tier_limit, total_calls_made FROM usage_windows
			WHERE owner_id = $1 AND window_start = $2
		`, req.OwnerID, req.WindowStart).Scan(&res.TierLimit, &res.TotalCallsMade)
		if err != nil {
			return res, fmt.Errorf("read window: %w", err)
		}
		return res, tx.Commit(ctx)
	}
	if err != nil {
		return res, fmt.Errorf("increment window: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO usage_window_accounts (owner_id, window_start, account_id, calls_made, last_call_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (owner_id, window_start, account_id)
		DO UPDATE SET calls_made = usage_window_accounts.calls_made + EXCLUDED.calls_made,
		              last_call_at = EXCLUDED.last_call_at
	`, req.OwnerID, req.WindowStart, req.AccountID, req.Calls, req.Now); err != nil {
		return res, fmt.Errorf("increment account usage: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return res, err
	}
	res.Allowed = true
	return res, nil
}

// AddAccount registers an account in the window with zero calls.
func (r *UsageRepository) AddAccount(ctx context.Context, ownerID, accountID string, windowStart time.Time, tierLimit int) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO usage_windows (owner_id, window_start, tier_limit, total_calls_made)
		VALUES ($1, $2, $3, 0)
		ON CONFLICT (owner_id, window_start) DO NOTHING
	`, ownerID, windowStart, tierLimit); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO usage_window_accounts (owner_id, window_start, account_id, calls_made)
		VALUES ($1, $2, $3, 0)
		ON CONFLICT (owner_id, window_start, account_id) DO NOTHING
	`, ownerID, windowStart, accountID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// RemoveAccount drops the account's entry. Calls it already made stay in
// the window total.
func (r *UsageRepository) RemoveAccount(ctx context.Context, ownerID, accountID string, windowStart time.Time) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM usage_window_accounts
		WHERE owner_id = $1 AND window_start = $2 AND account_id = $3
	`, ownerID, windowStart, accountID)
	return err
}

// GetWindow returns nil, nil when the owner has no window for windowStart.
func (r *UsageRepository) GetWindow(ctx context.Context, ownerID string, windowStart time.Time) (*entities.UsageWindow, error) {
	w := entities.UsageWindow{OwnerID: ownerID}
	err := r.db.QueryRow(ctx, `
		SELECT window_start, tier_limit, total_calls_made FROM usage_windows
		WHERE owner_id = $1 AND window_start = $2
	`, ownerID, windowStart).Scan(&w.WindowStart, &w.TierLimit, &w.TotalCallsMade)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	w.WindowStart = w.WindowStart.UTC()

	rows, err := r.db.Query(ctx, `
		SELECT account_id, calls_made, last_call_at FROM usage_window_accounts
		WHERE owner_id = $1 AND window_start = $2
		ORDER BY account_id
	`, ownerID, windowStart)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	w.Accounts = []entities.AccountUsage{}
	for rows.Next() {
		var a entities.AccountUsage
		if err := rows.Scan(&a.AccountID, &a.CallsMade, &a.LastCallAt); err != nil {
			return nil, err
		}
		w.Accounts = append(w.Accounts, a)
	}
	return &w, rows.Err()
}

// PruneBefore deletes windows that started before the cutoff.
func (r *UsageRepository) PruneBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM usage_windows WHERE window_start < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
