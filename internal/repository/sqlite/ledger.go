package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"autodm/internal/entities"
)

// usage windows

func (s *Store) Admit(ctx context.Context, req entities.AdmitRequest) (entities.AdmitResult, error) {
	var res entities.AdmitResult
	window := toUnix(req.WindowStart)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO usage_windows (owner_id, window_start, tier_limit, total_calls_made)
		VALUES (?, ?, ?, 0)
		ON CONFLICT (owner_id, window_start) DO NOTHING
	`, req.OwnerID, window, req.TierLimit); err != nil {
		return res, fmt.Errorf("create window: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		UPDATE usage_windows
		SET total_calls_made = total_calls_made + ?
		WHERE owner_id = ? AND window_start = ? AND total_calls_made + ? <= tier_limit
		RETURNING tier_limit, total_calls_made
	`, req.Calls, req.OwnerID, window, req.Calls).Scan(&res.TierLimit, &res.TotalCallsMade)
	if errors.Is(err, sql.ErrNoRows) {
		err = tx.QueryRowContext(ctx,
			"SELECT tier_limit, total_calls_made FROM usage_windows WHERE owner_id = ? AND window_start = ?",
			req.OwnerID, window).Scan(&res.TierLimit, &res.TotalCallsMade)
		if err != nil {
			return res, fmt.Errorf("read window: %w", err)
		}
		return res, tx.Commit()
	}
	if err != nil {
		return res, fmt.Errorf("increment window: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO usage_window_accounts (owner_id, window_start, account_id, calls_made, last_call_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (owner_id, window_start, account_id)
		DO UPDATE SET calls_made = calls_made + excluded.calls_made, last_call_at = excluded.last_call_at
	`, req.OwnerID, window, req.AccountID, req.Calls, toUnix(req.Now)); err != nil {
		return res, fmt.Errorf("increment account usage: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return res, err
	}
	res.Allowed = true
	return res, nil
}

func (s *Store) AddAccount(ctx context.Context, ownerID, accountID string, windowStart time.Time, tierLimit int) error {
	window := toUnix(windowStart)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO usage_windows (owner_id, window_start, tier_limit, total_calls_made)
		VALUES (?, ?, ?, 0)
		ON CONFLICT (owner_id, window_start) DO NOTHING
	`, ownerID, window, tierLimit); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO usage_window_accounts (owner_id, window_start, account_id, calls_made)
		VALUES (?, ?, ?, 0)
		ON CONFLICT (owner_id, window_start, account_id) DO NOTHING
	`, ownerID, window, accountID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) RemoveAccount(ctx context.Context, ownerID, accountID string, windowStart time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM usage_window_accounts WHERE owner_id = ? AND window_start = ? AND account_id = ?",
		ownerID, toUnix(windowStart), accountID)
	return err
}

func (s *Store) GetWindow(ctx context.Context, ownerID string, windowStart time.Time) (*entities.UsageWindow, error) {
	window := toUnix(windowStart)
	w := entities.UsageWindow{OwnerID: ownerID, WindowStart: fromUnix(window)}

	err := s.db.QueryRowContext(ctx,
		"SELECT tier_limit, total_calls_made FROM usage_windows WHERE owner_id = ? AND window_start = ?",
		ownerID, window).Scan(&w.TierLimit, &w.TotalCallsMade)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id, calls_made, last_call_at FROM usage_window_accounts
		WHERE owner_id = ? AND window_start = ?
		ORDER BY account_id
	`, ownerID, window)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	w.Accounts = []entities.AccountUsage{}
	for rows.Next() {
		var (
			a    entities.AccountUsage
			last sql.NullInt64
		)
		if err := rows.Scan(&a.AccountID, &a.CallsMade, &last); err != nil {
			return nil, err
		}
		a.LastCallAt = fromNullUnix(last)
		w.Accounts = append(w.Accounts, a)
	}
	return &w, rows.Err()
}

func (s *Store) PruneBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM usage_windows WHERE window_start < ?", toUnix(before))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// event log

func (s *Store) Exists(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM reply_logs WHERE event_id = ?)", eventID).Scan(&exists)
	return exists, err
}

func (s *Store) Claim(ctx context.Context, eventID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO event_claims (event_id, claimed_at) VALUES (?, ?) ON CONFLICT (event_id) DO NOTHING",
		eventID, toUnix(time.Now()))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *Store) Insert(ctx context.Context, l *entities.ReplyLog) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO reply_logs
			(id, event_id, owner_id, account_id, rule_id, event_kind, text, author_id, author_username,
			 stage, reply_sent, dm_sent, follow_checked, is_following, processing_time_ms,
			 queued, queue_id, success, failure_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_id) DO NOTHING
	`, l.ID, l.EventID, l.OwnerID, l.AccountID, l.RuleID, l.EventKind, l.Text, l.AuthorID, l.AuthorUsername,
		l.Stage, l.ReplySent, l.DMSent, l.FollowChecked, l.IsFollowing, l.ProcessingTimeMs,
		l.Queued, l.QueueID, l.Success, l.FailureReason, toUnix(l.CreatedAt))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return entities.ErrDuplicateEvent
	}
	return nil
}

// GetLog returns the log entry for an event, or nil, nil.
func (s *Store) GetLog(ctx context.Context, eventID string) (*entities.ReplyLog, error) {
	var (
		l       entities.ReplyLog
		created int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, event_id, owner_id, account_id, rule_id, event_kind, text, author_id, author_username,
		       stage, reply_sent, dm_sent, follow_checked, is_following, processing_time_ms,
		       queued, queue_id, success, failure_reason, created_at
		FROM reply_logs WHERE event_id = ?
	`, eventID).Scan(&l.ID, &l.EventID, &l.OwnerID, &l.AccountID, &l.RuleID, &l.EventKind, &l.Text,
		&l.AuthorID, &l.AuthorUsername, &l.Stage, &l.ReplySent, &l.DMSent, &l.FollowChecked, &l.IsFollowing,
		&l.ProcessingTimeMs, &l.Queued, &l.QueueID, &l.Success, &l.FailureReason, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	l.CreatedAt = fromUnix(created)
	return &l, nil
}

// deferred queue

func (s *Store) Enqueue(ctx context.Context, evt *entities.DeferredEvent) error {
	payload, err := json.Marshal(evt.Event)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO deferred_events (queue_id, owner_id, account_id, rule_id, calls, event, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (queue_id) DO NOTHING
	`, evt.QueueID, evt.OwnerID, evt.AccountID, evt.RuleID, evt.Calls, string(payload), toUnix(evt.CreatedAt))
	return err
}

