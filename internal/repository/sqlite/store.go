// Package sqlite is a single-file store implementing every storage port.
// It backs single-node deployments and the store tests; the connection
// pool is pinned to one connection so SQLite's writer lock is never
// contended inside the process.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"autodm/internal/entities"
	"autodm/internal/interfaces"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

type Store struct {
	db *sql.DB
}

var (
	_ interfaces.AccountStore  = (*Store)(nil)
	_ interfaces.RuleStore     = (*Store)(nil)
	_ interfaces.UsageStore    = (*Store)(nil)
	_ interfaces.EventStore    = (*Store)(nil)
	_ interfaces.DeferredQueue = (*Store)(nil)
	_ interfaces.TierResolver  = (*Store)(nil)
)

// Open opens (or creates) the database at path and migrates it. Use
// ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS subscriptions (
		owner_id TEXT PRIMARY KEY,
		plan TEXT NOT NULL DEFAULT 'free',
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS connected_accounts (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		platform_id TEXT NOT NULL,
		username TEXT NOT NULL DEFAULT '',
		access_token TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		story_automation_enabled INTEGER NOT NULL DEFAULT 0,
		replies_sent INTEGER NOT NULL DEFAULT 0,
		dms_sent INTEGER NOT NULL DEFAULT 0,
		follow_checks INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS connected_accounts_active_platform
		ON connected_accounts (platform_id) WHERE active = 1`,
	`CREATE TABLE IF NOT EXISTS rules (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		event_kind TEXT NOT NULL,
		content_id TEXT NOT NULL DEFAULT 'any',
		priority INTEGER NOT NULL DEFAULT 100,
		triggers TEXT NOT NULL DEFAULT '[]',
		trigger_mode TEXT NOT NULL DEFAULT 'keyword',
		active INTEGER NOT NULL DEFAULT 1,
		reply_texts TEXT NOT NULL DEFAULT '[]',
		settings_by_tier TEXT NOT NULL DEFAULT '{}',
		stages TEXT NOT NULL DEFAULT '{}',
		usage_count INTEGER NOT NULL DEFAULT 0,
		last_used INTEGER,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS rules_account_kind ON rules (account_id, event_kind, priority)`,
	`CREATE TABLE IF NOT EXISTS usage_windows (
		owner_id TEXT NOT NULL,
		window_start INTEGER NOT NULL,
		tier_limit INTEGER NOT NULL,
		total_calls_made INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (owner_id, window_start),
		CHECK (total_calls_made <= tier_limit)
	)`,
	`CREATE TABLE IF NOT EXISTS usage_window_accounts (
		owner_id TEXT NOT NULL,
		window_start INTEGER NOT NULL,
		account_id TEXT NOT NULL,
		calls_made INTEGER NOT NULL DEFAULT 0,
		last_call_at INTEGER,
		PRIMARY KEY (owner_id, window_start, account_id),
		FOREIGN KEY (owner_id, window_start)
			REFERENCES usage_windows (owner_id, window_start) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS event_claims (
		event_id TEXT PRIMARY KEY,
		claimed_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS reply_logs (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL UNIQUE,
		owner_id TEXT NOT NULL DEFAULT '',
		account_id TEXT NOT NULL DEFAULT '',
		rule_id TEXT NOT NULL DEFAULT '',
		event_kind TEXT NOT NULL,
		text TEXT NOT NULL DEFAULT '',
		author_id TEXT NOT NULL DEFAULT '',
		author_username TEXT NOT NULL DEFAULT '',
		stage TEXT NOT NULL DEFAULT '',
		reply_sent INTEGER NOT NULL DEFAULT 0,
		dm_sent INTEGER NOT NULL DEFAULT 0,
		follow_checked INTEGER NOT NULL DEFAULT 0,
		is_following INTEGER NOT NULL DEFAULT 0,
		processing_time_ms INTEGER NOT NULL DEFAULT 0,
		queued INTEGER NOT NULL DEFAULT 0,
		queue_id TEXT NOT NULL DEFAULT '',
		success INTEGER NOT NULL DEFAULT 0,
		failure_reason TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS deferred_events (
		queue_id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		rule_id TEXT NOT NULL,
		calls INTEGER NOT NULL,
		event TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`,
}

// Migrate creates the schema. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for _, ddl := range schema {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

// times are stored as unix nanoseconds
func toUnix(t time.Time) int64 { return t.UTC().UnixNano() }

func fromUnix(n int64) time.Time { return time.Unix(0, n).UTC() }

func fromNullUnix(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromUnix(n.Int64)
	return &t
}

// accounts

const accountColumns = `id, owner_id, platform_id, username, access_token, active,
	story_automation_enabled, replies_sent, dms_sent, follow_checks, created_at, updated_at`

func scanAccount(row *sql.Row) (*entities.ConnectedAccount, error) {
	var (
		a                entities.ConnectedAccount
		created, updated int64
	)
	err := row.Scan(&a.ID, &a.OwnerID, &a.PlatformID, &a.Username, &a.AccessToken, &a.Active,
		&a.StoryAutomationEnabled, &a.RepliesSent, &a.DMsSent, &a.FollowChecks, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.CreatedAt, a.UpdatedAt = fromUnix(created), fromUnix(updated)
	return &a, nil
}

func (s *Store) GetActiveByPlatformID(ctx context.Context, platformID string) (*entities.ConnectedAccount, error) {
	return scanAccount(s.db.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM connected_accounts WHERE platform_id = ? AND active = 1", platformID))
}

func (s *Store) GetByID(ctx context.Context, accountID string) (*entities.ConnectedAccount, error) {
	return scanAccount(s.db.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM connected_accounts WHERE id = ?", accountID))
}

func (s *Store) UpsertAccount(ctx context.Context, a *entities.ConnectedAccount) error {
	now := toUnix(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO connected_accounts
			(id, owner_id, platform_id, username, access_token, active, story_automation_enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = excluded.owner_id,
			platform_id = excluded.platform_id,
			username = excluded.username,
			access_token = excluded.access_token,
			active = excluded.active,
			story_automation_enabled = excluded.story_automation_enabled,
			updated_at = excluded.updated_at
	`, a.ID, a.OwnerID, a.PlatformID, a.Username, a.AccessToken, a.Active, a.StoryAutomationEnabled, now, now)
	return err
}

func (s *Store) IncrementCounters(ctx context.Context, accountID string, delta entities.AccountCounters) error {
	if delta.IsZero() {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE connected_accounts
		SET replies_sent = replies_sent + ?, dms_sent = dms_sent + ?, follow_checks = follow_checks + ?, updated_at = ?
		WHERE id = ?
	`, delta.Replies, delta.DMs, delta.FollowChecks, toUnix(time.Now()), accountID)
	return err
}

func (s *Store) SetActive(ctx context.Context, accountID string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE connected_accounts SET active = ?, updated_at = ? WHERE id = ?",
		active, toUnix(time.Now()), accountID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return entities.ErrAccountNotFound
	}
	return nil
}

// rules

const ruleColumns = `id, owner_id, account_id, event_kind, content_id, priority, triggers, trigger_mode,
	active, reply_texts, settings_by_tier, stages, usage_count, last_used, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(row scanner) (*entities.Rule, error) {
	var (
		r                                   entities.Rule
		triggers, replies, settings, stages string
		lastUsed                            sql.NullInt64
		created                             int64
	)
	err := row.Scan(&r.ID, &r.OwnerID, &r.AccountID, &r.EventKind, &r.ContentID, &r.Priority,
		&triggers, &r.TriggerMode, &r.Active, &replies, &settings, &stages,
		&r.UsageCount, &lastUsed, &created)
	if err != nil {
		return nil, err
	}
	for _, f := range []struct {
		raw string
		dst any
	}{
		{triggers, &r.Triggers},
		{replies, &r.ReplyTexts},
		{settings, &r.SettingsByTier},
		{stages, &r.Stages},
	} {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return nil, fmt.Errorf("decode rule %s: %w", r.ID, err)
		}
	}
	r.LastUsed = fromNullUnix(lastUsed)
	r.CreatedAt = fromUnix(created)
	return &r, nil
}

func (s *Store) ListActive(ctx context.Context, accountID string, kind entities.EventKind, contentID string) ([]entities.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ruleColumns+` FROM rules
		WHERE account_id = ? AND event_kind = ? AND active = 1
		  AND (content_id = ? OR content_id = 'any' OR content_id = '')
		ORDER BY priority ASC, created_at ASC
	`, accountID, kind, contentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []entities.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *r)
	}
	return rules, rows.Err()
}

func (s *Store) GetRule(ctx context.Context, ruleID string) (*entities.Rule, error) {
	r, err := scanRule(s.db.QueryRowContext(ctx, "SELECT "+ruleColumns+" FROM rules WHERE id = ?", ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

func (s *Store) UpsertRule(ctx context.Context, r *entities.Rule) error {
	triggers, replies := r.Triggers, r.ReplyTexts
	if triggers == nil {
		triggers = []string{}
	}
	if replies == nil {
		replies = []string{}
	}
	var raw [4][]byte
	for i, v := range []any{triggers, replies, r.SettingsByTier, r.Stages} {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		raw[i] = b
	}
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rules
			(id, owner_id, account_id, event_kind, content_id, priority, triggers, trigger_mode,
			 active, reply_texts, settings_by_tier, stages, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = excluded.owner_id,
			account_id = excluded.account_id,
			event_kind = excluded.event_kind,
			content_id = excluded.content_id,
			priority = excluded.priority,
			triggers = excluded.triggers,
			trigger_mode = excluded.trigger_mode,
			active = excluded.active,
			reply_texts = excluded.reply_texts,
			settings_by_tier = excluded.settings_by_tier,
			stages = excluded.stages
	`, r.ID, r.OwnerID, r.AccountID, r.EventKind, r.ContentID, r.Priority,
		string(raw[0]), r.TriggerMode, r.Active, string(raw[1]), string(raw[2]), string(raw[3]), toUnix(created))
	return err
}

func (s *Store) MarkUsed(ctx context.Context, ruleID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE rules SET usage_count = usage_count + 1, last_used = ? WHERE id = ?",
		toUnix(at), ruleID)
	return err
}

// subscriptions

func (s *Store) GetTier(ctx context.Context, ownerID string) (entities.Tier, error) {
	var plan string
	err := s.db.QueryRowContext(ctx, "SELECT plan FROM subscriptions WHERE owner_id = ?", ownerID).Scan(&plan)
	if errors.Is(err, sql.ErrNoRows) {
		return entities.TierFree, nil
	}
	if err != nil {
		return "", err
	}
	return entities.ParseTier(plan), nil
}

func (s *Store) SetPlan(ctx context.Context, ownerID string, tier entities.Tier) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (owner_id, plan, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (owner_id) DO UPDATE SET plan = excluded.plan, updated_at = excluded.updated_at
	`, ownerID, string(tier), toUnix(time.Now()))
	return err
}
