package infrastructure

import (
	"context"
	"fmt"
	"time"

	"autodm/internal/config"

	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresClient struct {
	Pool *pgxpool.Pool
}

func NewPostgresClient(ctx context.Context, cfg *config.Config) (*PostgresClient, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	poolCfg.MaxConns = cfg.DBMaxConns
	poolCfg.MinConns = cfg.DBMinConns
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &PostgresClient{Pool: pool}, nil
}

func (p *PostgresClient) Close() {
	p.Pool.Close()
}

var postgresSchema = []struct {
	name string
	ddl  string
}{
	{"subscriptions", `
		CREATE TABLE IF NOT EXISTS subscriptions (
			owner_id TEXT PRIMARY KEY,
			plan VARCHAR(20) NOT NULL DEFAULT 'free',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`},
	{"connected_accounts", `
		CREATE TABLE IF NOT EXISTS connected_accounts (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			platform_id TEXT NOT NULL,
			username TEXT NOT NULL DEFAULT '',
			access_token TEXT NOT NULL DEFAULT '',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			story_automation_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			replies_sent BIGINT NOT NULL DEFAULT 0,
			dms_sent BIGINT NOT NULL DEFAULT 0,
			follow_checks BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS connected_accounts_active_platform
			ON connected_accounts (platform_id) WHERE active;`},
	{"rules", `
		CREATE TABLE IF NOT EXISTS rules (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			account_id TEXT NOT NULL,
			event_kind VARCHAR(20) NOT NULL,
			content_id TEXT NOT NULL DEFAULT 'any',
			priority INT NOT NULL DEFAULT 100,
			triggers JSONB NOT NULL DEFAULT '[]',
			trigger_mode VARCHAR(20) NOT NULL DEFAULT 'keyword',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			reply_texts JSONB NOT NULL DEFAULT '[]',
			settings_by_tier JSONB NOT NULL DEFAULT '{}',
			stages JSONB NOT NULL DEFAULT '{}',
			usage_count BIGINT NOT NULL DEFAULT 0,
			last_used TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS rules_account_kind
			ON rules (account_id, event_kind, priority) WHERE active;`},
	{"usage_windows", `
		CREATE TABLE IF NOT EXISTS usage_windows (
			owner_id TEXT NOT NULL,
			window_start TIMESTAMPTZ NOT NULL,
			tier_limit INT NOT NULL,
			total_calls_made INT NOT NULL DEFAULT 0,
			PRIMARY KEY (owner_id, window_start),
			CHECK (total_calls_made <= tier_limit)
		);
		CREATE TABLE IF NOT EXISTS usage_window_accounts (
			owner_id TEXT NOT NULL,
			window_start TIMESTAMPTZ NOT NULL,
			account_id TEXT NOT NULL,
			calls_made INT NOT NULL DEFAULT 0,
			last_call_at TIMESTAMPTZ,
			PRIMARY KEY (owner_id, window_start, account_id),
			FOREIGN KEY (owner_id, window_start)
				REFERENCES usage_windows (owner_id, window_start) ON DELETE CASCADE
		);`},
	{"event_claims", `
		CREATE TABLE IF NOT EXISTS event_claims (
			event_id TEXT PRIMARY KEY,
			claimed_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`},
	{"reply_logs", `
		CREATE TABLE IF NOT EXISTS reply_logs (
			id TEXT PRIMARY KEY,
			event_id TEXT NOT NULL UNIQUE,
			owner_id TEXT NOT NULL DEFAULT '',
			account_id TEXT NOT NULL DEFAULT '',
			rule_id TEXT NOT NULL DEFAULT '',
			event_kind VARCHAR(20) NOT NULL,
			text TEXT NOT NULL DEFAULT '',
			author_id TEXT NOT NULL DEFAULT '',
			author_username TEXT NOT NULL DEFAULT '',
			stage VARCHAR(20) NOT NULL DEFAULT '',
			reply_sent BOOLEAN NOT NULL DEFAULT FALSE,
			dm_sent BOOLEAN NOT NULL DEFAULT FALSE,
			follow_checked BOOLEAN NOT NULL DEFAULT FALSE,
			is_following BOOLEAN NOT NULL DEFAULT FALSE,
			processing_time_ms BIGINT NOT NULL DEFAULT 0,
			queued BOOLEAN NOT NULL DEFAULT FALSE,
			queue_id TEXT NOT NULL DEFAULT '',
			success BOOLEAN NOT NULL DEFAULT FALSE,
			failure_reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS reply_logs_account_created
			ON reply_logs (account_id, created_at);`},
	{"deferred_events", `
		CREATE TABLE IF NOT EXISTS deferred_events (
			queue_id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			account_id TEXT NOT NULL,
			rule_id TEXT NOT NULL,
			calls INT NOT NULL,
			event JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`},
}

// Migrate creates the schema. It is idempotent.
func (p *PostgresClient) Migrate(ctx context.Context) error {
	for _, t := range postgresSchema {
		if _, err := p.Pool.Exec(ctx, t.ddl); err != nil {
			return fmt.Errorf("create %s table: %w", t.name, err)
		}
	}
	return nil
}
