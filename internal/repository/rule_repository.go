package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"autodm/internal/entities"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RuleRepository struct {
	db *pgxpool.Pool
}

func NewRuleRepository(db *pgxpool.Pool) *RuleRepository {
	return &RuleRepository{db: db}
}

const ruleColumns = `id, owner_id, account_id, event_kind, content_id, priority, triggers, trigger_mode,
	active, reply_texts, settings_by_tier, stages, usage_count, last_used, created_at`

// ruleJSON holds the JSONB columns of a rule row.
type ruleJSON struct {
	triggers, replyTexts, settings, stages []byte
}

func (j *ruleJSON) decode(rule *entities.Rule) error {
	for _, f := range []struct {
		name string
		raw  []byte
		dst  any
	}{
		{"triggers", j.triggers, &rule.Triggers},
		{"reply_texts", j.replyTexts, &rule.ReplyTexts},
		{"settings_by_tier", j.settings, &rule.SettingsByTier},
		{"stages", j.stages, &rule.Stages},
	} {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return fmt.Errorf("decode rule %s %s: %w", rule.ID, f.name, err)
		}
	}
	return nil
}

func encodeRuleJSON(rule *entities.Rule) (ruleJSON, error) {
	var (
		j   ruleJSON
		err error
	)
	triggers, replies := rule.Triggers, rule.ReplyTexts
	if triggers == nil {
		triggers = []string{}
	}
	if replies == nil {
		replies = []string{}
	}
	if j.triggers, err = json.Marshal(triggers); err != nil {
		return j, err
	}
	if j.replyTexts, err = json.Marshal(replies); err != nil {
		return j, err
	}
	if j.settings, err = json.Marshal(rule.SettingsByTier); err != nil {
		return j, err
	}
	if j.stages, err = json.Marshal(rule.Stages); err != nil {
		return j, err
	}
	return j, nil
}

func scanRule(row pgx.Row) (*entities.Rule, error) {
	var (
		rule entities.Rule
		raw  ruleJSON
	)
	err := row.Scan(&rule.ID, &rule.OwnerID, &rule.AccountID, &rule.EventKind, &rule.ContentID, &rule.Priority,
		&raw.triggers, &rule.TriggerMode, &rule.Active, &raw.replyTexts, &raw.settings, &raw.stages,
		&rule.UsageCount, &rule.LastUsed, &rule.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := raw.decode(&rule); err != nil {
		return nil, err
	}
	return &rule, nil
}

// ListActive returns the active rules of an account for an event kind that
// are scoped to contentID or to every content item, ordered by priority.
func (r *RuleRepository) ListActive(ctx context.Context, accountID string, kind entities.EventKind, contentID string) ([]entities.Rule, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+ruleColumns+` FROM rules
		WHERE account_id = $1 AND event_kind = $2 AND active
		  AND (content_id = $3 OR content_id = 'any' OR content_id = '')
		ORDER BY priority ASC, created_at ASC
	`, accountID, kind, contentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []entities.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}

func (r *RuleRepository) GetRule(ctx context.Context, ruleID string) (*entities.Rule, error) {
	rule, err := scanRule(r.db.QueryRow(ctx, "SELECT "+ruleColumns+" FROM rules WHERE id = $1", ruleID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rule, err
}

// Upsert creates or replaces a rule definition. Usage statistics are kept.
func (r *RuleRepository) Upsert(ctx context.Context, rule *entities.Rule) error {
	raw, err := encodeRuleJSON(rule)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO rules
			(id, owner_id, account_id, event_kind, content_id, priority, triggers, trigger_mode,
			 active, reply_texts, settings_by_tier, stages)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			account_id = EXCLUDED.account_id,
			event_kind = EXCLUDED.event_kind,
			content_id = EXCLUDED.content_id,
			priority = EXCLUDED.priority,
			triggers = EXCLUDED.triggers,
			trigger_mode = EXCLUDED.trigger_mode,
			active = EXCLUDED.active,
			reply_texts = EXCLUDED.reply_texts,
			settings_by_tier = EXCLUDED.settings_by_tier,
			stages = EXCLUDED.stages
	`, rule.ID, rule.OwnerID, rule.AccountID, rule.EventKind, rule.ContentID, rule.Priority,
		raw.triggers, rule.TriggerMode, rule.Active, raw.replyTexts, raw.settings, raw.stages)
	return err
}

// MarkUsed bumps the rule's usage statistics after a successful send.
func (r *RuleRepository) MarkUsed(ctx context.Context, ruleID string, at time.Time) error {
	_, err := r.db.Exec(ctx,
		"UPDATE rules SET usage_count = usage_count + 1, last_used = $2 WHERE id = $1",
		ruleID, at)
	return err
}
