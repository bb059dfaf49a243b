package usecases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"autodm/internal/entities"
	"autodm/internal/interfaces"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OutcomeRecorder persists the audit record of an event and bumps the
// best-effort rule and account statistics.
type OutcomeRecorder struct {
	events   interfaces.EventStore
	rules    interfaces.RuleStore
	accounts interfaces.AccountStore
	log      *zap.Logger
	now      func() time.Time
}

func NewOutcomeRecorder(events interfaces.EventStore, rules interfaces.RuleStore, accounts interfaces.AccountStore, log *zap.Logger) *OutcomeRecorder {
	return &OutcomeRecorder{
		events:   events,
		rules:    rules,
		accounts: accounts,
		log:      log,
		now:      time.Now,
	}
}

// Record writes rec and then updates statistics. The matched rule's usage
// is counted whatever the outcome. Only the audit write can fail the call;
// statistics errors are logged.
func (r *OutcomeRecorder) Record(ctx context.Context, rec *entities.ReplyLog) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now().UTC()
	}

	if err := r.events.Insert(ctx, rec); err != nil {
		if errors.Is(err, entities.ErrDuplicateEvent) {
			r.log.Warn("Reply log already exists", zap.String("event_id", rec.EventID))
			return err
		}
		return fmt.Errorf("insert reply log: %w", err)
	}

	if rec.RuleID != "" {
		if err := r.rules.MarkUsed(ctx, rec.RuleID, rec.CreatedAt); err != nil {
			r.log.Warn("Failed to update rule usage",
				zap.Error(err),
				zap.String("rule_id", rec.RuleID))
		}
	}

	delta := entities.AccountCounters{}
	if rec.ReplySent {
		delta.Replies = 1
	}
	if rec.DMSent {
		delta.DMs = 1
	}
	if rec.FollowChecked {
		delta.FollowChecks = 1
	}
	if rec.AccountID != "" && !delta.IsZero() {
		if err := r.accounts.IncrementCounters(ctx, rec.AccountID, delta); err != nil {
			r.log.Warn("Failed to update account counters",
				zap.Error(err),
				zap.String("account_id", rec.AccountID))
		}
	}
	return nil
}
