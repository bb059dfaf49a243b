package usecases

import (
	"context"
	"fmt"
	"time"

	"autodm/internal/entities"
	"autodm/internal/interfaces"
	"autodm/internal/metrics"

	"go.uber.org/zap"
)

const recordTimeout = 5 * time.Second

// DispatcherDeps are the collaborators of a Dispatcher.
type DispatcherDeps struct {
	Dedup     *Deduplicator
	Accounts  interfaces.AccountStore
	Rules     interfaces.RuleStore
	Tiers     interfaces.TierResolver
	Matcher   *TemplateMatcher
	Estimator *CostEstimator
	Ledger    *UsageLedger
	Driver    *ConversationDriver
	Recorder  *OutcomeRecorder
	Queue     interfaces.DeferredQueue
	Tokens    *StateTokenCodec
	Notifier  interfaces.Notifier
}

// Dispatcher runs one inbound event through dedup, matching, metering, the
// conversation and the audit log. It never returns an error: every failure
// ends up in the DispatchResult and, except for duplicates, in a reply log.
type Dispatcher struct {
	DispatcherDeps
	log *zap.Logger
	now func() time.Time
}

func NewDispatcher(deps DispatcherDeps, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		DispatcherDeps: deps,
		log:            log,
		now:            time.Now,
	}
}

// Dispatch handles a comment or story mention.
func (d *Dispatcher) Dispatch(ctx context.Context, evt entities.EngagementEvent) (result entities.DispatchResult) {
	start := d.now()
	rec := &entities.ReplyLog{
		EventID:        evt.EventID,
		EventKind:      evt.Kind,
		Text:           evt.Text,
		AuthorID:       evt.AuthorID,
		AuthorUsername: evt.AuthorUsername,
	}
	defer d.guard(ctx, rec, start, &result)

	if evt.EventID == "" {
		return entities.DispatchResult{Outcome: entities.OutcomeError, Message: "missing event id"}
	}

	isNew, err := d.Dedup.IsNew(ctx, evt.EventID)
	if err != nil {
		return d.unclaimed(evt.EventID, err)
	}
	if !isNew {
		d.log.Info("Skipping duplicate event", zap.String("event_id", evt.EventID))
		return entities.DispatchResult{
			EventID: evt.EventID,
			Outcome: entities.OutcomeDuplicate,
			Message: entities.ErrDuplicateEvent.Error(),
		}
	}

	account, err := d.Accounts.GetActiveByPlatformID(ctx, evt.PlatformAccountID)
	if err != nil {
		return d.finish(ctx, rec, start, entities.OutcomeError, fmt.Sprintf("load account: %v", err))
	}
	if account == nil {
		return d.finish(ctx, rec, start, entities.OutcomeSkipped, entities.ErrAccountNotFound.Error())
	}
	rec.OwnerID, rec.AccountID = account.OwnerID, account.ID

	switch evt.Kind {
	case entities.EventComment:
		return d.dispatchComment(ctx, &evt, account, rec, start)
	case entities.EventStoryMention:
		return d.dispatchStory(ctx, &evt, account, rec, start)
	default:
		return d.finish(ctx, rec, start, entities.OutcomeSkipped, fmt.Sprintf("unsupported event kind %q", evt.Kind))
	}
}

// dispatchComment is the metered path.
func (d *Dispatcher) dispatchComment(ctx context.Context, evt *entities.EngagementEvent, account *entities.ConnectedAccount, rec *entities.ReplyLog, start time.Time) entities.DispatchResult {
	if !IsMeaningful(evt) {
		return d.finish(ctx, rec, start, entities.OutcomeNotMeaningful, entities.ErrNotMeaningful.Error())
	}

	rule, err := d.matchRule(ctx, account, evt)
	if err != nil {
		return d.finish(ctx, rec, start, entities.OutcomeError, err.Error())
	}
	if rule == nil {
		return d.finish(ctx, rec, start, entities.OutcomeNoRule, entities.ErrNoMatchingRule.Error())
	}
	rec.RuleID = rule.ID

	tier, err := d.Tiers.GetTier(ctx, account.OwnerID)
	if err != nil {
		return d.finish(ctx, rec, start, entities.OutcomeError, fmt.Sprintf("resolve tier: %v", err))
	}

	calls, requiresFollow := d.Estimator.Estimate(tier, rule, true)
	admission, err := d.Ledger.Admit(ctx, account.OwnerID, account.ID, calls)
	if err != nil {
		return d.finish(ctx, rec, start, entities.OutcomeError, err.Error())
	}
	if !admission.Allowed {
		return d.rateLimited(ctx, evt, account, rule, calls, admission, rec, start)
	}

	out := d.Driver.RunCommentFlow(ctx, CommentFlow{
		Account:             account,
		Rule:                rule,
		Event:               evt,
		Tier:                tier,
		RequiresFollowCheck: requiresFollow,
	})
	return d.complete(ctx, rec, start, out)
}

// dispatchStory is the unmetered path: story mentions never reach the ledger.
func (d *Dispatcher) dispatchStory(ctx context.Context, evt *entities.EngagementEvent, account *entities.ConnectedAccount, rec *entities.ReplyLog, start time.Time) entities.DispatchResult {
	if !account.StoryAutomationEnabled {
		return d.finish(ctx, rec, start, entities.OutcomeSkipped, entities.ErrStoryAutomationDisabled.Error())
	}

	rule, err := d.matchRule(ctx, account, evt)
	if err != nil {
		return d.finish(ctx, rec, start, entities.OutcomeError, err.Error())
	}
	if rule == nil {
		return d.finish(ctx, rec, start, entities.OutcomeNoRule, entities.ErrNoMatchingRule.Error())
	}
	rec.RuleID = rule.ID

	out := d.Driver.RunStoryFlow(ctx, StoryFlow{Account: account, Rule: rule, Event: evt})
	return d.complete(ctx, rec, start, out)
}

// DispatchCallback resumes a conversation from a button click. The calls it
// makes were budgeted when the opening comment was admitted.
func (d *Dispatcher) DispatchCallback(ctx context.Context, evt entities.ButtonEvent) (result entities.DispatchResult) {
	start := d.now()
	rec := &entities.ReplyLog{
		EventID:        evt.EventID,
		EventKind:      entities.EventButtonCallback,
		AuthorID:       evt.SenderID,
		AuthorUsername: evt.SenderUsername,
	}
	defer d.guard(ctx, rec, start, &result)

	if evt.EventID == "" {
		return entities.DispatchResult{Outcome: entities.OutcomeError, Message: "missing event id"}
	}

	isNew, err := d.Dedup.IsNew(ctx, evt.EventID)
	if err != nil {
		return d.unclaimed(evt.EventID, err)
	}
	if !isNew {
		return entities.DispatchResult{
			EventID: evt.EventID,
			Outcome: entities.OutcomeDuplicate,
			Message: entities.ErrDuplicateEvent.Error(),
		}
	}

	token, err := d.Tokens.Decode(evt.Payload)
	if err != nil {
		return d.finish(ctx, rec, start, entities.OutcomeSkipped, err.Error())
	}
	if token.RecipientID != evt.SenderID {
		return d.finish(ctx, rec, start, entities.OutcomeSkipped, entities.ErrInvalidStateToken.Error()+": issued to another recipient")
	}

	account, err := d.Accounts.GetActiveByPlatformID(ctx, evt.PlatformAccountID)
	if err != nil {
		return d.finish(ctx, rec, start, entities.OutcomeError, fmt.Sprintf("load account: %v", err))
	}
	if account == nil || account.ID != token.AccountID {
		return d.finish(ctx, rec, start, entities.OutcomeSkipped, entities.ErrAccountNotFound.Error())
	}
	rec.OwnerID, rec.AccountID = account.OwnerID, account.ID

	rule, err := d.Rules.GetRule(ctx, token.RuleID)
	if err != nil {
		return d.finish(ctx, rec, start, entities.OutcomeError, fmt.Sprintf("load rule: %v", err))
	}
	if rule == nil || !rule.Active || rule.AccountID != account.ID {
		return d.finish(ctx, rec, start, entities.OutcomeSkipped, entities.ErrRuleNotFound.Error())
	}
	rec.RuleID = rule.ID

	out := d.Driver.Continue(ctx, Continuation{
		Account:  account,
		Rule:     rule,
		Token:    token,
		SenderID: evt.SenderID,
	})
	return d.complete(ctx, rec, start, out)
}

// unclaimed reports a failed dedup lookup. Nothing is recorded: the id was
// not claimed and a redelivery must still be processed.
func (d *Dispatcher) unclaimed(eventID string, err error) entities.DispatchResult {
	d.log.Error("Failed to check event id", zap.Error(err), zap.String("event_id", eventID))
	return entities.DispatchResult{
		EventID: eventID,
		Outcome: entities.OutcomeError,
		Message: err.Error(),
	}
}

func (d *Dispatcher) matchRule(ctx context.Context, account *entities.ConnectedAccount, evt *entities.EngagementEvent) (*entities.Rule, error) {
	candidates, err := d.Rules.ListActive(ctx, account.ID, evt.Kind, evt.ContentID)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	return d.Matcher.Match(account.ID, evt.ContentID, evt.Text, candidates), nil
}

func (d *Dispatcher) rateLimited(ctx context.Context, evt *entities.EngagementEvent, account *entities.ConnectedAccount, rule *entities.Rule, calls int, admission entities.Admission, rec *entities.ReplyLog, start time.Time) entities.DispatchResult {
	if !admission.Queued {
		return d.finish(ctx, rec, start, entities.OutcomeRateLimited, "Rate limited: "+admission.Reason)
	}

	err := d.Queue.Enqueue(ctx, &entities.DeferredEvent{
		QueueID:   admission.QueueID,
		OwnerID:   account.OwnerID,
		AccountID: account.ID,
		RuleID:    rule.ID,
		Calls:     calls,
		Event:     *evt,
		CreatedAt: d.now().UTC(),
	})
	if err != nil {
		d.log.Error("Failed to enqueue deferred event",
			zap.Error(err),
			zap.String("event_id", evt.EventID),
			zap.String("queue_id", admission.QueueID))
		return d.finish(ctx, rec, start, entities.OutcomeRateLimited, "Rate limited: "+admission.Reason+"; queue unavailable")
	}

	rec.Queued, rec.QueueID = true, admission.QueueID
	return d.finish(ctx, rec, start, entities.OutcomeRateLimited, "Rate limited, queued for later processing")
}

func (d *Dispatcher) complete(ctx context.Context, rec *entities.ReplyLog, start time.Time, out entities.FlowOutcome) entities.DispatchResult {
	rec.Stage = out.Stage
	rec.ReplySent = out.ReplySent
	rec.DMSent = out.DMSent
	rec.FollowChecked = out.FollowChecked
	rec.IsFollowing = out.IsFollowing

	if !out.Success {
		return d.finish(ctx, rec, start, entities.OutcomeSendFailure, entities.ErrSendFailure.Error()+": "+out.FailureReason)
	}
	rec.Success = true
	// partial failures are kept on successful records too
	rec.FailureReason = out.FailureReason
	return d.finish(ctx, rec, start, entities.OutcomeProcessed, "")
}

// finish writes the reply log and builds the caller's result. The write is
// detached from ctx so a timed-out event is still recorded.
func (d *Dispatcher) finish(ctx context.Context, rec *entities.ReplyLog, start time.Time, outcome entities.Outcome, message string) entities.DispatchResult {
	if outcome != entities.OutcomeProcessed {
		rec.Success = false
		rec.FailureReason = message
	}
	rec.ProcessingTimeMs = d.now().Sub(start).Milliseconds()

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := d.Recorder.Record(rctx, rec); err != nil {
		d.log.Error("Failed to record outcome",
			zap.Error(err),
			zap.String("event_id", rec.EventID),
			zap.String("outcome", string(outcome)))
	}

	if outcome == entities.OutcomeProcessed {
		message = "processed"
	}
	d.log.Info("Event dispatched",
		zap.String("event_id", rec.EventID),
		zap.String("kind", string(rec.EventKind)),
		zap.String("outcome", string(outcome)),
		zap.String("account_id", rec.AccountID),
		zap.String("rule_id", rec.RuleID),
		zap.String("stage", string(rec.Stage)),
		zap.Int64("elapsed_ms", rec.ProcessingTimeMs))

	return entities.DispatchResult{
		EventID:   rec.EventID,
		Outcome:   outcome,
		Success:   rec.Success,
		Queued:    rec.Queued,
		QueueID:   rec.QueueID,
		RuleID:    rec.RuleID,
		Stage:     rec.Stage,
		ReplySent: rec.ReplySent,
		DMSent:    rec.DMSent,
		Message:   message,
	}
}

// guard converts a panic into a recorded failure and observes metrics.
func (d *Dispatcher) guard(ctx context.Context, rec *entities.ReplyLog, start time.Time, result *entities.DispatchResult) {
	if p := recover(); p != nil {
		msg := fmt.Sprintf("unexpected error: %v", p)
		d.log.Error("Recovered from panic while dispatching",
			zap.String("event_id", rec.EventID),
			zap.Any("panic", p))
		*result = d.finish(ctx, rec, start, entities.OutcomeError, msg)
	}

	kind := string(rec.EventKind)
	metrics.DispatchCount.WithLabelValues(kind, string(result.Outcome)).Inc()
	metrics.DispatchDuration.WithLabelValues(kind).Observe(d.now().Sub(start).Seconds())

	if result.Outcome == entities.OutcomeError && d.Notifier != nil {
		text := fmt.Sprintf("Event %s (%s) failed: %s", rec.EventID, kind, result.Message)
		go func() {
			nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
			defer cancel()
			if err := d.Notifier.Notify(nctx, text); err != nil {
				d.log.Warn("Failed to send error alert", zap.Error(err))
			}
		}()
	}
}
