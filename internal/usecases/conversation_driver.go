package usecases

import (
	"context"
	"math/rand/v2"
	"strings"

	"autodm/internal/entities"
	"autodm/internal/interfaces"
	"autodm/internal/metrics"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultOpeningButton = "Send me the link"
	defaultFinalButton   = "Open link"
	defaultFollowButton  = "I'm following"
	defaultFollowText    = "Looks like you're not following yet. Follow us, then tap the button again."
)

// CommentFlow is a metered conversation triggered by a comment.
type CommentFlow struct {
	Account             *entities.ConnectedAccount
	Rule                *entities.Rule
	Event               *entities.EngagementEvent
	Tier                entities.Tier
	RequiresFollowCheck bool
}

// StoryFlow is an unmetered conversation triggered by a story mention.
type StoryFlow struct {
	Account *entities.ConnectedAccount
	Rule    *entities.Rule
	Event   *entities.EngagementEvent
}

// Continuation resumes a conversation from a button click.
type Continuation struct {
	Account  *entities.ConnectedAccount
	Rule     *entities.Rule
	Token    *StateToken
	SenderID string
}

// ConversationDriver runs a rule's reply and DM flow. It keeps no state
// between events; whatever a later click needs is encoded in the button's
// state token.
type ConversationDriver struct {
	gateway interfaces.Gateway
	tokens  *StateTokenCodec
	log     *zap.Logger
	pick    func(n int) int
}

func NewConversationDriver(gateway interfaces.Gateway, tokens *StateTokenCodec, log *zap.Logger) *ConversationDriver {
	return &ConversationDriver{
		gateway: gateway,
		tokens:  tokens,
		log:     log,
		pick:    rand.IntN,
	}
}

// RunCommentFlow posts the public reply and runs the DM flow side by side.
// Either succeeding makes the event a success.
func (d *ConversationDriver) RunCommentFlow(ctx context.Context, f CommentFlow) entities.FlowOutcome {
	var (
		g       errgroup.Group
		replyOK bool
		dm      entities.FlowOutcome
	)

	g.Go(func() error {
		replyOK = d.postPublicReply(ctx, f)
		return nil
	})
	g.Go(func() error {
		dm = d.commentDM(ctx, f)
		return nil
	})
	_ = g.Wait()

	out := dm
	out.ReplySent = replyOK
	out.Success = replyOK || dm.DMSent

	var reasons []string
	if len(f.Rule.ReplyTexts) > 0 && !replyOK {
		reasons = append(reasons, "comment reply failed")
	}
	if !dm.DMSent {
		reasons = append(reasons, dm.FailureReason)
	}
	out.FailureReason = strings.Join(reasons, "; ")
	return out
}

func (d *ConversationDriver) postPublicReply(ctx context.Context, f CommentFlow) bool {
	if len(f.Rule.ReplyTexts) == 0 {
		return false
	}
	text := f.Rule.ReplyTexts[d.pick(len(f.Rule.ReplyTexts))]
	ok, err := d.gateway.PostCommentReply(ctx, f.Account.PlatformID, f.Account.AccessToken, f.Event.CommentID, f.Event.ContentID, text)
	return d.observe("comment_reply", ok, err, zap.String("event_id", f.Event.EventID))
}

func (d *ConversationDriver) commentDM(ctx context.Context, f CommentFlow) entities.FlowOutcome {
	settings := f.Rule.SettingsByTier.For(f.Tier)
	recipient := f.Event.AuthorID

	if f.Tier == entities.TierFree && settings.DirectLink {
		msg := finalMessage(f.Rule)
		msg.CommentID = f.Event.CommentID
		return d.deliver(ctx, f.Account, recipient, msg, entities.StageFinalLink)
	}

	gate := entities.GateAccess
	if f.RequiresFollowCheck {
		gate = entities.GateFollow
	}
	payload, err := d.tokens.Encode(StateToken{
		Stage:       entities.StageInitial,
		Gate:        gate,
		RuleID:      f.Rule.ID,
		AccountID:   f.Account.ID,
		RecipientID: recipient,
	})
	if err != nil {
		return entities.FlowOutcome{Stage: entities.StageInitial, FailureReason: err.Error()}
	}

	msg := entities.DirectMessage{
		Text:      f.Rule.Stages.Opening.Text,
		Button:    &entities.Button{Label: orDefault(f.Rule.Stages.Opening.ButtonLabel, defaultOpeningButton), Payload: payload},
		CommentID: f.Event.CommentID,
	}
	return d.deliver(ctx, f.Account, recipient, msg, entities.StageInitial)
}

// RunStoryFlow answers a story mention. Stories have no comment thread, so
// only the DM is sent. The first enabled gate wins: welcome, follow, email,
// phone, then plain content delivery.
func (d *ConversationDriver) RunStoryFlow(ctx context.Context, f StoryFlow) entities.FlowOutcome {
	stages := f.Rule.Stages
	recipient := f.Event.AuthorID

	switch {
	case stages.Welcome.Enabled:
		gate := entities.GateAccess
		if stages.FollowGate.Enabled {
			gate = entities.GateFollow
		}
		return d.deliverGate(ctx, f.Account, f.Rule, recipient, stages.Welcome, entities.StageWelcome, gate)
	case stages.FollowGate.Enabled:
		return d.deliverGate(ctx, f.Account, f.Rule, recipient, stages.FollowGate, entities.StageFollowReminder, entities.GateFollow)
	case stages.EmailGate.Enabled:
		return d.deliver(ctx, f.Account, recipient, entities.DirectMessage{Text: stages.EmailGate.Text}, entities.StageAskEmail)
	case stages.PhoneGate.Enabled:
		return d.deliver(ctx, f.Account, recipient, entities.DirectMessage{Text: stages.PhoneGate.Text}, entities.StageAskPhone)
	default:
		return d.deliver(ctx, f.Account, recipient, finalMessage(f.Rule), entities.StageFinalLink)
	}
}

// Continue resolves the gate carried by a clicked button.
func (d *ConversationDriver) Continue(ctx context.Context, c Continuation) entities.FlowOutcome {
	if c.Token.Gate == entities.GateAccess {
		return d.deliver(ctx, c.Account, c.SenderID, finalMessage(c.Rule), entities.StageFinalLink)
	}

	following, err := d.gateway.CheckFollowStatus(ctx, c.Account.PlatformID, c.Account.AccessToken, c.SenderID)
	if !d.observe("follow_check", true, err, zap.String("rule_id", c.Rule.ID)) {
		return entities.FlowOutcome{
			Stage:         entities.StageFollowReminder,
			FailureReason: "follow check failed",
		}
	}

	if following {
		out := d.deliver(ctx, c.Account, c.SenderID, finalMessage(c.Rule), entities.StageFinalLink)
		out.FollowChecked, out.IsFollowing = true, true
		return out
	}

	reminder := c.Rule.Stages.FollowGate
	reminder.Text = orDefault(reminder.Text, defaultFollowText)
	out := d.deliverGate(ctx, c.Account, c.Rule, c.SenderID, reminder, entities.StageFollowReminder, entities.GateFollow)
	out.FollowChecked = true
	return out
}

func (d *ConversationDriver) deliverGate(ctx context.Context, acct *entities.ConnectedAccount, rule *entities.Rule, recipient string, gs entities.GateStage, stage entities.Stage, gate entities.Gate) entities.FlowOutcome {
	payload, err := d.tokens.Encode(StateToken{
		Stage:       stage,
		Gate:        gate,
		RuleID:      rule.ID,
		AccountID:   acct.ID,
		RecipientID: recipient,
	})
	if err != nil {
		return entities.FlowOutcome{Stage: stage, FailureReason: err.Error()}
	}
	label := gs.ButtonLabel
	if label == "" && gate == entities.GateFollow {
		label = defaultFollowButton
	}
	msg := entities.DirectMessage{
		Text:   gs.Text,
		Button: &entities.Button{Label: orDefault(label, defaultOpeningButton), Payload: payload},
	}
	return d.deliver(ctx, acct, recipient, msg, stage)
}

func (d *ConversationDriver) deliver(ctx context.Context, acct *entities.ConnectedAccount, recipient string, msg entities.DirectMessage, stage entities.Stage) entities.FlowOutcome {
	ok, err := d.gateway.SendDirectMessage(ctx, acct.PlatformID, acct.AccessToken, recipient, msg)
	out := entities.FlowOutcome{Stage: stage}
	if d.observe("direct_message", ok, err, zap.String("account_id", acct.ID), zap.String("stage", string(stage))) {
		out.DMSent = true
		out.Success = true
		return out
	}
	out.FailureReason = "direct message failed"
	return out
}

// observe logs and counts one outbound call and folds error and false into
// a single failure.
func (d *ConversationDriver) observe(op string, ok bool, err error, fields ...zap.Field) bool {
	if err != nil {
		metrics.OutboundCalls.WithLabelValues(op, "error").Inc()
		d.log.Warn("Outbound call failed", append(fields, zap.String("op", op), zap.Error(err))...)
		return false
	}
	if !ok {
		metrics.OutboundCalls.WithLabelValues(op, "rejected").Inc()
		d.log.Warn("Outbound call rejected", append(fields, zap.String("op", op))...)
		return false
	}
	metrics.OutboundCalls.WithLabelValues(op, "ok").Inc()
	return true
}

func finalMessage(rule *entities.Rule) entities.DirectMessage {
	msg := entities.DirectMessage{Text: rule.Stages.Final.Text}
	if rule.Stages.Final.Link != "" {
		msg.Button = &entities.Button{
			Label: orDefault(rule.Stages.Final.ButtonLabel, defaultFinalButton),
			URL:   rule.Stages.Final.Link,
		}
	}
	return msg
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
