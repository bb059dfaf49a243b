package usecases

import (
	"context"
	"errors"
	"testing"
	"time"

	"autodm/internal/entities"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestDriver(gw *MockGateway) (*ConversationDriver, *StateTokenCodec) {
	tokens := NewStateTokenCodec(testTokenSecret, time.Hour)
	d := NewConversationDriver(gw, tokens, zap.NewNop())
	d.pick = func(int) int { return 0 }
	return d, tokens
}

func testAccount() *entities.ConnectedAccount {
	return &entities.ConnectedAccount{
		ID:                     "acct-1",
		OwnerID:                "owner-1",
		PlatformID:             "ig-1",
		AccessToken:            "tok",
		Active:                 true,
		StoryAutomationEnabled: true,
	}
}

func testRule() *entities.Rule {
	r := rule("rule-1", 1, "link")
	r.ReplyTexts = []string{"Check your DMs!"}
	r.Stages = entities.Stages{
		Opening:    entities.OpeningStage{Text: "Want the guide?", ButtonLabel: "Yes please"},
		FollowGate: entities.GateStage{Text: "Follow us first"},
		Final:      entities.FinalStage{Text: "Here it is", Link: "https://example.com/guide"},
	}
	return &r
}

func testComment() *entities.EngagementEvent {
	return &entities.EngagementEvent{
		EventID:           "evt-1",
		Kind:              entities.EventComment,
		PlatformAccountID: "ig-1",
		ContentID:         "post-1",
		CommentID:         "c-1",
		Text:              "link please",
		AuthorID:          "user-1",
		AuthorUsername:    "alice",
	}
}

func TestConversationDriver_RunCommentFlow_OpeningButton(t *testing.T) {
	gw := new(MockGateway)
	d, tokens := newTestDriver(gw)

	var sent entities.DirectMessage
	gw.On("PostCommentReply", mock.Anything, "ig-1", "tok", "c-1", "post-1", "Check your DMs!").Return(true, nil)
	gw.On("SendDirectMessage", mock.Anything, "ig-1", "tok", "user-1", mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(4).(entities.DirectMessage) }).
		Return(true, nil)

	out := d.RunCommentFlow(context.Background(), CommentFlow{
		Account: testAccount(),
		Rule:    testRule(),
		Event:   testComment(),
		Tier:    entities.TierPro,
	})

	assert.True(t, out.Success)
	assert.True(t, out.ReplySent)
	assert.True(t, out.DMSent)
	assert.Equal(t, entities.StageInitial, out.Stage)
	assert.Empty(t, out.FailureReason)

	assert.Equal(t, "Want the guide?", sent.Text)
	assert.Equal(t, "c-1", sent.CommentID)
	require.NotNil(t, sent.Button)
	assert.Equal(t, "Yes please", sent.Button.Label)

	tok, err := tokens.Decode(sent.Button.Payload)
	require.NoError(t, err)
	assert.Equal(t, entities.GateAccess, tok.Gate)
	assert.Equal(t, "rule-1", tok.RuleID)
	assert.Equal(t, "acct-1", tok.AccountID)
	assert.Equal(t, "user-1", tok.RecipientID)
}

func TestConversationDriver_RunCommentFlow_FollowGateToken(t *testing.T) {
	gw := new(MockGateway)
	d, tokens := newTestDriver(gw)

	var sent entities.DirectMessage
	gw.On("PostCommentReply", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(true, nil)
	gw.On("SendDirectMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(4).(entities.DirectMessage) }).
		Return(true, nil)

	d.RunCommentFlow(context.Background(), CommentFlow{
		Account:             testAccount(),
		Rule:                testRule(),
		Event:               testComment(),
		Tier:                entities.TierPro,
		RequiresFollowCheck: true,
	})

	require.NotNil(t, sent.Button)
	tok, err := tokens.Decode(sent.Button.Payload)
	require.NoError(t, err)
	assert.Equal(t, entities.GateFollow, tok.Gate)
}

func TestConversationDriver_RunCommentFlow_FreeDirectLink(t *testing.T) {
	gw := new(MockGateway)
	d, _ := newTestDriver(gw)
	r := testRule()
	r.SettingsByTier.Free.DirectLink = true

	gw.On("PostCommentReply", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(true, nil)
	gw.On("SendDirectMessage", mock.Anything, "ig-1", "tok", "user-1", mock.MatchedBy(func(msg entities.DirectMessage) bool {
		return msg.Text == "Here it is" &&
			msg.CommentID == "c-1" &&
			msg.Button != nil &&
			msg.Button.URL == "https://example.com/guide" &&
			msg.Button.Payload == ""
	})).Return(true, nil)

	out := d.RunCommentFlow(context.Background(), CommentFlow{
		Account: testAccount(),
		Rule:    r,
		Event:   testComment(),
		Tier:    entities.TierFree,
	})

	assert.True(t, out.Success)
	assert.Equal(t, entities.StageFinalLink, out.Stage)
	gw.AssertExpectations(t)
}

func TestConversationDriver_RunCommentFlow_PartialFailure(t *testing.T) {
	gw := new(MockGateway)
	d, _ := newTestDriver(gw)

	gw.On("PostCommentReply", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(false, nil)
	gw.On("SendDirectMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(true, nil)

	out := d.RunCommentFlow(context.Background(), CommentFlow{
		Account: testAccount(),
		Rule:    testRule(),
		Event:   testComment(),
		Tier:    entities.TierPro,
	})

	assert.True(t, out.Success)
	assert.False(t, out.ReplySent)
	assert.True(t, out.DMSent)
	assert.Equal(t, "comment reply failed", out.FailureReason)
}

func TestConversationDriver_RunCommentFlow_AllSendsFail(t *testing.T) {
	gw := new(MockGateway)
	d, _ := newTestDriver(gw)

	gw.On("PostCommentReply", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(false, errors.New("timeout"))
	gw.On("SendDirectMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(false, nil)

	out := d.RunCommentFlow(context.Background(), CommentFlow{
		Account: testAccount(),
		Rule:    testRule(),
		Event:   testComment(),
		Tier:    entities.TierPro,
	})

	assert.False(t, out.Success)
	assert.Contains(t, out.FailureReason, "comment reply failed")
	assert.Contains(t, out.FailureReason, "direct message failed")
}

func TestConversationDriver_RunCommentFlow_NoReplyTexts(t *testing.T) {
	gw := new(MockGateway)
	d, _ := newTestDriver(gw)
	r := testRule()
	r.ReplyTexts = nil

	gw.On("SendDirectMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(true, nil)

	out := d.RunCommentFlow(context.Background(), CommentFlow{
		Account: testAccount(),
		Rule:    r,
		Event:   testComment(),
		Tier:    entities.TierPro,
	})

	assert.True(t, out.Success)
	assert.False(t, out.ReplySent)
	assert.Empty(t, out.FailureReason)
	gw.AssertNotCalled(t, "PostCommentReply", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestConversationDriver_RunStoryFlow(t *testing.T) {
	story := &entities.EngagementEvent{EventID: "evt-2", Kind: entities.EventStoryMention, AuthorID: "user-1"}

	t.Run("welcome with follow gate", func(t *testing.T) {
		gw := new(MockGateway)
		d, tokens := newTestDriver(gw)
		r := testRule()
		r.Stages.Welcome = entities.GateStage{Enabled: true, Text: "Thanks for the mention!"}
		r.Stages.FollowGate.Enabled = true

		var sent entities.DirectMessage
		gw.On("SendDirectMessage", mock.Anything, "ig-1", "tok", "user-1", mock.Anything).
			Run(func(args mock.Arguments) { sent = args.Get(4).(entities.DirectMessage) }).
			Return(true, nil)

		out := d.RunStoryFlow(context.Background(), StoryFlow{Account: testAccount(), Rule: r, Event: story})
		assert.True(t, out.Success)
		assert.Equal(t, entities.StageWelcome, out.Stage)
		assert.Equal(t, "Thanks for the mention!", sent.Text)
		require.NotNil(t, sent.Button)
		tok, err := tokens.Decode(sent.Button.Payload)
		require.NoError(t, err)
		assert.Equal(t, entities.GateFollow, tok.Gate)
		assert.Equal(t, entities.StageWelcome, tok.Stage)
	})

	t.Run("email gate", func(t *testing.T) {
		gw := new(MockGateway)
		d, _ := newTestDriver(gw)
		r := testRule()
		r.Stages.EmailGate = entities.GateStage{Enabled: true, Text: "What's your email?"}

		gw.On("SendDirectMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.MatchedBy(func(msg entities.DirectMessage) bool {
			return msg.Text == "What's your email?" && msg.Button == nil
		})).Return(true, nil)

		out := d.RunStoryFlow(context.Background(), StoryFlow{Account: testAccount(), Rule: r, Event: story})
		assert.Equal(t, entities.StageAskEmail, out.Stage)
		gw.AssertExpectations(t)
	})

	t.Run("no gates delivers content", func(t *testing.T) {
		gw := new(MockGateway)
		d, _ := newTestDriver(gw)

		gw.On("SendDirectMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(true, nil)

		out := d.RunStoryFlow(context.Background(), StoryFlow{Account: testAccount(), Rule: testRule(), Event: story})
		assert.True(t, out.Success)
		assert.Equal(t, entities.StageFinalLink, out.Stage)
		gw.AssertNotCalled(t, "PostCommentReply", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestConversationDriver_Continue(t *testing.T) {
	cont := func(gate entities.Gate) Continuation {
		return Continuation{
			Account:  testAccount(),
			Rule:     testRule(),
			Token:    &StateToken{Gate: gate, RuleID: "rule-1", AccountID: "acct-1", RecipientID: "user-1"},
			SenderID: "user-1",
		}
	}

	t.Run("access gate delivers content", func(t *testing.T) {
		gw := new(MockGateway)
		d, _ := newTestDriver(gw)
		gw.On("SendDirectMessage", mock.Anything, mock.Anything, mock.Anything, "user-1", mock.Anything).Return(true, nil)

		out := d.Continue(context.Background(), cont(entities.GateAccess))
		assert.True(t, out.Success)
		assert.Equal(t, entities.StageFinalLink, out.Stage)
		assert.False(t, out.FollowChecked)
		gw.AssertNotCalled(t, "CheckFollowStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("following user gets content", func(t *testing.T) {
		gw := new(MockGateway)
		d, _ := newTestDriver(gw)
		gw.On("CheckFollowStatus", mock.Anything, "ig-1", "tok", "user-1").Return(true, nil)
		gw.On("SendDirectMessage", mock.Anything, mock.Anything, mock.Anything, "user-1", mock.Anything).Return(true, nil)

		out := d.Continue(context.Background(), cont(entities.GateFollow))
		assert.True(t, out.Success)
		assert.True(t, out.FollowChecked)
		assert.True(t, out.IsFollowing)
		assert.Equal(t, entities.StageFinalLink, out.Stage)
	})

	t.Run("not following gets reminder", func(t *testing.T) {
		gw := new(MockGateway)
		d, tokens := newTestDriver(gw)
		var sent entities.DirectMessage
		gw.On("CheckFollowStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(false, nil)
		gw.On("SendDirectMessage", mock.Anything, mock.Anything, mock.Anything, "user-1", mock.Anything).
			Run(func(args mock.Arguments) { sent = args.Get(4).(entities.DirectMessage) }).
			Return(true, nil)

		out := d.Continue(context.Background(), cont(entities.GateFollow))
		assert.True(t, out.Success)
		assert.True(t, out.FollowChecked)
		assert.False(t, out.IsFollowing)
		assert.Equal(t, entities.StageFollowReminder, out.Stage)
		assert.Equal(t, "Follow us first", sent.Text)
		require.NotNil(t, sent.Button)
		tok, err := tokens.Decode(sent.Button.Payload)
		require.NoError(t, err)
		assert.Equal(t, entities.GateFollow, tok.Gate)
	})

	t.Run("follow check failure", func(t *testing.T) {
		gw := new(MockGateway)
		d, _ := newTestDriver(gw)
		gw.On("CheckFollowStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(false, errors.New("502"))

		out := d.Continue(context.Background(), cont(entities.GateFollow))
		assert.False(t, out.Success)
		assert.Equal(t, "follow check failed", out.FailureReason)
		gw.AssertNotCalled(t, "SendDirectMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}
