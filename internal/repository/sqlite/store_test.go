package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"autodm/internal/entities"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "autodm.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var window = time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)

func admit(owner, account string, calls, limit int) entities.AdmitRequest {
	return entities.AdmitRequest{
		OwnerID:     owner,
		AccountID:   account,
		WindowStart: window,
		TierLimit:   limit,
		Calls:       calls,
		Now:         window.Add(5 * time.Minute),
	}
}

func TestStore_Admit_CeilingIsExact(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	res, err := s.Admit(ctx, admit("owner-1", "acct-1", 98, 100))
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 98, res.TotalCallsMade)

	res, err = s.Admit(ctx, admit("owner-1", "acct-1", 3, 100))
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 98, res.TotalCallsMade)
	assert.Equal(t, 100, res.TierLimit)

	res, err = s.Admit(ctx, admit("owner-1", "acct-2", 2, 100))
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 100, res.TotalCallsMade)

	w, err := s.GetWindow(ctx, "owner-1", window)
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.Equal(t, 100, w.TotalCallsMade)
	require.Len(t, w.Accounts, 2)
	assert.Equal(t, "acct-1", w.Accounts[0].AccountID)
	assert.Equal(t, 98, w.Accounts[0].CallsMade)
	assert.Equal(t, 2, w.Accounts[1].CallsMade)
	require.NotNil(t, w.Accounts[1].LastCallAt)
	assert.True(t, w.Accounts[1].LastCallAt.Equal(window.Add(5*time.Minute)))
}

func TestStore_Admit_LimitFixedAtCreation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Admit(ctx, admit("owner-1", "acct-1", 2, 100))
	require.NoError(t, err)

	// an upgrade mid-window does not move the ceiling of the open window
	res, err := s.Admit(ctx, admit("owner-1", "acct-1", 2, 1000))
	require.NoError(t, err)
	assert.Equal(t, 100, res.TierLimit)
}

func TestStore_Admit_ConcurrentNeverExceedsLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	const workers = 40
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := s.Admit(ctx, admit("owner-1", fmt.Sprintf("acct-%d", i%3), 3, 100))
			if !assert.NoError(t, err) {
				return
			}
			if res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 33, allowed)

	w, err := s.GetWindow(ctx, "owner-1", window)
	require.NoError(t, err)
	assert.Equal(t, 99, w.TotalCallsMade)

	sum := 0
	for _, a := range w.Accounts {
		sum += a.CallsMade
	}
	assert.Equal(t, w.TotalCallsMade, sum)
}

func TestStore_WindowAccounts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddAccount(ctx, "owner-1", "acct-1", window, 100))
	require.NoError(t, s.AddAccount(ctx, "owner-1", "acct-1", window, 100))
	require.NoError(t, s.AddAccount(ctx, "owner-1", "acct-2", window, 100))

	w, err := s.GetWindow(ctx, "owner-1", window)
	require.NoError(t, err)
	assert.Len(t, w.Accounts, 2)
	assert.Equal(t, 0, w.TotalCallsMade)

	require.NoError(t, s.RemoveAccount(ctx, "owner-1", "acct-1", window))
	w, err = s.GetWindow(ctx, "owner-1", window)
	require.NoError(t, err)
	require.Len(t, w.Accounts, 1)
	assert.Equal(t, "acct-2", w.Accounts[0].AccountID)

	missing, err := s.GetWindow(ctx, "owner-2", window)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_PruneBefore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := admit("owner-1", "acct-1", 2, 100)
	old.WindowStart = window.Add(-48 * time.Hour)
	_, err := s.Admit(ctx, old)
	require.NoError(t, err)
	_, err = s.Admit(ctx, admit("owner-1", "acct-1", 2, 100))
	require.NoError(t, err)

	n, err := s.PruneBefore(ctx, window.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	gone, err := s.GetWindow(ctx, "owner-1", old.WindowStart)
	require.NoError(t, err)
	assert.Nil(t, gone)

	var orphans int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM usage_window_accounts WHERE window_start = ?",
		toUnix(old.WindowStart)).Scan(&orphans))
	assert.Equal(t, 0, orphans)

	kept, err := s.GetWindow(ctx, "owner-1", window)
	require.NoError(t, err)
	assert.NotNil(t, kept)
}

func TestStore_ClaimIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ok, err := s.Claim(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Claim(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_ReplyLogs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	exists, err := s.Exists(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, exists)

	rec := &entities.ReplyLog{
		ID:        "log-1",
		EventID:   "evt-1",
		OwnerID:   "owner-1",
		AccountID: "acct-1",
		RuleID:    "rule-1",
		EventKind: entities.EventComment,
		Text:      "link please",
		AuthorID:  "user-1",
		Stage:     entities.StageInitial,
		ReplySent: true,
		DMSent:    true,
		Success:   true,
		CreatedAt: window,
	}
	require.NoError(t, s.Insert(ctx, rec))

	exists, err = s.Exists(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, exists)

	dup := *rec
	dup.ID = "log-2"
	assert.ErrorIs(t, s.Insert(ctx, &dup), entities.ErrDuplicateEvent)

	got, err := s.GetLog(ctx, "evt-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "log-1", got.ID)
	assert.Equal(t, entities.StageInitial, got.Stage)
	assert.True(t, got.DMSent)
	assert.False(t, got.Queued)
	assert.True(t, got.CreatedAt.Equal(window))

	none, err := s.GetLog(ctx, "evt-2")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestStore_Accounts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertAccount(ctx, &entities.ConnectedAccount{
		ID:          "acct-1",
		OwnerID:     "owner-1",
		PlatformID:  "ig-1",
		Username:    "shop",
		AccessToken: "tok",
		Active:      true,
	}))

	a, err := s.GetActiveByPlatformID(ctx, "ig-1")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "tok", a.AccessToken)
	assert.False(t, a.StoryAutomationEnabled)

	require.NoError(t, s.IncrementCounters(ctx, "acct-1", entities.AccountCounters{Replies: 1, DMs: 1}))
	require.NoError(t, s.IncrementCounters(ctx, "acct-1", entities.AccountCounters{DMs: 1, FollowChecks: 1}))
	a, err = s.GetByID(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.RepliesSent)
	assert.Equal(t, int64(2), a.DMsSent)
	assert.Equal(t, int64(1), a.FollowChecks)

	require.NoError(t, s.SetActive(ctx, "acct-1", false))
	a, err = s.GetActiveByPlatformID(ctx, "ig-1")
	require.NoError(t, err)
	assert.Nil(t, a)

	assert.ErrorIs(t, s.SetActive(ctx, "acct-404", true), entities.ErrAccountNotFound)
}

func TestStore_Rules(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := entities.Rule{
		OwnerID:     "owner-1",
		AccountID:   "acct-1",
		EventKind:   entities.EventComment,
		ContentID:   entities.AnyContent,
		TriggerMode: entities.TriggerKeyword,
		Active:      true,
		CreatedAt:   window,
	}

	catchAll := base
	catchAll.ID, catchAll.Priority = "catch-all", 10

	price := base
	price.ID, price.Priority = "price", 1
	price.Triggers = []string{"price", "cost"}
	price.ReplyTexts = []string{"Sent you a DM!"}
	price.SettingsByTier = entities.SettingsByTier{Pro: entities.TierSettings{RequireFollow: true}}
	price.Stages.Final = entities.FinalStage{Text: "Prices", Link: "https://example.com/prices"}

	otherPost := base
	otherPost.ID, otherPost.Priority, otherPost.ContentID = "other-post", 0, "post-2"

	inactive := base
	inactive.ID, inactive.Active = "inactive", false

	story := base
	story.ID, story.EventKind = "story", entities.EventStoryMention

	for _, r := range []entities.Rule{catchAll, price, otherPost, inactive, story} {
		require.NoError(t, s.UpsertRule(ctx, &r))
	}

	rules, err := s.ListActive(ctx, "acct-1", entities.EventComment, "post-1")
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "price", rules[0].ID)
	assert.Equal(t, "catch-all", rules[1].ID)
	assert.Equal(t, []string{"price", "cost"}, rules[0].Triggers)
	assert.True(t, rules[0].SettingsByTier.Pro.RequireFollow)
	assert.Equal(t, "https://example.com/prices", rules[0].Stages.Final.Link)
	assert.Empty(t, rules[1].Triggers)

	require.NoError(t, s.MarkUsed(ctx, "price", window.Add(time.Minute)))
	got, err := s.GetRule(ctx, "price")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1), got.UsageCount)
	require.NotNil(t, got.LastUsed)
	assert.True(t, got.LastUsed.Equal(window.Add(time.Minute)))

	missing, err := s.GetRule(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_Tiers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tier, err := s.GetTier(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, entities.TierFree, tier)

	require.NoError(t, s.SetPlan(ctx, "owner-1", entities.TierPro))
	tier, err = s.GetTier(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, entities.TierPro, tier)
}

func TestStore_Enqueue(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	evt := &entities.DeferredEvent{
		QueueID:   "q-1",
		OwnerID:   "owner-1",
		AccountID: "acct-1",
		RuleID:    "rule-1",
		Calls:     3,
		Event:     entities.EngagementEvent{EventID: "evt-1", Kind: entities.EventComment, Text: "price"},
		CreatedAt: window,
	}
	require.NoError(t, s.Enqueue(ctx, evt))
	require.NoError(t, s.Enqueue(ctx, evt))

	var n int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM deferred_events").Scan(&n))
	assert.Equal(t, 1, n)
}
