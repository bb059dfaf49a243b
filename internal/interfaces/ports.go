package interfaces

import (
	"context"
	"time"

	"autodm/internal/entities"
)

// AccountStore reads and updates connected accounts.
type AccountStore interface {
	GetActiveByPlatformID(ctx context.Context, platformID string) (*entities.ConnectedAccount, error)
	GetByID(ctx context.Context, accountID string) (*entities.ConnectedAccount, error)
	IncrementCounters(ctx context.Context, accountID string, delta entities.AccountCounters) error
	SetActive(ctx context.Context, accountID string, active bool) error
}

// RuleStore reads response rules. ListActive returns rules ordered by priority.
type RuleStore interface {
	ListActive(ctx context.Context, accountID string, kind entities.EventKind, contentID string) ([]entities.Rule, error)
	GetRule(ctx context.Context, ruleID string) (*entities.Rule, error)
	MarkUsed(ctx context.Context, ruleID string, at time.Time) error
}

// UsageStore persists usage windows. Admit must be an atomic
// increment-with-ceiling: concurrent callers can never push
// TotalCallsMade past TierLimit.
type UsageStore interface {
	Admit(ctx context.Context, req entities.AdmitRequest) (entities.AdmitResult, error)
	AddAccount(ctx context.Context, ownerID, accountID string, windowStart time.Time, tierLimit int) error
	RemoveAccount(ctx context.Context, ownerID, accountID string, windowStart time.Time) error
	GetWindow(ctx context.Context, ownerID string, windowStart time.Time) (*entities.UsageWindow, error)
	PruneBefore(ctx context.Context, before time.Time) (int64, error)
}

// EventStore is the append-only reply log keyed by platform event id.
type EventStore interface {
	Exists(ctx context.Context, eventID string) (bool, error)
	// Claim atomically reserves an event id. It returns false if the id
	// was already claimed.
	Claim(ctx context.Context, eventID string) (bool, error)
	Insert(ctx context.Context, log *entities.ReplyLog) error
}

// EventLogReader looks up the recorded outcome of an event.
type EventLogReader interface {
	GetLog(ctx context.Context, eventID string) (*entities.ReplyLog, error)
}

// DeferredQueue holds events the ledger queued for later processing.
type DeferredQueue interface {
	Enqueue(ctx context.Context, evt *entities.DeferredEvent) error
}

// TierResolver returns an owner's current subscription tier.
type TierResolver interface {
	GetTier(ctx context.Context, ownerID string) (entities.Tier, error)
}

// Gateway is the outbound social platform. A false result or an error are
// both send failures; callers never retry.
type Gateway interface {
	PostCommentReply(ctx context.Context, accountID, token, commentID, contentID, text string) (bool, error)
	SendDirectMessage(ctx context.Context, accountID, token, recipientID string, msg entities.DirectMessage) (bool, error)
	CheckFollowStatus(ctx context.Context, accountID, token, userID string) (bool, error)
}

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}
