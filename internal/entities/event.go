package entities

import "time"

// EventKind is the type of inbound engagement.
type EventKind string

const (
	EventComment        EventKind = "comment"
	EventStoryMention   EventKind = "story_mention"
	EventButtonCallback EventKind = "button_callback"
)

// EngagementEvent is one normalized inbound comment or story mention.
type EngagementEvent struct {
	EventID           string    `json:"event_id"`
	Kind              EventKind `json:"kind"`
	PlatformAccountID string    `json:"platform_account_id"`
	ContentID         string    `json:"content_id"`
	CommentID         string    `json:"comment_id,omitempty"`
	Text              string    `json:"text"`
	AuthorID          string    `json:"author_id"`
	AuthorUsername    string    `json:"author_username"`
	IsAnimatedImage   bool      `json:"is_animated_image,omitempty"`
	ReceivedAt        time.Time `json:"received_at"`
}

// IsComment reports whether the event came from a comment thread.
func (e *EngagementEvent) IsComment() bool {
	return e.Kind == EventComment
}

// ButtonEvent is a user's click on a button previously sent in a DM.
type ButtonEvent struct {
	EventID           string    `json:"event_id"`
	PlatformAccountID string    `json:"platform_account_id"`
	SenderID          string    `json:"sender_id"`
	SenderUsername    string    `json:"sender_username"`
	Payload           string    `json:"payload"`
	ReceivedAt        time.Time `json:"received_at"`
}

// ReplyLog is the immutable audit record of one processed event.
type ReplyLog struct {
	ID               string    `json:"id"`
	EventID          string    `json:"event_id"`
	OwnerID          string    `json:"owner_id,omitempty"`
	AccountID        string    `json:"account_id,omitempty"`
	RuleID           string    `json:"rule_id,omitempty"`
	EventKind        EventKind `json:"event_kind"`
	Text             string    `json:"text"`
	AuthorID         string    `json:"author_id"`
	AuthorUsername   string    `json:"author_username"`
	Stage            Stage     `json:"stage,omitempty"`
	ReplySent        bool      `json:"reply_sent"`
	DMSent           bool      `json:"dm_sent"`
	FollowChecked    bool      `json:"follow_checked"`
	IsFollowing      bool      `json:"is_following"`
	ProcessingTimeMs int64     `json:"processing_time_ms"`
	Queued           bool      `json:"queued"`
	QueueID          string    `json:"queue_id,omitempty"`
	Success          bool      `json:"success"`
	FailureReason    string    `json:"failure_reason,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// DeferredEvent is an event the ledger queued instead of admitting.
type DeferredEvent struct {
	QueueID   string          `json:"queue_id"`
	OwnerID   string          `json:"owner_id"`
	AccountID string          `json:"account_id"`
	RuleID    string          `json:"rule_id"`
	Calls     int             `json:"calls"`
	Event     EngagementEvent `json:"event"`
	CreatedAt time.Time       `json:"created_at"`
}
