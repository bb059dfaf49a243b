package entities

import "time"

// AnyContent matches every content item of the account.
const AnyContent = "any"

// TriggerMode controls how a rule's triggers are applied.
type TriggerMode string

const (
	TriggerAll     TriggerMode = "all"
	TriggerKeyword TriggerMode = "keyword"
)

// OpeningStage is the first DM of a gated conversation.
type OpeningStage struct {
	Text        string `json:"text"`
	ButtonLabel string `json:"button_label"`
}

// GateStage is an optional stage the user must pass before receiving the content.
type GateStage struct {
	Enabled     bool   `json:"enabled"`
	Text        string `json:"text"`
	ButtonLabel string `json:"button_label,omitempty"`
}

// FinalStage delivers the content.
type FinalStage struct {
	Text        string `json:"text"`
	Link        string `json:"link"`
	ButtonLabel string `json:"button_label,omitempty"`
}

// Stages are the ordered stage definitions of a rule's conversation.
type Stages struct {
	Opening    OpeningStage `json:"opening"`
	Welcome    GateStage    `json:"welcome"`
	FollowGate GateStage    `json:"follow_gate"`
	EmailGate  GateStage    `json:"email_gate"`
	PhoneGate  GateStage    `json:"phone_gate"`
	Final      FinalStage   `json:"final"`
}

// Rule is a response template configured by an owner for one connected account.
type Rule struct {
	ID             string         `json:"id"`
	OwnerID        string         `json:"owner_id"`
	AccountID      string         `json:"account_id"`
	EventKind      EventKind      `json:"event_kind"`
	ContentID      string         `json:"content_id"`
	Priority       int            `json:"priority"`
	Triggers       []string       `json:"triggers"`
	TriggerMode    TriggerMode    `json:"trigger_mode"`
	Active         bool           `json:"active"`
	ReplyTexts     []string       `json:"reply_texts"`
	SettingsByTier SettingsByTier `json:"settings_by_tier"`
	Stages         Stages         `json:"stages"`
	UsageCount     int64          `json:"usage_count"`
	LastUsed       *time.Time     `json:"last_used,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// IsCatchAll reports whether the rule matches any text.
func (r *Rule) IsCatchAll() bool {
	return r.TriggerMode == TriggerAll || len(r.Triggers) == 0
}

// AppliesTo reports whether the rule is scoped to the given content item.
func (r *Rule) AppliesTo(contentID string) bool {
	return r.ContentID == "" || r.ContentID == AnyContent || r.ContentID == contentID
}
