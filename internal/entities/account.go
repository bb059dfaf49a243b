package entities

import "time"

// Owner is a tenant of the platform.
type Owner struct {
	ID        string    `json:"id"`
	Tier      Tier      `json:"tier"`
	CreatedAt time.Time `json:"created_at"`
}

// ConnectedAccount is one linked social identity under an owner.
type ConnectedAccount struct {
	ID                     string    `json:"id"`
	OwnerID                string    `json:"owner_id"`
	PlatformID             string    `json:"platform_id"`
	Username               string    `json:"username"`
	AccessToken            string    `json:"-"`
	Active                 bool      `json:"active"`
	StoryAutomationEnabled bool      `json:"story_automation_enabled"`
	RepliesSent            int64     `json:"replies_sent"`
	DMsSent                int64     `json:"dms_sent"`
	FollowChecks           int64     `json:"follow_checks"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// AccountCounters is an increment applied to a ConnectedAccount's statistics.
type AccountCounters struct {
	Replies      int
	DMs          int
	FollowChecks int
}

// IsZero reports whether the increment changes nothing.
func (c AccountCounters) IsZero() bool {
	return c.Replies == 0 && c.DMs == 0 && c.FollowChecks == 0
}
