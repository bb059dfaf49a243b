package entities

import "time"

// AccountUsage is the per-account slice of a usage window.
type AccountUsage struct {
	AccountID  string     `json:"account_id"`
	CallsMade  int        `json:"calls_made"`
	LastCallAt *time.Time `json:"last_call_at,omitempty"`
}

// UsageWindow is the metered call budget of one owner for one hour.
type UsageWindow struct {
	OwnerID        string         `json:"owner_id"`
	WindowStart    time.Time      `json:"window_start"`
	TierLimit      int            `json:"tier_limit"`
	TotalCallsMade int            `json:"total_calls_made"`
	Accounts       []AccountUsage `json:"account_usage"`
}

// Remaining returns the calls still available in the window.
func (w *UsageWindow) Remaining() int {
	if r := w.TierLimit - w.TotalCallsMade; r > 0 {
		return r
	}
	return 0
}

// WindowStartFor returns the hour-aligned UTC window containing t.
func WindowStartFor(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// Admission is the ledger's answer to a metered request.
type Admission struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Queued  bool   `json:"queued,omitempty"`
	QueueID string `json:"queue_id,omitempty"`
}

// AdmitRequest is the input of an atomic admission at the storage layer.
type AdmitRequest struct {
	OwnerID     string
	AccountID   string
	WindowStart time.Time
	TierLimit   int // only used when the window row is created
	Calls       int
	Now         time.Time
}

// AdmitResult is the storage layer's view after an admission attempt.
type AdmitResult struct {
	Allowed        bool
	TierLimit      int
	TotalCallsMade int
}

// UsageStatus summarizes the current window for dashboards.
type UsageStatus struct {
	Window    UsageWindow `json:"window"`
	Tier      Tier        `json:"tier"`
	Remaining int         `json:"remaining"`
	Percent   int         `json:"percent"`
}
