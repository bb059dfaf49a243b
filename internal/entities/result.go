package entities

// Outcome classifies how the dispatcher finished an event.
type Outcome string

const (
	OutcomeProcessed     Outcome = "processed"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeNotMeaningful Outcome = "not_meaningful"
	OutcomeNoRule        Outcome = "no_matching_rule"
	OutcomeRateLimited   Outcome = "rate_limited"
	OutcomeSendFailure   Outcome = "send_failure"
	OutcomeSkipped       Outcome = "skipped"
	OutcomeError         Outcome = "error"
)

// DispatchResult is returned to the caller for every event.
type DispatchResult struct {
	EventID   string  `json:"event_id"`
	Outcome   Outcome `json:"outcome"`
	Success   bool    `json:"success"`
	Queued    bool    `json:"queued,omitempty"`
	QueueID   string  `json:"queue_id,omitempty"`
	RuleID    string  `json:"rule_id,omitempty"`
	Stage     Stage   `json:"stage,omitempty"`
	ReplySent bool    `json:"reply_sent"`
	DMSent    bool    `json:"dm_sent"`
	Message   string  `json:"message,omitempty"`
}
