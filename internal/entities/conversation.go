package entities

// Stage is a discrete point in a DM conversation.
type Stage string

const (
	StageInitial        Stage = "initial"
	StageFollowReminder Stage = "follow_reminder"
	StageWelcome        Stage = "welcome"
	StageAskEmail       Stage = "ask_email"
	StageAskPhone       Stage = "ask_phone"
	StageFinalLink      Stage = "final_link"
)

// Gate is what the next button click resolves.
type Gate string

const (
	GateFollow Gate = "follow"
	GateAccess Gate = "access"
)

// Button is a single postback action attached to a DM.
type Button struct {
	Label   string `json:"label"`
	Payload string `json:"payload,omitempty"`
	URL     string `json:"url,omitempty"`
}

// DirectMessage is the payload handed to the gateway.
type DirectMessage struct {
	Text      string  `json:"text"`
	Button    *Button `json:"button,omitempty"`
	CommentID string  `json:"comment_id,omitempty"` // private reply to a comment when set
}

// FlowOutcome is what the conversation driver reports back.
type FlowOutcome struct {
	Stage         Stage
	ReplySent     bool
	DMSent        bool
	FollowChecked bool
	IsFollowing   bool
	Success       bool
	FailureReason string
}
