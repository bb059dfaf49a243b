package http

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"autodm/internal/entities"
)

// Input validation constants
const (
	MaxIDLength    = 128
	MaxTextLength  = 2200
	MaxRequestSize = 2 << 20
)

// EventRequest is one inbound comment or story mention as delivered by the
// platform adapter.
type EventRequest struct {
	EventID           string `json:"event_id" binding:"required"`
	Kind              string `json:"kind" binding:"required,oneof=comment story_mention"`
	PlatformAccountID string `json:"platform_account_id" binding:"required"`
	ContentID         string `json:"content_id"`
	CommentID         string `json:"comment_id"`
	Text              string `json:"text"`
	AuthorID          string `json:"author_id" binding:"required"`
	AuthorUsername    string `json:"author_username"`
	IsAnimatedImage   bool   `json:"is_animated_image"`
	Timestamp         int64  `json:"timestamp"`
}

type EventBatchRequest struct {
	Events []EventRequest `json:"events" binding:"required,min=1,max=500,dive"`
}

// CallbackRequest is one button click.
type CallbackRequest struct {
	EventID           string `json:"event_id" binding:"required"`
	PlatformAccountID string `json:"platform_account_id" binding:"required"`
	SenderID          string `json:"sender_id" binding:"required"`
	SenderUsername    string `json:"sender_username"`
	Payload           string `json:"payload" binding:"required"`
	Timestamp         int64  `json:"timestamp"`
}

type CallbackBatchRequest struct {
	Callbacks []CallbackRequest `json:"callbacks" binding:"required,min=1,max=500,dive"`
}

// ErrorResponse is the body of every 4xx/5xx answer.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// DispatchResponse is returned by the intake endpoints.
type DispatchResponse struct {
	Accepted int                       `json:"accepted"`
	Results  []entities.DispatchResult `json:"results,omitempty"`
}

// ToEvent validates lengths and converts the request. Comments must carry
// the comment id to reply to.
func (r *EventRequest) ToEvent(now time.Time) (entities.EngagementEvent, error) {
	for name, v := range map[string]string{
		"event_id":            r.EventID,
		"platform_account_id": r.PlatformAccountID,
		"content_id":          r.ContentID,
		"comment_id":          r.CommentID,
		"author_id":           r.AuthorID,
	} {
		if len(v) > MaxIDLength {
			return entities.EngagementEvent{}, fmt.Errorf("%s too long", name)
		}
	}
	kind := entities.EventKind(r.Kind)
	if kind == entities.EventComment && r.CommentID == "" {
		return entities.EngagementEvent{}, fmt.Errorf("comment_id is required for comments")
	}

	return entities.EngagementEvent{
		EventID:           r.EventID,
		Kind:              kind,
		PlatformAccountID: r.PlatformAccountID,
		ContentID:         r.ContentID,
		CommentID:         r.CommentID,
		Text:              TruncateString(SanitizeString(r.Text), MaxTextLength),
		AuthorID:          r.AuthorID,
		AuthorUsername:    SanitizeString(r.AuthorUsername),
		IsAnimatedImage:   r.IsAnimatedImage,
		ReceivedAt:        receivedAt(r.Timestamp, now),
	}, nil
}

func (r *CallbackRequest) ToEvent(now time.Time) (entities.ButtonEvent, error) {
	if len(r.EventID) > MaxIDLength || len(r.SenderID) > MaxIDLength || len(r.PlatformAccountID) > MaxIDLength {
		return entities.ButtonEvent{}, fmt.Errorf("identifier too long")
	}
	return entities.ButtonEvent{
		EventID:           r.EventID,
		PlatformAccountID: r.PlatformAccountID,
		SenderID:          r.SenderID,
		SenderUsername:    SanitizeString(r.SenderUsername),
		Payload:           strings.TrimSpace(r.Payload),
		ReceivedAt:        receivedAt(r.Timestamp, now),
	}, nil
}

func receivedAt(ts int64, now time.Time) time.Time {
	if ts <= 0 {
		return now.UTC()
	}
	return time.Unix(ts, 0).UTC()
}

// SanitizeString removes null bytes and invalid UTF-8
func SanitizeString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	return s
}

// TruncateString truncates s to at most maxLen bytes without splitting a rune
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen]
}
