package entities

import "errors"

var (
	ErrDuplicateEvent          = errors.New("duplicate event")
	ErrNotMeaningful           = errors.New("comment is not meaningful")
	ErrNoMatchingRule          = errors.New("no matching rule")
	ErrRateLimited             = errors.New("rate limited")
	ErrSendFailure             = errors.New("outbound send failed")
	ErrAccountNotFound         = errors.New("account not found or inactive")
	ErrRuleNotFound            = errors.New("rule not found or inactive")
	ErrStoryAutomationDisabled = errors.New("story automation disabled for account")
	ErrInvalidStateToken       = errors.New("invalid state token")
)
