package usecases

import (
	"sort"
	"strings"

	"autodm/internal/entities"
)

// TemplateMatcher selects the single best-fit rule for an event.
type TemplateMatcher struct{}

func NewTemplateMatcher() *TemplateMatcher {
	return &TemplateMatcher{}
}

// Match returns the first active rule, in ascending priority order, whose
// triggers match the comment. Rules with equal priority keep their input
// order. A rule without triggers (or in "all" mode) matches anything, so
// operators should give catch-alls a high priority number.
func (m *TemplateMatcher) Match(accountID, contentID, commentText string, candidates []entities.Rule) *entities.Rule {
	if len(candidates) == 0 {
		return nil
	}

	ordered := make([]*entities.Rule, 0, len(candidates))
	for i := range candidates {
		ordered = append(ordered, &candidates[i])
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	text := Normalize(commentText)
	for _, rule := range ordered {
		if !rule.Active || rule.AccountID != accountID || !rule.AppliesTo(contentID) {
			continue
		}
		if rule.IsCatchAll() || containsAnyTrigger(text, rule.Triggers) {
			return rule
		}
	}
	return nil
}

func containsAnyTrigger(normalizedText string, triggers []string) bool {
	for _, t := range triggers {
		trigger := Normalize(t)
		if trigger == "" {
			continue
		}
		if strings.Contains(normalizedText, trigger) {
			return true
		}
	}
	return false
}
