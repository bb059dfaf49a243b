package entities

import "fmt"

// Tier is the owner's subscription level.
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

// ParseTier maps a stored plan name to a Tier. Unknown plans are treated as free.
func ParseTier(s string) Tier {
	switch Tier(s) {
	case TierPro:
		return TierPro
	default:
		return TierFree
	}
}

// TierSettings is the per-tier behavior block of a rule.
type TierSettings struct {
	DirectLink    bool `json:"direct_link"`    // skip the button and DM the content link straight away
	RequireFollow bool `json:"require_follow"` // gate the content behind a follow check
}

// SettingsByTier holds one TierSettings per tier. Every tier must be present.
type SettingsByTier struct {
	Free TierSettings `json:"free"`
	Pro  TierSettings `json:"pro"`
}

// For returns the settings block for the given tier.
func (s SettingsByTier) For(t Tier) TierSettings {
	switch t {
	case TierPro:
		return s.Pro
	case TierFree:
		return s.Free
	}
	panic(fmt.Sprintf("entities: unknown tier %q", t))
}
