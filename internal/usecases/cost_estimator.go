package usecases

import "autodm/internal/entities"

// CostEstimator computes how many metered calls an event will consume
// before anything is sent.
type CostEstimator struct{}

func NewCostEstimator() *CostEstimator {
	return &CostEstimator{}
}

// Estimate returns the call count and whether a follow check is part of
// the flow. Only comment events are metered.
//
//	free, direct link      -> reply + DM                 = 2
//	free, follow required  -> reply + DM + follow check  = 3
//	free, otherwise        -> reply + DM                 = 2
//	pro,  follow gated     -> reply + DM + follow check  = 3
//	pro,  otherwise        -> reply + DM                 = 2
func (e *CostEstimator) Estimate(tier entities.Tier, rule *entities.Rule, isCommentEvent bool) (int, bool) {
	if !isCommentEvent {
		return 0, false
	}

	settings := rule.SettingsByTier.For(tier)
	switch tier {
	case entities.TierFree:
		// TODO: confirm with product whether free direct-link rules that
		// ask for a follow should still skip the follow gate.
		if settings.DirectLink {
			return 2, false
		}
		if settings.RequireFollow {
			return 3, true
		}
		return 2, false
	default:
		if rule.Stages.FollowGate.Enabled && settings.RequireFollow {
			return 3, true
		}
		return 2, false
	}
}
