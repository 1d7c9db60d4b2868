package domain

// Tier identifies one resource/capability level of the external agent.
// Tiers form a fixed total order from cheapest to most capable.
type Tier string

// Tier values, ordered cheapest to most capable.
const (
	TierHaiku  Tier = "haiku"
	TierSonnet Tier = "sonnet"
	TierOpus   Tier = "opus"
)

// tierOrder stores the fixed cheapest-to-most-capable ordering.
var tierOrder = []Tier{TierHaiku, TierSonnet, TierOpus}

// Tiers returns the tier ordering, cheapest first.
func Tiers() []Tier {
	out := make([]Tier, len(tierOrder))
	copy(out, tierOrder)
	return out
}

// IsValidTier reports whether t is a known tier.
func IsValidTier(t Tier) bool {
	for _, v := range tierOrder {
		if v == t {
			return true
		}
	}
	return false
}

// index returns the position of t in the tier ordering, or -1.
func (t Tier) index() int {
	for i, v := range tierOrder {
		if v == t {
			return i
		}
	}
	return -1
}

// Upgrade returns the next more capable tier, saturating at the top.
func (t Tier) Upgrade() Tier {
	i := t.index()
	if i < 0 {
		return t
	}
	if i+1 < len(tierOrder) {
		return tierOrder[i+1]
	}
	return t
}

// Downgrade returns the next cheaper tier, saturating at the bottom.
func (t Tier) Downgrade() Tier {
	i := t.index()
	if i <= 0 {
		return t
	}
	return tierOrder[i-1]
}
