package incident

import "fmt"

// Tier is how much a reporter is trusted. It decides the weight of their votes.
type Tier string

const (
	// TierBlocked may not report and votes with weight 0.
	TierBlocked Tier = "blocked"

	// TierPlain is any reporter without a linked account.
	TierPlain Tier = "plain"

	// TierLinked has linked their platform account.
	TierLinked Tier = "linked"

	// TierPatron is a paying supporter.
	TierPatron Tier = "patron"

	// TierTrusted is staff or a trusted community member.
	TierTrusted Tier = "trusted"
)

// Weight is the tier's vote weight.
func (t Tier) Weight() int64 {
	switch t {
	case TierPlain:
		return 1
	case TierLinked:
		return 10
	case TierPatron:
		return 30
	case TierTrusted:
		return 200
	default:
		return 0
	}
}

func (t Tier) rank() int {
	switch t {
	case TierPlain:
		return 1
	case TierLinked:
		return 2
	case TierPatron:
		return 3
	case TierTrusted:
		return 4
	default:
		return 0
	}
}

// AtLeast reports whether t is as trusted as min or more.
func (t Tier) AtLeast(min Tier) bool {
	return t.rank() >= min.rank()
}

// Valid reports whether t is one of the defined tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierBlocked, TierPlain, TierLinked, TierPatron, TierTrusted:
		return true
	}
	return false
}

// ParseTier converts a tier name.
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown tier %q", s)
	}
	return t, nil
}
