package domain

type RebateTier string

const (
	TierBronze   RebateTier = "Bronze"
	TierSilver   RebateTier = "Silver"
	TierGold     RebateTier = "Gold"
	TierPlatinum RebateTier = "Platinum"
)

// Tier thresholds in descending order; the first match wins.
const (
	PlatinumThreshold = 3000
	GoldThreshold     = 1500
	SilverThreshold   = 500
)

// TierForPoints returns the tier implied by a total point balance.
func TierForPoints(points int64) RebateTier {
	switch {
	case points >= PlatinumThreshold:
		return TierPlatinum
	case points >= GoldThreshold:
		return TierGold
	case points >= SilverThreshold:
		return TierSilver
	default:
		return TierBronze
	}
}

// RebateProfile is the points/tier pair kept on both the user-owned profile
// and the public profile.
type RebateProfile struct {
	UserID       string
	RebatePoints int64
	RebateTier   RebateTier
}
