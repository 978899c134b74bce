package models

import "github.com/shopspring/decimal"

// Tier is a loyalty membership level derived from lifetime points.
type Tier string

const (
	TierBronze   Tier = "bronze"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
)

type tierRule struct {
	tier       Tier
	threshold  int64
	multiplier decimal.Decimal
	perks      []string
}

// Ordered by threshold, lowest first.
var tierRules = []tierRule{
	{TierBronze, 0, decimal.NewFromInt(1), []string{"Standard support", "Monthly newsletter"}},
	{TierSilver, 1000, decimal.RequireFromString("1.25"), []string{"Priority support", "Early raffle access", "Bonus entry on birthdays"}},
	{TierGold, 5000, decimal.RequireFromString("1.5"), []string{"Dedicated support", "Exclusive raffles", "Free tickets monthly"}},
	{TierPlatinum, 10000, decimal.NewFromInt(2), []string{"VIP concierge", "Private raffle invitations", "Double points on every purchase"}},
}

func (t Tier) rule() (tierRule, bool) {
	for _, r := range tierRules {
		if r.tier == t {
			return r, true
		}
	}
	return tierRule{}, false
}

func (t Tier) Valid() bool {
	_, ok := t.rule()
	return ok
}

// Threshold is the lifetime points needed to reach t.
func (t Tier) Threshold() int64 {
	r, _ := t.rule()
	return r.threshold
}

// Multiplier scales purchase points. Unknown tiers earn at the base rate.
func (t Tier) Multiplier() decimal.Decimal {
	r, ok := t.rule()
	if !ok {
		return decimal.NewFromInt(1)
	}
	return r.multiplier
}

func (t Tier) Perks() []string {
	r, _ := t.rule()
	return append([]string(nil), r.perks...)
}

// Rank orders tiers; higher is better. Unknown tiers rank -1.
func (t Tier) Rank() int {
	for i, r := range tierRules {
		if r.tier == t {
			return i
		}
	}
	return -1
}

// Next returns the tier above t, if any.
func (t Tier) Next() (Tier, bool) {
	i := t.Rank()
	if i < 0 || i+1 >= len(tierRules) {
		return "", false
	}
	return tierRules[i+1].tier, true
}

// TierFor returns the highest tier whose threshold is within lifetime.
func TierFor(lifetime int64) Tier {
	tier := TierBronze
	for _, r := range tierRules {
		if lifetime >= r.threshold {
			tier = r.tier
		}
	}
	return tier
}

// Tiers lists every tier from lowest to highest.
func Tiers() []Tier {
	out := make([]Tier, 0, len(tierRules))
	for _, r := range tierRules {
		out = append(out, r.tier)
	}
	return out
}

// PointsForPurchase converts a total in minor units to points:
// floor(whole currency units × tier multiplier).
func PointsForPurchase(totalPriceMinor int64, tier Tier) int64 {
	if totalPriceMinor <= 0 {
		return 0
	}
	whole := decimal.New(totalPriceMinor, -2)
	return whole.Mul(tier.Multiplier()).Floor().IntPart()
}
