package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTierFor(t *testing.T) {
	cases := map[int64]Tier{
		0:     TierBronze,
		999:   TierBronze,
		1000:  TierSilver,
		4999:  TierSilver,
		5000:  TierGold,
		9999:  TierGold,
		10000: TierPlatinum,
		50000: TierPlatinum,
	}
	for lifetime, want := range cases {
		assert.Equal(t, want, TierFor(lifetime), "lifetime %d", lifetime)
	}
}

func TestPointsForPurchase(t *testing.T) {
	// 5 tickets at $100 for a Gold member.
	assert.Equal(t, int64(750), PointsForPurchase(5*100_00, TierGold))

	assert.Equal(t, int64(500), PointsForPurchase(500_00, TierBronze))
	assert.Equal(t, int64(625), PointsForPurchase(500_00, TierSilver))
	assert.Equal(t, int64(1000), PointsForPurchase(500_00, TierPlatinum))

	// $9.99 at 1.25 is 12.4875 points.
	assert.Equal(t, int64(12), PointsForPurchase(999, TierSilver))
	assert.Equal(t, int64(0), PointsForPurchase(99, TierBronze))
	assert.Equal(t, int64(0), PointsForPurchase(0, TierGold))
}

func TestTierNext(t *testing.T) {
	next, ok := TierBronze.Next()
	assert.True(t, ok)
	assert.Equal(t, TierSilver, next)

	_, ok = TierPlatinum.Next()
	assert.False(t, ok)
	assert.Equal(t, int64(5000), TierGold.Threshold())
}

func TestAccountCreditUpgrades(t *testing.T) {
	now := time.Now()
	a := NewAccount(7, now)

	assert.False(t, a.Credit(949, now))
	assert.False(t, a.Credit(50, now))
	assert.Equal(t, TierBronze, a.Tier)
	assert.Equal(t, int64(999), a.LifetimePoints)

	assert.True(t, a.Credit(1, now))
	assert.Equal(t, TierSilver, a.Tier)

	a.Debit(1000, now)
	assert.Equal(t, int64(0), a.PointsBalance)
	assert.Equal(t, TierSilver, a.Tier)
}
