package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "raffle-ledger-backend/internal/common/errors"
	"raffle-ledger-backend/internal/common/logger"
	invmodels "raffle-ledger-backend/internal/features/inventory/models"
	"raffle-ledger-backend/internal/features/loyalty/models"
	rafflemodels "raffle-ledger-backend/internal/features/raffle/models"
	refmodels "raffle-ledger-backend/internal/features/referral/models"
	"raffle-ledger-backend/internal/platform/events"
	"raffle-ledger-backend/internal/storage/memory"
)

func newService(t *testing.T) (LoyaltyService, *memory.Store, *events.Recorder) {
	t.Helper()
	logger.Disable()
	store := memory.NewStore()
	rec := &events.Recorder{}
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	tick := 0
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return NewLoyaltyService(store, store, rec, WithClock(clock)), store, rec
}

func TestGrantRejectsNonPositive(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	for _, amount := range []int64{0, -5} {
		_, err := svc.GrantPoints(ctx, 1, amount, models.ReasonPurchase, "")
		assert.True(t, errors.Is(err, apperrors.ErrInvalidAmount))
	}
	_, err := svc.RedeemPoints(ctx, 1, 0)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidAmount))
}

func TestTierBoundary(t *testing.T) {
	svc, _, rec := newService(t)
	ctx := context.Background()

	_, err := svc.GrantPoints(ctx, 7, 949, models.ReasonPurchase, "p1")
	require.NoError(t, err)
	res, err := svc.GrantPoints(ctx, 7, 50, models.ReasonPurchase, "p2")
	require.NoError(t, err)
	assert.Equal(t, int64(999), res.Account.LifetimePoints)
	assert.Equal(t, models.TierBronze, res.Account.Tier)
	assert.False(t, res.Upgraded)
	assert.Empty(t, rec.OfType(events.TierUpgraded))

	res, err = svc.GrantPoints(ctx, 7, 1, models.ReasonPurchase, "p3")
	require.NoError(t, err)
	assert.Equal(t, models.TierSilver, res.Account.Tier)
	assert.True(t, res.Upgraded)
	assert.Equal(t, models.TierBronze, res.Previous)

	upgrades := rec.OfType(events.TierUpgraded)
	require.Len(t, upgrades, 1)
	assert.Equal(t, "silver", upgrades[0].Data["to"])
}

func TestGrantIsIdempotentPerReference(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	first, err := svc.GrantPoints(ctx, 3, 200, models.ReasonPurchase, "purchase-1")
	require.NoError(t, err)
	second, err := svc.GrantPoints(ctx, 3, 200, models.ReasonPurchase, "purchase-1")
	require.NoError(t, err)

	assert.Equal(t, first.Grant.ID, second.Grant.ID)
	assert.Equal(t, int64(200), second.Account.LifetimePoints)

	// Same reference under another reason is a different grant.
	_, err = svc.GrantPoints(ctx, 3, 100, models.ReasonReferral, "purchase-1")
	require.NoError(t, err)
	account, err := svc.Account(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(300), account.LifetimePoints)
}

func TestRedeemOnlyTouchesBalance(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.GrantPoints(ctx, 5, 1200, models.ReasonPurchase, "")
	require.NoError(t, err)

	_, err = svc.RedeemPoints(ctx, 5, 1201)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInsufficientPoints))
	assert.Contains(t, err.Error(), "You have 1200 points")

	account, err := svc.RedeemPoints(ctx, 5, 1200)
	require.NoError(t, err)
	assert.Equal(t, int64(0), account.PointsBalance)
	assert.Equal(t, int64(1200), account.LifetimePoints)
	assert.Equal(t, models.TierSilver, account.Tier)

	_, err = svc.RedeemPoints(ctx, 99, 1)
	assert.True(t, errors.Is(err, apperrors.ErrInsufficientPoints))
}

func TestTierNeverRegresses(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	var lastLifetime int64
	lastRank := models.TierBronze.Rank()
	for i := 0; i < 300; i++ {
		var account *models.Account
		if rng.Intn(2) == 0 {
			res, err := svc.GrantPoints(ctx, 1, int64(rng.Intn(200)+1), models.ReasonPurchase, "")
			require.NoError(t, err)
			account = res.Account
		} else {
			a, err := svc.RedeemPoints(ctx, 1, int64(rng.Intn(300)+1))
			if err != nil {
				require.True(t, errors.Is(err, apperrors.ErrInsufficientPoints))
				a, err = svc.Account(ctx, 1)
				require.NoError(t, err)
			}
			account = a
		}
		assert.GreaterOrEqual(t, account.LifetimePoints, lastLifetime)
		assert.GreaterOrEqual(t, account.Tier.Rank(), lastRank)
		assert.GreaterOrEqual(t, account.PointsBalance, int64(0))
		assert.Equal(t, models.TierFor(account.LifetimePoints), account.Tier)
		lastLifetime = account.LifetimePoints
		lastRank = account.Tier.Rank()
	}
}

func TestConcurrentGrantsSerializePerUser(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = svc.GrantPoints(ctx, 8, 10, models.ReasonPurchase, fmt.Sprintf("p%d", i))
		}(i)
	}
	wg.Wait()

	account, err := svc.Account(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, int64(500), account.LifetimePoints)
	assert.Equal(t, int64(500), account.PointsBalance)
}

func TestProgress(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.GrantPoints(ctx, 1, 2500, models.ReasonPurchase, "")
	require.NoError(t, err)
	p, err := svc.Progress(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.TierSilver, p.Tier)
	assert.Equal(t, "1.25", p.Multiplier)
	require.NotNil(t, p.NextTier)
	assert.Equal(t, models.TierGold, *p.NextTier)
	assert.Equal(t, int64(2500), p.PointsToNext)
	assert.Equal(t, 37, p.Percent)

	_, err = svc.GrantPoints(ctx, 1, 10000, models.ReasonPurchase, "")
	require.NoError(t, err)
	p, err = svc.Progress(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.TierPlatinum, p.Tier)
	assert.Nil(t, p.NextTier)
	assert.Equal(t, 100, p.Percent)

	fresh, err := svc.Progress(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, models.TierBronze, fresh.Tier)
	assert.Equal(t, int64(1000), fresh.PointsToNext)
	assert.Equal(t, 0, fresh.Percent)
}

func TestHistoryNewestFirst(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.GrantPoints(ctx, 1, 300, models.ReasonPurchase, "p1")
	require.NoError(t, err)
	_, err = svc.RedeemPoints(ctx, 1, 100)
	require.NoError(t, err)
	_, err = svc.GrantPoints(ctx, 1, 100, models.ReasonReferral, "r1")
	require.NoError(t, err)

	history, err := svc.History(ctx, 1)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, models.ReasonReferral, history[0].Reason)
	assert.Equal(t, int64(-100), history[1].Amount)
	assert.Equal(t, models.HistoryRedemption, history[1].Kind)
	assert.Equal(t, int64(300), history[2].Amount)
}

func TestAchievements(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	now := time.Now()

	// User 1 is the second buyer of r-0 and buys in 11 raffles, $1,100 total.
	require.NoError(t, store.SavePurchase(ctx, &invmodels.TicketPurchase{
		ID: "other", RaffleID: "r-0", UserID: 2, Quantity: 1, TotalPrice: 100,
		Status: invmodels.PurchaseCompleted, CreatedAt: now,
	}))
	for i := 0; i < 11; i++ {
		require.NoError(t, store.SavePurchase(ctx, &invmodels.TicketPurchase{
			ID: fmt.Sprintf("p-%d", i), RaffleID: fmt.Sprintf("r-%d", i), UserID: 1,
			Quantity: 1, TotalPrice: 100_00, FirstTicket: 1,
			Status: invmodels.PurchaseCompleted, CreatedAt: now,
		}))
	}
	drawn := &rafflemodels.Raffle{ID: "r-3", Status: rafflemodels.StatusDrawn}
	require.NoError(t, store.CreateRaffle(ctx, drawn))
	require.NoError(t, store.SaveWinner(ctx, drawn,
		&rafflemodels.WinnerRecord{RaffleID: "r-3", UserID: 1, DrawnAt: now}))
	for i := 0; i < 6; i++ {
		require.NoError(t, store.CreateReferral(ctx, &refmodels.Record{
			ReferrerID: 1, RefereeID: int64(100 + i), Status: refmodels.StatusCompleted, PointsAwarded: 100,
		}))
	}

	list, err := svc.Achievements(ctx, 1)
	require.NoError(t, err)

	byKey := make(map[string]models.Achievement)
	for _, a := range list {
		byKey[a.Key] = a
	}
	assert.True(t, byKey["first_purchase"].Unlocked)
	assert.True(t, byKey["big_spender"].Unlocked)
	assert.True(t, byKey["collector"].Unlocked)
	assert.True(t, byKey["early_bird"].Unlocked)
	assert.True(t, byKey["winner"].Unlocked)
	assert.True(t, byKey["referrals_5"].Unlocked)
	assert.False(t, byKey["referrals_10"].Unlocked)
	assert.Equal(t, int64(6), byKey["referrals_10"].Progress)

	empty, err := svc.Achievements(ctx, 42)
	require.NoError(t, err)
	for _, a := range empty {
		assert.False(t, a.Unlocked, a.Key)
	}
}
