package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "raffle-ledger-backend/internal/common/errors"
	"raffle-ledger-backend/internal/common/logger"
	loyalty "raffle-ledger-backend/internal/features/loyalty/service"
	"raffle-ledger-backend/internal/features/referral/models"
	"raffle-ledger-backend/internal/platform/events"
	"raffle-ledger-backend/internal/storage/memory"
)

type fixture struct {
	ctx      context.Context
	store    *memory.Store
	events   *events.Recorder
	loyalty  loyalty.LoyaltyService
	referral ReferralService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger.Disable()
	store := memory.NewStore()
	rec := &events.Recorder{}
	ls := loyalty.NewLoyaltyService(store, store, rec)
	return &fixture{
		ctx:      context.Background(),
		store:    store,
		events:   rec,
		loyalty:  ls,
		referral: NewReferralService(store, ls, rec, 100),
	}
}

func TestRegisterRules(t *testing.T) {
	f := newFixture(t)

	_, err := f.referral.Register(f.ctx, 5, 5)
	assert.True(t, errors.Is(err, apperrors.ErrSelfReferral))

	rec, err := f.referral.Register(f.ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, rec.Status)
	assert.Zero(t, rec.PointsAwarded)

	_, err = f.referral.Register(f.ctx, 3, 2)
	assert.True(t, errors.Is(err, apperrors.ErrAlreadyReferred))
}

func TestReferralRoundTrip(t *testing.T) {
	f := newFixture(t)

	_, err := f.referral.Register(f.ctx, 1, 2)
	require.NoError(t, err)

	rec, err := f.referral.Complete(f.ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, models.StatusCompleted, rec.Status)
	assert.Equal(t, int64(100), rec.PointsAwarded)
	assert.NotNil(t, rec.CompletedAt)

	again, err := f.referral.Complete(f.ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, again.Status)

	account, err := f.loyalty.Account(f.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(100), account.LifetimePoints)
	assert.Len(t, f.events.OfType(events.ReferralCompleted), 1)
}

func TestConcurrentCompleteGrantsOnce(t *testing.T) {
	f := newFixture(t)
	_, err := f.referral.Register(f.ctx, 1, 2)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.referral.Complete(f.ctx, 2)
		}()
	}
	wg.Wait()

	account, err := f.loyalty.Account(f.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(100), account.PointsBalance)
}

func TestCompleteWithoutReferralIsNoop(t *testing.T) {
	f := newFixture(t)

	rec, err := f.referral.Complete(f.ctx, 77)
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Empty(t, f.events.Events())
}

func TestCodes(t *testing.T) {
	f := newFixture(t)

	code, err := f.referral.IssueCode(f.ctx, 1)
	require.NoError(t, err)
	assert.Len(t, code.Code, 8)

	same, err := f.referral.IssueCode(f.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, code.Code, same.Code)

	rec, err := f.referral.RegisterByCode(f.ctx, 9, " "+code.Code+" ")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.ReferrerID)

	_, err = f.referral.RegisterByCode(f.ctx, 1, code.Code)
	assert.True(t, errors.Is(err, apperrors.ErrSelfReferral))

	_, err = f.referral.RegisterByCode(f.ctx, 10, "NOPE")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
}

func TestMilestones(t *testing.T) {
	f := newFixture(t)
	for referee := int64(100); referee < 106; referee++ {
		_, err := f.referral.Register(f.ctx, 1, referee)
		require.NoError(t, err)
		_, err = f.referral.Complete(f.ctx, referee)
		require.NoError(t, err)
	}
	_, err := f.referral.Register(f.ctx, 1, 200)
	require.NoError(t, err)

	summary, err := f.referral.Milestones(f.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(6), summary.Completed)
	assert.Equal(t, int64(1), summary.Pending)
	assert.Equal(t, int64(600), summary.PointsEarned)
	assert.True(t, summary.Milestones[0].Reached)
	assert.False(t, summary.Milestones[1].Reached)

	list, err := f.referral.ListByReferrer(f.ctx, 1)
	require.NoError(t, err)
	assert.Len(t, list, 7)
}
