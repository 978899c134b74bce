package workers

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raffle-ledger-backend/internal/common/config"
	"raffle-ledger-backend/internal/common/keylock"
	"raffle-ledger-backend/internal/common/logger"
	inventory "raffle-ledger-backend/internal/features/inventory/service"
	rafflemodels "raffle-ledger-backend/internal/features/raffle/models"
	raffleservice "raffle-ledger-backend/internal/features/raffle/service"
	"raffle-ledger-backend/internal/platform/events"
	"raffle-ledger-backend/internal/platform/payment"
	"raffle-ledger-backend/internal/storage/memory"
)

func TestRunOnceRunsJobsInOrder(t *testing.T) {
	logger.Disable()
	var order []string
	job := func(name string) Job {
		return Job{Name: name, Interval: time.Minute, Run: func(context.Context, time.Time) (int, error) {
			order = append(order, name)
			return 1, nil
		}}
	}

	require.NoError(t, NewScheduler(job("a"), job("b"), job("c")).RunOnce(context.Background()))
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestRunOnceStopsOnError(t *testing.T) {
	logger.Disable()
	boom := errors.New("boom")
	ran := false
	s := NewScheduler(
		Job{Name: "fails", Run: func(context.Context, time.Time) (int, error) { return 0, boom }},
		Job{Name: "skipped", Run: func(context.Context, time.Time) (int, error) { ran = true; return 0, nil }},
	)

	assert.ErrorIs(t, s.RunOnce(context.Background()), boom)
	assert.False(t, ran)
}

func TestStartTicksUntilStopped(t *testing.T) {
	logger.Disable()
	var runs atomic.Int32
	s := NewScheduler(
		Job{Name: "tick", Interval: 5 * time.Millisecond, Run: func(context.Context, time.Time) (int, error) {
			runs.Add(1)
			return 0, nil
		}},
		Job{Name: "disabled", Run: func(context.Context, time.Time) (int, error) {
			t.Error("disabled job ran")
			return 0, nil
		}},
	)

	s.Start(context.Background())
	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	s.Stop()

	after := runs.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, runs.Load())
	s.Stop()
}

func TestMaintenanceJobsExpireHoldsAndCloseRaffles(t *testing.T) {
	logger.Disable()
	ctx := context.Background()
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	cfg := &config.Config{}
	cfg.Ledger.HoldWindow = 10 * time.Minute
	cfg.Ledger.SweepInterval = time.Minute
	cfg.Ledger.CloseInterval = time.Minute
	cfg.Ledger.RefundRetryInterval = time.Minute
	cfg.Ledger.MaxTicketsPerPurchase = 100

	store := memory.NewStore()
	locks := keylock.New[string]()
	ledger := inventory.NewLedgerService(store, locks, payment.NewSandbox(0), events.Nop{}, cfg, inventory.WithClock(clock))
	raffles := raffleservice.NewRaffleService(store, ledger, locks, events.Nop{}, raffleservice.WithClock(clock))

	require.NoError(t, store.CreateRaffle(ctx, &rafflemodels.Raffle{
		ID: "r1", Title: "Tesla", Category: rafflemodels.CategoryVehicles, Status: rafflemodels.StatusActive,
		TicketPrice: 50_00, TotalTickets: 10, EndDate: now.Add(time.Hour), CreatedAt: now,
	}))
	_, err := ledger.Reserve(ctx, "r1", 1, 4)
	require.NoError(t, err)

	s := NewScheduler(MaintenanceJobs(cfg, ledger, raffles)...)
	s.now = clock
	now = now.Add(11 * time.Minute)
	require.NoError(t, s.RunOnce(ctx))

	r, err := store.GetRaffle(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), r.HeldTickets)
	assert.Equal(t, rafflemodels.StatusActive, r.Status)

	now = now.Add(2 * time.Hour)
	require.NoError(t, s.RunOnce(ctx))
	r, err = store.GetRaffle(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, rafflemodels.StatusClosed, r.Status)
}
