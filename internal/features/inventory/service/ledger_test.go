package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"raffle-ledger-backend/internal/common/config"
	apperrors "raffle-ledger-backend/internal/common/errors"
	"raffle-ledger-backend/internal/common/keylock"
	"raffle-ledger-backend/internal/common/logger"
	"raffle-ledger-backend/internal/features/inventory/models"
	rafflemodels "raffle-ledger-backend/internal/features/raffle/models"
	"raffle-ledger-backend/internal/platform/events"
	"raffle-ledger-backend/internal/platform/payment"
	"raffle-ledger-backend/internal/storage/memory"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type LedgerSuite struct {
	suite.Suite
	ctx     context.Context
	store   *memory.Store
	gateway *payment.Sandbox
	events  *events.Recorder
	clock   *clock
	ledger  LedgerService
}

func TestLedgerSuite(t *testing.T) {
	suite.Run(t, new(LedgerSuite))
}

func (s *LedgerSuite) SetupTest() {
	logger.Disable()
	cfg := &config.Config{}
	cfg.Ledger.HoldWindow = 10 * time.Minute
	cfg.Ledger.MaxTicketsPerPurchase = 100
	cfg.Payment.Timeout = time.Second

	s.ctx = context.Background()
	s.store = memory.NewStore()
	s.gateway = payment.NewSandbox(0)
	s.events = &events.Recorder{}
	s.clock = &clock{now: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
	s.ledger = NewLedgerService(s.store, keylock.New[string](), s.gateway, s.events, cfg, WithClock(s.clock.Now))
}

func (s *LedgerSuite) seed(id string, total, sold int64) *rafflemodels.Raffle {
	r := &rafflemodels.Raffle{
		ID:           id,
		Title:        "Tesla Model 3",
		Category:     rafflemodels.CategoryVehicles,
		Status:       rafflemodels.StatusActive,
		TicketPrice:  100_00,
		TotalTickets: total,
		SoldTickets:  sold,
		EndDate:      s.clock.Now().Add(24 * time.Hour),
		CreatedAt:    s.clock.Now(),
	}
	s.Require().NoError(s.store.CreateRaffle(s.ctx, r))
	return r
}

func (s *LedgerSuite) raffle(id string) *rafflemodels.Raffle {
	r, err := s.store.GetRaffle(s.ctx, id)
	s.Require().NoError(err)
	return r
}

func (s *LedgerSuite) TestReserveRejectsBadQuantity() {
	s.seed("r1", 100, 0)

	for _, q := range []int64{0, -3, 101} {
		_, err := s.ledger.Reserve(s.ctx, "r1", 1, q)
		s.True(errors.Is(err, apperrors.ErrInvalidQuantity), "quantity %d", q)
	}
	s.Equal(int64(0), s.raffle("r1").HeldTickets)
}

func (s *LedgerSuite) TestReserveRequiresActiveRaffle() {
	r := s.seed("r1", 100, 0)
	r.Status = rafflemodels.StatusDraft
	s.Require().NoError(s.store.UpdateRaffle(s.ctx, r))

	_, err := s.ledger.Reserve(s.ctx, "r1", 1, 1)
	s.True(errors.Is(err, apperrors.ErrRaffleNotActive))

	r.Status = rafflemodels.StatusActive
	s.Require().NoError(s.store.UpdateRaffle(s.ctx, r))
	s.clock.Advance(25 * time.Hour)

	_, err = s.ledger.Reserve(s.ctx, "r1", 1, 1)
	s.True(errors.Is(err, apperrors.ErrRaffleNotActive))
}

func (s *LedgerSuite) TestReserveReportsRemaining() {
	s.seed("r1", 100, 97)

	_, err := s.ledger.Reserve(s.ctx, "r1", 1, 5)
	s.Require().Error(err)
	s.True(errors.Is(err, apperrors.ErrInsufficientInventory))

	appErr, ok := apperrors.AsAppError(err)
	s.Require().True(ok)
	s.Equal("Only 3 tickets remain", appErr.Message)
	s.Equal(int64(3), appErr.Details["remaining"])
}

func (s *LedgerSuite) TestConcurrentReservationsNeverOversell() {
	s.seed("r1", 10, 0)

	var wg sync.WaitGroup
	var ok, short atomic.Int64
	start := make(chan struct{})
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(user int64) {
			defer wg.Done()
			<-start
			_, err := s.ledger.Reserve(s.ctx, "r1", user, 1)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, apperrors.ErrInsufficientInventory):
				short.Add(1)
			}
		}(int64(i))
	}
	close(start)
	wg.Wait()

	s.Equal(int64(10), ok.Load())
	s.Equal(int64(40), short.Load())
	r := s.raffle("r1")
	s.Equal(int64(10), r.HeldTickets)
	s.Equal(int64(0), r.Remaining())
}

func (s *LedgerSuite) TestConcurrentReservationsAgainstEightRemaining() {
	s.seed("r1", 100, 92)

	results := make([]error, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = s.ledger.Reserve(s.ctx, "r1", int64(i+1), 10)
		}(i)
	}
	wg.Wait()

	for _, err := range results {
		s.True(errors.Is(err, apperrors.ErrInsufficientInventory))
	}
	s.LessOrEqual(s.raffle("r1").HeldTickets, int64(8))

	// Two requests that each fit alone: exactly one wins.
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = s.ledger.Reserve(s.ctx, "r1", int64(i+1), 5)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		}
	}
	s.Equal(1, succeeded)
	s.Equal(int64(5), s.raffle("r1").HeldTickets)
}

func (s *LedgerSuite) TestCommitAssignsSequentialTickets() {
	s.seed("r1", 100, 0)

	a, err := s.ledger.Reserve(s.ctx, "r1", 1, 3)
	s.Require().NoError(err)
	b, err := s.ledger.Reserve(s.ctx, "r1", 2, 4)
	s.Require().NoError(err)

	pb, err := s.ledger.Commit(s.ctx, b.Handle, "tx-b")
	s.Require().NoError(err)
	pa, err := s.ledger.Commit(s.ctx, a.Handle, "tx-a")
	s.Require().NoError(err)

	s.Equal(int64(0), pb.FirstTicket)
	s.Equal(int64(4), pa.FirstTicket)
	s.Equal(int64(40_000), pb.TotalPrice)

	r := s.raffle("r1")
	s.Equal(int64(7), r.SoldTickets)
	s.Equal(int64(0), r.HeldTickets)
	s.Len(s.events.OfType(events.PurchaseCompleted), 2)
}

func (s *LedgerSuite) TestCommitAfterExpiryFails() {
	s.seed("r1", 100, 0)
	res, err := s.ledger.Reserve(s.ctx, "r1", 1, 2)
	s.Require().NoError(err)

	s.clock.Advance(10*time.Minute + time.Second)

	_, err = s.ledger.Commit(s.ctx, res.Handle, "tx-1")
	s.True(errors.Is(err, apperrors.ErrReservationExpired))

	r := s.raffle("r1")
	s.Equal(int64(0), r.SoldTickets)
	s.Equal(int64(0), r.HeldTickets)

	// Still expired on a second attempt.
	_, err = s.ledger.Commit(s.ctx, res.Handle, "tx-1")
	s.True(errors.Is(err, apperrors.ErrReservationExpired))
	s.Equal(int64(0), s.raffle("r1").SoldTickets)
}

func (s *LedgerSuite) TestCommitIsIdempotentPerTransaction() {
	s.seed("r1", 100, 0)
	res, err := s.ledger.Reserve(s.ctx, "r1", 1, 2)
	s.Require().NoError(err)

	first, err := s.ledger.Commit(s.ctx, res.Handle, "tx-1")
	s.Require().NoError(err)
	again, err := s.ledger.Commit(s.ctx, res.Handle, "tx-1")
	s.Require().NoError(err)
	s.Equal(first.ID, again.ID)
	s.Equal(int64(2), s.raffle("r1").SoldTickets)

	_, err = s.ledger.Commit(s.ctx, res.Handle, "tx-2")
	s.True(apperrors.HasCode(err, apperrors.ErrCodeConflict))
}

func (s *LedgerSuite) TestReleaseIsIdempotent() {
	s.seed("r1", 100, 0)
	res, err := s.ledger.Reserve(s.ctx, "r1", 1, 6)
	s.Require().NoError(err)
	s.Equal(int64(6), s.raffle("r1").HeldTickets)

	s.Require().NoError(s.ledger.Release(s.ctx, res.Handle))
	once := s.raffle("r1")
	s.Require().NoError(s.ledger.Release(s.ctx, res.Handle))
	twice := s.raffle("r1")

	s.Equal(int64(0), once.HeldTickets)
	s.Equal(once.HeldTickets, twice.HeldTickets)
	s.Equal(once.SoldTickets, twice.SoldTickets)

	_, err = s.ledger.Commit(s.ctx, res.Handle, "tx")
	s.True(errors.Is(err, apperrors.ErrReservationExpired))
}

func (s *LedgerSuite) TestSweepExpiresStaleHolds() {
	s.seed("r1", 100, 0)
	s.seed("r2", 100, 0)
	old1, err := s.ledger.Reserve(s.ctx, "r1", 1, 3)
	s.Require().NoError(err)
	_, err = s.ledger.Reserve(s.ctx, "r2", 1, 4)
	s.Require().NoError(err)

	s.clock.Advance(6 * time.Minute)
	fresh, err := s.ledger.Reserve(s.ctx, "r1", 2, 2)
	s.Require().NoError(err)
	s.clock.Advance(5 * time.Minute)

	n, err := s.ledger.SweepExpired(s.ctx, s.clock.Now())
	s.Require().NoError(err)
	s.Equal(2, n)

	s.Equal(int64(2), s.raffle("r1").HeldTickets)
	s.Equal(int64(0), s.raffle("r2").HeldTickets)

	swept, err := s.ledger.GetReservation(s.ctx, old1.Handle)
	s.Require().NoError(err)
	s.Equal(models.ReservationExpired, swept.Status)

	_, err = s.ledger.Commit(s.ctx, fresh.Handle, "tx-fresh")
	s.NoError(err)
}

func (s *LedgerSuite) TestSellOutClosesRaffle() {
	s.seed("r1", 5, 0)
	res, err := s.ledger.Reserve(s.ctx, "r1", 1, 5)
	s.Require().NoError(err)

	_, err = s.ledger.Commit(s.ctx, res.Handle, "tx")
	s.Require().NoError(err)

	r := s.raffle("r1")
	s.Equal(rafflemodels.StatusClosed, r.Status)
	s.Equal(r.TotalTickets, r.SoldTickets)
	s.Len(s.events.OfType(events.RaffleClosed), 1)

	_, err = s.ledger.Reserve(s.ctx, "r1", 2, 1)
	s.True(errors.Is(err, apperrors.ErrRaffleNotActive))
}

func (s *LedgerSuite) TestComputeOdds() {
	s.seed("empty", 100, 0)
	s.seed("busy", 100, 90)

	p, err := s.ledger.ComputeOdds(s.ctx, "empty", 0)
	s.Require().NoError(err)
	s.Equal(0.0, p)

	p, err = s.ledger.ComputeOdds(s.ctx, "busy", 10)
	s.Require().NoError(err)
	s.InDelta(0.1, p, 1e-9)

	table, err := s.ledger.OddsTable(s.ctx, "empty")
	s.Require().NoError(err)
	s.Len(table, 6)
	s.Equal(1.0, table[0].Probability)
}

func (s *LedgerSuite) TestRefundPurchase() {
	s.seed("r1", 100, 0)
	res, err := s.ledger.Reserve(s.ctx, "r1", 1, 4)
	s.Require().NoError(err)
	charge, err := s.gateway.Charge(s.ctx, payment.ChargeRequest{Amount: res.TotalPrice()})
	s.Require().NoError(err)
	purchase, err := s.ledger.Commit(s.ctx, res.Handle, charge.TransactionID)
	s.Require().NoError(err)

	refunded, err := s.ledger.RefundPurchase(s.ctx, purchase.ID)
	s.Require().NoError(err)
	s.Equal(models.PurchaseRefunded, refunded.Status)
	s.NotEmpty(refunded.RefundID)
	s.Equal(int64(0), s.raffle("r1").SoldTickets)

	again, err := s.ledger.RefundPurchase(s.ctx, purchase.ID)
	s.Require().NoError(err)
	s.Equal(refunded.RefundID, again.RefundID)
	s.Equal(int64(0), s.raffle("r1").SoldTickets)
}

func (s *LedgerSuite) TestRefundFailureKeepsSold() {
	s.seed("r1", 100, 0)
	res, err := s.ledger.Reserve(s.ctx, "r1", 1, 4)
	s.Require().NoError(err)
	purchase, err := s.ledger.Commit(s.ctx, res.Handle, "tx-unknown")
	s.Require().NoError(err)

	_, err = s.ledger.RefundPurchase(s.ctx, purchase.ID)
	s.Error(err)
	s.Equal(int64(4), s.raffle("r1").SoldTickets)
}

func (s *LedgerSuite) TestRecordFailed() {
	s.seed("r1", 100, 0)
	res, err := s.ledger.Reserve(s.ctx, "r1", 9, 1)
	s.Require().NoError(err)

	p, err := s.ledger.RecordFailed(s.ctx, res, "declined")
	s.Require().NoError(err)
	s.Equal(models.PurchaseFailed, p.Status)

	list, err := s.ledger.ListUserPurchases(s.ctx, 9)
	s.Require().NoError(err)
	s.Len(list, 1)
}

func TestSoldMatchesCompletedPurchases(t *testing.T) {
	logger.Disable()
	cfg := &config.Config{}
	cfg.Ledger.HoldWindow = time.Minute
	cfg.Ledger.MaxTicketsPerPurchase = 100
	cfg.Payment.Timeout = time.Second

	ctx := context.Background()
	store := memory.NewStore()
	ledger := NewLedgerService(store, keylock.New[string](), payment.NewSandbox(0), events.Nop{}, cfg)
	require.NoError(t, store.CreateRaffle(ctx, &rafflemodels.Raffle{
		ID: "r1", Status: rafflemodels.StatusActive, TicketPrice: 500,
		TotalTickets: 200, EndDate: time.Now().Add(time.Hour),
	}))

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := ledger.Reserve(ctx, "r1", int64(i), int64(i%7+1))
			if err != nil {
				return
			}
			if i%3 == 0 {
				_ = ledger.Release(ctx, res.Handle)
				return
			}
			_, _ = ledger.Commit(ctx, res.Handle, "tx")
		}(i)
	}
	wg.Wait()

	purchases, err := ledger.ListRafflePurchases(ctx, "r1")
	require.NoError(t, err)
	var sum int64
	for _, p := range purchases {
		if p.Status == models.PurchaseCompleted {
			sum += p.Quantity
		}
	}
	r, err := store.GetRaffle(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, sum, r.SoldTickets)
	assert.Equal(t, int64(0), r.HeldTickets)
	assert.LessOrEqual(t, r.SoldTickets, r.TotalTickets)
}

func (s *LedgerSuite) TestCommitAfterEndDateFails() {
	s.seed("r1", 100, 0)
	res, err := s.ledger.Reserve(s.ctx, "r1", 1, 5)
	s.Require().NoError(err)

	r := s.raffle("r1")
	r.EndDate = s.clock.Now().Add(2 * time.Minute)
	s.Require().NoError(s.store.UpdateRaffle(s.ctx, r))
	s.clock.Advance(5 * time.Minute)

	_, err = s.ledger.Commit(s.ctx, res.Handle, "tx-late")
	s.True(errors.Is(err, apperrors.ErrRaffleNotActive))
	s.Equal(int64(0), s.raffle("r1").SoldTickets)
	s.Empty(s.events.OfType(events.PurchaseCompleted))
}

// interleavingStore runs interleave once right before the first SaveHold,
// as a second process writing between our read and our write would.
type interleavingStore struct {
	*memory.Store
	once       sync.Once
	interleave func()
}

func (s *interleavingStore) SaveHold(ctx context.Context, raffle *rafflemodels.Raffle, res *models.Reservation) error {
	s.once.Do(s.interleave)
	return s.Store.SaveHold(ctx, raffle, res)
}

func (s *LedgerSuite) TestWriteFromAnotherProcessIsNotOverwritten() {
	s.seed("r1", 10, 0)
	cfg := &config.Config{}
	cfg.Ledger.HoldWindow = 10 * time.Minute
	cfg.Ledger.MaxTicketsPerPurchase = 100

	// Each ledger has its own locks, like two processes sharing one store.
	other := NewLedgerService(s.store, keylock.New[string](), s.gateway, s.events, cfg, WithClock(s.clock.Now))
	racing := &interleavingStore{Store: s.store, interleave: func() {
		_, err := other.Reserve(s.ctx, "r1", 2, 8)
		s.Require().NoError(err)
	}}
	ledger := NewLedgerService(racing, keylock.New[string](), s.gateway, s.events, cfg, WithClock(s.clock.Now))

	_, err := ledger.Reserve(s.ctx, "r1", 1, 5)
	s.True(errors.Is(err, apperrors.ErrInsufficientInventory), "got %v", err)

	held, err := s.store.ListHeldReservations(s.ctx, "r1")
	s.Require().NoError(err)
	var sum int64
	for _, h := range held {
		sum += h.Quantity
	}
	s.Equal(int64(8), sum)
	s.Equal(int64(8), s.raffle("r1").HeldTickets)

	_, err = ledger.Reserve(s.ctx, "r1", 1, 2)
	s.Require().NoError(err)
	s.Equal(int64(10), s.raffle("r1").HeldTickets)
}
