package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"raffle-ledger-backend/internal/common/config"
	apperrors "raffle-ledger-backend/internal/common/errors"
	"raffle-ledger-backend/internal/common/keylock"
	"raffle-ledger-backend/internal/common/logger"
	invmodels "raffle-ledger-backend/internal/features/inventory/models"
	inventory "raffle-ledger-backend/internal/features/inventory/service"
	"raffle-ledger-backend/internal/features/raffle/models"
	"raffle-ledger-backend/internal/platform/events"
	"raffle-ledger-backend/internal/platform/payment"
	"raffle-ledger-backend/internal/storage/memory"
)

type RaffleSuite struct {
	suite.Suite
	ctx     context.Context
	now     time.Time
	store   *memory.Store
	gateway *payment.Sandbox
	events  *events.Recorder
	ledger  inventory.LedgerService
	svc     RaffleService
	picked  int64
}

func TestRaffleSuite(t *testing.T) {
	suite.Run(t, new(RaffleSuite))
}

func (s *RaffleSuite) SetupTest() {
	logger.Disable()
	cfg := &config.Config{}
	cfg.Ledger.HoldWindow = 10 * time.Minute
	cfg.Ledger.MaxTicketsPerPurchase = 100
	cfg.Payment.Timeout = time.Second

	s.ctx = context.Background()
	s.now = time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return s.now }
	locks := keylock.New[string]()

	s.store = memory.NewStore()
	s.gateway = payment.NewSandbox(0)
	s.events = &events.Recorder{}
	s.ledger = inventory.NewLedgerService(s.store, locks, s.gateway, s.events, cfg, inventory.WithClock(clock))
	s.svc = NewRaffleService(s.store, s.ledger, locks, s.events,
		WithClock(clock),
		WithPicker(func(n int64) (int64, error) { return s.picked % n, nil }),
	)
}

func (s *RaffleSuite) draft(total int64) *models.Raffle {
	r, err := s.svc.Create(s.ctx, 1, &models.RaffleCreate{
		Title:        "Dream Home",
		Category:     models.CategoryRealEstate,
		TicketPrice:  50_00,
		TotalTickets: total,
		EndDate:      s.now.Add(48 * time.Hour),
		PrizeValue:   500_000_00,
	})
	s.Require().NoError(err)
	return r
}

func (s *RaffleSuite) active(total int64) *models.Raffle {
	r := s.draft(total)
	r, err := s.svc.Publish(s.ctx, r.ID)
	s.Require().NoError(err)
	return r
}

func (s *RaffleSuite) buy(raffleID string, userID, quantity int64) *invmodels.TicketPurchase {
	res, err := s.ledger.Reserve(s.ctx, raffleID, userID, quantity)
	s.Require().NoError(err)
	charge, err := s.gateway.Charge(s.ctx, payment.ChargeRequest{IdempotencyKey: res.Handle, Amount: res.TotalPrice()})
	s.Require().NoError(err)
	p, err := s.ledger.Commit(s.ctx, res.Handle, charge.TransactionID)
	s.Require().NoError(err)
	return p
}

func (s *RaffleSuite) get(id string) *models.Raffle {
	r, err := s.svc.Get(s.ctx, id)
	s.Require().NoError(err)
	return r
}

func (s *RaffleSuite) TestCreateValidates() {
	_, err := s.svc.Create(s.ctx, 1, &models.RaffleCreate{Title: " ", Category: models.CategoryCash})
	s.True(apperrors.HasCode(err, apperrors.ErrCodeValidation))

	_, err = s.svc.Create(s.ctx, 1, &models.RaffleCreate{Title: "x", Category: "toys"})
	s.True(apperrors.HasCode(err, apperrors.ErrCodeValidation))

	_, err = s.svc.Create(s.ctx, 1, &models.RaffleCreate{Title: "x", Category: models.CategoryCash, ImageURL: "prize.png"})
	s.True(apperrors.HasCode(err, apperrors.ErrCodeValidation))
}

func (s *RaffleSuite) TestPrizeValueMustBePositive() {
	input := &models.RaffleCreate{
		Title:        "Gold Bar",
		Category:     models.CategoryCash,
		TicketPrice:  10_00,
		TotalTickets: 100,
		EndDate:      s.now.Add(24 * time.Hour),
	}
	_, err := s.svc.Create(s.ctx, 1, input)
	s.True(apperrors.HasCode(err, apperrors.ErrCodeValidation))

	input.PrizeValue = -5
	_, err = s.svc.Create(s.ctx, 1, input)
	s.True(apperrors.HasCode(err, apperrors.ErrCodeValidation))

	r := s.draft(10)
	zero := int64(0)
	_, err = s.svc.UpdateDraft(s.ctx, r.ID, &models.RaffleUpdate{PrizeValue: &zero})
	s.True(apperrors.HasCode(err, apperrors.ErrCodeValidation))
	s.Equal(int64(500_000_00), s.get(r.ID).PrizeValue)
}

func (s *RaffleSuite) TestUpdateDraftTrimsFields() {
	r := s.draft(10)
	title, image := "  Porsche 911  ", "https://cdn.example.com/911.jpg"

	updated, err := s.svc.UpdateDraft(s.ctx, r.ID, &models.RaffleUpdate{Title: &title, ImageURL: &image})
	s.Require().NoError(err)
	s.Equal("Porsche 911", updated.Title)
	s.Equal(image, s.get(r.ID).ImageURL)
}

func (s *RaffleSuite) TestPublishRequirements() {
	r := s.draft(0)
	_, err := s.svc.Publish(s.ctx, r.ID)
	s.True(apperrors.HasCode(err, apperrors.ErrCodeValidation))
	s.Equal(models.StatusDraft, s.get(r.ID).Status)

	total := int64(10)
	_, err = s.svc.UpdateDraft(s.ctx, r.ID, &models.RaffleUpdate{TotalTickets: &total})
	s.Require().NoError(err)

	published, err := s.svc.Publish(s.ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusActive, published.Status)
	s.Len(s.events.OfType(events.RaffleOpened), 1)

	_, err = s.svc.Publish(s.ctx, r.ID)
	s.True(errors.Is(err, apperrors.ErrInvalidStateTransition))
}

func (s *RaffleSuite) TestUpdateDraftTotalOnlyGrows() {
	r := s.draft(100)

	smaller := int64(50)
	_, err := s.svc.UpdateDraft(s.ctx, r.ID, &models.RaffleUpdate{TotalTickets: &smaller})
	s.True(apperrors.HasCode(err, apperrors.ErrCodeValidation))

	_, err = s.svc.Publish(s.ctx, r.ID)
	s.Require().NoError(err)

	bigger := int64(200)
	_, err = s.svc.UpdateDraft(s.ctx, r.ID, &models.RaffleUpdate{TotalTickets: &bigger})
	s.True(errors.Is(err, apperrors.ErrInvalidStateTransition))
	s.Equal(int64(100), s.get(r.ID).TotalTickets)
}

func (s *RaffleSuite) TestInvalidTransitionsLeaveStateUnchanged() {
	r := s.draft(10)

	_, err := s.svc.Close(s.ctx, r.ID)
	s.True(errors.Is(err, apperrors.ErrInvalidStateTransition))
	_, err = s.svc.Draw(s.ctx, r.ID)
	s.True(errors.Is(err, apperrors.ErrInvalidStateTransition))
	s.Equal(models.StatusDraft, s.get(r.ID).Status)
}

func (s *RaffleSuite) TestCloseReleasesHolds() {
	r := s.active(10)
	_, err := s.ledger.Reserve(s.ctx, r.ID, 5, 4)
	s.Require().NoError(err)

	closed, err := s.svc.Close(s.ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusClosed, closed.Status)
	s.Equal(int64(0), s.get(r.ID).HeldTickets)

	_, err = s.ledger.Reserve(s.ctx, r.ID, 5, 1)
	s.True(errors.Is(err, apperrors.ErrRaffleNotActive))
}

func (s *RaffleSuite) TestCloseDue() {
	ending := s.active(10)
	s.active(10)

	s.now = s.now.Add(49 * time.Hour)
	n, err := s.svc.CloseDue(s.ctx, s.now)
	s.Require().NoError(err)
	s.Equal(2, n)
	s.Equal(models.StatusClosed, s.get(ending.ID).Status)

	n, err = s.svc.CloseDue(s.ctx, s.now)
	s.Require().NoError(err)
	s.Equal(0, n)
}

func (s *RaffleSuite) TestDrawMapsIndexToOwner() {
	r := s.active(100)
	s.buy(r.ID, 11, 3) // tickets 0..2
	s.buy(r.ID, 22, 5) // tickets 3..7
	s.buy(r.ID, 33, 2) // tickets 8..9
	_, err := s.svc.Close(s.ctx, r.ID)
	s.Require().NoError(err)

	s.picked = 7
	winner, err := s.svc.Draw(s.ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(int64(22), winner.UserID)
	s.Equal(int64(7), winner.TicketIndex)
	s.Equal(models.StatusDrawn, s.get(r.ID).Status)

	stored, err := s.svc.GetWinner(s.ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(winner.PurchaseID, stored.PurchaseID)

	wins, err := s.svc.ListWins(s.ctx, 22)
	s.Require().NoError(err)
	s.Len(wins, 1)

	_, err = s.svc.Cancel(s.ctx, r.ID)
	s.True(errors.Is(err, apperrors.ErrInvalidStateTransition))
}

func (s *RaffleSuite) TestDrawWithNoSales() {
	r := s.active(10)
	_, err := s.svc.Close(s.ctx, r.ID)
	s.Require().NoError(err)

	_, err = s.svc.Draw(s.ctx, r.ID)
	s.True(errors.Is(err, apperrors.ErrNoTicketsSold))
	s.Equal(models.StatusClosed, s.get(r.ID).Status)
}

func (s *RaffleSuite) TestCancelRefundsEveryPurchase() {
	r := s.active(100)
	a := s.buy(r.ID, 1, 4)
	b := s.buy(r.ID, 2, 6)
	_, err := s.ledger.Reserve(s.ctx, r.ID, 3, 2)
	s.Require().NoError(err)

	result, err := s.svc.Cancel(s.ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(1, result.ReleasedHolds)
	s.Equal(2, result.Refunded)
	s.Equal(0, result.PendingRefunds)

	final := s.get(r.ID)
	s.Equal(models.StatusCancelled, final.Status)
	s.Equal(int64(0), final.SoldTickets)
	s.Equal(int64(0), final.HeldTickets)
	s.True(s.gateway.Refunded(a.TransactionID))
	s.True(s.gateway.Refunded(b.TransactionID))
	s.Len(s.events.OfType(events.RaffleCancelled), 1)
}

func (s *RaffleSuite) TestCancelRetriesFailedRefunds() {
	r := s.active(100)
	s.buy(r.ID, 1, 4)
	s.buy(r.ID, 2, 6)

	var down atomic.Bool
	down.Store(true)
	s.gateway.RefundHook = func(string) error {
		if down.Load() {
			return apperrors.New(apperrors.ErrCodePaymentUnavailable, "gateway down")
		}
		return nil
	}

	result, err := s.svc.Cancel(s.ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(0, result.Refunded)
	s.Equal(2, result.PendingRefunds)
	s.Equal(int64(10), s.get(r.ID).SoldTickets)

	down.Store(false)
	n, err := s.svc.RetryRefunds(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, n)
	s.Equal(int64(0), s.get(r.ID).SoldTickets)
}

func (s *RaffleSuite) TestListFilters() {
	s.draft(10)
	s.active(10)
	s.active(10)

	active, err := s.svc.List(s.ctx, models.RaffleFilter{Status: models.StatusActive})
	s.Require().NoError(err)
	s.Len(active, 2)

	page, err := s.svc.List(s.ctx, models.RaffleFilter{Limit: 1, Offset: 1})
	s.Require().NoError(err)
	s.Len(page, 1)

	_, err = s.svc.List(s.ctx, models.RaffleFilter{Status: "open"})
	s.True(apperrors.HasCode(err, apperrors.ErrCodeValidation))
}
