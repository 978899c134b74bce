// Package storagetest holds the behaviour every storage backend must share.
// Backend packages run it from their own tests.
package storagetest

import (
	"context"
	"fmt"
	"time"

	"github.com/stretchr/testify/suite"

	apperrors "raffle-ledger-backend/internal/common/errors"
	invmodels "raffle-ledger-backend/internal/features/inventory/models"
	loyaltymodels "raffle-ledger-backend/internal/features/loyalty/models"
	rafflemodels "raffle-ledger-backend/internal/features/raffle/models"
	refmodels "raffle-ledger-backend/internal/features/referral/models"
	"raffle-ledger-backend/internal/storage"
)

type Suite struct {
	suite.Suite
	// NewStore returns an empty store for each test.
	NewStore func() storage.Store

	ctx   context.Context
	store storage.Store
	now   time.Time
}

func (s *Suite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.NewStore()
	s.now = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
}

func (s *Suite) raffle(id string, createdAt time.Time, status rafflemodels.RaffleStatus) *rafflemodels.Raffle {
	r := &rafflemodels.Raffle{
		ID:           id,
		Title:        "Raffle " + id,
		Category:     rafflemodels.CategoryCash,
		Status:       status,
		TicketPrice:  10_00,
		TotalTickets: 100,
		EndDate:      s.now.Add(24 * time.Hour),
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
	s.Require().NoError(s.store.CreateRaffle(s.ctx, r))
	return r
}

func (s *Suite) hold(raffle *rafflemodels.Raffle, handle string, qty int64, expiresAt time.Time) *invmodels.Reservation {
	res := &invmodels.Reservation{
		Handle:    handle,
		RaffleID:  raffle.ID,
		UserID:    7,
		Quantity:  qty,
		UnitPrice: raffle.TicketPrice,
		Status:    invmodels.ReservationHeld,
		CreatedAt: expiresAt.Add(-10 * time.Minute),
		ExpiresAt: expiresAt,
	}
	raffle.HeldTickets += qty
	s.Require().NoError(s.store.SaveHold(s.ctx, raffle, res))
	return res
}

func (s *Suite) TestRaffleRoundTrip() {
	r := s.raffle("r1", s.now, rafflemodels.StatusDraft)

	got, err := s.store.GetRaffle(s.ctx, "r1")
	s.Require().NoError(err)
	s.Equal(r.Title, got.Title)
	s.True(r.EndDate.Equal(got.EndDate))

	got.Status = rafflemodels.StatusActive
	s.Require().NoError(s.store.UpdateRaffle(s.ctx, got))
	again, err := s.store.GetRaffle(s.ctx, "r1")
	s.Require().NoError(err)
	s.Equal(rafflemodels.StatusActive, again.Status)

	s.True(apperrors.HasCode(s.store.CreateRaffle(s.ctx, r), apperrors.ErrCodeConflict))
	_, err = s.store.GetRaffle(s.ctx, "missing")
	s.ErrorIs(err, apperrors.ErrNotFound)
	s.ErrorIs(s.store.UpdateRaffle(s.ctx, &rafflemodels.Raffle{ID: "missing"}), apperrors.ErrNotFound)
}

func (s *Suite) TestListRafflesNewestFirst() {
	s.raffle("old", s.now.Add(-2*time.Hour), rafflemodels.StatusActive)
	s.raffle("mid", s.now.Add(-time.Hour), rafflemodels.StatusDraft)
	s.raffle("new", s.now, rafflemodels.StatusActive)

	all, err := s.store.ListRaffles(s.ctx, rafflemodels.RaffleFilter{})
	s.Require().NoError(err)
	s.Equal([]string{"new", "mid", "old"}, ids(all))

	active, err := s.store.ListRaffles(s.ctx, rafflemodels.RaffleFilter{Status: rafflemodels.StatusActive})
	s.Require().NoError(err)
	s.Equal([]string{"new", "old"}, ids(active))

	published, err := s.store.ListRaffles(s.ctx, rafflemodels.RaffleFilter{Published: true, Limit: 1, Offset: 1})
	s.Require().NoError(err)
	s.Equal([]string{"old"}, ids(published))
}

func ids(raffles []*rafflemodels.Raffle) []string {
	out := make([]string, len(raffles))
	for i, r := range raffles {
		out[i] = r.ID
	}
	return out
}

func (s *Suite) TestWinnerWrittenOnce() {
	r := s.raffle("r1", s.now, rafflemodels.StatusClosed)
	r.Status = rafflemodels.StatusDrawn
	winner := &rafflemodels.WinnerRecord{RaffleID: "r1", TicketIndex: 3, PurchaseID: "p1", UserID: 9, DrawnAt: s.now}

	s.Require().NoError(s.store.SaveWinner(s.ctx, r, winner))
	s.True(apperrors.HasCode(s.store.SaveWinner(s.ctx, r, winner), apperrors.ErrCodeConflict))

	got, err := s.store.GetWinner(s.ctx, "r1")
	s.Require().NoError(err)
	s.Equal(int64(3), got.TicketIndex)
	stored, err := s.store.GetRaffle(s.ctx, "r1")
	s.Require().NoError(err)
	s.Equal(rafflemodels.StatusDrawn, stored.Status)

	wins, err := s.store.ListWinsByUser(s.ctx, 9)
	s.Require().NoError(err)
	s.Len(wins, 1)
	_, err = s.store.GetWinner(s.ctx, "other")
	s.ErrorIs(err, apperrors.ErrNotFound)
}

func (s *Suite) TestHoldIndexes() {
	r := s.raffle("r1", s.now, rafflemodels.StatusActive)
	early := s.hold(r, "h1", 2, s.now.Add(-time.Minute))
	s.hold(r, "h2", 3, s.now.Add(time.Minute))

	stored, err := s.store.GetRaffle(s.ctx, "r1")
	s.Require().NoError(err)
	s.Equal(int64(5), stored.HeldTickets)

	held, err := s.store.ListHeldReservations(s.ctx, "r1")
	s.Require().NoError(err)
	s.Len(held, 2)

	expired, err := s.store.ListExpiredReservations(s.ctx, s.now)
	s.Require().NoError(err)
	s.Require().Len(expired, 1)
	s.Equal("h1", expired[0].Handle)

	early.Expire(s.now)
	r.HeldTickets -= early.Quantity
	s.Require().NoError(s.store.SaveHold(s.ctx, r, early))

	expired, err = s.store.ListExpiredReservations(s.ctx, s.now.Add(time.Hour))
	s.Require().NoError(err)
	s.Require().Len(expired, 1)
	s.Equal("h2", expired[0].Handle)

	s.ErrorIs(s.store.SaveHold(s.ctx, &rafflemodels.Raffle{ID: "missing"}, early), apperrors.ErrNotFound)
}

func (s *Suite) TestCommitMovesHoldToPurchase() {
	r := s.raffle("r1", s.now, rafflemodels.StatusActive)
	res := s.hold(r, "h1", 4, s.now.Add(time.Minute))

	purchase := &invmodels.TicketPurchase{
		ID:                "p1",
		RaffleID:          "r1",
		UserID:            res.UserID,
		Quantity:          4,
		UnitPrice:         r.TicketPrice,
		TotalPrice:        res.TotalPrice(),
		FirstTicket:       r.SoldTickets,
		TransactionID:     "tx1",
		ReservationHandle: res.Handle,
		Status:            invmodels.PurchaseCompleted,
		CreatedAt:         s.now,
	}
	res.Commit(purchase.ID, s.now)
	r.HeldTickets -= 4
	r.SoldTickets += 4
	s.Require().NoError(s.store.CommitPurchase(s.ctx, r, res, purchase))

	held, err := s.store.ListHeldReservations(s.ctx, "r1")
	s.Require().NoError(err)
	s.Empty(held)

	stored, err := s.store.GetRaffle(s.ctx, "r1")
	s.Require().NoError(err)
	s.Equal(int64(4), stored.SoldTickets)
	s.Equal(int64(0), stored.HeldTickets)

	gotRes, err := s.store.GetReservation(s.ctx, "h1")
	s.Require().NoError(err)
	s.Equal(invmodels.ReservationCommitted, gotRes.Status)
	s.Equal("p1", gotRes.PurchaseID)

	gotPurchase, err := s.store.GetPurchase(s.ctx, "p1")
	s.Require().NoError(err)
	s.Equal("tx1", gotPurchase.TransactionID)
}

func (s *Suite) TestPurchaseOrdering() {
	s.raffle("r1", s.now, rafflemodels.StatusActive)
	for i, first := range []int64{10, 0, 5} {
		s.Require().NoError(s.store.SavePurchase(s.ctx, &invmodels.TicketPurchase{
			ID:          fmt.Sprintf("p%d", i),
			RaffleID:    "r1",
			UserID:      7,
			Quantity:    5,
			FirstTicket: first,
			Status:      invmodels.PurchaseCompleted,
			CreatedAt:   s.now.Add(time.Duration(i) * time.Minute),
		}))
	}

	byRaffle, err := s.store.ListPurchasesByRaffle(s.ctx, "r1")
	s.Require().NoError(err)
	s.Require().Len(byRaffle, 3)
	s.Equal([]int64{0, 5, 10}, []int64{byRaffle[0].FirstTicket, byRaffle[1].FirstTicket, byRaffle[2].FirstTicket})

	byUser, err := s.store.ListPurchasesByUser(s.ctx, 7)
	s.Require().NoError(err)
	s.Require().Len(byUser, 3)
	s.Equal("p2", byUser[0].ID)
	s.Equal("p0", byUser[2].ID)

	r, err := s.store.GetRaffle(s.ctx, "r1")
	s.Require().NoError(err)
	refunded := *byRaffle[0]
	refunded.Status = invmodels.PurchaseRefunded
	s.Require().NoError(s.store.SaveRefund(s.ctx, r, &refunded))
	got, err := s.store.GetPurchase(s.ctx, refunded.ID)
	s.Require().NoError(err)
	s.Equal(invmodels.PurchaseRefunded, got.Status)
}

func (s *Suite) TestLoyaltyLedger() {
	_, err := s.store.GetAccount(s.ctx, 5)
	s.ErrorIs(err, apperrors.ErrNotFound)

	account := loyaltymodels.NewAccount(5, s.now)
	account.Credit(300, s.now)
	grant := &loyaltymodels.PointGrant{ID: "g1", UserID: 5, Amount: 300, Reason: loyaltymodels.ReasonPurchase, Reference: "p1", CreatedAt: s.now}
	s.Require().NoError(s.store.ApplyGrant(s.ctx, account, grant))

	found, err := s.store.FindGrant(s.ctx, 5, loyaltymodels.ReasonPurchase, "p1")
	s.Require().NoError(err)
	s.Equal("g1", found.ID)
	_, err = s.store.FindGrant(s.ctx, 5, loyaltymodels.ReasonReferral, "p1")
	s.ErrorIs(err, apperrors.ErrNotFound)

	account.Debit(100, s.now)
	s.Require().NoError(s.store.ApplyRedemption(s.ctx, account, &loyaltymodels.Redemption{ID: "d1", UserID: 5, Amount: 100, CreatedAt: s.now}))

	stored, err := s.store.GetAccount(s.ctx, 5)
	s.Require().NoError(err)
	s.Equal(int64(200), stored.PointsBalance)
	s.Equal(int64(300), stored.LifetimePoints)

	grants, err := s.store.ListGrants(s.ctx, 5)
	s.Require().NoError(err)
	s.Len(grants, 1)
	redemptions, err := s.store.ListRedemptions(s.ctx, 5)
	s.Require().NoError(err)
	s.Len(redemptions, 1)
}

func (s *Suite) TestReferrals() {
	record := &refmodels.Record{ReferrerID: 1, RefereeID: 2, Status: refmodels.StatusPending, CreatedAt: s.now}
	s.Require().NoError(s.store.CreateReferral(s.ctx, record))

	dup := &refmodels.Record{ReferrerID: 3, RefereeID: 2, Status: refmodels.StatusPending, CreatedAt: s.now}
	s.ErrorIs(s.store.CreateReferral(s.ctx, dup), apperrors.ErrAlreadyReferred)

	record.Status = refmodels.StatusCompleted
	record.PointsAwarded = 100
	s.Require().NoError(s.store.UpdateReferral(s.ctx, record))

	list, err := s.store.ListReferrals(s.ctx, 1)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal(refmodels.StatusCompleted, list[0].Status)

	s.ErrorIs(s.store.UpdateReferral(s.ctx, &refmodels.Record{RefereeID: 99}), apperrors.ErrNotFound)
}

func (s *Suite) TestReferralCodes() {
	code := &refmodels.Code{Code: "ABCD2345", UserID: 1, CreatedAt: s.now}
	s.Require().NoError(s.store.SaveReferralCode(s.ctx, code))

	taken := &refmodels.Code{Code: "ABCD2345", UserID: 2, CreatedAt: s.now}
	s.True(apperrors.HasCode(s.store.SaveReferralCode(s.ctx, taken), apperrors.ErrCodeConflict))
	second := &refmodels.Code{Code: "ZZZZ2345", UserID: 1, CreatedAt: s.now}
	s.True(apperrors.HasCode(s.store.SaveReferralCode(s.ctx, second), apperrors.ErrCodeConflict))

	got, err := s.store.GetReferralCodeByUser(s.ctx, 1)
	s.Require().NoError(err)
	s.Equal("ABCD2345", got.Code)
	owner, err := s.store.GetReferralCode(s.ctx, "ABCD2345")
	s.Require().NoError(err)
	s.Equal(int64(1), owner.UserID)
	_, err = s.store.GetReferralCode(s.ctx, "NOPE")
	s.ErrorIs(err, apperrors.ErrNotFound)
}

func (s *Suite) TestRaffleWritesAdvanceVersion() {
	r := s.raffle("r1", s.now, rafflemodels.StatusActive)
	s.Equal(int64(0), r.Version)

	s.hold(r, "h1", 2, s.now.Add(time.Minute))
	s.Equal(int64(1), r.Version)
	r.Title = "Renamed"
	s.Require().NoError(s.store.UpdateRaffle(s.ctx, r))
	s.Equal(int64(2), r.Version)

	stored, err := s.store.GetRaffle(s.ctx, "r1")
	s.Require().NoError(err)
	s.Equal(int64(2), stored.Version)
}

func (s *Suite) TestStaleRaffleWritesRejected() {
	s.raffle("r1", s.now, rafflemodels.StatusActive)
	fresh, err := s.store.GetRaffle(s.ctx, "r1")
	s.Require().NoError(err)
	stale, err := s.store.GetRaffle(s.ctx, "r1")
	s.Require().NoError(err)

	s.hold(fresh, "h1", 8, s.now.Add(time.Minute))

	late := &invmodels.Reservation{
		Handle: "h2", RaffleID: "r1", UserID: 8, Quantity: 5,
		Status: invmodels.ReservationHeld, CreatedAt: s.now, ExpiresAt: s.now.Add(time.Minute),
	}
	stale.HeldTickets += 5
	s.ErrorIs(s.store.SaveHold(s.ctx, stale, late), apperrors.ErrStaleWrite)
	s.ErrorIs(s.store.UpdateRaffle(s.ctx, stale), apperrors.ErrStaleWrite)

	purchase := &invmodels.TicketPurchase{ID: "p1", RaffleID: "r1", UserID: 8, Quantity: 5, Status: invmodels.PurchaseCompleted, CreatedAt: s.now}
	s.ErrorIs(s.store.CommitPurchase(s.ctx, stale, late, purchase), apperrors.ErrStaleWrite)
	s.ErrorIs(s.store.SaveRefund(s.ctx, stale, purchase), apperrors.ErrStaleWrite)
	stale.Status = rafflemodels.StatusDrawn
	winner := &rafflemodels.WinnerRecord{RaffleID: "r1", UserID: 8, DrawnAt: s.now}
	s.ErrorIs(s.store.SaveWinner(s.ctx, stale, winner), apperrors.ErrStaleWrite)

	stored, err := s.store.GetRaffle(s.ctx, "r1")
	s.Require().NoError(err)
	s.Equal(int64(8), stored.HeldTickets)
	s.Equal(rafflemodels.StatusActive, stored.Status)

	held, err := s.store.ListHeldReservations(s.ctx, "r1")
	s.Require().NoError(err)
	s.Require().Len(held, 1)
	s.Equal("h1", held[0].Handle)
	_, err = s.store.GetPurchase(s.ctx, "p1")
	s.ErrorIs(err, apperrors.ErrNotFound)
	_, err = s.store.GetWinner(s.ctx, "r1")
	s.ErrorIs(err, apperrors.ErrNotFound)
}
