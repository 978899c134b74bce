package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"raffle-ledger-backend/internal/common/config"
	apperrors "raffle-ledger-backend/internal/common/errors"
	"raffle-ledger-backend/internal/common/keylock"
	"raffle-ledger-backend/internal/common/logger"
	"raffle-ledger-backend/internal/common/retry"
	"raffle-ledger-backend/internal/features/inventory/models"
	"raffle-ledger-backend/internal/features/inventory/repository"
	rafflemodels "raffle-ledger-backend/internal/features/raffle/models"
	"raffle-ledger-backend/internal/platform/events"
	"raffle-ledger-backend/internal/platform/payment"
)

type ledgerService struct {
	repo      repository.InventoryRepository
	locks     *keylock.Locker[string]
	gateway   payment.Gateway
	publisher events.Publisher

	holdWindow    time.Duration
	maxQuantity   int64
	refundTimeout time.Duration

	now func() time.Time
	log zerolog.Logger
}

type Option func(*ledgerService)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *ledgerService) { s.now = now }
}

func NewLedgerService(
	repo repository.InventoryRepository,
	locks *keylock.Locker[string],
	gateway payment.Gateway,
	publisher events.Publisher,
	cfg *config.Config,
	opts ...Option,
) LedgerService {
	s := &ledgerService{
		repo:          repo,
		locks:         locks,
		gateway:       gateway,
		publisher:     publisher,
		holdWindow:    cfg.Ledger.HoldWindow,
		maxQuantity:   cfg.Ledger.MaxTicketsPerPurchase,
		refundTimeout: cfg.Payment.Timeout,
		now:           time.Now,
		log:           logger.Component("ledger"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ledgerService) lock(ctx context.Context, raffleID string) (func(), error) {
	unlock, err := s.locks.LockContext(ctx, raffleID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeStoreUnavailable, "Timed out waiting for raffle lock")
	}
	return unlock, nil
}

func (s *ledgerService) Reserve(ctx context.Context, raffleID string, userID int64, quantity int64) (*models.Reservation, error) {
	if quantity <= 0 {
		return nil, apperrors.New(apperrors.ErrCodeInvalidQuantity, "Quantity must be at least 1").
			WithDetail("quantity", quantity)
	}
	if quantity > s.maxQuantity {
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidQuantity,
			"At most %d tickets can be bought at once", s.maxQuantity).
			WithDetail("quantity", quantity).
			WithDetail("max", s.maxQuantity)
	}

	unlock, err := s.lock(ctx, raffleID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var res *models.Reservation
	err = retry.OnStale(ctx, func(ctx context.Context) error {
		res, err = s.reserve(ctx, raffleID, userID, quantity)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug().
		Str("raffle_id", raffleID).
		Int64("user_id", userID).
		Int64("quantity", quantity).
		Str("handle", res.Handle).
		Msg("Tickets reserved")
	return res, nil
}

func (s *ledgerService) reserve(ctx context.Context, raffleID string, userID, quantity int64) (*models.Reservation, error) {
	raffle, err := s.repo.GetRaffle(ctx, raffleID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := acceptsPurchases(raffle, now); err != nil {
		return nil, err
	}

	remaining := raffle.Remaining()
	if quantity > remaining {
		return nil, insufficient(remaining).
			WithDetail("raffle_id", raffleID).
			WithDetail("requested", quantity)
	}

	res := &models.Reservation{
		Handle:    uuid.NewString(),
		RaffleID:  raffleID,
		UserID:    userID,
		Quantity:  quantity,
		UnitPrice: raffle.TicketPrice,
		Status:    models.ReservationHeld,
		CreatedAt: now,
		ExpiresAt: now.Add(s.holdWindow),
	}
	raffle.HeldTickets += quantity
	raffle.UpdatedAt = now

	if err := s.repo.SaveHold(ctx, raffle, res); err != nil {
		return nil, err
	}
	return res, nil
}

// acceptsPurchases rejects raffles that are not active or whose end date
// has passed, whether or not the close job has run yet.
func acceptsPurchases(raffle *rafflemodels.Raffle, now time.Time) error {
	if raffle.AcceptsPurchasesAt(now) {
		return nil
	}
	msg := fmt.Sprintf("Raffle is %s and not accepting purchases", raffle.Status)
	if raffle.Status == rafflemodels.StatusActive {
		msg = "Raffle has ended and is not accepting purchases"
	}
	return apperrors.New(apperrors.ErrCodeRaffleNotActive, msg).
		WithDetail("raffle_id", raffle.ID).
		WithDetail("status", string(raffle.Status))
}

func insufficient(remaining int64) *apperrors.AppError {
	if remaining <= 0 {
		return apperrors.New(apperrors.ErrCodeInsufficientInventory, "No tickets remain").
			WithDetail("remaining", int64(0))
	}
	noun := "tickets remain"
	if remaining == 1 {
		noun = "ticket remains"
	}
	return apperrors.Newf(apperrors.ErrCodeInsufficientInventory, "Only %d %s", remaining, noun).
		WithDetail("remaining", remaining)
}

func expired(handle string) *apperrors.AppError {
	return apperrors.New(apperrors.ErrCodeReservationExpired,
		"Your reservation has expired, please reserve tickets again").
		WithDetail("handle", handle)
}

func (s *ledgerService) Commit(ctx context.Context, handle, transactionID string) (*models.TicketPurchase, error) {
	if transactionID == "" {
		return nil, apperrors.NewValidationError("transaction_id", "must not be empty")
	}

	res, err := s.repo.GetReservation(ctx, handle)
	if err != nil {
		return nil, err
	}

	unlock, err := s.lock(ctx, res.RaffleID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		purchase *models.TicketPurchase
		raffle   *rafflemodels.Raffle
		soldOut  bool
		existing bool
	)
	err = retry.OnStale(ctx, func(ctx context.Context) error {
		purchase, raffle, soldOut, existing, err = s.commit(ctx, handle, transactionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if existing {
		return purchase, nil
	}

	s.log.Info().
		Str("raffle_id", raffle.ID).
		Str("purchase_id", purchase.ID).
		Int64("user_id", purchase.UserID).
		Int64("quantity", purchase.Quantity).
		Int64("first_ticket", purchase.FirstTicket).
		Msg("Reservation committed")

	s.publisher.Publish(ctx, events.New(events.PurchaseCompleted,
		"raffle_id", raffle.ID,
		"purchase_id", purchase.ID,
		"user_id", strconv.FormatInt(purchase.UserID, 10),
		"quantity", strconv.FormatInt(purchase.Quantity, 10),
	))
	if soldOut {
		s.publisher.Publish(ctx, events.New(events.RaffleClosed,
			"raffle_id", raffle.ID,
			"reason", "sold_out",
		))
	}
	return purchase, nil
}

// commit settles one held reservation. The raffle is read before the
// reservation so a concurrent change to either fails the write as stale.
func (s *ledgerService) commit(ctx context.Context, handle, transactionID string) (
	purchase *models.TicketPurchase, raffle *rafflemodels.Raffle, soldOut, existing bool, err error,
) {
	res, err := s.repo.GetReservation(ctx, handle)
	if err != nil {
		return nil, nil, false, false, err
	}
	if raffle, err = s.repo.GetRaffle(ctx, res.RaffleID); err != nil {
		return nil, nil, false, false, err
	}
	if res, err = s.repo.GetReservation(ctx, handle); err != nil {
		return nil, nil, false, false, err
	}

	switch res.Status {
	case models.ReservationCommitted:
		purchase, err = s.existingCommit(ctx, res, transactionID)
		return purchase, raffle, false, true, err
	case models.ReservationReleased, models.ReservationExpired:
		return nil, nil, false, false, expired(handle)
	}

	now := s.now()
	if res.ExpiredAt(now) {
		res.Expire(now)
		raffle.HeldTickets -= res.Quantity
		raffle.UpdatedAt = now
		if err := s.repo.SaveHold(ctx, raffle, res); err != nil {
			if errors.Is(err, apperrors.ErrStaleWrite) {
				return nil, nil, false, false, err
			}
			s.log.Error().Err(err).Str("handle", handle).Msg("Failed to expire reservation on commit")
		}
		return nil, nil, false, false, expired(handle)
	}
	if err := acceptsPurchases(raffle, now); err != nil {
		return nil, nil, false, false, err
	}

	purchase = &models.TicketPurchase{
		ID:                uuid.NewString(),
		RaffleID:          raffle.ID,
		UserID:            res.UserID,
		Quantity:          res.Quantity,
		UnitPrice:         res.UnitPrice,
		TotalPrice:        res.TotalPrice(),
		FirstTicket:       raffle.SoldTickets,
		TransactionID:     transactionID,
		ReservationHandle: res.Handle,
		Status:            models.PurchaseCompleted,
		CreatedAt:         now,
	}
	raffle.SoldTickets += res.Quantity
	raffle.HeldTickets -= res.Quantity
	raffle.UpdatedAt = now
	res.Commit(purchase.ID, now)

	soldOut = raffle.SoldTickets >= raffle.TotalTickets
	if soldOut {
		if err := raffle.Transition(rafflemodels.StatusClosed, now); err != nil {
			return nil, nil, false, false, err
		}
	}

	if err := s.repo.CommitPurchase(ctx, raffle, res, purchase); err != nil {
		return nil, nil, false, false, err
	}
	return purchase, raffle, soldOut, false, nil
}

func (s *ledgerService) existingCommit(ctx context.Context, res *models.Reservation, transactionID string) (*models.TicketPurchase, error) {
	purchase, err := s.repo.GetPurchase(ctx, res.PurchaseID)
	if err != nil {
		return nil, err
	}
	if purchase.TransactionID != transactionID {
		return nil, apperrors.New(apperrors.ErrCodeConflict,
			"Reservation was already committed with a different transaction").
			WithDetail("handle", res.Handle)
	}
	return purchase, nil
}

func (s *ledgerService) Release(ctx context.Context, handle string) error {
	res, err := s.repo.GetReservation(ctx, handle)
	if err != nil {
		return err
	}
	if !res.IsHeld() {
		return nil
	}

	unlock, err := s.lock(ctx, res.RaffleID)
	if err != nil {
		return err
	}
	defer unlock()

	return retry.OnStale(ctx, func(ctx context.Context) error {
		raffle, err := s.repo.GetRaffle(ctx, res.RaffleID)
		if err != nil {
			return err
		}
		current, err := s.repo.GetReservation(ctx, handle)
		if err != nil {
			return err
		}
		if !current.IsHeld() {
			return nil
		}

		now := s.now()
		current.Release(now)
		raffle.HeldTickets -= current.Quantity
		raffle.UpdatedAt = now
		if err := s.repo.SaveHold(ctx, raffle, current); err != nil {
			return err
		}
		s.log.Debug().Str("handle", handle).Str("raffle_id", raffle.ID).Msg("Reservation released")
		return nil
	})
}

func (s *ledgerService) GetReservation(ctx context.Context, handle string) (*models.Reservation, error) {
	return s.repo.GetReservation(ctx, handle)
}

func (s *ledgerService) ComputeOdds(ctx context.Context, raffleID string, quantity int64) (float64, error) {
	if quantity < 0 {
		return 0, apperrors.New(apperrors.ErrCodeInvalidQuantity, "Quantity must not be negative")
	}
	raffle, err := s.repo.GetRaffle(ctx, raffleID)
	if err != nil {
		return 0, err
	}
	return odds(raffle.SoldTickets, quantity), nil
}

// odds is the post-purchase share of sold tickets: q / (sold + q).
func odds(sold, quantity int64) float64 {
	denominator := sold + quantity
	if denominator == 0 {
		return 0
	}
	return float64(quantity) / float64(denominator)
}

func (s *ledgerService) OddsTable(ctx context.Context, raffleID string) ([]models.Odds, error) {
	raffle, err := s.repo.GetRaffle(ctx, raffleID)
	if err != nil {
		return nil, err
	}
	table := make([]models.Odds, 0, len(models.OddsQuantities))
	for _, q := range models.OddsQuantities {
		p := odds(raffle.SoldTickets, q)
		row := models.Odds{Quantity: q, Probability: p}
		if p > 0 {
			row.OneIn = 1 / p
		}
		table = append(table, row)
	}
	return table, nil
}

func (s *ledgerService) Inventory(ctx context.Context, raffleID string) (*models.Inventory, error) {
	raffle, err := s.repo.GetRaffle(ctx, raffleID)
	if err != nil {
		return nil, err
	}
	return &models.Inventory{
		RaffleID:       raffle.ID,
		TotalTickets:   raffle.TotalTickets,
		SoldTickets:    raffle.SoldTickets,
		HeldTickets:    raffle.HeldTickets,
		Remaining:      raffle.Remaining(),
		PercentageSold: raffle.PercentageSold(),
	}, nil
}

func (s *ledgerService) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	stale, err := s.repo.ListExpiredReservations(ctx, now)
	if err != nil {
		return 0, err
	}

	byRaffle := make(map[string][]string)
	var order []string
	for _, res := range stale {
		if _, ok := byRaffle[res.RaffleID]; !ok {
			order = append(order, res.RaffleID)
		}
		byRaffle[res.RaffleID] = append(byRaffle[res.RaffleID], res.Handle)
	}

	swept := 0
	var errs []error
	for _, raffleID := range order {
		n, err := s.sweepRaffle(ctx, raffleID, byRaffle[raffleID], now)
		swept += n
		if err != nil {
			errs = append(errs, fmt.Errorf("raffle %s: %w", raffleID, err))
		}
	}

	if swept > 0 {
		s.log.Info().Int("expired", swept).Msg("Expired reservations swept")
	}
	return swept, errors.Join(errs...)
}

func (s *ledgerService) sweepRaffle(ctx context.Context, raffleID string, handles []string, now time.Time) (int, error) {
	unlock, err := s.lock(ctx, raffleID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	swept := 0
	err = retry.OnStale(ctx, func(ctx context.Context) error {
		raffle, err := s.repo.GetRaffle(ctx, raffleID)
		if err != nil {
			return err
		}
		for _, handle := range handles {
			res, err := s.repo.GetReservation(ctx, handle)
			if err != nil {
				return err
			}
			// Committed, released or already swept since listing.
			if !res.IsHeld() || !res.ExpiresAt.Before(now) {
				continue
			}
			res.Expire(now)
			raffle.HeldTickets -= res.Quantity
			raffle.UpdatedAt = now
			if err := s.repo.SaveHold(ctx, raffle, res); err != nil {
				return err
			}
			swept++
		}
		return nil
	})
	return swept, err
}

// ReleaseHolds releases every held reservation of raffle, saving raffle
// with each one. The caller holds the raffle lock and read raffle before
// calling; a STALE_WRITE means it must reload and call again.
func (s *ledgerService) ReleaseHolds(ctx context.Context, raffle *rafflemodels.Raffle, now time.Time) (int, error) {
	held, err := s.repo.ListHeldReservations(ctx, raffle.ID)
	if err != nil {
		return 0, err
	}
	released := 0
	for _, res := range held {
		res.Release(now)
		raffle.HeldTickets -= res.Quantity
		raffle.UpdatedAt = now
		if err := s.repo.SaveHold(ctx, raffle, res); err != nil {
			return released, err
		}
		released++
	}
	return released, nil
}

func (s *ledgerService) RecordFailed(ctx context.Context, res *models.Reservation, reason string) (*models.TicketPurchase, error) {
	purchase := &models.TicketPurchase{
		ID:                uuid.NewString(),
		RaffleID:          res.RaffleID,
		UserID:            res.UserID,
		Quantity:          res.Quantity,
		UnitPrice:         res.UnitPrice,
		TotalPrice:        res.TotalPrice(),
		FirstTicket:       -1,
		ReservationHandle: res.Handle,
		Status:            models.PurchaseFailed,
		FailureReason:     reason,
		CreatedAt:         s.now(),
	}
	if err := s.repo.SavePurchase(ctx, purchase); err != nil {
		return nil, err
	}
	return purchase, nil
}

// RefundPurchase refunds a completed purchase through the gateway and,
// once the gateway confirms, removes its tickets from the sold count.
// Refunding an already refunded purchase returns it unchanged.
func (s *ledgerService) RefundPurchase(ctx context.Context, purchaseID string) (*models.TicketPurchase, error) {
	purchase, err := s.repo.GetPurchase(ctx, purchaseID)
	if err != nil {
		return nil, err
	}
	if purchase.Status != models.PurchaseCompleted {
		return purchase, nil
	}

	refundCtx, cancel := context.WithTimeout(ctx, s.refundTimeout)
	refund, err := s.gateway.Refund(refundCtx, purchase.TransactionID, purchase.TotalPrice)
	cancel()
	if err != nil {
		return nil, err
	}

	unlock, err := s.lock(ctx, purchase.RaffleID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		raffle  *rafflemodels.Raffle
		changed bool
	)
	raffleID := purchase.RaffleID
	err = retry.OnStale(ctx, func(ctx context.Context) error {
		if raffle, err = s.repo.GetRaffle(ctx, raffleID); err != nil {
			return err
		}
		if purchase, err = s.repo.GetPurchase(ctx, purchaseID); err != nil {
			return err
		}
		if changed = purchase.Status == models.PurchaseCompleted; !changed {
			return nil
		}

		now := s.now()
		raffle.SoldTickets -= purchase.Quantity
		raffle.UpdatedAt = now
		purchase.Status = models.PurchaseRefunded
		purchase.RefundedAt = &now
		purchase.RefundID = refund.RefundID
		return s.repo.SaveRefund(ctx, raffle, purchase)
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return purchase, nil
	}

	s.log.Info().
		Str("raffle_id", raffle.ID).
		Str("purchase_id", purchase.ID).
		Str("refund_id", refund.RefundID).
		Int64("sold_tickets", raffle.SoldTickets).
		Msg("Purchase refunded")

	s.publisher.Publish(ctx, events.New(events.PurchaseRefunded,
		"raffle_id", raffle.ID,
		"purchase_id", purchase.ID,
		"user_id", strconv.FormatInt(purchase.UserID, 10),
	))
	return purchase, nil
}

func (s *ledgerService) ListUserPurchases(ctx context.Context, userID int64) ([]*models.TicketPurchase, error) {
	return s.repo.ListPurchasesByUser(ctx, userID)
}

func (s *ledgerService) ListRafflePurchases(ctx context.Context, raffleID string) ([]*models.TicketPurchase, error) {
	return s.repo.ListPurchasesByRaffle(ctx, raffleID)
}
