// Package service runs the purchase unit of work across the ledger,
// the payment gateway, loyalty and referrals.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"raffle-ledger-backend/internal/common/config"
	apperrors "raffle-ledger-backend/internal/common/errors"
	"raffle-ledger-backend/internal/common/logger"
	"raffle-ledger-backend/internal/common/retry"
	"raffle-ledger-backend/internal/features/checkout/models"
	invmodels "raffle-ledger-backend/internal/features/inventory/models"
	inventory "raffle-ledger-backend/internal/features/inventory/service"
	loyaltymodels "raffle-ledger-backend/internal/features/loyalty/models"
	loyalty "raffle-ledger-backend/internal/features/loyalty/service"
	referral "raffle-ledger-backend/internal/features/referral/service"
	"raffle-ledger-backend/internal/platform/payment"
)

type CheckoutService interface {
	// Purchase reserves, charges through the gateway and commits.
	Purchase(ctx context.Context, userID int64, raffleID string, quantity int64) (*models.Receipt, error)
	// Settle commits a reservation the client paid for out of band.
	Settle(ctx context.Context, userID int64, handle, transactionID string) (*models.Receipt, error)
}

type checkoutService struct {
	ledger   inventory.LedgerService
	loyalty  loyalty.LoyaltyService
	referral referral.ReferralService
	gateway  payment.Gateway

	paymentTimeout time.Duration
	paymentRetry   retry.Policy
	storeRetry     retry.Policy
	log            zerolog.Logger
}

func NewCheckoutService(
	ledger inventory.LedgerService,
	loyalty loyalty.LoyaltyService,
	referral referral.ReferralService,
	gateway payment.Gateway,
	cfg *config.Config,
) CheckoutService {
	return &checkoutService{
		ledger:         ledger,
		loyalty:        loyalty,
		referral:       referral,
		gateway:        gateway,
		paymentTimeout: cfg.Payment.Timeout,
		paymentRetry:   retry.Policy{Attempts: cfg.Payment.MaxRetries, Delay: cfg.Payment.RetryDelay},
		storeRetry:     retry.Policy{Attempts: 3, Delay: 100 * time.Millisecond},
		log:            logger.Component("checkout"),
	}
}

func (s *checkoutService) Purchase(ctx context.Context, userID int64, raffleID string, quantity int64) (*models.Receipt, error) {
	// Tier is fixed before anything is charged.
	account, err := s.loyalty.Account(ctx, userID)
	if err != nil {
		return nil, err
	}

	res, err := s.ledger.Reserve(ctx, raffleID, userID, quantity)
	if err != nil {
		return nil, err
	}

	charge, err := s.charge(ctx, res)
	if err != nil {
		s.abandon(ctx, res, err)
		return nil, err
	}

	purchase, err := s.ledger.Commit(ctx, res.Handle, charge.TransactionID)
	if err != nil {
		s.refundCharge(ctx, res, charge, err)
		return nil, err
	}

	return s.reward(ctx, purchase, account.Tier), nil
}

func (s *checkoutService) Settle(ctx context.Context, userID int64, handle, transactionID string) (*models.Receipt, error) {
	res, err := s.ledger.GetReservation(ctx, handle)
	if err != nil {
		return nil, err
	}
	if res.UserID != userID {
		return nil, apperrors.NewForbiddenError("reservation belongs to another user")
	}
	if err := s.verifyCharge(ctx, res, transactionID); err != nil {
		return nil, err
	}
	account, err := s.loyalty.Account(ctx, userID)
	if err != nil {
		return nil, err
	}
	purchase, err := s.ledger.Commit(ctx, handle, transactionID)
	if err != nil {
		return nil, err
	}
	return s.reward(ctx, purchase, account.Tier), nil
}

// verifyCharge checks with the gateway that transactionID is a live charge
// taken for exactly this reservation.
func (s *checkoutService) verifyCharge(ctx context.Context, res *invmodels.Reservation, transactionID string) error {
	if transactionID == "" {
		return apperrors.New(apperrors.ErrCodePaymentDeclined, "Transaction ID is required")
	}
	lookupCtx, cancel := context.WithTimeout(ctx, s.paymentTimeout)
	defer cancel()

	var charge *payment.Charge
	err := retry.Do(lookupCtx, s.paymentRetry, func(ctx context.Context) error {
		c, err := s.gateway.GetCharge(ctx, transactionID)
		if err != nil {
			return err
		}
		charge = c
		return nil
	})
	if errors.Is(err, apperrors.ErrNotFound) {
		return apperrors.New(apperrors.ErrCodePaymentDeclined, "Transaction is not known to the payment gateway")
	}
	if err != nil {
		if _, ok := apperrors.AsAppError(err); !ok {
			return apperrors.Wrap(err, apperrors.ErrCodePaymentUnavailable, "Could not verify payment")
		}
		return err
	}

	switch {
	case charge.UserID != res.UserID:
		return apperrors.New(apperrors.ErrCodePaymentDeclined, "Transaction was paid by another user")
	case charge.IdempotencyKey != res.Handle:
		return apperrors.New(apperrors.ErrCodePaymentDeclined, "Transaction does not belong to this reservation")
	case charge.Amount != res.TotalPrice():
		return apperrors.Newf(apperrors.ErrCodePaymentDeclined,
			"Transaction amount %d does not match reservation total %d", charge.Amount, res.TotalPrice())
	case charge.Refunded:
		return apperrors.New(apperrors.ErrCodePaymentDeclined, "Transaction has been refunded")
	}
	return nil
}

// charge calls the gateway under one deadline covering all retries.
func (s *checkoutService) charge(ctx context.Context, res *invmodels.Reservation) (*payment.Charge, error) {
	chargeCtx, cancel := context.WithTimeout(ctx, s.paymentTimeout)
	defer cancel()

	var charge *payment.Charge
	err := retry.Do(chargeCtx, s.paymentRetry, func(ctx context.Context) error {
		c, err := s.gateway.Charge(ctx, payment.ChargeRequest{
			IdempotencyKey: res.Handle,
			UserID:         res.UserID,
			Amount:         res.TotalPrice(),
			Description:    fmt.Sprintf("%d tickets for raffle %s", res.Quantity, res.RaffleID),
		})
		if err != nil {
			return err
		}
		charge = c
		return nil
	})
	if err == nil {
		return charge, nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		if _, ok := apperrors.AsAppError(err); !ok {
			return nil, apperrors.Wrap(err, apperrors.ErrCodePaymentUnavailable,
				"Payment did not complete in time, your tickets were released")
		}
	}
	return nil, err
}

// abandon releases the hold and records the failed attempt. It runs on a
// context detached from the caller so a timed out request still cleans up.
func (s *checkoutService) abandon(ctx context.Context, res *invmodels.Reservation, cause error) {
	cleanup := context.WithoutCancel(ctx)
	if err := s.ledger.Release(cleanup, res.Handle); err != nil {
		s.log.Error().Err(err).Str("handle", res.Handle).Msg("Failed to release reservation after payment failure")
	}
	if _, err := s.ledger.RecordFailed(cleanup, res, cause.Error()); err != nil {
		s.log.Error().Err(err).Str("handle", res.Handle).Msg("Failed to record failed purchase")
	}
	s.log.Warn().Err(cause).
		Str("raffle_id", res.RaffleID).
		Int64("user_id", res.UserID).
		Msg("Purchase abandoned")
}

// refundCharge undoes a charge whose commit failed, typically because the
// hold expired while the gateway was slow.
func (s *checkoutService) refundCharge(ctx context.Context, res *invmodels.Reservation, charge *payment.Charge, cause error) {
	cleanup := context.WithoutCancel(ctx)
	err := retry.Do(cleanup, s.paymentRetry, func(ctx context.Context) error {
		refundCtx, cancel := context.WithTimeout(ctx, s.paymentTimeout)
		defer cancel()
		_, err := s.gateway.Refund(refundCtx, charge.TransactionID, charge.Amount)
		return err
	})
	if err != nil {
		s.log.Error().Err(err).
			Str("transaction_id", charge.TransactionID).
			Str("handle", res.Handle).
			Msg("Failed to refund charge after commit failure")
	}
	if _, err := s.ledger.RecordFailed(cleanup, res, cause.Error()); err != nil {
		s.log.Error().Err(err).Str("handle", res.Handle).Msg("Failed to record failed purchase")
	}
}

// reward grants points at the pre-purchase tier and completes a pending
// referral. Both steps are idempotent, so failures are logged rather than
// unwinding a settled purchase. Completion is attempted after every
// purchase; it is a no-op once done, and a failed attempt is picked up by
// the user's next purchase.
func (s *checkoutService) reward(ctx context.Context, purchase *invmodels.TicketPurchase, tier loyaltymodels.Tier) *models.Receipt {
	receipt := &models.Receipt{
		Purchase:       purchase,
		TierAtPurchase: tier,
	}
	if inv, err := s.ledger.Inventory(ctx, purchase.RaffleID); err == nil && inv.SoldTickets > 0 {
		receipt.WinChance = float64(purchase.Quantity) / float64(inv.SoldTickets)
	}

	points := loyaltymodels.PointsForPurchase(purchase.TotalPrice, tier)
	if points > 0 {
		var result *loyaltymodels.GrantResult
		err := retry.Do(ctx, s.storeRetry, func(ctx context.Context) error {
			r, err := s.loyalty.GrantPoints(ctx, purchase.UserID, points, loyaltymodels.ReasonPurchase, purchase.ID)
			result = r
			return err
		})
		if err != nil {
			receipt.PointsPending = true
			s.log.Error().Err(err).Str("purchase_id", purchase.ID).Int64("points", points).Msg("Failed to grant purchase points")
		} else {
			receipt.PointsEarned = points
			receipt.Account = result.Account
		}
	}

	err := retry.Do(ctx, s.storeRetry, func(ctx context.Context) error {
		_, err := s.referral.Complete(ctx, purchase.UserID)
		return err
	})
	if err != nil {
		s.log.Error().Err(err).Int64("user_id", purchase.UserID).Msg("Failed to complete referral")
	}

	s.log.Info().
		Str("purchase_id", purchase.ID).
		Str("raffle_id", purchase.RaffleID).
		Int64("user_id", purchase.UserID).
		Int64("total", purchase.TotalPrice).
		Int64("points", receipt.PointsEarned).
		Msg("Purchase settled")
	return receipt
}
