package repository

import (
	"context"
	"time"

	"raffle-ledger-backend/internal/features/inventory/models"
	rafflemodels "raffle-ledger-backend/internal/features/raffle/models"
)

// InventoryRepository persists holds and purchases together with the
// raffle counters they affect. Every method taking a raffle writes the
// raffle and the other entities all-or-nothing, guarded by the raffle's
// Version as described on RaffleRepository. Callers read the raffle
// before the reservations and purchases they change, so a stale read of
// either surfaces as STALE_WRITE.
type InventoryRepository interface {
	GetRaffle(ctx context.Context, id string) (*rafflemodels.Raffle, error)

	// SaveHold writes a new or closed reservation with the raffle's held counter.
	SaveHold(ctx context.Context, raffle *rafflemodels.Raffle, res *models.Reservation) error
	// CommitPurchase writes the committed reservation, the purchase and the raffle.
	CommitPurchase(ctx context.Context, raffle *rafflemodels.Raffle, res *models.Reservation, purchase *models.TicketPurchase) error
	// SaveRefund writes a refunded purchase with the decremented raffle.
	SaveRefund(ctx context.Context, raffle *rafflemodels.Raffle, purchase *models.TicketPurchase) error
	// SavePurchase writes a purchase that does not touch raffle counters.
	SavePurchase(ctx context.Context, purchase *models.TicketPurchase) error

	GetReservation(ctx context.Context, handle string) (*models.Reservation, error)
	ListHeldReservations(ctx context.Context, raffleID string) ([]*models.Reservation, error)
	// ListExpiredReservations returns held reservations with ExpiresAt before now.
	ListExpiredReservations(ctx context.Context, now time.Time) ([]*models.Reservation, error)

	GetPurchase(ctx context.Context, id string) (*models.TicketPurchase, error)
	// ListPurchasesByRaffle returns purchases ordered by FirstTicket, then CreatedAt.
	ListPurchasesByRaffle(ctx context.Context, raffleID string) ([]*models.TicketPurchase, error)
	// ListPurchasesByUser returns purchases newest first.
	ListPurchasesByUser(ctx context.Context, userID int64) ([]*models.TicketPurchase, error)
}
