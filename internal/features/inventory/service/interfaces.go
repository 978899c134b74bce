package service

import (
	"context"
	"time"

	"raffle-ledger-backend/internal/features/inventory/models"
	rafflemodels "raffle-ledger-backend/internal/features/raffle/models"
)

// LedgerService is the single source of truth for ticket availability.
// Every mutation of a raffle's sold or held counters goes through the
// shared per-raffle lock.
type LedgerService interface {
	Reserve(ctx context.Context, raffleID string, userID int64, quantity int64) (*models.Reservation, error)
	Commit(ctx context.Context, handle, transactionID string) (*models.TicketPurchase, error)
	Release(ctx context.Context, handle string) error
	GetReservation(ctx context.Context, handle string) (*models.Reservation, error)

	ComputeOdds(ctx context.Context, raffleID string, quantity int64) (float64, error)
	OddsTable(ctx context.Context, raffleID string) ([]models.Odds, error)
	Inventory(ctx context.Context, raffleID string) (*models.Inventory, error)

	SweepExpired(ctx context.Context, now time.Time) (int, error)
	// ReleaseHolds releases every outstanding hold on raffle. The caller
	// must hold the raffle lock and persists nothing else.
	ReleaseHolds(ctx context.Context, raffle *rafflemodels.Raffle, now time.Time) (int, error)

	RecordFailed(ctx context.Context, res *models.Reservation, reason string) (*models.TicketPurchase, error)
	RefundPurchase(ctx context.Context, purchaseID string) (*models.TicketPurchase, error)

	ListUserPurchases(ctx context.Context, userID int64) ([]*models.TicketPurchase, error)
	ListRafflePurchases(ctx context.Context, raffleID string) ([]*models.TicketPurchase, error)
}
