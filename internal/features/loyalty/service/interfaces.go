package service

import (
	"context"

	invmodels "raffle-ledger-backend/internal/features/inventory/models"
	"raffle-ledger-backend/internal/features/loyalty/models"
	rafflemodels "raffle-ledger-backend/internal/features/raffle/models"
	refmodels "raffle-ledger-backend/internal/features/referral/models"
)

type LoyaltyService interface {
	GrantPoints(ctx context.Context, userID, amount int64, reason, reference string) (*models.GrantResult, error)
	RedeemPoints(ctx context.Context, userID, amount int64) (*models.Account, error)

	// Account returns the stored account or an empty Bronze one.
	Account(ctx context.Context, userID int64) (*models.Account, error)
	Progress(ctx context.Context, userID int64) (*models.Progress, error)
	History(ctx context.Context, userID int64) ([]models.HistoryEntry, error)
	Achievements(ctx context.Context, userID int64) ([]models.Achievement, error)
}

// ActivitySource is the read side achievements are derived from.
type ActivitySource interface {
	ListPurchasesByUser(ctx context.Context, userID int64) ([]*invmodels.TicketPurchase, error)
	ListPurchasesByRaffle(ctx context.Context, raffleID string) ([]*invmodels.TicketPurchase, error)
	ListWinsByUser(ctx context.Context, userID int64) ([]*rafflemodels.WinnerRecord, error)
	ListReferrals(ctx context.Context, referrerID int64) ([]*refmodels.Record, error)
}
