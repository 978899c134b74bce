package service

import (
	"context"
	"time"

	"raffle-ledger-backend/internal/features/raffle/models"
)

// RaffleService drives the raffle lifecycle:
// draft -> active -> closed -> drawn, with cancellation from any
// non-terminal state.
type RaffleService interface {
	Create(ctx context.Context, adminID int64, input *models.RaffleCreate) (*models.Raffle, error)
	UpdateDraft(ctx context.Context, raffleID string, input *models.RaffleUpdate) (*models.Raffle, error)
	Get(ctx context.Context, raffleID string) (*models.Raffle, error)
	List(ctx context.Context, filter models.RaffleFilter) ([]*models.Raffle, error)

	Publish(ctx context.Context, raffleID string) (*models.Raffle, error)
	Close(ctx context.Context, raffleID string) (*models.Raffle, error)
	CloseDue(ctx context.Context, now time.Time) (int, error)
	Draw(ctx context.Context, raffleID string) (*models.WinnerRecord, error)
	Cancel(ctx context.Context, raffleID string) (*CancelResult, error)
	RetryRefunds(ctx context.Context) (int, error)

	GetWinner(ctx context.Context, raffleID string) (*models.WinnerRecord, error)
	ListWins(ctx context.Context, userID int64) ([]*models.WinnerRecord, error)
}

// CancelResult reports how the refund fan-out went. Purchases that could
// not be refunded stay completed and are picked up by RetryRefunds.
type CancelResult struct {
	Raffle         *models.Raffle `json:"raffle"`
	ReleasedHolds  int            `json:"released_holds"`
	Refunded       int            `json:"refunded"`
	PendingRefunds int            `json:"pending_refunds"`
}
