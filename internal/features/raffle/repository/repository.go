package repository

import (
	"context"

	"raffle-ledger-backend/internal/features/raffle/models"
)

// RaffleRepository stores raffles and draw results. Lookups of missing
// entities return an apperrors NOT_FOUND error.
//
// Every write of a raffle is a compare-and-set on Raffle.Version: it fails
// with STALE_WRITE when the stored version differs and advances the
// caller's Version on success.
type RaffleRepository interface {
	CreateRaffle(ctx context.Context, raffle *models.Raffle) error
	GetRaffle(ctx context.Context, id string) (*models.Raffle, error)
	UpdateRaffle(ctx context.Context, raffle *models.Raffle) error
	ListRaffles(ctx context.Context, filter models.RaffleFilter) ([]*models.Raffle, error)

	// SaveWinner stores the winner and the drawn raffle in one write.
	SaveWinner(ctx context.Context, raffle *models.Raffle, winner *models.WinnerRecord) error
	GetWinner(ctx context.Context, raffleID string) (*models.WinnerRecord, error)
	ListWinsByUser(ctx context.Context, userID int64) ([]*models.WinnerRecord, error)
}
