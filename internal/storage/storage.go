// Package storage names the persistence contract every backend satisfies.
package storage

import (
	"context"

	invrepo "raffle-ledger-backend/internal/features/inventory/repository"
	loyaltyrepo "raffle-ledger-backend/internal/features/loyalty/repository"
	rafflerepo "raffle-ledger-backend/internal/features/raffle/repository"
	refrepo "raffle-ledger-backend/internal/features/referral/repository"
)

// Store is one backend serving every feature repository.
type Store interface {
	rafflerepo.RaffleRepository
	invrepo.InventoryRepository
	loyaltyrepo.LoyaltyRepository
	refrepo.ReferralRepository

	Ping(ctx context.Context) error
}

// Paginate applies offset and limit to an ordered slice. A zero limit
// returns everything after offset.
func Paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
