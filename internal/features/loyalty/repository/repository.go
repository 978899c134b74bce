package repository

import (
	"context"

	"raffle-ledger-backend/internal/features/loyalty/models"
)

// LoyaltyRepository stores accounts and their point history. Account writes
// compare Account.Version with the stored account (0 when absent), fail
// with STALE_WRITE on mismatch and advance the caller's Version on success.
type LoyaltyRepository interface {
	GetAccount(ctx context.Context, userID int64) (*models.Account, error)
	// ApplyGrant stores the grant and the credited account in one write.
	ApplyGrant(ctx context.Context, account *models.Account, grant *models.PointGrant) error
	// ApplyRedemption stores the redemption and the debited account in one write.
	ApplyRedemption(ctx context.Context, account *models.Account, redemption *models.Redemption) error
	// FindGrant looks up a grant by reason and reference.
	FindGrant(ctx context.Context, userID int64, reason, reference string) (*models.PointGrant, error)
	ListGrants(ctx context.Context, userID int64) ([]*models.PointGrant, error)
	ListRedemptions(ctx context.Context, userID int64) ([]*models.Redemption, error)
}
