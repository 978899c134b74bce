package service

import (
	"context"

	"raffle-ledger-backend/internal/features/referral/models"
)

type ReferralService interface {
	Register(ctx context.Context, referrerID, refereeID int64) (*models.Record, error)
	// Complete settles the referee's pending referral. It returns nil with
	// no error when the referee was never referred.
	Complete(ctx context.Context, refereeID int64) (*models.Record, error)
	Milestones(ctx context.Context, referrerID int64) (*models.Summary, error)
	ListByReferrer(ctx context.Context, referrerID int64) ([]*models.Record, error)

	IssueCode(ctx context.Context, userID int64) (*models.Code, error)
	RegisterByCode(ctx context.Context, refereeID int64, code string) (*models.Record, error)
}
