package repository

import (
	"context"

	"raffle-ledger-backend/internal/features/referral/models"
)

type ReferralRepository interface {
	// CreateReferral fails with ALREADY_REFERRED when the referee has a record.
	CreateReferral(ctx context.Context, record *models.Record) error
	GetReferral(ctx context.Context, refereeID int64) (*models.Record, error)
	UpdateReferral(ctx context.Context, record *models.Record) error
	ListReferrals(ctx context.Context, referrerID int64) ([]*models.Record, error)

	// SaveReferralCode fails with CONFLICT when the code is taken.
	SaveReferralCode(ctx context.Context, code *models.Code) error
	GetReferralCode(ctx context.Context, code string) (*models.Code, error)
	GetReferralCodeByUser(ctx context.Context, userID int64) (*models.Code, error)
}
