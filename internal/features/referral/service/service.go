package service

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	apperrors "raffle-ledger-backend/internal/common/errors"
	"raffle-ledger-backend/internal/common/keylock"
	"raffle-ledger-backend/internal/common/logger"
	"raffle-ledger-backend/internal/common/validation"
	loyaltymodels "raffle-ledger-backend/internal/features/loyalty/models"
	loyalty "raffle-ledger-backend/internal/features/loyalty/service"
	"raffle-ledger-backend/internal/features/referral/models"
	"raffle-ledger-backend/internal/features/referral/repository"
	"raffle-ledger-backend/internal/platform/events"
	"raffle-ledger-backend/internal/utils/random"
)

const (
	codeLength   = 8
	codeAttempts = 5
)

type referralService struct {
	repo      repository.ReferralRepository
	loyalty   loyalty.LoyaltyService
	publisher events.Publisher
	bonus     int64
	locks     *keylock.Locker[int64]
	now       func() time.Time
	log       zerolog.Logger
}

type Option func(*referralService)

func WithClock(now func() time.Time) Option {
	return func(s *referralService) { s.now = now }
}

func NewReferralService(
	repo repository.ReferralRepository,
	loyalty loyalty.LoyaltyService,
	publisher events.Publisher,
	bonus int64,
	opts ...Option,
) ReferralService {
	s := &referralService{
		repo:      repo,
		loyalty:   loyalty,
		publisher: publisher,
		bonus:     bonus,
		locks:     keylock.New[int64](),
		now:       time.Now,
		log:       logger.Component("referral"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *referralService) Register(ctx context.Context, referrerID, refereeID int64) (*models.Record, error) {
	if referrerID == refereeID {
		return nil, apperrors.New(apperrors.ErrCodeSelfReferral, "You cannot use your own referral code")
	}
	if referrerID <= 0 || refereeID <= 0 {
		return nil, apperrors.NewValidationError("user_id", "must be positive")
	}

	record := &models.Record{
		ReferrerID: referrerID,
		RefereeID:  refereeID,
		Status:     models.StatusPending,
		CreatedAt:  s.now(),
	}
	if err := s.repo.CreateReferral(ctx, record); err != nil {
		return nil, err
	}

	s.log.Info().Int64("referrer_id", referrerID).Int64("referee_id", refereeID).Msg("Referral registered")
	return record, nil
}

func referenceFor(refereeID int64) string {
	return "referee:" + strconv.FormatInt(refereeID, 10)
}

// Complete grants the bonus before marking the record. The grant is keyed
// by referee, so a retry after a failed update does not pay twice.
func (s *referralService) Complete(ctx context.Context, refereeID int64) (*models.Record, error) {
	unlock, err := s.locks.LockContext(ctx, refereeID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeStoreUnavailable, "Timed out waiting for referral lock")
	}
	defer unlock()

	record, err := s.repo.GetReferral(ctx, refereeID)
	if err != nil {
		if appErr, ok := apperrors.AsAppError(err); ok && appErr.IsNotFound() {
			return nil, nil
		}
		return nil, err
	}
	if record.Status == models.StatusCompleted {
		return record, nil
	}

	if _, err := s.loyalty.GrantPoints(ctx, record.ReferrerID, s.bonus,
		loyaltymodels.ReasonReferral, referenceFor(refereeID)); err != nil {
		return nil, err
	}

	now := s.now()
	record.Status = models.StatusCompleted
	record.CompletedAt = &now
	record.PointsAwarded = s.bonus
	if err := s.repo.UpdateReferral(ctx, record); err != nil {
		return nil, err
	}

	s.log.Info().
		Int64("referrer_id", record.ReferrerID).
		Int64("referee_id", refereeID).
		Int64("bonus", s.bonus).
		Msg("Referral completed")
	s.publisher.Publish(ctx, events.New(events.ReferralCompleted,
		"referrer_id", strconv.FormatInt(record.ReferrerID, 10),
		"referee_id", strconv.FormatInt(refereeID, 10),
		"points", strconv.FormatInt(s.bonus, 10),
	))
	return record, nil
}

func (s *referralService) Milestones(ctx context.Context, referrerID int64) (*models.Summary, error) {
	records, err := s.repo.ListReferrals(ctx, referrerID)
	if err != nil {
		return nil, err
	}
	return models.Summarize(referrerID, records), nil
}

func (s *referralService) ListByReferrer(ctx context.Context, referrerID int64) ([]*models.Record, error) {
	return s.repo.ListReferrals(ctx, referrerID)
}

func (s *referralService) IssueCode(ctx context.Context, userID int64) (*models.Code, error) {
	existing, err := s.repo.GetReferralCodeByUser(ctx, userID)
	if err == nil {
		return existing, nil
	}
	if appErr, ok := apperrors.AsAppError(err); !ok || !appErr.IsNotFound() {
		return nil, err
	}

	for attempt := 0; attempt < codeAttempts; attempt++ {
		value, err := random.Code(codeLength)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "Failed to generate referral code")
		}
		code := &models.Code{Code: value, UserID: userID, CreatedAt: s.now()}
		err = s.repo.SaveReferralCode(ctx, code)
		if err == nil {
			return code, nil
		}
		if !apperrors.HasCode(err, apperrors.ErrCodeConflict) {
			return nil, err
		}
		// Lost a race for this user's first code.
		if existing, getErr := s.repo.GetReferralCodeByUser(ctx, userID); getErr == nil {
			return existing, nil
		}
	}
	return nil, apperrors.New(apperrors.ErrCodeInternal, "Could not allocate a unique referral code")
}

func (s *referralService) RegisterByCode(ctx context.Context, refereeID int64, code string) (*models.Record, error) {
	code, err := validation.ReferralCode(code)
	if err != nil {
		return nil, err
	}
	owner, err := s.repo.GetReferralCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return s.Register(ctx, owner.UserID, refereeID)
}
