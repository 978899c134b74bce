package service

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	apperrors "raffle-ledger-backend/internal/common/errors"
	"raffle-ledger-backend/internal/common/keylock"
	"raffle-ledger-backend/internal/common/logger"
	"raffle-ledger-backend/internal/common/retry"
	"raffle-ledger-backend/internal/features/loyalty/models"
	"raffle-ledger-backend/internal/features/loyalty/repository"
	"raffle-ledger-backend/internal/platform/events"
)

type loyaltyService struct {
	repo      repository.LoyaltyRepository
	activity  ActivitySource
	locks     *keylock.Locker[int64]
	publisher events.Publisher
	now       func() time.Time
	log       zerolog.Logger
}

type Option func(*loyaltyService)

func WithClock(now func() time.Time) Option {
	return func(s *loyaltyService) { s.now = now }
}

func NewLoyaltyService(
	repo repository.LoyaltyRepository,
	activity ActivitySource,
	publisher events.Publisher,
	opts ...Option,
) LoyaltyService {
	s := &loyaltyService{
		repo:      repo,
		activity:  activity,
		locks:     keylock.New[int64](),
		publisher: publisher,
		now:       time.Now,
		log:       logger.Component("loyalty"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *loyaltyService) lock(ctx context.Context, userID int64) (func(), error) {
	unlock, err := s.locks.LockContext(ctx, userID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeStoreUnavailable, "Timed out waiting for account lock")
	}
	return unlock, nil
}

// loadAccount returns the stored account or a fresh one when none exists.
func (s *loyaltyService) loadAccount(ctx context.Context, userID int64) (*models.Account, error) {
	account, err := s.repo.GetAccount(ctx, userID)
	if err == nil {
		return account, nil
	}
	if appErr, ok := apperrors.AsAppError(err); ok && appErr.IsNotFound() {
		return models.NewAccount(userID, s.now()), nil
	}
	return nil, err
}

// GrantPoints credits a user. A grant whose reason and reference match an
// earlier one is not applied twice; the earlier grant is returned.
func (s *loyaltyService) GrantPoints(ctx context.Context, userID, amount int64, reason, reference string) (*models.GrantResult, error) {
	if amount <= 0 {
		return nil, apperrors.New(apperrors.ErrCodeInvalidAmount, "Points amount must be greater than zero").
			WithDetail("amount", amount)
	}
	if reason == "" {
		reason = models.ReasonAdjustment
	}

	unlock, err := s.lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		result  *models.GrantResult
		applied bool
	)
	err = retry.OnStale(ctx, func(ctx context.Context) error {
		result, applied, err = s.grant(ctx, userID, amount, reason, reference)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		return result, nil
	}
	account, previous, upgraded := result.Account, result.Previous, result.Upgraded

	s.log.Info().
		Int64("user_id", userID).
		Int64("amount", amount).
		Str("reason", reason).
		Int64("balance", account.PointsBalance).
		Str("tier", string(account.Tier)).
		Msg("Points granted")

	if upgraded {
		s.publisher.Publish(ctx, events.New(events.TierUpgraded,
			"user_id", strconv.FormatInt(userID, 10),
			"from", string(previous),
			"to", string(account.Tier),
			"lifetime_points", strconv.FormatInt(account.LifetimePoints, 10),
		))
	}
	return result, nil
}

// grant applies one credit, or finds the earlier grant with the same
// reason and reference and reports applied false. The account is read
// before the lookup so a concurrent identical grant fails the write as
// stale instead of being applied twice.
func (s *loyaltyService) grant(ctx context.Context, userID, amount int64, reason, reference string) (*models.GrantResult, bool, error) {
	account, err := s.loadAccount(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	if reference != "" {
		existing, err := s.repo.FindGrant(ctx, userID, reason, reference)
		if err == nil {
			return &models.GrantResult{Grant: existing, Account: account, Previous: account.Tier}, false, nil
		}
		if appErr, ok := apperrors.AsAppError(err); !ok || !appErr.IsNotFound() {
			return nil, false, err
		}
	}

	now := s.now()
	previous := account.Tier
	upgraded := account.Credit(amount, now)
	grant := &models.PointGrant{
		ID:        uuid.NewString(),
		UserID:    userID,
		Amount:    amount,
		Reason:    reason,
		Reference: reference,
		CreatedAt: now,
	}
	if err := s.repo.ApplyGrant(ctx, account, grant); err != nil {
		return nil, false, err
	}
	return &models.GrantResult{Grant: grant, Account: account, Upgraded: upgraded, Previous: previous}, true, nil
}

func (s *loyaltyService) RedeemPoints(ctx context.Context, userID, amount int64) (*models.Account, error) {
	if amount <= 0 {
		return nil, apperrors.New(apperrors.ErrCodeInvalidAmount, "Points amount must be greater than zero").
			WithDetail("amount", amount)
	}

	unlock, err := s.lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var account *models.Account
	err = retry.OnStale(ctx, func(ctx context.Context) error {
		account, err = s.redeem(ctx, userID, amount)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Int64("user_id", userID).Int64("amount", amount).Int64("balance", account.PointsBalance).Msg("Points redeemed")
	return account, nil
}

func (s *loyaltyService) redeem(ctx context.Context, userID, amount int64) (*models.Account, error) {
	account, err := s.loadAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	if amount > account.PointsBalance {
		return nil, apperrors.Newf(apperrors.ErrCodeInsufficientPoints,
			"You have %d points, %d requested", account.PointsBalance, amount).
			WithDetail("balance", account.PointsBalance).
			WithDetail("requested", amount)
	}

	now := s.now()
	account.Debit(amount, now)
	redemption := &models.Redemption{
		ID:        uuid.NewString(),
		UserID:    userID,
		Amount:    amount,
		CreatedAt: now,
	}
	if err := s.repo.ApplyRedemption(ctx, account, redemption); err != nil {
		return nil, err
	}
	return account, nil
}

func (s *loyaltyService) Account(ctx context.Context, userID int64) (*models.Account, error) {
	return s.loadAccount(ctx, userID)
}

func (s *loyaltyService) Progress(ctx context.Context, userID int64) (*models.Progress, error) {
	account, err := s.loadAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	p := &models.Progress{
		Tier:           account.Tier,
		Multiplier:     account.Tier.Multiplier().String(),
		Perks:          account.Tier.Perks(),
		LifetimePoints: account.LifetimePoints,
		PointsBalance:  account.PointsBalance,
		Percent:        100,
	}
	next, ok := account.Tier.Next()
	if !ok {
		return p, nil
	}
	floor := account.Tier.Threshold()
	span := next.Threshold() - floor
	p.NextTier = &next
	p.PointsToNext = next.Threshold() - account.LifetimePoints
	p.Percent = int((account.LifetimePoints - floor) * 100 / span)
	return p, nil
}

func (s *loyaltyService) History(ctx context.Context, userID int64) ([]models.HistoryEntry, error) {
	grants, err := s.repo.ListGrants(ctx, userID)
	if err != nil {
		return nil, err
	}
	redemptions, err := s.repo.ListRedemptions(ctx, userID)
	if err != nil {
		return nil, err
	}

	entries := make([]models.HistoryEntry, 0, len(grants)+len(redemptions))
	for _, g := range grants {
		entries = append(entries, models.HistoryEntry{
			ID:        g.ID,
			Kind:      models.HistoryGrant,
			Amount:    g.Amount,
			Reason:    g.Reason,
			Reference: g.Reference,
			CreatedAt: g.CreatedAt,
		})
	}
	for _, r := range redemptions {
		entries = append(entries, models.HistoryEntry{
			ID:        r.ID,
			Kind:      models.HistoryRedemption,
			Amount:    -r.Amount,
			CreatedAt: r.CreatedAt,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return entries, nil
}
