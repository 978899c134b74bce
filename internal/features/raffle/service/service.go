package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	apperrors "raffle-ledger-backend/internal/common/errors"
	"raffle-ledger-backend/internal/common/keylock"
	"raffle-ledger-backend/internal/common/logger"
	"raffle-ledger-backend/internal/common/retry"
	"raffle-ledger-backend/internal/common/validation"
	invmodels "raffle-ledger-backend/internal/features/inventory/models"
	inventory "raffle-ledger-backend/internal/features/inventory/service"
	"raffle-ledger-backend/internal/features/raffle/models"
	"raffle-ledger-backend/internal/features/raffle/repository"
	"raffle-ledger-backend/internal/platform/events"
	"raffle-ledger-backend/internal/utils/random"
)

const refundConcurrency = 4

type raffleService struct {
	repo      repository.RaffleRepository
	ledger    inventory.LedgerService
	locks     *keylock.Locker[string]
	publisher events.Publisher

	now  func() time.Time
	pick func(n int64) (int64, error)
	log  zerolog.Logger
}

type Option func(*raffleService)

func WithClock(now func() time.Time) Option {
	return func(s *raffleService) { s.now = now }
}

// WithPicker replaces the crypto/rand draw. pick must return a value in [0, n).
func WithPicker(pick func(n int64) (int64, error)) Option {
	return func(s *raffleService) { s.pick = pick }
}

func NewRaffleService(
	repo repository.RaffleRepository,
	ledger inventory.LedgerService,
	locks *keylock.Locker[string],
	publisher events.Publisher,
	opts ...Option,
) RaffleService {
	s := &raffleService{
		repo:      repo,
		ledger:    ledger,
		locks:     locks,
		publisher: publisher,
		now:       time.Now,
		pick:      random.Int63n,
		log:       logger.Component("raffle"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *raffleService) lock(ctx context.Context, raffleID string) (func(), error) {
	unlock, err := s.locks.LockContext(ctx, raffleID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeStoreUnavailable, "Timed out waiting for raffle lock")
	}
	return unlock, nil
}

// reloading reads the raffle and runs fn on it, reading again and rerunning
// fn when its write turns out to be based on a stale copy.
func (s *raffleService) reloading(ctx context.Context, raffleID string, fn func(raffle *models.Raffle) error) (*models.Raffle, error) {
	var raffle *models.Raffle
	err := retry.OnStale(ctx, func(ctx context.Context) error {
		var err error
		if raffle, err = s.repo.GetRaffle(ctx, raffleID); err != nil {
			return err
		}
		return fn(raffle)
	})
	if err != nil {
		return nil, err
	}
	return raffle, nil
}

func invalidTransition(r *models.Raffle, to models.RaffleStatus) error {
	return apperrors.Newf(apperrors.ErrCodeInvalidStateTransition,
		"Raffle cannot move from %s to %s", r.Status, to).
		WithDetail("raffle_id", r.ID).
		WithDetail("from", string(r.Status)).
		WithDetail("to", string(to))
}

func (s *raffleService) Create(ctx context.Context, adminID int64, input *models.RaffleCreate) (*models.Raffle, error) {
	title, err := validation.Title(input.Title)
	if err != nil {
		return nil, err
	}
	description, err := validation.Description(input.Description)
	if err != nil {
		return nil, err
	}
	if err := validation.ImageURL(input.ImageURL); err != nil {
		return nil, err
	}
	if !input.Category.Valid() {
		return nil, apperrors.NewValidationError("category", fmt.Sprintf("unknown category %q", input.Category))
	}
	if err := validation.NonNegative(input.TicketPrice, "ticket_price"); err != nil {
		return nil, err
	}
	if err := validation.NonNegative(input.TotalTickets, "total_tickets"); err != nil {
		return nil, err
	}
	if err := validation.Positive(input.PrizeValue, "prize_value"); err != nil {
		return nil, err
	}

	now := s.now()
	raffle := &models.Raffle{
		ID:           uuid.NewString(),
		Title:        title,
		Description:  description,
		ImageURL:     input.ImageURL,
		Category:     input.Category,
		Status:       models.StatusDraft,
		TicketPrice:  input.TicketPrice,
		TotalTickets: input.TotalTickets,
		EndDate:      input.EndDate.UTC(),
		PrizeValue:   input.PrizeValue,
		CreatedBy:    adminID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.CreateRaffle(ctx, raffle); err != nil {
		return nil, err
	}

	s.log.Info().Str("raffle_id", raffle.ID).Int64("admin_id", adminID).Msg("Raffle draft created")
	return raffle, nil
}

func (s *raffleService) UpdateDraft(ctx context.Context, raffleID string, input *models.RaffleUpdate) (*models.Raffle, error) {
	unlock, err := s.lock(ctx, raffleID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return s.reloading(ctx, raffleID, func(raffle *models.Raffle) error {
		return s.applyDraftUpdate(ctx, raffle, input)
	})
}

func (s *raffleService) applyDraftUpdate(ctx context.Context, raffle *models.Raffle, input *models.RaffleUpdate) error {
	if raffle.Status != models.StatusDraft {
		return apperrors.Newf(apperrors.ErrCodeInvalidStateTransition,
			"Only draft raffles can be edited, this one is %s", raffle.Status)
	}

	var err error
	if input.Title != nil {
		if raffle.Title, err = validation.Title(*input.Title); err != nil {
			return err
		}
	}
	if input.Description != nil {
		if raffle.Description, err = validation.Description(*input.Description); err != nil {
			return err
		}
	}
	if input.ImageURL != nil {
		if err := validation.ImageURL(*input.ImageURL); err != nil {
			return err
		}
		raffle.ImageURL = *input.ImageURL
	}
	if input.TicketPrice != nil {
		if err := validation.NonNegative(*input.TicketPrice, "ticket_price"); err != nil {
			return err
		}
		raffle.TicketPrice = *input.TicketPrice
	}
	if input.TotalTickets != nil {
		if *input.TotalTickets < raffle.TotalTickets {
			return apperrors.NewValidationError("total_tickets",
				fmt.Sprintf("can only grow, currently %d", raffle.TotalTickets))
		}
		raffle.TotalTickets = *input.TotalTickets
	}
	if input.EndDate != nil {
		raffle.EndDate = input.EndDate.UTC()
	}
	if input.PrizeValue != nil {
		if err := validation.Positive(*input.PrizeValue, "prize_value"); err != nil {
			return err
		}
		raffle.PrizeValue = *input.PrizeValue
	}
	raffle.UpdatedAt = s.now()

	return s.repo.UpdateRaffle(ctx, raffle)
}

func (s *raffleService) Get(ctx context.Context, raffleID string) (*models.Raffle, error) {
	return s.repo.GetRaffle(ctx, raffleID)
}

func (s *raffleService) List(ctx context.Context, filter models.RaffleFilter) ([]*models.Raffle, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperrors.NewValidationError("status", fmt.Sprintf("unknown status %q", filter.Status))
	}
	if filter.Category != "" && !filter.Category.Valid() {
		return nil, apperrors.NewValidationError("category", fmt.Sprintf("unknown category %q", filter.Category))
	}
	return s.repo.ListRaffles(ctx, filter)
}

func (s *raffleService) Publish(ctx context.Context, raffleID string) (*models.Raffle, error) {
	unlock, err := s.lock(ctx, raffleID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	raffle, err := s.reloading(ctx, raffleID, func(raffle *models.Raffle) error {
		if !raffle.Status.CanTransition(models.StatusActive) {
			return invalidTransition(raffle, models.StatusActive)
		}
		if raffle.TotalTickets <= 0 {
			return apperrors.NewValidationError("total_tickets", "must be positive to publish")
		}
		if raffle.TicketPrice <= 0 {
			return apperrors.NewValidationError("ticket_price", "must be positive to publish")
		}
		if raffle.PrizeValue <= 0 {
			return apperrors.NewValidationError("prize_value", "must be positive to publish")
		}
		now := s.now()
		if !raffle.EndDate.After(now) {
			return apperrors.NewValidationError("end_date", "must be in the future to publish")
		}
		if err := raffle.Transition(models.StatusActive, now); err != nil {
			return err
		}
		return s.repo.UpdateRaffle(ctx, raffle)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("raffle_id", raffle.ID).Time("end_date", raffle.EndDate).Msg("Raffle published")
	s.publisher.Publish(ctx, events.New(events.RaffleOpened,
		"raffle_id", raffle.ID,
		"title", raffle.Title,
		"end_date", raffle.EndDate.Format(time.RFC3339),
	))
	return raffle, nil
}

func (s *raffleService) Close(ctx context.Context, raffleID string) (*models.Raffle, error) {
	unlock, err := s.lock(ctx, raffleID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return s.reloading(ctx, raffleID, func(raffle *models.Raffle) error {
		return s.closeLocked(ctx, raffle, "manual")
	})
}

// closeLocked releases outstanding holds before the status change so a
// failure part way leaves an active raffle with fewer holds. raffle must
// be freshly read; a STALE_WRITE is returned for the caller to reload.
func (s *raffleService) closeLocked(ctx context.Context, raffle *models.Raffle, reason string) error {
	if !raffle.Status.CanTransition(models.StatusClosed) {
		return invalidTransition(raffle, models.StatusClosed)
	}
	now := s.now()
	released, err := s.ledger.ReleaseHolds(ctx, raffle, now)
	if err != nil {
		return err
	}
	if err := raffle.Transition(models.StatusClosed, now); err != nil {
		return err
	}
	if err := s.repo.UpdateRaffle(ctx, raffle); err != nil {
		return err
	}

	s.log.Info().
		Str("raffle_id", raffle.ID).
		Str("reason", reason).
		Int("released_holds", released).
		Int64("sold_tickets", raffle.SoldTickets).
		Msg("Raffle closed")
	s.publisher.Publish(ctx, events.New(events.RaffleClosed,
		"raffle_id", raffle.ID,
		"reason", reason,
	))
	return nil
}

func (s *raffleService) CloseDue(ctx context.Context, now time.Time) (int, error) {
	active, err := s.repo.ListRaffles(ctx, models.RaffleFilter{Status: models.StatusActive})
	if err != nil {
		return 0, err
	}

	closed := 0
	var errs []error
	for _, candidate := range active {
		if !candidate.DueForClose(now) {
			continue
		}
		if err := s.closeDue(ctx, candidate.ID, now); err != nil {
			errs = append(errs, fmt.Errorf("raffle %s: %w", candidate.ID, err))
			continue
		}
		closed++
	}
	return closed, errors.Join(errs...)
}

func (s *raffleService) closeDue(ctx context.Context, raffleID string, now time.Time) error {
	unlock, err := s.lock(ctx, raffleID)
	if err != nil {
		return err
	}
	defer unlock()

	_, err = s.reloading(ctx, raffleID, func(raffle *models.Raffle) error {
		if !raffle.DueForClose(now) {
			return nil
		}
		reason := "ended"
		if raffle.SoldTickets >= raffle.TotalTickets {
			reason = "sold_out"
		}
		return s.closeLocked(ctx, raffle, reason)
	})
	return err
}

func (s *raffleService) Draw(ctx context.Context, raffleID string) (*models.WinnerRecord, error) {
	unlock, err := s.lock(ctx, raffleID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var winner *models.WinnerRecord
	raffle, err := s.reloading(ctx, raffleID, func(raffle *models.Raffle) error {
		var err error
		winner, err = s.draw(ctx, raffle)
		return err
	})
	if err != nil {
		return nil, err
	}
	index := winner.TicketIndex

	s.log.Info().
		Str("raffle_id", raffle.ID).
		Int64("ticket", index).
		Int64("winner_id", winner.UserID).
		Msg("Winner drawn")
	s.publisher.Publish(ctx, events.New(events.RaffleDrawn,
		"raffle_id", raffle.ID,
		"title", raffle.Title,
		"user_id", strconv.FormatInt(winner.UserID, 10),
		"ticket", strconv.FormatInt(index, 10),
	))
	return winner, nil
}

// draw picks the winning ticket of a freshly read closed raffle and stores
// it together with the drawn raffle.
func (s *raffleService) draw(ctx context.Context, raffle *models.Raffle) (*models.WinnerRecord, error) {
	if !raffle.Status.CanTransition(models.StatusDrawn) {
		return nil, invalidTransition(raffle, models.StatusDrawn)
	}
	if raffle.SoldTickets <= 0 {
		return nil, apperrors.New(apperrors.ErrCodeNoTicketsSold, "Raffle cannot be drawn, no tickets were sold").
			WithDetail("raffle_id", raffle.ID)
	}

	purchases, err := s.ledger.ListRafflePurchases(ctx, raffle.ID)
	if err != nil {
		return nil, err
	}
	index, err := s.pick(raffle.SoldTickets)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "Failed to draw a ticket")
	}

	var owner *invmodels.TicketPurchase
	for _, p := range purchases {
		if p.Owns(index) {
			owner = p
			break
		}
	}
	if owner == nil {
		return nil, apperrors.Newf(apperrors.ErrCodeInternal, "No purchase owns ticket %d", index).
			WithDetail("raffle_id", raffle.ID)
	}

	now := s.now()
	winner := &models.WinnerRecord{
		RaffleID:    raffle.ID,
		TicketIndex: index,
		PurchaseID:  owner.ID,
		UserID:      owner.UserID,
		DrawnAt:     now,
	}
	if err := raffle.Transition(models.StatusDrawn, now); err != nil {
		return nil, err
	}
	if err := s.repo.SaveWinner(ctx, raffle, winner); err != nil {
		return nil, err
	}
	return winner, nil
}

func (s *raffleService) Cancel(ctx context.Context, raffleID string) (*CancelResult, error) {
	raffle, released, err := s.cancelLocked(ctx, raffleID)
	if err != nil {
		return nil, err
	}

	refunded, pending, err := s.refundAll(ctx, raffleID)
	if err != nil {
		return nil, err
	}
	if latest, err := s.repo.GetRaffle(ctx, raffleID); err == nil {
		raffle = latest
	}

	s.log.Info().
		Str("raffle_id", raffleID).
		Int("refunded", refunded).
		Int("pending_refunds", pending).
		Msg("Raffle cancelled")
	return &CancelResult{
		Raffle:         raffle,
		ReleasedHolds:  released,
		Refunded:       refunded,
		PendingRefunds: pending,
	}, nil
}

func (s *raffleService) cancelLocked(ctx context.Context, raffleID string) (*models.Raffle, int, error) {
	unlock, err := s.lock(ctx, raffleID)
	if err != nil {
		return nil, 0, err
	}
	defer unlock()

	released := 0
	raffle, err := s.reloading(ctx, raffleID, func(raffle *models.Raffle) error {
		if !raffle.Status.CanTransition(models.StatusCancelled) {
			return invalidTransition(raffle, models.StatusCancelled)
		}
		now := s.now()
		n, err := s.ledger.ReleaseHolds(ctx, raffle, now)
		released += n
		if err != nil {
			return err
		}
		if err := raffle.Transition(models.StatusCancelled, now); err != nil {
			return err
		}
		return s.repo.UpdateRaffle(ctx, raffle)
	})
	if err != nil {
		return nil, 0, err
	}

	s.publisher.Publish(ctx, events.New(events.RaffleCancelled, "raffle_id", raffle.ID))
	return raffle, released, nil
}

// refundAll refunds every completed purchase of a raffle with bounded
// parallelism. Individual failures are logged and counted, not returned.
func (s *raffleService) refundAll(ctx context.Context, raffleID string) (refunded, pending int, err error) {
	purchases, err := s.ledger.ListRafflePurchases(ctx, raffleID)
	if err != nil {
		return 0, 0, err
	}

	var ok, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(refundConcurrency)
	for _, p := range purchases {
		if p.Status != invmodels.PurchaseCompleted {
			continue
		}
		p := p
		g.Go(func() error {
			if _, err := s.ledger.RefundPurchase(gctx, p.ID); err != nil {
				failed.Add(1)
				s.log.Warn().Err(err).
					Str("raffle_id", raffleID).
					Str("purchase_id", p.ID).
					Msg("Refund failed, will retry")
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(ok.Load()), int(failed.Load()), nil
}

func (s *raffleService) RetryRefunds(ctx context.Context) (int, error) {
	cancelled, err := s.repo.ListRaffles(ctx, models.RaffleFilter{Status: models.StatusCancelled})
	if err != nil {
		return 0, err
	}
	total := 0
	for _, raffle := range cancelled {
		if raffle.SoldTickets == 0 {
			continue
		}
		refunded, pending, err := s.refundAll(ctx, raffle.ID)
		total += refunded
		if err != nil {
			return total, err
		}
		if pending > 0 {
			s.log.Warn().Str("raffle_id", raffle.ID).Int("pending", pending).Msg("Refunds still pending")
		}
	}
	return total, nil
}

func (s *raffleService) GetWinner(ctx context.Context, raffleID string) (*models.WinnerRecord, error) {
	return s.repo.GetWinner(ctx, raffleID)
}

func (s *raffleService) ListWins(ctx context.Context, userID int64) ([]*models.WinnerRecord, error) {
	return s.repo.ListWinsByUser(ctx, userID)
}
