// Package memory is the in-process store used by default and in tests.
// A single mutex guards every map, so each method is all-or-nothing.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "raffle-ledger-backend/internal/common/errors"
	invmodels "raffle-ledger-backend/internal/features/inventory/models"
	loyaltymodels "raffle-ledger-backend/internal/features/loyalty/models"
	rafflemodels "raffle-ledger-backend/internal/features/raffle/models"
	refmodels "raffle-ledger-backend/internal/features/referral/models"
	"raffle-ledger-backend/internal/storage"
)

type Store struct {
	mu sync.RWMutex

	raffles      map[string]rafflemodels.Raffle
	winners      map[string]rafflemodels.WinnerRecord
	reservations map[string]invmodels.Reservation
	purchases    map[string]invmodels.TicketPurchase
	accounts     map[int64]loyaltymodels.Account
	grants       map[int64][]loyaltymodels.PointGrant
	redemptions  map[int64][]loyaltymodels.Redemption
	referrals    map[int64]refmodels.Record
	codes        map[string]refmodels.Code
	userCodes    map[int64]string
}

var _ storage.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		raffles:      make(map[string]rafflemodels.Raffle),
		winners:      make(map[string]rafflemodels.WinnerRecord),
		reservations: make(map[string]invmodels.Reservation),
		purchases:    make(map[string]invmodels.TicketPurchase),
		accounts:     make(map[int64]loyaltymodels.Account),
		grants:       make(map[int64][]loyaltymodels.PointGrant),
		redemptions:  make(map[int64][]loyaltymodels.Redemption),
		referrals:    make(map[int64]refmodels.Record),
		codes:        make(map[string]refmodels.Code),
		userCodes:    make(map[int64]string),
	}
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Raffles

func (s *Store) CreateRaffle(ctx context.Context, raffle *rafflemodels.Raffle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.raffles[raffle.ID]; ok {
		return apperrors.Newf(apperrors.ErrCodeConflict, "raffle %s already exists", raffle.ID)
	}
	s.raffles[raffle.ID] = *raffle
	return nil
}

func (s *Store) GetRaffle(ctx context.Context, id string) (*rafflemodels.Raffle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.raffles[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("raffle", id)
	}
	return &r, nil
}

// checkRaffle rejects a write whose raffle is missing or stale. Callers hold mu.
func (s *Store) checkRaffle(raffle *rafflemodels.Raffle) error {
	current, ok := s.raffles[raffle.ID]
	if !ok {
		return apperrors.NewNotFoundError("raffle", raffle.ID)
	}
	if current.Version != raffle.Version {
		return apperrors.NewStaleWriteError("raffle", raffle.ID).
			WithDetail("stored_version", current.Version).
			WithDetail("version", raffle.Version)
	}
	return nil
}

// putRaffle advances the version and stores the raffle. Callers hold mu
// and have passed checkRaffle.
func (s *Store) putRaffle(raffle *rafflemodels.Raffle) {
	raffle.Version++
	s.raffles[raffle.ID] = *raffle
}

func (s *Store) UpdateRaffle(ctx context.Context, raffle *rafflemodels.Raffle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkRaffle(raffle); err != nil {
		return err
	}
	s.putRaffle(raffle)
	return nil
}

func (s *Store) ListRaffles(ctx context.Context, filter rafflemodels.RaffleFilter) ([]*rafflemodels.Raffle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*rafflemodels.Raffle, 0, len(s.raffles))
	for _, r := range s.raffles {
		if !filter.Matches(&r) {
			continue
		}
		r := r
		out = append(out, &r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return storage.Paginate(out, filter.Offset, filter.Limit), nil
}

func (s *Store) SaveWinner(ctx context.Context, raffle *rafflemodels.Raffle, winner *rafflemodels.WinnerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.winners[winner.RaffleID]; ok {
		return apperrors.Newf(apperrors.ErrCodeConflict, "raffle %s already has a winner", winner.RaffleID)
	}
	if err := s.checkRaffle(raffle); err != nil {
		return err
	}
	s.winners[winner.RaffleID] = *winner
	s.putRaffle(raffle)
	return nil
}

func (s *Store) GetWinner(ctx context.Context, raffleID string) (*rafflemodels.WinnerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.winners[raffleID]
	if !ok {
		return nil, apperrors.NewNotFoundError("winner", raffleID)
	}
	return &w, nil
}

func (s *Store) ListWinsByUser(ctx context.Context, userID int64) ([]*rafflemodels.WinnerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*rafflemodels.WinnerRecord
	for _, w := range s.winners {
		if w.UserID == userID {
			w := w
			out = append(out, &w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DrawnAt.After(out[j].DrawnAt) })
	return out, nil
}

// Inventory

func (s *Store) SaveHold(ctx context.Context, raffle *rafflemodels.Raffle, res *invmodels.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkRaffle(raffle); err != nil {
		return err
	}
	s.putRaffle(raffle)
	s.reservations[res.Handle] = *res
	return nil
}

func (s *Store) CommitPurchase(ctx context.Context, raffle *rafflemodels.Raffle, res *invmodels.Reservation, purchase *invmodels.TicketPurchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkRaffle(raffle); err != nil {
		return err
	}
	s.putRaffle(raffle)
	s.reservations[res.Handle] = *res
	s.purchases[purchase.ID] = *purchase
	return nil
}

func (s *Store) SaveRefund(ctx context.Context, raffle *rafflemodels.Raffle, purchase *invmodels.TicketPurchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkRaffle(raffle); err != nil {
		return err
	}
	s.putRaffle(raffle)
	s.purchases[purchase.ID] = *purchase
	return nil
}

func (s *Store) SavePurchase(ctx context.Context, purchase *invmodels.TicketPurchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purchases[purchase.ID] = *purchase
	return nil
}

func (s *Store) GetReservation(ctx context.Context, handle string) (*invmodels.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reservations[handle]
	if !ok {
		return nil, apperrors.NewNotFoundError("reservation", handle)
	}
	return &r, nil
}

func (s *Store) ListHeldReservations(ctx context.Context, raffleID string) ([]*invmodels.Reservation, error) {
	return s.filterReservations(func(r *invmodels.Reservation) bool {
		return r.RaffleID == raffleID && r.IsHeld()
	}), nil
}

func (s *Store) ListExpiredReservations(ctx context.Context, now time.Time) ([]*invmodels.Reservation, error) {
	return s.filterReservations(func(r *invmodels.Reservation) bool {
		return r.IsHeld() && r.ExpiresAt.Before(now)
	}), nil
}

func (s *Store) filterReservations(keep func(*invmodels.Reservation) bool) []*invmodels.Reservation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*invmodels.Reservation
	for _, r := range s.reservations {
		r := r
		if keep(&r) {
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) GetPurchase(ctx context.Context, id string) (*invmodels.TicketPurchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.purchases[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("purchase", id)
	}
	return &p, nil
}

func (s *Store) ListPurchasesByRaffle(ctx context.Context, raffleID string) ([]*invmodels.TicketPurchase, error) {
	out := s.filterPurchases(func(p *invmodels.TicketPurchase) bool { return p.RaffleID == raffleID })
	sort.Slice(out, func(i, j int) bool {
		if out[i].FirstTicket != out[j].FirstTicket {
			return out[i].FirstTicket < out[j].FirstTicket
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) ListPurchasesByUser(ctx context.Context, userID int64) ([]*invmodels.TicketPurchase, error) {
	out := s.filterPurchases(func(p *invmodels.TicketPurchase) bool { return p.UserID == userID })
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) filterPurchases(keep func(*invmodels.TicketPurchase) bool) []*invmodels.TicketPurchase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*invmodels.TicketPurchase
	for _, p := range s.purchases {
		p := p
		if keep(&p) {
			out = append(out, &p)
		}
	}
	return out
}

// Loyalty

func (s *Store) GetAccount(ctx context.Context, userID int64) (*loyaltymodels.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[userID]
	if !ok {
		return nil, apperrors.NewNotFoundError("loyalty account", userID)
	}
	return &a, nil
}

// putAccount stores account unless the stored copy moved on. Callers hold mu.
func (s *Store) putAccount(account *loyaltymodels.Account) error {
	if current := s.accounts[account.UserID]; current.Version != account.Version {
		return apperrors.NewStaleWriteError("loyalty account", account.UserID)
	}
	account.Version++
	s.accounts[account.UserID] = *account
	return nil
}

func (s *Store) ApplyGrant(ctx context.Context, account *loyaltymodels.Account, grant *loyaltymodels.PointGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.putAccount(account); err != nil {
		return err
	}
	s.grants[grant.UserID] = append(s.grants[grant.UserID], *grant)
	return nil
}

func (s *Store) ApplyRedemption(ctx context.Context, account *loyaltymodels.Account, redemption *loyaltymodels.Redemption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.putAccount(account); err != nil {
		return err
	}
	s.redemptions[redemption.UserID] = append(s.redemptions[redemption.UserID], *redemption)
	return nil
}

func (s *Store) FindGrant(ctx context.Context, userID int64, reason, reference string) (*loyaltymodels.PointGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, g := range s.grants[userID] {
		if g.Reason == reason && g.Reference == reference {
			g := g
			return &g, nil
		}
	}
	return nil, apperrors.NewNotFoundError("point grant", reference)
}

func (s *Store) ListGrants(ctx context.Context, userID int64) ([]*loyaltymodels.PointGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*loyaltymodels.PointGrant, 0, len(s.grants[userID]))
	for _, g := range s.grants[userID] {
		g := g
		out = append(out, &g)
	}
	return out, nil
}

func (s *Store) ListRedemptions(ctx context.Context, userID int64) ([]*loyaltymodels.Redemption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*loyaltymodels.Redemption, 0, len(s.redemptions[userID]))
	for _, r := range s.redemptions[userID] {
		r := r
		out = append(out, &r)
	}
	return out, nil
}

// Referrals

func (s *Store) CreateReferral(ctx context.Context, record *refmodels.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.referrals[record.RefereeID]; ok {
		return apperrors.Newf(apperrors.ErrCodeAlreadyReferred, "User %d was already referred", record.RefereeID)
	}
	s.referrals[record.RefereeID] = *record
	return nil
}

func (s *Store) GetReferral(ctx context.Context, refereeID int64) (*refmodels.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.referrals[refereeID]
	if !ok {
		return nil, apperrors.NewNotFoundError("referral", refereeID)
	}
	return &r, nil
}

func (s *Store) UpdateReferral(ctx context.Context, record *refmodels.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.referrals[record.RefereeID]; !ok {
		return apperrors.NewNotFoundError("referral", record.RefereeID)
	}
	s.referrals[record.RefereeID] = *record
	return nil
}

func (s *Store) ListReferrals(ctx context.Context, referrerID int64) ([]*refmodels.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*refmodels.Record
	for _, r := range s.referrals {
		if r.ReferrerID == referrerID {
			r := r
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) SaveReferralCode(ctx context.Context, code *refmodels.Code) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.codes[code.Code]; ok {
		return apperrors.Newf(apperrors.ErrCodeConflict, "referral code %s is taken", code.Code)
	}
	if _, ok := s.userCodes[code.UserID]; ok {
		return apperrors.Newf(apperrors.ErrCodeConflict, "user %d already has a referral code", code.UserID)
	}
	s.codes[code.Code] = *code
	s.userCodes[code.UserID] = code.Code
	return nil
}

func (s *Store) GetReferralCode(ctx context.Context, code string) (*refmodels.Code, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.codes[code]
	if !ok {
		return nil, apperrors.NewNotFoundError("referral code", code)
	}
	return &c, nil
}

func (s *Store) GetReferralCodeByUser(ctx context.Context, userID int64) (*refmodels.Code, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	code, ok := s.userCodes[userID]
	if !ok {
		return nil, apperrors.NewNotFoundError("referral code", userID)
	}
	c := s.codes[code]
	return &c, nil
}
