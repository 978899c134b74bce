// Package redis stores every entity as a JSON document with sorted-set and
// set indexes. Writes that span several keys go through MULTI/EXEC so a
// crash never leaves a raffle's counters out of step with its holds and
// purchases. Raffle writes compare the stored version under WATCH, so a
// process writing from an outdated read gets STALE_WRITE instead of
// overwriting newer counters. Conflict-checked creates run as Lua scripts.
//
// Multi-key operations assume a single Redis node or a sentinel setup.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	apperrors "raffle-ledger-backend/internal/common/errors"
	invmodels "raffle-ledger-backend/internal/features/inventory/models"
	loyaltymodels "raffle-ledger-backend/internal/features/loyalty/models"
	rafflemodels "raffle-ledger-backend/internal/features/raffle/models"
	refmodels "raffle-ledger-backend/internal/features/referral/models"
	"raffle-ledger-backend/internal/storage"
)

const (
	keyPrefixRaffle      = "raffle:"
	keyPrefixWinner      = "winner:"
	keyPrefixReservation = "reservation:"
	keyPrefixPurchase    = "purchase:"
	keyPrefixLoyalty     = "loyalty:"
	keyPrefixReferral    = "referral:"
	keyPrefixRefCode     = "refcode:"
	keyAllRaffles        = "raffles:all"
	keyHoldExpiry        = "reservations:expiry"
)

func raffleKey(id string) string { return keyPrefixRaffle + id }
func raffleHoldsKey(id string) string { return keyPrefixRaffle + id + ":holds" }
func rafflePurchasesKey(id string) string { return keyPrefixRaffle + id + ":purchases" }
func winnerKey(raffleID string) string { return keyPrefixWinner + raffleID }
func reservationKey(handle string) string { return keyPrefixReservation + handle }
func purchaseKey(id string) string { return keyPrefixPurchase + id }
func userPurchasesKey(userID int64) string { return fmt.Sprintf("user:%d:purchases", userID) }
func userWinsKey(userID int64) string { return fmt.Sprintf("user:%d:wins", userID) }
func userRefCodeKey(userID int64) string { return fmt.Sprintf("user:%d:refcode", userID) }
func accountKey(userID int64) string { return fmt.Sprintf("%s%d", keyPrefixLoyalty, userID) }
func grantsKey(userID int64) string { return fmt.Sprintf("%s%d:grants", keyPrefixLoyalty, userID) }
func grantRefsKey(userID int64) string { return fmt.Sprintf("%s%d:grantrefs", keyPrefixLoyalty, userID) }
func redemptionsKey(userID int64) string { return fmt.Sprintf("%s%d:redemptions", keyPrefixLoyalty, userID) }
func referralKey(refereeID int64) string { return fmt.Sprintf("%s%d", keyPrefixReferral, refereeID) }
func referrerKey(referrerID int64) string { return fmt.Sprintf("referrer:%d:referrals", referrerID) }
func refCodeKey(code string) string { return keyPrefixRefCode + code }
func grantRefField(reason, ref string) string { return reason + "|" + ref }

// createIfAbsent writes KEYS[1] and indexes it in KEYS[2] unless it exists.
var createIfAbsent = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[3])
return 1
`)

// claimCode binds a code to a user when neither is bound yet.
var claimCode = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
if redis.call('EXISTS', KEYS[2]) == 1 then return -1 end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('SET', KEYS[2], ARGV[2])
return 1
`)

type Store struct {
	rdb goredis.UniversalClient
}

var _ storage.Store = (*Store)(nil)

func NewStore(rdb goredis.UniversalClient) *Store {
	return &Store{rdb: rdb}
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return apperrors.NewStoreError("ping", err)
	}
	return nil
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func encode(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInternal, "Failed to encode document")
	}
	return string(data), nil
}

// getter is satisfied by the client and by a WATCH transaction.
type getter interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
}

// getDoc loads one JSON document. A missing key is NOT_FOUND.
func getDoc[T any](ctx context.Context, rdb getter, key, resource string, id interface{}) (*T, error) {
	data, err := rdb.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, apperrors.NewNotFoundError(resource, id)
	}
	if err != nil {
		return nil, apperrors.NewStoreError("get "+resource, err)
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeInternal, "Corrupt %s document %v", resource, id)
	}
	return &out, nil
}

// getDocs loads documents by key, skipping keys that vanished.
func getDocs[T any](ctx context.Context, rdb goredis.UniversalClient, keys []string, resource string) ([]*T, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	values, err := rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, apperrors.NewStoreError("list "+resource, err)
	}
	out := make([]*T, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var doc T
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, apperrors.Wrapf(err, apperrors.ErrCodeInternal, "Corrupt %s document at %s", resource, keys[i])
		}
		out = append(out, &doc)
	}
	return out, nil
}

func keysFor(ids []string, key func(string) string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = key(id)
	}
	return out
}

func (s *Store) tx(ctx context.Context, op string, fn func(pipe goredis.Pipeliner) error) error {
	if _, err := s.rdb.TxPipelined(ctx, fn); err != nil {
		if _, ok := apperrors.AsAppError(err); ok {
			return err
		}
		return apperrors.NewStoreError(op, err)
	}
	return nil
}

// txOnRaffle writes raffle and whatever write adds in one MULTI/EXEC. The
// raffle key and watch are WATCHed, and the stored raffle must still carry
// raffle.Version; otherwise nothing is written and STALE_WRITE is
// returned. check runs under the WATCH before the write. On success
// raffle.Version is advanced to the stored value.
func (s *Store) txOnRaffle(
	ctx context.Context,
	op string,
	raffle *rafflemodels.Raffle,
	watch []string,
	check func(tx *goredis.Tx) error,
	write func(pipe goredis.Pipeliner),
) error {
	key := raffleKey(raffle.ID)
	next := *raffle
	next.Version++
	doc, err := encode(&next)
	if err != nil {
		return err
	}

	err = s.rdb.Watch(ctx, func(tx *goredis.Tx) error {
		current, err := getDoc[rafflemodels.Raffle](ctx, tx, key, "raffle", raffle.ID)
		if err != nil {
			return err
		}
		if current.Version != raffle.Version {
			return apperrors.NewStaleWriteError("raffle", raffle.ID).
				WithDetail("stored_version", current.Version).
				WithDetail("version", raffle.Version)
		}
		if check != nil {
			if err := check(tx); err != nil {
				return err
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, doc, 0)
			if write != nil {
				write(pipe)
			}
			return nil
		})
		return err
	}, append([]string{key}, watch...)...)

	switch {
	case err == nil:
		raffle.Version = next.Version
		return nil
	case errors.Is(err, goredis.TxFailedErr):
		return apperrors.NewStaleWriteError("raffle", raffle.ID)
	}
	if _, ok := apperrors.AsAppError(err); ok {
		return err
	}
	return apperrors.NewStoreError(op, err)
}

// Raffles

func (s *Store) CreateRaffle(ctx context.Context, raffle *rafflemodels.Raffle) error {
	doc, err := encode(raffle)
	if err != nil {
		return err
	}
	created, err := createIfAbsent.Run(ctx, s.rdb,
		[]string{raffleKey(raffle.ID), keyAllRaffles},
		doc, score(raffle.CreatedAt), raffle.ID,
	).Int()
	if err != nil {
		return apperrors.NewStoreError("create raffle", err)
	}
	if created == 0 {
		return apperrors.Newf(apperrors.ErrCodeConflict, "raffle %s already exists", raffle.ID)
	}
	return nil
}

func (s *Store) GetRaffle(ctx context.Context, id string) (*rafflemodels.Raffle, error) {
	return getDoc[rafflemodels.Raffle](ctx, s.rdb, raffleKey(id), "raffle", id)
}

func (s *Store) UpdateRaffle(ctx context.Context, raffle *rafflemodels.Raffle) error {
	return s.txOnRaffle(ctx, "update raffle", raffle, nil, nil, nil)
}

func (s *Store) ListRaffles(ctx context.Context, filter rafflemodels.RaffleFilter) ([]*rafflemodels.Raffle, error) {
	ids, err := s.rdb.ZRevRange(ctx, keyAllRaffles, 0, -1).Result()
	if err != nil {
		return nil, apperrors.NewStoreError("list raffles", err)
	}
	all, err := getDocs[rafflemodels.Raffle](ctx, s.rdb, keysFor(ids, raffleKey), "raffle")
	if err != nil {
		return nil, err
	}
	out := make([]*rafflemodels.Raffle, 0, len(all))
	for _, r := range all {
		if filter.Matches(r) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return storage.Paginate(out, filter.Offset, filter.Limit), nil
}

func (s *Store) SaveWinner(ctx context.Context, raffle *rafflemodels.Raffle, winner *rafflemodels.WinnerRecord) error {
	winnerDoc, err := encode(winner)
	if err != nil {
		return err
	}
	key := winnerKey(winner.RaffleID)
	return s.txOnRaffle(ctx, "save winner", raffle, []string{key},
		func(tx *goredis.Tx) error {
			n, err := tx.Exists(ctx, key).Result()
			if err != nil {
				return err
			}
			if n > 0 {
				return apperrors.Newf(apperrors.ErrCodeConflict, "raffle %s already has a winner", winner.RaffleID)
			}
			return nil
		},
		func(pipe goredis.Pipeliner) {
			pipe.Set(ctx, key, winnerDoc, 0)
			pipe.ZAdd(ctx, userWinsKey(winner.UserID), goredis.Z{Score: score(winner.DrawnAt), Member: winner.RaffleID})
		})
}

func (s *Store) GetWinner(ctx context.Context, raffleID string) (*rafflemodels.WinnerRecord, error) {
	return getDoc[rafflemodels.WinnerRecord](ctx, s.rdb, winnerKey(raffleID), "winner", raffleID)
}

func (s *Store) ListWinsByUser(ctx context.Context, userID int64) ([]*rafflemodels.WinnerRecord, error) {
	ids, err := s.rdb.ZRevRange(ctx, userWinsKey(userID), 0, -1).Result()
	if err != nil {
		return nil, apperrors.NewStoreError("list wins", err)
	}
	return getDocs[rafflemodels.WinnerRecord](ctx, s.rdb, keysFor(ids, winnerKey), "winner")
}

// Inventory

// putReservation writes res and keeps the hold indexes in step with its status.
func putReservation(ctx context.Context, pipe goredis.Pipeliner, res *invmodels.Reservation, doc string) {
	pipe.Set(ctx, reservationKey(res.Handle), doc, 0)
	if res.IsHeld() {
		pipe.SAdd(ctx, raffleHoldsKey(res.RaffleID), res.Handle)
		pipe.ZAdd(ctx, keyHoldExpiry, goredis.Z{Score: score(res.ExpiresAt), Member: res.Handle})
		return
	}
	pipe.SRem(ctx, raffleHoldsKey(res.RaffleID), res.Handle)
	pipe.ZRem(ctx, keyHoldExpiry, res.Handle)
}

func putPurchase(ctx context.Context, pipe goredis.Pipeliner, p *invmodels.TicketPurchase, doc string) {
	pipe.Set(ctx, purchaseKey(p.ID), doc, 0)
	pipe.ZAdd(ctx, rafflePurchasesKey(p.RaffleID), goredis.Z{Score: score(p.CreatedAt), Member: p.ID})
	pipe.ZAdd(ctx, userPurchasesKey(p.UserID), goredis.Z{Score: score(p.CreatedAt), Member: p.ID})
}

func (s *Store) SaveHold(ctx context.Context, raffle *rafflemodels.Raffle, res *invmodels.Reservation) error {
	resDoc, err := encode(res)
	if err != nil {
		return err
	}
	return s.txOnRaffle(ctx, "save hold", raffle, []string{reservationKey(res.Handle)}, nil,
		func(pipe goredis.Pipeliner) {
			putReservation(ctx, pipe, res, resDoc)
		})
}

func (s *Store) CommitPurchase(ctx context.Context, raffle *rafflemodels.Raffle, res *invmodels.Reservation, purchase *invmodels.TicketPurchase) error {
	resDoc, err := encode(res)
	if err != nil {
		return err
	}
	purchaseDoc, err := encode(purchase)
	if err != nil {
		return err
	}
	return s.txOnRaffle(ctx, "commit purchase", raffle, []string{reservationKey(res.Handle)}, nil,
		func(pipe goredis.Pipeliner) {
			putReservation(ctx, pipe, res, resDoc)
			putPurchase(ctx, pipe, purchase, purchaseDoc)
		})
}

func (s *Store) SaveRefund(ctx context.Context, raffle *rafflemodels.Raffle, purchase *invmodels.TicketPurchase) error {
	purchaseDoc, err := encode(purchase)
	if err != nil {
		return err
	}
	return s.txOnRaffle(ctx, "save refund", raffle, []string{purchaseKey(purchase.ID)}, nil,
		func(pipe goredis.Pipeliner) {
			putPurchase(ctx, pipe, purchase, purchaseDoc)
		})
}

func (s *Store) SavePurchase(ctx context.Context, purchase *invmodels.TicketPurchase) error {
	doc, err := encode(purchase)
	if err != nil {
		return err
	}
	return s.tx(ctx, "save purchase", func(pipe goredis.Pipeliner) error {
		putPurchase(ctx, pipe, purchase, doc)
		return nil
	})
}

func (s *Store) GetReservation(ctx context.Context, handle string) (*invmodels.Reservation, error) {
	return getDoc[invmodels.Reservation](ctx, s.rdb, reservationKey(handle), "reservation", handle)
}

func (s *Store) ListHeldReservations(ctx context.Context, raffleID string) ([]*invmodels.Reservation, error) {
	handles, err := s.rdb.SMembers(ctx, raffleHoldsKey(raffleID)).Result()
	if err != nil {
		return nil, apperrors.NewStoreError("list holds", err)
	}
	return s.heldReservations(ctx, handles, func(r *invmodels.Reservation) bool {
		return r.RaffleID == raffleID
	})
}

func (s *Store) ListExpiredReservations(ctx context.Context, now time.Time) ([]*invmodels.Reservation, error) {
	handles, err := s.rdb.ZRangeByScore(ctx, keyHoldExpiry, &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, apperrors.NewStoreError("list expired holds", err)
	}
	return s.heldReservations(ctx, handles, func(r *invmodels.Reservation) bool {
		return r.ExpiresAt.Before(now)
	})
}

func (s *Store) heldReservations(ctx context.Context, handles []string, keep func(*invmodels.Reservation) bool) ([]*invmodels.Reservation, error) {
	all, err := getDocs[invmodels.Reservation](ctx, s.rdb, keysFor(handles, reservationKey), "reservation")
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, r := range all {
		if r.IsHeld() && keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) GetPurchase(ctx context.Context, id string) (*invmodels.TicketPurchase, error) {
	return getDoc[invmodels.TicketPurchase](ctx, s.rdb, purchaseKey(id), "purchase", id)
}

func (s *Store) ListPurchasesByRaffle(ctx context.Context, raffleID string) ([]*invmodels.TicketPurchase, error) {
	ids, err := s.rdb.ZRange(ctx, rafflePurchasesKey(raffleID), 0, -1).Result()
	if err != nil {
		return nil, apperrors.NewStoreError("list raffle purchases", err)
	}
	out, err := getDocs[invmodels.TicketPurchase](ctx, s.rdb, keysFor(ids, purchaseKey), "purchase")
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FirstTicket != out[j].FirstTicket {
			return out[i].FirstTicket < out[j].FirstTicket
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) ListPurchasesByUser(ctx context.Context, userID int64) ([]*invmodels.TicketPurchase, error) {
	ids, err := s.rdb.ZRange(ctx, userPurchasesKey(userID), 0, -1).Result()
	if err != nil {
		return nil, apperrors.NewStoreError("list user purchases", err)
	}
	out, err := getDocs[invmodels.TicketPurchase](ctx, s.rdb, keysFor(ids, purchaseKey), "purchase")
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Loyalty

func (s *Store) GetAccount(ctx context.Context, userID int64) (*loyaltymodels.Account, error) {
	return getDoc[loyaltymodels.Account](ctx, s.rdb, accountKey(userID), "loyalty account", userID)
}

// txOnAccount writes account and whatever write adds in one MULTI/EXEC,
// guarded by the account version like txOnRaffle. A missing account counts
// as version 0.
func (s *Store) txOnAccount(ctx context.Context, op string, account *loyaltymodels.Account, write func(pipe goredis.Pipeliner)) error {
	key := accountKey(account.UserID)
	next := *account
	next.Version++
	doc, err := encode(&next)
	if err != nil {
		return err
	}

	err = s.rdb.Watch(ctx, func(tx *goredis.Tx) error {
		var stored int64
		current, err := getDoc[loyaltymodels.Account](ctx, tx, key, "loyalty account", account.UserID)
		switch {
		case err == nil:
			stored = current.Version
		case !apperrors.HasCode(err, apperrors.ErrCodeNotFound):
			return err
		}
		if stored != account.Version {
			return apperrors.NewStaleWriteError("loyalty account", account.UserID)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, doc, 0)
			write(pipe)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		account.Version = next.Version
		return nil
	case errors.Is(err, goredis.TxFailedErr):
		return apperrors.NewStaleWriteError("loyalty account", account.UserID)
	}
	if _, ok := apperrors.AsAppError(err); ok {
		return err
	}
	return apperrors.NewStoreError(op, err)
}

func (s *Store) ApplyGrant(ctx context.Context, account *loyaltymodels.Account, grant *loyaltymodels.PointGrant) error {
	grantDoc, err := encode(grant)
	if err != nil {
		return err
	}
	return s.txOnAccount(ctx, "apply grant", account, func(pipe goredis.Pipeliner) {
		pipe.RPush(ctx, grantsKey(grant.UserID), grantDoc)
		if grant.Reference != "" {
			pipe.HSet(ctx, grantRefsKey(grant.UserID), grantRefField(grant.Reason, grant.Reference), grantDoc)
		}
	})
}

func (s *Store) ApplyRedemption(ctx context.Context, account *loyaltymodels.Account, redemption *loyaltymodels.Redemption) error {
	redemptionDoc, err := encode(redemption)
	if err != nil {
		return err
	}
	return s.txOnAccount(ctx, "apply redemption", account, func(pipe goredis.Pipeliner) {
		pipe.RPush(ctx, redemptionsKey(redemption.UserID), redemptionDoc)
	})
}

// FindGrant only indexes grants that carry a reference.
func (s *Store) FindGrant(ctx context.Context, userID int64, reason, reference string) (*loyaltymodels.PointGrant, error) {
	data, err := s.rdb.HGet(ctx, grantRefsKey(userID), grantRefField(reason, reference)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, apperrors.NewNotFoundError("point grant", reference)
	}
	if err != nil {
		return nil, apperrors.NewStoreError("find grant", err)
	}
	var grant loyaltymodels.PointGrant
	if err := json.Unmarshal(data, &grant); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeInternal, "Corrupt grant %s", reference)
	}
	return &grant, nil
}

func (s *Store) ListGrants(ctx context.Context, userID int64) ([]*loyaltymodels.PointGrant, error) {
	return listJSON[loyaltymodels.PointGrant](ctx, s.rdb, grantsKey(userID), "grant")
}

func (s *Store) ListRedemptions(ctx context.Context, userID int64) ([]*loyaltymodels.Redemption, error) {
	return listJSON[loyaltymodels.Redemption](ctx, s.rdb, redemptionsKey(userID), "redemption")
}

func listJSON[T any](ctx context.Context, rdb goredis.UniversalClient, key, resource string) ([]*T, error) {
	raw, err := rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, apperrors.NewStoreError("list "+resource, err)
	}
	out := make([]*T, 0, len(raw))
	for _, item := range raw {
		var v T
		if err := json.Unmarshal([]byte(item), &v); err != nil {
			return nil, apperrors.Wrapf(err, apperrors.ErrCodeInternal, "Corrupt %s in %s", resource, key)
		}
		out = append(out, &v)
	}
	return out, nil
}

// Referrals

func (s *Store) CreateReferral(ctx context.Context, record *refmodels.Record) error {
	doc, err := encode(record)
	if err != nil {
		return err
	}
	created, err := createIfAbsent.Run(ctx, s.rdb,
		[]string{referralKey(record.RefereeID), referrerKey(record.ReferrerID)},
		doc, score(record.CreatedAt), record.RefereeID,
	).Int()
	if err != nil {
		return apperrors.NewStoreError("create referral", err)
	}
	if created == 0 {
		return apperrors.Newf(apperrors.ErrCodeAlreadyReferred, "User %d was already referred", record.RefereeID)
	}
	return nil
}

func (s *Store) GetReferral(ctx context.Context, refereeID int64) (*refmodels.Record, error) {
	return getDoc[refmodels.Record](ctx, s.rdb, referralKey(refereeID), "referral", refereeID)
}

func (s *Store) UpdateReferral(ctx context.Context, record *refmodels.Record) error {
	doc, err := encode(record)
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetXX(ctx, referralKey(record.RefereeID), doc, 0).Result()
	if err != nil {
		return apperrors.NewStoreError("update referral", err)
	}
	if !ok {
		return apperrors.NewNotFoundError("referral", record.RefereeID)
	}
	return nil
}

func (s *Store) ListReferrals(ctx context.Context, referrerID int64) ([]*refmodels.Record, error) {
	ids, err := s.rdb.ZRange(ctx, referrerKey(referrerID), 0, -1).Result()
	if err != nil {
		return nil, apperrors.NewStoreError("list referrals", err)
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = keyPrefixReferral + id
	}
	out, err := getDocs[refmodels.Record](ctx, s.rdb, keys, "referral")
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) SaveReferralCode(ctx context.Context, code *refmodels.Code) error {
	doc, err := encode(code)
	if err != nil {
		return err
	}
	claimed, err := claimCode.Run(ctx, s.rdb,
		[]string{refCodeKey(code.Code), userRefCodeKey(code.UserID)},
		doc, code.Code,
	).Int()
	if err != nil {
		return apperrors.NewStoreError("save referral code", err)
	}
	switch claimed {
	case 0:
		return apperrors.Newf(apperrors.ErrCodeConflict, "referral code %s is taken", code.Code)
	case -1:
		return apperrors.Newf(apperrors.ErrCodeConflict, "user %d already has a referral code", code.UserID)
	}
	return nil
}

func (s *Store) GetReferralCode(ctx context.Context, code string) (*refmodels.Code, error) {
	return getDoc[refmodels.Code](ctx, s.rdb, refCodeKey(code), "referral code", code)
}

func (s *Store) GetReferralCodeByUser(ctx context.Context, userID int64) (*refmodels.Code, error) {
	code, err := s.rdb.Get(ctx, userRefCodeKey(userID)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, apperrors.NewNotFoundError("referral code", userID)
	}
	if err != nil {
		return nil, apperrors.NewStoreError("get referral code", err)
	}
	return s.GetReferralCode(ctx, code)
}
