// Package payment is the boundary to the external payment gateway.
package payment

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "raffle-ledger-backend/internal/common/errors"
	"raffle-ledger-backend/internal/utils/random"
)

// ChargeRequest asks the gateway to take Amount minor units from a user.
// IdempotencyKey lets a retried charge resolve to the same transaction.
type ChargeRequest struct {
	IdempotencyKey string
	UserID         int64
	Amount         int64
	Description    string
}

type Charge struct {
	TransactionID  string
	IdempotencyKey string
	UserID         int64
	Amount         int64
	SettledAt      time.Time
	Refunded       bool
}

type Refund struct {
	RefundID      string
	TransactionID string
	Amount        int64
}

// Gateway charges and refunds. Transient failures are returned as
// PAYMENT_UNAVAILABLE; a refusal is PAYMENT_DECLINED.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*Charge, error)
	Refund(ctx context.Context, transactionID string, amount int64) (*Refund, error)
	// GetCharge looks up a settled charge. Unknown transactions are NOT_FOUND.
	GetCharge(ctx context.Context, transactionID string) (*Charge, error)
}

// Sandbox is an in-process gateway for local runs and tests. It settles
// every charge unless told otherwise and remembers idempotency keys.
type Sandbox struct {
	mu          sync.Mutex
	charges     map[string]*Charge
	byKey       map[string]string
	refunds     map[string]*Refund
	declineRate float64
	latency     time.Duration

	// Hooks let tests inject failures. Nil hooks succeed.
	ChargeHook func(req ChargeRequest) error
	RefundHook func(transactionID string) error
}

func NewSandbox(declineRate float64) *Sandbox {
	return &Sandbox{
		charges:     make(map[string]*Charge),
		byKey:       make(map[string]string),
		refunds:     make(map[string]*Refund),
		declineRate: declineRate,
	}
}

// WithLatency delays every call, honouring context cancellation.
func (s *Sandbox) WithLatency(d time.Duration) *Sandbox {
	s.latency = d
	return s
}

func (s *Sandbox) wait(ctx context.Context) error {
	if s.latency <= 0 {
		if err := ctx.Err(); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodePaymentUnavailable, "Payment gateway timed out")
		}
		return nil
	}
	t := time.NewTimer(s.latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return apperrors.Wrap(ctx.Err(), apperrors.ErrCodePaymentUnavailable, "Payment gateway timed out")
	case <-t.C:
		return nil
	}
}

func (s *Sandbox) Charge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	if req.Amount <= 0 {
		return nil, apperrors.New(apperrors.ErrCodePaymentDeclined, "Charge amount must be positive")
	}
	if s.ChargeHook != nil {
		if err := s.ChargeHook(req); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if txID, ok := s.byKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		c := *s.charges[txID]
		return &c, nil
	}
	if s.declined() {
		return nil, apperrors.New(apperrors.ErrCodePaymentDeclined, "Card was declined by the issuer")
	}
	c := &Charge{
		TransactionID:  "tx_" + uuid.NewString(),
		IdempotencyKey: req.IdempotencyKey,
		UserID:         req.UserID,
		Amount:         req.Amount,
		SettledAt:      time.Now().UTC(),
	}
	s.charges[c.TransactionID] = c
	if req.IdempotencyKey != "" {
		s.byKey[req.IdempotencyKey] = c.TransactionID
	}
	out := *c
	return &out, nil
}

func (s *Sandbox) declined() bool {
	if s.declineRate <= 0 {
		return false
	}
	n, err := random.Int63n(10_000)
	if err != nil {
		return false
	}
	return float64(n) < s.declineRate*10_000
}

func (s *Sandbox) Refund(ctx context.Context, transactionID string, amount int64) (*Refund, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	if s.RefundHook != nil {
		if err := s.RefundHook(transactionID); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.refunds[transactionID]; ok {
		out := *r
		return &out, nil
	}
	c, ok := s.charges[transactionID]
	if !ok {
		return nil, apperrors.NewNotFoundError("transaction", transactionID)
	}
	if amount <= 0 || amount > c.Amount {
		return nil, apperrors.Newf(apperrors.ErrCodeValidation, "Refund amount %d exceeds charge %d", amount, c.Amount)
	}
	r := &Refund{RefundID: "rf_" + uuid.NewString(), TransactionID: transactionID, Amount: amount}
	s.refunds[transactionID] = r
	out := *r
	return &out, nil
}

func (s *Sandbox) GetCharge(ctx context.Context, transactionID string) (*Charge, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.charges[transactionID]
	if !ok {
		return nil, apperrors.NewNotFoundError("transaction", transactionID)
	}
	out := *c
	_, out.Refunded = s.refunds[transactionID]
	return &out, nil
}

// Refunded reports whether a refund exists for the transaction.
func (s *Sandbox) Refunded(transactionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.refunds[transactionID]
	return ok
}

// ChargeCount returns the number of settled charges.
func (s *Sandbox) ChargeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.charges)
}
