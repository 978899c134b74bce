package payment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "raffle-ledger-backend/internal/common/errors"
)

func TestSandboxChargeIsIdempotent(t *testing.T) {
	s := NewSandbox(0)
	req := ChargeRequest{IdempotencyKey: "res-1", UserID: 1, Amount: 500}

	first, err := s.Charge(context.Background(), req)
	require.NoError(t, err)
	second, err := s.Charge(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.TransactionID, second.TransactionID)
	assert.Equal(t, 1, s.ChargeCount())
}

func TestSandboxDeclineRateOne(t *testing.T) {
	s := NewSandbox(1)
	_, err := s.Charge(context.Background(), ChargeRequest{Amount: 100})
	assert.ErrorIs(t, err, apperrors.ErrPaymentDeclined)
	assert.False(t, apperrors.IsRetryable(err))
}

func TestSandboxTimeoutIsRetryable(t *testing.T) {
	s := NewSandbox(0).WithLatency(time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := s.Charge(ctx, ChargeRequest{Amount: 100})
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
}

func TestSandboxRefund(t *testing.T) {
	s := NewSandbox(0)
	c, err := s.Charge(context.Background(), ChargeRequest{Amount: 300})
	require.NoError(t, err)

	r1, err := s.Refund(context.Background(), c.TransactionID, 300)
	require.NoError(t, err)
	r2, err := s.Refund(context.Background(), c.TransactionID, 300)
	require.NoError(t, err)

	assert.Equal(t, r1.RefundID, r2.RefundID)
	assert.True(t, s.Refunded(c.TransactionID))

	_, err = s.Refund(context.Background(), "tx_missing", 1)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
}

func TestSandboxGetCharge(t *testing.T) {
	s := NewSandbox(0)
	c, err := s.Charge(context.Background(), ChargeRequest{IdempotencyKey: "res-9", UserID: 4, Amount: 700})
	require.NoError(t, err)

	got, err := s.GetCharge(context.Background(), c.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, "res-9", got.IdempotencyKey)
	assert.Equal(t, int64(4), got.UserID)
	assert.Equal(t, int64(700), got.Amount)
	assert.False(t, got.Refunded)

	_, err = s.Refund(context.Background(), c.TransactionID, 700)
	require.NoError(t, err)
	got, err = s.GetCharge(context.Background(), c.TransactionID)
	require.NoError(t, err)
	assert.True(t, got.Refunded)

	_, err = s.GetCharge(context.Background(), "tx_made_up")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
