package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "raffle-ledger-backend/internal/common/errors"
)

func TestDoRetriesTransientErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 3, Delay: time.Millisecond}, func(context.Context) error {
		calls++
		if calls < 3 {
			return apperrors.New(apperrors.ErrCodePaymentUnavailable, "gateway timeout")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnBusinessError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 5, Delay: time.Millisecond}, func(context.Context) error {
		calls++
		return apperrors.New(apperrors.ErrCodePaymentDeclined, "card declined")
	})
	require.ErrorIs(t, err, apperrors.ErrPaymentDeclined)
	assert.Equal(t, 1, calls)
}

func TestDoReturnsLastErrorWhenExhausted(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 2, Delay: time.Millisecond}, func(context.Context) error {
		calls++
		return apperrors.NewStoreError("save", errors.New("down"))
	})
	require.ErrorIs(t, err, apperrors.ErrStoreUnavailable)
	assert.Equal(t, 2, calls)
}

func TestDoHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, Policy{Attempts: 3, Delay: time.Hour}, func(context.Context) error {
		return apperrors.New(apperrors.ErrCodePaymentUnavailable, "down")
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestOnStaleReloadsUntilFresh(t *testing.T) {
	calls := 0
	err := OnStale(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return apperrors.NewStaleWriteError("raffle", "r1")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestOnStaleGivesUp(t *testing.T) {
	calls := 0
	err := OnStale(context.Background(), func(context.Context) error {
		calls++
		return apperrors.NewStaleWriteError("raffle", "r1")
	})
	require.ErrorIs(t, err, apperrors.ErrStaleWrite)
	assert.Equal(t, StaleAttempts, calls)
}

func TestOnStaleIgnoresOtherErrors(t *testing.T) {
	calls := 0
	err := OnStale(context.Background(), func(context.Context) error {
		calls++
		return apperrors.NewStoreError("save", errors.New("down"))
	})
	require.ErrorIs(t, err, apperrors.ErrStoreUnavailable)
	assert.Equal(t, 1, calls)
}
