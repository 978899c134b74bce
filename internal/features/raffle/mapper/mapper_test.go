package mapper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"raffle-ledger-backend/internal/features/raffle/models"
)

func TestMoney(t *testing.T) {
	assert.Equal(t, "$100.00", Money(10000))
	assert.Equal(t, "$0.05", Money(5))
	assert.Equal(t, "$1250000.00", Money(125000000))
}

func TestFormatRemaining(t *testing.T) {
	assert.Equal(t, "ended", FormatRemaining(0))
	assert.Equal(t, "<1m", FormatRemaining(30*time.Second))
	assert.Equal(t, "45m", FormatRemaining(45*time.Minute))
	assert.Equal(t, "3h 12m", FormatRemaining(3*time.Hour+12*time.Minute))
	assert.Equal(t, "2d 4h", FormatRemaining(52*time.Hour+10*time.Minute))
}

func TestToRaffleResponse(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := &models.Raffle{
		ID:           "r1",
		Status:       models.StatusActive,
		TicketPrice:  10000,
		PrizeValue:   5000000,
		TotalTickets: 100,
		SoldTickets:  92,
		HeldTickets:  3,
		EndDate:      now.Add(90 * time.Minute),
	}

	resp := ToRaffleResponse(r, now)

	assert.Equal(t, "$100.00", resp.TicketPriceDisplay)
	assert.Equal(t, "$50000.00", resp.PrizeValueDisplay)
	assert.Equal(t, int64(5), resp.Remaining)
	assert.Equal(t, 92, resp.PercentageSold)
	assert.Equal(t, int64(5400), resp.SecondsRemaining)
	assert.Equal(t, "1h 30m", resp.TimeRemaining)
	assert.True(t, resp.AcceptsPurchases)

	r.Status = models.StatusClosed
	resp = ToRaffleResponse(r, now)
	assert.Equal(t, int64(0), resp.SecondsRemaining)
	assert.False(t, resp.AcceptsPurchases)
}
