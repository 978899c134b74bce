package mapper

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"raffle-ledger-backend/internal/features/raffle/models"
)

// RaffleResponse is the client view of a raffle. Amounts stay in minor
// units; the *Display fields are dollars with two decimals.
type RaffleResponse struct {
	*models.Raffle
	TicketPriceDisplay string `json:"ticket_price_display"`
	PrizeValueDisplay  string `json:"prize_value_display"`
	Remaining          int64  `json:"remaining"`
	PercentageSold     int    `json:"percentage_sold"`
	// SecondsRemaining is zero once the end date has passed.
	SecondsRemaining int64  `json:"seconds_remaining"`
	TimeRemaining    string `json:"time_remaining"`
	AcceptsPurchases bool   `json:"accepts_purchases"`
}

// Money formats minor units as dollars.
func Money(minor int64) string {
	return "$" + decimal.New(minor, -2).StringFixed(2)
}

func ToRaffleResponse(r *models.Raffle, now time.Time) *RaffleResponse {
	left := r.EndDate.Sub(now)
	if left < 0 || r.Status.IsTerminal() || r.Status == models.StatusClosed {
		left = 0
	}
	return &RaffleResponse{
		Raffle:             r,
		TicketPriceDisplay: Money(r.TicketPrice),
		PrizeValueDisplay:  Money(r.PrizeValue),
		Remaining:          r.Remaining(),
		PercentageSold:     r.PercentageSold(),
		SecondsRemaining:   int64(left / time.Second),
		TimeRemaining:      FormatRemaining(left),
		AcceptsPurchases:   r.AcceptsPurchasesAt(now),
	}
}

func ToRaffleResponses(raffles []*models.Raffle, now time.Time) []*RaffleResponse {
	out := make([]*RaffleResponse, 0, len(raffles))
	for _, r := range raffles {
		out = append(out, ToRaffleResponse(r, now))
	}
	return out
}

// FormatRemaining renders a countdown such as "2d 4h", "3h 12m" or "45m".
func FormatRemaining(d time.Duration) string {
	if d <= 0 {
		return "ended"
	}
	days := int64(d / (24 * time.Hour))
	hours := int64(d/time.Hour) % 24
	minutes := int64(d/time.Minute) % 60
	switch {
	case days > 0:
		return itoa(days) + "d " + itoa(hours) + "h"
	case hours > 0:
		return itoa(hours) + "h " + itoa(minutes) + "m"
	case minutes > 0:
		return itoa(minutes) + "m"
	default:
		return "<1m"
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
