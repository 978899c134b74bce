package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReservationExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := &Reservation{Status: ReservationHeld, ExpiresAt: now.Add(10 * time.Minute)}

	assert.False(t, r.ExpiredAt(now.Add(10*time.Minute)))
	assert.True(t, r.ExpiredAt(now.Add(10*time.Minute+time.Second)))
}

func TestReservationCommit(t *testing.T) {
	now := time.Now()
	r := &Reservation{Status: ReservationHeld, Quantity: 3, UnitPrice: 250}

	assert.True(t, r.IsHeld())
	assert.Equal(t, int64(750), r.TotalPrice())

	r.Commit("p-1", now)
	assert.False(t, r.IsHeld())
	assert.Equal(t, ReservationCommitted, r.Status)
	assert.Equal(t, "p-1", r.PurchaseID)
	assert.Equal(t, now, *r.ClosedAt)
}

func TestPurchaseOwns(t *testing.T) {
	p := &TicketPurchase{Status: PurchaseCompleted, FirstTicket: 10, Quantity: 5}

	assert.False(t, p.Owns(9))
	assert.True(t, p.Owns(10))
	assert.True(t, p.Owns(14))
	assert.False(t, p.Owns(15))
	assert.Equal(t, int64(14), p.LastTicket())

	p.Status = PurchaseRefunded
	assert.False(t, p.Owns(12))
}
