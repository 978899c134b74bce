package models

import "time"

// ReservationStatus tracks a hold from creation to its final outcome.
type ReservationStatus string

const (
	ReservationHeld      ReservationStatus = "held"
	ReservationCommitted ReservationStatus = "committed"
	ReservationReleased  ReservationStatus = "released"
	ReservationExpired   ReservationStatus = "expired"
)

// Reservation is a time-bounded claim on raffle capacity pending payment.
type Reservation struct {
	Handle     string            `json:"handle"`
	RaffleID   string            `json:"raffle_id"`
	UserID     int64             `json:"user_id"`
	Quantity   int64             `json:"quantity"`
	UnitPrice  int64             `json:"unit_price"`
	Status     ReservationStatus `json:"status"`
	CreatedAt  time.Time         `json:"created_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
	ClosedAt   *time.Time        `json:"closed_at,omitempty"`
	PurchaseID string            `json:"purchase_id,omitempty"`
}

// IsHeld reports whether the reservation still occupies capacity.
func (r *Reservation) IsHeld() bool {
	return r.Status == ReservationHeld
}

// ExpiredAt reports whether the hold window has elapsed at now.
func (r *Reservation) ExpiredAt(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// TotalPrice is quantity times the snapshotted unit price.
func (r *Reservation) TotalPrice() int64 {
	return r.Quantity * r.UnitPrice
}

// close moves a held reservation to a final status.
func (r *Reservation) close(status ReservationStatus, now time.Time) {
	r.Status = status
	r.ClosedAt = &now
}

func (r *Reservation) Release(now time.Time) { r.close(ReservationReleased, now) }

func (r *Reservation) Expire(now time.Time) { r.close(ReservationExpired, now) }

func (r *Reservation) Commit(purchaseID string, now time.Time) {
	r.close(ReservationCommitted, now)
	r.PurchaseID = purchaseID
}
