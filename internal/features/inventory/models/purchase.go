package models

import "time"

type PurchaseStatus string

const (
	PurchasePending   PurchaseStatus = "pending"
	PurchaseCompleted PurchaseStatus = "completed"
	PurchaseFailed    PurchaseStatus = "failed"
	PurchaseRefunded  PurchaseStatus = "refunded"
)

// TicketPurchase is one checkout attempt. A completed purchase owns the
// ticket numbers [FirstTicket, FirstTicket+Quantity).
type TicketPurchase struct {
	ID                string         `json:"id"`
	RaffleID          string         `json:"raffle_id"`
	UserID            int64          `json:"user_id"`
	Quantity          int64          `json:"quantity"`
	UnitPrice         int64          `json:"unit_price"`
	TotalPrice        int64          `json:"total_price"`
	FirstTicket       int64          `json:"first_ticket"`
	TransactionID     string         `json:"transaction_id,omitempty"`
	ReservationHandle string         `json:"reservation_handle,omitempty"`
	Status            PurchaseStatus `json:"status"`
	FailureReason     string         `json:"failure_reason,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	RefundedAt        *time.Time     `json:"refunded_at,omitempty"`
	RefundID          string         `json:"refund_id,omitempty"`
}

// Owns reports whether ticket index falls inside this purchase's range.
func (p *TicketPurchase) Owns(index int64) bool {
	return p.Status == PurchaseCompleted &&
		index >= p.FirstTicket && index < p.FirstTicket+p.Quantity
}

// LastTicket is the last ticket number owned, inclusive.
func (p *TicketPurchase) LastTicket() int64 {
	return p.FirstTicket + p.Quantity - 1
}

// Inventory is a point-in-time view of a raffle's capacity.
type Inventory struct {
	RaffleID       string `json:"raffle_id"`
	TotalTickets   int64  `json:"total_tickets"`
	SoldTickets    int64  `json:"sold_tickets"`
	HeldTickets    int64  `json:"held_tickets"`
	Remaining      int64  `json:"remaining"`
	PercentageSold int    `json:"percentage_sold"`
}

// Odds is the estimated win probability for buying Quantity more tickets.
type Odds struct {
	Quantity    int64   `json:"quantity"`
	Probability float64 `json:"probability"`
	OneIn       float64 `json:"one_in,omitempty"`
}

// OddsQuantities are the rows of the odds table shown on raffle pages.
var OddsQuantities = []int64{1, 5, 10, 25, 50, 100}

// ReserveRequest is the body of a reservation call.
type ReserveRequest struct {
	Quantity int64 `json:"quantity" binding:"required"`
}

// CommitRequest carries the settled payment reference.
type CommitRequest struct {
	TransactionID string `json:"transaction_id" binding:"required"`
}
