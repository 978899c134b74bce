package models

import (
	"time"

	apperrors "raffle-ledger-backend/internal/common/errors"
)

// RaffleStatus is the lifecycle state of a raffle.
type RaffleStatus string

const (
	StatusDraft     RaffleStatus = "draft"
	StatusActive    RaffleStatus = "active"
	StatusClosed    RaffleStatus = "closed"
	StatusDrawn     RaffleStatus = "drawn"
	StatusCancelled RaffleStatus = "cancelled"
)

var transitions = map[RaffleStatus][]RaffleStatus{
	StatusDraft:  {StatusActive, StatusCancelled},
	StatusActive: {StatusClosed, StatusCancelled},
	StatusClosed: {StatusDrawn, StatusCancelled},
}

func (s RaffleStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusActive, StatusClosed, StatusDrawn, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports drawn and cancelled.
func (s RaffleStatus) IsTerminal() bool {
	return s == StatusDrawn || s == StatusCancelled
}

// CanTransition reports whether to is a direct successor of s.
func (s RaffleStatus) CanTransition(to RaffleStatus) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Category groups raffles on the storefront.
type Category string

const (
	CategoryVehicles    Category = "vehicles"
	CategoryRealEstate  Category = "real-estate"
	CategoryLuxury      Category = "luxury"
	CategoryElectronics Category = "electronics"
	CategoryExperiences Category = "experiences"
	CategoryCash        Category = "cash"
)

var categories = []Category{
	CategoryVehicles, CategoryRealEstate, CategoryLuxury,
	CategoryElectronics, CategoryExperiences, CategoryCash,
}

// Categories lists the fixed storefront categories.
func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

func (c Category) Valid() bool {
	for _, known := range categories {
		if c == known {
			return true
		}
	}
	return false
}

// Raffle is the aggregate tracked by the lifecycle and the ticket ledger.
// Prices are in currency minor units.
type Raffle struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	Description  string       `json:"description"`
	ImageURL     string       `json:"image_url,omitempty"`
	Category     Category     `json:"category"`
	Status       RaffleStatus `json:"status"`
	TicketPrice  int64        `json:"ticket_price"`
	TotalTickets int64        `json:"total_tickets"`
	SoldTickets  int64        `json:"sold_tickets"`
	HeldTickets  int64        `json:"held_tickets"`
	EndDate      time.Time    `json:"end_date"`
	PrizeValue   int64        `json:"prize_value"`
	CreatedBy    int64        `json:"created_by"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	OpenedAt     *time.Time   `json:"opened_at,omitempty"`
	ClosedAt     *time.Time   `json:"closed_at,omitempty"`

	// Version counts stored writes. A write carrying an older version
	// than the stored document is rejected as stale.
	Version int64 `json:"version"`
}

// Transition moves the raffle to status to, or fails leaving it unchanged.
func (r *Raffle) Transition(to RaffleStatus, now time.Time) error {
	if !r.Status.CanTransition(to) {
		return apperrors.Newf(apperrors.ErrCodeInvalidStateTransition,
			"Raffle cannot move from %s to %s", r.Status, to).
			WithDetail("from", string(r.Status)).
			WithDetail("to", string(to))
	}
	r.Status = to
	r.UpdatedAt = now
	switch to {
	case StatusActive:
		r.OpenedAt = &now
	case StatusClosed, StatusCancelled:
		if r.ClosedAt == nil {
			r.ClosedAt = &now
		}
	}
	return nil
}

// Remaining is the capacity neither sold nor held.
func (r *Raffle) Remaining() int64 {
	return r.TotalTickets - r.SoldTickets - r.HeldTickets
}

// AcceptsPurchasesAt reports whether tickets may be reserved at now.
func (r *Raffle) AcceptsPurchasesAt(now time.Time) bool {
	return r.Status == StatusActive && !now.After(r.EndDate)
}

// DueForClose reports whether an active raffle must close automatically.
func (r *Raffle) DueForClose(now time.Time) bool {
	if r.Status != StatusActive {
		return false
	}
	return !now.Before(r.EndDate) || r.SoldTickets >= r.TotalTickets
}

// PercentageSold rounds sold/total to a whole percent.
func (r *Raffle) PercentageSold() int {
	if r.TotalTickets <= 0 {
		return 0
	}
	return int((r.SoldTickets*100 + r.TotalTickets/2) / r.TotalTickets)
}

// WinnerRecord is the immutable outcome of a draw.
type WinnerRecord struct {
	RaffleID    string    `json:"raffle_id"`
	TicketIndex int64     `json:"ticket_index"`
	PurchaseID  string    `json:"purchase_id"`
	UserID      int64     `json:"user_id"`
	DrawnAt     time.Time `json:"drawn_at"`
}

// RaffleCreate is the admin input for a new draft.
type RaffleCreate struct {
	Title        string    `json:"title" binding:"required"`
	Description  string    `json:"description"`
	ImageURL     string    `json:"image_url"`
	Category     Category  `json:"category" binding:"required"`
	TicketPrice  int64     `json:"ticket_price"`
	TotalTickets int64     `json:"total_tickets"`
	EndDate      time.Time `json:"end_date" binding:"required"`
	PrizeValue   int64     `json:"prize_value"`
}

// RaffleUpdate changes a draft. Nil fields are left as they are.
type RaffleUpdate struct {
	Title        *string    `json:"title,omitempty"`
	Description  *string    `json:"description,omitempty"`
	ImageURL     *string    `json:"image_url,omitempty"`
	TicketPrice  *int64     `json:"ticket_price,omitempty"`
	TotalTickets *int64     `json:"total_tickets,omitempty"`
	EndDate      *time.Time `json:"end_date,omitempty"`
	PrizeValue   *int64     `json:"prize_value,omitempty"`
}

// RaffleFilter narrows List. Zero values match everything.
type RaffleFilter struct {
	Status   RaffleStatus
	Category Category
	// Published hides drafts.
	Published bool
	Limit     int
	Offset    int
}

// Matches reports whether r passes the status and category filters.
func (f RaffleFilter) Matches(r *Raffle) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.Published && r.Status == StatusDraft {
		return false
	}
	if f.Category != "" && r.Category != f.Category {
		return false
	}
	return true
}
