package models

import "time"

// Account is a user's loyalty balance. Balance moves both ways; Lifetime
// only grows, so Tier never regresses.
type Account struct {
	UserID         int64     `json:"user_id"`
	PointsBalance  int64     `json:"points_balance"`
	LifetimePoints int64     `json:"lifetime_points"`
	Tier           Tier      `json:"tier"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	// Version guards writes the same way Raffle.Version does. An account
	// that was never stored has version 0.
	Version int64 `json:"version"`
}

// NewAccount returns an empty Bronze account.
func NewAccount(userID int64, now time.Time) *Account {
	return &Account{
		UserID:    userID,
		Tier:      TierBronze,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Credit applies a grant and reports whether the tier went up.
func (a *Account) Credit(amount int64, now time.Time) (upgraded bool) {
	before := a.Tier
	a.PointsBalance += amount
	a.LifetimePoints += amount
	a.Tier = TierFor(a.LifetimePoints)
	a.UpdatedAt = now
	return a.Tier.Rank() > before.Rank()
}

// Debit spends balance. The caller checks sufficiency.
func (a *Account) Debit(amount int64, now time.Time) {
	a.PointsBalance -= amount
	a.UpdatedAt = now
}

// Grant reasons.
const (
	ReasonPurchase   = "purchase"
	ReasonReferral   = "referral"
	ReasonAdjustment = "adjustment"
)

// PointGrant is an immutable credit record.
type PointGrant struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	Amount    int64     `json:"amount"`
	Reason    string    `json:"reason"`
	Reference string    `json:"reference,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Redemption is an immutable debit record.
type Redemption struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

// GrantResult is returned by GrantPoints.
type GrantResult struct {
	Grant    *PointGrant `json:"grant"`
	Account  *Account    `json:"account"`
	Upgraded bool        `json:"upgraded"`
	Previous Tier        `json:"previous_tier"`
}

// Progress describes the path to the next tier.
type Progress struct {
	Tier           Tier     `json:"tier"`
	Multiplier     string   `json:"multiplier"`
	Perks          []string `json:"perks"`
	LifetimePoints int64    `json:"lifetime_points"`
	PointsBalance  int64    `json:"points_balance"`
	NextTier       *Tier    `json:"next_tier,omitempty"`
	PointsToNext   int64    `json:"points_to_next"`
	Percent        int      `json:"percent"`
}

// HistoryEntry is one row of the merged grant/redemption history.
// Amount is negative for redemptions.
type HistoryEntry struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Amount    int64     `json:"amount"`
	Reason    string    `json:"reason,omitempty"`
	Reference string    `json:"reference,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	HistoryGrant      = "grant"
	HistoryRedemption = "redemption"
)

// Achievement is derived from purchase, win and referral history.
type Achievement struct {
	Key         string `json:"key"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Unlocked    bool   `json:"unlocked"`
	Progress    int64  `json:"progress"`
	Target      int64  `json:"target"`
}

// RedeemRequest is the body of a redemption call.
type RedeemRequest struct {
	Amount int64 `json:"amount" binding:"required"`
}

// GrantRequest is the body of an admin adjustment.
type GrantRequest struct {
	UserID    int64  `json:"user_id" binding:"required"`
	Amount    int64  `json:"amount" binding:"required"`
	Reason    string `json:"reason"`
	Reference string `json:"reference"`
}
