package models

import (
	invmodels "raffle-ledger-backend/internal/features/inventory/models"
	loyaltymodels "raffle-ledger-backend/internal/features/loyalty/models"
)

// PurchaseRequest buys tickets in one call: reserve, charge and commit.
type PurchaseRequest struct {
	Quantity int64 `json:"quantity" binding:"required"`
}

// SettleRequest commits a reservation paid for outside the gateway flow.
type SettleRequest struct {
	TransactionID string `json:"transaction_id" binding:"required"`
}

// Receipt is the outcome of a settled purchase. PointsPending is set when
// the purchase settled but the points grant could not be stored; replaying
// it with the purchase ID is safe.
type Receipt struct {
	Purchase       *invmodels.TicketPurchase `json:"purchase"`
	WinChance      float64                   `json:"win_chance"`
	PointsEarned   int64                     `json:"points_earned"`
	PointsPending  bool                      `json:"points_pending,omitempty"`
	TierAtPurchase loyaltymodels.Tier        `json:"tier_at_purchase"`
	Account        *loyaltymodels.Account    `json:"account,omitempty"`
}
