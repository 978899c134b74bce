package service

import (
	"context"
	"strconv"

	invmodels "raffle-ledger-backend/internal/features/inventory/models"
	"raffle-ledger-backend/internal/features/loyalty/models"
	refmodels "raffle-ledger-backend/internal/features/referral/models"
)

const (
	bigSpenderMinor = 1000_00
	collectorTarget = 10
	earlyBirdRank   = 10
)

// Achievements are computed on read from purchases, wins and referrals.
// Nothing is stored, so an achievement can never be awarded twice.
func (s *loyaltyService) Achievements(ctx context.Context, userID int64) ([]models.Achievement, error) {
	purchases, err := s.activity.ListPurchasesByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	wins, err := s.activity.ListWinsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	referrals, err := s.activity.ListReferrals(ctx, userID)
	if err != nil {
		return nil, err
	}

	var completed, spent int64
	raffles := make(map[string]struct{})
	for _, p := range purchases {
		if p.Status != invmodels.PurchaseCompleted {
			continue
		}
		completed++
		spent += p.TotalPrice
		raffles[p.RaffleID] = struct{}{}
	}

	var earlyBird int64
	for raffleID := range raffles {
		early, err := s.isEarlyEntrant(ctx, raffleID, userID)
		if err != nil {
			return nil, err
		}
		if early {
			earlyBird = 1
			break
		}
	}

	summary := refmodels.Summarize(userID, referrals)

	out := []models.Achievement{
		achievement("first_purchase", "First Ticket", "Complete your first ticket purchase", completed, 1),
		achievement("big_spender", "Big Spender", "Spend $1,000 on tickets", spent/100, bigSpenderMinor/100),
		achievement("collector", "Collector", "Enter 10 different raffles", int64(len(raffles)), collectorTarget),
		achievement("early_bird", "Early Bird", "Be among the first 10 entrants of a raffle", earlyBird, 1),
		achievement("winner", "Winner", "Win a raffle", int64(len(wins)), 1),
	}
	for _, m := range summary.Milestones {
		out = append(out, models.Achievement{
			Key:         "referrals_" + itoa(m.Target),
			Title:       "Ambassador " + itoa(m.Target),
			Description: "Refer " + itoa(m.Target) + " friends who buy a ticket",
			Unlocked:    m.Reached,
			Progress:    m.Progress,
			Target:      m.Target,
		})
	}
	return out, nil
}

func achievement(key, title, description string, progress, target int64) models.Achievement {
	if progress > target {
		progress = target
	}
	return models.Achievement{
		Key:         key,
		Title:       title,
		Description: description,
		Unlocked:    progress >= target,
		Progress:    progress,
		Target:      target,
	}
}

// isEarlyEntrant reports whether userID is one of the first distinct
// buyers of the raffle, in commit order.
func (s *loyaltyService) isEarlyEntrant(ctx context.Context, raffleID string, userID int64) (bool, error) {
	purchases, err := s.activity.ListPurchasesByRaffle(ctx, raffleID)
	if err != nil {
		return false, err
	}
	seen := make(map[int64]struct{}, earlyBirdRank)
	for _, p := range purchases {
		if p.Status != invmodels.PurchaseCompleted && p.Status != invmodels.PurchaseRefunded {
			continue
		}
		if _, ok := seen[p.UserID]; ok {
			continue
		}
		if p.UserID == userID {
			return true, nil
		}
		seen[p.UserID] = struct{}{}
		if len(seen) >= earlyBirdRank {
			return false, nil
		}
	}
	return false, nil
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
