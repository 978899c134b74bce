package models

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// Record links a referee to the user who referred them. A referee has at
// most one record.
type Record struct {
	ReferrerID    int64      `json:"referrer_id"`
	RefereeID     int64      `json:"referee_id"`
	Status        Status     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	PointsAwarded int64      `json:"points_awarded"`
}

// Code is a user's shareable referral code.
type Code struct {
	Code      string    `json:"code"`
	UserID    int64     `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// MilestoneTargets are the completed-referral counts that unlock bonuses.
var MilestoneTargets = []int64{5, 10, 25}

type Milestone struct {
	Target   int64 `json:"target"`
	Reached  bool  `json:"reached"`
	Progress int64 `json:"progress"`
}

// Summary aggregates a referrer's records.
type Summary struct {
	ReferrerID   int64       `json:"referrer_id"`
	Pending      int64       `json:"pending"`
	Completed    int64       `json:"completed"`
	PointsEarned int64       `json:"points_earned"`
	Milestones   []Milestone `json:"milestones"`
}

// Summarize folds records into counts and milestone progress.
func Summarize(referrerID int64, records []*Record) *Summary {
	s := &Summary{ReferrerID: referrerID}
	for _, r := range records {
		switch r.Status {
		case StatusCompleted:
			s.Completed++
			s.PointsEarned += r.PointsAwarded
		case StatusPending:
			s.Pending++
		}
	}
	for _, target := range MilestoneTargets {
		progress := s.Completed
		if progress > target {
			progress = target
		}
		s.Milestones = append(s.Milestones, Milestone{
			Target:   target,
			Reached:  s.Completed >= target,
			Progress: progress,
		})
	}
	return s
}

// RegisterRequest registers the caller as referred by a code owner.
type RegisterRequest struct {
	Code string `json:"code" binding:"required"`
}
