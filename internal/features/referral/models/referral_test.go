package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	var records []*Record
	for i := 0; i < 7; i++ {
		records = append(records, &Record{ReferrerID: 1, RefereeID: int64(10 + i), Status: StatusCompleted, PointsAwarded: 100})
	}
	records = append(records, &Record{ReferrerID: 1, RefereeID: 99, Status: StatusPending})

	s := Summarize(1, records)

	assert.Equal(t, int64(7), s.Completed)
	assert.Equal(t, int64(1), s.Pending)
	assert.Equal(t, int64(700), s.PointsEarned)
	require.Len(t, s.Milestones, 3)
	assert.True(t, s.Milestones[0].Reached)
	assert.Equal(t, int64(5), s.Milestones[0].Progress)
	assert.False(t, s.Milestones[1].Reached)
	assert.Equal(t, int64(7), s.Milestones[1].Progress)
	assert.False(t, s.Milestones[2].Reached)
}
