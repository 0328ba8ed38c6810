package services

import (
	"context"
	"testing"
	"time"

	"examprep/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeHistory(at time.Time, outcomes ...bool) []*models.Attempt {
	var pair []*models.Attempt
	for i, correct := range outcomes {
		pair = append(pair, &models.Attempt{
			LearnerID: 1,
			ItemID:    10,
			Correct:   correct,
			CreatedAt: at.Add(time.Duration(i) * time.Hour),
		})
	}
	return pair
}

func TestScheduleService_StageClassification(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		outcomes []bool
		stage    models.ReviewStage
		interval time.Duration
	}{
		{"never attempted", nil, models.StageNew, 0},
		{"one miss", []bool{false}, models.StageLearning, 24 * time.Hour},
		{"one hit", []bool{true}, models.StageLearning, 24 * time.Hour},
		{"two hits", []bool{true, true}, models.StageYoung, 3 * 24 * time.Hour},
		{"four of five", []bool{true, true, true, true, false}, models.StageMature, 7 * 24 * time.Hour},
		{"four of six misses rate gate", []bool{true, true, true, true, false, false}, models.StageYoung, 3 * 24 * time.Hour},
		{"five of six", []bool{true, true, true, true, true, false}, models.StageMastered, 21 * 24 * time.Hour},
		{"five of seven misses rate gate", []bool{true, true, true, true, true, false, false}, models.StageMature, 7 * 24 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pair := makeHistory(now.AddDate(0, 0, -1), tt.outcomes...)
			state := ClassifyHistory(pair, now)

			assert.Equal(t, tt.stage, state.Stage)
			if len(pair) == 0 {
				assert.True(t, state.IsDue(now), "never-attempted items are always due")
				return
			}
			last := pair[len(pair)-1].CreatedAt
			assert.Equal(t, last.Add(tt.interval), state.DueAt)
		})
	}
}

func TestScheduleService_ProgressionIsMonotonic(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	var outcomes []bool
	prevRank := models.StageNew.Rank()
	for i := 0; i < 12; i++ {
		outcomes = append(outcomes, true)
		state := ClassifyHistory(makeHistory(now.AddDate(0, 0, -1), outcomes...), now)
		assert.GreaterOrEqual(t, state.Stage.Rank(), prevRank,
			"stage regressed after %d consecutive hits", i+1)
		prevRank = state.Stage.Rank()
	}
	assert.Equal(t, models.StageMastered.Rank(), prevRank)
}

func TestScheduleService_DueLogic(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	// Learning stage, last attempt 2 days ago: past the 1-day interval.
	state := ClassifyHistory(makeHistory(now.AddDate(0, 0, -3), false), now)
	assert.True(t, state.IsDue(now))

	// Learning stage, last attempt 1 hour ago: not due yet.
	state = ClassifyHistory(makeHistory(now.Add(-time.Hour), false), now)
	assert.False(t, state.IsDue(now))
}

func TestScheduleService_GetReviewState(t *testing.T) {
	ledger := newFakeLedger()
	svc := NewScheduleServiceWithLogger(ledger, newTestConfig(), newTestLogger())
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	svc.timeNow = func() time.Time { return now }

	at := now.AddDate(0, 0, -2)
	ledger.add(&models.Attempt{LearnerID: 1, ItemID: 10, Correct: true, CreatedAt: at})
	ledger.add(&models.Attempt{LearnerID: 1, ItemID: 10, Correct: true, CreatedAt: at.Add(time.Hour)})
	// Noise on another item and another learner must not leak in.
	ledger.add(&models.Attempt{LearnerID: 1, ItemID: 20, Correct: false, CreatedAt: at})
	ledger.add(&models.Attempt{LearnerID: 2, ItemID: 10, Correct: false, CreatedAt: at})

	state, err := svc.GetReviewState(context.Background(), 1, 10)
	require.NoError(t, err)

	assert.Equal(t, models.StageYoung, state.Stage)
	assert.Equal(t, 2, state.AttemptCount)
	assert.Equal(t, 2, state.CorrectCount)
	assert.Equal(t, 1, state.LearnerID)
	assert.Equal(t, 10, state.ItemID)
}

func TestScheduleService_GetReviewStatesGroupsByItem(t *testing.T) {
	ledger := newFakeLedger()
	svc := NewScheduleServiceWithLogger(ledger, newTestConfig(), newTestLogger())
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	svc.timeNow = func() time.Time { return now }

	at := now.AddDate(0, 0, -1)
	ledger.add(&models.Attempt{LearnerID: 1, ItemID: 10, Correct: true, CreatedAt: at})
	ledger.add(&models.Attempt{LearnerID: 1, ItemID: 20, Correct: false, CreatedAt: at})

	states, err := svc.GetReviewStates(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, states, 2)

	assert.Equal(t, models.StageLearning, states[10].Stage)
	assert.Equal(t, models.StageLearning, states[20].Stage)
	assert.Equal(t, 1, states[10].CorrectCount)
	assert.Equal(t, 0, states[20].CorrectCount)
}

func TestScheduleService_NeverAttemptedItemIsDue(t *testing.T) {
	ledger := newFakeLedger()
	svc := NewScheduleServiceWithLogger(ledger, newTestConfig(), newTestLogger())
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	svc.timeNow = func() time.Time { return now }

	state, err := svc.GetReviewState(context.Background(), 1, 999)
	require.NoError(t, err)

	assert.Equal(t, models.StageNew, state.Stage)
	assert.True(t, state.IsDue(now))
	assert.False(t, state.LastAttemptAt.Valid)
}
