package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"examprep/internal/models"
	contextutils "examprep/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCalibrationFixture(t *testing.T) (*CalibrationService, *fakeLedger, *fakeItemStore, time.Time) {
	t.Helper()
	ledger := newFakeLedger()
	items := newFakeItemStore()
	svc := NewCalibrationServiceWithLogger(ledger, items, newTestConfig(), newTestLogger())
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	svc.timeNow = func() time.Time { return now }
	return svc, ledger, items, now
}

// seedPooledResponses gives an item one response per learner: learners with
// IDs below the split answer correctly, the rest answer wrong. Because each
// learner has only this one attempt, their ability proxy equals their
// outcome, so the top ability group is exactly the correct responders.
func seedPooledResponses(ledger *fakeLedger, itemID, n, correct int, at time.Time) {
	for i := 0; i < n; i++ {
		isCorrect := i < correct
		key := "B"
		if isCorrect {
			key = "A"
		}
		ledger.add(&models.Attempt{
			LearnerID: 1000 + i,
			ItemID:    itemID,
			Topic:     "cardiology",
			Correct:   isCorrect,
			ChosenKey: key,
			CreatedAt: at,
		})
	}
}

func TestCalibrationService_CalibrateItem(t *testing.T) {
	svc, ledger, items, now := newCalibrationFixture(t)

	items.addItem(&models.Item{
		ID: 10, Topic: "cardiology", CorrectKey: "A",
		Choices:         []string{"a", "b", "c", "d"},
		DifficultyLevel: models.DifficultyMedium,
		CreatedAt:       now.AddDate(0, -1, 0),
	})
	seedPooledResponses(ledger, 10, 80, 40, now)

	record, err := svc.CalibrateItem(context.Background(), 10)
	require.NoError(t, err)

	assert.InDelta(t, 0.5, record.PValue, 0.001)
	assert.Equal(t, 80, record.ResponseCount)
	assert.Equal(t, models.DifficultyHard, record.DifficultyLevel)
	assert.Equal(t, models.DifficultyMedium, record.PreviousDifficulty)

	// Correct responders have ability 1.0, wrong ones 0.0: the top group
	// is all-correct and the bottom all-wrong.
	assert.InDelta(t, 1.0, record.DiscriminationIndex, 0.001)
	assert.False(t, record.LowDiscrimination)
	assert.False(t, record.FlaggedCritical)

	assert.Greater(t, record.CIHigh, record.CILow)
	assert.GreaterOrEqual(t, record.CILow, 0.0)
	assert.LessOrEqual(t, record.CIHigh, 1.0)

	// The write went through the store.
	assert.Contains(t, items.updated, 10)
}

func TestCalibrationService_RecalibrationIsIdempotent(t *testing.T) {
	svc, ledger, items, now := newCalibrationFixture(t)

	items.addItem(&models.Item{
		ID: 10, Topic: "cardiology", CorrectKey: "A",
		Choices:   []string{"a", "b", "c", "d"},
		CreatedAt: now.AddDate(0, -1, 0),
	})
	seedPooledResponses(ledger, 10, 60, 42, now)

	first, err := svc.CalibrateItem(context.Background(), 10)
	require.NoError(t, err)
	second, err := svc.CalibrateItem(context.Background(), 10)
	require.NoError(t, err)

	// Same response snapshot, same result.
	assert.Equal(t, first.PValue, second.PValue)
	assert.Equal(t, first.DiscriminationIndex, second.DiscriminationIndex)
	assert.Equal(t, first.CILow, second.CILow)
	assert.Equal(t, first.CIHigh, second.CIHigh)
	assert.Equal(t, first.DifficultyLevel, second.DifficultyLevel)

	// The second run audits the label the first one assigned.
	assert.Equal(t, first.DifficultyLevel, second.PreviousDifficulty)
}

func TestCalibrationService_NegativeDiscriminationFlagsItem(t *testing.T) {
	svc, ledger, items, now := newCalibrationFixture(t)

	items.addItem(&models.Item{
		ID: 10, Topic: "cardiology", CorrectKey: "A",
		Choices:   []string{"a", "b"},
		CreatedAt: now.AddDate(0, -1, 0),
	})

	// Learners who answered this item correctly are otherwise weak, and
	// those who missed it are otherwise strong. Stronger learners doing
	// worse on the item yields a negative discrimination.
	for i := 0; i < 60; i++ {
		learnerID := 1000 + i
		onItemCorrect := i < 30
		ledger.add(&models.Attempt{
			LearnerID: learnerID, ItemID: 10, Topic: "cardiology",
			Correct: onItemCorrect, ChosenKey: "A", CreatedAt: now,
		})
		for j := 0; j < 9; j++ {
			ledger.add(&models.Attempt{
				LearnerID: learnerID, ItemID: 500 + j, Topic: "misc",
				Correct: !onItemCorrect, ChosenKey: "A", CreatedAt: now,
			})
		}
	}

	record, err := svc.CalibrateItem(context.Background(), 10)
	require.NoError(t, err)

	assert.Negative(t, record.DiscriminationIndex)
	assert.True(t, record.LowDiscrimination)
	assert.True(t, record.FlaggedCritical)
}

func TestCalibrationService_InsufficientResponses(t *testing.T) {
	svc, ledger, items, now := newCalibrationFixture(t)

	items.addItem(&models.Item{ID: 10, Topic: "cardiology", CorrectKey: "A", CreatedAt: now})
	seedPooledResponses(ledger, 10, 20, 10, now)

	_, err := svc.CalibrateItem(context.Background(), 10)
	require.Error(t, err)
	assert.Equal(t, contextutils.ErrorCodeInsufficientData, contextutils.GetErrorCode(err))
	assert.Empty(t, items.updated)
}

func TestCalibrationService_UnknownItem(t *testing.T) {
	svc, _, _, _ := newCalibrationFixture(t)

	_, err := svc.CalibrateItem(context.Background(), 404)
	require.Error(t, err)
	assert.Equal(t, contextutils.ErrorCodeItemNotFound, contextutils.GetErrorCode(err))
}

func TestCalibrationService_ClassifyDifficulty(t *testing.T) {
	tests := []struct {
		pValue float64
		want   models.DifficultyLevel
	}{
		{0.92, models.DifficultyVeryEasy},
		{0.85, models.DifficultyVeryEasy},
		{0.70, models.DifficultyEasy},
		{0.60, models.DifficultyMedium},
		{0.55, models.DifficultyMedium},
		{0.40, models.DifficultyHard},
		{0.39, models.DifficultyVeryHard},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyDifficulty(tt.pValue), "p-value %v", tt.pValue)
	}
}

func TestCalibrationService_WilsonInterval(t *testing.T) {
	low, high := wilsonInterval(50, 100, 1.96)
	assert.InDelta(t, 0.4038, low, 0.001)
	assert.InDelta(t, 0.5962, high, 0.001)

	// Degenerate proportions stay inside [0, 1].
	low, high = wilsonInterval(0, 50, 1.96)
	assert.GreaterOrEqual(t, low, 0.0)
	assert.Less(t, high, 0.2)

	low, high = wilsonInterval(50, 50, 1.96)
	assert.Greater(t, low, 0.8)
	assert.LessOrEqual(t, high, 1.0)

	low, high = wilsonInterval(0, 0, 1.96)
	assert.Zero(t, low)
	assert.Zero(t, high)
}

func TestCalibrationService_DistractorFlags(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	item := &models.Item{
		ID: 10, CorrectKey: "A",
		Choices: []string{"right", "rare", "tempting", "suspicious"},
	}

	var responses []*models.Attempt
	addChoice := func(key string, count int) {
		for i := 0; i < count; i++ {
			responses = append(responses, &models.Attempt{
				ItemID: 10, ChosenKey: key, Correct: key == "A", CreatedAt: now,
			})
		}
	}
	addChoice("A", 60)
	addChoice("B", 3)  // under 5%: too obvious
	addChoice("C", 35) // over 30%: too attractive
	addChoice("D", 2)

	// Top-ability group leans on D, bottom group never picks it: a wrong
	// answer with positive discrimination is a mis-key signal.
	top := []*models.Attempt{
		{ChosenKey: "D"}, {ChosenKey: "D"}, {ChosenKey: "A"}, {ChosenKey: "A"}, {ChosenKey: "A"},
	}
	bottom := []*models.Attempt{
		{ChosenKey: "C"}, {ChosenKey: "C"}, {ChosenKey: "B"}, {ChosenKey: "A"}, {ChosenKey: "A"},
	}

	profile := distractorProfile(item, responses, top, bottom, now)
	require.Len(t, profile.Choices, 4)

	byKey := make(map[string]models.DistractorStat)
	for _, stat := range profile.Choices {
		byKey[stat.Choice] = stat
	}

	assert.True(t, byKey["A"].IsCorrect)
	assert.Empty(t, byKey["A"].Flags, "the correct answer is never flagged")

	assert.Contains(t, byKey["B"].Flags, models.DistractorFlagTooObvious)
	assert.Contains(t, byKey["C"].Flags, models.DistractorFlagTooAttractive)
	assert.Contains(t, byKey["D"].Flags, models.DistractorFlagMiskeyRisk)
}

func TestCalibrationService_BatchContinuesOnWriteFailure(t *testing.T) {
	svc, ledger, items, now := newCalibrationFixture(t)

	for _, id := range []int{10, 20} {
		items.addItem(&models.Item{
			ID: id, Topic: "cardiology", CorrectKey: "A",
			Choices: []string{"a", "b"}, CreatedAt: now,
		})
	}
	seedPooledResponses(ledger, 10, 60, 30, now)
	seedPooledResponses(ledger, 20, 60, 30, now)
	items.updateErr[10] = errors.New("write failed")

	records, err := svc.CalibrateBatch(context.Background(), []int{10, 20})
	require.NoError(t, err, "a per-item write failure must not abort the batch")
	require.Len(t, records, 1)

	assert.Equal(t, 20, records[0].ItemID)
	assert.Equal(t, []int{20}, items.updated)
}

func TestCalibrationService_BatchSkipsItemsBelowThreshold(t *testing.T) {
	svc, ledger, items, now := newCalibrationFixture(t)

	items.addItem(&models.Item{ID: 10, Topic: "cardiology", CorrectKey: "A", Choices: []string{"a", "b"}, CreatedAt: now})
	items.addItem(&models.Item{ID: 20, Topic: "cardiology", CorrectKey: "A", Choices: []string{"a", "b"}, CreatedAt: now})
	seedPooledResponses(ledger, 10, 5, 3, now)
	seedPooledResponses(ledger, 20, 60, 45, now)

	records, err := svc.CalibrateBatch(context.Background(), []int{10, 20})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 20, records[0].ItemID)
}

func TestCalibrationService_BatchDiscoversItemsWhenUnspecified(t *testing.T) {
	svc, ledger, items, now := newCalibrationFixture(t)

	items.addItem(&models.Item{ID: 10, Topic: "cardiology", CorrectKey: "A", Choices: []string{"a", "b"}, CreatedAt: now})
	seedPooledResponses(ledger, 10, 60, 30, now)
	items.needing = []int{10}

	records, err := svc.CalibrateBatch(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 10, records[0].ItemID)
}

func TestCalibrationService_EmptyBatchIsNoop(t *testing.T) {
	svc, _, _, _ := newCalibrationFixture(t)

	records, err := svc.CalibrateBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestCalibrationService_DistractorProfileRequiresMoreData(t *testing.T) {
	svc, ledger, items, now := newCalibrationFixture(t)

	items.addItem(&models.Item{
		ID: 10, Topic: "cardiology", CorrectKey: "A",
		Choices: []string{"a", "b"}, CreatedAt: now,
	})
	seedPooledResponses(ledger, 10, 60, 30, now)

	_, err := svc.CalibrateItem(context.Background(), 10)
	require.NoError(t, err)
	assert.NotContains(t, items.profiles, 10, "60 responses is below the distractor threshold")

	seedPooledResponses(ledger, 10, 60, 30, now)
	_, err = svc.CalibrateItem(context.Background(), 10)
	require.NoError(t, err)
	assert.Contains(t, items.profiles, 10)
}
