package services

import (
	"context"
	"testing"
	"time"

	"examprep/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInsightFixture(t *testing.T) (*InsightService, *fakeLedger, time.Time) {
	t.Helper()
	ledger := newFakeLedger()
	svc := NewInsightServiceWithLogger(ledger, newTestConfig(), newTestLogger())
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	svc.timeNow = func() time.Time { return now }
	return svc, ledger, now
}

// seedDay records attempts for one calendar day, daysAgo before now, with
// the given accuracy over 10 attempts.
func seedDay(ledger *fakeLedger, learnerID, daysAgo, correctOf10 int, now time.Time) {
	at := now.AddDate(0, 0, -daysAgo)
	for i := 0; i < 10; i++ {
		ledger.add(&models.Attempt{
			LearnerID: learnerID,
			ItemID:    100 + i,
			Topic:     "cardiology",
			Correct:   i < correctOf10,
			ChosenKey: "A",
			CreatedAt: at,
		})
	}
}

func TestInsightService_FlatSeriesIsPlateau(t *testing.T) {
	svc, ledger, now := newInsightFixture(t)

	for day := 1; day <= 7; day++ {
		seedDay(ledger, 1, day, 6, now)
	}

	report, err := svc.DetectPlateau(context.Background(), 1)
	require.NoError(t, err)

	assert.True(t, report.IsPlateau)
	assert.True(t, report.FlatTrend)
	assert.True(t, report.LowVariance)
	assert.False(t, report.InsufficientData)
	assert.InDelta(t, 0.6, report.MeanAccuracy, 0.001)
	assert.InDelta(t, 0.0, report.Slope, 0.0001)
	assert.Equal(t, 7, report.DaysWithData)
}

func TestInsightService_SteadyImprovementIsNotPlateau(t *testing.T) {
	svc, ledger, now := newInsightFixture(t)

	// Accuracy climbing from 0% to 90% across ten days.
	for day := 0; day < 10; day++ {
		seedDay(ledger, 1, 10-day, day, now)
	}

	report, err := svc.DetectPlateau(context.Background(), 1)
	require.NoError(t, err)

	assert.False(t, report.IsPlateau)
	assert.False(t, report.FlatTrend)
	assert.False(t, report.LowVariance)
	assert.Greater(t, report.Slope, 0.05)
}

func TestInsightService_TooFewDaysIsInsufficientData(t *testing.T) {
	svc, ledger, now := newInsightFixture(t)

	for day := 1; day <= 3; day++ {
		seedDay(ledger, 1, day, 5, now)
	}

	report, err := svc.DetectPlateau(context.Background(), 1)
	require.NoError(t, err, "sparse data is a report state, not an error")

	assert.True(t, report.InsufficientData)
	assert.False(t, report.IsPlateau)
	assert.Equal(t, 3, report.DaysWithData)
}

func TestInsightService_NoHistory(t *testing.T) {
	svc, _, _ := newInsightFixture(t)

	report, err := svc.DetectPlateau(context.Background(), 42)
	require.NoError(t, err)

	assert.True(t, report.InsufficientData)
	assert.Zero(t, report.DaysWithData)
	assert.Equal(t, 42, report.LearnerID)
}

func TestInsightService_AttemptsOutsideWindowIgnored(t *testing.T) {
	svc, ledger, now := newInsightFixture(t)

	// Plenty of history, but all of it older than the 14-day window.
	for day := 20; day <= 30; day++ {
		seedDay(ledger, 1, day, 5, now)
	}
	seedDay(ledger, 1, 2, 5, now)

	report, err := svc.DetectPlateau(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 1, report.DaysWithData)
	assert.True(t, report.InsufficientData)
}

func TestInsightService_GapsCountAgainstSlope(t *testing.T) {
	cfg := newTestConfig()
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	// Five days with data spread across the window, holding flat.
	var attempts []*models.Attempt
	for _, daysAgo := range []int{13, 10, 7, 4, 1} {
		at := now.AddDate(0, 0, -daysAgo)
		for i := 0; i < 4; i++ {
			attempts = append(attempts, &models.Attempt{
				LearnerID: 1, Correct: i < 2, CreatedAt: at,
			})
		}
	}

	report := analyzePlateau(attempts, 1, now.AddDate(0, 0, -14), now, &cfg.Engine.Plateau)

	assert.False(t, report.InsufficientData)
	assert.Equal(t, 5, report.DaysWithData)
	assert.True(t, report.IsPlateau)
	assert.InDelta(t, 0.0, report.Slope, 0.0001)
}
