package services

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"examprep/internal/models"
	contextutils "examprep/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSelectionFixture(t *testing.T) (*SelectionService, *fakeLedger, *fakeItemStore, time.Time) {
	t.Helper()
	ledger := newFakeLedger()
	items := newFakeItemStore()
	cfg := newTestConfig()
	mastery := NewMasteryServiceWithLogger(ledger, items, cfg, newTestLogger())
	svc := NewSelectionServiceWithLogger(items, ledger, mastery, cfg, newTestLogger())

	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	svc.timeNow = func() time.Time { return now }
	mastery.timeNow = svc.timeNow
	svc.rng = rand.New(rand.NewSource(42))
	return svc, ledger, items, now
}

func TestSelectionService_NoCandidates(t *testing.T) {
	svc, _, _, _ := newSelectionFixture(t)

	_, err := svc.SelectNextItem(context.Background(), 1, models.SelectionScope{}, nil)
	require.Error(t, err)
	assert.Equal(t, contextutils.ErrorCodeNoCandidates, contextutils.GetErrorCode(err))
}

func TestSelectionService_ZeroHistoryLearnerGetsAnItem(t *testing.T) {
	svc, _, items, now := newSelectionFixture(t)

	items.addItem(&models.Item{ID: 1, Topic: "cardiology", CorrectKey: "A", CreatedAt: now})
	items.addItem(&models.Item{ID: 2, Topic: "neurology", CorrectKey: "A", CreatedAt: now})

	item, err := svc.SelectNextItem(context.Background(), 1, models.SelectionScope{}, nil)
	require.NoError(t, err)
	require.NotNil(t, item)

	candidates, err := svc.ScoreCandidates(context.Background(), 1, models.SelectionScope{}, nil)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	for _, c := range candidates {
		assert.True(t, c.NeverAttempted)
		assert.Equal(t, svc.cfg.Engine.Selection.DueWeight, c.DueComponent)
		assert.Equal(t, svc.cfg.Engine.Selection.CoverageWeight, c.CoverComponent)
		assert.Zero(t, c.WeakComponent)
	}
}

func TestSelectionService_WeakDueItemWins(t *testing.T) {
	svc, ledger, items, now := newSelectionFixture(t)

	// Disable randomness so the argmax must win.
	svc.cfg.Engine.Selection.TieBreakJitter = 0
	svc.cfg.Engine.Selection.TopPoolSize = 1

	// cardiology is critically weak: 3 misses on item 3, two days ago.
	items.addItem(&models.Item{ID: 3, Topic: "cardiology", CorrectKey: "A", CreatedAt: now})
	for i := 0; i < 3; i++ {
		ledger.add(&models.Attempt{
			LearnerID: 1, ItemID: 3, Topic: "cardiology",
			Correct: false, ChosenKey: "B", CreatedAt: now.AddDate(0, 0, -2),
		})
	}

	// Item 1: never attempted in the weak topic. Item 2: never attempted
	// in a healthy topic.
	items.addItem(&models.Item{ID: 1, Topic: "cardiology", CorrectKey: "A", CreatedAt: now})
	items.addItem(&models.Item{ID: 2, Topic: "neurology", CorrectKey: "A", CreatedAt: now})

	item, err := svc.SelectNextItem(context.Background(), 1, models.SelectionScope{}, nil)
	require.NoError(t, err)

	// weak(3.0*1.5) + due(2.5) + coverage(1.0) = 8.0 beats everything.
	assert.Equal(t, 1, item.ID)
}

func TestSelectionService_ExcludeIDs(t *testing.T) {
	svc, ledger, items, now := newSelectionFixture(t)
	svc.cfg.Engine.Selection.TieBreakJitter = 0
	svc.cfg.Engine.Selection.TopPoolSize = 1

	items.addItem(&models.Item{ID: 1, Topic: "cardiology", CorrectKey: "A", CreatedAt: now})
	items.addItem(&models.Item{ID: 2, Topic: "neurology", CorrectKey: "A", CreatedAt: now})
	items.addItem(&models.Item{ID: 3, Topic: "cardiology", CorrectKey: "A", CreatedAt: now})
	for i := 0; i < 3; i++ {
		ledger.add(&models.Attempt{
			LearnerID: 1, ItemID: 3, Topic: "cardiology",
			Correct: false, ChosenKey: "B", CreatedAt: now.AddDate(0, 0, -2),
		})
	}

	item, err := svc.SelectNextItem(context.Background(), 1, models.SelectionScope{}, []int{1})
	require.NoError(t, err)
	assert.Equal(t, 3, item.ID, "with item 1 excluded, the weak due item 3 wins")

	candidates, err := svc.ScoreCandidates(context.Background(), 1, models.SelectionScope{}, []int{1, 2, 3})
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestSelectionService_ScopeFiltering(t *testing.T) {
	svc, _, items, now := newSelectionFixture(t)

	items.addItem(&models.Item{ID: 1, Topic: "cardiology", Specialty: "medicine", CorrectKey: "A", CreatedAt: now})
	items.addItem(&models.Item{ID: 2, Topic: "neurology", Specialty: "medicine", CorrectKey: "A", CreatedAt: now})
	items.addItem(&models.Item{ID: 3, Topic: "cardiology", Specialty: "surgery", CorrectKey: "A", CreatedAt: now})

	candidates, err := svc.ScoreCandidates(context.Background(), 1, models.SelectionScope{Topic: "cardiology"}, nil)
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	candidates, err = svc.ScoreCandidates(context.Background(), 1,
		models.SelectionScope{Topic: "cardiology", Specialty: "medicine"}, nil)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, 1, candidates[0].Item.ID)
}

func TestSelectionService_CandidatesSortedByScore(t *testing.T) {
	svc, ledger, items, now := newSelectionFixture(t)

	for id := 1; id <= 5; id++ {
		items.addItem(&models.Item{ID: id, Topic: "cardiology", CorrectKey: "A", CreatedAt: now})
	}
	for i := 0; i < 4; i++ {
		ledger.add(&models.Attempt{
			LearnerID: 1, ItemID: 1, Topic: "cardiology",
			Correct: i%2 == 0, ChosenKey: "A", CreatedAt: now.AddDate(0, 0, -1),
		})
	}

	candidates, err := svc.ScoreCandidates(context.Background(), 1, models.SelectionScope{}, nil)
	require.NoError(t, err)
	require.Len(t, candidates, 5)

	for i := 1; i < len(candidates); i++ {
		assert.GreaterOrEqual(t, candidates[i-1].Score, candidates[i].Score)
	}
}

func TestSelectionService_MatchComponentPeaksAtTargetAccuracy(t *testing.T) {
	svc, ledger, items, now := newSelectionFixture(t)
	svc.cfg.Engine.Selection.TieBreakJitter = 0

	items.addItem(&models.Item{ID: 1, Topic: "cardiology", CorrectKey: "A", CreatedAt: now})
	// 7 of 10 correct: accuracy exactly at the 0.70 target.
	for i := 0; i < 10; i++ {
		ledger.add(&models.Attempt{
			LearnerID: 1, ItemID: 1, Topic: "cardiology",
			Correct: i < 7, ChosenKey: "A", CreatedAt: now.Add(-time.Hour),
		})
	}

	candidates, err := svc.ScoreCandidates(context.Background(), 1, models.SelectionScope{}, nil)
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	assert.InDelta(t, svc.cfg.Engine.Selection.MatchWeight, candidates[0].MatchComponent, 0.001)
	assert.InDelta(t, 0.70, candidates[0].LearnerAccuracy, 0.001)
}

func TestSelectionService_WeightedChoiceStaysInPool(t *testing.T) {
	svc, _, _, _ := newSelectionFixture(t)

	pool := []*models.ScoredCandidate{
		{Item: &models.Item{ID: 1}, Score: 5},
		{Item: &models.Item{ID: 2}, Score: 3},
		{Item: &models.Item{ID: 3}, Score: 1},
	}

	counts := make(map[int]int)
	for i := 0; i < 1000; i++ {
		chosen := svc.weightedChoice(pool)
		counts[chosen.Item.ID]++
	}

	assert.Equal(t, 1000, counts[1]+counts[2]+counts[3])
	// Higher scores must be drawn more often over a large sample.
	assert.Greater(t, counts[1], counts[3])
}

func TestSelectionService_WeightedChoiceAllNonPositiveScores(t *testing.T) {
	svc, _, _, _ := newSelectionFixture(t)

	pool := []*models.ScoredCandidate{
		{Item: &models.Item{ID: 1}, Score: 0},
		{Item: &models.Item{ID: 2}, Score: 0},
	}

	chosen := svc.weightedChoice(pool)
	assert.Contains(t, []int{1, 2}, chosen.Item.ID)
}

func TestSelectionService_RetiredItemsExcluded(t *testing.T) {
	svc, _, items, now := newSelectionFixture(t)

	items.addItem(&models.Item{ID: 1, Topic: "cardiology", CorrectKey: "A", Status: models.ItemStatusRetired, CreatedAt: now})
	items.addItem(&models.Item{ID: 2, Topic: "cardiology", CorrectKey: "A", CreatedAt: now})

	candidates, err := svc.ScoreCandidates(context.Background(), 1, models.SelectionScope{}, nil)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, 2, candidates[0].Item.ID)
}
