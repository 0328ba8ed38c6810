package services

import (
	"context"
	"sort"
	"time"

	"examprep/internal/config"
	"examprep/internal/models"
	"examprep/internal/observability"
	contextutils "examprep/internal/utils"
)

// In-memory fakes backing the service tests. They implement the same
// interfaces the SQL stores do, over plain slices and maps.

func newTestConfig() *config.Config {
	return &config.Config{
		IsTest: true,
		Engine: config.EngineConfig{
			Mastery: config.MasteryConfig{
				WeakThreshold:       config.DefaultWeakThreshold,
				CriticalThreshold:   config.DefaultCriticalThreshold,
				DevelopingThreshold: config.DefaultDevelopingThreshold,
				MinAttemptsPerTopic: config.DefaultMinAttemptsPerTopic,
				TrendWindow:         config.DefaultTrendWindow,
				TrendMinAttempts:    config.DefaultTrendMinAttempts,
				TrendDelta:          config.DefaultTrendDelta,
			},
			Selection: config.SelectionConfig{
				WeakWeight:     config.DefaultWeakWeight,
				DueWeight:      config.DefaultDueWeight,
				MatchWeight:    config.DefaultMatchWeight,
				CoverageWeight: config.DefaultCoverageWeight,
				TieBreakJitter: config.DefaultTieBreakJitter,
				TopPoolSize:    config.DefaultTopPoolSize,
				MaxCandidates:  config.DefaultMaxCandidates,
				TargetAccuracy: config.DefaultTargetAccuracy,
			},
			Calibration: config.CalibrationConfig{
				MinResponses:           config.DefaultMinResponsesCalibration,
				MinResponsesDistractor: config.DefaultMinResponsesDistractor,
				AbilityGroupFraction:   config.DefaultAbilityGroupFraction,
				LowDiscrimination:      config.DefaultLowDiscrimination,
				CriticalDiscrimination: config.DefaultCriticalDiscrimination,
				BatchSize:              config.DefaultCalibrationBatchSize,
			},
			Plateau: config.PlateauConfig{
				WindowDays:        config.DefaultPlateauWindowDays,
				MinDaysWithData:   config.DefaultPlateauMinDays,
				SlopeEpsilon:      config.DefaultPlateauSlopeEpsilon,
				VarianceThreshold: config.DefaultPlateauVariance,
			},
			Cognitive: config.CognitiveConfig{
				MinAttempts:        config.DefaultCognitiveMinAttempts,
				ConfidentAttempts:  config.DefaultCognitiveConfident,
				FastAnswerMs:       config.DefaultFastAnswerMs,
				SlowAnswerMs:       config.DefaultSlowAnswerMs,
				ArchetypeThreshold: config.DefaultArchetypeThreshold,
			},
			Hints: config.HintsConfig{
				MaxHintsPerLearner: config.DefaultMaxHintsPerLearner,
				HintTTL:            config.DefaultHintTTL,
			},
			Worker: config.WorkerConfig{
				RunInterval:       config.DefaultWorkerRunInterval,
				HeartbeatInterval: config.DefaultWorkerHeartbeat,
				MaxRunHistory:     config.DefaultWorkerMaxRunHistory,
			},
		},
	}
}

func newTestLogger() *observability.Logger {
	return observability.NewLogger(nil)
}

// fakeItemStore is an in-memory ItemStore
type fakeItemStore struct {
	items        map[int]*models.Item
	calibrations map[int]*models.CalibrationRecord
	profiles     map[int]*models.DistractorProfile
	needing      []int

	// updateErr simulates a per-item write failure
	updateErr map[int]error
	updated   []int
}

func newFakeItemStore() *fakeItemStore {
	return &fakeItemStore{
		items:        make(map[int]*models.Item),
		calibrations: make(map[int]*models.CalibrationRecord),
		profiles:     make(map[int]*models.DistractorProfile),
		updateErr:    make(map[int]error),
	}
}

func (f *fakeItemStore) addItem(item *models.Item) {
	if item.Status == "" {
		item.Status = models.ItemStatusActive
	}
	f.items[item.ID] = item
}

func (f *fakeItemStore) GetItem(_ context.Context, itemID int) (*models.Item, error) {
	item, ok := f.items[itemID]
	if !ok {
		return nil, contextutils.WrapErrorf(contextutils.ErrItemNotFound, "item %d not found", itemID)
	}
	return item, nil
}

func (f *fakeItemStore) GetItems(_ context.Context, scope models.SelectionScope, limit int) ([]*models.Item, error) {
	var ids []int
	for id := range f.items {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var out []*models.Item
	for _, id := range ids {
		item := f.items[id]
		if item.Status != models.ItemStatusActive {
			continue
		}
		if scope.Topic != "" && item.Topic != scope.Topic {
			continue
		}
		if scope.Specialty != "" && item.Specialty != scope.Specialty {
			continue
		}
		out = append(out, item)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeItemStore) GetItemsByIDs(_ context.Context, itemIDs []int) (map[int]*models.Item, error) {
	out := make(map[int]*models.Item, len(itemIDs))
	for _, id := range itemIDs {
		if item, ok := f.items[id]; ok {
			out[id] = item
		}
	}
	return out, nil
}

func (f *fakeItemStore) GetCalibration(_ context.Context, itemID int) (*models.CalibrationRecord, error) {
	record, ok := f.calibrations[itemID]
	if !ok {
		return nil, contextutils.WrapErrorf(contextutils.ErrItemNotCalibrated, "item %d not calibrated", itemID)
	}
	return record, nil
}

func (f *fakeItemStore) GetDistractorProfile(_ context.Context, itemID int) (*models.DistractorProfile, error) {
	profile, ok := f.profiles[itemID]
	if !ok {
		return nil, contextutils.WrapErrorf(contextutils.ErrItemNotCalibrated, "item %d has no distractor profile", itemID)
	}
	return profile, nil
}

func (f *fakeItemStore) ListItemsNeedingCalibration(_ context.Context, _, limit int) ([]int, error) {
	if limit > 0 && len(f.needing) > limit {
		return f.needing[:limit], nil
	}
	return f.needing, nil
}

func (f *fakeItemStore) UpdateCalibration(_ context.Context, record *models.CalibrationRecord, profile *models.DistractorProfile) error {
	if err := f.updateErr[record.ItemID]; err != nil {
		return err
	}
	f.calibrations[record.ItemID] = record
	if profile != nil {
		f.profiles[record.ItemID] = profile
	}
	f.updated = append(f.updated, record.ItemID)
	return nil
}

// fakeLedger is an in-memory ResponseLedger. Attempts are kept in insertion
// order, which tests treat as oldest-first.
type fakeLedger struct {
	attempts []*models.Attempt
	nextID   int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{}
}

func (f *fakeLedger) RecordAttempt(_ context.Context, attempt *models.Attempt) error {
	f.nextID++
	attempt.ID = f.nextID
	f.attempts = append(f.attempts, attempt)
	return nil
}

func (f *fakeLedger) add(attempt *models.Attempt) {
	_ = f.RecordAttempt(context.Background(), attempt)
}

func (f *fakeLedger) GetAttempts(ctx context.Context, learnerID int) ([]*models.Attempt, error) {
	return f.GetAttemptsSince(ctx, learnerID, time.Time{})
}

func (f *fakeLedger) GetAttemptsSince(_ context.Context, learnerID int, since time.Time) ([]*models.Attempt, error) {
	var out []*models.Attempt
	for _, a := range f.attempts {
		if a.LearnerID != learnerID {
			continue
		}
		if !since.IsZero() && a.CreatedAt.Before(since) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeLedger) GetResponsesForItem(_ context.Context, itemID int) ([]*models.Attempt, error) {
	var out []*models.Attempt
	for _, a := range f.attempts {
		if a.ItemID == itemID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeLedger) GetResponsesForItems(ctx context.Context, itemIDs []int) (map[int][]*models.Attempt, error) {
	out := make(map[int][]*models.Attempt, len(itemIDs))
	for _, id := range itemIDs {
		responses, _ := f.GetResponsesForItem(ctx, id)
		if len(responses) > 0 {
			out[id] = responses
		}
	}
	return out, nil
}

func (f *fakeLedger) GetLearnerAccuracies(_ context.Context, minAttempts int) (map[int]float64, error) {
	totals := make(map[int]int)
	corrects := make(map[int]int)
	for _, a := range f.attempts {
		totals[a.LearnerID]++
		if a.Correct {
			corrects[a.LearnerID]++
		}
	}

	out := make(map[int]float64, len(totals))
	for learnerID, total := range totals {
		if total < minAttempts {
			continue
		}
		out[learnerID] = float64(corrects[learnerID]) / float64(total)
	}
	return out, nil
}

func (f *fakeLedger) GetActiveLearners(_ context.Context, since time.Time) ([]int, error) {
	seen := make(map[int]bool)
	var out []int
	for _, a := range f.attempts {
		if a.CreatedAt.Before(since) || seen[a.LearnerID] {
			continue
		}
		seen[a.LearnerID] = true
		out = append(out, a.LearnerID)
	}
	sort.Ints(out)
	return out, nil
}
