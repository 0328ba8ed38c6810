package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"examprep/internal/config"
	"examprep/internal/models"
	"examprep/internal/observability"
	contextutils "examprep/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Stub services with overridable behavior. Methods without an override
// return a not-found style error so an unexpected call fails loudly.

type stubMastery struct {
	weakTopics func(ctx context.Context, learnerID int) ([]*models.TopicWeakness, error)
	topicPerf  func(ctx context.Context, learnerID int, topicFilter string, lookback time.Duration) (map[string]*models.TopicWeakness, error)
}

func (s *stubMastery) GetWeakTopics(ctx context.Context, learnerID int) ([]*models.TopicWeakness, error) {
	if s.weakTopics == nil {
		return nil, contextutils.ErrInternalError
	}
	return s.weakTopics(ctx, learnerID)
}

func (s *stubMastery) GetTopicPerformance(ctx context.Context, learnerID int, topicFilter string, lookback time.Duration) (map[string]*models.TopicWeakness, error) {
	if s.topicPerf == nil {
		return nil, contextutils.ErrInternalError
	}
	return s.topicPerf(ctx, learnerID, topicFilter, lookback)
}

type stubSchedule struct {
	reviewState  func(ctx context.Context, learnerID, itemID int) (*models.ReviewState, error)
	reviewStates func(ctx context.Context, learnerID int) (map[int]*models.ReviewState, error)
}

func (s *stubSchedule) GetReviewState(ctx context.Context, learnerID, itemID int) (*models.ReviewState, error) {
	if s.reviewState == nil {
		return nil, contextutils.ErrInternalError
	}
	return s.reviewState(ctx, learnerID, itemID)
}

func (s *stubSchedule) GetReviewStates(ctx context.Context, learnerID int) (map[int]*models.ReviewState, error) {
	if s.reviewStates == nil {
		return nil, contextutils.ErrInternalError
	}
	return s.reviewStates(ctx, learnerID)
}

type stubCalibration struct {
	calibrateItem  func(ctx context.Context, itemID int) (*models.CalibrationRecord, error)
	calibrateBatch func(ctx context.Context, itemIDs []int) ([]*models.CalibrationRecord, error)
}

func (s *stubCalibration) CalibrateItem(ctx context.Context, itemID int) (*models.CalibrationRecord, error) {
	if s.calibrateItem == nil {
		return nil, contextutils.ErrInternalError
	}
	return s.calibrateItem(ctx, itemID)
}

func (s *stubCalibration) CalibrateBatch(ctx context.Context, itemIDs []int) ([]*models.CalibrationRecord, error) {
	if s.calibrateBatch == nil {
		return nil, contextutils.ErrInternalError
	}
	return s.calibrateBatch(ctx, itemIDs)
}

type stubSelection struct {
	selectNext func(ctx context.Context, learnerID int, scope models.SelectionScope, excludeIDs []int) (*models.Item, error)
}

func (s *stubSelection) SelectNextItem(ctx context.Context, learnerID int, scope models.SelectionScope, excludeIDs []int) (*models.Item, error) {
	if s.selectNext == nil {
		return nil, contextutils.ErrInternalError
	}
	return s.selectNext(ctx, learnerID, scope, excludeIDs)
}

func (s *stubSelection) ScoreCandidates(_ context.Context, _ int, _ models.SelectionScope, _ []int) ([]*models.ScoredCandidate, error) {
	return nil, contextutils.ErrInternalError
}

type stubInsight struct {
	detectPlateau func(ctx context.Context, learnerID int) (*models.PlateauReport, error)
}

func (s *stubInsight) DetectPlateau(ctx context.Context, learnerID int) (*models.PlateauReport, error) {
	if s.detectPlateau == nil {
		return nil, contextutils.ErrInternalError
	}
	return s.detectPlateau(ctx, learnerID)
}

type stubCognitive struct {
	profile       func(ctx context.Context, learnerID int) (*models.CognitiveProfile, error)
	validateTrace func(raw json.RawMessage) ([]models.InteractionEvent, error)
}

func (s *stubCognitive) GetCognitiveProfile(ctx context.Context, learnerID int) (*models.CognitiveProfile, error) {
	if s.profile == nil {
		return nil, contextutils.ErrInternalError
	}
	return s.profile(ctx, learnerID)
}

func (s *stubCognitive) ValidateTrace(raw json.RawMessage) ([]models.InteractionEvent, error) {
	if s.validateTrace == nil {
		return nil, nil
	}
	return s.validateTrace(raw)
}

type stubHints struct {
	get     func(ctx context.Context, learnerID int) ([]*models.GenerationHint, error)
	refresh func(ctx context.Context, learnerID int) ([]*models.GenerationHint, error)
}

func (s *stubHints) GetGenerationHints(ctx context.Context, learnerID int) ([]*models.GenerationHint, error) {
	if s.get == nil {
		return nil, contextutils.ErrInternalError
	}
	return s.get(ctx, learnerID)
}

func (s *stubHints) RefreshHints(ctx context.Context, learnerID int) ([]*models.GenerationHint, error) {
	if s.refresh == nil {
		return nil, contextutils.ErrInternalError
	}
	return s.refresh(ctx, learnerID)
}

func (s *stubHints) PruneExpired(_ context.Context) (int, error) {
	return 0, nil
}

type stubItemStore struct {
	items             map[int]*models.Item
	calibration       func(ctx context.Context, itemID int) (*models.CalibrationRecord, error)
	distractorProfile func(ctx context.Context, itemID int) (*models.DistractorProfile, error)
}

func (s *stubItemStore) GetItem(_ context.Context, itemID int) (*models.Item, error) {
	item, ok := s.items[itemID]
	if !ok {
		return nil, contextutils.WrapErrorf(contextutils.ErrItemNotFound, "item %d not found", itemID)
	}
	return item, nil
}

func (s *stubItemStore) GetItems(_ context.Context, _ models.SelectionScope, _ int) ([]*models.Item, error) {
	return nil, nil
}

func (s *stubItemStore) GetItemsByIDs(_ context.Context, _ []int) (map[int]*models.Item, error) {
	return s.items, nil
}

func (s *stubItemStore) GetCalibration(ctx context.Context, itemID int) (*models.CalibrationRecord, error) {
	if s.calibration == nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrItemNotCalibrated, "item %d not calibrated", itemID)
	}
	return s.calibration(ctx, itemID)
}

func (s *stubItemStore) GetDistractorProfile(ctx context.Context, itemID int) (*models.DistractorProfile, error) {
	if s.distractorProfile == nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrItemNotCalibrated, "item %d has no distractor profile", itemID)
	}
	return s.distractorProfile(ctx, itemID)
}

func (s *stubItemStore) ListItemsNeedingCalibration(_ context.Context, _, _ int) ([]int, error) {
	return nil, nil
}

func (s *stubItemStore) UpdateCalibration(_ context.Context, _ *models.CalibrationRecord, _ *models.DistractorProfile) error {
	return nil
}

type stubLedger struct {
	recorded []*models.Attempt
	err      error
}

func (s *stubLedger) RecordAttempt(_ context.Context, attempt *models.Attempt) error {
	if s.err != nil {
		return s.err
	}
	s.recorded = append(s.recorded, attempt)
	return nil
}

func (s *stubLedger) GetAttempts(_ context.Context, _ int) ([]*models.Attempt, error) {
	return nil, nil
}

func (s *stubLedger) GetAttemptsSince(_ context.Context, _ int, _ time.Time) ([]*models.Attempt, error) {
	return nil, nil
}

func (s *stubLedger) GetResponsesForItem(_ context.Context, _ int) ([]*models.Attempt, error) {
	return nil, nil
}

func (s *stubLedger) GetResponsesForItems(_ context.Context, _ []int) (map[int][]*models.Attempt, error) {
	return nil, nil
}

func (s *stubLedger) GetLearnerAccuracies(_ context.Context, _ int) (map[int]float64, error) {
	return nil, nil
}

func (s *stubLedger) GetActiveLearners(_ context.Context, _ time.Time) ([]int, error) {
	return nil, nil
}

// routerFixture bundles the stubs behind a wired router
type routerFixture struct {
	router      *gin.Engine
	mastery     *stubMastery
	schedule    *stubSchedule
	calibration *stubCalibration
	selection   *stubSelection
	insight     *stubInsight
	cognitive   *stubCognitive
	hints       *stubHints
	items       *stubItemStore
	ledger      *stubLedger
}

func newRouterFixture() *routerFixture {
	gin.SetMode(gin.TestMode)

	f := &routerFixture{
		mastery:     &stubMastery{},
		schedule:    &stubSchedule{},
		calibration: &stubCalibration{},
		selection:   &stubSelection{},
		insight:     &stubInsight{},
		cognitive:   &stubCognitive{},
		hints:       &stubHints{},
		items:       &stubItemStore{items: make(map[int]*models.Item)},
		ledger:      &stubLedger{},
	}

	cfg := &config.Config{IsTest: true}
	f.router = NewRouter(cfg,
		f.mastery, f.schedule, f.calibration, f.selection, f.insight,
		f.cognitive, f.hints, f.items, f.ledger,
		observability.NewLogger(nil),
	)
	return f
}

func (f *routerFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestRecordAttempt_DerivesCorrectnessFromItemKey(t *testing.T) {
	f := newRouterFixture()
	f.items.items[7] = &models.Item{ID: 7, Topic: "cardiology", CorrectKey: "B"}

	rec := f.do(t, http.MethodPost, "/v1/attempts", map[string]interface{}{
		"learner_id":    42,
		"item_id":       7,
		"chosen_key":    "B",
		"time_spent_ms": 30000,
		"confidence":    4,
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, f.ledger.recorded, 1)

	attempt := f.ledger.recorded[0]
	assert.True(t, attempt.Correct)
	assert.Equal(t, "cardiology", attempt.Topic)
	assert.Equal(t, 42, attempt.LearnerID)
	assert.True(t, attempt.Confidence.Valid)
	assert.Equal(t, int32(4), attempt.Confidence.Int32)
}

func TestRecordAttempt_WrongKeyIsIncorrect(t *testing.T) {
	f := newRouterFixture()
	f.items.items[7] = &models.Item{ID: 7, Topic: "cardiology", CorrectKey: "B"}

	rec := f.do(t, http.MethodPost, "/v1/attempts", map[string]interface{}{
		"learner_id": 42,
		"item_id":    7,
		"chosen_key": "C",
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, f.ledger.recorded, 1)
	assert.False(t, f.ledger.recorded[0].Correct)
}

func TestRecordAttempt_RejectsBadChoiceKey(t *testing.T) {
	f := newRouterFixture()

	rec := f.do(t, http.MethodPost, "/v1/attempts", map[string]interface{}{
		"learner_id": 42,
		"item_id":    7,
		"chosen_key": "Z",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.ledger.recorded)
}

func TestRecordAttempt_RejectsBadConfidence(t *testing.T) {
	f := newRouterFixture()

	rec := f.do(t, http.MethodPost, "/v1/attempts", map[string]interface{}{
		"learner_id": 42,
		"item_id":    7,
		"chosen_key": "A",
		"confidence": 9,
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecordAttempt_RejectsInvalidTrace(t *testing.T) {
	f := newRouterFixture()
	f.items.items[7] = &models.Item{ID: 7, Topic: "cardiology", CorrectKey: "A"}
	f.cognitive.validateTrace = func(_ json.RawMessage) ([]models.InteractionEvent, error) {
		return nil, contextutils.WrapError(contextutils.ErrInvalidTrace, "unknown action")
	}

	rec := f.do(t, http.MethodPost, "/v1/attempts", map[string]interface{}{
		"learner_id": 42,
		"item_id":    7,
		"chosen_key": "A",
		"trace":      []map[string]interface{}{{"action": "hover", "choice": "A", "at_ms": 10}},
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.ledger.recorded)
}

func TestRecordAttempt_UnknownItemIs404(t *testing.T) {
	f := newRouterFixture()

	rec := f.do(t, http.MethodPost, "/v1/attempts", map[string]interface{}{
		"learner_id": 42,
		"item_id":    999,
		"chosen_key": "A",
	})

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetNextItem_ReturnsSelectedItem(t *testing.T) {
	f := newRouterFixture()
	f.selection.selectNext = func(_ context.Context, learnerID int, scope models.SelectionScope, excludeIDs []int) (*models.Item, error) {
		assert.Equal(t, 42, learnerID)
		assert.Equal(t, "cardiology", scope.Topic)
		assert.Equal(t, []int{3, 9}, excludeIDs)
		return &models.Item{ID: 11, Topic: "cardiology"}, nil
	}

	rec := f.do(t, http.MethodGet, "/v1/learners/42/next-item?topic=cardiology&exclude_ids=3,9", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(11), body["id"])
}

func TestGetNextItem_NoCandidatesSignalsGeneration(t *testing.T) {
	f := newRouterFixture()
	f.selection.selectNext = func(_ context.Context, _ int, _ models.SelectionScope, _ []int) (*models.Item, error) {
		return nil, contextutils.WrapError(contextutils.ErrNoCandidates, "pool exhausted")
	}

	rec := f.do(t, http.MethodGet, "/v1/learners/42/next-item", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "no_candidates", body["status"])
}

func TestGetNextItem_RejectsNonNumericLearnerID(t *testing.T) {
	f := newRouterFixture()

	rec := f.do(t, http.MethodGet, "/v1/learners/abc/next-item", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetNextItem_RejectsMalformedExcludeList(t *testing.T) {
	f := newRouterFixture()

	rec := f.do(t, http.MethodGet, "/v1/learners/42/next-item?exclude_ids=3,x", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetCognitiveProfile_InsufficientDataIs422(t *testing.T) {
	f := newRouterFixture()
	f.cognitive.profile = func(_ context.Context, _ int) (*models.CognitiveProfile, error) {
		return nil, contextutils.WrapError(contextutils.ErrInsufficientData, "needs 50 attempts")
	}

	rec := f.do(t, http.MethodGet, "/v1/learners/42/cognitive-profile", nil)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestGetTopicPerformance_ParsesLookbackDays(t *testing.T) {
	f := newRouterFixture()
	var gotLookback time.Duration
	f.mastery.topicPerf = func(_ context.Context, _ int, _ string, lookback time.Duration) (map[string]*models.TopicWeakness, error) {
		gotLookback = lookback
		return map[string]*models.TopicWeakness{}, nil
	}

	rec := f.do(t, http.MethodGet, "/v1/learners/42/topic-performance?lookback_days=14", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 14*24*time.Hour, gotLookback)
}

func TestGetTopicPerformance_RejectsNegativeLookback(t *testing.T) {
	f := newRouterFixture()

	rec := f.do(t, http.MethodGet, "/v1/learners/42/topic-performance?lookback_days=-3", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetCalibration_NotCalibratedIs404(t *testing.T) {
	f := newRouterFixture()

	rec := f.do(t, http.MethodGet, "/v1/items/7/calibration", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCalibrateBatch_EmptyBodyCalibratesDiscoveredItems(t *testing.T) {
	f := newRouterFixture()
	var gotIDs []int
	f.calibration.calibrateBatch = func(_ context.Context, itemIDs []int) ([]*models.CalibrationRecord, error) {
		gotIDs = itemIDs
		return []*models.CalibrationRecord{{ItemID: 10}, {ItemID: 11}}, nil
	}

	rec := f.do(t, http.MethodPost, "/v1/calibration/batch", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, gotIDs)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(2), body["calibrated"])
}

func TestCalibrateBatch_ExplicitItemList(t *testing.T) {
	f := newRouterFixture()
	var gotIDs []int
	f.calibration.calibrateBatch = func(_ context.Context, itemIDs []int) ([]*models.CalibrationRecord, error) {
		gotIDs = itemIDs
		return nil, nil
	}

	rec := f.do(t, http.MethodPost, "/v1/calibration/batch", map[string]interface{}{
		"item_ids": []int{5, 6},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int{5, 6}, gotIDs)
}

func TestHealthEndpoint(t *testing.T) {
	f := newRouterFixture()

	rec := f.do(t, http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
}

func TestVersionEndpoint(t *testing.T) {
	f := newRouterFixture()

	rec := f.do(t, http.MethodGet, "/v1/version", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "engine", body["service"])
	assert.NotEmpty(t, body["version"])
}
