package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"examprep/internal/config"
	"examprep/internal/models"
	"examprep/internal/observability"
	"examprep/internal/services"
	contextutils "examprep/internal/utils"

	"github.com/gin-gonic/gin"
)

// EngineHandler exposes the selection and calibration engine over HTTP
type EngineHandler struct {
	mastery     services.MasteryServiceInterface
	schedule    services.ScheduleServiceInterface
	calibration services.CalibrationServiceInterface
	selection   services.SelectionServiceInterface
	insight     services.InsightServiceInterface
	cognitive   services.CognitiveServiceInterface
	hints       services.GenerationHintServiceInterface
	items       services.ItemStore
	ledger      services.ResponseLedger
	cfg         *config.Config
	logger      *observability.Logger
}

// NewEngineHandler creates a new EngineHandler
func NewEngineHandler(
	mastery services.MasteryServiceInterface,
	schedule services.ScheduleServiceInterface,
	calibration services.CalibrationServiceInterface,
	selection services.SelectionServiceInterface,
	insight services.InsightServiceInterface,
	cognitive services.CognitiveServiceInterface,
	hints services.GenerationHintServiceInterface,
	items services.ItemStore,
	ledger services.ResponseLedger,
	cfg *config.Config,
	logger *observability.Logger,
) *EngineHandler {
	return &EngineHandler{
		mastery:     mastery,
		schedule:    schedule,
		calibration: calibration,
		selection:   selection,
		insight:     insight,
		cognitive:   cognitive,
		hints:       hints,
		items:       items,
		ledger:      ledger,
		cfg:         cfg,
		logger:      logger,
	}
}

// RecordAttemptRequest is the payload for POST /v1/attempts. Correctness is
// derived server-side from the item key, never trusted from the client.
type RecordAttemptRequest struct {
	LearnerID   int             `json:"learner_id" binding:"required,gt=0"`
	ItemID      int             `json:"item_id" binding:"required,gt=0"`
	ChosenKey   string          `json:"chosen_key" binding:"required"`
	TimeSpentMs int             `json:"time_spent_ms" binding:"gte=0"`
	Confidence  *int            `json:"confidence,omitempty"`
	Trace       json.RawMessage `json:"trace,omitempty"`
}

// RecordAttempt handles POST /v1/attempts
func (h *EngineHandler) RecordAttempt(c *gin.Context) {
	var req RecordAttemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		StandardizeHTTPError(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	if !contextutils.IsValidChoiceKey(req.ChosenKey) {
		HandleValidationError(c, "chosen_key", req.ChosenKey, "must be a single letter A-E")
		return
	}
	if req.Confidence != nil && !contextutils.IsValidConfidence(*req.Confidence) {
		HandleValidationError(c, "confidence", *req.Confidence, "must be between 1 and 5")
		return
	}

	ctx := contextutils.WithLearnerID(c.Request.Context(), req.LearnerID)

	item, err := h.items.GetItem(ctx, req.ItemID)
	if err != nil {
		HandleAppError(c, err)
		return
	}

	attempt := &models.Attempt{
		LearnerID:   req.LearnerID,
		ItemID:      item.ID,
		Topic:       item.Topic,
		Correct:     req.ChosenKey == item.CorrectKey,
		ChosenKey:   req.ChosenKey,
		TimeSpentMs: req.TimeSpentMs,
	}
	if req.Confidence != nil {
		attempt.Confidence.Int32 = int32(*req.Confidence)
		attempt.Confidence.Valid = true
	}
	if len(req.Trace) > 0 {
		// Traces are untrusted client input: reject them at the door
		// rather than storing garbage in the ledger.
		if _, err := h.cognitive.ValidateTrace(req.Trace); err != nil {
			HandleAppError(c, err)
			return
		}
		attempt.Trace = req.Trace
	}

	if err := h.ledger.RecordAttempt(ctx, attempt); err != nil {
		HandleAppError(c, err)
		return
	}

	c.JSON(http.StatusCreated, attempt)
}

// GetNextItem handles GET /v1/learners/:id/next-item
func (h *EngineHandler) GetNextItem(c *gin.Context) {
	learnerID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	scope := models.SelectionScope{
		Topic:     c.Query("topic"),
		Specialty: c.Query("specialty"),
	}
	excludeIDs, err := parseIDList(c.Query("exclude_ids"))
	if err != nil {
		HandleValidationError(c, "exclude_ids", c.Query("exclude_ids"), "must be a comma-separated list of integers")
		return
	}

	ctx := contextutils.WithLearnerID(c.Request.Context(), learnerID)
	item, err := h.selection.SelectNextItem(ctx, learnerID, scope, excludeIDs)
	if err != nil {
		HandleAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, item)
}

// GetWeakTopics handles GET /v1/learners/:id/weak-topics
func (h *EngineHandler) GetWeakTopics(c *gin.Context) {
	learnerID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	weak, err := h.mastery.GetWeakTopics(c.Request.Context(), learnerID)
	if err != nil {
		HandleAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"learner_id": learnerID, "weak_topics": weak})
}

// GetTopicPerformance handles GET /v1/learners/:id/topic-performance
func (h *EngineHandler) GetTopicPerformance(c *gin.Context) {
	learnerID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var lookback time.Duration
	if days := c.Query("lookback_days"); days != "" {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			HandleValidationError(c, "lookback_days", days, "must be a non-negative integer")
			return
		}
		lookback = time.Duration(n) * 24 * time.Hour
	}

	stats, err := h.mastery.GetTopicPerformance(c.Request.Context(), learnerID, c.Query("topic"), lookback)
	if err != nil {
		HandleAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"learner_id": learnerID, "topics": stats})
}

// GetReviewState handles GET /v1/learners/:id/items/:item_id/review-state
func (h *EngineHandler) GetReviewState(c *gin.Context) {
	learnerID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	itemID, ok := parseIDParam(c, "item_id")
	if !ok {
		return
	}

	state, err := h.schedule.GetReviewState(c.Request.Context(), learnerID, itemID)
	if err != nil {
		HandleAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, state)
}

// GetReviewStates handles GET /v1/learners/:id/review-states
func (h *EngineHandler) GetReviewStates(c *gin.Context) {
	learnerID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	states, err := h.schedule.GetReviewStates(c.Request.Context(), learnerID)
	if err != nil {
		HandleAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"learner_id": learnerID, "review_states": states})
}

// GetPlateau handles GET /v1/learners/:id/plateau
func (h *EngineHandler) GetPlateau(c *gin.Context) {
	learnerID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	report, err := h.insight.DetectPlateau(c.Request.Context(), learnerID)
	if err != nil {
		HandleAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

// GetCognitiveProfile handles GET /v1/learners/:id/cognitive-profile
func (h *EngineHandler) GetCognitiveProfile(c *gin.Context) {
	learnerID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	profile, err := h.cognitive.GetCognitiveProfile(c.Request.Context(), learnerID)
	if err != nil {
		HandleAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, profile)
}

// GetGenerationHints handles GET /v1/learners/:id/generation-hints
func (h *EngineHandler) GetGenerationHints(c *gin.Context) {
	learnerID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	hints, err := h.hints.GetGenerationHints(c.Request.Context(), learnerID)
	if err != nil {
		HandleAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"learner_id": learnerID, "hints": hints})
}

// RefreshGenerationHints handles POST /v1/learners/:id/generation-hints/refresh
func (h *EngineHandler) RefreshGenerationHints(c *gin.Context) {
	learnerID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	hints, err := h.hints.RefreshHints(c.Request.Context(), learnerID)
	if err != nil {
		HandleAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"learner_id": learnerID, "hints": hints})
}

// GetCalibration handles GET /v1/items/:id/calibration
func (h *EngineHandler) GetCalibration(c *gin.Context) {
	itemID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	record, err := h.items.GetCalibration(c.Request.Context(), itemID)
	if err != nil {
		HandleAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, record)
}

// GetDistractorProfile handles GET /v1/items/:id/distractors
func (h *EngineHandler) GetDistractorProfile(c *gin.Context) {
	itemID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	profile, err := h.items.GetDistractorProfile(c.Request.Context(), itemID)
	if err != nil {
		HandleAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, profile)
}

// CalibrateItem handles POST /v1/items/:id/calibration
func (h *EngineHandler) CalibrateItem(c *gin.Context) {
	itemID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	record, err := h.calibration.CalibrateItem(c.Request.Context(), itemID)
	if err != nil {
		HandleAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, record)
}

// CalibrateBatchRequest is the payload for POST /v1/calibration/batch. An
// empty item list calibrates whatever has crossed the response threshold.
type CalibrateBatchRequest struct {
	ItemIDs []int `json:"item_ids"`
}

// CalibrateBatch handles POST /v1/calibration/batch
func (h *EngineHandler) CalibrateBatch(c *gin.Context) {
	var req CalibrateBatchRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			StandardizeHTTPError(c, http.StatusBadRequest, "Invalid request body", err.Error())
			return
		}
	}

	records, err := h.calibration.CalibrateBatch(c.Request.Context(), req.ItemIDs)
	if err != nil {
		HandleAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"calibrated": len(records), "records": records})
}

func parseIDParam(c *gin.Context, name string) (int, bool) {
	raw := c.Param(name)
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		HandleValidationError(c, name, raw, "must be a positive integer")
		return 0, false
	}
	return id, true
}

func parseIDList(raw string) ([]int, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
