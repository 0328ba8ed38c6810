package services

import (
	"context"
	"database/sql"
	"time"

	"examprep/internal/config"
	"examprep/internal/models"
	"examprep/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

// Review intervals per stage. This is a fixed-stage approximation of
// SM-2 spacing without an adaptive ease factor; the ease-factor extension
// is a possible future option, not a bug.
var stageIntervals = map[models.ReviewStage]time.Duration{
	models.StageNew:      0,
	models.StageLearning: 24 * time.Hour,
	models.StageYoung:    3 * 24 * time.Hour,
	models.StageMature:   7 * 24 * time.Hour,
	models.StageMastered: 21 * 24 * time.Hour,
}

// ScheduleServiceInterface defines the interface for the spaced-repetition scheduler
type ScheduleServiceInterface interface {
	GetReviewState(ctx context.Context, learnerID, itemID int) (*models.ReviewState, error)
	GetReviewStates(ctx context.Context, learnerID int) (map[int]*models.ReviewState, error)
}

// ScheduleService derives the spaced-repetition stage and due date for
// (learner, item) pairs. State is always recomputed from the pair's attempt
// history, never stored.
type ScheduleService struct {
	ledger ResponseLedger
	cfg    *config.Config
	logger *observability.Logger

	timeNow func() time.Time
}

// NewScheduleServiceWithLogger creates a new ScheduleService with a logger
func NewScheduleServiceWithLogger(ledger ResponseLedger, cfg *config.Config, logger *observability.Logger) *ScheduleService {
	return &ScheduleService{
		ledger:  ledger,
		cfg:     cfg,
		logger:  logger,
		timeNow: time.Now,
	}
}

// GetReviewState recomputes the review state for one (learner, item) pair
func (s *ScheduleService) GetReviewState(ctx context.Context, learnerID, itemID int) (result0 *models.ReviewState, err error) {
	ctx, span := observability.TraceScheduleFunction(ctx, "get_review_state",
		observability.AttributeLearnerID(learnerID),
		observability.AttributeItemID(itemID),
	)
	defer observability.FinishSpan(span, &err)

	attempts, err := s.ledger.GetAttempts(ctx, learnerID)
	if err != nil {
		return nil, err
	}

	var pair []*models.Attempt
	for _, a := range attempts {
		if a.ItemID == itemID {
			pair = append(pair, a)
		}
	}

	state := ClassifyHistory(pair, s.timeNow())
	state.LearnerID = learnerID
	state.ItemID = itemID

	span.SetAttributes(attribute.String("review.stage", string(state.Stage)))
	return state, nil
}

// GetReviewStates recomputes review states for every item the learner has
// attempted, keyed by item ID
func (s *ScheduleService) GetReviewStates(ctx context.Context, learnerID int) (result0 map[int]*models.ReviewState, err error) {
	ctx, span := observability.TraceScheduleFunction(ctx, "get_review_states",
		observability.AttributeLearnerID(learnerID),
	)
	defer observability.FinishSpan(span, &err)

	attempts, err := s.ledger.GetAttempts(ctx, learnerID)
	if err != nil {
		return nil, err
	}

	states := ReviewStatesFromAttempts(attempts, learnerID, s.timeNow())

	span.SetAttributes(attribute.Int("review.items", len(states)))
	return states, nil
}

// ReviewStatesFromAttempts groups a learner's attempt slice by item and
// classifies each pair. attempts must be ordered oldest first.
func ReviewStatesFromAttempts(attempts []*models.Attempt, learnerID int, now time.Time) map[int]*models.ReviewState {
	byItem := make(map[int][]*models.Attempt)
	for _, a := range attempts {
		byItem[a.ItemID] = append(byItem[a.ItemID], a)
	}

	states := make(map[int]*models.ReviewState, len(byItem))
	for itemID, pair := range byItem {
		state := ClassifyHistory(pair, now)
		state.LearnerID = learnerID
		state.ItemID = itemID
		states[itemID] = state
	}
	return states
}

// ClassifyHistory derives the review stage and due date from one pair's
// attempt history, ordered oldest first. Progression is monotonic in the
// ordering new < learning < young < mature < mastered for a growing stream
// of correct attempts.
func ClassifyHistory(pair []*models.Attempt, now time.Time) *models.ReviewState {
	state := &models.ReviewState{
		Stage:        models.StageNew,
		AttemptCount: len(pair),
	}

	if len(pair) == 0 {
		// Never attempted: always due.
		state.DueAt = now
		return state
	}

	correct := 0
	for _, a := range pair {
		if a.Correct {
			correct++
		}
	}
	state.CorrectCount = correct
	rate := float64(correct) / float64(len(pair))

	switch {
	case correct >= 5 && rate >= 0.80:
		state.Stage = models.StageMastered
	case correct >= 4 && rate >= 0.70:
		state.Stage = models.StageMature
	case correct >= 2:
		state.Stage = models.StageYoung
	default:
		state.Stage = models.StageLearning
	}

	last := pair[len(pair)-1].CreatedAt
	state.LastAttemptAt = sql.NullTime{Time: last, Valid: true}
	state.DueAt = last.Add(stageIntervals[state.Stage])
	return state
}
