package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"examprep/internal/config"
	"examprep/internal/models"
	"examprep/internal/observability"
	contextutils "examprep/internal/utils"

	"go.opentelemetry.io/otel/attribute"
)

// GenerationHintServiceInterface defines the interface for hint production
type GenerationHintServiceInterface interface {
	GetGenerationHints(ctx context.Context, learnerID int) ([]*models.GenerationHint, error)
	RefreshHints(ctx context.Context, learnerID int) ([]*models.GenerationHint, error)
	PruneExpired(ctx context.Context) (int, error)
}

// GenerationHintService turns the weakness rollup into targeting payloads
// for the external content generation pipeline. The engine only produces
// and stores these payloads; it never calls the generator.
type GenerationHintService struct {
	db      *sql.DB
	mastery MasteryServiceInterface
	cfg     *config.Config
	logger  *observability.Logger

	timeNow func() time.Time
}

// NewGenerationHintServiceWithLogger creates a new GenerationHintService with a logger
func NewGenerationHintServiceWithLogger(db *sql.DB, mastery MasteryServiceInterface, cfg *config.Config, logger *observability.Logger) *GenerationHintService {
	return &GenerationHintService{
		db:      db,
		mastery: mastery,
		cfg:     cfg,
		logger:  logger,
		timeNow: time.Now,
	}
}

// GetGenerationHints returns the learner's unexpired hints, highest
// priority first
func (s *GenerationHintService) GetGenerationHints(ctx context.Context, learnerID int) (result0 []*models.GenerationHint, err error) {
	ctx, span := observability.TraceHintFunction(ctx, "get_generation_hints",
		observability.AttributeLearnerID(learnerID),
	)
	defer observability.FinishSpan(span, &err)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, learner_id, topic, target_difficulty, recommended_focus, priority_weight, expires_at, created_at
		FROM generation_hints
		WHERE learner_id = $1 AND expires_at > $2
		ORDER BY priority_weight DESC, topic ASC`,
		learnerID, s.timeNow())
	if err != nil {
		return nil, contextutils.WrapError(contextutils.ErrDatabaseConnection, "failed to query generation hints")
	}
	defer func() { _ = rows.Close() }()

	var hints []*models.GenerationHint
	for rows.Next() {
		var h models.GenerationHint
		if err := rows.Scan(&h.ID, &h.LearnerID, &h.Topic, &h.TargetDifficulty, &h.RecommendedFocus, &h.PriorityWeight, &h.ExpiresAt, &h.CreatedAt); err != nil {
			return nil, contextutils.WrapError(contextutils.ErrInternalError, "failed to scan generation hint")
		}
		hints = append(hints, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, contextutils.WrapError(contextutils.ErrInternalError, "error iterating generation hints")
	}

	span.SetAttributes(attribute.Int("hints.count", len(hints)))
	return hints, nil
}

// RefreshHints recomputes the learner's hints from the current weakness
// rollup and replaces the stored set atomically. A learner with no weak
// topics ends up with no hints, which is the correct signal for the
// generation pipeline to do nothing.
func (s *GenerationHintService) RefreshHints(ctx context.Context, learnerID int) (result0 []*models.GenerationHint, err error) {
	ctx, span := observability.TraceHintFunction(ctx, "refresh_hints",
		observability.AttributeLearnerID(learnerID),
	)
	defer observability.FinishSpan(span, &err)

	weak, err := s.mastery.GetWeakTopics(ctx, learnerID)
	if err != nil {
		return nil, err
	}

	hintsCfg := &s.cfg.Engine.Hints
	if len(weak) > hintsCfg.MaxHintsPerLearner {
		weak = weak[:hintsCfg.MaxHintsPerLearner]
	}

	now := s.timeNow()
	expiresAt := now.Add(hintsCfg.HintTTL)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, contextutils.WrapError(contextutils.ErrDatabaseConnection, "failed to begin hint refresh transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM generation_hints WHERE learner_id = $1`, learnerID); err != nil {
		return nil, contextutils.WrapError(contextutils.ErrInternalError, "failed to clear previous hints")
	}

	var hints []*models.GenerationHint
	for _, tw := range weak {
		hint := buildHint(learnerID, tw, expiresAt)
		row := tx.QueryRowContext(ctx, `
			INSERT INTO generation_hints (learner_id, topic, target_difficulty, recommended_focus, priority_weight, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, created_at`,
			hint.LearnerID, hint.Topic, hint.TargetDifficulty, hint.RecommendedFocus, hint.PriorityWeight, hint.ExpiresAt)
		if err = row.Scan(&hint.ID, &hint.CreatedAt); err != nil {
			return nil, contextutils.WrapErrorf(contextutils.ErrInternalError, "failed to insert hint for topic %q", tw.Topic)
		}
		hints = append(hints, hint)
	}

	if err = tx.Commit(); err != nil {
		return nil, contextutils.WrapError(contextutils.ErrDatabaseConnection, "failed to commit hint refresh")
	}

	span.SetAttributes(attribute.Int("hints.count", len(hints)))
	return hints, nil
}

// PruneExpired deletes expired hints across all learners and returns how
// many were removed. Run periodically by the worker.
func (s *GenerationHintService) PruneExpired(ctx context.Context) (result0 int, err error) {
	ctx, span := observability.TraceHintFunction(ctx, "prune_expired_hints")
	defer observability.FinishSpan(span, &err)

	res, err := s.db.ExecContext(ctx, `DELETE FROM generation_hints WHERE expires_at <= $1`, s.timeNow())
	if err != nil {
		return 0, contextutils.WrapError(contextutils.ErrInternalError, "failed to prune expired hints")
	}
	pruned, err := res.RowsAffected()
	if err != nil {
		return 0, contextutils.WrapError(contextutils.ErrInternalError, "failed to count pruned hints")
	}

	span.SetAttributes(attribute.Int("hints.pruned", int(pruned)))
	return int(pruned), nil
}

// buildHint derives one targeting payload from a weak-topic entry. The
// target difficulty steps the learner up gradually: the weaker the topic,
// the easier the requested items.
func buildHint(learnerID int, tw *models.TopicWeakness, expiresAt time.Time) *models.GenerationHint {
	hint := &models.GenerationHint{
		LearnerID: learnerID,
		Topic:     tw.Topic,
		ExpiresAt: expiresAt,
	}

	switch tw.Severity {
	case models.SeverityCritical:
		hint.TargetDifficulty = models.DifficultyEasy
		hint.PriorityWeight = 3
	case models.SeverityWeak:
		hint.TargetDifficulty = models.DifficultyMedium
		hint.PriorityWeight = 2
	default:
		hint.TargetDifficulty = models.DifficultyHard
		hint.PriorityWeight = 1
	}

	switch tw.Trend {
	case models.TrendDeclining:
		hint.RecommendedFocus = fmt.Sprintf("accuracy in %s is declining; generate foundational items that rebuild core concepts", tw.Topic)
	case models.TrendImproving:
		hint.RecommendedFocus = fmt.Sprintf("%s is improving; generate items that consolidate recent gains", tw.Topic)
	default:
		hint.RecommendedFocus = fmt.Sprintf("%s has stalled below target; generate varied items that probe common misconceptions", tw.Topic)
	}

	return hint
}
