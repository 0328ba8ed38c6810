package services

import (
	"context"
	"database/sql"
	"time"

	"examprep/internal/config"
	"examprep/internal/models"
	"examprep/internal/observability"
	contextutils "examprep/internal/utils"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
)

// ResponseLedger is the append-only record of answer events. Every derived
// structure in the engine is recomputable from this ledger alone.
type ResponseLedger interface {
	RecordAttempt(ctx context.Context, attempt *models.Attempt) error
	GetAttempts(ctx context.Context, learnerID int) ([]*models.Attempt, error)
	GetAttemptsSince(ctx context.Context, learnerID int, since time.Time) ([]*models.Attempt, error)
	GetResponsesForItem(ctx context.Context, itemID int) ([]*models.Attempt, error)
	GetResponsesForItems(ctx context.Context, itemIDs []int) (map[int][]*models.Attempt, error)
	GetLearnerAccuracies(ctx context.Context, minAttempts int) (map[int]float64, error)
	GetActiveLearners(ctx context.Context, since time.Time) ([]int, error)
}

// SQLResponseLedger implements ResponseLedger on PostgreSQL
type SQLResponseLedger struct {
	db     *sql.DB
	cfg    *config.Config
	logger *observability.Logger
}

// NewResponseLedger creates a new SQL-backed response ledger
func NewResponseLedger(db *sql.DB, cfg *config.Config, logger *observability.Logger) *SQLResponseLedger {
	return &SQLResponseLedger{
		db:     db,
		cfg:    cfg,
		logger: logger,
	}
}

const attemptColumns = `id, learner_id, item_id, topic, correct, chosen_key, time_spent_ms, confidence, trace, created_at`

// RecordAttempt appends an answer event to the ledger. Attempts are never
// updated or deleted.
func (s *SQLResponseLedger) RecordAttempt(ctx context.Context, attempt *models.Attempt) (err error) {
	ctx, span := observability.TraceDatabaseFunction(ctx, "record_attempt",
		observability.AttributeLearnerID(attempt.LearnerID),
		observability.AttributeItemID(attempt.ItemID),
		attribute.Bool("attempt.correct", attempt.Correct),
	)
	defer observability.FinishSpan(span, &err)

	query := `
		INSERT INTO attempts (learner_id, item_id, topic, correct, chosen_key, time_spent_ms, confidence, trace)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id, created_at
	`

	var trace interface{}
	if len(attempt.Trace) > 0 {
		trace = []byte(attempt.Trace)
	}
	err = s.db.QueryRowContext(ctx, query,
		attempt.LearnerID, attempt.ItemID, attempt.Topic, attempt.Correct,
		attempt.ChosenKey, attempt.TimeSpentMs, attempt.Confidence, trace,
	).Scan(&attempt.ID, &attempt.CreatedAt)
	if err != nil {
		return contextutils.WrapError(err, "failed to record attempt")
	}
	return nil
}

// GetAttempts returns all attempts by a learner, oldest first
func (s *SQLResponseLedger) GetAttempts(ctx context.Context, learnerID int) ([]*models.Attempt, error) {
	return s.GetAttemptsSince(ctx, learnerID, time.Time{})
}

// GetAttemptsSince returns attempts by a learner at or after since, oldest first
func (s *SQLResponseLedger) GetAttemptsSince(ctx context.Context, learnerID int, since time.Time) (result0 []*models.Attempt, err error) {
	ctx, span := observability.TraceDatabaseFunction(ctx, "get_attempts_since",
		observability.AttributeLearnerID(learnerID),
	)
	defer observability.FinishSpan(span, &err)

	query := `
		SELECT ` + attemptColumns + `
		FROM attempts
		WHERE learner_id = $1 AND created_at >= $2
		ORDER BY created_at, id
	`

	rows, err := s.db.QueryContext(ctx, query, learnerID, since)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query attempts")
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn(ctx, "failed to close rows", map[string]interface{}{"error": closeErr.Error()})
		}
	}()

	attempts, err := scanAttempts(rows)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("attempts.count", len(attempts)))
	return attempts, nil
}

// GetResponsesForItem returns the pooled response history of an item across
// all learners, oldest first
func (s *SQLResponseLedger) GetResponsesForItem(ctx context.Context, itemID int) (result0 []*models.Attempt, err error) {
	ctx, span := observability.TraceDatabaseFunction(ctx, "get_responses_for_item",
		observability.AttributeItemID(itemID),
	)
	defer observability.FinishSpan(span, &err)

	query := `
		SELECT ` + attemptColumns + `
		FROM attempts
		WHERE item_id = $1
		ORDER BY created_at, id
	`

	rows, err := s.db.QueryContext(ctx, query, itemID)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query item responses")
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn(ctx, "failed to close rows", map[string]interface{}{"error": closeErr.Error()})
		}
	}()

	attempts, err := scanAttempts(rows)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("responses.count", len(attempts)))
	return attempts, nil
}

// GetResponsesForItems returns pooled response histories for a batch of
// items in a single query, keyed by item ID
func (s *SQLResponseLedger) GetResponsesForItems(ctx context.Context, itemIDs []int) (result0 map[int][]*models.Attempt, err error) {
	ctx, span := observability.TraceDatabaseFunction(ctx, "get_responses_for_items",
		observability.AttributeBatchSize(len(itemIDs)),
	)
	defer observability.FinishSpan(span, &err)

	if len(itemIDs) == 0 {
		return map[int][]*models.Attempt{}, nil
	}

	query := `
		SELECT ` + attemptColumns + `
		FROM attempts
		WHERE item_id = ANY($1)
		ORDER BY item_id, created_at, id
	`

	rows, err := s.db.QueryContext(ctx, query, pq.Array(itemIDs))
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query batched item responses")
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn(ctx, "failed to close rows", map[string]interface{}{"error": closeErr.Error()})
		}
	}()

	attempts, err := scanAttempts(rows)
	if err != nil {
		return nil, err
	}

	byItem := make(map[int][]*models.Attempt, len(itemIDs))
	for _, a := range attempts {
		byItem[a.ItemID] = append(byItem[a.ItemID], a)
	}

	span.SetAttributes(attribute.Int("responses.count", len(attempts)))
	return byItem, nil
}

// GetLearnerAccuracies returns the overall accuracy of every learner with
// at least minAttempts attempts. Used as the ability proxy for
// discrimination grouping.
func (s *SQLResponseLedger) GetLearnerAccuracies(ctx context.Context, minAttempts int) (result0 map[int]float64, err error) {
	ctx, span := observability.TraceDatabaseFunction(ctx, "get_learner_accuracies",
		attribute.Int("min_attempts", minAttempts),
	)
	defer observability.FinishSpan(span, &err)

	query := `
		SELECT learner_id,
		       AVG(CASE WHEN correct THEN 1.0 ELSE 0.0 END) AS accuracy
		FROM attempts
		GROUP BY learner_id
		HAVING COUNT(*) >= $1
	`

	rows, err := s.db.QueryContext(ctx, query, minAttempts)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query learner accuracies")
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn(ctx, "failed to close rows", map[string]interface{}{"error": closeErr.Error()})
		}
	}()

	accuracies := make(map[int]float64)
	for rows.Next() {
		var learnerID int
		var accuracy float64
		if scanErr := rows.Scan(&learnerID, &accuracy); scanErr != nil {
			return nil, contextutils.WrapError(scanErr, "failed to scan learner accuracy")
		}
		accuracies[learnerID] = accuracy
	}
	if err = rows.Err(); err != nil {
		return nil, contextutils.WrapError(err, "failed to iterate learner accuracies")
	}

	span.SetAttributes(attribute.Int("learners.count", len(accuracies)))
	return accuracies, nil
}

// GetActiveLearners returns learners with at least one attempt since the
// given time
func (s *SQLResponseLedger) GetActiveLearners(ctx context.Context, since time.Time) (result0 []int, err error) {
	ctx, span := observability.TraceDatabaseFunction(ctx, "get_active_learners")
	defer observability.FinishSpan(span, &err)

	query := `SELECT DISTINCT learner_id FROM attempts WHERE created_at >= $1 ORDER BY learner_id`

	rows, err := s.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query active learners")
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn(ctx, "failed to close rows", map[string]interface{}{"error": closeErr.Error()})
		}
	}()

	var ids []int
	for rows.Next() {
		var id int
		if scanErr := rows.Scan(&id); scanErr != nil {
			return nil, contextutils.WrapError(scanErr, "failed to scan learner id")
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		return nil, contextutils.WrapError(err, "failed to iterate learner ids")
	}

	span.SetAttributes(attribute.Int("learners.count", len(ids)))
	return ids, nil
}

func scanAttempts(rows *sql.Rows) ([]*models.Attempt, error) {
	var attempts []*models.Attempt
	for rows.Next() {
		var a models.Attempt
		var trace []byte
		err := rows.Scan(
			&a.ID, &a.LearnerID, &a.ItemID, &a.Topic, &a.Correct,
			&a.ChosenKey, &a.TimeSpentMs, &a.Confidence, &trace, &a.CreatedAt,
		)
		if err != nil {
			return nil, contextutils.WrapError(err, "failed to scan attempt")
		}
		a.Trace = trace
		attempts = append(attempts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, contextutils.WrapError(err, "failed to iterate attempts")
	}
	return attempts, nil
}
