// Package services contains the core services of the adaptive selection
// and calibration engine.
package services

import (
	"context"
	"database/sql"
	"encoding/json"

	"examprep/internal/config"
	"examprep/internal/models"
	"examprep/internal/observability"
	contextutils "examprep/internal/utils"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
)

// ItemStore provides read access to the item bank and the single write
// path for calibration results.
type ItemStore interface {
	GetItem(ctx context.Context, itemID int) (*models.Item, error)
	GetItems(ctx context.Context, scope models.SelectionScope, limit int) ([]*models.Item, error)
	GetItemsByIDs(ctx context.Context, itemIDs []int) (map[int]*models.Item, error)
	GetCalibration(ctx context.Context, itemID int) (*models.CalibrationRecord, error)
	GetDistractorProfile(ctx context.Context, itemID int) (*models.DistractorProfile, error)
	ListItemsNeedingCalibration(ctx context.Context, minResponses, limit int) ([]int, error)
	UpdateCalibration(ctx context.Context, record *models.CalibrationRecord, profile *models.DistractorProfile) error
}

// SQLItemStore implements ItemStore on PostgreSQL
type SQLItemStore struct {
	db     *sql.DB
	cfg    *config.Config
	logger *observability.Logger
}

// NewItemStore creates a new SQL-backed item store
func NewItemStore(db *sql.DB, cfg *config.Config, logger *observability.Logger) *SQLItemStore {
	return &SQLItemStore{
		db:     db,
		cfg:    cfg,
		logger: logger,
	}
}

const itemColumns = `id, topic, specialty, content, choices, correct_key, status, difficulty_level, calibrated, created_at`

// GetItem fetches a single item by ID
func (s *SQLItemStore) GetItem(ctx context.Context, itemID int) (result0 *models.Item, err error) {
	ctx, span := observability.TraceDatabaseFunction(ctx, "get_item",
		observability.AttributeItemID(itemID),
	)
	defer observability.FinishSpan(span, &err)

	query := `SELECT ` + itemColumns + ` FROM items WHERE id = $1`

	item, err := scanItem(s.db.QueryRowContext(ctx, query, itemID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, contextutils.ErrItemNotFound
		}
		return nil, contextutils.WrapError(err, "failed to query item")
	}
	return item, nil
}

// GetItems fetches active items matching the scope, capped at limit.
// An empty scope field matches everything.
func (s *SQLItemStore) GetItems(ctx context.Context, scope models.SelectionScope, limit int) (result0 []*models.Item, err error) {
	ctx, span := observability.TraceDatabaseFunction(ctx, "get_items",
		observability.AttributeTopic(scope.Topic),
		observability.AttributeSpecialty(scope.Specialty),
		observability.AttributeLimit(limit),
	)
	defer observability.FinishSpan(span, &err)

	query := `
		SELECT ` + itemColumns + `
		FROM items
		WHERE status = $1
		  AND ($2 = '' OR topic = $2)
		  AND ($3 = '' OR specialty = $3)
		ORDER BY id
		LIMIT $4
	`

	rows, err := s.db.QueryContext(ctx, query, models.ItemStatusActive, scope.Topic, scope.Specialty, limit)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query items")
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn(ctx, "failed to close rows", map[string]interface{}{"error": closeErr.Error()})
		}
	}()

	var items []*models.Item
	for rows.Next() {
		item, scanErr := scanItem(rows)
		if scanErr != nil {
			return nil, contextutils.WrapError(scanErr, "failed to scan item")
		}
		items = append(items, item)
	}
	if err = rows.Err(); err != nil {
		return nil, contextutils.WrapError(err, "failed to iterate items")
	}

	span.SetAttributes(attribute.Int("items.count", len(items)))
	return items, nil
}

// GetItemsByIDs fetches a batch of items in a single query, keyed by ID.
// Missing IDs are simply absent from the result.
func (s *SQLItemStore) GetItemsByIDs(ctx context.Context, itemIDs []int) (result0 map[int]*models.Item, err error) {
	ctx, span := observability.TraceDatabaseFunction(ctx, "get_items_by_ids",
		observability.AttributeBatchSize(len(itemIDs)),
	)
	defer observability.FinishSpan(span, &err)

	if len(itemIDs) == 0 {
		return map[int]*models.Item{}, nil
	}

	query := `SELECT ` + itemColumns + ` FROM items WHERE id = ANY($1)`

	rows, err := s.db.QueryContext(ctx, query, pq.Array(itemIDs))
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query items by ids")
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn(ctx, "failed to close rows", map[string]interface{}{"error": closeErr.Error()})
		}
	}()

	items := make(map[int]*models.Item, len(itemIDs))
	for rows.Next() {
		item, scanErr := scanItem(rows)
		if scanErr != nil {
			return nil, contextutils.WrapError(scanErr, "failed to scan item")
		}
		items[item.ID] = item
	}
	if err = rows.Err(); err != nil {
		return nil, contextutils.WrapError(err, "failed to iterate items")
	}
	return items, nil
}

// GetCalibration fetches the calibration record for an item, if one exists
func (s *SQLItemStore) GetCalibration(ctx context.Context, itemID int) (result0 *models.CalibrationRecord, err error) {
	ctx, span := observability.TraceDatabaseFunction(ctx, "get_calibration",
		observability.AttributeItemID(itemID),
	)
	defer observability.FinishSpan(span, &err)

	query := `
		SELECT item_id, p_value, discrimination_index, response_count, ci_low, ci_high,
		       difficulty_level, previous_difficulty, low_discrimination, flagged_critical, calibrated_at
		FROM calibration_records WHERE item_id = $1
	`

	var rec models.CalibrationRecord
	var prev sql.NullString
	err = s.db.QueryRowContext(ctx, query, itemID).Scan(
		&rec.ItemID, &rec.PValue, &rec.DiscriminationIndex, &rec.ResponseCount,
		&rec.CILow, &rec.CIHigh, &rec.DifficultyLevel, &prev,
		&rec.LowDiscrimination, &rec.FlaggedCritical, &rec.CalibratedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, contextutils.ErrItemNotCalibrated
		}
		return nil, contextutils.WrapError(err, "failed to query calibration record")
	}
	if prev.Valid {
		rec.PreviousDifficulty = models.DifficultyLevel(prev.String)
	}
	return &rec, nil
}

// ListItemsNeedingCalibration returns item IDs with at least minResponses
// pooled responses, oldest calibration first. Items never calibrated sort
// ahead of everything else.
func (s *SQLItemStore) ListItemsNeedingCalibration(ctx context.Context, minResponses, limit int) (result0 []int, err error) {
	ctx, span := observability.TraceDatabaseFunction(ctx, "list_items_needing_calibration",
		attribute.Int("min_responses", minResponses),
		observability.AttributeLimit(limit),
	)
	defer observability.FinishSpan(span, &err)

	query := `
		SELECT i.id
		FROM items i
		JOIN attempts a ON a.item_id = i.id
		LEFT JOIN calibration_records cr ON cr.item_id = i.id
		WHERE i.status != 'retired'
		GROUP BY i.id, cr.calibrated_at
		HAVING COUNT(a.id) >= $1
		ORDER BY cr.calibrated_at ASC NULLS FIRST, i.id
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, minResponses, limit)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query items needing calibration")
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
			return nil, contextutils.WrapError(scanErr, "failed to scan item id")
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		return nil, contextutils.WrapError(err, "failed to iterate item ids")
	}

	span.SetAttributes(attribute.Int("items.count", len(ids)))
	return ids, nil
}

// UpdateCalibration persists a calibration record, its distractor profile,
// and the item's derived difficulty in one transaction. Either everything
// lands or nothing does.
func (s *SQLItemStore) UpdateCalibration(ctx context.Context, record *models.CalibrationRecord, profile *models.DistractorProfile) (err error) {
	ctx, span := observability.TraceDatabaseFunction(ctx, "update_calibration",
		observability.AttributeItemID(record.ItemID),
		observability.AttributeResponseCount(record.ResponseCount),
	)
	defer observability.FinishSpan(span, &err)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return contextutils.WrapError(contextutils.ErrCalibrationWriteFailure, err.Error())
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				s.logger.Error(ctx, "failed to roll back calibration transaction", rbErr)
			}
		}
	}()

	upsertRecord := `
		INSERT INTO calibration_records (
			item_id, p_value, discrimination_index, response_count, ci_low, ci_high,
			difficulty_level, previous_difficulty, low_discrimination, flagged_critical, calibrated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, $11)
		ON CONFLICT (item_id) DO UPDATE SET
			p_value = EXCLUDED.p_value,
			discrimination_index = EXCLUDED.discrimination_index,
			response_count = EXCLUDED.response_count,
			ci_low = EXCLUDED.ci_low,
			ci_high = EXCLUDED.ci_high,
			difficulty_level = EXCLUDED.difficulty_level,
			previous_difficulty = EXCLUDED.previous_difficulty,
			low_discrimination = EXCLUDED.low_discrimination,
			flagged_critical = EXCLUDED.flagged_critical,
			calibrated_at = EXCLUDED.calibrated_at
	`
	_, err = tx.ExecContext(ctx, upsertRecord,
		record.ItemID, record.PValue, record.DiscriminationIndex, record.ResponseCount,
		record.CILow, record.CIHigh, record.DifficultyLevel, string(record.PreviousDifficulty),
		record.LowDiscrimination, record.FlaggedCritical, record.CalibratedAt,
	)
	if err != nil {
		return contextutils.WrapError(contextutils.ErrCalibrationWriteFailure, err.Error())
	}

	if profile != nil {
		choicesJSON, marshalErr := json.Marshal(profile.Choices)
		if marshalErr != nil {
			err = contextutils.WrapError(contextutils.ErrCalibrationWriteFailure, marshalErr.Error())
			return err
		}
		upsertProfile := `
			INSERT INTO distractor_profiles (item_id, response_count, choices, computed_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (item_id) DO UPDATE SET
				response_count = EXCLUDED.response_count,
				choices = EXCLUDED.choices,
				computed_at = EXCLUDED.computed_at
		`
		_, err = tx.ExecContext(ctx, upsertProfile,
			profile.ItemID, profile.ResponseCount, choicesJSON, profile.ComputedAt,
		)
		if err != nil {
			return contextutils.WrapError(contextutils.ErrCalibrationWriteFailure, err.Error())
		}
	}

	// Flagged items leave active rotation until reviewed
	updateItem := `
		UPDATE items
		SET difficulty_level = $2,
		    calibrated = TRUE,
		    status = CASE WHEN $3 AND status = 'active' THEN 'flagged' ELSE status END
		WHERE id = $1
	`
	_, err = tx.ExecContext(ctx, updateItem, record.ItemID, record.DifficultyLevel, record.FlaggedCritical)
	if err != nil {
		return contextutils.WrapError(contextutils.ErrCalibrationWriteFailure, err.Error())
	}

	if err = tx.Commit(); err != nil {
		return contextutils.WrapError(contextutils.ErrCalibrationWriteFailure, err.Error())
	}
	return nil
}

// GetDistractorProfile fetches the stored distractor profile for an item
func (s *SQLItemStore) GetDistractorProfile(ctx context.Context, itemID int) (result0 *models.DistractorProfile, err error) {
	ctx, span := observability.TraceDatabaseFunction(ctx, "get_distractor_profile",
		observability.AttributeItemID(itemID),
	)
	defer observability.FinishSpan(span, &err)

	query := `SELECT item_id, response_count, choices, computed_at FROM distractor_profiles WHERE item_id = $1`

	var profile models.DistractorProfile
	var choicesJSON []byte
	err = s.db.QueryRowContext(ctx, query, itemID).Scan(
		&profile.ItemID, &profile.ResponseCount, &choicesJSON, &profile.ComputedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, contextutils.ErrItemNotCalibrated
		}
		return nil, contextutils.WrapError(err, "failed to query distractor profile")
	}
	if err = json.Unmarshal(choicesJSON, &profile.Choices); err != nil {
		return nil, contextutils.WrapError(err, "failed to unmarshal distractor choices")
	}
	return &profile, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scan code
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (*models.Item, error) {
	var item models.Item
	var contentJSON []byte
	var choicesJSON []byte
	err := row.Scan(
		&item.ID, &item.Topic, &item.Specialty, &contentJSON, &choicesJSON,
		&item.CorrectKey, &item.Status, &item.DifficultyLevel, &item.Calibrated, &item.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(contentJSON) > 0 {
		if err := json.Unmarshal(contentJSON, &item.Content); err != nil {
			return nil, err
		}
	}
	if len(choicesJSON) > 0 {
		if err := json.Unmarshal(choicesJSON, &item.Choices); err != nil {
			return nil, err
		}
	}
	return &item, nil
}
