package services

import (
	"context"
	"math"
	"sort"
	"time"

	"examprep/internal/config"
	"examprep/internal/models"
	"examprep/internal/observability"
	contextutils "examprep/internal/utils"

	"go.opentelemetry.io/otel/attribute"
)

// CalibrationServiceInterface defines the interface for the item calibrator
type CalibrationServiceInterface interface {
	CalibrateItem(ctx context.Context, itemID int) (*models.CalibrationRecord, error)
	CalibrateBatch(ctx context.Context, itemIDs []int) ([]*models.CalibrationRecord, error)
}

// CalibrationService replaces an author-supplied difficulty guess with
// empirically observed behavior once enough pooled responses exist. It is
// the only component that writes derived state back to the item store, and
// it never runs on the selection hot path.
type CalibrationService struct {
	ledger ResponseLedger
	items  ItemStore
	cfg    *config.Config
	logger *observability.Logger

	timeNow func() time.Time
}

// NewCalibrationServiceWithLogger creates a new CalibrationService with a logger
func NewCalibrationServiceWithLogger(ledger ResponseLedger, items ItemStore, cfg *config.Config, logger *observability.Logger) *CalibrationService {
	return &CalibrationService{
		ledger:  ledger,
		items:   items,
		cfg:     cfg,
		logger:  logger,
		timeNow: time.Now,
	}
}

// CalibrateItem recalibrates a single item from its pooled response history
func (s *CalibrationService) CalibrateItem(ctx context.Context, itemID int) (result0 *models.CalibrationRecord, err error) {
	ctx, span := observability.TraceCalibrationFunction(ctx, "calibrate_item",
		observability.AttributeItemID(itemID),
	)
	defer observability.FinishSpan(span, &err)

	item, err := s.items.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	responses, err := s.ledger.GetResponsesForItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	abilities, err := s.ledger.GetLearnerAccuracies(ctx, 1)
	if err != nil {
		return nil, err
	}

	record, profile, err := s.computeCalibration(ctx, item, responses, abilities)
	if err != nil {
		return nil, err
	}

	if err = s.items.UpdateCalibration(ctx, record, profile); err != nil {
		return nil, err
	}
	return record, nil
}

// CalibrateBatch recalibrates a set of items. With a nil or empty set it
// calibrates whatever has crossed the response threshold, oldest
// calibration first. Per-item failures are logged and skipped; the batch
// never aborts as a whole.
func (s *CalibrationService) CalibrateBatch(ctx context.Context, itemIDs []int) (result0 []*models.CalibrationRecord, err error) {
	ctx, span := observability.TraceCalibrationFunction(ctx, "calibrate_batch",
		observability.AttributeBatchSize(len(itemIDs)),
	)
	defer observability.FinishSpan(span, &err)

	calCfg := &s.cfg.Engine.Calibration
	if len(itemIDs) == 0 {
		itemIDs, err = s.items.ListItemsNeedingCalibration(ctx, calCfg.MinResponses, calCfg.BatchSize)
		if err != nil {
			return nil, err
		}
	}
	if len(itemIDs) == 0 {
		return nil, nil
	}

	itemsByID, err := s.items.GetItemsByIDs(ctx, itemIDs)
	if err != nil {
		return nil, err
	}
	responsesByItem, err := s.ledger.GetResponsesForItems(ctx, itemIDs)
	if err != nil {
		return nil, err
	}

	// Ability proxy is computed once per run, not per item.
	abilities, err := s.ledger.GetLearnerAccuracies(ctx, 1)
	if err != nil {
		return nil, err
	}

	var records []*models.CalibrationRecord
	skipped := 0
	for _, itemID := range itemIDs {
		item := itemsByID[itemID]
		if item == nil {
			skipped++
			continue
		}

		record, profile, calErr := s.computeCalibration(ctx, item, responsesByItem[itemID], abilities)
		if calErr != nil {
			if contextutils.GetErrorCode(calErr) == contextutils.ErrorCodeInsufficientData {
				skipped++
				continue
			}
			s.logger.Error(ctx, "Failed to compute calibration, continuing batch", calErr,
				map[string]interface{}{"item_id": itemID})
			skipped++
			continue
		}

		if writeErr := s.items.UpdateCalibration(ctx, record, profile); writeErr != nil {
			// The previous record is retained unchanged; move on.
			s.logger.Error(ctx, "Failed to persist calibration, continuing batch", writeErr,
				map[string]interface{}{"item_id": itemID})
			skipped++
			continue
		}
		records = append(records, record)
	}

	span.SetAttributes(
		attribute.Int("calibration.written", len(records)),
		attribute.Int("calibration.skipped", skipped),
	)
	return records, nil
}

// computeCalibration derives the calibration record and (with enough data)
// the distractor profile for one item. Deterministic given the same
// response snapshot.
func (s *CalibrationService) computeCalibration(ctx context.Context, item *models.Item, responses []*models.Attempt, abilities map[int]float64) (record *models.CalibrationRecord, profile *models.DistractorProfile, err error) {
	calCfg := &s.cfg.Engine.Calibration

	n := len(responses)
	if n < calCfg.MinResponses {
		return nil, nil, contextutils.WrapErrorf(contextutils.ErrInsufficientData,
			"item %d has %d responses, needs %d", item.ID, n, calCfg.MinResponses)
	}

	correct := 0
	for _, r := range responses {
		if r.Correct {
			correct++
		}
	}
	pValue := float64(correct) / float64(n)

	top, bottom := abilityGroups(responses, abilities, calCfg.AbilityGroupFraction)
	discrimination := correctRate(top) - correctRate(bottom)

	ciLow, ciHigh := wilsonInterval(correct, n, config.WilsonZ)

	previous := item.DifficultyLevel
	if existing, getErr := s.items.GetCalibration(ctx, item.ID); getErr == nil {
		previous = existing.DifficultyLevel
	}

	record = &models.CalibrationRecord{
		ItemID:              item.ID,
		PValue:              pValue,
		DiscriminationIndex: discrimination,
		ResponseCount:       n,
		CILow:               ciLow,
		CIHigh:              ciHigh,
		DifficultyLevel:     classifyDifficulty(pValue),
		PreviousDifficulty:  previous,
		LowDiscrimination:   discrimination < calCfg.LowDiscrimination,
		FlaggedCritical:     discrimination < calCfg.CriticalDiscrimination,
		CalibratedAt:        s.timeNow(),
	}

	if n >= calCfg.MinResponsesDistractor {
		profile = distractorProfile(item, responses, top, bottom, s.timeNow())
	}

	return record, profile, nil
}

// classifyDifficulty maps a p-value onto the five difficulty bands
func classifyDifficulty(pValue float64) models.DifficultyLevel {
	switch {
	case pValue >= 0.85:
		return models.DifficultyVeryEasy
	case pValue >= 0.70:
		return models.DifficultyEasy
	case pValue >= 0.55:
		return models.DifficultyMedium
	case pValue >= 0.40:
		return models.DifficultyHard
	default:
		return models.DifficultyVeryHard
	}
}

// wilsonInterval computes the Wilson score interval for a proportion.
// More accurate near 0 and 1 than the normal approximation.
func wilsonInterval(successes, n int, z float64) (low, high float64) {
	if n == 0 {
		return 0, 0
	}
	p := float64(successes) / float64(n)
	nf := float64(n)
	z2 := z * z

	denom := 1 + z2/nf
	center := (p + z2/(2*nf)) / denom
	half := z * math.Sqrt(p*(1-p)/nf+z2/(4*nf*nf)) / denom

	return math.Max(0, center-half), math.Min(1, center+half)
}

// abilityGroups partitions an item's responses into those made by the top
// and bottom ability fractions of its responders. Ability is the
// responder's overall historical accuracy, not their accuracy on this item.
func abilityGroups(responses []*models.Attempt, abilities map[int]float64, fraction float64) (top, bottom []*models.Attempt) {
	type responder struct {
		learnerID int
		ability   float64
	}

	seen := make(map[int]bool)
	var responders []responder
	for _, r := range responses {
		if seen[r.LearnerID] {
			continue
		}
		seen[r.LearnerID] = true
		ability, ok := abilities[r.LearnerID]
		if !ok {
			continue
		}
		responders = append(responders, responder{learnerID: r.LearnerID, ability: ability})
	}

	sort.Slice(responders, func(i, j int) bool {
		if responders[i].ability != responders[j].ability {
			return responders[i].ability < responders[j].ability
		}
		return responders[i].learnerID < responders[j].learnerID
	})

	groupSize := int(float64(len(responders)) * fraction)
	if groupSize < 1 {
		groupSize = 1
	}
	if groupSize > len(responders) {
		return nil, nil
	}

	bottomSet := make(map[int]bool, groupSize)
	topSet := make(map[int]bool, groupSize)
	for _, r := range responders[:groupSize] {
		bottomSet[r.learnerID] = true
	}
	for _, r := range responders[len(responders)-groupSize:] {
		topSet[r.learnerID] = true
	}

	for _, r := range responses {
		if topSet[r.LearnerID] {
			top = append(top, r)
		}
		if bottomSet[r.LearnerID] {
			bottom = append(bottom, r)
		}
	}
	return top, bottom
}

func correctRate(responses []*models.Attempt) float64 {
	if len(responses) == 0 {
		return 0
	}
	correct := 0
	for _, r := range responses {
		if r.Correct {
			correct++
		}
	}
	return float64(correct) / float64(len(responses))
}

// distractorProfile analyzes how each answer choice behaved across the
// response pool and the ability groups.
func distractorProfile(item *models.Item, responses []*models.Attempt, top, bottom []*models.Attempt, now time.Time) *models.DistractorProfile {
	n := len(responses)
	choiceKeys := make([]string, 0, len(item.Choices))
	for i := range item.Choices {
		choiceKeys = append(choiceKeys, string(rune('A'+i)))
	}

	profile := &models.DistractorProfile{
		ItemID:        item.ID,
		ResponseCount: n,
		ComputedAt:    now,
	}

	for _, key := range choiceKeys {
		stat := models.DistractorStat{
			Choice:    key,
			IsCorrect: key == item.CorrectKey,
		}

		for _, r := range responses {
			if r.ChosenKey == key {
				stat.SelectionCount++
			}
		}
		stat.SelectionRate = float64(stat.SelectionCount) / float64(n)
		stat.TopGroupRate = selectionRate(top, key)
		stat.BottomGroupRate = selectionRate(bottom, key)
		stat.Discrimination = stat.TopGroupRate - stat.BottomGroupRate
		for _, r := range top {
			if r.ChosenKey == key {
				stat.TopGroupSelections++
			}
		}

		if !stat.IsCorrect {
			if stat.SelectionRate < 0.05 {
				stat.Flags = append(stat.Flags, models.DistractorFlagTooObvious)
			}
			if stat.SelectionRate > 0.30 {
				stat.Flags = append(stat.Flags, models.DistractorFlagTooAttractive)
			}
			// A wrong answer chosen more by strong than weak responders is a
			// strong signal the item or its key is wrong.
			if stat.Discrimination > 0 {
				stat.Flags = append(stat.Flags, models.DistractorFlagMiskeyRisk)
			}
		}

		profile.Choices = append(profile.Choices, stat)
	}
	return profile
}

func selectionRate(responses []*models.Attempt, key string) float64 {
	if len(responses) == 0 {
		return 0
	}
	count := 0
	for _, r := range responses {
		if r.ChosenKey == key {
			count++
		}
	}
	return float64(count) / float64(len(responses))
}
