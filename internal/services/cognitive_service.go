package services

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"time"

	"examprep/internal/config"
	"examprep/internal/models"
	"examprep/internal/observability"
	contextutils "examprep/internal/utils"

	"github.com/go-playground/validator/v10"
	"github.com/montanaflynn/stats"
	"go.opentelemetry.io/otel/attribute"
)

// Bounds on client-supplied interaction traces. Anything outside them is
// discarded before computation.
const (
	maxTraceBytes  = 64 * 1024
	maxTraceEvents = 500
)

// CognitiveServiceInterface defines the interface for the archetype classifier
type CognitiveServiceInterface interface {
	GetCognitiveProfile(ctx context.Context, learnerID int) (*models.CognitiveProfile, error)
	ValidateTrace(raw json.RawMessage) ([]models.InteractionEvent, error)
}

// CognitiveService detects error-prone behavioral patterns from interaction
// traces. It is the only component that ingests semi-structured
// client-supplied data, so every trace is validated against a strict
// allow-list before any computation touches it.
type CognitiveService struct {
	ledger   ResponseLedger
	items    ItemStore
	cfg      *config.Config
	logger   *observability.Logger
	validate *validator.Validate

	timeNow func() time.Time
}

// NewCognitiveServiceWithLogger creates a new CognitiveService with a logger
func NewCognitiveServiceWithLogger(ledger ResponseLedger, items ItemStore, cfg *config.Config, logger *observability.Logger) *CognitiveService {
	return &CognitiveService{
		ledger:   ledger,
		items:    items,
		cfg:      cfg,
		logger:   logger,
		validate: validator.New(),
		timeNow:  time.Now,
	}
}

// GetCognitiveProfile classifies the learner's behavioral archetype. Below
// the minimum attempt count it returns an insufficient-data error so the
// caller can distinguish "balanced" from "we don't know yet".
func (s *CognitiveService) GetCognitiveProfile(ctx context.Context, learnerID int) (result0 *models.CognitiveProfile, err error) {
	ctx, span := observability.TraceCognitiveFunction(ctx, "get_cognitive_profile",
		observability.AttributeLearnerID(learnerID),
	)
	defer observability.FinishSpan(span, &err)

	cogCfg := &s.cfg.Engine.Cognitive

	attempts, err := s.ledger.GetAttempts(ctx, learnerID)
	if err != nil {
		return nil, err
	}
	if len(attempts) < cogCfg.MinAttempts {
		return nil, contextutils.WrapErrorf(contextutils.ErrInsufficientData,
			"learner %d has %d attempts, needs %d", learnerID, len(attempts), cogCfg.MinAttempts)
	}

	itemsByID, err := s.itemsForAttempts(ctx, attempts)
	if err != nil {
		return nil, err
	}

	metrics := s.behavioralMetrics(ctx, attempts, itemsByID)
	profile := classifyArchetypes(metrics, cogCfg)
	profile.LearnerID = learnerID
	profile.ComputedAt = s.timeNow()

	span.SetAttributes(
		attribute.String("cognitive.primary", string(profile.PrimaryArchetype)),
		attribute.Int("cognitive.sample_size", metrics.SampleSize),
	)
	return profile, nil
}

func (s *CognitiveService) itemsForAttempts(ctx context.Context, attempts []*models.Attempt) (map[int]*models.Item, error) {
	seen := make(map[int]bool)
	var ids []int
	for _, a := range attempts {
		if !seen[a.ItemID] {
			seen[a.ItemID] = true
			ids = append(ids, a.ItemID)
		}
	}
	return s.items.GetItemsByIDs(ctx, ids)
}

// behavioralMetrics computes the raw signals feeding archetype scores
func (s *CognitiveService) behavioralMetrics(ctx context.Context, attempts []*models.Attempt, itemsByID map[int]*models.Item) models.BehavioralMetrics {
	cogCfg := &s.cfg.Engine.Cognitive

	total := len(attempts)
	fast := 0
	slow := 0
	changed := 0
	wrongDirection := 0
	invalidTraces := 0

	var confidences, correctness []float64

	for _, a := range attempts {
		if a.TimeSpentMs > 0 && a.TimeSpentMs < cogCfg.FastAnswerMs {
			fast++
		}
		if a.TimeSpentMs > cogCfg.SlowAnswerMs {
			slow++
		}

		if a.Confidence.Valid {
			confidences = append(confidences, float64(a.Confidence.Int32))
			if a.Correct {
				correctness = append(correctness, 1)
			} else {
				correctness = append(correctness, 0)
			}
		}

		if len(a.Trace) == 0 {
			continue
		}
		events, validErr := s.ValidateTrace(a.Trace)
		if validErr != nil {
			invalidTraces++
			continue
		}
		correctKey := ""
		if item := itemsByID[a.ItemID]; item != nil {
			correctKey = item.CorrectKey
		}
		didChange, awayFromCorrect := analyzeSelections(events, a.ChosenKey, correctKey)
		if didChange {
			changed++
			if awayFromCorrect {
				wrongDirection++
			}
		}
	}

	if invalidTraces > 0 {
		s.logger.Warn(ctx, "Discarded invalid interaction traces", map[string]interface{}{
			"count": invalidTraces,
		})
	}

	m := models.BehavioralMetrics{SampleSize: total}
	if total > 0 {
		m.AnswerChangeRate = float64(changed) / float64(total)
		m.FastAnswerRate = float64(fast) / float64(total)
		m.SlowAnswerRate = float64(slow) / float64(total)
	}
	if changed > 0 {
		m.WrongDirectionRate = float64(wrongDirection) / float64(changed)
	}
	if len(confidences) >= 2 {
		if r, err := stats.Pearson(confidences, correctness); err == nil && !math.IsNaN(r) {
			m.ConfidenceAccuracyR = r
		}
	}
	return m
}

// analyzeSelections walks the ordered selection events of one attempt.
// didChange is true when the learner settled on a different choice than an
// earlier selection; awayFromCorrect when an earlier selection was the
// correct key and the final one was not.
func analyzeSelections(events []models.InteractionEvent, finalKey, correctKey string) (didChange, awayFromCorrect bool) {
	var selections []string
	for _, ev := range events {
		if ev.Action == "select" || ev.Action == "change" {
			selections = append(selections, ev.Choice)
		}
	}
	if len(selections) == 0 {
		return false, false
	}

	for _, sel := range selections[:len(selections)-1] {
		if sel != finalKey {
			didChange = true
		}
		if correctKey != "" && sel == correctKey && finalKey != correctKey {
			awayFromCorrect = true
		}
	}
	return didChange, awayFromCorrect
}

// ValidateTrace parses and validates an untrusted interaction trace.
// Traces are bounded in size and event count, must contain only allowed
// fields, and every event's action, choice, and timestamp must be in range.
func (s *CognitiveService) ValidateTrace(raw json.RawMessage) ([]models.InteractionEvent, error) {
	if len(raw) > maxTraceBytes {
		return nil, contextutils.WrapErrorf(contextutils.ErrInvalidTrace, "trace exceeds %d bytes", maxTraceBytes)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var events []models.InteractionEvent
	if err := dec.Decode(&events); err != nil {
		return nil, contextutils.WrapError(contextutils.ErrInvalidTrace, err.Error())
	}
	if len(events) > maxTraceEvents {
		return nil, contextutils.WrapErrorf(contextutils.ErrInvalidTrace, "trace exceeds %d events", maxTraceEvents)
	}

	for i, ev := range events {
		if err := s.validate.Struct(ev); err != nil {
			return nil, contextutils.WrapErrorf(contextutils.ErrInvalidTrace, "event %d: %v", i, err)
		}
		if !contextutils.IsValidChoiceKey(ev.Choice) {
			return nil, contextutils.WrapErrorf(contextutils.ErrInvalidTrace, "event %d: invalid choice %q", i, ev.Choice)
		}
	}
	return events, nil
}

// classifyArchetypes scores each archetype independently and picks the
// highest scorer above the threshold as primary
func classifyArchetypes(m models.BehavioralMetrics, cfg *config.CognitiveConfig) *models.CognitiveProfile {
	scores := map[models.Archetype]float64{
		models.ArchetypeSecondGuesser: gateScore(
			m.AnswerChangeRate >= 0.30 && m.WrongDirectionRate >= 0.40,
			(m.AnswerChangeRate-0.30)+(m.WrongDirectionRate-0.40)),
		models.ArchetypePrematureCloser: gateScore(
			m.AnswerChangeRate <= 0.05 && math.Abs(m.ConfidenceAccuracyR) < 0.3,
			(0.05-m.AnswerChangeRate)+(0.3-math.Abs(m.ConfidenceAccuracyR))),
		models.ArchetypeTimePressured: gateScore(
			m.FastAnswerRate > 0.40,
			m.FastAnswerRate-0.40),
		models.ArchetypeConservativeHesitator: gateScore(
			m.SlowAnswerRate > 0.30,
			m.SlowAnswerRate-0.30),
	}

	primary := models.ArchetypeBalanced
	best := 0.0
	// Deterministic tie-break by fixed evaluation order
	ordered := []models.Archetype{
		models.ArchetypeSecondGuesser,
		models.ArchetypePrematureCloser,
		models.ArchetypeTimePressured,
		models.ArchetypeConservativeHesitator,
	}
	for _, arch := range ordered {
		if score := scores[arch]; score >= cfg.ArchetypeThreshold && score > best {
			primary = arch
			best = score
		}
	}

	profile := &models.CognitiveProfile{
		PrimaryArchetype: primary,
		Scores:           scores,
		Metrics:          m,
		Confident:        m.SampleSize >= cfg.ConfidentAttempts,
	}
	profile.Vulnerabilities, profile.Strengths = describeBehavior(primary, m)
	return profile
}

// gateScore turns a gate decision plus how far past the gate the metrics
// landed into a score in [0, 1]
func gateScore(pass bool, excess float64) float64 {
	if !pass {
		return 0
	}
	return clamp(0.5+excess, 0.5, 1.0)
}

func describeBehavior(primary models.Archetype, m models.BehavioralMetrics) (vulnerabilities, strengths []string) {
	switch primary {
	case models.ArchetypeSecondGuesser:
		vulnerabilities = append(vulnerabilities, "changes correct answers to incorrect ones under doubt")
	case models.ArchetypePrematureCloser:
		vulnerabilities = append(vulnerabilities, "commits to a first impression without verifying against alternatives")
	case models.ArchetypeTimePressured:
		vulnerabilities = append(vulnerabilities, "rushes through items faster than careful reading allows")
	case models.ArchetypeConservativeHesitator:
		vulnerabilities = append(vulnerabilities, "spends excessive time per item, risking incomplete sessions")
	}

	if m.ConfidenceAccuracyR >= 0.5 {
		strengths = append(strengths, "well-calibrated confidence")
	}
	if m.AnswerChangeRate > 0 && m.WrongDirectionRate < 0.25 {
		strengths = append(strengths, "answer changes tend toward the correct choice")
	}
	if m.FastAnswerRate <= 0.40 && m.SlowAnswerRate <= 0.30 {
		strengths = append(strengths, "steady pacing")
	}
	return vulnerabilities, strengths
}
