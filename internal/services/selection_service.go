package services

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"examprep/internal/config"
	"examprep/internal/models"
	"examprep/internal/observability"
	contextutils "examprep/internal/utils"

	"go.opentelemetry.io/otel/attribute"
)

// SelectionServiceInterface defines the interface for the candidate scorer and selector
type SelectionServiceInterface interface {
	SelectNextItem(ctx context.Context, learnerID int, scope models.SelectionScope, excludeIDs []int) (*models.Item, error)
	ScoreCandidates(ctx context.Context, learnerID int, scope models.SelectionScope, excludeIDs []int) ([]*models.ScoredCandidate, error)
}

// SelectionService combines weakness, due-review, difficulty-match, and
// coverage signals into a priority score per candidate and performs
// weighted-random selection among the top scorers. Selection is synchronous
// and bounded; it never calls external generators.
type SelectionService struct {
	items   ItemStore
	ledger  ResponseLedger
	mastery MasteryServiceInterface
	cfg     *config.Config
	logger  *observability.Logger

	mu      sync.Mutex
	rng     *rand.Rand
	timeNow func() time.Time
}

// NewSelectionServiceWithLogger creates a new SelectionService with a logger
func NewSelectionServiceWithLogger(items ItemStore, ledger ResponseLedger, mastery MasteryServiceInterface, cfg *config.Config, logger *observability.Logger) *SelectionService {
	return &SelectionService{
		items:   items,
		ledger:  ledger,
		mastery: mastery,
		cfg:     cfg,
		logger:  logger,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		timeNow: time.Now,
	}
}

// SelectNextItem picks one item for the learner within the scope. Two
// simultaneous requests for the same learner may serve the same item; the
// caller can pass excludeIDs for within-session de-duplication.
func (s *SelectionService) SelectNextItem(ctx context.Context, learnerID int, scope models.SelectionScope, excludeIDs []int) (result0 *models.Item, err error) {
	ctx, span := observability.TraceSelectionFunction(ctx, "select_next_item",
		observability.AttributeLearnerID(learnerID),
		observability.AttributeTopic(scope.Topic),
		observability.AttributeSpecialty(scope.Specialty),
		attribute.Int("exclude.count", len(excludeIDs)),
	)
	defer observability.FinishSpan(span, &err)

	candidates, err := s.ScoreCandidates(ctx, learnerID, scope, excludeIDs)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, contextutils.WrapErrorf(contextutils.ErrNoCandidates,
			"no items available for learner %d in scope %q/%q", learnerID, scope.Topic, scope.Specialty)
	}

	// Weighted random choice among the top scorers, not the argmax, so the
	// same "best" item is not served identically to every learner in the
	// same state.
	pool := candidates
	if len(pool) > s.cfg.Engine.Selection.TopPoolSize {
		pool = pool[:s.cfg.Engine.Selection.TopPoolSize]
	}
	chosen := s.weightedChoice(pool)

	span.SetAttributes(
		observability.AttributeItemID(chosen.Item.ID),
		attribute.Float64("selection.score", chosen.Score),
	)
	return chosen.Item, nil
}

// ScoreCandidates builds and scores the bounded candidate set, highest
// score first. A learner with zero history still gets a full candidate
// list; only analytics outputs are gated on data volume.
func (s *SelectionService) ScoreCandidates(ctx context.Context, learnerID int, scope models.SelectionScope, excludeIDs []int) (result0 []*models.ScoredCandidate, err error) {
	ctx, span := observability.TraceSelectionFunction(ctx, "score_candidates",
		observability.AttributeLearnerID(learnerID),
		observability.AttributeTopic(scope.Topic),
	)
	defer observability.FinishSpan(span, &err)

	selCfg := &s.cfg.Engine.Selection

	items, err := s.items.GetItems(ctx, scope, selCfg.MaxCandidates)
	if err != nil {
		return nil, err
	}
	excluded := make(map[int]bool, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = true
	}

	attempts, err := s.ledger.GetAttempts(ctx, learnerID)
	if err != nil {
		return nil, err
	}

	weakness, err := s.mastery.GetTopicPerformance(ctx, learnerID, "", 0)
	if err != nil {
		return nil, err
	}

	now := s.timeNow()
	states := ReviewStatesFromAttempts(attempts, learnerID, now)
	itemAccuracy := perItemAccuracy(attempts)

	var candidates []*models.ScoredCandidate
	for _, item := range items {
		if excluded[item.ID] {
			continue
		}
		candidates = append(candidates, s.scoreCandidate(item, weakness, states, itemAccuracy, now))
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	span.SetAttributes(attribute.Int("candidates.count", len(candidates)))
	return candidates, nil
}

func (s *SelectionService) scoreCandidate(item *models.Item, weakness map[string]*models.TopicWeakness, states map[int]*models.ReviewState, itemAccuracy map[int]float64, now time.Time) *models.ScoredCandidate {
	selCfg := &s.cfg.Engine.Selection

	cand := &models.ScoredCandidate{Item: item}

	if tw := weakness[item.Topic]; tw != nil && tw.Severity != "" {
		cand.WeakComponent = selCfg.WeakWeight * severityMultiplier(tw.Severity)
	}

	state := states[item.ID]
	if state == nil {
		// Never attempted: always due, and counts toward coverage.
		cand.NeverAttempted = true
		cand.DueComponent = selCfg.DueWeight
		cand.CoverComponent = selCfg.CoverageWeight
	} else {
		if state.IsDue(now) {
			cand.DueComponent = selCfg.DueWeight
		}
		acc := itemAccuracy[item.ID]
		cand.LearnerAccuracy = acc
		cand.MatchComponent = selCfg.MatchWeight * math.Max(0, 1-2*math.Abs(acc-selCfg.TargetAccuracy))
	}

	jitter := s.randFloat() * selCfg.TieBreakJitter
	cand.Score = cand.WeakComponent + cand.DueComponent + cand.MatchComponent + cand.CoverComponent + jitter
	return cand
}

func severityMultiplier(severity models.WeaknessSeverity) float64 {
	switch severity {
	case models.SeverityCritical:
		return config.SeverityMultCritical
	case models.SeverityWeak:
		return config.SeverityMultWeak
	case models.SeverityDeveloping:
		return config.SeverityMultDeveloping
	default:
		return 0
	}
}

// weightedChoice draws from the pool with probability proportional to score
func (s *SelectionService) weightedChoice(pool []*models.ScoredCandidate) *models.ScoredCandidate {
	if len(pool) == 1 {
		return pool[0]
	}

	total := 0.0
	for _, c := range pool {
		if c.Score > 0 {
			total += c.Score
		}
	}
	if total <= 0 {
		return pool[s.randIntn(len(pool))]
	}

	r := s.randFloat() * total
	for _, c := range pool {
		if c.Score <= 0 {
			continue
		}
		r -= c.Score
		if r <= 0 {
			return c
		}
	}
	return pool[len(pool)-1]
}

func (s *SelectionService) randFloat() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

func (s *SelectionService) randIntn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(n)
}

func perItemAccuracy(attempts []*models.Attempt) map[int]float64 {
	totals := make(map[int]int)
	corrects := make(map[int]int)
	for _, a := range attempts {
		totals[a.ItemID]++
		if a.Correct {
			corrects[a.ItemID]++
		}
	}
	acc := make(map[int]float64, len(totals))
	for itemID, total := range totals {
		acc[itemID] = float64(corrects[itemID]) / float64(total)
	}
	return acc
}
