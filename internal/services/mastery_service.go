package services

import (
	"context"
	"math"
	"sort"
	"time"

	"examprep/internal/config"
	"examprep/internal/models"
	"examprep/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

// MasteryServiceInterface defines the interface for the topic performance aggregator
type MasteryServiceInterface interface {
	GetTopicPerformance(ctx context.Context, learnerID int, topicFilter string, lookback time.Duration) (map[string]*models.TopicWeakness, error)
	GetWeakTopics(ctx context.Context, learnerID int) ([]*models.TopicWeakness, error)
}

// MasteryService rolls raw attempts up into recency-weighted accuracy per
// (learner, topic). Everything here is a pure function of the ledger
// snapshot; nothing is persisted.
type MasteryService struct {
	ledger ResponseLedger
	items  ItemStore
	cfg    *config.Config
	logger *observability.Logger

	timeNow func() time.Time
}

// NewMasteryServiceWithLogger creates a new MasteryService with a logger
func NewMasteryServiceWithLogger(ledger ResponseLedger, items ItemStore, cfg *config.Config, logger *observability.Logger) *MasteryService {
	return &MasteryService{
		ledger:  ledger,
		items:   items,
		cfg:     cfg,
		logger:  logger,
		timeNow: time.Now,
	}
}

// GetTopicPerformance computes the per-topic rollup for a learner. Topics
// below the minimum attempt count are excluded rather than reported at 0%.
// A zero lookback means the full ledger history.
func (s *MasteryService) GetTopicPerformance(ctx context.Context, learnerID int, topicFilter string, lookback time.Duration) (result0 map[string]*models.TopicWeakness, err error) {
	ctx, span := observability.TraceMasteryFunction(ctx, "get_topic_performance",
		observability.AttributeLearnerID(learnerID),
		observability.AttributeTopic(topicFilter),
	)
	defer observability.FinishSpan(span, &err)

	now := s.timeNow()
	since := time.Time{}
	if lookback > 0 {
		since = now.Add(-lookback)
	}

	attempts, err := s.ledger.GetAttemptsSince(ctx, learnerID, since)
	if err != nil {
		return nil, err
	}
	if topicFilter != "" {
		filtered := attempts[:0]
		for _, a := range attempts {
			if a.Topic == topicFilter {
				filtered = append(filtered, a)
			}
		}
		attempts = filtered
	}

	itemsByID, err := s.itemsForAttempts(ctx, attempts)
	if err != nil {
		return nil, err
	}

	stats := aggregateTopics(attempts, itemsByID, now, &s.cfg.Engine.Mastery)
	for _, tw := range stats {
		tw.LearnerID = learnerID
	}

	span.SetAttributes(attribute.Int("topics.count", len(stats)))
	return stats, nil
}

// GetWeakTopics returns the learner's weak topics, weakest first. A learner
// with no judged topics gets an empty slice, not an error.
func (s *MasteryService) GetWeakTopics(ctx context.Context, learnerID int) (result0 []*models.TopicWeakness, err error) {
	ctx, span := observability.TraceMasteryFunction(ctx, "get_weak_topics",
		observability.AttributeLearnerID(learnerID),
	)
	defer observability.FinishSpan(span, &err)

	stats, err := s.GetTopicPerformance(ctx, learnerID, "", 0)
	if err != nil {
		return nil, err
	}

	weak := make([]*models.TopicWeakness, 0, len(stats))
	for _, tw := range stats {
		if tw.Severity != "" {
			weak = append(weak, tw)
		}
	}
	sort.Slice(weak, func(i, j int) bool {
		if weak[i].WeightedAccuracy != weak[j].WeightedAccuracy {
			return weak[i].WeightedAccuracy < weak[j].WeightedAccuracy
		}
		return weak[i].Topic < weak[j].Topic
	})

	span.SetAttributes(attribute.Int("weak_topics.count", len(weak)))
	return weak, nil
}

func (s *MasteryService) itemsForAttempts(ctx context.Context, attempts []*models.Attempt) (map[int]*models.Item, error) {
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

// attemptRecencyWeight decays linearly with the attempt's age and never
// drops below the floor.
func attemptRecencyWeight(attemptAt, now time.Time) float64 {
	days := now.Sub(attemptAt).Hours() / 24
	if days < 0 {
		days = 0
	}
	w := 1.0 - (days/config.RecencyDecayDays)*config.RecencyDecaySpan
	return clamp(w, config.RecencyDecayFloor, 1.0)
}

// attemptWeight blends attempt recency with the item's authoring-recency
// tier, then applies the confidence factor: a bonus for high-confidence
// correct answers, a penalty for high-confidence wrong ones.
func attemptWeight(a *models.Attempt, item *models.Item, now time.Time) float64 {
	itemW := 0.8
	if item != nil {
		itemW = item.RecencyTierWeight(now)
	}
	w := config.AttemptRecencyShare*attemptRecencyWeight(a.CreatedAt, now) + config.ItemRecencyShare*itemW

	if a.Confidence.Valid && a.Confidence.Int32 >= 4 {
		if a.Correct {
			w *= 1.10
		} else {
			w *= 0.85
		}
	}
	return w
}

// aggregateTopics is the pure rollup over one learner's attempt slice.
// attempts must be ordered oldest first.
func aggregateTopics(attempts []*models.Attempt, itemsByID map[int]*models.Item, now time.Time, cfg *config.MasteryConfig) map[string]*models.TopicWeakness {
	type topicAccum struct {
		weightedCorrect float64
		weightSum       float64
		ordered         []*models.Attempt
	}

	accums := make(map[string]*topicAccum)
	for _, a := range attempts {
		acc := accums[a.Topic]
		if acc == nil {
			acc = &topicAccum{}
			accums[a.Topic] = acc
		}
		w := attemptWeight(a, itemsByID[a.ItemID], now)
		acc.weightSum += w
		if a.Correct {
			acc.weightedCorrect += w
		}
		acc.ordered = append(acc.ordered, a)
	}

	stats := make(map[string]*models.TopicWeakness, len(accums))
	for topic, acc := range accums {
		if len(acc.ordered) < cfg.MinAttemptsPerTopic {
			// Below the judgment threshold the topic is excluded entirely.
			continue
		}

		wacc := 0.0
		if acc.weightSum > 0 {
			wacc = acc.weightedCorrect / acc.weightSum
		}
		wacc = clamp(wacc, 0, 1)

		stats[topic] = &models.TopicWeakness{
			Topic:            topic,
			WeightedAccuracy: wacc,
			AttemptCount:     len(acc.ordered),
			Trend:            classifyTrend(acc.ordered, cfg),
			Severity:         classifySeverity(wacc, cfg),
		}
	}
	return stats
}

// classifySeverity grades a weighted accuracy; an empty severity means the
// topic is not weak.
func classifySeverity(wacc float64, cfg *config.MasteryConfig) models.WeaknessSeverity {
	switch {
	case wacc < cfg.CriticalThreshold:
		return models.SeverityCritical
	case wacc < cfg.WeakThreshold:
		return models.SeverityWeak
	case wacc < cfg.DevelopingThreshold:
		return models.SeverityDeveloping
	default:
		return ""
	}
}

// classifyTrend compares the most-recent half of the trailing window
// against the older half.
func classifyTrend(ordered []*models.Attempt, cfg *config.MasteryConfig) string {
	window := ordered
	if len(window) > cfg.TrendWindow {
		window = window[len(window)-cfg.TrendWindow:]
	}
	if len(window) < cfg.TrendMinAttempts {
		return models.TrendInsufficientData
	}

	mid := len(window) / 2
	olderAcc := rawAccuracy(window[:mid])
	recentAcc := rawAccuracy(window[mid:])

	switch {
	case recentAcc > olderAcc+cfg.TrendDelta:
		return models.TrendImproving
	case recentAcc < olderAcc-cfg.TrendDelta:
		return models.TrendDeclining
	default:
		return models.TrendStable
	}
}

func rawAccuracy(attempts []*models.Attempt) float64 {
	if len(attempts) == 0 {
		return 0
	}
	correct := 0
	for _, a := range attempts {
		if a.Correct {
			correct++
		}
	}
	return float64(correct) / float64(len(attempts))
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
