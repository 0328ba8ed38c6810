package services

import (
	"context"
	"math"
	"sort"
	"time"

	"examprep/internal/config"
	"examprep/internal/models"
	"examprep/internal/observability"

	"github.com/montanaflynn/stats"
	"go.opentelemetry.io/otel/attribute"
)

// InsightServiceInterface defines the interface for the plateau detector
type InsightServiceInterface interface {
	DetectPlateau(ctx context.Context, learnerID int) (*models.PlateauReport, error)
}

// InsightService runs trend and variance analysis over a learner's rolling
// daily accuracy series. It runs on demand for reporting, never on the
// selection hot path.
type InsightService struct {
	ledger ResponseLedger
	cfg    *config.Config
	logger *observability.Logger

	timeNow func() time.Time
}

// NewInsightServiceWithLogger creates a new InsightService with a logger
func NewInsightServiceWithLogger(ledger ResponseLedger, cfg *config.Config, logger *observability.Logger) *InsightService {
	return &InsightService{
		ledger:  ledger,
		cfg:     cfg,
		logger:  logger,
		timeNow: time.Now,
	}
}

// DetectPlateau reports whether the learner's accuracy has stalled inside
// the rolling window. Too few days with data yields an insufficient-data
// report, not an error, so callers can distinguish "no plateau" from "we
// don't know yet".
func (s *InsightService) DetectPlateau(ctx context.Context, learnerID int) (result0 *models.PlateauReport, err error) {
	ctx, span := observability.TraceInsightFunction(ctx, "detect_plateau",
		observability.AttributeLearnerID(learnerID),
	)
	defer observability.FinishSpan(span, &err)

	plateauCfg := &s.cfg.Engine.Plateau
	now := s.timeNow()
	windowStart := now.AddDate(0, 0, -plateauCfg.WindowDays)

	attempts, err := s.ledger.GetAttemptsSince(ctx, learnerID, windowStart)
	if err != nil {
		return nil, err
	}

	report := analyzePlateau(attempts, learnerID, windowStart, now, plateauCfg)

	span.SetAttributes(
		attribute.Bool("plateau.detected", report.IsPlateau),
		attribute.Int("plateau.days_with_data", report.DaysWithData),
	)
	return report, nil
}

// analyzePlateau is the pure computation over one window of attempts
func analyzePlateau(attempts []*models.Attempt, learnerID int, windowStart, windowEnd time.Time, cfg *config.PlateauConfig) *models.PlateauReport {
	report := &models.PlateauReport{
		LearnerID:   learnerID,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
	}

	daily := dailyAccuracySeries(attempts)
	report.DaysWithData = len(daily)

	if len(daily) < cfg.MinDaysWithData {
		report.InsufficientData = true
		return report
	}

	series := make(stats.Series, 0, len(daily))
	accuracies := make([]float64, 0, len(daily))
	for _, d := range daily {
		series = append(series, stats.Coordinate{X: float64(d.dayIndex), Y: d.accuracy})
		accuracies = append(accuracies, d.accuracy)
	}

	report.MeanAccuracy, _ = stats.Mean(accuracies)
	report.Variance, _ = stats.PopulationVariance(accuracies)
	report.Slope = regressionSlope(series)

	report.FlatTrend = math.Abs(report.Slope) < cfg.SlopeEpsilon
	report.LowVariance = report.Variance < cfg.VarianceThreshold
	report.IsPlateau = report.FlatTrend || report.LowVariance
	return report
}

type dayBucket struct {
	dayIndex int
	accuracy float64
}

// dailyAccuracySeries buckets attempts by calendar day (UTC) and computes
// the per-day accuracy, ordered oldest first. dayIndex is the day offset
// from the first day with data, so gaps count against the slope.
func dailyAccuracySeries(attempts []*models.Attempt) []dayBucket {
	type counts struct {
		total   int
		correct int
	}

	byDay := make(map[time.Time]*counts)
	for _, a := range attempts {
		day := a.CreatedAt.UTC().Truncate(24 * time.Hour)
		c := byDay[day]
		if c == nil {
			c = &counts{}
			byDay[day] = c
		}
		c.total++
		if a.Correct {
			c.correct++
		}
	}

	days := make([]time.Time, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	buckets := make([]dayBucket, 0, len(days))
	for _, day := range days {
		c := byDay[day]
		index := 0
		if len(days) > 0 {
			index = int(day.Sub(days[0]).Hours() / 24)
		}
		buckets = append(buckets, dayBucket{
			dayIndex: index,
			accuracy: float64(c.correct) / float64(c.total),
		})
	}
	return buckets
}

// regressionSlope fits an ordinary least-squares line to the series and
// returns its slope
func regressionSlope(series stats.Series) float64 {
	fitted, err := stats.LinearRegression(series)
	if err != nil || len(fitted) < 2 {
		return 0
	}
	first := fitted[0]
	last := fitted[len(fitted)-1]
	if last.X == first.X {
		return 0
	}
	return (last.Y - first.Y) / (last.X - first.X)
}
