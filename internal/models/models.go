// Package models defines data structures used throughout the adaptive
// selection and calibration engine.
package models

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Learner represents a registered learner. Learner accounts are created and
// managed outside this core; the engine only reads them.
type Learner struct {
	ID          int            `json:"id" yaml:"id"`
	DisplayName string         `json:"display_name" yaml:"display_name"`
	Specialty   sql.NullString `json:"specialty" yaml:"specialty"`
	CreatedAt   time.Time      `json:"created_at" yaml:"created_at"`
}

// MarshalJSON customizes JSON marshaling for Learner to handle sql.NullString properly
func (l Learner) MarshalJSON() (result0 []byte, err error) {
	return json.Marshal(&struct {
		ID          int       `json:"id"`
		DisplayName string    `json:"display_name"`
		Specialty   *string   `json:"specialty"`
		CreatedAt   time.Time `json:"created_at"`
	}{
		ID:          l.ID,
		DisplayName: l.DisplayName,
		Specialty:   nullStringToPointer(l.Specialty),
		CreatedAt:   l.CreatedAt,
	})
}

func nullStringToPointer(ns sql.NullString) *string {
	if ns.Valid {
		return &ns.String
	}
	return nil
}

func nullTimeToPointer(nt sql.NullTime) *time.Time {
	if nt.Valid {
		return &nt.Time
	}
	return nil
}

func nullInt32ToPointer(ni sql.NullInt32) *int32 {
	if ni.Valid {
		return &ni.Int32
	}
	return nil
}

// ItemStatus represents the lifecycle status of an item
type ItemStatus string

const (
	// ItemStatusActive is for items in active rotation
	ItemStatusActive ItemStatus = "active"
	// ItemStatusRetired is for items pulled from rotation
	ItemStatusRetired ItemStatus = "retired"
	// ItemStatusFlagged is for items flagged by calibration as possibly mis-keyed
	ItemStatusFlagged ItemStatus = "flagged"
)

// DifficultyLevel classifies an item's empirical or author-assigned difficulty
type DifficultyLevel string

// Difficulty bands, classified from the empirical p-value once an item is
// calibrated, or supplied by the authoring pipeline as a prior before that.
const (
	DifficultyVeryEasy DifficultyLevel = "very_easy"
	DifficultyEasy     DifficultyLevel = "easy"
	DifficultyMedium   DifficultyLevel = "medium"
	DifficultyHard     DifficultyLevel = "hard"
	DifficultyVeryHard DifficultyLevel = "very_hard"
)

// Item represents a single practice question (clinical vignette + choices + key).
// The content itself is opaque to the engine; only topic tags, status, and
// calibration metadata participate in selection.
type Item struct {
	ID              int                    `json:"id" yaml:"id"`
	Topic           string                 `json:"topic" yaml:"topic"`
	Specialty       string                 `json:"specialty" yaml:"specialty"`
	Content         map[string]interface{} `json:"content" yaml:"content"`
	Choices         []string               `json:"choices" yaml:"choices"`
	CorrectKey      string                 `json:"correct_key" yaml:"correct_key"`
	Status          ItemStatus             `json:"status" yaml:"status"`
	DifficultyLevel DifficultyLevel        `json:"difficulty_level" yaml:"difficulty_level"`
	Calibrated      bool                   `json:"calibrated" yaml:"calibrated"`
	CreatedAt       time.Time              `json:"created_at" yaml:"created_at"`
}

// RecencyTierWeight returns the authoring-recency weight of the item: items
// authored recently weigh more in the topic performance rollup.
func (i *Item) RecencyTierWeight(now time.Time) float64 {
	age := now.Sub(i.CreatedAt)
	switch {
	case age <= 90*24*time.Hour:
		return 1.0
	case age <= 365*24*time.Hour:
		return 0.8
	default:
		return 0.6
	}
}

// Attempt is one immutable answer event by a learner on an item. Attempts
// are append-only: every derived structure in the engine must be
// recomputable from the attempt ledger alone.
type Attempt struct {
	ID          int             `json:"id" yaml:"id"`
	LearnerID   int             `json:"learner_id" yaml:"learner_id"`
	ItemID      int             `json:"item_id" yaml:"item_id"`
	Topic       string          `json:"topic" yaml:"topic"`
	Correct     bool            `json:"correct" yaml:"correct"`
	ChosenKey   string          `json:"chosen_key" yaml:"chosen_key"`
	TimeSpentMs int             `json:"time_spent_ms" yaml:"time_spent_ms"`
	Confidence  sql.NullInt32   `json:"confidence" yaml:"confidence"`
	Trace       json.RawMessage `json:"trace,omitempty" yaml:"trace,omitempty"`
	CreatedAt   time.Time       `json:"created_at" yaml:"created_at"`
}

// MarshalJSON customizes JSON marshaling for Attempt to handle sql.NullInt32 properly
func (a Attempt) MarshalJSON() (result0 []byte, err error) {
	return json.Marshal(&struct {
		ID          int             `json:"id"`
		LearnerID   int             `json:"learner_id"`
		ItemID      int             `json:"item_id"`
		Topic       string          `json:"topic"`
		Correct     bool            `json:"correct"`
		ChosenKey   string          `json:"chosen_key"`
		TimeSpentMs int             `json:"time_spent_ms"`
		Confidence  *int32          `json:"confidence"`
		Trace       json.RawMessage `json:"trace,omitempty"`
		CreatedAt   time.Time       `json:"created_at"`
	}{
		ID:          a.ID,
		LearnerID:   a.LearnerID,
		ItemID:      a.ItemID,
		Topic:       a.Topic,
		Correct:     a.Correct,
		ChosenKey:   a.ChosenKey,
		TimeSpentMs: a.TimeSpentMs,
		Confidence:  nullInt32ToPointer(a.Confidence),
		Trace:       a.Trace,
		CreatedAt:   a.CreatedAt,
	})
}

// InteractionEvent is a single client-reported event within one attempt.
// Traces are client-supplied and untrusted: they must pass validation
// before any computation touches them.
type InteractionEvent struct {
	Action string `json:"action" validate:"required,oneof=select change submit"`
	Choice string `json:"choice" validate:"required,len=1"`
	AtMs   int    `json:"at_ms" validate:"gte=0,lte=21600000"`
}

// WeaknessSeverity grades how far below target a topic sits
type WeaknessSeverity string

const (
	// SeverityCritical is weighted accuracy below the critical threshold (default 0.50)
	SeverityCritical WeaknessSeverity = "critical"
	// SeverityWeak is weighted accuracy below the weak threshold (default 0.60)
	SeverityWeak WeaknessSeverity = "weak"
	// SeverityDeveloping is weighted accuracy below the developing threshold (default 0.70)
	SeverityDeveloping WeaknessSeverity = "developing"
)

// Trend classification values for a topic's recent accuracy movement
const (
	TrendImproving        = "improving"
	TrendDeclining        = "declining"
	TrendStable           = "stable"
	TrendInsufficientData = "insufficient_data"
)

// TopicWeakness is the derived per-(learner, topic) performance rollup.
// It is a pure function of the attempt ledger snapshot; any cached copy is
// never authoritative.
type TopicWeakness struct {
	LearnerID        int              `json:"learner_id"`
	Topic            string           `json:"topic"`
	WeightedAccuracy float64          `json:"weighted_accuracy"`
	AttemptCount     int              `json:"attempt_count"`
	Trend            string           `json:"trend"`
	Severity         WeaknessSeverity `json:"severity"`
}

// ReviewStage is the spaced-repetition stage for a (learner, item) pair
type ReviewStage string

// Spaced-repetition stages in progression order.
const (
	StageNew      ReviewStage = "new"
	StageLearning ReviewStage = "learning"
	StageYoung    ReviewStage = "young"
	StageMature   ReviewStage = "mature"
	StageMastered ReviewStage = "mastered"
)

// stageOrder defines the monotonic progression new < learning < young < mature < mastered
var stageOrder = map[ReviewStage]int{
	StageNew:      0,
	StageLearning: 1,
	StageYoung:    2,
	StageMature:   3,
	StageMastered: 4,
}

// Rank returns the position of the stage in the progression ordering.
func (s ReviewStage) Rank() int {
	return stageOrder[s]
}

// ReviewState is the derived spaced-repetition state for a (learner, item)
// pair. Always recomputed from that pair's attempt history.
type ReviewState struct {
	LearnerID     int          `json:"learner_id"`
	ItemID        int          `json:"item_id"`
	Stage         ReviewStage  `json:"stage"`
	DueAt         time.Time    `json:"due_at"`
	LastAttemptAt sql.NullTime `json:"last_attempt_at"`
	AttemptCount  int          `json:"attempt_count"`
	CorrectCount  int          `json:"correct_count"`
}

// MarshalJSON customizes JSON marshaling for ReviewState to handle sql.NullTime properly
func (rs ReviewState) MarshalJSON() (result0 []byte, err error) {
	return json.Marshal(&struct {
		LearnerID     int         `json:"learner_id"`
		ItemID        int         `json:"item_id"`
		Stage         ReviewStage `json:"stage"`
		DueAt         time.Time   `json:"due_at"`
		LastAttemptAt *time.Time  `json:"last_attempt_at"`
		AttemptCount  int         `json:"attempt_count"`
		CorrectCount  int         `json:"correct_count"`
	}{
		LearnerID:     rs.LearnerID,
		ItemID:        rs.ItemID,
		Stage:         rs.Stage,
		DueAt:         rs.DueAt,
		LastAttemptAt: nullTimeToPointer(rs.LastAttemptAt),
		AttemptCount:  rs.AttemptCount,
		CorrectCount:  rs.CorrectCount,
	})
}

// IsDue reports whether the item is due for review at the given time.
// Never-attempted items are always due.
func (rs *ReviewState) IsDue(now time.Time) bool {
	if !rs.LastAttemptAt.Valid {
		return true
	}
	return !now.Before(rs.DueAt)
}

// CalibrationRecord is the empirically derived difficulty profile of an
// item, computed over the pooled response history of all learners.
type CalibrationRecord struct {
	ItemID              int             `json:"item_id"`
	PValue              float64         `json:"p_value"`
	DiscriminationIndex float64         `json:"discrimination_index"`
	ResponseCount       int             `json:"response_count"`
	CILow               float64         `json:"ci_low"`
	CIHigh              float64         `json:"ci_high"`
	DifficultyLevel     DifficultyLevel `json:"difficulty_level"`
	PreviousDifficulty  DifficultyLevel `json:"previous_difficulty,omitempty"`
	LowDiscrimination   bool            `json:"low_discrimination"`
	FlaggedCritical     bool            `json:"flagged_critical"`
	CalibratedAt        time.Time       `json:"calibrated_at"`
}

// DistractorStat describes how one answer choice behaved across the
// response pool and across ability groups.
type DistractorStat struct {
	Choice             string   `json:"choice"`
	SelectionRate      float64  `json:"selection_rate"`
	TopGroupRate       float64  `json:"rate_among_top_quartile"`
	BottomGroupRate    float64  `json:"rate_among_bottom_quartile"`
	Discrimination     float64  `json:"discrimination"`
	Flags              []string `json:"flags,omitempty"`
	IsCorrect          bool     `json:"is_correct"`
	SelectionCount     int      `json:"selection_count"`
	TopGroupSelections int      `json:"top_group_selections"`
}

// Distractor quality flags.
const (
	DistractorFlagTooObvious    = "too_obvious"
	DistractorFlagTooAttractive = "too_attractive"
	DistractorFlagMiskeyRisk    = "possible_miskey"
)

// DistractorProfile is the derived per-choice quality report for an item.
type DistractorProfile struct {
	ItemID        int              `json:"item_id"`
	ResponseCount int              `json:"response_count"`
	Choices       []DistractorStat `json:"choices"`
	ComputedAt    time.Time        `json:"computed_at"`
}

// Archetype identifies an error-prone behavioral pattern
type Archetype string

// Cognitive archetypes. Scored independently; the highest score above the
// configured threshold becomes the primary archetype.
const (
	ArchetypeSecondGuesser         Archetype = "second_guesser"
	ArchetypePrematureCloser       Archetype = "premature_closer"
	ArchetypeTimePressured         Archetype = "time_pressured"
	ArchetypeConservativeHesitator Archetype = "conservative_hesitator"
	ArchetypeBalanced              Archetype = "balanced"
)

// BehavioralMetrics summarizes the raw signals feeding archetype scores.
type BehavioralMetrics struct {
	AnswerChangeRate    float64 `json:"answer_change_rate"`
	WrongDirectionRate  float64 `json:"wrong_direction_change_rate"`
	FastAnswerRate      float64 `json:"fast_answer_rate"`
	SlowAnswerRate      float64 `json:"slow_answer_rate"`
	ConfidenceAccuracyR float64 `json:"confidence_accuracy_correlation"`
	SampleSize          int     `json:"sample_size"`
}

// CognitiveProfile is the derived behavioral classification of a learner.
type CognitiveProfile struct {
	LearnerID        int                   `json:"learner_id"`
	PrimaryArchetype Archetype             `json:"primary_archetype"`
	Scores           map[Archetype]float64 `json:"scores"`
	Vulnerabilities  []string              `json:"vulnerabilities"`
	Strengths        []string              `json:"strengths"`
	Metrics          BehavioralMetrics     `json:"metrics"`
	Confident        bool                  `json:"confident"`
	ComputedAt       time.Time             `json:"computed_at"`
}

// PlateauReport is the output of the plateau detector. The per-cause
// booleans let callers distinguish "no improvement" from "consistently
// stuck at a fixed level".
type PlateauReport struct {
	LearnerID        int       `json:"learner_id"`
	IsPlateau        bool      `json:"is_plateau"`
	FlatTrend        bool      `json:"flat_trend"`
	LowVariance      bool      `json:"low_variance"`
	Slope            float64   `json:"slope"`
	MeanAccuracy     float64   `json:"mean_accuracy"`
	Variance         float64   `json:"variance"`
	DaysWithData     int       `json:"days_with_data"`
	InsufficientData bool      `json:"insufficient_data"`
	WindowStart      time.Time `json:"window_start"`
	WindowEnd        time.Time `json:"window_end"`
}

// GenerationHint is the targeting payload handed to the external content
// generation service. The engine only produces this payload; it never
// calls the generator itself.
type GenerationHint struct {
	ID               int             `json:"id"`
	LearnerID        int             `json:"learner_id"`
	Topic            string          `json:"topic"`
	TargetDifficulty DifficultyLevel `json:"target_difficulty"`
	RecommendedFocus string          `json:"recommended_focus"`
	PriorityWeight   int             `json:"priority_weight"`
	ExpiresAt        time.Time       `json:"expires_at"`
	CreatedAt        time.Time       `json:"created_at"`
}

// SelectionScope restricts candidate items to a topic and/or specialty.
type SelectionScope struct {
	Topic     string `json:"topic,omitempty"`
	Specialty string `json:"specialty,omitempty"`
}

// ScoredCandidate annotates an item with the signals and the final
// priority score the selector computed for it.
type ScoredCandidate struct {
	Item            *Item   `json:"item"`
	Score           float64 `json:"score"`
	WeakComponent   float64 `json:"weak_component"`
	DueComponent    float64 `json:"due_component"`
	MatchComponent  float64 `json:"match_component"`
	CoverComponent  float64 `json:"cover_component"`
	NeverAttempted  bool    `json:"never_attempted"`
	LearnerAccuracy float64 `json:"learner_accuracy"`
}
