package config

import "time"

// Timeout constants
const (
	// HTTP timeouts
	DefaultHTTPTimeout    = 60 * time.Second
	WorkerShutdownTimeout = 30 * time.Second
	CLICalibrateTimeout   = 10 * time.Minute

	// Database timeouts
	DatabaseConnMaxLifetime = 5 * time.Minute
)

// Topic rollup defaults
const (
	DefaultWeakThreshold       = 0.60
	DefaultCriticalThreshold   = 0.50
	DefaultDevelopingThreshold = 0.70
	DefaultMinAttemptsPerTopic = 3
	DefaultTrendWindow         = 10
	DefaultTrendMinAttempts    = 5
	DefaultTrendDelta          = 0.10

	// Attempt recency decay: full weight until the attempt is DecayFloorDays
	// old, never below DecayFloor.
	RecencyDecayDays  = 30.0
	RecencyDecaySpan  = 0.7
	RecencyDecayFloor = 0.3

	// Blend between attempt recency and item authoring recency
	AttemptRecencyShare = 0.6
	ItemRecencyShare    = 0.4
)

// Selection scoring defaults
const (
	DefaultWeakWeight     = 3.0
	DefaultDueWeight      = 2.5
	DefaultMatchWeight    = 1.5
	DefaultCoverageWeight = 1.0
	DefaultTieBreakJitter = 0.3
	DefaultTopPoolSize    = 3
	DefaultMaxCandidates  = 200
	DefaultTargetAccuracy = 0.70

	// Severity multipliers on the weakness component
	SeverityMultCritical   = 1.5
	SeverityMultWeak       = 1.0
	SeverityMultDeveloping = 0.7
)

// Calibration defaults
const (
	DefaultMinResponsesCalibration = 50
	DefaultMinResponsesDistractor  = 100
	DefaultAbilityGroupFraction    = 0.27
	DefaultLowDiscrimination       = 0.20
	DefaultCriticalDiscrimination  = 0.0
	DefaultCalibrationBatchSize    = 500

	// Wilson score interval z for a 95% CI
	WilsonZ = 1.96
)

// Plateau detector defaults
const (
	DefaultPlateauWindowDays   = 14
	DefaultPlateauMinDays      = 5
	DefaultPlateauSlopeEpsilon = 0.005
	DefaultPlateauVariance     = 0.01
)

// Cognitive classifier defaults
const (
	DefaultCognitiveMinAttempts = 50
	DefaultCognitiveConfident   = 100
	DefaultFastAnswerMs         = 45000
	DefaultSlowAnswerMs         = 180000
	DefaultArchetypeThreshold   = 0.3

	// Hard ceiling on a single attempt duration accepted from a trace (6h)
	MaxTraceEventMs = 21_600_000
)

// Generation hint defaults
const (
	DefaultMaxHintsPerLearner = 5
	DefaultHintTTL            = 7 * 24 * time.Hour
)

// Worker defaults
const (
	DefaultWorkerRunInterval   = 1 * time.Hour
	DefaultWorkerHeartbeat     = 30 * time.Second
	DefaultWorkerMaxRunHistory = 20
	WorkerSleepDuration        = 100 * time.Millisecond
)
