// Package config handles application configuration loading from a YAML file
// with environment variable overrides.
package config

import (
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	contextutils "examprep/internal/utils"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig `json:"server" yaml:"server"`

	// Database configuration
	Database DatabaseConfig `json:"database" yaml:"database"`

	// Engine tuning knobs
	Engine EngineConfig `json:"engine" yaml:"engine"`

	// OpenTelemetry Configuration
	OpenTelemetry OpenTelemetryConfig `json:"open_telemetry" yaml:"open_telemetry"`

	// Internal fields
	IsTest bool `json:"is_test" yaml:"is_test"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Port        string   `json:"port" yaml:"port"`
	WorkerPort  string   `json:"worker_port" yaml:"worker_port"`
	Debug       bool     `json:"debug" yaml:"debug"`
	LogLevel    string   `json:"log_level" yaml:"log_level"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	URL             string        `json:"url" yaml:"url"`
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns"`       // Maximum number of open connections to the database
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns"`       // Maximum number of idle connections in the pool
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"` // Maximum amount of time a connection may be reused
}

// OpenTelemetryConfig holds all OpenTelemetry-related configuration
type OpenTelemetryConfig struct {
	Endpoint       string            `json:"endpoint" yaml:"endpoint"`               // Default: "http://localhost:4317"
	Protocol       string            `json:"protocol" yaml:"protocol"`               // "grpc" or "http", default: "grpc"
	Insecure       bool              `json:"insecure" yaml:"insecure"`               // Default: true (for localhost)
	Headers        map[string]string `json:"headers" yaml:"headers"`                 // For authenticated endpoints
	ServiceName    string            `json:"service_name" yaml:"service_name"`       // Default: "examprep-backend" or "examprep-worker"
	ServiceVersion string            `json:"service_version" yaml:"service_version"` // From version package
	EnableTracing  bool              `json:"enable_tracing" yaml:"enable_tracing"`   // Default: true
	EnableMetrics  bool              `json:"enable_metrics" yaml:"enable_metrics"`   // Default: true
	EnableLogging  bool              `json:"enable_logging" yaml:"enable_logging"`   // Default: true
	SamplingRate   float64           `json:"sampling_rate" yaml:"sampling_rate"`     // Default: 1.0 (100%)
	UseAutoSDK     bool              `json:"use_auto_sdk" yaml:"use_auto_sdk"`       // Use auto-instrumentation SDK bridge
}

// MasteryConfig tunes the topic performance rollup
type MasteryConfig struct {
	WeakThreshold       float64 `json:"weak_threshold" yaml:"weak_threshold"`
	CriticalThreshold   float64 `json:"critical_threshold" yaml:"critical_threshold"`
	DevelopingThreshold float64 `json:"developing_threshold" yaml:"developing_threshold"`
	MinAttemptsPerTopic int     `json:"min_attempts_per_topic" yaml:"min_attempts_per_topic"`
	TrendWindow         int     `json:"trend_window" yaml:"trend_window"`
	TrendMinAttempts    int     `json:"trend_min_attempts" yaml:"trend_min_attempts"`
	TrendDelta          float64 `json:"trend_delta" yaml:"trend_delta"`
}

// SelectionConfig tunes candidate scoring and selection
type SelectionConfig struct {
	WeakWeight     float64 `json:"weak_weight" yaml:"weak_weight"`
	DueWeight      float64 `json:"due_weight" yaml:"due_weight"`
	MatchWeight    float64 `json:"match_weight" yaml:"match_weight"`
	CoverageWeight float64 `json:"coverage_weight" yaml:"coverage_weight"`
	TieBreakJitter float64 `json:"tie_break_jitter" yaml:"tie_break_jitter"`
	TopPoolSize    int     `json:"top_pool_size" yaml:"top_pool_size"`
	MaxCandidates  int     `json:"max_candidates" yaml:"max_candidates"`
	TargetAccuracy float64 `json:"target_accuracy" yaml:"target_accuracy"`
}

// CalibrationConfig tunes the item calibration pass
type CalibrationConfig struct {
	MinResponses           int     `json:"min_responses" yaml:"min_responses"`
	MinResponsesDistractor int     `json:"min_responses_distractor" yaml:"min_responses_distractor"`
	AbilityGroupFraction   float64 `json:"ability_group_fraction" yaml:"ability_group_fraction"`
	LowDiscrimination      float64 `json:"low_discrimination" yaml:"low_discrimination"`
	CriticalDiscrimination float64 `json:"critical_discrimination" yaml:"critical_discrimination"`
	BatchSize              int     `json:"batch_size" yaml:"batch_size"`
}

// PlateauConfig tunes the plateau detector
type PlateauConfig struct {
	WindowDays        int     `json:"window_days" yaml:"window_days"`
	MinDaysWithData   int     `json:"min_days_with_data" yaml:"min_days_with_data"`
	SlopeEpsilon      float64 `json:"slope_epsilon" yaml:"slope_epsilon"`
	VarianceThreshold float64 `json:"variance_threshold" yaml:"variance_threshold"`
}

// CognitiveConfig tunes the archetype classifier
type CognitiveConfig struct {
	MinAttempts        int     `json:"min_attempts" yaml:"min_attempts"`
	ConfidentAttempts  int     `json:"confident_attempts" yaml:"confident_attempts"`
	FastAnswerMs       int     `json:"fast_answer_ms" yaml:"fast_answer_ms"`
	SlowAnswerMs       int     `json:"slow_answer_ms" yaml:"slow_answer_ms"`
	ArchetypeThreshold float64 `json:"archetype_threshold" yaml:"archetype_threshold"`
}

// HintsConfig tunes generation hint production
type HintsConfig struct {
	MaxHintsPerLearner int           `json:"max_hints_per_learner" yaml:"max_hints_per_learner"`
	HintTTL            time.Duration `json:"hint_ttl" yaml:"hint_ttl"`
}

// WorkerConfig tunes the background calibration worker
type WorkerConfig struct {
	RunInterval       time.Duration `json:"run_interval" yaml:"run_interval"`
	HeartbeatInterval time.Duration `json:"heartbeat_interval" yaml:"heartbeat_interval"`
	MaxRunHistory     int           `json:"max_run_history" yaml:"max_run_history"`
}

// EngineConfig groups all tuning knobs of the selection and calibration engine
type EngineConfig struct {
	Mastery     MasteryConfig     `json:"mastery" yaml:"mastery"`
	Selection   SelectionConfig   `json:"selection" yaml:"selection"`
	Calibration CalibrationConfig `json:"calibration" yaml:"calibration"`
	Plateau     PlateauConfig     `json:"plateau" yaml:"plateau"`
	Cognitive   CognitiveConfig   `json:"cognitive" yaml:"cognitive"`
	Hints       HintsConfig       `json:"hints" yaml:"hints"`
	Worker      WorkerConfig      `json:"worker" yaml:"worker"`
}

// NewConfig loads configuration from YAML file first, then overrides with environment variables
func NewConfig() (result0 *Config, err error) {
	// Load config from YAML file
	config, err := loadConfigWithOverrides()
	if err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrInternalError, "failed to load config: %w", err)
	}

	// Override with environment variables
	config.overrideFromEnv()

	config.applyDefaults()

	return config, nil
}

// applyDefaults fills in zero-valued tuning knobs. Thresholds that can
// legitimately be zero are left alone.
func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.WorkerPort == "" {
		c.Server.WorkerPort = "8081"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if c.OpenTelemetry.Endpoint == "" {
		c.OpenTelemetry.Endpoint = "http://localhost:4317"
	}
	if c.OpenTelemetry.Protocol == "" {
		c.OpenTelemetry.Protocol = "grpc"
	}
	if c.OpenTelemetry.ServiceName == "" {
		c.OpenTelemetry.ServiceName = "examprep-backend"
	}
	if c.OpenTelemetry.SamplingRate == 0 {
		c.OpenTelemetry.SamplingRate = 1.0
	}

	m := &c.Engine.Mastery
	if m.WeakThreshold == 0 {
		m.WeakThreshold = DefaultWeakThreshold
	}
	if m.CriticalThreshold == 0 {
		m.CriticalThreshold = DefaultCriticalThreshold
	}
	if m.DevelopingThreshold == 0 {
		m.DevelopingThreshold = DefaultDevelopingThreshold
	}
	if m.MinAttemptsPerTopic == 0 {
		m.MinAttemptsPerTopic = DefaultMinAttemptsPerTopic
	}
	if m.TrendWindow == 0 {
		m.TrendWindow = DefaultTrendWindow
	}
	if m.TrendMinAttempts == 0 {
		m.TrendMinAttempts = DefaultTrendMinAttempts
	}
	if m.TrendDelta == 0 {
		m.TrendDelta = DefaultTrendDelta
	}

	s := &c.Engine.Selection
	if s.WeakWeight == 0 {
		s.WeakWeight = DefaultWeakWeight
	}
	if s.DueWeight == 0 {
		s.DueWeight = DefaultDueWeight
	}
	if s.MatchWeight == 0 {
		s.MatchWeight = DefaultMatchWeight
	}
	if s.CoverageWeight == 0 {
		s.CoverageWeight = DefaultCoverageWeight
	}
	if s.TieBreakJitter == 0 {
		s.TieBreakJitter = DefaultTieBreakJitter
	}
	if s.TopPoolSize == 0 {
		s.TopPoolSize = DefaultTopPoolSize
	}
	if s.MaxCandidates == 0 {
		s.MaxCandidates = DefaultMaxCandidates
	}
	if s.TargetAccuracy == 0 {
		s.TargetAccuracy = DefaultTargetAccuracy
	}

	cal := &c.Engine.Calibration
	if cal.MinResponses == 0 {
		cal.MinResponses = DefaultMinResponsesCalibration
	}
	if cal.MinResponsesDistractor == 0 {
		cal.MinResponsesDistractor = DefaultMinResponsesDistractor
	}
	if cal.AbilityGroupFraction == 0 {
		cal.AbilityGroupFraction = DefaultAbilityGroupFraction
	}
	if cal.LowDiscrimination == 0 {
		cal.LowDiscrimination = DefaultLowDiscrimination
	}
	if cal.CriticalDiscrimination == 0 {
		cal.CriticalDiscrimination = DefaultCriticalDiscrimination
	}
	if cal.BatchSize == 0 {
		cal.BatchSize = DefaultCalibrationBatchSize
	}

	p := &c.Engine.Plateau
	if p.WindowDays == 0 {
		p.WindowDays = DefaultPlateauWindowDays
	}
	if p.MinDaysWithData == 0 {
		p.MinDaysWithData = DefaultPlateauMinDays
	}
	if p.SlopeEpsilon == 0 {
		p.SlopeEpsilon = DefaultPlateauSlopeEpsilon
	}
	if p.VarianceThreshold == 0 {
		p.VarianceThreshold = DefaultPlateauVariance
	}

	cog := &c.Engine.Cognitive
	if cog.MinAttempts == 0 {
		cog.MinAttempts = DefaultCognitiveMinAttempts
	}
	if cog.ConfidentAttempts == 0 {
		cog.ConfidentAttempts = DefaultCognitiveConfident
	}
	if cog.FastAnswerMs == 0 {
		cog.FastAnswerMs = DefaultFastAnswerMs
	}
	if cog.SlowAnswerMs == 0 {
		cog.SlowAnswerMs = DefaultSlowAnswerMs
	}
	if cog.ArchetypeThreshold == 0 {
		cog.ArchetypeThreshold = DefaultArchetypeThreshold
	}

	h := &c.Engine.Hints
	if h.MaxHintsPerLearner == 0 {
		h.MaxHintsPerLearner = DefaultMaxHintsPerLearner
	}
	if h.HintTTL == 0 {
		h.HintTTL = DefaultHintTTL
	}

	w := &c.Engine.Worker
	if w.RunInterval == 0 {
		w.RunInterval = DefaultWorkerRunInterval
	}
	if w.HeartbeatInterval == 0 {
		w.HeartbeatInterval = DefaultWorkerHeartbeat
	}
	if w.MaxRunHistory == 0 {
		w.MaxRunHistory = DefaultWorkerMaxRunHistory
	}
}

// overrideFromEnv overrides config values with environment variables using reflection
func (c *Config) overrideFromEnv() {
	overrideStructFromEnv(c)
}

// overrideStructFromEnv recursively overrides struct fields with environment variables
func overrideStructFromEnv(v interface{}) {
	overrideStructFromEnvWithPrefix(v, "")
}

// overrideStructFromEnvWithPrefix recursively overrides struct fields with environment variables
func overrideStructFromEnvWithPrefix(v interface{}, prefix string) {
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	if val.Kind() != reflect.Struct {
		return
	}

	typ := val.Type()
	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		// Skip unexported fields
		if !field.CanSet() {
			continue
		}

		// Get the yaml tag for the field
		yamlTag := fieldType.Tag.Get("yaml")
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		yamlTag = strings.Split(yamlTag, ",")[0]

		// Convert yaml tag to environment variable name
		envKey := strings.ToUpper(strings.ReplaceAll(yamlTag, "-", "_"))
		if prefix != "" {
			envKey = prefix + "_" + envKey
		}

		switch field.Kind() {
		case reflect.String:
			if envVal := os.Getenv(envKey); envVal != "" {
				field.SetString(envVal)
			}
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			if envVal := os.Getenv(envKey); envVal != "" {
				// time.Duration fields accept duration syntax ("15m")
				if field.Type() == reflect.TypeOf(time.Duration(0)) {
					if d, err := time.ParseDuration(envVal); err == nil {
						field.SetInt(int64(d))
					}
					continue
				}
				if intVal, err := strconv.ParseInt(envVal, 10, 64); err == nil {
					field.SetInt(intVal)
				}
			}
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			if envVal := os.Getenv(envKey); envVal != "" {
				if uintVal, err := strconv.ParseUint(envVal, 10, 64); err == nil {
					field.SetUint(uintVal)
				}
			}
		case reflect.Float32, reflect.Float64:
			if envVal := os.Getenv(envKey); envVal != "" {
				if floatVal, err := strconv.ParseFloat(envVal, 64); err == nil {
					field.SetFloat(floatVal)
				}
			}
		case reflect.Bool:
			if envVal := os.Getenv(envKey); envVal != "" {
				if boolVal, err := strconv.ParseBool(envVal); err == nil {
					field.SetBool(boolVal)
				}
			}
		case reflect.Slice:
			if envVal := os.Getenv(envKey); envVal != "" {
				// Handle string slices (like CORS_ORIGINS)
				if field.Type().Elem().Kind() == reflect.String {
					slice := strings.Split(envVal, ",")
					field.Set(reflect.ValueOf(slice))
				}
			}
		case reflect.Struct:
			// Recursively process nested structs with the field name as prefix
			if field.CanAddr() {
				fieldPrefix := strings.ToUpper(strings.ReplaceAll(yamlTag, "-", "_"))
				if prefix != "" {
					fieldPrefix = prefix + "_" + fieldPrefix
				}
				overrideStructFromEnvWithPrefix(field.Addr().Interface(), fieldPrefix)
			}
		case reflect.Ptr:
			// Handle pointer to struct
			if !field.IsNil() && field.Elem().Kind() == reflect.Struct {
				fieldPrefix := strings.ToUpper(strings.ReplaceAll(yamlTag, "-", "_"))
				if prefix != "" {
					fieldPrefix = prefix + "_" + fieldPrefix
				}
				overrideStructFromEnvWithPrefix(field.Interface(), fieldPrefix)
			}
		}
	}
}

// loadConfigWithOverrides loads the config file with potential local overrides
func loadConfigWithOverrides() (result0 *Config, err error) {
	// Try to load from environment variable first
	if envPath := os.Getenv("EXAMPREP_CONFIG_FILE"); envPath != "" {
		config, err := loadConfigFromFile(envPath)
		if err != nil {
			return nil, contextutils.WrapErrorf(contextutils.ErrInternalError, "failed to load config from %s: %w", envPath, err)
		}
		return config, nil
	}

	// If no environment variable is set, try default config.yaml
	return loadConfigFromFile("config.yaml")
}

// loadConfigFromFile loads configuration from a specific file
func loadConfigFromFile(path string) (result0 *Config, err error) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := yaml.Unmarshal(yamlFile, &config); err != nil {
		return nil, err
	}

	return &config, nil
}
