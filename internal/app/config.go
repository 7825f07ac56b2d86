// Package app assembles the orchestration core's components from an
// env-var driven Config, the single place every component's tunables are
// read from so an enveloping service only has to set environment
// variables to control the whole core.
package app

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the core's tunables, read at startup. All values have
// defaults; nothing here is required. LoadConfig reads and validates every
// field, but NewCore passes none of QuotaDefaultDailyUSD,
// QuotaDefaultMonthlyUSD, QuotaPerRequestCapUSD, LearningRateEMA or
// SwarmDefaultMaxAttempts to a component: the Learning Loop and Swarm
// Coordinator use their built-in defaults, and the Quota Service applies
// only the QuotaConfigs installed through its SetConfig.
type Config struct {
	LogLevel string

	// Circuit Breaker (C5).
	BreakerFailureThreshold int
	BreakerRetryTimeout     time.Duration

	// Rate Limiter (C6).
	RateLimitRequestsPerMinute int
	RateLimitRequestsPerHour   int
	RateLimitRequestsPerDay    int
	RateLimitMaxConcurrent     int

	// Quota Service (C7).
	QuotaDefaultDailyUSD   float64
	QuotaDefaultMonthlyUSD float64
	QuotaPerRequestCapUSD  float64

	// Learning Loop (C8).
	LearningRateEMA float64

	// Audit Logger (C12).
	AuditRetentionDays     int
	AuditHighCostSpikeUSD  float64
	AuditRapidFailureCount int

	// Swarm Coordinator (C11).
	SwarmMaxParallelAgents int
	SwarmDefaultMaxAttempts int

	// OpenTelemetry tracing (opt-in).
	OTelEnabled     bool
	OTelEndpoint    string
	OTelServiceName string

	// Prometheus metrics (opt-in).
	MetricsEnabled bool

	// Temporal workflow engine (opt-in durable Swarm Coordinator backend).
	TemporalEnabled   bool
	TemporalHostPort  string
	TemporalNamespace string
	TemporalTaskQueue string

	// Model catalog source (Model Registry, C1).
	ModelCatalogPath string
}

// LoadConfig reads Config from the environment under the AGENTCORE_
// prefix, applying defaults for anything unset, and validates the result.
func LoadConfig() (Config, error) {
	cfg := Config{
		LogLevel: getEnv("AGENTCORE_LOG_LEVEL", "info"),

		BreakerFailureThreshold: getEnvInt("AGENTCORE_BREAKER_FAILURE_THRESHOLD", 5),
		BreakerRetryTimeout:     getEnvDuration("AGENTCORE_BREAKER_RETRY_TIMEOUT", 60*time.Second),

		RateLimitRequestsPerMinute: getEnvInt("AGENTCORE_RATE_LIMIT_RPM", 0),
		RateLimitRequestsPerHour:   getEnvInt("AGENTCORE_RATE_LIMIT_RPH", 0),
		RateLimitRequestsPerDay:    getEnvInt("AGENTCORE_RATE_LIMIT_RPD", 0),
		RateLimitMaxConcurrent:     getEnvInt("AGENTCORE_RATE_LIMIT_MAX_CONCURRENT", 0),

		QuotaDefaultDailyUSD:   getEnvFloat("AGENTCORE_QUOTA_DEFAULT_DAILY_USD", 0),
		QuotaDefaultMonthlyUSD: getEnvFloat("AGENTCORE_QUOTA_DEFAULT_MONTHLY_USD", 0),
		QuotaPerRequestCapUSD:  getEnvFloat("AGENTCORE_QUOTA_PER_REQUEST_CAP_USD", 0),

		LearningRateEMA: getEnvFloat("AGENTCORE_LEARNING_RATE_EMA", 0.1),

		AuditRetentionDays:     getEnvInt("AGENTCORE_AUDIT_RETENTION_DAYS", 90),
		AuditHighCostSpikeUSD:  getEnvFloat("AGENTCORE_AUDIT_HIGH_COST_SPIKE_USD", 1.0),
		AuditRapidFailureCount: getEnvInt("AGENTCORE_AUDIT_RAPID_FAILURE_COUNT", 5),

		SwarmMaxParallelAgents:  getEnvInt("AGENTCORE_SWARM_MAX_PARALLEL_AGENTS", 4),
		SwarmDefaultMaxAttempts: getEnvInt("AGENTCORE_SWARM_DEFAULT_MAX_ATTEMPTS", 3),

		OTelEnabled:     getEnvBool("AGENTCORE_OTEL_ENABLED", false),
		OTelEndpoint:    getEnv("AGENTCORE_OTEL_ENDPOINT", "localhost:4318"),
		OTelServiceName: getEnv("AGENTCORE_OTEL_SERVICE_NAME", "agentcore"),

		MetricsEnabled: getEnvBool("AGENTCORE_METRICS_ENABLED", true),

		TemporalEnabled:   getEnvBool("AGENTCORE_TEMPORAL_ENABLED", false),
		TemporalHostPort:  getEnv("AGENTCORE_TEMPORAL_HOST", "localhost:7233"),
		TemporalNamespace: getEnv("AGENTCORE_TEMPORAL_NAMESPACE", "agentcore"),
		TemporalTaskQueue: getEnv("AGENTCORE_TEMPORAL_TASK_QUEUE", "agentcore-swarm"),

		ModelCatalogPath: getEnv("AGENTCORE_MODEL_CATALOG_PATH", "models.yaml"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks config values for obviously invalid settings.
func (c Config) Validate() error {
	if c.BreakerFailureThreshold <= 0 {
		return fmt.Errorf("AGENTCORE_BREAKER_FAILURE_THRESHOLD must be > 0, got %d", c.BreakerFailureThreshold)
	}
	if c.BreakerRetryTimeout <= 0 {
		return fmt.Errorf("AGENTCORE_BREAKER_RETRY_TIMEOUT must be > 0, got %s", c.BreakerRetryTimeout)
	}
	if c.QuotaDefaultDailyUSD < 0 || c.QuotaDefaultMonthlyUSD < 0 || c.QuotaPerRequestCapUSD < 0 {
		return fmt.Errorf("quota budgets must be >= 0")
	}
	if c.LearningRateEMA <= 0 || c.LearningRateEMA > 1 {
		return fmt.Errorf("AGENTCORE_LEARNING_RATE_EMA must be in (0, 1], got %f", c.LearningRateEMA)
	}
	if c.AuditRetentionDays <= 0 {
		return fmt.Errorf("AGENTCORE_AUDIT_RETENTION_DAYS must be > 0, got %d", c.AuditRetentionDays)
	}
	if c.SwarmMaxParallelAgents <= 0 {
		return fmt.Errorf("AGENTCORE_SWARM_MAX_PARALLEL_AGENTS must be > 0, got %d", c.SwarmMaxParallelAgents)
	}
	if c.SwarmDefaultMaxAttempts <= 0 {
		return fmt.Errorf("AGENTCORE_SWARM_DEFAULT_MAX_ATTEMPTS must be > 0, got %d", c.SwarmDefaultMaxAttempts)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

