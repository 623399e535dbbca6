// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
	GetRateLimitRPS() float64
	GetRateLimitBurst() int
}

// AIConfig provides settings for the Gemini collaborator client.
type AIConfig interface {
	GetGeminiAPIKey() string
	GetGeminiModel() string
	GetGeminiTimeout() time.Duration
	IsAIEnabled() bool
}

// PipelineConfig provides tuning knobs for the pipeline orchestrator.
type PipelineConfig interface {
	GetEnrichmentBatchSize() int
	GetEnrichmentConcurrency() int
	GetEnrichmentMaxRetries() int
	GetEnrichmentRetryDelay() time.Duration
	GetCollaboratorMinInterval() time.Duration
	GetScoringWeightsPath() string
}

// SchedulerConfig provides settings for the asynq worker and client.
type SchedulerConfig interface {
	GetRedisURL() string
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
	IsAsynqEnabled() bool
}

// StreamConfig provides settings for outbound event fan-out.
type StreamConfig interface {
	GetRedisURL() string
	GetRedisEventStream() string
	IsRedisStreamEnabled() bool
}

// Config holds all application configuration values.
type Config struct {
	Env      string
	HTTPAddr string

	CORSAllowAll   bool
	CORSOrigins    []string
	CORSAllowCreds bool
	RateLimitRPS   float64
	RateLimitBurst int

	GeminiAPIKey  string
	GeminiModel   string
	GeminiTimeout time.Duration

	EnrichmentBatchSize     int
	EnrichmentConcurrency   int
	EnrichmentMaxRetries    int
	EnrichmentRetryDelay    time.Duration
	CollaboratorMinInterval time.Duration
	ScoringWeightsPath      string

	RedisURL         string
	AsynqEnabled     bool
	AsynqQueueName   string
	AsynqConcurrency int
	RedisEventStream string
}

// Load reads configuration from the environment, with .env support for
// local development.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:            getEnv("APP_ENV", "development"),
		HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
		CORSAllowAll:   corsAllowAll,
		CORSOrigins:    corsOrigins,
		CORSAllowCreds: strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		RateLimitRPS:   mustFloat(getEnv("RATE_LIMIT_RPS", "20")),
		RateLimitBurst: mustInt(getEnv("RATE_LIMIT_BURST", "40")),

		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
		GeminiModel:   getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		GeminiTimeout: mustDuration(getEnv("GEMINI_TIMEOUT", "60s")),

		EnrichmentBatchSize:     mustInt(getEnv("ENRICHMENT_BATCH_SIZE", "10")),
		EnrichmentConcurrency:   mustInt(getEnv("ENRICHMENT_CONCURRENCY", "3")),
		EnrichmentMaxRetries:    mustInt(getEnv("ENRICHMENT_MAX_RETRIES", "2")),
		EnrichmentRetryDelay:    mustDuration(getEnv("ENRICHMENT_RETRY_DELAY", "2s")),
		CollaboratorMinInterval: mustDuration(getEnv("COLLABORATOR_MIN_INTERVAL", "0s")),
		ScoringWeightsPath:      getEnv("SCORING_WEIGHTS_PATH", ""),

		RedisURL:         getEnv("REDIS_URL", ""),
		AsynqEnabled:     strings.EqualFold(getEnv("ASYNQ_ENABLED", "false"), "true"),
		AsynqQueueName:   getEnv("ASYNQ_QUEUE", "feedback"),
		AsynqConcurrency: mustInt(getEnv("ASYNQ_CONCURRENCY", "4")),
		RedisEventStream: getEnv("REDIS_EVENT_STREAM", ""),
	}

	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}
	if cfg.EnrichmentBatchSize < 1 {
		return nil, fmt.Errorf("ENRICHMENT_BATCH_SIZE must be at least 1")
	}
	if cfg.EnrichmentConcurrency < 1 {
		return nil, fmt.Errorf("ENRICHMENT_CONCURRENCY must be at least 1")
	}

	return cfg, nil
}

// =============================================================================
// Interface implementations
// =============================================================================

func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }
func (c *Config) GetRateLimitRPS() float64 { return c.RateLimitRPS }
func (c *Config) GetRateLimitBurst() int   { return c.RateLimitBurst }

func (c *Config) GetGeminiAPIKey() string         { return c.GeminiAPIKey }
func (c *Config) GetGeminiModel() string          { return c.GeminiModel }
func (c *Config) GetGeminiTimeout() time.Duration { return c.GeminiTimeout }
func (c *Config) IsAIEnabled() bool               { return c.GeminiAPIKey != "" }

func (c *Config) GetEnrichmentBatchSize() int               { return c.EnrichmentBatchSize }
func (c *Config) GetEnrichmentConcurrency() int             { return c.EnrichmentConcurrency }
func (c *Config) GetEnrichmentMaxRetries() int              { return c.EnrichmentMaxRetries }
func (c *Config) GetEnrichmentRetryDelay() time.Duration    { return c.EnrichmentRetryDelay }
func (c *Config) GetCollaboratorMinInterval() time.Duration { return c.CollaboratorMinInterval }
func (c *Config) GetScoringWeightsPath() string             { return c.ScoringWeightsPath }

func (c *Config) GetRedisURL() string         { return c.RedisURL }
func (c *Config) IsAsynqEnabled() bool        { return c.AsynqEnabled && c.RedisURL != "" }
func (c *Config) GetAsynqQueueName() string   { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int    { return c.AsynqConcurrency }
func (c *Config) GetRedisEventStream() string { return c.RedisEventStream }
func (c *Config) IsRedisStreamEnabled() bool  { return c.RedisURL != "" && c.RedisEventStream != "" }

// =============================================================================
// Helpers
// =============================================================================

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func containsWildcard(values []string) bool {
	for _, v := range values {
		if v == "*" {
			return true
		}
	}
	return false
}

func mustInt(value string) int {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return n
}

func mustFloat(value string) float64 {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return f
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}
