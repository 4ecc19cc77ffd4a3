// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port         string
	Env          string // "development", "staging", "production"
	LogLevel     string
	LogFormat    string // "json" or "text"
	FrontendURL  string // allowed CORS origin
	RateLimitRPM int

	// Storage
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)
	RedisURL    string // Shared baseline cache (optional)

	// Decision thresholds (lower bound inclusive)
	BlockThreshold     int
	ChallengeThreshold int
	CautionThreshold   int

	// Baseline cache
	BaselineCacheTTL     time.Duration
	BaselineFetchTimeout time.Duration

	// Verified merchant keyword lists
	HealthcareKeywords []string
	EducationKeywords  []string

	// Probability oracle
	FallbackProbability float64
	ModelPath           string // local model weights file (optional)
	OracleURL           string // remote inference endpoint (optional)
	OracleTimeout       time.Duration

	// Tracing
	OTLPEndpoint string
}

// Defaults
const (
	DefaultPort                 = "8000"
	DefaultEnv                  = "development"
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "json"
	DefaultFrontendURL          = "http://localhost:5173"
	DefaultRateLimit            = 100
	DefaultBlockThreshold       = 90
	DefaultChallengeThreshold   = 71
	DefaultCautionThreshold     = 41
	DefaultBaselineCacheTTL     = 300 * time.Second
	DefaultBaselineFetchTimeout = 2 * time.Second
	DefaultFallbackProbability  = 0.2
	DefaultOracleTimeout        = 500 * time.Millisecond
)

// DefaultHealthcareKeywords and DefaultEducationKeywords are the curated
// substring lists used for the verified-merchant predicate.
var (
	DefaultHealthcareKeywords = []string{"apollo hospital", "max hospital", "fortis", "manipal hospital", "hospital"}
	DefaultEducationKeywords  = []string{"university", "college", "school", "iit", "nit"}
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", DefaultPort),
		Env:                  getEnv("ENV", DefaultEnv),
		LogLevel:             getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:            getEnv("LOG_FORMAT", DefaultLogFormat),
		FrontendURL:          getEnv("FRONTEND_URL", DefaultFrontendURL),
		RateLimitRPM:         int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimit)),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		RedisURL:             os.Getenv("REDIS_URL"),
		BlockThreshold:       int(getEnvInt64("THRESHOLD_BLOCK", DefaultBlockThreshold)),
		ChallengeThreshold:   int(getEnvInt64("THRESHOLD_CHALLENGE", DefaultChallengeThreshold)),
		CautionThreshold:     int(getEnvInt64("THRESHOLD_CAUTION", DefaultCautionThreshold)),
		BaselineCacheTTL:     getEnvDuration("BASELINE_CACHE_TTL", DefaultBaselineCacheTTL),
		BaselineFetchTimeout: getEnvDuration("BASELINE_FETCH_TIMEOUT", DefaultBaselineFetchTimeout),
		HealthcareKeywords:   getEnvList("HEALTHCARE_KEYWORDS", DefaultHealthcareKeywords),
		EducationKeywords:    getEnvList("EDUCATION_KEYWORDS", DefaultEducationKeywords),
		FallbackProbability:  getEnvFloat("ORACLE_FALLBACK_PROBABILITY", DefaultFallbackProbability),
		ModelPath:            os.Getenv("MODEL_PATH"),
		OracleURL:            os.Getenv("ORACLE_URL"),
		OracleTimeout:        getEnvDuration("ORACLE_TIMEOUT", DefaultOracleTimeout),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	for name, v := range map[string]int{
		"THRESHOLD_BLOCK":     c.BlockThreshold,
		"THRESHOLD_CHALLENGE": c.ChallengeThreshold,
		"THRESHOLD_CAUTION":   c.CautionThreshold,
	} {
		if v < 0 || v > 100 {
			return fmt.Errorf("%s must be within 0..100, got %d", name, v)
		}
	}
	// Tiers are half-open intervals, so the bounds must be strictly ordered.
	if !(c.CautionThreshold < c.ChallengeThreshold && c.ChallengeThreshold < c.BlockThreshold) {
		return fmt.Errorf("thresholds must satisfy caution < challenge < block, got %d/%d/%d",
			c.CautionThreshold, c.ChallengeThreshold, c.BlockThreshold)
	}

	if c.FallbackProbability < 0 || c.FallbackProbability > 1 {
		return fmt.Errorf("ORACLE_FALLBACK_PROBABILITY must be within [0,1], got %v", c.FallbackProbability)
	}
	if c.BaselineCacheTTL <= 0 {
		return fmt.Errorf("BASELINE_CACHE_TTL must be positive")
	}
	if c.BaselineFetchTimeout <= 0 {
		return fmt.Errorf("BASELINE_FETCH_TIMEOUT must be positive")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("300s", "5m") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

// getEnvList splits a comma-separated value, trimming blanks and lowercasing.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		out := make([]string, len(defaultValue))
		copy(out, defaultValue)
		return out
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
