// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port   string
	DBPath string

	// Trace source (transcripts and observations).
	TraceBaseURL   string
	TracePublicKey string
	TraceSecretKey string

	// Source-of-truth records platform. Environment must resolve to
	// production; verification never runs against staging.
	TruthBaseURL     string
	TruthAPIKey      string
	TruthEnvironment string

	// Artifact store and deploy-event log.
	ArtifactBaseURL string

	// Classification model.
	LLMProvider    string
	LLMModel       string
	LLMMaxTokens   int
	LLMTemperature float64

	// Fixed delay between serial external calls (source-of-truth queries and
	// expert invocations share the same rate-limit posture).
	ExternalCallDelay time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		DBPath:            getEnv("DB_PATH", "./data/calltriage.db"),
		TraceBaseURL:      getEnv("TRACE_BASE_URL", ""),
		TracePublicKey:    getEnv("TRACE_PUBLIC_KEY", ""),
		TraceSecretKey:    getEnv("TRACE_SECRET_KEY", ""),
		TruthBaseURL:      getEnv("TRUTH_BASE_URL", ""),
		TruthAPIKey:       getEnv("TRUTH_API_KEY", ""),
		TruthEnvironment:  getEnv("TRUTH_ENVIRONMENT", "production"),
		ArtifactBaseURL:   getEnv("ARTIFACT_BASE_URL", ""),
		LLMProvider:       getEnv("LLM_PROVIDER", "anthropic"),
		LLMModel:          getEnv("LLM_MODEL", "claude-sonnet-4-20250514"),
		LLMMaxTokens:      getEnvInt("LLM_MAX_TOKENS", 4096),
		LLMTemperature:    getEnvFloat("LLM_TEMPERATURE", 0.2),
		ExternalCallDelay: time.Duration(getEnvInt("EXTERNAL_CALL_DELAY_MS", 500)) * time.Millisecond,
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints that cannot be defaulted away.
func (c *Config) Validate() error {
	if c.TruthEnvironment != "production" {
		return fmt.Errorf("TRUTH_ENVIRONMENT must be \"production\", got %q", c.TruthEnvironment)
	}
	if c.ExternalCallDelay < 0 {
		return fmt.Errorf("EXTERNAL_CALL_DELAY_MS must not be negative")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
