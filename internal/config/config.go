// Package config loads service configuration from environment variables,
// mirroring manifold's loader conventions: godotenv for local overrides,
// explicit os.Getenv reads, defaults applied after collection, descriptive
// errors for missing required values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the fully-resolved runtime configuration.
type Config struct {
	SearchBearerToken string
	SearchBaseURL     string

	SummaryProvider   string
	ModelAPIKey       string
	SummaryFastModel  string
	SummaryReasoningModel string

	PollIntervalSeconds int
	AutoStart           bool
	MaxTicksPerTopic    int
	MaxBarsPerResolution int

	RateLimitRedisAddr string

	LogLevel string
}

const (
	defaultPollIntervalSeconds  = 15
	defaultMaxTicksPerTopic     = 10000
	defaultMaxBarsPerResolution = 500
)

// Load reads Config from the process environment, applying a .env file if
// present (via godotenv.Overload, so .env values take precedence — useful
// for local development, never present in a deployed container).
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{
		SearchBearerToken:     strings.TrimSpace(os.Getenv("SEARCH_BEARER_TOKEN")),
		SearchBaseURL:         strings.TrimSpace(os.Getenv("SEARCH_BASE_URL")),
		SummaryProvider:       strings.TrimSpace(os.Getenv("SUMMARY_PROVIDER")),
		ModelAPIKey:           strings.TrimSpace(os.Getenv("MODEL_API_KEY")),
		SummaryFastModel:      strings.TrimSpace(os.Getenv("SUMMARY_FAST_MODEL")),
		SummaryReasoningModel: strings.TrimSpace(os.Getenv("SUMMARY_REASONING_MODEL")),
		RateLimitRedisAddr:    strings.TrimSpace(os.Getenv("RATE_LIMIT_REDIS_ADDR")),
		LogLevel:              strings.TrimSpace(os.Getenv("LOG_LEVEL")),
	}

	var err error
	if cfg.PollIntervalSeconds, err = intEnv("POLL_INTERVAL_SECONDS", defaultPollIntervalSeconds); err != nil {
		return Config{}, err
	}
	if cfg.MaxTicksPerTopic, err = intEnv("MAX_TICKS_PER_TOPIC", defaultMaxTicksPerTopic); err != nil {
		return Config{}, err
	}
	if cfg.MaxBarsPerResolution, err = intEnv("MAX_BARS_PER_RESOLUTION", defaultMaxBarsPerResolution); err != nil {
		return Config{}, err
	}
	cfg.AutoStart = boolEnv("AUTO_START", false)

	if cfg.AutoStart {
		if cfg.SearchBearerToken == "" {
			return Config{}, fmt.Errorf("config: SEARCH_BEARER_TOKEN is required when AUTO_START is set")
		}
		if cfg.ModelAPIKey == "" {
			return Config{}, fmt.Errorf("config: MODEL_API_KEY is required when AUTO_START is set")
		}
	}

	return cfg, nil
}

// PollInterval is PollIntervalSeconds as a time.Duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func intEnv(name string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer, got %q: %w", name, v, err)
	}
	return n, nil
}

func boolEnv(name string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}
