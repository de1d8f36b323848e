// Package config reads service settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/promptquest/internal/battle"
	"github.com/jason-s-yu/promptquest/internal/cache"
	"github.com/jason-s-yu/promptquest/internal/database"
	"github.com/jason-s-yu/promptquest/internal/historian"
	"github.com/jason-s-yu/promptquest/internal/scoring"
)

type Config struct {
	Port     string
	LogLevel logrus.Level

	// DatabaseURL is empty when battles and users live in memory.
	DatabaseURL string
	Redis       cache.Options
	Gemini      scoring.GeminiConfig
	Retry       battle.RetryPolicy

	RescoreInterval time.Duration
	RescoreAfter    time.Duration

	// HistoryEnabled queues lifecycle events for the historian worker. Needs Redis and Postgres.
	HistoryEnabled bool
	History        historian.Options

	TokenTTL       time.Duration
	PrivateKeyPath string
	PublicKeyPath  string

	AllowedOrigins []string
}

// Load reads the environment. Unparseable values are errors rather than silent defaults.
func Load() (*Config, error) {
	var errs []string
	dur := func(key string, def time.Duration) time.Duration {
		d, err := getEnvDuration(key, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return d
	}
	num := func(key string, def int) int {
		n, err := getEnvInt(key, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return n
	}

	level, err := logrus.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL: %v", err))
		level = logrus.InfoLevel
	}

	multiplier, err := strconv.ParseFloat(getEnv("ORACLE_RETRY_MULTIPLIER", "2"), 64)
	if err != nil || multiplier < 1 {
		errs = append(errs, "ORACLE_RETRY_MULTIPLIER: must be a number >= 1")
		multiplier = 2
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		LogLevel:    level,
		DatabaseURL: database.URLFromEnv(),
		Redis: cache.Options{
			URL:  os.Getenv("REDIS_URL"),
			Addr: os.Getenv("REDIS_ADDR"),
			DB:   num("REDIS_DB", 0),
		},
		Gemini: scoring.GeminiConfig{
			Project: os.Getenv("GCP_PROJECT_ID"),
			Region:  getEnv("GCP_REGION", "europe-west1"),
			APIKey:  os.Getenv("GEMINI_API_KEY"),
			Model:   getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		},
		Retry: battle.RetryPolicy{
			MaxAttempts:    num("ORACLE_MAX_ATTEMPTS", 3),
			BaseDelay:      dur("ORACLE_RETRY_DELAY", 2*time.Second),
			Multiplier:     multiplier,
			AttemptTimeout: dur("ORACLE_TIMEOUT", 30*time.Second),
		},
		RescoreInterval: dur("RESCORE_INTERVAL", time.Minute),
		RescoreAfter:    dur("RESCORE_AFTER", 5*time.Minute),
		HistoryEnabled:  getEnv("HISTORY_ENABLED", "false") == "true",
		History: historian.Options{
			Queue:         getEnv("HISTORIAN_QUEUE_NAME", historian.DefaultQueue),
			BatchSize:     num("HISTORIAN_BATCH_SIZE", historian.DefaultBatchSize),
			FlushInterval: dur("HISTORIAN_FLUSH_INTERVAL", historian.DefaultFlushInterval),
		},
		PrivateKeyPath:  os.Getenv("JWT_PRIVATE_KEY_PATH"),
		PublicKeyPath:   os.Getenv("JWT_PUBLIC_KEY_PATH"),
		AllowedOrigins:  splitList(getEnv("ALLOWED_ORIGINS", "*")),
	}

	switch ttl := getEnv("TOKEN_EXPIRE_TIME", "72h"); ttl {
	case "never", "0":
		cfg.TokenTTL = 0
	default:
		d, err := time.ParseDuration(ttl)
		if err != nil {
			errs = append(errs, fmt.Sprintf("TOKEN_EXPIRE_TIME: %v", err))
		}
		cfg.TokenTTL = d
	}

	if cfg.Retry.MaxAttempts < 1 {
		errs = append(errs, "ORACLE_MAX_ATTEMPTS: must be at least 1")
	}
	if cfg.RescoreInterval <= 0 || cfg.RescoreAfter <= 0 {
		errs = append(errs, "RESCORE_INTERVAL and RESCORE_AFTER must be positive")
	}
	if cfg.HistoryEnabled && !cfg.Redis.Enabled() {
		errs = append(errs, "HISTORY_ENABLED requires REDIS_URL or REDIS_ADDR")
	}
	if cfg.HistoryEnabled && cfg.DatabaseURL == "" {
		errs = append(errs, "HISTORY_ENABLED requires DATABASE_URL or PG_HOST")
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// OracleConfigured reports whether Gemini credentials are present.
func (c *Config) OracleConfigured() bool {
	return c.Gemini.Project != "" || c.Gemini.APIKey != ""
}

// getEnv reads an environment variable or returns a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def, fmt.Errorf("%s: %v", key, err)
	}
	return v, nil
}

func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def, fmt.Errorf("%s: %v", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
