// Package config centralizes how gallerymind reads environment variables and
// exposes them as strongly typed values.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents runtime configuration for the API, the in-process
// pipeline, and the queue worker. An empty DatabaseURL selects the in-memory
// store; an empty S3Endpoint disables the upload endpoint.
type Config struct {
	Address       string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3UseSSL    bool
	ImageBucket string
	PresignTTL  time.Duration

	ModelURL     string
	ModelTimeout time.Duration

	FetchRetries  int
	FetchTimeout  time.Duration
	MaxImageBytes int64

	AnalyzeBudget time.Duration
	CacheTTL      time.Duration

	WorkerCount   int
	PollInterval  time.Duration
	SweepInterval time.Duration
	StaleAfter    time.Duration

	LogLevel string
}

const (
	defaultAddress       = ":8080"
	defaultRegion        = "us-east-1"
	defaultImageBucket   = "gallery-originals"
	defaultPresignTTL    = time.Hour
	defaultModelURL      = "http://localhost:8500"
	defaultModelTimeout  = 15 * time.Second
	defaultFetchRetries  = 3
	defaultFetchTimeout  = 10 * time.Second
	defaultMaxImageBytes = 25 << 20 // 25 MiB
	defaultAnalyzeBudget = 30 * time.Second
	defaultCacheTTL      = 24 * time.Hour
	defaultWorkerCount   = 4
	defaultPollInterval  = 2 * time.Second
	defaultSweepInterval = time.Minute
	defaultStaleAfter    = 10 * time.Minute
)

// Load reads configuration from the environment falling back to defaults. A
// .env file in the working directory is folded in first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Address:       readEnv("GALLERYMIND_ADDRESS", defaultAddress),
		DatabaseURL:   readEnv("GALLERYMIND_DATABASE_URL", ""),
		RedisAddr:     readEnv("GALLERYMIND_REDIS_ADDR", ""),
		RedisPassword: readEnv("GALLERYMIND_REDIS_PASSWORD", ""),
		RedisDB:       parseInt("GALLERYMIND_REDIS_DB", 0),

		S3Endpoint:  readEnv("GALLERYMIND_S3_ENDPOINT", ""),
		S3AccessKey: readEnv("GALLERYMIND_S3_ACCESS_KEY", ""),
		S3SecretKey: readEnv("GALLERYMIND_S3_SECRET_KEY", ""),
		S3Region:    readEnv("GALLERYMIND_S3_REGION", defaultRegion),
		S3UseSSL:    parseBool("GALLERYMIND_S3_USE_SSL", false),
		ImageBucket: readEnv("GALLERYMIND_IMAGE_BUCKET", defaultImageBucket),
		PresignTTL:  parseDuration("GALLERYMIND_PRESIGN_TTL", defaultPresignTTL),

		ModelURL:     readEnv("GALLERYMIND_MODEL_URL", defaultModelURL),
		ModelTimeout: parseDuration("GALLERYMIND_MODEL_TIMEOUT", defaultModelTimeout),

		FetchRetries:  parseInt("GALLERYMIND_FETCH_RETRIES", defaultFetchRetries),
		FetchTimeout:  parseDuration("GALLERYMIND_FETCH_TIMEOUT", defaultFetchTimeout),
		MaxImageBytes: parseInt64("GALLERYMIND_MAX_IMAGE_BYTES", defaultMaxImageBytes),

		AnalyzeBudget: parseDuration("GALLERYMIND_ANALYZE_BUDGET", defaultAnalyzeBudget),
		CacheTTL:      parseDuration("GALLERYMIND_CACHE_TTL", defaultCacheTTL),

		WorkerCount:   parseInt("GALLERYMIND_WORKERS", defaultWorkerCount),
		PollInterval:  parseDuration("GALLERYMIND_POLL_INTERVAL", defaultPollInterval),
		SweepInterval: parseDuration("GALLERYMIND_SWEEP_INTERVAL", defaultSweepInterval),
		StaleAfter:    parseDuration("GALLERYMIND_STALE_AFTER", defaultStaleAfter),

		LogLevel: readEnv("LOG_LEVEL", "info"),
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = defaultWorkerCount
	}
	if cfg.FetchRetries < 0 {
		cfg.FetchRetries = defaultFetchRetries
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = defaultMaxImageBytes
	}
	if cfg.AnalyzeBudget <= 0 {
		cfg.AnalyzeBudget = defaultAnalyzeBudget
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaultStaleAfter
	}
	return cfg, nil
}

func readEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func parseInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseInt64(key string, def int64) int64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return def
}
