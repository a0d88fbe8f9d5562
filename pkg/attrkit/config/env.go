package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Environment variable names consumed by FromEnv.
const (
	EnvEndpointURL    = "ATTRKIT_ENDPOINT_URL"
	EnvAPIKey         = "ATTRKIT_API_KEY"
	EnvTemplate       = "ATTRKIT_TEMPLATE"
	EnvStorePath      = "ATTRKIT_STORE_PATH"
	EnvSessionTimeout = "ATTRKIT_SESSION_TIMEOUT"
	EnvMaxBatchSize   = "ATTRKIT_MAX_BATCH_SIZE"
	EnvMaxAttempts    = "ATTRKIT_MAX_ATTEMPTS"
	EnvMaxQueueAge    = "ATTRKIT_MAX_QUEUE_AGE"
	EnvHighWaterMark  = "ATTRKIT_HIGH_WATER_MARK"
	EnvFlushInterval  = "ATTRKIT_FLUSH_INTERVAL"
	EnvRequestTimeout = "ATTRKIT_REQUEST_TIMEOUT"
)

// FromEnv builds a config from ATTRKIT_* environment variables. A .env
// file in the working directory is loaded first when present; real
// environment variables win over .env entries.
func FromEnv() (Config, error) {
	// Missing .env is the normal case, not an error.
	godotenv.Load()

	cfg := Config{
		EndpointURL:    os.Getenv(EnvEndpointURL),
		APIKey:         os.Getenv(EnvAPIKey),
		Template:       os.Getenv(EnvTemplate),
		StorePath:      os.Getenv(EnvStorePath),
		SessionTimeout: envDuration(EnvSessionTimeout),
		MaxBatchSize:   envInt(EnvMaxBatchSize),
		MaxAttempts:    envInt(EnvMaxAttempts),
		MaxQueueAge:    envDuration(EnvMaxQueueAge),
		HighWaterMark:  envInt(EnvHighWaterMark),
		FlushInterval:  envDuration(EnvFlushInterval),
		RequestTimeout: envDuration(EnvRequestTimeout),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// envInt parses an integer variable; unset or malformed values yield
// zero so Validate applies the default.
func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// envDuration parses a Go duration string such as "45s" or "1h".
func envDuration(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}
