package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attrkit/attrkit/pkg/attrkit/config"
)

func TestValidateAppliesDefaults(t *testing.T) {
	cfg := config.Config{
		EndpointURL: "https://ingest.example.com/v1/events",
		APIKey:      "key-123",
	}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, config.DefaultSessionTimeout, cfg.SessionTimeout)
	assert.Equal(t, config.DefaultMaxBatchSize, cfg.MaxBatchSize)
	assert.Equal(t, config.DefaultMaxAttempts, cfg.MaxAttempts)
	assert.Equal(t, config.DefaultMaxQueueAge, cfg.MaxQueueAge)
	assert.Equal(t, config.DefaultHighWaterMark, cfg.HighWaterMark)
	assert.Equal(t, config.DefaultFlushInterval, cfg.FlushInterval)
	assert.Equal(t, config.DefaultRequestTimeout, cfg.RequestTimeout)
}

func TestValidateKeepsExplicitValues(t *testing.T) {
	cfg := config.Config{
		EndpointURL:    "https://ingest.example.com/v1/events",
		APIKey:         "key-123",
		SessionTimeout: 10 * time.Minute,
		MaxBatchSize:   50,
	}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 10*time.Minute, cfg.SessionTimeout)
	assert.Equal(t, 50, cfg.MaxBatchSize)
}

func TestValidateRejectsMissingRequired(t *testing.T) {
	cfg := config.Config{APIKey: "key"}
	assert.Error(t, cfg.Validate())

	cfg = config.Config{EndpointURL: "https://ingest.example.com"}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsOversizedBatch(t *testing.T) {
	cfg := config.Config{
		EndpointURL:  "https://ingest.example.com",
		APIKey:       "key",
		MaxBatchSize: 500,
	}
	assert.Error(t, cfg.Validate())
}

func TestFromYAML(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
endpointUrl: https://ingest.example.com/v1/events
apiKey: key-123
template: ecommerce
sessionTimeout: 15m
maxBatchSize: 40
`))
	require.NoError(t, err)

	assert.Equal(t, "https://ingest.example.com/v1/events", cfg.EndpointURL)
	assert.Equal(t, "ecommerce", cfg.Template)
	assert.Equal(t, 15*time.Minute, cfg.SessionTimeout)
	assert.Equal(t, 40, cfg.MaxBatchSize)
	assert.Equal(t, config.DefaultMaxAttempts, cfg.MaxAttempts)
}

func TestFromJSON(t *testing.T) {
	cfg, err := config.FromJSON([]byte(`{
		"endpointUrl": "https://ingest.example.com/v1/events",
		"apiKey": "key-123",
		"storePath": "/var/lib/app/events.db"
	}`))
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/app/events.db", cfg.StorePath)
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "attrkit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"endpointUrl: https://ingest.example.com\napiKey: key\n"), 0o600))

	cfg, err := config.FromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "key", cfg.APIKey)

	_, err = config.FromFile(filepath.Join(dir, "attrkit.toml"))
	assert.Error(t, err)

	_, err = config.FromFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestFromEnv(t *testing.T) {
	t.Setenv(config.EnvEndpointURL, "https://ingest.example.com/v1/events")
	t.Setenv(config.EnvAPIKey, "key-env")
	t.Setenv(config.EnvTemplate, "gaming")
	t.Setenv(config.EnvSessionTimeout, "20m")
	t.Setenv(config.EnvMaxBatchSize, "30")

	cfg, err := config.FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "key-env", cfg.APIKey)
	assert.Equal(t, "gaming", cfg.Template)
	assert.Equal(t, 20*time.Minute, cfg.SessionTimeout)
	assert.Equal(t, 30, cfg.MaxBatchSize)
}

func TestFromEnvMalformedValuesFallBack(t *testing.T) {
	t.Setenv(config.EnvEndpointURL, "https://ingest.example.com")
	t.Setenv(config.EnvAPIKey, "key")
	t.Setenv(config.EnvMaxBatchSize, "lots")
	t.Setenv(config.EnvFlushInterval, "soon")

	cfg, err := config.FromEnv()
	require.NoError(t, err)

	assert.Equal(t, config.DefaultMaxBatchSize, cfg.MaxBatchSize)
	assert.Equal(t, config.DefaultFlushInterval, cfg.FlushInterval)
}
