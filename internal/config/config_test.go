package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 9090
  host: "0.0.0.0"
  embedded_workers: true

catalog:
  base_url: "https://catalog.example.com/v3/poi"
  api_key: "test-api-key"
  max_results: 100
  timeout_seconds: 10

queue:
  driver: "rabbitmq"
  name: "poi-import-test"
  max_attempts: 5
  concurrency: 4
  enqueue_policy: "abort"

storage:
  driver: "mongo"
  mongo_uri: "mongodb://mongo:27017"
  mongo_database: "charging"

log:
  level: "debug"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	// Test server config
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.True(t, cfg.Server.EmbeddedWorkers)

	// Test catalog config
	assert.Equal(t, "https://catalog.example.com/v3/poi", cfg.Catalog.BaseURL)
	assert.Equal(t, "test-api-key", cfg.Catalog.APIKey)
	assert.Equal(t, 100, cfg.Catalog.MaxResults)
	assert.Equal(t, 10, cfg.Catalog.TimeoutSeconds)
	assert.Equal(t, "POI-Importer/1.0", cfg.Catalog.UserAgent)

	// Test queue config
	assert.Equal(t, "rabbitmq", cfg.Queue.Driver)
	assert.Equal(t, "poi-import-test", cfg.Queue.Name)
	assert.Equal(t, 5, cfg.Queue.MaxAttempts)
	assert.Equal(t, 4, cfg.Queue.Concurrency)
	assert.Equal(t, "abort", cfg.Queue.EnqueuePolicy)

	// Test storage config
	assert.Equal(t, "mongo", cfg.Storage.Driver)
	assert.Equal(t, "mongodb://mongo:27017", cfg.Storage.MongoURI)
	assert.Equal(t, "charging", cfg.Storage.MongoDatabase)

	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
catalog:
  api_key: "test-key"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	// Verify defaults are applied
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, "https://api.openchargemap.io/v3/poi", cfg.Catalog.BaseURL)
	assert.Equal(t, 50000, cfg.Catalog.MaxResults)
	assert.Equal(t, 30, cfg.Catalog.TimeoutSeconds)
	assert.Equal(t, "redis", cfg.Queue.Driver)
	assert.Equal(t, "poi-import", cfg.Queue.Name)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, 10, cfg.Queue.Concurrency)
	assert.Equal(t, "skip", cfg.Queue.EnqueuePolicy)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, "pois", cfg.Storage.Collection)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFromEnv(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
catalog:
  api_key: "file-key"
  base_url: "https://file-url.com"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	t.Setenv("OCM_API_KEY", "env-key")
	t.Setenv("OCM_API_URL", "https://env-url.com")
	t.Setenv("QUEUE_DRIVER", "memory")
	t.Setenv("STORAGE_DRIVER", "mongo")
	t.Setenv("WORKER_CONCURRENCY", "3")

	cfg, err := LoadFromEnv(configPath)
	require.NoError(t, err)

	// Environment variables should override file values
	assert.Equal(t, "env-key", cfg.Catalog.APIKey)
	assert.Equal(t, "https://env-url.com", cfg.Catalog.BaseURL)
	assert.Equal(t, "memory", cfg.Queue.Driver)
	assert.Equal(t, "mongo", cfg.Storage.Driver)
	assert.Equal(t, 3, cfg.Queue.Concurrency)
}

func TestLoadFromEnvMissingFile(t *testing.T) {
	t.Setenv("OCM_API_KEY", "env-only")

	cfg, err := LoadFromEnv(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "env-only", cfg.Catalog.APIKey)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestDurations(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 30*time.Second, cfg.Catalog.Timeout())
	assert.Equal(t, time.Second, cfg.Queue.BackoffBase())
	assert.Equal(t, 30*time.Second, cfg.Queue.BackoffMax())
	assert.Equal(t, 5*time.Minute, cfg.Queue.StaleAge())
	assert.Equal(t, 2*time.Minute, cfg.Queue.RecoveryInterval())
}
