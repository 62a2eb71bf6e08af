package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "file", cfg.Pipeline.CacheSource)
	assert.Equal(t, "models", cfg.Pipeline.ModelDir)
	assert.Equal(t, uint64(42), cfg.Training.Seed)
	assert.Equal(t, 3, cfg.Training.Expansion.MaxDepth)
	assert.Equal(t, 5*time.Minute, cfg.Cache.ForecastTTL)
	assert.Equal(t, ":8080", cfg.Addr())
}

func TestLoadYAMLThenEnvironment(t *testing.T) {
	path := writeConfig(t, `
environment: staging
pipeline:
  cache_path: /srv/cache.json
  model_dir: /srv/models
server:
  port: 9090
`)
	t.Setenv("OMNI_MODEL_DIR", "/override/models")
	t.Setenv("OMNI_KAFKA_ENABLED", "true")
	t.Setenv("OMNI_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, "/srv/cache.json", cfg.Pipeline.CachePath)
	assert.Equal(t, "/override/models", cfg.Pipeline.ModelDir)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestValidateCrossSection(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"http without url", "pipeline:\n  cache_source: http\n"},
		{"clickhouse disabled", "pipeline:\n  cache_source: clickhouse\n"},
		{"unknown source", "pipeline:\n  cache_source: s3\n"},
		{"kafka without brokers", "kafka:\n  enabled: true\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestShippedConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config", "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "NIFTY", cfg.Pipeline.Symbol)
	assert.Empty(t, cfg.Training.ModelVersion)
	assert.Equal(t, 10*time.Second, cfg.Kafka.Consumer.MinRefreshInterval)
	assert.Equal(t, 30*time.Second, cfg.Server.WSPingInterval)
	assert.False(t, cfg.Kafka.Enabled)
}
