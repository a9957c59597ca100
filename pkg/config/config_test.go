package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/edgedb/website-search/pkg/errors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 20, cfg.Search.DefaultLimit)
	assert.Equal(t, map[string]float64{"index": 5, "name": 3, "title": 2, "type": 0.5}, cfg.Search.FieldBoosts)
	assert.Equal(t, "index.published", cfg.Kafka.Topics.IndexPublished)
	assert.False(t, cfg.Kafka.Enabled())
	assert.False(t, cfg.Manifest.Enabled)
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
  requestTimeout: 2s
kafka:
  brokers: [kafka-1:9092]
build:
  outputDir: /tmp/out
  domains:
    - name: docs
      records: content/docs.jsonl
      boosts:
        /docs/reference: 0.5
        /docs/reference/stdlib: 0.3
    - name: blog
      records: content/blog.jsonl
search:
  indexes:
    - id: docs
      path: /tmp/out/docs/docssearch.jolrindex
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 2*time.Second, cfg.Server.RequestTimeout)
	assert.True(t, cfg.Kafka.Enabled())
	require.Len(t, cfg.Build.Domains, 2)

	docs, ok := cfg.Build.Domain("docs")
	require.True(t, ok)
	assert.Equal(t, 0.3, docs.Boosts["/docs/reference/stdlib"])
	_, ok = cfg.Build.Domain("tutorial")
	assert.False(t, ok)

	assert.Equal(t, []IndexConfig{{ID: "docs", Path: "/tmp/out/docs/docssearch.jolrindex"}}, cfg.Search.Indexes)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SS_SERVER_PORT", "7070")
	t.Setenv("SS_KAFKA_BROKERS", "a:1,b:2")
	t.Setenv("SS_REDIS_ADDR", "redis:6379")
	t.Setenv("SS_MANIFEST_ENABLED", "true")
	t.Setenv("SS_LOGGING_LEVEL", "debug")
	t.Setenv("SS_SERVER_ADMIN_TOKEN", "s3cret")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.Kafka.Brokers)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.True(t, cfg.Manifest.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "s3cret", cfg.Server.AdminToken)
}

func TestValidate(t *testing.T) {
	tests := map[string]string{
		"unnamed domain":   "build:\n  domains:\n    - records: x.jsonl\n",
		"duplicate domain": "build:\n  domains:\n    - name: docs\n    - name: docs\n",
		"pathless index":   "search:\n  indexes:\n    - id: docs\n",
		"limits":           "search:\n  defaultLimit: 50\n  maxResults: 10\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
		})
	}

	_, err := Load(writeConfig(t, "manifest:\n  enabled: true\nsearch:\n  indexes:\n    - id: docs\n"))
	assert.NoError(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
