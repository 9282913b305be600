package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.Feed.WindowLength)
	assert.Equal(t, 20, cfg.Feed.DefaultPageSize)
	assert.Equal(t, 100, cfg.Feed.MaxPageSize)
	assert.Equal(t, 24*time.Hour, cfg.Feed.WindowTTL)
	assert.Equal(t, 100, cfg.Fanout.BatchSize)
	assert.Equal(t, "memory", cfg.Queue.Backend)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Queue.KafkaBrokers)
	assert.InDelta(t, 5.0, cfg.RateLimit.ReadRPS, 0.001)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte("feed:\n  window_length: 30\n  max_page_size: 50\nqueue:\n  backend: redis\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o644))

	t.Setenv("FEED_FEED_WINDOW_LENGTH", "50")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Feed.WindowLength, "env 优先于文件")
	assert.Equal(t, 50, cfg.Feed.MaxPageSize)
	assert.Equal(t, "redis", cfg.Queue.Backend)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("queue:\n  backend: rabbit\n"), 0o644))

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rabbit")
}

func TestValidate(t *testing.T) {
	base, err := Load(t.TempDir())
	require.NoError(t, err)

	cases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero window", func(c *Config) { c.Feed.WindowLength = 0 }},
		{"default above max", func(c *Config) { c.Feed.DefaultPageSize = c.Feed.MaxPageSize + 1 }},
		{"zero batch", func(c *Config) { c.Fanout.BatchSize = 0 }},
		{"zero attempts", func(c *Config) { c.Fanout.MaxAttempts = 0 }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := *base
			tc.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
	assert.NoError(t, base.Validate())
}
