package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, filepath.Join("data", "flowgraph", "storage"), filepath.Clean(cfg.Storage.Path))
	assert.Equal(t, filepath.Join(cfg.DataDir, CatalogFileName), cfg.CatalogPath())
	assert.Equal(t, filepath.Join(cfg.Storage.Path, "web_traffic_logs"), cfg.InputDir())
	assert.False(t, cfg.LongRunning())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad mode", func(c *Config) { c.Mode = "forever" }},
		{"no data dir", func(c *Config) { c.DataDir = "" }},
		{"bad storage", func(c *Config) { c.Storage.Type = "ftp" }},
		{"s3 without bucket", func(c *Config) { c.Storage.Type = "s3" }},
		{"watch on s3", func(c *Config) {
			c.Mode = ModeWatch
			c.Storage.Type = "s3"
			c.Storage.S3.Bucket = "b"
		}},
		{"bad cron", func(c *Config) {
			c.Mode = ModeSchedule
			c.Schedule.Cron = "every minute"
		}},
		{"zero concurrency", func(c *Config) { c.Execution.Concurrency = 0 }},
		{"zero fetch concurrency", func(c *Config) { c.Execution.FetchConcurrency = 0 }},
		{"negative timeout", func(c *Config) { c.Execution.SourceTimeout = -time.Second }},
		{"generate nothing", func(c *Config) { c.Input.Files = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Resolve()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_ScheduleMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()
	cfg.Mode = ModeSchedule
	cfg.Schedule.Cron = "0 * * * *"
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.LongRunning())
}

func TestLoadFromFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowgraph.yaml")
	content := `
mode: watch
data_dir: /tmp/fg
input:
  prefix: logs
  files: 2
execution:
  concurrency: 8
  source_timeout: 45s
metrics:
  push_url: http://localhost:9091
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, ModeWatch, cfg.Mode)
	assert.Equal(t, "/tmp/fg", cfg.DataDir)
	assert.Equal(t, "logs", cfg.Input.Prefix)
	assert.Equal(t, 2, cfg.Input.Files)
	assert.Equal(t, 100, cfg.Input.RecordsPerFile) // default kept
	assert.Equal(t, 8, cfg.Execution.Concurrency)
	assert.Equal(t, 45*time.Second, cfg.Execution.SourceTimeout)
	assert.Equal(t, "http://localhost:9091", cfg.Metrics.PushURL)
	assert.Equal(t, "flowgraph", cfg.Metrics.Job)
}

func TestLoadFromFile_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowgraph.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"storage":{"type":"s3","s3":{"bucket":"logs"}}}`), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "s3", cfg.Storage.Type)
	assert.Equal(t, "logs", cfg.Storage.S3.Bucket)

	cfg.Resolve()
	assert.Empty(t, cfg.InputDir())
}

func TestLoadFromFile_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFromFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	toml := filepath.Join(dir, "cfg.toml")
	require.NoError(t, os.WriteFile(toml, []byte("mode = 'once'"), 0644))
	_, err = LoadFromFile(toml)
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("mode: [unclosed"), 0644))
	_, err = LoadFromFile(bad)
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("FLOWGRAPH_MODE", "schedule")
	t.Setenv("FLOWGRAPH_SCHEDULE_CRON", "*/1 * * * *")
	t.Setenv("FLOWGRAPH_INPUT_GENERATE", "false")
	t.Setenv("FLOWGRAPH_EXECUTION_CONCURRENCY", "2")
	t.Setenv("FLOWGRAPH_EXECUTION_SOURCE_TIMEOUT", "5s")
	t.Setenv("FLOWGRAPH_S3_REGION", "eu-west-1")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	assert.Equal(t, ModeSchedule, cfg.Mode)
	assert.Equal(t, "*/1 * * * *", cfg.Schedule.Cron)
	assert.False(t, cfg.Input.Generate)
	assert.Equal(t, 2, cfg.Execution.Concurrency)
	assert.Equal(t, 5*time.Second, cfg.Execution.SourceTimeout)
	assert.Equal(t, "eu-west-1", cfg.Storage.S3.Region)
}

func TestEnsureDirectories(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(t.TempDir(), "fg")
	cfg.Resolve()
	require.NoError(t, cfg.EnsureDirectories())

	for _, dir := range []string{cfg.DataDir, cfg.Storage.Path, cfg.InputDir()} {
		info, err := os.Stat(dir)
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir())
	}
}
