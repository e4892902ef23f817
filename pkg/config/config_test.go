package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, "./documents", cfg.OutputDir)

	assert.Equal(t, "jsonl", cfg.Store.Backend)
	assert.True(t, cfg.Store.SyncWrites)
	assert.Equal(t, 64, cfg.Store.QueueSize)

	assert.Equal(t, 3, cfg.Collect.MaxRetries)
	assert.Equal(t, 3, cfg.Collect.LoginAttempts)
	assert.Equal(t, 1*time.Second, cfg.Collect.BaseDelay)
	assert.Equal(t, 60, cfg.Collect.WindowDays)
	assert.Equal(t, 4, cfg.Collect.IdleScrolls)

	assert.Equal(t, "chromedp", cfg.Browser.Driver)
	assert.True(t, cfg.Browser.Headless)

	assert.Equal(t, "A4", cfg.Render.PageSize)
	assert.Equal(t, 36.0, cfg.Render.MarginPt)

	assert.NoError(t, cfg.Validate())
}

func TestDataDirectories(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/data/xscrap"

	assert.Equal(t, filepath.Join("/data/xscrap", "records"), cfg.RecordsDir())
	assert.Equal(t, filepath.Join("/data/xscrap", "checkpoints"), cfg.CheckpointsDir())
}

func TestLoadFromFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	testConfig := `
data_dir: /tmp/xscrap-data
output_dir: /tmp/xscrap-docs
store:
  backend: sqlite
  sync_writes: false
  queue_size: 8
collect:
  max_retries: 5
  base_delay: 2s
  max_delay: 30s
  window_days: 30
browser:
  driver: replay
  replay_file: fixtures/alice.yaml
render:
  margin_pt: 24
  include_media_links: false
schedule:
  cron: "*/30 * * * *"
  subjects: [alice, bob]
logging:
  level: warn
`
	require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0644))

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromFile(configPath))

	assert.Equal(t, "/tmp/xscrap-data", cfg.DataDir)
	assert.Equal(t, "/tmp/xscrap-docs", cfg.OutputDir)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.False(t, cfg.Store.SyncWrites)
	assert.Equal(t, 8, cfg.Store.QueueSize)
	assert.Equal(t, 5, cfg.Collect.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Collect.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Collect.MaxDelay)
	assert.Equal(t, 30, cfg.Collect.WindowDays)
	assert.Equal(t, "replay", cfg.Browser.Driver)
	assert.Equal(t, "fixtures/alice.yaml", cfg.Browser.ReplayFile)
	assert.Equal(t, 24.0, cfg.Render.MarginPt)
	assert.False(t, cfg.Render.IncludeMediaLinks)
	assert.Equal(t, []string{"alice", "bob"}, cfg.Schedule.Subjects)
	assert.Equal(t, "warn", cfg.Logging.Level)

	// untouched sections keep their defaults
	assert.Equal(t, 3, cfg.Collect.LoginAttempts)
	assert.Equal(t, 11.0, cfg.Render.FontSize)

	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFileMissing(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("XSCRAP_DATA_DIR", "/env/data")
	t.Setenv("XSCRAP_STORE_BACKEND", "sqlite")
	t.Setenv("XSCRAP_HEADLESS", "false")
	t.Setenv("XSCRAP_MAX_RETRIES", "7")
	t.Setenv("XSCRAP_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "/env/data", cfg.DataDir)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, 7, cfg.Collect.MaxRetries)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromEnvInvalidNumber(t *testing.T) {
	t.Setenv("XSCRAP_MAX_RETRIES", "many")

	cfg := DefaultConfig()
	err := cfg.LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "XSCRAP_MAX_RETRIES")
	assert.Equal(t, 3, cfg.Collect.MaxRetries)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown backend", func(c *Config) { c.Store.Backend = "csv" }, "unknown store backend"},
		{"zero queue", func(c *Config) { c.Store.QueueSize = 0 }, "queue size"},
		{"negative retries", func(c *Config) { c.Collect.MaxRetries = -1 }, "max retries"},
		{"replay without file", func(c *Config) { c.Browser.Driver = "replay" }, "replay_file"},
		{"unknown driver", func(c *Config) { c.Browser.Driver = "selenium" }, "unknown browser driver"},
		{"max below base", func(c *Config) { c.Collect.MaxDelay = time.Millisecond }, "max delay"},
		{"bad jitter", func(c *Config) { c.Collect.JitterFactor = 2 }, "jitter"},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, "log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateJoinsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Backend = ""
	cfg.Collect.LoginAttempts = 0
	cfg.Render.FontSize = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store backend")
	assert.Contains(t, err.Error(), "login attempts")
	assert.Contains(t, err.Error(), "font size")
}

func TestMergeCommandLineFlags(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MergeCommandLineFlags(map[string]interface{}{
		"driver":      "replay",
		"replay-file": "run.yaml",
		"headless":    false,
		"max-retries": 1,
		"output":      "",
	})

	assert.Equal(t, "replay", cfg.Browser.Driver)
	assert.Equal(t, "run.yaml", cfg.Browser.ReplayFile)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, 1, cfg.Collect.MaxRetries)
	assert.Equal(t, "./documents", cfg.OutputDir)
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Schedule.Subjects = []string{"carol"}
	require.NoError(t, cfg.Save(path))

	loaded := DefaultConfig()
	require.NoError(t, loaded.LoadFromFile(path))
	assert.Equal(t, []string{"carol"}, loaded.Schedule.Subjects)
	assert.Equal(t, cfg.Collect.BaseDelay, loaded.Collect.BaseDelay)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_dir: /from/file\noutput_dir: /file/docs\n"), 0644))
	t.Setenv("XSCRAP_OUTPUT_DIR", "/env/docs")

	cfg, err := Load(path, map[string]interface{}{"data-dir": "/flag/data"})
	require.NoError(t, err)

	assert.Equal(t, "/flag/data", cfg.DataDir)
	assert.Equal(t, "/env/docs", cfg.OutputDir)
}
