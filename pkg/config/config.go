package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the collector
type Config struct {
	// DataDir holds record stores and checkpoints
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// OutputDir is where rendered documents are written
	OutputDir string `yaml:"output_dir" json:"output_dir"`

	Store    StoreConfig    `yaml:"store" json:"store"`
	Collect  CollectConfig  `yaml:"collect" json:"collect"`
	Browser  BrowserConfig  `yaml:"browser" json:"browser"`
	Render   RenderConfig   `yaml:"render" json:"render"`
	Schedule ScheduleConfig `yaml:"schedule" json:"schedule"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
}

// StoreConfig selects and tunes the record store backend
type StoreConfig struct {
	Backend    string `yaml:"backend" json:"backend"` // jsonl or sqlite
	SyncWrites bool   `yaml:"sync_writes" json:"sync_writes"`
	QueueSize  int    `yaml:"queue_size" json:"queue_size"`
}

// CollectConfig holds engine pacing and retry settings
type CollectConfig struct {
	DefaultLimit     int           `yaml:"default_limit" json:"default_limit"`
	MaxRetries       int           `yaml:"max_retries" json:"max_retries"`
	LoginAttempts    int           `yaml:"login_attempts" json:"login_attempts"`
	BaseDelay        time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay         time.Duration `yaml:"max_delay" json:"max_delay"`
	Multiplier       float64       `yaml:"multiplier" json:"multiplier"`
	JitterFactor     float64       `yaml:"jitter_factor" json:"jitter_factor"`
	ScrollsPerMinute int           `yaml:"scrolls_per_minute" json:"scrolls_per_minute"`
	WindowDays       int           `yaml:"window_days" json:"window_days"`
	IdleScrolls      int           `yaml:"idle_scrolls" json:"idle_scrolls"`
}

// BrowserConfig configures the session driver
type BrowserConfig struct {
	Driver      string        `yaml:"driver" json:"driver"` // chromedp or replay
	Headless    bool          `yaml:"headless" json:"headless"`
	UserAgent   string        `yaml:"user_agent" json:"user_agent"`
	ExecPath    string        `yaml:"exec_path" json:"exec_path"`
	ProfileDir  string        `yaml:"profile_dir" json:"profile_dir"`
	ReplayFile  string        `yaml:"replay_file" json:"replay_file"`
	BaseURL     string        `yaml:"base_url" json:"base_url"`
	PageTimeout time.Duration `yaml:"page_timeout" json:"page_timeout"`
	LoginWait   time.Duration `yaml:"login_wait" json:"login_wait"`
}

// RenderConfig controls document output
type RenderConfig struct {
	PageSize          string  `yaml:"page_size" json:"page_size"`
	MarginPt          float64 `yaml:"margin_pt" json:"margin_pt"`
	FontSize          float64 `yaml:"font_size" json:"font_size"`
	FontFile          string  `yaml:"font_file" json:"font_file"`
	IncludeMediaLinks bool    `yaml:"include_media_links" json:"include_media_links"`
}

// ScheduleConfig lists subjects to resume periodically
type ScheduleConfig struct {
	Cron     string   `yaml:"cron" json:"cron"`
	Timezone string   `yaml:"timezone" json:"timezone"`
	Subjects []string `yaml:"subjects" json:"subjects"`
	Limit    int      `yaml:"limit" json:"limit"`
	Account  string   `yaml:"account" json:"account"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		DataDir:   defaultDataDir(),
		OutputDir: "./documents",
		Store: StoreConfig{
			Backend:    "jsonl",
			SyncWrites: true,
			QueueSize:  64,
		},
		Collect: CollectConfig{
			DefaultLimit:     0,
			MaxRetries:       3,
			LoginAttempts:    3,
			BaseDelay:        1 * time.Second,
			MaxDelay:         60 * time.Second,
			Multiplier:       2.0,
			JitterFactor:     0.1,
			ScrollsPerMinute: 30,
			WindowDays:       60,
			IdleScrolls:      4,
		},
		Browser: BrowserConfig{
			Driver:      "chromedp",
			Headless:    true,
			BaseURL:     "https://x.com",
			PageTimeout: 30 * time.Second,
			LoginWait:   2 * time.Minute,
		},
		Render: RenderConfig{
			PageSize:          "A4",
			MarginPt:          36,
			FontSize:          11,
			IncludeMediaLinks: true,
		},
		Schedule: ScheduleConfig{
			Cron:     "0 */6 * * *",
			Timezone: "Local",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// RecordsDir is where per-subject record stores live
func (c *Config) RecordsDir() string {
	return filepath.Join(c.DataDir, "records")
}

// CheckpointsDir is where per-subject checkpoints live
func (c *Config) CheckpointsDir() string {
	return filepath.Join(c.DataDir, "checkpoints")
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	if v := os.Getenv("XSCRAP_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("XSCRAP_OUTPUT_DIR"); v != "" {
		c.OutputDir = v
	}
	if v := os.Getenv("XSCRAP_STORE_BACKEND"); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv("XSCRAP_DRIVER"); v != "" {
		c.Browser.Driver = v
	}
	if v := os.Getenv("XSCRAP_REPLAY_FILE"); v != "" {
		c.Browser.ReplayFile = v
	}
	if v := os.Getenv("XSCRAP_HEADLESS"); v != "" {
		c.Browser.Headless = strings.ToLower(v) == "true"
	}
	if v := os.Getenv("XSCRAP_CHROME_PATH"); v != "" {
		c.Browser.ExecPath = v
	}
	if v := os.Getenv("XSCRAP_MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("XSCRAP_MAX_RETRIES: %w", err))
		} else {
			c.Collect.MaxRetries = n
		}
	}
	if v := os.Getenv("XSCRAP_SCROLLS_PER_MINUTE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("XSCRAP_SCROLLS_PER_MINUTE: %w", err))
		} else {
			c.Collect.ScrollsPerMinute = n
		}
	}
	if v := os.Getenv("XSCRAP_FONT_FILE"); v != "" {
		c.Render.FontFile = v
	}
	if v := os.Getenv("XSCRAP_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("XSCRAP_LOG_FILE"); v != "" {
		c.Logging.File = v
	}

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".xscrap.yaml",
		".xscrap.yml",
		filepath.Join(home, ".config", "xscrap", "config.yaml"),
		filepath.Join(home, ".config", "xscrap", "config.yml"),
		filepath.Join(home, ".xscrap.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.DataDir == "" {
		errs = append(errs, errors.New("data directory is required"))
	}
	if c.OutputDir == "" {
		errs = append(errs, errors.New("output directory is required"))
	}

	switch c.Store.Backend {
	case "jsonl", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.Store.Backend))
	}
	if c.Store.QueueSize <= 0 {
		errs = append(errs, errors.New("store queue size must be positive"))
	}

	if c.Collect.DefaultLimit < 0 {
		errs = append(errs, errors.New("default limit cannot be negative"))
	}
	if c.Collect.MaxRetries < 0 {
		errs = append(errs, errors.New("max retries cannot be negative"))
	}
	if c.Collect.LoginAttempts <= 0 {
		errs = append(errs, errors.New("login attempts must be positive"))
	}
	if c.Collect.BaseDelay <= 0 {
		errs = append(errs, errors.New("base delay must be positive"))
	}
	if c.Collect.MaxDelay < c.Collect.BaseDelay {
		errs = append(errs, errors.New("max delay must not be less than base delay"))
	}
	if c.Collect.Multiplier < 1 {
		errs = append(errs, errors.New("backoff multiplier must be at least 1"))
	}
	if c.Collect.JitterFactor < 0 || c.Collect.JitterFactor > 1 {
		errs = append(errs, errors.New("jitter factor must be between 0 and 1"))
	}
	if c.Collect.ScrollsPerMinute < 0 {
		errs = append(errs, errors.New("scrolls per minute cannot be negative"))
	}
	if c.Collect.WindowDays <= 0 {
		errs = append(errs, errors.New("window days must be positive"))
	}

	switch c.Browser.Driver {
	case "chromedp":
	case "replay":
		if c.Browser.ReplayFile == "" {
			errs = append(errs, errors.New("replay driver requires browser.replay_file"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown browser driver %q", c.Browser.Driver))
	}

	if c.Render.MarginPt < 0 {
		errs = append(errs, errors.New("render margin cannot be negative"))
	}
	if c.Render.FontSize <= 0 {
		errs = append(errs, errors.New("render font size must be positive"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["data-dir"].(string); ok && v != "" {
		c.DataDir = v
	}
	if v, ok := flags["output"].(string); ok && v != "" {
		c.OutputDir = v
	}
	if v, ok := flags["store"].(string); ok && v != "" {
		c.Store.Backend = v
	}
	if v, ok := flags["driver"].(string); ok && v != "" {
		c.Browser.Driver = v
	}
	if v, ok := flags["replay-file"].(string); ok && v != "" {
		c.Browser.ReplayFile = v
	}
	if v, ok := flags["headless"].(bool); ok {
		c.Browser.Headless = v
	}
	if v, ok := flags["max-retries"].(int); ok && v >= 0 {
		c.Collect.MaxRetries = v
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".xscrap.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// defaultDataDir returns the platform data directory without creating it
func defaultDataDir() string {
	switch runtime.GOOS {
	case "darwin":
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, "Library", "Application Support", "xscrap")
		}
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "xscrap")
		}
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "xscrap")
		}
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, ".local", "share", "xscrap")
		}
	}
	return ".xscrap"
}
