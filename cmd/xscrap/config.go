package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"xscrap/pkg/render/pdf"
	"xscrap/pkg/scheduler"
	"xscrap/pkg/ui"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage xscrap configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (XSCRAP_*)
  - .env files
  - Configuration file
  - Default values (lowest priority)`,
}

// initCmd represents the config init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an example configuration file",
	Long: `Create an example configuration file with all available options.

The file will be created in the current directory as '.xscrap.yaml'
unless a different path is specified with the --config flag.`,
	RunE: runConfigInit,
}

// showCmd represents the config show command
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long: `Show the effective configuration after merging every source.
Credentials are never part of the configuration; see 'xscrap auth list'.`,
	RunE: runConfigShow,
}

// validateCmd represents the config validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long: `Validate the effective configuration.

This command checks:
  - YAML syntax
  - Value types and ranges
  - The schedule expression and timezone
  - The render page size and font file
  - Path accessibility`,
	RunE: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(validateCmd)
}

const exampleConfig = `# xscrap configuration file
#
# Every option can also be set with an XSCRAP_ environment variable,
# for example XSCRAP_DATA_DIR or XSCRAP_LOG_LEVEL.

# Record stores and checkpoints live here
# data_dir: ~/.local/share/xscrap

# Rendered documents are written here
output_dir: ./documents

store:
  # jsonl or sqlite
  backend: jsonl
  # fsync every appended post
  sync_writes: true
  # posts buffered between the page reader and the store writer
  queue_size: 64

collect:
  # 0 collects everything
  default_limit: 0
  # consecutive transient failures that stop a run (it stays resumable)
  max_retries: 3
  login_attempts: 3
  base_delay: 1s
  max_delay: 1m
  multiplier: 2.0
  jitter_factor: 0.1
  # page advances per minute, 0 disables pacing
  scrolls_per_minute: 30
  # search window size when the timeline stops loading older posts
  window_days: 60
  # scrolls without new posts before the page is considered exhausted
  idle_scrolls: 4

browser:
  # chromedp or replay
  driver: chromedp
  headless: true
  user_agent: ""
  exec_path: ""
  profile_dir: ""
  replay_file: ""
  base_url: https://x.com
  page_timeout: 30s
  login_wait: 2m

render:
  # A3, A4, A5, Letter, Legal or Tabloid
  page_size: A4
  margin_pt: 36
  font_size: 11
  # TrueType font for text outside Latin-1
  font_file: ""
  include_media_links: true

schedule:
  # standard five-field cron expression
  cron: "0 */6 * * *"
  timezone: Local
  subjects: []
  limit: 0
  account: ""

logging:
  # debug, info, warn, error
  level: info
  # JSON log file; empty logs to stderr
  file: ""
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configPath := configFile
	if configPath == "" {
		configPath = ".xscrap.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists: %s", configPath)
	}

	if err := os.WriteFile(configPath, []byte(exampleConfig), 0644); err != nil {
		return fmt.Errorf("failed to create configuration file: %w", err)
	}

	ui.PrintSuccess("Configuration file created: " + configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Run 'xscrap auth login' to store an account")
	fmt.Println("2. Run 'xscrap config validate' to check the configuration")
	fmt.Println("3. Start collecting with 'xscrap collect <profile>'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(nil)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}
	fmt.Print(string(data))
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(nil)
	if err != nil {
		return err
	}

	var problems []string

	if err := scheduler.ValidateSchedule(cfg.Schedule.Cron); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := scheduler.New(cfg.Schedule.Timezone, 0, nil); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := pdf.New(io.Discard, cfg.Render, ""); err != nil {
		problems = append(problems, fmt.Sprintf("render: %v", err))
	}
	for _, dir := range []string{cfg.RecordsDir(), cfg.CheckpointsDir(), cfg.OutputDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			problems = append(problems, fmt.Sprintf("cannot create %s: %v", dir, err))
		}
	}
	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
			problems = append(problems, fmt.Sprintf("cannot create log directory: %v", err))
		}
	}

	if len(problems) > 0 {
		ui.PrintError("Configuration has errors:")
		for _, p := range problems {
			fmt.Printf("  - %s\n", p)
		}
		return &exitError{code: exitFailure, err: fmt.Errorf("%d configuration errors", len(problems))}
	}

	ui.PrintSuccess("Configuration is valid")
	fmt.Println("\nConfiguration summary:")
	fmt.Printf("  Data directory: %s\n", cfg.DataDir)
	fmt.Printf("  Output directory: %s\n", cfg.OutputDir)
	fmt.Printf("  Store backend: %s\n", cfg.Store.Backend)
	fmt.Printf("  Driver: %s\n", cfg.Browser.Driver)
	fmt.Printf("  Max retries: %d\n", cfg.Collect.MaxRetries)
	fmt.Printf("  Schedule: %s (%s)\n", cfg.Schedule.Cron, cfg.Schedule.Timezone)
	return nil
}
