package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"xscrap/pkg/auth"
	"xscrap/pkg/config"
	"xscrap/pkg/logger"
	"xscrap/pkg/session"
	"xscrap/pkg/ui"
)

var (
	// Version information
	version   = "0.3.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile    string
	logLevel      string
	noColor       bool
	notifications bool
	quiet         bool
	verbose       bool
)

// Exit codes reported to scripts and schedulers
const (
	exitFailure    = 1
	exitAuthFailed = 2
	exitResumable  = 3
)

// exitError carries a process exit code through cobra
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "xscrap",
	Short: "Collect a profile's posts and render them to a paginated document",
	Long: `xscrap collects the posts of a profile through a real browser session,
keeps them in a local record store and renders them to a PDF.

Features:
  - Resumable runs: interrupted collections continue from their checkpoint
  - Verification challenges pause the run until you confirm in the terminal
  - Deduplicated, append-only record stores (JSON lines or SQLite)
  - Streaming PDF rendering that handles archives of any size
  - Import of older JSON archives
  - Scheduled collection of several profiles with 'xscrap watch'`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			color.NoColor = true
		}
		if quiet {
			logLevel = "error"
		} else if verbose {
			logLevel = "debug"
		}

		// Don't show logo for certain commands
		if !quiet && cmd.Name() != "version" && cmd.Name() != "help" && cmd.Name() != "show" {
			ui.PrintLogo()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		code := exitFailure
		var ee *exitError
		if errors.As(err, &ee) {
			code = ee.code
		}
		ui.PrintError("Error", err.Error())
		os.Exit(code)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./.xscrap.yaml or ~/.config/xscrap/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVar(&notifications, "notifications", true, "enable desktop notifications for challenges")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors and challenges")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "show debug logs")

	rootCmd.SetVersionTemplate(`xscrap {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.AddCommand(versionCmd)
}

// versionCmd prints the same text as --version
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "xscrap %s\nGo Version: %s\nOS/Arch: %s/%s\n",
			rootCmd.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

// loadConfig loads configuration with flags applied and initialises the
// global logger from it
func loadConfig(flags map[string]interface{}) (*config.Config, logger.Logger, error) {
	if flags == nil {
		flags = make(map[string]interface{})
	}
	if logLevel != "" {
		flags["log-level"] = logLevel
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger.GetLogger(), nil
}

// resolveCredentials picks the named stored account, or the default one.
// The replay driver never logs in, so it runs without an account.
func resolveCredentials(cfg *config.Config, manager *auth.Manager, name string) (session.Credentials, error) {
	var (
		account *auth.Account
		err     error
	)
	if name != "" {
		account, err = manager.Retrieve(name)
	} else {
		account, err = manager.RetrieveDefault()
	}
	if err != nil {
		if cfg.Browser.Driver == "replay" {
			return session.Credentials{Login: "replay"}, nil
		}
		if name != "" {
			return session.Credentials{}, fmt.Errorf("account %s not found, see 'xscrap auth list': %w", name, err)
		}
		return session.Credentials{}, fmt.Errorf("no stored account, run 'xscrap auth login' or set XSCRAP_LOGIN: %w", err)
	}
	return account.Credentials(), nil
}
