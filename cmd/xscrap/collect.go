package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"xscrap/pkg/auth"
	"xscrap/pkg/engine"
	"xscrap/pkg/models"
	"xscrap/pkg/service"
	"xscrap/pkg/ui"
)

var (
	// Collect command flags
	collectLimit int
	driverName   string
	replayFile   string
	accountName  string
	dataDir      string
	storeBackend string
	headless     bool
	maxRetries   int
	renderAfter  bool
)

// collectCmd represents the collect command
var collectCmd = &cobra.Command{
	Use:   "collect <subject>",
	Short: "Collect a profile's posts into its record store",
	Long: `Collect posts from a profile into the local record store.

A run that is interrupted by Ctrl+C, network trouble or an exhausted retry
budget saves a checkpoint. Running collect again for the same profile
continues from it. Posts already stored are never stored twice.

When the site asks for verification, the run pauses. Complete the check in
the browser window and press Enter to continue.`,
	Example: `  # Collect everything
  xscrap collect nasa

  # Stop after 200 new posts
  xscrap collect nasa --limit 200

  # Use a specific stored account and render when done
  xscrap collect nasa --account me@example.com --render

  # Play back a recorded session instead of opening a browser
  xscrap collect nasa --driver replay --replay-file session.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runCollect,
}

func init() {
	rootCmd.AddCommand(collectCmd)

	collectCmd.Flags().IntVarP(&collectLimit, "limit", "n", 0, "maximum posts to collect (default from config, 0 collects everything)")
	collectCmd.Flags().StringVar(&driverName, "driver", "", "session driver (chromedp, replay)")
	collectCmd.Flags().StringVar(&replayFile, "replay-file", "", "recorded session for the replay driver")
	collectCmd.Flags().StringVarP(&accountName, "account", "a", "", "use specific stored account")
	collectCmd.Flags().StringVar(&dataDir, "data-dir", "", "directory for record stores and checkpoints")
	collectCmd.Flags().StringVar(&storeBackend, "store", "", "record store backend (jsonl, sqlite)")
	collectCmd.Flags().BoolVar(&headless, "headless", true, "run the browser without a window")
	collectCmd.Flags().IntVar(&maxRetries, "max-retries", -1, "consecutive transient failures that stop a run")
	collectCmd.Flags().BoolVar(&renderAfter, "render", false, "render the document after a completed run")
}

func collectFlags(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	if driverName != "" {
		flags["driver"] = driverName
	}
	if replayFile != "" {
		flags["replay-file"] = replayFile
	}
	if dataDir != "" {
		flags["data-dir"] = dataDir
	}
	if storeBackend != "" {
		flags["store"] = storeBackend
	}
	if cmd.Flags().Changed("headless") {
		flags["headless"] = headless
	}
	if maxRetries >= 0 {
		flags["max-retries"] = maxRetries
	}
	return flags
}

func runCollect(cmd *cobra.Command, args []string) error {
	subject := strings.TrimPrefix(strings.TrimSpace(args[0]), "@")

	cfg, log, err := loadConfig(collectFlags(cmd))
	if err != nil {
		return err
	}

	manager, err := auth.NewManager("")
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}
	creds, err := resolveCredentials(cfg, manager, accountName)
	if err != nil {
		return err
	}

	limit := cfg.Collect.DefaultLimit
	if cmd.Flags().Changed("limit") {
		limit = collectLimit
	}

	if !quiet {
		ui.PrintInfo("Profile", "@"+subject)
		if creds.Login != "" {
			ui.PrintInfo("Account", creds.Login)
		}
	}

	progress := ui.NewProgress(os.Stdout, subject, limit, quiet)
	if notifications {
		progress.WithNotifier(ui.NewNotifier())
	}

	svc, err := service.New(cfg,
		service.WithLogger(log),
		service.WithObserver(func(_ string, step engine.Step) { progress.Observe(step) }),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := svc.Begin(ctx, subject, limit, creds)
	if err != nil {
		return err
	}
	resumeOnEnter(ctx, os.Stdin, func() {
		if err := svc.ResumeChallenge(h.ID); err != nil && !errors.Is(err, service.ErrNoChallenge) {
			log.WithError(err).Debug("Resume ignored")
		}
	})

	res, err := h.Wait()
	if res.Outcome != models.OutcomeCompleted {
		return outcomeError(res.Outcome, err)
	}

	if renderAfter {
		doc, err := svc.GenerateDocument(context.Background(), subject, "")
		if err != nil {
			return fmt.Errorf("collected but failed to render: %w", err)
		}
		ui.PrintSuccess(fmt.Sprintf("Document written: %s (%d pages)", doc.Path, doc.Stats.Pages))
	}
	return nil
}

// outcomeError maps a run outcome to the process exit code
func outcomeError(outcome models.Outcome, err error) error {
	if outcome == models.OutcomeCompleted {
		return nil
	}
	if err == nil {
		err = errors.New(string(outcome))
	}
	switch outcome {
	case models.OutcomeAuthFailed:
		return &exitError{code: exitAuthFailed, err: err}
	case models.OutcomeAbortedResumable:
		return &exitError{code: exitResumable, err: fmt.Errorf("%w (run again to resume)", err)}
	default:
		return err
	}
}

// resumeOnEnter calls resume for every line read from in until ctx ends
func resumeOnEnter(ctx context.Context, in io.Reader, resume func()) {
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}
			resume()
		}
	}()
}
