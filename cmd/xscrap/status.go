package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"xscrap/pkg/service"
	"xscrap/pkg/ui"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status [subject]",
	Short: "Show stored posts and resumable runs",
	Long: `Without arguments, list every profile with a resumable run.
With a profile, show how many posts are stored and the state of its
last run.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&dataDir, "data-dir", "", "directory for record stores and checkpoints")
	statusCmd.Flags().StringVar(&storeBackend, "store", "", "record store backend (jsonl, sqlite)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(collectFlags(cmd))
	if err != nil {
		return err
	}
	svc, err := service.New(cfg, service.WithLogger(log))
	if err != nil {
		return err
	}

	if len(args) == 0 {
		runs, err := svc.List()
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			ui.PrintInfo("No resumable runs", "use 'xscrap status <subject>' for a single profile")
			return nil
		}
		for _, st := range runs {
			ui.PrintRunState(os.Stdout, st)
		}
		return nil
	}

	subject := strings.TrimPrefix(strings.TrimSpace(args[0]), "@")
	status, err := svc.Status(subject)
	if err != nil {
		return err
	}

	ui.PrintInfo("Profile", "@"+status.Subject)
	ui.PrintInfo("Stored posts", fmt.Sprint(status.Stored))
	switch {
	case status.Running:
		ui.PrintInfo("Run", "in progress")
	case status.Checkpoint != nil:
		ui.PrintRunState(os.Stdout, *status.Checkpoint)
	default:
		ui.PrintInfo("Run", "none pending")
	}
	return nil
}
