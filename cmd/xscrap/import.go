package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"xscrap/pkg/service"
	"xscrap/pkg/ui"
)

// importCmd represents the import command
var importCmd = &cobra.Command{
	Use:   "import <subject> <archive.json>",
	Short: "Add an older JSON archive to a profile's record store",
	Long: `Import a JSON array of posts written by earlier collectors or the
platform's API. Posts already in the store are skipped and malformed
entries are reported and ignored.`,
	Args: cobra.ExactArgs(2),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().StringVar(&dataDir, "data-dir", "", "directory for record stores and checkpoints")
	importCmd.Flags().StringVar(&storeBackend, "store", "", "record store backend (jsonl, sqlite)")
}

func runImport(cmd *cobra.Command, args []string) error {
	subject := strings.TrimPrefix(strings.TrimSpace(args[0]), "@")

	cfg, log, err := loadConfig(collectFlags(cmd))
	if err != nil {
		return err
	}
	svc, err := service.New(cfg, service.WithLogger(log))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := svc.Import(ctx, subject, args[1])
	if err != nil {
		return err
	}

	ui.PrintSuccess(fmt.Sprintf("Imported %d posts into @%s", res.Added, subject))
	if !quiet {
		ui.PrintInfo("Read", fmt.Sprint(res.Read))
		ui.PrintInfo("Already stored", fmt.Sprint(res.Duplicates))
		if res.Skipped > 0 {
			ui.PrintWarning("Malformed entries skipped", res.Skipped)
		}
	}
	return nil
}
