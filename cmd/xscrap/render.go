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

var renderOutput string

// renderCmd represents the render command
var renderCmd = &cobra.Command{
	Use:   "render <subject>",
	Short: "Render a profile's stored posts to a PDF",
	Long: `Render every stored post of a profile, in collection order, to a
paginated PDF. Records that cannot be read are skipped and posts with
missing fields are shown as placeholders.

The document is written to <output_dir>/<subject>.pdf unless --output is
given. A failed render leaves any previous document in place.`,
	Example: `  xscrap render nasa
  xscrap render nasa --output ~/Documents/nasa.pdf`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

func init() {
	rootCmd.AddCommand(renderCmd)
	renderCmd.Flags().StringVarP(&renderOutput, "output", "o", "", "document path")
	renderCmd.Flags().StringVar(&dataDir, "data-dir", "", "directory for record stores and checkpoints")
	renderCmd.Flags().StringVar(&storeBackend, "store", "", "record store backend (jsonl, sqlite)")
}

func runRender(cmd *cobra.Command, args []string) error {
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

	doc, err := svc.GenerateDocument(ctx, subject, renderOutput)
	if err != nil {
		return err
	}

	ui.PrintSuccess(fmt.Sprintf("Document written: %s", doc.Path))
	if !quiet {
		ui.PrintInfo("Posts", fmt.Sprint(doc.Stats.Items))
		ui.PrintInfo("Pages", fmt.Sprint(doc.Stats.Pages))
		if doc.Stats.Placeholders > 0 {
			ui.PrintWarning("Posts shown as placeholders", doc.Stats.Placeholders)
		}
		if doc.Stats.Skipped > 0 {
			ui.PrintWarning("Unreadable records skipped", doc.Stats.Skipped)
		}
	}
	return nil
}
