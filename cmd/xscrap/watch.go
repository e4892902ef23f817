package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"xscrap/pkg/auth"
	"xscrap/pkg/engine"
	"xscrap/pkg/models"
	"xscrap/pkg/scheduler"
	"xscrap/pkg/service"
	"xscrap/pkg/ui"
)

var (
	watchNow      bool
	watchSubjects []string
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Collect configured profiles on a schedule",
	Long: `Run in the foreground and collect every profile listed under
schedule.subjects on the schedule.cron expression. Each run continues
from the profile's checkpoint, so a schedule keeps archives current
without collecting posts twice. A profile whose previous run has not
finished is skipped until the next tick.

Press Enter to resume any run that is waiting on verification.`,
	Example: `  # Use schedule settings from the config file
  xscrap watch

  # Watch two profiles and collect once right away
  xscrap watch --subject nasa --subject esa --now`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().BoolVar(&watchNow, "now", false, "collect every profile once at startup")
	watchCmd.Flags().StringSliceVar(&watchSubjects, "subject", nil, "profile to watch (repeatable, overrides schedule.subjects)")
	watchCmd.Flags().StringVarP(&accountName, "account", "a", "", "use specific stored account")
	watchCmd.Flags().StringVar(&dataDir, "data-dir", "", "directory for record stores and checkpoints")
	watchCmd.Flags().StringVar(&storeBackend, "store", "", "record store backend (jsonl, sqlite)")
	watchCmd.Flags().StringVar(&driverName, "driver", "", "session driver (chromedp, replay)")
	watchCmd.Flags().StringVar(&replayFile, "replay-file", "", "recorded session for the replay driver")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(collectFlags(cmd))
	if err != nil {
		return err
	}

	subjects := cfg.Schedule.Subjects
	if len(watchSubjects) > 0 {
		subjects = watchSubjects
	}
	if len(subjects) == 0 {
		return errors.New("no profiles to watch: set schedule.subjects or pass --subject")
	}
	if err := scheduler.ValidateSchedule(cfg.Schedule.Cron); err != nil {
		return err
	}

	manager, err := auth.NewManager("")
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}
	name := accountName
	if name == "" {
		name = cfg.Schedule.Account
	}
	creds, err := resolveCredentials(cfg, manager, name)
	if err != nil {
		return err
	}

	var notifier *ui.Notifier
	if notifications {
		notifier = ui.NewNotifier()
	}
	var (
		mu       sync.Mutex
		progress = make(map[string]*ui.Progress)
	)
	observe := func(subject string, step engine.Step) {
		mu.Lock()
		p, ok := progress[subject]
		if !ok || step.To == engine.Starting {
			p = ui.NewProgress(os.Stdout, subject, cfg.Schedule.Limit, true).WithNotifier(notifier)
			progress[subject] = p
		}
		mu.Unlock()
		p.Observe(step)
	}

	svc, err := service.New(cfg, service.WithLogger(log), service.WithObserver(observe))
	if err != nil {
		return err
	}

	sched, err := scheduler.New(cfg.Schedule.Timezone, 0, log)
	if err != nil {
		return err
	}

	jobs := make(map[string]scheduler.Job, len(subjects))
	for _, s := range subjects {
		subject := strings.TrimPrefix(strings.TrimSpace(s), "@")
		job := func(ctx context.Context) error {
			_, outcome, err := svc.StartOrResume(ctx, subject, cfg.Schedule.Limit, creds)
			switch {
			case errors.Is(err, service.ErrRunInProgress):
				return nil
			case outcome == models.OutcomeAbortedResumable:
				log.WithError(err).WithField("subject", subject).Warn("Run stopped, will resume on next tick")
				return nil
			}
			return err
		}
		if err := sched.AddJob(subject, cfg.Schedule.Cron, job); err != nil {
			return err
		}
		jobs[subject] = job
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resumeOnEnter(ctx, os.Stdin, func() {
		for subject := range jobs {
			if h, ok := svc.Active(subject); ok {
				_ = svc.ResumeChallenge(h.ID)
			}
		}
	})

	sched.Start()
	ui.PrintInfo("Watching", strings.Join(subjects, ", "))
	ui.PrintInfo("Schedule", cfg.Schedule.Cron)

	var startup sync.WaitGroup
	if watchNow {
		for subject, job := range jobs {
			startup.Add(1)
			go func(subject string, job scheduler.Job) {
				defer startup.Done()
				if _, err := sched.RunNow(subject, job); err != nil {
					ui.PrintError("Run failed for @"+subject, err.Error())
				}
			}(subject, job)
		}
	}

	<-ctx.Done()
	ui.PrintWarning("Stopping, waiting for active runs to save their checkpoints")
	<-sched.Stop().Done()
	startup.Wait()
	return nil
}
