package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"xscrap/pkg/engine"
	"xscrap/pkg/models"
)

const barWidth = 20

// Progress prints engine transitions for one run. Plug Observe into
// engine.WithObserver.
type Progress struct {
	mu       sync.Mutex
	out      io.Writer
	subject  string
	limit    int
	quiet    bool
	notifier *Notifier
	start    time.Time
	lastLine bool
}

// NewProgress creates a printer for subject. limit <= 0 means unlimited.
// In quiet mode only challenges and the final state are printed.
func NewProgress(out io.Writer, subject string, limit int, quiet bool) *Progress {
	return &Progress{
		out:     out,
		subject: subject,
		limit:   limit,
		quiet:   quiet,
		start:   time.Now(),
	}
}

// WithNotifier sends a desktop notification when a challenge needs the user
func (p *Progress) WithNotifier(n *Notifier) *Progress {
	p.notifier = n
	return p
}

// Observe prints one transition
func (p *Progress) Observe(step engine.Step) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch step.To {
	case engine.Scanning:
		if step.From == engine.ChallengeWait {
			p.println(fmt.Sprintf("%s Resumed after verification", Green("▶")))
		}
		if !p.quiet {
			p.status(step.Items)
		}
	case engine.Extracting:
		if step.Event == engine.EventTransient && !p.quiet {
			p.println(fmt.Sprintf("%s Source hiccup, retrying: %v", Yellow("⚠"), step.Err))
		}
	case engine.ChallengeWait:
		p.println(fmt.Sprintf("%s Verification required for @%s. Complete it in the browser, then press Enter to resume.",
			Magenta("⏸"), p.subject))
		if p.notifier != nil {
			p.notifier.Send("xscrap: verification required", "Collection of @"+p.subject+" is paused")
		}
	case engine.Done:
		p.println(fmt.Sprintf("%s Collected %d posts from @%s in %s",
			Green("✓"), step.Items, p.subject, formatDuration(time.Since(p.start))))
	case engine.Aborted:
		msg := fmt.Sprintf("%s Stopped at %d posts (%s)", Red("✗"), step.Items, step.Event)
		if step.Err != nil {
			msg += ": " + step.Err.Error()
		}
		p.println(msg)
	}
}

// status rewrites the single progress line
func (p *Progress) status(items int) {
	line := fmt.Sprintf("%s %s %s", Cyan("@"+p.subject), progressBar(items, p.limit), Dim(formatDuration(time.Since(p.start))))
	fmt.Fprintf(p.out, "\r\033[K%s", line)
	p.lastLine = true
}

func (p *Progress) println(s string) {
	if p.lastLine {
		fmt.Fprintln(p.out)
		p.lastLine = false
	}
	fmt.Fprintln(p.out, s)
}

func progressBar(items, limit int) string {
	if limit <= 0 {
		return fmt.Sprintf("%d posts", items)
	}
	filled := barWidth * items / limit
	if filled > barWidth {
		filled = barWidth
	}
	return fmt.Sprintf("[%s%s] %d/%d", strings.Repeat("━", filled), strings.Repeat("─", barWidth-filled), items, limit)
}

// PrintRunState prints a checkpoint summary line
func PrintRunState(out io.Writer, st models.RunState) {
	status := string(st.Status)
	switch st.Status {
	case models.RunStatusCompleted:
		status = Green(status)
	case models.RunStatusAborted:
		status = Yellow(status)
	default:
		status = Cyan(status)
	}
	limit := "all"
	if st.RequestedLimit > 0 {
		limit = fmt.Sprint(st.RequestedLimit)
	}
	line := fmt.Sprintf("%-20s %-22s %6d/%-6s updated %s", "@"+st.Subject, status, st.ItemsCollected, limit, st.UpdatedAt.Local().Format("2006-01-02 15:04"))
	if st.ChallengePending {
		line += " " + Magenta("(challenge pending)")
	}
	if st.LastError != "" {
		line += "\n" + strings.Repeat(" ", 21) + Dim(st.LastError)
	}
	fmt.Fprintln(out, line)
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
