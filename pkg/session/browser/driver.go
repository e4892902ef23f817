// Package browser drives a real Chrome instance through chromedp. It pages
// through a subject's history with date-window searches, newest first.
package browser

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"xscrap/pkg/config"
	errs "xscrap/pkg/errors"
	"xscrap/pkg/logger"
	"xscrap/pkg/models"
	"xscrap/pkg/session"
)

const (
	settleDelay     = 1500 * time.Millisecond
	minScrollPixels = 600
	maxScrollPixels = 1000
)

// Driver opens chromedp-backed sessions
type Driver struct {
	browserCfg config.BrowserConfig
	windowDays int
	idleLimit  int
	logger     logger.Logger
	now        func() time.Time
}

// NewDriver creates a browser driver from configuration
func NewDriver(cfg *config.Config, log logger.Logger) *Driver {
	if log == nil {
		log = logger.NewNopLogger()
	}
	days := cfg.Collect.WindowDays
	if days <= 0 {
		days = 60
	}
	idle := cfg.Collect.IdleScrolls
	if idle <= 0 {
		idle = 4
	}

	return &Driver{
		browserCfg: cfg.Browser,
		windowDays: days,
		idleLimit:  idle,
		logger:     log.WithField("component", "browser"),
		now:        time.Now,
	}
}

// Open starts a browser and authenticates it. The browser lives until the
// returned session is closed.
func (d *Driver) Open(ctx context.Context, creds session.Credentials) (session.Session, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(d.browserCfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	s := &Session{
		driver:     d,
		browserCtx: browserCtx,
		cancel: func() {
			browserCancel()
			allocCancel()
		},
		seen: make(map[string]struct{}),
	}

	if err := s.login(ctx, creds); err != nil {
		s.Close()
		return nil, err
	}

	d.logger.InfoWithFields("Browser session authenticated", map[string]interface{}{
		"login":    creds.Login,
		"headless": d.browserCfg.Headless,
	})
	return s, nil
}

// Session is one authenticated browser tab
type Session struct {
	driver     *Driver
	browserCtx context.Context
	cancel     func()

	subject      string
	window       window
	seen         map[string]struct{}
	idle         int
	pendingRetry bool
	needsLoad    bool
}

// run executes actions in the tab, bounded by the page timeout and by ctx
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	timeout := s.driver.browserCfg.PageTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(s.browserCtx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func (s *Session) baseURL() string {
	return strings.TrimRight(s.driver.browserCfg.BaseURL, "/")
}

func (s *Session) login(ctx context.Context, creds session.Credentials) error {
	switch {
	case creds.CookieFile != "":
		cookies, err := loadCookies(creds.CookieFile)
		if err != nil {
			return errs.Wrap(errs.ErrorTypeAuth, "browser.login", err)
		}
		if !hasAuthCookie(cookies) {
			return errs.New(errs.ErrorTypeAuth, "browser.login", "cookie file has no auth_token")
		}
		if err := s.run(ctx, injectCookies(cookies), chromedp.Navigate(s.baseURL()+"/home")); err != nil {
			return s.transient("browser.login", err)
		}

	case creds.Login != "" && creds.Password != "":
		err := s.run(ctx,
			chromedp.Navigate(s.baseURL()+"/i/flow/login"),
			chromedp.WaitVisible(usernameInput, chromedp.ByQuery),
			chromedp.SendKeys(usernameInput, creds.Login+"\n", chromedp.ByQuery),
			chromedp.WaitVisible(passwordInput, chromedp.ByQuery),
			chromedp.SendKeys(passwordInput, creds.Password+"\n", chromedp.ByQuery),
		)
		if err != nil {
			return s.transient("browser.login", err)
		}

	default:
		return errs.New(errs.ErrorTypeAuth, "browser.login", "no credentials supplied")
	}

	return s.waitForHome(ctx)
}

// waitForHome polls the location until the home timeline shows up
func (s *Session) waitForHome(ctx context.Context) error {
	wait := s.driver.browserCfg.LoginWait
	if wait <= 0 {
		wait = 30 * time.Second
	}
	deadline := time.After(wait)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return errs.New(errs.ErrorTypeAuth, "browser.login", "home timeline not reached")
		case <-ticker.C:
			var location string
			if err := s.run(ctx, chromedp.Location(&location)); err != nil {
				continue
			}
			if strings.HasSuffix(strings.TrimRight(location, "/"), "/home") {
				return nil
			}
		}
	}
}

func injectCookies(cookies []*network.Cookie) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies {
			err := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(c.Path).
				WithSecure(c.Secure).
				WithHTTPOnly(c.HTTPOnly).
				WithSameSite(c.SameSite).
				Do(ctx)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Session) transient(op string, err error) error {
	return errs.Wrap(errs.ErrorTypeTransient, op, err).WithSubject(s.subject)
}

func (s *Session) Navigate(ctx context.Context, subject, cursor string) error {
	w := newestWindow(s.driver.now(), s.driver.windowDays)
	if cursor != "" {
		parsed, err := parseCursor(cursor)
		if err != nil {
			return err
		}
		w = parsed
	}

	s.subject = subject
	return s.load(ctx, w)
}

func (s *Session) load(ctx context.Context, w window) error {
	s.window = w
	s.seen = make(map[string]struct{})
	s.idle = 0
	s.pendingRetry = false
	s.needsLoad = true

	s.driver.logger.DebugWithFields("Loading search window", map[string]interface{}{
		"subject": s.subject,
		"cursor":  w.cursor(),
	})

	err := s.run(ctx,
		chromedp.Navigate(searchURL(s.baseURL(), s.subject, w)),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(settleDelay),
	)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return s.transient("browser.navigate", err)
	}
	s.needsLoad = false
	return nil
}

func (s *Session) ExtractVisible(ctx context.Context) ([]models.RawItem, error) {
	var records []models.RawItem
	if err := s.run(ctx, chromedp.Evaluate(extractJS, &records)); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, s.transient("browser.extract", err)
	}

	for _, r := range records {
		s.seen[r.ID] = struct{}{}
	}
	return records, nil
}

func (s *Session) Advance(ctx context.Context) (session.AdvanceResult, error) {
	if s.needsLoad {
		if err := s.load(ctx, s.window); err != nil {
			return s.advanceFailure(ctx, err)
		}
		return session.MoreContent, nil
	}

	if s.pendingRetry {
		s.pendingRetry = false
		var clicked bool
		if err := s.run(ctx, chromedp.Evaluate(clickRetryJS, &clicked)); err != nil || !clicked {
			if err := s.run(ctx, chromedp.Reload()); err != nil {
				return s.advanceFailure(ctx, err)
			}
		}
		if err := s.run(ctx, chromedp.Sleep(settleDelay)); err != nil {
			return s.advanceFailure(ctx, err)
		}
	}

	var state string
	if err := s.run(ctx, chromedp.Evaluate(pageStateJS, &state)); err != nil {
		return s.advanceFailure(ctx, err)
	}

	switch state {
	case pageChallenge:
		s.driver.logger.WarnWithFields("Verification challenge on page", map[string]interface{}{
			"subject": s.subject,
		})
		return session.ChallengeDetected, nil
	case pageError:
		s.pendingRetry = true
		return session.TransientError, nil
	case pageEmpty:
		return s.nextWindow(ctx)
	}

	pixels := minScrollPixels + rand.IntN(maxScrollPixels-minScrollPixels+1)
	var ids []string
	err := s.run(ctx,
		chromedp.Evaluate(fmt.Sprintf(`window.scrollBy(0, %d)`, pixels), nil),
		chromedp.Sleep(settleDelay),
		chromedp.Evaluate(visibleIDsJS, &ids),
	)
	if err != nil {
		return s.advanceFailure(ctx, err)
	}

	fresh := 0
	for _, id := range ids {
		if _, ok := s.seen[id]; !ok {
			fresh++
		}
	}
	if fresh == 0 {
		s.idle++
	} else {
		s.idle = 0
	}

	if s.idle >= s.driver.idleLimit {
		return s.nextWindow(ctx)
	}
	return session.MoreContent, nil
}

func (s *Session) advanceFailure(ctx context.Context, err error) (session.AdvanceResult, error) {
	if ctx.Err() != nil {
		return session.TransientError, ctx.Err()
	}
	s.driver.logger.WithError(err).DebugWithFields("Advance failed", map[string]interface{}{
		"subject": s.subject,
		"cursor":  s.Cursor(),
	})
	return session.TransientError, nil
}

// nextWindow moves the search to the adjacent older date range
func (s *Session) nextWindow(ctx context.Context) (session.AdvanceResult, error) {
	older := s.window.older(s.driver.windowDays)
	if older.exhausted() {
		return session.EndOfContent, nil
	}
	if err := s.load(ctx, older); err != nil {
		if ctx.Err() != nil {
			return session.TransientError, ctx.Err()
		}
		// needsLoad stays set so the next Advance reloads this window
		return session.TransientError, nil
	}
	return session.MoreContent, nil
}

func (s *Session) Cursor() string {
	return s.window.cursor()
}

func (s *Session) Close() error {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	return nil
}
