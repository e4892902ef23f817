package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"xscrap/internal/writer"
	"xscrap/pkg/config"
	errs "xscrap/pkg/errors"
	"xscrap/pkg/logger"
	"xscrap/pkg/models"
	"xscrap/pkg/ratelimit"
	"xscrap/pkg/retry"
	"xscrap/pkg/session"
	"xscrap/pkg/store"
)

// ErrAlreadyRunning is returned when Run is called on a busy engine
var ErrAlreadyRunning = errors.New("engine is already running")

// Checkpointer persists the resumable position of a run
type Checkpointer interface {
	Load(subject string) (*models.RunState, error)
	Save(state *models.RunState) error
	Clear(subject string) error
}

// Request names what to collect
type Request struct {
	Subject     string
	Limit       int
	Credentials session.Credentials
}

// Result is the final state of a run. State is the last checkpoint that
// reached disk.
type Result struct {
	State   models.RunState
	Outcome models.Outcome
	Stored  int
	Batches int
}

// Engine drives one subject's collection through the state machine.
// Create one per record store.
type Engine struct {
	driver      session.Driver
	store       store.RecordStore
	checkpoints Checkpointer
	cfg         config.CollectConfig

	limiter   ratelimit.Limiter
	backoff   retry.BackoffStrategy
	queueSize int
	logger    logger.Logger
	now       func() time.Time
	observer  func(Step)

	resume chan struct{}

	mu      sync.Mutex
	state   State
	running bool
}

// Option configures an Engine
type Option func(*Engine)

// WithRateLimiter paces Advance calls
func WithRateLimiter(l ratelimit.Limiter) Option {
	return func(e *Engine) { e.limiter = l }
}

// WithBackoff sets the delay strategy for transient failures
func WithBackoff(b retry.BackoffStrategy) Option {
	return func(e *Engine) { e.backoff = b }
}

// WithQueueSize bounds the handoff between extraction and persistence
func WithQueueSize(n int) Option {
	return func(e *Engine) { e.queueSize = n }
}

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithObserver is called after every transition, on the run goroutine
func WithObserver(fn func(Step)) Option {
	return func(e *Engine) { e.observer = fn }
}

// New creates an engine collecting into st
func New(driver session.Driver, st store.RecordStore, checkpoints Checkpointer, cfg config.CollectConfig, opts ...Option) *Engine {
	e := &Engine{
		driver:      driver,
		store:       st,
		checkpoints: checkpoints,
		cfg:         cfg,
		limiter:     ratelimit.PerMinute(cfg.ScrollsPerMinute),
		backoff: &retry.ExponentialBackoff{
			BaseDelay:    cfg.BaseDelay,
			MaxDelay:     cfg.MaxDelay,
			Multiplier:   cfg.Multiplier,
			JitterFactor: cfg.JitterFactor,
		},
		queueSize: 64,
		logger:    logger.NewNopLogger(),
		now:       time.Now,
		resume:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// maxAttempts is how many consecutive transient failures end a run.
// MaxRetries counts failed attempts, so three failures in a row abort a
// run configured with three.
func (e *Engine) maxAttempts() int {
	if e.cfg.MaxRetries < 1 {
		return 1
	}
	return e.cfg.MaxRetries
}

// State returns the current state of the engine
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Resume releases a run suspended on a verification challenge. It reports
// false when no challenge is pending.
func (e *Engine) Resume() bool {
	if e.State() != ChallengeWait {
		return false
	}
	select {
	case e.resume <- struct{}{}:
	default:
	}
	return true
}

// Run collects req.Subject until the limit, the end of content, an
// unrecoverable failure or cancellation. The returned error is nil only
// when the outcome is completed.
func (e *Engine) Run(ctx context.Context, req Request) (Result, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return Result{}, ErrAlreadyRunning
	}
	e.running = true
	e.state = Starting
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	r := &run{
		engine: e,
		req:    req,
		state:  Starting,
		log:    e.logger.WithField("subject", req.Subject),
	}
	return r.execute(ctx)
}

// run holds the mutable state of a single Run call
type run struct {
	engine *Engine
	req    Request
	log    logger.Logger

	state     State
	rs        *models.RunState
	persisted models.RunState
	sess      session.Session
	writer    *writer.Writer

	position int
	retries  int
	stored   int
	batches  int
}

func (r *run) step(ev Event, cause error) {
	e := r.engine
	to, err := Transition(r.state, ev)
	if err != nil {
		r.log.WithError(err).Error("Unexpected transition")
		to = Aborted
	}

	from := r.state
	r.state = to
	e.setState(to)
	logger.LogTransition(r.log, r.req.Subject, from.String(), to.String(), ev.String())

	if e.observer != nil {
		step := Step{
			Subject: r.req.Subject,
			From:    from,
			To:      to,
			Event:   ev,
			Err:     cause,
			At:      e.now(),
		}
		if r.rs != nil {
			step.Items = r.rs.ItemsCollected
			step.Cursor = r.rs.Cursor
		}
		e.observer(step)
	}
}

func (r *run) result(outcome models.Outcome) Result {
	return Result{
		State:   r.persisted,
		Outcome: outcome,
		Stored:  r.stored,
		Batches: r.batches,
	}
}

// save persists the run state. Any failure is fatal to the run.
func (r *run) save() error {
	if err := r.engine.checkpoints.Save(r.rs); err != nil {
		return err
	}
	r.persisted = r.rs.Clone()
	return nil
}

func (r *run) execute(ctx context.Context) (Result, error) {
	e := r.engine

	if err := r.start(ctx); err != nil {
		if errs.IsAuth(err) {
			r.log.WithError(err).Warn("Authentication failed")
			r.step(EventFatal, err)
			return r.result(models.OutcomeAuthFailed), err
		}
		return r.abort(ctx, err)
	}
	defer r.sess.Close()

	r.writer = writer.New(context.WithoutCancel(ctx), e.store, e.queueSize, r.log)
	defer r.writer.Close()

	r.step(EventStarted, nil)

	for {
		switch r.state {
		case Scanning:
			if err := r.scan(ctx); err != nil {
				return r.abort(ctx, err)
			}

		case Extracting:
			if err := r.extract(ctx); err != nil {
				return r.abort(ctx, err)
			}

		case Draining:
			return r.drain(ctx)

		default:
			return r.abort(ctx, fmt.Errorf("engine stopped in state %s", r.state))
		}
	}
}

// start loads the checkpoint, opens the session and positions it
func (r *run) start(ctx context.Context) error {
	e := r.engine
	subject := r.req.Subject

	rs, err := e.checkpoints.Load(subject)
	if err != nil {
		r.log.WithError(err).Warn("Ignoring unreadable checkpoint")
		rs = nil
	}

	resuming := rs != nil
	if !resuming {
		rs = models.NewRunState(subject, r.req.Limit, e.now())
	} else {
		rs.RequestedLimit = r.req.Limit
		rs.Status = models.RunStatusInProgress
		rs.ChallengePending = false
		rs.LastError = ""
	}

	// the store, not the checkpoint, is the durability point
	count := e.store.Count()
	if resuming && count != rs.ItemsCollected {
		r.log.WarnWithFields("Checkpoint count differs from store", map[string]interface{}{
			"checkpoint": rs.ItemsCollected,
			"store":      count,
		})
	}
	rs.ItemsCollected = count
	r.rs = rs
	r.persisted = rs.Clone()

	r.log.InfoWithFields("Collection starting", map[string]interface{}{
		"run_id":   rs.RunID,
		"resuming": resuming,
		"cursor":   rs.Cursor,
		"limit":    rs.RequestedLimit,
		"stored":   count,
	})

	attempts := e.cfg.LoginAttempts
	if attempts <= 0 {
		attempts = 1
	}
	sess, err := retry.DoWithResult(ctx, func(ctx context.Context) (session.Session, error) {
		return e.driver.Open(ctx, r.req.Credentials)
	}, &retry.Config{
		MaxAttempts: attempts,
		Backoff:     e.backoff,
		Logger:      r.log,
	})
	if err != nil {
		return err
	}
	r.sess = sess

	if err := r.navigate(ctx, rs.Cursor); err != nil {
		sess.Close()
		return err
	}
	return nil
}

// navigate positions the session at cursor. A cursor the driver does not
// understand restarts from the newest content; dedup makes that safe.
func (r *run) navigate(ctx context.Context, cursor string) error {
	e := r.engine
	cfg := &retry.Config{
		MaxAttempts: e.maxAttempts(),
		Backoff:     e.backoff,
		Logger:      r.log,
	}

	err := retry.Do(ctx, func(ctx context.Context) error {
		return r.sess.Navigate(ctx, r.req.Subject, cursor)
	}, cfg)
	if err != nil && cursor != "" && errors.Is(err, errs.ErrInvalidInput) {
		r.log.WithError(err).WarnWithFields("Saved cursor rejected, starting from newest", map[string]interface{}{
			"cursor": cursor,
		})
		return retry.Do(ctx, func(ctx context.Context) error {
			return r.sess.Navigate(ctx, r.req.Subject, "")
		}, cfg)
	}
	return err
}

// scan stores the visible batch and checkpoints it
func (r *run) scan(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.rs.LimitReached() {
		r.step(EventLimitReached, nil)
		return nil
	}

	raw, err := r.extractVisible(ctx)
	if err != nil {
		return err
	}

	if err := r.storeBatch(ctx, raw); err != nil {
		return err
	}

	if r.rs.LimitReached() {
		r.step(EventLimitReached, nil)
	} else {
		r.step(EventBatchStored, nil)
	}
	return nil
}

// extractVisible retries transient extraction failures in place
func (r *run) extractVisible(ctx context.Context) ([]models.RawItem, error) {
	e := r.engine
	raw, err := retry.DoWithResult(ctx, r.sess.ExtractVisible, &retry.Config{
		MaxAttempts: e.maxAttempts(),
		Backoff:     e.backoff,
		Logger:      r.log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to extract visible items: %w", err)
	}
	return raw, nil
}

// storeBatch hands new items to the writer in feed order, waits for them
// to be persisted and saves the checkpoint. Once started it runs to
// completion even if ctx is cancelled.
func (r *run) storeBatch(ctx context.Context, raw []models.RawItem) error {
	e := r.engine
	durable := context.WithoutCancel(ctx)
	now := e.now()
	remaining := r.rs.Remaining()

	seen := make(map[string]struct{}, len(raw))
	submitted := 0
	for _, rec := range raw {
		rank := r.position
		r.position++

		item, err := models.NormalizeItem(rec, rank, now)
		if err != nil {
			r.log.WithError(err).DebugWithFields("Skipping unusable record", map[string]interface{}{
				"position": rank,
			})
			continue
		}
		if _, dup := seen[item.ID]; dup || e.store.Contains(item.ID) {
			continue
		}
		seen[item.ID] = struct{}{}

		if remaining >= 0 && submitted >= remaining {
			break
		}
		if err := r.writer.Submit(durable, item); err != nil {
			return errs.Wrap(errs.ErrorTypeStore, "engine.store", err).WithSubject(r.req.Subject)
		}
		submitted++
	}

	added, err := r.writer.Flush(durable)
	if err != nil {
		return errs.Wrap(errs.ErrorTypeStore, "engine.store", err).WithSubject(r.req.Subject)
	}

	r.stored += added
	r.batches++
	r.rs.ItemsCollected = e.store.Count()
	r.rs.Cursor = r.sess.Cursor()

	if err := r.save(); err != nil {
		return err
	}

	logger.LogBatch(r.log, r.req.Subject, len(raw), added, r.rs.ItemsCollected, r.rs.Cursor)
	return nil
}

// extract paces and performs one Advance
func (r *run) extract(ctx context.Context) error {
	e := r.engine
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}

	result, err := r.sess.Advance(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		r.log.WithError(err).Debug("Advance reported an error")
		result = session.TransientError
	}

	switch result {
	case session.MoreContent:
		r.retries = 0
		r.step(EventMoreContent, nil)

	case session.EndOfContent:
		r.step(EventEndOfContent, nil)

	case session.ChallengeDetected:
		return r.challenge(ctx)

	case session.TransientError:
		r.retries++
		if r.retries >= e.maxAttempts() {
			return retriesExhausted{attempts: r.retries}
		}
		r.step(EventTransient, nil)

		delay := e.backoff.NextDelay(r.retries)
		logger.LogBackoff(r.log, r.req.Subject, r.retries, e.maxAttempts(), delay)
		if err := retry.Wait(ctx, delay); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unknown advance result %s", result)
	}
	return nil
}

// challenge persists the position, then blocks until Resume or cancellation
func (r *run) challenge(ctx context.Context) error {
	e := r.engine

	r.rs.ChallengePending = true
	r.rs.Cursor = r.sess.Cursor()
	if err := r.save(); err != nil {
		return err
	}

	select {
	case <-e.resume:
	default:
	}

	r.log.Warn("Verification challenge detected, waiting for resume")
	r.step(EventChallenge, nil)

	select {
	case <-e.resume:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.rs.ChallengePending = false
	if err := r.save(); err != nil {
		return err
	}
	r.retries = 0
	r.step(EventResumed, nil)

	// the page may have moved while the challenge was solved
	return r.navigate(ctx, r.rs.Cursor)
}

func (r *run) drain(ctx context.Context) (Result, error) {
	e := r.engine

	if _, err := r.writer.Flush(context.WithoutCancel(ctx)); err != nil {
		return r.abort(ctx, errs.Wrap(errs.ErrorTypeStore, "engine.drain", err))
	}

	r.rs.Status = models.RunStatusCompleted
	r.rs.ChallengePending = false
	r.rs.ItemsCollected = e.store.Count()
	if err := r.save(); err != nil {
		return r.abort(ctx, err)
	}
	if err := e.checkpoints.Clear(r.req.Subject); err != nil {
		r.log.WithError(err).Warn("Failed to clear completed checkpoint")
	}

	r.step(EventDrained, nil)
	r.log.InfoWithFields("Collection completed", map[string]interface{}{
		"stored":  r.stored,
		"total":   r.rs.ItemsCollected,
		"batches": r.batches,
	})
	return r.result(models.OutcomeCompleted), nil
}

type retriesExhausted struct {
	attempts int
}

func (e retriesExhausted) Error() string {
	return fmt.Sprintf("advance failed %d times in a row", e.attempts)
}

func (e retriesExhausted) Unwrap() error {
	return errs.ErrTransient
}

// abort records the failure in the checkpoint and ends the run. A failed
// checkpoint write is not retried; the last persisted state is returned.
func (r *run) abort(ctx context.Context, cause error) (Result, error) {
	e := r.engine

	ev := EventFatal
	var exhausted retriesExhausted
	switch {
	case errors.As(cause, &exhausted):
		ev = EventRetriesExhausted
	case ctx.Err() != nil && errors.Is(cause, ctx.Err()):
		ev = EventCancelled
	}
	if r.state != Extracting && ev == EventRetriesExhausted {
		ev = EventFatal
	}

	if errs.IsCheckpointWrite(cause) {
		r.log.WithError(cause).Error("Checkpoint write failed, halting")
		r.step(EventFatal, cause)
		return r.result(models.OutcomeAbortedResumable), cause
	}

	if r.rs != nil {
		if r.writer != nil {
			if _, err := r.writer.Flush(context.WithoutCancel(ctx)); err != nil {
				r.log.WithError(err).Warn("Flush during abort failed")
			}
		}

		r.rs.Status = models.RunStatusAborted
		r.rs.LastError = cause.Error()
		r.rs.ItemsCollected = e.store.Count()
		if err := r.save(); err != nil {
			r.log.WithError(err).Error("Checkpoint write failed while aborting")
			r.step(EventFatal, err)
			return r.result(models.OutcomeAbortedResumable), errors.Join(cause, err)
		}
	}

	r.log.WithError(cause).WarnWithFields("Collection aborted", map[string]interface{}{
		"cursor": r.persisted.Cursor,
		"stored": r.persisted.ItemsCollected,
	})
	r.step(ev, cause)
	return r.result(models.OutcomeAbortedResumable), cause
}
