// Package service is the caller-facing surface over collection, rendering
// and import. It owns the per-subject record stores and enforces one
// active run per subject.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"xscrap/pkg/checkpoint"
	"xscrap/pkg/config"
	"xscrap/pkg/engine"
	errs "xscrap/pkg/errors"
	"xscrap/pkg/importer"
	"xscrap/pkg/logger"
	"xscrap/pkg/models"
	"xscrap/pkg/render"
	"xscrap/pkg/render/pdf"
	"xscrap/pkg/session"
	"xscrap/pkg/session/browser"
	"xscrap/pkg/session/replay"
	"xscrap/pkg/store"
)

var (
	// ErrRunInProgress is returned when a subject already has an active run
	ErrRunInProgress = errors.New("a run for this subject is already in progress")
	// ErrUnknownHandle is returned for a handle ID that is not active
	ErrUnknownHandle = errors.New("no active run with this handle")
	// ErrNoChallenge is returned by ResumeChallenge when the run is not waiting
	ErrNoChallenge = errors.New("run is not waiting on a challenge")
)

// Service coordinates runs, documents and imports for all subjects
type Service struct {
	cfg         *config.Config
	driver      session.Driver
	checkpoints *checkpoint.Manager
	logger      logger.Logger
	observer    func(subject string, step engine.Step)
	engineOpts  []engine.Option

	mu        sync.Mutex
	active    map[string]*Handle
	handles   map[string]*Handle
	importing map[string]bool
}

// Option configures a Service
type Option func(*Service)

// WithDriver overrides the driver selected from configuration
func WithDriver(d session.Driver) Option {
	return func(s *Service) { s.driver = d }
}

// WithLogger sets the service logger
func WithLogger(l logger.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithObserver receives every engine transition of every run
func WithObserver(fn func(subject string, step engine.Step)) Option {
	return func(s *Service) { s.observer = fn }
}

// WithEngineOptions passes extra options to every engine
func WithEngineOptions(opts ...engine.Option) Option {
	return func(s *Service) { s.engineOpts = append(s.engineOpts, opts...) }
}

// New creates a service over the directories in cfg
func New(cfg *config.Config, opts ...Option) (*Service, error) {
	s := &Service{
		cfg:       cfg,
		logger:    logger.NewNopLogger(),
		active:    make(map[string]*Handle),
		handles:   make(map[string]*Handle),
		importing: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}

	cps, err := checkpoint.NewManager(cfg.CheckpointsDir(), s.logger)
	if err != nil {
		return nil, err
	}
	s.checkpoints = cps

	if s.driver == nil {
		d, err := NewDriver(cfg, s.logger)
		if err != nil {
			return nil, err
		}
		s.driver = d
	}
	return s, nil
}

// NewDriver selects the session driver named by cfg.Browser.Driver
func NewDriver(cfg *config.Config, log logger.Logger) (session.Driver, error) {
	switch cfg.Browser.Driver {
	case "", "chromedp":
		return browser.NewDriver(cfg, log), nil
	case "replay":
		if cfg.Browser.ReplayFile == "" {
			return nil, errs.New(errs.ErrorTypeInvalidInput, "service.driver", "replay driver needs browser.replay_file")
		}
		return replay.Load(cfg.Browser.ReplayFile)
	default:
		return nil, errs.New(errs.ErrorTypeInvalidInput, "service.driver", fmt.Sprintf("unknown driver %q", cfg.Browser.Driver))
	}
}

// Handle is one active run
type Handle struct {
	ID      string
	Subject string

	engine *engine.Engine
	cancel context.CancelFunc
	done   chan struct{}
	result engine.Result
	err    error
}

// Wait blocks until the run ends and returns its result
func (h *Handle) Wait() (engine.Result, error) {
	<-h.done
	return h.result, h.err
}

// Done is closed when the run ends
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// State returns the engine state of the run
func (h *Handle) State() engine.State {
	return h.engine.State()
}

// Begin starts collecting subject in the background. limit <= 0 collects
// everything. Cancelling ctx cancels the run.
func (s *Service) Begin(ctx context.Context, subject string, limit int, creds session.Credentials) (*Handle, error) {
	if subject == "" {
		return nil, errs.New(errs.ErrorTypeInvalidInput, "service.begin", "subject is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busy(subject) {
		return nil, fmt.Errorf("%w: %s", ErrRunInProgress, subject)
	}

	st, err := store.Open(s.cfg, subject, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}

	opts := []engine.Option{engine.WithLogger(s.logger)}
	if s.cfg.Store.QueueSize > 0 {
		opts = append(opts, engine.WithQueueSize(s.cfg.Store.QueueSize))
	}
	if s.observer != nil {
		observe := s.observer
		opts = append(opts, engine.WithObserver(func(step engine.Step) { observe(subject, step) }))
	}
	opts = append(opts, s.engineOpts...)

	runCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		ID:      uuid.NewString(),
		Subject: subject,
		engine:  engine.New(s.driver, st, s.checkpoints, s.cfg.Collect, opts...),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	s.active[subject] = h
	s.handles[h.ID] = h

	go func() {
		defer close(h.done)
		defer cancel()

		h.result, h.err = h.engine.Run(runCtx, engine.Request{
			Subject:     subject,
			Limit:       limit,
			Credentials: creds,
		})
		if err := st.Close(); err != nil {
			s.logger.WithError(err).WithField("subject", subject).Warn("Failed to close record store")
		}

		s.mu.Lock()
		delete(s.active, subject)
		delete(s.handles, h.ID)
		s.mu.Unlock()
	}()

	return h, nil
}

// StartOrResume collects subject and waits for the run to end. A
// resumable checkpoint is continued; otherwise a new run starts.
func (s *Service) StartOrResume(ctx context.Context, subject string, limit int, creds session.Credentials) (models.RunState, models.Outcome, error) {
	h, err := s.Begin(ctx, subject, limit, creds)
	if err != nil {
		return models.RunState{}, "", err
	}
	res, err := h.Wait()
	return res.State, res.Outcome, err
}

// busy reports whether subject's store has a writer. Callers hold s.mu.
func (s *Service) busy(subject string) bool {
	_, running := s.active[subject]
	return running || s.importing[subject]
}

func (s *Service) handle(id string) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandle, id)
	}
	return h, nil
}

// Cancel stops the run. Its checkpoint is saved before Wait returns.
func (s *Service) Cancel(handleID string) error {
	h, err := s.handle(handleID)
	if err != nil {
		return err
	}
	h.cancel()
	return nil
}

// ResumeChallenge continues a run suspended on a verification challenge
func (s *Service) ResumeChallenge(handleID string) error {
	h, err := s.handle(handleID)
	if err != nil {
		return err
	}
	if !h.engine.Resume() {
		return ErrNoChallenge
	}
	return nil
}

// Active returns the handle of subject's running collection, if any
func (s *Service) Active(subject string) (*Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.active[subject]
	return h, ok
}

// SubjectStatus describes what is stored for a subject
type SubjectStatus struct {
	Subject string
	Stored  int
	// Checkpoint is nil when there is no resumable run
	Checkpoint *models.RunState
	Running    bool
}

// Status reports the stored item count and checkpoint of subject
func (s *Service) Status(subject string) (SubjectStatus, error) {
	status := SubjectStatus{Subject: subject}
	_, status.Running = s.Active(subject)

	cp, err := s.checkpoints.Load(subject)
	if err != nil {
		return status, err
	}
	status.Checkpoint = cp

	if _, err := os.Stat(store.Path(s.cfg, subject)); err == nil && !status.Running {
		st, err := store.Open(s.cfg, subject, s.logger)
		if err != nil {
			return status, err
		}
		status.Stored = st.Count()
		st.Close()
	} else if cp != nil {
		status.Stored = cp.ItemsCollected
	}
	return status, nil
}

// List returns every resumable checkpoint, most recently updated first
func (s *Service) List() ([]models.RunState, error) {
	return s.checkpoints.List()
}

// Import appends a legacy JSON archive to subject's record store
func (s *Service) Import(ctx context.Context, subject, path string) (importer.Result, error) {
	s.mu.Lock()
	if s.busy(subject) {
		s.mu.Unlock()
		return importer.Result{}, fmt.Errorf("%w: %s", ErrRunInProgress, subject)
	}
	s.importing[subject] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.importing, subject)
		s.mu.Unlock()
	}()

	st, err := store.Open(s.cfg, subject, s.logger)
	if err != nil {
		return importer.Result{}, fmt.Errorf("failed to open record store: %w", err)
	}
	defer st.Close()

	return importer.New(st, subject, s.logger).ImportFile(ctx, path)
}

// Document is a rendered file
type Document struct {
	Path  string
	Stats render.Stats
}

// DocumentPath is the default destination for subject's document
func (s *Service) DocumentPath(subject string) string {
	return filepath.Join(s.cfg.OutputDir, checkpoint.FileName(subject)+".pdf")
}

// GenerateDocument renders subject's stored items to destination, or to
// DocumentPath when destination is empty. The file is written next to
// its destination and renamed into place, so a failed render leaves any
// previous document intact.
func (s *Service) GenerateDocument(ctx context.Context, subject, destination string) (Document, error) {
	if destination == "" {
		destination = s.DocumentPath(subject)
	}
	doc := Document{Path: destination}

	if _, err := os.Stat(store.Path(s.cfg, subject)); err != nil {
		if os.IsNotExist(err) {
			return doc, errs.New(errs.ErrorTypeInvalidInput, "service.render", "no records for "+subject)
		}
		return doc, err
	}

	st, err := store.Open(s.cfg, subject, s.logger)
	if err != nil {
		return doc, fmt.Errorf("failed to open record store: %w", err)
	}
	defer st.Close()

	it, err := st.Stream(ctx)
	if err != nil {
		return doc, err
	}
	defer it.Close()

	if err := os.MkdirAll(filepath.Dir(destination), 0755); err != nil {
		return doc, fmt.Errorf("failed to create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(destination), ".xscrap-*.pdf.tmp")
	if err != nil {
		return doc, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	canvas, err := pdf.New(tmp, s.cfg.Render, "@"+subject)
	if err != nil {
		cleanup()
		return doc, err
	}

	opts := render.DefaultOptions()
	opts.IncludeMediaLinks = s.cfg.Render.IncludeMediaLinks
	opts.Logger = s.logger.WithField("subject", subject)

	doc.Stats, err = render.Render(ctx, it, canvas, opts)
	if err != nil {
		cleanup()
		return doc, err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return doc, fmt.Errorf("failed to sync document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return doc, fmt.Errorf("failed to close document: %w", err)
	}
	if err := os.Rename(tmpPath, destination); err != nil {
		os.Remove(tmpPath)
		return doc, fmt.Errorf("failed to move document into place: %w", err)
	}

	s.logger.InfoWithFields("Document written", map[string]interface{}{
		"subject": subject,
		"path":    destination,
		"items":   doc.Stats.Items,
		"pages":   doc.Stats.Pages,
	})
	return doc, nil
}
