package service

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xscrap/pkg/config"
	"xscrap/pkg/engine"
	errs "xscrap/pkg/errors"
	"xscrap/pkg/models"
	"xscrap/pkg/ratelimit"
	"xscrap/pkg/retry"
	"xscrap/pkg/session"
	"xscrap/pkg/session/replay"
)

var creds = session.Credentials{Login: "me", Password: "pw"}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	dir := t.TempDir()
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.OutputDir = filepath.Join(dir, "out")
	cfg.Collect.MaxRetries = 2
	cfg.Collect.LoginAttempts = 2
	return cfg
}

func newService(t *testing.T, cfg *config.Config, script *replay.Script, opts ...Option) (*Service, *replay.Driver) {
	t.Helper()
	driver, err := replay.New(script)
	require.NoError(t, err)

	base := []Option{
		WithDriver(driver),
		WithEngineOptions(
			engine.WithBackoff(&retry.ConstantBackoff{Delay: time.Millisecond}),
			engine.WithRateLimiter(ratelimit.Unlimited{}),
		),
	}
	svc, err := New(cfg, append(base, opts...)...)
	require.NoError(t, err)
	return svc, driver
}

func twoPages() *replay.Script {
	return &replay.Script{Pages: []replay.Page{
		{Cursor: "p0", Items: replay.Items("alice", "1", "2", "3")},
		{Cursor: "p1", Items: replay.Items("alice", "4", "5")},
	}}
}

func TestStartOrResumeCompletes(t *testing.T) {
	cfg := testConfig(t)
	svc, _ := newService(t, cfg, twoPages())

	state, outcome, err := svc.StartOrResume(context.Background(), "alice", 0, creds)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeCompleted, outcome)
	assert.Equal(t, 5, state.ItemsCollected)

	status, err := svc.Status("alice")
	require.NoError(t, err)
	assert.Equal(t, 5, status.Stored)
	assert.Nil(t, status.Checkpoint)
	assert.False(t, status.Running)
}

func TestStartOrResumeAuthFailure(t *testing.T) {
	cfg := testConfig(t)
	svc, _ := newService(t, cfg, &replay.Script{RejectLogin: true})

	_, outcome, err := svc.StartOrResume(context.Background(), "alice", 0, creds)
	assert.Equal(t, models.OutcomeAuthFailed, outcome)
	assert.True(t, errs.IsAuth(err))

	list, err := svc.List()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestAbortedRunIsListedAndResumed(t *testing.T) {
	cfg := testConfig(t)
	script := twoPages()
	script.Pages[0].Advance = []string{"transient_error"}
	svc, _ := newService(t, cfg, script)

	_, outcome, err := svc.StartOrResume(context.Background(), "alice", 0, creds)
	require.Error(t, err)
	assert.Equal(t, models.OutcomeAbortedResumable, outcome)

	list, err := svc.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "alice", list[0].Subject)
	assert.Equal(t, 3, list[0].ItemsCollected)

	// the source recovers
	script.Pages[0].Advance = []string{"more_content"}
	svc2, _ := newService(t, cfg, script)
	state, outcome, err := svc2.StartOrResume(context.Background(), "alice", 0, creds)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeCompleted, outcome)
	assert.Equal(t, 5, state.ItemsCollected)
}

func TestOneRunPerSubject(t *testing.T) {
	cfg := testConfig(t)
	script := twoPages()
	script.Pages[0].Advance = []string{"challenge_detected", "more_content"}

	steps := make(chan engine.Step, 64)
	svc, _ := newService(t, cfg, script, WithObserver(func(subject string, step engine.Step) {
		steps <- step
	}))

	h, err := svc.Begin(context.Background(), "alice", 0, creds)
	require.NoError(t, err)
	waitForState(t, steps, engine.ChallengeWait)

	_, err = svc.Begin(context.Background(), "alice", 0, creds)
	assert.ErrorIs(t, err, ErrRunInProgress)
	_, err = svc.Import(context.Background(), "alice", "unused.json")
	assert.ErrorIs(t, err, ErrRunInProgress)

	status, err := svc.Status("alice")
	require.NoError(t, err)
	assert.True(t, status.Running)
	require.NotNil(t, status.Checkpoint)
	assert.True(t, status.Checkpoint.ChallengePending)

	require.NoError(t, svc.ResumeChallenge(h.ID))
	res, err := h.Wait()
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeCompleted, res.Outcome)

	assert.ErrorIs(t, svc.ResumeChallenge(h.ID), ErrUnknownHandle)
	_, running := svc.Active("alice")
	assert.False(t, running)
}

func TestCancelSavesCheckpoint(t *testing.T) {
	cfg := testConfig(t)
	script := twoPages()
	script.Pages[0].Advance = []string{"challenge_detected"}

	steps := make(chan engine.Step, 64)
	svc, _ := newService(t, cfg, script, WithObserver(func(_ string, step engine.Step) { steps <- step }))

	h, err := svc.Begin(context.Background(), "alice", 10, creds)
	require.NoError(t, err)
	waitForState(t, steps, engine.ChallengeWait)

	assert.ErrorIs(t, svc.Cancel("nope"), ErrUnknownHandle)
	require.NoError(t, svc.Cancel(h.ID))
	res, err := h.Wait()
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.OutcomeAbortedResumable, res.Outcome)

	status, err := svc.Status("alice")
	require.NoError(t, err)
	require.NotNil(t, status.Checkpoint)
	assert.Equal(t, models.RunStatusAborted, status.Checkpoint.Status)
	assert.Equal(t, 3, status.Stored)
}

func TestResumeChallengeWithoutChallenge(t *testing.T) {
	cfg := testConfig(t)
	script := twoPages()
	script.Pages[0].Advance = []string{"challenge_detected"}
	steps := make(chan engine.Step, 64)
	early := make(chan error, 1)

	var svc *Service
	svc, _ = newService(t, cfg, script, WithObserver(func(subject string, step engine.Step) {
		// runs on the engine goroutine, so the state cannot move on underneath the call
		if step.From == engine.Starting && step.To == engine.Scanning {
			if h, ok := svc.Active(subject); ok {
				early <- svc.ResumeChallenge(h.ID)
			}
		}
		steps <- step
	}))

	h, err := svc.Begin(context.Background(), "alice", 0, creds)
	require.NoError(t, err)
	defer func() {
		svc.Cancel(h.ID)
		h.Wait()
	}()

	waitForState(t, steps, engine.ChallengeWait)
	assert.ErrorIs(t, <-early, ErrNoChallenge)
	assert.NoError(t, svc.ResumeChallenge(h.ID))
}

func TestGenerateDocument(t *testing.T) {
	cfg := testConfig(t)
	svc, _ := newService(t, cfg, twoPages())

	_, err := svc.GenerateDocument(context.Background(), "alice", "")
	assert.Equal(t, errs.ErrorTypeInvalidInput, errs.TypeOf(err))

	_, _, err = svc.StartOrResume(context.Background(), "alice", 0, creds)
	require.NoError(t, err)

	doc, err := svc.GenerateDocument(context.Background(), "alice", "")
	require.NoError(t, err)
	assert.Equal(t, svc.DocumentPath("alice"), doc.Path)
	assert.Equal(t, 5, doc.Stats.Items)

	data, err := os.ReadFile(doc.Path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))

	leftovers, err := filepath.Glob(filepath.Join(cfg.OutputDir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestGenerateDocumentKeepsPreviousOnFailure(t *testing.T) {
	cfg := testConfig(t)
	svc, _ := newService(t, cfg, twoPages())
	_, _, err := svc.StartOrResume(context.Background(), "alice", 0, creds)
	require.NoError(t, err)

	dest := filepath.Join(cfg.OutputDir, "alice.pdf")
	require.NoError(t, os.MkdirAll(cfg.OutputDir, 0755))
	require.NoError(t, os.WriteFile(dest, []byte("previous"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = svc.GenerateDocument(ctx, "alice", dest)
	require.Error(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "previous", string(data))
}

func TestImport(t *testing.T) {
	cfg := testConfig(t)
	svc, _ := newService(t, cfg, twoPages())

	archive := filepath.Join(t.TempDir(), "alice_mega_scrape.json")
	require.NoError(t, os.WriteFile(archive, []byte(`[
		{"id": 1, "date": "2023-02-01T00:00:00Z", "text": "old", "tweet_url": "https://x.com/alice/status/900"},
		{"id": 2, "date": "2023-02-02T00:00:00Z", "text": "older", "tweet_url": "https://x.com/alice/status/901"}
	]`), 0644))

	res, err := svc.Import(context.Background(), "alice", archive)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Added)

	status, err := svc.Status("alice")
	require.NoError(t, err)
	assert.Equal(t, 2, status.Stored)

	// collection after import appends new items behind the imported ones
	state, _, err := svc.StartOrResume(context.Background(), "alice", 0, creds)
	require.NoError(t, err)
	assert.Equal(t, 7, state.ItemsCollected)
}

func TestConcurrentSubjects(t *testing.T) {
	cfg := testConfig(t)
	svc, _ := newService(t, cfg, twoPages())

	var wg sync.WaitGroup
	errCh := make(chan error, 2)
	for _, subject := range []string{"alice", "bob"} {
		wg.Add(1)
		go func(subject string) {
			defer wg.Done()
			_, _, err := svc.StartOrResume(context.Background(), subject, 0, creds)
			errCh <- err
		}(subject)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		assert.NoError(t, err)
	}
}

func TestNewDriver(t *testing.T) {
	cfg := config.DefaultConfig()

	d, err := NewDriver(cfg, nil)
	require.NoError(t, err)
	assert.NotNil(t, d)

	cfg.Browser.Driver = "replay"
	_, err = NewDriver(cfg, nil)
	assert.Error(t, err)

	cfg.Browser.Driver = "netscape"
	_, err = NewDriver(cfg, nil)
	assert.Error(t, err)
}

func TestBeginRequiresSubject(t *testing.T) {
	svc, _ := newService(t, testConfig(t), twoPages())
	_, err := svc.Begin(context.Background(), "", 0, creds)
	assert.True(t, errors.Is(err, errs.ErrInvalidInput))
}

func waitForState(t *testing.T, steps <-chan engine.Step, want engine.State) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case step := <-steps:
			if step.To == want {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}
