package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"xscrap/pkg/checkpoint"
	"xscrap/pkg/config"
	errs "xscrap/pkg/errors"
	"xscrap/pkg/logger"
	"xscrap/pkg/models"
	"xscrap/pkg/ratelimit"
	"xscrap/pkg/retry"
	"xscrap/pkg/session"
	"xscrap/pkg/session/replay"
	"xscrap/pkg/store"
)

type fixture struct {
	dir         string
	store       *store.JSONLStore
	checkpoints *checkpoint.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	st, err := store.OpenJSONL(filepath.Join(dir, "records", "alice.jsonl"), true, logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cp, err := checkpoint.NewManager(filepath.Join(dir, "checkpoints"), logger.NewNopLogger())
	require.NoError(t, err)

	return &fixture{dir: dir, store: st, checkpoints: cp}
}

func testCollectConfig() config.CollectConfig {
	return config.CollectConfig{MaxRetries: 3, LoginAttempts: 3}
}

func (f *fixture) engine(t *testing.T, script *replay.Script, opts ...Option) (*Engine, *replay.Driver) {
	t.Helper()
	driver, err := replay.New(script)
	require.NoError(t, err)
	return f.engineWith(driver, f.checkpoints, opts...), driver
}

func (f *fixture) engineWith(driver session.Driver, cp Checkpointer, opts ...Option) *Engine {
	base := []Option{
		WithBackoff(&retry.ConstantBackoff{Delay: time.Millisecond}),
		WithRateLimiter(ratelimit.Unlimited{}),
		WithQueueSize(2),
	}
	return New(driver, f.store, cp, testCollectConfig(), append(base, opts...)...)
}

func (f *fixture) storedIDs(t *testing.T) []string {
	t.Helper()
	it, err := f.store.Stream(context.Background())
	require.NoError(t, err)
	defer it.Close()

	var ids []string
	for it.Next() {
		ids = append(ids, it.Item().ID)
	}
	require.NoError(t, it.Err())
	return ids
}

func request(limit int) Request {
	return Request{Subject: "alice", Limit: limit, Credentials: session.Credentials{Login: "me", Password: "pw"}}
}

// stepRecorder collects observer callbacks
type stepRecorder struct {
	mu    sync.Mutex
	steps []Step
}

func (r *stepRecorder) observe(s Step) {
	r.mu.Lock()
	r.steps = append(r.steps, s)
	r.mu.Unlock()
}

func (r *stepRecorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, len(r.steps))
	for i, s := range r.steps {
		out[i] = s.To
	}
	return out
}

func TestRunCollectsUntilEndOfContent(t *testing.T) {
	f := newFixture(t)
	rec := &stepRecorder{}
	eng, driver := f.engine(t, &replay.Script{Pages: []replay.Page{
		{Cursor: "p0", Items: replay.Items("alice", "1", "2"), Advance: []string{"more_content"}},
		{Cursor: "p1", Items: replay.Items("alice", "3"), Advance: []string{"end_of_content"}},
	}}, WithObserver(rec.observe))

	res, err := eng.Run(context.Background(), request(0))
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeCompleted, res.Outcome)
	assert.Equal(t, 3, res.Stored)
	assert.Equal(t, 2, res.Batches)
	assert.Equal(t, models.RunStatusCompleted, res.State.Status)
	assert.Equal(t, []string{"1", "2", "3"}, f.storedIDs(t))
	assert.False(t, f.checkpoints.Exists("alice"), "completed checkpoint is cleared")
	assert.Equal(t, Done, eng.State())
	assert.Equal(t, 1, driver.CountCalls("close"))

	assert.Equal(t, []State{Scanning, Extracting, Scanning, Extracting, Draining, Done}, rec.states())
}

func TestRunStopsExactlyAtLimit(t *testing.T) {
	f := newFixture(t)
	eng, driver := f.engine(t, &replay.Script{Pages: []replay.Page{
		{Cursor: "p0", Items: replay.Items("alice", "1", "2", "3"), Advance: []string{"more_content"}},
		{Cursor: "p1", Items: replay.Items("alice", "4")},
	}})

	res, err := eng.Run(context.Background(), request(2))
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeCompleted, res.Outcome)
	assert.Equal(t, []string{"1", "2"}, f.storedIDs(t))
	assert.Equal(t, 2, res.State.ItemsCollected)
	assert.Zero(t, driver.CountCalls("advance"))
}

func TestRunSkipsDuplicatesWithinBatch(t *testing.T) {
	f := newFixture(t)
	items := replay.Items("alice", "1", "2")
	items = append(items, items[0])
	eng, _ := f.engine(t, &replay.Script{Pages: []replay.Page{
		{Cursor: "p0", Items: items, Advance: []string{"end_of_content"}},
	}})

	res, err := eng.Run(context.Background(), request(0))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Stored)
	assert.Equal(t, []string{"1", "2"}, f.storedIDs(t))
}

func TestSecondRunIsIdempotent(t *testing.T) {
	f := newFixture(t)
	script := &replay.Script{Pages: []replay.Page{
		{Cursor: "p0", Items: replay.Items("alice", "1", "2"), Advance: []string{"more_content"}},
		{Cursor: "p1", Items: replay.Items("alice", "3"), Advance: []string{"end_of_content"}},
	}}

	eng, _ := f.engine(t, script)
	_, err := eng.Run(context.Background(), request(0))
	require.NoError(t, err)
	before, err := os.ReadFile(f.store.Path())
	require.NoError(t, err)

	eng, _ = f.engine(t, script)
	res, err := eng.Run(context.Background(), request(0))
	require.NoError(t, err)

	assert.Zero(t, res.Stored)
	assert.Equal(t, 3, f.store.Count())
	after, err := os.ReadFile(f.store.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after, "no appends on an unchanged feed")
}

// A run that keeps hitting transient errors aborts with its cursor intact,
// and a resumed run with a limit of five ends with exactly items 1 to 5.
func TestAbortThenResumeToLimit(t *testing.T) {
	f := newFixture(t)

	eng, driver := f.engine(t, &replay.Script{Pages: []replay.Page{
		{Cursor: "pos-3", Items: replay.Items("alice", "1", "2", "3"), Advance: []string{"transient_error"}},
	}})
	res, err := eng.Run(context.Background(), request(5))
	require.Error(t, err)
	assert.True(t, errs.IsTransient(err))
	assert.Equal(t, models.OutcomeAbortedResumable, res.Outcome)
	assert.Equal(t, 3, driver.CountCalls("advance"), "three failed attempts end the run")

	saved, err := f.checkpoints.Load("alice")
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, "pos-3", saved.Cursor)
	assert.Equal(t, 3, saved.ItemsCollected)
	assert.Equal(t, models.RunStatusAborted, saved.Status)
	assert.Equal(t, Aborted, eng.State())

	eng, driver = f.engine(t, &replay.Script{Pages: []replay.Page{
		{Cursor: "pos-3", Items: replay.Items("alice", "3", "4", "5", "6"), Advance: []string{"more_content"}},
		{Cursor: "pos-4", Items: replay.Items("alice", "7")},
	}})
	res, err = eng.Run(context.Background(), request(5))
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeCompleted, res.Outcome)
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, f.storedIDs(t))
	assert.Equal(t, saved.RunID, res.State.RunID, "resumed run keeps its id")
	assert.Equal(t, "pos-3", driver.Calls()[1].Cursor, "navigates to the saved cursor")
}

// Three transient failures in a row abort even when the feed would have
// ended on the next attempt.
func TestThirdConsecutiveTransientAborts(t *testing.T) {
	f := newFixture(t)

	eng, driver := f.engine(t, &replay.Script{Pages: []replay.Page{
		{
			Cursor:  "p0",
			Items:   replay.Items("alice", "1", "2"),
			Advance: []string{"transient_error", "transient_error", "transient_error", "end_of_content"},
		},
	}})
	res, err := eng.Run(context.Background(), request(5))
	require.Error(t, err)
	assert.True(t, errs.IsTransient(err))
	assert.Equal(t, models.OutcomeAbortedResumable, res.Outcome)
	assert.Equal(t, 3, driver.CountCalls("advance"))

	saved, err := f.checkpoints.Load("alice")
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, models.RunStatusAborted, saved.Status)
	assert.Equal(t, 2, saved.ItemsCollected)
}

// A successful advance resets the count, so failures spread across pages
// do not add up.
func TestTransientCountResetsOnProgress(t *testing.T) {
	f := newFixture(t)

	eng, _ := f.engine(t, &replay.Script{Pages: []replay.Page{
		{Cursor: "p0", Items: replay.Items("alice", "1"), Advance: []string{"transient_error", "transient_error", "more_content"}},
		{Cursor: "p1", Items: replay.Items("alice", "2"), Advance: []string{"transient_error", "transient_error", "end_of_content"}},
	}})
	res, err := eng.Run(context.Background(), request(0))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeCompleted, res.Outcome)
	assert.Equal(t, []string{"1", "2"}, f.storedIDs(t))
}

func TestAuthFailureLeavesCheckpointUntouched(t *testing.T) {
	f := newFixture(t)

	prior := models.NewRunState("alice", 10, time.Now())
	prior.Cursor = "p7"
	require.NoError(t, f.checkpoints.Save(prior))
	before, err := os.ReadFile(f.checkpoints.Path("alice"))
	require.NoError(t, err)

	eng, driver := f.engine(t, &replay.Script{RejectLogin: true})
	res, err := eng.Run(context.Background(), request(10))

	assert.True(t, errs.IsAuth(err))
	assert.Equal(t, models.OutcomeAuthFailed, res.Outcome)
	assert.Equal(t, 1, driver.CountCalls("open"), "rejected credentials are not retried")

	after, err := os.ReadFile(f.checkpoints.Path("alice"))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestTransientOpenFailuresAreRetried(t *testing.T) {
	f := newFixture(t)
	eng, driver := f.engine(t, &replay.Script{
		OpenFailures: 2,
		Pages:        []replay.Page{{Cursor: "p0", Items: replay.Items("alice", "1")}},
	})

	res, err := eng.Run(context.Background(), request(0))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeCompleted, res.Outcome)
	assert.Equal(t, 3, driver.CountCalls("open"))
}

// The process dies while a challenge is pending: the checkpoint on disk
// must already hold the position reached before the challenge.
func TestChallengeCheckpointSurvivesCrash(t *testing.T) {
	f := newFixture(t)
	waiting := make(chan struct{})
	eng, _ := f.engine(t, &replay.Script{Pages: []replay.Page{
		{Cursor: "pos-1", Items: replay.Items("alice", "1", "2"), Advance: []string{"challenge_detected"}},
		{Cursor: "pos-2", Items: replay.Items("alice", "3")},
	}}, WithObserver(func(s Step) {
		if s.To == ChallengeWait {
			close(waiting)
		}
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := eng.Run(ctx, request(0))
		done <- outcome{res, err}
	}()

	select {
	case <-waiting:
	case <-time.After(5 * time.Second):
		t.Fatal("engine never reached the challenge")
	}

	// read with a fresh manager, as a restarted process would
	fresh, err := checkpoint.NewManager(f.checkpoints.Dir(), logger.NewNopLogger())
	require.NoError(t, err)
	state, err := fresh.Load("alice")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.True(t, state.ChallengePending)
	assert.Equal(t, "pos-1", state.Cursor)
	assert.Equal(t, 2, state.ItemsCollected)
	assert.Equal(t, ChallengeWait, eng.State())

	cancel()
	out := <-done
	assert.ErrorIs(t, out.err, context.Canceled)
	assert.Equal(t, models.OutcomeAbortedResumable, out.res.Outcome)

	eng, _ = f.engine(t, &replay.Script{Pages: []replay.Page{
		{Cursor: "pos-1", Items: replay.Items("alice", "1", "2"), Advance: []string{"more_content"}},
		{Cursor: "pos-2", Items: replay.Items("alice", "3")},
	}})
	res, err := eng.Run(context.Background(), request(0))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeCompleted, res.Outcome)
	assert.Equal(t, []string{"1", "2", "3"}, f.storedIDs(t))
}

func TestResumeAfterChallenge(t *testing.T) {
	f := newFixture(t)
	rec := &stepRecorder{}
	var eng *Engine
	eng, _ = f.engine(t, &replay.Script{Pages: []replay.Page{
		{Cursor: "p0", Items: replay.Items("alice", "1"), Advance: []string{"challenge_detected", "more_content"}},
		{Cursor: "p1", Items: replay.Items("alice", "2")},
	}}, WithObserver(func(s Step) {
		rec.observe(s)
		if s.To == ChallengeWait {
			assert.True(t, eng.Resume())
		}
	}))

	assert.False(t, eng.Resume(), "nothing to resume before a challenge")

	res, err := eng.Run(context.Background(), request(0))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeCompleted, res.Outcome)
	assert.False(t, res.State.ChallengePending)
	assert.Equal(t, []string{"1", "2"}, f.storedIDs(t))
	assert.Contains(t, rec.states(), ChallengeWait)
}

func TestCancellationSavesCheckpoint(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng, _ := f.engine(t, &replay.Script{Pages: []replay.Page{
		{Cursor: "p0", Items: replay.Items("alice", "1", "2"), Advance: []string{"transient_error"}},
	}}, WithBackoff(&retry.ConstantBackoff{Delay: time.Hour}), WithObserver(func(s Step) {
		if s.Event == EventTransient {
			cancel()
		}
	}))

	res, err := eng.Run(ctx, request(0))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.OutcomeAbortedResumable, res.Outcome)

	saved, err := f.checkpoints.Load("alice")
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, models.RunStatusAborted, saved.Status)
	assert.Equal(t, "p0", saved.Cursor)
	assert.Equal(t, 2, saved.ItemsCollected)
}

// failingCheckpointer fails every save from the nth onwards
type failingCheckpointer struct {
	*checkpoint.Manager
	saves  int
	failAt int
}

func (f *failingCheckpointer) Save(state *models.RunState) error {
	f.saves++
	if f.saves >= f.failAt {
		return errs.Wrap(errs.ErrorTypeCheckpointWrite, "checkpoint.save", errors.New("no space left on device"))
	}
	return f.Manager.Save(state)
}

func TestCheckpointWriteFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	driver, err := replay.New(&replay.Script{Pages: []replay.Page{
		{Cursor: "p0", Items: replay.Items("alice", "1"), Advance: []string{"more_content"}},
		{Cursor: "p1", Items: replay.Items("alice", "2"), Advance: []string{"more_content"}},
		{Cursor: "p2", Items: replay.Items("alice", "3")},
	}})
	require.NoError(t, err)

	cp := &failingCheckpointer{Manager: f.checkpoints, failAt: 2}
	eng := f.engineWith(driver, cp)

	res, err := eng.Run(context.Background(), request(0))
	require.Error(t, err)
	assert.True(t, errs.IsCheckpointWrite(err))
	assert.Equal(t, models.OutcomeAbortedResumable, res.Outcome)
	assert.Equal(t, "p0", res.State.Cursor, "last persisted state is reported")
	assert.Equal(t, 2, cp.saves, "no further saves after the failure")
	assert.Equal(t, Aborted, eng.State())

	onDisk, err := f.checkpoints.Load("alice")
	require.NoError(t, err)
	assert.Equal(t, "p0", onDisk.Cursor)
	assert.Equal(t, models.RunStatusInProgress, onDisk.Status)
}

func TestUnknownCursorRestartsFromNewest(t *testing.T) {
	f := newFixture(t)
	stale := models.NewRunState("alice", 0, time.Now())
	stale.Cursor = "window:2020-01-01:2020-03-01"
	require.NoError(t, f.checkpoints.Save(stale))

	log := logger.NewTestLogger()
	eng, driver := f.engine(t, &replay.Script{Pages: []replay.Page{
		{Cursor: "p0", Items: replay.Items("alice", "1")},
	}}, WithLogger(log))

	res, err := eng.Run(context.Background(), request(0))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeCompleted, res.Outcome)
	assert.True(t, log.HasMessage("Saved cursor rejected, starting from newest"))
	assert.Equal(t, 2, driver.CountCalls("navigate"))
}

func TestRunRejectsConcurrentUse(t *testing.T) {
	f := newFixture(t)
	waiting := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng, _ := f.engine(t, &replay.Script{Pages: []replay.Page{
		{Cursor: "p0", Items: replay.Items("alice", "1"), Advance: []string{"challenge_detected"}},
	}}, WithObserver(func(s Step) {
		if s.To == ChallengeWait {
			close(waiting)
		}
	}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		eng.Run(ctx, request(0))
	}()
	<-waiting

	_, err := eng.Run(context.Background(), request(0))
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	cancel()
	<-done
}
