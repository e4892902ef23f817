package checkpoint

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	errs "xscrap/pkg/errors"
	"xscrap/pkg/logger"
	"xscrap/pkg/models"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	mgr, err := NewManager(filepath.Join(t.TempDir(), "checkpoints"), logger.NewNopLogger())
	require.NoError(t, err)
	return mgr
}

func TestLoadMissingReturnsNil(t *testing.T) {
	mgr := newTestManager(t)

	state, err := mgr.Load("nobody")
	require.NoError(t, err)
	assert.Nil(t, state)
	assert.False(t, mgr.Exists("nobody"))
}

func TestSaveAndLoad(t *testing.T) {
	mgr := newTestManager(t)

	state := models.NewRunState("alice", 5, time.Now())
	state.Cursor = "pos-3"
	state.ItemsCollected = 3
	require.NoError(t, mgr.Save(state))

	loaded, err := mgr.Load("alice")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, state.RunID, loaded.RunID)
	assert.Equal(t, "pos-3", loaded.Cursor)
	assert.Equal(t, 3, loaded.ItemsCollected)
	assert.Equal(t, 5, loaded.RequestedLimit)
	assert.Equal(t, models.RunStatusInProgress, loaded.Status)
	assert.Equal(t, models.RunStateVersion, loaded.Version)
}

func TestCompletedRunIsNotResumable(t *testing.T) {
	mgr := newTestManager(t)

	state := models.NewRunState("alice", 0, time.Now())
	state.Status = models.RunStatusCompleted
	require.NoError(t, mgr.Save(state))

	loaded, err := mgr.Load("alice")
	require.NoError(t, err)
	assert.Nil(t, loaded)
	assert.True(t, mgr.Exists("alice"))
}

func TestAbortedRunIsResumable(t *testing.T) {
	mgr := newTestManager(t)

	state := models.NewRunState("alice", 0, time.Now())
	state.Status = models.RunStatusAborted
	state.Cursor = "window:2023-01-01:2023-03-02"
	require.NoError(t, mgr.Save(state))

	loaded, err := mgr.Load("alice")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, state.Cursor, loaded.Cursor)
}

func TestClear(t *testing.T) {
	mgr := newTestManager(t)

	require.NoError(t, mgr.Save(models.NewRunState("alice", 0, time.Now())))
	require.NoError(t, mgr.Clear("alice"))
	assert.False(t, mgr.Exists("alice"))

	// clearing twice is fine
	assert.NoError(t, mgr.Clear("alice"))
}

func TestInterruptedSaveKeepsPreviousState(t *testing.T) {
	mgr := newTestManager(t)

	first := models.NewRunState("alice", 0, time.Now())
	first.Cursor = "pos-1"
	first.ItemsCollected = 1
	require.NoError(t, mgr.Save(first))

	var leftover string
	mgr.beforeRename = func(tmpPath string) error {
		leftover = tmpPath
		return errors.New("power loss")
	}

	second := first.Clone()
	second.Cursor = "pos-2"
	second.ItemsCollected = 2
	err := mgr.Save(&second)
	require.Error(t, err)
	assert.True(t, errs.IsCheckpointWrite(err))

	loaded, err := mgr.Load("alice")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "pos-1", loaded.Cursor)
	assert.Equal(t, 1, loaded.ItemsCollected)

	_, statErr := os.Stat(leftover)
	assert.True(t, os.IsNotExist(statErr), "temp file should be removed")

	mgr.beforeRename = nil
	require.NoError(t, mgr.Save(&second))
	loaded, err = mgr.Load("alice")
	require.NoError(t, err)
	assert.Equal(t, "pos-2", loaded.Cursor)
}

func TestPartialTempFileIsIgnored(t *testing.T) {
	mgr := newTestManager(t)

	state := models.NewRunState("alice", 0, time.Now())
	state.Cursor = "pos-7"
	require.NoError(t, mgr.Save(state))

	// a crash after a partial write leaves a truncated temp file behind
	partial := filepath.Join(mgr.Dir(), "alice.checkpoint.json.123.tmp")
	require.NoError(t, os.WriteFile(partial, []byte(`{"subject":"alice","cur`), 0644))

	loaded, err := mgr.Load("alice")
	require.NoError(t, err)
	assert.Equal(t, "pos-7", loaded.Cursor)

	states, err := mgr.List()
	require.NoError(t, err)
	assert.Len(t, states, 1)
}

func TestCorruptCheckpointIsReported(t *testing.T) {
	mgr := newTestManager(t)
	require.NoError(t, os.WriteFile(mgr.Path("alice"), []byte("{not json"), 0644))

	_, err := mgr.Load("alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrCorruption)
}

func TestListOrdersByUpdate(t *testing.T) {
	mgr := newTestManager(t)

	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mgr.now = func() time.Time { return clock }
	require.NoError(t, mgr.Save(models.NewRunState("alice", 0, clock)))

	clock = clock.Add(time.Hour)
	require.NoError(t, mgr.Save(models.NewRunState("bob", 0, clock)))

	require.NoError(t, os.WriteFile(filepath.Join(mgr.Dir(), "broken"+fileSuffix), []byte("x"), 0644))

	states, err := mgr.List()
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "bob", states[0].Subject)
	assert.Equal(t, "alice", states[1].Subject)
}

func TestFileName(t *testing.T) {
	tests := map[string]string{
		"alice":      "alice",
		"a/b":        "a_b",
		"..":         "_",
		"  spaced  ": "spaced",
		"x y@z":      "x_y_z",
	}
	for in, want := range tests {
		assert.Equal(t, want, FileName(in), in)
	}
}
