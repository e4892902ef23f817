package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	errs "xscrap/pkg/errors"
	"xscrap/pkg/logger"
	"xscrap/pkg/models"
)

const fileSuffix = ".checkpoint.json"

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// Manager persists one RunState per subject in a directory
type Manager struct {
	dir    string
	logger logger.Logger
	now    func() time.Time

	// beforeRename runs after the temp file is synced and before it
	// replaces the live checkpoint. Tests use it to interrupt a save.
	beforeRename func(tmpPath string) error
}

// NewManager creates a checkpoint manager rooted at dir
func NewManager(dir string, log logger.Logger) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoints directory: %w", err)
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Manager{
		dir:    dir,
		logger: log,
		now:    time.Now,
	}, nil
}

// Dir returns the checkpoint directory
func (m *Manager) Dir() string {
	return m.dir
}

// Path returns the checkpoint file for subject
func (m *Manager) Path(subject string) string {
	return filepath.Join(m.dir, FileName(subject)+fileSuffix)
}

// FileName maps a subject to a name safe for any filesystem
func FileName(subject string) string {
	name := unsafeChars.ReplaceAllString(strings.TrimSpace(subject), "_")
	if name == "" || name == "." || name == ".." {
		name = "_"
	}
	return name
}

// Load returns the resumable run for subject, or nil when there is none.
// A completed run is not resumable.
func (m *Manager) Load(subject string) (*models.RunState, error) {
	state, err := m.read(m.Path(subject))
	if err != nil || state == nil {
		return nil, err
	}
	if !state.Resumable() {
		return nil, nil
	}

	m.logger.InfoWithFields("Checkpoint loaded", map[string]interface{}{
		"subject":         state.Subject,
		"run_id":          state.RunID,
		"items_collected": state.ItemsCollected,
		"cursor":          state.Cursor,
		"updated_at":      state.UpdatedAt,
	})

	return state, nil
}

func (m *Manager) read(path string) (*models.RunState, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open checkpoint file: %w", err)
	}
	defer file.Close()

	var state models.RunState
	if err := json.NewDecoder(file).Decode(&state); err != nil {
		return nil, errs.Wrap(errs.ErrorTypeCorruption, "checkpoint.load", err)
	}
	return &state, nil
}

// Save atomically replaces the checkpoint for state.Subject. Readers see
// either the previous checkpoint or this one, never a mix.
func (m *Manager) Save(state *models.RunState) error {
	if err := m.save(state); err != nil {
		return errs.Wrap(errs.ErrorTypeCheckpointWrite, "checkpoint.save", err).WithSubject(state.Subject)
	}

	m.logger.DebugWithFields("Checkpoint saved", map[string]interface{}{
		"subject":         state.Subject,
		"status":          string(state.Status),
		"items_collected": state.ItemsCollected,
		"cursor":          state.Cursor,
	})
	return nil
}

func (m *Manager) save(state *models.RunState) error {
	state.UpdatedAt = m.now()
	if state.Version == 0 {
		state.Version = models.RunStateVersion
	}

	target := m.Path(state.Subject)
	file, err := os.CreateTemp(m.dir, filepath.Base(target)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary checkpoint file: %w", err)
	}
	tempPath := file.Name()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(state); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync checkpoint file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close checkpoint file: %w", err)
	}

	if m.beforeRename != nil {
		if err := m.beforeRename(tempPath); err != nil {
			os.Remove(tempPath)
			return err
		}
	}

	if err := os.Rename(tempPath, target); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace checkpoint file: %w", err)
	}

	return syncDir(m.dir)
}

// Clear removes the checkpoint for subject. A missing checkpoint is not an error.
func (m *Manager) Clear(subject string) error {
	if err := os.Remove(m.Path(subject)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}

	m.logger.DebugWithFields("Checkpoint cleared", map[string]interface{}{
		"subject": subject,
	})
	return nil
}

// Exists checks if a checkpoint file exists for subject
func (m *Manager) Exists(subject string) bool {
	_, err := os.Stat(m.Path(subject))
	return err == nil
}

// List returns every readable checkpoint, most recently updated first.
// Unreadable files are logged and skipped.
func (m *Manager) List() ([]models.RunState, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoints directory: %w", err)
	}

	var states []models.RunState
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileSuffix) {
			continue
		}
		state, err := m.read(filepath.Join(m.dir, entry.Name()))
		if err != nil {
			m.logger.WithError(err).WarnWithFields("Skipping unreadable checkpoint", map[string]interface{}{
				"file": entry.Name(),
			})
			continue
		}
		if state != nil {
			states = append(states, *state)
		}
	}

	sort.Slice(states, func(i, j int) bool {
		return states[i].UpdatedAt.After(states[j].UpdatedAt)
	})
	return states, nil
}

// syncDir flushes the directory entry so the rename survives a crash
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint directory: %w", err)
	}
	defer d.Close()

	// Some platforms refuse fsync on directories; the rename already happened.
	_ = d.Sync()
	return nil
}
