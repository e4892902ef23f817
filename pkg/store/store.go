package store

import (
	"context"
	"fmt"
	"path/filepath"

	"xscrap/pkg/checkpoint"
	"xscrap/pkg/config"
	errs "xscrap/pkg/errors"
	"xscrap/pkg/logger"
	"xscrap/pkg/models"
)

// ErrInvalidItem is returned when appending an item without an ID
var ErrInvalidItem = &errs.Error{Type: errs.ErrorTypeInvalidInput, Message: "item has no id"}

// RecordStore is the durable, append-only, deduplicated set of collected
// items for one subject. Stream yields items in insertion order.
type RecordStore interface {
	// Contains reports whether id has been persisted
	Contains(id string) bool

	// Append persists item unless its ID is already present. It returns
	// false for a duplicate, which is never an error.
	Append(ctx context.Context, item models.Item) (bool, error)

	// Stream opens a fresh forward-only reader over all persisted items
	Stream(ctx context.Context) (Iterator, error)

	// Count returns the number of distinct persisted items
	Count() int

	Close() error
}

// Iterator walks persisted items one at a time. Records that cannot be
// decoded are skipped and counted, never returned as errors.
type Iterator interface {
	Next() bool
	Item() models.Item
	Err() error
	Skipped() int
	Close() error
}

// Open opens the record store for subject using the configured backend
func Open(cfg *config.Config, subject string, log logger.Logger) (RecordStore, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	base := filepath.Join(cfg.RecordsDir(), checkpoint.FileName(subject))

	switch cfg.Store.Backend {
	case "", "jsonl":
		return OpenJSONL(base+".jsonl", cfg.Store.SyncWrites, log)
	case "sqlite":
		return OpenSQLite(base+".db", cfg.Store.SyncWrites, log)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// Path returns where the store for subject lives under cfg
func Path(cfg *config.Config, subject string) string {
	ext := ".jsonl"
	if cfg.Store.Backend == "sqlite" {
		ext = ".db"
	}
	return filepath.Join(cfg.RecordsDir(), checkpoint.FileName(subject)+ext)
}

// SliceIterator iterates over items already in memory
type SliceIterator struct {
	items []models.Item
	pos   int
}

// NewSliceIterator wraps items in an Iterator
func NewSliceIterator(items []models.Item) *SliceIterator {
	return &SliceIterator{items: items, pos: -1}
}

func (s *SliceIterator) Next() bool {
	if s.pos+1 >= len(s.items) {
		s.pos = len(s.items)
		return false
	}
	s.pos++
	return true
}

func (s *SliceIterator) Item() models.Item {
	if s.pos < 0 || s.pos >= len(s.items) {
		return models.Item{}
	}
	return s.items[s.pos]
}

func (s *SliceIterator) Err() error   { return nil }
func (s *SliceIterator) Skipped() int { return 0 }
func (s *SliceIterator) Close() error { return nil }
