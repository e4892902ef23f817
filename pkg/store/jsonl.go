package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	errs "xscrap/pkg/errors"
	"xscrap/pkg/logger"
	"xscrap/pkg/models"
)

// JSONLStore keeps one JSON object per line in an append-only file.
// The ID index is rebuilt from the file at open time.
type JSONLStore struct {
	path       string
	file       appendFile
	syncWrites bool
	logger     logger.Logger

	mu           sync.RWMutex
	ids          map[string]struct{}
	needsNewline bool
}

// appendFile is the write side of the record file
type appendFile interface {
	io.Writer
	Sync() error
	Close() error
}

// OpenJSONL opens or creates the store at path
func OpenJSONL(path string, syncWrites bool, log logger.Logger) (*JSONLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create records directory: %w", err)
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	s := &JSONLStore{
		path:       path,
		syncWrites: syncWrites,
		logger:     log,
		ids:        make(map[string]struct{}),
	}

	if err := s.rebuildIndex(); err != nil {
		return nil, fmt.Errorf("failed to index %s: %w", path, err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open record file: %w", err)
	}
	s.file = file

	return s, nil
}

// rebuildIndex reads every line once, keeping only IDs
func (s *JSONLStore) rebuildIndex() error {
	file, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	var offset int64
	for {
		line, readErr := reader.ReadBytes('\n')
		if readErr != nil && readErr != io.EOF {
			return readErr
		}

		pos := offset
		offset += int64(len(line))
		if readErr == io.EOF && len(line) > 0 {
			// last line has no terminator, a crash cut the write short
			s.needsNewline = true
		}

		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			var rec struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal(trimmed, &rec); err != nil || rec.ID == "" {
				if err == nil {
					err = models.ErrMissingID
				}
				logger.LogCorruption(s.logger, s.path, pos, err)
			} else {
				s.ids[rec.ID] = struct{}{}
			}
		}

		if readErr == io.EOF {
			return nil
		}
	}
}

// Path returns the backing file
func (s *JSONLStore) Path() string {
	return s.path
}

func (s *JSONLStore) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

func (s *JSONLStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

func (s *JSONLStore) Append(ctx context.Context, item models.Item) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if item.ID == "" {
		return false, ErrInvalidItem
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[item.ID]; ok {
		return false, nil
	}

	data, err := json.Marshal(item)
	if err != nil {
		return false, errs.Wrap(errs.ErrorTypeStore, "store.append", err)
	}

	var buf bytes.Buffer
	if s.needsNewline {
		buf.WriteByte('\n')
	}
	buf.Write(data)
	buf.WriteByte('\n')

	if _, err := s.file.Write(buf.Bytes()); err != nil {
		s.needsNewline = true
		return false, errs.Wrap(errs.ErrorTypeStore, "store.append", err)
	}
	// the line is in the file now; a retried Append must see it as a duplicate
	s.needsNewline = false
	s.ids[item.ID] = struct{}{}

	if s.syncWrites {
		if err := s.file.Sync(); err != nil {
			return false, errs.Wrap(errs.ErrorTypeStore, "store.append", err)
		}
	}
	return true, nil
}

func (s *JSONLStore) Stream(ctx context.Context) (Iterator, error) {
	file, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open record file: %w", err)
	}

	return &jsonlIterator{
		ctx:    ctx,
		file:   file,
		reader: bufio.NewReader(file),
		source: s.path,
		logger: s.logger,
	}, nil
}

func (s *JSONLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

type jsonlIterator struct {
	ctx    context.Context
	file   *os.File
	reader *bufio.Reader
	source string
	logger logger.Logger

	offset  int64
	item    models.Item
	err     error
	skipped int
	done    bool
}

func (it *jsonlIterator) Next() bool {
	for !it.done {
		if err := it.ctx.Err(); err != nil {
			it.err = err
			return false
		}

		line, err := it.reader.ReadBytes('\n')
		if err != nil {
			if err != io.EOF {
				it.err = fmt.Errorf("failed to read record file: %w", err)
				return false
			}
			it.done = true
		}

		pos := it.offset
		it.offset += int64(len(line))
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var item models.Item
		if err := json.Unmarshal(line, &item); err != nil || item.ID == "" {
			if err == nil {
				err = models.ErrMissingID
			}
			logger.LogCorruption(it.logger, it.source, pos, err)
			it.skipped++
			continue
		}

		it.item = item
		return true
	}
	return false
}

func (it *jsonlIterator) Item() models.Item { return it.item }
func (it *jsonlIterator) Err() error        { return it.err }
func (it *jsonlIterator) Skipped() int      { return it.skipped }

func (it *jsonlIterator) Close() error {
	it.done = true
	return it.file.Close()
}
