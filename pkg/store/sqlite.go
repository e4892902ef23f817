package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	errs "xscrap/pkg/errors"
	"xscrap/pkg/logger"
	"xscrap/pkg/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS items (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	author TEXT NOT NULL,
	timestamp TEXT,
	text TEXT,
	media_refs TEXT,
	source_rank INTEGER,
	url TEXT,
	media_type TEXT,
	hashtags TEXT,
	collected_at TEXT,
	thread_id TEXT,
	reply INTEGER NOT NULL DEFAULT 0
);
`

// addedColumns are columns later versions added to items, applied to
// databases created before them
var addedColumns = []struct{ name, decl string }{
	{"thread_id", "thread_id TEXT"},
	{"reply", "reply INTEGER NOT NULL DEFAULT 0"},
}

// SQLiteStore keeps items in a per-subject SQLite database. Insertion order
// is the autoincrement sequence.
type SQLiteStore struct {
	path   string
	db     *sql.DB
	logger logger.Logger

	mu  sync.RWMutex
	ids map[string]struct{}
}

// OpenSQLite opens or creates the database at path
func OpenSQLite(path string, syncWrites bool, log logger.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create records directory: %w", err)
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	synchronous := "NORMAL"
	if syncWrites {
		synchronous = "FULL"
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(%s)&_pragma=busy_timeout(5000)",
		path, synchronous)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteStore{
		path:   path,
		db:     db,
		logger: log,
		ids:    make(map[string]struct{}),
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := migrateColumns(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := s.rebuildIndex(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to index %s: %w", path, err)
	}

	return s, nil
}

func migrateColumns(db *sql.DB) error {
	rows, err := db.Query(`SELECT name FROM pragma_table_info('items')`)
	if err != nil {
		return err
	}
	have := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		have[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, col := range addedColumns {
		if have[col.name] {
			continue
		}
		if _, err := db.Exec(`ALTER TABLE items ADD COLUMN ` + col.decl); err != nil {
			return fmt.Errorf("failed to add column %s: %w", col.name, err)
		}
	}
	return nil
}

func (s *SQLiteStore) rebuildIndex() error {
	rows, err := s.db.Query(`SELECT id FROM items`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		s.ids[id] = struct{}{}
	}
	return rows.Err()
}

// Path returns the database file
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

func (s *SQLiteStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

func (s *SQLiteStore) Append(ctx context.Context, item models.Item) (bool, error) {
	if item.ID == "" {
		return false, ErrInvalidItem
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[item.ID]; ok {
		return false, nil
	}

	mediaJSON, _ := json.Marshal(item.MediaRefs)
	tagsJSON, _ := json.Marshal(item.Hashtags)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO items (id, author, timestamp, text, media_refs, source_rank,
			url, media_type, hashtags, collected_at, thread_id, reply)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, item.ID, item.Author, formatTime(item.Timestamp), item.Text, string(mediaJSON),
		item.SourceRank, item.URL, string(item.MediaType), string(tagsJSON),
		formatTime(item.CollectedAt), item.ThreadID, item.Reply)
	if err != nil {
		return false, errs.Wrap(errs.ErrorTypeStore, "store.append", err)
	}

	s.ids[item.ID] = struct{}{}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errs.Wrap(errs.ErrorTypeStore, "store.append", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) Stream(ctx context.Context) (Iterator, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, author, timestamp, text, media_refs, source_rank,
			url, media_type, hashtags, collected_at, thread_id, reply
		FROM items
		ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	return &sqliteIterator{rows: rows, source: s.path, logger: s.logger}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqliteIterator struct {
	rows   *sql.Rows
	source string
	logger logger.Logger

	item    models.Item
	err     error
	skipped int
}

func (it *sqliteIterator) Next() bool {
	for it.rows.Next() {
		var (
			seq                           int64
			item                          models.Item
			ts, media, mediaType, tags, c sql.NullString
			text, url, thread             sql.NullString
			rank                          sql.NullInt64
		)
		if err := it.rows.Scan(&seq, &item.ID, &item.Author, &ts, &text, &media, &rank,
			&url, &mediaType, &tags, &c, &thread, &item.Reply); err != nil {
			it.err = fmt.Errorf("failed to scan item: %w", err)
			return false
		}

		if err := decodeRow(&item, ts, media, tags, c); err != nil {
			logger.LogCorruption(it.logger, it.source, seq, err)
			it.skipped++
			continue
		}
		item.Text = text.String
		item.URL = url.String
		item.MediaType = models.MediaType(mediaType.String)
		item.SourceRank = int(rank.Int64)
		item.ThreadID = thread.String

		it.item = item
		return true
	}
	it.err = it.rows.Err()
	return false
}

func decodeRow(item *models.Item, ts, media, tags, collected sql.NullString) error {
	var err error
	if item.Timestamp, err = parseTime(ts.String); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if item.CollectedAt, err = parseTime(collected.String); err != nil {
		return fmt.Errorf("collected_at: %w", err)
	}
	if media.String != "" {
		if err := json.Unmarshal([]byte(media.String), &item.MediaRefs); err != nil {
			return fmt.Errorf("media_refs: %w", err)
		}
	}
	if tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &item.Hashtags); err != nil {
			return fmt.Errorf("hashtags: %w", err)
		}
	}
	return nil
}

func (it *sqliteIterator) Item() models.Item { return it.item }
func (it *sqliteIterator) Err() error        { return it.err }
func (it *sqliteIterator) Skipped() int      { return it.skipped }
func (it *sqliteIterator) Close() error      { return it.rows.Close() }

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
