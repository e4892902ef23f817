// Package replay implements a session driver that plays back a scripted
// feed. It is used by tests and by the offline "replay" driver option.
package replay

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
	errs "xscrap/pkg/errors"
	"xscrap/pkg/models"
	"xscrap/pkg/session"
)

// Script describes a feed as a sequence of pages
type Script struct {
	RejectLogin bool `yaml:"reject_login"`
	// OpenFailures is how many Open calls fail transiently before one succeeds
	OpenFailures int    `yaml:"open_failures"`
	Pages        []Page `yaml:"pages"`
}

// Page is what the feed shows at one cursor. Advance results are handed
// out in order and the last one repeats.
type Page struct {
	Cursor  string   `yaml:"cursor"`
	Items   []Item   `yaml:"items"`
	Advance []string `yaml:"advance"`
}

// Item is a scripted record
type Item struct {
	ID        string   `yaml:"id"`
	Author    string   `yaml:"author"`
	Timestamp string   `yaml:"timestamp"`
	Text      string   `yaml:"text"`
	Media     []string `yaml:"media"`
	URL       string   `yaml:"url"`
	Video     bool     `yaml:"video"`
}

func (i Item) raw() models.RawItem {
	return models.RawItem{
		ID:        i.ID,
		Author:    i.Author,
		Timestamp: i.Timestamp,
		Text:      i.Text,
		MediaURLs: append([]string(nil), i.Media...),
		URL:       i.URL,
		HasVideo:  i.Video,
	}
}

// Items builds simple scripted records for author with the given IDs
func Items(author string, ids ...string) []Item {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	items := make([]Item, len(ids))
	for i, id := range ids {
		items[i] = Item{
			ID:        id,
			Author:    author,
			Timestamp: base.Add(time.Duration(i) * time.Hour).Format(time.RFC3339),
			Text:      fmt.Sprintf("post %s by %s", id, author),
			URL:       fmt.Sprintf("https://x.com/%s/status/%s", author, id),
		}
	}
	return items
}

// Call is one recorded driver or session call
type Call struct {
	Op      string
	Subject string
	Cursor  string
	Result  string
}

// Driver plays back a Script. It is safe for concurrent use.
type Driver struct {
	script *Script

	mu           sync.Mutex
	calls        []Call
	openFailures int
}

// New creates a driver for script, validating advance result names
func New(script *Script) (*Driver, error) {
	for i, p := range script.Pages {
		for _, a := range p.Advance {
			if _, err := session.ParseAdvanceResult(a); err != nil {
				return nil, fmt.Errorf("page %d: %w", i, err)
			}
		}
	}
	return &Driver{script: script, openFailures: script.OpenFailures}, nil
}

// Parse decodes a YAML script
func Parse(data []byte) (*Script, error) {
	var script Script
	if err := yaml.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("failed to parse replay script: %w", err)
	}
	return &script, nil
}

// Load reads a YAML script from path and returns a driver for it
func Load(path string) (*Driver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read replay script: %w", err)
	}
	script, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return New(script)
}

// Calls returns a copy of every call recorded so far
func (d *Driver) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// CountCalls returns how many recorded calls have op
func (d *Driver) CountCalls(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

func (d *Driver) record(c Call) {
	d.mu.Lock()
	d.calls = append(d.calls, c)
	d.mu.Unlock()
}

func (d *Driver) Open(ctx context.Context, creds session.Credentials) (session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	failing := d.openFailures > 0
	if failing {
		d.openFailures--
	}
	d.mu.Unlock()

	switch {
	case d.script.RejectLogin:
		d.record(Call{Op: "open", Result: "rejected"})
		return nil, errs.New(errs.ErrorTypeAuth, "replay.open", "login rejected").WithSubject(creds.Login)
	case failing:
		d.record(Call{Op: "open", Result: "transient"})
		return nil, errs.New(errs.ErrorTypeTransient, "replay.open", "login page did not load")
	}

	d.record(Call{Op: "open", Result: "ok"})
	return &Session{driver: d, advanced: make(map[int]int)}, nil
}

// Session is a positioned playback of the driver's script
type Session struct {
	driver   *Driver
	subject  string
	page     int
	advanced map[int]int
	closed   bool
}

func (s *Session) pages() []Page {
	return s.driver.script.Pages
}

func (s *Session) Navigate(ctx context.Context, subject, cursor string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.driver.record(Call{Op: "navigate", Subject: subject, Cursor: cursor})
	s.subject = subject

	if cursor == "" {
		s.page = 0
		return nil
	}
	for i, p := range s.pages() {
		if p.Cursor == cursor {
			s.page = i
			return nil
		}
	}
	return errs.New(errs.ErrorTypeInvalidInput, "replay.navigate", fmt.Sprintf("unknown cursor %q", cursor))
}

func (s *Session) ExtractVisible(ctx context.Context) ([]models.RawItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.driver.record(Call{Op: "extract", Subject: s.subject, Cursor: s.Cursor()})

	if s.page >= len(s.pages()) {
		return nil, nil
	}
	items := s.pages()[s.page].Items
	raw := make([]models.RawItem, len(items))
	for i, it := range items {
		raw[i] = it.raw()
	}
	return raw, nil
}

func (s *Session) Advance(ctx context.Context) (session.AdvanceResult, error) {
	if err := ctx.Err(); err != nil {
		return session.TransientError, err
	}

	result := s.nextResult()
	if result == session.MoreContent {
		if s.page+1 < len(s.pages()) {
			s.page++
		} else {
			result = session.EndOfContent
		}
	}

	s.driver.record(Call{Op: "advance", Subject: s.subject, Cursor: s.Cursor(), Result: result.String()})
	return result, nil
}

func (s *Session) nextResult() session.AdvanceResult {
	pages := s.pages()
	if s.page >= len(pages) {
		return session.EndOfContent
	}

	script := pages[s.page].Advance
	n := s.advanced[s.page]
	s.advanced[s.page] = n + 1

	if len(script) == 0 {
		if s.page+1 < len(pages) {
			return session.MoreContent
		}
		return session.EndOfContent
	}
	if n >= len(script) {
		n = len(script) - 1
	}
	result, _ := session.ParseAdvanceResult(script[n])
	return result
}

func (s *Session) Cursor() string {
	if s.page < len(s.pages()) {
		return s.pages()[s.page].Cursor
	}
	return ""
}

func (s *Session) Close() error {
	if !s.closed {
		s.closed = true
		s.driver.record(Call{Op: "close"})
	}
	return nil
}
