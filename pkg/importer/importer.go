// Package importer loads post archives written by the earlier collectors
// into a record store.
package importer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	errs "xscrap/pkg/errors"
	"xscrap/pkg/logger"
	"xscrap/pkg/models"
)

var statusPath = regexp.MustCompile(`^/([^/]+)/status/(\d+)`)

// Appender is the part of a record store the importer writes to
type Appender interface {
	Append(ctx context.Context, item models.Item) (bool, error)
}

// Result summarises one import
type Result struct {
	Read       int
	Added      int
	Duplicates int
	// Skipped counts elements that were not usable records
	Skipped int
}

// legacyRecord covers both archive layouts: the page scraper's
// {id, date, text, tweet_url, images, video_url, media_type} and the
// timeline API's {id, created_at, full_text, user, media}. Merged archives
// nest a thread's replies under its first post in thread.
type legacyRecord struct {
	ID        flexString        `json:"id"`
	ThreadID  flexString        `json:"thread_id"`
	Thread    []json.RawMessage `json:"thread"`
	TweetURL  string            `json:"tweet_url"`
	Date      string            `json:"date"`
	CreatedAt string            `json:"created_at"`
	Text      string            `json:"text"`
	FullText  string            `json:"full_text"`
	Images    []string          `json:"images"`
	Media     []string          `json:"media"`
	VideoURL  string            `json:"video_url"`
	MediaType string            `json:"media_type"`
	User      struct {
		ScreenName string `json:"screen_name"`
	} `json:"user"`
}

// flexString accepts a JSON string or number
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id is neither string nor number: %s", b)
	}
	*f = flexString(n.String())
	return nil
}

// toRaw maps a legacy record onto the extractor's raw shape. fallbackAuthor
// is used when the record names no author.
func (r legacyRecord) toRaw(fallbackAuthor string) models.RawItem {
	id := string(r.ID)
	author := r.User.ScreenName
	link := strings.TrimSpace(r.TweetURL)

	// scraper archives number records sequentially; the permalink holds
	// the real status id
	if u, err := url.Parse(link); err == nil {
		if m := statusPath.FindStringSubmatch(u.Path); m != nil {
			if author == "" {
				author = m[1]
			}
			id = m[2]
		}
	}
	if author == "" {
		author = fallbackAuthor
	}
	if link == "" && id != "" && author != "" {
		link = fmt.Sprintf("https://x.com/%s/status/%s", author, id)
	}

	ts := r.Date
	if ts == "" {
		ts = r.CreatedAt
	}
	text := r.Text
	if text == "" {
		text = r.FullText
	}

	media := append(append([]string{}, r.Images...), r.Media...)
	if r.VideoURL != "" {
		media = append(media, r.VideoURL)
	}

	return models.RawItem{
		ID:        id,
		Author:    author,
		Timestamp: ts,
		Text:      text,
		MediaURLs: media,
		URL:       link,
		HasVideo:  r.MediaType == "video" || r.VideoURL != "",
		ThreadID:  string(r.ThreadID),
	}
}

// Importer streams archive files into a store
type Importer struct {
	dst    Appender
	author string
	logger logger.Logger
	now    func() time.Time
}

// New creates an importer appending to dst. author is the subject the
// archive belongs to, used for records that carry no author.
func New(dst Appender, author string, log logger.Logger) *Importer {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Importer{dst: dst, author: author, logger: log, now: time.Now}
}

// normalize turns rec into an item ranked after everything read so far.
// threadRoot is the id of the post rec replies to, or "" for a top-level
// element. A top-level element carrying replies roots its own thread.
func (im *Importer) normalize(rec legacyRecord, threadRoot, source string, pos int64, res *Result, now time.Time) (models.Item, bool) {
	raw := rec.toRaw(im.author)
	switch {
	case threadRoot != "":
		raw.ThreadID = threadRoot
	case raw.ThreadID == "" && len(rec.Thread) > 0:
		raw.ThreadID = raw.ID
	}

	item, err := models.NormalizeItem(raw, res.Read-1, now)
	if err != nil {
		res.Skipped++
		logger.LogCorruption(im.logger, source, pos, err)
		return models.Item{}, false
	}
	return item, true
}

func (im *Importer) store(ctx context.Context, item models.Item, res *Result) error {
	added, err := im.dst.Append(ctx, item)
	if err != nil {
		return fmt.Errorf("failed to store item %s: %w", item.ID, err)
	}
	if added {
		res.Added++
	} else {
		res.Duplicates++
	}
	return nil
}

// ImportFile imports the JSON array at path
func (im *Importer) ImportFile(ctx context.Context, path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	return im.Import(ctx, f, path)
}

// Import reads a JSON array from r one element at a time. source names r
// in log records. Elements that cannot be decoded or have no id are
// skipped; malformed JSON structure stops the import. Replies nested under
// an element are stored right after it, so the store keeps feed order with
// each thread contiguous.
func (im *Importer) Import(ctx context.Context, r io.Reader, source string) (Result, error) {
	var res Result
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err != nil {
		return res, errs.Wrap(errs.ErrorTypeInvalidInput, "import", fmt.Errorf("failed to read archive: %w", err))
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return res, errs.New(errs.ErrorTypeInvalidInput, "import", "archive is not a JSON array")
	}

	now := im.now()
	for dec.More() {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		pos := dec.InputOffset()
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return res, errs.Wrap(errs.ErrorTypeInvalidInput, "import", fmt.Errorf("malformed archive at offset %d: %w", pos, err))
		}
		res.Read++

		var rec legacyRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			res.Skipped++
			logger.LogCorruption(im.logger, source, pos, err)
			continue
		}

		// replies of an unusable root are kept as standalone posts
		rootID := ""
		if root, ok := im.normalize(rec, "", source, pos, &res, now); ok {
			if err := im.store(ctx, root, &res); err != nil {
				return res, err
			}
			rootID = root.ID
		}

		for _, rawReply := range rec.Thread {
			res.Read++
			var reply legacyRecord
			if err := json.Unmarshal(rawReply, &reply); err != nil {
				res.Skipped++
				logger.LogCorruption(im.logger, source, pos, err)
				continue
			}
			item, ok := im.normalize(reply, rootID, source, pos, &res, now)
			if !ok {
				continue
			}
			if err := im.store(ctx, item, &res); err != nil {
				return res, err
			}
		}
	}

	if _, err := dec.Token(); err != nil {
		return res, errs.Wrap(errs.ErrorTypeInvalidInput, "import", fmt.Errorf("unterminated archive: %w", err))
	}

	im.logger.InfoWithFields("Archive imported", map[string]interface{}{
		"source":     source,
		"read":       res.Read,
		"added":      res.Added,
		"duplicates": res.Duplicates,
		"skipped":    res.Skipped,
	})
	return res, nil
}
