package models

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// MediaType classifies the attachments of an item
type MediaType string

const (
	MediaTypeText  MediaType = "text"
	MediaTypeImage MediaType = "image"
	MediaTypeVideo MediaType = "video"
)

// Item is one collected post. ID is the source-assigned key and is unique
// across the whole record store. Posts of a thread share ThreadID, the id of
// the thread's first post; Reply marks every post of the thread but that one.
type Item struct {
	ID          string    `json:"id"`
	Author      string    `json:"author"`
	Timestamp   time.Time `json:"timestamp"`
	Text        string    `json:"text"`
	MediaRefs   []string  `json:"media_refs,omitempty"`
	SourceRank  int       `json:"source_rank"`
	URL         string    `json:"url,omitempty"`
	MediaType   MediaType `json:"media_type,omitempty"`
	Hashtags    []string  `json:"hashtags,omitempty"`
	CollectedAt time.Time `json:"collected_at,omitempty"`
	ThreadID    string    `json:"thread_id,omitempty"`
	Reply       bool      `json:"reply,omitempty"`
}

// RawItem is a record as extracted from the page, before normalisation
type RawItem struct {
	ID        string   `json:"id"`
	Author    string   `json:"author"`
	Timestamp string   `json:"timestamp"`
	Text      string   `json:"text"`
	MediaURLs []string `json:"media_urls"`
	URL       string   `json:"url"`
	HasVideo  bool     `json:"has_video"`
	ThreadID  string   `json:"thread_id,omitempty"`
}

var (
	ErrMissingID     = errors.New("item has no id")
	hashtagPattern   = regexp.MustCompile(`#\w+`)
	timestampLayouts = []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
		"Mon Jan 02 15:04:05 -0700 2006",
		"2006-01-02",
	}
)

// NormalizeItem converts a raw record into an Item. rank is the record's
// position in the feed and collectedAt stamps when it was seen. A record
// with an unparseable timestamp is kept with a zero Timestamp so it can be
// rendered as a placeholder later.
func NormalizeItem(raw RawItem, rank int, collectedAt time.Time) (Item, error) {
	id := strings.TrimSpace(raw.ID)
	if id == "" {
		return Item{}, ErrMissingID
	}

	ts, _ := ParseTimestamp(raw.Timestamp)

	media := make([]string, 0, len(raw.MediaURLs))
	for _, m := range raw.MediaURLs {
		if m = strings.TrimSpace(m); m != "" {
			media = append(media, m)
		}
	}

	threadID := strings.TrimSpace(raw.ThreadID)

	mediaType := MediaTypeText
	switch {
	case raw.HasVideo:
		mediaType = MediaTypeVideo
	case len(media) > 0:
		mediaType = MediaTypeImage
	}

	return Item{
		ID:          id,
		Author:      strings.TrimPrefix(strings.TrimSpace(raw.Author), "@"),
		Timestamp:   ts,
		Text:        raw.Text,
		MediaRefs:   media,
		SourceRank:  rank,
		URL:         raw.URL,
		MediaType:   mediaType,
		Hashtags:    ExtractHashtags(raw.Text),
		CollectedAt: collectedAt.UTC(),
		ThreadID:    threadID,
		Reply:       threadID != "" && threadID != id,
	}, nil
}

// ParseTimestamp accepts the timestamp layouts seen in page markup and
// legacy exports
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// ExtractHashtags returns the distinct #tags in text, in order of appearance
func ExtractHashtags(text string) []string {
	matches := hashtagPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	tags := make([]string, 0, len(matches))
	for _, m := range matches {
		if !seen[m] {
			seen[m] = true
			tags = append(tags, m)
		}
	}
	return tags
}

// Validate reports defects that keep an item from being laid out normally
func (it Item) Validate() error {
	var errs []error
	if it.ID == "" {
		errs = append(errs, ErrMissingID)
	}
	if strings.TrimSpace(it.Author) == "" {
		errs = append(errs, errors.New("missing author"))
	}
	if it.Timestamp.IsZero() {
		errs = append(errs, errors.New("missing timestamp"))
	}
	for _, ref := range it.MediaRefs {
		u, err := url.Parse(ref)
		if err != nil || !u.IsAbs() {
			errs = append(errs, fmt.Errorf("invalid media reference %q", ref))
		}
	}
	return errors.Join(errs...)
}
