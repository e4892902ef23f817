package browser

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	errs "xscrap/pkg/errors"
)

const (
	cursorPrefix = "window:"
	dateLayout   = "2006-01-02"
)

// searchFloor is the earliest date worth searching; nothing was posted before it
var searchFloor = time.Date(2006, 1, 1, 0, 0, 0, 0, time.UTC)

// window is a half-open date range [Since, Until) searched in one pass
type window struct {
	Since time.Time
	Until time.Time
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// newestWindow covers the days days ending tomorrow, so today is included
func newestWindow(now time.Time, days int) window {
	until := truncateDay(now).AddDate(0, 0, 1)
	return window{Since: until.AddDate(0, 0, -days), Until: until}.clamp()
}

// older returns the adjacent window immediately before w
func (w window) older(days int) window {
	return window{Since: w.Since.AddDate(0, 0, -days), Until: w.Since}.clamp()
}

func (w window) clamp() window {
	if w.Since.Before(searchFloor) {
		w.Since = searchFloor
	}
	return w
}

// exhausted reports whether the window lies entirely before the floor
func (w window) exhausted() bool {
	return !w.Until.After(searchFloor)
}

func (w window) cursor() string {
	return cursorPrefix + w.Since.Format(dateLayout) + ":" + w.Until.Format(dateLayout)
}

func parseCursor(cursor string) (window, error) {
	invalid := func(msg string) error {
		return errs.New(errs.ErrorTypeInvalidInput, "browser.cursor", fmt.Sprintf("%s: %q", msg, cursor))
	}

	rest, ok := strings.CutPrefix(cursor, cursorPrefix)
	if !ok {
		return window{}, invalid("unrecognised cursor")
	}
	sinceStr, untilStr, ok := strings.Cut(rest, ":")
	if !ok {
		return window{}, invalid("malformed cursor")
	}

	since, err := time.Parse(dateLayout, sinceStr)
	if err != nil {
		return window{}, invalid("bad since date")
	}
	until, err := time.Parse(dateLayout, untilStr)
	if err != nil {
		return window{}, invalid("bad until date")
	}
	if !since.Before(until) {
		return window{}, invalid("empty window")
	}
	return window{Since: since, Until: until}, nil
}

// searchURL builds the live search for subject's posts inside w
func searchURL(baseURL, subject string, w window) string {
	query := fmt.Sprintf("from:%s since:%s until:%s",
		strings.TrimPrefix(subject, "@"), w.Since.Format(dateLayout), w.Until.Format(dateLayout))

	values := url.Values{}
	values.Set("q", query)
	values.Set("src", "typed_query")
	values.Set("f", "live")
	return strings.TrimRight(baseURL, "/") + "/search?" + values.Encode()
}
