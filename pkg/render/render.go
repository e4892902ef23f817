package render

import (
	"context"
	"fmt"

	"xscrap/pkg/logger"
	"xscrap/pkg/store"
)

// Options controls block layout
type Options struct {
	IncludeMediaLinks bool
	// BlockSpacing is the gap holding the divider between items
	BlockSpacing float64
	// ReplyIndent is how far a reply is inset under the post it follows
	ReplyIndent float64
	TimeLayout  string
	Logger      logger.Logger
}

// DefaultOptions returns the standard layout
func DefaultOptions() Options {
	return Options{
		IncludeMediaLinks: true,
		BlockSpacing:      18,
		ReplyIndent:       24,
		TimeLayout:        "2006-01-02 15:04 UTC",
	}
}

// Stats summarises a render
type Stats struct {
	Items        int
	Placeholders int
	Pages        int
	// Skipped counts persisted records the iterator could not decode
	Skipped int
	// Oversized counts blocks taller than a page
	Oversized int
}

// pageCursor tracks the current page and the vertical space left on it
type pageCursor struct {
	canvas     Canvas
	pageHeight float64
	remaining  float64
	pages      int
	indent     float64
}

func (c *pageCursor) newPage() error {
	if err := c.canvas.StartPage(); err != nil {
		return fmt.Errorf("failed to start page: %w", err)
	}
	c.pages++
	c.remaining = c.pageHeight
	return nil
}

// place writes b, starting a new page first when it does not fit. A block
// taller than a page is written line by line across pages.
func (c *pageCursor) place(b *block) (oversized bool, err error) {
	h := b.height()
	if c.pages == 0 || h > c.remaining {
		if err := c.newPage(); err != nil {
			return false, err
		}
	}
	if b.indent != c.indent {
		if err := c.canvas.SetIndent(b.indent); err != nil {
			return false, fmt.Errorf("failed to indent block: %w", err)
		}
		c.indent = b.indent
	}

	if h <= c.remaining {
		for _, s := range b.segments {
			if err := c.write(s); err != nil {
				return false, err
			}
		}
		return false, nil
	}

	for _, s := range b.segments {
		if err := c.writeSplit(s); err != nil {
			return true, err
		}
	}
	return true, nil
}

func (c *pageCursor) write(s segment) error {
	var err error
	switch s.kind {
	case segText:
		err = c.canvas.WriteLines(s.style, s.lines)
	case segLink:
		err = c.canvas.WriteLink(s.style, s.label, s.url)
	case segSpace:
		err = c.canvas.Space(s.height)
	case segDivider:
		err = c.canvas.Divider(s.height)
	}
	c.remaining -= s.height
	return err
}

// writeSplit writes s one line at a time, breaking pages between lines.
// Gaps that do not fit are dropped at the page boundary.
func (c *pageCursor) writeSplit(s segment) error {
	if s.kind != segText {
		if s.height <= c.remaining {
			return c.write(s)
		}
		if err := c.newPage(); err != nil {
			return err
		}
		if s.kind == segLink {
			return c.write(s)
		}
		return nil
	}

	lh := s.height / float64(len(s.lines))
	for _, line := range s.lines {
		if lh > c.remaining {
			if err := c.newPage(); err != nil {
				return err
			}
		}
		if err := c.write(segment{kind: segText, style: s.style, lines: []string{line}, height: lh}); err != nil {
			return err
		}
	}
	return nil
}

// Render writes every item from items onto canvas in iterator order and
// finalizes the document. Only the block being placed is held in memory.
// A document with no items still has one page.
func Render(ctx context.Context, items store.Iterator, canvas Canvas, opts Options) (Stats, error) {
	var stats Stats
	if opts.TimeLayout == "" {
		opts.TimeLayout = DefaultOptions().TimeLayout
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	width, height := canvas.ContentSize()
	if width <= 0 || height <= 0 {
		return stats, fmt.Errorf("canvas has no usable area (%.1f x %.1f)", width, height)
	}

	if opts.ReplyIndent < 0 || opts.ReplyIndent > width/2 {
		opts.ReplyIndent = 0
	}

	builder := &blockBuilder{canvas: canvas, width: width, opts: opts}
	cursor := &pageCursor{canvas: canvas, pageHeight: height}

	for items.Next() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		item := items.Item()
		b := builder.build(item)
		if b.placeholder {
			stats.Placeholders++
			log.WarnWithFields("Rendering placeholder for malformed item", map[string]interface{}{
				"item_id": item.ID,
			})
		}

		oversized, err := cursor.place(b)
		if err != nil {
			return stats, fmt.Errorf("failed to place item %s: %w", item.ID, err)
		}
		if oversized {
			stats.Oversized++
		}
		stats.Items++
	}
	if err := items.Err(); err != nil {
		return stats, fmt.Errorf("failed to read items: %w", err)
	}

	if cursor.pages == 0 {
		if err := cursor.newPage(); err != nil {
			return stats, err
		}
	}
	stats.Pages = cursor.pages
	stats.Skipped = items.Skipped()

	if err := canvas.Finalize(); err != nil {
		return stats, fmt.Errorf("failed to finalize document: %w", err)
	}

	log.InfoWithFields("Document rendered", map[string]interface{}{
		"items":        stats.Items,
		"pages":        stats.Pages,
		"placeholders": stats.Placeholders,
		"skipped":      stats.Skipped,
	})
	return stats, nil
}
