package render

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"xscrap/pkg/models"
)

const maxLinkRunes = 96

type segmentKind int

const (
	segText segmentKind = iota
	segLink
	segSpace
	segDivider
)

// segment is one measured piece of a block
type segment struct {
	kind   segmentKind
	style  Style
	lines  []string
	label  string
	url    string
	height float64
}

// block is the fixed layout of one item, measured but not yet placed
type block struct {
	id          string
	segments    []segment
	placeholder bool
	// indent insets a reply under the post before it
	indent float64
}

func (b *block) height() float64 {
	total := 0.0
	for _, s := range b.segments {
		total += s.height
	}
	return total
}

type blockBuilder struct {
	canvas Canvas
	width  float64
	opts   Options
	// thread is the thread of the last block built, "" outside one
	thread string
}

func (bb *blockBuilder) text(b *block, style Style, text string) {
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		lines = append(lines, bb.canvas.SplitLines(style, l, bb.width-b.indent)...)
	}
	if len(lines) == 0 {
		return
	}
	b.segments = append(b.segments, segment{
		kind:   segText,
		style:  style,
		lines:  lines,
		height: float64(len(lines)) * bb.canvas.LineHeight(style),
	})
}

func (bb *blockBuilder) link(b *block, label, url string) {
	b.segments = append(b.segments, segment{
		kind:   segLink,
		style:  StyleLink,
		label:  truncate(label, maxLinkRunes),
		url:    url,
		height: bb.canvas.LineHeight(StyleLink),
	})
}

func (bb *blockBuilder) space(b *block, h float64) {
	if h > 0 {
		b.segments = append(b.segments, segment{kind: segSpace, height: h})
	}
}

func (bb *blockBuilder) divider(b *block) {
	b.segments = append(b.segments, segment{kind: segDivider, height: bb.opts.BlockSpacing})
}

// follows reports whether item continues the thread of the previous block,
// and records item's thread for the next call
func (bb *blockBuilder) follows(item models.Item) bool {
	continues := item.Reply && item.ThreadID != "" && item.ThreadID == bb.thread
	bb.thread = item.ThreadID
	return continues
}

// build lays out an item: header, body paragraphs, media links, permalink
// and a trailing divider. A reply right after its thread's earlier posts is
// inset by ReplyIndent.
func (bb *blockBuilder) build(item models.Item) *block {
	b := &block{id: item.ID}
	if bb.follows(item) {
		b.indent = bb.opts.ReplyIndent
	}

	if err := item.Validate(); err != nil {
		return bb.placeholder(b, item, err)
	}

	header := "@" + item.Author + "  ·  " + item.Timestamp.UTC().Format(bb.opts.TimeLayout)
	bb.text(b, StyleMeta, header)
	if len(item.Hashtags) > 0 {
		bb.text(b, StyleMeta, strings.Join(item.Hashtags, " "))
	}
	bb.space(b, bb.canvas.LineHeight(StyleBody)/3)

	for i, para := range Paragraphs(item.Text) {
		if i > 0 {
			bb.space(b, bb.canvas.LineHeight(StyleBody)/2)
		}
		bb.text(b, StyleBody, para)
	}

	if bb.opts.IncludeMediaLinks && len(item.MediaRefs) > 0 {
		bb.space(b, bb.canvas.LineHeight(StyleBody)/3)
		for i, ref := range item.MediaRefs {
			bb.link(b, fmt.Sprintf("%s %d: %s", mediaLabel(item.MediaType), i+1, ref), ref)
		}
	}

	if item.URL != "" {
		bb.link(b, "View original: "+item.URL, item.URL)
	}

	bb.divider(b)
	return b
}

// placeholder stands in for an item that cannot be laid out
func (bb *blockBuilder) placeholder(b *block, item models.Item, defect error) *block {
	b.placeholder = true
	id := item.ID
	if id == "" {
		id = "(no id)"
	}
	msg := strings.ReplaceAll(defect.Error(), "\n", "; ")
	bb.text(b, StyleNotice, fmt.Sprintf("Item %s could not be rendered: %s", id, msg))
	bb.divider(b)
	return b
}

// Paragraphs splits text on blank lines, dropping empty paragraphs
func Paragraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	var cur []string
	flush := func() {
		if p := strings.TrimSpace(strings.Join(cur, "\n")); p != "" {
			out = append(out, p)
		}
		cur = cur[:0]
	}
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		cur = append(cur, line)
	}
	flush()
	return out
}

func mediaLabel(t models.MediaType) string {
	if t == models.MediaTypeVideo {
		return "Video"
	}
	return "Image"
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
