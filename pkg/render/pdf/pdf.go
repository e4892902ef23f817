// Package pdf implements render.Canvas on top of go-pdf/fpdf.
package pdf

import (
	"fmt"
	"io"
	"strings"

	"github.com/go-pdf/fpdf"

	"xscrap/pkg/config"
	"xscrap/pkg/render"
)

const (
	utf8Family   = "xscrap-text"
	coreFamily   = "Helvetica"
	lineSpacing  = 1.3
	footerOffset = 0.6
)

var pageSizes = map[string]bool{
	"A3": true, "A4": true, "A5": true, "Letter": true, "Legal": true, "Tabloid": true,
}

type styleSpec struct {
	fontStyle string
	delta     float64
	r, g, b   int
}

// Canvas draws onto a PDF document that is written out on Finalize
type Canvas struct {
	doc    *fpdf.Fpdf
	out    io.Writer
	margin float64
	indent float64
	size   float64
	family string
	utf8   bool
	tr     func(string) string
	styles map[render.Style]styleSpec
}

// New creates a PDF canvas writing to w. title is stored in the document
// metadata.
func New(w io.Writer, cfg config.RenderConfig, title string) (*Canvas, error) {
	size := cfg.PageSize
	if size == "" {
		size = "A4"
	}
	if !pageSizes[size] {
		return nil, fmt.Errorf("unsupported page size %q", size)
	}
	margin := cfg.MarginPt
	if margin <= 0 {
		margin = 36
	}
	fontSize := cfg.FontSize
	if fontSize <= 0 {
		fontSize = 11
	}

	doc := fpdf.New("P", "pt", size, "")
	doc.SetMargins(margin, margin, margin)
	doc.SetAutoPageBreak(false, margin)
	doc.SetCellMargin(0)
	doc.SetTitle(title, true)
	doc.SetCreator("xscrap", true)

	c := &Canvas{
		doc:    doc,
		out:    w,
		margin: margin,
		size:   fontSize,
		family: coreFamily,
	}

	if cfg.FontFile != "" {
		doc.AddUTF8Font(utf8Family, "", cfg.FontFile)
		c.family = utf8Family
		c.utf8 = true
		c.tr = func(s string) string { return s }
		// only the regular face is registered
		c.styles = map[render.Style]styleSpec{
			render.StyleMeta:   {"", -1, 90, 90, 90},
			render.StyleBody:   {"", 0, 20, 20, 20},
			render.StyleLink:   {"U", -1, 29, 78, 216},
			render.StyleNotice: {"", -1, 180, 40, 40},
		}
	} else {
		c.tr = doc.UnicodeTranslatorFromDescriptor("")
		c.styles = map[render.Style]styleSpec{
			render.StyleMeta:   {"B", -1, 90, 90, 90},
			render.StyleBody:   {"", 0, 20, 20, 20},
			render.StyleLink:   {"U", -1, 29, 78, 216},
			render.StyleNotice: {"I", -1, 180, 40, 40},
		}
	}

	doc.SetFooterFunc(func() {
		doc.SetY(-margin * footerOffset)
		c.setStyle(render.StyleMeta)
		doc.CellFormat(0, 10, fmt.Sprintf("Page %d", doc.PageNo()), "", 0, "C", false, 0, "")
	})

	if err := doc.Error(); err != nil {
		return nil, fmt.Errorf("failed to set up pdf document: %w", err)
	}
	return c, nil
}

func (c *Canvas) setStyle(s render.Style) {
	spec := c.styles[s]
	c.doc.SetFont(c.family, spec.fontStyle, c.size+spec.delta)
	c.doc.SetTextColor(spec.r, spec.g, spec.b)
}

func (c *Canvas) ContentSize() (float64, float64) {
	w, h := c.doc.GetPageSize()
	return w - 2*c.margin, h - 2*c.margin
}

func (c *Canvas) StartPage() error {
	c.doc.AddPage()
	c.doc.SetXY(c.margin, c.margin)
	return c.doc.Error()
}

// Pages returns the number of pages started so far
func (c *Canvas) Pages() int {
	return c.doc.PageCount()
}

func (c *Canvas) LineHeight(s render.Style) float64 {
	return (c.size + c.styles[s].delta) * lineSpacing
}

// SplitLines wraps on spaces, breaking words that are wider than a line
func (c *Canvas) SplitLines(s render.Style, text string, width float64) []string {
	c.setStyle(s)
	text = strings.TrimRight(text, " \t")
	if text == "" {
		return []string{""}
	}

	var lines []string
	var cur string
	for _, word := range strings.Fields(text) {
		candidate := word
		if cur != "" {
			candidate = cur + " " + word
		}
		if c.width(candidate) <= width {
			cur = candidate
			continue
		}
		if cur != "" {
			lines = append(lines, cur)
			cur = ""
		}
		for c.width(word) > width {
			head, tail := c.breakWord(word, width)
			lines = append(lines, head)
			word = tail
		}
		cur = word
	}
	if cur != "" {
		lines = append(lines, cur)
	}
	return lines
}

func (c *Canvas) width(s string) float64 {
	return c.doc.GetStringWidth(c.tr(s))
}

// breakWord returns the longest prefix of word that fits in width, at least
// one rune, and the remainder
func (c *Canvas) breakWord(word string, width float64) (string, string) {
	r := []rune(word)
	n := 1
	for n < len(r) && c.width(string(r[:n+1])) <= width {
		n++
	}
	return string(r[:n]), string(r[n:])
}

// lineWidth is the width left of the content area after the indent
func (c *Canvas) lineWidth() float64 {
	w, _ := c.ContentSize()
	return w - c.indent
}

func (c *Canvas) WriteLines(s render.Style, lines []string) error {
	c.setStyle(s)
	w := c.lineWidth()
	lh := c.LineHeight(s)
	for _, line := range lines {
		c.doc.SetX(c.margin + c.indent)
		c.doc.CellFormat(w, lh, c.tr(line), "", 1, "L", false, 0, "")
	}
	return c.doc.Error()
}

func (c *Canvas) WriteLink(s render.Style, label, url string) error {
	c.setStyle(s)
	w := c.lineWidth()
	label = c.fit(label, w)
	c.doc.SetX(c.margin + c.indent)
	c.doc.CellFormat(w, c.LineHeight(s), c.tr(label), "", 1, "L", false, 0, url)
	return c.doc.Error()
}

// fit shortens label with an ellipsis until it fits in width
func (c *Canvas) fit(label string, width float64) string {
	if c.width(label) <= width {
		return label
	}
	r := []rune(label)
	for len(r) > 1 && c.width(string(r)+"…") > width {
		r = r[:len(r)-1]
	}
	return string(r) + "…"
}

func (c *Canvas) Space(h float64) error {
	c.doc.Ln(h)
	return c.doc.Error()
}

func (c *Canvas) SetIndent(x float64) error {
	w, _ := c.ContentSize()
	if x < 0 || x >= w {
		return fmt.Errorf("indent %.1f outside content width %.1f", x, w)
	}
	c.indent = x
	return nil
}

func (c *Canvas) Divider(h float64) error {
	w, _ := c.ContentSize()
	y := c.doc.GetY() + h/2
	c.doc.SetDrawColor(200, 200, 200)
	c.doc.SetLineWidth(0.5)
	c.doc.Line(c.margin+c.indent, y, c.margin+w, y)
	c.doc.Ln(h)
	return c.doc.Error()
}

// Finalize writes the finished document to the underlying writer
func (c *Canvas) Finalize() error {
	if err := c.doc.Error(); err != nil {
		return err
	}
	return c.doc.Output(c.out)
}
