package render

// Style selects the typography of a run of text
type Style int

const (
	StyleMeta Style = iota
	StyleBody
	StyleLink
	StyleNotice
)

func (s Style) String() string {
	switch s {
	case StyleMeta:
		return "meta"
	case StyleBody:
		return "body"
	case StyleLink:
		return "link"
	case StyleNotice:
		return "notice"
	default:
		return "unknown"
	}
}

// Canvas is the drawing surface the renderer lays blocks onto. Positions
// are implicit: every write advances the canvas by the height it reports
// through LineHeight, so the renderer can measure a block before placing it.
type Canvas interface {
	// ContentSize is the usable width and height of one page
	ContentSize() (width, height float64)

	StartPage() error

	LineHeight(style Style) float64

	// SplitLines wraps text so no line exceeds width
	SplitLines(style Style, text string, width float64) []string

	// WriteLines advances by len(lines) * LineHeight(style)
	WriteLines(style Style, lines []string) error

	// WriteLink writes one line of label pointing at url
	WriteLink(style Style, label, url string) error

	Space(height float64) error

	// SetIndent shifts the left edge of later writes right by x, until the
	// next call
	SetIndent(x float64) error

	// Divider draws a rule centred in a gap of height
	Divider(height float64) error

	// Finalize completes the document
	Finalize() error
}
