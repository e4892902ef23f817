package pdf

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xscrap/pkg/config"
	"xscrap/pkg/models"
	"xscrap/pkg/render"
	"xscrap/pkg/store"
)

func testItems(n int) []models.Item {
	items := make([]models.Item, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, models.Item{
			ID:        fmt.Sprint(i),
			Author:    "alice",
			Timestamp: time.Date(2024, 1, 1, i%24, 0, 0, 0, time.UTC),
			Text:      "Café déjà vu — a post with some words\n\nand a second paragraph",
			MediaRefs: []string{"https://pbs.example/media/" + fmt.Sprint(i) + ".jpg"},
			MediaType: models.MediaTypeImage,
			URL:       "https://x.com/alice/status/" + fmt.Sprint(i),
		})
	}
	return items
}

func TestRenderWritesPDF(t *testing.T) {
	var buf bytes.Buffer
	canvas, err := New(&buf, config.DefaultConfig().Render, "alice")
	require.NoError(t, err)

	stats, err := render.Render(context.Background(), store.NewSliceIterator(testItems(40)), canvas, render.DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, 40, stats.Items)
	assert.Greater(t, stats.Pages, 1)
	assert.Equal(t, stats.Pages, canvas.Pages())
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
}

func TestEmptyDocument(t *testing.T) {
	var buf bytes.Buffer
	canvas, err := New(&buf, config.DefaultConfig().Render, "nobody")
	require.NoError(t, err)

	stats, err := render.Render(context.Background(), store.NewSliceIterator(nil), canvas, render.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pages)
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
}

func TestRenderThreadWithIndentedReplies(t *testing.T) {
	items := testItems(6)
	for i := range items {
		items[i].ThreadID = "0"
		items[i].Reply = i > 0
	}

	var buf bytes.Buffer
	canvas, err := New(&buf, config.DefaultConfig().Render, "alice")
	require.NoError(t, err)

	stats, err := render.Render(context.Background(), store.NewSliceIterator(items), canvas, render.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 6, stats.Items)
	assert.Zero(t, stats.Placeholders)
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
}

func TestSetIndentBounds(t *testing.T) {
	canvas, err := New(&bytes.Buffer{}, config.DefaultConfig().Render, "x")
	require.NoError(t, err)

	w, _ := canvas.ContentSize()
	assert.NoError(t, canvas.SetIndent(24))
	assert.Error(t, canvas.SetIndent(-1))
	assert.Error(t, canvas.SetIndent(w))
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := config.DefaultConfig().Render
	cfg.PageSize = "B7"
	_, err := New(&bytes.Buffer{}, cfg, "x")
	assert.Error(t, err)

	cfg = config.DefaultConfig().Render
	cfg.FontFile = "/nonexistent/font.ttf"
	_, err = New(&bytes.Buffer{}, cfg, "x")
	assert.Error(t, err)
}

func TestSplitLinesFitsWidth(t *testing.T) {
	canvas, err := New(&bytes.Buffer{}, config.DefaultConfig().Render, "x")
	require.NoError(t, err)

	text := strings.Repeat("lorem ipsum dolor ", 30) + strings.Repeat("y", 300)
	lines := canvas.SplitLines(render.StyleBody, text, 200)
	require.Greater(t, len(lines), 5)
	for _, l := range lines {
		assert.LessOrEqual(t, canvas.width(l), 200.0, "line %q", l)
	}
	joined := strings.ReplaceAll(strings.Join(lines, ""), " ", "")
	assert.Equal(t, strings.ReplaceAll(text, " ", ""), joined)

	assert.Equal(t, []string{""}, canvas.SplitLines(render.StyleBody, "", 200))
}

func TestFitTruncatesLongLabels(t *testing.T) {
	canvas, err := New(&bytes.Buffer{}, config.DefaultConfig().Render, "x")
	require.NoError(t, err)

	label := "View original: https://x.com/" + strings.Repeat("a", 200)
	got := canvas.fit(label, 150)
	assert.True(t, strings.HasSuffix(got, "…"))
	assert.LessOrEqual(t, canvas.width(got), 150.0)
	assert.Equal(t, "short", canvas.fit("short", 150))
}

func TestContentSize(t *testing.T) {
	canvas, err := New(&bytes.Buffer{}, config.RenderConfig{PageSize: "A4", MarginPt: 36}, "x")
	require.NoError(t, err)
	w, h := canvas.ContentSize()
	assert.InDelta(t, 595.28-72, w, 0.5)
	assert.InDelta(t, 841.89-72, h, 0.5)
}
