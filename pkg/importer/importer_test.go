package importer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "xscrap/pkg/errors"
	"xscrap/pkg/logger"
	"xscrap/pkg/models"
	"xscrap/pkg/store"
)

type memStore struct {
	items []models.Item
	ids   map[string]bool
}

func newMemStore() *memStore { return &memStore{ids: map[string]bool{}} }

func (m *memStore) Append(_ context.Context, item models.Item) (bool, error) {
	if m.ids[item.ID] {
		return false, nil
	}
	m.ids[item.ID] = true
	m.items = append(m.items, item)
	return true, nil
}

const scraperArchive = `[
  {"id": 1, "date": "2024-05-01T10:00:00.000Z", "text": "first #go",
   "tweet_url": "https://x.com/alice/status/1001", "media_type": "image",
   "images": ["https://pbs.example/a.jpg"], "video_url": null, "hashtags": ["#go"]},
  {"id": 2, "date": "2024-05-02T10:00:00.000Z", "text": "clip",
   "tweet_url": "https://x.com/alice/status/1002", "media_type": "video",
   "images": [], "video_url": "https://video.example/v.mp4"}
]`

const apiArchive = `[
  {"id": "1790000000000000001", "created_at": "Wed May 01 10:00:00 +0000 2024",
   "full_text": "from the api", "user": {"screen_name": "bob"},
   "media": ["https://pbs.example/b.jpg"], "lang": "en"},
  {"id": 1790000000000000002, "created_at": "Thu May 02 10:00:00 +0000 2024",
   "full_text": "numeric id", "user": {"screen_name": "bob"}}
]`

func TestImportScraperArchive(t *testing.T) {
	dst := newMemStore()
	im := New(dst, "alice", nil)

	res, err := im.Import(context.Background(), strings.NewReader(scraperArchive), "scrape.json")
	require.NoError(t, err)
	assert.Equal(t, Result{Read: 2, Added: 2}, res)

	require.Len(t, dst.items, 2)
	first := dst.items[0]
	assert.Equal(t, "1001", first.ID)
	assert.Equal(t, "alice", first.Author)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), first.Timestamp)
	assert.Equal(t, []string{"https://pbs.example/a.jpg"}, first.MediaRefs)
	assert.Equal(t, models.MediaTypeImage, first.MediaType)
	assert.Equal(t, []string{"#go"}, first.Hashtags)

	second := dst.items[1]
	assert.Equal(t, "1002", second.ID)
	assert.Equal(t, models.MediaTypeVideo, second.MediaType)
	assert.Equal(t, []string{"https://video.example/v.mp4"}, second.MediaRefs)
}

func TestImportAPIArchive(t *testing.T) {
	dst := newMemStore()
	im := New(dst, "fallback", nil)

	res, err := im.Import(context.Background(), strings.NewReader(apiArchive), "api.json")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Added)

	require.Len(t, dst.items, 2)
	assert.Equal(t, "1790000000000000001", dst.items[0].ID)
	assert.Equal(t, "bob", dst.items[0].Author)
	assert.Equal(t, "from the api", dst.items[0].Text)
	assert.Equal(t, "https://x.com/bob/status/1790000000000000001", dst.items[0].URL)
	assert.Equal(t, "1790000000000000002", dst.items[1].ID)
	assert.Equal(t, 2024, dst.items[1].Timestamp.Year())
}

func TestImportSkipsUnusableElements(t *testing.T) {
	dst := newMemStore()
	log := logger.NewTestLogger()
	im := New(dst, "alice", log)

	archive := `[
	  {"id": "1", "date": "2024-01-01", "text": "ok"},
	  "not an object",
	  {"id": {"nested": true}},
	  {"text": "no id at all"},
	  {"id": "2", "date": "2024-01-02", "text": "also ok"}
	]`
	res, err := im.Import(context.Background(), strings.NewReader(archive), "mixed.json")
	require.NoError(t, err)

	assert.Equal(t, 5, res.Read)
	assert.Equal(t, 2, res.Added)
	assert.Equal(t, 3, res.Skipped)
	assert.Len(t, log.CorruptRecords(), 3)
	assert.Equal(t, "alice", dst.items[0].Author)
}

func TestImportCountsDuplicates(t *testing.T) {
	dst := newMemStore()
	im := New(dst, "alice", nil)

	_, err := im.Import(context.Background(), strings.NewReader(scraperArchive), "a.json")
	require.NoError(t, err)
	res, err := im.Import(context.Background(), strings.NewReader(scraperArchive), "a.json")
	require.NoError(t, err)

	assert.Equal(t, 0, res.Added)
	assert.Equal(t, 2, res.Duplicates)
	assert.Len(t, dst.items, 2)
}

const threadedArchive = `[
  {"id": "300", "created_at": "Mon Mar 04 10:00:00 +0000 2024", "full_text": "newest standalone"},
  {"id": "200", "thread_id": "200", "created_at": "Sun Mar 03 09:00:00 +0000 2024", "full_text": "1/ a thread",
   "thread": [
     {"id": "201", "thread_id": "200", "created_at": "Sun Mar 03 09:01:00 +0000 2024", "full_text": "2/ second"},
     {"id": "202", "created_at": "Sun Mar 03 09:02:00 +0000 2024", "full_text": "3/ third"}
   ]},
  {"id": "100", "created_at": "Sat Mar 02 08:00:00 +0000 2024", "full_text": "older standalone"}
]`

func TestImportFlattensThreadsInFeedOrder(t *testing.T) {
	dst := newMemStore()
	im := New(dst, "alice", nil)

	res, err := im.Import(context.Background(), strings.NewReader(threadedArchive), "mega.json")
	require.NoError(t, err)
	assert.Equal(t, 5, res.Read)
	assert.Equal(t, 5, res.Added)

	var ids []string
	for _, it := range dst.items {
		ids = append(ids, it.ID)
	}
	assert.Equal(t, []string{"300", "200", "201", "202", "100"}, ids)

	byID := map[string]models.Item{}
	for _, it := range dst.items {
		byID[it.ID] = it
	}
	assert.Empty(t, byID["300"].ThreadID)
	assert.False(t, byID["300"].Reply)

	assert.Equal(t, "200", byID["200"].ThreadID)
	assert.False(t, byID["200"].Reply)

	for _, id := range []string{"201", "202"} {
		assert.Equal(t, "200", byID[id].ThreadID, id)
		assert.True(t, byID[id].Reply, id)
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, []int{
		byID["300"].SourceRank, byID["200"].SourceRank, byID["201"].SourceRank,
		byID["202"].SourceRank, byID["100"].SourceRank,
	})
}

func TestImportKeepsRepliesOfUnusableRoot(t *testing.T) {
	dst := newMemStore()
	log := logger.NewTestLogger()
	im := New(dst, "alice", log)

	archive := `[{"text": "root lost its id", "thread": [
	  {"id": "11", "thread_id": "10", "date": "2024-01-01", "text": "reply"},
	  "garbage"
	]}]`
	res, err := im.Import(context.Background(), strings.NewReader(archive), "orphans.json")
	require.NoError(t, err)

	assert.Equal(t, 3, res.Read)
	assert.Equal(t, 1, res.Added)
	assert.Equal(t, 2, res.Skipped)
	assert.Len(t, log.CorruptRecords(), 2)

	require.Len(t, dst.items, 1)
	assert.Equal(t, "10", dst.items[0].ThreadID)
	assert.True(t, dst.items[0].Reply)
}

func TestImportRejectsMalformedArchives(t *testing.T) {
	tests := []struct {
		name    string
		archive string
	}{
		{"empty", ""},
		{"object", `{"id": "1"}`},
		{"truncated", `[{"id": "1", "text": "ok"}, {"id": `},
		{"unterminated", `[{"id": "1", "text": "ok"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			im := New(newMemStore(), "alice", nil)
			_, err := im.Import(context.Background(), strings.NewReader(tt.archive), tt.name)
			require.Error(t, err)
			assert.Equal(t, errs.ErrorTypeInvalidInput, errs.TypeOf(err))
		})
	}
}

func TestImportCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(newMemStore(), "alice", nil).Import(ctx, strings.NewReader(scraperArchive), "a.json")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestImportFileIntoStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alice_mega_scrape.json")
	require.NoError(t, os.WriteFile(path, []byte(scraperArchive), 0o644))

	st, err := store.OpenJSONL(filepath.Join(dir, "alice.jsonl"), false, nil)
	require.NoError(t, err)
	defer st.Close()

	res, err := New(st, "alice", nil).ImportFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Added)
	assert.Equal(t, 2, st.Count())
	assert.True(t, st.Contains("1001"))

	_, err = New(st, "alice", nil).ImportFile(context.Background(), filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
