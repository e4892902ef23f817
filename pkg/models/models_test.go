package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeItem(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	raw := RawItem{
		ID:        " 1790 ",
		Author:    "@alice",
		Timestamp: "2024-04-30T08:15:00.000Z",
		Text:      "shipping day #golang #release #golang",
		MediaURLs: []string{"https://pbs.example/img1.jpg", " "},
		URL:       "https://x.com/alice/status/1790",
	}

	item, err := NormalizeItem(raw, 3, now)
	require.NoError(t, err)

	assert.Equal(t, "1790", item.ID)
	assert.Equal(t, "alice", item.Author)
	assert.Equal(t, time.Date(2024, 4, 30, 8, 15, 0, 0, time.UTC), item.Timestamp)
	assert.Equal(t, []string{"https://pbs.example/img1.jpg"}, item.MediaRefs)
	assert.Equal(t, 3, item.SourceRank)
	assert.Equal(t, MediaTypeImage, item.MediaType)
	assert.Equal(t, []string{"#golang", "#release"}, item.Hashtags)
	assert.Equal(t, now, item.CollectedAt)
	assert.NoError(t, item.Validate())
}

func TestNormalizeItemRejectsMissingID(t *testing.T) {
	_, err := NormalizeItem(RawItem{Author: "alice"}, 0, time.Now())
	assert.ErrorIs(t, err, ErrMissingID)
}

func TestNormalizeItemMediaType(t *testing.T) {
	video, err := NormalizeItem(RawItem{ID: "1", HasVideo: true, MediaURLs: []string{"https://v.example/p.jpg"}}, 0, time.Now())
	require.NoError(t, err)
	assert.Equal(t, MediaTypeVideo, video.MediaType)

	text, err := NormalizeItem(RawItem{ID: "2"}, 0, time.Now())
	require.NoError(t, err)
	assert.Equal(t, MediaTypeText, text.MediaType)
	assert.Nil(t, text.Hashtags)
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"2021-03-04T05:06:07Z", time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC), false},
		{"2021-03-04 05:06:07", time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC), false},
		{"Thu Mar 04 05:06:07 +0000 2021", time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC), false},
		{"2021-03-04", time.Date(2021, 3, 4, 0, 0, 0, 0, time.UTC), false},
		{"yesterday", time.Time{}, true},
		{"", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimestamp(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v", got)
		})
	}
}

func TestItemValidate(t *testing.T) {
	item := Item{ID: "9", MediaRefs: []string{"not a url"}}
	err := item.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing author")
	assert.Contains(t, err.Error(), "missing timestamp")
	assert.Contains(t, err.Error(), "invalid media reference")
}

func TestRunState(t *testing.T) {
	now := time.Now()
	rs := NewRunState("alice", 5, now)

	assert.NotEmpty(t, rs.RunID)
	assert.Equal(t, RunStatusInProgress, rs.Status)
	assert.True(t, rs.Resumable())
	assert.Equal(t, 5, rs.Remaining())
	assert.False(t, rs.LimitReached())

	rs.ItemsCollected = 5
	assert.True(t, rs.LimitReached())
	assert.Equal(t, 0, rs.Remaining())

	unlimited := NewRunState("bob", 0, now)
	unlimited.ItemsCollected = 1000
	assert.False(t, unlimited.LimitReached())
	assert.Equal(t, -1, unlimited.Remaining())

	rs.Status = RunStatusCompleted
	assert.False(t, rs.Resumable())
	assert.NotEqual(t, rs.RunID, unlimited.RunID)
}
