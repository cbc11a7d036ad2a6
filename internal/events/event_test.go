package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 30, 0, 0, time.FixedZone("CET", 3600))

	e := New(VideoLiked, "sess-1", "7", now)

	assert.NotEqual(t, uuid.Nil, e.ID)
	assert.Equal(t, VideoLiked, e.Type)
	assert.Equal(t, "sess-1", e.SessionID)
	assert.Equal(t, "7", e.VideoID)
	assert.Equal(t, time.UTC, e.OccurredAt.Location())
	assert.True(t, now.Equal(e.OccurredAt))
}

func TestNew_UniqueIDs(t *testing.T) {
	a := New(VideoSaved, "s", "1", time.Now())
	b := New(VideoSaved, "s", "1", time.Now())
	assert.NotEqual(t, a.ID, b.ID)
}

func TestToggle(t *testing.T) {
	assert.Equal(t, VideoSaved, Toggle("saved", true))
	assert.Equal(t, VideoUnsaved, Toggle("saved", false))
	assert.Equal(t, VideoLiked, Toggle("liked", true))
	assert.Equal(t, VideoUnliked, Toggle("liked", false))
}

func TestEvent_JSONShape(t *testing.T) {
	e := New(ProgressRecorded, "s", "3", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	e.Fraction = 0.5
	e.Device = "mobile"

	body, err := json.Marshal(e)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "progress.recorded", got["type"])
	assert.Equal(t, "3", got["videoId"])
	assert.Equal(t, 0.5, got["fraction"])
	assert.Equal(t, "mobile", got["device"])
	assert.Equal(t, "2026-01-02T03:04:05Z", got["occurredAt"])
	assert.NotContains(t, got, "userId")
	assert.NotContains(t, got, "completed")
}
