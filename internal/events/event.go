// Package events publishes learner activity (saves, likes, watch progress).
package events

import (
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	VideoSaved       Type = "video.saved"
	VideoUnsaved     Type = "video.unsaved"
	VideoLiked       Type = "video.liked"
	VideoUnliked     Type = "video.unliked"
	ProgressRecorded Type = "progress.recorded"
)

// Event is one activity record as it goes over the wire.
type Event struct {
	ID         uuid.UUID `json:"id"`
	Type       Type      `json:"type"`
	SessionID  string    `json:"sessionId"`
	UserID     string    `json:"userId,omitempty"`
	VideoID    string    `json:"videoId"`
	Fraction   float64   `json:"fraction,omitempty"`
	Completed  bool      `json:"completed,omitempty"`
	Device     string    `json:"device,omitempty"`
	Country    string    `json:"country,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

func New(typ Type, sessionID, videoID string, now time.Time) Event {
	return Event{
		ID:         uuid.New(),
		Type:       typ,
		SessionID:  sessionID,
		VideoID:    videoID,
		OccurredAt: now.UTC(),
	}
}

// Toggle picks the event type for a list membership change.
func Toggle(list string, on bool) Type {
	switch {
	case list == "saved" && on:
		return VideoSaved
	case list == "saved":
		return VideoUnsaved
	case on:
		return VideoLiked
	default:
		return VideoUnliked
	}
}
