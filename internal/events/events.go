package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/aura-studio/reelsmith/internal/models"
)

// Event is a snapshot of a video's pipeline state, emitted after every persisted change.
type Event struct {
	VideoID           uuid.UUID        `json:"video_id"`
	Status            models.Status    `json:"status"`
	Readiness         models.Readiness `json:"readiness"`
	DirtyScenes       []int            `json:"dirty_scenes"`
	StoryboardVersion int              `json:"storyboard_version"`
	ErrorMessage      string           `json:"error_message,omitempty"`
	FinalVideoURL     string           `json:"final_video_url,omitempty"`
	At                time.Time        `json:"at"`
}

// FromVideo builds an Event from the persisted record.
func FromVideo(v *models.Video) Event {
	return Event{
		VideoID:           v.ID,
		Status:            v.Status,
		Readiness:         v.Readiness(),
		DirtyScenes:       append([]int{}, v.DirtyScenes...),
		StoryboardVersion: v.StoryboardVersion,
		ErrorMessage:      v.ErrorMessage,
		FinalVideoURL:     v.FinalVideoURL,
		At:                time.Now().UTC(),
	}
}

// Publisher delivers status events to subscribers.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
