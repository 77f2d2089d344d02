package supervisor

import (
	"time"

	"streampulse/internal/models"
)

// EventType identifies a state-change notification pushed to observers.
type EventType string

const (
	EventStarting       EventType = "starting"
	EventStarted        EventType = "started"
	EventStopped        EventType = "stopped"
	EventError          EventType = "error"
	EventBitrate        EventType = "bitrate"
	EventBitrateHistory EventType = "bitrate-history"
	EventViewers        EventType = "viewers"
	EventCleaned        EventType = "cleaned"
	EventFFmpegLog      EventType = "ffmpeg-log"
)

// Event is a typed state-change notification for one stream. Only the fields
// relevant to the event type are populated.
type Event struct {
	Type    EventType       `json:"type"`
	ID      string          `json:"id,omitempty"`
	Bitrate *float64        `json:"bitrate,omitempty"`
	History []models.Sample `json:"history,omitempty"`
	Viewers *int            `json:"viewers,omitempty"`
	Message string          `json:"message,omitempty"`
	At      time.Time       `json:"at"`
}

// Publisher receives supervisor events for fan-out to observers. Publish must
// not block: delivery is best-effort and subscriber failures stay isolated
// from the supervisor.
type Publisher interface {
	Publish(event Event)
}
