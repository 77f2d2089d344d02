package supervisor

import (
	"time"

	"streampulse/internal/models"
)

// session is the internal aggregate for one supervised stream. All fields are
// guarded by the Supervisor mutex; gen invalidates in-flight process
// listeners whenever the process handle is replaced or the session is torn
// down.
type session struct {
	id          string
	sourceURL   string
	displayName string
	resolution  Resolution

	proc Process
	gen  uint64

	attempts  int
	startedAt time.Time

	currentBitrate *float64
	history        []models.Sample
	lastUpdate     time.Time

	viewers    int
	issueStart *time.Time
}

// StreamInfo is the public summary of a supervised stream.
type StreamInfo struct {
	ID      string   `json:"id"`
	URL     string   `json:"url"`
	Name    string   `json:"name,omitempty"`
	HLSPath string   `json:"hlsPath"`
	HLSURL  string   `json:"hlsUrl,omitempty"`
	Bitrate *float64 `json:"bitrate"`
	Viewers int      `json:"viewers"`
}

// BitrateReport carries the current throughput and bounded history for one
// stream.
type BitrateReport struct {
	ID      string          `json:"id"`
	Bitrate *float64        `json:"bitrate"`
	History []models.Sample `json:"history"`
	HLSURL  string          `json:"hlsUrl,omitempty"`
}
