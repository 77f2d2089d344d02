// Package history persists per-stream bitrate history so throughput charts
// survive supervisor restarts. Snapshots are best-effort: a failed save or
// load degrades observability but never live operation.
package history

import (
	"context"
	"time"

	"streampulse/internal/models"
)

// Store persists the full history map, keyed by stream id.
type Store interface {
	// Load returns the persisted history map. Implementations discard
	// samples older than models.HistoryRetention relative to now.
	Load(ctx context.Context, now time.Time) (map[string][]models.Sample, error)

	// Save replaces the persisted history map.
	Save(ctx context.Context, histories map[string][]models.Sample) error

	// Close releases backend resources.
	Close() error
}

func trimLoaded(histories map[string][]models.Sample, now time.Time) map[string][]models.Sample {
	out := make(map[string][]models.Sample, len(histories))
	for id, samples := range histories {
		trimmed := models.TrimSamples(samples, now)
		if len(trimmed) == 0 {
			continue
		}
		out[id] = trimmed
	}
	return out
}
