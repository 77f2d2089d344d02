package models

import "time"

const (
	// MaxHistorySamples bounds the number of throughput samples retained per
	// stream, both in memory and in persisted snapshots.
	MaxHistorySamples = 3600

	// HistoryRetention bounds the age of throughput samples retained per
	// stream. Older samples are discarded on append and on snapshot reload.
	HistoryRetention = 24 * time.Hour
)

// Sample is a single throughput measurement for a stream, expressed in Mbps.
// Estimated marks samples that were not derived from transcoder progress
// output (for example values synthesised while a stream was flagged stale).
type Sample struct {
	Time      time.Time `json:"time"`
	Bitrate   float64   `json:"bitrate"`
	Estimated bool      `json:"estimated"`
}

// TrimSamples enforces the history bounds on a time-ordered sample slice:
// entries older than HistoryRetention relative to now are dropped, and at
// most MaxHistorySamples of the newest entries are kept. The input slice is
// reused when possible.
func TrimSamples(samples []Sample, now time.Time) []Sample {
	cutoff := now.Add(-HistoryRetention)
	start := 0
	for start < len(samples) && samples[start].Time.Before(cutoff) {
		start++
	}
	samples = samples[start:]
	if len(samples) > MaxHistorySamples {
		samples = samples[len(samples)-MaxHistorySamples:]
	}
	return samples
}

// CloneSamples returns an independent copy of the provided sample slice.
func CloneSamples(samples []Sample) []Sample {
	if len(samples) == 0 {
		return nil
	}
	out := make([]Sample, len(samples))
	copy(out, samples)
	return out
}
