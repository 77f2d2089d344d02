package models

import (
	"testing"
	"time"
)

func TestTrimSamplesCapsLength(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	samples := make([]Sample, 0, MaxHistorySamples+500)
	for i := 0; i < MaxHistorySamples+500; i++ {
		samples = append(samples, Sample{
			Time:    now.Add(-time.Duration(MaxHistorySamples+500-i) * time.Second),
			Bitrate: float64(i),
		})
	}

	trimmed := TrimSamples(samples, now)
	if len(trimmed) != MaxHistorySamples {
		t.Fatalf("length = %d, want %d", len(trimmed), MaxHistorySamples)
	}
	// The newest entries survive; the oldest 500 are dropped.
	if trimmed[0].Bitrate != 500 {
		t.Fatalf("first retained sample = %v, want 500", trimmed[0].Bitrate)
	}
	if trimmed[len(trimmed)-1].Bitrate != float64(MaxHistorySamples+499) {
		t.Fatalf("last retained sample = %v", trimmed[len(trimmed)-1].Bitrate)
	}
}

func TestTrimSamplesDropsExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	samples := []Sample{
		{Time: now.Add(-25 * time.Hour), Bitrate: 1.0},
		{Time: now.Add(-23 * time.Hour), Bitrate: 2.0},
		{Time: now.Add(-time.Minute), Bitrate: 3.0},
	}

	trimmed := TrimSamples(samples, now)
	if len(trimmed) != 2 {
		t.Fatalf("length = %d, want 2", len(trimmed))
	}
	if trimmed[0].Bitrate != 2.0 || trimmed[1].Bitrate != 3.0 {
		t.Fatalf("unexpected samples: %+v", trimmed)
	}

	if got := TrimSamples([]Sample{{Time: now.Add(-30 * time.Hour)}}, now); len(got) != 0 {
		t.Fatalf("all-expired slice kept %d samples", len(got))
	}
	if got := TrimSamples(nil, now); len(got) != 0 {
		t.Fatalf("nil slice yielded %d samples", len(got))
	}
}

func TestCloneSamplesIsIndependent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	original := []Sample{{Time: now, Bitrate: 1.5}}

	clone := CloneSamples(original)
	clone[0].Bitrate = 9.9
	if original[0].Bitrate != 1.5 {
		t.Fatalf("mutating the clone changed the original: %v", original[0].Bitrate)
	}
	if CloneSamples(nil) != nil {
		t.Fatal("clone of nil should be nil")
	}
}
