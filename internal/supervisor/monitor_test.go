package supervisor

import (
	"context"
	"strings"
	"testing"
	"time"
)

func progressFeed(blocks ...string) string {
	return strings.Join(blocks, "")
}

func TestConsumeProgressComputesBitrate(t *testing.T) {
	clock := newFakeClock(time.Unix(1700000000, 0).UTC())
	runner := &fakeRunner{}
	events := &eventRecorder{}
	sup := newTestSupervisor(t, clock, runner, events)

	info, err := sup.Start(context.Background(), "rtsp://cam.example/feed", "", "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// 150000 bytes over exactly one second of output time is 1.2 Mbps.
	feed := progressFeed(
		"total_size=100000\nout_time_us=2000000\nprogress=continue\n",
		"total_size=250000\nout_time_us=3000000\nprogress=continue\n",
	)
	sup.mu.Lock()
	gen := sup.sessions[info.ID].gen
	sup.mu.Unlock()
	sup.consumeProgress(info.ID, gen, strings.NewReader(feed))

	report, err := sup.Bitrate(info.ID)
	if err != nil {
		t.Fatalf("bitrate: %v", err)
	}
	if report.Bitrate == nil {
		t.Fatal("no bitrate recorded")
	}
	if got := *report.Bitrate; got < 1.199 || got > 1.201 {
		t.Fatalf("bitrate = %v, want 1.2", got)
	}
	if len(report.History) != 1 {
		t.Fatalf("history length = %d, want 1", len(report.History))
	}
	if events.Count(EventBitrate) != 1 {
		t.Fatalf("bitrate events = %d, want 1", events.Count(EventBitrate))
	}
}

func TestConsumeProgressFallsBackToOutTimeMs(t *testing.T) {
	clock := newFakeClock(time.Unix(1700000000, 0).UTC())
	sup := newTestSupervisor(t, clock, &fakeRunner{}, &eventRecorder{})

	info, err := sup.Start(context.Background(), "rtsp://cam.example/feed", "", "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	feed := progressFeed(
		"total_size=0\nout_time_ms=1000000\nprogress=continue\n",
		"total_size=500000\nout_time_ms=2000000\nprogress=continue\n",
	)
	sup.mu.Lock()
	gen := sup.sessions[info.ID].gen
	sup.mu.Unlock()
	sup.consumeProgress(info.ID, gen, strings.NewReader(feed))

	report, _ := sup.Bitrate(info.ID)
	if report.Bitrate == nil {
		t.Fatal("no bitrate recorded")
	}
	if got := *report.Bitrate; got < 3.999 || got > 4.001 {
		t.Fatalf("bitrate = %v, want 4.0", got)
	}
}

func TestConsumeProgressSkipsBadBlocks(t *testing.T) {
	clock := newFakeClock(time.Unix(1700000000, 0).UTC())
	sup := newTestSupervisor(t, clock, &fakeRunner{}, &eventRecorder{})

	info, err := sup.Start(context.Background(), "rtsp://cam.example/feed", "", "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	// Byte counter resets and zero time deltas both yield no sample; garbage
	// lines are ignored outright.
	feed := progressFeed(
		"garbage line without equals\n",
		"total_size=500000\nout_time_us=1000000\nprogress=continue\n",
		"total_size=100000\nout_time_us=2000000\nprogress=continue\n",
		"total_size=200000\nout_time_us=2000000\nprogress=continue\n",
	)
	sup.mu.Lock()
	gen := sup.sessions[info.ID].gen
	sup.mu.Unlock()
	sup.consumeProgress(info.ID, gen, strings.NewReader(feed))

	report, _ := sup.Bitrate(info.ID)
	if report.Bitrate != nil {
		t.Fatalf("unexpected bitrate %v from invalid deltas", *report.Bitrate)
	}
}

func TestRecordSampleIgnoresStaleGeneration(t *testing.T) {
	clock := newFakeClock(time.Unix(1700000000, 0).UTC())
	sup := newTestSupervisor(t, clock, &fakeRunner{}, &eventRecorder{})

	info, err := sup.Start(context.Background(), "rtsp://cam.example/feed", "", "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	sup.mu.Lock()
	gen := sup.sessions[info.ID].gen
	sup.mu.Unlock()

	sup.recordSample(info.ID, gen-1, 3.5)

	report, _ := sup.Bitrate(info.ID)
	if report.Bitrate != nil {
		t.Fatalf("sample from superseded process was recorded: %v", *report.Bitrate)
	}
}

func TestRecordSampleClosesIssueWindow(t *testing.T) {
	clock := newFakeClock(time.Unix(1700000000, 0).UTC())
	sup := newTestSupervisor(t, clock, &fakeRunner{}, &eventRecorder{})

	info, err := sup.Start(context.Background(), "rtsp://cam.example/feed", "", "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	sup.mu.Lock()
	gen := sup.sessions[info.ID].gen
	sup.mu.Unlock()

	sup.recordSample(info.ID, gen, 2.0)
	clock.Advance(20 * time.Second)
	sup.sweepStale(clock.Now())
	clock.Advance(10 * time.Second)
	sup.recordSample(info.ID, gen, 2.1)

	sup.mu.Lock()
	sess := sup.sessions[info.ID]
	if sess.issueStart != nil {
		t.Fatal("issue window still open after recovery")
	}
	if sess.currentBitrate == nil || *sess.currentBitrate != 2.1 {
		t.Fatalf("current bitrate = %v, want 2.1", sess.currentBitrate)
	}
	sup.mu.Unlock()
}

func TestRelayDiagnosticsPublishesLines(t *testing.T) {
	clock := newFakeClock(time.Unix(1700000000, 0).UTC())
	events := &eventRecorder{}
	sup := newTestSupervisor(t, clock, &fakeRunner{}, events)

	info, err := sup.Start(context.Background(), "rtsp://cam.example/feed", "", "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	sup.mu.Lock()
	gen := sup.sessions[info.ID].gen
	sup.mu.Unlock()

	sup.relayDiagnostics(info.ID, gen, strings.NewReader("frame drop detected\n\n[flv] muxing overhead\n"))

	if got := events.Count(EventFFmpegLog); got != 2 {
		t.Fatalf("diagnostic events = %d, want 2", got)
	}
}
