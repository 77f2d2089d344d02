package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"streampulse/internal/models"
	"streampulse/internal/streamlog"
)

type manualTicker struct {
	ch chan time.Time
}

func newManualTicker() *manualTicker {
	return &manualTicker{ch: make(chan time.Time, 1)}
}

func (t *manualTicker) C() <-chan time.Time { return t.ch }
func (t *manualTicker) Stop()               {}

func (t *manualTicker) Tick(at time.Time) {
	t.ch <- at
}

func TestSweepStaleFlagsSilentStreamOnce(t *testing.T) {
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
	sup.recordSample(info.ID, gen, 1.8)

	before := events.Count(EventBitrate)
	clock.Advance(16 * time.Second)
	sup.sweepStale(clock.Now())

	report, _ := sup.Bitrate(info.ID)
	if report.Bitrate == nil || *report.Bitrate != 0 {
		t.Fatalf("bitrate = %v, want 0", report.Bitrate)
	}
	if got := events.Count(EventBitrate); got != before+1 {
		t.Fatalf("bitrate events = %d, want %d", got, before+1)
	}

	// Repeated sweeps inside the same incident stay quiet.
	clock.Advance(5 * time.Second)
	sup.sweepStale(clock.Now())
	if got := events.Count(EventBitrate); got != before+1 {
		t.Fatalf("second sweep added events: %d", got)
	}
}

func TestIssueLogOrdersLossBeforeRecovery(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	logs, err := streamlog.New(t.TempDir())
	if err != nil {
		t.Fatalf("stream logs: %v", err)
	}
	sup := newTestSupervisor(t, clock, &fakeRunner{}, &eventRecorder{})
	WithStreamLogs(logs)(sup)

	info, err := sup.Start(context.Background(), "rtsp://cam.example/feed", "", "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	sup.mu.Lock()
	gen := sup.sessions[info.ID].gen
	sup.mu.Unlock()

	sup.recordSample(info.ID, gen, 1.8)
	clock.Advance(20 * time.Second)
	sup.sweepStale(clock.Now())
	clock.Advance(10 * time.Second)
	sup.recordSample(info.ID, gen, 2.0)

	name := "issues-" + clock.Now().UTC().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(logs.Root(), info.ID, name))
	if err != nil {
		t.Fatalf("read issue log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("issue log has %d lines: %q", len(lines), lines)
	}
	if !strings.Contains(lines[0], "signal lost") {
		t.Fatalf("first line = %q, want signal lost", lines[0])
	}
	if !strings.Contains(lines[1], "signal restored after 10s") {
		t.Fatalf("second line = %q, want signal restored", lines[1])
	}
}

func TestSweepStaleLeavesFreshStreamsAlone(t *testing.T) {
	clock := newFakeClock(time.Unix(1700000000, 0).UTC())
	sup := newTestSupervisor(t, clock, &fakeRunner{}, &eventRecorder{})

	info, err := sup.Start(context.Background(), "rtsp://cam.example/feed", "", "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	sup.mu.Lock()
	gen := sup.sessions[info.ID].gen
	sup.mu.Unlock()
	sup.recordSample(info.ID, gen, 1.8)

	clock.Advance(10 * time.Second)
	sup.sweepStale(clock.Now())

	report, _ := sup.Bitrate(info.ID)
	if report.Bitrate == nil || *report.Bitrate != 1.8 {
		t.Fatalf("bitrate = %v, want 1.8", report.Bitrate)
	}
}

func TestSweepStaleSkipsRestoredHistorySessions(t *testing.T) {
	clock := newFakeClock(time.Unix(1700000000, 0).UTC())
	events := &eventRecorder{}
	sup := newTestSupervisor(t, clock, &fakeRunner{}, events)

	sup.RestoreHistory(map[string][]models.Sample{
		"restored": {{Time: clock.Now().Add(-time.Hour), Bitrate: 2.2}},
	})
	clock.Advance(time.Hour)
	sup.sweepStale(clock.Now())

	if got := events.Count(EventBitrate); got != 0 {
		t.Fatalf("restored session produced %d bitrate events", got)
	}
}

func TestSweepIdleReapsZeroViewerStreams(t *testing.T) {
	clock := newFakeClock(time.Unix(1700000000, 0).UTC())
	events := &eventRecorder{}
	runner := &fakeRunner{}
	sup := newTestSupervisor(t, clock, runner, events)

	if _, err := sup.Start(context.Background(), "rtsp://cam.example/feed", "", ""); err != nil {
		t.Fatalf("start: %v", err)
	}

	clock.Advance(time.Minute)
	sup.sweepIdle(clock.Now())
	if len(sup.ListActive()) != 1 {
		t.Fatal("stream reaped before the idle timeout")
	}

	clock.Advance(90 * time.Second)
	sup.sweepIdle(clock.Now())
	if len(sup.ListActive()) != 0 {
		t.Fatal("idle stream survived the sweep")
	}
	if !runner.Proc(0).Exited() {
		t.Fatal("idle process still running")
	}
	if events.Count(EventCleaned) != 1 {
		t.Fatalf("cleaned events = %d, want 1", events.Count(EventCleaned))
	}
}

func TestSweepIdleSparesWatchedStreams(t *testing.T) {
	clock := newFakeClock(time.Unix(1700000000, 0).UTC())
	sup := newTestSupervisor(t, clock, &fakeRunner{}, &eventRecorder{})

	info, err := sup.Start(context.Background(), "rtsp://cam.example/feed", "", "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := sup.ViewerJoined(info.ID); err != nil {
		t.Fatalf("viewer joined: %v", err)
	}

	clock.Advance(10 * time.Minute)
	sup.sweepIdle(clock.Now())
	if len(sup.ListActive()) != 1 {
		t.Fatal("watched stream was reaped")
	}
}

func TestSweepIdlePrunesExpiredCooldowns(t *testing.T) {
	clock := newFakeClock(time.Unix(1700000000, 0).UTC())
	sup := newTestSupervisor(t, clock, &fakeRunner{}, &eventRecorder{})

	source := "rtsp://cam.example/feed"
	if _, err := sup.Start(context.Background(), source, "", ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := sup.Stop(source); err != nil {
		t.Fatalf("stop: %v", err)
	}

	sup.mu.Lock()
	entries := len(sup.deleted)
	sup.mu.Unlock()
	if entries != 1 {
		t.Fatalf("cooldown entries = %d, want 1", entries)
	}

	clock.Advance(2 * time.Minute)
	sup.sweepIdle(clock.Now())

	sup.mu.Lock()
	entries = len(sup.deleted)
	sup.mu.Unlock()
	if entries != 0 {
		t.Fatalf("cooldown entries after prune = %d, want 0", entries)
	}
}

func TestStartWorkersDrivesSweeps(t *testing.T) {
	clock := newFakeClock(time.Unix(1700000000, 0).UTC())
	sup := newTestSupervisor(t, clock, &fakeRunner{}, &eventRecorder{})

	if _, err := sup.Start(context.Background(), "rtsp://cam.example/feed", "", ""); err != nil {
		t.Fatalf("start: %v", err)
	}

	tickers := make(chan *manualTicker, 2)
	stop := sup.startWorkersWithTicker(context.Background(), func(time.Duration) sweepTicker {
		ticker := newManualTicker()
		tickers <- ticker
		return ticker
	})
	defer stop()

	<-tickers // stale ticker, unused here
	idle := <-tickers

	clock.Advance(5 * time.Minute)
	idle.Tick(clock.Now())

	waitForCondition(t, func() bool {
		return len(sup.ListActive()) == 0
	})
	stop()
	stop() // second stop is a no-op
}
