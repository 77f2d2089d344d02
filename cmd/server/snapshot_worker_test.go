package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"streampulse/internal/models"
)

type fakeHistorySource struct {
	histories map[string][]models.Sample
}

func (f *fakeHistorySource) HistorySnapshot() map[string][]models.Sample {
	return f.histories
}

type fakeHistoryStore struct {
	saves chan map[string][]models.Sample
	err   error
}

func newFakeHistoryStore() *fakeHistoryStore {
	return &fakeHistoryStore{saves: make(chan map[string][]models.Sample, 1)}
}

func (f *fakeHistoryStore) Load(ctx context.Context, now time.Time) (map[string][]models.Sample, error) {
	return nil, nil
}

func (f *fakeHistoryStore) Save(ctx context.Context, histories map[string][]models.Sample) error {
	select {
	case f.saves <- histories:
	default:
	}
	return f.err
}

func (f *fakeHistoryStore) Close() error {
	return nil
}

type manualTicker struct {
	c       chan time.Time
	stopped chan struct{}
}

func newManualTicker() *manualTicker {
	return &manualTicker{
		c:       make(chan time.Time, 1),
		stopped: make(chan struct{}),
	}
}

func (m *manualTicker) C() <-chan time.Time {
	return m.c
}

func (m *manualTicker) Stop() {
	select {
	case <-m.stopped:
		return
	default:
		close(m.stopped)
	}
}

func (m *manualTicker) Tick() {
	select {
	case m.c <- time.Now():
	default:
	}
}

func TestStartSnapshotWorker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticker := newManualTicker()
	source := &fakeHistorySource{histories: map[string][]models.Sample{
		"abc123": {{Time: time.Now().UTC(), Bitrate: 2.5}},
	}}
	store := newFakeHistoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	stop := startSnapshotWorkerWithTicker(ctx, logger, source, store, time.Minute, func(time.Duration) snapshotTicker {
		return ticker
	})

	ticker.Tick()
	select {
	case saved := <-store.saves:
		if len(saved["abc123"]) != 1 {
			t.Fatalf("saved %d samples", len(saved["abc123"]))
		}
	case <-time.After(time.Second):
		t.Fatal("expected snapshot to be persisted")
	}

	cancel()
	stop()

	select {
	case <-ticker.stopped:
	case <-time.After(time.Second):
		t.Fatal("expected ticker to stop after context cancellation")
	}
}

func TestStartSnapshotWorkerToleratesSaveErrors(t *testing.T) {
	ticker := newManualTicker()
	store := newFakeHistoryStore()
	store.err = errors.New("backend unavailable")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	stop := startSnapshotWorkerWithTicker(context.Background(), logger, &fakeHistorySource{}, store, time.Minute, func(time.Duration) snapshotTicker {
		return ticker
	})
	defer stop()

	ticker.Tick()
	select {
	case <-store.saves:
	case <-time.After(time.Second):
		t.Fatal("expected save attempt despite error")
	}
	ticker.Tick()
	select {
	case <-store.saves:
	case <-time.After(time.Second):
		t.Fatal("worker stopped after a failed save")
	}
}

func TestStartSnapshotWorkerDisabled(t *testing.T) {
	stop := startSnapshotWorker(context.Background(), nil, nil, nil, time.Minute)
	stop()
	stop = startSnapshotWorker(context.Background(), nil, &fakeHistorySource{}, newFakeHistoryStore(), 0)
	stop()
}
