package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"streampulse/internal/history"
	"streampulse/internal/models"
)

type historySource interface {
	HistorySnapshot() map[string][]models.Sample
}

type snapshotTicker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

type tickerFactory func(time.Duration) snapshotTicker

func startSnapshotWorker(ctx context.Context, logger *slog.Logger, source historySource, store history.Store, interval time.Duration) func() {
	return startSnapshotWorkerWithTicker(ctx, logger, source, store, interval, func(d time.Duration) snapshotTicker {
		return timeTicker{ticker: time.NewTicker(d)}
	})
}

func startSnapshotWorkerWithTicker(
	ctx context.Context,
	logger *slog.Logger,
	source historySource,
	store history.Store,
	interval time.Duration,
	newTicker tickerFactory,
) func() {
	if source == nil || store == nil || interval <= 0 {
		return func() {}
	}
	workerCtx, cancel := context.WithCancel(ctx)
	ticker := newTicker(interval)
	done := make(chan struct{})
	go func() {
		defer func() {
			ticker.Stop()
			close(done)
		}()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C():
				if err := store.Save(workerCtx, source.HistorySnapshot()); err != nil && logger != nil {
					logger.Error("failed to persist history snapshot", "error", err)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}
