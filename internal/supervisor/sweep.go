package supervisor

import (
	"context"
	"errors"
	"sync"
	"time"
)

type sweepTicker interface {
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

type tickerFactory func(time.Duration) sweepTicker

// StartWorkers launches the stale-signal and idle-reaper sweeps. The returned
// function stops both and waits for them to finish.
func (s *Supervisor) StartWorkers(ctx context.Context) func() {
	return s.startWorkersWithTicker(ctx, func(d time.Duration) sweepTicker {
		return timeTicker{ticker: time.NewTicker(d)}
	})
}

func (s *Supervisor) startWorkersWithTicker(ctx context.Context, newTicker tickerFactory) func() {
	workerCtx, cancel := context.WithCancel(ctx)
	staleTicker := newTicker(s.cfg.StaleInterval)
	idleTicker := newTicker(s.cfg.IdleInterval)
	done := make(chan struct{})

	go func() {
		defer func() {
			staleTicker.Stop()
			idleTicker.Stop()
			close(done)
		}()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-staleTicker.C():
				s.sweepStale(s.clock())
			case <-idleTicker.C():
				s.sweepIdle(s.clock())
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

// sweepStale flags streams whose transcoder has gone silent: the displayed
// bitrate drops to zero and an issue window opens once per incident. The
// issue-log line is written under the registry lock so it stays ordered
// against the "signal restored" line a racing sample would append.
func (s *Supervisor) sweepStale(now time.Time) {
	var incidents []string

	s.mu.Lock()
	for id, sess := range s.sessions {
		if sess.sourceURL == "" {
			continue
		}
		ref := sess.lastUpdate
		if ref.IsZero() {
			ref = sess.startedAt
		}
		if ref.IsZero() {
			continue
		}
		if now.Sub(ref) < s.cfg.StaleAfter {
			continue
		}
		if sess.currentBitrate != nil && *sess.currentBitrate == 0 {
			continue
		}
		zero := 0.0
		sess.currentBitrate = &zero
		if sess.issueStart == nil {
			start := now
			sess.issueStart = &start
			s.appendIssue(id, now, "signal lost")
		}
		incidents = append(incidents, id)
	}
	s.mu.Unlock()

	for _, id := range incidents {
		s.logger.Warn("stream signal lost", "stream", id)
		s.metrics.SetStreamBitrate(id, 0)
		zero := 0.0
		s.publish(Event{Type: EventBitrate, ID: id, Bitrate: &zero, At: now})
	}
}

// sweepIdle tears down streams that have had zero viewers for longer than the
// idle timeout, and prunes expired deletion-cooldown entries.
func (s *Supervisor) sweepIdle(now time.Time) {
	s.mu.Lock()
	var candidates []string
	for id, sess := range s.sessions {
		if s.idleLocked(sess, now) {
			candidates = append(candidates, id)
		}
	}
	for id, deletedAt := range s.deleted {
		if now.Sub(deletedAt) >= s.cfg.DeleteCooldown {
			delete(s.deleted, id)
		}
	}
	s.mu.Unlock()

	for _, id := range candidates {
		release := s.lockStream(id)
		s.mu.Lock()
		sess := s.sessions[id]
		stillIdle := sess != nil && s.idleLocked(sess, s.clock())
		s.mu.Unlock()
		if stillIdle {
			s.logger.Info("tearing down idle stream", "stream", id)
			if err := s.teardown(id); err != nil && !errors.Is(err, ErrNotFound) {
				s.logger.Error("idle teardown failed", "stream", id, "error", err)
			}
		}
		release()
	}
}

// idleLocked reports whether a session qualifies for idle teardown. The
// caller must hold s.mu.
func (s *Supervisor) idleLocked(sess *session, now time.Time) bool {
	if sess.sourceURL == "" || sess.viewers > 0 {
		return false
	}
	ref := sess.lastUpdate
	if sess.startedAt.After(ref) {
		ref = sess.startedAt
	}
	if ref.IsZero() {
		return false
	}
	return now.Sub(ref) >= s.cfg.IdleTimeout
}
