package supervisor

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"

	"streampulse/internal/models"
)

// consumeProgress parses the transcoder's machine-readable progress feed.
// The feed is a stream of key=value lines terminated by a "progress" key per
// reporting block; throughput is derived from the byte and timestamp deltas
// between consecutive blocks.
func (s *Supervisor) consumeProgress(id string, gen uint64, progress io.Reader) {
	if progress == nil {
		return
	}

	var (
		totalBytes   int64
		outTime      time.Duration
		haveBlock    bool
		prevBytes    int64
		prevOutTime  time.Duration
		havePrevious bool
	)

	scanner := bufio.NewScanner(progress)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "total_size":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				totalBytes = n
				haveBlock = true
			}
		case "out_time_us":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				outTime = time.Duration(n) * time.Microsecond
				haveBlock = true
			}
		case "out_time_ms":
			// Despite the name this field carries microseconds too; it is
			// only used when out_time_us never appeared in the block.
			if n, err := strconv.ParseInt(value, 10, 64); err == nil && outTime == 0 {
				outTime = time.Duration(n) * time.Microsecond
				haveBlock = true
			}
		case "progress":
			if !haveBlock {
				continue
			}
			if havePrevious {
				dBytes := totalBytes - prevBytes
				dt := (outTime - prevOutTime).Seconds()
				if dBytes >= 0 && dt > 0 {
					mbps := float64(dBytes) * 8 / dt / 1e6
					s.recordSample(id, gen, mbps)
				}
			}
			prevBytes = totalBytes
			prevOutTime = outTime
			havePrevious = true
			haveBlock = false
			outTime = 0
		}
	}
}

// recordSample applies a measured throughput value to the session: history,
// current rate, liveness timestamp, the per-stream log file, metrics, and the
// live event feed. Samples from superseded processes are dropped.
func (s *Supervisor) recordSample(id string, gen uint64, mbps float64) {
	now := s.clock()

	s.mu.Lock()
	sess := s.sessions[id]
	if sess == nil || sess.gen != gen {
		s.mu.Unlock()
		return
	}
	if sess.issueStart != nil {
		// Written under the lock so it cannot precede the matching
		// "signal lost" line in the issue log.
		restoredAfter := now.Sub(*sess.issueStart)
		sess.issueStart = nil
		s.appendIssue(id, now, "signal restored after "+restoredAfter.Round(time.Second).String())
	}
	sess.history = append(sess.history, models.Sample{Time: now, Bitrate: mbps})
	sess.history = models.TrimSamples(sess.history, now)
	rate := mbps
	sess.currentBitrate = &rate
	sess.lastUpdate = now
	s.mu.Unlock()

	if s.logs != nil {
		if err := s.logs.AppendBitrate(id, now, mbps); err != nil {
			s.logger.Warn("append bitrate log", "stream", id, "error", err)
		}
	}
	s.metrics.SetStreamBitrate(id, mbps)
	value := mbps
	s.publish(Event{Type: EventBitrate, ID: id, Bitrate: &value, At: now})
}

// relayDiagnostics forwards the transcoder's own log lines to observers.
func (s *Supervisor) relayDiagnostics(id string, gen uint64, diagnostics io.Reader) {
	if diagnostics == nil {
		return
	}
	scanner := bufio.NewScanner(diagnostics)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		s.mu.Lock()
		sess := s.sessions[id]
		current := sess != nil && sess.gen == gen
		s.mu.Unlock()
		if !current {
			return
		}

		s.logger.Debug("transcoder output", "stream", id, "line", line)
		s.publish(Event{Type: EventFFmpegLog, ID: id, Message: line, At: s.clock()})
	}
}
