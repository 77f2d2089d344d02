// Package streamlog appends per-stream bitrate and issue log files under a
// stream-named directory, rotating by calendar day.
package streamlog

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Writer appends log lines for a stream under root/<id>/. Files are opened
// per append so a failed write never wedges the supervisor; callers treat
// errors as non-fatal.
type Writer struct {
	root string
}

// New prepares a writer rooted at dir, creating it when missing.
func New(dir string) (*Writer, error) {
	if dir == "" {
		return nil, fmt.Errorf("stream log directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("prepare stream log directory: %w", err)
	}
	return &Writer{root: abs}, nil
}

// Root returns the absolute directory log files are written under.
func (w *Writer) Root() string {
	return w.root
}

// AppendBitrate records one throughput sample in the stream's bitrate log for
// the day of the sample.
func (w *Writer) AppendBitrate(id string, at time.Time, mbps float64) error {
	line := fmt.Sprintf("%s %.3f Mbps\n", at.UTC().Format(time.RFC3339), mbps)
	return w.append(id, "bitrate", at, line)
}

// AppendIssue records a signal-loss transition in the stream's issue log.
func (w *Writer) AppendIssue(id string, at time.Time, message string) error {
	line := fmt.Sprintf("%s %s\n", at.UTC().Format(time.RFC3339), message)
	return w.append(id, "issues", at, line)
}

func (w *Writer) append(id, kind string, at time.Time, line string) error {
	dir := filepath.Join(w.root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("prepare log directory for %s: %w", id, err)
	}
	name := fmt.Sprintf("%s-%s.log", kind, at.UTC().Format("2006-01-02"))
	file, err := os.OpenFile(filepath.Join(dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s log for %s: %w", kind, id, err)
	}
	defer file.Close()
	if _, err := file.WriteString(line); err != nil {
		return fmt.Errorf("append %s log for %s: %w", kind, id, err)
	}
	return nil
}
