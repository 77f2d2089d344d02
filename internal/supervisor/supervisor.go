// Package supervisor owns the lifecycle of every live-source transcoding
// process: spawning, throughput measurement, signal-loss detection, idle
// teardown, and manual stop/restart under concurrent access. It guarantees at
// most one live transcoder per stream id by serialising all process-replacing
// operations per id and always awaiting termination before a relaunch.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"streampulse/internal/models"
	"streampulse/internal/observability/metrics"
	"streampulse/internal/streamlog"
)

var (
	// ErrNotFound reports an unknown stream reference. Callers translate it
	// to a not-found response; no state is mutated.
	ErrNotFound = errors.New("stream not found")

	// ErrRecentlyRemoved reports that a stream id is still inside its
	// post-deletion cooldown and may only be brought back via an explicit
	// restart.
	ErrRecentlyRemoved = errors.New("stream was recently removed")
)

// replayHistorySamples bounds the history replayed to late-joining observers.
const replayHistorySamples = 300

// Config controls supervisor behaviour. Zero values fall back to the
// defaults documented per field.
type Config struct {
	// IngestURL is the local-loopback publish base the transcoder pushes to,
	// e.g. "rtmp://127.0.0.1:1935/live". The stream id is appended as the
	// stream key.
	IngestURL string

	// PublicBaseURL, when set, prefixes HLS playback paths in responses.
	PublicBaseURL string

	// HLSRoot is the media server's segment output root. When set, teardown
	// removes the stream's artifact directory best-effort.
	HLSRoot string

	IdleTimeout    time.Duration // zero-viewer age before teardown; default 2m
	IdleInterval   time.Duration // idle backstop sweep period; default 30s
	StaleAfter     time.Duration // silence before a stream is flagged down; default 15s
	StaleInterval  time.Duration // stale sweep period; default 5s
	StopTimeout    time.Duration // graceful-exit wait before a hard kill; default 5s
	DeleteCooldown time.Duration // relaunch block after deletion; default 1m

	// Clock overrides time.Now for deterministic tests.
	Clock func() time.Time
}

func (c Config) withDefaults() Config {
	if c.IngestURL == "" {
		c.IngestURL = "rtmp://127.0.0.1:1935/live"
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 2 * time.Minute
	}
	if c.IdleInterval <= 0 {
		c.IdleInterval = 30 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 15 * time.Second
	}
	if c.StaleInterval <= 0 {
		c.StaleInterval = 5 * time.Second
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 5 * time.Second
	}
	if c.DeleteCooldown <= 0 {
		c.DeleteCooldown = time.Minute
	}
	if c.Clock == nil {
		c.Clock = func() time.Time { return time.Now().UTC() }
	}
	return c
}

// Option mutates supervisor construction.
type Option func(*Supervisor)

// WithRunner installs the process runner used to spawn transcoders.
func WithRunner(runner Runner) Option {
	return func(s *Supervisor) {
		if runner != nil {
			s.runner = runner
		}
	}
}

// WithPublisher installs the event fan-out target.
func WithPublisher(publisher Publisher) Option {
	return func(s *Supervisor) {
		s.events = publisher
	}
}

// WithMetrics installs the metrics recorder.
func WithMetrics(recorder *metrics.Recorder) Option {
	return func(s *Supervisor) {
		s.metrics = recorder
	}
}

// WithStreamLogs installs the per-stream log file writer.
func WithStreamLogs(writer *streamlog.Writer) Option {
	return func(s *Supervisor) {
		s.logs = writer
	}
}

// WithLogger installs the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Supervisor is the registry and controller for all supervised streams.
type Supervisor struct {
	cfg     Config
	runner  Runner
	events  Publisher
	metrics *metrics.Recorder
	logs    *streamlog.Writer
	logger  *slog.Logger
	clock   func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
	deleted  map[string]time.Time
	inflight map[string]chan struct{}
}

// New constructs a Supervisor with the given configuration.
func New(cfg Config, opts ...Option) *Supervisor {
	cfg = cfg.withDefaults()
	s := &Supervisor{
		cfg:      cfg,
		runner:   &FFmpegRunner{},
		logger:   slog.Default(),
		clock:    cfg.Clock,
		sessions: make(map[string]*session),
		deleted:  make(map[string]time.Time),
		inflight: make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// HLSPath returns the playback path for a stream id.
func HLSPath(id string) string {
	return "/live/" + id + "/index.m3u8"
}

func (s *Supervisor) hlsURL(id string) string {
	if s.cfg.PublicBaseURL == "" {
		return ""
	}
	return strings.TrimRight(s.cfg.PublicBaseURL, "/") + HLSPath(id)
}

func (s *Supervisor) publishURL(id string) string {
	return strings.TrimRight(s.cfg.IngestURL, "/") + "/" + id
}

// Start ensures a live transcoder exists for the source URL, creating the
// session when unseen. Start is idempotent: a second call before the first
// process exits returns the existing session untouched.
func (s *Supervisor) Start(ctx context.Context, sourceURL, displayName, resolution string) (StreamInfo, error) {
	trimmed := strings.TrimSpace(sourceURL)
	if trimmed == "" {
		return StreamInfo{}, fmt.Errorf("source url is required")
	}
	id := ResolveID(trimmed)
	release := s.lockStream(id)
	defer release()
	return s.launch(ctx, id, trimmed, displayName, resolution, false)
}

// Stop tears the stream down: listeners are detached, the process is
// terminated with escalation, every registry entry for the id is removed,
// output artifacts are deleted best-effort, and the id enters the deletion
// cooldown.
func (s *Supervisor) Stop(ref string) error {
	id, err := s.resolveRef(ref)
	if err != nil {
		return err
	}
	release := s.lockStream(id)
	defer release()
	return s.teardown(id)
}

// Restart replaces the stream's process, reusing the same id. Unlike Stop it
// preserves the session and its history, resets the attempt counter, clears
// any deletion cooldown, and only spawns after the previous process is
// confirmed gone.
func (s *Supervisor) Restart(ctx context.Context, ref, displayName, resolution string) (StreamInfo, error) {
	trimmed := strings.TrimSpace(ref)
	if trimmed == "" {
		return StreamInfo{}, fmt.Errorf("stream reference is required")
	}
	var id, sourceURL string
	if strings.Contains(trimmed, "://") {
		sourceURL = trimmed
		id = ResolveID(trimmed)
	} else {
		id = trimmed
	}

	release := s.lockStream(id)
	defer release()

	s.mu.Lock()
	if sess := s.sessions[id]; sess != nil {
		if sourceURL == "" {
			sourceURL = sess.sourceURL
		}
		if displayName == "" {
			displayName = sess.displayName
		}
		if resolution == "" {
			resolution = string(sess.resolution)
		}
	}
	s.mu.Unlock()

	if sourceURL == "" {
		// Bare id with no recorded source URL: nothing to relaunch.
		return StreamInfo{}, ErrNotFound
	}
	return s.launch(ctx, id, sourceURL, displayName, resolution, true)
}

// launch implements the process-launcher contract. The caller must hold the
// per-stream lock.
func (s *Supervisor) launch(ctx context.Context, id, sourceURL, displayName, resolution string, force bool) (StreamInfo, error) {
	now := s.clock()

	s.mu.Lock()
	if force {
		delete(s.deleted, id)
	} else if deletedAt, ok := s.deleted[id]; ok {
		if now.Sub(deletedAt) < s.cfg.DeleteCooldown {
			s.mu.Unlock()
			return StreamInfo{}, ErrRecentlyRemoved
		}
		delete(s.deleted, id)
	}

	sess := s.sessions[id]
	if sess == nil {
		sess = &session{id: id}
		s.sessions[id] = sess
	}
	if sess.proc != nil && !force {
		info := s.infoLocked(sess)
		s.mu.Unlock()
		return info, nil
	}

	sess.sourceURL = sourceURL
	if displayName != "" {
		sess.displayName = displayName
	}
	if resolution != "" || sess.resolution == "" {
		sess.resolution = NormalizeResolution(resolution)
	}
	if force {
		sess.attempts = 0
	}
	// Detach any listeners still attached to the outgoing process before it
	// is killed, so their callbacks cannot touch the session again.
	sess.gen++
	gen := sess.gen
	previous := sess.proc
	sess.proc = nil
	res := sess.resolution
	s.mu.Unlock()

	if previous != nil {
		if err := terminate(previous, s.cfg.StopTimeout); err != nil {
			s.logger.Error("previous transcoder would not exit", "stream", id, "error", err)
		}
	}

	s.publish(Event{Type: EventStarting, ID: id, At: now})

	proc, err := s.runner.Start(ctx, buildTranscodeArgs(sourceURL, s.publishURL(id), res))
	if err != nil {
		s.logger.Error("transcoder spawn failed", "stream", id, "error", err)
		s.publish(Event{Type: EventError, ID: id, Message: fmt.Sprintf("transcoder start failed: %v", err), At: s.clock()})
		return StreamInfo{}, fmt.Errorf("start transcoder for %s: %w", id, err)
	}

	started := s.clock()
	s.mu.Lock()
	sess = s.sessions[id]
	if sess == nil {
		s.mu.Unlock()
		_ = proc.Kill()
		return StreamInfo{}, ErrNotFound
	}
	sess.proc = proc
	sess.startedAt = started
	info := s.infoLocked(sess)
	s.mu.Unlock()

	go s.consumeProgress(id, gen, proc.Progress())
	go s.relayDiagnostics(id, gen, proc.Diagnostics())
	go s.watchExit(id, gen, proc)

	s.logger.Info("transcoder started", "stream", id, "source", sourceURL, "resolution", string(res))
	s.publish(Event{Type: EventStarted, ID: id, At: started})
	s.updateActiveGauge()
	return info, nil
}

// teardown removes the stream entirely. The caller must hold the per-stream
// lock.
func (s *Supervisor) teardown(id string) error {
	s.mu.Lock()
	sess := s.sessions[id]
	if sess == nil {
		s.mu.Unlock()
		return ErrNotFound
	}
	// Listeners go first so late callbacks cannot mutate a removed session.
	sess.gen++
	proc := sess.proc
	sess.proc = nil
	viewers := sess.viewers
	s.mu.Unlock()

	if proc != nil {
		if err := terminate(proc, s.cfg.StopTimeout); err != nil {
			s.logger.Error("transcoder would not exit", "stream", id, "error", err)
		}
	}

	now := s.clock()
	s.mu.Lock()
	delete(s.sessions, id)
	s.deleted[id] = now
	s.mu.Unlock()

	if viewers > 0 {
		s.metrics.AddViewers(-viewers)
	}
	s.metrics.RemoveStream(id)
	s.removeArtifacts(id)
	s.logger.Info("stream cleaned up", "stream", id)
	s.publish(Event{Type: EventCleaned, ID: id, At: now})
	s.updateActiveGauge()
	return nil
}

// Bitrate reports the current throughput and history for a stream.
func (s *Supervisor) Bitrate(ref string) (BitrateReport, error) {
	id, err := s.resolveRef(ref)
	if err != nil {
		return BitrateReport{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[id]
	if sess == nil {
		return BitrateReport{}, ErrNotFound
	}
	return BitrateReport{
		ID:      id,
		Bitrate: cloneRate(sess.currentBitrate),
		History: models.CloneSamples(sess.history),
		HLSURL:  s.hlsURL(id),
	}, nil
}

// ListActive summarises every session with a recorded source URL, ordered by
// id.
func (s *Supervisor) ListActive() []StreamInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	infos := make([]StreamInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if sess.sourceURL == "" {
			continue
		}
		infos = append(infos, s.infoLocked(sess))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// ViewerJoined records a play notification for the stream path tail and
// returns the updated viewer count.
func (s *Supervisor) ViewerJoined(stream string) (int, error) {
	id := streamID(stream)
	s.mu.Lock()
	sess := s.sessions[id]
	if sess == nil {
		s.mu.Unlock()
		return 0, ErrNotFound
	}
	sess.viewers++
	viewers := sess.viewers
	s.mu.Unlock()

	s.metrics.AddViewers(1)
	s.publishViewers(id, viewers)
	return viewers, nil
}

// ViewerLeft records a play-stop notification, floors the count at zero, and
// immediately re-evaluates the idle condition for the stream.
func (s *Supervisor) ViewerLeft(stream string) (int, error) {
	id := streamID(stream)
	now := s.clock()

	s.mu.Lock()
	sess := s.sessions[id]
	if sess == nil {
		s.mu.Unlock()
		return 0, ErrNotFound
	}
	decremented := false
	if sess.viewers > 0 {
		sess.viewers--
		decremented = true
	}
	viewers := sess.viewers
	idle := s.idleLocked(sess, now)
	s.mu.Unlock()

	if decremented {
		s.metrics.AddViewers(-1)
	}
	s.publishViewers(id, viewers)

	if idle {
		release := s.lockStream(id)
		s.mu.Lock()
		sess = s.sessions[id]
		stillIdle := sess != nil && s.idleLocked(sess, s.clock())
		s.mu.Unlock()
		if stillIdle {
			if err := s.teardown(id); err != nil && !errors.Is(err, ErrNotFound) {
				s.logger.Error("idle teardown failed", "stream", id, "error", err)
			}
		}
		release()
	}
	return viewers, nil
}

// SnapshotEvents builds the late-joiner replay: current bitrate plus trimmed
// recent history for every known session.
func (s *Supervisor) SnapshotEvents() []Event {
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	events := make([]Event, 0, len(ids)*2)
	for _, id := range ids {
		sess := s.sessions[id]
		events = append(events, Event{
			Type:    EventBitrate,
			ID:      id,
			Bitrate: cloneRate(sess.currentBitrate),
			At:      now,
		})
		history := sess.history
		if len(history) > replayHistorySamples {
			history = history[len(history)-replayHistorySamples:]
		}
		events = append(events, Event{
			Type:    EventBitrateHistory,
			ID:      id,
			History: models.CloneSamples(history),
			At:      now,
		})
	}
	return events
}

// HistorySnapshot copies every non-empty bitrate history for persistence.
func (s *Supervisor) HistorySnapshot() map[string][]models.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	histories := make(map[string][]models.Sample, len(s.sessions))
	for id, sess := range s.sessions {
		if len(sess.history) == 0 {
			continue
		}
		histories[id] = models.CloneSamples(sess.history)
	}
	return histories
}

// RestoreHistory seeds sessions with persisted bitrate history. Sessions that
// already accumulated samples keep them; restored-only sessions carry no
// source URL or reference time, so the sweeps leave them alone until a start
// request attaches a process.
func (s *Supervisor) RestoreHistory(histories map[string][]models.Sample) {
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, samples := range histories {
		trimmed := models.TrimSamples(models.CloneSamples(samples), now)
		if len(trimmed) == 0 {
			continue
		}
		sess := s.sessions[id]
		if sess == nil {
			sess = &session{id: id}
			s.sessions[id] = sess
		}
		if len(sess.history) == 0 {
			sess.history = trimmed
		}
	}
}

// Shutdown terminates every live process. Registry state is left intact so a
// final history snapshot can still be taken.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	procs := make(map[string]Process)
	for id, sess := range s.sessions {
		if sess.proc != nil {
			sess.gen++
			procs[id] = sess.proc
			sess.proc = nil
		}
	}
	s.mu.Unlock()

	for id, proc := range procs {
		if err := terminate(proc, s.cfg.StopTimeout); err != nil {
			s.logger.Error("transcoder would not exit during shutdown", "stream", id, "error", err)
		}
	}
}

// watchExit clears the process handle once the child exits and reports the
// outcome. It never relaunches: restarting a failed transcoder is an
// operator decision.
func (s *Supervisor) watchExit(id string, gen uint64, proc Process) {
	<-proc.Done()

	s.mu.Lock()
	sess := s.sessions[id]
	if sess == nil || sess.gen != gen {
		s.mu.Unlock()
		return
	}
	sess.proc = nil
	sess.attempts++
	s.mu.Unlock()

	now := s.clock()
	if err := proc.Err(); err != nil {
		s.logger.Warn("transcoder exited with error", "stream", id, "error", err)
		s.publish(Event{Type: EventError, ID: id, Message: err.Error(), At: now})
		return
	}
	s.logger.Info("transcoder exited", "stream", id)
	s.publish(Event{Type: EventStopped, ID: id, At: now})
}

func (s *Supervisor) resolveRef(ref string) (string, error) {
	trimmed := strings.TrimSpace(ref)
	if trimmed == "" {
		return "", ErrNotFound
	}
	if strings.Contains(trimmed, "://") {
		return ResolveID(trimmed), nil
	}
	return trimmed, nil
}

// lockStream serialises process-replacing operations for one id. The
// returned function releases the lock.
func (s *Supervisor) lockStream(id string) func() {
	s.mu.Lock()
	for {
		ch, ok := s.inflight[id]
		if !ok {
			break
		}
		s.mu.Unlock()
		<-ch
		s.mu.Lock()
	}
	ch := make(chan struct{})
	s.inflight[id] = ch
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.inflight, id)
		s.mu.Unlock()
		close(ch)
	}
}

func (s *Supervisor) infoLocked(sess *session) StreamInfo {
	return StreamInfo{
		ID:      sess.id,
		URL:     sess.sourceURL,
		Name:    sess.displayName,
		HLSPath: HLSPath(sess.id),
		HLSURL:  s.hlsURL(sess.id),
		Bitrate: cloneRate(sess.currentBitrate),
		Viewers: sess.viewers,
	}
}

// AttachPublisher installs the event fan-out target after construction. It
// exists because the publisher usually needs the supervisor as its snapshot
// source, which makes constructor-time wiring circular.
func (s *Supervisor) AttachPublisher(publisher Publisher) {
	s.mu.Lock()
	s.events = publisher
	s.mu.Unlock()
}

func (s *Supervisor) publish(event Event) {
	s.metrics.ObserveStreamEvent(string(event.Type))
	s.mu.Lock()
	events := s.events
	s.mu.Unlock()
	if events != nil {
		events.Publish(event)
	}
}

func (s *Supervisor) publishViewers(id string, viewers int) {
	count := viewers
	s.publish(Event{Type: EventViewers, ID: id, Viewers: &count, At: s.clock()})
}

func (s *Supervisor) appendIssue(id string, at time.Time, message string) {
	if s.logs == nil {
		return
	}
	if err := s.logs.AppendIssue(id, at, message); err != nil {
		s.logger.Warn("append issue log", "stream", id, "error", err)
	}
}

func (s *Supervisor) removeArtifacts(id string) {
	if s.cfg.HLSRoot == "" || id == "" || strings.ContainsAny(id, `/\`) {
		return
	}
	if err := os.RemoveAll(filepath.Join(s.cfg.HLSRoot, id)); err != nil {
		s.logger.Warn("remove stream artifacts", "stream", id, "error", err)
	}
}

func (s *Supervisor) updateActiveGauge() {
	if s.metrics == nil {
		return
	}
	s.mu.Lock()
	active := 0
	for _, sess := range s.sessions {
		if sess.sourceURL != "" {
			active++
		}
	}
	s.mu.Unlock()
	s.metrics.SetActiveStreams(active)
}

func cloneRate(rate *float64) *float64 {
	if rate == nil {
		return nil
	}
	value := *rate
	return &value
}
