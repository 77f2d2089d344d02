package supervisor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"
)

// Process is a live transcoder child process. Exactly one session owns a
// Process at any time; ownership transfers only through the registry.
type Process interface {
	// Progress exposes the machine-parsable progress stream (stdout).
	Progress() io.Reader
	// Diagnostics exposes the free-form diagnostic stream (stderr).
	Diagnostics() io.Reader
	// Signal delivers sig to the process.
	Signal(sig os.Signal) error
	// Kill forcibly terminates the process.
	Kill() error
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// Err reports the exit error. Only valid after Done is closed.
	Err() error
}

// Runner spawns transcoder processes from a prepared argument list.
type Runner interface {
	Start(ctx context.Context, args []string) (Process, error)
}

// FFmpegRunner launches the real ffmpeg binary.
type FFmpegRunner struct {
	// Binary overrides the executable name; defaults to "ffmpeg".
	Binary string
}

// Start spawns ffmpeg with stdout wired as the progress stream and stderr as
// diagnostics. The process is killed when ctx is cancelled.
func (r *FFmpegRunner) Start(ctx context.Context, args []string) (Process, error) {
	binary := r.Binary
	if binary == "" {
		binary = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("wire progress pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("wire diagnostics pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn %s: %w", binary, err)
	}
	proc := &ffmpegProcess{
		cmd:         cmd,
		progress:    stdout,
		diagnostics: stderr,
		done:        make(chan struct{}),
	}
	go func() {
		proc.err = cmd.Wait()
		close(proc.done)
	}()
	return proc, nil
}

type ffmpegProcess struct {
	cmd         *exec.Cmd
	progress    io.Reader
	diagnostics io.Reader
	done        chan struct{}
	err         error
}

func (p *ffmpegProcess) Progress() io.Reader    { return p.progress }
func (p *ffmpegProcess) Diagnostics() io.Reader { return p.diagnostics }

func (p *ffmpegProcess) Signal(sig os.Signal) error {
	if p.cmd.Process == nil {
		return fmt.Errorf("process not started")
	}
	return p.cmd.Process.Signal(sig)
}

func (p *ffmpegProcess) Kill() error {
	if p.cmd.Process == nil {
		return fmt.Errorf("process not started")
	}
	return p.cmd.Process.Kill()
}

func (p *ffmpegProcess) Done() <-chan struct{} { return p.done }

func (p *ffmpegProcess) Err() error { return p.err }

// terminate stops a process gracefully and escalates to a hard kill when it
// has not exited within timeout. It returns an error only when the process
// cannot be confirmed dead after the kill.
func terminate(proc Process, timeout time.Duration) error {
	select {
	case <-proc.Done():
		return nil
	default:
	}

	// A failed signal usually means the process is already gone; the kill
	// below covers the remaining cases.
	_ = proc.Signal(stopSignal())

	graceful := time.NewTimer(timeout)
	defer graceful.Stop()
	select {
	case <-proc.Done():
		return nil
	case <-graceful.C:
	}

	_ = proc.Kill()

	forced := time.NewTimer(timeout)
	defer forced.Stop()
	select {
	case <-proc.Done():
		return nil
	case <-forced.C:
		return fmt.Errorf("transcoder did not exit after kill")
	}
}
