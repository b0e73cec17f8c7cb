// Package runner supervises one provider child process: spawn in its own
// process group, drain both streams into bounded buffers, expose a
// non-blocking progress snapshot, and cancel with signal → grace → kill.
package runner

import (
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/tt-a1i/mco/internal/model"
)

// DefaultGrace is the window between the graceful terminate signal and
// the forced kill of the process group.
const DefaultGrace = 10 * time.Second

// Config describes one child to supervise.
type Config struct {
	ProviderID   string
	Argv         []string
	Env          []string // full child environment
	Stdin        string
	Dir          string
	Grace        time.Duration
	BufferCap    int
	StdoutMirror io.Writer // raw stdout log, may be nil
	StderrMirror io.Writer // raw stderr log, may be nil
}

// Progress is a non-blocking snapshot for the watchdog.
type Progress struct {
	StdoutBytes uint64
	StderrBytes uint64
	Elapsed     time.Duration
}

// Outcome is the terminal record of a supervised child.
type Outcome struct {
	ExitCode     int
	CancelReason model.ErrorKind // empty when the child exited on its own
	StartedAt    time.Time
	EndedAt      time.Time
	Stdout       []byte
	Stderr       []byte
	StdoutBytes  uint64
	StderrBytes  uint64
	WaitErr      error
}

// Runner supervises a single spawned child. Create with New, call Start
// once, then wait on Done. Cancel may be called any number of times from
// any goroutine.
type Runner struct {
	cfg    Config
	stdout *Buffer
	stderr *Buffer

	mu           sync.Mutex
	cmd          *exec.Cmd
	startedAt    time.Time
	endedAt      time.Time
	exitCode     int
	waitErr      error
	cancelReason model.ErrorKind
	cancelled    bool

	drains sync.WaitGroup
	done   chan struct{}
}

func New(cfg Config) *Runner {
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	return &Runner{
		cfg:    cfg,
		stdout: NewBuffer(cfg.BufferCap, cfg.StdoutMirror),
		stderr: NewBuffer(cfg.BufferCap, cfg.StderrMirror),
		done:   make(chan struct{}),
	}
}

// Start spawns the child in a fresh process group with its working
// directory set to the task repo. A failure here is spawn_failed.
func (r *Runner) Start() error {
	if len(r.cfg.Argv) == 0 {
		return fmt.Errorf("empty argv for provider %s", r.cfg.ProviderID)
	}
	cmd := exec.Command(r.cfg.Argv[0], r.cfg.Argv[1:]...)
	cmd.Dir = r.cfg.Dir
	cmd.Env = r.cfg.Env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if r.cfg.Stdin != "" {
		cmd.Stdin = strings.NewReader(r.cfg.Stdin)
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe for %s: %w", r.cfg.ProviderID, err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe for %s: %w", r.cfg.ProviderID, err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn %s: %w", r.cfg.Argv[0], err)
	}

	r.mu.Lock()
	r.cmd = cmd
	r.startedAt = time.Now().UTC()
	r.mu.Unlock()

	r.drains.Add(2)
	go r.drain(stdoutPipe, r.stdout)
	go r.drain(stderrPipe, r.stderr)
	go r.wait()
	return nil
}

// drain copies one stream into its buffer, advancing the byte counter
// after every read.
func (r *Runner) drain(src io.Reader, dst *Buffer) {
	defer r.drains.Done()
	buf := make([]byte, 32*1024)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			_, _ = dst.Write(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func (r *Runner) wait() {
	r.drains.Wait()
	err := r.cmd.Wait()

	r.mu.Lock()
	r.endedAt = time.Now().UTC()
	r.waitErr = err
	r.exitCode = exitCodeOf(r.cmd, err)
	r.mu.Unlock()
	close(r.done)
}

func exitCodeOf(cmd *exec.Cmd, waitErr error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if waitErr != nil {
		return -1
	}
	return 0
}

// Done is closed once the child has reached a terminal state and both
// streams are fully drained.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

// Snapshot is non-blocking: the byte counters are atomics and the start
// instant is immutable after Start.
func (r *Runner) Snapshot() Progress {
	r.mu.Lock()
	started := r.startedAt
	r.mu.Unlock()
	var elapsed time.Duration
	if !started.IsZero() {
		elapsed = time.Since(started)
	}
	return Progress{
		StdoutBytes: r.stdout.Total(),
		StderrBytes: r.stderr.Total(),
		Elapsed:     elapsed,
	}
}

// Cancel terminates the child's process group: SIGTERM immediately, then
// SIGKILL after the grace window if the group is still alive. Idempotent;
// only the first reason is recorded.
func (r *Runner) Cancel(reason model.ErrorKind) {
	r.mu.Lock()
	if r.cancelled || r.cmd == nil || r.cmd.Process == nil {
		r.mu.Unlock()
		return
	}
	r.cancelled = true
	r.cancelReason = reason
	pid := r.cmd.Process.Pid
	grace := r.cfg.Grace
	r.mu.Unlock()

	_ = syscall.Kill(-pid, syscall.SIGTERM)

	go func() {
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-r.done:
		case <-timer.C:
			_ = syscall.Kill(-pid, syscall.SIGKILL)
		}
	}()
}

// CancelReason returns the recorded cancellation reason, empty when the
// child was never cancelled.
func (r *Runner) CancelReason() model.ErrorKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelReason
}

// Outcome must only be called after Done is closed.
func (r *Runner) Outcome() Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Outcome{
		ExitCode:     r.exitCode,
		CancelReason: r.cancelReason,
		StartedAt:    r.startedAt,
		EndedAt:      r.endedAt,
		Stdout:       r.stdout.Bytes(),
		Stderr:       r.stderr.Bytes(),
		StdoutBytes:  r.stdout.Total(),
		StderrBytes:  r.stderr.Total(),
		WaitErr:      r.waitErr,
	}
}
