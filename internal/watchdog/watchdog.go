// Package watchdog cancels a runner whose output has stopped growing for
// the stall window, or whose hard deadline has elapsed in review mode.
package watchdog

import (
	"time"

	"github.com/tt-a1i/mco/internal/model"
	"github.com/tt-a1i/mco/internal/runner"
)

// minSampleInterval keeps second-scale test windows sampled densely
// without spinning.
const minSampleInterval = 50 * time.Millisecond

// Config parameterizes one watchdog.
type Config struct {
	StallWindow  time.Duration
	HardDeadline time.Duration // 0 disables; review mode only
}

// StateFn observes the runner's supervision state (running ↔ stalling)
// for callers that track the state machine. May be nil.
type StateFn func(state model.RunState)

// SampleInterval derives the tick period from the stall window:
// min(5s, window/30), floored at minSampleInterval.
func SampleInterval(window time.Duration) time.Duration {
	interval := window / 30
	if interval > 5*time.Second {
		interval = 5 * time.Second
	}
	if interval < minSampleInterval {
		interval = minSampleInterval
	}
	return interval
}

// Watch samples the runner's progress counter until the runner reaches a
// terminal state or a cancellation fires. Progress is a strict increase
// of stdout+stderr bytes since the previous tick. When both the stall
// window and the hard deadline fire in the same tick, the hard deadline
// wins. Blocks until the runner is done; runs on its own goroutine.
func Watch(r *runner.Runner, cfg Config, onState StateFn) {
	interval := SampleInterval(cfg.StallWindow)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	snap := r.Snapshot()
	lastTotal := snap.StdoutBytes + snap.StderrBytes
	lastProgress := time.Now()
	stalling := false

	for {
		select {
		case <-r.Done():
			return
		case <-ticker.C:
		}

		snap = r.Snapshot()

		if cfg.HardDeadline > 0 && snap.Elapsed >= cfg.HardDeadline {
			r.Cancel(model.ErrCancelledHard)
			<-r.Done()
			return
		}

		total := snap.StdoutBytes + snap.StderrBytes
		if total > lastTotal {
			lastTotal = total
			lastProgress = time.Now()
			if stalling {
				stalling = false
				notify(onState, model.StateRunning)
			}
			continue
		}

		if time.Since(lastProgress) >= cfg.StallWindow {
			// One full tick in stalling before the cancel is issued, so an
			// agent that produces output in that gap recovers to running.
			if !stalling {
				stalling = true
				notify(onState, model.StateStalling)
				continue
			}
			r.Cancel(model.ErrCancelledStall)
			<-r.Done()
			return
		}
	}
}

func notify(fn StateFn, state model.RunState) {
	if fn != nil {
		fn(state)
	}
}
