// Package dispatch fans a task out to one supervised runner per provider,
// enforces bounded admission and wait-all semantics, and assembles the
// aggregate run result.
package dispatch

import (
	"context"
	"errors"
	"log"
	"math"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/tt-a1i/mco/internal/adapter"
	"github.com/tt-a1i/mco/internal/artifact"
	"github.com/tt-a1i/mco/internal/model"
	"github.com/tt-a1i/mco/internal/review"
	"github.com/tt-a1i/mco/internal/runner"
	"github.com/tt-a1i/mco/internal/watchdog"
)

// Dispatcher owns all runners for one task. Per-runner state is written
// only by that runner's supervising goroutine; the admission semaphore
// and the active-runner registry are the only shared mutable structures.
type Dispatcher struct {
	registry *adapter.Registry
	logger   *log.Logger
	logLevel LogLevel

	mu     sync.Mutex
	active map[string]*runner.Runner
}

func New(registry *adapter.Registry, logger *log.Logger, level LogLevel) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		logger:   logger,
		logLevel: level,
		active:   make(map[string]*runner.Runner),
	}
}

// Run executes the task to completion: detect, admit under the
// parallelism cap in provider order, supervise every runner, and block
// until all of them are terminal. Cancelling ctx propagates an external
// cancellation to every non-terminal runner; Run still returns a complete
// RunResult.
func (d *Dispatcher) Run(ctx context.Context, task model.Task, paths artifact.TaskPaths) model.RunResult {
	startedAt := time.Now().UTC()
	results := make(map[string]model.ProviderResult, len(task.ProviderIDs))
	var resultsMu sync.Mutex
	record := func(pr model.ProviderResult) {
		resultsMu.Lock()
		results[pr.ProviderID] = pr
		resultsMu.Unlock()
	}

	specs := d.detectAll(ctx, task)

	var capSem *semaphore.Weighted
	if n := task.Policy.MaxProviderParallelism; n > 0 {
		capSem = semaphore.NewWeighted(int64(n))
	}

	// Broadcast external cancellation to whatever is running when ctx dies.
	broadcastDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			d.cancelActive(model.ErrCancelledExternal)
		case <-broadcastDone:
		}
	}()

	var wg sync.WaitGroup
	for _, providerID := range task.ProviderIDs {
		spec := specs[providerID]
		if !spec.Detected {
			d.log(LogLevelWarn, "provider_skipped id=%s reason=%s", providerID, spec.Diagnostic)
			record(undetectedResult(spec))
			continue
		}

		// Admission in provider order: acquiring here, not in the
		// goroutine, preserves the canonical ordering under a cap.
		if capSem != nil {
			if err := capSem.Acquire(ctx, 1); err != nil {
				record(neverAdmittedResult(spec, model.ErrCancelledExternal))
				continue
			}
		}

		wg.Add(1)
		go func(spec model.ProviderSpec) {
			defer wg.Done()
			if capSem != nil {
				defer capSem.Release(1)
			}
			record(d.supervise(ctx, task, spec, paths))
		}(spec)
	}

	wg.Wait()
	close(broadcastDone)

	endedAt := time.Now().UTC()
	res := model.RunResult{
		TaskID:          task.TaskID,
		Mode:            task.Mode,
		StartedAt:       startedAt,
		EndedAt:         endedAt,
		DurationSec:     int64(math.Round(endedAt.Sub(startedAt).Seconds())),
		ProviderOrder:   append([]string(nil), task.ProviderIDs...),
		ProviderResults: results,
	}
	res.Findings = aggregateFindings(res)
	res.Decision = review.Decide(task.Mode, res.ResultsInOrder())
	d.log(LogLevelInfo, "task_done id=%s decision=%s providers=%d findings=%d",
		task.TaskID, res.Decision, len(results), len(res.Findings))
	return res
}

// detectAll probes every provider in the task before any admission.
// Undetected providers are excluded; auth failures are admitted anyway
// and surface through the child's own exit status.
func (d *Dispatcher) detectAll(ctx context.Context, task model.Task) map[string]model.ProviderSpec {
	specs := make(map[string]model.ProviderSpec, len(task.ProviderIDs))
	for _, providerID := range task.ProviderIDs {
		a, ok := d.registry.Lookup(providerID)
		if !ok {
			specs[providerID] = model.ProviderSpec{ID: providerID, Diagnostic: "no adapter registered"}
			continue
		}
		det := a.Detect(ctx)
		spec := model.ProviderSpec{
			ID:          providerID,
			BinaryName:  a.BinaryName(),
			Detected:    det.Detected,
			AuthOK:      det.AuthOK,
			BinaryPath:  det.BinaryPath,
			Version:     det.Version,
			Diagnostic:  det.Diagnostic,
			Permissions: task.Policy.PermissionsFor(providerID),
		}
		if det.Detected && !det.AuthOK {
			d.log(LogLevelWarn, "provider_auth_suspect id=%s diagnostic=%s", providerID, det.Diagnostic)
		}
		specs[providerID] = spec
	}
	return specs
}

// supervise runs one provider to a terminal state, retrying transient
// failures under the policy's retry budget. Cancelled runs are never
// retried.
func (d *Dispatcher) supervise(ctx context.Context, task model.Task, spec model.ProviderSpec, paths artifact.TaskPaths) model.ProviderResult {
	a, _ := d.registry.Lookup(spec.ID)
	maxAttempts := 1 + task.Policy.MaxRetries

	var last model.ProviderResult
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		last = d.runOnce(ctx, task, a, spec, paths, attempt)
		if last.ErrorKind.Cancelled() || last.RunState != model.StateExitedErr {
			return last
		}
		transient, marker := adapter.ClassifyTransient([]byte(last.ErrorDetail))
		if !transient || attempt == maxAttempts {
			return last
		}
		delay := retryDelay(task.Policy, attempt)
		d.log(LogLevelInfo, "provider_retry id=%s attempt=%d marker=%s delay=%s",
			spec.ID, attempt, marker, delay)
		if err := sleepCtx(ctx, delay); err != nil {
			return last
		}
	}
	return last
}

func retryDelay(p model.Policy, attempt int) time.Duration {
	delay := p.RetryBaseDelaySec * math.Pow(p.RetryBackoffMultiplier, float64(attempt-1))
	return time.Duration(delay * float64(time.Second))
}

// sleepCtx sleeps for d or returns early if ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runOnce performs a single spawn → supervise → finalize cycle.
func (d *Dispatcher) runOnce(ctx context.Context, task model.Task, a adapter.Adapter, spec model.ProviderSpec, paths artifact.TaskPaths, attempt int) model.ProviderResult {
	inv, err := a.BuildInvocation(task)
	if err != nil {
		kind := model.ErrSpawnFailed
		if errors.Is(err, adapter.ErrPermissionUnmet) {
			kind = model.ErrPermissionUnmet
		}
		d.log(LogLevelError, "invocation_failed id=%s error=%v", spec.ID, err)
		return failedResult(spec, model.StateSpawnFailed, kind, err.Error(), attempt)
	}

	stdoutFile, err := os.Create(paths.RawStdout(spec.ID))
	if err != nil {
		return failedResult(spec, model.StateSpawnFailed, model.ErrInternal, "open raw stdout: "+err.Error(), attempt)
	}
	defer stdoutFile.Close()
	stderrFile, err := os.Create(paths.RawStderr(spec.ID))
	if err != nil {
		return failedResult(spec, model.StateSpawnFailed, model.ErrInternal, "open raw stderr: "+err.Error(), attempt)
	}
	defer stderrFile.Close()

	r := runner.New(runner.Config{
		ProviderID:   spec.ID,
		Argv:         inv.Argv,
		Env:          append(adapter.SanitizedEnv(), inv.EnvOverrides...),
		Stdin:        inv.Stdin,
		Dir:          task.RepoPath,
		Grace:        time.Duration(task.Policy.CancelGraceSec) * time.Second,
		StdoutMirror: stdoutFile,
		StderrMirror: stderrFile,
	})

	d.log(LogLevelInfo, "provider_spawn id=%s attempt=%d argv0=%s", spec.ID, attempt, inv.Argv[0])
	if err := r.Start(); err != nil {
		d.log(LogLevelError, "spawn_failed id=%s error=%v", spec.ID, err)
		return failedResult(spec, model.StateSpawnFailed, model.ErrSpawnFailed, err.Error(), attempt)
	}

	d.register(spec.ID, r)
	// If the external interrupt already fired, this runner must not outlive it.
	if ctx.Err() != nil {
		r.Cancel(model.ErrCancelledExternal)
	}

	var hard time.Duration
	if task.Mode == model.ModeReview && task.Policy.ReviewHardTimeoutSec > 0 {
		hard = time.Duration(task.Policy.ReviewHardTimeoutSec) * time.Second
	}
	go watchdog.Watch(r, watchdog.Config{
		StallWindow:  time.Duration(task.Policy.StallWindowFor(spec.ID)) * time.Second,
		HardDeadline: hard,
	}, func(state model.RunState) {
		d.log(LogLevelDebug, "provider_state id=%s state=%s", spec.ID, state)
	})

	<-r.Done()
	d.unregister(spec.ID)

	outcome := r.Outcome()
	return normalize(task.Mode, a, spec, outcome, attempt)
}

func (d *Dispatcher) register(id string, r *runner.Runner) {
	d.mu.Lock()
	d.active[id] = r
	d.mu.Unlock()
}

func (d *Dispatcher) unregister(id string) {
	d.mu.Lock()
	delete(d.active, id)
	d.mu.Unlock()
}

func (d *Dispatcher) cancelActive(reason model.ErrorKind) {
	d.mu.Lock()
	runners := make([]*runner.Runner, 0, len(d.active))
	for _, r := range d.active {
		runners = append(runners, r)
	}
	d.mu.Unlock()
	for _, r := range runners {
		r.Cancel(reason)
	}
	if len(runners) > 0 {
		d.log(LogLevelWarn, "external_cancel runners=%d", len(runners))
	}
}

func aggregateFindings(res model.RunResult) []model.Finding {
	var out []model.Finding
	for _, pr := range res.ResultsInOrder() {
		out = append(out, pr.Findings...)
	}
	return out
}
