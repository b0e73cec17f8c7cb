package dispatch

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tt-a1i/mco/internal/adapter"
	"github.com/tt-a1i/mco/internal/artifact"
	"github.com/tt-a1i/mco/internal/model"
)

// fakeAdapter satisfies the adapter contract with a shell script child,
// so dispatcher behavior can be exercised without any real provider CLI.
type fakeAdapter struct {
	id       string
	script   string
	detected bool
	spawns   atomic.Int32
}

func (f *fakeAdapter) ID() string         { return f.id }
func (f *fakeAdapter) BinaryName() string { return "/bin/sh" }

func (f *fakeAdapter) Detect(ctx context.Context) adapter.Detection {
	if !f.detected {
		return adapter.Detection{Detected: false, Diagnostic: "binary_not_found"}
	}
	return adapter.Detection{Detected: true, AuthOK: true, Diagnostic: "ok"}
}

func (f *fakeAdapter) BuildInvocation(task model.Task) (adapter.Invocation, error) {
	f.spawns.Add(1)
	return adapter.Invocation{Argv: []string{"/bin/sh", "-c", f.script}}, nil
}

func (f *fakeAdapter) Parse(mode model.Mode, stdout, stderr []byte, exitCode int) adapter.ParseOutput {
	if mode == model.ModeRun {
		return adapter.ParseOutput{Payload: string(stdout)}
	}
	findings, diag := adapter.ExtractFindings(stdout)
	return adapter.ParseOutput{Findings: findings, Diagnostic: diag}
}

func findingScript(severity string) string {
	return fmt.Sprintf(`printf '{"findings":[{"severity":"%s","category":"bug","title":"issue from %s"}]}'`, severity, severity)
}

func testTask(t *testing.T, mode model.Mode, providerIDs []string, mutate func(*model.Policy)) (model.Task, artifact.TaskPaths) {
	t.Helper()
	policy := model.ApplyPolicyDefaults(model.Policy{StallTimeoutSec: 2, CancelGraceSec: 1})
	if mutate != nil {
		mutate(&policy)
	}
	task := model.Task{
		TaskID:      model.NewTaskID(time.Now()),
		Mode:        mode,
		Prompt:      "test prompt",
		RepoPath:    t.TempDir(),
		ProviderIDs: providerIDs,
		Policy:      policy,
	}
	paths, err := artifact.Prepare(t.TempDir(), task.TaskID)
	require.NoError(t, err)
	return task, paths
}

func newTestDispatcher(adapters ...adapter.Adapter) *Dispatcher {
	return New(adapter.NewRegistry(adapters...), log.New(os.Stderr, "", 0), LogLevelError)
}

func TestRun_HappyPathTwoProviders(t *testing.T) {
	d := newTestDispatcher(
		&fakeAdapter{id: "claude", detected: true, script: findingScript("high")},
		&fakeAdapter{id: "codex", detected: true, script: findingScript("high")},
	)
	task, paths := testTask(t, model.ModeReview, []string{"claude", "codex"}, nil)

	res := d.Run(context.Background(), task, paths)

	assert.Equal(t, model.DecisionEscalate, res.Decision)
	assert.Equal(t, 2, res.Decision.ExitCode())
	require.Len(t, res.Findings, 2)
	assert.Equal(t, "claude", res.Findings[0].ProviderID)
	assert.Equal(t, "codex", res.Findings[1].ProviderID)
	assert.Equal(t, 1, res.Findings[0].Ordinal)
	assert.Equal(t, model.StateExitedOK, res.ProviderResults["claude"].RunState)
	assert.Equal(t, model.StateExitedOK, res.ProviderResults["codex"].RunState)
}

func TestRun_OneStallerYieldsPartial(t *testing.T) {
	d := newTestDispatcher(
		&fakeAdapter{id: "claude", detected: true, script: findingScript("low")},
		&fakeAdapter{id: "codex", detected: true, script: "sleep 30"},
	)
	task, paths := testTask(t, model.ModeReview, []string{"claude", "codex"}, func(p *model.Policy) {
		p.StallTimeoutSec = 1
	})

	start := time.Now()
	res := d.Run(context.Background(), task, paths)

	assert.Equal(t, model.StateExitedOK, res.ProviderResults["claude"].RunState)
	assert.Equal(t, model.StateCancelledStall, res.ProviderResults["codex"].RunState)
	assert.Equal(t, model.ErrCancelledStall, res.ProviderResults["codex"].ErrorKind)
	assert.Equal(t, model.DecisionPartial, res.Decision)
	assert.Equal(t, 3, res.Decision.ExitCode())
	// wait-all completes shortly after stall window + grace
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Len(t, res.ProviderResults, 2, "every provider appears in the result")
}

func TestRun_UndetectedProviderSkipped(t *testing.T) {
	d := newTestDispatcher(
		&fakeAdapter{id: "claude", detected: true, script: `printf 'looks fine'`},
		&fakeAdapter{id: "qwen", detected: false},
	)
	task, paths := testTask(t, model.ModeReview, []string{"claude", "qwen"}, nil)

	res := d.Run(context.Background(), task, paths)

	qwen := res.ProviderResults["qwen"]
	assert.Equal(t, model.StateSkippedUndetected, qwen.RunState)
	assert.Equal(t, model.ErrNotDetected, qwen.ErrorKind)
	assert.Equal(t, model.DecisionPartial, res.Decision)
}

func TestRun_CriticalFindingOverrides(t *testing.T) {
	d := newTestDispatcher(
		&fakeAdapter{id: "claude", detected: true, script: findingScript("critical")},
		&fakeAdapter{id: "codex", detected: true, script: findingScript("low")},
		&fakeAdapter{id: "gemini", detected: true, script: findingScript("low")},
	)
	task, paths := testTask(t, model.ModeReview, []string{"claude", "codex", "gemini"}, nil)

	res := d.Run(context.Background(), task, paths)
	assert.Equal(t, model.DecisionFail, res.Decision)
	assert.Equal(t, 1, res.Decision.ExitCode())
}

func TestRun_ExternalInterrupt(t *testing.T) {
	d := newTestDispatcher(
		&fakeAdapter{id: "claude", detected: true, script: "sleep 30"},
		&fakeAdapter{id: "codex", detected: true, script: "sleep 30"},
	)
	task, paths := testTask(t, model.ModeReview, []string{"claude", "codex"}, func(p *model.Policy) {
		p.StallTimeoutSec = 60
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(300 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	res := d.Run(ctx, task, paths)

	for _, id := range []string{"claude", "codex"} {
		pr := res.ProviderResults[id]
		assert.Equal(t, model.StateCancelledExternal, pr.RunState, "provider %s", id)
		assert.Equal(t, model.ErrCancelledExternal, pr.ErrorKind, "provider %s", id)
	}
	assert.Equal(t, model.DecisionFail, res.Decision)
	assert.Less(t, time.Since(start), 10*time.Second, "interrupt must not wait out the stall window")
}

func TestRun_BoundedAdmission(t *testing.T) {
	// Cap of 1: providers run one at a time; a concurrent-runner witness
	// file would overlap otherwise.
	dir := t.TempDir()
	marker := filepath.Join(dir, "active")
	script := fmt.Sprintf(
		`test -e %s && { echo overlap >> %s; }; touch %s; sleep 0.3; rm -f %s; printf ok`,
		marker, filepath.Join(dir, "overlap"), marker, marker)

	d := newTestDispatcher(
		&fakeAdapter{id: "claude", detected: true, script: script},
		&fakeAdapter{id: "codex", detected: true, script: script},
		&fakeAdapter{id: "gemini", detected: true, script: script},
	)
	task, paths := testTask(t, model.ModeRun, []string{"claude", "codex", "gemini"}, func(p *model.Policy) {
		p.MaxProviderParallelism = 1
	})

	res := d.Run(context.Background(), task, paths)

	assert.Equal(t, model.DecisionPass, res.Decision)
	_, err := os.Stat(filepath.Join(dir, "overlap"))
	assert.True(t, os.IsNotExist(err), "runners overlapped despite parallelism cap of 1")
}

func TestRun_RunModePayload(t *testing.T) {
	d := newTestDispatcher(
		&fakeAdapter{id: "claude", detected: true, script: `printf 'task complete'`},
	)
	task, paths := testTask(t, model.ModeRun, []string{"claude"}, nil)

	res := d.Run(context.Background(), task, paths)
	assert.Equal(t, model.DecisionPass, res.Decision)
	assert.Equal(t, "task complete", res.ProviderResults["claude"].Payload)
	assert.Empty(t, res.Findings)
}

func TestRun_TransientErrorRetried(t *testing.T) {
	dir := t.TempDir()
	attemptFile := filepath.Join(dir, "attempts")
	// First attempt fails with a retryable marker, second succeeds.
	script := fmt.Sprintf(
		`if [ -e %s ]; then printf '{"findings":[{"severity":"low","title":"ok now"}]}'; else touch %s; echo 'rate limit exceeded' >&2; exit 1; fi`,
		attemptFile, attemptFile)

	fa := &fakeAdapter{id: "claude", detected: true, script: script}
	d := newTestDispatcher(fa)
	task, paths := testTask(t, model.ModeReview, []string{"claude"}, func(p *model.Policy) {
		p.MaxRetries = 1
		p.RetryBaseDelaySec = 0.05
	})

	res := d.Run(context.Background(), task, paths)

	pr := res.ProviderResults["claude"]
	assert.Equal(t, model.StateExitedOK, pr.RunState)
	assert.Equal(t, 2, pr.Attempts)
	assert.Equal(t, int32(2), fa.spawns.Load())
	assert.Equal(t, model.DecisionPass, res.Decision)
}

func TestRun_NonTransientErrorNotRetried(t *testing.T) {
	fa := &fakeAdapter{id: "claude", detected: true, script: `echo 'invalid api key' >&2; exit 1`}
	d := newTestDispatcher(fa)
	task, paths := testTask(t, model.ModeReview, []string{"claude"}, func(p *model.Policy) {
		p.MaxRetries = 2
	})

	res := d.Run(context.Background(), task, paths)

	pr := res.ProviderResults["claude"]
	assert.Equal(t, model.StateExitedErr, pr.RunState)
	assert.Equal(t, model.ErrExitNonzero, pr.ErrorKind)
	assert.Equal(t, int32(1), fa.spawns.Load(), "non-transient failures are not retried")
	assert.Equal(t, model.DecisionFail, res.Decision)
}

func TestRun_ParseEmptyIsInformational(t *testing.T) {
	d := newTestDispatcher(
		&fakeAdapter{id: "claude", detected: true, script: `printf 'prose without findings'`},
	)
	task, paths := testTask(t, model.ModeReview, []string{"claude"}, nil)

	res := d.Run(context.Background(), task, paths)

	pr := res.ProviderResults["claude"]
	assert.Equal(t, model.StateExitedOK, pr.RunState)
	assert.Equal(t, model.ErrParseEmpty, pr.ErrorKind)
	assert.NotEmpty(t, pr.ParseNote)
	assert.Equal(t, model.DecisionPass, res.Decision, "parse_empty is not a failure")
}

func TestRun_RawLogsSpilledToDisk(t *testing.T) {
	d := newTestDispatcher(
		&fakeAdapter{id: "claude", detected: true, script: `printf stdout-content; printf stderr-content >&2`},
	)
	task, paths := testTask(t, model.ModeRun, []string{"claude"}, nil)

	d.Run(context.Background(), task, paths)

	stdout, err := os.ReadFile(paths.RawStdout("claude"))
	require.NoError(t, err)
	assert.Equal(t, "stdout-content", string(stdout))
	stderr, err := os.ReadFile(paths.RawStderr("claude"))
	require.NoError(t, err)
	assert.Equal(t, "stderr-content", string(stderr))
}

func TestRun_OrderingStableAcrossRuns(t *testing.T) {
	mk := func() *Dispatcher {
		return newTestDispatcher(
			&fakeAdapter{id: "gemini", detected: true, script: findingScript("low")},
			&fakeAdapter{id: "claude", detected: true, script: findingScript("medium")},
		)
	}
	providerSeq := func(res model.RunResult) []string {
		var seq []string
		for _, f := range res.Findings {
			seq = append(seq, f.ProviderID)
		}
		return seq
	}

	task1, paths1 := testTask(t, model.ModeReview, []string{"gemini", "claude"}, nil)
	res1 := mk().Run(context.Background(), task1, paths1)
	task2, paths2 := testTask(t, model.ModeReview, []string{"gemini", "claude"}, nil)
	res2 := mk().Run(context.Background(), task2, paths2)

	assert.Equal(t, []string{"gemini", "claude"}, providerSeq(res1))
	assert.Equal(t, providerSeq(res1), providerSeq(res2))
}
