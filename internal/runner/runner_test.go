package runner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tt-a1i/mco/internal/model"
)

func shellRunner(t *testing.T, script string) *Runner {
	t.Helper()
	return New(Config{
		ProviderID: "test",
		Argv:       []string{"/bin/sh", "-c", script},
		Dir:        t.TempDir(),
		Grace:      500 * time.Millisecond,
	})
}

func waitDone(t *testing.T, r *Runner, timeout time.Duration) Outcome {
	t.Helper()
	select {
	case <-r.Done():
		return r.Outcome()
	case <-time.After(timeout):
		t.Fatal("runner did not reach a terminal state in time")
		return Outcome{}
	}
}

func TestRunner_HappyExit(t *testing.T) {
	r := shellRunner(t, `printf 'out-data'; printf 'err-data' >&2; exit 0`)
	require.NoError(t, r.Start())
	out := waitDone(t, r, 5*time.Second)

	assert.Equal(t, 0, out.ExitCode)
	assert.Empty(t, out.CancelReason)
	assert.Equal(t, "out-data", string(out.Stdout))
	assert.Equal(t, "err-data", string(out.Stderr))
	assert.Equal(t, uint64(8), out.StdoutBytes)
	assert.Equal(t, uint64(8), out.StderrBytes)
	assert.False(t, out.EndedAt.Before(out.StartedAt))
}

func TestRunner_NonzeroExit(t *testing.T) {
	r := shellRunner(t, `echo 'fatal: no api key' >&2; exit 3`)
	require.NoError(t, r.Start())
	out := waitDone(t, r, 5*time.Second)

	assert.Equal(t, 3, out.ExitCode)
	assert.Contains(t, string(out.Stderr), "no api key")
}

func TestRunner_SpawnFailed(t *testing.T) {
	r := New(Config{
		ProviderID: "test",
		Argv:       []string{"/nonexistent/binary"},
		Dir:        t.TempDir(),
	})
	assert.Error(t, r.Start())
}

func TestRunner_EmptyArgv(t *testing.T) {
	r := New(Config{ProviderID: "test"})
	assert.Error(t, r.Start())
}

func TestRunner_CancelKillsProcessGroup(t *testing.T) {
	// The child spawns a grandchild; killing the process group must take
	// both down within the grace window.
	r := shellRunner(t, `sleep 30 & wait`)
	require.NoError(t, r.Start())

	time.Sleep(100 * time.Millisecond)
	start := time.Now()
	r.Cancel(model.ErrCancelledStall)
	out := waitDone(t, r, 3*time.Second)

	assert.Equal(t, model.ErrCancelledStall, out.CancelReason)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRunner_CancelIsIdempotent(t *testing.T) {
	r := shellRunner(t, `sleep 30`)
	require.NoError(t, r.Start())
	time.Sleep(50 * time.Millisecond)

	r.Cancel(model.ErrCancelledHard)
	r.Cancel(model.ErrCancelledStall)
	r.Cancel(model.ErrCancelledExternal)

	out := waitDone(t, r, 3*time.Second)
	assert.Equal(t, model.ErrCancelledHard, out.CancelReason, "first cancel reason wins")
}

func TestRunner_CancelStubbornChild(t *testing.T) {
	// A child that traps SIGTERM is force-killed after the grace window.
	r := shellRunner(t, `trap '' TERM; while :; do sleep 1; done`)
	require.NoError(t, r.Start())
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	r.Cancel(model.ErrCancelledHard)
	out := waitDone(t, r, 5*time.Second)

	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 400*time.Millisecond, "should wait out the grace window")
	assert.Less(t, elapsed, 3*time.Second, "should be killed shortly after grace")
	assert.Equal(t, model.ErrCancelledHard, out.CancelReason)
}

func TestRunner_SnapshotMonotone(t *testing.T) {
	r := shellRunner(t, `for i in 1 2 3 4 5; do printf 'chunk'; sleep 0.05; done`)
	require.NoError(t, r.Start())

	var prev uint64
	for i := 0; i < 20; i++ {
		snap := r.Snapshot()
		total := snap.StdoutBytes + snap.StderrBytes
		require.GreaterOrEqual(t, total, prev, "byte counter must never decrease")
		prev = total
		time.Sleep(20 * time.Millisecond)
	}

	out := waitDone(t, r, 5*time.Second)
	assert.Equal(t, uint64(25), out.StdoutBytes)
}

func TestRunner_StdinDelivered(t *testing.T) {
	r := New(Config{
		ProviderID: "test",
		Argv:       []string{"/bin/sh", "-c", "cat"},
		Dir:        t.TempDir(),
		Stdin:      "prompt over stdin",
	})
	require.NoError(t, r.Start())
	out := waitDone(t, r, 5*time.Second)
	assert.Equal(t, "prompt over stdin", string(out.Stdout))
}
