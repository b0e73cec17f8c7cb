package adapter

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tt-a1i/mco/internal/model"
)

func reviewTask(mutate func(*model.Task)) model.Task {
	task := model.Task{
		TaskID:   "20260214T093011Z-3f2a9c1d",
		Mode:     model.ModeReview,
		Prompt:   "Review the auth package",
		RepoPath: "/tmp/repo",
		Policy:   model.ApplyPolicyDefaults(model.Policy{}),
	}
	if mutate != nil {
		mutate(&task)
	}
	return task
}

func TestClaudeInvocation(t *testing.T) {
	inv, err := NewClaudeAdapter().BuildInvocation(reviewTask(nil))
	require.NoError(t, err)
	assert.Equal(t, "claude", inv.Argv[0])
	assert.Contains(t, inv.Argv, "-p")
	assert.Contains(t, inv.Argv, "--output-format")
	assert.Contains(t, inv.Stdin, "Review the auth package")
	assert.Contains(t, inv.Stdin, `"findings"`)
}

func TestClaudeInvocation_AllowPaths(t *testing.T) {
	task := reviewTask(func(task *model.Task) {
		task.Paths.AllowPaths = []string{"internal", "cmd"}
	})
	inv, err := NewClaudeAdapter().BuildInvocation(task)
	require.NoError(t, err)
	joined := strings.Join(inv.Argv, " ")
	assert.Contains(t, joined, "--add-dir internal")
	assert.Contains(t, joined, "--add-dir cmd")
}

func TestClaudeInvocation_Permissions(t *testing.T) {
	task := reviewTask(func(task *model.Task) {
		task.Policy.ProviderPermissions = map[string]map[string]string{
			"claude": {"skip_permissions": "true", "model": "opus"},
		}
	})
	inv, err := NewClaudeAdapter().BuildInvocation(task)
	require.NoError(t, err)
	joined := strings.Join(inv.Argv, " ")
	assert.Contains(t, joined, "--model opus")
	assert.Contains(t, joined, "--dangerously-skip-permissions")
}

func TestStrictMode_UnknownPermissionUnmet(t *testing.T) {
	task := reviewTask(func(task *model.Task) {
		task.Policy.EnforcementMode = model.EnforcementStrict
		task.Policy.ProviderPermissions = map[string]map[string]string{
			"claude": {"quantum_sandbox": "on"},
		}
	})
	_, err := NewClaudeAdapter().BuildInvocation(task)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPermissionUnmet))
}

func TestLenientMode_UnknownPermissionIgnored(t *testing.T) {
	task := reviewTask(func(task *model.Task) {
		task.Policy.EnforcementMode = model.EnforcementLenient
		task.Policy.ProviderPermissions = map[string]map[string]string{
			"claude": {"quantum_sandbox": "on", "model": "opus"},
		}
	})
	inv, err := NewClaudeAdapter().BuildInvocation(task)
	require.NoError(t, err)
	joined := strings.Join(inv.Argv, " ")
	assert.Contains(t, joined, "--model opus")
	assert.NotContains(t, joined, "quantum_sandbox")
}

func TestCodexInvocation(t *testing.T) {
	inv, err := NewCodexAdapter().BuildInvocation(reviewTask(nil))
	require.NoError(t, err)
	assert.Equal(t, "codex", inv.Argv[0])
	assert.Equal(t, "exec", inv.Argv[1])
	assert.Contains(t, inv.Argv, "--cd")
	assert.Contains(t, inv.Argv, "/tmp/repo")
	// prompt travels as the trailing positional argument
	assert.Contains(t, inv.Argv[len(inv.Argv)-1], "Review the auth package")
}

func TestGeminiInvocation_TargetPathsInPrompt(t *testing.T) {
	task := reviewTask(func(task *model.Task) {
		task.Paths.TargetPaths = []string{"internal/auth"}
	})
	inv, err := NewGeminiAdapter().BuildInvocation(task)
	require.NoError(t, err)
	joined := strings.Join(inv.Argv, " ")
	assert.Contains(t, joined, "--prompt")
	assert.Contains(t, joined, "internal/auth")
}

func TestInvocations_DeterministicPermissionOrder(t *testing.T) {
	task := reviewTask(func(task *model.Task) {
		task.Policy.ProviderPermissions = map[string]map[string]string{
			"qwen": {"model": "qwen3", "approval_mode": "auto", "skip_permissions": "1"},
		}
	})
	first, err := NewQwenAdapter().BuildInvocation(task)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := NewQwenAdapter().BuildInvocation(task)
		require.NoError(t, err)
		assert.Equal(t, first.Argv, again.Argv)
	}
}

func TestRunModeParse_Payload(t *testing.T) {
	for _, a := range DefaultRegistry().IDs() {
		adapterImpl, _ := DefaultRegistry().Lookup(a)
		out := adapterImpl.Parse(model.ModeRun, []byte("did the thing\n"), nil, 0)
		assert.Empty(t, out.Findings, "adapter %s", a)
		assert.NotEmpty(t, out.Payload, "adapter %s", a)
	}
}

func TestClaudeParse_ResultEnvelope(t *testing.T) {
	stdout := []byte(`{"result": "{\"findings\": [{\"severity\": \"high\", \"title\": \"X\"}]}"}`)
	out := NewClaudeAdapter().Parse(model.ModeReview, stdout, nil, 0)
	require.Len(t, out.Findings, 1)
	assert.Equal(t, "X", out.Findings[0].Title)
}
