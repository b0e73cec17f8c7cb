package adapter

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// installFakeBinary drops an executable shell script on a temp PATH.
func installFakeBinary(t *testing.T, name, script string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755))
	t.Setenv("PATH", dir)
}

func TestDetectBinary_Missing(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	det := detectBinary(context.Background(), "definitely-not-installed", []string{"--version"})
	assert.False(t, det.Detected)
	assert.Equal(t, "binary_not_found", det.Diagnostic)
}

func TestDetectBinary_HealthyProbe(t *testing.T) {
	installFakeBinary(t, "fakecli", `echo "fakecli 1.2.3"; exit 0`)
	det := detectBinary(context.Background(), "fakecli", []string{"--version"})
	assert.True(t, det.Detected)
	assert.True(t, det.AuthOK)
	assert.Equal(t, "fakecli 1.2.3", det.Version)
	assert.Equal(t, "ok", det.Diagnostic)
	assert.NotEmpty(t, det.BinaryPath)
}

func TestDetectBinary_AuthFailure(t *testing.T) {
	installFakeBinary(t, "fakecli", `echo "error: not logged in" >&2; exit 1`)
	det := detectBinary(context.Background(), "fakecli", []string{"--version"})
	assert.True(t, det.Detected)
	assert.False(t, det.AuthOK)
	assert.Equal(t, "auth_check_failed", det.Diagnostic)
}

func TestDetectBinary_ConfigError(t *testing.T) {
	installFakeBinary(t, "fakecli", `echo "unknown key in config.toml" >&2; exit 2`)
	det := detectBinary(context.Background(), "fakecli", []string{"--version"})
	assert.True(t, det.Detected)
	assert.False(t, det.AuthOK)
	assert.Equal(t, "probe_config_error", det.Diagnostic)
}

func TestDetectBinary_UnknownProbeFailure(t *testing.T) {
	installFakeBinary(t, "fakecli", `echo "boom" >&2; exit 1`)
	det := detectBinary(context.Background(), "fakecli", []string{"--version"})
	assert.True(t, det.Detected)
	assert.False(t, det.AuthOK)
	assert.Equal(t, "probe_unknown_error", det.Diagnostic)
}

func TestSanitizedEnv_StripsClaudeCode(t *testing.T) {
	t.Setenv("CLAUDECODE", "1")
	t.Setenv("KEEP_ME", "yes")
	env := SanitizedEnv()
	for _, entry := range env {
		assert.NotContains(t, entry, "CLAUDECODE=")
	}
	assert.Contains(t, env, "KEEP_ME=yes")
}
