package adapter

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"time"
)

// versionProbeBudget bounds the --version subprocess during detection.
const versionProbeBudget = 5 * time.Second

// strippedEnvVars are removed from the child environment so providers can
// be launched from inside a parent agent session.
var strippedEnvVars = []string{"CLAUDECODE"}

// SanitizedEnv returns the parent environment minus known conflicting
// variables.
func SanitizedEnv() []string {
	env := os.Environ()
	out := make([]string, 0, len(env))
	for _, entry := range env {
		if stripped(entry) {
			continue
		}
		out = append(out, entry)
	}
	return out
}

func stripped(entry string) bool {
	for _, name := range strippedEnvVars {
		if strings.HasPrefix(entry, name+"=") {
			return true
		}
	}
	return false
}

// detectBinary probes PATH for binaryName and, when found, runs the given
// probe arguments under versionProbeBudget to capture a version line and
// an auth diagnostic.
func detectBinary(ctx context.Context, binaryName string, probeArgs []string) Detection {
	path, err := exec.LookPath(binaryName)
	if err != nil {
		return Detection{Detected: false, Diagnostic: "binary_not_found"}
	}

	det := Detection{Detected: true, AuthOK: true, BinaryPath: path, Diagnostic: "ok"}
	if len(probeArgs) == 0 {
		return det
	}

	probeCtx, cancel := context.WithTimeout(ctx, versionProbeBudget)
	defer cancel()
	cmd := exec.CommandContext(probeCtx, path, probeArgs...)
	cmd.Env = SanitizedEnv()
	out, err := cmd.CombinedOutput()

	det.Version = lastLine(string(out))
	if err == nil {
		return det
	}

	det.AuthOK = false
	det.Diagnostic = classifyProbeFailure(string(out))
	return det
}

// classifyProbeFailure distinguishes auth failures from configuration
// errors by scanning the probe output for known markers.
func classifyProbeFailure(output string) string {
	lower := strings.ToLower(output)
	for _, marker := range []string{"configuration", "config", "unknown key", "invalid", "toml", "yaml"} {
		if strings.Contains(lower, marker) {
			return "probe_config_error"
		}
	}
	for _, marker := range []string{"not logged", "auth", "unauthorized", "token", "api key", "login"} {
		if strings.Contains(lower, marker) {
			return "auth_check_failed"
		}
	}
	return "probe_unknown_error"
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
