// Package adapter translates between provider CLIs and the orchestrator's
// uniform contract: probe the binary, build its argument vector from a
// normalized task, and recover findings from its output.
package adapter

import (
	"context"
	"errors"
	"sort"

	"github.com/tt-a1i/mco/internal/model"
)

// ErrPermissionUnmet is returned by BuildInvocation when enforcement is
// strict and a requested permission option cannot be expressed for the
// provider's CLI.
var ErrPermissionUnmet = errors.New("permission option cannot be honored")

// Detection is the outcome of probing for a provider binary.
type Detection struct {
	Detected   bool
	AuthOK     bool
	BinaryPath string
	Version    string
	Diagnostic string
}

// Invocation is everything the runner needs to spawn a provider child.
type Invocation struct {
	Argv         []string
	EnvOverrides []string // KEY=VALUE entries layered over the sanitized parent env
	Stdin        string
}

// ParseOutput is an adapter's reading of a finished child's output.
// Zero findings with a non-empty Diagnostic is not an error.
type ParseOutput struct {
	Findings   []model.Finding
	Payload    string
	Diagnostic string
}

// Adapter is the uniform per-provider contract. Adapters are stateless
// with respect to the task; they hold no per-run state between calls.
type Adapter interface {
	ID() string
	BinaryName() string

	// Detect probes PATH and may invoke a fast --version-like subcommand
	// under a short budget. It must not block on network.
	Detect(ctx context.Context) Detection

	// BuildInvocation encodes the prompt, repo path, path constraints, and
	// permission options into the provider's CLI syntax. Under strict
	// enforcement an un-honorable permission option yields an error
	// wrapping ErrPermissionUnmet.
	BuildInvocation(task model.Task) (Invocation, error)

	// Parse recovers findings (review mode) or a free-text payload (run
	// mode) from the captured streams and exit status.
	Parse(mode model.Mode, stdout, stderr []byte, exitCode int) ParseOutput
}

// applyPermissions maps free-form permission options onto CLI flags using
// the provider's known-key table. Unknown keys are a strict-mode failure;
// in lenient mode they are skipped without a diagnostic.
func applyPermissions(providerID string, task model.Task, known map[string]func(value string) []string) ([]string, error) {
	opts := task.Policy.PermissionsFor(providerID)
	if len(opts) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(opts))
	for key := range opts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var args []string
	for _, key := range keys {
		value := opts[key]
		expand, ok := known[key]
		if !ok {
			if task.Policy.EnforcementMode == model.EnforcementStrict {
				return nil, errors.Join(ErrPermissionUnmet, errors.New("option "+key+" for provider "+providerID))
			}
			continue
		}
		args = append(args, expand(value)...)
	}
	return args, nil
}
