package adapter

import (
	"context"
	"strings"

	"github.com/tt-a1i/mco/internal/model"
)

// OpenCodeAdapter drives the OpenCode CLI via `opencode run`.
type OpenCodeAdapter struct{}

func NewOpenCodeAdapter() *OpenCodeAdapter { return &OpenCodeAdapter{} }

func (a *OpenCodeAdapter) ID() string         { return "opencode" }
func (a *OpenCodeAdapter) BinaryName() string { return "opencode" }

func (a *OpenCodeAdapter) Detect(ctx context.Context) Detection {
	return detectBinary(ctx, a.BinaryName(), []string{"--version"})
}

var opencodePermissionFlags = map[string]func(string) []string{
	"model": func(v string) []string { return []string{"--model", v} },
	"agent": func(v string) []string { return []string{"--agent", v} },
}

func (a *OpenCodeAdapter) BuildInvocation(task model.Task) (Invocation, error) {
	args := []string{"run"}
	permArgs, err := applyPermissions(a.ID(), task, opencodePermissionFlags)
	if err != nil {
		return Invocation{}, err
	}
	args = append(args, permArgs...)
	args = append(args, promptFor(task))
	return Invocation{Argv: append([]string{a.BinaryName()}, args...)}, nil
}

func (a *OpenCodeAdapter) Parse(mode model.Mode, stdout, stderr []byte, exitCode int) ParseOutput {
	if mode == model.ModeRun {
		return ParseOutput{Payload: strings.TrimSpace(string(stdout))}
	}
	findings, diag := ExtractFindings(stdout)
	return ParseOutput{Findings: findings, Diagnostic: diag}
}
