package adapter

import (
	"context"
	"strings"

	"github.com/tt-a1i/mco/internal/model"
)

// CodexAdapter drives the OpenAI Codex CLI via `codex exec`.
type CodexAdapter struct{}

func NewCodexAdapter() *CodexAdapter { return &CodexAdapter{} }

func (a *CodexAdapter) ID() string         { return "codex" }
func (a *CodexAdapter) BinaryName() string { return "codex" }

func (a *CodexAdapter) Detect(ctx context.Context) Detection {
	return detectBinary(ctx, a.BinaryName(), []string{"--version"})
}

var codexPermissionFlags = map[string]func(string) []string{
	"sandbox":          func(v string) []string { return []string{"--sandbox", v} },
	"approval":         func(v string) []string { return []string{"--ask-for-approval", v} },
	"skip_permissions": func(string) []string { return []string{"--dangerously-bypass-approvals-and-sandbox"} },
	"model":            func(v string) []string { return []string{"--model", v} },
}

func (a *CodexAdapter) BuildInvocation(task model.Task) (Invocation, error) {
	args := []string{"exec", "--cd", task.RepoPath}
	permArgs, err := applyPermissions(a.ID(), task, codexPermissionFlags)
	if err != nil {
		return Invocation{}, err
	}
	args = append(args, permArgs...)
	args = append(args, promptFor(task))
	return Invocation{Argv: append([]string{a.BinaryName()}, args...)}, nil
}

func (a *CodexAdapter) Parse(mode model.Mode, stdout, stderr []byte, exitCode int) ParseOutput {
	if mode == model.ModeRun {
		return ParseOutput{Payload: strings.TrimSpace(string(stdout))}
	}
	findings, diag := ExtractFindings(stdout)
	return ParseOutput{Findings: findings, Diagnostic: diag}
}
