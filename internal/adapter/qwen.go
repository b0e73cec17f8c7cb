package adapter

import (
	"context"
	"strings"

	"github.com/tt-a1i/mco/internal/model"
)

// QwenAdapter drives the Qwen Code CLI, which shares the Gemini CLI
// flag surface.
type QwenAdapter struct{}

func NewQwenAdapter() *QwenAdapter { return &QwenAdapter{} }

func (a *QwenAdapter) ID() string         { return "qwen" }
func (a *QwenAdapter) BinaryName() string { return "qwen" }

func (a *QwenAdapter) Detect(ctx context.Context) Detection {
	return detectBinary(ctx, a.BinaryName(), []string{"--version"})
}

var qwenPermissionFlags = map[string]func(string) []string{
	"skip_permissions": func(string) []string { return []string{"--yolo"} },
	"approval_mode":    func(v string) []string { return []string{"--approval-mode", v} },
	"model":            func(v string) []string { return []string{"--model", v} },
}

func (a *QwenAdapter) BuildInvocation(task model.Task) (Invocation, error) {
	args := []string{"--prompt", promptFor(task)}
	permArgs, err := applyPermissions(a.ID(), task, qwenPermissionFlags)
	if err != nil {
		return Invocation{}, err
	}
	args = append(args, permArgs...)
	return Invocation{Argv: append([]string{a.BinaryName()}, args...)}, nil
}

func (a *QwenAdapter) Parse(mode model.Mode, stdout, stderr []byte, exitCode int) ParseOutput {
	if mode == model.ModeRun {
		return ParseOutput{Payload: strings.TrimSpace(string(stdout))}
	}
	findings, diag := ExtractFindings(stdout)
	return ParseOutput{Findings: findings, Diagnostic: diag}
}
