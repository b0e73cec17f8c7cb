package adapter

import (
	"context"
	"strings"

	"github.com/tt-a1i/mco/internal/model"
)

// GeminiAdapter drives the Gemini CLI in non-interactive prompt mode.
type GeminiAdapter struct{}

func NewGeminiAdapter() *GeminiAdapter { return &GeminiAdapter{} }

func (a *GeminiAdapter) ID() string         { return "gemini" }
func (a *GeminiAdapter) BinaryName() string { return "gemini" }

func (a *GeminiAdapter) Detect(ctx context.Context) Detection {
	return detectBinary(ctx, a.BinaryName(), []string{"--version"})
}

var geminiPermissionFlags = map[string]func(string) []string{
	"skip_permissions": func(string) []string { return []string{"--yolo"} },
	"approval_mode":    func(v string) []string { return []string{"--approval-mode", v} },
	"model":            func(v string) []string { return []string{"--model", v} },
}

func (a *GeminiAdapter) BuildInvocation(task model.Task) (Invocation, error) {
	args := []string{"--prompt", promptFor(task)}
	for _, dir := range task.Paths.AllowPaths {
		args = append(args, "--include-directories", dir)
	}
	permArgs, err := applyPermissions(a.ID(), task, geminiPermissionFlags)
	if err != nil {
		return Invocation{}, err
	}
	args = append(args, permArgs...)
	return Invocation{Argv: append([]string{a.BinaryName()}, args...)}, nil
}

func (a *GeminiAdapter) Parse(mode model.Mode, stdout, stderr []byte, exitCode int) ParseOutput {
	if mode == model.ModeRun {
		return ParseOutput{Payload: strings.TrimSpace(string(stdout))}
	}
	findings, diag := ExtractFindings(stdout)
	return ParseOutput{Findings: findings, Diagnostic: diag}
}
