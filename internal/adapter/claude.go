package adapter

import (
	"context"
	"strings"

	"github.com/tt-a1i/mco/internal/model"
)

// ClaudeAdapter drives the Claude Code CLI in non-interactive print mode.
type ClaudeAdapter struct{}

func NewClaudeAdapter() *ClaudeAdapter { return &ClaudeAdapter{} }

func (a *ClaudeAdapter) ID() string         { return "claude" }
func (a *ClaudeAdapter) BinaryName() string { return "claude" }

func (a *ClaudeAdapter) Detect(ctx context.Context) Detection {
	return detectBinary(ctx, a.BinaryName(), []string{"--version"})
}

var claudePermissionFlags = map[string]func(string) []string{
	"skip_permissions": func(string) []string { return []string{"--dangerously-skip-permissions"} },
	"permission_mode":  func(v string) []string { return []string{"--permission-mode", v} },
	"allowed_tools":    func(v string) []string { return []string{"--allowedTools", v} },
	"model":            func(v string) []string { return []string{"--model", v} },
}

func (a *ClaudeAdapter) BuildInvocation(task model.Task) (Invocation, error) {
	args := []string{"-p", "--output-format", "json"}
	for _, dir := range task.Paths.AllowPaths {
		args = append(args, "--add-dir", dir)
	}
	permArgs, err := applyPermissions(a.ID(), task, claudePermissionFlags)
	if err != nil {
		return Invocation{}, err
	}
	args = append(args, permArgs...)
	return Invocation{Argv: append([]string{a.BinaryName()}, args...), Stdin: promptFor(task)}, nil
}

// claudeResult is the envelope `claude -p --output-format json` prints.
type claudeResult struct {
	Result string `json:"result"`
}

func (a *ClaudeAdapter) Parse(mode model.Mode, stdout, stderr []byte, exitCode int) ParseOutput {
	body := stdout
	var envelope claudeResult
	if err := jsonUnmarshal(stdout, &envelope); err == nil && envelope.Result != "" {
		body = []byte(envelope.Result)
	}
	if mode == model.ModeRun {
		return ParseOutput{Payload: strings.TrimSpace(string(body))}
	}
	findings, diag := ExtractFindings(body)
	return ParseOutput{Findings: findings, Diagnostic: diag}
}
