package dispatch

import (
	"math"
	"time"

	"github.com/tt-a1i/mco/internal/adapter"
	"github.com/tt-a1i/mco/internal/model"
	"github.com/tt-a1i/mco/internal/runner"
)

// normalize turns a runner outcome plus the adapter's parse into the
// uniform ProviderResult, tagging findings with the provider and a
// stable per-finding ordinal.
func normalize(mode model.Mode, a adapter.Adapter, spec model.ProviderSpec, out runner.Outcome, attempt int) model.ProviderResult {
	pr := model.ProviderResult{
		ProviderID:  spec.ID,
		AuthOK:      spec.AuthOK,
		Attempts:    attempt,
		StdoutBytes: out.StdoutBytes,
		StderrBytes: out.StderrBytes,
		Warnings:    adapter.DetectWarnings(out.Stderr),
	}
	if !out.StartedAt.IsZero() {
		started := out.StartedAt
		pr.StartedAt = &started
	}
	if !out.EndedAt.IsZero() {
		ended := out.EndedAt
		pr.EndedAt = &ended
		pr.DurationSec = int64(math.Round(out.EndedAt.Sub(out.StartedAt).Seconds()))
	}

	if reason := out.CancelReason; reason != "" {
		pr.RunState = stateForCancel(reason)
		pr.ErrorKind = reason
		return pr
	}

	exitCode := out.ExitCode
	pr.ExitCode = &exitCode
	parsed := a.Parse(mode, out.Stdout, out.Stderr, exitCode)
	pr.Findings = tagFindings(spec.ID, parsed.Findings)
	pr.Payload = parsed.Payload
	pr.ParseNote = parsed.Diagnostic

	if exitCode == 0 {
		pr.RunState = model.StateExitedOK
		if mode == model.ModeReview && len(pr.Findings) == 0 {
			pr.ErrorKind = model.ErrParseEmpty
		}
		return pr
	}

	pr.RunState = model.StateExitedErr
	if len(pr.Findings) == 0 && parsed.Payload == "" {
		pr.ErrorKind = model.ErrExitNonzero
	}
	pr.ErrorDetail = tailOf(out.Stderr, 2048)
	return pr
}

func stateForCancel(reason model.ErrorKind) model.RunState {
	switch reason {
	case model.ErrCancelledStall:
		return model.StateCancelledStall
	case model.ErrCancelledHard:
		return model.StateCancelledHard
	default:
		return model.StateCancelledExternal
	}
}

func tagFindings(providerID string, findings []model.Finding) []model.Finding {
	out := make([]model.Finding, len(findings))
	for i, f := range findings {
		f.ProviderID = providerID
		f.Ordinal = i + 1
		out[i] = f
	}
	return out
}

// undetectedResult finalizes a provider whose binary was never found.
func undetectedResult(spec model.ProviderSpec) model.ProviderResult {
	return model.ProviderResult{
		ProviderID:  spec.ID,
		RunState:    model.StateSkippedUndetected,
		ErrorKind:   model.ErrNotDetected,
		ErrorDetail: spec.Diagnostic,
		AuthOK:      spec.AuthOK,
	}
}

// neverAdmittedResult finalizes a provider cancelled while still pending
// in the admission queue.
func neverAdmittedResult(spec model.ProviderSpec, kind model.ErrorKind) model.ProviderResult {
	return model.ProviderResult{
		ProviderID: spec.ID,
		RunState:   stateForCancel(kind),
		ErrorKind:  kind,
		AuthOK:     spec.AuthOK,
	}
}

func failedResult(spec model.ProviderSpec, state model.RunState, kind model.ErrorKind, detail string, attempt int) model.ProviderResult {
	now := time.Now().UTC()
	return model.ProviderResult{
		ProviderID:  spec.ID,
		RunState:    state,
		ErrorKind:   kind,
		ErrorDetail: detail,
		Attempts:    attempt,
		AuthOK:      spec.AuthOK,
		StartedAt:   &now,
		EndedAt:     &now,
	}
}

func tailOf(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[len(b)-n:])
}
