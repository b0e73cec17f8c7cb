package model

import "time"

// Decision is the aggregate outcome of a task.
type Decision string

const (
	DecisionPass     Decision = "PASS"
	DecisionFail     Decision = "FAIL"
	DecisionEscalate Decision = "ESCALATE"
	DecisionPartial  Decision = "PARTIAL"
)

// Process exit codes derived from the decision, plus the two error codes.
const (
	ExitPass     = 0
	ExitFail     = 1
	ExitEscalate = 2
	ExitPartial  = 3
	ExitUsage    = 64
	ExitInternal = 70
)

// ExitCode maps a decision onto the process exit code.
func (d Decision) ExitCode() int {
	switch d {
	case DecisionPass:
		return ExitPass
	case DecisionFail:
		return ExitFail
	case DecisionEscalate:
		return ExitEscalate
	case DecisionPartial:
		return ExitPartial
	default:
		return ExitInternal
	}
}

// ProviderResult is the normalized outcome of one provider's run.
// Materialized on runner termination.
type ProviderResult struct {
	ProviderID   string     `json:"provider_id"`
	RunState     RunState   `json:"run_state"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	ExitCode     *int       `json:"exit_code,omitempty"`
	StdoutBytes  uint64     `json:"stdout_bytes"`
	StderrBytes  uint64     `json:"stderr_bytes"`
	Findings     []Finding  `json:"findings,omitempty"`
	Payload      string     `json:"payload,omitempty"`
	ErrorKind    ErrorKind  `json:"error_kind,omitempty"`
	ErrorDetail  string     `json:"error_detail,omitempty"`
	Attempts     int        `json:"attempts,omitempty"`
	Warnings     []string   `json:"warnings,omitempty"`
	ParseNote    string     `json:"parse_diagnostic,omitempty"`
	AuthOK       bool       `json:"auth_ok"`
	DurationSec  int64      `json:"duration_seconds"`
}

// RunResult is the aggregate document for one task. Materialized once
// every runner has reached a terminal state.
type RunResult struct {
	TaskID          string                    `json:"task_id"`
	Mode            Mode                      `json:"mode"`
	StartedAt       time.Time                 `json:"started_at"`
	EndedAt         time.Time                 `json:"ended_at"`
	DurationSec     int64                     `json:"duration_seconds"`
	Decision        Decision                  `json:"decision"`
	ProviderOrder   []string                  `json:"provider_order"`
	ProviderResults map[string]ProviderResult `json:"provider_results"`
	Findings        []Finding                 `json:"findings"`
}

// ResultsInOrder returns the provider results in canonical provider order.
func (r RunResult) ResultsInOrder() []ProviderResult {
	out := make([]ProviderResult, 0, len(r.ProviderOrder))
	for _, id := range r.ProviderOrder {
		if pr, ok := r.ProviderResults[id]; ok {
			out = append(out, pr)
		}
	}
	return out
}
