// Package model defines the data structures for MCO's tasks, policies,
// provider results, and run documents.
package model

// Mode selects the orchestration behavior for a task.
type Mode string

const (
	ModeReview Mode = "review"
	ModeRun    Mode = "run"
)

// EnforcementMode controls how adapters treat permission options they
// cannot express for their CLI.
type EnforcementMode string

const (
	EnforcementStrict  EnforcementMode = "strict"
	EnforcementLenient EnforcementMode = "lenient"
)

// KnownProviders is the closed provider set, in canonical order.
var KnownProviders = []string{"claude", "codex", "gemini", "opencode", "qwen"}

// Task is one invocation of the orchestrator: a frozen prompt, provider
// set, and policy. Immutable after dispatch entry.
type Task struct {
	TaskID      string          `json:"task_id"`
	Mode        Mode            `json:"mode"`
	Prompt      string          `json:"prompt"`
	RepoPath    string          `json:"repo_path"`
	ProviderIDs []string        `json:"provider_ids"`
	Policy      Policy          `json:"policy"`
	Paths       PathConstraints `json:"path_constraints"`
}

// Policy carries the supervision knobs for a task.
type Policy struct {
	StallTimeoutSec         int                          `json:"stall_timeout_seconds" yaml:"stall_timeout_seconds"`
	ReviewHardTimeoutSec    int                          `json:"review_hard_timeout_seconds" yaml:"review_hard_timeout_seconds"`
	MaxProviderParallelism  int                          `json:"max_provider_parallelism" yaml:"max_provider_parallelism"`
	EnforcementMode         EnforcementMode              `json:"enforcement_mode" yaml:"enforcement_mode"`
	ProviderTimeouts        map[string]int               `json:"provider_timeouts,omitempty" yaml:"provider_timeouts,omitempty"`
	ProviderPermissions     map[string]map[string]string `json:"provider_permissions,omitempty" yaml:"provider_permissions,omitempty"`
	CancelGraceSec          int                          `json:"cancel_grace_seconds,omitempty" yaml:"cancel_grace_seconds,omitempty"`
	MaxRetries              int                          `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	RetryBaseDelaySec       float64                      `json:"retry_base_delay_seconds,omitempty" yaml:"retry_base_delay_seconds,omitempty"`
	RetryBackoffMultiplier  float64                      `json:"retry_backoff_multiplier,omitempty" yaml:"retry_backoff_multiplier,omitempty"`
}

// PathConstraints restricts where providers may read and write.
type PathConstraints struct {
	AllowPaths  []string `json:"allow_paths,omitempty"`
	TargetPaths []string `json:"target_paths,omitempty"`
}

// ApplyPolicyDefaults fills zero values with the built-in defaults.
func ApplyPolicyDefaults(p Policy) Policy {
	if p.StallTimeoutSec <= 0 {
		p.StallTimeoutSec = 900
	}
	if p.ReviewHardTimeoutSec < 0 {
		p.ReviewHardTimeoutSec = 0
	}
	if p.MaxProviderParallelism < 0 {
		p.MaxProviderParallelism = 0
	}
	if p.EnforcementMode == "" {
		p.EnforcementMode = EnforcementStrict
	}
	if p.CancelGraceSec <= 0 {
		p.CancelGraceSec = 10
	}
	// Unset gets one retry for transient failures; an explicit negative
	// value disables retrying entirely.
	if p.MaxRetries == 0 {
		p.MaxRetries = 1
	} else if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.RetryBaseDelaySec <= 0 {
		p.RetryBaseDelaySec = 1.0
	}
	if p.RetryBackoffMultiplier <= 0 {
		p.RetryBackoffMultiplier = 2.0
	}
	return p
}

// StallWindowFor returns the effective stall window in seconds for a
// provider: the per-provider override if set, the policy default otherwise.
func (p Policy) StallWindowFor(providerID string) int {
	if sec, ok := p.ProviderTimeouts[providerID]; ok && sec >= 1 {
		return sec
	}
	return p.StallTimeoutSec
}

// PermissionsFor returns the free-form permission options for a provider.
func (p Policy) PermissionsFor(providerID string) map[string]string {
	return p.ProviderPermissions[providerID]
}

// ProviderSpec is the outcome of the detect phase for one provider.
// Immutable after detection.
type ProviderSpec struct {
	ID          string            `json:"id"`
	BinaryName  string            `json:"binary_name"`
	Detected    bool              `json:"detected"`
	AuthOK      bool              `json:"auth_ok"`
	BinaryPath  string            `json:"binary_path,omitempty"`
	Version     string            `json:"version,omitempty"`
	Diagnostic  string            `json:"diagnostic,omitempty"`
	Permissions map[string]string `json:"permissions,omitempty"`
}
