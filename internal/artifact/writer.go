package artifact

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tt-a1i/mco/internal/model"
)

// TaskPaths locates one task's artifact subtree. Each provider owns a
// disjoint slice of it, so runners never contend on a file.
type TaskPaths struct {
	Root         string
	ProvidersDir string
	RawDir       string
}

// Prepare creates the artifact tree for a task. Called before any runner
// starts so raw logs can spill to disk from the first byte.
func Prepare(base, taskID string) (TaskPaths, error) {
	root := filepath.Join(base, taskID)
	if _, err := os.Stat(root); err == nil {
		return TaskPaths{}, fmt.Errorf("artifact directory already exists: %s", root)
	}
	p := TaskPaths{
		Root:         root,
		ProvidersDir: filepath.Join(root, "providers"),
		RawDir:       filepath.Join(root, "raw"),
	}
	for _, dir := range []string{p.ProvidersDir, p.RawDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return TaskPaths{}, fmt.Errorf("create artifact dir %s: %w", dir, err)
		}
	}
	return p, nil
}

func (p TaskPaths) RawStdout(providerID string) string {
	return filepath.Join(p.RawDir, providerID+".stdout")
}

func (p TaskPaths) RawStderr(providerID string) string {
	return filepath.Join(p.RawDir, providerID+".stderr")
}

func (p TaskPaths) ProviderJSON(providerID string) string {
	return filepath.Join(p.ProvidersDir, providerID+".json")
}

func (p TaskPaths) RunJSON() string      { return filepath.Join(p.Root, "run.json") }
func (p TaskPaths) FindingsJSON() string { return filepath.Join(p.Root, "findings.json") }
func (p TaskPaths) SummaryMD() string    { return filepath.Join(p.Root, "summary.md") }
func (p TaskPaths) DecisionMD() string   { return filepath.Join(p.Root, "decision.md") }

// findingsDoc matches the findings.json envelope.
type findingsDoc struct {
	Findings []model.Finding `json:"findings"`
}

// WriteRun emits the full artifact set for a finished task. findings.json
// is review-mode only.
func WriteRun(p TaskPaths, res model.RunResult) error {
	if err := AtomicWriteJSON(p.RunJSON(), res); err != nil {
		return fmt.Errorf("write run.json: %w", err)
	}
	for _, id := range res.ProviderOrder {
		pr, ok := res.ProviderResults[id]
		if !ok {
			continue
		}
		if err := AtomicWriteJSON(p.ProviderJSON(id), pr); err != nil {
			return fmt.Errorf("write providers/%s.json: %w", id, err)
		}
	}
	if res.Mode == model.ModeReview {
		findings := res.Findings
		if findings == nil {
			findings = []model.Finding{}
		}
		if err := AtomicWriteJSON(p.FindingsJSON(), findingsDoc{Findings: findings}); err != nil {
			return fmt.Errorf("write findings.json: %w", err)
		}
	}
	if err := AtomicWriteRaw(p.DecisionMD(), []byte(string(res.Decision)+"\n")); err != nil {
		return fmt.Errorf("write decision.md: %w", err)
	}
	if err := AtomicWriteRaw(p.SummaryMD(), []byte(Summary(res))); err != nil {
		return fmt.Errorf("write summary.md: %w", err)
	}
	return nil
}
