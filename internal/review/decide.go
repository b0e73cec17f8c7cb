// Package review derives the aggregate decision from per-provider results.
package review

import "github.com/tt-a1i/mco/internal/model"

// Decide computes the task decision from the per-provider results. It is
// a pure function of its inputs: same results, same decision.
//
// Review mode, first match wins:
//  1. any critical finding            → FAIL
//  2. no provider succeeded           → FAIL
//  3. any provider failed or skipped  → PARTIAL
//  4. any high finding                → ESCALATE
//  5. otherwise                       → PASS
//
// Run mode: all succeeded → PASS, some → PARTIAL, none → FAIL.
func Decide(mode model.Mode, results []model.ProviderResult) model.Decision {
	succeeded := 0
	failed := 0
	for _, pr := range results {
		if model.Succeeded(pr.RunState) {
			succeeded++
		} else {
			failed++
		}
	}

	if mode == model.ModeRun {
		switch {
		case succeeded == 0:
			return model.DecisionFail
		case failed > 0:
			return model.DecisionPartial
		default:
			return model.DecisionPass
		}
	}

	if hasSeverity(results, model.SeverityCritical) {
		return model.DecisionFail
	}
	if succeeded == 0 {
		return model.DecisionFail
	}
	if failed > 0 {
		return model.DecisionPartial
	}
	if hasSeverity(results, model.SeverityHigh) {
		return model.DecisionEscalate
	}
	return model.DecisionPass
}

func hasSeverity(results []model.ProviderResult, sev model.Severity) bool {
	for _, pr := range results {
		for _, f := range pr.Findings {
			if f.Severity == sev {
				return true
			}
		}
	}
	return false
}
