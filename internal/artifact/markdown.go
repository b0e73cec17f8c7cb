package artifact

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tt-a1i/mco/internal/model"
)

// escapeCell makes arbitrary text safe inside a markdown table cell.
func escapeCell(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", "<br>")
}

// Summary renders summary.md: the decision, one row per provider with
// its run state and error kind, and the finding counts.
func Summary(res model.RunResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# MCO %s summary\n\n", res.Mode)
	fmt.Fprintf(&sb, "- Task: `%s`\n", res.TaskID)
	fmt.Fprintf(&sb, "- Decision: **%s**\n", res.Decision)
	fmt.Fprintf(&sb, "- Duration: %ds\n", res.DurationSec)
	fmt.Fprintf(&sb, "- Findings: %d\n\n", len(res.Findings))

	sb.WriteString("## Providers\n\n")
	sb.WriteString("| Provider | State | Error | Findings | Duration |\n")
	sb.WriteString("|---|---|---|---:|---:|\n")
	for _, pr := range res.ResultsInOrder() {
		errKind := "-"
		if pr.ErrorKind != "" {
			errKind = string(pr.ErrorKind)
		}
		fmt.Fprintf(&sb, "| %s | `%s` | %s | %d | %ds |\n",
			pr.ProviderID, pr.RunState, errKind, len(pr.Findings), pr.DurationSec)
	}
	return sb.String()
}

// MarkdownPR renders the PR-comment style review report: a severity
// breakdown table plus one row per finding, severity-sorted.
func MarkdownPR(res model.RunResult) string {
	counts := map[model.Severity]int{}
	for _, f := range res.Findings {
		counts[f.Severity]++
	}

	successes, failures := 0, 0
	for _, pr := range res.ProviderResults {
		if model.Succeeded(pr.RunState) {
			successes++
		} else {
			failures++
		}
	}

	var sb strings.Builder
	sb.WriteString("## MCO Review Summary\n\n")
	fmt.Fprintf(&sb, "- Decision: **%s**\n", res.Decision)
	fmt.Fprintf(&sb, "- Providers: success `%d` / failure `%d`\n", successes, failures)
	fmt.Fprintf(&sb, "- Findings: `%d`\n\n", len(res.Findings))

	sb.WriteString("### Severity Breakdown\n\n")
	sb.WriteString("| Severity | Count |\n|---|---:|\n")
	for _, sev := range model.SeverityOrder {
		fmt.Fprintf(&sb, "| `%s` | %d |\n", sev, counts[sev])
	}

	sb.WriteString("\n### Findings\n\n")
	if len(res.Findings) == 0 {
		sb.WriteString("_No findings reported._\n")
		return sb.String()
	}

	ordered := append([]model.Finding(nil), res.Findings...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if a, b := model.SeverityRank(ordered[i].Severity), model.SeverityRank(ordered[j].Severity); a != b {
			return a < b
		}
		return ordered[i].Title < ordered[j].Title
	})

	sb.WriteString("| Severity | Category | Title | Provider | Recommendation |\n")
	sb.WriteString("|---|---|---|---|---|\n")
	for _, f := range ordered {
		rec := f.Recommendation
		if rec == "" {
			rec = "-"
		}
		fmt.Fprintf(&sb, "| `%s` | %s | %s | %s | %s |\n",
			f.Severity, escapeCell(f.Category), escapeCell(f.Title), f.ProviderID, escapeCell(rec))
	}
	return sb.String()
}
