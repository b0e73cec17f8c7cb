package adapter

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/tt-a1i/mco/internal/model"
)

// rawFinding tolerates the shapes provider CLIs actually emit: evidence
// as a string or as a {file, line, snippet} object, severity in any case.
type rawFinding struct {
	Severity       string          `json:"severity"`
	Category       string          `json:"category"`
	Title          string          `json:"title"`
	Evidence       json.RawMessage `json:"evidence"`
	Recommendation string          `json:"recommendation"`
	Confidence     float64         `json:"confidence"`
}

type rawEvidence struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Snippet string `json:"snippet"`
}

type findingsDoc struct {
	Findings []rawFinding `json:"findings"`
}

var fencedBlockRegex = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(.*?)```")

// ExtractFindings recovers findings from heterogeneous CLI output.
// Strategies in order: the whole output as JSON, fenced JSON blocks, then
// heuristic line parsing. Zero findings with a diagnostic is a valid
// outcome, not an error.
func ExtractFindings(stdout []byte) ([]model.Finding, string) {
	text := strings.TrimSpace(string(stdout))
	if text == "" {
		return nil, "empty output"
	}

	if findings, ok := decodeFindings([]byte(text)); ok {
		return findings, ""
	}

	var all []model.Finding
	for _, match := range fencedBlockRegex.FindAllStringSubmatch(text, -1) {
		if findings, ok := decodeFindings([]byte(match[1])); ok {
			all = append(all, findings...)
		}
	}
	if len(all) > 0 {
		return all, ""
	}

	if findings := heuristicFindings(text); len(findings) > 0 {
		return findings, "recovered via heuristic section parsing"
	}
	return nil, "no findings recognized in provider output"
}

// decodeFindings accepts {"findings":[…]} and bare […] documents.
func decodeFindings(data []byte) ([]model.Finding, bool) {
	var doc findingsDoc
	if err := json.Unmarshal(data, &doc); err == nil && len(doc.Findings) > 0 {
		return convertRaw(doc.Findings), true
	}
	var list []rawFinding
	if err := json.Unmarshal(data, &list); err == nil && len(list) > 0 && list[0].Title != "" {
		return convertRaw(list), true
	}
	return nil, false
}

func convertRaw(raw []rawFinding) []model.Finding {
	out := make([]model.Finding, 0, len(raw))
	for _, rf := range raw {
		if strings.TrimSpace(rf.Title) == "" {
			continue
		}
		out = append(out, model.Finding{
			Severity:       model.NormalizeSeverity(rf.Severity),
			Category:       strings.ToLower(strings.TrimSpace(rf.Category)),
			Title:          model.TruncateTitle(strings.TrimSpace(rf.Title)),
			Evidence:       evidenceText(rf.Evidence),
			Recommendation: strings.TrimSpace(rf.Recommendation),
			Confidence:     rf.Confidence,
		})
	}
	return out
}

func evidenceText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var ev rawEvidence
	if err := json.Unmarshal(raw, &ev); err == nil {
		loc := ev.File
		if loc != "" && ev.Line > 0 {
			loc = fmt.Sprintf("%s:%d", ev.File, ev.Line)
		}
		if ev.Snippet != "" {
			if loc != "" {
				return loc + " " + ev.Snippet
			}
			return ev.Snippet
		}
		return loc
	}
	return strings.TrimSpace(string(raw))
}

// severityLineRegex matches report-style lines such as
// "- [HIGH] auth: token not validated" or "CRITICAL: SQL injection in query.go:42".
var severityLineRegex = regexp.MustCompile(`(?i)^[-*\s]*\[?(critical|high|medium|low|info)\]?[:\s]+(?:([a-z0-9_-]+):\s+)?(.+)$`)

func heuristicFindings(text string) []model.Finding {
	var out []model.Finding
	for _, line := range strings.Split(text, "\n") {
		m := severityLineRegex.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		title := strings.TrimSpace(m[3])
		if title == "" {
			continue
		}
		category := m[2]
		if category == "" {
			category = "general"
		}
		out = append(out, model.Finding{
			Severity: model.NormalizeSeverity(m[1]),
			Category: category,
			Title:    model.TruncateTitle(title),
		})
	}
	return out
}

// transientMarkers classify stderr noise that is worth one retry.
var transientMarkers = []string{
	"rate limit",
	"rate_limit",
	"429",
	"timed out",
	"timeout",
	"connection reset",
	"temporarily unavailable",
	"503",
	"overloaded",
}

// ClassifyTransient reports whether a nonzero exit looks retryable and
// names the marker that matched.
func ClassifyTransient(stderr []byte) (bool, string) {
	lower := strings.ToLower(string(stderr))
	for _, marker := range transientMarkers {
		if strings.Contains(lower, marker) {
			return true, marker
		}
	}
	return false, ""
}

// warningMarkers surface degraded-but-successful runs in diagnostics.
var warningMarkers = map[string]string{
	"rate limit":     "rate_limited",
	"truncated":      "output_truncated",
	"context length": "context_overflow",
	"retrying":       "provider_retried",
	"deprecated":     "deprecated_flag",
}

// DetectWarnings scans stderr for known warning markers.
func DetectWarnings(stderr []byte) []string {
	lower := strings.ToLower(string(stderr))
	var out []string
	seen := map[string]bool{}
	for marker, kind := range warningMarkers {
		if strings.Contains(lower, marker) && !seen[kind] {
			seen[kind] = true
			out = append(out, kind)
		}
	}
	sort.Strings(out)
	return out
}
