package model

import "strings"

// Severity classifies one review finding.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// SeverityOrder lists severities from most to least severe. Formatters
// sort findings in this order.
var SeverityOrder = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}

var severityRank = map[Severity]int{
	SeverityCritical: 0,
	SeverityHigh:     1,
	SeverityMedium:   2,
	SeverityLow:      3,
	SeverityInfo:     4,
}

// SeverityRank returns the sort rank of s; unknown severities sort last.
func SeverityRank(s Severity) int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return len(severityRank)
}

// NormalizeSeverity maps free-form severity strings from provider output
// onto the closed severity set. Unrecognized values degrade to info.
func NormalizeSeverity(raw string) Severity {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "critical", "blocker", "p0":
		return SeverityCritical
	case "high", "major", "error", "p1":
		return SeverityHigh
	case "medium", "moderate", "warning", "p2":
		return SeverityMedium
	case "low", "minor", "p3":
		return SeverityLow
	default:
		return SeverityInfo
	}
}

const maxFindingTitleLen = 200

// Finding is one normalized review observation. Created by the
// normalizer and never mutated afterwards.
type Finding struct {
	Severity       Severity `json:"severity"`
	Category       string   `json:"category"`
	Title          string   `json:"title"`
	Evidence       string   `json:"evidence,omitempty"`
	Recommendation string   `json:"recommendation,omitempty"`
	ProviderID     string   `json:"provider_id"`
	Ordinal        int      `json:"ordinal"`
	Confidence     float64  `json:"confidence,omitempty"`
}

// TruncateTitle enforces the title length cap.
func TruncateTitle(title string) string {
	if len(title) <= maxFindingTitleLen {
		return title
	}
	return title[:maxFindingTitleLen-3] + "..."
}
