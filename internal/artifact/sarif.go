package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tt-a1i/mco/internal/model"
)

var sarifLevelBySeverity = map[model.Severity]string{
	model.SeverityCritical: "error",
	model.SeverityHigh:     "warning",
	model.SeverityMedium:   "note",
	model.SeverityLow:      "note",
	model.SeverityInfo:     "note",
}

var ruleNameCleanup = regexp.MustCompile(`[^a-zA-Z0-9]+`)

func normalizeRuleName(category, title string) string {
	name := strings.Trim(ruleNameCleanup.ReplaceAllString(strings.ToLower(category+"-"+title), "-"), "-")
	if name == "" {
		return "finding"
	}
	return name
}

// ruleIDFor derives a stable rule identifier from a finding's category
// and title, so the same issue keeps the same ID across runs.
func ruleIDFor(f model.Finding) string {
	sum := sha256.Sum256([]byte(f.Category + "||" + f.Title))
	return fmt.Sprintf("mco/%s/%s", normalizeRuleName(f.Category, f.Title), hex.EncodeToString(sum[:])[:10])
}

// evidenceLocationRegex pulls a file:line reference out of free-text
// evidence, e.g. "internal/auth/token.go:42 missing expiry check".
var evidenceLocationRegex = regexp.MustCompile(`([\w./-]+\.\w+):(\d+)`)

type sarifDoc struct {
	Schema  string     `json:"$schema"`
	Version string     `json:"version"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool       sarifTool      `json:"tool"`
	Properties map[string]any `json:"properties,omitempty"`
	Results    []sarifResult  `json:"results"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name           string      `json:"name"`
	InformationURI string      `json:"informationUri,omitempty"`
	Rules          []sarifRule `json:"rules"`
}

type sarifRule struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	ShortDescription sarifText      `json:"shortDescription"`
	Help             *sarifText     `json:"help,omitempty"`
	Properties       map[string]any `json:"properties,omitempty"`
}

type sarifText struct {
	Text string `json:"text"`
}

type sarifResult struct {
	RuleID     string          `json:"ruleId"`
	Level      string          `json:"level"`
	Message    sarifText       `json:"message"`
	Properties map[string]any  `json:"properties,omitempty"`
	Locations  []sarifLocation `json:"locations,omitempty"`
}

// SARIFDoc is exported for JSON serialization by callers.
type SARIFDoc = sarifDoc

type sarifLocation struct {
	PhysicalLocation sarifPhysicalLocation `json:"physicalLocation"`
}

type sarifPhysicalLocation struct {
	ArtifactLocation sarifArtifactLocation `json:"artifactLocation"`
	Region           map[string]any        `json:"region,omitempty"`
}

type sarifArtifactLocation struct {
	URI string `json:"uri"`
}

// SARIF renders the aggregated findings as a SARIF 2.1.0 document.
func SARIF(res model.RunResult) sarifDoc {
	rulesByID := map[string]sarifRule{}
	var ruleOrder []string
	var results []sarifResult

	for _, f := range res.Findings {
		ruleID := ruleIDFor(f)
		if _, ok := rulesByID[ruleID]; !ok {
			rule := sarifRule{
				ID:               ruleID,
				Name:             normalizeRuleName(f.Category, f.Title),
				ShortDescription: sarifText{Text: f.Title},
				Properties:       map[string]any{"category": f.Category},
			}
			if f.Recommendation != "" {
				rule.Help = &sarifText{Text: f.Recommendation}
			}
			rulesByID[ruleID] = rule
			ruleOrder = append(ruleOrder, ruleID)
		}

		result := sarifResult{
			RuleID:  ruleID,
			Level:   sarifLevelBySeverity[f.Severity],
			Message: sarifText{Text: f.Title},
			Properties: map[string]any{
				"category":    f.Category,
				"severity":    string(f.Severity),
				"provider_id": f.ProviderID,
			},
		}
		if m := evidenceLocationRegex.FindStringSubmatch(f.Evidence); m != nil {
			line, _ := strconv.Atoi(m[2])
			result.Locations = []sarifLocation{{
				PhysicalLocation: sarifPhysicalLocation{
					ArtifactLocation: sarifArtifactLocation{URI: m[1]},
					Region:           map[string]any{"startLine": line},
				},
			}}
		}
		results = append(results, result)
	}

	rules := make([]sarifRule, 0, len(ruleOrder))
	for _, id := range ruleOrder {
		rules = append(rules, rulesByID[id])
	}
	if results == nil {
		results = []sarifResult{}
	}

	return sarifDoc{
		Schema:  "https://json.schemastore.org/sarif-2.1.0.json",
		Version: "2.1.0",
		Runs: []sarifRun{{
			Tool: sarifTool{Driver: sarifDriver{
				Name:           "MCO",
				InformationURI: "https://github.com/tt-a1i/mco",
				Rules:          rules,
			}},
			Properties: map[string]any{
				"decision":       string(res.Decision),
				"findings_count": len(res.Findings),
			},
			Results: results,
		}},
	}
}
