package adapter

import (
	"encoding/json"
	"strings"

	"github.com/tt-a1i/mco/internal/model"
)

func jsonUnmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// promptFor renders the task prompt, appending path-constraint guidance.
// Every adapter uses it, including those that also pass allow paths as
// CLI flags.
func promptFor(task model.Task) string {
	var sb strings.Builder
	sb.WriteString(task.Prompt)
	if len(task.Paths.TargetPaths) > 0 {
		sb.WriteString("\n\nFocus on these paths: ")
		sb.WriteString(strings.Join(task.Paths.TargetPaths, ", "))
	}
	if len(task.Paths.AllowPaths) > 0 {
		sb.WriteString("\nOnly touch files under: ")
		sb.WriteString(strings.Join(task.Paths.AllowPaths, ", "))
	}
	if task.Mode == model.ModeReview {
		sb.WriteString("\n\nReport findings as a JSON object {\"findings\": [{\"severity\", \"category\", \"title\", \"evidence\", \"recommendation\"}]} in a fenced code block.")
	}
	return sb.String()
}
