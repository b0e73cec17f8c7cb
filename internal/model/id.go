package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Task IDs sort lexicographically by creation time and are unique within
// an artifact base: UTC timestamp plus a short random suffix.
//
//	20260214T093011Z-3f2a9c1d
var taskIDRegex = regexp.MustCompile(`^[0-9]{8}T[0-9]{6}Z-[0-9a-f]{8}$`)

// NewTaskID generates a sortable unique task identifier.
func NewTaskID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%s", now.UTC().Format("20060102T150405Z"), suffix)
}

// ValidateTaskID reports whether id has the canonical task-ID shape.
func ValidateTaskID(id string) bool {
	return taskIDRegex.MatchString(id)
}

// ParseTaskIDTime recovers the creation instant encoded in a task ID.
func ParseTaskIDTime(id string) (time.Time, error) {
	if !ValidateTaskID(id) {
		return time.Time{}, fmt.Errorf("invalid task ID format: %s", id)
	}
	return time.Parse("20060102T150405Z", id[:16])
}
