// Package history records finished runs in a small SQLite store under
// the repository's .mco directory. Nothing in the core depends on it;
// it exists for `mco history`.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tt-a1i/mco/internal/model"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
}

// Open creates or opens the history database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS runs(
	task_id TEXT PRIMARY KEY,
	mode TEXT NOT NULL,
	decision TEXT NOT NULL,
	started_at TEXT NOT NULL,
	ended_at TEXT NOT NULL,
	duration_seconds INTEGER NOT NULL,
	findings_count INTEGER NOT NULL,
	provider_states TEXT NOT NULL
)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create runs table: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Entry is one recorded run.
type Entry struct {
	TaskID         string            `json:"task_id"`
	Mode           model.Mode        `json:"mode"`
	Decision       model.Decision    `json:"decision"`
	StartedAt      time.Time         `json:"started_at"`
	EndedAt        time.Time         `json:"ended_at"`
	DurationSec    int64             `json:"duration_seconds"`
	FindingsCount  int               `json:"findings_count"`
	ProviderStates map[string]string `json:"provider_states"`
}

// Record appends a finished run.
func (s *Store) Record(ctx context.Context, res model.RunResult) error {
	states := make(map[string]string, len(res.ProviderResults))
	for id, pr := range res.ProviderResults {
		states[id] = string(pr.RunState)
	}
	statesJSON, err := json.Marshal(states)
	if err != nil {
		return fmt.Errorf("marshal provider states: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO runs(task_id, mode, decision, started_at, ended_at, duration_seconds, findings_count, provider_states)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(task_id) DO NOTHING
`, res.TaskID, string(res.Mode), string(res.Decision),
		res.StartedAt.UTC().Format(time.RFC3339), res.EndedAt.UTC().Format(time.RFC3339),
		res.DurationSec, len(res.Findings), string(statesJSON))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Recent lists the newest runs, most recent first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT task_id, mode, decision, started_at, ended_at, duration_seconds, findings_count, provider_states
FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var mode, decision, started, ended, states string
		if err := rows.Scan(&e.TaskID, &mode, &decision, &started, &ended, &e.DurationSec, &e.FindingsCount, &states); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		e.Mode = model.Mode(mode)
		e.Decision = model.Decision(decision)
		if e.StartedAt, err = time.Parse(time.RFC3339, started); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if e.EndedAt, err = time.Parse(time.RFC3339, ended); err != nil {
			return nil, fmt.Errorf("parse ended_at: %w", err)
		}
		if err := json.Unmarshal([]byte(states), &e.ProviderStates); err != nil {
			return nil, fmt.Errorf("parse provider states: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Get returns one run by task ID.
func (s *Store) Get(ctx context.Context, taskID string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT task_id, mode, decision, started_at, ended_at, duration_seconds, findings_count, provider_states
FROM runs WHERE task_id = ?`, taskID)
	var e Entry
	var mode, decision, started, ended, states string
	err := row.Scan(&e.TaskID, &mode, &decision, &started, &ended, &e.DurationSec, &e.FindingsCount, &states)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("scan run: %w", err)
	}
	e.Mode = model.Mode(mode)
	e.Decision = model.Decision(decision)
	if e.StartedAt, err = time.Parse(time.RFC3339, started); err != nil {
		return Entry{}, fmt.Errorf("parse started_at: %w", err)
	}
	if e.EndedAt, err = time.Parse(time.RFC3339, ended); err != nil {
		return Entry{}, fmt.Errorf("parse ended_at: %w", err)
	}
	if err := json.Unmarshal([]byte(states), &e.ProviderStates); err != nil {
		return Entry{}, fmt.Errorf("parse provider states: %w", err)
	}
	return e, nil
}
