// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package history persists an append-only log of workflow run summaries to
// a local SQLite file and reads it back only as a bounded window of recent
// runs; nothing prunes old rows. It never stores full step results:
// only the counters and status a "list recent runs" view needs.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stepwise/stepwise/pkg/workflow"
)

// Entry is one recorded workflow run.
type Entry struct {
	ID             int64
	WorkflowName   string
	Status         workflow.Status
	StepsCompleted int
	StepsFailed    int
	StepsSkipped   int
	TotalSteps     int
	StartTime      time.Time
	EndTime        time.Time
}

// Store is a SQLite-backed run history log.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a history store at path. The special
// path ":memory:" creates a private in-memory database, useful for tests.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("history: database path is required")
	}

	connStr := path
	if path != ":memory:" {
		connStr += "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("history: open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: connect: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		workflow_name TEXT NOT NULL,
		status TEXT NOT NULL,
		steps_completed INTEGER NOT NULL,
		steps_failed INTEGER NOT NULL,
		steps_skipped INTEGER NOT NULL,
		total_steps INTEGER NOT NULL,
		start_time INTEGER NOT NULL,
		end_time INTEGER NOT NULL
	)`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	const index = `CREATE INDEX IF NOT EXISTS idx_runs_start_time ON runs(start_time)`
	if _, err := s.db.ExecContext(ctx, index); err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

// Record appends a workflow result's summary to the log.
func (s *Store) Record(ctx context.Context, r *workflow.Result) error {
	const stmt = `INSERT INTO runs
		(workflow_name, status, steps_completed, steps_failed, steps_skipped, total_steps, start_time, end_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt,
		r.WorkflowName, string(r.Status),
		r.StepsCompleted, r.StepsFailed, r.StepsSkipped, r.TotalSteps,
		r.StartTime.UnixNano(), r.EndTime.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("history: record run: %w", err)
	}
	return nil
}

// Recent returns the most recent limit runs, newest first. There is no
// query surface beyond this bounded window by design.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `SELECT id, workflow_name, status, steps_completed, steps_failed, steps_skipped, total_steps, start_time, end_time
		FROM runs ORDER BY start_time DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query recent: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var status string
		var start, end int64
		if err := rows.Scan(&e.ID, &e.WorkflowName, &status, &e.StepsCompleted, &e.StepsFailed, &e.StepsSkipped, &e.TotalSteps, &start, &end); err != nil {
			return nil, fmt.Errorf("history: scan row: %w", err)
		}
		e.Status = workflow.Status(status)
		e.StartTime = time.Unix(0, start)
		e.EndTime = time.Unix(0, end)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
