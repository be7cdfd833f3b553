// Package analytics keeps a local event log of pipeline activity in SQLite.
// Recording is best-effort: callers treat failures as warnings.
package analytics

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agentpipe/agentpipe/internal/state"
)

// DB wraps the SQLite database connection.
type DB struct {
	conn *sql.DB
	path string
}

// DefaultPath returns <repo>/.agent-pipeline/analytics.db.
func DefaultPath(repoDir string) string {
	return filepath.Join(repoDir, state.DirName, "analytics.db")
}

// Open opens or creates the database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	return &DB{conn: conn, path: path}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

const schemaV1 = `
CREATE TABLE IF NOT EXISTS pipeline_events (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id    TEXT NOT NULL,
    pipeline  TEXT NOT NULL,
    stage     TEXT,
    event     TEXT NOT NULL,
    detail    TEXT,
    timestamp TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_events_run ON pipeline_events(run_id, timestamp);

CREATE TABLE IF NOT EXISTS stage_executions (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id       TEXT NOT NULL,
    pipeline     TEXT NOT NULL,
    stage        TEXT NOT NULL,
    status       TEXT NOT NULL,
    duration_ms  INTEGER NOT NULL,
    commit_sha   TEXT,
    tokens_in    INTEGER,
    tokens_out   INTEGER,
    timestamp    TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_stage_run ON stage_executions(run_id);
`

// Migrate applies the schema.
func (d *DB) Migrate() error {
	if _, err := d.conn.Exec(schemaV1); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// RecordEvent logs a pipeline-level event.
func (d *DB) RecordEvent(runID, pipeline, stage, event, detail string) error {
	_, err := d.conn.Exec(
		`INSERT INTO pipeline_events (run_id, pipeline, stage, event, detail) VALUES (?, ?, ?, ?, ?)`,
		runID, pipeline, stage, event, detail,
	)
	return err
}

// RecordStageExecution logs a finished stage.
func (d *DB) RecordStageExecution(runID, pipeline string, ex state.StageExecution) error {
	var tokensIn, tokensOut any
	if ex.TokenUsage != nil {
		tokensIn = ex.TokenUsage.ActualInput
		tokensOut = ex.TokenUsage.Output
	}
	_, err := d.conn.Exec(
		`INSERT INTO stage_executions (run_id, pipeline, stage, status, duration_ms, commit_sha, tokens_in, tokens_out)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, pipeline, ex.StageName, string(ex.Status), ex.Duration.Milliseconds(), ex.CommitSHA, tokensIn, tokensOut,
	)
	return err
}

// PipelineSummary aggregates outcomes for one pipeline.
type PipelineSummary struct {
	Pipeline    string
	Runs        int
	Succeeded   int
	Failed      int
	AvgDuration time.Duration
}

// Summaries aggregates stage executions grouped by pipeline.
func (d *DB) Summaries() ([]PipelineSummary, error) {
	rows, err := d.conn.Query(`
		SELECT pipeline,
		       COUNT(DISTINCT run_id),
		       SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END),
		       AVG(duration_ms)
		FROM stage_executions
		GROUP BY pipeline
		ORDER BY pipeline`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PipelineSummary
	for rows.Next() {
		var s PipelineSummary
		var avgMs sql.NullFloat64
		if err := rows.Scan(&s.Pipeline, &s.Runs, &s.Succeeded, &s.Failed, &avgMs); err != nil {
			return nil, err
		}
		if avgMs.Valid {
			s.AvgDuration = time.Duration(avgMs.Float64) * time.Millisecond
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
