// Package runlog is the supplemental run-history index described in
// SPEC_FULL.md §11.9/§12: a small SQLite database indexing run attempts
// (graph hash, start time, outcome, duration) alongside the required
// per-script on-disk state (spec.md §6), so tooling can answer "how many
// times has this service restarted" without re-walking the filesystem.
//
// Grounded on mattjoyce-senechal-gw/internal/storage/sqlite.go for the
// open/bootstrap shape (modernc.org/sqlite, PRAGMA foreign_keys/busy_timeout,
// CREATE TABLE IF NOT EXISTS) and internal/recovery/state/models.go
// (teacher) for the Run/Checkpoint/Failure record shapes, adapted from the
// teacher's flat task-run model to wireit's script-graph domain (a run
// spans a whole graph execution, not one task; attempts are keyed by
// manifest.Reference instead of a bare node ID).
package runlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"wireit/internal/executor"
	"wireit/internal/manifest"
)

// Status is a run attempt's terminal outcome.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
)

// Run is one execute() attempt: spec.md §6's "lightweight log of the last
// run" promoted to an indexed record, scoped to the whole root script
// rather than one node the way the teacher's recovery/state.Run was.
type Run struct {
	RunID     string
	RootRef   manifest.Reference
	GraphHash string
	StartTime time.Time
	EndTime   time.Time
	Status    Status
	Error     string
}

// ScriptAttempt is one script's outcome within a Run, mirroring executor's
// own ScriptResult for the subset worth indexing for history queries.
type ScriptAttempt struct {
	RunID    string
	Ref      manifest.Reference
	Outcome  executor.Outcome
	ExitCode int
}

// DB is the run-history index, a thin wrapper over *sql.DB.
type DB struct {
	conn *sql.DB
}

// Open opens (creating if needed) the SQLite database at <stableRoot>/runs.db
// and ensures its schema exists.
func Open(ctx context.Context, stableRoot string) (*DB, error) {
	path := filepath.Join(stableRoot, "runs.db")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("runlog: create directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("runlog: open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := conn.ExecContext(pctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("runlog: enable foreign_keys: %w", err)
	}
	if _, err := conn.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("runlog: set busy_timeout: %w", err)
	}
	if err := bootstrap(pctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &DB{conn: conn}, nil
}

func bootstrap(ctx context.Context, conn *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
  run_id      TEXT PRIMARY KEY,
  package_dir TEXT NOT NULL,
  script_name TEXT NOT NULL,
  graph_hash  TEXT NOT NULL,
  start_time  TEXT NOT NULL,
  end_time    TEXT,
  status      TEXT NOT NULL,
  error       TEXT
);`,
		`CREATE TABLE IF NOT EXISTS script_attempts (
  run_id      TEXT NOT NULL REFERENCES runs(run_id),
  package_dir TEXT NOT NULL,
  script_name TEXT NOT NULL,
  outcome     TEXT NOT NULL,
  exit_code   INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (run_id, package_dir, script_name)
);`,
		`CREATE INDEX IF NOT EXISTS runs_script_start_idx ON runs(package_dir, script_name, start_time);`,
	}
	for _, stmt := range stmts {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("runlog: bootstrap: %w", err)
		}
	}
	return nil
}

func (db *DB) Close() error { return db.conn.Close() }

// BeginRun records a new run attempt in status "running" and returns its
// freshly-minted ID. Grounded on the teacher's Run model; IDs come from
// github.com/google/uuid (SPEC_FULL §11.10) rather than the teacher's
// hand-rolled scheme.
func (db *DB) BeginRun(ctx context.Context, root manifest.Reference, graphHash string) (string, error) {
	runID := uuid.NewString()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO runs (run_id, package_dir, script_name, graph_hash, start_time, status) VALUES (?, ?, ?, ?, ?, ?)`,
		// Fixed-width fraction (unlike RFC3339Nano, which trims trailing
		// zeros) so start_time sorts as text in time order for RecentRuns.
		runID, root.PackageDir, root.Name, graphHash, time.Now().UTC().Format("2006-01-02T15:04:05.000000000Z07:00"), string(StatusRunning),
	)
	if err != nil {
		return "", fmt.Errorf("runlog: begin run: %w", err)
	}
	return runID, nil
}

// FinishRun records a run's terminal status, end time, and (if any) error.
func (db *DB) FinishRun(ctx context.Context, runID string, status Status, runErr error) error {
	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}
	_, err := db.conn.ExecContext(ctx,
		`UPDATE runs SET end_time = ?, status = ?, error = ? WHERE run_id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), string(status), errMsg, runID,
	)
	if err != nil {
		return fmt.Errorf("runlog: finish run: %w", err)
	}
	return nil
}

// RecordScriptAttempt indexes one script's outcome within a run, replacing
// any prior record for the same (run, script) pair.
func (db *DB) RecordScriptAttempt(ctx context.Context, a ScriptAttempt) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO script_attempts (run_id, package_dir, script_name, outcome, exit_code) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, package_dir, script_name) DO UPDATE SET outcome = excluded.outcome, exit_code = excluded.exit_code`,
		a.RunID, a.Ref.PackageDir, a.Ref.Name, string(a.Outcome), a.ExitCode,
	)
	if err != nil {
		return fmt.Errorf("runlog: record script attempt: %w", err)
	}
	return nil
}

// RecordResult indexes every script outcome from a completed executor.Result
// under runID, for callers that would rather hand over the whole result
// than call RecordScriptAttempt per script.
func (db *DB) RecordResult(ctx context.Context, runID string, result *executor.Result) error {
	if result == nil {
		return nil
	}
	for ref, r := range result.Scripts {
		attempt := ScriptAttempt{RunID: runID, Ref: ref, Outcome: r.Outcome, ExitCode: r.ExitCode}
		if err := db.RecordScriptAttempt(ctx, attempt); err != nil {
			return err
		}
	}
	return nil
}

// RecentRuns returns up to limit most recent runs for the given root
// script, newest first.
func (db *DB) RecentRuns(ctx context.Context, root manifest.Reference, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT run_id, graph_hash, start_time, end_time, status, error FROM runs
		 WHERE package_dir = ? AND script_name = ? ORDER BY start_time DESC LIMIT ?`,
		root.PackageDir, root.Name, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("runlog: query recent runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			run         Run
			startRaw    string
			endRaw      sql.NullString
			errRaw      sql.NullString
		)
		if err := rows.Scan(&run.RunID, &run.GraphHash, &startRaw, &endRaw, &run.Status, &errRaw); err != nil {
			return nil, fmt.Errorf("runlog: scan run: %w", err)
		}
		run.RootRef = root
		run.StartTime, _ = time.Parse(time.RFC3339Nano, startRaw)
		if endRaw.Valid {
			run.EndTime, _ = time.Parse(time.RFC3339Nano, endRaw.String)
		}
		run.Error = errRaw.String
		out = append(out, run)
	}
	return out, rows.Err()
}

// RestartCount counts script attempts recorded for ref with outcome "ran",
// across every run indexed for the given root — a service that adopts its
// predecessor's handle never re-runs its command, so this undercounts
// adoption-continuous uptime by design (spec.md's adoption path is
// deliberately not a "restart").
func (db *DB) RestartCount(ctx context.Context, root, ref manifest.Reference) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM script_attempts sa
		 JOIN runs r ON r.run_id = sa.run_id
		 WHERE r.package_dir = ? AND r.script_name = ? AND sa.package_dir = ? AND sa.script_name = ? AND sa.outcome = ?`,
		root.PackageDir, root.Name, ref.PackageDir, ref.Name, string(executor.OutcomeRan),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("runlog: count restarts: %w", err)
	}
	return n, nil
}
