// Package store provides a derived, rebuildable SQLite query index over the
// Abraxas artifact tree. It is never the source of truth: every row here is
// ingested from an ArtifactRecord the artifact writer already committed to
// the manifest ledger, and deleting the database file only costs a re-index,
// never data.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed cache of run/tick/artifact metadata.
type Store struct {
	db *sql.DB
}

// ArtifactRow mirrors one entry from a run's manifest ledger.
type ArtifactRow struct {
	ID        int64
	RunID     string
	Tick      int
	Kind      string
	Schema    string
	Path      string
	SHA256    string
	Bytes     int64
	IndexedAt time.Time
}

// RunRow tracks the ticks seen for a run_id, independent of artifact kind.
type RunRow struct {
	RunID      string
	FirstTick  int
	LastTick   int
	TickCount  int
	LastSeenAt time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS artifacts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	tick INTEGER NOT NULL,
	kind TEXT NOT NULL,
	schema TEXT NOT NULL,
	path TEXT NOT NULL,
	sha256 TEXT NOT NULL,
	bytes INTEGER NOT NULL,
	indexed_at DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE(run_id, tick, kind, schema, path)
);

CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	first_tick INTEGER NOT NULL,
	last_tick INTEGER NOT NULL,
	tick_count INTEGER NOT NULL DEFAULT 0,
	last_seen_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS gate_results (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	ok BOOLEAN NOT NULL,
	trendpack_sha256 TEXT NOT NULL DEFAULT '',
	runheader_sha256 TEXT NOT NULL DEFAULT '',
	recorded_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_artifacts_run_tick ON artifacts(run_id, tick);
CREATE INDEX IF NOT EXISTS idx_artifacts_kind ON artifacts(kind);
CREATE INDEX IF NOT EXISTS idx_gate_results_run ON gate_results(run_id);
`

// Open creates or opens a SQLite database at dbPath and ensures the schema exists.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dbPath, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// IndexArtifact records one manifest-ledger entry, idempotently.
//
// This is the ingestion hook the artifact writer's manifest append calls
// into: every ArtifactRecord it produces (§4.K) is mirrored here so readers
// can query "which ticks exist for run X" without directory-walking.
func (s *Store) IndexArtifact(runID string, tick int, kind, schemaName, path, sha256 string, bytes int64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store: not open")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO artifacts (run_id, tick, kind, schema, path, sha256, bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, tick, kind, schema, path) DO UPDATE SET
			sha256 = excluded.sha256, bytes = excluded.bytes, indexed_at = datetime('now')
	`, runID, tick, kind, schemaName, path, sha256, bytes)
	if err != nil {
		return fmt.Errorf("store: insert artifact: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO runs (run_id, first_tick, last_tick, tick_count, last_seen_at)
		VALUES (?, ?, ?, 1, datetime('now'))
		ON CONFLICT(run_id) DO UPDATE SET
			first_tick = MIN(first_tick, excluded.first_tick),
			last_tick = MAX(last_tick, excluded.last_tick),
			tick_count = (SELECT COUNT(DISTINCT tick) FROM artifacts WHERE run_id = excluded.run_id),
			last_seen_at = datetime('now')
	`, runID, tick, tick)
	if err != nil {
		return fmt.Errorf("store: upsert run: %w", err)
	}

	return tx.Commit()
}

// RecordGateResult persists one dozen-run invariance gate outcome (§4.N).
func (s *Store) RecordGateResult(runID string, ok bool, trendpackSHA256, runHeaderSHA256 string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store: not open")
	}
	_, err := s.db.Exec(`
		INSERT INTO gate_results (run_id, ok, trendpack_sha256, runheader_sha256)
		VALUES (?, ?, ?, ?)
	`, runID, ok, trendpackSHA256, runHeaderSHA256)
	if err != nil {
		return fmt.Errorf("store: record gate result: %w", err)
	}
	return nil
}

// TicksForRun returns the sorted artifact rows recorded for a run_id.
func (s *Store) TicksForRun(runID string) ([]ArtifactRow, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("store: not open")
	}

	rows, err := s.db.Query(`
		SELECT id, run_id, tick, kind, schema, path, sha256, bytes, indexed_at
		FROM artifacts WHERE run_id = ?
		ORDER BY tick ASC, kind ASC, schema ASC, path ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: query ticks: %w", err)
	}
	defer rows.Close()

	var out []ArtifactRow
	for rows.Next() {
		var r ArtifactRow
		if err := rows.Scan(&r.ID, &r.RunID, &r.Tick, &r.Kind, &r.Schema, &r.Path, &r.SHA256, &r.Bytes, &r.IndexedAt); err != nil {
			return nil, fmt.Errorf("store: scan artifact row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Runs returns every known run_id, most recently seen first.
func (s *Store) Runs() ([]RunRow, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("store: not open")
	}

	rows, err := s.db.Query(`
		SELECT run_id, first_tick, last_tick, tick_count, last_seen_at
		FROM runs ORDER BY last_seen_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("store: query runs: %w", err)
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var r RunRow
		if err := rows.Scan(&r.RunID, &r.FirstTick, &r.LastTick, &r.TickCount, &r.LastSeenAt); err != nil {
			return nil, fmt.Errorf("store: scan run row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Rebuild truncates all tables; callers re-index from the artifact manifest
// ledgers afterward. Safe because this store is a pure cache.
func (s *Store) Rebuild() error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store: not open")
	}
	for _, table := range []string{"artifacts", "runs", "gate_results"} {
		if _, err := s.db.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("store: truncate %s: %w", table, err)
		}
	}
	return nil
}
