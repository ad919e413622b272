// Package load is a throughput/latency harness for the wire-protocol
// server, grounded on the teacher's tests/load/matrix_db.go SQLite
// results store: the per-configuration run/result schema and
// sql.Open("sqlite", ...) usage survive unchanged, adapted from the old
// multi-database matrix (databases/connections_per_db/workers_per_db
// axes) down to this engine's single-collection-store model
// (connections/workers_per_connection).
package load

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const matrixDBFilename = "load_results.db"

// MatrixDBPath returns the path to the results SQLite database for a
// given output directory.
func MatrixDBPath(resultsDir string) string {
	return filepath.Join(resultsDir, matrixDBFilename)
}

// OpenMatrixDB opens or creates the results database at dbPath.
func OpenMatrixDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open matrix db: %w", err)
	}
	if err := initMatrixSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func initMatrixSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			addr TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			total_configs INTEGER DEFAULT 0,
			success_count INTEGER DEFAULT 0,
			fail_count INTEGER DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id INTEGER NOT NULL REFERENCES runs(id),
			config_name TEXT NOT NULL,
			connections INTEGER NOT NULL,
			workers_per_connection INTEGER NOT NULL,
			duration_sec REAL NOT NULL,
			total_ops INTEGER NOT NULL,
			throughput REAL NOT NULL,
			p95_latency_ms REAL NOT NULL,
			p99_latency_ms REAL NOT NULL,
			errors INTEGER NOT NULL
		);
	`)
	return err
}

// InsertRun inserts a new run row against addr and returns its id.
func InsertRun(db *sql.DB, addr string) (int64, error) {
	startedAt := time.Now().UTC().Format(time.RFC3339)
	res, err := db.Exec(`INSERT INTO runs (addr, started_at) VALUES (?, ?)`, addr, startedAt)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	return res.LastInsertId()
}

// FinishRun records the final counts and finished_at for a run.
func FinishRun(db *sql.DB, runID int64, totalConfigs, successCount, failCount int) error {
	finishedAt := time.Now().UTC().Format(time.RFC3339)
	_, err := db.Exec(
		`UPDATE runs SET finished_at = ?, total_configs = ?, success_count = ?, fail_count = ? WHERE id = ?`,
		finishedAt, totalConfigs, successCount, failCount, runID,
	)
	return err
}

// InsertResult inserts one configuration's result row for a run.
func InsertResult(db *sql.DB, runID int64, r Result) error {
	_, err := db.Exec(
		`INSERT INTO results (
			run_id, config_name, connections, workers_per_connection,
			duration_sec, total_ops, throughput, p95_latency_ms, p99_latency_ms, errors
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, r.Config.Name, r.Config.Connections, r.Config.WorkersPerConnection,
		r.Duration.Seconds(), r.TotalOps, r.Throughput, r.P95LatencyMs, r.P99LatencyMs, r.Errors,
	)
	return err
}
