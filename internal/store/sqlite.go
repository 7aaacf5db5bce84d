// Package store archives runs, baselines, and detection verdicts in
// SQLite.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Schema for the gatewitness run archive.
const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    kind        TEXT NOT NULL CHECK (kind IN ('clean', 'observed')),
    vcd_path    TEXT NOT NULL,
    metric      REAL NOT NULL,
    toggles     INTEGER NOT NULL,
    cycles      INTEGER NOT NULL,
    counts      TEXT NOT NULL,
    created_ns  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_kind ON runs(kind, created_ns);

CREATE TABLE IF NOT EXISTS baselines (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    name        TEXT NOT NULL,
    mean        REAL NOT NULL,
    variance    REAL NOT NULL,
    samples     INTEGER NOT NULL,
    converged   INTEGER NOT NULL,
    created_ns  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS detections (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    mode              TEXT NOT NULL,
    trojan_detected   INTEGER NOT NULL,
    z_score           REAL NOT NULL,
    confidence        REAL NOT NULL,
    primary_signal    TEXT,
    primary_deviation REAL NOT NULL,
    result            TEXT NOT NULL,
    created_ns        INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_detections_created ON detections(created_ns);
`

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: record not found")

// Store represents the SQLite run archive.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at the given path and applies
// the schema.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// InsertRun archives a run and returns its ID.
func (s *Store) InsertRun(r *Run) (int64, error) {
	counts, err := json.Marshal(r.Counts)
	if err != nil {
		return 0, fmt.Errorf("encode counts: %w", err)
	}
	if r.CreatedAtNs == 0 {
		r.CreatedAtNs = time.Now().UnixNano()
	}

	result, err := s.db.Exec(`
		INSERT INTO runs (kind, vcd_path, metric, toggles, cycles, counts, created_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(r.Kind), r.VCDPath, r.Metric, r.Toggles, r.Cycles, string(counts), r.CreatedAtNs,
	)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	return id, nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(id int64) (*Run, error) {
	var r Run
	var kind, counts string

	err := s.db.QueryRow(`
		SELECT id, kind, vcd_path, metric, toggles, cycles, counts, created_ns
		FROM runs WHERE id = ?`, id,
	).Scan(&r.ID, &kind, &r.VCDPath, &r.Metric, &r.Toggles, &r.Cycles, &counts, &r.CreatedAtNs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get run: %w", err)
	}

	r.Kind = RunKind(kind)
	if err := json.Unmarshal([]byte(counts), &r.Counts); err != nil {
		return nil, fmt.Errorf("decode counts: %w", err)
	}
	return &r, nil
}

// ListRuns retrieves runs of one kind, oldest first.
func (s *Store) ListRuns(kind RunKind) ([]Run, error) {
	rows, err := s.db.Query(`
		SELECT id, kind, vcd_path, metric, toggles, cycles, counts, created_ns
		FROM runs WHERE kind = ?
		ORDER BY created_ns ASC, id ASC`, string(kind),
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var k, counts string
		if err := rows.Scan(&r.ID, &k, &r.VCDPath, &r.Metric, &r.Toggles, &r.Cycles, &counts, &r.CreatedAtNs); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Kind = RunKind(k)
		if err := json.Unmarshal([]byte(counts), &r.Counts); err != nil {
			return nil, fmt.Errorf("decode counts: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// CleanCounts returns the per-signal toggle counts of every archived
// clean run, oldest first.
func (s *Store) CleanCounts() ([]map[string]int, error) {
	runs, err := s.ListRuns(RunClean)
	if err != nil {
		return nil, err
	}
	counts := make([]map[string]int, len(runs))
	for i, r := range runs {
		counts[i] = r.Counts
	}
	return counts, nil
}

// InsertBaseline archives a baseline snapshot and returns its ID.
func (s *Store) InsertBaseline(b *BaselineRecord) (int64, error) {
	if b.CreatedAtNs == 0 {
		b.CreatedAtNs = time.Now().UnixNano()
	}
	converged := 0
	if b.Converged {
		converged = 1
	}

	result, err := s.db.Exec(`
		INSERT INTO baselines (name, mean, variance, samples, converged, created_ns)
		VALUES (?, ?, ?, ?, ?, ?)`,
		b.Name, b.Mean, b.Variance, b.Samples, converged, b.CreatedAtNs,
	)
	if err != nil {
		return 0, fmt.Errorf("insert baseline: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	return id, nil
}

// LatestBaseline retrieves the most recently archived baseline.
func (s *Store) LatestBaseline() (*BaselineRecord, error) {
	var b BaselineRecord
	var converged int

	err := s.db.QueryRow(`
		SELECT id, name, mean, variance, samples, converged, created_ns
		FROM baselines ORDER BY created_ns DESC, id DESC LIMIT 1`,
	).Scan(&b.ID, &b.Name, &b.Mean, &b.Variance, &b.Samples, &converged, &b.CreatedAtNs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get latest baseline: %w", err)
	}

	b.Converged = converged != 0
	return &b, nil
}

// InsertDetection archives a detection verdict and returns its ID.
func (s *Store) InsertDetection(d *DetectionRecord) (int64, error) {
	if d.CreatedAtNs == 0 {
		d.CreatedAtNs = time.Now().UnixNano()
	}
	detected := 0
	if d.TrojanDetected {
		detected = 1
	}

	result, err := s.db.Exec(`
		INSERT INTO detections (mode, trojan_detected, z_score, confidence, primary_signal, primary_deviation, result, created_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.Mode, detected, d.ZScore, d.Confidence, d.PrimarySignal, d.PrimaryDeviation, d.ResultJSON, d.CreatedAtNs,
	)
	if err != nil {
		return 0, fmt.Errorf("insert detection: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	return id, nil
}

// ListDetections retrieves detection verdicts, newest first.
func (s *Store) ListDetections(limit int) ([]DetectionRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, mode, trojan_detected, z_score, confidence, primary_signal, primary_deviation, result, created_ns
		FROM detections ORDER BY created_ns DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query detections: %w", err)
	}
	defer rows.Close()

	var recs []DetectionRecord
	for rows.Next() {
		var d DetectionRecord
		var detected int
		if err := rows.Scan(&d.ID, &d.Mode, &detected, &d.ZScore, &d.Confidence, &d.PrimarySignal, &d.PrimaryDeviation, &d.ResultJSON, &d.CreatedAtNs); err != nil {
			return nil, fmt.Errorf("scan detection: %w", err)
		}
		d.TrojanDetected = detected != 0
		recs = append(recs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate detections: %w", err)
	}
	return recs, nil
}
