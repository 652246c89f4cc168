// Package audit persists an append-only trail of admission scans and
// execution outcomes, so every decision the pipeline made about generated
// code can be reconstructed later. Backed by SQLite for durability.
package audit

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/smestern/patchAgent/internal/logging"
)

// ScanRecord is one admission decision.
type ScanRecord struct {
	ID           string    `json:"id"`
	SourceHash   string    `json:"source_hash"`
	Decision     string    `json:"decision"`
	TableVersion string    `json:"table_version"`
	Matches      []string  `json:"matches,omitempty"` // rule ids, declaration order
	CreatedAt    time.Time `json:"created_at"`
}

// ExecutionRecord is one execution outcome, including the full source for
// reproducibility.
type ExecutionRecord struct {
	ID         string    `json:"id"`
	ScanID     string    `json:"scan_id"`
	Source     string    `json:"source"`
	Success    bool      `json:"success"`
	Output     string    `json:"output,omitempty"`
	Findings   []string  `json:"findings,omitempty"` // integrity finding kinds
	OutOfRange []string  `json:"out_of_range,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store is a thread-safe SQLite-backed audit trail.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// Open opens (or creates) the audit database at path and ensures the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create audit db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	s := &Store{db: db, dbPath: path}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure audit schema: %w", err)
	}
	logging.Audit("audit store opened at %s", path)
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func (s *Store) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS scans (
		id TEXT PRIMARY KEY,
		source_hash TEXT NOT NULL,
		decision TEXT NOT NULL,
		table_version TEXT NOT NULL,
		matches TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		scan_id TEXT NOT NULL,
		source TEXT NOT NULL,
		success BOOLEAN NOT NULL,
		output TEXT,
		findings TEXT,
		out_of_range TEXT,
		duration_ms INTEGER,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_scans_decision ON scans(decision);
	CREATE INDEX IF NOT EXISTS idx_scans_hash ON scans(source_hash);
	CREATE INDEX IF NOT EXISTS idx_exec_scan ON executions(scan_id);
	CREATE INDEX IF NOT EXISTS idx_exec_success ON executions(success);
	`
	_, err := s.db.Exec(schema)
	return err
}

// HashSource returns the stable digest used to correlate scans of identical
// submissions.
func HashSource(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// RecordScan persists an admission decision and returns the record id.
func (s *Store) RecordScan(source, decision, tableVersion string, matchIDs []string) (string, error) {
	timer := logging.StartTimer(logging.CategoryAudit, "RecordScan")
	defer timer.Stop()

	rec := ScanRecord{
		ID:           uuid.NewString(),
		SourceHash:   HashSource(source),
		Decision:     decision,
		TableVersion: tableVersion,
		Matches:      matchIDs,
		CreatedAt:    time.Now().UTC(),
	}
	matches, err := json.Marshal(rec.Matches)
	if err != nil {
		return "", fmt.Errorf("marshal matches: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(
		`INSERT INTO scans (id, source_hash, decision, table_version, matches, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SourceHash, rec.Decision, rec.TableVersion, string(matches), rec.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("insert scan record: %w", err)
	}
	return rec.ID, nil
}

// RecordExecution persists an execution outcome and returns the record id.
func (s *Store) RecordExecution(rec ExecutionRecord) (string, error) {
	timer := logging.StartTimer(logging.CategoryAudit, "RecordExecution")
	defer timer.Stop()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	findings, err := json.Marshal(rec.Findings)
	if err != nil {
		return "", fmt.Errorf("marshal findings: %w", err)
	}
	outOfRange, err := json.Marshal(rec.OutOfRange)
	if err != nil {
		return "", fmt.Errorf("marshal bounds flags: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(
		`INSERT INTO executions (id, scan_id, source, success, output, findings, out_of_range, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ScanID, rec.Source, rec.Success, rec.Output, string(findings), string(outOfRange), rec.DurationMs, rec.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("insert execution record: %w", err)
	}
	return rec.ID, nil
}

// RecentScans returns up to limit scan records, newest first.
func (s *Store) RecentScans(limit int) ([]ScanRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, source_hash, decision, table_version, matches, created_at
		 FROM scans ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query scans: %w", err)
	}
	defer rows.Close()

	var out []ScanRecord
	for rows.Next() {
		var rec ScanRecord
		var matches string
		if err := rows.Scan(&rec.ID, &rec.SourceHash, &rec.Decision, &rec.TableVersion, &matches, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if matches != "" {
			if err := json.Unmarshal([]byte(matches), &rec.Matches); err != nil {
				return nil, fmt.Errorf("unmarshal matches: %w", err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecentExecutions returns up to limit execution records, newest first.
func (s *Store) RecentExecutions(limit int) ([]ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, scan_id, source, success, output, findings, out_of_range, duration_ms, created_at
		 FROM executions ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var out []ExecutionRecord
	for rows.Next() {
		var rec ExecutionRecord
		var findings, outOfRange string
		if err := rows.Scan(&rec.ID, &rec.ScanID, &rec.Source, &rec.Success, &rec.Output, &findings, &outOfRange, &rec.DurationMs, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if findings != "" {
			if err := json.Unmarshal([]byte(findings), &rec.Findings); err != nil {
				return nil, fmt.Errorf("unmarshal findings: %w", err)
			}
		}
		if outOfRange != "" {
			if err := json.Unmarshal([]byte(outOfRange), &rec.OutOfRange); err != nil {
				return nil, fmt.Errorf("unmarshal bounds flags: %w", err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
