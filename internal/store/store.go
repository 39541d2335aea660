// Package store archives intermediate-MCS dumps and final runtime stats to
// Postgres, supplementing (not replacing) the filesystem dump required by
// spec §4.10/§6. Grounded on the teacher's internal/reputation/wallet.go
// (database/sql over *sql.DB, lib/pq as the registered driver import).
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Store archives minimization runs to a Postgres database.
type Store struct {
	db *sql.DB
}

// Open connects to dsn and ensures the archive table exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS mcs_runs (
	id SERIAL PRIMARY KEY,
	run_id TEXT NOT NULL,
	label TEXT NOT NULL,
	candidate_size INT NOT NULL,
	runtime_stats JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`
	_, err := s.db.ExecContext(ctx, ddl)
	if err != nil {
		return fmt.Errorf("store: ensure schema: %w", err)
	}
	return nil
}

// RecordIntermediateMCS archives one intermediate-MCS snapshot: the run
// identifier, the ddmin recursion label that produced it, its size, and the
// runtime stats at that point.
func (s *Store) RecordIntermediateMCS(ctx context.Context, runID, label string, candidateSize int, runtimeStats json.RawMessage) error {
	const q = `INSERT INTO mcs_runs (run_id, label, candidate_size, runtime_stats) VALUES ($1, $2, $3, $4)`
	_, err := s.db.ExecContext(ctx, q, runID, label, candidateSize, runtimeStats)
	if err != nil {
		return fmt.Errorf("store: record intermediate mcs: %w", err)
	}
	return nil
}

// Run is one archived row, returned by History.
type Run struct {
	Label         string
	CandidateSize int
	CreatedAt     time.Time
}

// History returns every archived snapshot for runID, oldest first.
func (s *Store) History(ctx context.Context, runID string) ([]Run, error) {
	const q = `SELECT label, candidate_size, created_at FROM mcs_runs WHERE run_id = $1 ORDER BY created_at ASC`
	rows, err := s.db.QueryContext(ctx, q, runID)
	if err != nil {
		return nil, fmt.Errorf("store: history: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.Label, &r.CandidateSize, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
