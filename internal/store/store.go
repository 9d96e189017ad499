// Package store keeps a local run ledger in SQLite: one row per screening
// run, the per-stage elimination stats, and notification outcomes. The
// ledger is informational; failures to record are logged, never fatal.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	_ "modernc.org/sqlite"

	"github.com/charlie1223/stock-screener/internal/screen"
)

// Store wraps the SQLite connection.
type Store struct {
	sql *sql.DB
	log zerolog.Logger
}

// Open opens (or creates) the ledger database and runs migrations.
func Open(path string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping ledger: %w", err)
	}

	s := &Store{sql: db, log: log.With().Str("component", "ledger").Logger()}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.sql.Close()
}

func (s *Store) migrate() error {
	_, err := s.sql.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			mode           TEXT NOT NULL,
			started_at     TEXT NOT NULL,
			duration_ms    INTEGER NOT NULL,
			universe_size  INTEGER NOT NULL,
			final_count    INTEGER NOT NULL,
			used_fallback  INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS stage_stats (
			run_id  INTEGER NOT NULL REFERENCES runs(id),
			step    INTEGER NOT NULL,
			name    TEXT NOT NULL,
			input   INTEGER NOT NULL,
			output  INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS notifications (
			id       INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id   INTEGER REFERENCES runs(id),
			channel  TEXT NOT NULL,
			ok       INTEGER NOT NULL,
			detail   TEXT NOT NULL DEFAULT '',
			sent_at  TEXT NOT NULL
		);
	`)
	return err
}

// RecordRun inserts the run row and its stage stats, returning the run id.
func (s *Store) RecordRun(mode string, startedAt time.Time, duration time.Duration,
	universe, final int, usedFallback bool, stats []screen.StageStat) (int64, error) {

	fallback := 0
	if usedFallback {
		fallback = 1
	}
	result, err := s.sql.Exec(
		`INSERT INTO runs (mode, started_at, duration_ms, universe_size, final_count, used_fallback)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		mode, startedAt.UTC().Format(time.RFC3339), duration.Milliseconds(), universe, final, fallback)
	if err != nil {
		return 0, err
	}
	runID, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, stat := range stats {
		if _, err := s.sql.Exec(
			`INSERT INTO stage_stats (run_id, step, name, input, output) VALUES (?, ?, ?, ?, ?)`,
			runID, stat.Step, stat.Name, stat.Input, stat.Output); err != nil {
			return runID, err
		}
	}
	return runID, nil
}

// RecordNotification logs one delivery attempt.
func (s *Store) RecordNotification(runID int64, channel string, ok bool, detail string) {
	okInt := 0
	if ok {
		okInt = 1
	}
	var run interface{}
	if runID > 0 {
		run = runID
	}
	if _, err := s.sql.Exec(
		`INSERT INTO notifications (run_id, channel, ok, detail, sent_at) VALUES (?, ?, ?, ?, ?)`,
		run, channel, okInt, detail, time.Now().UTC().Format(time.RFC3339)); err != nil {
		s.log.Warn().Err(err).Msg("failed to record notification")
	}
}

// RunStat is a summarized historical run.
type RunStat struct {
	ID           int64
	Mode         string
	StartedAt    string
	DurationMS   int64
	UniverseSize int
	FinalCount   int
	UsedFallback bool
}

// RecentRuns returns the latest n runs, newest first.
func (s *Store) RecentRuns(n int) ([]RunStat, error) {
	rows, err := s.sql.Query(
		`SELECT id, mode, started_at, duration_ms, universe_size, final_count, used_fallback
		 FROM runs ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunStat
	for rows.Next() {
		var run RunStat
		var fallback int
		if err := rows.Scan(&run.ID, &run.Mode, &run.StartedAt, &run.DurationMS,
			&run.UniverseSize, &run.FinalCount, &fallback); err != nil {
			return nil, err
		}
		run.UsedFallback = fallback == 1
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
