// Package archive keeps a history of latency runs in a SQLite database.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"gosuda.org/amplink/internal/histogram"
)

// ErrNoRun is returned when a run id is unknown
var ErrNoRun = errors.New("archive: no such run")

// Run is one recorded experiment
type Run struct {
	ID       int64
	Started  time.Time
	Interval time.Duration
	Summary  histogram.Summary
}

// Store is an open run history
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at   INTEGER NOT NULL,
	interval_ns  INTEGER NOT NULL,
	sample_count INTEGER NOT NULL,
	out_count    INTEGER NOT NULL,
	total_sum    INTEGER NOT NULL,
	min_ticks    INTEGER NOT NULL,
	max_ticks    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS buckets (
	run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	ticks  INTEGER NOT NULL,
	count  INTEGER NOT NULL,
	PRIMARY KEY (run_id, ticks)
) WITHOUT ROWID;
`

// Open opens or creates the history at path
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: open %s: %w", path, err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("archive: %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores one run and its non-empty buckets, returning the run id
func (s *Store) Record(ctx context.Context, started time.Time, interval time.Duration, snap *histogram.Snapshot) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("archive: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO runs
		(started_at, interval_ns, sample_count, out_count, total_sum, min_ticks, max_ticks)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		started.UnixNano(), int64(interval),
		int64(snap.SampleCount), int64(snap.OutCount), int64(snap.TotalSum),
		int64(snap.Min), int64(snap.Max),
	)
	if err != nil {
		return 0, fmt.Errorf("archive: insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO buckets (run_id, ticks, count) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("archive: prepare: %w", err)
	}
	defer stmt.Close()

	for ticks, n := range snap.Data {
		if n == 0 {
			continue
		}
		if _, err := stmt.ExecContext(ctx, id, ticks, int64(n)); err != nil {
			return 0, fmt.Errorf("archive: insert bucket %d: %w", ticks, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("archive: commit: %w", err)
	}
	return id, nil
}

// Snapshot rebuilds the histogram of run id
func (s *Store) Snapshot(ctx context.Context, id int64) (histogram.Snapshot, error) {
	var snap histogram.Snapshot
	var samples, out, sum, lo, hi int64
	err := s.db.QueryRowContext(ctx, `
		SELECT sample_count, out_count, total_sum, min_ticks, max_ticks
		FROM runs WHERE id = ?`, id,
	).Scan(&samples, &out, &sum, &lo, &hi)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, ErrNoRun
	}
	if err != nil {
		return snap, err
	}
	snap.SampleCount = uint64(samples)
	snap.OutCount = uint64(out)
	snap.TotalSum = uint64(sum)
	snap.Min = uint32(lo)
	snap.Max = uint32(hi)

	rows, err := s.db.QueryContext(ctx, `SELECT ticks, count FROM buckets WHERE run_id = ?`, id)
	if err != nil {
		return snap, err
	}
	defer rows.Close()
	for rows.Next() {
		var ticks int
		var n int64
		if err := rows.Scan(&ticks, &n); err != nil {
			return snap, err
		}
		if ticks >= 0 && ticks < histogram.Size {
			snap.Data[ticks] = uint32(n)
		}
	}
	return snap, rows.Err()
}

// Runs returns the most recent runs, newest first. Bucket lists are not
// filled in.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, interval_ns, sample_count, out_count, total_sum, min_ticks, max_ticks
		FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started, interval, samples, out, sum, lo, hi int64
		if err := rows.Scan(&r.ID, &started, &interval, &samples, &out, &sum, &lo, &hi); err != nil {
			return nil, err
		}
		snap := histogram.Snapshot{
			SampleCount: uint64(samples),
			OutCount:    uint64(out),
			TotalSum:    uint64(sum),
			Min:         uint32(lo),
			Max:         uint32(hi),
		}
		r.Started = time.Unix(0, started)
		r.Interval = time.Duration(interval)
		r.Summary = snap.Summary()
		r.Summary.Buckets = nil
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
