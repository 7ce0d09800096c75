// Package store persists coverage runs in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/star/starcover/internal/coverage"
)

// ErrNotFound is returned for an unknown run id.
var ErrNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	created_at   INTEGER NOT NULL,
	pov          TEXT NOT NULL,
	sweep_mode   TEXT NOT NULL,
	include_gaps INTEGER NOT NULL,
	window_start INTEGER NOT NULL,
	window_end   INTEGER NOT NULL,
	primaries    TEXT NOT NULL,
	elapsed_ms   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS intervals (
	run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	primary_id  INTEGER NOT NULL,
	seq         INTEGER NOT NULL,
	start_ms    INTEGER NOT NULL,
	end_ms      INTEGER NOT NULL,
	from_assets TEXT NOT NULL,
	to_assets   TEXT NOT NULL,
	PRIMARY KEY (run_id, primary_id, seq)
);
CREATE TABLE IF NOT EXISTS failures (
	run_id         TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	primary_id     INTEGER NOT NULL,
	counterpart_id INTEGER NOT NULL,
	error          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_created_at ON runs(created_at DESC);
`

// Run is the stored metadata of one analysis.
type Run struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	POV         string    `json:"pov"`
	SweepMode   string    `json:"sweep_mode"`
	IncludeGaps bool      `json:"include_gaps"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Primaries   int       `json:"primaries"`
	Intervals   int       `json:"intervals"`
	Failures    int       `json:"failures"`
	ElapsedMs   int64     `json:"elapsed_ms"`
}

// Store is a SQLite-backed run repository.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// One writer at a time; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Save stores res under a new run id.
func (s *Store) Save(ctx context.Context, res *coverage.Result) (Run, error) {
	run := Run{
		ID:          uuid.New().String(),
		CreatedAt:   time.Now().UTC().Truncate(time.Millisecond),
		POV:         res.POV.String(),
		SweepMode:   res.Mode.String(),
		IncludeGaps: res.IncludeGaps,
		WindowStart: res.Window.Start.UTC(),
		WindowEnd:   res.Window.End.UTC(),
		Primaries:   len(res.Primaries),
		Intervals:   len(res.All),
		Failures:    len(res.Failures),
		ElapsedMs:   res.Elapsed.Milliseconds(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Run{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, created_at, pov, sweep_mode, include_gaps, window_start, window_end, primaries, elapsed_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.CreatedAt.UnixMilli(), run.POV, run.SweepMode, run.IncludeGaps,
		res.Window.StartMs(), res.Window.EndMs(), coverage.NewAssetSet(res.Primaries...).String(), run.ElapsedMs,
	)
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO intervals (run_id, primary_id, seq, start_ms, end_ms, from_assets, to_assets)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return Run{}, fmt.Errorf("prepare intervals: %w", err)
	}
	defer stmt.Close()
	for _, primary := range res.Primaries {
		for seq, iv := range res.ByPrimary[primary] {
			if _, err := stmt.ExecContext(ctx, run.ID, primary, seq, iv.Start, iv.End, iv.From.String(), iv.To.String()); err != nil {
				return Run{}, fmt.Errorf("insert interval: %w", err)
			}
		}
	}

	for _, f := range res.Failures {
		msg := ""
		if f.Err != nil {
			msg = f.Err.Error()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO failures (run_id, primary_id, counterpart_id, error) VALUES (?, ?, ?, ?)`,
			run.ID, f.Primary, f.Counterpart, msg,
		); err != nil {
			return Run{}, fmt.Errorf("insert failure: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Run{}, fmt.Errorf("commit: %w", err)
	}
	return run, nil
}

const runColumns = `
	r.id, r.created_at, r.pov, r.sweep_mode, r.include_gaps, r.window_start, r.window_end,
	r.primaries, r.elapsed_ms,
	(SELECT COUNT(*) FROM intervals i WHERE i.run_id = r.id),
	(SELECT COUNT(*) FROM failures f WHERE f.run_id = r.id)`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, []int, error) {
	var (
		run                   Run
		created, wStart, wEnd int64
		primaries             string
	)
	err := row.Scan(&run.ID, &created, &run.POV, &run.SweepMode, &run.IncludeGaps, &wStart, &wEnd,
		&primaries, &run.ElapsedMs, &run.Intervals, &run.Failures)
	if err != nil {
		return Run{}, nil, err
	}
	set, err := coverage.ParseAssetSet(primaries)
	if err != nil {
		return Run{}, nil, fmt.Errorf("run %s primaries: %w", run.ID, err)
	}
	run.CreatedAt = time.UnixMilli(created).UTC()
	run.WindowStart = time.UnixMilli(wStart).UTC()
	run.WindowEnd = time.UnixMilli(wEnd).UTC()
	run.Primaries = set.Len()
	return run, set.IDs(), nil
}

// List returns up to limit runs, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs r ORDER BY r.created_at DESC, r.id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := make([]Run, 0)
	for rows.Next() {
		run, _, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Get returns a run and its reconstructed result.
func (s *Store) Get(ctx context.Context, id string) (Run, *coverage.Result, error) {
	run, primaries, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs r WHERE r.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Run{}, nil, fmt.Errorf("failed to load run: %w", err)
	}

	pov, err := coverage.ParsePOV(run.POV)
	if err != nil {
		return Run{}, nil, err
	}
	mode, err := coverage.ParseSweepMode(run.SweepMode)
	if err != nil {
		return Run{}, nil, err
	}
	res := &coverage.Result{
		POV:         pov,
		Mode:        mode,
		IncludeGaps: run.IncludeGaps,
		Window:      coverage.Window{Start: run.WindowStart, End: run.WindowEnd},
		Primaries:   primaries,
		ByPrimary:   make(map[int][]coverage.Interval, len(primaries)),
		Elapsed:     time.Duration(run.ElapsedMs) * time.Millisecond,
	}

	if err := s.loadIntervals(ctx, id, res); err != nil {
		return Run{}, nil, err
	}
	if err := s.loadFailures(ctx, id, res); err != nil {
		return Run{}, nil, err
	}
	return run, res, nil
}

func (s *Store) loadIntervals(ctx context.Context, id string, res *coverage.Result) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT primary_id, start_ms, end_ms, from_assets, to_assets
		FROM intervals WHERE run_id = ? ORDER BY primary_id, seq`, id)
	if err != nil {
		return fmt.Errorf("failed to query intervals: %w", err)
	}
	defer rows.Close()

	for _, p := range res.Primaries {
		res.ByPrimary[p] = []coverage.Interval{}
	}
	for rows.Next() {
		var (
			primary  int
			iv       coverage.Interval
			from, to string
		)
		if err := rows.Scan(&primary, &iv.Start, &iv.End, &from, &to); err != nil {
			return fmt.Errorf("failed to scan interval row: %w", err)
		}
		if iv.From, err = coverage.ParseAssetSet(from); err != nil {
			return err
		}
		if iv.To, err = coverage.ParseAssetSet(to); err != nil {
			return err
		}
		res.ByPrimary[primary] = append(res.ByPrimary[primary], iv)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, p := range res.Primaries {
		res.All = append(res.All, res.ByPrimary[p]...)
	}
	return nil
}

func (s *Store) loadFailures(ctx context.Context, id string, res *coverage.Result) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT primary_id, counterpart_id, error FROM failures WHERE run_id = ? ORDER BY rowid`, id)
	if err != nil {
		return fmt.Errorf("failed to query failures: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			f   coverage.PairFailure
			msg string
		)
		if err := rows.Scan(&f.Primary, &f.Counterpart, &msg); err != nil {
			return fmt.Errorf("failed to scan failure row: %w", err)
		}
		f.Err = errors.New(msg)
		res.Failures = append(res.Failures, f)
	}
	return rows.Err()
}
