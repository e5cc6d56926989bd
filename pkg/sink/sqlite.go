package sink

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	// Registers the sqlite3 driver.
	_ "github.com/mattn/go-sqlite3"

	"github.com/Sumatoshi-tech/benchfill/pkg/backfill"
)

var schemaSQL = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		run_id          TEXT PRIMARY KEY,
		repository      TEXT NOT NULL,
		range_from      TEXT NOT NULL,
		range_to        TEXT NOT NULL,
		branch          TEXT NOT NULL,
		subset          TEXT NOT NULL,
		snapshot_commit TEXT NOT NULL,
		snapshot_digest TEXT NOT NULL,
		created_at      INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS revisions (
		run_id       TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
		position     INTEGER NOT NULL,
		revision     TEXT NOT NULL,
		summary      TEXT NOT NULL,
		author       TEXT NOT NULL,
		committed_at INTEGER NOT NULL,
		status       TEXT NOT NULL,
		failed_state TEXT NOT NULL,
		reason       TEXT NOT NULL,
		duration_s   REAL NOT NULL,
		PRIMARY KEY (run_id, revision)
	)`,
	`CREATE TABLE IF NOT EXISTS results (
		run_id   TEXT NOT NULL,
		revision TEXT NOT NULL,
		test     TEXT NOT NULL,
		mean     REAL NOT NULL,
		stddev   REAL NOT NULL,
		min      REAL NOT NULL,
		max      REAL NOT NULL,
		rounds   INTEGER NOT NULL,
		passed   INTEGER NOT NULL,
		message  TEXT NOT NULL,
		PRIMARY KEY (run_id, revision, test),
		FOREIGN KEY (run_id, revision) REFERENCES revisions(run_id, revision) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_results_test ON results(test)`,
}

// SQLite stores reports in a local database. Writing the same run again
// replaces it.
type SQLite struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	closed bool
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	for _, stmt := range schemaSQL {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()

			return nil, fmt.Errorf("sqlite: init schema: %w", err)
		}
	}

	return &SQLite{db: db, path: path}, nil
}

// Name implements backfill.Sink.
func (s *SQLite) Name() string { return "sqlite:" + s.path }

// Write implements backfill.Sink. The whole report lands in one transaction.
func (s *SQLite) Write(ctx context.Context, r *backfill.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}

	err = writeReport(ctx, tx, r)
	if err != nil {
		_ = tx.Rollback()

		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}

	return nil
}

func writeReport(ctx context.Context, tx *sql.Tx, r *backfill.Report) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, r.RunID); err != nil {
		return fmt.Errorf("sqlite: replace run: %w", err)
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, repository, range_from, range_to, branch, subset,
			snapshot_commit, snapshot_digest, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Repository, r.From, r.To, r.Branch, string(r.Subset),
		r.SnapshotCommit, r.SnapshotDigest, r.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert run: %w", err)
	}

	revStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO revisions (run_id, position, revision, summary, author, committed_at,
			status, failed_state, reason, duration_s)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare revision insert: %w", err)
	}
	defer revStmt.Close()

	resStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO results (run_id, revision, test, mean, stddev, min, max, rounds, passed, message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare result insert: %w", err)
	}
	defer resStmt.Close()

	for i, rev := range r.Revisions {
		_, err = revStmt.ExecContext(ctx,
			r.RunID, i, rev.Revision, rev.Summary, rev.Author, rev.CommittedAt.Unix(),
			string(rev.Status), string(rev.FailedState), rev.Reason, rev.DurationSeconds,
		)
		if err != nil {
			return fmt.Errorf("sqlite: insert revision %s: %w", rev.Revision, err)
		}

		for _, res := range rev.Results {
			_, err = resStmt.ExecContext(ctx,
				r.RunID, rev.Revision, res.Test, res.Mean, res.StdDev, res.Min, res.Max,
				res.Rounds, res.Passed, res.Message,
			)
			if err != nil {
				return fmt.Errorf("sqlite: insert result %s@%s: %w", res.Test, rev.Revision, err)
			}
		}
	}

	return nil
}

// TrendPoint is one measurement of a test at a revision.
type TrendPoint struct {
	RunID       string
	Revision    string
	CommittedAt time.Time
	Mean        float64
	Passed      bool
}

// Trend returns every stored measurement of test, oldest commit first.
func (s *SQLite) Trend(ctx context.Context, test string) ([]TrendPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.run_id, r.revision, v.committed_at, r.mean, r.passed
		FROM results r
		JOIN revisions v ON v.run_id = r.run_id AND v.revision = r.revision
		WHERE r.test = ?
		ORDER BY v.committed_at, v.position`, test)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query trend: %w", err)
	}
	defer rows.Close()

	var points []TrendPoint

	for rows.Next() {
		var (
			p           TrendPoint
			committedAt int64
		)

		if err := rows.Scan(&p.RunID, &p.Revision, &committedAt, &p.Mean, &p.Passed); err != nil {
			return nil, fmt.Errorf("sqlite: scan trend: %w", err)
		}

		p.CommittedAt = time.Unix(committedAt, 0).UTC()
		points = append(points, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: read trend: %w", err)
	}

	return points, nil
}

// Close releases the database.
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true

	return s.db.Close()
}
