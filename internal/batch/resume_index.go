package batch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/sweagent-go/sweagent/pkg/swe"
)

// ResumeIndex accelerates resume classification for large instance sets: a
// plain filesystem scan over every *.traj.json file is fine for a few
// hundred instances but gets slow in the thousands, so BatchRunner treats
// this as an optional cache in front of trajectory.Inspect rather than a
// second source of truth. A row with a terminal status is trusted: the
// instance is skipped without reading its trajectory file. A miss, a lookup
// error, or a non-terminal row falls back to trajectory.Inspect.
type ResumeIndex interface {
	// Lookup reports the last known status for instanceID, if recorded.
	Lookup(ctx context.Context, instanceID string) (status swe.Status, found bool, err error)
	// Record upserts instanceID's latest known status and cost.
	Record(ctx context.Context, instanceID string, status swe.Status, cost float64) error
	Close() error
}

const resumeIndexSchema = `
CREATE TABLE IF NOT EXISTS resume_index (
	instance_id TEXT PRIMARY KEY,
	status      TEXT NOT NULL,
	cost        REAL NOT NULL DEFAULT 0,
	updated_at  TIMESTAMP NOT NULL
)`

// sqlResumeIndex implements ResumeIndex over database/sql. The two
// constructors below select the driver and upsert dialect; the rest of the
// type is driver-agnostic.
type sqlResumeIndex struct {
	db     *sql.DB
	lookup string
	upsert string
}

// OpenSQLiteResumeIndex opens (creating if absent) a pure-Go SQLite resume
// index at path. This is the default for a single-machine batch run: one
// file alongside the trajectory directory, no external service required.
func OpenSQLiteResumeIndex(path string) (ResumeIndex, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite resume index: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid busy-lock churn
	idx := &sqlResumeIndex{
		db:     db,
		lookup: `SELECT status FROM resume_index WHERE instance_id = ?`,
		upsert: `INSERT INTO resume_index (instance_id, status, cost, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(instance_id) DO UPDATE SET status = excluded.status, cost = excluded.cost, updated_at = excluded.updated_at`,
	}
	if err := idx.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

// OpenPostgresResumeIndex opens a resume index backed by a shared Postgres
// (or CockroachDB) instance via lib/pq, for batch runs whose workers are
// spread across multiple machines and need a resume view none of them owns
// alone.
func OpenPostgresResumeIndex(dsn string) (ResumeIndex, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres resume index: %w", err)
	}
	idx := &sqlResumeIndex{
		db:     db,
		lookup: `SELECT status FROM resume_index WHERE instance_id = $1`,
		upsert: `INSERT INTO resume_index (instance_id, status, cost, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (instance_id) DO UPDATE SET status = excluded.status, cost = excluded.cost, updated_at = excluded.updated_at`,
	}
	if err := idx.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (i *sqlResumeIndex) ensureSchema(ctx context.Context) error {
	_, err := i.db.ExecContext(ctx, resumeIndexSchema)
	if err != nil {
		return fmt.Errorf("create resume_index table: %w", err)
	}
	return nil
}

func (i *sqlResumeIndex) Lookup(ctx context.Context, instanceID string) (swe.Status, bool, error) {
	row := i.db.QueryRowContext(ctx, i.lookup, instanceID)
	var status string
	err := row.Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup resume index for %s: %w", instanceID, err)
	}
	return swe.Status(status), true, nil
}

func (i *sqlResumeIndex) Record(ctx context.Context, instanceID string, status swe.Status, cost float64) error {
	_, err := i.db.ExecContext(ctx, i.upsert, instanceID, string(status), cost, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record resume index for %s: %w", instanceID, err)
	}
	return nil
}

func (i *sqlResumeIndex) Close() error { return i.db.Close() }
