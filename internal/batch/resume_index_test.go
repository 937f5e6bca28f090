package batch

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/sweagent-go/sweagent/pkg/swe"
)

func TestSQLiteResumeIndexRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resume.db")
	idx, err := OpenSQLiteResumeIndex(path)
	if err != nil {
		t.Fatalf("OpenSQLiteResumeIndex: %v", err)
	}
	defer idx.Close()

	ctx := context.Background()

	if _, found, err := idx.Lookup(ctx, "missing"); err != nil || found {
		t.Fatalf("expected a miss for an unrecorded instance, got found=%v err=%v", found, err)
	}

	if err := idx.Record(ctx, "inst-1", swe.StatusSubmitted, 1.25); err != nil {
		t.Fatalf("Record: %v", err)
	}

	status, found, err := idx.Lookup(ctx, "inst-1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !found {
		t.Fatal("expected inst-1 to be found after Record")
	}
	if status != swe.StatusSubmitted {
		t.Fatalf("expected status %q, got %q", swe.StatusSubmitted, status)
	}

	if err := idx.Record(ctx, "inst-1", swe.StatusExitCost, 2.0); err != nil {
		t.Fatalf("Record (overwrite): %v", err)
	}
	status, _, err = idx.Lookup(ctx, "inst-1")
	if err != nil {
		t.Fatalf("Lookup after overwrite: %v", err)
	}
	if status != swe.StatusExitCost {
		t.Fatalf("expected overwritten status %q, got %q", swe.StatusExitCost, status)
	}
}

func TestPostgresResumeIndexLookupMiss(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	idx := &sqlResumeIndex{
		db:     db,
		lookup: `SELECT status FROM resume_index WHERE instance_id = $1`,
		upsert: `INSERT INTO resume_index (instance_id, status, cost, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (instance_id) DO UPDATE SET status = excluded.status, cost = excluded.cost, updated_at = excluded.updated_at`,
	}

	mock.ExpectQuery(`SELECT status FROM resume_index`).
		WithArgs("absent").
		WillReturnError(sql.ErrNoRows)

	_, found, err := idx.Lookup(context.Background(), "absent")
	if err != nil {
		t.Fatalf("expected ErrNoRows to be treated as a plain miss, got error: %v", err)
	}
	if found {
		t.Fatal("expected found=false for a row that does not exist")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresResumeIndexRecordPropagatesError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	idx := &sqlResumeIndex{
		db:     db,
		lookup: `SELECT status FROM resume_index WHERE instance_id = $1`,
		upsert: `INSERT INTO resume_index (instance_id, status, cost, updated_at) VALUES ($1, $2, $3, $4)`,
	}

	mock.ExpectExec(`INSERT INTO resume_index`).
		WillReturnError(errors.New("connection refused"))

	if err := idx.Record(context.Background(), "inst-1", swe.StatusSubmitted, 0.1); err == nil {
		t.Fatal("expected Record to propagate the driver error")
	}
}
