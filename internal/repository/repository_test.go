package repository

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dharsanguruparan/photobook/internal/build"
	"github.com/dharsanguruparan/photobook/internal/upload"
)

type execCall struct {
	sql  string
	args []any
}

type fakeDB struct {
	calls []execCall
	tag   string
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, execCall{sql: sql, args: args})
	return pgconn.NewCommandTag(f.tag), nil
}

func (f *fakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	panic("not used")
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	panic("not used")
}

func TestUploadSaveSendsNullsForEmptyFields(t *testing.T) {
	db := &fakeDB{tag: "INSERT 0 1"}
	repo := NewUploadRepository(db)
	task := &upload.Task{ID: "t1", AssetID: "a", State: upload.StatePending}
	if err := repo.Save(context.Background(), task); err != nil {
		t.Fatalf("save: %v", err)
	}
	call := db.calls[0]
	if !strings.Contains(call.sql, "ON CONFLICT (asset_id)") {
		t.Fatalf("expected an upsert, got %s", call.sql)
	}
	if ref, ok := call.args[4].(*string); !ok || ref != nil {
		t.Fatalf("empty remote ref should be NULL, got %#v", call.args[4])
	}
	if next, ok := call.args[6].(*time.Time); !ok || next != nil {
		t.Fatalf("zero next attempt should be NULL, got %#v", call.args[6])
	}
	if created := call.args[7].(time.Time); created.IsZero() {
		t.Fatalf("created_at should be stamped")
	}
}

func TestResetInFlightReportsAffectedRows(t *testing.T) {
	db := &fakeDB{tag: "UPDATE 2"}
	n, err := NewUploadRepository(db).ResetInFlight(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("reset: n=%d err=%v", n, err)
	}
	args := db.calls[0].args
	if args[0] != upload.StatePending || args[2] != upload.StateInFlight {
		t.Fatalf("unexpected args %v", args)
	}
}

func TestRecordBuildUpserts(t *testing.T) {
	db := &fakeDB{tag: "INSERT 0 1"}
	job := build.Job{ID: "j", OrderID: "o", State: build.StateFailed, Reason: build.ReasonTimeout}
	if err := NewBuildRepository(db).RecordBuild(context.Background(), job); err != nil {
		t.Fatalf("record: %v", err)
	}
	args := db.calls[0].args
	if reason, ok := args[6].(*string); !ok || reason == nil || *reason != "timeout" {
		t.Fatalf("unexpected reason arg %#v", args[6])
	}
}
