package ledger

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// fakeDB records Exec calls and returns a scripted error.
type fakeDB struct {
	execSQL  []string
	execArgs [][]any
	execErr  error
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execSQL = append(f.execSQL, sql)
	f.execArgs = append(f.execArgs, args)
	return pgconn.CommandTag{}, f.execErr
}

func TestPostgresEnsureInitialized_RunsSchema(t *testing.T) {
	t.Parallel()

	db := &fakeDB{}
	s := NewPostgresStore(db)
	if err := s.EnsureInitialized(context.Background()); err != nil {
		t.Fatalf("EnsureInitialized() error: %v", err)
	}
	if len(db.execSQL) != 1 || db.execSQL[0] != Schema {
		t.Errorf("exec calls = %v, want the schema DDL once", db.execSQL)
	}
}

func TestPostgresAppend_InsertsOneRow(t *testing.T) {
	t.Parallel()

	db := &fakeDB{}
	s := NewPostgresStore(db)

	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	entry := Entry{
		Timestamp:      ts,
		Filename:       "call.mp3",
		RawText:        "raw",
		CorrectedText:  "corrected",
		AudioDuration:  60,
		ProcessingTime: 15,
	}
	if err := s.Append(context.Background(), entry); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	if len(db.execSQL) != 1 {
		t.Fatalf("exec calls = %d, want 1", len(db.execSQL))
	}
	if !strings.Contains(db.execSQL[0], "INSERT INTO dispatch_transcriptions") {
		t.Errorf("sql = %q, want insert into dispatch_transcriptions", db.execSQL[0])
	}
	args := db.execArgs[0]
	if len(args) != 7 {
		t.Fatalf("args = %d, want 7", len(args))
	}
	if args[0] != ts || args[1] != "call.mp3" || args[2] != "raw" || args[3] != "corrected" {
		t.Errorf("args = %v", args)
	}
	if args[6] != 0.25 {
		t.Errorf("realtime_factor arg = %v, want 0.25", args[6])
	}
}

func TestPostgresAppend_PropagatesError(t *testing.T) {
	t.Parallel()

	dbErr := errors.New("connection reset")
	s := NewPostgresStore(&fakeDB{execErr: dbErr})
	err := s.Append(context.Background(), Entry{Filename: "call.mp3"})
	if !errors.Is(err, dbErr) {
		t.Errorf("Append() = %v, want wrapped %v", err, dbErr)
	}
}
