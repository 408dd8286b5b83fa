package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the dispatch_transcriptions table. Executed via
// [PostgresStore.EnsureInitialized] or applied manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS dispatch_transcriptions (
    id                 BIGSERIAL PRIMARY KEY,
    recorded_at        TIMESTAMPTZ NOT NULL,
    filename           TEXT NOT NULL,
    raw_text           TEXT NOT NULL DEFAULT '',
    corrected_text     TEXT NOT NULL DEFAULT '',
    audio_duration     DOUBLE PRECISION NOT NULL DEFAULT 0,
    transcription_time DOUBLE PRECISION NOT NULL DEFAULT 0,
    realtime_factor    DOUBLE PRECISION NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_dispatch_transcriptions_recorded_at ON dispatch_transcriptions(recorded_at);
`

// DB is the slice of the pgx API used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// PostgresStore is a [Store] backed by a PostgreSQL database.
type PostgresStore struct {
	db DB
}

// NewPostgresStore creates a PostgresStore over the given connection or
// pool. Call EnsureInitialized before the first Append.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureInitialized executes the [Schema] DDL, creating the table and index
// if they do not already exist. Existing rows are never touched.
func (s *PostgresStore) EnsureInitialized(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ledger: migrate: %w", err)
	}
	return nil
}

// Append inserts one row.
func (s *PostgresStore) Append(ctx context.Context, e Entry) error {
	const q = `
INSERT INTO dispatch_transcriptions
    (recorded_at, filename, raw_text, corrected_text, audio_duration, transcription_time, realtime_factor)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.db.Exec(ctx, q,
		e.Timestamp,
		e.Filename,
		e.RawText,
		e.CorrectedText,
		e.AudioDuration,
		e.ProcessingTime,
		e.RealtimeFactor(),
	)
	if err != nil {
		return fmt.Errorf("ledger: insert %q: %w", e.Filename, err)
	}
	return nil
}
