// Package ledger persists the durable, append-only record of every processed
// recording. One entry is written per successfully transcribed file, after
// transcription and before the file is committed to the processed directory,
// so the ledger plus the processed directory together are the authoritative
// record of what the pipeline has done.
//
// Two backends implement [Store]: a seven-column CSV file (the default, flat
// enough for the external report generator to consume directly) and a
// PostgreSQL table selected by configuring a DSN.
package ledger

import (
	"context"
	"time"
)

// Entry is one processed recording's outcome. Immutable once written.
type Entry struct {
	Timestamp      time.Time
	Filename       string
	RawText        string
	CorrectedText  string
	AudioDuration  float64 // seconds
	ProcessingTime float64 // seconds of wall time spent transcribing
}

// RealtimeFactor is processing time divided by audio duration, or 0 when the
// duration is unknown or non-positive.
func (e Entry) RealtimeFactor() float64 {
	if e.AudioDuration <= 0 {
		return 0
	}
	return e.ProcessingTime / e.AudioDuration
}

// Store is the append-only ledger contract.
//
// Implementations must be safe for concurrent use, although the pipeline's
// single-threaded loop serialises writes in practice.
type Store interface {
	// EnsureInitialized creates the backing store if it does not exist yet.
	// It never truncates or overwrites existing records.
	EnsureInitialized(ctx context.Context) error

	// Append durably records one entry. Called exactly once per processed
	// recording.
	Append(ctx context.Context, e Entry) error
}
