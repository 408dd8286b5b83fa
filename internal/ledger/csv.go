package ledger

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"sync"
)

// header is the fixed seven-column CSV layout. External tooling keys on
// these names; changing them is a breaking change.
var header = []string{
	"timestamp",
	"filename",
	"raw_text",
	"corrected_text",
	"audio_duration",
	"transcription_time",
	"realtime_factor",
}

// timestampLayout matches the format the report generator expects.
const timestampLayout = "2006-01-02 15:04:05"

// Compile-time interface check.
var _ Store = (*CSVStore)(nil)

// CSVStore is a [Store] backed by a local CSV file.
type CSVStore struct {
	mu   sync.Mutex
	path string
}

// NewCSVStore creates a CSVStore writing to path. Call EnsureInitialized
// before the first Append.
func NewCSVStore(path string) *CSVStore {
	return &CSVStore{path: path}
}

// EnsureInitialized writes the header row if and only if the file does not
// exist yet. An existing file is left untouched regardless of its content.
func (s *CSVStore) EnsureInitialized(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// O_EXCL makes creation the atomic existence check.
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return fmt.Errorf("ledger: create %q: %w", s.path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("ledger: write header: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("ledger: flush header: %w", err)
	}
	return nil
}

// Append writes one row to the end of the file.
func (s *CSVStore) Append(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("ledger: open %q: %w", s.path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	row := []string{
		e.Timestamp.Format(timestampLayout),
		e.Filename,
		e.RawText,
		e.CorrectedText,
		fmt.Sprintf("%.1f", e.AudioDuration),
		fmt.Sprintf("%.1f", e.ProcessingTime),
		fmt.Sprintf("%.2f", e.RealtimeFactor()),
	}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("ledger: write row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("ledger: flush row: %w", err)
	}
	return nil
}
