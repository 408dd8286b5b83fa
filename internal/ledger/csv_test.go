package ledger

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	return rows
}

func TestEnsureInitialized_WritesHeaderOnce(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "transcriptions.csv")
	s := NewCSVStore(path)
	ctx := context.Background()

	if err := s.EnsureInitialized(ctx); err != nil {
		t.Fatalf("EnsureInitialized() error: %v", err)
	}

	rows := readRows(t, path)
	if len(rows) != 1 || !reflect.DeepEqual(rows[0], header) {
		t.Fatalf("rows = %v, want only the header", rows)
	}

	// A second call must leave existing content untouched.
	if err := s.Append(ctx, Entry{Timestamp: time.Now(), Filename: "a.mp3"}); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if err := s.EnsureInitialized(ctx); err != nil {
		t.Fatalf("second EnsureInitialized() error: %v", err)
	}
	if rows := readRows(t, path); len(rows) != 2 {
		t.Errorf("rows = %d after re-init, want 2 (header + entry)", len(rows))
	}
}

func TestAppend_RowFormat(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "transcriptions.csv")
	s := NewCSVStore(path)
	ctx := context.Background()
	if err := s.EnsureInitialized(ctx); err != nil {
		t.Fatal(err)
	}

	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	err := s.Append(ctx, Entry{
		Timestamp:      ts,
		Filename:       "call_20260314.mp3",
		RawText:        "dispatch to wausaukee rescue, structure fire",
		CorrectedText:  "structure fire",
		AudioDuration:  42.36,
		ProcessingTime: 7.84,
	})
	if err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	rows := readRows(t, path)
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	want := []string{
		"2026-03-14 09:26:53",
		"call_20260314.mp3",
		"dispatch to wausaukee rescue, structure fire",
		"structure fire",
		"42.4",
		"7.8",
		"0.19",
	}
	if !reflect.DeepEqual(rows[1], want) {
		t.Errorf("row = %v, want %v", rows[1], want)
	}
}

func TestAppend_QuotesEmbeddedCommas(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "transcriptions.csv")
	s := NewCSVStore(path)
	ctx := context.Background()
	if err := s.EnsureInitialized(ctx); err != nil {
		t.Fatal(err)
	}

	text := `structure fire, "fully involved", respond all units`
	if err := s.Append(ctx, Entry{Timestamp: time.Now(), Filename: "a.mp3", CorrectedText: text}); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	rows := readRows(t, path)
	if rows[1][3] != text {
		t.Errorf("corrected_text round-trip = %q, want %q", rows[1][3], text)
	}
}

func TestRealtimeFactor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		entry Entry
		want  float64
	}{
		{"normal", Entry{AudioDuration: 60, ProcessingTime: 15}, 0.25},
		{"zero duration", Entry{AudioDuration: 0, ProcessingTime: 5}, 0},
		{"negative duration", Entry{AudioDuration: -1, ProcessingTime: 5}, 0},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.entry.RealtimeFactor(); got != tc.want {
				t.Errorf("RealtimeFactor() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEnsureInitialized_BadPath(t *testing.T) {
	t.Parallel()

	s := NewCSVStore(filepath.Join(t.TempDir(), "missing", "deep", "out.csv"))
	if err := s.EnsureInitialized(context.Background()); err == nil {
		t.Error("EnsureInitialized() = nil error for an uncreatable path")
	}
}
