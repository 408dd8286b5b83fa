// Package watch discovers newly arrived recordings and decides when they are
// safe to read.
//
// Eligibility is a set difference over two durable directories: a filename is
// offered for processing while it exists in the watch directory and no file
// of the same name exists in the processed directory. Moving the file to the
// processed directory is the commit; because the check is recomputed from
// disk on every scan it is idempotent across crashes and restarts with no
// extra bookkeeping.
package watch

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// defaultSampleInterval separates the two size samples of a stability probe.
const defaultSampleInterval = 500 * time.Millisecond

// audioExtensions is the allow-set of recording container types, matched
// case-insensitively.
var audioExtensions = map[string]bool{
	".mp3":  true,
	".wav":  true,
	".m4a":  true,
	".flac": true,
}

// Detector lists ready recordings and probes write-completion.
// The zero value is not usable; call New.
type Detector struct {
	watchDir     string
	processedDir string

	// sampleInterval is shortened in tests.
	sampleInterval time.Duration
}

// Option is a functional option for configuring a Detector.
type Option func(*Detector)

// WithSampleInterval overrides the pause between the two size samples of a
// stability probe. Intended for tests; production uses 500 ms.
func WithSampleInterval(d time.Duration) Option {
	return func(w *Detector) { w.sampleInterval = d }
}

// New creates a Detector over the given watch and processed directories.
// Both directories are created if absent.
func New(watchDir, processedDir string, opts ...Option) (*Detector, error) {
	for _, dir := range []string{watchDir, processedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("watch: create %q: %w", dir, err)
		}
	}
	d := &Detector{
		watchDir:       watchDir,
		processedDir:   processedDir,
		sampleInterval: defaultSampleInterval,
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// ListReady returns the filenames of recordings present in the watch
// directory and absent from the processed directory, in sorted order.
// Non-audio files are ignored.
func (d *Detector) ListReady() ([]string, error) {
	watchEntries, err := os.ReadDir(d.watchDir)
	if err != nil {
		return nil, fmt.Errorf("watch: read %q: %w", d.watchDir, err)
	}

	processed := make(map[string]bool)
	if entries, err := os.ReadDir(d.processedDir); err == nil {
		for _, e := range entries {
			processed[e.Name()] = true
		}
	}

	var ready []string
	for _, e := range watchEntries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !audioExtensions[strings.ToLower(filepath.Ext(name))] {
			continue
		}
		if processed[name] {
			continue
		}
		ready = append(ready, name)
	}
	sort.Strings(ready)
	return ready, nil
}

// IsStable reports whether the file's size is unchanged across two samples
// taken one interval apart, which is the signal that the recorder has
// finished writing it. Any I/O error (including the file vanishing between
// samples) reports false.
func (d *Detector) IsStable(name string) bool {
	path := filepath.Join(d.watchDir, name)
	first, err := os.Stat(path)
	if err != nil {
		return false
	}
	time.Sleep(d.sampleInterval)
	second, err := os.Stat(path)
	if err != nil {
		return false
	}
	return first.Size() == second.Size()
}

// Path returns the full path of a recording inside the watch directory.
func (d *Detector) Path(name string) string {
	return filepath.Join(d.watchDir, name)
}

// MoveProcessed commits a recording by moving it into the processed
// directory. After this the filename is never offered again.
func (d *Detector) MoveProcessed(name string) error {
	return moveInto(d.Path(name), d.processedDir, name)
}

// MoveTo relocates a recording into an arbitrary directory (quarantine).
func (d *Detector) MoveTo(name, dir string) error {
	return moveInto(d.Path(name), dir, name)
}

func moveInto(src, dir, name string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("watch: create %q: %w", dir, err)
	}
	if err := os.Rename(src, filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("watch: move %q: %w", name, err)
	}
	return nil
}
