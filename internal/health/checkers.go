package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/MrWong99/dispatchscribe/internal/ledger"
)

// DirWritable returns a [Checker] that verifies dir exists, is a directory,
// and accepts writes. The pipeline cannot make progress when the watch or
// processed directory disappears out from under it (unmounted network share,
// deleted by an operator), so readiness should reflect that.
func DirWritable(name, dir string) Checker {
	return Checker{
		Name: name,
		Check: func(_ context.Context) error {
			info, err := os.Stat(dir)
			if err != nil {
				return fmt.Errorf("stat %s: %w", dir, err)
			}
			if !info.IsDir() {
				return fmt.Errorf("%s is not a directory", dir)
			}
			probe := filepath.Join(dir, ".health-probe")
			f, err := os.Create(probe)
			if err != nil {
				return fmt.Errorf("write probe in %s: %w", dir, err)
			}
			f.Close()
			os.Remove(probe)
			return nil
		},
	}
}

// Ledger returns a [Checker] that verifies the transcription ledger is
// reachable and initialised. For the CSV backend this confirms the file can
// be created; for Postgres it exercises the connection.
func Ledger(store ledger.Store) Checker {
	return Checker{
		Name: "ledger",
		Check: func(ctx context.Context) error {
			return store.EnsureInitialized(ctx)
		},
	}
}
