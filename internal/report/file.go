package report

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// WriteFile writes rows to path atomically. The report is written to a
// temporary file in the same directory, synced and renamed into place, so
// path either holds a complete report or is left untouched.
func WriteFile(path string, rows []Row) (err error) {
	dir := filepath.Dir(path)

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file in %s: %w", dir, err)
	}

	tmp := f.Name()

	defer func() {
		if err == nil {
			return
		}

		if closeErr := f.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			err = errors.Join(err, fmt.Errorf("closing temp file: %w", closeErr))
		}

		if rmErr := os.Remove(tmp); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			err = errors.Join(err, fmt.Errorf("removing temp file: %w", rmErr))
		}
	}()

	if err = Write(f, rows); err != nil {
		return err
	}

	if err = f.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", tmp, err)
	}

	if err = f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmp, err)
	}

	if err = os.Chmod(tmp, 0o644); err != nil {
		return fmt.Errorf("setting mode on %s: %w", tmp, err)
	}

	if err = os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming report into place: %w", err)
	}

	return nil
}
