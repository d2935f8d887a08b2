package storage

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
)

// Store persists a Table to a single CSV file. The file doubles as the
// review checkpoint: reopening it resumes at the first unannotated record.
type Store struct {
	path string
}

// Open returns a Store backed by path. The file is not read until Load.
func Open(path string) (*Store, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving table path: %w", err)
	}
	return &Store{path: abs}, nil
}

// Path returns the absolute path of the backing file.
func (s *Store) Path() string { return s.path }

// Load reads the whole table from disk.
func (s *Store) Load() (*Table, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("opening table: %w", err)
	}
	defer f.Close()

	t, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}
	return t, nil
}

// Save writes the full table. The data goes to a temporary file in the
// same directory which is then renamed over the target, so a failed write
// never leaves a truncated table behind. An existing file keeps its
// permissions; a new one is created 0644.
func (s *Store) Save(t *Table) error {
	var buf bytes.Buffer
	if err := t.Write(&buf); err != nil {
		return fmt.Errorf("encoding table: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating table directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	mode := os.FileMode(0o644)
	if fi, err := os.Stat(s.path); err == nil {
		mode = fi.Mode().Perm()
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("setting table mode: %w", err)
	}

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing table: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing table: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing table: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing table: %w", err)
	}
	return nil
}
