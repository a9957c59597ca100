package blob

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteFile atomically replaces path with data. It writes to a .tmp file
// in the same directory first and renames on success.
func WriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating index directory: %w", err)
	}
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp index file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing index file: %w", err)
	}
	if err := f.Sync(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("syncing index file: %w", err)
	}
	f.Close()
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming index file: %w", err)
	}
	return nil
}

// ReadFile loads and unpacks an index file.
func ReadFile(path string) (*Envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading index file: %w", err)
	}
	env, err := Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpacking %s: %w", path, err)
	}
	return env, nil
}
