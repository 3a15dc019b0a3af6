// Copyright 2025-2026 Roberto Szek

package store

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Record is a single persisted value in its own text file. The pin state
// machine keeps one record for the source-side pinned id and one for the
// target-side pinned id.
type Record struct {
	path string
}

// NewRecord returns a record stored at path. The file is created lazily on
// the first Write.
func NewRecord(path string) *Record {
	return &Record{path: path}
}

// Read returns the recorded value, or "" if the record is absent or empty.
func (r *Record) Read() (string, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read record %s: %w", r.path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Write overwrites the record with value.
func (r *Record) Write(value string) error {
	if err := os.WriteFile(r.path, []byte(value+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write record %s: %w", r.path, err)
	}
	return nil
}

// Clear empties the record. Clearing an absent record is not an error.
func (r *Record) Clear() error {
	if err := os.WriteFile(r.path, nil, 0o644); err != nil {
		return fmt.Errorf("failed to clear record %s: %w", r.path, err)
	}
	return nil
}
