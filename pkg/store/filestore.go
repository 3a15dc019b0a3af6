// Copyright 2025-2026 Roberto Szek

package store

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore is a Store backed by a single tab-separated text file. The whole
// file is loaded on open; every Put rewrites it atomically via a temp file and
// rename so a crash mid-write never truncates the map.
type FileStore struct {
	path string

	mu      sync.Mutex
	entries map[string]string
	order   []string
}

var _ Store = (*FileStore)(nil)

// OpenFileStore loads (or creates) the store file at path.
func OpenFileStore(path string) (*FileStore, error) {
	fs := &FileStore{
		path:    path,
		entries: make(map[string]string),
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return fs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open store file: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "\t")
		if !ok {
			continue
		}
		if _, seen := fs.entries[key]; !seen {
			fs.order = append(fs.order, key)
		}
		fs.entries[key] = value
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read store file: %w", err)
	}
	return fs, nil
}

func (fs *FileStore) Get(key string) (string, bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	value, ok := fs.entries[key]
	return value, ok, nil
}

func (fs *FileStore) Put(key, value string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, seen := fs.entries[key]; !seen {
		fs.order = append(fs.order, key)
	}
	fs.entries[key] = value
	return fs.flushLocked()
}

func (fs *FileStore) Clear() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.entries = make(map[string]string)
	fs.order = nil
	if err := os.Remove(fs.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove store file: %w", err)
	}
	return nil
}

// Len returns the number of stored entries.
func (fs *FileStore) Len() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.entries)
}

func (fs *FileStore) flushLocked() error {
	tmp, err := os.CreateTemp(filepath.Dir(fs.path), ".store-*")
	if err != nil {
		return fmt.Errorf("failed to create temp store file: %w", err)
	}
	w := bufio.NewWriter(tmp)
	for _, key := range fs.order {
		fmt.Fprintf(w, "%s\t%s\n", key, fs.entries[key])
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp store file: %w", err)
	}
	if err := os.Rename(tmp.Name(), fs.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace store file: %w", err)
	}
	return nil
}
