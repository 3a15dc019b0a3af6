// Copyright 2025-2026 Roberto Szek

// Package store provides the durable key-value persistence the mirroring
// pipeline depends on: the per-account id map, the pin records, and the
// process-wide run lock. The artifacts are plain text files, not a database.
package store

// Store is the persistence contract the publication engine writes through.
// Implementations must survive process restarts.
type Store interface {
	// Get returns the value for key and whether the key is present.
	Get(key string) (string, bool, error)
	// Put stores value under key, overwriting any previous value.
	Put(key, value string) error
	// Clear removes all entries.
	Clear() error
}
