// Copyright 2025-2026 Roberto Szek

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/flock"
)

// ErrLockBusy is returned when another run still holds the lock after the
// bounded wait has elapsed.
var ErrLockBusy = fmt.Errorf("another run is already in progress")

// RunLock is a file-based mutual exclusion lock guarding a whole process
// invocation. At most one full run executes at a time per lock file.
type RunLock struct {
	fl      *flock.Flock
	timeout time.Duration
}

// NewRunLock creates a lock on the given file path. timeout bounds how long
// Acquire waits before giving up with ErrLockBusy.
func NewRunLock(path string, timeout time.Duration) *RunLock {
	return &RunLock{fl: flock.New(path), timeout: timeout}
}

// Acquire blocks until the lock is obtained, the timeout elapses, or ctx is
// cancelled.
func (l *RunLock) Acquire(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	ok, err := l.fl.TryLockContext(ctx, 250*time.Millisecond)
	if err != nil {
		if ctx.Err() != nil {
			return ErrLockBusy
		}
		return fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !ok {
		return ErrLockBusy
	}
	return nil
}

// Release unlocks the run lock.
func (l *RunLock) Release() error {
	return l.fl.Unlock()
}
