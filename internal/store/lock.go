package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// schemaLock is a cross-process exclusive lock held while a process creates
// or migrates the schema. It lives next to the database as <db>.lock.
type schemaLock struct {
	path  string
	flock *flock.Flock
}

func newSchemaLock(dbPath string) *schemaLock {
	lockPath := dbPath + ".lock"
	return &schemaLock{
		path:  lockPath,
		flock: flock.New(lockPath),
	}
}

// Lock blocks until the lock is acquired or ctx is done.
func (l *schemaLock) Lock(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	ok, err := l.flock.TryLockContext(ctx, 20*time.Millisecond)
	if err != nil {
		return fmt.Errorf("failed to acquire schema lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("failed to acquire schema lock %s", l.path)
	}
	return nil
}

// Unlock releases the lock. Safe to call when not held.
func (l *schemaLock) Unlock() error {
	if !l.flock.Locked() {
		return nil
	}
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release schema lock: %w", err)
	}
	return nil
}
