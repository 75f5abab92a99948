// Package lock implements the pipeline's advisory file locks: one global
// lock and an optional per-book-hash lock for deployments
// that opt into parallel per-book processing 
package lock

import (
	"errors"
	"os"
	"path/filepath"
)

// ErrHeld is returned by TryAcquire when another process already holds the
// lock. Callers should treat this as a benign skip (exit 0), never as a
// pipeline failure.
var ErrHeld = errors.New("lock: already held by another process")

// Lock is a held advisory file lock. Release is idempotent and is also
// performed implicitly by OS process exit (normal, error, or signal), so a
// crashed process never leaves the lock stuck.
type Lock struct {
	file *os.File
	path string
}

// Global opens (creating if needed) the pipeline's global lock file, named
// exactly as the pipeline contract lays out: <lock_dir>/pipeline.lock.
func Global(lockDir string) (*Lock, error) {
	return open(filepath.Join(lockDir, "pipeline.lock"))
}

// PerBook opens the advisory lock for one book hash, used only when a
// deployment layers per-book locking on top of the global lock.
func PerBook(lockDir, bookHash string) (*Lock, error) {
	return open(filepath.Join(lockDir, "book-"+bookHash+".lock"))
}

func open(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	return &Lock{file: f, path: path}, nil
}

// TryAcquire attempts a non-blocking exclusive lock. It returns ErrHeld,
// never a generic error, when the lock is contended — the orchestrator's
// contract is "exit 0 and log", not "fail".
func (l *Lock) TryAcquire() error {
	return tryFlock(l.file)
}

// Release drops the lock and closes the underlying file. Safe to call
// multiple times.
func (l *Lock) Release() error {
	if l.file == nil {
		return nil
	}
	err := unlockAndClose(l.file)
	l.file = nil
	return err
}

// Path returns the lock file's path, useful for logging.
func (l *Lock) Path() string { return l.path }
