// Package singleinstance allows at most one running tomato process per
// user-data directory: a single advisory lock file (tomato.run, §6) in that
// directory, held for the lifetime of the process.
package singleinstance

import (
	"fmt"
	"os"
	"syscall"
)

// Lock is a held advisory lock on the user-data directory's tomato.run
// file. Release drops it; the zero value is not valid, use Acquire.
type Lock struct {
	file *os.File
}

// ErrAlreadyRunning is returned by Acquire when another process already
// holds the lock.
var ErrAlreadyRunning = fmt.Errorf("singleinstance: another instance is already running")

// Acquire takes an exclusive, non-blocking flock on path (conventionally
// <user-data-dir>/tomato.run), creating it if absent. Returns
// ErrAlreadyRunning if a live process holds it. No third-party
// single-instance library applies here (§9/DESIGN.md): the candidates in
// the retrieved pack solve cluster leader election, not one-process-per-
// machine exclusion, so this is a direct syscall.Flock call.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("singleinstance: open %s: %w", path, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if err == syscall.EWOULDBLOCK {
			return nil, ErrAlreadyRunning
		}
		return nil, fmt.Errorf("singleinstance: flock %s: %w", path, err)
	}

	if err := f.Truncate(0); err == nil {
		_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
	}

	return &Lock{file: f}, nil
}

// Release drops the lock and closes the underlying file. The lock file
// itself is left on disk; flock is advisory and released implicitly on
// process exit regardless, but callers should still call Release on clean
// shutdown paths.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		_ = l.file.Close()
		return fmt.Errorf("singleinstance: unlock: %w", err)
	}
	return l.file.Close()
}
