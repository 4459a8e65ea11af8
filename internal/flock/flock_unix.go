//go:build unix

package flock

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Acquire takes a non-blocking exclusive lock on path, creating the file if
// needed. Returns ErrLocked if another open lock holds it.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("flock: %w", err)
	}
	return &Lock{release: f.Close}, nil
}
