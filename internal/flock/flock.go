// Package flock guards a cache directory against concurrent ownership.
//
// The lock is advisory and per-process-instance: it exists to turn the
// unsupported "two caches over one directory" configuration into a fast,
// clean error instead of silent journal corruption. flock(2) applies to an
// open file description, so two opens of the same lock file count as two
// owners even within one process.
package flock

import "errors"

// ErrLocked is returned when the directory is already owned by a live lock.
var ErrLocked = errors.New("flock: directory already locked")

// Lock represents a held directory lock. Release with Close.
type Lock struct {
	release func() error
}

// Close releases the lock. Idempotent.
func (l *Lock) Close() error {
	if l == nil || l.release == nil {
		return nil
	}
	release := l.release
	l.release = nil
	return release()
}
