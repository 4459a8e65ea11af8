// Package disk implements a bounded, crash-safe filesystem cache with a
// write-ahead journal.
//
// Each entry has a string key matching [a-z0-9_-]{1,64} and a fixed number
// of value slots. Values live in per-slot files; an in-progress edit writes
// <key>.<i>.tmp and a commit atomically renames it to <key>.<i>. Every
// mutation is recorded in an append-only ASCII journal that is replayed on
// open, so the cache survives process death: entries left mid-edit are
// discarded, committed entries are recovered.
//
// The cache evicts least-recently-used entries in the background once the
// configured byte size or file count is exceeded. Both bounds are advisory:
// the cache may transiently exceed them until the cleanup worker catches
// up. The cache directory must be exclusive to one live cache; Open takes
// an advisory lock and fails fast if another instance owns it.
package disk

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/meigma/imgload/internal/flock"
)

const (
	lockFile = ".lock"

	anySequenceNumber = -1
)

var keyPattern = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// Sentinel errors.
var (
	// ErrClosed is returned by operations on a closed cache.
	ErrClosed = errors.New("disk: cache is closed")

	// ErrInvalidKey is returned when a key does not match [a-z0-9_-]{1,64}.
	ErrInvalidKey = errors.New("disk: keys must match [a-z0-9_-]{1,64}")

	// ErrDirectoryLocked is returned by Open when another live cache owns
	// the directory.
	ErrDirectoryLocked = errors.New("disk: cache directory in use by another instance")
)

// Cache is a filesystem-backed key/value cache with bounded size and file
// count, LRU eviction, and a crash-safe journal. All methods are safe for
// concurrent use.
type Cache struct {
	dir          string
	appVersion   int
	valueCount   int
	maxFileCount int
	logger       *slog.Logger

	mu                 sync.Mutex
	maxSize            int64
	size               int64
	fileCount          int
	journalF           *os.File
	journalW           *bufio.Writer
	table              *entryTable
	redundantOpCount   int
	nextSequenceNumber int64
	dirLock            *flock.Lock

	cleanupCh  chan struct{}
	workerDone chan struct{}
}

// Option configures a Cache at Open time.
type Option func(*Cache)

// WithLogger sets a logger for corruption recovery and background trim
// failures. If nil, logs are discarded.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

func (c *Cache) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

// Open opens the cache in dir, creating it if none exists. appVersion is
// part of the journal header; bumping it invalidates the cache. valueCount
// fixes the number of slots per entry. maxSize and maxFileCount bound the
// stored bytes and clean files and must be positive.
//
// A journal that cannot be replayed (bad header, unparseable or truncated
// record) is treated as corruption: the directory is wiped and a fresh
// cache is created in its place. A committed entry whose slot files are
// missing is dropped on its own; the rest of the cache is kept.
func Open(dir string, appVersion, valueCount int, maxSize int64, maxFileCount int, opts ...Option) (*Cache, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("disk: maxSize %d must be positive", maxSize)
	}
	if maxFileCount <= 0 {
		return nil, fmt.Errorf("disk: maxFileCount %d must be positive", maxFileCount)
	}
	if valueCount <= 0 {
		return nil, fmt.Errorf("disk: valueCount %d must be positive", valueCount)
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	dirLock, err := flock.Acquire(filepath.Join(dir, lockFile))
	if err != nil {
		if errors.Is(err, flock.ErrLocked) {
			return nil, ErrDirectoryLocked
		}
		return nil, err
	}

	c := newCache(dir, appVersion, valueCount, maxSize, maxFileCount, opts...)
	c.dirLock = dirLock

	// If a backup journal exists without a journal, a crash interrupted a
	// compaction after the first rename; the backup is authoritative.
	if _, err := os.Stat(c.journalBackupPath()); err == nil {
		if _, err := os.Stat(c.journalPath()); err == nil {
			_ = os.Remove(c.journalBackupPath())
		} else if err := os.Rename(c.journalBackupPath(), c.journalPath()); err != nil {
			_ = dirLock.Close()
			return nil, err
		}
	}

	if _, err := os.Stat(c.journalPath()); err == nil {
		replayErr := c.replay()
		if replayErr == nil {
			c.startWorker()
			return c, nil
		}
		c.log().Warn("journal is corrupt, removing cache",
			slog.String("dir", dir), slog.Any("error", replayErr))
		if err := c.wipeDir(); err != nil {
			_ = dirLock.Close()
			return nil, err
		}
		c = newCache(dir, appVersion, valueCount, maxSize, maxFileCount, opts...)
		c.dirLock = dirLock
	}

	// Fresh, empty cache.
	if err := os.MkdirAll(dir, 0o700); err != nil {
		_ = dirLock.Close()
		return nil, err
	}
	if err := c.rebuildJournal(); err != nil {
		_ = dirLock.Close()
		return nil, err
	}
	c.startWorker()
	return c, nil
}

func newCache(dir string, appVersion, valueCount int, maxSize int64, maxFileCount int, opts ...Option) *Cache {
	c := &Cache{
		dir:          dir,
		appVersion:   appVersion,
		valueCount:   valueCount,
		maxSize:      maxSize,
		maxFileCount: maxFileCount,
		table:        newEntryTable(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *Cache) replay() error {
	if err := c.readJournal(); err != nil {
		return err
	}
	if err := c.processJournal(); err != nil {
		return err
	}
	return c.openJournalWriter()
}

// wipeDir removes the cache directory contents, keeping the held lock file.
func (c *Cache) wipeDir() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return err
	}
	for _, de := range entries {
		if de.Name() == lockFile {
			continue
		}
		if err := os.RemoveAll(filepath.Join(c.dir, de.Name())); err != nil {
			return err
		}
	}
	return nil
}

// Get returns a snapshot of the entry for key, or (nil, nil) if the key is
// absent, not yet readable, or mid-edit. A returned snapshot pins the
// current slot files: later edits and evictions do not disturb it.
func (c *Cache) Get(key string) (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkNotClosed(); err != nil {
		return nil, err
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}
	e := c.table.get(key)
	if e == nil || !e.readable || e.currentEditor != nil {
		return nil, nil
	}

	// Open every slot eagerly so the snapshot observes one published edit
	// even if the entry changes right after the lock is released.
	files := make([]string, c.valueCount)
	readers := make([]*os.File, c.valueCount)
	for i := 0; i < c.valueCount; i++ {
		files[i] = e.cleanFile(c.dir, i)
		f, err := os.Open(files[i])
		if err != nil {
			for _, r := range readers {
				if r != nil {
					_ = r.Close()
				}
			}
			if os.IsNotExist(err) {
				return nil, nil // a file was deleted out from under us
			}
			return nil, err
		}
		readers[i] = f
	}

	c.table.touch(e)
	c.redundantOpCount++
	if _, err := c.journalW.WriteString(opRead + " " + key + "\n"); err != nil {
		for _, r := range readers {
			_ = r.Close()
		}
		return nil, err
	}
	if c.journalRebuildRequired() {
		c.scheduleCleanup()
	}

	lengths := make([]int64, c.valueCount)
	copy(lengths, e.lengths)
	return &Snapshot{
		c:              c,
		key:            key,
		sequenceNumber: e.sequenceNumber,
		files:          files,
		readers:        readers,
		lengths:        lengths,
	}, nil
}

// Edit returns an editor for the entry named key, or (nil, nil) if another
// edit is in progress.
func (c *Cache) Edit(key string) (*Editor, error) {
	return c.edit(key, anySequenceNumber)
}

func (c *Cache) edit(key string, expectedSequenceNumber int64) (*Editor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkNotClosed(); err != nil {
		return nil, err
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}
	e := c.table.get(key)
	if expectedSequenceNumber != anySequenceNumber &&
		(e == nil || e.sequenceNumber != expectedSequenceNumber) {
		return nil, nil // snapshot is stale
	}
	if e == nil {
		e = newEntry(key, c.valueCount)
		c.table.put(e)
	} else if e.currentEditor != nil {
		return nil, nil // another edit is in progress
	} else {
		c.table.touch(e)
	}

	ed := &Editor{c: c, entry: e}
	if !e.readable {
		ed.written = make([]bool, c.valueCount)
	}
	e.currentEditor = ed

	// Record DIRTY before any file is created so replay can clean up.
	if _, err := c.journalW.WriteString(opDirty + " " + key + "\n"); err != nil {
		e.currentEditor = nil
		return nil, err
	}
	if err := c.journalW.Flush(); err != nil {
		e.currentEditor = nil
		return nil, err
	}
	return ed, nil
}

// Remove drops the entry for key if it exists and is not being edited.
// It reports whether an entry was removed.
func (c *Cache) Remove(key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkNotClosed(); err != nil {
		return false, err
	}
	if err := validateKey(key); err != nil {
		return false, err
	}
	return c.removeLocked(key)
}

func (c *Cache) removeLocked(key string) (bool, error) {
	e := c.table.get(key)
	if e == nil || e.currentEditor != nil {
		return false, nil
	}

	for i := 0; i < c.valueCount; i++ {
		path := e.cleanFile(c.dir, i)
		switch _, err := os.Stat(path); {
		case err == nil:
			if err := os.Remove(path); err != nil {
				return false, fmt.Errorf("failed to delete %s: %w", path, err)
			}
			c.fileCount--
		case !os.IsNotExist(err):
			return false, err
		}
		c.size -= e.lengths[i]
		e.lengths[i] = 0
	}

	c.redundantOpCount++
	if _, err := c.journalW.WriteString(opRemove + " " + key + "\n"); err != nil {
		return false, err
	}
	c.table.remove(key)

	if c.journalRebuildRequired() {
		c.scheduleCleanup()
	}
	return true, nil
}

// completeEditLocked finishes an edit. Callers hold c.mu.
func (c *Cache) completeEditLocked(ed *Editor, success bool) error {
	e := ed.entry
	if e.currentEditor != ed {
		return errors.New("disk: editor is no longer current for its entry")
	}

	// A first-time entry must have every slot written and present.
	if success && !e.readable {
		for i := 0; i < c.valueCount; i++ {
			if !ed.written[i] {
				_ = c.completeEditLocked(ed, false)
				return fmt.Errorf("disk: newly created entry didn't create value for slot %d", i)
			}
			if _, err := os.Stat(e.dirtyFile(c.dir, i)); err != nil {
				return c.completeEditLocked(ed, false)
			}
		}
	}

	for i := 0; i < c.valueCount; i++ {
		dirty := e.dirtyFile(c.dir, i)
		if !success {
			if err := deleteIfExists(dirty); err != nil {
				return err
			}
			continue
		}
		if _, err := os.Stat(dirty); err != nil {
			continue
		}
		clean := e.cleanFile(c.dir, i)
		_, statErr := os.Stat(clean)
		replacing := statErr == nil
		if err := os.Rename(dirty, clean); err != nil {
			return err
		}
		info, err := os.Stat(clean)
		if err != nil {
			return err
		}
		oldLength := e.lengths[i]
		newLength := info.Size()
		e.lengths[i] = newLength
		c.size = c.size - oldLength + newLength
		if !replacing {
			c.fileCount++
		}
	}

	c.redundantOpCount++
	e.currentEditor = nil
	if e.readable || success {
		e.readable = true
		if _, err := c.journalW.WriteString(opClean + " " + e.key + e.lengthsString() + "\n"); err != nil {
			return err
		}
		if success {
			e.sequenceNumber = c.nextSequenceNumber
			c.nextSequenceNumber++
		}
		c.table.touch(e)
	} else {
		c.table.remove(e.key)
		if _, err := c.journalW.WriteString(opRemove + " " + e.key + "\n"); err != nil {
			return err
		}
	}
	if err := c.journalW.Flush(); err != nil {
		return err
	}

	if c.size > c.maxSize || c.fileCount > c.maxFileCount || c.journalRebuildRequired() {
		c.scheduleCleanup()
	}
	return nil
}

// Flush trims the cache to its bounds and forces buffered journal records
// to the filesystem.
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkNotClosed(); err != nil {
		return err
	}
	if err := c.trimLocked(); err != nil {
		return err
	}
	return c.journalW.Flush()
}

// Close aborts in-flight edits, trims to bounds, and closes the journal.
// Stored values remain on the filesystem. Close is idempotent.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.journalW == nil {
		c.mu.Unlock()
		return nil
	}
	for _, e := range c.table.entries() {
		if e.currentEditor != nil {
			e.currentEditor.abortUnlessCommittedLocked()
		}
	}
	err := c.trimLocked()
	// The cache is being torn down; a failed final flush is not actionable.
	_ = c.journalW.Flush()
	_ = c.journalF.Close()
	c.journalW = nil
	c.journalF = nil
	lock := c.dirLock
	c.dirLock = nil
	c.mu.Unlock()

	c.stopWorker()
	if lock != nil {
		_ = lock.Close()
	}
	return err
}

// Delete closes the cache and removes its directory, including any files
// the cache did not create.
func (c *Cache) Delete() error {
	if err := c.Close(); err != nil {
		return err
	}
	return os.RemoveAll(c.dir)
}

// IsClosed reports whether the cache has been closed.
func (c *Cache) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.journalW == nil
}

// Directory returns the directory where this cache stores its data.
func (c *Cache) Directory() string { return c.dir }

// AppVersion returns the application version the cache was opened with.
func (c *Cache) AppVersion() int { return c.appVersion }

// Size returns the number of bytes currently stored. It may exceed MaxSize
// while a background trim is pending.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// FileCount returns the number of clean files currently stored. It may
// exceed MaxFileCount while a background trim is pending.
func (c *Cache) FileCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fileCount
}

// MaxSize returns the configured byte bound.
func (c *Cache) MaxSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxSize
}

// MaxFileCount returns the configured file-count bound.
func (c *Cache) MaxFileCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxFileCount
}

// SetMaxSize changes the byte bound and queues a background trim.
func (c *Cache) SetMaxSize(maxSize int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxSize = maxSize
	if c.journalW != nil {
		c.scheduleCleanup()
	}
}

// trimLocked evicts from the LRU end until both bounds hold. Entries with
// live editors cannot be removed and are skipped.
func (c *Cache) trimLocked() error {
	for c.size > c.maxSize || c.fileCount > c.maxFileCount {
		evicted := false
		for _, e := range c.table.entries() {
			if e.currentEditor != nil {
				continue
			}
			if _, err := c.removeLocked(e.key); err != nil {
				return err
			}
			evicted = true
			break
		}
		if !evicted {
			return nil // everything left is mid-edit
		}
	}
	return nil
}

func (c *Cache) checkNotClosed() error {
	if c.journalW == nil {
		return ErrClosed
	}
	return nil
}

func validateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// startWorker launches the single cleanup goroutine. One goroutine is
// essential: concurrent compactions would race with edits.
func (c *Cache) startWorker() {
	c.cleanupCh = make(chan struct{}, 1)
	c.workerDone = make(chan struct{})
	done := c.workerDone
	ch := c.cleanupCh
	go func() {
		defer close(done)
		for range ch {
			c.runCleanup()
		}
	}()
}

// scheduleCleanup queues a trim-and-rebuild pass. Cleanup is idempotent,
// so coalescing queued requests preserves behavior. Callers hold c.mu.
func (c *Cache) scheduleCleanup() {
	select {
	case c.cleanupCh <- struct{}{}:
	default:
	}
}

func (c *Cache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.journalW == nil {
		return // closed
	}
	if err := c.trimLocked(); err != nil {
		c.log().Warn("background trim failed", slog.Any("error", err))
		return
	}
	if c.journalRebuildRequired() {
		if err := c.rebuildJournal(); err != nil {
			c.log().Warn("journal rebuild failed", slog.Any("error", err))
			return
		}
		c.redundantOpCount = 0
	}
}

func (c *Cache) stopWorker() {
	c.mu.Lock()
	ch := c.cleanupCh
	c.cleanupCh = nil
	c.mu.Unlock()
	if ch == nil {
		return
	}
	close(ch)
	<-c.workerDone
}
