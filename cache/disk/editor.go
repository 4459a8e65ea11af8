package disk

import (
	"errors"
	"io"
	"os"
)

var errEditorCommitted = errors.New("disk: editor already committed")

// Editor is a transactional handle for creating or updating one entry.
// Writes go to per-slot dirty files and become visible only on Commit.
// Every Editor must be finished with Commit or Abort; until then the entry
// accepts no other editor.
type Editor struct {
	c     *Cache
	entry *entry

	// written tracks which slots were opened for writing; only allocated
	// for entries that have never been committed, where Commit requires a
	// value for every slot.
	written []bool

	hasErrors bool
	committed bool
}

// NewReader returns a reader over the last committed value for the slot,
// or (nil, nil) if no value has been committed.
func (ed *Editor) NewReader(index int) (io.ReadCloser, error) {
	ed.c.mu.Lock()
	defer ed.c.mu.Unlock()
	if ed.entry.currentEditor != ed {
		return nil, errors.New("disk: editor is no longer current for its entry")
	}
	if !ed.entry.readable {
		return nil, nil
	}
	f, err := os.Open(ed.entry.cleanFile(ed.c.dir, index))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return f, nil
}

// String returns the last committed value for the slot as a string, or ""
// if no value has been committed.
func (ed *Editor) String(index int) (string, error) {
	r, err := ed.NewReader(index)
	if err != nil || r == nil {
		return "", err
	}
	defer r.Close()
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// NewWriter returns a writer for the slot's dirty file. The writer hides
// faults: write and close errors are latched onto the editor instead of
// being returned, and surface as a failed Commit.
func (ed *Editor) NewWriter(index int) (io.WriteCloser, error) {
	ed.c.mu.Lock()
	defer ed.c.mu.Unlock()
	if ed.entry.currentEditor != ed {
		return nil, errors.New("disk: editor is no longer current for its entry")
	}
	if !ed.entry.readable {
		ed.written[index] = true
	}
	dirty := ed.entry.dirtyFile(ed.c.dir, index)
	f, err := os.Create(dirty)
	if err != nil {
		// The cache directory may have been wiped; recreate and retry.
		if err := os.MkdirAll(ed.c.dir, 0o700); err != nil {
			return discardWriter{}, nil
		}
		f, err = os.Create(dirty)
		if err != nil {
			// Unrecoverable. Swallow the writes; Commit will not find the
			// dirty file and the edit fails cleanly.
			return discardWriter{}, nil
		}
	}
	return &faultHidingWriter{ed: ed, f: f}, nil
}

// Set writes value to the slot through a fault-hiding writer.
func (ed *Editor) Set(index int, value string) error {
	w, err := ed.NewWriter(index)
	if err != nil {
		return err
	}
	_, _ = io.WriteString(w, value)
	return w.Close()
}

// Commit publishes the edit so readers observe it, releasing the edit lock
// for the entry. If any slot writer latched an error, the edit is aborted
// and the previous entry is removed as stale.
func (ed *Editor) Commit() error {
	ed.c.mu.Lock()
	defer ed.c.mu.Unlock()
	if ed.committed {
		return errEditorCommitted
	}
	var err error
	if ed.hasErrors {
		err = ed.c.completeEditLocked(ed, false)
		if err == nil {
			_, err = ed.c.removeLocked(ed.entry.key)
		}
	} else {
		err = ed.c.completeEditLocked(ed, true)
	}
	ed.committed = true
	return err
}

// Abort discards the edit, releasing the edit lock for the entry.
func (ed *Editor) Abort() error {
	ed.c.mu.Lock()
	defer ed.c.mu.Unlock()
	if ed.committed {
		return errEditorCommitted
	}
	return ed.c.completeEditLocked(ed, false)
}

// abortUnlessCommittedLocked is used during Close; callers hold c.mu.
func (ed *Editor) abortUnlessCommittedLocked() {
	if !ed.committed {
		_ = ed.c.completeEditLocked(ed, false)
	}
}

// faultHidingWriter swallows I/O errors and latches them on the editor so
// callers observe them only at Commit.
type faultHidingWriter struct {
	ed *Editor
	f  *os.File
}

func (w *faultHidingWriter) Write(p []byte) (int, error) {
	if _, err := w.f.Write(p); err != nil {
		w.ed.hasErrors = true
	}
	return len(p), nil
}

func (w *faultHidingWriter) Close() error {
	if err := w.f.Close(); err != nil {
		w.ed.hasErrors = true
	}
	return nil
}

// discardWriter eats writes when the dirty file cannot be created at all.
type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
func (discardWriter) Close() error                { return nil }
