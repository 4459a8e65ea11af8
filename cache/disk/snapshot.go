package disk

import (
	"io"
	"os"
)

// Snapshot is a read-only view of an entry's values at the moment Get was
// called. Slot readers are opened eagerly, so edits and evictions after
// the call do not affect ongoing reads. Close releases all readers.
type Snapshot struct {
	c              *Cache
	key            string
	sequenceNumber int64
	files          []string
	readers        []*os.File
	lengths        []int64
}

// Key returns the entry key.
func (s *Snapshot) Key() string { return s.key }

// Edit returns an editor for this snapshot's entry, or (nil, nil) if the
// entry has been committed since the snapshot was taken or another edit is
// in progress.
func (s *Snapshot) Edit() (*Editor, error) {
	return s.c.edit(s.key, s.sequenceNumber)
}

// File returns the clean file path for the slot. The path stays readable
// for the life of the snapshot but may be replaced or removed afterwards.
func (s *Snapshot) File(index int) string { return s.files[index] }

// Reader returns the pinned reader for the slot.
func (s *Snapshot) Reader(index int) io.Reader { return s.readers[index] }

// Length returns the byte length of the slot's value.
func (s *Snapshot) Length(index int) int64 { return s.lengths[index] }

// String reads the slot's value fully.
func (s *Snapshot) String(index int) (string, error) {
	b, err := io.ReadAll(s.readers[index])
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Close releases all slot readers.
func (s *Snapshot) Close() {
	for _, r := range s.readers {
		_ = r.Close()
	}
}
