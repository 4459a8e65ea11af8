package disk

import (
	"container/list"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// entry is the in-memory record for one cache key.
type entry struct {
	key string

	// lengths holds the byte length of each committed slot, zero if the
	// slot was never committed.
	lengths []int64

	// readable flips to true on the first successful commit and stays true.
	readable bool

	// currentEditor is non-nil while an edit is in progress; its presence
	// means the entry's on-disk files are in DIRTY state.
	currentEditor *Editor

	// sequenceNumber of the most recently committed edit. Snapshots carry
	// it so stale edits can be refused.
	sequenceNumber int64

	elem *list.Element
}

func newEntry(key string, valueCount int) *entry {
	return &entry{key: key, lengths: make([]int64, valueCount)}
}

func (e *entry) cleanFile(dir string, i int) string {
	return filepath.Join(dir, e.key+"."+strconv.Itoa(i))
}

func (e *entry) dirtyFile(dir string, i int) string {
	return filepath.Join(dir, e.key+"."+strconv.Itoa(i)+".tmp")
}

// lengthsString renders the lengths as they appear after a CLEAN key,
// leading space included.
func (e *entry) lengthsString() string {
	var sb strings.Builder
	for _, n := range e.lengths {
		sb.WriteByte(' ')
		sb.WriteString(strconv.FormatInt(n, 10))
	}
	return sb.String()
}

// setLengths parses decimal lengths from a CLEAN record.
func (e *entry) setLengths(parts []string) error {
	if len(parts) != len(e.lengths) {
		return fmt.Errorf("disk: unexpected journal line: %v", parts)
	}
	for i, s := range parts {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("disk: unexpected journal line: %v", parts)
		}
		e.lengths[i] = n
	}
	return nil
}

// entryTable is an insertion-ordered key → entry map with access-order
// semantics: touching an entry moves it to the most-recently-used end, and
// iteration from the front yields eviction candidates oldest first.
type entryTable struct {
	m  map[string]*entry
	ll *list.List // front = LRU, back = MRU
}

func newEntryTable() *entryTable {
	return &entryTable{m: make(map[string]*entry), ll: list.New()}
}

// get returns the entry for key without recording an access.
func (t *entryTable) get(key string) *entry {
	return t.m[key]
}

// touch records an access, moving e to the MRU end.
func (t *entryTable) touch(e *entry) {
	t.ll.MoveToBack(e.elem)
}

// put inserts e at the MRU end. The key must not be present.
func (t *entryTable) put(e *entry) {
	e.elem = t.ll.PushBack(e)
	t.m[e.key] = e
}

// remove drops the entry for key, returning it, or nil if absent.
func (t *entryTable) remove(key string) *entry {
	e, ok := t.m[key]
	if !ok {
		return nil
	}
	delete(t.m, key)
	t.ll.Remove(e.elem)
	e.elem = nil
	return e
}

func (t *entryTable) len() int {
	return len(t.m)
}

// entries returns the entries ordered LRU first.
func (t *entryTable) entries() []*entry {
	out := make([]*entry, 0, t.ll.Len())
	for el := t.ll.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*entry))
	}
	return out
}
