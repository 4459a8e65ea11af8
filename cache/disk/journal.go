package disk

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	journalFile       = "journal"
	journalFileTmp    = "journal.tmp"
	journalFileBackup = "journal.bkp"

	magic    = "libcore.io.DiskLruCache"
	version1 = "1"

	opClean  = "CLEAN"
	opDirty  = "DIRTY"
	opRemove = "REMOVE"
	opRead   = "READ"
)

func (c *Cache) journalPath() string       { return filepath.Join(c.dir, journalFile) }
func (c *Cache) journalTmpPath() string    { return filepath.Join(c.dir, journalFileTmp) }
func (c *Cache) journalBackupPath() string { return filepath.Join(c.dir, journalFileBackup) }

// readJournal replays the journal into the entry table.
func (c *Cache) readJournal() error {
	f, err := os.Open(c.journalPath())
	if err != nil {
		return err
	}
	defer f.Close()

	lr, err := newLineReader(f, 8192)
	if err != nil {
		return err
	}

	header := make([]string, 5)
	for i := range header {
		line, err := lr.readLine()
		if err != nil {
			return fmt.Errorf("reading journal header: %w", err)
		}
		header[i] = line
	}
	if header[0] != magic ||
		header[1] != version1 ||
		header[2] != strconv.Itoa(c.appVersion) ||
		header[3] != strconv.Itoa(c.valueCount) ||
		header[4] != "" {
		return fmt.Errorf("disk: unexpected journal header: %q", header)
	}

	lineCount := 0
	for {
		line, err := lr.readLine()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading journal: %w", err)
		}
		if err := c.readJournalLine(line); err != nil {
			return err
		}
		lineCount++
	}
	if lr.hasUnterminatedLine() {
		return fmt.Errorf("disk: journal truncated mid-record")
	}
	c.redundantOpCount = lineCount - c.table.len()
	return nil
}

// readJournalLine applies a single journal record to the table.
func (c *Cache) readJournalLine(line string) error {
	firstSpace := strings.IndexByte(line, ' ')
	if firstSpace == -1 {
		return fmt.Errorf("disk: unexpected journal line: %q", line)
	}

	keyBegin := firstSpace + 1
	secondSpace := strings.IndexByte(line[keyBegin:], ' ')
	if secondSpace != -1 {
		secondSpace += keyBegin
	}

	var key string
	if secondSpace == -1 {
		key = line[keyBegin:]
		if firstSpace == len(opRemove) && strings.HasPrefix(line, opRemove) {
			c.table.remove(key)
			return nil
		}
	} else {
		key = line[keyBegin:secondSpace]
	}

	e := c.table.get(key)
	if e == nil {
		e = newEntry(key, c.valueCount)
		c.table.put(e)
	} else {
		c.table.touch(e)
	}

	switch {
	case secondSpace != -1 && firstSpace == len(opClean) && strings.HasPrefix(line, opClean):
		e.readable = true
		e.currentEditor = nil
		return e.setLengths(strings.Split(line[secondSpace+1:], " "))
	case secondSpace == -1 && firstSpace == len(opDirty) && strings.HasPrefix(line, opDirty):
		e.currentEditor = &Editor{c: c, entry: e}
		return nil
	case secondSpace == -1 && firstSpace == len(opRead) && strings.HasPrefix(line, opRead):
		// Access already recorded by the table lookup above.
		return nil
	default:
		return fmt.Errorf("disk: unexpected journal line: %q", line)
	}
}

// processJournal computes the initial size and file count and collects
// garbage left by a previous process. Entries left DIRTY are inconsistent
// and are dropped along with their files.
func (c *Cache) processJournal() error {
	if err := deleteIfExists(c.journalTmpPath()); err != nil {
		return err
	}
	for _, e := range c.table.entries() {
		if e.currentEditor == nil {
			broken := false
			for i := 0; i < c.valueCount; i++ {
				if _, err := os.Stat(e.cleanFile(c.dir, i)); err != nil {
					broken = true
					break
				}
			}
			if broken {
				c.dropEntryFiles(e)
				c.table.remove(e.key)
				continue
			}
			for i := 0; i < c.valueCount; i++ {
				c.size += e.lengths[i]
				c.fileCount++
			}
		} else {
			e.currentEditor = nil
			c.dropEntryFiles(e)
			c.table.remove(e.key)
		}
	}
	return nil
}

func (c *Cache) dropEntryFiles(e *entry) {
	for i := 0; i < c.valueCount; i++ {
		_ = os.Remove(e.cleanFile(c.dir, i))
		_ = os.Remove(e.dirtyFile(c.dir, i))
	}
}

// rebuildJournal writes a compacted journal that describes only live
// entries, swapping it in place via journal.tmp and journal.bkp so a crash
// at any point leaves a valid journal behind.
func (c *Cache) rebuildJournal() error {
	if c.journalW != nil {
		_ = c.journalW.Flush()
		_ = c.journalF.Close()
		c.journalW = nil
		c.journalF = nil
	}

	tmp, err := os.Create(c.journalTmpPath())
	if err != nil {
		return err
	}
	w := bufio.NewWriter(tmp)
	fmt.Fprintf(w, "%s\n%s\n%d\n%d\n\n", magic, version1, c.appVersion, c.valueCount)
	for _, e := range c.table.entries() {
		if e.currentEditor != nil {
			fmt.Fprintf(w, "%s %s\n", opDirty, e.key)
		} else {
			fmt.Fprintf(w, "%s %s%s\n", opClean, e.key, e.lengthsString())
		}
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if _, err := os.Stat(c.journalPath()); err == nil {
		if err := os.Rename(c.journalPath(), c.journalBackupPath()); err != nil {
			return err
		}
	}
	if err := os.Rename(c.journalTmpPath(), c.journalPath()); err != nil {
		return err
	}
	if err := deleteIfExists(c.journalBackupPath()); err != nil {
		return err
	}

	return c.openJournalWriter()
}

func (c *Cache) openJournalWriter() error {
	f, err := os.OpenFile(c.journalPath(), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	c.journalF = f
	c.journalW = bufio.NewWriter(f)
	return nil
}

// journalRebuildRequired reports whether compaction would pay off: it must
// drop at least 2000 redundant records and at least halve the journal.
func (c *Cache) journalRebuildRequired() bool {
	const redundantOpCompactThreshold = 2000
	return c.redundantOpCount >= redundantOpCompactThreshold &&
		c.redundantOpCount >= c.table.len()
}

func deleteIfExists(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
