package disk

// Abandon drops the journal handle and directory lock without trimming,
// flushing, or aborting editors, standing in for process death in tests.
func (c *Cache) Abandon() {
	c.mu.Lock()
	if c.journalF != nil {
		_ = c.journalF.Close()
	}
	c.journalW = nil
	c.journalF = nil
	lock := c.dirLock
	c.dirLock = nil
	c.mu.Unlock()

	c.stopWorker()
	if lock != nil {
		_ = lock.Close()
	}
}

// Rebuild runs a journal compaction synchronously.
func (c *Cache) Rebuild() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.rebuildJournal(); err != nil {
		return err
	}
	c.redundantOpCount = 0
	return nil
}
