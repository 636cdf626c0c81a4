package vtape

// Test hooks: the recovery and ltfsck test suites need to damage a
// medium in controlled ways that no tape op can express.

// RecordCount reports how many records a partition holds.
func (d *Device) RecordCount(partition uint8) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.parts[partition])
}

// TruncateRecords drops every record at and past n on a partition,
// simulating an interrupted write.
func (d *Device) TruncateRecords(partition uint8, n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n < 0 || n > len(d.parts[partition]) {
		return
	}
	d.parts[partition] = d.parts[partition][:n]
}

// DropTrailingFilemark removes the partition's last record if it is a
// filemark, simulating a crash between index blocks and their
// terminator.
func (d *Device) DropTrailingFilemark(partition uint8) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	recs := d.parts[partition]
	if len(recs) == 0 || recs[len(recs)-1].kind != recFilemark {
		return false
	}
	d.parts[partition] = recs[:len(recs)-1]
	return true
}

// SetEODMissing marks a partition's end-of-data marker as lost.
func (d *Device) SetEODMissing(partition uint8, missing bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.eodMissing[partition] = missing
}
