package index

import "sort"

// The extent list of a file is kept sorted by file offset and free of
// overlaps. Inserting a new extent carves away whatever part of the
// existing list it covers: wholly covered extents are deleted, extents
// overlapping at one end are truncated, and an extent spanning the new
// one entirely is split in two.

// AddExtent inserts ext into d's list and updates Size, Realsize and
// the dirty flags. blocksize is needed to decide coalescing with the
// preceding extent.
func (d *Dentry) AddExtent(ext Extent, blocksize uint64) {
	if ext.ByteCount == 0 {
		return
	}
	var out []Extent
	for _, e := range d.Extents {
		switch {
		case e.end() <= ext.FileOffset || e.FileOffset >= ext.end():
			// No overlap.
			out = append(out, e)
		case e.FileOffset >= ext.FileOffset && e.end() <= ext.end():
			// Wholly covered: delete.
		case e.FileOffset < ext.FileOffset && e.end() > ext.end():
			// Spans the new extent: split.
			head := e
			head.ByteCount = ext.FileOffset - e.FileOffset
			tail := e
			cut := ext.end() - e.FileOffset
			tail.FileOffset = ext.end()
			tail.ByteCount = e.ByteCount - cut
			tail.StartBlock += (e.ByteOffset + cut) / blocksize
			tail.ByteOffset = (e.ByteOffset + cut) % blocksize
			out = append(out, head, tail)
		case e.FileOffset < ext.FileOffset:
			// Overlap at the tail: truncate.
			e.ByteCount = ext.FileOffset - e.FileOffset
			out = append(out, e)
		default:
			// Overlap at the head: advance.
			cut := ext.end() - e.FileOffset
			e.StartBlock += (e.ByteOffset + cut) / blocksize
			e.ByteOffset = (e.ByteOffset + cut) % blocksize
			e.FileOffset = ext.end()
			e.ByteCount -= cut
			out = append(out, e)
		}
	}
	out = append(out, ext)
	sort.Slice(out, func(i, j int) bool { return out[i].FileOffset < out[j].FileOffset })

	// Coalesce the new extent with its predecessor when they are
	// physically continuous: same partition, the predecessor ends on a
	// block boundary, the new extent starts at byte offset zero of the
	// next block.
	for i := 1; i < len(out); i++ {
		if out[i].FileOffset != ext.FileOffset {
			continue
		}
		prev, cur := out[i-1], out[i]
		if prev.Partition == cur.Partition &&
			prev.end() == cur.FileOffset &&
			cur.ByteOffset == 0 &&
			(prev.ByteOffset+prev.ByteCount)%blocksize == 0 &&
			cur.StartBlock == prev.StartBlock+(prev.ByteOffset+prev.ByteCount)/blocksize {
			prev.ByteCount += cur.ByteCount
			out[i-1] = prev
			out = append(out[:i], out[i+1:]...)
		}
		break
	}

	d.Extents = out
	d.recalcSizes()
	if ext.end() > d.Size {
		d.Size = ext.end()
	}
	d.Dirty = true
	d.ExtentsDirty = true
}

// TruncateExtents shrinks or extends the file to length. Growing only
// moves the logical size (sparse tail); shrinking drops or cuts
// trailing extents.
func (d *Dentry) TruncateExtents(length uint64, blocksize uint64) {
	if length >= d.Size {
		d.Size = length
		d.Dirty = true
		return
	}
	var out []Extent
	for _, e := range d.Extents {
		switch {
		case e.end() <= length:
			out = append(out, e)
		case e.FileOffset < length:
			e.ByteCount = length - e.FileOffset
			out = append(out, e)
		}
	}
	d.Extents = out
	d.Size = length
	d.recalcSizes()
	d.Dirty = true
	d.ExtentsDirty = true
}

// ExtentCovering returns the extent containing file offset off, or the
// first extent past it, or nil. The bool result reports a direct hit.
func (d *Dentry) ExtentCovering(off uint64) (*Extent, bool) {
	for i := range d.Extents {
		e := &d.Extents[i]
		if off >= e.FileOffset && off < e.end() {
			return e, true
		}
		if e.FileOffset > off {
			return e, false
		}
	}
	return nil, false
}

// DropExtentsFrom removes every extent whose blocks start at or past
// block on the given partition; used to clean up after a failed write.
// It reports whether anything was removed.
func (d *Dentry) DropExtentsFrom(partition byte, block uint64) bool {
	var out []Extent
	changed := false
	for _, e := range d.Extents {
		if e.Partition == partition && e.StartBlock >= block {
			changed = true
			continue
		}
		out = append(out, e)
	}
	if changed {
		d.Extents = out
		d.recalcSizes()
		d.Dirty = true
		d.ExtentsDirty = true
	}
	return changed
}

// recalcSizes refreshes Realsize and UsedBlocks from the extent list.
func (d *Dentry) recalcSizes() {
	var real, blocks uint64
	for _, e := range d.Extents {
		real += e.ByteCount
	}
	d.Realsize = real
	// Block accounting is an estimate for quota purposes: the number of
	// 512-byte units the extents cover.
	blocks = (real + 511) / 512
	d.UsedBlocks = blocks
}
