package libltfs

import (
	"bytes"
	"errors"
	"fmt"
	"log"

	ltfs "github.com/LinearTapeFileSystem/ltfs-go"
	"github.com/LinearTapeFileSystem/ltfs-go/internal/index"
	"github.com/LinearTapeFileSystem/ltfs-go/internal/scsi"
	"github.com/LinearTapeFileSystem/ltfs-go/internal/tape"
)

// indexFind is the result of locating an index on a partition.
type indexFind struct {
	idx *index.Index

	// pos is the first block of the index.
	pos index.TapePos

	// trailingFM reports whether the index was terminated by a
	// filemark; a missing one is recoverable.
	trailingFM bool

	// blocksAfter reports whether records exist past the index, i.e.
	// the partition does not end in this index.
	blocksAfter bool

	// endBlock is the first block past the index construct.
	endBlock uint64
}

// readIndexAt parses the index starting at the named block: blocks are
// read until the terminating filemark or end of data.
func (v *Volume) readIndexAt(letter byte, block uint64) (*indexFind, error) {
	if _, err := v.dev.Locate(tape.Position{
		Partition: v.partNum(letter), Block: block,
	}); err != nil {
		return nil, err
	}

	bs := v.blocksize()
	buf := make([]byte, bs)
	var payload bytes.Buffer
	find := &indexFind{pos: index.TapePos{Partition: letter, Block: block}}

	for {
		n, err := v.dev.ReadBlock(buf, true)
		if isCode(err, scsi.FilemarkDetected) {
			find.trailingFM = true
			break
		}
		if isCode(err, scsi.EODDetected) {
			break
		}
		if err != nil {
			return nil, err
		}
		payload.Write(buf[:n])
		if uint64(n) < bs {
			// A short block ends the payload; peek for the trailing
			// filemark and step back if a data record follows instead.
			pos, perr := v.dev.ReadPosition()
			if perr != nil {
				break
			}
			_, rerr := v.dev.ReadBlock(buf, true)
			if isCode(rerr, scsi.FilemarkDetected) {
				find.trailingFM = true
			} else if rerr == nil {
				v.dev.Locate(tape.Position{Partition: pos.Partition, Block: pos.Block})
			}
			break
		}
	}

	if pos, perr := v.dev.ReadPosition(); perr == nil {
		find.endBlock = pos.Block
	}

	if payload.Len() == 0 {
		return nil, ltfs.ErrNoIndex
	}
	idx, err := index.Unmarshal(bytes.NewReader(payload.Bytes()))
	if err != nil {
		return nil, ltfs.ErrIndexInvalid
	}

	// Validate the chain fields against the physical location.
	if idx.UUID != v.label.VolumeUUID {
		return nil, ltfs.ErrIndexInvalid
	}
	if idx.Selfptr.Partition != letter || idx.Selfptr.Block != block {
		return nil, ltfs.ErrIndexInvalid
	}
	if !idx.Backptr.IsZero() {
		if idx.Backptr.Partition != v.dpID() {
			return nil, ltfs.ErrIndexInvalid
		}
		if idx.Backptr.Block < labelBlocks {
			return nil, ltfs.ErrIndexInvalid
		}
		if idx.Backptr.Partition == idx.Selfptr.Partition &&
			idx.Backptr.Block > idx.Selfptr.Block-2 {
			return nil, ltfs.ErrIndexInvalid
		}
	}
	find.idx = idx
	return find, nil
}

func isCode(err error, want scsi.Code) bool {
	var code scsi.Code
	return errors.As(err, &code) && code == want
}

// seekIndex finds the newest readable index on a partition by walking
// back from end of data one filemark at a time; the block after each
// filemark is a candidate. The search stops at the label.
func (v *Volume) seekIndex(letter byte) (*indexFind, error) {
	if _, err := v.dev.Locate(tape.Position{Partition: v.partNum(letter)}); err != nil {
		return nil, err
	}
	eod, err := v.dev.Space(0, tape.SpaceEOD)
	if err != nil {
		return nil, err
	}

	cur := eod
	for {
		pos, err := v.dev.Space(1, tape.SpaceFMBack)
		if isCode(err, scsi.BOPDetected) || (err == nil && pos.Block+1 < labelBlocks) {
			return nil, ltfs.ErrNoIndex
		}
		if err != nil {
			return nil, err
		}
		if pos.Block+1 < labelBlocks {
			return nil, ltfs.ErrNoIndex
		}
		candidate := pos.Block + 1
		if candidate >= cur.Block {
			// The filemark is the partition's last record: the index
			// must start after the preceding filemark instead.
			cur = pos
			continue
		}
		find, rerr := v.readIndexAt(letter, candidate)
		if rerr == nil {
			find.blocksAfter = v.blocksAfterIndex(eod.Block)
			v.updateSeekCoherency(letter, find)
			return find, nil
		}
		// Not a parsable index: keep walking back.
		if _, err := v.dev.Locate(tape.Position{
			Partition: v.partNum(letter), Block: pos.Block,
		}); err != nil {
			return nil, err
		}
		cur = pos
	}
}

// blocksAfterIndex decides whether the partition has records past the
// index construct the drive just read over.
func (v *Volume) blocksAfterIndex(eodBlock uint64) bool {
	pos, err := v.dev.ReadPosition()
	if err != nil {
		return false
	}
	return eodBlock > pos.Block
}

// updateSeekCoherency refreshes the in-memory coherency record after a
// successful index location.
func (v *Volume) updateSeekCoherency(letter byte, find *indexFind) {
	coh := tape.Coherency{
		Count: find.idx.Generation,
		SetID: find.pos.Block,
		UUID:  v.label.VolumeUUID,
	}
	if letter == v.ipID() {
		v.ipCoh = coh
	} else {
		v.dpCoh = coh
	}
}

type newerSide int

const (
	newerIP newerSide = iota
	newerDP
	newerNone
)

// checkPointers decides which of the two located indexes is the newest
// consistent one.
func (v *Volume) checkPointers(ipIdx, dpIdx *index.Index) (newerSide, error) {
	switch {
	case ipIdx == nil && dpIdx == nil:
		return newerNone, ltfs.ErrNoIndex
	case ipIdx == nil:
		return newerDP, nil
	case dpIdx == nil:
		if ipIdx.Backptr.Partition != 0 {
			// IP back pointer names a data partition index that does
			// not exist.
			return newerNone, ltfs.ErrIndexInvalid
		}
		return newerIP, nil
	}

	switch {
	case ipIdx.Generation >= dpIdx.Generation &&
		ipIdx.Backptr == dpIdx.Selfptr:
		return newerIP, nil
	case ipIdx.Generation > dpIdx.Generation:
		return newerNone, ltfs.ErrIndexInvalid
	case ipIdx.Generation == dpIdx.Generation && ipIdx.Backptr.Partition == 0:
		// The source prefers the data partition on this tie.
		return newerDP, nil
	default:
		// The DP index is ahead; verify one step of its back chain
		// covers the IP index's back pointer.
		if dpIdx.Backptr.Block > ipIdx.Backptr.Block {
			prev, err := v.readIndexAt(v.dpID(), dpIdx.Backptr.Block)
			if err != nil {
				return newerNone, err
			}
			if ipIdx.Backptr.Partition == 0 && prev.idx.Generation < ipIdx.Generation {
				return newerNone, ltfs.ErrIndexInvalid
			}
		}
		return newerDP, nil
	}
}

// CheckMediumResult reports what CheckMedium found and fixed.
type CheckMediumResult struct {
	Corrected    bool
	LostAndFound []string
}

// lostAndFoundDir is where unreferenced trailing blocks surface.
const lostAndFoundDir = "_ltfs_lostandfound"

// CheckMedium verifies the index chains and, with fix set, restores the
// invariants: missing trailing filemarks are written, unreferenced
// blocks past the last referenced block become lost+found files, and a
// fresh index pair is appended when a partition does not end in one.
func (v *Volume) CheckMedium(fix, deep, recoverExtra bool) (*CheckMediumResult, error) {
	res := &CheckMediumResult{}

	ipFind, ipErr := v.seekIndex(v.ipID())
	dpFind, dpErr := v.seekIndex(v.dpID())

	if ipErr != nil && dpErr != nil {
		if !deep {
			return nil, ltfs.ErrBothEODMissing
		}
		// Deep recovery starts over with an empty index.
		v.idx = index.New(v.label.VolumeUUID, ltfs.Creator)
		v.idx.Dirty = true
	} else {
		var ipIdx, dpIdx *index.Index
		if ipErr == nil {
			ipIdx = ipFind.idx
		}
		if dpErr == nil {
			dpIdx = dpFind.idx
		}
		newer, err := v.checkPointers(ipIdx, dpIdx)
		if err != nil {
			return nil, err
		}
		if newer == newerIP {
			v.idx = ipIdx
		} else {
			v.idx = dpIdx
		}
		if dpIdx != nil {
			v.lastDPIndex = dpIdx.Selfptr
		}
	}

	// Write missing trailing filemarks.
	for _, f := range []*indexFind{ipFind, dpFind} {
		if f == nil || f.idx == nil || f.trailingFM {
			continue
		}
		if !fix {
			return nil, ltfs.ErrInconsistent
		}
		if _, err := v.dev.Locate(tape.Position{
			Partition: v.partNum(f.pos.Partition),
		}); err != nil {
			return nil, err
		}
		if _, err := v.dev.Space(0, tape.SpaceEOD); err != nil {
			return nil, err
		}
		if _, _, err := v.dev.WriteFilemarks(1, false); err != nil {
			return nil, err
		}
		f.trailingFM = true
		res.Corrected = true
		log.Printf("wrote missing trailing filemark on partition %c", f.pos.Partition)
	}

	v.ipIndexFileEnd = ipErr == nil && !ipFind.blocksAfter
	v.dpIndexFileEnd = dpErr == nil && !dpFind.blocksAfter
	if ipErr != nil && dpErr != nil {
		v.ipIndexFileEnd = false
		v.dpIndexFileEnd = false
	}

	// Salvage unreferenced trailing blocks into lost+found entries.
	if recoverExtra {
		names, err := v.recoverExtraBlocks(ipFind, dpFind)
		if err != nil {
			return nil, err
		}
		res.LostAndFound = names
		if len(names) > 0 {
			res.Corrected = true
		}
	}

	// Restore the both-partitions-end-in-index invariant.
	if v.idx.Dirty || !v.ipIndexFileEnd || !v.dpIndexFileEnd {
		if !fix {
			return nil, ltfs.ErrInconsistent
		}
		v.idx.Dirty = true
		if err := v.syncIndexLocked(ltfs.SyncRecovery); err != nil {
			return nil, err
		}
		res.Corrected = true
	} else {
		v.updateCoherency(v.ipID())
		v.updateCoherency(v.dpID())
	}
	return res, nil
}

// recoverExtraBlocks builds lost+found files for blocks past the last
// block any extent references.
func (v *Volume) recoverExtraBlocks(ipFind, dpFind *indexFind) ([]string, error) {
	bs := v.blocksize()
	lastRef := map[byte]uint64{v.ipID(): labelBlocks, v.dpID(): labelBlocks}
	v.idx.Walk(func(d *index.Dentry) {
		for _, e := range d.Extents {
			end := e.StartBlock + (e.ByteOffset+e.ByteCount+bs-1)/bs
			if end > lastRef[e.Partition] {
				lastRef[e.Partition] = end
			}
		}
	})
	// Index constructs also occupy referenced space.
	for _, f := range []*indexFind{ipFind, dpFind} {
		if f == nil || f.idx == nil {
			continue
		}
		if f.pos.Block > lastRef[f.pos.Partition] {
			lastRef[f.pos.Partition] = f.pos.Block
		}
	}

	var names []string
	for _, letter := range []byte{v.ipID(), v.dpID()} {
		if _, err := v.dev.Locate(tape.Position{Partition: v.partNum(letter)}); err != nil {
			return nil, err
		}
		eod, err := v.dev.Space(0, tape.SpaceEOD)
		if err != nil {
			return nil, err
		}
		from := lastRef[letter]
		find := ipFind
		if letter == v.dpID() {
			find = dpFind
		}
		if find != nil && find.idx != nil && find.endBlock > from {
			// The index construct itself is referenced space.
			from = find.endBlock
		}
		if eod.Block <= from {
			continue
		}
		length, err := v.measureBlocks(letter, from, eod.Block)
		if err != nil {
			return nil, err
		}
		if length == 0 {
			continue
		}
		name, err := v.addLostAndFound(letter, from, length)
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}

// measureBlocks sums the data bytes of [from, to), stopping at the
// first filemark.
func (v *Volume) measureBlocks(letter byte, from, to uint64) (uint64, error) {
	buf := make([]byte, v.blocksize())
	var total uint64
	for blk := from; blk < to; blk++ {
		n, err := v.readBlockAt(letter, blk, buf)
		if err != nil {
			if isCode(err, scsi.FilemarkDetected) || isCode(err, scsi.EODDetected) {
				break
			}
			return 0, err
		}
		total += uint64(n)
	}
	return total, nil
}

// addLostAndFound creates /_ltfs_lostandfound/partitionX_blockN_Mbytes
// pointing at the salvaged blocks.
func (v *Volume) addLostAndFound(letter byte, block, length uint64) (string, error) {
	lf := v.idx.Root.LookupChild(lostAndFoundDir)
	if lf == nil {
		lf = index.NewDentry(v.idx.AllocateUID(), lostAndFoundDir, true)
		v.idx.Root.AddChild(lf)
		v.idx.FileCount++
	}
	name := fmt.Sprintf("partition%c_block%d_%dbytes", letter, block, length)
	if lf.LookupChild(name) != nil {
		return name, nil
	}
	d := index.NewDentry(v.idx.AllocateUID(), name, false)
	d.AddExtent(index.Extent{
		Partition:  letter,
		StartBlock: block,
		ByteCount:  length,
	}, v.blocksize())
	lf.AddChild(d)
	v.idx.FileCount++
	v.idx.MarkDirty()
	return name, nil
}
