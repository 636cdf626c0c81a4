package libltfs

import (
	"errors"

	ltfs "github.com/LinearTapeFileSystem/ltfs-go"
	"github.com/LinearTapeFileSystem/ltfs-go/internal/index"
	"github.com/LinearTapeFileSystem/ltfs-go/internal/scsi"
	"github.com/LinearTapeFileSystem/ltfs-go/internal/tape"
)

// The raw path touches the medium directly, bypassing any scheduler.
// WriteData is entered under the volume write lock (downgraded to read
// once positioning is decided); reads take the volume read lock.

// WriteData appends count bytes to the named partition, repeated
// repetitions times, and reports the first block written. A count that
// is not a multiple of the block size writes exactly one short trailing
// block and requires repetitions == 1.
func (v *Volume) WriteData(partition byte, buf []byte, repetitions uint64, startBlock *uint64) error {
	v.Lock.WriteLong()
	defer v.Lock.ReleaseRead()

	return func() error {
		if partition != v.ipID() && partition != v.dpID() {
			v.Lock.WriteToRead()
			return ltfs.ErrBadArg
		}
		if len(buf) == 0 || repetitions == 0 {
			v.Lock.WriteToRead()
			return nil
		}
		bs := v.blocksize()
		if repetitions > 1 && uint64(len(buf))%bs != 0 {
			v.Lock.WriteToRead()
			return ltfs.ErrBadArg
		}
		if v.readOnly() {
			v.Lock.WriteToRead()
			return ltfs.ErrRdonlyVolume
		}

		// Keep the other partition's rollback point reachable before
		// the first block lands here.
		other := v.ipID()
		if partition == v.ipID() {
			other = v.dpID()
		}
		if err := v.writeIndexConditional(other); err != nil {
			v.Lock.WriteToRead()
			return err
		}

		if partition == v.ipID() {
			v.ipIndexFileEnd = false
		} else {
			v.dpIndexFileEnd = false
		}

		// Structure no longer changes: downgrade for the transfer.
		v.Lock.WriteToRead()

		pos, err := v.seekAppend(partition)
		if err != nil {
			return err
		}
		if startBlock != nil {
			*startBlock = pos.Block
		}

		for rep := uint64(0); rep < repetitions; rep++ {
			for off := uint64(0); off < uint64(len(buf)); off += bs {
				end := off + bs
				if end > uint64(len(buf)) {
					end = uint64(len(buf))
				}
				if _, _, werr := v.dev.WriteBlock(buf[off:end]); werr != nil {
					return v.translateWriteError(werr, partition)
				}
			}
		}
		return nil
	}()
}

// translateWriteError maps device codes of the write path to the
// filesystem error set.
func (v *Volume) translateWriteError(err error, partition byte) error {
	var code scsi.Code
	if !errors.As(err, &code) {
		return err
	}
	switch code {
	case scsi.NoSpace:
		return ltfs.ErrNoSpace
	case scsi.WritePerm:
		// A permanent write error freezes the partition; remember it
		// in the volume lock state.
		if partition == v.ipID() {
			v.lockState = ltfs.VolumePWEIP
		} else {
			v.lockState = ltfs.VolumePWEDP
		}
		return ltfs.ErrWritePerm
	case scsi.WriteProtected:
		return ltfs.ErrRdonlyVolume
	case scsi.TimeOut:
		return ltfs.ErrTimeout
	case scsi.DeviceFenced:
		return ltfs.ErrDeviceFenced
	}
	return err
}

// RawWrite writes file bytes through the raw path: data blocks first,
// then the extent that references them. offset must equal the current
// append layout the caller computed; partition chooses data placement.
func (v *Volume) RawWrite(d *index.Dentry, buf []byte, offset uint64, partition byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	var startBlock uint64
	if err := v.WriteData(partition, buf, 1, &startBlock); err != nil {
		return 0, err
	}

	d.ContentsLock.Write()
	d.AddExtent(index.Extent{
		Partition:  partition,
		StartBlock: startBlock,
		ByteOffset: 0,
		ByteCount:  uint64(len(buf)),
		FileOffset: offset,
	}, v.blocksize())
	d.NeedUpdateTime = true
	d.ContentsLock.ReleaseWrite()

	v.idx.MarkDirty()
	return len(buf), nil
}

// RawRead copies count bytes at offset from d into buf, filling sparse
// gaps with zeros and never reading past the logical size.
func (v *Volume) RawRead(d *index.Dentry, buf []byte, offset uint64) (int, error) {
	v.Lock.Read()
	defer v.Lock.ReleaseRead()
	d.ContentsLock.Read()
	defer d.ContentsLock.ReleaseRead()

	if offset >= d.Size {
		return 0, nil
	}
	want := uint64(len(buf))
	if offset+want > d.Size {
		want = d.Size - offset
	}

	bs := v.blocksize()
	block := make([]byte, bs)
	var got uint64
	for got < want {
		cur := offset + got
		ext, hit := d.ExtentCovering(cur)
		if ext == nil {
			// Sparse tail: zeros up to size.
			zero(buf[got:want])
			got = want
			break
		}
		if !hit {
			// Sparse gap before the next extent.
			gap := ext.FileOffset - cur
			if gap > want-got {
				gap = want - got
			}
			zero(buf[got : got+gap])
			got += gap
			continue
		}

		// Byte position within the extent, then within its blocks.
		into := cur - ext.FileOffset
		abs := ext.ByteOffset + into
		blkIdx := ext.StartBlock + abs/bs
		blkOff := abs % bs

		n, err := v.readBlockAt(ext.Partition, blkIdx, block)
		if err != nil {
			return int(got), v.translateReadError(err)
		}
		avail := uint64(n)
		if blkOff >= avail {
			return int(got), ltfs.ErrInconsistent
		}
		chunk := avail - blkOff
		if rest := ext.ByteCount - into; chunk > rest {
			chunk = rest
		}
		if chunk > want-got {
			chunk = want - got
		}
		copy(buf[got:got+chunk], block[blkOff:blkOff+chunk])
		got += chunk
	}

	d.AccessTime = index.Now()
	return int(got), nil
}

func (v *Volume) translateReadError(err error) error {
	var code scsi.Code
	if !errors.As(err, &code) {
		return err
	}
	switch code {
	case scsi.ReadPerm, scsi.LBPReadError, scsi.MediumError:
		return ltfs.ErrReadPerm
	case scsi.EODDetected:
		return ltfs.ErrUnexpectedEOD
	case scsi.FilemarkDetected:
		return ltfs.ErrUnexpectedFM
	case scsi.TimeOut:
		return ltfs.ErrTimeout
	case scsi.DeviceFenced:
		return ltfs.ErrDeviceFenced
	}
	return err
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// RawAddExtent inserts ext into d, optionally stamping the times.
func (v *Volume) RawAddExtent(d *index.Dentry, ext index.Extent, updateTime bool) error {
	d.ContentsLock.Write()
	defer d.ContentsLock.ReleaseWrite()
	d.AddExtent(ext, v.blocksize())
	if updateTime {
		d.TouchTimes()
	}
	v.idx.MarkDirty()
	return nil
}

// RawTruncate changes d's logical size; growing just extends the
// sparse tail and never touches the medium.
func (v *Volume) RawTruncate(d *index.Dentry, length uint64) error {
	if d.Immutable || d.AppendOnly {
		return ltfs.ErrWormEnabled
	}
	d.ContentsLock.Write()
	d.TruncateExtents(length, v.blocksize())
	d.ContentsLock.ReleaseWrite()
	d.TouchTimes()
	v.idx.MarkDirty()
	return nil
}

// RawCleanupExtent walks the tree after a failed write and drops every
// extent whose start block is at or past the failure position. An
// extent that starts before that position is kept whole; its tail is
// not trimmed.
func (v *Volume) RawCleanupExtent(errPos tape.Position) {
	letter := v.label.PartitionLetter(errPos.Partition)
	v.idx.Walk(func(d *index.Dentry) {
		if d.IsDir {
			return
		}
		if d.DropExtentsFrom(letter, errPos.Block) {
			v.idx.MarkDirty()
		}
	})
}
