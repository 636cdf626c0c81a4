// Package libltfs implements the filesystem core over the tape layer:
// volume mount and format, the raw medium path, the public path-level
// operations, index writing with its ordering rules, chain recovery,
// rollback, the extended attribute engine and periodic sync.
package libltfs

import (
	"bytes"
	"fmt"
	"log"
	"sync/atomic"

	ltfs "github.com/LinearTapeFileSystem/ltfs-go"
	"github.com/LinearTapeFileSystem/ltfs-go/internal/dcache"
	"github.com/LinearTapeFileSystem/ltfs-go/internal/index"
	"github.com/LinearTapeFileSystem/ltfs-go/internal/iosched"
	"github.com/LinearTapeFileSystem/ltfs-go/internal/kmi"
	"github.com/LinearTapeFileSystem/ltfs-go/internal/mrsw"
	"github.com/LinearTapeFileSystem/ltfs-go/internal/scsi"
	"github.com/LinearTapeFileSystem/ltfs-go/internal/tape"
)

// DefaultBlocksize is the block size mkltfs uses unless told otherwise.
const DefaultBlocksize = 524288

// labelBlocks is how many records the partition label occupies: VOL1,
// filemark, XML label, filemark. The append area starts right after.
const labelBlocks = 4

// Volume is one mounted cartridge.
type Volume struct {
	// Lock is the volume lock: read for ordinary file operations,
	// write for operations that restructure the index globally.
	Lock mrsw.Lock

	dev   *tape.Drive
	label *index.Label
	idx   *index.Index

	kmi   kmi.KMI
	dc    dcache.Cache
	sched iosched.Scheduler

	barcode    string
	mountPoint string
	mountType  ltfs.MountType
	lockState  ltfs.VolumeLockState

	// ipIndexFileEnd/dpIndexFileEnd record whether each partition
	// currently ends in an index construct. Writing data clears the
	// target partition's flag; writing an index sets it.
	ipIndexFileEnd bool
	dpIndexFileEnd bool

	// lastDPIndex is where the newest index on the data partition
	// lives; every index written next points back to it.
	lastDPIndex index.TapePos

	fileOpenCount int64

	commitReason ltfs.SyncReason

	ipCoh, dpCoh tape.Coherency
	vcr          uint64

	periodic *periodicSync

	// TestInjection gates the forceError debug attributes; the armed
	// thresholds live here so re-arming one leaves the others.
	TestInjection bool
	forceWrite    uint64
	forceRead     uint64
	forceType     scsi.Code
}

// Option configures a Volume before mount.
type Option func(*Volume)

// WithKMI attaches a key manager backend.
func WithKMI(k kmi.KMI) Option { return func(v *Volume) { v.kmi = k } }

// WithDcache attaches a dentry cache backend.
func WithDcache(c dcache.Cache) Option { return func(v *Volume) { v.dc = c } }

// WithScheduler attaches an I/O scheduler.
func WithScheduler(s iosched.Scheduler) Option { return func(v *Volume) { v.sched = s } }

// WithMountType selects the mount type; the default is read-write.
func WithMountType(mt ltfs.MountType) Option { return func(v *Volume) { v.mountType = mt } }

// NewVolume wraps a drive into an unmounted volume.
func NewVolume(dev *tape.Drive, opts ...Option) *Volume {
	v := &Volume{dev: dev, commitReason: ltfs.SyncUnmount}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Device exposes the drive, mainly to the xattr engine and the tools.
func (v *Volume) Device() *tape.Drive { return v.dev }

// Label returns the mounted label; nil before mount.
func (v *Volume) Label() *index.Label { return v.label }

// Index returns the live index.
func (v *Volume) Index() *index.Index { return v.idx }

// Barcode returns the cartridge barcode from the VOL1 record.
func (v *Volume) Barcode() string { return v.barcode }

// MountType reports how the volume was mounted.
func (v *Volume) MountType() ltfs.MountType { return v.mountType }

// LockState reports the advisory volume lock state.
func (v *Volume) LockState() ltfs.VolumeLockState { return v.lockState }

// FileOpenCount reports the number of open handles.
func (v *Volume) FileOpenCount() int64 { return atomic.LoadInt64(&v.fileOpenCount) }

func (v *Volume) blocksize() uint64 { return v.label.BlockSize }

func (v *Volume) ipID() byte { return v.label.PartIP }
func (v *Volume) dpID() byte { return v.label.PartDP }

func (v *Volume) partNum(letter byte) uint8 { return v.label.PartitionNumber(letter) }

// readOnly reports whether writes are forbidden for reason of mount
// type, medium state or volume lock state.
func (v *Volume) readOnly() bool {
	if v.mountType != ltfs.MountRW {
		return true
	}
	switch v.lockState {
	case ltfs.VolumeLocked, ltfs.VolumePermLocked, ltfs.VolumePWE,
		ltfs.VolumePWEDP, ltfs.VolumePWEIP, ltfs.VolumePWEBoth:
		return true
	}
	return false
}

// seekAppend positions the drive at the append position of a partition:
// end of data, or the start of the append area when the partition holds
// nothing past its label.
func (v *Volume) seekAppend(letter byte) (tape.Position, error) {
	if _, err := v.dev.Locate(tape.Position{Partition: v.partNum(letter)}); err != nil {
		return tape.Position{}, err
	}
	pos, err := v.dev.Space(0, tape.SpaceEOD)
	if err != nil {
		return tape.Position{}, err
	}
	if pos.Block < labelBlocks {
		return tape.Position{}, ltfs.ErrInvalidLabel
	}
	return pos, nil
}

// writeIndexTo serializes the live index onto one partition at the
// append position, terminated by a filemark. The generation advances
// once per dirty cycle: on the first partition written after a
// mutation; the second partition's copy reuses it.
func (v *Volume) writeIndexTo(letter byte, reason ltfs.SyncReason) error {
	pos, err := v.seekAppend(letter)
	if err != nil {
		return err
	}

	// An index construct is bracketed by filemarks; the leading one is
	// shared with the preceding construct. Only data blocks leave the
	// partition without one, so peek at the previous record.
	if pos.Block > labelBlocks {
		if _, serr := v.dev.Space(1, tape.SpaceBlockBack); !isCode(serr, scsi.FilemarkDetected) {
			if _, err := v.dev.Locate(tape.Position{
				Partition: v.partNum(letter), Block: pos.Block,
			}); err != nil {
				return err
			}
			if _, _, err := v.dev.WriteFilemarks(1, false); err != nil {
				return err
			}
			pos.Block++
		} else if _, err := v.dev.Locate(tape.Position{
			Partition: v.partNum(letter), Block: pos.Block,
		}); err != nil {
			return err
		}
	}

	if v.idx.Dirty {
		v.idx.Generation++
		v.idx.ModTime = index.Now()
		v.idx.Dirty = false
	}
	v.idx.Selfptr = index.TapePos{Partition: letter, Block: pos.Block}
	v.idx.Backptr = v.lastDPIndex
	v.idx.Creator = ltfs.Creator
	if v.idx.CommitMessage == "" {
		v.idx.CommitMessage = reason.String()
	}

	var buf bytes.Buffer
	if err := index.Marshal(&buf, v.idx); err != nil {
		return err
	}
	if err := v.writeBlocks(buf.Bytes()); err != nil {
		return err
	}
	if _, _, err := v.dev.WriteFilemarks(1, false); err != nil {
		return err
	}

	if letter == v.dpID() {
		v.lastDPIndex = v.idx.Selfptr
		v.dpIndexFileEnd = true
	} else {
		v.ipIndexFileEnd = true
	}
	v.updateCoherency(letter)
	log.Printf("wrote index generation %d to partition %c block %d (%s)",
		v.idx.Generation, letter, v.idx.Selfptr.Block, reason)
	return nil
}

// writeBlocks streams data to the current position in blocksize pieces;
// only the final block may be short.
func (v *Volume) writeBlocks(data []byte) error {
	bs := v.blocksize()
	for off := uint64(0); off < uint64(len(data)); off += bs {
		end := off + bs
		if end > uint64(len(data)) {
			end = uint64(len(data))
		}
		if _, _, err := v.dev.WriteBlock(data[off:end]); err != nil {
			return err
		}
	}
	return nil
}

// writeIndexConditional writes an index to the named partition when the
// partition does not end in one. It is called for a partition just
// before data lands on the other, so the rollback points stay
// reachable. Writing toward the data partition additionally flushes
// when the newest index exists only on the index partition.
func (v *Volume) writeIndexConditional(letter byte) error {
	switch {
	case letter == v.ipID() && !v.ipIndexFileEnd:
		return v.writeIndexTo(letter, ltfs.SyncCaseSensitive)
	case letter == v.dpID() &&
		(!v.dpIndexFileEnd ||
			(v.ipIndexFileEnd && v.idx.Selfptr.Partition == v.ipID())):
		return v.writeIndexTo(letter, ltfs.SyncCaseSensitive)
	}
	return nil
}

// SyncIndex writes the index to both partitions, data partition first,
// so a crash between the two leaves the data partition ahead. A clean
// index is not written again.
func (v *Volume) SyncIndex(reason ltfs.SyncReason) error {
	v.Lock.Write()
	defer v.Lock.ReleaseWrite()
	return v.syncIndexLocked(reason)
}

func (v *Volume) syncIndexLocked(reason ltfs.SyncReason) error {
	if v.readOnly() {
		return ltfs.ErrRdonlyVolume
	}
	if !v.idx.Dirty {
		return nil
	}
	if v.sched != nil {
		if err := v.sched.Flush(nil); err != nil {
			return err
		}
	}
	v.commitReason = reason
	if v.idx.CommitMessage == "" {
		v.idx.CommitMessage = reason.String()
	}
	if err := v.writeIndexTo(v.dpID(), reason); err != nil {
		return err
	}
	if err := v.writeIndexTo(v.ipID(), reason); err != nil {
		return err
	}
	v.idx.CommitMessage = ""
	if v.dc != nil {
		if err := v.dc.SetGeneration(v.idx.Generation); err == nil {
			v.dc.SetDirty(false)
		}
	}
	return nil
}

// updateCoherency refreshes the MAM coherency record of one partition.
func (v *Volume) updateCoherency(letter byte) {
	v.vcr++
	coh := tape.Coherency{
		VolumeChangeRef: v.vcr,
		Count:           v.idx.Generation,
		SetID:           v.idx.Selfptr.Block,
		UUID:            v.label.VolumeUUID,
	}
	if letter == v.ipID() {
		v.ipCoh = coh
	} else {
		v.dpCoh = coh
	}
	if err := v.dev.WriteAttribute(v.partNum(letter), tape.AttrCoherency,
		tape.EncodeCoherency(coh)); err != nil {
		log.Printf("updating coherency on partition %c: %v", letter, err)
	}
}

// SetCommitMessageReason records reason as the volume's commit reason.
// The commit message of an index write comes from the reason passed to
// SyncIndex; this value does not change it.
func (v *Volume) SetCommitMessageReason(reason ltfs.SyncReason) {
	v.commitReason = reason
}

// VolumeSync flushes dirty data and writes the index pair.
func (v *Volume) VolumeSync(reason ltfs.SyncReason) error {
	if v.sched != nil {
		if err := v.sched.Flush(nil); err != nil {
			return err
		}
	}
	return v.SyncIndex(reason)
}

// StartPeriodicSync launches the sync timer thread.
func (v *Volume) StartPeriodicSync(periodSec int) error {
	if v.periodic != nil {
		return ltfs.ErrInvalidSequence
	}
	v.periodic = newPeriodicSync(periodSec, v)
	return nil
}

// StopPeriodicSync shuts the timer thread down cooperatively.
func (v *Volume) StopPeriodicSync() {
	if v.periodic != nil {
		v.periodic.stop()
		v.periodic = nil
	}
}

// PeriodicSyncRunning reports whether the timer thread is alive.
func (v *Volume) PeriodicSyncRunning() bool {
	return v.periodic != nil && v.periodic.running()
}

// Unmount syncs a dirty index and detaches from the drive.
func (v *Volume) Unmount() error {
	v.StopPeriodicSync()
	if v.idx != nil && v.idx.Dirty && !v.readOnly() {
		if err := v.SyncIndex(ltfs.SyncUnmount); err != nil {
			return err
		}
	}
	if v.dc != nil {
		v.dc.PutAdvisoryLock()
	}
	if v.kmi != nil {
		v.kmi.Destroy()
	}
	if err := v.dev.PreventMediumRemoval(false); err != nil {
		log.Printf("allowing medium removal: %v", err)
	}
	return nil
}

// readBlockAt reads one block at (partition letter, block).
func (v *Volume) readBlockAt(letter byte, block uint64, buf []byte) (int, error) {
	if _, err := v.dev.Locate(tape.Position{Partition: v.partNum(letter), Block: block}); err != nil {
		return 0, err
	}
	return v.dev.ReadBlock(buf, true)
}

// setKeyFromKMI asks the key manager for the data key and hands it to
// the drive. A nil key manager or an empty result leaves the volume
// unencrypted.
func (v *Volume) setKeyFromKMI(alias []byte) error {
	if v.kmi == nil {
		return nil
	}
	dk, actual, err := v.kmi.GetKey(alias)
	if err != nil {
		return err
	}
	if dk == nil {
		return nil
	}
	return v.dev.SetKey(dk, actual)
}

func (v *Volume) String() string {
	if v.label == nil {
		return "<unmounted volume>"
	}
	return fmt.Sprintf("volume %s (%s)", v.barcode, v.label.VolumeUUID)
}
