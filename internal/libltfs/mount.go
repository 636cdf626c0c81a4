package libltfs

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log"

	ltfs "github.com/LinearTapeFileSystem/ltfs-go"
	"github.com/LinearTapeFileSystem/ltfs-go/internal/index"
	"github.com/LinearTapeFileSystem/ltfs-go/internal/scsi"
	"github.com/LinearTapeFileSystem/ltfs-go/internal/tape"
)

// MountResult classifies how a mount ended.
type MountResult int

const (
	MountClean MountResult = iota
	MountRecovered
	MountUnrecoverable
)

// maxLabelRead bounds the buffer used to read label records before the
// block size is known.
const maxLabelRead = 1 << 20

// readLabel reads and validates the four label records of one
// partition.
func (v *Volume) readLabel(partition uint8) (*index.Label, string, error) {
	if _, err := v.dev.Locate(tape.Position{Partition: partition}); err != nil {
		return nil, "", err
	}
	buf := make([]byte, maxLabelRead)

	n, err := v.dev.ReadBlock(buf, true)
	if err != nil {
		return nil, "", ltfs.ErrInvalidLabel
	}
	barcode, err := index.CheckVOL1(buf[:n])
	if err != nil {
		return nil, "", err
	}

	// Filemark after VOL1.
	if _, err := v.dev.ReadBlock(buf, true); err != scsi.FilemarkDetected {
		return nil, "", ltfs.ErrInvalidLabel
	}

	n, err = v.dev.ReadBlock(buf, true)
	if err != nil {
		return nil, "", ltfs.ErrInvalidLabel
	}
	label, err := index.UnmarshalLabel(bytes.NewReader(buf[:n]))
	if err != nil {
		return nil, "", err
	}
	label.Barcode = barcode

	if _, err := v.dev.ReadBlock(buf, true); err != scsi.FilemarkDetected {
		return nil, "", ltfs.ErrLabelPossibleValid
	}
	return label, barcode, nil
}

// Mount reads both labels, walks the index chains and swaps in the
// newest consistent index. A cartridge with valid labels and no index
// mounts as a fresh volume with an empty generation-zero index.
func (v *Volume) Mount() (MountResult, error) {
	if err := v.dev.TestUnitReady(); err != nil {
		return MountUnrecoverable, ltfs.ErrDeviceUnready
	}
	if err := v.dev.Reserve(); err != nil {
		return MountUnrecoverable, ltfs.ErrReservationConflict
	}
	if err := v.dev.PreventMediumRemoval(true); err != nil {
		log.Printf("preventing medium removal: %v", err)
	}

	params, err := v.dev.GetParameters()
	if err != nil {
		return MountUnrecoverable, err
	}
	if params.WriteProtect || params.LogicalWriteProtect {
		if v.mountType == ltfs.MountRW {
			v.mountType = ltfs.MountRollback
		}
	}

	ipLabel, barcode, err := v.readLabel(0)
	if err != nil {
		return MountUnrecoverable, err
	}
	dpLabel, _, err := v.readLabel(1)
	if err != nil {
		return MountUnrecoverable, err
	}
	if !ipLabel.Equivalent(dpLabel) {
		return MountUnrecoverable, ltfs.ErrLabelMismatch
	}
	v.label = ipLabel
	v.barcode = barcode

	if err := v.setKeyFromKMI(nil); err != nil {
		return MountUnrecoverable, err
	}

	ipFind, ipErr := v.seekIndex(v.ipID())
	dpFind, dpErr := v.seekIndex(v.dpID())
	if ipErr != nil && dpErr != nil {
		// Neither partition holds an index: a freshly labeled volume.
		v.idx = index.New(v.label.VolumeUUID, ltfs.Creator)
		v.ipIndexFileEnd = true
		v.dpIndexFileEnd = true
		v.attachDcache()
		return MountClean, nil
	}

	var ipIdx, dpIdx *index.Index
	if ipErr == nil {
		ipIdx = ipFind.idx
	}
	if dpErr == nil {
		dpIdx = dpFind.idx
	}

	newer, err := v.checkPointers(ipIdx, dpIdx)
	if err != nil {
		return MountUnrecoverable, err
	}
	switch newer {
	case newerIP:
		v.idx = ipIdx
	case newerDP:
		v.idx = dpIdx
	}

	v.ipIndexFileEnd = ipErr == nil && !ipFind.blocksAfter
	v.dpIndexFileEnd = dpErr == nil && !dpFind.blocksAfter
	if dpIdx != nil {
		v.lastDPIndex = dpIdx.Selfptr
	}
	if v.idx.UUID != v.label.VolumeUUID {
		return MountUnrecoverable, ltfs.ErrIndexInvalid
	}

	result := MountClean
	if !v.ipIndexFileEnd || !v.dpIndexFileEnd {
		result = MountRecovered
	}
	v.attachDcache()
	return result, nil
}

// attachDcache binds the dentry cache mirror to this cartridge.
func (v *Volume) attachDcache() {
	if v.dc == nil {
		return
	}
	name := v.barcode
	if name == "" {
		name = v.label.VolumeUUID
	}
	if err := v.dc.AssignName(name); err != nil {
		log.Printf("dcache: assigning name: %v", err)
		v.dc = nil
		return
	}
	if err := v.dc.GetAdvisoryLock(); err != nil {
		log.Printf("dcache: advisory lock: %v", err)
		v.dc = nil
		return
	}
	exists, _ := v.dc.CacheExists()
	if !exists {
		if err := v.dc.MkCache(); err != nil {
			log.Printf("dcache: creating cache: %v", err)
			v.dc = nil
			return
		}
	}
	uuid, _ := v.dc.GetVolUUID()
	gen, _ := v.dc.GetGeneration()
	if uuid != v.label.VolumeUUID || gen != v.idx.Generation {
		// Stale mirror: rebuild from the freshly read tree.
		if err := v.dc.WipeDentryTree(); err == nil {
			v.dc.SetVolUUID(v.label.VolumeUUID)
			v.dc.SetGeneration(v.idx.Generation)
			v.dc.SetDirty(false)
		}
	}
}

// FormatOptions configure Format.
type FormatOptions struct {
	Barcode     string
	VolumeName  string
	Blocksize   uint64
	Criteria    index.Criteria
	Compression bool

	// KeyAlias encrypts the cartridge with the key the KMI resolves
	// for this alias (21-character textual DKi).
	KeyAlias string
}

// Format partitions the medium, writes both partition labels and the
// first index pair. The volume is mounted read-write afterwards.
func (v *Volume) Format(opts FormatOptions) error {
	if opts.Blocksize == 0 {
		opts.Blocksize = DefaultBlocksize
	}
	if opts.Blocksize < 4096 || opts.Blocksize%4096 != 0 {
		return ltfs.ErrBadArg
	}

	if opts.KeyAlias != "" {
		if err := v.setKeyFromKMI([]byte(opts.KeyAlias)); err != nil {
			return err
		}
	}

	if err := v.dev.Format(tape.FormatTwoPartition); err != nil {
		return err
	}

	uuid := newUUID()
	label := &index.Label{
		Creator:     ltfs.Creator,
		FormatTime:  index.Now(),
		VolumeUUID:  uuid,
		Barcode:     opts.Barcode,
		Version:     ltfs.FormatVersion,
		BlockSize:   opts.Blocksize,
		Compression: opts.Compression,
		PartIP:      'a',
		PartDP:      'b',
	}
	v.label = label
	v.barcode = opts.Barcode

	for _, part := range []uint8{0, 1} {
		if _, err := v.dev.Locate(tape.Position{Partition: part}); err != nil {
			return err
		}
		if _, _, err := v.dev.WriteBlock(index.EncodeVOL1(opts.Barcode)); err != nil {
			return err
		}
		if _, _, err := v.dev.WriteFilemarks(1, false); err != nil {
			return err
		}
		label.ThisPartition = label.PartitionLetter(part)
		var buf bytes.Buffer
		if err := index.MarshalLabel(&buf, label); err != nil {
			return err
		}
		if _, _, err := v.dev.WriteBlock(buf.Bytes()); err != nil {
			return err
		}
		if _, _, err := v.dev.WriteFilemarks(1, false); err != nil {
			return err
		}
	}

	for _, attr := range []struct {
		id    uint16
		value string
	}{
		{tape.AttrBarcode, opts.Barcode},
		{tape.AttrAppVendor, ltfs.Vendor},
		{tape.AttrAppName, "LTFS-Go"},
		{tape.AttrAppVersion, ltfs.Version},
		{tape.AttrAppFormatVersion, ltfs.FormatVersion},
		{tape.AttrUserMediumLabel, opts.VolumeName},
	} {
		if err := v.dev.WriteAttribute(0, attr.id, tape.ASCIIAttribute(attr.value, 32)); err != nil {
			log.Printf("writing MAM attribute %#04x: %v", attr.id, err)
		}
	}

	v.idx = index.New(uuid, ltfs.Creator)
	v.idx.VolumeName = opts.VolumeName
	v.idx.Criteria = opts.Criteria
	v.idx.Dirty = true
	v.mountType = ltfs.MountRW
	v.ipIndexFileEnd = false
	v.dpIndexFileEnd = false
	v.lastDPIndex = index.TapePos{}

	if err := v.syncIndexLocked(ltfs.SyncFormat); err != nil {
		return err
	}
	v.attachDcache()
	return nil
}

// newUUID builds a random version-4 UUID.
func newUUID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// The volume UUID only needs uniqueness; fall back to the
		// clock if the system entropy pool is somehow unreadable.
		now := index.Now()
		binary.BigEndian.PutUint64(b[0:8], now.Sec)
		binary.BigEndian.PutUint32(b[8:12], now.Nsec)
	}
	b[6] = b[6]&0x0f | 0x40
	b[8] = b[8]&0x3f | 0x80
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}
