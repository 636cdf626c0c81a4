package libltfs

import (
	"fmt"
	"strconv"
	"strings"

	ltfs "github.com/LinearTapeFileSystem/ltfs-go"
	"github.com/LinearTapeFileSystem/ltfs-go/internal/index"
	"github.com/LinearTapeFileSystem/ltfs-go/internal/scsi"
	"github.com/LinearTapeFileSystem/ltfs-go/internal/tape"
)

// Extended attributes come in two namespaces: real attributes stored in
// the dentry and round-tripped by the index, and virtual attributes
// under the reserved "ltfs." prefix that are computed on read or
// dispatched on write. A handful of reserved names are stored-EA
// exceptions serialized like real attributes.

// MaxXattrSize bounds one attribute value.
const MaxXattrSize = 4096

const reservedPrefix = "ltfs."

// storedEAException reports whether a reserved name is persisted as a
// real attribute anyway.
func storedEAException(key string) bool {
	return strings.HasPrefix(key, "ltfs.permissions.") ||
		strings.HasPrefix(key, "ltfs.hash.") ||
		key == "ltfs.mediaPool.name" ||
		key == appendOnlyXattr ||
		key == liveLinkXattr ||
		key == "ltfs.vendor.IBM.immutable"
}

// GetXattr reads one attribute of the dentry at path.
func (v *Volume) GetXattr(path, key string) ([]byte, error) {
	v.Lock.Read()
	defer v.Lock.ReleaseRead()

	d, err := v.lookup(path)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(key, reservedPrefix) {
		if val, handled, err := v.getVirtual(d, key); handled {
			return val, err
		}
		if !storedEAException(key) {
			return nil, ltfs.ErrNoXattr
		}
	}
	d.MetaLock.Read()
	defer d.MetaLock.ReleaseRead()
	if val, ok := d.GetXattr(key); ok {
		return append([]byte(nil), val...), nil
	}
	return nil, ltfs.ErrNoXattr
}

// getVirtual computes a virtual attribute. The bool result reports
// whether key names one.
func (v *Volume) getVirtual(d *index.Dentry, key string) ([]byte, bool, error) {
	isRoot := d == v.idx.Root
	str := func(s string) ([]byte, bool, error) { return []byte(s), true, nil }

	switch key {
	case "ltfs.createTime":
		return str(d.CreationTime.String())
	case "ltfs.modifyTime":
		return str(d.ModifyTime.String())
	case "ltfs.accessTime":
		return str(d.AccessTime.String())
	case "ltfs.changeTime":
		return str(d.ChangeTime.String())
	case "ltfs.backupTime":
		return str(d.BackupTime.String())
	case "ltfs.fileUID":
		return str(strconv.FormatUint(d.UID, 10))
	case "ltfs.volumeUUID":
		return str(v.label.VolumeUUID)
	case "ltfs.volumeName":
		return str(v.idx.VolumeName)
	case "ltfs.commitMessage":
		return str(v.idx.CommitMessage)
	case "ltfs.indexGeneration":
		return str(strconv.FormatUint(v.idx.Generation, 10))
	case "ltfs.indexLocation":
		return str(fmt.Sprintf("%c:%d", v.idx.Selfptr.Partition, v.idx.Selfptr.Block))
	case "ltfs.indexPrevious":
		if v.idx.Backptr.IsZero() {
			return str("")
		}
		return str(fmt.Sprintf("%c:%d", v.idx.Backptr.Partition, v.idx.Backptr.Block))
	case "ltfs.volumeBlocksize":
		return str(strconv.FormatUint(v.label.BlockSize, 10))
	case "ltfs.partitionMap":
		return str(fmt.Sprintf("I:%c,D:%c", v.ipID(), v.dpID()))
	case "ltfs.softwareVersion":
		return str(ltfs.Version)
	case "ltfs.softwareFormatSpec":
		return str(ltfs.FormatVersion)
	case "ltfs.volumeLockState":
		return str(v.lockState.String())
	case "ltfs.mamBarcode":
		if attr, err := v.dev.ReadAttribute(0, tape.AttrBarcode); err == nil {
			return str(tape.TrimAttribute(attr))
		}
		return str(v.barcode)
	case "ltfs.partition":
		if len(d.Extents) > 0 {
			return str(string(rune(d.Extents[0].Partition)))
		}
		return nil, true, ltfs.ErrNoXattr
	case "ltfs.startblock":
		if len(d.Extents) > 0 {
			return str(strconv.FormatUint(d.Extents[0].StartBlock, 10))
		}
		return nil, true, ltfs.ErrNoXattr
	case "ltfs.mediaEncrypted":
		params, err := v.dev.GetParameters()
		if err != nil {
			return nil, true, err
		}
		return str(boolAttr(params.Encrypted))
	case "ltfs.driveEncryptionState":
		if alias, err := v.dev.GetKeyAlias(); err == nil && len(alias) > 0 {
			return str("on")
		}
		return str("off")
	case "ltfs.mediaPermanentReadErrors":
		return v.healthAttr(func(h tape.CartridgeHealth) int64 { return h.PermReadErrors })
	case "ltfs.mediaPermanentWriteErrors":
		return v.healthAttr(func(h tape.CartridgeHealth) int64 { return h.PermWriteErrors })
	case "ltfs.mediaDatasetsWritten":
		return v.healthAttr(func(h tape.CartridgeHealth) int64 { return h.WrittenDatasets })
	case "ltfs.mediaLoads":
		return v.healthAttr(func(h tape.CartridgeHealth) int64 { return h.Mounts })
	case "ltfs.sync":
		if !isRoot {
			return nil, true, ltfs.ErrNoXattr
		}
		// Reading the sync attribute is itself a sync trigger.
		if err := v.syncForEA(); err != nil {
			return nil, true, err
		}
		return str(boolAttr(v.idx.Dirty))
	}
	return nil, false, nil
}

func (v *Volume) healthAttr(pick func(tape.CartridgeHealth) int64) ([]byte, bool, error) {
	h, err := v.dev.GetCartridgeHealth()
	if err != nil {
		return nil, true, err
	}
	return []byte(strconv.FormatInt(pick(h), 10)), true, nil
}

func boolAttr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// syncForEA runs a sync triggered through the attribute interface. The
// caller holds the volume read lock, so the write-locking SyncIndex
// cannot be called directly.
func (v *Volume) syncForEA() error {
	if v.readOnly() {
		return nil
	}
	v.Lock.ReleaseRead()
	err := v.SyncIndex(ltfs.SyncEA)
	v.Lock.Read()
	return err
}

// SetXattr stores or dispatches one attribute.
func (v *Volume) SetXattr(path, key string, value []byte) error {
	v.Lock.Read()
	defer v.Lock.ReleaseRead()

	if len(value) > MaxXattrSize {
		return ltfs.ErrLargeXattr
	}
	d, err := v.lookup(path)
	if err != nil {
		return err
	}

	if strings.HasPrefix(key, reservedPrefix) {
		handled, err := v.setVirtual(d, key, value)
		if handled {
			return err
		}
		if !storedEAException(key) {
			return ltfs.ErrRdonlyXattr
		}
	}

	if v.readOnly() {
		return ltfs.ErrRdonlyVolume
	}
	d.MetaLock.Write()
	prev, hadPrev := d.GetXattr(key)
	d.SetXattr(key, value)
	d.ChangeTime = index.Now()
	d.MetaLock.ReleaseWrite()
	v.idx.MarkDirty()

	if v.dc != nil {
		if err := v.dc.SetXattr(d, key, value); err != nil {
			// Roll the attribute back so the mirror stays coherent.
			d.MetaLock.Write()
			if hadPrev {
				d.SetXattr(key, prev)
			} else {
				d.RemoveXattr(key)
			}
			d.MetaLock.ReleaseWrite()
			return err
		}
		v.dc.SetDirty(true)
	}
	return nil
}

// setVirtual dispatches a write to a virtual attribute. The bool
// result reports whether key names one.
func (v *Volume) setVirtual(d *index.Dentry, key string, value []byte) (bool, error) {
	isRoot := d == v.idx.Root
	val := string(value)

	switch key {
	case "ltfs.sync":
		if !isRoot {
			return true, ltfs.ErrNoXattr
		}
		return true, v.syncForEA()

	case "ltfs.commitMessage":
		if !isRoot {
			return true, ltfs.ErrNoXattr
		}
		if len(value) > index.MaxCommitMessageLen {
			return true, ltfs.ErrLargeXattr
		}
		v.idx.CommitMessage = val
		v.idx.MarkDirty()
		return true, nil

	case "ltfs.volumeName":
		if !isRoot {
			return true, ltfs.ErrNoXattr
		}
		v.idx.VolumeName = val
		v.idx.MarkDirty()
		if err := v.dev.WriteAttribute(0, tape.AttrUserMediumLabel,
			tape.ASCIIAttribute(val, 32)); err != nil {
			return true, err
		}
		return true, nil

	case "ltfs.vendor.IBM.immutable":
		return true, v.setWORMFlag(d, &d.Immutable, val)

	case appendOnlyXattr:
		return true, v.setWORMFlag(d, &d.AppendOnly, val)

	case "ltfs.volumeLockState":
		if !isRoot {
			return true, ltfs.ErrNoXattr
		}
		return true, v.setLockState(val)

	case "ltfs.vendor.IBM.forceErrorWrite":
		return true, v.setForceError(func(n uint64) {
			v.forceWrite = n
			v.applyForceError()
		}, val)
	case "ltfs.vendor.IBM.forceErrorRead":
		return true, v.setForceError(func(n uint64) {
			v.forceRead = n
			v.applyForceError()
		}, val)
	case "ltfs.vendor.IBM.forceErrorType":
		return true, v.setForceError(func(n uint64) {
			v.forceType = scsi.Code(n)
			v.applyForceError()
		}, val)
	}
	return false, nil
}

// setWORMFlag enables or disables an immutable/appendonly flag. Any
// value other than "0" enables. On WORM media the flags cannot be
// cleared again.
func (v *Volume) setWORMFlag(d *index.Dentry, flag *bool, val string) error {
	if v.readOnly() {
		return ltfs.ErrRdonlyVolume
	}
	enable := val != "0"
	if !enable && *flag {
		params, err := v.dev.GetParameters()
		if err == nil && params.WORM {
			return ltfs.ErrWormEnabled
		}
	}
	d.MetaLock.Write()
	*flag = enable
	d.ChangeTime = index.Now()
	d.Dirty = true
	d.MetaLock.ReleaseWrite()
	v.idx.MarkDirty()
	return nil
}

// setLockState walks the volume lock state machine. Transitions out of
// the permanent write error states are rejected, as are lock changes
// with open files.
func (v *Volume) setLockState(val string) error {
	next, ok := ltfs.ParseVolumeLockState(val)
	if !ok {
		return ltfs.ErrBadArg
	}
	switch v.lockState {
	case ltfs.VolumePWE, ltfs.VolumePWEDP, ltfs.VolumePWEIP, ltfs.VolumePWEBoth:
		return ltfs.ErrBadArg
	}
	switch next {
	case ltfs.VolumePWE, ltfs.VolumePWEDP, ltfs.VolumePWEIP, ltfs.VolumePWEBoth:
		return ltfs.ErrBadArg
	}
	if v.FileOpenCount() > 0 {
		return ltfs.ErrBadArg
	}
	if v.lockState == ltfs.VolumePermLocked {
		return ltfs.ErrBadArg
	}
	v.lockState = next
	v.idx.MarkDirty()
	if err := v.dev.WriteAttribute(0, tape.AttrVolumeLockedMAM,
		[]byte{byte(next)}); err != nil {
		return err
	}
	return nil
}

func (v *Volume) setForceError(apply func(uint64), val string) error {
	if !v.TestInjection {
		return ltfs.ErrRdonlyXattr
	}
	n, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return ltfs.ErrBadArg
	}
	apply(n)
	return nil
}

func (v *Volume) applyForceError() {
	v.dev.ForceError(v.forceWrite, v.forceRead, v.forceType)
}

// RemoveXattr deletes a real attribute.
func (v *Volume) RemoveXattr(path, key string) error {
	v.Lock.Read()
	defer v.Lock.ReleaseRead()

	if v.readOnly() {
		return ltfs.ErrRdonlyVolume
	}
	d, err := v.lookup(path)
	if err != nil {
		return err
	}
	if strings.HasPrefix(key, reservedPrefix) && !storedEAException(key) {
		return ltfs.ErrRdonlyXattr
	}
	d.MetaLock.Write()
	prev, _ := d.GetXattr(key)
	removed := d.RemoveXattr(key)
	d.MetaLock.ReleaseWrite()
	if !removed {
		return ltfs.ErrNoXattr
	}
	v.idx.MarkDirty()
	if v.dc != nil {
		if err := v.dc.RemoveXattr(d, key); err != nil {
			// Restore the attribute so the mirror stays coherent.
			d.MetaLock.Write()
			d.SetXattr(key, prev)
			d.MetaLock.ReleaseWrite()
			return err
		}
		v.dc.SetDirty(true)
	}
	return nil
}

// ListXattr returns the stored attribute names of a path.
func (v *Volume) ListXattr(path string) ([]string, error) {
	v.Lock.Read()
	defer v.Lock.ReleaseRead()

	d, err := v.lookup(path)
	if err != nil {
		return nil, err
	}
	d.MetaLock.Read()
	defer d.MetaLock.ReleaseRead()
	var out []string
	for _, x := range d.Xattrs {
		out = append(out, x.Key)
	}
	return out, nil
}
