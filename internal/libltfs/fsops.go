package libltfs

import (
	"strconv"
	"strings"
	"sync/atomic"

	"golang.org/x/xerrors"

	ltfs "github.com/LinearTapeFileSystem/ltfs-go"
	"github.com/LinearTapeFileSystem/ltfs-go/internal/index"
	"github.com/LinearTapeFileSystem/ltfs-go/internal/pathnorm"
)

// Handle is one open file reference.
type Handle struct {
	D         *index.Dentry
	OpenWrite bool

	// ReadOnly mirrors the dentry's readonly flag at open time.
	ReadOnly bool

	useSched bool
}

// SetMountPoint records where the adapter exposed the volume; symlink
// targets under it become LiveLinks that survive remounting elsewhere.
func (v *Volume) SetMountPoint(mp string) { v.mountPoint = mp }

// liveLinkXattr stores the mountpoint prefix length of a LiveLink.
const liveLinkXattr = "ltfs.vendor.IBM.lloffset"

// appendOnlyXattr marks entries created under an append-only directory.
const appendOnlyXattr = "ltfs.vendor.IBM.appendonly"

// lookup resolves an absolute volume path to a dentry. The caller
// holds the volume lock.
func (v *Volume) lookup(path string) (*index.Dentry, error) {
	comps, err := pathnorm.Split(path)
	if err != nil {
		return nil, err
	}
	d := v.idx.Root
	for _, comp := range comps {
		if !d.IsDir {
			return nil, ltfs.ErrIsFile
		}
		c := d.LookupChild(comp)
		if c == nil {
			return nil, ltfs.ErrNoDentry
		}
		d = c
	}
	return d, nil
}

// splitParent resolves the parent directory and final component of a
// path.
func (v *Volume) splitParent(path string) (*index.Dentry, string, error) {
	comps, err := pathnorm.Split(path)
	if err != nil {
		return nil, "", err
	}
	if len(comps) == 0 {
		return nil, "", ltfs.ErrInvalidPath
	}
	d := v.idx.Root
	for _, comp := range comps[:len(comps)-1] {
		c := d.LookupChild(comp)
		if c == nil {
			return nil, "", ltfs.ErrNoDentry
		}
		if !c.IsDir {
			return nil, "", ltfs.ErrIsFile
		}
		d = c
	}
	return d, comps[len(comps)-1], nil
}

// Open opens a path for reading or writing.
func (v *Volume) Open(path string, openWrite, useIOSched bool) (*Handle, error) {
	v.Lock.Read()
	defer v.Lock.ReleaseRead()

	d, err := v.lookup(path)
	if err != nil {
		return nil, err
	}
	if openWrite {
		if v.readOnly() {
			return nil, ltfs.ErrRdonlyVolume
		}
		if d.IsSlink {
			return nil, ltfs.ErrRdonlyVolume
		}
	}
	d.MetaLock.Write()
	d.Numhandles++
	d.MetaLock.ReleaseWrite()
	atomic.AddInt64(&v.fileOpenCount, 1)

	h := &Handle{D: d, OpenWrite: openWrite, ReadOnly: d.ReadOnly, useSched: useIOSched}
	if v.sched != nil && useIOSched {
		if err := v.sched.OpenFile(d, openWrite); err != nil {
			return nil, xerrors.Errorf("scheduler open: %v", err)
		}
	}
	return h, nil
}

// Close releases a handle, flushing pending metadata times.
func (v *Volume) Close(h *Handle, dirty bool) error {
	d := h.D
	if v.sched != nil && h.useSched {
		if err := v.sched.Close(d, dirty); err != nil {
			return err
		}
	}
	d.MetaLock.Write()
	if d.NeedUpdateTime {
		d.TouchTimes()
		d.NeedUpdateTime = false
		v.idx.MarkDirty()
	}
	if d.Numhandles > 0 {
		d.Numhandles--
	}
	d.MetaLock.ReleaseWrite()
	atomic.AddInt64(&v.fileOpenCount, -1)
	return nil
}

// Create makes a file or directory at path.
func (v *Volume) Create(path string, isdir, readonly bool) (*index.Dentry, error) {
	v.Lock.Read()
	defer v.Lock.ReleaseRead()

	if v.readOnly() {
		return nil, ltfs.ErrRdonlyVolume
	}
	if err := v.dev.TestUnitReady(); err != nil {
		return nil, ltfs.ErrDeviceUnready
	}

	parent, name, err := v.splitParent(path)
	if err != nil {
		return nil, err
	}
	if !parent.IsDir {
		return nil, ltfs.ErrIsFile
	}
	if parent.Immutable {
		return nil, ltfs.ErrWormEnabled
	}

	parent.ContentsLock.Write()
	defer parent.ContentsLock.ReleaseWrite()
	if parent.LookupChild(name) != nil {
		return nil, ltfs.ErrDentryExists
	}

	d := index.NewDentry(v.idx.AllocateUID(), name, isdir)
	d.ReadOnly = readonly
	d.MatchesCriteria = !isdir && v.idx.Criteria.Match(name)
	if parent.AppendOnly {
		// Entries born under an append-only directory inherit the
		// restriction, recorded as a stored vendor attribute in the
		// same change.
		d.AppendOnly = true
		d.SetXattr(appendOnlyXattr, []byte("1"))
	}
	parent.AddChild(d)
	parent.TouchTimes()
	v.idx.FileCount++
	v.idx.MarkDirty()

	if v.dc != nil {
		if err := v.dc.Create(path, d); err != nil {
			// Roll the namespace change back rather than let the
			// mirror drift.
			parent.RemoveChild(d)
			v.idx.FileCount--
			return nil, xerrors.Errorf("dcache create: %v", err)
		}
		v.dc.SetDirty(true)
	}
	return d, nil
}

// Unlink removes a file or empty directory.
func (v *Volume) Unlink(path string) error {
	v.Lock.Read()
	defer v.Lock.ReleaseRead()

	if v.readOnly() {
		return ltfs.ErrRdonlyVolume
	}
	comps, err := pathnorm.Split(path)
	if err != nil {
		return err
	}
	if len(comps) == 0 {
		return ltfs.ErrUnlinkRoot
	}

	parent, name, err := v.splitParent(path)
	if err != nil {
		return err
	}
	parent.ContentsLock.Write()
	defer parent.ContentsLock.ReleaseWrite()

	d := parent.LookupChild(name)
	if d == nil {
		return ltfs.ErrNoDentry
	}
	if d.Immutable || d.AppendOnly || parent.Immutable || parent.AppendOnly {
		return ltfs.ErrWormEnabled
	}
	if d.IsDir && d.ChildCount() > 0 {
		return ltfs.ErrDirNotEmpty
	}

	parent.RemoveChild(d)
	d.MetaLock.Write()
	if d.LinkCount > 0 {
		d.LinkCount--
	}
	d.Deleted = true
	d.MetaLock.ReleaseWrite()
	parent.TouchTimes()
	v.idx.FileCount--
	v.idx.MarkDirty()

	if v.sched != nil {
		v.sched.Drop(d)
	}
	if v.dc != nil {
		if err := v.dc.Unlink(path, d); err != nil {
			return xerrors.Errorf("dcache unlink: %v", err)
		}
		v.dc.SetDirty(true)
	}
	return nil
}

// Rename moves from to to, replacing an existing target file. Renames
// are serialized against each other by the index rename lock; parent
// directory locks are taken ancestor-first.
func (v *Volume) Rename(from, to string) error {
	v.Lock.Write()
	defer v.Lock.ReleaseWrite()

	if v.readOnly() {
		return ltfs.ErrRdonlyVolume
	}

	v.idx.RenameLock.Lock()
	defer v.idx.RenameLock.Unlock()

	srcParent, srcName, err := v.splitParent(from)
	if err != nil {
		if err == ltfs.ErrNoDentry || err == ltfs.ErrInvalidPath {
			return ltfs.ErrInvalidSrcPath
		}
		return err
	}
	dstParent, dstName, err := v.splitParent(to)
	if err != nil {
		return err
	}

	src := srcParent.LookupChild(srcName)
	if src == nil {
		return ltfs.ErrInvalidSrcPath
	}

	// A directory cannot move into its own subtree.
	if src.IsDir && (src == dstParent || src.IsAncestorOf(dstParent)) {
		return ltfs.ErrRenameLoop
	}
	if src.Immutable || src.AppendOnly {
		if srcParent != dstParent {
			return ltfs.ErrWormEnabled
		}
	}
	if srcParent.Immutable || srcParent.AppendOnly ||
		dstParent.Immutable || dstParent.AppendOnly {
		return ltfs.ErrWormEnabled
	}

	lockOrdered(srcParent, dstParent)
	defer unlockOrdered(srcParent, dstParent)

	dst := dstParent.LookupChild(dstName)
	if dst == src {
		return nil
	}
	if dst != nil {
		if dst.IsDir != src.IsDir {
			if dst.IsDir {
				return ltfs.ErrIsDirectory
			}
			return ltfs.ErrIsFile
		}
		if dst.IsDir && dst.ChildCount() > 0 {
			return ltfs.ErrDirNotEmpty
		}
		if dst.Immutable || dst.AppendOnly {
			return ltfs.ErrWormEnabled
		}
		dstParent.RemoveChild(dst)
		dst.Deleted = true
		if dst.LinkCount > 0 {
			dst.LinkCount--
		}
		v.idx.FileCount--
	}

	srcParent.RemoveChild(src)
	src.Name = dstName
	src.PlatformSafeName = pathnorm.PlatformSafe(dstName)
	dstParent.AddChild(src)
	src.MatchesCriteria = !src.IsDir && v.idx.Criteria.Match(dstName)

	now := index.Now()
	for _, d := range []*index.Dentry{srcParent, dstParent, src} {
		d.ModifyTime = now
		d.ChangeTime = now
		d.Dirty = true
	}
	v.idx.MarkDirty()

	if v.dc != nil {
		if err := v.dc.Rename(from, to, src); err != nil {
			return xerrors.Errorf("dcache rename: %v", err)
		}
		v.dc.SetDirty(true)
	}
	return nil
}

// lockOrdered takes the contents locks of one or two directories in
// ancestor-first order.
func lockOrdered(a, b *index.Dentry) {
	if a == b {
		a.ContentsLock.Write()
		return
	}
	if b.IsAncestorOf(a) {
		b.ContentsLock.Write()
		a.ContentsLock.Write()
		return
	}
	a.ContentsLock.Write()
	b.ContentsLock.Write()
}

func unlockOrdered(a, b *index.Dentry) {
	if a == b {
		a.ContentsLock.ReleaseWrite()
		return
	}
	a.ContentsLock.ReleaseWrite()
	b.ContentsLock.ReleaseWrite()
}

// ReadDir iterates a directory in stable UID order, invoking fn for
// each entry until it returns false.
func (v *Volume) ReadDir(path string, fn func(*index.Dentry) bool) error {
	v.Lock.Read()
	defer v.Lock.ReleaseRead()

	d, err := v.lookup(path)
	if err != nil {
		return err
	}
	if !d.IsDir {
		return ltfs.ErrIsFile
	}
	d.ContentsLock.Read()
	defer d.ContentsLock.ReleaseRead()
	for _, c := range d.Children() {
		if !fn(c) {
			break
		}
	}
	return nil
}

// Lookup resolves a path under the volume lock; the returned dentry
// stays owned by the tree.
func (v *Volume) Lookup(path string) (*index.Dentry, error) {
	v.Lock.Read()
	defer v.Lock.ReleaseRead()
	return v.lookup(path)
}

// SetReadOnly flips the readonly flag of a path.
func (v *Volume) SetReadOnly(path string, ro bool) error {
	v.Lock.Read()
	defer v.Lock.ReleaseRead()
	if v.readOnly() {
		return ltfs.ErrRdonlyVolume
	}
	d, err := v.lookup(path)
	if err != nil {
		return err
	}
	d.MetaLock.Write()
	d.ReadOnly = ro
	d.ChangeTime = index.Now()
	d.Dirty = true
	d.MetaLock.ReleaseWrite()
	v.idx.MarkDirty()
	return nil
}

// Utimens updates timestamps of a path. A nil timespec leaves the
// respective field alone.
func (v *Volume) Utimens(path string, atime, mtime *index.Timespec) error {
	v.Lock.Read()
	defer v.Lock.ReleaseRead()
	if v.readOnly() {
		return ltfs.ErrRdonlyVolume
	}
	d, err := v.lookup(path)
	if err != nil {
		return err
	}
	d.MetaLock.Write()
	if atime != nil {
		d.AccessTime = *atime
	}
	if mtime != nil {
		d.ModifyTime = *mtime
	}
	d.ChangeTime = index.Now()
	d.Dirty = true
	d.MetaLock.ReleaseWrite()
	v.idx.MarkDirty()
	return nil
}

// CreateSymlink creates a symbolic link at from pointing to target.
func (v *Volume) CreateSymlink(target, from string) (*index.Dentry, error) {
	d, err := v.Create(from, false, true)
	if err != nil {
		return nil, err
	}
	v.Lock.Read()
	defer v.Lock.ReleaseRead()
	d.MetaLock.Write()
	d.IsSlink = true
	d.Target = target
	if v.mountPoint != "" && strings.HasPrefix(target, v.mountPoint+"/") {
		d.SetXattr(liveLinkXattr, []byte(strconv.Itoa(len(v.mountPoint))))
	}
	d.MetaLock.ReleaseWrite()
	v.idx.MarkDirty()
	return d, nil
}

// ReadSymlink resolves a symlink. LiveLink targets get the current
// mountpoint re-prepended.
func (v *Volume) ReadSymlink(path string) (string, error) {
	v.Lock.Read()
	defer v.Lock.ReleaseRead()
	d, err := v.lookup(path)
	if err != nil {
		return "", err
	}
	if !d.IsSlink {
		return "", ltfs.ErrBadArg
	}
	if raw, ok := d.GetXattr(liveLinkXattr); ok && v.mountPoint != "" {
		if off, err := strconv.Atoi(string(raw)); err == nil && off > 0 && off < len(d.Target) {
			return v.mountPoint + d.Target[off:], nil
		}
	}
	return d.Target, nil
}

// Write writes through the scheduler when the handle uses one,
// otherwise through the raw path. Append-only dentries accept only
// appends; immutable ones nothing.
func (v *Volume) Write(h *Handle, buf []byte, offset uint64) (int, error) {
	d := h.D
	if !h.OpenWrite {
		return 0, ltfs.ErrBadArg
	}
	if v.readOnly() {
		return 0, ltfs.ErrRdonlyVolume
	}
	if d.Immutable {
		return 0, ltfs.ErrWormEnabled
	}
	if d.AppendOnly && offset != d.Size {
		return 0, ltfs.ErrWormEnabled
	}
	if v.sched != nil && h.useSched {
		return v.sched.Write(d, buf, offset)
	}
	return v.RawWrite(d, buf, offset, v.placementPartition(d, offset+uint64(len(buf))))
}

// placementPartition picks the partition for a file's data: small
// files matching the placement policy go to the index partition.
func (v *Volume) placementPartition(d *index.Dentry, sizeAfter uint64) byte {
	if d.MatchesCriteria && v.idx.Criteria.MaxFilesize > 0 &&
		sizeAfter <= v.idx.Criteria.MaxFilesize {
		return v.ipID()
	}
	return v.dpID()
}

// Read reads through the scheduler or the raw path.
func (v *Volume) Read(h *Handle, buf []byte, offset uint64) (int, error) {
	if v.sched != nil && h.useSched {
		return v.sched.Read(h.D, buf, offset)
	}
	return v.RawRead(h.D, buf, offset)
}

// Truncate resizes an open file.
func (v *Volume) Truncate(h *Handle, length uint64) error {
	if !h.OpenWrite {
		return ltfs.ErrBadArg
	}
	if v.readOnly() {
		return ltfs.ErrRdonlyVolume
	}
	if v.sched != nil && h.useSched {
		return v.sched.Truncate(h.D, length)
	}
	v.Lock.Read()
	defer v.Lock.ReleaseRead()
	return v.RawTruncate(h.D, length)
}

// Flush pushes buffered data of one handle out to the medium.
func (v *Volume) Flush(h *Handle) error {
	if v.sched != nil && h.useSched {
		return v.sched.Flush(h.D)
	}
	return nil
}
