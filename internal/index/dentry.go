package index

import (
	"sort"

	"github.com/LinearTapeFileSystem/ltfs-go/internal/mrsw"
	"github.com/LinearTapeFileSystem/ltfs-go/internal/pathnorm"
)

// Dentry is one file, directory or symbolic link. Directories own their
// children through the children table; Parent is a back-reference only.
type Dentry struct {
	UID        uint64
	Ino        uint64
	LinkCount  uint32
	Numhandles uint32

	// Name is the NFC-normalized name; PlatformSafeName the
	// percent-encoded variant the children table is keyed by.
	Name             string
	PlatformSafeName string

	IsDir      bool
	IsSlink    bool
	ReadOnly   bool
	Immutable  bool
	AppendOnly bool

	CreationTime Timespec
	ModifyTime   Timespec
	AccessTime   Timespec
	ChangeTime   Timespec
	BackupTime   Timespec

	// Size is the logical length; Realsize the number of bytes backed
	// by extents. Bytes past the last extent up to Size read as zeros.
	Size       uint64
	Realsize   uint64
	UsedBlocks uint64

	Extents []Extent

	Target string // symlink target

	Xattrs []Xattr

	Parent   *Dentry
	children map[string]*Dentry

	MetaLock     mrsw.Lock
	ContentsLock mrsw.Lock

	Dirty           bool
	ExtentsDirty    bool
	NeedUpdateTime  bool
	Deleted         bool
	MatchesCriteria bool
}

// NewDentry builds a detached dentry with all five timestamps set to
// now.
func NewDentry(uid uint64, name string, isdir bool) *Dentry {
	now := Now()
	d := &Dentry{
		UID:              uid,
		Ino:              uid,
		LinkCount:        1,
		Name:             name,
		PlatformSafeName: pathnorm.PlatformSafe(name),
		IsDir:            isdir,
		CreationTime:     now,
		ModifyTime:       now,
		AccessTime:       now,
		ChangeTime:       now,
		BackupTime:       now,
	}
	return d
}

// TouchTimes stamps the modify and change times.
func (d *Dentry) TouchTimes() {
	now := Now()
	d.ModifyTime = now
	d.ChangeTime = now
	d.Dirty = true
}

// LookupChild finds a child by its NFC name.
func (d *Dentry) LookupChild(name string) *Dentry {
	if d.children == nil {
		return nil
	}
	return d.children[pathnorm.PlatformSafe(name)]
}

// AddChild attaches c to d. The caller has already checked for an
// existing entry under the same name.
func (d *Dentry) AddChild(c *Dentry) {
	if d.children == nil {
		d.children = make(map[string]*Dentry)
	}
	d.children[c.PlatformSafeName] = c
	c.Parent = d
}

// RemoveChild detaches c from d, leaving c's Parent pointer cleared.
func (d *Dentry) RemoveChild(c *Dentry) {
	delete(d.children, c.PlatformSafeName)
	c.Parent = nil
}

// ChildCount returns the number of children without materializing the
// ordered list.
func (d *Dentry) ChildCount() int { return len(d.children) }

// Children returns the children in stable order, by UID ascending.
func (d *Dentry) Children() []*Dentry {
	out := make([]*Dentry, 0, len(d.children))
	for _, c := range d.children {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out
}

// GetXattr returns the stored attribute value, or nil and false.
func (d *Dentry) GetXattr(key string) ([]byte, bool) {
	for i := range d.Xattrs {
		if d.Xattrs[i].Key == key {
			return d.Xattrs[i].Value, true
		}
	}
	return nil, false
}

// SetXattr stores or replaces an attribute.
func (d *Dentry) SetXattr(key string, value []byte) {
	for i := range d.Xattrs {
		if d.Xattrs[i].Key == key {
			d.Xattrs[i].Value = append([]byte(nil), value...)
			d.Dirty = true
			return
		}
	}
	d.Xattrs = append(d.Xattrs, Xattr{Key: key, Value: append([]byte(nil), value...)})
	d.Dirty = true
}

// RemoveXattr drops an attribute, reporting whether it existed.
func (d *Dentry) RemoveXattr(key string) bool {
	for i := range d.Xattrs {
		if d.Xattrs[i].Key == key {
			d.Xattrs = append(d.Xattrs[:i], d.Xattrs[i+1:]...)
			d.Dirty = true
			return true
		}
	}
	return false
}

// IsAncestorOf reports whether d is a proper ancestor of other,
// following parent back-references. Used by rename loop detection.
func (d *Dentry) IsAncestorOf(other *Dentry) bool {
	for p := other.Parent; p != nil; p = p.Parent {
		if p == d {
			return true
		}
	}
	return false
}
