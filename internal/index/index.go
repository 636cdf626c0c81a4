package index

import "sync"

// MaxCommitMessageLen bounds the commit message stored in an index.
const MaxCommitMessageLen = 4096

// Index is one snapshot of the dentry tree plus the chain header that
// links snapshots together on the medium.
type Index struct {
	Generation uint64
	UUID       string

	// Selfptr is where this index was written; Backptr the previous
	// index in the chain, or zero for the first.
	Selfptr TapePos
	Backptr TapePos

	ModTime       Timespec
	Creator       string
	CommitMessage string
	VolumeName    string

	Criteria Criteria

	Root *Dentry

	// FileCount counts live dentries including the root; UIDNumber is
	// the next unallocated dentry UID.
	FileCount uint64
	UIDNumber uint64

	// Preserved carries tags of future format versions through a
	// parse/serialize cycle untouched.
	Preserved []RawTag

	Dirty bool

	// RenameLock serializes renames against each other; every rename
	// takes it before any directory lock.
	RenameLock sync.Mutex
}

// RawTag is an unrecognized XML element kept for round-tripping.
type RawTag struct {
	Name  string
	Inner string
}

const rootUID = 1

// New builds an empty generation-zero index for a fresh volume: a root
// directory with link count 1 and nothing else.
func New(uuid, creator string) *Index {
	root := NewDentry(rootUID, "", true)
	idx := &Index{
		Generation: 0,
		UUID:       uuid,
		Creator:    creator,
		ModTime:    Now(),
		Root:       root,
		FileCount:  1,
		UIDNumber:  rootUID + 1,
	}
	return idx
}

// AllocateUID hands out the next dentry UID.
func (idx *Index) AllocateUID() uint64 {
	uid := idx.UIDNumber
	idx.UIDNumber++
	return uid
}

// MarkDirty flags the index as needing a sync.
func (idx *Index) MarkDirty() { idx.Dirty = true }

// Walk visits every dentry of the tree, parents before children.
func (idx *Index) Walk(fn func(d *Dentry)) {
	var rec func(d *Dentry)
	rec = func(d *Dentry) {
		fn(d)
		for _, c := range d.Children() {
			rec(c)
		}
	}
	if idx.Root != nil {
		rec(idx.Root)
	}
}

// Clone deep-copies the tree and header. Rollback uses it to append a
// historic snapshot under a new generation without aliasing the live
// tree.
func (idx *Index) Clone() *Index {
	out := &Index{
		Generation:    idx.Generation,
		UUID:          idx.UUID,
		Selfptr:       idx.Selfptr,
		Backptr:       idx.Backptr,
		ModTime:       idx.ModTime,
		Creator:       idx.Creator,
		CommitMessage: idx.CommitMessage,
		VolumeName:    idx.VolumeName,
		Criteria: Criteria{
			MaxFilesize: idx.Criteria.MaxFilesize,
			Patterns:    append([]string(nil), idx.Criteria.Patterns...),
			AllowUpdate: idx.Criteria.AllowUpdate,
		},
		FileCount: idx.FileCount,
		UIDNumber: idx.UIDNumber,
		Preserved: append([]RawTag(nil), idx.Preserved...),
	}
	if idx.Root != nil {
		out.Root = cloneDentry(idx.Root, nil)
	}
	return out
}

func cloneDentry(d *Dentry, parent *Dentry) *Dentry {
	c := &Dentry{
		UID:              d.UID,
		Ino:              d.Ino,
		LinkCount:        d.LinkCount,
		Name:             d.Name,
		PlatformSafeName: d.PlatformSafeName,
		IsDir:            d.IsDir,
		IsSlink:          d.IsSlink,
		ReadOnly:         d.ReadOnly,
		Immutable:        d.Immutable,
		AppendOnly:       d.AppendOnly,
		CreationTime:     d.CreationTime,
		ModifyTime:       d.ModifyTime,
		AccessTime:       d.AccessTime,
		ChangeTime:       d.ChangeTime,
		BackupTime:       d.BackupTime,
		Size:             d.Size,
		Realsize:         d.Realsize,
		UsedBlocks:       d.UsedBlocks,
		Extents:          append([]Extent(nil), d.Extents...),
		Target:           d.Target,
		MatchesCriteria:  d.MatchesCriteria,
		Parent:           parent,
	}
	for _, x := range d.Xattrs {
		c.Xattrs = append(c.Xattrs, Xattr{Key: x.Key, Value: append([]byte(nil), x.Value...)})
	}
	for _, child := range d.Children() {
		c.AddChild(cloneDentry(child, c))
	}
	return c
}
