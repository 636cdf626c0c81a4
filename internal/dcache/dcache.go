// Package dcache defines the dentry cache plugin contract: an on-disk
// mirror of the volume namespace that survives unmounts, so path lookup
// and readdir do not need the in-memory tree. The package also ships the
// disk backend used when a work directory is configured.
package dcache

import "github.com/LinearTapeFileSystem/ltfs-go/internal/index"

// Flush flags select which parts of a dentry the cache writes back.
type FlushFlags uint

const (
	FlushXattrs FlushFlags = 1 << iota
	FlushExtentList
	FlushMetadata
	FlushRecursive

	FlushAll = FlushXattrs | FlushExtentList | FlushMetadata
)

// Cache is the plugin contract. Every operation returns nil on success;
// callers treat any error as a cache failure. A failed create or xattr
// update is rolled back in the in-memory tree before the error is
// returned; a failed unlink or rename leaves the in-memory change in
// place.
type Cache interface {
	// Cache lifecycle.
	MkCache() error
	RmCache() error
	CacheExists() (bool, error)

	// Work directory housekeeping.
	SetWorkDir(path string) error
	GetWorkDir() (string, error)

	// Name assignment tracks which cartridge the cache mirrors.
	AssignName(name string) error
	UnassignName() error
	IsNameAssigned() (bool, error)

	// WipeDentryTree drops every mirrored dentry but keeps the cache
	// itself.
	WipeDentryTree() error

	// Volume identity and generation stamps.
	SetVolUUID(uuid string) error
	GetVolUUID() (string, error)
	SetGeneration(gen uint64) error
	GetGeneration() (uint64, error)
	SetDirty(dirty bool) error
	GetDirty() (bool, error)

	// Disk image management for backends keeping the mirror inside a
	// loopback image.
	DiskImageCreate() error
	DiskImageRemove() error
	DiskImageMount() error
	DiskImageUnmount() error
	DiskImageIsFull() (bool, error)

	// Advisory locking between processes sharing the cache.
	GetAdvisoryLock() error
	PutAdvisoryLock() error

	// Namespace operations mirroring the public filesystem ops.
	Open(path string) (*index.Dentry, error)
	OpenAt(parent *index.Dentry, name string) (*index.Dentry, error)
	Close(d *index.Dentry) error
	Create(path string, d *index.Dentry) error
	Unlink(path string, d *index.Dentry) error
	Rename(oldPath, newPath string, d *index.Dentry) error
	Flush(d *index.Dentry, flags FlushFlags) error
	ReadDir(path string) ([]string, error)
	ReadDirEntry(path, name string) (*index.Dentry, error)

	// Extended attribute mirroring.
	SetXattr(d *index.Dentry, key string, value []byte) error
	RemoveXattr(d *index.Dentry, key string) error
	ListXattr(d *index.Dentry) ([]string, error)
	GetXattr(d *index.Dentry, key string) ([]byte, error)

	// Dentry reference management.
	GetDentry(path string) (*index.Dentry, error)
	PutDentry(d *index.Dentry) error

	// Destroy releases the cache handle.
	Destroy() error
}
