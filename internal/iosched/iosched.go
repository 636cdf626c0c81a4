// Package iosched declares the I/O scheduler contract. A scheduler sits
// between the public filesystem operations and the raw medium path,
// buffering writes and deciding data placement; when a volume has no
// scheduler attached, the operations fall through to the raw path
// directly.
//
// The package carries the interface only: scheduler backends are
// external plugins.
package iosched

import "github.com/LinearTapeFileSystem/ltfs-go/internal/index"

// Scheduler is the plugin contract. Implementations own their buffers
// and must preserve the ordering guarantee of the raw path: a data
// block referenced by an index is on the medium before the index is.
type Scheduler interface {
	// OpenFile prepares scheduling state for a dentry being opened.
	OpenFile(d *index.Dentry, write bool) error

	// Read and Write move file bytes through the scheduler's cache.
	Read(d *index.Dentry, buf []byte, offset uint64) (int, error)
	Write(d *index.Dentry, buf []byte, offset uint64) (int, error)

	// Truncate adjusts both buffered and on-medium state.
	Truncate(d *index.Dentry, length uint64) error

	// Flush pushes buffered data for one dentry, or for every dentry
	// when d is nil, out to the medium.
	Flush(d *index.Dentry) error

	// Drop discards buffered state for a dentry that was unlinked.
	Drop(d *index.Dentry) error

	// Close tears down scheduling state for one open handle. With
	// flush set, buffered data is written out first.
	Close(d *index.Dentry, flush bool) error

	// Destroy releases the scheduler.
	Destroy() error
}
