// Package index holds the in-memory model of an LTFS index: the dentry
// tree with its extents and extended attributes, the index header
// fields, the partition labels, and the XML codec that round-trips all
// of it to the medium.
//
// The model is pure data: it knows nothing about drives or volumes.
// Parsing builds a complete tree which the volume then swaps in under
// its lock.
package index

import (
	"log"
	"path"
	"time"
)

// Timespec is an on-tape timestamp: seconds since the epoch plus
// nanoseconds. The representable range is year 1970 through 9999;
// values outside it are clamped with a warning rather than rejected.
type Timespec struct {
	Sec  uint64
	Nsec uint32
}

// maxSec is 9999-12-31T23:59:59Z.
const maxSec = 253402300799

// Now returns the current time as a Timespec.
func Now() Timespec {
	return MakeTimespec(time.Now())
}

// MakeTimespec clamps t into the representable range.
func MakeTimespec(t time.Time) Timespec {
	sec := t.Unix()
	nsec := uint32(t.Nanosecond())
	if sec < 0 {
		log.Printf("timestamp %v before 1970, clamping", t)
		return Timespec{Sec: 0, Nsec: 0}
	}
	if sec > maxSec {
		log.Printf("timestamp %v after year 9999, clamping", t)
		return Timespec{Sec: maxSec, Nsec: 999999999}
	}
	return Timespec{Sec: uint64(sec), Nsec: nsec}
}

// Time converts back to a time.Time in UTC.
func (ts Timespec) Time() time.Time {
	return time.Unix(int64(ts.Sec), int64(ts.Nsec)).UTC()
}

// String renders the timestamp the way the index XML and the virtual
// time attributes do.
func (ts Timespec) String() string {
	return ts.Time().Format(timeLayout)
}

// TapePos names a block on the cartridge by partition letter and block
// number. The zero value means "no position" (the back pointer of the
// first index).
type TapePos struct {
	Partition byte
	Block     uint64
}

// IsZero reports whether p names no position.
func (p TapePos) IsZero() bool { return p.Partition == 0 && p.Block == 0 }

// Extent is one contiguous run of file bytes on the medium.
type Extent struct {
	// Partition and StartBlock locate the first block.
	Partition  byte
	StartBlock uint64

	// ByteOffset is where the run starts inside the first block.
	ByteOffset uint64

	// ByteCount is the length of the run in bytes.
	ByteCount uint64

	// FileOffset is where the run lands in the file.
	FileOffset uint64
}

// end returns the first file offset past the extent.
func (e Extent) end() uint64 { return e.FileOffset + e.ByteCount }

// Xattr is one stored extended attribute.
type Xattr struct {
	Key   string
	Value []byte
}

// Criteria is the data placement policy of an index: files at most
// MaxFilesize bytes whose names match one of the patterns are written
// to the index partition.
type Criteria struct {
	MaxFilesize uint64
	Patterns    []string
	AllowUpdate bool
}

// Match reports whether a file name matches the name patterns. A file
// also has to satisfy the size bound at write time; that is the
// caller's check because size changes after create.
func (c Criteria) Match(name string) bool {
	for _, pat := range c.Patterns {
		if ok, err := path.Match(pat, name); err == nil && ok {
			return true
		}
	}
	return false
}
