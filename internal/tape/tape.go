// Package tape defines the abstract tape operation contract consumed by
// the filesystem layers, and the Drive wrapper that applies the shared
// policy every backend needs: the device lock around each command, retry
// rules, fencing, logical block protection and automatic dump capture.
//
// Concrete backends implement Device: internal/tape/sgio drives real
// hardware through the Linux SG_IO pass-through; internal/tape/vtape
// emulates a two-partition cartridge for tests and tools.
package tape

import (
	"io"

	"github.com/LinearTapeFileSystem/ltfs-go/internal/scsi"
)

// Position is a logical position on the medium as reported by READ
// POSITION. Filemarks is the backend's filemark count: the drive's
// logical file number for sgio, the filemarks read since the last
// locate, rewind or load for vtape. The warning flags mirror the
// drive's capacity thresholds.
type Position struct {
	Partition uint8
	Block     uint64
	Filemarks uint64

	EarlyWarning     bool
	ProgEarlyWarning bool
}

// SpaceMode selects what a Space call skips over.
type SpaceMode int

const (
	SpaceEOD SpaceMode = iota
	SpaceFMForward
	SpaceFMBack
	SpaceBlockForward
	SpaceBlockBack
)

// FormatType selects the partitioning written by Format.
type FormatType int

const (
	// FormatSinglePartition lays out one data partition.
	FormatSinglePartition FormatType = iota

	// FormatTwoPartition lays out the index partition and the data
	// partition an LTFS volume needs.
	FormatTwoPartition
)

// Capacity is the remaining and total capacity per partition, in
// mebibytes, from the tape capacity log page.
type Capacity struct {
	Remaining [2]uint64
	Total     [2]uint64
}

// CartridgeHealth aggregates the cartridge health counters surfaced by
// virtual extended attributes. Unknown counters are -1.
type CartridgeHealth struct {
	Mounts             int64
	WrittenDatasets    int64
	ReadMBytes         int64
	WrittenMBytes      int64
	PermReadErrors     int64
	PermWriteErrors    int64
	CorrectedReadErrs  int64
	CorrectedWriteErrs int64
}

// EODStatus is the drive's report on a partition's end-of-data marker.
type EODStatus int

const (
	EODUnknown EODStatus = iota
	EODOK
	EODMissing
)

// Parameters describes the loaded cartridge and drive settings the
// filesystem needs before mount.
type Parameters struct {
	MaxBlocksize        uint32
	WriteProtect        bool
	LogicalWriteProtect bool
	WORM                bool
	DensityCode         byte
	Encrypted           bool
}

// Mountability is the verdict of IsMountable.
type Mountability int

const (
	MediumUnknown Mountability = iota
	MediumPerfectMatch
	MediumWritable
	MediumProbablyWritable
	MediumReadOnly
	MediumUnMountable
)

// Device is the tape op set every backend implements. All calls are
// blocking; the Drive wrapper serializes them under the device lock.
// Errors carrying device state are scsi.Code values.
type Device interface {
	Open(devname string) error

	// Reopen re-enumerates devices with the same serial number and
	// reattaches after a lost connection.
	Reopen() error

	Close() error

	Inquiry(page byte) ([]byte, error)
	TestUnitReady() error

	// ReadBlock reads one block at the current position into buf. With
	// sili set, a block shorter than len(buf) succeeds and returns the
	// actual length (underrun); a longer block fails with Overrun. A
	// filemark read returns scsi.FilemarkDetected.
	ReadBlock(buf []byte, sili bool) (int, error)

	// WriteBlock appends one block at the current position. The warning
	// results report the capacity thresholds, not failure.
	WriteBlock(buf []byte) (ew, pew bool, err error)

	WriteFilemarks(count uint64, immed bool) (ew, pew bool, err error)

	Rewind() error
	Locate(pos Position) (Position, error)
	Space(count int64, mode SpaceMode) (Position, error)
	Erase(long bool) error
	Load() error
	Unload() error
	ReadPosition() (Position, error)
	SetCapacity(proportion uint16) error
	Format(t FormatType) error
	RemainingCapacity() (Capacity, error)

	LogSense(page, subpage byte) ([]byte, error)
	ModeSense(page, pc, subpage byte) ([]byte, error)
	ModeSelect(data []byte) error

	RegisterKey(key [scsi.PRKeyLen]byte) error
	ReserveUnit(key [scsi.PRKeyLen]byte) error
	ReleaseUnit(key [scsi.PRKeyLen]byte) error
	PreemptReservation(key [scsi.PRKeyLen]byte, abort bool) error
	ReadFullStatus() ([]scsi.FullStatusDescriptor, error)

	PreventMediumRemoval(prevent bool) error

	ReadAttribute(partition uint8, id uint16) ([]byte, error)
	WriteAttribute(partition uint8, id uint16, data []byte) error

	AllowOverwrite(pos Position) error
	SetCompression(enable bool) error

	GetCartridgeHealth() (CartridgeHealth, error)
	GetTapeAlert() (uint64, error)
	ClearTapeAlert(tags uint64) error
	GetEODStatus(partition uint8) (EODStatus, error)
	GetParameters() (Parameters, error)

	IsMountable(barcode string, density byte, strict bool) (Mountability, error)

	SetKey(key, alias []byte) error
	GetKeyAlias() ([]byte, error)

	// DumpDrive streams the drive's internal dump buffer. The Drive
	// wrapper compresses and files it.
	DumpDrive(w io.Writer) error

	SerialNumber() string
	Family() scsi.DriveFamily
}
