// Package vtape emulates a two-partition tape drive in memory. It
// implements the tape.Device contract with real stream semantics: blocks
// and filemarks occupy logical positions, writing truncates everything
// beyond the current position, reads past the last record report end of
// data, and the early warning thresholds fire near the configured
// capacity.
//
// The tools and tests mount real volumes against it; the image can be
// saved to any io.WriteSeeker and loaded from any io.ReadSeeker for
// reproducing a medium state.
package vtape

import (
	"fmt"
	"io"
	"sync"

	"github.com/LinearTapeFileSystem/ltfs-go/internal/scsi"
	"github.com/LinearTapeFileSystem/ltfs-go/internal/tape"
)

const (
	recBlock = iota
	recFilemark
)

type record struct {
	kind int
	data []byte
}

type attrKey struct {
	partition uint8
	id        uint16
}

// Device is an in-memory tape drive.
type Device struct {
	mu sync.Mutex

	parts  [2][]record
	pos    tape.Position
	loaded bool

	serial string
	family scsi.DriveFamily

	writeProtect bool
	wormMedium   bool
	barcode      string

	// capacityBlocks is the per-partition record budget; the early
	// warning flags come on once a partition crosses the programmable
	// (earlier) and standard thresholds.
	capacityBlocks uint64

	attrs map[attrKey][]byte

	reservations map[[scsi.PRKeyLen]byte]bool
	holder       *[scsi.PRKeyLen]byte

	keyAlias []byte
	dataKey  []byte

	eodMissing [2]bool

	compression bool
	prevent     bool
}

// Option configures a Device.
type Option func(*Device)

// WithCapacity bounds each partition to n records.
func WithCapacity(n uint64) Option {
	return func(d *Device) { d.capacityBlocks = n }
}

// WithFamily reports the given drive family to the policy layer.
func WithFamily(f scsi.DriveFamily) Option {
	return func(d *Device) { d.family = f }
}

// WithBarcode sets the barcode reported to IsMountable checks.
func WithBarcode(bc string) Option {
	return func(d *Device) { d.barcode = bc }
}

// WithWriteProtect makes the medium physically write protected.
func WithWriteProtect() Option {
	return func(d *Device) { d.writeProtect = true }
}

// WithWORM loads WORM medium.
func WithWORM() Option {
	return func(d *Device) { d.wormMedium = true }
}

// New returns a loaded, empty cartridge in an LTO8-class drive.
func New(serial string, opts ...Option) *Device {
	d := &Device{
		serial:         serial,
		family:         scsi.FamilyLTO8,
		loaded:         true,
		capacityBlocks: 1 << 20,
		attrs:          make(map[attrKey][]byte),
		reservations:   make(map[[scsi.PRKeyLen]byte]bool),
		barcode:        "VT0001L8",
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Device) Open(devname string) error { return nil }
func (d *Device) Reopen() error             { return nil }
func (d *Device) Close() error              { return nil }

func (d *Device) Inquiry(page byte) ([]byte, error) {
	b := make([]byte, 96)
	b[0] = 0x01 // sequential access device
	copy(b[8:], "VTAPE   ")
	copy(b[16:], "VIRTUAL TAPE DR ")
	return b, nil
}

func (d *Device) TestUnitReady() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.loaded {
		return scsi.NoMedium
	}
	return nil
}

func (d *Device) cur() *[]record { return &d.parts[d.pos.Partition] }

func (d *Device) warnings() (ew, pew bool) {
	n := uint64(len(d.parts[d.pos.Partition]))
	return n >= d.capacityBlocks, n >= d.capacityBlocks*95/100
}

// ReadBlock reads the record at the current position.
func (d *Device) ReadBlock(buf []byte, sili bool) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.loaded {
		return 0, scsi.NoMedium
	}
	recs := *d.cur()
	if d.pos.Block >= uint64(len(recs)) {
		return 0, scsi.EODDetected
	}
	rec := recs[d.pos.Block]
	d.pos.Block++
	if rec.kind == recFilemark {
		d.pos.Filemarks++
		return 0, scsi.FilemarkDetected
	}
	if len(rec.data) > len(buf) {
		d.pos.Block--
		return 0, scsi.Overrun
	}
	copy(buf, rec.data)
	return len(rec.data), nil
}

// WriteBlock appends at the current position, discarding any records
// beyond it.
func (d *Device) WriteBlock(buf []byte) (ew, pew bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.loaded {
		return false, false, scsi.NoMedium
	}
	if d.writeProtect {
		return false, false, scsi.WriteProtected
	}
	recs := d.cur()
	if uint64(len(*recs)) >= d.capacityBlocks+64 {
		return true, true, scsi.NoSpace
	}
	*recs = (*recs)[:d.pos.Block]
	*recs = append(*recs, record{kind: recBlock, data: append([]byte(nil), buf...)})
	d.eodMissing[d.pos.Partition] = false
	d.pos.Block++
	ew, pew = d.warnings()
	return ew, pew, nil
}

func (d *Device) WriteFilemarks(count uint64, immed bool) (ew, pew bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.loaded {
		return false, false, scsi.NoMedium
	}
	if d.writeProtect {
		return false, false, scsi.WriteProtected
	}
	recs := d.cur()
	*recs = (*recs)[:d.pos.Block]
	for i := uint64(0); i < count; i++ {
		*recs = append(*recs, record{kind: recFilemark})
		d.pos.Block++
	}
	d.eodMissing[d.pos.Partition] = false
	ew, pew = d.warnings()
	return ew, pew, nil
}

func (d *Device) Rewind() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pos.Block = 0
	d.pos.Filemarks = 0
	return nil
}

func (d *Device) Locate(pos tape.Position) (tape.Position, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if int(pos.Partition) >= len(d.parts) {
		return d.pos, scsi.InvalidField
	}
	d.pos.Partition = pos.Partition
	max := uint64(len(d.parts[pos.Partition]))
	if pos.Block > max {
		d.pos.Block = max
	} else {
		d.pos.Block = pos.Block
	}
	d.pos.Filemarks = 0
	return d.pos, nil
}

func (d *Device) Space(count int64, mode tape.SpaceMode) (tape.Position, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	recs := *d.cur()
	switch mode {
	case tape.SpaceEOD:
		d.pos.Block = uint64(len(recs))
	case tape.SpaceBlockForward:
		for ; count > 0; count-- {
			if d.pos.Block >= uint64(len(recs)) {
				return d.pos, scsi.EODDetected
			}
			if recs[d.pos.Block].kind == recFilemark {
				d.pos.Block++
				return d.pos, scsi.FilemarkDetected
			}
			d.pos.Block++
		}
	case tape.SpaceBlockBack:
		for ; count > 0; count-- {
			if d.pos.Block == 0 {
				return d.pos, scsi.BOPDetected
			}
			if recs[d.pos.Block-1].kind == recFilemark {
				d.pos.Block--
				return d.pos, scsi.FilemarkDetected
			}
			d.pos.Block--
		}
	case tape.SpaceFMForward:
		for ; count > 0; count-- {
			for {
				if d.pos.Block >= uint64(len(recs)) {
					return d.pos, scsi.EODDetected
				}
				d.pos.Block++
				if recs[d.pos.Block-1].kind == recFilemark {
					break
				}
			}
		}
	case tape.SpaceFMBack:
		for ; count > 0; count-- {
			for {
				if d.pos.Block == 0 {
					return d.pos, scsi.BOPDetected
				}
				d.pos.Block--
				if recs[d.pos.Block].kind == recFilemark {
					break
				}
			}
		}
	}
	return d.pos, nil
}

// Erase discards everything from the current position to the end of the
// partition.
func (d *Device) Erase(long bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.writeProtect {
		return scsi.WriteProtected
	}
	recs := d.cur()
	*recs = (*recs)[:d.pos.Block]
	return nil
}

func (d *Device) Load() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loaded = true
	d.pos = tape.Position{}
	return nil
}

func (d *Device) Unload() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loaded = false
	return nil
}

func (d *Device) ReadPosition() (tape.Position, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.loaded {
		return tape.Position{}, scsi.NoMedium
	}
	pos := d.pos
	pos.EarlyWarning, pos.ProgEarlyWarning = d.warnings()
	return pos, nil
}

func (d *Device) SetCapacity(proportion uint16) error { return nil }

func (d *Device) Format(t tape.FormatType) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.writeProtect {
		return scsi.WriteProtected
	}
	d.parts[0] = nil
	d.parts[1] = nil
	d.pos = tape.Position{}
	d.eodMissing = [2]bool{}
	return nil
}

func (d *Device) RemainingCapacity() (tape.Capacity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var c tape.Capacity
	for i := range d.parts {
		used := uint64(len(d.parts[i]))
		c.Total[i] = d.capacityBlocks
		if used < d.capacityBlocks {
			c.Remaining[i] = d.capacityBlocks - used
		}
	}
	return c, nil
}

func (d *Device) LogSense(page, subpage byte) ([]byte, error) {
	return make([]byte, 64), nil
}

func (d *Device) ModeSense(page, pc, subpage byte) ([]byte, error) {
	return make([]byte, 64), nil
}

func (d *Device) ModeSelect(data []byte) error { return nil }

func (d *Device) RegisterKey(key [scsi.PRKeyLen]byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reservations[key] = true
	return nil
}

func (d *Device) ReserveUnit(key [scsi.PRKeyLen]byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.holder != nil && *d.holder != key {
		return scsi.ReservationConflict
	}
	k := key
	d.holder = &k
	return nil
}

func (d *Device) ReleaseUnit(key [scsi.PRKeyLen]byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.holder != nil && *d.holder == key {
		d.holder = nil
	}
	return nil
}

func (d *Device) PreemptReservation(key [scsi.PRKeyLen]byte, abort bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := key
	d.holder = &k
	return nil
}

func (d *Device) ReadFullStatus() ([]scsi.FullStatusDescriptor, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []scsi.FullStatusDescriptor
	for key := range d.reservations {
		out = append(out, scsi.FullStatusDescriptor{
			Key:              key,
			HoldsReservation: d.holder != nil && *d.holder == key,
			Type:             scsi.PRTypeExclusiveAccess,
		})
	}
	return out, nil
}

func (d *Device) PreventMediumRemoval(prevent bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prevent = prevent
	return nil
}

func (d *Device) ReadAttribute(partition uint8, id uint16) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.attrs[attrKey{partition, id}]
	if !ok {
		return nil, scsi.InvalidField
	}
	return append([]byte(nil), v...), nil
}

func (d *Device) WriteAttribute(partition uint8, id uint16, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attrs[attrKey{partition, id}] = append([]byte(nil), data...)
	return nil
}

func (d *Device) AllowOverwrite(pos tape.Position) error { return nil }

func (d *Device) SetCompression(enable bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.compression = enable
	return nil
}

func (d *Device) GetCartridgeHealth() (tape.CartridgeHealth, error) {
	return tape.CartridgeHealth{
		Mounts:             1,
		WrittenDatasets:    int64(len(d.parts[0]) + len(d.parts[1])),
		ReadMBytes:         -1,
		WrittenMBytes:      -1,
		PermReadErrors:     0,
		PermWriteErrors:    0,
		CorrectedReadErrs:  -1,
		CorrectedWriteErrs: -1,
	}, nil
}

func (d *Device) GetTapeAlert() (uint64, error)    { return 0, nil }
func (d *Device) ClearTapeAlert(tags uint64) error { return nil }

func (d *Device) GetEODStatus(partition uint8) (tape.EODStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.eodMissing[partition] {
		return tape.EODMissing, nil
	}
	return tape.EODOK, nil
}

func (d *Device) GetParameters() (tape.Parameters, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return tape.Parameters{
		MaxBlocksize: 1 << 24,
		WriteProtect: d.writeProtect,
		WORM:         d.wormMedium,
		DensityCode:  0x5E,
		Encrypted:    len(d.dataKey) > 0,
	}, nil
}

func (d *Device) IsMountable(barcode string, density byte, strict bool) (tape.Mountability, error) {
	if len(barcode) != 8 {
		if strict {
			return tape.MediumUnMountable, nil
		}
		return tape.MediumProbablyWritable, nil
	}
	return tape.MediumPerfectMatch, nil
}

func (d *Device) SetKey(key, alias []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dataKey = append([]byte(nil), key...)
	d.keyAlias = append([]byte(nil), alias...)
	return nil
}

func (d *Device) GetKeyAlias() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.keyAlias...), nil
}

// DumpDrive writes a synthetic state dump.
func (d *Device) DumpDrive(w io.Writer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := fmt.Fprintf(w, "vtape %s pos=%d/%d p0=%d p1=%d\n",
		d.serial, d.pos.Partition, d.pos.Block, len(d.parts[0]), len(d.parts[1]))
	return err
}

func (d *Device) SerialNumber() string     { return d.serial }
func (d *Device) Family() scsi.DriveFamily { return d.family }

var _ tape.Device = (*Device)(nil)
