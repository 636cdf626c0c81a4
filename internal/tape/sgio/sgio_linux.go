//go:build linux

// Package sgio drives a real tape drive through the Linux SCSI generic
// pass-through (SG_IO). It implements the tape.Device contract by
// building CDBs with the internal/scsi helpers, issuing them with the
// per-opcode timeouts of the drive family, and translating returned
// sense data into device codes exactly once.
package sgio

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/LinearTapeFileSystem/ltfs-go/internal/scsi"
	"github.com/LinearTapeFileSystem/ltfs-go/internal/tape"
)

const (
	sgIO = 0x2285

	sgDxferNone    = -1
	sgDxferToDev   = -2
	sgDxferFromDev = -3
	sgInterfaceID  = 'S'
)

// sgIoHdr mirrors struct sg_io_hdr from <scsi/sg.h> on 64-bit Linux.
type sgIoHdr struct {
	interfaceID    int32
	dxferDirection int32
	cmdLen         uint8
	mxSbLen        uint8
	iovecCount     uint16
	dxferLen       uint32
	dxferp         uintptr
	cmdp           uintptr
	sbp            uintptr
	timeout        uint32
	flags          uint32
	packID         int32
	_              uint32
	usrPtr         uintptr
	status         uint8
	maskedStatus   uint8
	msgStatus      uint8
	sbLenWr        uint8
	hostStatus     uint16
	driverStatus   uint16
	resid          int32
	duration       uint32
	info           uint32
}

// SCSI status and Linux host/driver status values consulted after each
// command.
const (
	statusGood                = 0x00
	statusCheckCondition      = 0x02
	statusBusy                = 0x08
	statusReservationConflict = 0x18

	hostOK        = 0x00
	hostNoConnect = 0x01
	hostBusBusy   = 0x02
	hostTimeOut   = 0x03
	hostBadTarget = 0x04
	hostAbort     = 0x05
	hostReset     = 0x08
	hostSoftError = 0x0b
	hostImmRetry  = 0x0c
	hostRequeue   = 0x0d

	driverBusy    = 0x01
	driverTimeout = 0x06
	driverSense   = 0x08
)

// Device is one opened SCSI generic tape device.
type Device struct {
	mu      sync.Mutex
	fd      int
	devname string
	serial  string
	product string
	family  scsi.DriveFamily
	tmo     *scsi.Timeouts
	useSILI bool
}

// Open opens an sg device node and identifies the drive.
func Open(devname string) (*Device, error) {
	d := &Device{fd: -1, useSILI: true}
	if err := d.Open(devname); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Device) Open(devname string) error {
	fd, err := unix.Open(devname, unix.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return fmt.Errorf("opening %s: %v", devname, err)
	}
	d.fd = fd
	d.devname = devname

	std, err := d.Inquiry(0)
	if err != nil {
		unix.Close(fd)
		d.fd = -1
		return err
	}
	d.product = strings.TrimSpace(string(std[16:32]))
	d.family = familyOf(d.product)
	d.tmo = scsi.NewTimeouts(d.family)

	// Unit serial number VPD page.
	if page, err := d.Inquiry(0x80); err == nil && len(page) > 4 {
		n := int(page[3])
		if n > len(page)-4 {
			n = len(page) - 4
		}
		d.serial = strings.TrimSpace(string(page[4 : 4+n]))
	}
	return nil
}

func familyOf(product string) scsi.DriveFamily {
	switch {
	case strings.Contains(product, "ULT3580-TD5"), strings.Contains(product, "ULTRIUM 5"):
		return scsi.FamilyLTO5
	case strings.Contains(product, "ULT3580-HH5"):
		return scsi.FamilyLTO5HH
	case strings.Contains(product, "ULT3580-TD6"):
		return scsi.FamilyLTO6
	case strings.Contains(product, "ULT3580-HH6"):
		return scsi.FamilyLTO6HH
	case strings.Contains(product, "ULT3580-TD7"):
		return scsi.FamilyLTO7
	case strings.Contains(product, "ULT3580-HH7"):
		return scsi.FamilyLTO7HH
	case strings.Contains(product, "ULT3580-TD8"):
		return scsi.FamilyLTO8
	case strings.Contains(product, "ULT3580-HH8"):
		return scsi.FamilyLTO8HH
	case strings.Contains(product, "ULT3580-TD9"):
		return scsi.FamilyLTO9
	case strings.Contains(product, "ULT3580-HH9"):
		return scsi.FamilyLTO9HH
	case strings.Contains(product, "3592E07"):
		return scsi.FamilyJAG4
	case strings.Contains(product, "3592E08"):
		return scsi.FamilyJAG5
	case strings.Contains(product, "359255F"), strings.Contains(product, "3592E55"):
		return scsi.FamilyJAG6
	case strings.Contains(product, "359260F"), strings.Contains(product, "3592E60"):
		return scsi.FamilyJAG7
	}
	return scsi.FamilyUnknown
}

// Reopen closes the node and re-enumerates /dev/sg* looking for the same
// serial number, reattaching wherever the device came back.
func (d *Device) Reopen() error {
	if d.fd >= 0 {
		unix.Close(d.fd)
		d.fd = -1
	}
	matches, err := filepath.Glob("/dev/sg*")
	if err != nil {
		return err
	}
	for _, node := range matches {
		probe := &Device{fd: -1, useSILI: d.useSILI}
		if err := probe.Open(node); err != nil {
			continue
		}
		if probe.serial == d.serial && d.serial != "" {
			d.fd = probe.fd
			d.devname = node
			return nil
		}
		probe.Close()
	}
	return scsi.ConnectionLost
}

func (d *Device) Close() error {
	if d.fd < 0 {
		return nil
	}
	err := unix.Close(d.fd)
	d.fd = -1
	return err
}

// issue sends one CDB and translates the completion into a device code.
// It returns the residual transfer length and decoded sense.
func (d *Device) issue(cdb []byte, data []byte, dir scsi.Direction, timeout time.Duration) (resid int, sense scsi.Sense, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd < 0 {
		return 0, scsi.Sense{}, scsi.ConnectionLost
	}

	var sb [scsi.MaxSenseLen]byte
	hdr := sgIoHdr{
		interfaceID: sgInterfaceID,
		cmdLen:      uint8(len(cdb)),
		mxSbLen:     uint8(len(sb)),
		timeout:     uint32(timeout / time.Millisecond),
		cmdp:        uintptr(unsafe.Pointer(&cdb[0])),
		sbp:         uintptr(unsafe.Pointer(&sb[0])),
	}
	switch dir {
	case scsi.DirNone:
		hdr.dxferDirection = sgDxferNone
	case scsi.DirFromDevice:
		hdr.dxferDirection = sgDxferFromDev
	case scsi.DirToDevice:
		hdr.dxferDirection = sgDxferToDev
	}
	if len(data) > 0 {
		hdr.dxferLen = uint32(len(data))
		hdr.dxferp = uintptr(unsafe.Pointer(&data[0]))
	}

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), sgIO, uintptr(unsafe.Pointer(&hdr)))
	if errno != 0 {
		if errno == unix.ENODEV || errno == unix.ENXIO {
			return 0, scsi.Sense{}, scsi.ConnectionLost
		}
		return 0, scsi.Sense{}, fmt.Errorf("SG_IO on %s: %v", d.devname, errno)
	}

	resid = int(hdr.resid)
	sense = scsi.ParseSense(sb[:])

	// Host and driver status first: they describe transport failures
	// the target never saw.
	switch hdr.hostStatus {
	case hostOK:
	case hostNoConnect, hostBadTarget:
		return resid, sense, scsi.ConnectionLost
	case hostBusBusy:
		return resid, sense, scsi.DriverBusy
	case hostTimeOut, hostAbort, hostReset:
		return resid, sense, scsi.TimeOut
	case hostSoftError:
		return resid, sense, scsi.HostSoftError
	case hostImmRetry:
		return resid, sense, scsi.HostImmRetry
	case hostRequeue:
		return resid, sense, scsi.HostRequeue
	default:
		return resid, sense, scsi.Unknown
	}
	switch hdr.driverStatus &^ driverSense {
	case 0:
	case driverBusy:
		return resid, sense, scsi.DriverBusy
	case driverTimeout:
		return resid, sense, scsi.TimeOut
	}

	switch hdr.status {
	case statusGood:
		return resid, sense, nil
	case statusBusy:
		return resid, sense, scsi.DeviceBusy
	case statusReservationConflict:
		return resid, sense, scsi.ReservationConflict
	case statusCheckCondition:
		code := scsi.Decode(sense)
		if code == scsi.Good || code == scsi.NoSense {
			return resid, sense, nil
		}
		return resid, sense, code
	default:
		return resid, sense, scsi.Unknown
	}
}

func (d *Device) Inquiry(page byte) ([]byte, error) {
	cdb := make([]byte, scsi.CDB6Len)
	data := make([]byte, 255)
	cdb[0] = scsi.OpInquiry
	if page != 0 {
		cdb[1] = 0x01
		cdb[2] = page
	}
	cdb[4] = byte(len(data))
	_, _, err := d.issue(cdb, data, scsi.DirFromDevice, d.tmoGet(scsi.OpInquiry))
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (d *Device) tmoGet(op byte) time.Duration {
	if d.tmo == nil {
		return 60 * time.Second
	}
	return d.tmo.Get(op)
}

func (d *Device) TestUnitReady() error {
	cdb := make([]byte, scsi.CDB6Len)
	_, _, err := d.issue(cdb, nil, scsi.DirNone, d.tmoGet(scsi.OpTestUnitReady))
	return err
}

func (d *Device) ReadBlock(buf []byte, sili bool) (int, error) {
	cdb := make([]byte, scsi.CDB6Len)
	cdb[0] = scsi.OpRead
	if sili && d.useSILI {
		cdb[1] = 0x02
	}
	scsi.PutUint24(cdb[2:], uint32(len(buf)))
	resid, sense, err := d.issue(cdb, buf, scsi.DirFromDevice, d.tmoGet(scsi.OpRead))
	if err == nil || err == scsi.NoSense {
		if sense.ILI {
			diff := int(sense.Information)
			if diff != resid && len(buf) != 0 {
				return 0, scsi.LengthMismatch
			}
			if diff < 0 {
				return 0, scsi.Overrun
			}
			return len(buf) - diff, nil
		}
		if sense.FM {
			return 0, scsi.FilemarkDetected
		}
	}
	if err != nil {
		return 0, err
	}
	if sili {
		return len(buf) - resid, nil
	}
	return len(buf), nil
}

func (d *Device) WriteBlock(buf []byte) (ew, pew bool, err error) {
	cdb := make([]byte, scsi.CDB6Len)
	cdb[0] = scsi.OpWrite
	cdb[1] = 0x00 // variable block mode: one block of the transfer length
	scsi.PutUint24(cdb[2:], uint32(len(buf)))
	_, sense, werr := d.issue(cdb, buf, scsi.DirToDevice, d.tmoGet(scsi.OpWrite))
	if werr != nil {
		if code, ok := werr.(scsi.Code); ok {
			switch code {
			case scsi.EarlyWarning:
				return true, true, nil
			case scsi.ProgEarlyWarning:
				return false, true, nil
			}
		}
		return false, false, werr
	}
	if sense.EOM {
		return true, true, nil
	}
	return false, false, nil
}

func (d *Device) WriteFilemarks(count uint64, immed bool) (ew, pew bool, err error) {
	cdb := make([]byte, scsi.CDB6Len)
	cdb[0] = scsi.OpWriteFilemarks
	if immed {
		cdb[1] = 0x01
	}
	scsi.PutUint24(cdb[2:], uint32(count))
	_, sense, werr := d.issue(cdb, nil, scsi.DirNone, d.tmoGet(scsi.OpWriteFilemarks))
	if werr != nil {
		if code, ok := werr.(scsi.Code); ok && code == scsi.EarlyWarning {
			return true, true, nil
		}
		return false, false, werr
	}
	return sense.EOM, sense.EOM, nil
}

func (d *Device) Rewind() error {
	cdb := make([]byte, scsi.CDB6Len)
	cdb[0] = scsi.OpRewind
	_, _, err := d.issue(cdb, nil, scsi.DirNone, d.tmoGet(scsi.OpRewind))
	return err
}

func (d *Device) Locate(pos tape.Position) (tape.Position, error) {
	cdb := make([]byte, scsi.CDB16Len)
	cdb[0] = scsi.OpLocate16
	cdb[1] = 0x02 // change partition
	cdb[3] = pos.Partition
	scsi.PutUint64(cdb[4:], pos.Block)
	_, _, err := d.issue(cdb, nil, scsi.DirNone, d.tmoGet(scsi.OpLocate16))
	if err != nil {
		return tape.Position{}, err
	}
	return d.ReadPosition()
}

func (d *Device) Space(count int64, mode tape.SpaceMode) (tape.Position, error) {
	cdb := make([]byte, scsi.CDB16Len)
	cdb[0] = scsi.OpSpace16
	var n int64
	switch mode {
	case tape.SpaceEOD:
		cdb[1] = 0x03
	case tape.SpaceFMForward:
		cdb[1] = 0x01
		n = count
	case tape.SpaceFMBack:
		cdb[1] = 0x01
		n = -count
	case tape.SpaceBlockForward:
		cdb[1] = 0x00
		n = count
	case tape.SpaceBlockBack:
		cdb[1] = 0x00
		n = -count
	}
	scsi.PutUint64(cdb[4:], uint64(n))
	_, _, err := d.issue(cdb, nil, scsi.DirNone, d.tmoGet(scsi.OpSpace16))
	if err != nil {
		return tape.Position{}, err
	}
	return d.ReadPosition()
}

func (d *Device) Erase(long bool) error {
	cdb := make([]byte, scsi.CDB6Len)
	cdb[0] = scsi.OpErase
	if long {
		cdb[1] = 0x01
	}
	_, _, err := d.issue(cdb, nil, scsi.DirNone, d.tmoGet(scsi.OpErase))
	return err
}

func (d *Device) Load() error   { return d.loadUnload(true) }
func (d *Device) Unload() error { return d.loadUnload(false) }

func (d *Device) loadUnload(load bool) error {
	cdb := make([]byte, scsi.CDB6Len)
	cdb[0] = scsi.OpLoadUnload
	if load {
		cdb[4] = 0x01
	}
	_, _, err := d.issue(cdb, nil, scsi.DirNone, d.tmoGet(scsi.OpLoadUnload))
	return err
}

func (d *Device) ReadPosition() (tape.Position, error) {
	cdb := make([]byte, scsi.CDB10Len)
	data := make([]byte, 32)
	cdb[0] = scsi.OpReadPosition
	cdb[1] = 0x06 // long form
	_, _, err := d.issue(cdb, data, scsi.DirFromDevice, d.tmoGet(scsi.OpReadPosition))
	if err != nil {
		return tape.Position{}, err
	}
	var pos tape.Position
	pos.Partition = uint8(scsi.Uint32(data[4:8]))
	pos.Block = scsi.Uint64(data[8:16])
	pos.Filemarks = scsi.Uint64(data[16:24])
	pos.EarlyWarning = data[0]&0x40 != 0
	pos.ProgEarlyWarning = data[0]&0x01 != 0
	return pos, nil
}

func (d *Device) SetCapacity(proportion uint16) error {
	cdb := make([]byte, scsi.CDB6Len)
	cdb[0] = scsi.OpSetCapacity
	scsi.PutUint16(cdb[3:], proportion)
	_, _, err := d.issue(cdb, nil, scsi.DirNone, d.tmoGet(scsi.OpSetCapacity))
	return err
}

func (d *Device) Format(t tape.FormatType) error {
	cdb := make([]byte, scsi.CDB6Len)
	cdb[0] = scsi.OpFormatMedium
	if t == tape.FormatTwoPartition {
		cdb[2] = 0x01
	}
	_, _, err := d.issue(cdb, nil, scsi.DirNone, d.tmoGet(scsi.OpFormatMedium))
	return err
}

func (d *Device) RemainingCapacity() (tape.Capacity, error) {
	// Tape capacity log page 0x31.
	data, err := d.LogSense(0x31, 0)
	if err != nil {
		return tape.Capacity{}, err
	}
	var c tape.Capacity
	rest := data[4:]
	for len(rest) >= 4 {
		param := scsi.Uint16(rest[0:2])
		plen := int(rest[3])
		if len(rest) < 4+plen || plen < 4 {
			break
		}
		val := uint64(scsi.Uint32(rest[4 : 4+4]))
		switch param {
		case 0x0001:
			c.Remaining[0] = val
		case 0x0002:
			c.Remaining[1] = val
		case 0x0003:
			c.Total[0] = val
		case 0x0004:
			c.Total[1] = val
		}
		rest = rest[4+plen:]
	}
	return c, nil
}

func (d *Device) LogSense(page, subpage byte) ([]byte, error) {
	cdb := make([]byte, scsi.CDB10Len)
	data := make([]byte, 1024)
	cdb[0] = scsi.OpLogSense
	cdb[2] = 0x40 | page
	cdb[3] = subpage
	scsi.PutUint16(cdb[7:], uint16(len(data)))
	_, _, err := d.issue(cdb, data, scsi.DirFromDevice, d.tmoGet(scsi.OpLogSense))
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (d *Device) ModeSense(page, pc, subpage byte) ([]byte, error) {
	cdb := make([]byte, scsi.CDB10Len)
	data := make([]byte, 1024)
	cdb[0] = scsi.OpModeSense10
	cdb[2] = pc<<6 | page
	cdb[3] = subpage
	scsi.PutUint16(cdb[7:], uint16(len(data)))
	_, _, err := d.issue(cdb, data, scsi.DirFromDevice, d.tmoGet(scsi.OpModeSense10))
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (d *Device) ModeSelect(data []byte) error {
	cdb := make([]byte, scsi.CDB10Len)
	cdb[0] = scsi.OpModeSelect10
	cdb[1] = 0x10 // PF
	scsi.PutUint16(cdb[7:], uint16(len(data)))
	_, _, err := d.issue(cdb, data, scsi.DirToDevice, d.tmoGet(scsi.OpModeSelect10))
	return err
}

func (d *Device) prOut(action byte, key, serviceKey [scsi.PRKeyLen]byte) error {
	cdb := make([]byte, scsi.CDB10Len)
	data := make([]byte, 24)
	cdb[0] = scsi.OpPersistentReserveOut
	cdb[1] = action
	cdb[2] = scsi.PRTypeExclusiveAccess
	scsi.PutUint16(cdb[7:], uint16(len(data)))
	copy(data[0:8], key[:])
	copy(data[8:16], serviceKey[:])
	_, _, err := d.issue(cdb, data, scsi.DirToDevice, d.tmoGet(scsi.OpPersistentReserveOut))
	return err
}

func (d *Device) RegisterKey(key [scsi.PRKeyLen]byte) error {
	var zero [scsi.PRKeyLen]byte
	return d.prOut(scsi.PROutRegisterIgnoreExisting, zero, key)
}

func (d *Device) ReserveUnit(key [scsi.PRKeyLen]byte) error {
	var zero [scsi.PRKeyLen]byte
	return d.prOut(scsi.PROutReserve, key, zero)
}

func (d *Device) ReleaseUnit(key [scsi.PRKeyLen]byte) error {
	var zero [scsi.PRKeyLen]byte
	return d.prOut(scsi.PROutRelease, key, zero)
}

func (d *Device) PreemptReservation(key [scsi.PRKeyLen]byte, abort bool) error {
	action := byte(scsi.PROutPreempt)
	if abort {
		action = scsi.PROutPreemptAbort
	}
	return d.prOut(action, key, key)
}

func (d *Device) ReadFullStatus() ([]scsi.FullStatusDescriptor, error) {
	cdb := make([]byte, scsi.CDB10Len)
	data := make([]byte, 1024)
	cdb[0] = scsi.OpPersistentReserveIn
	cdb[1] = scsi.PRInReadFullStatus
	scsi.PutUint16(cdb[7:], uint16(len(data)))
	_, _, err := d.issue(cdb, data, scsi.DirFromDevice, d.tmoGet(scsi.OpPersistentReserveIn))
	if err != nil {
		return nil, err
	}
	return scsi.ParseFullStatus(data), nil
}

func (d *Device) PreventMediumRemoval(prevent bool) error {
	cdb := make([]byte, scsi.CDB6Len)
	cdb[0] = scsi.OpPreventAllowRemoval
	if prevent {
		cdb[4] = 0x01
	}
	_, _, err := d.issue(cdb, nil, scsi.DirNone, d.tmoGet(scsi.OpPreventAllowRemoval))
	return err
}

func (d *Device) ReadAttribute(partition uint8, id uint16) ([]byte, error) {
	cdb := make([]byte, scsi.CDB16Len)
	data := make([]byte, 1024)
	cdb[0] = scsi.OpReadAttribute
	cdb[1] = 0x00 // attribute values
	cdb[7] = partition
	scsi.PutUint16(cdb[8:], id)
	scsi.PutUint32(cdb[10:], uint32(len(data)))
	_, _, err := d.issue(cdb, data, scsi.DirFromDevice, d.tmoGet(scsi.OpReadAttribute))
	if err != nil {
		return nil, err
	}
	// Parameter data: 4-byte available length, then the attribute
	// header (id, format, length) and value.
	if scsi.Uint16(data[4:6]) != id {
		return nil, scsi.InvalidField
	}
	n := int(scsi.Uint16(data[7:9]))
	if n > len(data)-9 {
		n = len(data) - 9
	}
	return append([]byte(nil), data[9:9+n]...), nil
}

func (d *Device) WriteAttribute(partition uint8, id uint16, value []byte) error {
	attr := tape.EncodeAttribute(id, 0x01, value)
	data := make([]byte, 4+len(attr))
	scsi.PutUint32(data, uint32(len(attr)))
	copy(data[4:], attr)

	cdb := make([]byte, scsi.CDB16Len)
	cdb[0] = scsi.OpWriteAttribute
	cdb[1] = 0x01 // write-through to MAM
	cdb[7] = partition
	scsi.PutUint32(cdb[10:], uint32(len(data)))
	_, _, err := d.issue(cdb, data, scsi.DirToDevice, d.tmoGet(scsi.OpWriteAttribute))
	return err
}

func (d *Device) AllowOverwrite(pos tape.Position) error {
	cdb := make([]byte, scsi.CDB16Len)
	cdb[0] = scsi.OpAllowOverwrite
	cdb[2] = 0x01 // current position
	cdb[3] = pos.Partition
	scsi.PutUint64(cdb[4:], pos.Block)
	_, _, err := d.issue(cdb, nil, scsi.DirNone, d.tmoGet(scsi.OpAllowOverwrite))
	return err
}

func (d *Device) SetCompression(enable bool) error {
	// Device configuration mode page 0x10, select-data compression.
	page, err := d.ModeSense(0x10, 0, 0)
	if err != nil {
		return err
	}
	if len(page) < 8+16 {
		return scsi.InvalidField
	}
	body := page[8:]
	if enable {
		body[14] = 0x01
	} else {
		body[14] = 0x00
	}
	scsi.PutUint16(page[0:2], 0)
	return d.ModeSelect(page[:8+16])
}

func (d *Device) GetCartridgeHealth() (tape.CartridgeHealth, error) {
	h := tape.CartridgeHealth{
		Mounts: -1, WrittenDatasets: -1, ReadMBytes: -1, WrittenMBytes: -1,
		PermReadErrors: -1, PermWriteErrors: -1,
		CorrectedReadErrs: -1, CorrectedWriteErrs: -1,
	}
	// Volume statistics log page.
	data, err := d.LogSense(0x17, 0)
	if err != nil {
		return h, err
	}
	rest := data[4:]
	for len(rest) >= 4 {
		param := scsi.Uint16(rest[0:2])
		plen := int(rest[3])
		if plen == 0 || len(rest) < 4+plen {
			break
		}
		var val int64
		for _, b := range rest[4 : 4+plen] {
			val = val<<8 | int64(b)
		}
		switch param {
		case 0x0001:
			h.Mounts = val
		case 0x0002:
			h.WrittenDatasets = val
		case 0x0003:
			h.WrittenMBytes = val
		case 0x0007:
			h.ReadMBytes = val
		case 0x0260:
			h.PermWriteErrors = val
		case 0x0261:
			h.PermReadErrors = val
		}
		rest = rest[4+plen:]
	}
	return h, nil
}

func (d *Device) GetTapeAlert() (uint64, error) {
	data, err := d.LogSense(0x2E, 0)
	if err != nil {
		return 0, err
	}
	var flags uint64
	rest := data[4:]
	for len(rest) >= 5 {
		param := scsi.Uint16(rest[0:2])
		plen := int(rest[3])
		if plen == 0 || len(rest) < 4+plen {
			break
		}
		if param >= 1 && param <= 64 && rest[4] != 0 {
			flags |= 1 << (param - 1)
		}
		rest = rest[4+plen:]
	}
	return flags, nil
}

func (d *Device) ClearTapeAlert(tags uint64) error {
	// Reading the page clears it on these drives.
	_, err := d.GetTapeAlert()
	return err
}

func (d *Device) GetEODStatus(partition uint8) (tape.EODStatus, error) {
	// EOD status is surfaced in the vendor mode page 0x24.
	page, err := d.ModeSense(0x24, 0, 0)
	if err != nil {
		return tape.EODUnknown, err
	}
	if len(page) < 8+8 {
		return tape.EODUnknown, nil
	}
	flags := page[8+5]
	if flags&(1<<partition) != 0 {
		return tape.EODMissing, nil
	}
	return tape.EODOK, nil
}

func (d *Device) GetParameters() (tape.Parameters, error) {
	var p tape.Parameters
	limits := make([]byte, 6)
	cdb := make([]byte, scsi.CDB6Len)
	cdb[0] = scsi.OpReadBlockLimits
	if _, _, err := d.issue(cdb, limits, scsi.DirFromDevice, d.tmoGet(scsi.OpReadBlockLimits)); err != nil {
		return p, err
	}
	p.MaxBlocksize = scsi.Uint24(limits[1:4])

	page, err := d.ModeSense(0x00, 0, 0)
	if err != nil {
		return p, err
	}
	if len(page) >= 4 {
		p.WriteProtect = page[3]&0x80 != 0
	}
	if len(page) >= 3 {
		p.DensityCode = page[2]
	}
	return p, nil
}

func (d *Device) IsMountable(barcode string, density byte, strict bool) (tape.Mountability, error) {
	if len(barcode) != 8 {
		if strict {
			return tape.MediumUnMountable, nil
		}
		return tape.MediumProbablyWritable, nil
	}
	suffix := barcode[6:]
	gen := d.family.LTOGeneration()
	if gen == 0 {
		return tape.MediumProbablyWritable, nil
	}
	want := fmt.Sprintf("L%d", gen)
	prior := fmt.Sprintf("L%d", gen-1)
	switch suffix {
	case want:
		return tape.MediumPerfectMatch, nil
	case prior:
		return tape.MediumReadOnly, nil
	}
	if strict {
		return tape.MediumUnMountable, nil
	}
	return tape.MediumProbablyWritable, nil
}

func (d *Device) SetKey(key, alias []byte) error {
	// SECURITY PROTOCOL OUT, tape data encryption, set data encryption
	// page.
	page := make([]byte, 20+len(key))
	scsi.PutUint16(page[0:], 0x0010)
	scsi.PutUint16(page[2:], uint16(16+len(key)))
	page[4] = 0x40           // scope: all I_T nexus
	page[5] = 0x02<<4 | 0x02 // encrypt + decrypt mode
	page[6] = 0x01           // algorithm index
	scsi.PutUint16(page[18:], uint16(len(key)))
	copy(page[20:], key)

	cdb := make([]byte, scsi.CDB12Len)
	cdb[0] = scsi.OpSecurityProtocolOut
	cdb[1] = 0x20 // tape data encryption protocol
	scsi.PutUint16(cdb[2:], 0x0010)
	scsi.PutUint32(cdb[6:], uint32(len(page)))
	_, _, err := d.issue(cdb, page, scsi.DirToDevice, d.tmoGet(scsi.OpSecurityProtocolOut))
	return err
}

func (d *Device) GetKeyAlias() ([]byte, error) {
	cdb := make([]byte, scsi.CDB12Len)
	data := make([]byte, 1024)
	cdb[0] = scsi.OpSecurityProtocolIn
	cdb[1] = 0x20
	scsi.PutUint16(cdb[2:], 0x0021) // next block encryption status
	scsi.PutUint32(cdb[6:], uint32(len(data)))
	_, _, err := d.issue(cdb, data, scsi.DirFromDevice, d.tmoGet(scsi.OpSecurityProtocolIn))
	if err != nil {
		return nil, err
	}
	// KAD descriptors start at offset 16.
	if len(data) < 20 {
		return nil, nil
	}
	n := int(scsi.Uint16(data[18:20]))
	if n > len(data)-20 {
		n = len(data) - 20
	}
	return append([]byte(nil), data[20:20+n]...), nil
}

// DumpDrive reads the drive dump buffer (buffer id 0x01) 512 KiB at a
// time: mode 0x03 first for the capacity, then mode 0x02 for the data.
func (d *Device) DumpDrive(w io.Writer) error {
	const chunk = 512 * 1024
	hdr := make([]byte, 4)
	cdb := make([]byte, scsi.CDB10Len)
	cdb[0] = scsi.OpReadBuffer
	cdb[1] = 0x03 // descriptor mode
	cdb[2] = 0x01 // buffer id
	scsi.PutUint24(cdb[6:], uint32(len(hdr)))
	if _, _, err := d.issue(cdb, hdr, scsi.DirFromDevice, d.tmoGet(scsi.OpReadBuffer)); err != nil {
		return err
	}
	total := int(scsi.Uint24(hdr[1:4]))

	buf := make([]byte, chunk)
	for off := 0; off < total; off += chunk {
		n := total - off
		if n > chunk {
			n = chunk
		}
		cdb = make([]byte, scsi.CDB10Len)
		cdb[0] = scsi.OpReadBuffer
		cdb[1] = 0x02 // data mode
		cdb[2] = 0x01
		scsi.PutUint24(cdb[3:], uint32(off))
		scsi.PutUint24(cdb[6:], uint32(n))
		if _, _, err := d.issue(cdb, buf[:n], scsi.DirFromDevice, d.tmoGet(scsi.OpReadBuffer)); err != nil {
			return err
		}
		if _, err := w.Write(buf[:n]); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) SerialNumber() string     { return d.serial }
func (d *Device) Family() scsi.DriveFamily { return d.family }

var _ tape.Device = (*Device)(nil)
