package tape

import (
	"errors"
	"log"
	"sync"

	"github.com/LinearTapeFileSystem/ltfs-go/internal/crc"
	"github.com/LinearTapeFileSystem/ltfs-go/internal/scsi"
)

// Drive wraps a backend Device with the policy shared by every backend:
// a mutex serializing commands (the device lock), the retry rules, the
// fence, logical block protection and automatic dump capture. The
// filesystem layers only ever talk to a Drive.
type Drive struct {
	mu  sync.Mutex
	dev Device

	diag   *Diagnostics
	key    [scsi.PRKeyLen]byte
	fenced bool

	codec      crc.Codec
	lbpEnabled bool

	// Error injection for tests, armed through the vendor force-error
	// virtual attributes. A threshold of zero disarms.
	forceWritePerm uint64
	forceReadPerm  uint64
	forceErrorType scsi.Code
	writeCounter   uint64
	readCounter    uint64
}

// maxImmediateRetries bounds the no-counter retry loop so a wedged HBA
// cannot spin forever.
const maxImmediateRetries = 10

// NewDrive wraps an opened backend device.
func NewDrive(dev Device, diag *Diagnostics) *Drive {
	if diag == nil {
		diag = &Diagnostics{}
	}
	return &Drive{dev: dev, diag: diag, key: scsi.GenerateKey()}
}

// Device exposes the wrapped backend for capability queries that carry
// no policy (serial number, family).
func (dr *Drive) Device() Device { return dr.dev }

// Fenced reports whether the drive is fenced. Every operation fails
// with scsi.DeviceFenced until Revalidate succeeds.
func (dr *Drive) Fenced() bool {
	dr.mu.Lock()
	defer dr.mu.Unlock()
	return dr.fenced
}

// Revalidate clears the fence if the device answers TEST UNIT READY.
func (dr *Drive) Revalidate() error {
	dr.mu.Lock()
	defer dr.mu.Unlock()
	if err := dr.dev.TestUnitReady(); err != nil {
		return err
	}
	dr.fenced = false
	return nil
}

// do runs one command under the device lock, applying the fence, the
// retry policy, reconnection and dump capture.
func (dr *Drive) do(fn func() error) error {
	dr.mu.Lock()
	defer dr.mu.Unlock()
	return dr.doLocked(fn)
}

func (dr *Drive) doLocked(fn func() error) error {
	if dr.fenced {
		return scsi.DeviceFenced
	}
	retried := false
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		var code scsi.Code
		if !errors.As(err, &code) {
			return err
		}
		switch {
		case code.ImmediateRetry() && attempt < maxImmediateRetries:
			continue
		case code.Retryable() && !retried:
			retried = true
			continue
		case code == scsi.ConnectionLost:
			if rerr := dr.reconnect(); rerr != nil {
				dr.fenced = true
				return rerr
			}
			if retried {
				return err
			}
			retried = true
			continue
		}
		if code.TakeDump() {
			if _, derr := dr.diag.Capture(dr.dev, false); derr != nil {
				log.Printf("dump capture failed: %v", derr)
			}
		}
		switch code {
		case scsi.POR, scsi.RealPowerOnReset, scsi.NeedFailover:
			dr.fenced = true
		}
		return err
	}
}

// reconnect closes and re-enumerates the device, re-registers the
// reservation key and checks whether another initiator took the
// reservation while we were away.
func (dr *Drive) reconnect() error {
	if err := dr.dev.Reopen(); err != nil {
		return err
	}
	if err := dr.dev.RegisterKey(dr.key); err != nil {
		return err
	}
	full, err := dr.dev.ReadFullStatus()
	if err != nil {
		return err
	}
	for _, d := range full {
		if d.HoldsReservation && d.Key != dr.key {
			log.Printf("reservation held by another initiator (key %x)", d.Key)
			return scsi.NeedFailover
		}
	}
	for _, d := range full {
		if d.HoldsReservation {
			return nil
		}
	}
	// Registration survived but the reservation is gone: the drive was
	// power cycled underneath us.
	return scsi.RealPowerOnReset
}

// Reserve registers this host's key and takes the exclusive persistent
// reservation. On conflict the holder hint is logged before the error
// is returned.
func (dr *Drive) Reserve() error {
	return dr.do(func() error {
		if err := dr.dev.RegisterKey(dr.key); err != nil {
			return err
		}
		err := dr.dev.ReserveUnit(dr.key)
		var code scsi.Code
		if errors.As(err, &code) && code == scsi.ReservationConflict {
			if full, ferr := dr.dev.ReadFullStatus(); ferr == nil {
				for _, d := range full {
					if d.HoldsReservation {
						log.Printf("reservation conflict: held by key %x", d.Key)
					}
				}
			}
		}
		return err
	})
}

// Release drops the exclusive reservation.
func (dr *Drive) Release() error {
	return dr.do(func() error { return dr.dev.ReleaseUnit(dr.key) })
}

// Preempt takes over a reservation held by another initiator, aborting
// its outstanding commands.
func (dr *Drive) Preempt() error {
	return dr.do(func() error {
		if err := dr.dev.RegisterKey(dr.key); err != nil {
			return err
		}
		return dr.dev.PreemptReservation(dr.key, true)
	})
}

// EnableLBP selects the block protection codec for this drive and turns
// on checking for both directions. LTO generation 7 and later use
// CRC32C, as do enterprise drives advertising it; everything else uses
// the Reed-Solomon CRC.
func (dr *Drive) EnableLBP() error {
	dr.mu.Lock()
	defer dr.mu.Unlock()

	fam := dr.dev.Family()
	switch {
	case fam.LTOGeneration() >= 7:
		dr.codec = crc.CRC32C{}
	case fam.Enterprise():
		dr.codec = crc.RSCRC{}
		if page, err := dr.dev.ModeSense(0x24, 0, 0); err == nil && len(page) > 7 && page[7]&0x40 != 0 {
			dr.codec = crc.CRC32C{}
		}
	default:
		dr.codec = crc.RSCRC{}
	}

	// Control data protection mode page behind an 8-byte mode parameter
	// header: method, protection information length, WRDP and RBDP.
	data := make([]byte, 8+32)
	p := data[8:]
	p[0] = 0x0A | 0x40 // page 0x0A with SPF
	p[1] = 0xF0        // control data protection subpage
	scsi.PutUint16(p[2:], 28)
	p[4] = byte(dr.codec.Method())
	p[5] = crc.LBPSize
	p[6] = 0xC0 // LBP_W | LBP_R
	err := dr.doLocked(func() error { return dr.dev.ModeSelect(data) })
	if err != nil {
		return err
	}
	dr.lbpEnabled = true
	log.Printf("logical block protection enabled (method %#02x)", dr.codec.Method())
	return nil
}

// LBPEnabled reports whether block trailers are in effect.
func (dr *Drive) LBPEnabled() bool {
	dr.mu.Lock()
	defer dr.mu.Unlock()
	return dr.lbpEnabled
}

// ForceError arms the error injection counters. A zero threshold
// disarms the respective direction.
func (dr *Drive) ForceError(writeAfter, readAfter uint64, typ scsi.Code) {
	dr.mu.Lock()
	defer dr.mu.Unlock()
	dr.forceWritePerm = writeAfter
	dr.forceReadPerm = readAfter
	dr.forceErrorType = typ
	dr.writeCounter = 0
	dr.readCounter = 0
}

// ReadBlock reads one block at the current position. With protection
// enabled the trailer is verified and stripped; a mismatch captures a
// dump and fails with scsi.LBPReadError.
func (dr *Drive) ReadBlock(buf []byte, sili bool) (int, error) {
	dr.mu.Lock()
	defer dr.mu.Unlock()

	if dr.forceReadPerm > 0 {
		dr.readCounter++
		if dr.readCounter > dr.forceReadPerm {
			if dr.forceErrorType != scsi.Good {
				return 0, dr.forceErrorType
			}
			return 0, scsi.ReadPerm
		}
	}

	var n int
	rbuf := buf
	if dr.lbpEnabled {
		rbuf = make([]byte, len(buf)+crc.LBPSize)
	}
	err := dr.doLocked(func() error {
		var rerr error
		n, rerr = dr.dev.ReadBlock(rbuf, sili)
		return rerr
	})
	if err != nil {
		return 0, err
	}
	if dr.lbpEnabled && n > 0 {
		payload, cerr := dr.codec.Check(rbuf[:n])
		if cerr != nil {
			if _, derr := dr.diag.Capture(dr.dev, false); derr != nil {
				log.Printf("dump capture failed: %v", derr)
			}
			return 0, scsi.LBPReadError
		}
		n = payload
		copy(buf, rbuf[:n])
	}
	return n, nil
}

// WriteBlock appends one block, adding the protection trailer when
// enabled.
func (dr *Drive) WriteBlock(buf []byte) (ew, pew bool, err error) {
	dr.mu.Lock()
	defer dr.mu.Unlock()

	if dr.forceWritePerm > 0 {
		dr.writeCounter++
		if dr.writeCounter > dr.forceWritePerm {
			if dr.forceErrorType != scsi.Good {
				return false, false, dr.forceErrorType
			}
			return false, false, scsi.WritePerm
		}
	}

	wbuf := buf
	if dr.lbpEnabled {
		wbuf = dr.codec.Encode(append(make([]byte, 0, len(buf)+crc.LBPSize), buf...))
	}
	err = dr.doLocked(func() error {
		var werr error
		ew, pew, werr = dr.dev.WriteBlock(wbuf)
		return werr
	})
	return ew, pew, err
}

// The remaining operations apply only the shared policy.

func (dr *Drive) TestUnitReady() error { return dr.do(dr.dev.TestUnitReady) }
func (dr *Drive) Rewind() error        { return dr.do(dr.dev.Rewind) }

func (dr *Drive) WriteFilemarks(count uint64, immed bool) (ew, pew bool, err error) {
	err = dr.do(func() error {
		var werr error
		ew, pew, werr = dr.dev.WriteFilemarks(count, immed)
		return werr
	})
	return ew, pew, err
}

func (dr *Drive) Locate(pos Position) (Position, error) {
	var out Position
	err := dr.do(func() error {
		var lerr error
		out, lerr = dr.dev.Locate(pos)
		return lerr
	})
	return out, err
}

func (dr *Drive) Space(count int64, mode SpaceMode) (Position, error) {
	var out Position
	err := dr.do(func() error {
		var serr error
		out, serr = dr.dev.Space(count, mode)
		return serr
	})
	return out, err
}

func (dr *Drive) ReadPosition() (Position, error) {
	var out Position
	err := dr.do(func() error {
		var perr error
		out, perr = dr.dev.ReadPosition()
		return perr
	})
	return out, err
}

func (dr *Drive) Erase(long bool) error { return dr.do(func() error { return dr.dev.Erase(long) }) }
func (dr *Drive) Load() error           { return dr.do(dr.dev.Load) }
func (dr *Drive) Unload() error         { return dr.do(dr.dev.Unload) }

func (dr *Drive) Format(t FormatType) error {
	return dr.do(func() error { return dr.dev.Format(t) })
}

func (dr *Drive) SetCapacity(proportion uint16) error {
	return dr.do(func() error { return dr.dev.SetCapacity(proportion) })
}

func (dr *Drive) RemainingCapacity() (Capacity, error) {
	var out Capacity
	err := dr.do(func() error {
		var cerr error
		out, cerr = dr.dev.RemainingCapacity()
		return cerr
	})
	return out, err
}

func (dr *Drive) ReadAttribute(partition uint8, id uint16) ([]byte, error) {
	var out []byte
	err := dr.do(func() error {
		var aerr error
		out, aerr = dr.dev.ReadAttribute(partition, id)
		return aerr
	})
	return out, err
}

func (dr *Drive) WriteAttribute(partition uint8, id uint16, data []byte) error {
	return dr.do(func() error { return dr.dev.WriteAttribute(partition, id, data) })
}

func (dr *Drive) AllowOverwrite(pos Position) error {
	return dr.do(func() error { return dr.dev.AllowOverwrite(pos) })
}

func (dr *Drive) SetCompression(enable bool) error {
	return dr.do(func() error { return dr.dev.SetCompression(enable) })
}

func (dr *Drive) PreventMediumRemoval(prevent bool) error {
	return dr.do(func() error { return dr.dev.PreventMediumRemoval(prevent) })
}

func (dr *Drive) GetCartridgeHealth() (CartridgeHealth, error) {
	var out CartridgeHealth
	err := dr.do(func() error {
		var herr error
		out, herr = dr.dev.GetCartridgeHealth()
		return herr
	})
	return out, err
}

func (dr *Drive) GetTapeAlert() (uint64, error) {
	var out uint64
	err := dr.do(func() error {
		var aerr error
		out, aerr = dr.dev.GetTapeAlert()
		return aerr
	})
	return out, err
}

func (dr *Drive) ClearTapeAlert(tags uint64) error {
	return dr.do(func() error { return dr.dev.ClearTapeAlert(tags) })
}

func (dr *Drive) GetEODStatus(partition uint8) (EODStatus, error) {
	var out EODStatus
	err := dr.do(func() error {
		var serr error
		out, serr = dr.dev.GetEODStatus(partition)
		return serr
	})
	return out, err
}

func (dr *Drive) GetParameters() (Parameters, error) {
	var out Parameters
	err := dr.do(func() error {
		var perr error
		out, perr = dr.dev.GetParameters()
		return perr
	})
	return out, err
}

func (dr *Drive) LogSense(page, subpage byte) ([]byte, error) {
	var out []byte
	err := dr.do(func() error {
		var lerr error
		out, lerr = dr.dev.LogSense(page, subpage)
		return lerr
	})
	return out, err
}

func (dr *Drive) ModeSense(page, pc, subpage byte) ([]byte, error) {
	var out []byte
	err := dr.do(func() error {
		var merr error
		out, merr = dr.dev.ModeSense(page, pc, subpage)
		return merr
	})
	return out, err
}

func (dr *Drive) ModeSelect(data []byte) error {
	return dr.do(func() error { return dr.dev.ModeSelect(data) })
}

func (dr *Drive) SetKey(key, alias []byte) error {
	return dr.do(func() error { return dr.dev.SetKey(key, alias) })
}

func (dr *Drive) GetKeyAlias() ([]byte, error) {
	var out []byte
	err := dr.do(func() error {
		var kerr error
		out, kerr = dr.dev.GetKeyAlias()
		return kerr
	})
	return out, err
}

func (dr *Drive) IsMountable(barcode string, density byte, strict bool) (Mountability, error) {
	var out Mountability
	err := dr.do(func() error {
		var merr error
		out, merr = dr.dev.IsMountable(barcode, density, strict)
		return merr
	})
	return out, err
}

// TakeDump captures a dump on operator request, bypassing the
// auto-capture switch.
func (dr *Drive) TakeDump() (string, error) {
	dr.mu.Lock()
	defer dr.mu.Unlock()
	return dr.diag.Capture(dr.dev, true)
}

// Close releases the reservation if possible and closes the backend.
func (dr *Drive) Close() error {
	dr.mu.Lock()
	defer dr.mu.Unlock()
	if err := dr.dev.ReleaseUnit(dr.key); err != nil {
		log.Printf("releasing reservation: %v", err)
	}
	return dr.dev.Close()
}
