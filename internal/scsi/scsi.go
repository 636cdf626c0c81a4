// Package scsi holds the SCSI stream command vocabulary of the tape
// layer: opcode constants, CDB byte layout helpers, sense data decoding
// into the closed device error code set, per-opcode timeout tables and
// persistent reservation key derivation.
//
// The package knows nothing about transports. A backend (internal/tape/
// sgio) builds CDBs with these helpers, issues them through the OS and
// feeds the sense bytes back into Decode.
package scsi

import "encoding/binary"

// Opcodes used by the tape backends (SPC-4 + SSC-4).
const (
	OpTestUnitReady        = 0x00
	OpRewind               = 0x01
	OpFormatMedium         = 0x04
	OpReadBlockLimits      = 0x05
	OpRead                 = 0x08
	OpWrite                = 0x0A
	OpSetCapacity          = 0x0B
	OpWriteFilemarks       = 0x10
	OpSpace6               = 0x11
	OpInquiry              = 0x12
	OpModeSelect6          = 0x15
	OpReserveUnit6         = 0x16
	OpReleaseUnit6         = 0x17
	OpErase                = 0x19
	OpModeSense6           = 0x1A
	OpLoadUnload           = 0x1B
	OpPreventAllowRemoval  = 0x1E
	OpReadPosition         = 0x34
	OpReadBuffer           = 0x3C
	OpLogSelect            = 0x4C
	OpLogSense             = 0x4D
	OpModeSelect10         = 0x55
	OpModeSense10          = 0x5A
	OpPersistentReserveIn  = 0x5E
	OpPersistentReserveOut = 0x5F
	OpAllowOverwrite       = 0x82
	OpReadAttribute        = 0x8C
	OpWriteAttribute       = 0x8D
	OpSpace16              = 0x91
	OpLocate16             = 0x92
	OpSecurityProtocolIn   = 0xA2
	OpMaintenanceIn        = 0xA3
	OpSecurityProtocolOut  = 0xB5
)

// MaintenanceIn service action for REPORT SUPPORTED OPERATION CODES.
const ReportSupportedOpcodes = 0x0C

// CDB lengths by opcode group.
const (
	CDB6Len  = 6
	CDB10Len = 10
	CDB12Len = 12
	CDB16Len = 16
)

// MaxSenseLen is the sense buffer size handed to the OS.
const MaxSenseLen = 96

// All multi-byte integers inside CDBs and returned parameter data are
// big-endian. The 24-bit transfer lengths of the 6-byte stream commands
// have no encoding/binary equivalent, so they get explicit helpers.

func PutUint16(b []byte, v uint16) { binary.BigEndian.PutUint16(b, v) }
func PutUint32(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }
func PutUint64(b []byte, v uint64) { binary.BigEndian.PutUint64(b, v) }

func Uint16(b []byte) uint16 { return binary.BigEndian.Uint16(b) }
func Uint32(b []byte) uint32 { return binary.BigEndian.Uint32(b) }
func Uint64(b []byte) uint64 { return binary.BigEndian.Uint64(b) }

// PutUint24 stores the low 24 bits of v at b[0:3] big-endian.
func PutUint24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

// Uint24 loads a big-endian 24-bit integer from b[0:3].
func Uint24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// Direction of a data transfer relative to the initiator.
type Direction int

const (
	DirNone Direction = iota
	DirFromDevice
	DirToDevice
)
