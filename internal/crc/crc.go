// Package crc implements the two logical block protection codecs used by
// tape drives: the Reed-Solomon GF(256) CRC of LTO drives and CRC32C.
// Both append a 4-byte big-endian CRC to each block written and verify it
// on each block read.
package crc

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// LBPSize is the length of the per-block trailer both codecs produce.
const LBPSize = 4

// ErrCheck is returned when a block trailer does not match its payload.
// The tape layer maps it to a logical block protection read error and
// triggers dump capture.
var ErrCheck = errors.New("logical block protection check failed")

// Method identifies a codec in the control mode page that enables
// logical block protection on the drive.
type Method byte

const (
	MethodNone   Method = 0x00
	MethodRSCRC  Method = 0x01
	MethodCRC32C Method = 0x02
)

// Codec computes and verifies a 4-byte trailing CRC over a block.
type Codec interface {
	// Method is the protection method code written to the drive's
	// control mode page.
	Method() Method

	// Encode appends the 4-byte CRC of p to p and returns the extended
	// slice.
	Encode(p []byte) []byte

	// Check verifies the trailing 4 bytes of p against the payload that
	// precedes them. It returns the payload length, or ErrCheck.
	Check(p []byte) (int, error)
}

// RSCRC is the Reed-Solomon GF(256) CRC as generated by LTO drives. A
// 4-byte shift register starts at zero; each input byte b advances it by
// reg = (reg << 8) ^ table[b ^ (reg >> 24)].
type RSCRC struct{}

func (RSCRC) Method() Method { return MethodRSCRC }

func rsSum(p []byte) uint32 {
	var reg uint32
	for _, b := range p {
		reg = reg<<8 ^ rsGF256Table[b^byte(reg>>24)]
	}
	return reg
}

func (RSCRC) Encode(p []byte) []byte {
	var trailer [LBPSize]byte
	binary.BigEndian.PutUint32(trailer[:], rsSum(p))
	return append(p, trailer[:]...)
}

func (RSCRC) Check(p []byte) (int, error) {
	if len(p) < LBPSize {
		return 0, ErrCheck
	}
	n := len(p) - LBPSize
	if binary.BigEndian.Uint32(p[n:]) != rsSum(p[:n]) {
		return 0, ErrCheck
	}
	return n, nil
}

// CRC32C is the Castagnoli CRC used by LTO generation 7 and later drives
// and by enterprise drives advertising it in the INIT_EXT mode page.
type CRC32C struct{}

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func (CRC32C) Method() Method { return MethodCRC32C }

func (CRC32C) Encode(p []byte) []byte {
	var trailer [LBPSize]byte
	binary.BigEndian.PutUint32(trailer[:], crc32.Checksum(p, castagnoli))
	return append(p, trailer[:]...)
}

func (CRC32C) Check(p []byte) (int, error) {
	if len(p) < LBPSize {
		return 0, ErrCheck
	}
	n := len(p) - LBPSize
	if binary.BigEndian.Uint32(p[n:]) != crc32.Checksum(p[:n], castagnoli) {
		return 0, ErrCheck
	}
	return n, nil
}
