package tape

import (
	"bytes"
	"fmt"

	"github.com/LinearTapeFileSystem/ltfs-go/internal/scsi"
)

// Medium auxiliary memory attribute identifiers written by the
// filesystem.
const (
	AttrAppVendor        = 0x0800
	AttrAppName          = 0x0801
	AttrAppVersion       = 0x0802
	AttrUserMediumLabel  = 0x0803
	AttrBarcode          = 0x0806
	AttrMediaPool        = 0x0808
	AttrCoherency        = 0x080A
	AttrAppFormatVersion = 0x080B
	AttrVolumeLockedMAM  = 0x1623
)

// MAM attribute formats.
const (
	mamFormatBinary = 0x00
	mamFormatASCII  = 0x01
	mamFormatText   = 0x02
)

// Coherency is the per-partition coherency record stored in the
// COHERENCY MAM attribute: which index generation a partition last saw
// and where it sits.
type Coherency struct {
	VolumeChangeRef  uint64
	Count            uint64 // index generation
	SetID            uint64 // block of the index
	UUID             string
	VersionedByDrive bool
}

const coherencyVersion = 0x01

// EncodeCoherency serializes a coherency record in the attribute layout
// the drive stores: version, change reference, count, set id and the
// volume UUID as ASCII.
func EncodeCoherency(c Coherency) []byte {
	uuid := []byte(c.UUID)
	out := make([]byte, 1+8+8+8+1+len(uuid))
	out[0] = coherencyVersion
	scsi.PutUint64(out[1:], c.VolumeChangeRef)
	scsi.PutUint64(out[9:], c.Count)
	scsi.PutUint64(out[17:], c.SetID)
	out[25] = byte(len(uuid))
	copy(out[26:], uuid)
	return out
}

// DecodeCoherency is the inverse of EncodeCoherency.
func DecodeCoherency(b []byte) (Coherency, error) {
	var c Coherency
	if len(b) < 26 || b[0] != coherencyVersion {
		return c, fmt.Errorf("coherency attribute: bad layout (%d bytes)", len(b))
	}
	c.VolumeChangeRef = scsi.Uint64(b[1:])
	c.Count = scsi.Uint64(b[9:])
	c.SetID = scsi.Uint64(b[17:])
	n := int(b[25])
	if n > len(b)-26 {
		n = len(b) - 26
	}
	c.UUID = string(b[26 : 26+n])
	return c, nil
}

// EncodeAttribute wraps a MAM attribute value in its wire header:
// identifier, format, length.
func EncodeAttribute(id uint16, format byte, value []byte) []byte {
	out := make([]byte, 5+len(value))
	scsi.PutUint16(out, id)
	out[2] = format
	scsi.PutUint16(out[3:], uint16(len(value)))
	copy(out[5:], value)
	return out
}

// ASCIIAttribute space-pads value to width, the way text MAM attributes
// are stored.
func ASCIIAttribute(value string, width int) []byte {
	b := make([]byte, width)
	copy(b, value)
	for i := len(value); i < width; i++ {
		b[i] = ' '
	}
	return b
}

// TrimAttribute undoes the space padding of a text attribute.
func TrimAttribute(b []byte) string {
	return string(bytes.TrimRight(b, " \x00"))
}
