package index

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	ltfs "github.com/LinearTapeFileSystem/ltfs-go"
)

// Each partition starts with the same four records: an 80-byte ANSI
// VOL1 label, a filemark, the XML label, a filemark. The two XML labels
// of a cartridge must agree on everything except which partition they
// describe.

// Label is the parsed partition label.
type Label struct {
	Creator    string
	FormatTime Timespec
	VolumeUUID string
	Barcode    string

	// Version is the format version of the label ("2.4.0").
	Version string

	// BlockSize is the block size both partitions use.
	BlockSize uint64

	Compression bool

	// PartIP and PartDP are the partition letters of the index and
	// data partitions; ThisPartition is the letter of the partition
	// the label was read from.
	PartIP        byte
	PartDP        byte
	ThisPartition byte
}

// VOL1Len is the length of the ANSI volume label record.
const VOL1Len = 80

// EncodeVOL1 builds the 80-byte ANSI volume label: "VOL1", the barcode
// at positions 4-9, accessibility 'L', "LTFS" at 24-27 and the
// implementation identifier.
func EncodeVOL1(barcode string) []byte {
	b := bytes.Repeat([]byte{' '}, VOL1Len)
	copy(b[0:4], "VOL1")
	copy(b[4:10], barcode)
	b[10] = 'L'
	copy(b[24:28], "LTFS")
	copy(b[37:], "LTFS")
	b[79] = '4'
	return b
}

// CheckVOL1 validates an ANSI volume label and returns the barcode.
func CheckVOL1(b []byte) (string, error) {
	if len(b) != VOL1Len {
		return "", ltfs.ErrInvalidLabel
	}
	if string(b[0:4]) != "VOL1" || string(b[24:28]) != "LTFS" {
		return "", ltfs.ErrInvalidLabel
	}
	return strings.TrimRight(string(b[4:10]), " "), nil
}

type xmlLabel struct {
	XMLName    xml.Name    `xml:"ltfslabel"`
	Version    string      `xml:"version,attr"`
	Creator    string      `xml:"creator"`
	FormatTime string      `xml:"formattime"`
	VolumeUUID string      `xml:"volumeuuid"`
	Location   xmlLocation `xml:"location"`
	Partitions xmlPartMap  `xml:"partitions"`
	BlockSize  uint64      `xml:"blocksize"`
	Compress   bool        `xml:"compression"`
}

type xmlLocation struct {
	Partition string `xml:"partition"`
}

type xmlPartMap struct {
	Index string `xml:"index"`
	Data  string `xml:"data"`
}

// MarshalLabel serializes the XML label for one partition.
func MarshalLabel(w io.Writer, l *Label) error {
	x := xmlLabel{
		Version:    l.Version,
		Creator:    l.Creator,
		FormatTime: formatTime(l.FormatTime),
		VolumeUUID: l.VolumeUUID,
		Location:   xmlLocation{Partition: string(rune(l.ThisPartition))},
		Partitions: xmlPartMap{
			Index: string(rune(l.PartIP)),
			Data:  string(rune(l.PartDP)),
		},
		BlockSize: l.BlockSize,
		Compress:  l.Compression,
	}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "    ")
	if err := enc.Encode(&x); err != nil {
		return err
	}
	return enc.Flush()
}

// UnmarshalLabel parses one partition's XML label.
func UnmarshalLabel(r io.Reader) (*Label, error) {
	var x xmlLabel
	if err := xml.NewDecoder(r).Decode(&x); err != nil {
		return nil, fmt.Errorf("parsing label: %v", err)
	}
	l := &Label{
		Creator:     x.Creator,
		VolumeUUID:  x.VolumeUUID,
		Version:     x.Version,
		BlockSize:   x.BlockSize,
		Compression: x.Compress,
	}
	if ts, err := parseTime(x.FormatTime); err == nil {
		l.FormatTime = ts
	}
	if x.Location.Partition != "" {
		l.ThisPartition = x.Location.Partition[0]
	}
	if x.Partitions.Index != "" {
		l.PartIP = x.Partitions.Index[0]
	}
	if x.Partitions.Data != "" {
		l.PartDP = x.Partitions.Data[0]
	}
	if l.BlockSize == 0 || l.VolumeUUID == "" {
		return nil, ltfs.ErrInvalidLabel
	}
	return l, nil
}

// Equivalent reports whether two labels describe the same cartridge:
// everything matches except the partition the label was read from.
func (l *Label) Equivalent(other *Label) bool {
	return l.VolumeUUID == other.VolumeUUID &&
		l.Version == other.Version &&
		l.BlockSize == other.BlockSize &&
		l.PartIP == other.PartIP &&
		l.PartDP == other.PartDP &&
		l.Compression == other.Compression
}

// PartitionNumber maps a partition letter to the drive's numeric
// partition: the index partition is 0, the data partition 1.
func (l *Label) PartitionNumber(letter byte) uint8 {
	if letter == l.PartDP {
		return 1
	}
	return 0
}

// PartitionLetter is the inverse of PartitionNumber.
func (l *Label) PartitionLetter(number uint8) byte {
	if number == 1 {
		return l.PartDP
	}
	return l.PartIP
}
