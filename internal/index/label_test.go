package index

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"

	ltfs "github.com/LinearTapeFileSystem/ltfs-go"
)

func testLabel(part byte) *Label {
	return &Label{
		Creator:       "LTFS-Go test",
		FormatTime:    MakeTimespec(Now().Time()),
		VolumeUUID:    "5cdd55d9-07dd-4dce-8d2d-389335dca7ba",
		Barcode:       "ABC123",
		Version:       "2.4.0",
		BlockSize:     524288,
		Compression:   false,
		PartIP:        'a',
		PartDP:        'b',
		ThisPartition: part,
	}
}

func TestVOL1(t *testing.T) {
	rec := EncodeVOL1("ABC123")
	if len(rec) != VOL1Len {
		t.Fatalf("VOL1 length = %d", len(rec))
	}
	if string(rec[0:4]) != "VOL1" || string(rec[24:28]) != "LTFS" {
		t.Fatalf("VOL1 fixed fields wrong: %q", rec)
	}
	bc, err := CheckVOL1(rec)
	if err != nil {
		t.Fatal(err)
	}
	if bc != "ABC123" {
		t.Errorf("barcode = %q", bc)
	}

	rec[25] = 'X'
	if _, err := CheckVOL1(rec); err != ltfs.ErrInvalidLabel {
		t.Errorf("corrupt VOL1: err = %v, want ErrInvalidLabel", err)
	}
}

func TestLabelRoundTrip(t *testing.T) {
	l := testLabel('a')
	var buf bytes.Buffer
	if err := MarshalLabel(&buf, l); err != nil {
		t.Fatal(err)
	}
	got, err := UnmarshalLabel(&buf)
	if err != nil {
		t.Fatal(err)
	}
	// The barcode travels in the VOL1 record, not the XML label.
	l.Barcode = ""
	if diff := cmp.Diff(l, got); diff != "" {
		t.Errorf("label diff (-want +got):\n%s", diff)
	}
}

func TestLabelEquivalent(t *testing.T) {
	a, b := testLabel('a'), testLabel('b')
	if !a.Equivalent(b) {
		t.Fatal("labels differing only in ThisPartition not equivalent")
	}
	b.BlockSize = 65536
	if a.Equivalent(b) {
		t.Fatal("different block sizes considered equivalent")
	}
}

func TestPartitionMapping(t *testing.T) {
	l := testLabel('a')
	if l.PartitionNumber('a') != 0 || l.PartitionNumber('b') != 1 {
		t.Error("partition letter to number mapping broken")
	}
	if l.PartitionLetter(0) != 'a' || l.PartitionLetter(1) != 'b' {
		t.Error("partition number to letter mapping broken")
	}
}
