package vtape

import (
	"bytes"
	"testing"

	"github.com/orcaman/writerseeker"

	"github.com/LinearTapeFileSystem/ltfs-go/internal/scsi"
	"github.com/LinearTapeFileSystem/ltfs-go/internal/tape"
)

func TestAppendTruncatesTail(t *testing.T) {
	d := New("TEST001")
	for i := 0; i < 3; i++ {
		if _, _, err := d.WriteBlock([]byte{byte(i)}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := d.Locate(tape.Position{Block: 1}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := d.WriteBlock([]byte{9}); err != nil {
		t.Fatal(err)
	}

	// Blocks 2 is gone; block 1 now holds 9.
	if _, err := d.Locate(tape.Position{Block: 1}); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 16)
	n, err := d.ReadBlock(buf, true)
	if err != nil || n != 1 || buf[0] != 9 {
		t.Fatalf("ReadBlock = %d, %v, buf[0]=%d", n, err, buf[0])
	}
	if _, err := d.ReadBlock(buf, true); err != scsi.EODDetected {
		t.Fatalf("read past append point: %v, want EODDetected", err)
	}
}

func TestFilemarkSemantics(t *testing.T) {
	d := New("TEST002")
	d.WriteBlock([]byte("a"))
	d.WriteFilemarks(1, false)
	d.WriteBlock([]byte("b"))
	d.WriteFilemarks(1, false)

	d.Rewind()
	buf := make([]byte, 16)
	if _, err := d.ReadBlock(buf, true); err != nil {
		t.Fatal(err)
	}
	if _, err := d.ReadBlock(buf, true); err != scsi.FilemarkDetected {
		t.Fatalf("expected filemark, got %v", err)
	}
	pos, _ := d.ReadPosition()
	if pos.Block != 2 || pos.Filemarks != 1 {
		t.Fatalf("pos after filemark = %+v", pos)
	}
}

func TestSpaceFilemarks(t *testing.T) {
	d := New("TEST003")
	d.WriteBlock([]byte("a"))  // 0
	d.WriteFilemarks(1, false) // 1
	d.WriteBlock([]byte("b"))  // 2
	d.WriteBlock([]byte("c"))  // 3
	d.WriteFilemarks(1, false) // 4

	// Space back one filemark from EOD lands on the filemark at 4.
	pos, err := d.Space(1, tape.SpaceFMBack)
	if err != nil {
		t.Fatal(err)
	}
	if pos.Block != 4 {
		t.Fatalf("SpaceFMBack from EOD: block = %d, want 4", pos.Block)
	}
	pos, err = d.Space(1, tape.SpaceFMBack)
	if err != nil {
		t.Fatal(err)
	}
	if pos.Block != 1 {
		t.Fatalf("second SpaceFMBack: block = %d, want 1", pos.Block)
	}

	// Forward over one filemark positions after it.
	pos, err = d.Space(1, tape.SpaceFMForward)
	if err != nil {
		t.Fatal(err)
	}
	if pos.Block != 2 {
		t.Fatalf("SpaceFMForward: block = %d, want 2", pos.Block)
	}

	// Spacing to EOD.
	pos, _ = d.Space(0, tape.SpaceEOD)
	if pos.Block != 5 {
		t.Fatalf("SpaceEOD: block = %d, want 5", pos.Block)
	}
}

func TestOverrun(t *testing.T) {
	d := New("TEST004")
	d.WriteBlock(make([]byte, 1024))
	d.Rewind()
	if _, err := d.ReadBlock(make([]byte, 512), true); err != scsi.Overrun {
		t.Fatalf("short read buffer: %v, want Overrun", err)
	}
}

func TestEarlyWarning(t *testing.T) {
	d := New("TEST005", WithCapacity(10))
	var ew bool
	for i := 0; i < 10; i++ {
		var err error
		ew, _, err = d.WriteBlock([]byte("x"))
		if err != nil {
			t.Fatal(err)
		}
	}
	if !ew {
		t.Fatal("early warning not raised at capacity")
	}
}

func TestReservation(t *testing.T) {
	d := New("TEST006")
	key1 := [scsi.PRKeyLen]byte{1}
	key2 := [scsi.PRKeyLen]byte{2}
	if err := d.RegisterKey(key1); err != nil {
		t.Fatal(err)
	}
	if err := d.ReserveUnit(key1); err != nil {
		t.Fatal(err)
	}
	if err := d.RegisterKey(key2); err != nil {
		t.Fatal(err)
	}
	if err := d.ReserveUnit(key2); err != scsi.ReservationConflict {
		t.Fatalf("second reserve: %v, want ReservationConflict", err)
	}
	if err := d.PreemptReservation(key2, true); err != nil {
		t.Fatal(err)
	}
	full, err := d.ReadFullStatus()
	if err != nil {
		t.Fatal(err)
	}
	var holder [scsi.PRKeyLen]byte
	for _, desc := range full {
		if desc.HoldsReservation {
			holder = desc.Key
		}
	}
	if holder != key2 {
		t.Fatalf("holder after preempt = %x", holder)
	}
}

func TestImageRoundTrip(t *testing.T) {
	d := New("TEST007")
	d.WriteBlock([]byte("hello"))
	d.WriteFilemarks(1, false)
	d.WriteAttribute(0, tape.AttrBarcode, []byte("VT0001L8"))

	var img writerseeker.WriterSeeker
	if err := d.SaveImage(&img); err != nil {
		t.Fatal(err)
	}

	d2 := New("TEST007B")
	if err := d2.LoadImage(img.BytesReader()); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 16)
	n, err := d2.ReadBlock(buf, true)
	if err != nil || !bytes.Equal(buf[:n], []byte("hello")) {
		t.Fatalf("block after reload = %q, %v", buf[:n], err)
	}
	if _, err := d2.ReadBlock(buf, true); err != scsi.FilemarkDetected {
		t.Fatalf("filemark after reload: %v", err)
	}
	attr, err := d2.ReadAttribute(0, tape.AttrBarcode)
	if err != nil || string(attr) != "VT0001L8" {
		t.Fatalf("attr after reload = %q, %v", attr, err)
	}
}
