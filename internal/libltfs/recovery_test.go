package libltfs

import (
	"strings"
	"testing"

	ltfs "github.com/LinearTapeFileSystem/ltfs-go"
	"github.com/LinearTapeFileSystem/ltfs-go/internal/index"
	"github.com/LinearTapeFileSystem/ltfs-go/internal/tape"
	"github.com/LinearTapeFileSystem/ltfs-go/internal/tape/vtape"
)

// withData creates a file with content and syncs, returning the volume.
func withData(t *testing.T) (*Volume, *vtape.Device) {
	t.Helper()
	v, dev := newLabeledVolume(t)
	if _, err := v.Create("/a.txt", false, false); err != nil {
		t.Fatal(err)
	}
	h, err := v.Open("/a.txt", true, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := v.Write(h, []byte("32 bytes of data for the medium!"), 0); err != nil {
		t.Fatal(err)
	}
	if err := v.SyncIndex(ltfs.SyncEA); err != nil {
		t.Fatal(err)
	}
	return v, dev
}

func remount(t *testing.T, dev *vtape.Device) *Volume {
	t.Helper()
	dr := tape.NewDrive(dev, &tape.Diagnostics{Dir: t.TempDir()})
	v := NewVolume(dr)
	if _, err := v.Mount(); err != nil {
		t.Fatalf("remount: %v", err)
	}
	return v
}

func TestMissingTrailingFilemark(t *testing.T) {
	v, dev := withData(t)
	_ = v

	// Drop the filemark terminating the IP index.
	if !dev.DropTrailingFilemark(0) {
		t.Fatal("no trailing filemark to drop")
	}

	v2 := remount(t, dev)
	recsBefore := dev.RecordCount(0)
	res, err := v2.CheckMedium(true, false, false)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Corrected {
		t.Fatal("missing filemark not corrected")
	}
	if got := dev.RecordCount(0); got != recsBefore+1 {
		t.Errorf("IP records = %d, want %d (one filemark)", got, recsBefore+1)
	}
	if !v2.ipIndexFileEnd {
		t.Error("IP does not end in index after fix")
	}
	// No new index was appended: generation unchanged.
	if v2.Index().Generation != 1 {
		t.Errorf("generation = %d, want 1", v2.Index().Generation)
	}
}

func TestCheckMediumRefusesWithoutFix(t *testing.T) {
	_, dev := withData(t)
	dev.DropTrailingFilemark(0)
	v2 := remount(t, dev)
	if _, err := v2.CheckMedium(false, false, false); err != ltfs.ErrInconsistent {
		t.Fatalf("CheckMedium(fix=false) = %v, want ErrInconsistent", err)
	}
}

func TestCheckPointersInvalid(t *testing.T) {
	v, _ := newLabeledVolume(t)
	ip := &index.Index{
		Generation: 5,
		Backptr:    index.TapePos{Partition: 'b', Block: 200},
	}
	dp := &index.Index{
		Generation: 3,
		Selfptr:    index.TapePos{Partition: 'b', Block: 150},
	}
	if _, err := v.checkPointers(ip, dp); err != ltfs.ErrIndexInvalid {
		t.Fatalf("checkPointers = %v, want ErrIndexInvalid", err)
	}
}

func TestCheckPointersTieBreak(t *testing.T) {
	v, _ := newLabeledVolume(t)
	// Equal generations, IP back pointer names no partition: the data
	// partition copy wins.
	ip := &index.Index{Generation: 2}
	dp := &index.Index{
		Generation: 2,
		Selfptr:    index.TapePos{Partition: 'b', Block: 9},
	}
	side, err := v.checkPointers(ip, dp)
	if err != nil || side != newerDP {
		t.Fatalf("tie break = %v, %v, want newerDP", side, err)
	}
}

func TestCheckPointersOnlyIP(t *testing.T) {
	v, _ := newLabeledVolume(t)
	ip := &index.Index{Generation: 1}
	side, err := v.checkPointers(ip, nil)
	if err != nil || side != newerIP {
		t.Fatalf("only IP = %v, %v", side, err)
	}

	// An IP-only index whose back pointer names a DP index is invalid.
	ip.Backptr = index.TapePos{Partition: 'b', Block: 8}
	if _, err := v.checkPointers(ip, nil); err != ltfs.ErrIndexInvalid {
		t.Fatalf("dangling backptr = %v, want ErrIndexInvalid", err)
	}
}

func TestDataAfterIndexRecovered(t *testing.T) {
	v, dev := withData(t)

	// Append orphan data blocks past the DP index without an index.
	var start uint64
	if err := v.WriteData('b', []byte("orphaned block content"), 1, &start); err != nil {
		t.Fatal(err)
	}

	v2 := remount(t, dev)
	res, err := v2.CheckMedium(true, false, true)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Corrected {
		t.Fatal("orphan blocks not corrected")
	}
	if len(res.LostAndFound) == 0 {
		t.Fatal("no lost and found entries")
	}
	name := res.LostAndFound[0]
	if !strings.HasPrefix(name, "partitionb_block") || !strings.HasSuffix(name, "bytes") {
		t.Errorf("lost and found name = %q", name)
	}
	if _, err := v2.Lookup("/" + lostAndFoundDir + "/" + name); err != nil {
		t.Errorf("lost and found entry not in tree: %v", err)
	}
	// Both partitions end in an index again.
	if !v2.ipIndexFileEnd || !v2.dpIndexFileEnd {
		t.Error("partition end invariant not restored")
	}
}

func TestBothEODMissingNeedsDeep(t *testing.T) {
	_, dev := withData(t)
	// Wreck both partitions down to their labels plus garbage.
	dev.TruncateRecords(0, 4)
	dev.TruncateRecords(1, 4)

	dr := tape.NewDrive(dev, &tape.Diagnostics{Dir: t.TempDir()})
	v2 := NewVolume(dr)
	if _, err := v2.Mount(); err != nil {
		t.Fatal(err)
	}
	// A fresh mount works, but an explicit non-deep check reports the
	// missing chains.
	if _, err := v2.CheckMedium(false, false, false); err != ltfs.ErrBothEODMissing {
		t.Fatalf("CheckMedium = %v, want ErrBothEODMissing", err)
	}
	res, err := v2.CheckMedium(true, true, false)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Corrected {
		t.Error("deep recovery did not rebuild the index")
	}
	if v2.Index().Generation == 0 {
		t.Error("deep recovery left generation at 0")
	}
}
