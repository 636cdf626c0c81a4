package libltfs

import (
	"bytes"
	"testing"

	ltfs "github.com/LinearTapeFileSystem/ltfs-go"
	"github.com/LinearTapeFileSystem/ltfs-go/internal/index"
	"github.com/LinearTapeFileSystem/ltfs-go/internal/tape"
	"github.com/LinearTapeFileSystem/ltfs-go/internal/tape/vtape"
)

const testBlocksize = 4096

// newFormattedVolume formats a virtual cartridge and returns the volume
// plus its backing device.
func newFormattedVolume(t *testing.T, opts ...Option) (*Volume, *vtape.Device) {
	t.Helper()
	dev := vtape.New("VTTEST", vtape.WithBarcode("ABC123L8"))
	dr := tape.NewDrive(dev, &tape.Diagnostics{Dir: t.TempDir()})
	v := NewVolume(dr, opts...)
	if err := v.Format(FormatOptions{
		Barcode:   "ABC123",
		Blocksize: testBlocksize,
	}); err != nil {
		t.Fatal(err)
	}
	return v, dev
}

// newLabeledVolume writes labels only (no index), like a cartridge that
// lost power right after labeling, then mounts it.
func newLabeledVolume(t *testing.T) (*Volume, *vtape.Device) {
	t.Helper()
	v, dev := newFormattedVolume(t)
	// Cut both partitions back to their labels: four records each.
	dev.TruncateRecords(0, 4)
	dev.TruncateRecords(1, 4)

	dr := tape.NewDrive(dev, &tape.Diagnostics{Dir: t.TempDir()})
	v2 := NewVolume(dr)
	res, err := v2.Mount()
	if err != nil {
		t.Fatalf("mounting labeled cartridge: %v", err)
	}
	if res != MountClean {
		t.Fatalf("mount result = %v, want clean", res)
	}
	_ = v
	return v2, dev
}

func TestMountFreshVolume(t *testing.T) {
	v, _ := newLabeledVolume(t)
	idx := v.Index()
	if idx.Generation != 0 {
		t.Errorf("generation = %d, want 0", idx.Generation)
	}
	if idx.VolumeName != "" {
		t.Errorf("volume name = %q, want empty", idx.VolumeName)
	}
	if idx.Root == nil || idx.Root.LinkCount != 1 {
		t.Errorf("root link count = %d, want 1", idx.Root.LinkCount)
	}
	if v.Barcode() != "ABC123" {
		t.Errorf("barcode = %q", v.Barcode())
	}
}

func TestCreateWriteSync(t *testing.T) {
	v, _ := newLabeledVolume(t)

	if _, err := v.Create("/a.txt", false, false); err != nil {
		t.Fatal(err)
	}
	h, err := v.Open("/a.txt", true, false)
	if err != nil {
		t.Fatal(err)
	}
	payload := bytes.Repeat([]byte{0x42}, 32)
	n, err := v.Write(h, payload, 0)
	if err != nil || n != 32 {
		t.Fatalf("Write = %d, %v", n, err)
	}

	d := h.D
	want := index.Extent{Partition: 'b', StartBlock: 4, ByteOffset: 0, ByteCount: 32, FileOffset: 0}
	if len(d.Extents) != 1 || d.Extents[0] != want {
		t.Fatalf("extents = %+v, want [%+v]", d.Extents, want)
	}

	if err := v.SyncIndex(ltfs.SyncEA); err != nil {
		t.Fatal(err)
	}
	idx := v.Index()
	if idx.Generation != 1 {
		t.Errorf("generation = %d, want 1", idx.Generation)
	}
	// The index partition copy is written last: its self pointer names
	// the IP, its back pointer the data partition twin.
	if idx.Selfptr != (index.TapePos{Partition: 'a', Block: 4}) {
		t.Errorf("selfptr = %+v", idx.Selfptr)
	}
	// The data partition twin sits past the data block and the leading
	// filemark of its index construct.
	if idx.Backptr != (index.TapePos{Partition: 'b', Block: 6}) {
		t.Errorf("backptr = %+v", idx.Backptr)
	}
	if !v.ipIndexFileEnd || !v.dpIndexFileEnd {
		t.Error("partitions do not end in index after sync")
	}
	if err := v.Close(h, true); err != nil {
		t.Fatal(err)
	}
}

func TestReadBack(t *testing.T) {
	v, _ := newLabeledVolume(t)
	v.Create("/f", false, false)
	h, _ := v.Open("/f", true, false)

	payload := []byte("tape data lives forever")
	if _, err := v.Write(h, payload, 0); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 64)
	n, err := v.Read(h, buf, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf[:n], payload) {
		t.Errorf("read back %q, want %q", buf[:n], payload)
	}

	// Reading past EOF returns zero bytes.
	n, err = v.Read(h, buf, uint64(len(payload)))
	if err != nil || n != 0 {
		t.Errorf("read past EOF = %d, %v", n, err)
	}
}

func TestSparseRead(t *testing.T) {
	v, _ := newLabeledVolume(t)
	v.Create("/s", false, false)
	h, _ := v.Open("/s", true, false)

	if _, err := v.Write(h, []byte("abc"), 0); err != nil {
		t.Fatal(err)
	}
	// Grow a sparse tail.
	if err := v.Truncate(h, 10); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 10)
	n, err := v.Read(h, buf, 0)
	if err != nil || n != 10 {
		t.Fatalf("sparse read = %d, %v", n, err)
	}
	if !bytes.Equal(buf, []byte("abc\x00\x00\x00\x00\x00\x00\x00")) {
		t.Errorf("sparse read content %q", buf)
	}
}

func TestSyncIdempotent(t *testing.T) {
	v, dev := newLabeledVolume(t)
	v.Create("/x", false, false)
	if err := v.SyncIndex(ltfs.SyncEA); err != nil {
		t.Fatal(err)
	}
	before := dev.RecordCount(0) + dev.RecordCount(1)
	if err := v.SyncIndex(ltfs.SyncEA); err != nil {
		t.Fatal(err)
	}
	after := dev.RecordCount(0) + dev.RecordCount(1)
	if before != after {
		t.Errorf("clean sync appended records: %d -> %d", before, after)
	}
}

func TestRenameClash(t *testing.T) {
	v, _ := newLabeledVolume(t)
	for _, p := range []string{"/dir1", "/dir2"} {
		if _, err := v.Create(p, true, false); err != nil {
			t.Fatal(err)
		}
	}
	for _, p := range []string{"/dir1/x", "/dir2/x"} {
		if _, err := v.Create(p, false, false); err != nil {
			t.Fatal(err)
		}
	}
	countBefore := v.Index().FileCount

	if err := v.Rename("/dir1/x", "/dir2/x"); err != nil {
		t.Fatal(err)
	}
	if got := v.Index().FileCount; got != countBefore-1 {
		t.Errorf("file count = %d, want %d", got, countBefore-1)
	}
	if _, err := v.Lookup("/dir1/x"); err != ltfs.ErrNoDentry {
		t.Errorf("source still present: %v", err)
	}
	if _, err := v.Lookup("/dir2/x"); err != nil {
		t.Errorf("target missing: %v", err)
	}
	if err := v.SyncIndex(ltfs.SyncEA); err != nil {
		t.Fatal(err)
	}
}

func TestRenameLoop(t *testing.T) {
	v, _ := newLabeledVolume(t)
	v.Create("/a", true, false)
	v.Create("/a/b", true, false)
	if err := v.Rename("/a", "/a/b"); err != ltfs.ErrRenameLoop {
		t.Fatalf("rename into own subtree: %v, want ErrRenameLoop", err)
	}
	// The tree is unchanged.
	if _, err := v.Lookup("/a/b"); err != nil {
		t.Errorf("tree changed by failed rename: %v", err)
	}
}

func TestUnlinkRoot(t *testing.T) {
	v, _ := newLabeledVolume(t)
	if err := v.Unlink("/"); err != ltfs.ErrUnlinkRoot {
		t.Fatalf("unlink root: %v, want ErrUnlinkRoot", err)
	}
}

func TestUnlinkNonEmptyDir(t *testing.T) {
	v, _ := newLabeledVolume(t)
	v.Create("/d", true, false)
	v.Create("/d/f", false, false)
	if err := v.Unlink("/d"); err != ltfs.ErrDirNotEmpty {
		t.Fatalf("unlink non-empty dir: %v, want ErrDirNotEmpty", err)
	}
}

func TestWORMFlags(t *testing.T) {
	v, _ := newLabeledVolume(t)
	v.Create("/w", false, false)
	h, _ := v.Open("/w", true, false)
	if _, err := v.Write(h, []byte("base"), 0); err != nil {
		t.Fatal(err)
	}

	if err := v.SetXattr("/w", "ltfs.vendor.IBM.immutable", []byte("1")); err != nil {
		t.Fatal(err)
	}
	if _, err := v.Write(h, []byte("nope"), 4); err != ltfs.ErrWormEnabled {
		t.Fatalf("write to immutable: %v, want ErrWormEnabled", err)
	}
	if err := v.Unlink("/w"); err != ltfs.ErrWormEnabled {
		t.Fatalf("unlink immutable: %v, want ErrWormEnabled", err)
	}

	// Clear immutable, set append-only: appends pass, overwrites fail.
	if err := v.SetXattr("/w", "ltfs.vendor.IBM.immutable", []byte("0")); err != nil {
		t.Fatal(err)
	}
	if err := v.SetXattr("/w", "ltfs.vendor.IBM.appendonly", []byte("1")); err != nil {
		t.Fatal(err)
	}
	if _, err := v.Write(h, []byte("no"), 0); err != ltfs.ErrWormEnabled {
		t.Fatalf("overwrite append-only: %v, want ErrWormEnabled", err)
	}
	if _, err := v.Write(h, []byte("more"), h.D.Size); err != nil {
		t.Fatalf("append to append-only: %v", err)
	}
}

func TestOpenWriteReadOnlyFlag(t *testing.T) {
	v, _ := newLabeledVolume(t)
	v.Create("/ro", false, true)
	h, err := v.Open("/ro", true, false)
	if err != nil {
		t.Fatal(err)
	}
	if h.ReadOnly != h.D.ReadOnly {
		t.Error("handle readonly flag does not mirror dentry")
	}
}

func TestSymlink(t *testing.T) {
	v, _ := newLabeledVolume(t)
	v.SetMountPoint("/mnt/ltfs")
	if _, err := v.CreateSymlink("/mnt/ltfs/data/file", "/link"); err != nil {
		t.Fatal(err)
	}
	target, err := v.ReadSymlink("/link")
	if err != nil {
		t.Fatal(err)
	}
	if target != "/mnt/ltfs/data/file" {
		t.Errorf("target = %q", target)
	}

	// Remounted elsewhere, the LiveLink follows the mountpoint.
	v.SetMountPoint("/media/tape")
	target, err = v.ReadSymlink("/link")
	if err != nil {
		t.Fatal(err)
	}
	if target != "/media/tape/data/file" {
		t.Errorf("LiveLink target = %q", target)
	}

	// Write-opening a symlink is refused.
	if _, err := v.Open("/link", true, false); err != ltfs.ErrRdonlyVolume {
		t.Errorf("write-open of symlink: %v, want ErrRdonlyVolume", err)
	}
}

func TestReadDirOrder(t *testing.T) {
	v, _ := newLabeledVolume(t)
	for _, name := range []string{"/c", "/a", "/b"} {
		if _, err := v.Create(name, false, false); err != nil {
			t.Fatal(err)
		}
	}
	var names []string
	v.ReadDir("/", func(d *index.Dentry) bool {
		names = append(names, d.Name)
		return true
	})
	// Creation order equals UID order.
	if len(names) != 3 || names[0] != "c" || names[1] != "a" || names[2] != "b" {
		t.Errorf("readdir order = %v", names)
	}
}

func TestRemount(t *testing.T) {
	v, dev := newLabeledVolume(t)
	v.Create("/keep", false, false)
	h, _ := v.Open("/keep", true, false)
	v.Write(h, []byte("persistent"), 0)
	if err := v.SyncIndex(ltfs.SyncUnmount); err != nil {
		t.Fatal(err)
	}

	dr := tape.NewDrive(dev, &tape.Diagnostics{Dir: t.TempDir()})
	v2 := NewVolume(dr)
	res, err := v2.Mount()
	if err != nil {
		t.Fatal(err)
	}
	if res != MountClean {
		t.Errorf("mount result = %v", res)
	}
	if v2.Index().Generation != 1 {
		t.Errorf("generation after remount = %d", v2.Index().Generation)
	}
	h2, err := v2.Open("/keep", false, false)
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 32)
	n, err := v2.Read(h2, buf, 0)
	if err != nil || string(buf[:n]) != "persistent" {
		t.Errorf("read after remount = %q, %v", buf[:n], err)
	}
}
