package dcache

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	ltfs "github.com/LinearTapeFileSystem/ltfs-go"
	"github.com/LinearTapeFileSystem/ltfs-go/internal/index"
)

func newTestCache(t *testing.T) *Disk {
	t.Helper()
	c := NewDisk(t.TempDir())
	if err := c.AssignName("ABC123"); err != nil {
		t.Fatal(err)
	}
	if err := c.MkCache(); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestCacheLifecycle(t *testing.T) {
	c := newTestCache(t)
	ok, err := c.CacheExists()
	if err != nil || !ok {
		t.Fatalf("CacheExists = %v, %v", ok, err)
	}
	assigned, err := c.IsNameAssigned()
	if err != nil || !assigned {
		t.Fatalf("IsNameAssigned = %v, %v", assigned, err)
	}
	if err := c.RmCache(); err != nil {
		t.Fatal(err)
	}
	ok, err = c.CacheExists()
	if err != nil || ok {
		t.Fatalf("CacheExists after rm = %v, %v", ok, err)
	}
}

func TestStateFiles(t *testing.T) {
	c := newTestCache(t)
	if err := c.SetVolUUID("uuid-1"); err != nil {
		t.Fatal(err)
	}
	if err := c.SetGeneration(42); err != nil {
		t.Fatal(err)
	}
	if err := c.SetDirty(true); err != nil {
		t.Fatal(err)
	}

	uuid, err := c.GetVolUUID()
	if err != nil || uuid != "uuid-1" {
		t.Errorf("GetVolUUID = %q, %v", uuid, err)
	}
	gen, err := c.GetGeneration()
	if err != nil || gen != 42 {
		t.Errorf("GetGeneration = %d, %v", gen, err)
	}
	dirty, err := c.GetDirty()
	if err != nil || !dirty {
		t.Errorf("GetDirty = %v, %v", dirty, err)
	}
}

func TestAdvisoryLock(t *testing.T) {
	c := newTestCache(t)
	if err := c.GetAdvisoryLock(); err != nil {
		t.Fatal(err)
	}
	// A second cache on the same directory cannot take the lock.
	c2 := NewDisk(c.workdir)
	if err := c2.AssignName("ABC123"); err != nil {
		t.Fatal(err)
	}
	if err := c2.GetAdvisoryLock(); err != ltfs.ErrRestartOperation {
		t.Fatalf("second lock: %v, want ErrRestartOperation", err)
	}
	if err := c.PutAdvisoryLock(); err != nil {
		t.Fatal(err)
	}
	if err := c2.GetAdvisoryLock(); err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	c2.PutAdvisoryLock()
}

func TestMirrorCreateLookupUnlink(t *testing.T) {
	c := newTestCache(t)

	dir := index.NewDentry(2, "docs", true)
	if err := c.Create("/docs", dir); err != nil {
		t.Fatal(err)
	}
	f := index.NewDentry(3, "a.txt", false)
	f.AddExtent(index.Extent{Partition: 'b', StartBlock: 4, ByteCount: 32}, 512*1024)
	f.SetXattr("user.tag", []byte("v"))
	if err := c.Create("/docs/a.txt", f); err != nil {
		t.Fatal(err)
	}

	got, err := c.Open("/docs/a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "a.txt" || got.Size != f.Size {
		t.Errorf("mirrored dentry = %+v", got)
	}
	if diff := cmp.Diff(f.Extents, got.Extents); diff != "" {
		t.Errorf("extent diff (-want +got):\n%s", diff)
	}

	names, err := c.ReadDir("/docs")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a.txt"}, names); diff != "" {
		t.Errorf("readdir diff (-want +got):\n%s", diff)
	}

	if err := c.Unlink("/docs/a.txt", f); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Open("/docs/a.txt"); err != ltfs.ErrNoDentry {
		t.Errorf("Open after unlink: %v, want ErrNoDentry", err)
	}
}

func TestMirrorRename(t *testing.T) {
	c := newTestCache(t)
	dir := index.NewDentry(2, "d1", true)
	if err := c.Create("/d1", dir); err != nil {
		t.Fatal(err)
	}
	f := index.NewDentry(3, "x", false)
	if err := c.Create("/d1/x", f); err != nil {
		t.Fatal(err)
	}
	f.Name = "y"
	if err := c.Rename("/d1/x", "/d1/y", f); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Open("/d1/x"); err != ltfs.ErrNoDentry {
		t.Errorf("old name still present: %v", err)
	}
	got, err := c.Open("/d1/y")
	if err != nil || got.Name != "y" {
		t.Errorf("Open new name = %+v, %v", got, err)
	}
}

func TestRecursiveFlush(t *testing.T) {
	c := newTestCache(t)
	root := index.NewDentry(1, "", true)
	dir := index.NewDentry(2, "sub", true)
	root.AddChild(dir)
	f := index.NewDentry(3, "f", false)
	dir.AddChild(f)

	if err := c.Create("/sub", dir); err != nil {
		t.Fatal(err)
	}
	if err := c.Flush(dir, FlushAll|FlushRecursive); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Open("/sub/f"); err != nil {
		t.Errorf("child not flushed: %v", err)
	}
}
