package libltfs

import (
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	ltfs "github.com/LinearTapeFileSystem/ltfs-go"
)

// withGenerations produces a volume whose chain holds generations 1..4.
func withGenerations(t *testing.T) *Volume {
	t.Helper()
	v, _ := withData(t) // generation 1
	for i, name := range []string{"/b.txt", "/c.txt", "/d.txt"} {
		if _, err := v.Create(name, false, false); err != nil {
			t.Fatal(err)
		}
		if err := v.SyncIndex(ltfs.SyncEA); err != nil {
			t.Fatal(err)
		}
		if got, want := v.Index().Generation, uint64(i+2); got != want {
			t.Fatalf("generation = %d, want %d", got, want)
		}
	}
	return v
}

func TestListRollbackPoints(t *testing.T) {
	v := withGenerations(t)

	points, err := v.ListRollbackPoints(TraverseBackward, "")
	if err != nil {
		t.Fatal(err)
	}
	var gens []uint64
	for _, p := range points {
		gens = append(gens, p.Generation)
		if p.Selfptr.Partition == 0 {
			t.Errorf("generation %d has no self pointer", p.Generation)
		}
	}
	if diff := cmp.Diff([]uint64{4, 3, 2, 1}, gens); diff != "" {
		t.Errorf("backward generations (-want +got):\n%s", diff)
	}

	forward, err := v.ListRollbackPoints(TraverseForward, "")
	if err != nil {
		t.Fatal(err)
	}
	if forward[0].Generation != 1 || forward[len(forward)-1].Generation != 4 {
		t.Errorf("forward order broken: %+v", forward)
	}
}

func TestRollbackPreservesGeneration(t *testing.T) {
	v := withGenerations(t)

	if err := v.Rollback(2, false); err != nil {
		t.Fatal(err)
	}
	idx := v.Index()
	if idx.Generation != 4 {
		t.Errorf("generation after rollback = %d, want 4 (preserved)", idx.Generation)
	}
	// The tree is generation 2's: a.txt and b.txt exist, c/d do not.
	for _, want := range []string{"/a.txt", "/b.txt"} {
		if _, err := v.Lookup(want); err != nil {
			t.Errorf("%s missing after rollback: %v", want, err)
		}
	}
	for _, gone := range []string{"/c.txt", "/d.txt"} {
		if _, err := v.Lookup(gone); err != ltfs.ErrNoDentry {
			t.Errorf("%s still present after rollback: %v", gone, err)
		}
	}

	// The chain still enumerates every generation.
	points, err := v.ListRollbackPoints(TraverseBackward, "")
	if err != nil {
		t.Fatal(err)
	}
	var gens []uint64
	for _, p := range points {
		gens = append(gens, p.Generation)
	}
	if diff := cmp.Diff([]uint64{4, 3, 2, 1}, gens); diff != "" {
		t.Errorf("generations after rollback (-want +got):\n%s", diff)
	}
}

func TestRollbackForwardAgain(t *testing.T) {
	v := withGenerations(t)
	if err := v.Rollback(2, false); err != nil {
		t.Fatal(err)
	}
	// Rolling "forward" to a later generation along the chain works
	// because nothing was erased.
	if err := v.Rollback(3, false); err != nil {
		t.Fatal(err)
	}
	if _, err := v.Lookup("/c.txt"); err != nil {
		t.Errorf("c.txt missing after roll-forward: %v", err)
	}
	if _, err := v.Lookup("/d.txt"); err != ltfs.ErrNoDentry {
		t.Errorf("d.txt resurrected: %v", err)
	}
}

func TestRollbackUnknownGeneration(t *testing.T) {
	v := withGenerations(t)
	if err := v.Rollback(99, false); err != ltfs.ErrNoIndex {
		t.Fatalf("rollback to unknown generation = %v, want ErrNoIndex", err)
	}
}

func TestRollbackDirtyRefused(t *testing.T) {
	v := withGenerations(t)
	if _, err := v.Create("/dirty", false, false); err != nil {
		t.Fatal(err)
	}
	if err := v.Rollback(2, false); err != ltfs.ErrInconsistent {
		t.Fatalf("rollback with dirty index = %v, want ErrInconsistent", err)
	}
}

func TestCaptureIndexes(t *testing.T) {
	v := withGenerations(t)
	dir := t.TempDir()
	if _, err := v.ListRollbackPoints(TraverseBackward, dir); err != nil {
		t.Fatal(err)
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.xml.gz"))
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 4 {
		t.Fatalf("captured %d indexes, want 4", len(matches))
	}
	// Captures decompress to well-formed index XML.
	f, err := os.Open(matches[0])
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	head := make([]byte, 64)
	n, _ := zr.Read(head)
	if n == 0 {
		t.Fatal("empty capture")
	}
}

func TestRollbackEraseHistory(t *testing.T) {
	v := withGenerations(t)
	if err := v.Rollback(2, true); err != nil {
		t.Fatal(err)
	}
	idx := v.Index()
	if idx.Generation != 2 {
		t.Errorf("generation after erase = %d, want 2", idx.Generation)
	}
	if _, err := v.Lookup("/c.txt"); err != ltfs.ErrNoDentry {
		t.Errorf("c.txt survived erase: %v", err)
	}
	points, err := v.ListRollbackPoints(TraverseBackward, "")
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range points {
		if p.Generation > 2 {
			t.Errorf("generation %d still reachable after erase", p.Generation)
		}
	}
}
