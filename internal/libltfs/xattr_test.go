package libltfs

import (
	"strconv"
	"strings"
	"testing"
	"time"

	ltfs "github.com/LinearTapeFileSystem/ltfs-go"
)

func TestRealXattrRoundTrip(t *testing.T) {
	v, _ := newLabeledVolume(t)
	v.Create("/f", false, false)

	if err := v.SetXattr("/f", "user.color", []byte("blue")); err != nil {
		t.Fatal(err)
	}
	got, err := v.GetXattr("/f", "user.color")
	if err != nil || string(got) != "blue" {
		t.Fatalf("GetXattr = %q, %v", got, err)
	}

	names, err := v.ListXattr("/f")
	if err != nil || len(names) != 1 || names[0] != "user.color" {
		t.Fatalf("ListXattr = %v, %v", names, err)
	}

	if err := v.RemoveXattr("/f", "user.color"); err != nil {
		t.Fatal(err)
	}
	if _, err := v.GetXattr("/f", "user.color"); err != ltfs.ErrNoXattr {
		t.Fatalf("after remove: %v, want ErrNoXattr", err)
	}
	if err := v.RemoveXattr("/f", "user.color"); err != ltfs.ErrNoXattr {
		t.Fatalf("double remove: %v, want ErrNoXattr", err)
	}
}

func TestVirtualGetters(t *testing.T) {
	v, _ := withData(t)

	for _, tt := range []struct {
		key  string
		want string
	}{
		{"ltfs.volumeUUID", v.Label().VolumeUUID},
		{"ltfs.indexGeneration", "1"},
		{"ltfs.volumeBlocksize", strconv.Itoa(testBlocksize)},
		{"ltfs.partitionMap", "I:a,D:b"},
		{"ltfs.softwareFormatSpec", "2.4.0"},
		{"ltfs.volumeLockState", "unlocked"},
		{"ltfs.mamBarcode", "ABC123"},
	} {
		got, err := v.GetXattr("/", tt.key)
		if err != nil {
			t.Errorf("GetXattr(%s): %v", tt.key, err)
			continue
		}
		if string(got) != tt.want {
			t.Errorf("GetXattr(%s) = %q, want %q", tt.key, got, tt.want)
		}
	}

	loc, err := v.GetXattr("/", "ltfs.indexLocation")
	if err != nil || !strings.HasPrefix(string(loc), "a:") {
		t.Errorf("indexLocation = %q, %v", loc, err)
	}

	// Per-file placement attributes.
	part, err := v.GetXattr("/a.txt", "ltfs.partition")
	if err != nil || string(part) != "b" {
		t.Errorf("ltfs.partition = %q, %v", part, err)
	}
	blk, err := v.GetXattr("/a.txt", "ltfs.startblock")
	if err != nil || string(blk) != "4" {
		t.Errorf("ltfs.startblock = %q, %v", blk, err)
	}

	// Time attributes render in index format.
	ct, err := v.GetXattr("/a.txt", "ltfs.createTime")
	if err != nil {
		t.Fatal(err)
	}
	if _, perr := time.Parse("2006-01-02T15:04:05.000000000Z", string(ct)); perr != nil {
		t.Errorf("createTime %q does not parse: %v", ct, perr)
	}
}

func TestReservedNamespaceRejected(t *testing.T) {
	v, _ := newLabeledVolume(t)
	v.Create("/f", false, false)
	if err := v.SetXattr("/f", "ltfs.madeUpName", []byte("x")); err != ltfs.ErrRdonlyXattr {
		t.Fatalf("set reserved = %v, want ErrRdonlyXattr", err)
	}
	if _, err := v.GetXattr("/f", "ltfs.madeUpName"); err != ltfs.ErrNoXattr {
		t.Fatalf("get reserved = %v, want ErrNoXattr", err)
	}
	// Stored-EA exceptions pass through.
	if err := v.SetXattr("/f", "ltfs.permissions.posix", []byte("0644")); err != nil {
		t.Fatalf("stored-EA exception rejected: %v", err)
	}
}

func TestSyncViaXattr(t *testing.T) {
	v, _ := newLabeledVolume(t)
	v.Create("/f", false, false)
	if !v.Index().Dirty {
		t.Fatal("index not dirty after create")
	}
	if err := v.SetXattr("/", "ltfs.sync", []byte("1")); err != nil {
		t.Fatal(err)
	}
	if v.Index().Dirty {
		t.Error("index still dirty after ltfs.sync")
	}
	if v.Index().Generation != 1 {
		t.Errorf("generation = %d", v.Index().Generation)
	}
}

func TestCommitMessage(t *testing.T) {
	v, _ := newLabeledVolume(t)
	v.Create("/f", false, false)
	if err := v.SetXattr("/", "ltfs.commitMessage", []byte("before v2 load")); err != nil {
		t.Fatal(err)
	}
	got, err := v.GetXattr("/", "ltfs.commitMessage")
	if err != nil || string(got) != "before v2 load" {
		t.Fatalf("commitMessage = %q, %v", got, err)
	}
	// Oversized messages are rejected.
	if err := v.SetXattr("/", "ltfs.commitMessage", []byte(strings.Repeat("x", 5000))); err != ltfs.ErrLargeXattr {
		t.Fatalf("oversized commit message = %v, want ErrLargeXattr", err)
	}
	// The attribute is only meaningful on the root.
	if err := v.SetXattr("/f", "ltfs.commitMessage", []byte("no")); err != ltfs.ErrNoXattr {
		t.Fatalf("commitMessage on file = %v, want ErrNoXattr", err)
	}
}

func TestVolumeName(t *testing.T) {
	v, _ := newLabeledVolume(t)
	if err := v.SetXattr("/", "ltfs.volumeName", []byte("archive42")); err != nil {
		t.Fatal(err)
	}
	got, _ := v.GetXattr("/", "ltfs.volumeName")
	if string(got) != "archive42" {
		t.Errorf("volumeName = %q", got)
	}
}

func TestVolumeLockState(t *testing.T) {
	v, _ := newLabeledVolume(t)
	if err := v.SetXattr("/", "ltfs.volumeLockState", []byte("locked")); err != nil {
		t.Fatal(err)
	}
	if v.LockState() != ltfs.VolumeLocked {
		t.Errorf("lock state = %v", v.LockState())
	}
	// Locked volumes refuse writes.
	if _, err := v.Create("/nope", false, false); err != ltfs.ErrRdonlyVolume {
		t.Errorf("create on locked volume = %v, want ErrRdonlyVolume", err)
	}
	if err := v.SetXattr("/", "ltfs.volumeLockState", []byte("unlocked")); err != nil {
		t.Fatal(err)
	}

	// PWE states cannot be entered through the attribute.
	if err := v.SetXattr("/", "ltfs.volumeLockState", []byte("pwe")); err != ltfs.ErrBadArg {
		t.Errorf("set pwe = %v, want ErrBadArg", err)
	}

	// Permlocked is a one-way door.
	if err := v.SetXattr("/", "ltfs.volumeLockState", []byte("permlocked")); err != nil {
		t.Fatal(err)
	}
	if err := v.SetXattr("/", "ltfs.volumeLockState", []byte("unlocked")); err != ltfs.ErrBadArg {
		t.Errorf("unlock permlocked = %v, want ErrBadArg", err)
	}
}

func TestLockStateRejectedWithOpenFiles(t *testing.T) {
	v, _ := newLabeledVolume(t)
	v.Create("/f", false, false)
	h, err := v.Open("/f", false, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := v.SetXattr("/", "ltfs.volumeLockState", []byte("locked")); err != ltfs.ErrBadArg {
		t.Errorf("lock with open files = %v, want ErrBadArg", err)
	}
	v.Close(h, false)
	if err := v.SetXattr("/", "ltfs.volumeLockState", []byte("locked")); err != nil {
		t.Errorf("lock after close: %v", err)
	}
}

func TestForceErrorInjection(t *testing.T) {
	v, _ := newLabeledVolume(t)
	v.Create("/f", false, false)
	h, _ := v.Open("/f", true, false)

	// Rejected unless the volume runs with injection enabled.
	if err := v.SetXattr("/", "ltfs.vendor.IBM.forceErrorWrite", []byte("1")); err != ltfs.ErrRdonlyXattr {
		t.Fatalf("injection without gate = %v, want ErrRdonlyXattr", err)
	}

	v.TestInjection = true
	if err := v.SetXattr("/", "ltfs.vendor.IBM.forceErrorWrite", []byte("1")); err != nil {
		t.Fatal(err)
	}
	// First write passes, second hits the injected permanent error.
	if _, err := v.Write(h, []byte("ok"), 0); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if _, err := v.Write(h, []byte("boom"), 2); err != ltfs.ErrWritePerm {
		t.Fatalf("injected write = %v, want ErrWritePerm", err)
	}
}

func TestPeriodicSync(t *testing.T) {
	v, _ := newLabeledVolume(t)
	v.Create("/f", false, false)
	if err := v.StartPeriodicSync(1); err != nil {
		t.Fatal(err)
	}
	defer v.StopPeriodicSync()

	deadline := time.Now().Add(5 * time.Second)
	for v.Index().Dirty && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if v.Index().Dirty {
		t.Fatal("periodic sync did not flush the index")
	}
	if !v.PeriodicSyncRunning() {
		t.Fatal("periodic sync thread not alive")
	}
	v.StopPeriodicSync()
	if v.PeriodicSyncRunning() {
		t.Fatal("periodic sync still alive after stop")
	}
}
