package tape_test

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	cpio "github.com/cavaliercoder/go-cpio"
	pgzip "github.com/klauspost/pgzip"

	"github.com/LinearTapeFileSystem/ltfs-go/internal/tape"
	"github.com/LinearTapeFileSystem/ltfs-go/internal/tape/vtape"
)

func TestCaptureAndBundle(t *testing.T) {
	dir := t.TempDir()
	diag := &tape.Diagnostics{Dir: dir}
	dev := vtape.New("DUMP01")
	dr := tape.NewDrive(dev, diag)

	path, err := dr.TakeDump()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(path, ".ltd.gz") {
		t.Fatalf("dump path = %q", path)
	}

	// The capture decompresses to the backend's dump stream.
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zr, err := pgzip.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	content, err := io.ReadAll(zr)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(content), "DUMP01") {
		t.Errorf("dump content = %q", content)
	}

	bundle, err := diag.Bundle("support.cpio", []string{path})
	if err != nil {
		t.Fatal(err)
	}
	bf, err := os.Open(bundle)
	if err != nil {
		t.Fatal(err)
	}
	defer bf.Close()
	rd := cpio.NewReader(bf)
	hdr, err := rd.Next()
	if err != nil {
		t.Fatal(err)
	}
	if hdr.Name != filepath.Base(path) {
		t.Errorf("bundle member = %q, want %q", hdr.Name, filepath.Base(path))
	}
}

func TestAutoCaptureDisabled(t *testing.T) {
	diag := &tape.Diagnostics{Dir: t.TempDir(), Disabled: true}
	dev := vtape.New("DUMP02")
	if path, err := diag.Capture(dev, false); err != nil || path != "" {
		t.Fatalf("disabled capture = %q, %v", path, err)
	}
	// Forced captures bypass the switch.
	if path, err := diag.Capture(dev, true); err != nil || path == "" {
		t.Fatalf("forced capture = %q, %v", path, err)
	}
}
