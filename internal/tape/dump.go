package tape

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	cpio "github.com/cavaliercoder/go-cpio"
	"github.com/google/renameio"
	pgzip "github.com/klauspost/pgzip"
)

// Diagnostics files drive dumps. Dumps are captured automatically on
// medium and hardware errors (unless disabled) and on operator request,
// compressed in 512 KiB chunks and written atomically so a crashed
// capture never leaves a truncated file behind.
type Diagnostics struct {
	// Dir receives the dump files. Empty means the OS temp directory.
	Dir string

	// Disabled turns off automatic capture; forced dumps still work.
	Disabled bool
}

// dumpChunkSize is the READ_BUFFER transfer unit of the backends and the
// compressor block size here.
const dumpChunkSize = 512 * 1024

func (dg *Diagnostics) dir() string {
	if dg.Dir != "" {
		return dg.Dir
	}
	return os.TempDir()
}

// Capture pulls the drive dump from dev and files it under the dump
// directory as ltfs_<serial>_<timestamp>.ltd.gz. It returns the final path.
func (dg *Diagnostics) Capture(dev Device, forced bool) (string, error) {
	if dg.Disabled && !forced {
		return "", nil
	}
	name := fmt.Sprintf("ltfs_%s_%s.ltd.gz",
		dev.SerialNumber(), time.Now().UTC().Format("20060102_150405"))
	path := filepath.Join(dg.dir(), name)

	t, err := renameio.TempFile(dg.dir(), path)
	if err != nil {
		return "", err
	}
	defer t.Cleanup()

	zw := pgzip.NewWriter(t)
	if err := zw.SetConcurrency(dumpChunkSize, 4); err != nil {
		return "", err
	}
	if err := dev.DumpDrive(zw); err != nil {
		zw.Close()
		return "", err
	}
	if err := zw.Close(); err != nil {
		return "", err
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return "", err
	}
	log.Printf("captured drive dump: %s", path)
	return path, nil
}

// Bundle collects already-captured files into a single cpio archive for
// support upload and returns its path.
func (dg *Diagnostics) Bundle(name string, paths []string) (string, error) {
	out := filepath.Join(dg.dir(), name)
	t, err := renameio.TempFile(dg.dir(), out)
	if err != nil {
		return "", err
	}
	defer t.Cleanup()

	wr := cpio.NewWriter(t)
	for _, p := range paths {
		fi, err := os.Stat(p)
		if err != nil {
			return "", err
		}
		if err := wr.WriteHeader(&cpio.Header{
			Name: filepath.Base(p),
			Mode: cpio.FileMode(fi.Mode().Perm()),
			Size: fi.Size(),
		}); err != nil {
			return "", err
		}
		f, err := os.Open(p)
		if err != nil {
			return "", err
		}
		if _, err := io.Copy(wr, f); err != nil {
			f.Close()
			return "", err
		}
		f.Close()
	}
	if err := wr.Close(); err != nil {
		return "", err
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return "", err
	}
	return out, nil
}
