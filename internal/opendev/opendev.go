// Package opendev resolves the device names the tools accept into an
// opened tape drive. Real hardware is addressed by its SCSI generic
// node; "vtape:<image>" opens a virtual cartridge image, creating it if
// absent, so the tools can be exercised without a drive.
package opendev

import (
	"os"
	"strings"

	"github.com/LinearTapeFileSystem/ltfs-go/internal/tape"
	"github.com/LinearTapeFileSystem/ltfs-go/internal/tape/vtape"
)

// Open opens devname and wraps it in the policy layer. The returned
// close function persists medium state where the backend has any.
func Open(devname string, diag *tape.Diagnostics) (*tape.Drive, func() error, error) {
	if img, ok := strings.CutPrefix(devname, "vtape:"); ok {
		return openVirtual(img, diag)
	}
	return openHardware(devname, diag)
}

func openVirtual(img string, diag *tape.Diagnostics) (*tape.Drive, func() error, error) {
	dev := vtape.New("VTAPE0")
	if f, err := os.Open(img); err == nil {
		err = dev.LoadImage(f)
		f.Close()
		if err != nil {
			return nil, nil, err
		}
	}
	save := func() error {
		f, err := os.Create(img)
		if err != nil {
			return err
		}
		defer f.Close()
		return dev.SaveImage(f)
	}
	return tape.NewDrive(dev, diag), save, nil
}
