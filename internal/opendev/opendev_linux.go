//go:build linux

package opendev

import (
	"github.com/LinearTapeFileSystem/ltfs-go/internal/tape"
	"github.com/LinearTapeFileSystem/ltfs-go/internal/tape/sgio"
)

func openHardware(devname string, diag *tape.Diagnostics) (*tape.Drive, func() error, error) {
	dev, err := sgio.Open(devname)
	if err != nil {
		return nil, nil, err
	}
	return tape.NewDrive(dev, diag), func() error { return nil }, nil
}
