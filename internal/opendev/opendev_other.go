//go:build !linux

package opendev

import (
	"fmt"

	"github.com/LinearTapeFileSystem/ltfs-go/internal/tape"
)

func openHardware(devname string, diag *tape.Diagnostics) (*tape.Drive, func() error, error) {
	return nil, nil, fmt.Errorf("no tape pass-through backend on this platform (device %s)", devname)
}
