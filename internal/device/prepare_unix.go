//go:build !windows

package device

import (
	"fmt"
	"os"

	"github.com/atlas-os/atlas-disk/internal/utils/logger"
	"github.com/atlas-os/atlas-disk/internal/utils/shell"
)

var mountsFile = "/proc/mounts"

// RequireElevated fails unless the process runs as root.
func RequireElevated() error {
	if os.Geteuid() != 0 {
		return fmt.Errorf("%w: run as root", ErrNotElevated)
	}
	return nil
}

// prepareDevice unmounts every mounted partition of dev.
func prepareDevice(exec shell.Executor, dev Device) (func(), error) {
	log := logger.Logger()

	data, err := os.ReadFile(mountsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", mountsFile, err)
	}
	for _, mp := range mountedPartitions(string(data), dev.Path) {
		log.Infof("Unmounting %s", mp)
		if _, err := exec.ExecCmd(fmt.Sprintf("umount %q", mp), false, nil); err != nil {
			return nil, fmt.Errorf("failed to unmount %s: %w", mp, err)
		}
	}
	return func() {}, nil
}

func openBlockDevice(path string) (blockDevice, error) {
	return os.OpenFile(path, os.O_RDWR|os.O_EXCL, 0)
}
