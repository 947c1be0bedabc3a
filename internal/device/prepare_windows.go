//go:build windows

package device

import (
	"fmt"
	"os"

	"github.com/atlas-os/atlas-disk/internal/utils/logger"
	"github.com/atlas-os/atlas-disk/internal/utils/shell"
	"golang.org/x/sys/windows"
)

const (
	fsctlLockVolume     = 0x00090018
	fsctlDismountVolume = 0x00090020
)

// RequireElevated fails unless the process token is elevated.
func RequireElevated() error {
	if !windows.GetCurrentProcessToken().IsElevated() {
		return fmt.Errorf("%w: run from an elevated prompt", ErrNotElevated)
	}
	return nil
}

// prepareDevice locks and dismounts every volume on the disk. The returned
// func closes every handle; when any lock fails the handles already held are
// closed before returning.
func prepareDevice(exec shell.Executor, dev Device) (func(), error) {
	log := logger.Logger()

	out, err := exec.ExecCmdSilent(volumeLettersCmd(dev.ID), false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list volumes of disk %s: %w", dev.ID, err)
	}

	var handles []windows.Handle
	release := func() {
		for _, h := range handles {
			_ = windows.CloseHandle(h)
		}
		handles = nil
	}

	for _, letter := range parseDriveLetters(out) {
		h, err := lockAndDismount(letter)
		if err != nil {
			release()
			return nil, fmt.Errorf("failed to lock volume %s: %w", letter, err)
		}
		log.Infof("Locked and dismounted volume %s:", letter)
		handles = append(handles, h)
	}
	return release, nil
}

func lockAndDismount(letter string) (windows.Handle, error) {
	name, err := windows.UTF16PtrFromString(`\\.\` + letter + ":")
	if err != nil {
		return 0, err
	}
	h, err := windows.CreateFile(name,
		windows.GENERIC_READ|windows.GENERIC_WRITE,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE,
		nil, windows.OPEN_EXISTING, 0, 0)
	if err != nil {
		return 0, err
	}

	var returned uint32
	if err := windows.DeviceIoControl(h, fsctlLockVolume, nil, 0, nil, 0, &returned, nil); err != nil {
		_ = windows.CloseHandle(h)
		return 0, err
	}
	if err := windows.DeviceIoControl(h, fsctlDismountVolume, nil, 0, nil, 0, &returned, nil); err != nil {
		logger.Logger().Warnf("Dismount of %s: failed: %v", letter, err)
	}
	_ = windows.FlushFileBuffers(h)
	return h, nil
}

func openBlockDevice(path string) (blockDevice, error) {
	return os.OpenFile(path, os.O_RDWR, 0)
}
