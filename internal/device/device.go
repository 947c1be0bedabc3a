// Package device writes finished boot images to removable drives.
package device

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/atlas-os/atlas-disk/internal/utils/display"
	"github.com/atlas-os/atlas-disk/internal/utils/shell"
)

const (
	lsblkCmd        = "lsblk -d -o NAME,MODEL,SIZE,TRAN -b -J"
	physicalDiskCmd = "Get-PhysicalDisk | Select DeviceId,FriendlyName,Size,BusType | ConvertTo-Json"
)

var (
	ErrNotConfirmed = errors.New("write not confirmed")
	ErrNoDevices    = errors.New("no removable drives found")
	ErrNotElevated  = errors.New("administrator privileges are required")
)

// Device is a removable drive that can receive an image.
type Device struct {
	// ID is the kernel name on Linux ("sdb") and the disk number on Windows.
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	Size int64  `json:"size" yaml:"size"`
	Path string `json:"path" yaml:"path"`
}

func (d Device) String() string {
	return fmt.Sprintf("%s (%.2f GB) %s", d.Name, float64(d.Size)/(1024*1024*1024), d.Path)
}

// SizeString renders the device size the way build summaries do.
func (d Device) SizeString() string {
	return display.FormatSize(d.Size)
}

// flexInt accepts a JSON number or a quoted number.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid number %s: %w", b, err)
	}
	*f = flexInt(v)
	return nil
}

// flexString accepts a JSON string or a bare number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if string(b) == "null" {
		*f = ""
		return nil
	}
	*f = flexString(b)
	return nil
}

type lsblkOutput struct {
	BlockDevices []struct {
		Name  string  `json:"name"`
		Model *string `json:"model"`
		Size  flexInt `json:"size"`
		Tran  *string `json:"tran"`
	} `json:"blockdevices"`
}

// parseLsblk keeps the USB disks of an lsblk JSON listing.
func parseLsblk(out string) ([]Device, error) {
	var parsed lsblkOutput
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse lsblk output: %w", err)
	}

	var devices []Device
	for _, d := range parsed.BlockDevices {
		if d.Tran == nil || *d.Tran != "usb" {
			continue
		}
		name := "Unknown"
		if d.Model != nil && strings.TrimSpace(*d.Model) != "" {
			name = strings.TrimSpace(*d.Model)
		}
		devices = append(devices, Device{
			ID:   d.Name,
			Name: name,
			Size: int64(d.Size),
			Path: "/dev/" + d.Name,
		})
	}
	return devices, nil
}

type physicalDisk struct {
	DeviceID     flexString `json:"DeviceId"`
	FriendlyName string     `json:"FriendlyName"`
	Size         flexInt    `json:"Size"`
	BusType      flexString `json:"BusType"`
}

// parsePhysicalDisks keeps the USB disks of a Get-PhysicalDisk listing.
// ConvertTo-Json emits a bare object when there is a single disk.
func parsePhysicalDisks(out string) ([]Device, error) {
	out = strings.TrimSpace(out)
	if out == "" {
		return nil, nil
	}

	var disks []physicalDisk
	if strings.HasPrefix(out, "{") {
		var one physicalDisk
		if err := json.Unmarshal([]byte(out), &one); err != nil {
			return nil, fmt.Errorf("failed to parse Get-PhysicalDisk output: %w", err)
		}
		disks = append(disks, one)
	} else if err := json.Unmarshal([]byte(out), &disks); err != nil {
		return nil, fmt.Errorf("failed to parse Get-PhysicalDisk output: %w", err)
	}

	var devices []Device
	for _, d := range disks {
		// BusType is the enum name or its numeric value (7 is USB)
		if bus := string(d.BusType); bus != "USB" && bus != "7" {
			continue
		}
		devices = append(devices, Device{
			ID:   string(d.DeviceID),
			Name: d.FriendlyName,
			Size: int64(d.Size),
			Path: `\\.\PhysicalDrive` + string(d.DeviceID),
		})
	}
	return devices, nil
}

// ListRemovable enumerates USB drives through the default shell executor.
func ListRemovable() ([]Device, error) {
	return listRemovable(shell.Default, runtime.GOOS)
}

func listRemovable(exec shell.Executor, goos string) ([]Device, error) {
	if goos == "windows" {
		out, err := exec.ExecCmdSilent(physicalDiskCmd, false, nil)
		if err != nil {
			return nil, fmt.Errorf("drive enumeration failed: %w", err)
		}
		return parsePhysicalDisks(out)
	}

	out, err := exec.ExecCmdSilent(lsblkCmd, false, nil)
	if err != nil {
		return nil, fmt.Errorf("drive enumeration failed: %w", err)
	}
	return parseLsblk(out)
}

// Find returns the device whose path or ID equals target.
func Find(devices []Device, target string) (Device, bool) {
	for _, d := range devices {
		if d.Path == target || d.ID == target {
			return d, true
		}
	}
	return Device{}, false
}

func volumeLettersCmd(diskNumber string) string {
	return fmt.Sprintf("Get-Partition -DiskNumber %s | Get-Volume | Select -Expand DriveLetter", diskNumber)
}

// parseDriveLetters reads one drive letter per line.
func parseDriveLetters(out string) []string {
	var letters []string
	for _, line := range strings.Split(out, "\n") {
		l := strings.TrimSpace(line)
		if len(l) != 1 {
			continue
		}
		letters = append(letters, strings.ToUpper(l))
	}
	return letters
}
