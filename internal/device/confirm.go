package device

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ConfirmToken is the answer that authorizes a destructive write.
const ConfirmToken = "yes"

// Confirm asks before devicePath is overwritten. Only the token "yes"
// (any case, surrounding whitespace ignored) confirms.
func Confirm(in io.Reader, out io.Writer, devicePath, imagePath string) error {
	fmt.Fprintf(out, "\nAll data on %s will be destroyed.\nType YES to overwrite %s with %s: ", devicePath, devicePath, imagePath)

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return fmt.Errorf("failed to read confirmation: %w", err)
	}
	if !strings.EqualFold(strings.TrimSpace(line), ConfirmToken) {
		fmt.Fprintln(out, "Aborted.")
		return ErrNotConfirmed
	}
	return nil
}

// PromptDevice lists devices and reads the index of the one to use.
func PromptDevice(in io.Reader, out io.Writer, devices []Device) (Device, error) {
	if len(devices) == 0 {
		return Device{}, ErrNoDevices
	}
	for i, d := range devices {
		fmt.Fprintf(out, "[%d] %s\n", i, d)
	}
	fmt.Fprint(out, "Select drive index: ")

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return Device{}, fmt.Errorf("failed to read selection: %w", err)
	}
	idx, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || idx < 0 || idx >= len(devices) {
		return Device{}, fmt.Errorf("invalid drive index %q", strings.TrimSpace(line))
	}
	return devices[idx], nil
}
