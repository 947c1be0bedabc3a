package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/atlas-os/atlas-disk/internal/device"
	"github.com/atlas-os/atlas-disk/internal/utils/logger"
	"github.com/spf13/cobra"
)

type imageBurner interface {
	Burn(imagePath string, dev device.Device) (*device.BurnResult, error)
}

// Test seams for the parts that touch real hardware.
var (
	requireElevated = device.RequireElevated
	selectDevice    = device.SelectDevice
	newBurner       = func(progress io.Writer) imageBurner {
		return device.NewWriter(progress)
	}
)

var noTUI bool = false

// createBurnCommand creates the burn subcommand
func createBurnCommand() *cobra.Command {
	burnCmd := &cobra.Command{
		Use:   "burn [flags] IMAGE_FILE [DEVICE]",
		Short: "Write a boot image to a USB drive",
		Long: `Burn writes IMAGE_FILE to a removable drive, destroying everything on
it. DEVICE is a path or ID as listed by "atlas-disk devices"; without it the
drive is picked interactively. Every write must be confirmed by typing YES.

Compressed images (.gz, .zst, .xz) are decompressed on the fly.`,
		Args:              cobra.RangeArgs(1, 2),
		RunE:              executeBurn,
		ValidArgsFunction: imageFileCompletion,
	}

	burnCmd.Flags().BoolVar(&noTUI, "no-tui", false,
		"Pick the drive from a numbered prompt instead of the full-screen list")

	return burnCmd
}

// executeBurn handles the burn command logic
func executeBurn(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	imageFile := args[0]

	if _, err := os.Stat(imageFile); err != nil {
		return fmt.Errorf("cannot read image: %w", err)
	}
	if err := requireElevated(); err != nil {
		return err
	}

	devices, err := listDevices()
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		return device.ErrNoDevices
	}

	// Selection and confirmation share one buffered reader.
	in := bufio.NewReader(cmd.InOrStdin())
	out := cmd.OutOrStdout()

	var target device.Device
	switch {
	case len(args) == 2:
		d, ok := device.Find(devices, args[1])
		if !ok {
			return fmt.Errorf("%s is not a removable drive; run \"atlas-disk devices\" to list targets", args[1])
		}
		target = d
	case noTUI:
		target, err = device.PromptDevice(in, out, devices)
	default:
		target, err = selectDevice(devices)
	}
	if err != nil {
		return err
	}

	if err := device.Confirm(in, out, target.Path, imageFile); err != nil {
		return err
	}

	res, err := newBurner(cmd.ErrOrStderr()).Burn(imageFile, target)
	if err != nil {
		return fmt.Errorf("burn failed: %w", err)
	}

	log.Infof("Wrote %d bytes to %s", res.BytesWritten, target.Path)
	if !res.SignatureVerified {
		log.Warnf("The drive may not boot: no boot signature found after writing")
	}
	return nil
}
