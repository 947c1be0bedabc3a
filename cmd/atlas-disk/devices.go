package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/atlas-os/atlas-disk/internal/device"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Allow tests to inject a fixed device list.
var listDevices = device.ListRemovable

var devicesFormat string = "text"

// createDevicesCommand creates the devices subcommand
func createDevicesCommand() *cobra.Command {
	devicesCmd := &cobra.Command{
		Use:   "devices [flags]",
		Short: "List removable drives that can receive an image",
		Long: `Devices lists the USB drives attached to this machine. Only drives
on the USB bus are shown, so internal disks never appear as burn targets.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			switch devicesFormat {
			case "text", "json", "yaml":
				return nil
			default:
				return fmt.Errorf("unsupported --format %q (supported: text, json, yaml)", devicesFormat)
			}
		},
		RunE: executeDevices,
	}

	devicesCmd.Flags().StringVar(&devicesFormat, "format", "text",
		"Output format: text, json or yaml")

	return devicesCmd
}

// executeDevices handles the devices command logic
func executeDevices(cmd *cobra.Command, args []string) error {
	devices, err := listDevices()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	switch devicesFormat {
	case "json":
		if devices == nil {
			devices = []device.Device{}
		}
		b, err := json.MarshalIndent(devices, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal json: %w", err)
		}
		_, _ = fmt.Fprintln(out, string(b))
	case "yaml":
		b, err := yaml.Marshal(devices)
		if err != nil {
			return fmt.Errorf("marshal yaml: %w", err)
		}
		_, _ = fmt.Fprint(out, string(b))
	default:
		if len(devices) == 0 {
			_, _ = fmt.Fprintln(out, "No removable drives found.")
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "INDEX\tPATH\tSIZE\tNAME")
		for i, d := range devices {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i, d.Path, d.SizeString(), d.Name)
		}
		return tw.Flush()
	}
	return nil
}
