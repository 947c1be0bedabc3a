package main

import (
	"encoding/json"
	"fmt"

	"github.com/atlas-os/atlas-disk/internal/image/imageinspect"
	"github.com/atlas-os/atlas-disk/internal/utils/logger"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// cmd needs only this method.
type inspector interface {
	Inspect(imagePath string) (*imageinspect.ImageSummary, error)
}

// Allow tests to inject a fake inspector.
var newInspector = func(hashFiles bool) inspector {
	return imageinspect.NewInspector(hashFiles)
}

// Allow tests to inject a fake file reader.
var readImageFile = imageinspect.ReadFile

// Inspect command flags
var (
	outputFormat string = "text"
	prettyJSON   bool   = false
	hashFiles    bool   = false
	catPath      string = ""
	strict       bool   = false
)

// createInspectCommand creates the inspect subcommand
func createInspectCommand() *cobra.Command {
	inspectCmd := &cobra.Command{
		Use:   "inspect [flags] IMAGE_FILE",
		Short: "inspects a boot image file",
		Long: `Inspect decodes a boot image and reports its boot sector fields,
the FAT32 volume layout, the result of every structural check and the full
directory tree with the cluster chain of each file.

With --cat the content of a single file inside the image is written to
standard output instead.`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			switch outputFormat {
			case "text", "json", "yaml":
				return nil
			default:
				return fmt.Errorf("unsupported --format %q (supported: text, json, yaml)", outputFormat)
			}
		},
		RunE:              executeInspect,
		ValidArgsFunction: imageFileCompletion,
	}

	inspectCmd.Flags().StringVar(&outputFormat, "format", "text",
		"Specify the output format for the inspection results")
	inspectCmd.Flags().BoolVar(&prettyJSON, "pretty", false,
		"Pretty-print JSON output (only for --format json)")
	inspectCmd.Flags().BoolVar(&hashFiles, "hash", false,
		"Compute SHA256 of the image and of every file in it")
	inspectCmd.Flags().StringVar(&catPath, "cat", "",
		"Print the content of this file from the image and exit")
	inspectCmd.Flags().BoolVar(&strict, "strict", false,
		"Exit with an error when any structural check fails")

	return inspectCmd
}

// executeInspect handles the inspect command execution logic
func executeInspect(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	imageFile := args[0]

	if catPath != "" {
		data, err := readImageFile(imageFile, catPath)
		if err != nil {
			return fmt.Errorf("failed to read %s from image: %w", catPath, err)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}

	log.Infof("Inspecting image file: %s", imageFile)

	summary, err := newInspector(hashFiles).Inspect(imageFile)
	if err != nil {
		return fmt.Errorf("image inspection failed: %w", err)
	}

	if err := writeInspectionResult(cmd, summary, outputFormat, prettyJSON); err != nil {
		return err
	}

	if failed := summary.Failed(); strict && len(failed) > 0 {
		return fmt.Errorf("%d structural check(s) failed", len(failed))
	}
	return nil
}

func writeInspectionResult(cmd *cobra.Command, summary *imageinspect.ImageSummary, format string, pretty bool) error {
	out := cmd.OutOrStdout()

	switch format {
	case "text":
		imageinspect.PrintSummary(out, summary)
		return nil

	case "json":
		var (
			b   []byte
			err error
		)
		if pretty {
			b, err = json.MarshalIndent(summary, "", "  ")
		} else {
			b, err = json.Marshal(summary)
		}
		if err != nil {
			return fmt.Errorf("marshal json: %w", err)
		}
		_, _ = fmt.Fprintln(out, string(b))
		return nil

	case "yaml":
		b, err := yaml.Marshal(summary)
		if err != nil {
			return fmt.Errorf("marshal yaml: %w", err)
		}
		_, _ = fmt.Fprintln(out, string(b))
		return nil

	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}
