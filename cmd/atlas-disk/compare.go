package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/atlas-os/atlas-disk/internal/image/imageinspect"
	"github.com/atlas-os/atlas-disk/internal/utils/logger"
	"github.com/spf13/cobra"
)

// Compare command flags
var (
	prettyDiffJSON bool   = true
	outFormat      string = "text" // "text" | "json"
	outMode        string = ""     // "full" | "diff" | "summary"
	hashImages     bool   = false
)

// createCompareCommand creates the compare subcommand
func createCompareCommand() *cobra.Command {
	compareCmd := &cobra.Command{
		Use:   "compare [flags] IMAGE_FILE1 IMAGE_FILE2",
		Short: "compares two boot image files",
		Long: `Compare inspects two boot images and reports how they differ:
boot sector fields, volume label, and files added, removed or modified.
Start cluster moves are reported as volatile differences; with --hash-images
file contents are compared too.`,
		Args:              cobra.ExactArgs(2),
		RunE:              executeCompare,
		ValidArgsFunction: imageFileCompletion,
	}

	compareCmd.Flags().BoolVar(&prettyDiffJSON, "pretty", true,
		"Pretty-print JSON output (only for --format json)")
	compareCmd.Flags().StringVar(&outFormat, "format", "text",
		"Output format: text or json")
	compareCmd.Flags().StringVar(&outMode, "mode", "",
		"Output mode: full, diff, or summary (default: diff for text, full for json)")
	compareCmd.Flags().BoolVar(&hashImages, "hash-images", false,
		"Compute SHA256 of images and files (slower but enables identity verification)")
	return compareCmd
}

func resolveDefaults(format, mode string) (string, string) {
	format = strings.ToLower(format)
	mode = strings.ToLower(mode)

	if mode == "" {
		if format == "json" {
			mode = "full"
		} else {
			mode = "diff"
		}
	}
	return format, mode
}

// executeCompare handles the compare command execution logic
func executeCompare(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	imageFile1 := args[0]
	imageFile2 := args[1]
	log.Infof("Comparing image files: (%s) & (%s)", imageFile1, imageFile2)

	inspector := newInspector(hashImages)

	image1, err := inspector.Inspect(imageFile1)
	if err != nil {
		return fmt.Errorf("image inspection failed: %w", err)
	}
	image2, err := inspector.Inspect(imageFile2)
	if err != nil {
		return fmt.Errorf("image inspection failed: %w", err)
	}

	compareResult := imageinspect.CompareImages(image1, image2)

	format, mode := resolveDefaults(outFormat, outMode)

	switch format {
	case "json":
		var payload any
		switch mode {
		case "full":
			payload = &compareResult
		case "diff":
			payload = struct {
				EqualityClass string                 `json:"equalityClass"`
				Diff          imageinspect.ImageDiff `json:"diff"`
			}{EqualityClass: string(compareResult.Equality.Class), Diff: compareResult.Diff}
		case "summary":
			payload = struct {
				EqualityClass string                      `json:"equalityClass"`
				Summary       imageinspect.CompareSummary `json:"summary"`
			}{EqualityClass: string(compareResult.Equality.Class), Summary: compareResult.Summary}
		default:
			return fmt.Errorf("invalid --mode %q (expected diff|summary|full)", mode)
		}
		return writeCompareResult(cmd, payload, prettyDiffJSON)

	case "text":
		return imageinspect.RenderCompareText(cmd.OutOrStdout(), &compareResult,
			imageinspect.CompareTextOptions{Mode: mode})

	default:
		return fmt.Errorf("invalid --format %q (expected text|json)", outFormat)
	}
}

func writeCompareResult(cmd *cobra.Command, v any, pretty bool) error {
	out := cmd.OutOrStdout()

	var (
		b   []byte
		err error
	)
	if pretty {
		b, err = json.MarshalIndent(v, "", "  ")
	} else {
		b, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	_, _ = fmt.Fprintln(out, string(b))
	return nil
}
