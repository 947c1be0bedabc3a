package main

import (
	"fmt"

	"github.com/atlas-os/atlas-disk/internal/config"
	"github.com/atlas-os/atlas-disk/internal/utils/logger"
	"github.com/spf13/cobra"
)

// createValidateCommand creates the validate subcommand
func createValidateCommand() *cobra.Command {
	validateCmd := &cobra.Command{
		Use:   "validate [flags] MANIFEST_FILE",
		Short: "Validate a build manifest",
		Long: `Validate a build manifest against the schema without building it.
The manifest must be in YAML format following the manifest schema.
This allows checking for errors before writing an image.`,
		Args:              cobra.ExactArgs(1),
		RunE:              executeValidate,
		ValidArgsFunction: manifestFileCompletion,
	}

	return validateCmd
}

// executeValidate handles the validate command logic
func executeValidate(cmd *cobra.Command, args []string) error {
	log := logger.Logger()

	manifestPath := args[0]
	log.Infof("validating manifest file: %s", manifestPath)

	manifest, err := config.LoadManifest(manifestPath)
	if err != nil {
		return fmt.Errorf("manifest validation failed: %w", err)
	}

	log.Infof("✓ Manifest validation successful")
	for _, line := range manifest.Summary() {
		log.Infof("  %s", line)
	}

	if verbose && len(manifest.Files) > 0 {
		log.Infof("  File list:")
		for _, f := range manifest.Files {
			log.Infof("    - %s <- %s", f.Target, f.Source)
		}
	}

	return nil
}
