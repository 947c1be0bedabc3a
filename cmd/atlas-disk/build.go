package main

import (
	"fmt"

	"github.com/atlas-os/atlas-disk/internal/config"
	"github.com/atlas-os/atlas-disk/internal/image/rawmaker"
	"github.com/atlas-os/atlas-disk/internal/utils/logger"
	"github.com/spf13/cobra"
)

// Build command flags
var (
	manifestFile  string = ""
	buildLabel    string = ""
	buildCompress string = ""
	signKey       string = ""
	signPassEnv   string = ""
)

// Allow tests to swap the image builder.
var newImageBuilder = func() imageBuilder {
	return rawmaker.NewRawMaker()
}

type imageBuilder interface {
	Build(manifest *config.ImageManifest) (*rawmaker.BuildResult, error)
}

// createBuildCommand creates the build subcommand
func createBuildCommand() *cobra.Command {
	buildCmd := &cobra.Command{
		Use:   "build [flags] OUTPUT BOOT1 BOOT2 CONFIG [TARGET SOURCE]...",
		Short: "Build a bootable FAT32 image",
		Long: `Build lays out a FAT32 image with the first-stage bootloader in the
boot sector, the second stage in the reserved sectors after it, the boot
configuration as ATLAS.CFG in the root directory and every extra TARGET SOURCE
pair at the given path inside the image.

Instead of positional arguments the build can be described by a YAML manifest
passed with --manifest.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if manifestFile != "" {
				if len(args) != 0 {
					return fmt.Errorf("positional arguments cannot be combined with --manifest")
				}
				return nil
			}
			if len(args) < 4 {
				return fmt.Errorf("requires OUTPUT BOOT1 BOOT2 CONFIG, got %d argument(s)", len(args))
			}
			if (len(args)-4)%2 != 0 {
				return fmt.Errorf("%w: %q has no source", config.ErrOddArguments, args[len(args)-1])
			}
			return nil
		},
		RunE: executeBuild,
	}

	buildCmd.Flags().StringVar(&manifestFile, "manifest", "",
		"YAML manifest describing the build")
	buildCmd.Flags().StringVar(&buildLabel, "label", "",
		"Volume label (default \"ATLAS BOOT\")")
	buildCmd.Flags().StringVar(&buildCompress, "compress", "",
		"Also write a compressed copy: gzip, zstd or xz")
	buildCmd.Flags().StringVar(&signKey, "sign-key", "",
		"Armored OpenPGP private key used to write a detached signature")
	buildCmd.Flags().StringVar(&signPassEnv, "sign-passphrase-env", "",
		"Environment variable holding the signing key passphrase")

	_ = buildCmd.RegisterFlagCompletionFunc("manifest", manifestFileCompletion)
	_ = buildCmd.RegisterFlagCompletionFunc("compress", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{config.CompressionGzip, config.CompressionZstd, config.CompressionXz}, cobra.ShellCompDirectiveNoFileComp
	})

	return buildCmd
}

// executeBuild handles the build command logic
func executeBuild(cmd *cobra.Command, args []string) error {
	log := logger.Logger()

	manifest, err := loadBuildManifest(args)
	if err != nil {
		return err
	}
	applyBuildOverrides(manifest)

	if err := config.ValidateManifest(manifest); err != nil {
		return fmt.Errorf("invalid build request: %w", err)
	}

	for _, line := range manifest.Summary() {
		log.Debugf("  %s", line)
	}

	result, err := newImageBuilder().Build(manifest)
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}

	log.Infof("Image ready: %s", result.ImagePath)
	return nil
}

func loadBuildManifest(args []string) (*config.ImageManifest, error) {
	if manifestFile != "" {
		m, err := config.LoadManifest(manifestFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load manifest: %w", err)
		}
		return m, nil
	}
	return config.ManifestFromArgs(args)
}

// applyBuildOverrides lets command line flags win over the manifest.
func applyBuildOverrides(m *config.ImageManifest) {
	if buildLabel != "" {
		m.Label = buildLabel
	}
	if buildCompress != "" {
		m.Artifacts.Compression = buildCompress
	}
	if signKey != "" {
		m.Artifacts.Sign = &config.SignConfig{Key: signKey, PassphraseEnv: signPassEnv}
	}
}
