package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/atlas-os/atlas-disk/internal/utils/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Global flags
var (
	logLevel string = logger.DefaultLevel
	verbose  bool   = false
)

// createRootCommand creates the root command with every subcommand attached
func createRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "atlas-disk",
		Short: "Builds FAT32 boot images and writes them to removable drives",
		Long: `atlas-disk lays out a bootable FAT32 disk image from a two-stage
bootloader, a boot configuration file and any number of extra files, and can
write the result to a USB drive.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := logLevel
			if verbose {
				level = "debug"
			}
			return logger.SetLevel(level)
		},
	}

	// Accept --log_level as well as --log-level
	rootCmd.SetGlobalNormalizationFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", logger.DefaultLevel,
		"Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug output (same as --log-level debug)")

	rootCmd.AddCommand(createBuildCommand())
	rootCmd.AddCommand(createValidateCommand())
	rootCmd.AddCommand(createInspectCommand())
	rootCmd.AddCommand(createCompareCommand())
	rootCmd.AddCommand(createDevicesCommand())
	rootCmd.AddCommand(createBurnCommand())
	rootCmd.AddCommand(createVersionCommand())

	return rootCmd
}

// imageFileCompletion completes raw and compressed image paths
func imageFileCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return []string{"img", "raw", "gz", "zst", "xz"}, cobra.ShellCompDirectiveFilterFileExt
}

// manifestFileCompletion completes YAML manifest paths
func manifestFileCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return []string{"yml", "yaml"}, cobra.ShellCompDirectiveFilterFileExt
}

func main() {
	defer logger.Sync()

	if err := createRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		logger.Sync()
		os.Exit(1)
	}
}
