package display

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/atlas-os/atlas-disk/internal/utils/logger"
)

// FormatSize renders a byte count the way the build summary shows it.
func FormatSize(size int64) string {
	switch {
	case size >= 1024*1024*1024:
		return fmt.Sprintf("%.2f GB", float64(size)/(1024*1024*1024))
	case size >= 1024*1024:
		return fmt.Sprintf("%.2f MB", float64(size)/(1024*1024))
	case size >= 1024:
		return fmt.Sprintf("%.2f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%d B", size)
	}
}

// PrintBuildSummary lists the image and every artifact produced next to it.
// Empty paths are skipped, so callers can pass optional artifacts directly.
func PrintBuildSummary(imagePath string, fileCount int, artifacts ...string) {
	log := logger.Logger()

	paths := []string{imagePath}
	for _, a := range artifacts {
		if a != "" {
			paths = append(paths, a)
		}
	}

	log.Info("")
	log.Info("╔════════════════════════════════════════════════════════════════════════════╗")
	log.Info("║                    ✓ BOOT IMAGE CREATED SUCCESSFULLY                       ║")
	log.Info("╚════════════════════════════════════════════════════════════════════════════╝")
	log.Info("")
	log.Infof("  Files written: %d", fileCount)
	log.Info("")
	log.Info("  Generated Artifacts:")

	for _, p := range paths {
		sizeStr := "unknown"
		if fileInfo, err := os.Stat(p); err == nil {
			sizeStr = FormatSize(fileInfo.Size())
		} else {
			log.Warnf("Unable to stat artifact %s: %v", p, err)
		}

		log.Infof("    • %s (%s)", filepath.Base(p), sizeStr)
		log.Infof("      %s", p)
		log.Info("")
	}

	log.Info("════════════════════════════════════════════════════════════════════════════")
	log.Info("")
}
