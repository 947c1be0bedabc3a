package imageconvert

import (
	"fmt"
	"os"
	"strings"

	"github.com/atlas-os/atlas-disk/internal/config"
	"github.com/atlas-os/atlas-disk/internal/utils/compression"
	"github.com/atlas-os/atlas-disk/internal/utils/logger"
)

var log = logger.Logger()

type ImageConvertInterface interface {
	ConvertImageFile(filePath string, manifest *config.ImageManifest) (string, error)
}

type ImageConvert struct{}

func NewImageConvert() *ImageConvert {
	return &ImageConvert{}
}

// ConvertImageFile writes the compressed artifact requested by the manifest
// next to the raw image and returns its path, or "" when none is requested.
// The raw image is always kept.
func (imageConvert *ImageConvert) ConvertImageFile(filePath string, manifest *config.ImageManifest) (string, error) {
	if manifest == nil {
		return "", fmt.Errorf("image manifest is nil")
	}
	if !manifest.IsCompressed() {
		return "", nil
	}

	fi, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("image file does not exist: %s", filePath)
		}
		return "", fmt.Errorf("stat image file: %w", err)
	}
	if fi.IsDir() {
		return "", fmt.Errorf("image path is a directory: %s", filePath)
	}

	outputFilePath, err := compressImageFile(filePath, strings.ToLower(manifest.Artifacts.Compression))
	if err != nil {
		return "", fmt.Errorf("failed to compress image file: %w", err)
	}
	return outputFilePath, nil
}

func compressImageFile(filePath, compressionType string) (string, error) {
	ext, err := compression.Extension(compressionType)
	if err != nil {
		log.Errorf("Unsupported compression type: %s", compressionType)
		return "", err
	}
	outputFilePath := filePath + ext

	log.Infof("Compressing image file %s with %s", filePath, compressionType)
	if err := compression.CompressFile(filePath, outputFilePath, compressionType, true); err != nil {
		return "", fmt.Errorf("failed to compress file: %w", err)
	}
	return outputFilePath, nil
}
