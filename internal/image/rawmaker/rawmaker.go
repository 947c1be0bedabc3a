package rawmaker

import (
	"fmt"
	"path/filepath"

	"github.com/atlas-os/atlas-disk/internal/config"
	"github.com/atlas-os/atlas-disk/internal/image/fatimage"
	"github.com/atlas-os/atlas-disk/internal/image/imageconvert"
	"github.com/atlas-os/atlas-disk/internal/image/imagesign"
	"github.com/atlas-os/atlas-disk/internal/utils/display"
	"github.com/atlas-os/atlas-disk/internal/utils/logger"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

var log = logger.Logger()

// BuildResult lists what a build produced. Optional artifacts are empty when
// they were not requested.
type BuildResult struct {
	ImagePath  string
	Compressed string
	Signature  string
	FileCount  int
}

type RawMaker struct {
	fs           afero.Fs
	geometry     fatimage.Geometry
	imageConvert imageconvert.ImageConvertInterface
	signImage    func(imagePath string, manifest *config.ImageManifest) (string, error)
}

type Option func(*RawMaker)

// WithFs reads inputs from and writes the raw image to fs.
func WithFs(fs afero.Fs) Option {
	return func(r *RawMaker) {
		r.fs = fs
	}
}

// WithGeometry overrides the image layout.
func WithGeometry(geo fatimage.Geometry) Option {
	return func(r *RawMaker) {
		r.geometry = geo
	}
}

func NewRawMaker(opts ...Option) *RawMaker {
	rawMaker := &RawMaker{
		fs:           afero.NewOsFs(),
		geometry:     fatimage.DefaultGeometry(),
		imageConvert: imageconvert.NewImageConvert(),
		signImage:    imagesign.SignImage,
	}
	for _, opt := range opts {
		opt(rawMaker)
	}
	return rawMaker
}

func (rawMaker *RawMaker) cleanupOnError(tmpPath string, err *error) {
	if tmpPath == "" {
		return
	}
	exists, statErr := afero.Exists(rawMaker.fs, tmpPath)
	if statErr != nil || !exists {
		return
	}
	if rmErr := rawMaker.fs.Remove(tmpPath); rmErr != nil {
		log.Errorf("Failed to remove temporary image file %s after error: %v", tmpPath, rmErr)
		*err = fmt.Errorf("operation failed: %w, cleanup errors: %v", *err, rmErr)
	}
}

// Build runs the whole pipeline: the raw image, then the optional compressed
// artifact and signature, then the summary.
func (rawMaker *RawMaker) Build(manifest *config.ImageManifest) (*BuildResult, error) {
	imagePath, err := rawMaker.BuildRawImage(manifest)
	if err != nil {
		return nil, err
	}
	result := &BuildResult{
		ImagePath: imagePath,
		FileCount: len(manifest.Files) + 1,
	}

	result.Compressed, err = rawMaker.imageConvert.ConvertImageFile(imagePath, manifest)
	if err != nil {
		return result, fmt.Errorf("failed to convert image file: %w", err)
	}

	result.Signature, err = rawMaker.signImage(imagePath, manifest)
	if err != nil {
		return result, fmt.Errorf("failed to sign image file: %w", err)
	}

	display.PrintBuildSummary(result.ImagePath, result.FileCount, result.Compressed, result.Signature)
	return result, nil
}

// BuildRawImage lays out the boot region, the volume label, the config file
// and every extra file in manifest order, then commits the image to
// manifest.Output in one write. On any error no output file is left behind.
func (rawMaker *RawMaker) BuildRawImage(manifest *config.ImageManifest) (imagePath string, err error) {
	if err := config.ValidateManifest(manifest); err != nil {
		return "", err
	}

	log.Infof("Building boot image: %s", manifest.Output)

	builder, err := fatimage.NewBuilder(rawMaker.geometry, fatimage.WithLogger(logger.Logger()))
	if err != nil {
		return "", fmt.Errorf("failed to create image builder: %w", err)
	}

	stage1, err := rawMaker.readInput("boot stage 1", manifest.Boot1)
	if err != nil {
		return "", err
	}
	stage2, err := rawMaker.readInput("boot stage 2", manifest.Boot2)
	if err != nil {
		return "", err
	}
	if err := builder.WriteBootRegion(stage1, stage2); err != nil {
		return "", fmt.Errorf("failed to write boot region: %w", err)
	}

	label := manifest.Label
	if label == "" {
		label = fatimage.DefaultVolumeLabel
	}
	if err := builder.SetVolumeLabel(label); err != nil {
		return "", fmt.Errorf("failed to set volume label: %w", err)
	}

	if err := rawMaker.addFile(builder, config.ConfigTarget, manifest.Config); err != nil {
		return "", err
	}
	for _, f := range manifest.Files {
		if err := rawMaker.addFile(builder, f.Target, f.Source); err != nil {
			return "", err
		}
	}

	if err := rawMaker.writeImage(manifest.Output, builder.Bytes()); err != nil {
		return "", err
	}

	log.Infof("Boot image written: %s (%d bytes, %d clusters used)",
		manifest.Output, len(builder.Bytes()), builder.NextCluster()-fatimage.RootCluster)
	return manifest.Output, nil
}

func (rawMaker *RawMaker) readInput(what, path string) ([]byte, error) {
	data, err := afero.ReadFile(rawMaker.fs, path)
	if err != nil {
		log.Errorf("Failed to read %s %s: %v", what, path, err)
		return nil, fmt.Errorf("failed to read %s: %w", what, err)
	}
	return data, nil
}

func (rawMaker *RawMaker) addFile(builder *fatimage.Builder, target, source string) error {
	content, err := rawMaker.readInput(target, source)
	if err != nil {
		return err
	}
	start, err := builder.AddFile(target, content)
	if err != nil {
		return fmt.Errorf("failed to add %s: %w", target, err)
	}
	log.Debugf("Added %s from %s (%d bytes, cluster %d)", target, source, len(content), start)
	return nil
}

// writeImage writes data to a uniquely named sibling of outPath and renames
// it into place.
func (rawMaker *RawMaker) writeImage(outPath string, data []byte) (err error) {
	if dir := filepath.Dir(outPath); dir != "" {
		if err := rawMaker.fs.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	tmpPath := fmt.Sprintf("%s.%s.tmp", outPath, uuid.NewString())
	defer func() {
		if err != nil {
			rawMaker.cleanupOnError(tmpPath, &err)
		}
	}()

	if err := afero.WriteFile(rawMaker.fs, tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write image file: %w", err)
	}
	if err := rawMaker.fs.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("failed to rename image file: %w", err)
	}
	return nil
}
