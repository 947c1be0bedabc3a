package device

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/atlas-os/atlas-disk/internal/image/fatimage"
	"github.com/atlas-os/atlas-disk/internal/utils/compression"
	"github.com/atlas-os/atlas-disk/internal/utils/logger"
	"github.com/atlas-os/atlas-disk/internal/utils/shell"
	"github.com/schollz/progressbar/v3"
)

// DefaultChunkSize is the size of every write to the device.
const DefaultChunkSize = 1024 * 1024

// blockDevice is the part of *os.File the writer needs.
type blockDevice interface {
	io.Writer
	io.ReaderAt
	Sync() error
	Close() error
}

// BurnResult reports what was written.
type BurnResult struct {
	BytesWritten      int64
	SignatureVerified bool
}

// Writer copies images onto block devices.
type Writer struct {
	ChunkSize int
	// Progress receives the progress bar. Nil disables it.
	Progress io.Writer

	exec       shell.Executor
	openDevice func(path string) (blockDevice, error)
	prepare    func(exec shell.Executor, dev Device) (release func(), err error)
}

func NewWriter(progress io.Writer) *Writer {
	return &Writer{
		ChunkSize:  DefaultChunkSize,
		Progress:   progress,
		exec:       shell.Default,
		openDevice: openBlockDevice,
		prepare:    prepareDevice,
	}
}

// openImage returns a reader over the raw image and its size, or -1 when the
// image is compressed and the size is not known up front.
func openImage(imagePath string) (io.ReadCloser, int64, error) {
	f, err := os.Open(imagePath)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open image: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("failed to stat image: %w", err)
	}
	if fi.IsDir() {
		f.Close()
		return nil, 0, fmt.Errorf("image path is a directory: %s", imagePath)
	}

	format := compression.FormatFromPath(imagePath)
	if format == "" {
		return f, fi.Size(), nil
	}
	dec, err := compression.NewReader(f, format)
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return &stackedReadCloser{Reader: dec, closers: []io.Closer{dec, f}}, -1, nil
}

type stackedReadCloser struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedReadCloser) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (w *Writer) newBar(size int64) *progressbar.ProgressBar {
	if w.Progress == nil {
		return nil
	}
	return progressbar.NewOptions64(size,
		progressbar.OptionSetWriter(w.Progress),
		progressbar.OptionSetDescription("Writing"),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(200*time.Millisecond),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// Burn writes imagePath to dev. The device volumes are unmounted (Linux) or
// locked and dismounted (Windows) first and released on every return path.
// A missing boot signature after the write is logged, not returned.
func (w *Writer) Burn(imagePath string, dev Device) (*BurnResult, error) {
	log := logger.Logger()

	src, size, err := openImage(imagePath)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	release, err := w.prepare(w.exec, dev)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare %s: %w", dev.Path, err)
	}
	defer release()

	out, err := w.openDevice(dev.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open device %s: %w", dev.Path, err)
	}
	defer out.Close()

	log.Infof("Writing %s to %s", imagePath, dev.Path)
	written, err := w.copyChunks(out, src, size)
	if err != nil {
		return &BurnResult{BytesWritten: written}, err
	}

	if err := out.Sync(); err != nil {
		return &BurnResult{BytesWritten: written}, fmt.Errorf("failed to flush %s: %w", dev.Path, err)
	}
	log.Infof("Write complete: %d bytes", written)

	res := &BurnResult{BytesWritten: written}
	sector := make([]byte, 512)
	if _, err := out.ReadAt(sector, 0); err != nil && err != io.EOF {
		log.Warnf("Unable to read back the boot sector of %s: %v", dev.Path, err)
		return res, nil
	}
	if fatimage.HasBootSignature(sector) {
		res.SignatureVerified = true
		log.Infof("Boot signature verified.")
	} else {
		log.Warnf("Boot signature mismatch on %s: got 0x%02X 0x%02X", dev.Path, sector[510], sector[511])
	}
	return res, nil
}

func (w *Writer) copyChunks(out io.Writer, src io.Reader, size int64) (int64, error) {
	chunkSize := w.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	bar := w.newBar(size)
	buf := make([]byte, chunkSize)

	var written int64
	for {
		n, rerr := io.ReadFull(src, buf)
		if n > 0 {
			m, werr := out.Write(buf[:n])
			written += int64(m)
			if bar != nil {
				_ = bar.Add(m)
			}
			if werr != nil {
				return written, fmt.Errorf("write failed after %d bytes: %w", written, werr)
			}
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return written, fmt.Errorf("failed to read image: %w", rerr)
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}
	return written, nil
}

// mountedPartitions returns the mount points of devicePath and its
// partitions found in a /proc/mounts listing.
func mountedPartitions(mounts, devicePath string) []string {
	var points []string
	for _, line := range strings.Split(mounts, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || !isPartitionOf(fields[0], devicePath) {
			continue
		}
		// /proc/mounts escapes spaces as \040
		points = append(points, strings.ReplaceAll(fields[1], `\040`, " "))
	}
	return points
}

// isPartitionOf reports whether source is devicePath itself or one of its
// partitions. Devices whose name ends in a digit (nvme0n1, loop1, mmcblk0)
// number partitions as p<N>; the others (sdb) as <N>.
func isPartitionOf(source, devicePath string) bool {
	if devicePath == "" || !strings.HasPrefix(source, devicePath) {
		return false
	}
	rest := source[len(devicePath):]
	if rest == "" {
		return true
	}
	if last := devicePath[len(devicePath)-1]; last >= '0' && last <= '9' {
		if !strings.HasPrefix(rest, "p") {
			return false
		}
		rest = rest[1:]
	}
	return rest != "" && strings.Trim(rest, "0123456789") == ""
}
