// Package compression writes and reads the compressed image artifacts.
package compression

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/atlas-os/atlas-disk/internal/utils/logger"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Supported formats.
const (
	Gzip = "gzip"
	Zstd = "zstd"
	Xz   = "xz"
)

var extensions = map[string]string{
	Gzip: ".gz",
	Zstd: ".zst",
	Xz:   ".xz",
}

// Extension returns the file suffix for format, including the dot.
func Extension(format string) (string, error) {
	ext, ok := extensions[strings.ToLower(format)]
	if !ok {
		return "", fmt.Errorf("unsupported compression type: %s", format)
	}
	return ext, nil
}

// FormatFromPath maps a file suffix back to its format. Uncompressed paths
// return "".
func FormatFromPath(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	for format, e := range extensions {
		if e == ext {
			return format
		}
	}
	return ""
}

// NewWriter wraps w with a compressor for format. Closing the result flushes
// the stream but does not close w.
func NewWriter(w io.Writer, format string) (io.WriteCloser, error) {
	switch strings.ToLower(format) {
	case Gzip:
		return gzip.NewWriterLevel(w, gzip.BestCompression)
	case Zstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	case Xz:
		return xz.NewWriter(w)
	default:
		return nil, fmt.Errorf("unsupported compression type: %s", format)
	}
}

// NewReader wraps r with a decompressor for format.
func NewReader(r io.Reader, format string) (io.ReadCloser, error) {
	switch strings.ToLower(format) {
	case Gzip:
		return gzip.NewReader(r)
	case Zstd:
		d, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return d.IOReadCloser(), nil
	case Xz:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(xr), nil
	default:
		return nil, fmt.Errorf("unsupported compression type: %s", format)
	}
}

// CompressFile writes a compressed copy of src to dst. An existing dst is
// replaced only when overwrite is set. A partially written dst is removed.
func CompressFile(src, dst, format string, overwrite bool) (err error) {
	log := logger.Logger()

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags |= os.O_EXCL
	}
	out, err := os.OpenFile(dst, flags, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close %s: %w", dst, cerr)
		}
		if err != nil {
			if rmErr := os.Remove(dst); rmErr != nil && !os.IsNotExist(rmErr) {
				log.Warnf("Failed to remove partial file %s: %v", dst, rmErr)
			}
		}
	}()

	zw, err := NewWriter(out, format)
	if err != nil {
		return err
	}
	n, err := io.Copy(zw, in)
	if err != nil {
		zw.Close()
		return fmt.Errorf("failed to compress %s: %w", src, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish %s stream: %w", format, err)
	}

	log.Debugf("Compressed %s (%d bytes) to %s with %s", src, n, dst, format)
	return nil
}

// DecompressFile expands src, compressed with format, into dst.
func DecompressFile(src, dst, format string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	zr, err := NewReader(in, format)
	if err != nil {
		return fmt.Errorf("failed to read %s stream: %w", format, err)
	}
	defer zr.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close %s: %w", dst, cerr)
		}
		if err != nil {
			os.Remove(dst)
		}
	}()

	if _, err := io.Copy(out, zr); err != nil {
		return fmt.Errorf("failed to decompress %s: %w", src, err)
	}
	return nil
}
