package compression

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testPayload() []byte {
	var b bytes.Buffer
	for i := 0; i < 4096; i++ {
		b.WriteString("atlas boot image ")
		b.WriteByte(byte(i))
	}
	return b.Bytes()
}

func TestCompressFileRoundTrip(t *testing.T) {
	payload := testPayload()

	for _, format := range []string{Gzip, Zstd, Xz} {
		t.Run(format, func(t *testing.T) {
			dir := t.TempDir()
			src := filepath.Join(dir, "atlas.img")
			if err := os.WriteFile(src, payload, 0644); err != nil {
				t.Fatalf("failed to write source: %v", err)
			}

			ext, err := Extension(format)
			if err != nil {
				t.Fatalf("Extension(%q) failed: %v", format, err)
			}
			dst := src + ext
			if err := CompressFile(src, dst, format, false); err != nil {
				t.Fatalf("CompressFile failed: %v", err)
			}

			info, err := os.Stat(dst)
			if err != nil {
				t.Fatalf("compressed file missing: %v", err)
			}
			if info.Size() >= int64(len(payload)) {
				t.Errorf("expected compressed size below %d, got %d", len(payload), info.Size())
			}
			if got := FormatFromPath(dst); got != format {
				t.Errorf("FormatFromPath(%q) = %q, want %q", dst, got, format)
			}

			out := filepath.Join(dir, "roundtrip.img")
			if err := DecompressFile(dst, out, format); err != nil {
				t.Fatalf("DecompressFile failed: %v", err)
			}
			got, err := os.ReadFile(out)
			if err != nil {
				t.Fatalf("failed to read decompressed file: %v", err)
			}
			if !bytes.Equal(got, payload) {
				t.Errorf("decompressed content differs from source (%d vs %d bytes)", len(got), len(payload))
			}
		})
	}
}

func TestCompressFileUnsupported(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "atlas.img")
	if err := os.WriteFile(src, []byte("data"), 0644); err != nil {
		t.Fatalf("failed to write source: %v", err)
	}
	dst := filepath.Join(dir, "atlas.img.bz2")

	err := CompressFile(src, dst, "bzip2", false)
	if err == nil || !strings.Contains(err.Error(), "unsupported compression type") {
		t.Fatalf("expected unsupported compression error, got %v", err)
	}
	if _, statErr := os.Stat(dst); !os.IsNotExist(statErr) {
		t.Errorf("partial output %s should have been removed", dst)
	}

	if _, err := Extension("bzip2"); err == nil {
		t.Error("Extension should reject bzip2")
	}
	if got := FormatFromPath("atlas.img"); got != "" {
		t.Errorf("FormatFromPath on raw image = %q, want empty", got)
	}
}

func TestCompressFileOverwrite(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "atlas.img")
	dst := src + ".gz"
	if err := os.WriteFile(src, []byte("data"), 0644); err != nil {
		t.Fatalf("failed to write source: %v", err)
	}
	if err := os.WriteFile(dst, []byte("stale"), 0644); err != nil {
		t.Fatalf("failed to write stale artifact: %v", err)
	}

	if err := CompressFile(src, dst, Gzip, false); err == nil {
		t.Fatal("expected an error when the destination exists")
	}
	if got, _ := os.ReadFile(dst); string(got) != "stale" {
		t.Errorf("existing file must be left alone, got %q", got)
	}

	if err := CompressFile(src, dst, Gzip, true); err != nil {
		t.Fatalf("CompressFile with overwrite failed: %v", err)
	}
	if got := FormatFromPath(dst); got != Gzip {
		t.Errorf("FormatFromPath = %q", got)
	}
}

func TestCompressFileMissingSource(t *testing.T) {
	dir := t.TempDir()
	err := CompressFile(filepath.Join(dir, "missing.img"), filepath.Join(dir, "out.xz"), Xz, false)
	if err == nil {
		t.Fatal("expected error for missing source")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}
