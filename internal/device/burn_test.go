package device

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/atlas-os/atlas-disk/internal/utils/compression"
	"github.com/atlas-os/atlas-disk/internal/utils/logger"
	"github.com/atlas-os/atlas-disk/internal/utils/shell"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func bootableImage(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	data[510] = 0x55
	data[511] = 0xAA
	return data
}

type burnFixture struct {
	writer     *Writer
	devicePath string
	released   int
	prepared   int
}

func newBurnFixture(t *testing.T) *burnFixture {
	t.Helper()
	devicePath := filepath.Join(t.TempDir(), "sdz")
	if err := os.WriteFile(devicePath, nil, 0644); err != nil {
		t.Fatalf("failed to create fake device: %v", err)
	}

	f := &burnFixture{devicePath: devicePath}
	f.writer = &Writer{
		ChunkSize: 1024,
		exec:      shell.NewMockExecutor(nil),
		openDevice: func(path string) (blockDevice, error) {
			return os.OpenFile(path, os.O_RDWR, 0)
		},
		prepare: func(exec shell.Executor, dev Device) (func(), error) {
			f.prepared++
			return func() { f.released++ }, nil
		},
	}
	return f
}

func (f *burnFixture) device() Device {
	return Device{ID: "sdz", Name: "Fake", Path: f.devicePath}
}

func writeTempImage(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, data, 0644); err != nil {
		t.Fatalf("failed to write image: %v", err)
	}
	return p
}

func TestBurnWritesChunks(t *testing.T) {
	f := newBurnFixture(t)
	data := bootableImage(3000)
	imagePath := writeTempImage(t, "atlas.img", data)

	res, err := f.writer.Burn(imagePath, f.device())
	if err != nil {
		t.Fatalf("Burn failed: %v", err)
	}
	if res.BytesWritten != int64(len(data)) {
		t.Errorf("BytesWritten = %d, want %d", res.BytesWritten, len(data))
	}
	if !res.SignatureVerified {
		t.Error("expected boot signature to be verified")
	}
	if f.prepared != 1 || f.released != 1 {
		t.Errorf("prepare/release called %d/%d times, want 1/1", f.prepared, f.released)
	}

	got, err := os.ReadFile(f.devicePath)
	if err != nil {
		t.Fatalf("failed to read device: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("device content differs from image")
	}
}

func TestBurnCompressedImage(t *testing.T) {
	f := newBurnFixture(t)
	data := bootableImage(5000)

	var compressed bytes.Buffer
	w, err := compression.NewWriter(&compressed, compression.Gzip)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatalf("compress failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("compress close failed: %v", err)
	}
	imagePath := writeTempImage(t, "atlas.img.gz", compressed.Bytes())

	res, err := f.writer.Burn(imagePath, f.device())
	if err != nil {
		t.Fatalf("Burn failed: %v", err)
	}
	if res.BytesWritten != int64(len(data)) {
		t.Errorf("BytesWritten = %d, want %d", res.BytesWritten, len(data))
	}

	got, _ := os.ReadFile(f.devicePath)
	if !bytes.Equal(got, data) {
		t.Error("device content differs from decompressed image")
	}
}

func TestBurnWarnsOnMissingSignature(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	restore := logger.Replace(zap.New(core))
	defer restore()

	f := newBurnFixture(t)
	imagePath := writeTempImage(t, "blank.img", make([]byte, 2048))

	res, err := f.writer.Burn(imagePath, f.device())
	if err != nil {
		t.Fatalf("Burn must not fail on a signature mismatch: %v", err)
	}
	if res.SignatureVerified {
		t.Error("SignatureVerified set for an image without signature")
	}

	warnings := logs.FilterMessageSnippet("Boot signature mismatch").All()
	if len(warnings) != 1 {
		t.Fatalf("expected one mismatch warning, got %d", len(warnings))
	}
	if warnings[0].Level != zapcore.WarnLevel {
		t.Errorf("mismatch logged at %s, want warn", warnings[0].Level)
	}
}

func TestBurnWithProgress(t *testing.T) {
	f := newBurnFixture(t)
	var progress bytes.Buffer
	f.writer.Progress = &progress

	imagePath := writeTempImage(t, "atlas.img", bootableImage(4096))
	if _, err := f.writer.Burn(imagePath, f.device()); err != nil {
		t.Fatalf("Burn failed: %v", err)
	}
	if !strings.Contains(progress.String(), "Writing") {
		t.Errorf("progress output missing description: %q", progress.String())
	}
}

func TestBurnErrors(t *testing.T) {
	t.Run("missing image", func(t *testing.T) {
		f := newBurnFixture(t)
		_, err := f.writer.Burn(filepath.Join(t.TempDir(), "missing.img"), f.device())
		if err == nil || !strings.Contains(err.Error(), "failed to open image") {
			t.Errorf("expected open error, got %v", err)
		}
		if f.prepared != 0 {
			t.Error("device prepared although the image could not be opened")
		}
	})

	t.Run("image is a directory", func(t *testing.T) {
		f := newBurnFixture(t)
		_, err := f.writer.Burn(t.TempDir(), f.device())
		if err == nil || !strings.Contains(err.Error(), "directory") {
			t.Errorf("expected directory error, got %v", err)
		}
	})

	t.Run("prepare fails", func(t *testing.T) {
		f := newBurnFixture(t)
		f.writer.prepare = func(shell.Executor, Device) (func(), error) {
			return nil, errors.New("device busy")
		}
		imagePath := writeTempImage(t, "atlas.img", bootableImage(1024))

		_, err := f.writer.Burn(imagePath, f.device())
		if err == nil || !strings.Contains(err.Error(), "device busy") {
			t.Errorf("expected prepare error, got %v", err)
		}
	})

	t.Run("device open fails", func(t *testing.T) {
		f := newBurnFixture(t)
		f.writer.openDevice = func(string) (blockDevice, error) {
			return nil, os.ErrPermission
		}
		imagePath := writeTempImage(t, "atlas.img", bootableImage(1024))

		_, err := f.writer.Burn(imagePath, f.device())
		if !errors.Is(err, os.ErrPermission) {
			t.Errorf("expected permission error, got %v", err)
		}
		if f.released != 1 {
			t.Errorf("release called %d times, want 1", f.released)
		}
	})
}
