package rawmaker

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/atlas-os/atlas-disk/internal/config"
	"github.com/atlas-os/atlas-disk/internal/image/fatimage"
	"github.com/spf13/afero"
)

func bootSector() []byte {
	b := make([]byte, 512)
	b[0], b[1], b[2] = 0xEB, 0x58, 0x90
	b[510], b[511] = 0x55, 0xAA
	return b
}

// newTestFs returns an in-memory filesystem holding the boot stages, a config
// file and the given extra files.
func newTestFs(t *testing.T, extra map[string][]byte) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	files := map[string][]byte{
		"/in/boot1.bin": bootSector(),
		"/in/boot2.bin": bytes.Repeat([]byte{0x90}, 1500),
		"/in/atlas.cfg": []byte("timeout=3\nkernel=/KERNEL.ELF\n"),
	}
	for k, v := range extra {
		files[k] = v
	}
	for path, data := range files {
		if err := afero.WriteFile(fs, path, data, 0644); err != nil {
			t.Fatalf("failed to seed %s: %v", path, err)
		}
	}
	return fs
}

func testManifest(files ...config.FileMapping) *config.ImageManifest {
	return (&config.ImageManifest{
		Output: "/out/atlas.img",
		Boot1:  "/in/boot1.bin",
		Boot2:  "/in/boot2.bin",
		Config: "/in/atlas.cfg",
		Files:  files,
	}).Merge(config.DefaultManifest())
}

func rootEntry(img []byte, slot int) fatimage.DirEntry {
	geo := fatimage.DefaultGeometry()
	off := int(geo.ClusterSector(fatimage.RootCluster))*int(geo.BytesPerSector) + slot*fatimage.DirEntrySize
	return fatimage.UnmarshalDirEntry(img[off:])
}

func requireNoOutput(t *testing.T, fs afero.Fs) {
	t.Helper()
	entries, err := afero.ReadDir(fs, "/out")
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		t.Fatalf("failed to list output dir: %v", err)
	}
	for _, e := range entries {
		t.Errorf("unexpected output file left behind: %s", e.Name())
	}
}

func TestBuildRawImage(t *testing.T) {
	fs := newTestFs(t, map[string][]byte{
		"/in/kernel.elf": bytes.Repeat([]byte("K"), 2000),
		"/in/hello.txt":  []byte("hello"),
	})
	manifest := testManifest(
		config.FileMapping{Target: "KERNEL.ELF", Source: "/in/kernel.elf"},
		config.FileMapping{Target: "SUB/DIR/FILE.TXT", Source: "/in/hello.txt"},
	)

	rawMaker := NewRawMaker(WithFs(fs))
	imagePath, err := rawMaker.BuildRawImage(manifest)
	if err != nil {
		t.Fatalf("BuildRawImage failed: %v", err)
	}
	if imagePath != "/out/atlas.img" {
		t.Errorf("expected /out/atlas.img, got %s", imagePath)
	}

	img, err := afero.ReadFile(fs, imagePath)
	if err != nil {
		t.Fatalf("failed to read image: %v", err)
	}
	if len(img) != 64*1024*1024 {
		t.Fatalf("expected a 64 MiB image, got %d bytes", len(img))
	}
	if !fatimage.HasBootSignature(img[:512]) {
		t.Error("boot sector signature missing")
	}
	if !bytes.Equal(img[:512], img[6*512:7*512]) {
		t.Error("backup boot sector differs from sector 0")
	}

	label := rootEntry(img, 0)
	if label.Attr != fatimage.AttrVolumeLabel || string(label.Name[:]) != "ATLAS BOOT " {
		t.Errorf("unexpected label entry %+v", label)
	}

	cfg := rootEntry(img, 1)
	if string(cfg.Name[:]) != "ATLAS   CFG" || cfg.Cluster != fatimage.FirstFreeCluster {
		t.Errorf("config must be the first file at cluster 3, got %+v", cfg)
	}
	kernel := rootEntry(img, 2)
	if string(kernel.Name[:]) != "KERNEL  ELF" || kernel.Size != 2000 || kernel.Cluster != 4 {
		t.Errorf("unexpected kernel entry %+v", kernel)
	}
	sub := rootEntry(img, 3)
	if string(sub.Name[:]) != "SUB        " || sub.Attr != fatimage.AttrDirectory || sub.Cluster != 8 {
		t.Errorf("unexpected SUB entry %+v", sub)
	}

	entries, err := afero.ReadDir(fs, "/out")
	if err != nil {
		t.Fatalf("failed to list output dir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the image in /out, found %d entries", len(entries))
	}
}

func TestBuildRawImageDeterministic(t *testing.T) {
	build := func() []byte {
		fs := newTestFs(t, map[string][]byte{"/in/a.bin": []byte("abc")})
		_, err := NewRawMaker(WithFs(fs)).BuildRawImage(testManifest(config.FileMapping{Target: "EFI/A.BIN", Source: "/in/a.bin"}))
		if err != nil {
			t.Fatalf("BuildRawImage failed: %v", err)
		}
		img, err := afero.ReadFile(fs, "/out/atlas.img")
		if err != nil {
			t.Fatalf("failed to read image: %v", err)
		}
		return img
	}
	if !bytes.Equal(build(), build()) {
		t.Error("identical inputs must produce identical images")
	}
}

func TestBuildRawImageCustomLabel(t *testing.T) {
	fs := newTestFs(t, nil)
	manifest := testManifest()
	manifest.Label = "recovery"

	if _, err := NewRawMaker(WithFs(fs)).BuildRawImage(manifest); err != nil {
		t.Fatalf("BuildRawImage failed: %v", err)
	}
	img, _ := afero.ReadFile(fs, "/out/atlas.img")
	label := rootEntry(img, 0)
	if got := string(label.Name[:]); got != "RECOVERY   " {
		t.Errorf("expected label RECOVERY, got %q", got)
	}
}

func TestBuildRawImageFailuresLeaveNoOutput(t *testing.T) {
	tests := []struct {
		name     string
		extra    map[string][]byte
		manifest func() *config.ImageManifest
		wantErr  error
		errText  string
	}{
		{
			name:     "missing boot stage 1",
			manifest: func() *config.ImageManifest { m := testManifest(); m.Boot1 = "/in/nope.bin"; return m },
			wantErr:  os.ErrNotExist,
		},
		{
			name: "missing extra file",
			manifest: func() *config.ImageManifest {
				return testManifest(config.FileMapping{Target: "X.BIN", Source: "/in/missing.bin"})
			},
			wantErr: os.ErrNotExist,
		},
		{
			name:  "stage 2 too large",
			extra: map[string][]byte{"/in/big2.bin": make([]byte, 24*512+1)},
			manifest: func() *config.ImageManifest {
				m := testManifest()
				m.Boot2 = "/in/big2.bin"
				return m
			},
			wantErr: fatimage.ErrStage2TooLarge,
		},
		{
			name:  "stage 1 larger than a sector",
			extra: map[string][]byte{"/in/big1.bin": make([]byte, 513)},
			manifest: func() *config.ImageManifest {
				m := testManifest()
				m.Boot1 = "/in/big1.bin"
				return m
			},
			wantErr: fatimage.ErrBootSectorTooLarge,
		},
		{
			name:  "root directory full",
			extra: map[string][]byte{"/in/f.bin": []byte("f")},
			manifest: func() *config.ImageManifest {
				var files []config.FileMapping
				for i := 0; i < 16; i++ {
					files = append(files, config.FileMapping{Target: fmt.Sprintf("F%02d.BIN", i), Source: "/in/f.bin"})
				}
				return testManifest(files...)
			},
			wantErr: fatimage.ErrDirectoryFull,
		},
		{
			name:  "invalid target name",
			extra: map[string][]byte{"/in/f.bin": []byte("f")},
			manifest: func() *config.ImageManifest {
				return testManifest(config.FileMapping{Target: "a?b.bin", Source: "/in/f.bin"})
			},
			wantErr: fatimage.ErrInvalidName,
		},
		{
			name:     "missing output path",
			manifest: func() *config.ImageManifest { m := testManifest(); m.Output = ""; return m },
			errText:  "output path is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newTestFs(t, tt.extra)
			_, err := NewRawMaker(WithFs(fs)).BuildRawImage(tt.manifest())
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			if tt.errText != "" && !strings.Contains(err.Error(), tt.errText) {
				t.Errorf("expected error containing %q, got %v", tt.errText, err)
			}
			requireNoOutput(t, fs)
		})
	}
}

// renameFailFs fails every rename so the temporary file path is exercised.
type renameFailFs struct {
	afero.Fs
}

func (fs renameFailFs) Rename(oldname, newname string) error {
	return errors.New("rename refused")
}

func TestBuildRawImageRenameFailureRemovesTemp(t *testing.T) {
	fs := renameFailFs{Fs: newTestFs(t, nil)}
	_, err := NewRawMaker(WithFs(fs)).BuildRawImage(testManifest())
	if err == nil || !strings.Contains(err.Error(), "rename refused") {
		t.Fatalf("expected rename error, got %v", err)
	}
	requireNoOutput(t, fs)
}

func TestBuildRawImageReadOnlyOutput(t *testing.T) {
	fs := afero.NewReadOnlyFs(newTestFs(t, nil))
	_, err := NewRawMaker(WithFs(fs)).BuildRawImage(testManifest())
	if err == nil {
		t.Fatal("expected an error writing to a read-only filesystem")
	}
}

type fakeConvert struct {
	calls int
	out   string
	err   error
}

func (f *fakeConvert) ConvertImageFile(filePath string, manifest *config.ImageManifest) (string, error) {
	f.calls++
	return f.out, f.err
}

func TestBuild(t *testing.T) {
	dir := t.TempDir()
	for name, data := range map[string][]byte{
		"boot1.bin": bootSector(),
		"boot2.bin": []byte("stage2"),
		"atlas.cfg": []byte("cfg"),
	} {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}

	manifest := (&config.ImageManifest{
		Output:    filepath.Join(dir, "out", "atlas.img"),
		Boot1:     filepath.Join(dir, "boot1.bin"),
		Boot2:     filepath.Join(dir, "boot2.bin"),
		Config:    filepath.Join(dir, "atlas.cfg"),
		Artifacts: config.ArtifactConfig{Compression: config.CompressionGzip},
	}).Merge(config.DefaultManifest())

	t.Run("all artifacts", func(t *testing.T) {
		rawMaker := NewRawMaker()
		var signed string
		rawMaker.signImage = func(imagePath string, m *config.ImageManifest) (string, error) {
			signed = imagePath
			return imagePath + ".asc", nil
		}

		result, err := rawMaker.Build(manifest)
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		if result.ImagePath != manifest.Output {
			t.Errorf("unexpected image path %s", result.ImagePath)
		}
		if result.Compressed != manifest.Output+".gz" {
			t.Errorf("expected gzip artifact, got %q", result.Compressed)
		}
		if _, err := os.Stat(result.Compressed); err != nil {
			t.Errorf("compressed artifact missing: %v", err)
		}
		if signed != manifest.Output || result.Signature != manifest.Output+".asc" {
			t.Errorf("signing step not run on the raw image: %q, %q", signed, result.Signature)
		}
		if result.FileCount != 1 {
			t.Errorf("expected 1 file (config only), got %d", result.FileCount)
		}
	})

	t.Run("conversion failure keeps the raw image", func(t *testing.T) {
		rawMaker := NewRawMaker()
		rawMaker.imageConvert = &fakeConvert{err: errors.New("disk full")}
		rawMaker.signImage = func(string, *config.ImageManifest) (string, error) {
			t.Error("signing must not run after a failed conversion")
			return "", nil
		}

		_, err := rawMaker.Build(manifest)
		if err == nil || !strings.Contains(err.Error(), "disk full") {
			t.Fatalf("expected conversion error, got %v", err)
		}
		if _, err := os.Stat(manifest.Output); err != nil {
			t.Errorf("raw image should remain after an artifact failure: %v", err)
		}
	})

	t.Run("signing failure", func(t *testing.T) {
		rawMaker := NewRawMaker()
		conv := &fakeConvert{}
		rawMaker.imageConvert = conv
		rawMaker.signImage = func(string, *config.ImageManifest) (string, error) {
			return "", errors.New("bad key")
		}
		if _, err := rawMaker.Build(manifest); err == nil || !strings.Contains(err.Error(), "bad key") {
			t.Fatalf("expected signing error, got %v", err)
		}
		if conv.calls != 1 {
			t.Errorf("expected one conversion, got %d", conv.calls)
		}
	})
}
