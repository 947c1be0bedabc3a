package imageinspect

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/atlas-os/atlas-disk/internal/image/fatimage"
	"github.com/atlas-os/atlas-disk/internal/utils/logger"
	"github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/filesystem"
	"go.uber.org/zap"
)

// ImageSummary holds everything decoded from a boot image.
type ImageSummary struct {
	File       string            `json:"file,omitempty" yaml:"file,omitempty"`
	SHA256     string            `json:"sha256,omitempty" yaml:"sha256,omitempty"`
	SizeBytes  int64             `json:"sizeBytes" yaml:"sizeBytes"`
	BootSector BootSectorSummary `json:"bootSector" yaml:"bootSector"`
	Volume     VolumeSummary     `json:"volume" yaml:"volume"`
	Probe      *ProbeSummary     `json:"probe,omitempty" yaml:"probe,omitempty"`
	Checks     []CheckResult     `json:"checks" yaml:"checks"`
	Entries    []EntrySummary    `json:"entries,omitempty" yaml:"entries,omitempty"`
	Notes      []string          `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// BootSectorSummary holds the BIOS parameter block fields of sector 0.
type BootSectorSummary struct {
	Signature         bool   `json:"signature" yaml:"signature"`
	OEMName           string `json:"oemName,omitempty" yaml:"oemName,omitempty"`
	BytesPerSector    uint16 `json:"bytesPerSector" yaml:"bytesPerSector"`
	SectorsPerCluster uint8  `json:"sectorsPerCluster" yaml:"sectorsPerCluster"`
	ReservedSectors   uint16 `json:"reservedSectors" yaml:"reservedSectors"`
	NumFATs           uint8  `json:"numFats" yaml:"numFats"`
	Media             uint8  `json:"media" yaml:"media"`
	TotalSectors      uint32 `json:"totalSectors" yaml:"totalSectors"`
	SectorsPerFAT     uint32 `json:"sectorsPerFat" yaml:"sectorsPerFat"`
	RootCluster       uint32 `json:"rootCluster" yaml:"rootCluster"`
	FSInfoSector      uint16 `json:"fsInfoSector" yaml:"fsInfoSector"`
	BackupBootSector  uint16 `json:"backupBootSector" yaml:"backupBootSector"`
	VolumeID          string `json:"volumeId,omitempty" yaml:"volumeId,omitempty"`
	VolumeLabel       string `json:"volumeLabel,omitempty" yaml:"volumeLabel,omitempty"`
	FSType            string `json:"fsType,omitempty" yaml:"fsType,omitempty"`
}

// VolumeSummary describes the decoded filesystem.
type VolumeSummary struct {
	Label        string `json:"label,omitempty" yaml:"label,omitempty"`
	ClusterSize  uint32 `json:"clusterSize" yaml:"clusterSize"`
	ClusterCount uint32 `json:"clusterCount" yaml:"clusterCount"`
	ClustersUsed uint32 `json:"clustersUsed" yaml:"clustersUsed"`
	Directories  int    `json:"directories" yaml:"directories"`
	Files        int    `json:"files" yaml:"files"`
	FileBytes    int64  `json:"fileBytes" yaml:"fileBytes"`
}

// ProbeSummary is what go-diskfs reports for the image.
type ProbeSummary struct {
	Type  string `json:"type" yaml:"type"`
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
}

// CheckResult is the outcome of one structural check.
type CheckResult struct {
	Name   string `json:"name" yaml:"name"`
	Passed bool   `json:"passed" yaml:"passed"`
	Detail string `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// EntrySummary is one file or directory found in the tree.
type EntrySummary struct {
	Path     string `json:"path" yaml:"path"`
	IsDir    bool   `json:"isDir,omitempty" yaml:"isDir,omitempty"`
	Attr     uint8  `json:"attr" yaml:"attr"`
	Cluster  uint32 `json:"cluster" yaml:"cluster"`
	Size     uint32 `json:"size" yaml:"size"`
	Clusters int    `json:"clusters" yaml:"clusters"`
	SHA256   string `json:"sha256,omitempty" yaml:"sha256,omitempty"`
}

// Check names.
const (
	CheckBootSignature = "boot-signature"
	CheckBPB           = "bpb"
	CheckImageSize     = "image-size"
	CheckBackupBoot    = "backup-boot-sector"
	CheckFSInfo        = "fsinfo"
	CheckFATMirror     = "fat-mirror"
	CheckFATReserved   = "fat-reserved"
	CheckChains        = "cluster-chains"
	CheckParentLinks   = "parent-links"
)

// Passed reports whether every check passed.
func (s *ImageSummary) Passed() bool {
	return len(s.Failed()) == 0
}

// Failed returns the checks that did not pass.
func (s *ImageSummary) Failed() []CheckResult {
	var out []CheckResult
	for _, c := range s.Checks {
		if !c.Passed {
			out = append(out, c)
		}
	}
	return out
}

// Entry returns the entry with the given path, matched case-insensitively.
func (s *ImageSummary) Entry(p string) (EntrySummary, bool) {
	p = strings.Trim(p, "/")
	for _, e := range s.Entries {
		if strings.EqualFold(e.Path, p) {
			return e, true
		}
	}
	return EntrySummary{}, false
}

func (s *ImageSummary) check(name string, passed bool, detail string) {
	s.Checks = append(s.Checks, CheckResult{Name: name, Passed: passed, Detail: detail})
}

func (s *ImageSummary) note(format string, args ...any) {
	s.Notes = append(s.Notes, fmt.Sprintf(format, args...))
}

type diskAccessorFS interface {
	GetFilesystem(partitionNumber int) (filesystem.FileSystem, error)
	Close() error
}

// Inspector decodes boot images.
type Inspector struct {
	// HashFiles adds a SHA256 of the whole image and of every file.
	HashFiles bool
	// Geometry is assumed when sector 0 carries no FAT32 BPB.
	Geometry fatimage.Geometry

	logger   *zap.SugaredLogger
	openDisk func(path string) (diskAccessorFS, error)
}

func NewInspector(hash bool) *Inspector {
	return &Inspector{
		HashFiles: hash,
		Geometry:  fatimage.DefaultGeometry(),
		logger:    logger.Logger(),
		openDisk:  openDiskfs,
	}
}

func openDiskfs(p string) (diskAccessorFS, error) {
	d, err := diskfs.Open(p)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Inspector) Inspect(imagePath string) (*ImageSummary, error) {
	d.logger.Infof("Inspecting image: %s, hashFiles=%v", imagePath, d.HashFiles)

	fi, err := os.Stat(imagePath)
	if err != nil {
		return nil, fmt.Errorf("stat image: %w", err)
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("image path is a directory: %s", imagePath)
	}

	img, err := os.Open(imagePath)
	if err != nil {
		return nil, fmt.Errorf("open image file: %w", err)
	}
	defer img.Close()

	sha := ""
	if d.HashFiles {
		sha, err = computeFileSHA256(img)
		if err != nil {
			return nil, fmt.Errorf("sha256 image: %w", err)
		}
	}

	summary, err := d.inspectCore(img, fi.Size())
	if err != nil {
		return nil, err
	}
	summary.File = imagePath
	summary.SHA256 = sha
	d.probe(imagePath, summary)

	if failed := summary.Failed(); len(failed) > 0 {
		d.logger.Warnf("Image %s failed %d structural check(s)", imagePath, len(failed))
	}
	return summary, nil
}

// probe asks go-diskfs for the filesystem type and label. Failures are
// recorded as notes.
func (d *Inspector) probe(imagePath string, summary *ImageSummary) {
	if d.openDisk == nil {
		return
	}
	disk, err := d.openDisk(imagePath)
	if err != nil {
		summary.note("diskfs: open failed: %v", err)
		return
	}
	defer disk.Close()

	fs, err := disk.GetFilesystem(0)
	if err != nil {
		summary.note("diskfs: no filesystem detected: %v", err)
		return
	}
	summary.Probe = &ProbeSummary{
		Type:  filesystemTypeLabel(fs.Type()),
		Label: strings.TrimSpace(fs.Label()),
	}
}

// filesystemTypeLabel maps a diskfs filesystem.Type to a string label.
func filesystemTypeLabel(fsType filesystem.Type) string {
	switch fsType {
	case filesystem.TypeFat32:
		return "vfat"
	case filesystem.TypeISO9660:
		return "iso9660"
	case filesystem.TypeSquashfs:
		return "squashfs"
	case filesystem.TypeExt4:
		return "ext4"
	default:
		return "unknown"
	}
}

// open lays out the volume, falling back to the inspector geometry when
// sector 0 has no usable BPB.
func (d *Inspector) open(r io.ReaderAt, size int64, summary *ImageSummary) (*fatVol, error) {
	if size < 512 {
		return nil, fmt.Errorf("image is %d bytes, too small for a boot sector", size)
	}
	bs := make([]byte, 512)
	if _, err := r.ReadAt(bs, 0); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read boot sector: %w", err)
	}

	bpb, err := parseBPB(bs)
	summary.BootSector = bpb
	if bpb.Signature {
		summary.check(CheckBootSignature, true, "")
	} else {
		summary.check(CheckBootSignature, false, "bytes 510-511 are not 0x55 0xAA")
	}

	if err != nil {
		geo := d.Geometry
		if geo == (fatimage.Geometry{}) {
			geo = fatimage.DefaultGeometry()
		}
		if verr := geo.Validate(); verr != nil {
			return nil, fmt.Errorf("no usable layout: %w", verr)
		}
		summary.check(CheckBPB, false, err.Error())
		summary.note("boot sector has no FAT32 BPB, assuming %d sectors of %d bytes", geo.TotalSectors, geo.BytesPerSector)
		return openFATGeometry(r, geo), nil
	}
	summary.check(CheckBPB, true, fmt.Sprintf("%s %s", bpb.OEMName, bpb.FSType))
	return openFAT(r, bpb), nil
}

func (d *Inspector) inspectCore(r io.ReaderAt, size int64) (*ImageSummary, error) {
	summary := &ImageSummary{SizeBytes: size}

	v, err := d.open(r, size, summary)
	if err != nil {
		return nil, err
	}

	want := int64(v.totSec) * int64(v.bytsPerSec)
	summary.check(CheckImageSize, size >= want, fmt.Sprintf("%d bytes, layout needs %d", size, want))

	if err := checkBootRegion(v, summary); err != nil {
		return nil, err
	}
	fat0, err := checkFATs(v, summary)
	if err != nil {
		return nil, err
	}

	summary.Volume.ClusterSize = v.clusterSize
	if v.maxCluster >= 2 {
		summary.Volume.ClusterCount = v.maxCluster - 1
	}
	for c := uint32(2); c <= v.maxCluster && int64(c)*4+4 <= int64(len(fat0)); c++ {
		if fatEntryAt(fat0, c) != 0 {
			summary.Volume.ClustersUsed++
		}
	}

	w := &walker{vol: v, summary: summary, hash: d.HashFiles, owner: map[uint32]string{}}
	if err := w.walkRoot(); err != nil {
		return nil, err
	}
	summary.check(CheckChains, len(w.chainIssues) == 0, strings.Join(w.chainIssues, "; "))
	summary.check(CheckParentLinks, len(w.linkIssues) == 0, strings.Join(w.linkIssues, "; "))

	return summary, nil
}

func checkBootRegion(v *fatVol, summary *ImageSummary) error {
	s0, err := v.sector(0)
	if err != nil {
		return err
	}

	if v.bkBootSec == 0 {
		summary.check(CheckBackupBoot, false, "no backup boot sector recorded")
	} else {
		bk, err := v.sector(uint32(v.bkBootSec))
		if err != nil {
			return err
		}
		summary.check(CheckBackupBoot, bytes.Equal(s0, bk), fmt.Sprintf("sector %d", v.bkBootSec))
	}

	var bad []string
	lbas := []uint32{uint32(v.fsInfo)}
	if v.bkBootSec != 0 {
		lbas = append(lbas, uint32(v.bkBootSec)+1)
	}
	for _, lba := range lbas {
		s, err := v.sector(lba)
		if err != nil {
			return err
		}
		if !fatimage.HasFSInfoSignatures(s) {
			bad = append(bad, fmt.Sprintf("sector %d lacks FSINFO signatures", lba))
		}
	}
	summary.check(CheckFSInfo, len(bad) == 0, strings.Join(bad, "; "))
	return nil
}

func fatEntryAt(fat []byte, c uint32) uint32 {
	off := int(c) * 4
	return (uint32(fat[off]) | uint32(fat[off+1])<<8 | uint32(fat[off+2])<<16 | uint32(fat[off+3])<<24) & fatEntryMask
}

func checkFATs(v *fatVol, summary *ImageSummary) ([]byte, error) {
	fat0, err := v.fatCopy(0)
	if err != nil {
		return nil, err
	}

	var diff []string
	for n := 1; n < int(v.numFATs); n++ {
		fn, err := v.fatCopy(n)
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(fat0, fn) {
			diff = append(diff, fmt.Sprintf("copy %d differs from copy 0", n))
		}
	}
	summary.check(CheckFATMirror, len(diff) == 0, strings.Join(diff, "; "))

	if len(fat0) < 12 {
		summary.check(CheckFATReserved, false, "FAT too small")
		return fat0, nil
	}
	var bad []string
	if e := fatEntryAt(fat0, 0); e&0x0FFFFF00 != 0x0FFFFF00 {
		bad = append(bad, fmt.Sprintf("entry 0 is 0x%08X", e))
	}
	if e := fatEntryAt(fat0, 1); e < fatEOCMin {
		bad = append(bad, fmt.Sprintf("entry 1 is 0x%08X", e))
	}
	if v.rootClus*4+4 <= uint32(len(fat0)) {
		if e := fatEntryAt(fat0, v.rootClus); e == 0 {
			bad = append(bad, fmt.Sprintf("root cluster %d is free", v.rootClus))
		}
	}
	summary.check(CheckFATReserved, len(bad) == 0, strings.Join(bad, "; "))
	return fat0, nil
}

// walker lists the directory tree and collects chain and link problems.
type walker struct {
	vol     *fatVol
	summary *ImageSummary
	hash    bool

	owner       map[uint32]string
	chainIssues []string
	linkIssues  []string
}

// claim records p as the owner of clusters and reports whether none of them
// was already owned.
func (w *walker) claim(p string, clusters []uint32) bool {
	fresh := true
	for _, c := range clusters {
		if prev, ok := w.owner[c]; ok {
			w.chainIssues = append(w.chainIssues, fmt.Sprintf("cluster %d shared by %s and %s", c, prev, p))
			fresh = false
			continue
		}
		w.owner[c] = p
	}
	return fresh
}

func (w *walker) walkRoot() error {
	rootChain, err := w.vol.chain(w.vol.rootClus)
	if err != nil {
		w.chainIssues = append(w.chainIssues, fmt.Sprintf("root: %v", err))
		return nil
	}
	w.claim("/", rootChain)

	ents, label, err := w.vol.readRootDir()
	if err != nil {
		return fmt.Errorf("read root directory: %w", err)
	}
	w.summary.Volume.Label = label
	return w.walkDir("", w.vol.rootClus, ents)
}

func (w *walker) walkDir(dir string, cluster uint32, ents []fatDirEntry) error {
	for _, e := range ents {
		p := path.Join(dir, e.name)
		clusters, err := w.vol.chain(e.firstCluster)
		if err != nil {
			w.chainIssues = append(w.chainIssues, fmt.Sprintf("%s: %v", p, err))
		}
		fresh := w.claim(p, clusters)

		entry := EntrySummary{
			Path:     p,
			IsDir:    e.isDir,
			Attr:     e.attr,
			Cluster:  e.firstCluster,
			Size:     e.size,
			Clusters: len(clusters),
		}

		if !e.isDir {
			w.summary.Volume.Files++
			w.summary.Volume.FileBytes += int64(e.size)
			need := (int64(e.size) + int64(w.vol.clusterSize) - 1) / int64(w.vol.clusterSize)
			if err == nil && int64(len(clusters)) != need {
				w.chainIssues = append(w.chainIssues,
					fmt.Sprintf("%s: %d bytes need %d clusters, chain has %d", p, e.size, need, len(clusters)))
			}
			if w.hash && err == nil {
				data, rerr := w.vol.readFileByEntry(&e)
				if rerr != nil {
					w.summary.note("read %s failed: %v", p, rerr)
				} else {
					entry.SHA256 = sha256Hex(data)
				}
			}
			w.summary.Entries = append(w.summary.Entries, entry)
			continue
		}

		w.summary.Entries = append(w.summary.Entries, entry)
		w.summary.Volume.Directories++
		if err != nil || len(clusters) == 0 || !fresh {
			continue
		}

		parent := cluster
		if parent == w.vol.rootClus {
			parent = 0
		}
		dotDot, ok, lerr := w.vol.dotDotCluster(e.firstCluster)
		switch {
		case lerr != nil:
			return lerr
		case !ok:
			w.linkIssues = append(w.linkIssues, fmt.Sprintf("%s: missing . and .. entries", p))
		case dotDot != parent:
			w.linkIssues = append(w.linkIssues, fmt.Sprintf("%s: .. points at %d, parent is %d", p, dotDot, parent))
		}

		sub, _, rerr := w.vol.readDirFromCluster(e.firstCluster)
		if rerr != nil {
			w.chainIssues = append(w.chainIssues, fmt.Sprintf("%s: %v", p, rerr))
			continue
		}
		if err := w.walkDir(p, e.firstCluster, sub); err != nil {
			return err
		}
	}
	return nil
}

// ReadFile returns the content of the file at filePath inside the image.
func ReadFile(imagePath, filePath string) ([]byte, error) {
	img, err := os.Open(imagePath)
	if err != nil {
		return nil, fmt.Errorf("open image file: %w", err)
	}
	defer img.Close()

	fi, err := img.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat image: %w", err)
	}

	inspector := &Inspector{Geometry: fatimage.DefaultGeometry(), logger: logger.Logger()}
	v, err := inspector.open(img, fi.Size(), &ImageSummary{})
	if err != nil {
		return nil, err
	}
	e, err := v.findPath(filePath)
	if err != nil {
		return nil, err
	}
	return v.readFileByEntry(e)
}

func computeFileSHA256(f *os.File) (string, error) {
	if _, err := f.Seek(0, 0); err != nil {
		return "", err
	}

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	if _, err := f.Seek(0, 0); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
