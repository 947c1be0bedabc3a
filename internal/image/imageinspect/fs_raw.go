package imageinspect

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/atlas-os/atlas-disk/internal/image/fatimage"
)

const (
	fatEntryMask uint32 = 0x0FFFFFFF
	fatEOCMin    uint32 = 0x0FFFFFF8
	fatBad       uint32 = 0x0FFFFFF7
)

// errNoBPB is returned by parseBPB when sector 0 does not describe a FAT32
// volume.
var errNoBPB = errors.New("no FAT32 BIOS parameter block")

// fatVol is an opened FAT32 volume inside an image file.
type fatVol struct {
	r io.ReaderAt

	bytsPerSec uint16
	secPerClus uint8
	rsvdSecCnt uint16
	numFATs    uint8
	totSec     uint32
	fatSz32    uint32
	rootClus   uint32
	fsInfo     uint16
	bkBootSec  uint16

	fatStart    int64
	dataStart   int64
	clusterSize uint32
	maxCluster  uint32
}

// fatDirEntry is one decoded short directory entry.
type fatDirEntry struct {
	name         string
	attr         uint8
	isDir        bool
	firstCluster uint32
	size         uint32
}

// sha256Hex returns the SHA256 hash of the given byte slice as a hex string.
func sha256Hex(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// parseBPB reads the FAT32 BIOS parameter block from a boot sector.
func parseBPB(bs []byte) (BootSectorSummary, error) {
	var s BootSectorSummary
	if len(bs) < 512 {
		return s, fmt.Errorf("%w: boot sector is %d bytes", errNoBPB, len(bs))
	}
	s.Signature = fatimage.HasBootSignature(bs)
	s.OEMName = strings.TrimRight(string(bs[3:11]), " \x00")
	s.BytesPerSector = binary.LittleEndian.Uint16(bs[11:13])
	s.SectorsPerCluster = bs[13]
	s.ReservedSectors = binary.LittleEndian.Uint16(bs[14:16])
	s.NumFATs = bs[16]
	rootEntCnt := binary.LittleEndian.Uint16(bs[17:19])
	totSec16 := binary.LittleEndian.Uint16(bs[19:21])
	s.Media = bs[21]
	fatSz16 := binary.LittleEndian.Uint16(bs[22:24])
	s.TotalSectors = binary.LittleEndian.Uint32(bs[32:36])
	if s.TotalSectors == 0 {
		s.TotalSectors = uint32(totSec16)
	}
	s.SectorsPerFAT = binary.LittleEndian.Uint32(bs[36:40])
	s.RootCluster = binary.LittleEndian.Uint32(bs[44:48])
	s.FSInfoSector = binary.LittleEndian.Uint16(bs[48:50])
	s.BackupBootSector = binary.LittleEndian.Uint16(bs[50:52])
	if bs[66] == 0x29 {
		s.VolumeID = fmt.Sprintf("%08X", binary.LittleEndian.Uint32(bs[67:71]))
		s.VolumeLabel = strings.TrimRight(string(bs[71:82]), " \x00")
		s.FSType = strings.TrimRight(string(bs[82:90]), " \x00")
	}

	switch s.BytesPerSector {
	case 512, 1024, 2048, 4096:
	default:
		return s, fmt.Errorf("%w: bytes per sector %d", errNoBPB, s.BytesPerSector)
	}
	if s.SectorsPerCluster == 0 || s.ReservedSectors == 0 || s.NumFATs == 0 {
		return s, fmt.Errorf("%w: invalid BPB fields", errNoBPB)
	}
	if rootEntCnt != 0 || fatSz16 != 0 || s.SectorsPerFAT == 0 {
		return s, fmt.Errorf("%w: not a FAT32 layout", errNoBPB)
	}
	if s.RootCluster < 2 || s.TotalSectors == 0 {
		return s, fmt.Errorf("%w: invalid root cluster or sector count", errNoBPB)
	}
	return s, nil
}

// openFAT lays out a volume from a parsed BPB.
func openFAT(r io.ReaderAt, bpb BootSectorSummary) *fatVol {
	v := &fatVol{
		r:          r,
		bytsPerSec: bpb.BytesPerSector,
		secPerClus: bpb.SectorsPerCluster,
		rsvdSecCnt: bpb.ReservedSectors,
		numFATs:    bpb.NumFATs,
		totSec:     bpb.TotalSectors,
		fatSz32:    bpb.SectorsPerFAT,
		rootClus:   bpb.RootCluster,
		fsInfo:     bpb.FSInfoSector,
		bkBootSec:  bpb.BackupBootSector,
	}
	v.layout()
	return v
}

// openFATGeometry lays out a volume from a known geometry when the boot
// sector carries no BPB.
func openFATGeometry(r io.ReaderAt, geo fatimage.Geometry) *fatVol {
	v := &fatVol{
		r:          r,
		bytsPerSec: uint16(geo.BytesPerSector),
		secPerClus: 1,
		rsvdSecCnt: uint16(geo.ReservedSectors),
		numFATs:    uint8(geo.FATCount),
		totSec:     geo.TotalSectors,
		fatSz32:    geo.SectorsPerFAT,
		rootClus:   fatimage.RootCluster,
		fsInfo:     fatimage.FSInfoSector,
		bkBootSec:  fatimage.BackupBootSector,
	}
	v.layout()
	return v
}

func (v *fatVol) layout() {
	v.clusterSize = uint32(v.bytsPerSec) * uint32(v.secPerClus)
	v.fatStart = int64(v.rsvdSecCnt) * int64(v.bytsPerSec)
	dataStartSec := uint32(v.rsvdSecCnt) + uint32(v.numFATs)*v.fatSz32
	v.dataStart = int64(dataStartSec) * int64(v.bytsPerSec)

	if v.totSec > dataStartSec {
		v.maxCluster = 2 + (v.totSec-dataStartSec)/uint32(v.secPerClus) - 1
	}
	if entries := v.fatSz32 * uint32(v.bytsPerSec) / 4; entries > 0 && v.maxCluster > entries-1 {
		v.maxCluster = entries - 1
	}
}

// sector reads one sector.
func (v *fatVol) sector(lba uint32) ([]byte, error) {
	b := make([]byte, v.bytsPerSec)
	if _, err := v.r.ReadAt(b, int64(lba)*int64(v.bytsPerSec)); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read sector %d: %w", lba, err)
	}
	return b, nil
}

// fatCopy reads FAT copy n.
func (v *fatVol) fatCopy(n int) ([]byte, error) {
	size := int64(v.fatSz32) * int64(v.bytsPerSec)
	b := make([]byte, size)
	if _, err := v.r.ReadAt(b, v.fatStart+int64(n)*size); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read FAT copy %d: %w", n, err)
	}
	return b, nil
}

// isEOC checks if the given cluster number indicates end-of-chain.
func (v *fatVol) isEOC(c uint32) bool {
	return c >= fatEOCMin
}

// clusterOff returns the byte offset of the given cluster within the image.
func (v *fatVol) clusterOff(cluster uint32) int64 {
	if cluster < 2 {
		return v.dataStart
	}
	return v.dataStart + int64(cluster-2)*int64(v.clusterSize)
}

// fatEntry reads the first FAT's entry for the given cluster number.
func (v *fatVol) fatEntry(cluster uint32) (uint32, error) {
	b := make([]byte, 4)
	if _, err := v.r.ReadAt(b, v.fatStart+int64(cluster)*4); err != nil && err != io.EOF {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b) & fatEntryMask, nil
}

// chain follows the FAT from start and returns every cluster visited.
func (v *fatVol) chain(start uint32) ([]uint32, error) {
	var out []uint32
	seen := map[uint32]bool{}
	for c := start; c >= 2 && !v.isEOC(c); {
		if c > v.maxCluster || c == fatBad {
			return out, fmt.Errorf("cluster %d out of range", c)
		}
		if seen[c] {
			return out, fmt.Errorf("FAT loop detected at cluster %d", c)
		}
		seen[c] = true
		out = append(out, c)

		next, err := v.fatEntry(c)
		if err != nil {
			return out, err
		}
		if next == 0 {
			return out, fmt.Errorf("chain from cluster %d ends in a free cluster at %d", start, c)
		}
		c = next
	}
	return out, nil
}

// readClusters concatenates the contents of clusters.
func (v *fatVol) readClusters(clusters []uint32) ([]byte, error) {
	out := make([]byte, 0, len(clusters)*int(v.clusterSize))
	chunk := make([]byte, v.clusterSize)
	for _, c := range clusters {
		if _, err := v.r.ReadAt(chunk, v.clusterOff(c)); err != nil && err != io.EOF {
			return nil, err
		}
		out = append(out, chunk...)
	}
	return out, nil
}

// readFileByEntry reads the contents of the file represented by e.
func (v *fatVol) readFileByEntry(e *fatDirEntry) ([]byte, error) {
	if e.isDir {
		return nil, fmt.Errorf("is a directory: %s", e.name)
	}
	clusters, err := v.chain(e.firstCluster)
	if err != nil {
		return nil, err
	}
	data, err := v.readClusters(clusters)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) < int64(e.size) {
		return nil, fmt.Errorf("%s: chain holds %d bytes, entry records %d", e.name, len(data), e.size)
	}
	return data[:e.size], nil
}

// readDirFromCluster reads directory entries starting from the given cluster.
// The volume label entry, if present, is returned separately.
func (v *fatVol) readDirFromCluster(startCluster uint32) ([]fatDirEntry, string, error) {
	clusters, err := v.chain(startCluster)
	if err != nil {
		return nil, "", err
	}
	all, err := v.readClusters(clusters)
	if err != nil {
		return nil, "", err
	}
	ents, label := parseDirEntries(all)
	return ents, label, nil
}

// readRootDir reads the root directory entries of the volume.
func (v *fatVol) readRootDir() ([]fatDirEntry, string, error) {
	return v.readDirFromCluster(v.rootClus)
}

// parseDirEntries parses raw directory entry bytes. Free and deleted slots are
// skipped, so are the dot entries and long-name fragments.
func parseDirEntries(buf []byte) ([]fatDirEntry, string) {
	var (
		out   []fatDirEntry
		label string
	)

	for off := 0; off+fatimage.DirEntrySize <= len(buf); off += fatimage.DirEntrySize {
		e := buf[off : off+fatimage.DirEntrySize]
		if e[0] == 0x00 {
			break
		}
		if e[0] == 0xE5 {
			continue
		}

		de := fatimage.UnmarshalDirEntry(e)
		if de.Attr == 0x0F {
			continue
		}
		if de.Attr&fatimage.AttrVolumeLabel != 0 {
			if label == "" {
				label = strings.TrimRight(string(de.Name[:]), " ")
			}
			continue
		}

		name := de.Name.String()
		if name == "." || name == ".." {
			continue
		}

		out = append(out, fatDirEntry{
			name:         name,
			attr:         de.Attr,
			isDir:        de.Attr&fatimage.AttrDirectory != 0,
			firstCluster: de.Cluster,
			size:         de.Size,
		})
	}

	return out, label
}

// dotDotCluster returns the parent cluster recorded in the ".." entry of the
// directory at cluster, or false if the entry is missing.
func (v *fatVol) dotDotCluster(cluster uint32) (uint32, bool, error) {
	buf := make([]byte, fatimage.DirEntrySize*2)
	if _, err := v.r.ReadAt(buf, v.clusterOff(cluster)); err != nil && err != io.EOF {
		return 0, false, err
	}
	dot := fatimage.UnmarshalDirEntry(buf)
	dotDot := fatimage.UnmarshalDirEntry(buf[fatimage.DirEntrySize:])
	if dot.Name.String() != "." || dotDot.Name.String() != ".." {
		return 0, false, nil
	}
	return dotDot.Cluster, true, nil
}

// findPath finds the directory entry for the given slash-separated path.
func (v *fatVol) findPath(p string) (*fatDirEntry, error) {
	p = strings.Trim(path.Clean("/"+p), "/")
	if p == "" {
		return nil, fmt.Errorf("empty path")
	}
	parts := strings.Split(p, "/")

	ents, _, err := v.readRootDir()
	if err != nil {
		return nil, err
	}

	for i, part := range parts {
		var match *fatDirEntry
		for _, e := range ents {
			if strings.EqualFold(e.name, part) {
				tmp := e
				match = &tmp
				break
			}
		}
		if match == nil {
			return nil, fmt.Errorf("%s: %w", p, os.ErrNotExist)
		}
		if i == len(parts)-1 {
			return match, nil
		}
		if !match.isDir {
			return nil, fmt.Errorf("not a directory: %s", part)
		}
		ents, _, err = v.readDirFromCluster(match.firstCluster)
		if err != nil {
			return nil, err
		}
	}

	return nil, os.ErrNotExist
}
