package fatimage

import "fmt"

// Fixed sector and cluster numbers of the layout. One cluster is exactly one
// sector; the paired boot stages depend on that.
const (
	FSInfoSector       = 1
	BackupBootSector   = 6
	BackupFSInfoSector = 7
	Stage2Sector       = 8

	RootCluster      uint32 = 2
	FirstFreeCluster uint32 = 3

	DirEntrySize = 32
)

// FAT entry values.
const (
	EndOfChain   uint32 = 0x0FFFFFFF
	MediaEntry   uint32 = 0x0FFFFFF8
	fatEntryMask uint32 = 0x0FFFFFFF
)

// Geometry describes the physical layout of the image. All counts are in
// sectors except BytesPerSector.
type Geometry struct {
	BytesPerSector  uint32
	ReservedSectors uint32
	FATCount        uint32
	SectorsPerFAT   uint32
	TotalSectors    uint32
}

// DefaultGeometry returns the 64 MiB layout the stage-1 BPB is assembled
// against.
func DefaultGeometry() Geometry {
	return Geometry{
		BytesPerSector:  512,
		ReservedSectors: 32,
		FATCount:        2,
		SectorsPerFAT:   0x400,
		TotalSectors:    0x20000,
	}
}

// Validate checks that the geometry leaves room for every fixed structure.
func (g Geometry) Validate() error {
	switch g.BytesPerSector {
	case 512, 1024, 2048, 4096:
	default:
		return fmt.Errorf("%w: bytes per sector %d", ErrInvalidGeometry, g.BytesPerSector)
	}
	if g.ReservedSectors <= Stage2Sector {
		return fmt.Errorf("%w: %d reserved sectors leave no room for stage 2 at sector %d",
			ErrInvalidGeometry, g.ReservedSectors, Stage2Sector)
	}
	if g.FATCount == 0 || g.SectorsPerFAT == 0 {
		return fmt.Errorf("%w: %d FATs of %d sectors", ErrInvalidGeometry, g.FATCount, g.SectorsPerFAT)
	}
	if uint64(g.DataStartSector()) >= uint64(g.TotalSectors) {
		return fmt.Errorf("%w: data region starts at sector %d but the image has %d sectors",
			ErrInvalidGeometry, g.DataStartSector(), g.TotalSectors)
	}
	if g.MaxCluster() < RootCluster {
		return fmt.Errorf("%w: no room for the root directory cluster", ErrInvalidGeometry)
	}
	return nil
}

// ImageSize is the size of the produced image in bytes.
func (g Geometry) ImageSize() int64 {
	return int64(g.TotalSectors) * int64(g.BytesPerSector)
}

// FATStart is the byte offset of the first FAT copy.
func (g Geometry) FATStart() int64 {
	return int64(g.ReservedSectors) * int64(g.BytesPerSector)
}

// FATSizeBytes is the size of one FAT copy in bytes.
func (g Geometry) FATSizeBytes() int64 {
	return int64(g.SectorsPerFAT) * int64(g.BytesPerSector)
}

// DataStartSector is the LBA of cluster 2 (the root directory).
func (g Geometry) DataStartSector() uint32 {
	return g.ReservedSectors + g.FATCount*g.SectorsPerFAT
}

// ClusterSector maps a cluster number onto its LBA.
func (g Geometry) ClusterSector(cluster uint32) uint32 {
	return g.DataStartSector() + (cluster - RootCluster)
}

// MaxCluster is the highest cluster number that is both backed by a data
// sector and addressable by a FAT entry.
func (g Geometry) MaxCluster() uint32 {
	dataSectors := g.TotalSectors - g.DataStartSector()
	last := RootCluster + dataSectors - 1

	fatEntries := uint32(g.FATSizeBytes() / 4)
	if fatEntries == 0 {
		return 0
	}
	if last > fatEntries-1 {
		last = fatEntries - 1
	}
	return last
}

// Stage2Capacity is the number of bytes available between sector 8 and the
// first FAT.
func (g Geometry) Stage2Capacity() int {
	return int(g.ReservedSectors-Stage2Sector) * int(g.BytesPerSector)
}

// EntriesPerDirectory is the number of 32-byte slots in a directory. A
// directory never grows past its first cluster.
func (g Geometry) EntriesPerDirectory() int {
	return int(g.BytesPerSector) / DirEntrySize
}
