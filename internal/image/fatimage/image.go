package fatimage

import (
	"encoding/binary"
	"fmt"
)

// Image is the zero-filled in-memory volume. Every structure is written into
// it through offset-based writes.
type Image struct {
	geo Geometry
	buf []byte
}

// NewImage allocates a zeroed buffer of geo.ImageSize() bytes.
func NewImage(geo Geometry) (*Image, error) {
	if err := geo.Validate(); err != nil {
		return nil, err
	}
	return &Image{geo: geo, buf: make([]byte, geo.ImageSize())}, nil
}

// Geometry returns the layout the image was created with.
func (im *Image) Geometry() Geometry {
	return im.geo
}

// Bytes returns the backing buffer, not a copy.
func (im *Image) Bytes() []byte {
	return im.buf
}

func (im *Image) sectorOffset(lba uint32) int64 {
	return int64(lba) * int64(im.geo.BytesPerSector)
}

// Sector returns a writable view of one sector.
func (im *Image) Sector(lba uint32) []byte {
	off := im.sectorOffset(lba)
	return im.buf[off : off+int64(im.geo.BytesPerSector)]
}

// Cluster returns a writable view of one cluster.
func (im *Image) Cluster(cluster uint32) []byte {
	return im.Sector(im.geo.ClusterSector(cluster))
}

func (im *Image) putUint32(off int64, v uint32) {
	binary.LittleEndian.PutUint32(im.buf[off:off+4], v)
}

// SetFATEntry writes value (masked to 28 bits) for cluster into every FAT
// copy at the same relative offset.
func (im *Image) SetFATEntry(cluster, value uint32) error {
	off := int64(cluster) * 4
	if off+4 > im.geo.FATSizeBytes() {
		return fmt.Errorf("%w: cluster %d is outside the FAT", ErrNoSpace, cluster)
	}
	value &= fatEntryMask
	base := im.geo.FATStart() + off
	for i := uint32(0); i < im.geo.FATCount; i++ {
		im.putUint32(base+int64(i)*im.geo.FATSizeBytes(), value)
	}
	return nil
}

// FATEntry reads the entry for cluster from FAT copy n (0-based).
func (im *Image) FATEntry(n int, cluster uint32) uint32 {
	off := im.geo.FATStart() + int64(n)*im.geo.FATSizeBytes() + int64(cluster)*4
	return binary.LittleEndian.Uint32(im.buf[off:off+4]) & fatEntryMask
}

// FATCopy returns a view of FAT copy n (0-based).
func (im *Image) FATCopy(n int) []byte {
	start := im.geo.FATStart() + int64(n)*im.geo.FATSizeBytes()
	return im.buf[start : start+im.geo.FATSizeBytes()]
}

func (im *Image) initFAT() error {
	for _, e := range []struct{ cluster, value uint32 }{
		{0, MediaEntry},
		{1, EndOfChain},
		{RootCluster, EndOfChain},
	} {
		if err := im.SetFATEntry(e.cluster, e.value); err != nil {
			return err
		}
	}
	return nil
}
