// Package fatimage lays out a bootable FAT32 volume in memory: boot sector,
// FSINFO, mirrored FATs, a single-sector-per-directory tree and file cluster
// chains. Clusters are handed out from a counter and never reused.
package fatimage

import (
	"fmt"

	"github.com/atlas-os/atlas-disk/internal/utils/logger"
	"go.uber.org/zap"
)

// DefaultVolumeLabel is written into the first root slot unless overridden.
const DefaultVolumeLabel = "ATLAS BOOT"

// Builder owns the image buffer, the next-free-cluster counter and the
// directory registry for a single build pass. It is not safe for concurrent
// use.
type Builder struct {
	img         *Image
	nextCluster uint32
	dirs        map[string]uint32
	log         *zap.SugaredLogger
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger routes the builder's diagnostics to l.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(b *Builder) {
		b.log = l
	}
}

// NewBuilder allocates an image for geo and initialises the reserved FAT
// entries and the root directory cluster.
func NewBuilder(geo Geometry, opts ...Option) (*Builder, error) {
	img, err := NewImage(geo)
	if err != nil {
		return nil, err
	}
	b := &Builder{
		img:         img,
		nextCluster: FirstFreeCluster,
		dirs:        map[string]uint32{"": RootCluster},
		log:         logger.Logger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if err := img.initFAT(); err != nil {
		return nil, err
	}
	return b, nil
}

// Image returns the image being built.
func (b *Builder) Image() *Image {
	return b.img
}

// Bytes returns the image buffer.
func (b *Builder) Bytes() []byte {
	return b.img.Bytes()
}

// NextCluster is the cluster the next allocation will return.
func (b *Builder) NextCluster() uint32 {
	return b.nextCluster
}

// WriteBootRegion installs both boot stages. A stage 1 without the 0x55AA
// signature is accepted with a warning.
func (b *Builder) WriteBootRegion(stage1, stage2 []byte) error {
	if err := b.img.WriteBootRegion(stage1, stage2); err != nil {
		return err
	}
	if !HasBootSignature(b.img.Sector(0)) {
		b.log.Warnf("Boot stage 1 (%d bytes) has no 0x55AA signature at offset 510; the volume will not boot", len(stage1))
	}
	b.log.Debugf("Boot region written: stage1=%d bytes, stage2=%d bytes at sector %d", len(stage1), len(stage2), Stage2Sector)
	return nil
}

// SetVolumeLabel writes the volume label entry into root slot 0.
func (b *Builder) SetVolumeLabel(label string) error {
	name, err := FormatVolumeLabel(label)
	if err != nil {
		return err
	}
	DirEntry{Name: name, Attr: AttrVolumeLabel}.MarshalTo(b.img.Cluster(RootCluster))
	return nil
}

// allocCluster hands out the next cluster number.
func (b *Builder) allocCluster() (uint32, error) {
	if b.nextCluster > b.img.geo.MaxCluster() {
		return 0, fmt.Errorf("%w: last usable cluster is %d", ErrNoSpace, b.img.geo.MaxCluster())
	}
	c := b.nextCluster
	b.nextCluster++
	return c, nil
}

// ensureClusters fails when n more clusters cannot be allocated.
func (b *Builder) ensureClusters(n uint32) error {
	if n == 0 {
		return nil
	}
	// nextCluster never passes MaxCluster+1
	free := uint64(b.img.geo.MaxCluster()) + 1 - uint64(b.nextCluster)
	if uint64(n) > free {
		return fmt.Errorf("%w: need %d clusters, %d left", ErrNoSpace, n, free)
	}
	return nil
}
