package fatimage

import (
	"fmt"
	"math"
	"strings"
)

// AddFile stores content under target ("DIR/SUB/NAME.EXT"), creating missing
// directories, and returns the first cluster of the file (0 for an empty file).
//
// The directory slot and the cluster budget are checked before any cluster is
// taken, so a failed call leaves the cluster counter and the FAT untouched
// apart from directories it already created.
func (b *Builder) AddFile(target string, content []byte) (uint32, error) {
	parts, err := splitPath(target)
	if err != nil {
		return 0, err
	}
	if len(parts) == 0 {
		return 0, fmt.Errorf("%w: %q has no file name", ErrInvalidPath, target)
	}
	names, err := formatComponents(parts)
	if err != nil {
		return 0, err
	}
	if uint64(len(content)) > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %s is %d bytes", ErrNoSpace, target, len(content))
	}

	last := len(names) - 1
	dir, err := b.resolveDir(names[:last], parts[:last])
	if err != nil {
		return 0, err
	}

	path := strings.Join(parts, "/")
	slot, err := b.reserveSlot(dir, names[last], path)
	if err != nil {
		return 0, err
	}

	bps := int(b.img.geo.BytesPerSector)
	count := uint32((len(content) + bps - 1) / bps)
	if err := b.ensureClusters(count); err != nil {
		return 0, fmt.Errorf("cannot add %s: %w", path, err)
	}

	start, err := b.writeChain(content, count)
	if err != nil {
		return 0, err
	}

	DirEntry{
		Name:    names[last],
		Attr:    AttrArchive,
		Cluster: start,
		Size:    uint32(len(content)),
	}.MarshalTo(b.img.Cluster(dir)[slot:])

	b.log.Debugf("Added %s: %d bytes in %d clusters from %d", path, len(content), count, start)
	return start, nil
}

// writeChain copies content into count freshly allocated clusters, linking
// each to the next and terminating the last.
func (b *Builder) writeChain(content []byte, count uint32) (uint32, error) {
	if count == 0 {
		return 0, nil
	}
	bps := int(b.img.geo.BytesPerSector)
	start := b.nextCluster
	for i := uint32(0); i < count; i++ {
		c, err := b.allocCluster()
		if err != nil {
			return 0, err
		}
		lo := int(i) * bps
		hi := lo + bps
		if hi > len(content) {
			hi = len(content)
		}
		copy(b.img.Cluster(c), content[lo:hi])

		next := EndOfChain
		if i < count-1 {
			next = c + 1
		}
		if err := b.img.SetFATEntry(c, next); err != nil {
			return 0, err
		}
	}
	return start, nil
}
