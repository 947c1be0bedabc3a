package fatimage

import (
	"bytes"
	"fmt"
	"strings"
)

// splitPath normalises a slash- or backslash-separated target path into its
// components. Empty components are dropped.
func splitPath(p string) ([]string, error) {
	p = strings.ReplaceAll(p, `\`, "/")
	var parts []string
	for _, part := range strings.Split(p, "/") {
		switch part {
		case "":
			continue
		case ".", "..":
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, p)
		}
		parts = append(parts, part)
	}
	return parts, nil
}

// dirKey builds the registry key from formatted names, so paths that differ
// only in case or in truncated characters share one directory.
func dirKey(names []ShortName) string {
	var sb strings.Builder
	for i, n := range names {
		if i > 0 {
			sb.WriteByte('/')
		}
		sb.Write(n[:])
	}
	return sb.String()
}

func formatComponents(parts []string) ([]ShortName, error) {
	names := make([]ShortName, len(parts))
	for i, part := range parts {
		n, err := FormatShortName(part)
		if err != nil {
			return nil, err
		}
		names[i] = n
	}
	return names, nil
}

// ResolveDir returns the cluster of the directory at path, creating it and
// any missing parents. The empty path is the root.
func (b *Builder) ResolveDir(path string) (uint32, error) {
	parts, err := splitPath(path)
	if err != nil {
		return 0, err
	}
	names, err := formatComponents(parts)
	if err != nil {
		return 0, err
	}
	return b.resolveDir(names, parts)
}

// resolveDir creates parents before children so every directory has its own
// "." and ".." entries and its parent slot before anything is written into it.
func (b *Builder) resolveDir(names []ShortName, parts []string) (uint32, error) {
	key := dirKey(names)
	if c, ok := b.dirs[key]; ok {
		return c, nil
	}

	last := len(names) - 1
	parent, err := b.resolveDir(names[:last], parts[:last])
	if err != nil {
		return 0, err
	}

	slot, err := b.reserveSlot(parent, names[last], strings.Join(parts, "/"))
	if err != nil {
		return 0, err
	}

	c, err := b.allocCluster()
	if err != nil {
		return 0, err
	}
	if err := b.img.SetFATEntry(c, EndOfChain); err != nil {
		return 0, err
	}

	// ".." of a first-level directory points at cluster 0, not the root cluster
	dotdot := parent
	if parent == RootCluster {
		dotdot = 0
	}
	sector := b.img.Cluster(c)
	DirEntry{Name: dotName, Attr: AttrDirectory, Cluster: c}.MarshalTo(sector[0:])
	DirEntry{Name: dotDotName, Attr: AttrDirectory, Cluster: dotdot}.MarshalTo(sector[DirEntrySize:])

	DirEntry{Name: names[last], Attr: AttrDirectory, Cluster: c}.MarshalTo(b.img.Cluster(parent)[slot:])

	b.dirs[key] = c
	b.log.Debugf("Created directory %s at cluster %d (parent %d)", strings.Join(parts, "/"), c, parent)
	return c, nil
}

// reserveSlot finds the first free or deleted slot in dir for name and
// rejects names already present. Root slot 0 belongs to the volume label.
func (b *Builder) reserveSlot(dir uint32, name ShortName, path string) (int, error) {
	sector := b.img.Cluster(dir)
	first := 0
	if dir == RootCluster {
		first = DirEntrySize
	}

	free := -1
	for off := first; off+DirEntrySize <= len(sector); off += DirEntrySize {
		switch sector[off] {
		case slotFree, slotDeleted:
			if free < 0 {
				free = off
			}
		default:
			if sector[off+11]&AttrVolumeLabel == 0 && bytes.Equal(sector[off:off+11], name[:]) {
				return 0, fmt.Errorf("%w: %s (%q)", ErrDuplicateEntry, path, name.String())
			}
		}
	}
	if free < 0 {
		b.log.Warnf("No space in directory at cluster %d for %s (%d slots per directory)",
			dir, path, b.img.geo.EntriesPerDirectory())
		return 0, fmt.Errorf("%w: cannot add %s (%d slots per directory)",
			ErrDirectoryFull, path, b.img.geo.EntriesPerDirectory())
	}
	return free, nil
}
