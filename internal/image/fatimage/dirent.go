package fatimage

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Directory entry attributes.
const (
	AttrVolumeLabel uint8 = 0x08
	AttrDirectory   uint8 = 0x10
	AttrArchive     uint8 = 0x20
)

// Slot markers.
const (
	slotFree    byte = 0x00
	slotDeleted byte = 0xE5
)

// ShortName is the 11-byte space-padded name field of a directory entry.
type ShortName [11]byte

func (n ShortName) String() string {
	base := strings.TrimRight(string(n[:8]), " ")
	ext := strings.TrimRight(string(n[8:]), " ")
	if ext == "" {
		return base
	}
	return base + "." + ext
}

var (
	dotName    = ShortName{'.', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' '}
	dotDotName = ShortName{'.', '.', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' '}
)

const illegalNameChars = `"*/:<>?\|`

func checkNameChars(s string) error {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x20 || c > 0x7E {
			return fmt.Errorf("%w: %q contains a non-ASCII or control byte", ErrInvalidName, s)
		}
		if strings.IndexByte(illegalNameChars, c) >= 0 {
			return fmt.Errorf("%w: %q contains %q", ErrInvalidName, s, c)
		}
	}
	return nil
}

func padField(dst []byte, s string) {
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = ' '
	}
}

// FormatShortName converts a file or directory name into its 8.3 field: the
// part before the last '.' is uppercased, stripped of any remaining dots and
// cut to 8 characters, the part after it to 3, both right-padded with spaces.
func FormatShortName(name string) (ShortName, error) {
	var out ShortName
	if name == "" || name == "." || name == ".." {
		return out, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if err := checkNameChars(name); err != nil {
		return out, err
	}

	base, ext := name, ""
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		base, ext = name[:i], name[i+1:]
	}
	base = strings.ReplaceAll(base, ".", "")
	if base == "" {
		return out, fmt.Errorf("%w: %q has no base name", ErrInvalidName, name)
	}

	base = strings.ToUpper(base)
	ext = strings.ToUpper(ext)
	if len(base) > 8 {
		base = base[:8]
	}
	if len(ext) > 3 {
		ext = ext[:3]
	}
	padField(out[:8], base)
	padField(out[8:], ext)
	return out, nil
}

// FormatVolumeLabel uppercases and pads a label to the 11-byte field.
func FormatVolumeLabel(label string) (ShortName, error) {
	var out ShortName
	if strings.TrimSpace(label) == "" {
		return out, fmt.Errorf("%w: empty volume label", ErrInvalidName)
	}
	if err := checkNameChars(label); err != nil {
		return out, err
	}
	label = strings.ToUpper(label)
	if len(label) > len(out) {
		label = label[:len(out)]
	}
	padField(out[:], label)
	return out, nil
}

// DirEntry is a 32-byte short directory entry. Timestamps are left zero so
// identical inputs produce identical images.
type DirEntry struct {
	Name    ShortName
	Attr    uint8
	Cluster uint32
	Size    uint32
}

// MarshalTo encodes e into b, which must be at least DirEntrySize bytes.
func (e DirEntry) MarshalTo(b []byte) {
	_ = b[DirEntrySize-1]
	for i := range b[:DirEntrySize] {
		b[i] = 0
	}
	copy(b[0:11], e.Name[:])
	b[11] = e.Attr
	binary.LittleEndian.PutUint16(b[20:22], uint16(e.Cluster>>16))
	binary.LittleEndian.PutUint16(b[26:28], uint16(e.Cluster&0xFFFF))
	binary.LittleEndian.PutUint32(b[28:32], e.Size)
}

// UnmarshalDirEntry decodes the short entry at the start of b.
func UnmarshalDirEntry(b []byte) DirEntry {
	var e DirEntry
	copy(e.Name[:], b[0:11])
	e.Attr = b[11]
	e.Cluster = uint32(binary.LittleEndian.Uint16(b[20:22]))<<16 | uint32(binary.LittleEndian.Uint16(b[26:28]))
	e.Size = binary.LittleEndian.Uint32(b[28:32])
	return e
}
