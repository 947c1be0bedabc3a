package fatimage

import "errors"

var (
	// ErrInvalidGeometry is returned when a Geometry cannot hold the fixed
	// boot structures, the FATs and a root directory.
	ErrInvalidGeometry = errors.New("invalid image geometry")

	// ErrBootSectorTooLarge is returned when boot stage 1 does not fit in
	// sector 0.
	ErrBootSectorTooLarge = errors.New("boot stage 1 does not fit in the boot sector")

	// ErrStage2TooLarge is returned when boot stage 2 would run into the
	// first FAT.
	ErrStage2TooLarge = errors.New("boot stage 2 does not fit in the reserved region")

	// ErrNoSpace is returned when an allocation would pass the last usable
	// cluster.
	ErrNoSpace = errors.New("no free clusters left in image")

	// ErrDirectoryFull is returned when a directory's single sector has no
	// free slot left.
	ErrDirectoryFull = errors.New("directory is full")

	// ErrInvalidName is returned for names that cannot be expressed as an
	// ASCII 8.3 name.
	ErrInvalidName = errors.New("invalid 8.3 name")

	// ErrInvalidPath is returned for empty targets and for paths with "." or
	// ".." components.
	ErrInvalidPath = errors.New("invalid target path")

	// ErrDuplicateEntry is returned when a directory already holds an entry
	// with the same 8.3 name.
	ErrDuplicateEntry = errors.New("duplicate directory entry")
)
