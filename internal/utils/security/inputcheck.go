// Package security rejects manifest and command line strings that cannot be
// safe file paths, names or labels.
package security

import (
	"fmt"
	"unicode"
	"unicode/utf8"
)

// Limits bounds the strings accepted from manifests and arguments.
type Limits struct {
	MaxStringLen int
	MaxPathLen   int
}

func DefaultLimits() Limits {
	return Limits{
		MaxStringLen: 1024,
		MaxPathLen:   4096,
	}
}

// ValidateString rejects NUL bytes, control characters, invalid UTF-8 and
// strings longer than lim.MaxStringLen. field names the value in errors.
func ValidateString(field, s string, lim Limits) error {
	return validate(field, s, lim.MaxStringLen, false)
}

// ValidatePath is ValidateString with the path length limit. Tabs are
// allowed since some host paths contain them.
func ValidatePath(field, p string, lim Limits) error {
	return validate(field, p, lim.MaxPathLen, true)
}

func validate(field, s string, maxLen int, allowTab bool) error {
	if maxLen > 0 && len(s) > maxLen {
		return fmt.Errorf("%s: too long (%d bytes, limit %d)", field, len(s), maxLen)
	}
	if !utf8.ValidString(s) {
		return fmt.Errorf("%s: invalid UTF-8", field)
	}
	for i, r := range s {
		switch {
		case r == 0:
			return fmt.Errorf("%s: NUL byte at offset %d", field, i)
		case r == '\t' && allowTab:
		case unicode.IsControl(r):
			return fmt.Errorf("%s: control character %U at offset %d", field, r, i)
		}
	}
	return nil
}
