package security

import (
	"strings"
	"testing"
)

func TestValidateString_Basics(t *testing.T) {
	lim := DefaultLimits()
	if err := ValidateString("ok", "hello", lim); err != nil {
		t.Fatal(err)
	}
	if err := ValidateString("nul", "a\x00b", lim); err == nil {
		t.Fatal("expected NUL reject")
	}
	if err := ValidateString("nonprint", "a\u0007b", lim); err == nil {
		t.Fatal("expected control char reject")
	}
	if err := ValidateString("badutf8", string([]byte{0xff, 0xfe, 0xfd}), lim); err == nil {
		t.Fatal("expected invalid UTF-8 reject")
	}
	if err := ValidateString("tab", "a\tb", lim); err == nil {
		t.Fatal("expected tab reject in a plain string")
	}
}

func TestValidateString_Length(t *testing.T) {
	lim := Limits{MaxStringLen: 4, MaxPathLen: 8}

	if err := ValidateString("label", "ABCD", lim); err != nil {
		t.Fatalf("string at the limit rejected: %v", err)
	}
	err := ValidateString("label", "ABCDE", lim)
	if err == nil || !strings.Contains(err.Error(), "label: too long") {
		t.Fatalf("expected length error naming the field, got %v", err)
	}
	if err := ValidatePath("source", "/a/b/c.d", lim); err != nil {
		t.Fatalf("path at the limit rejected: %v", err)
	}
	if err := ValidatePath("source", "/a/b/c.de", lim); err == nil {
		t.Fatal("expected path length reject")
	}
}

func TestValidatePath(t *testing.T) {
	lim := DefaultLimits()
	for _, p := range []string{"/srv/boot/stage1.bin", `C:\images\atlas.img`, "dir with space/f.txt", "odd\tname"} {
		if err := ValidatePath("path", p, lim); err != nil {
			t.Errorf("ValidatePath(%q) = %v", p, err)
		}
	}
	if err := ValidatePath("path", "bad\nname", lim); err == nil {
		t.Error("expected newline reject")
	}
}
