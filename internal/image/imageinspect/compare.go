package imageinspect

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// ImageCompareResult represents the result of comparing two images.
type ImageCompareResult struct {
	SchemaVersion string `json:"schemaVersion,omitempty" yaml:"schemaVersion,omitempty"`

	From ImageSummary `json:"from" yaml:"from"`
	To   ImageSummary `json:"to" yaml:"to"`

	Equality Equality       `json:"equality" yaml:"equality"`
	Summary  CompareSummary `json:"summary" yaml:"summary"`
	Diff     ImageDiff      `json:"diff" yaml:"diff"`
}

// CompareSummary provides a high-level summary of differences between two images.
type CompareSummary struct {
	Changed           bool `json:"changed,omitempty" yaml:"changed,omitempty"`
	BootSectorChanged bool `json:"bootSectorChanged,omitempty" yaml:"bootSectorChanged,omitempty"`
	LabelChanged      bool `json:"labelChanged,omitempty" yaml:"labelChanged,omitempty"`

	AddedCount    int `json:"addedCount,omitempty" yaml:"addedCount,omitempty"`
	RemovedCount  int `json:"removedCount,omitempty" yaml:"removedCount,omitempty"`
	ModifiedCount int `json:"modifiedCount,omitempty" yaml:"modifiedCount,omitempty"`
}

// ImageDiff represents the differences between two ImageSummary objects.
type ImageDiff struct {
	SizeBytes  *ValueDiff[int64]  `json:"sizeBytes,omitempty" yaml:"sizeBytes,omitempty"`
	BootSector []FieldChange      `json:"bootSector,omitempty" yaml:"bootSector,omitempty"`
	Label      *ValueDiff[string] `json:"label,omitempty" yaml:"label,omitempty"`
	Entries    EntryDiff          `json:"entries,omitempty" yaml:"entries,omitempty"`
}

// EntryDiff lists files and directories added, removed or modified.
type EntryDiff struct {
	Added    []EntrySummary  `json:"added,omitempty" yaml:"added,omitempty"`
	Removed  []EntrySummary  `json:"removed,omitempty" yaml:"removed,omitempty"`
	Modified []ModifiedEntry `json:"modified,omitempty" yaml:"modified,omitempty"`
}

// ModifiedEntry is an entry present in both images with different fields.
type ModifiedEntry struct {
	Path    string        `json:"path" yaml:"path"`
	Changes []FieldChange `json:"changes" yaml:"changes"`
}

// FieldChange represents a change in a single field between two objects.
type FieldChange struct {
	Field string `json:"field" yaml:"field"`
	From  any    `json:"from,omitempty" yaml:"from,omitempty"`
	To    any    `json:"to,omitempty" yaml:"to,omitempty"`
}

// ValueDiff represents a difference in a single value between two objects.
type ValueDiff[T any] struct {
	From T `json:"from" yaml:"from"`
	To   T `json:"to" yaml:"to"`
}

// EqualityClass represents the class of equality between two images.
type EqualityClass string

// Possible values for EqualityClass
const (
	EqualityBinary     EqualityClass = "binary_identical"
	EqualitySemantic   EqualityClass = "semantically_identical"
	EqualityUnverified EqualityClass = "semantically_identical_unverified"
	EqualityDifferent  EqualityClass = "different"
)

// Equality represents the equality assessment between two images.
type Equality struct {
	Class EqualityClass `json:"class" yaml:"class"`

	VolatileDiffs     int      `json:"volatileDiffs,omitempty" yaml:"volatileDiffs,omitempty"`
	MeaningfulDiffs   int      `json:"meaningfulDiffs,omitempty" yaml:"meaningfulDiffs,omitempty"`
	VolatileReasons   []string `json:"volatileReasons,omitempty" yaml:"volatileReasons,omitempty"`
	MeaningfulReasons []string `json:"meaningfulReasons,omitempty" yaml:"meaningfulReasons,omitempty"`
}

// diffTally helps tally volatile vs meaningful diffs.
type diffTally struct {
	volatile   int
	meaningful int

	vReasons []string
	mReasons []string
}

func (t *diffTally) addVolatile(n int, reason string) {
	t.volatile += n
	if reason != "" {
		t.vReasons = append(t.vReasons, fmt.Sprintf("+%d %s", n, reason))
	}
}

func (t *diffTally) addMeaningful(n int, reason string) {
	t.meaningful += n
	if reason != "" {
		t.mReasons = append(t.mReasons, fmt.Sprintf("+%d %s", n, reason))
	}
}

// Entry fields whose change does not alter what the volume serves. Start
// clusters move whenever an earlier file changes size.
var volatileEntryFields = map[string]bool{
	"cluster": true,
}

// CompareImages compares two ImageSummary objects and returns a structured diff.
func CompareImages(from, to *ImageSummary) ImageCompareResult {
	if from == nil || to == nil {
		return ImageCompareResult{
			SchemaVersion: "1",
			Equality:      Equality{Class: EqualityDifferent},
		}
	}

	res := ImageCompareResult{
		SchemaVersion: "1",
		From:          *from,
		To:            *to,
	}

	if from.SizeBytes != to.SizeBytes {
		res.Diff.SizeBytes = &ValueDiff[int64]{From: from.SizeBytes, To: to.SizeBytes}
		res.Summary.Changed = true
	}

	res.Diff.BootSector = compareBootSector(from.BootSector, to.BootSector)
	if len(res.Diff.BootSector) > 0 {
		res.Summary.BootSectorChanged = true
		res.Summary.Changed = true
	}

	if from.Volume.Label != to.Volume.Label {
		res.Diff.Label = &ValueDiff[string]{From: from.Volume.Label, To: to.Volume.Label}
		res.Summary.LabelChanged = true
		res.Summary.Changed = true
	}

	res.Diff.Entries = compareEntries(from.Entries, to.Entries)
	if d := res.Diff.Entries; len(d.Added)+len(d.Removed)+len(d.Modified) > 0 {
		res.Summary.Changed = true
		res.Summary.AddedCount = len(d.Added)
		res.Summary.RemovedCount = len(d.Removed)
		res.Summary.ModifiedCount = len(d.Modified)
	}

	res.Equality = computeEquality(from, to, res.Diff)
	return res
}

func compareBootSector(a, b BootSectorSummary) []FieldChange {
	var out []FieldChange
	add := func(field string, x, y any) {
		if x != y {
			out = append(out, FieldChange{Field: field, From: x, To: y})
		}
	}
	add("signature", a.Signature, b.Signature)
	add("oemName", a.OEMName, b.OEMName)
	add("bytesPerSector", a.BytesPerSector, b.BytesPerSector)
	add("sectorsPerCluster", a.SectorsPerCluster, b.SectorsPerCluster)
	add("reservedSectors", a.ReservedSectors, b.ReservedSectors)
	add("numFats", a.NumFATs, b.NumFATs)
	add("totalSectors", a.TotalSectors, b.TotalSectors)
	add("sectorsPerFat", a.SectorsPerFAT, b.SectorsPerFAT)
	add("rootCluster", a.RootCluster, b.RootCluster)
	add("volumeId", a.VolumeID, b.VolumeID)
	add("volumeLabel", a.VolumeLabel, b.VolumeLabel)
	return out
}

func compareEntries(from, to []EntrySummary) EntryDiff {
	var d EntryDiff

	fromIdx := indexEntries(from)
	toIdx := indexEntries(to)

	for key, a := range fromIdx {
		b, ok := toIdx[key]
		if !ok {
			d.Removed = append(d.Removed, a)
			continue
		}
		if changes := entryFieldChanges(a, b); len(changes) > 0 {
			d.Modified = append(d.Modified, ModifiedEntry{Path: b.Path, Changes: changes})
		}
	}
	for key, b := range toIdx {
		if _, ok := fromIdx[key]; !ok {
			d.Added = append(d.Added, b)
		}
	}

	sort.Slice(d.Added, func(i, j int) bool { return d.Added[i].Path < d.Added[j].Path })
	sort.Slice(d.Removed, func(i, j int) bool { return d.Removed[i].Path < d.Removed[j].Path })
	sort.Slice(d.Modified, func(i, j int) bool { return d.Modified[i].Path < d.Modified[j].Path })
	return d
}

func indexEntries(entries []EntrySummary) map[string]EntrySummary {
	out := make(map[string]EntrySummary, len(entries))
	for _, e := range entries {
		out[strings.ToUpper(e.Path)] = e
	}
	return out
}

func entryFieldChanges(a, b EntrySummary) []FieldChange {
	var out []FieldChange
	if a.IsDir != b.IsDir {
		out = append(out, FieldChange{Field: "isDir", From: a.IsDir, To: b.IsDir})
	}
	if a.Size != b.Size {
		out = append(out, FieldChange{Field: "size", From: a.Size, To: b.Size})
	}
	if a.Clusters != b.Clusters {
		out = append(out, FieldChange{Field: "clusters", From: a.Clusters, To: b.Clusters})
	}
	if a.SHA256 != "" && b.SHA256 != "" && a.SHA256 != b.SHA256 {
		out = append(out, FieldChange{Field: "sha256", From: a.SHA256, To: b.SHA256})
	}
	if a.Cluster != b.Cluster {
		out = append(out, FieldChange{Field: "cluster", From: a.Cluster, To: b.Cluster})
	}
	return out
}

func tallyDiffs(d ImageDiff) diffTally {
	var t diffTally

	if d.SizeBytes != nil {
		t.addMeaningful(1, "image size")
	}
	if len(d.BootSector) > 0 {
		t.addMeaningful(len(d.BootSector), "boot sector fields")
	}
	if d.Label != nil {
		t.addMeaningful(1, "volume label")
	}
	if n := len(d.Entries.Added); n > 0 {
		t.addMeaningful(n, "entries added")
	}
	if n := len(d.Entries.Removed); n > 0 {
		t.addMeaningful(n, "entries removed")
	}
	for _, m := range d.Entries.Modified {
		for _, c := range m.Changes {
			if volatileEntryFields[c.Field] {
				t.addVolatile(1, m.Path+" "+c.Field)
			} else {
				t.addMeaningful(1, m.Path+" "+c.Field)
			}
		}
	}
	return t
}

// hashesComplete reports whether every file in s carries a content hash.
func hashesComplete(s *ImageSummary) bool {
	for _, e := range s.Entries {
		if !e.IsDir && e.SHA256 == "" {
			return false
		}
	}
	return true
}

func computeEquality(from, to *ImageSummary, d ImageDiff) Equality {
	t := tallyDiffs(d)

	hashAvailable := strings.TrimSpace(from.SHA256) != "" && strings.TrimSpace(to.SHA256) != ""
	binaryIdentical := hashAvailable && from.SHA256 == to.SHA256

	eq := Equality{
		VolatileDiffs:     t.volatile,
		MeaningfulDiffs:   t.meaningful,
		MeaningfulReasons: t.mReasons,
		VolatileReasons:   t.vReasons,
	}

	switch {
	case binaryIdentical:
		eq.Class = EqualityBinary
	case t.meaningful == 0:
		if hashesComplete(from) && hashesComplete(to) {
			eq.Class = EqualitySemantic
		} else {
			eq.Class = EqualityUnverified
		}
	default:
		eq.Class = EqualityDifferent
	}

	return eq
}

// CompareTextOptions controls RenderCompareText.
type CompareTextOptions struct {
	// Mode is "summary", "diff" or "full". Empty means "diff".
	Mode string
}

// RenderCompareText writes a human-readable comparison.
func RenderCompareText(w io.Writer, res *ImageCompareResult, opts CompareTextOptions) error {
	if res == nil {
		return fmt.Errorf("nil compare result")
	}
	mode := strings.ToLower(opts.Mode)
	if mode == "" {
		mode = "diff"
	}
	switch mode {
	case "summary", "diff", "full":
	default:
		return fmt.Errorf("unsupported mode %q", opts.Mode)
	}

	fmt.Fprintf(w, "Equality: %s\n", res.Equality.Class)
	fmt.Fprintf(w, "From: %s\n", res.From.File)
	fmt.Fprintf(w, "To:   %s\n", res.To.File)
	if !res.Summary.Changed {
		fmt.Fprintln(w, "No differences.")
		return nil
	}
	fmt.Fprintf(w, "Entries: +%d -%d ~%d\n", res.Summary.AddedCount, res.Summary.RemovedCount, res.Summary.ModifiedCount)
	if mode == "summary" {
		return nil
	}

	d := res.Diff
	if d.SizeBytes != nil {
		fmt.Fprintf(w, "\nImage size: %d -> %d\n", d.SizeBytes.From, d.SizeBytes.To)
	}
	if d.Label != nil {
		fmt.Fprintf(w, "\nVolume label: %q -> %q\n", d.Label.From, d.Label.To)
	}
	if len(d.BootSector) > 0 {
		fmt.Fprintln(w, "\nBoot sector:")
		for _, c := range d.BootSector {
			fmt.Fprintf(w, "  %s: %v -> %v\n", c.Field, c.From, c.To)
		}
	}
	if len(d.Entries.Added)+len(d.Entries.Removed)+len(d.Entries.Modified) > 0 {
		fmt.Fprintln(w, "\nEntries:")
		for _, e := range d.Entries.Added {
			fmt.Fprintf(w, "  + %s (%d bytes)\n", e.Path, e.Size)
		}
		for _, e := range d.Entries.Removed {
			fmt.Fprintf(w, "  - %s (%d bytes)\n", e.Path, e.Size)
		}
		for _, m := range d.Entries.Modified {
			fmt.Fprintf(w, "  ~ %s\n", m.Path)
			for _, c := range m.Changes {
				fmt.Fprintf(w, "      %s: %v -> %v\n", c.Field, c.From, c.To)
			}
		}
	}

	if mode == "full" {
		for _, r := range res.Equality.MeaningfulReasons {
			fmt.Fprintf(w, "meaningful: %s\n", r)
		}
		for _, r := range res.Equality.VolatileReasons {
			fmt.Fprintf(w, "volatile: %s\n", r)
		}
	}
	return nil
}
