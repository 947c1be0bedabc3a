package imageinspect

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/atlas-os/atlas-disk/internal/utils/logger"
)

// PrintSummary prints a human-readable summary of the image inspection to the given writer.
func PrintSummary(w io.Writer, summary *ImageSummary) {
	if summary == nil {
		logger.Logger().Errorf("PrintSummary: summary is nil")
		return
	}

	fmt.Fprintln(w, "Boot Image Summary")
	fmt.Fprintln(w, "==================")
	fmt.Fprintf(w, "Image:\t%s\n", summary.File)
	fmt.Fprintf(w, "Size:\t%s (%d bytes)\n", humanBytes(summary.SizeBytes), summary.SizeBytes)
	if summary.SHA256 != "" {
		fmt.Fprintf(w, "SHA256:\t%s\n", summary.SHA256)
	}

	bs := summary.BootSector
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Boot Sector")
	fmt.Fprintln(w, "-----------")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Signature:\t%t\n", bs.Signature)
	fmt.Fprintf(tw, "OEM name:\t%s\n", emptyOr(bs.OEMName, "-"))
	fmt.Fprintf(tw, "Bytes per sector:\t%d\n", bs.BytesPerSector)
	fmt.Fprintf(tw, "Sectors per cluster:\t%d\n", bs.SectorsPerCluster)
	fmt.Fprintf(tw, "Reserved sectors:\t%d\n", bs.ReservedSectors)
	fmt.Fprintf(tw, "FATs:\t%d x %d sectors\n", bs.NumFATs, bs.SectorsPerFAT)
	fmt.Fprintf(tw, "Total sectors:\t%d\n", bs.TotalSectors)
	fmt.Fprintf(tw, "Root cluster:\t%d\n", bs.RootCluster)
	fmt.Fprintf(tw, "FSINFO / backup:\t%d / %d\n", bs.FSInfoSector, bs.BackupBootSector)
	if bs.VolumeID != "" {
		fmt.Fprintf(tw, "Volume ID:\t%s\n", bs.VolumeID)
	}
	_ = tw.Flush()

	vol := summary.Volume
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Volume")
	fmt.Fprintln(w, "------")
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Label:\t%s\n", emptyOr(vol.Label, "-"))
	if summary.Probe != nil {
		fmt.Fprintf(tw, "Detected:\t%s %s\n", summary.Probe.Type, strings.TrimSpace(summary.Probe.Label))
	}
	fmt.Fprintf(tw, "Clusters:\t%d used of %d (%s each)\n", vol.ClustersUsed, vol.ClusterCount, humanBytes(int64(vol.ClusterSize)))
	fmt.Fprintf(tw, "Contents:\t%d directories, %d files, %s\n", vol.Directories, vol.Files, humanBytes(vol.FileBytes))
	_ = tw.Flush()

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Checks")
	fmt.Fprintln(w, "------")
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, c := range summary.Checks {
		status := "ok"
		if !c.Passed {
			status = "FAIL"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", c.Name, status, c.Detail)
	}
	_ = tw.Flush()

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Files")
	fmt.Fprintln(w, "-----")
	if len(summary.Entries) == 0 {
		fmt.Fprintln(w, "(none)")
	} else {
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "PATH\tTYPE\tCLUSTER\tCHAIN\tSIZE\tSHA256")
		for _, e := range summary.Entries {
			kind := "file"
			p := e.Path
			if e.IsDir {
				kind = "dir"
				p += "/"
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n", p, kind, e.Cluster, e.Clusters, e.Size, emptyOr(shortHash(e.SHA256), "-"))
		}
		_ = tw.Flush()
	}

	if len(summary.Notes) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Notes")
		fmt.Fprintln(w, "-----")
		for _, n := range summary.Notes {
			fmt.Fprintf(w, "- %s\n", n)
		}
	}

	fmt.Fprintln(w)
}

func humanBytes(n int64) string {
	if n < 0 {
		return fmt.Sprintf("%d B", n)
	}
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func emptyOr(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

func shortHash(s string) string {
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
