package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/therealutkarshpriyadarshi/mediadl/internal/dispatch"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/downloader"
	"github.com/therealutkarshpriyadarshi/mediadl/pkg/models"
)

func optionalInt(v *int, suffix string) string {
	if v == nil {
		return "-"
	}
	return strconv.Itoa(*v) + suffix
}

func formatSize(v *int64) string {
	if v == nil {
		return "-"
	}
	return downloader.FormatBytes(*v)
}

func printFormats(w io.Writer, title string, formats []models.MediaFormat) error {
	if title != "" {
		fmt.Fprintln(w, title)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tQUALITY\tCONTAINER\tCODEC\tBITRATE\tSIZE")
	for _, f := range formats {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			f.ID,
			f.Type,
			dash(f.Quality),
			f.Container.String(),
			f.Codec.String(),
			optionalInt(f.Bitrate, "k"),
			formatSize(f.ApproxFileSizeBytes),
		)
	}
	return tw.Flush()
}

func printStats(w io.Writer, s models.QualityStats) {
	fmt.Fprintf(w, "%d formats: %d video, %d audio, %d progressive; best %dp, %d kbps\n",
		s.TotalFormats, s.VideoFormats, s.AudioFormats, s.ProgressiveCount, s.MaxHeight, s.MaxAudioBitrate)
}

func describeDelivery(d *dispatch.Delivery) string {
	var b strings.Builder
	switch {
	case d.Path != "":
		fmt.Fprintf(&b, "saved %s (%s)", d.Path, downloader.FormatBytes(d.Bytes))
	case d.URL != "":
		fmt.Fprintf(&b, "handed off %s", d.URL)
	default:
		b.WriteString("delivered")
	}
	fmt.Fprintf(&b, " via %s", d.Strategy)
	if d.Muxed {
		fmt.Fprintf(&b, ", muxed %s + %s", dash(d.VideoQuality), dash(d.AudioQuality))
	}
	return b.String()
}

func printBatch(w io.Writer, results []dispatch.BatchResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "URL\tFORMAT\tRESULT")
	for _, r := range results {
		result := ""
		if r.Err != nil {
			result = "failed: " + r.Err.Error()
		} else {
			result = describeDelivery(r.Delivery)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.URL, dash(r.Format.ID), result)
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
