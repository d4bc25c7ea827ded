package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/marmos91/dittosafe/pkg/safe"
)

// Output helpers. fatih/color disables colors on its own when NO_COLOR is
// set or stdout is not a terminal.
var (
	success   = color.New(color.FgGreen).SprintFunc()
	failure   = color.New(color.FgRed).SprintFunc()
	highlight = color.New(color.FgCyan).SprintFunc()
	muted     = color.New(color.Faint).SprintFunc()
)

func done(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "%s %s\n", success("✓"), fmt.Sprintf(format, args...))
}

func printHeaders(w io.Writer, headers []safe.Header) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, h := range headers {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			highlight(h.Name), humanize.Bytes(uint64(h.Size)), muted(h.ContentType), humanize.Time(h.ModTime))
	}
	return tw.Flush()
}

func since(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}
