package output

import (
	"bytes"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/jbweber/gridvm/internal/status"
)

// TableFormatter formats reports as a human-readable table.
type TableFormatter struct {
	NoHeaders bool
}

// Format renders one row per machine.
func (f *TableFormatter) Format(reports []status.Report) (string, error) {
	if len(reports) == 0 {
		return "No machines found\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "NAME\tORDINAL\tJOB\tSTATE\tADDRESS\tSITE\tAGE")
	}

	for _, r := range reports {
		age := "-"
		if !r.CreatedAt.IsZero() {
			age = formatAge(time.Since(r.CreatedAt))
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Name, strconv.Itoa(r.Ordinal), dash(r.JobID), dash(string(r.State)),
			dash(r.Address), dash(r.Site), age)
	}

	_ = w.Flush()
	return buf.String(), nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// formatAge formats a duration as a human-readable age string.
// Examples: "5s", "2m", "3h", "4d", "2w", "1y"
func formatAge(d time.Duration) string {
	if d < 0 {
		return "unknown"
	}

	seconds := int(d.Seconds())
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}

	minutes := seconds / 60
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}

	hours := minutes / 60
	if hours < 24 {
		return fmt.Sprintf("%dh", hours)
	}

	days := hours / 24
	if days < 7 {
		return fmt.Sprintf("%dd", days)
	}

	weeks := days / 7
	if weeks < 8 {
		return fmt.Sprintf("%dw", weeks)
	}

	if years := days / 365; years > 0 {
		return fmt.Sprintf("%dy", years)
	}
	return fmt.Sprintf("%dd", days)
}
