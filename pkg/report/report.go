// Package report writes cloud fraction results as text tables, JSON lines
// or parquet files.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/d70-t/how-to-eurec4a/pkg/flags"
)

// Output formats
const (
	FormatText    = "text"
	FormatJSON    = "json"
	FormatParquet = "parquet"
)

// Formats lists the supported output formats
var Formats = []string{FormatText, FormatJSON, FormatParquet}

// Row is one line of a report: the fraction over a whole interval, or over
// one resampling window of it.
type Row struct {
	Dataset   string    `json:"dataset"`
	Variable  string    `json:"variable"`
	Segment   string    `json:"segment,omitempty"`
	Selection string    `json:"selection"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	// Label is the window label; it equals Start for interval rows.
	Label    time.Time `json:"label"`
	Window   bool      `json:"window"`
	Fraction float64   `json:"fraction"`
	Hits     int       `json:"hits"`
	Valid    int       `json:"valid"`
}

// Summary describes the fraction over one interval
type Summary struct {
	Dataset   string
	Variable  string
	Segment   string
	Selection string
	Start     time.Time
	End       time.Time
	Fraction  float64
	Hits      int
	Valid     int
}

// Rows flattens a summary and its resampling windows. Window rows follow
// the interval row.
func Rows(s Summary, windows []flags.WindowFraction, window time.Duration) []Row {
	rows := make([]Row, 0, len(windows)+1)
	rows = append(rows, Row{
		Dataset:   s.Dataset,
		Variable:  s.Variable,
		Segment:   s.Segment,
		Selection: s.Selection,
		Start:     s.Start,
		End:       s.End,
		Label:     s.Start,
		Fraction:  s.Fraction,
		Hits:      s.Hits,
		Valid:     s.Valid,
	})
	for _, w := range windows {
		rows = append(rows, Row{
			Dataset:   s.Dataset,
			Variable:  s.Variable,
			Segment:   s.Segment,
			Selection: s.Selection,
			Start:     w.Start,
			End:       w.Start.Add(window),
			Label:     w.Label,
			Window:    true,
			Fraction:  w.Fraction,
			Hits:      w.Hits,
			Valid:     w.Count,
		})
	}
	return rows
}

// Write writes rows to w in format
func Write(w io.Writer, format string, rows []Row) error {
	switch format {
	case FormatText, "":
		return WriteText(w, rows)
	case FormatJSON:
		return WriteJSON(w, rows)
	case FormatParquet:
		return WriteParquet(w, rows, "")
	}
	return fmt.Errorf("unknown report format %q, use one of %s", format, strings.Join(Formats, ", "))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

// WriteText writes an aligned table. Window rows are indented below their
// interval row.
func WriteText(w io.Writer, rows []Row) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATASET\tVARIABLE\tSEGMENT\tSELECTION\tSTART\tEND\tFRACTION\tHITS\tVALID")
	for _, r := range rows {
		dataset, segment := r.Dataset, r.Segment
		if segment == "" {
			segment = "-"
		}
		if r.Window {
			dataset = "  " + formatTime(r.Label)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%.4f\t%d\t%d\n",
			dataset, r.Variable, segment, r.Selection, formatTime(r.Start), formatTime(r.End), r.Fraction, r.Hits, r.Valid)
	}
	return tw.Flush()
}

// WriteJSON writes one JSON object per row
func WriteJSON(w io.Writer, rows []Row) error {
	enc := json.NewEncoder(w)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}
