package app

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/d70-t/how-to-eurec4a/pkg/flags"
	"github.com/d70-t/how-to-eurec4a/pkg/report"
)

// RequestError reports an invalid fraction request
type RequestError struct {
	Reason string
}

func (e *RequestError) Error() string {
	return "invalid request: " + e.Reason
}

// Request selects a variable of a catalog dataset, an interval of it and the
// samples counted as hits.
//
// The interval is either a flight segment or an explicit [Start, End); zero
// times leave a side open. Hits are selected by exactly one of Flags, Codes
// or the threshold pair Above/AtMost.
type Request struct {
	Ref      string    `json:"ref"`
	Variable string    `json:"variable"`
	Segment  string    `json:"segment,omitempty"`
	Start    time.Time `json:"start,omitempty"`
	End      time.Time `json:"end,omitempty"`
	Flags    []string  `json:"flags,omitempty"`
	Codes    []int     `json:"codes,omitempty"`
	// Above selects values strictly greater than it
	Above *float64 `json:"above,omitempty"`
	// AtMost selects values less than or equal to it
	AtMost *float64      `json:"at_most,omitempty"`
	Window time.Duration `json:"window,omitempty"`
	Offset time.Duration `json:"offset,omitempty"`
}

func (r *Request) threshold() bool {
	return r.Above != nil || r.AtMost != nil
}

// Validate checks the request for contradicting options
func (r *Request) Validate() error {
	if r.Ref == "" {
		return &RequestError{Reason: "dataset reference is required"}
	}
	if r.Variable == "" {
		return &RequestError{Reason: "variable is required"}
	}

	modes := 0
	for _, set := range []bool{len(r.Flags) > 0, len(r.Codes) > 0, r.threshold()} {
		if set {
			modes++
		}
	}
	switch modes {
	case 0:
		return &RequestError{Reason: "select hits by flag names, flag codes or a threshold"}
	case 1:
	default:
		return &RequestError{Reason: "flag names, flag codes and thresholds are mutually exclusive"}
	}

	if r.Segment != "" && (!r.Start.IsZero() || !r.End.IsZero()) {
		return &RequestError{Reason: "a segment and an explicit interval are mutually exclusive"}
	}
	if !r.Start.IsZero() && !r.End.IsZero() && !r.Start.Before(r.End) {
		return &RequestError{Reason: "start must be before end"}
	}
	if r.Window < 0 {
		return flags.ErrInvalidWindow
	}
	return nil
}

// Hit selections used throughout the EUREC4A cloud product comparisons.
// The cloud masks distinguish a minimal ("most likely cloudy") and a
// maximal ("probably or most likely cloudy") estimate; the optical
// thickness split separates thin from thick clouds at 3.
var presets = map[string]func(r *Request){
	"cloudy-min": func(r *Request) { r.Flags = []string{"most_likely_cloudy"} },
	"cloudy-max": func(r *Request) { r.Flags = []string{"probably_cloudy", "most_likely_cloudy"} },
	"thin": func(r *Request) {
		x := opticalThicknessSplit
		r.AtMost = &x
	},
	"thick": func(r *Request) {
		x := opticalThicknessSplit
		r.Above = &x
	},
}

const opticalThicknessSplit = 3.0

// Presets lists the names accepted by ApplyPreset
func Presets() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ApplyPreset sets the hit selection of a named preset. The request must
// not select hits yet.
func (r *Request) ApplyPreset(name string) error {
	apply, ok := presets[name]
	if !ok {
		return &RequestError{Reason: fmt.Sprintf("unknown preset %q, use one of %s", name, strings.Join(Presets(), ", "))}
	}
	if len(r.Flags) > 0 || len(r.Codes) > 0 || r.threshold() {
		return &RequestError{Reason: "a preset replaces flag names, flag codes and thresholds"}
	}
	apply(r)
	return nil
}

// Selection describes the hit selection in one line
func (r *Request) Selection() string {
	switch {
	case len(r.Flags) > 0:
		return strings.Join(r.Flags, "|")
	case len(r.Codes) > 0:
		codes := make([]string, len(r.Codes))
		for i, c := range r.Codes {
			codes[i] = strconv.Itoa(c)
		}
		return "code=" + strings.Join(codes, "|")
	}

	var parts []string
	if r.Above != nil {
		parts = append(parts, "> "+strconv.FormatFloat(*r.Above, 'g', -1, 64))
	}
	if r.AtMost != nil {
		parts = append(parts, "<= "+strconv.FormatFloat(*r.AtMost, 'g', -1, 64))
	}
	return strings.Join(parts, " and ")
}

// predicate combines the threshold bounds
func (r *Request) predicate() func(float64) bool {
	var preds []func(float64) bool
	if r.Above != nil {
		preds = append(preds, flags.Above(*r.Above))
	}
	if r.AtMost != nil {
		preds = append(preds, flags.AtMost(*r.AtMost))
	}
	return func(x float64) bool {
		for _, p := range preds {
			if !p(x) {
				return false
			}
		}
		return true
	}
}

// Result is the cloud fraction over the requested interval
type Result struct {
	Ref       string    `json:"ref"`
	URL       string    `json:"url"`
	Variable  string    `json:"variable"`
	Segment   string    `json:"segment,omitempty"`
	Selection string    `json:"selection"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Fraction  float64   `json:"fraction"`
	Hits      int       `json:"hits"`
	Valid     int       `json:"valid"`
	Total     int       `json:"total"`
	// Mean of the valid values, for threshold selections
	Mean    *float64               `json:"mean,omitempty"`
	Window  time.Duration          `json:"window,omitempty"`
	Windows []flags.WindowFraction `json:"windows,omitempty"`
}

// Rows converts the result for the report writers
func (r *Result) Rows() []report.Row {
	return report.Rows(report.Summary{
		Dataset:   r.Ref,
		Variable:  r.Variable,
		Segment:   r.Segment,
		Selection: r.Selection,
		Start:     r.Start,
		End:       r.End,
		Fraction:  r.Fraction,
		Hits:      r.Hits,
		Valid:     r.Valid,
	}, r.Windows, r.Window)
}

func (r *Result) String() string {
	return fmt.Sprintf("%s %s %s: %.4f (%d of %d)", r.Ref, r.Variable, r.Selection, r.Fraction, r.Hits, r.Valid)
}
