package flags

import (
	"math"
	"time"

	"github.com/d70-t/how-to-eurec4a/pkg/types"
)

// CF attribute names carrying the flag table of a variable.
const (
	AttrFlagValues   = "flag_values"
	AttrFlagMeanings = "flag_meanings"
)

// Sample is one flag-coded observation. Valid is false for a missing
// observation, in which case Code is meaningless.
type Sample struct {
	Timestamp time.Time
	Code      int
	Valid     bool
}

// Series is an ordered, read-only flag-coded time series. Table may be nil,
// in which case codes are compared by raw equality.
type Series struct {
	Name    string
	Table   *Table
	Samples []Sample
}

// FromSeries converts a catalog variable into a flag series. The flag table
// is taken from the flag_values and flag_meanings attributes when present.
// Missing samples stay missing; a valid non-integral value is an error.
func FromSeries(s types.Series) (Series, error) {
	out := Series{Name: s.Metric.Name}

	values, meanings := s.Attr(AttrFlagValues), s.Attr(AttrFlagMeanings)
	if values != "" || meanings != "" {
		table, err := ParseTable(meanings, values)
		if err != nil {
			return Series{}, err
		}
		out.Table = table
	}

	out.Samples = make([]Sample, len(s.Samples))
	for i, sample := range s.Samples {
		out.Samples[i].Timestamp = sample.Timestamp
		if !sample.Valid {
			continue
		}
		if sample.Value != math.Trunc(sample.Value) || math.IsInf(sample.Value, 0) {
			return Series{}, &CodeError{Series: s.Metric.Name, Value: sample.Value}
		}
		out.Samples[i].Code = int(sample.Value)
		out.Samples[i].Valid = true
	}
	return out, nil
}
