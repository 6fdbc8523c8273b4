package flags

import (
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/d70-t/how-to-eurec4a/pkg/types"
)

// Match is the outcome of testing one sample. Valid is false when the input
// sample was missing; Hit is then always false and must not be read as
// "did not match".
type Match struct {
	Timestamp time.Time
	Hit       bool
	Valid     bool
}

// Mask is a boolean time series that keeps track of missing samples.
type Mask []Match

// Matches marks every sample whose code is one of codes. Several codes
// combine as a logical OR. When the series carries a flag table, sample
// codes outside the table never match.
func Matches(s Series, codes ...int) Mask {
	want := make(map[int]struct{}, len(codes))
	for _, c := range codes {
		want[c] = struct{}{}
	}

	mask := make(Mask, len(s.Samples))
	for i, sample := range s.Samples {
		mask[i].Timestamp = sample.Timestamp
		if !sample.Valid {
			continue
		}
		mask[i].Valid = true
		if s.Table != nil && !s.Table.Contains(sample.Code) {
			continue
		}
		_, mask[i].Hit = want[sample.Code]
	}
	return mask
}

// MatchesNamed is Matches with flag names resolved through the series'
// flag table.
func MatchesNamed(s Series, names ...string) (Mask, error) {
	codes, err := s.Table.Codes(names...)
	if err != nil {
		return nil, err
	}
	return Matches(s, codes...), nil
}

// MatchesFunc marks every non-missing sample of a quantity series for which
// pred holds.
func MatchesFunc(s types.Series, pred func(float64) bool) Mask {
	mask := make(Mask, len(s.Samples))
	for i, sample := range s.Samples {
		mask[i].Timestamp = sample.Timestamp
		if !sample.Valid {
			continue
		}
		mask[i].Valid = true
		mask[i].Hit = pred(sample.Value)
	}
	return mask
}

// Above returns a predicate matching values strictly greater than x.
func Above(x float64) func(float64) bool {
	return func(v float64) bool { return v > x }
}

// AtMost returns a predicate matching values less than or equal to x.
func AtMost(x float64) func(float64) bool {
	return func(v float64) bool { return v <= x }
}

// Counts returns the number of hits and of non-missing samples in m.
func Counts(m Mask) (hits, valid int) {
	for _, match := range m {
		if !match.Valid {
			continue
		}
		valid++
		if match.Hit {
			hits++
		}
	}
	return hits, valid
}

// Fraction returns hits / (hits + misses). Missing samples are excluded from
// both numerator and denominator.
func Fraction(m Mask) (float64, error) {
	hits, valid := Counts(m)
	if valid == 0 {
		return 0, &EmptySeriesError{}
	}
	return float64(hits) / float64(valid), nil
}

// Mean returns the mean over the non-missing samples of a quantity series.
func Mean(s types.Series) (float64, error) {
	values := make([]float64, 0, len(s.Samples))
	for _, sample := range s.Samples {
		if sample.Valid {
			values = append(values, sample.Value)
		}
	}
	if len(values) == 0 {
		return 0, &EmptySeriesError{Series: s.Metric.Name}
	}
	return stat.Mean(values, nil), nil
}
