package types

import (
	"sort"
	"time"
)

// Sample represents a single time-series sample. A sample with Valid set to
// false is missing; its Value carries no meaning.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Valid     bool      `json:"valid"`
}

// Metric identifies a series by variable name and labels
// (platform, instrument, product, flight, ...).
type Metric struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`
}

// Series represents a complete time-series of one dataset variable
type Series struct {
	Metric  Metric            `json:"metric"`
	Attrs   map[string]string `json:"attrs,omitempty"`
	Samples []Sample          `json:"samples"`
}

// Attr returns the variable attribute a, or "" if unset.
func (s Series) Attr(a string) string {
	if s.Attrs == nil {
		return ""
	}
	return s.Attrs[a]
}

// Slice returns the sub-series whose timestamps fall in [start, end).
// A zero start or end leaves that side of the interval open.
// The returned series shares no sample storage with s.
func (s Series) Slice(start, end time.Time) Series {
	lo := 0
	if !start.IsZero() {
		lo = sort.Search(len(s.Samples), func(i int) bool {
			return !s.Samples[i].Timestamp.Before(start)
		})
	}
	hi := len(s.Samples)
	if !end.IsZero() {
		hi = sort.Search(len(s.Samples), func(i int) bool {
			return !s.Samples[i].Timestamp.Before(end)
		})
	}
	if hi < lo {
		hi = lo
	}

	out := Series{Metric: s.Metric, Attrs: s.Attrs}
	out.Samples = append([]Sample(nil), s.Samples[lo:hi]...)
	return out
}

// Nearest returns the sample closest in time to t. Ties go to the earlier
// sample. ok is false for an empty series.
func (s Series) Nearest(t time.Time) (sample Sample, ok bool) {
	if len(s.Samples) == 0 {
		return Sample{}, false
	}
	i := sort.Search(len(s.Samples), func(i int) bool {
		return !s.Samples[i].Timestamp.Before(t)
	})
	switch {
	case i == 0:
		return s.Samples[0], true
	case i == len(s.Samples):
		return s.Samples[i-1], true
	}
	before, after := s.Samples[i-1], s.Samples[i]
	if t.Sub(before.Timestamp) <= after.Timestamp.Sub(t) {
		return before, true
	}
	return after, true
}

// ValidCount returns the number of non-missing samples.
func (s Series) ValidCount() int {
	n := 0
	for _, sample := range s.Samples {
		if sample.Valid {
			n++
		}
	}
	return n
}

// TimeRange returns the first and last sample timestamps.
func (s Series) TimeRange() (first, last time.Time) {
	if len(s.Samples) == 0 {
		return time.Time{}, time.Time{}
	}
	return s.Samples[0].Timestamp, s.Samples[len(s.Samples)-1].Timestamp
}

// WriteRequest represents a write request to the storage engine.
// Namespace separates cached catalogs from each other.
type WriteRequest struct {
	Namespace string
	Series    []Series
}

// QueryRequest selects series by label and time range [StartTime, EndTime).
// Zero times leave the range open on that side.
type QueryRequest struct {
	Namespace string
	Selector  map[string]string
	StartTime time.Time
	EndTime   time.Time
}

// QueryResult represents query results
type QueryResult struct {
	Series []Series
}
