package segments

import (
	"fmt"
	"sort"
)

// Selector narrows Index.Find; empty fields match everything. Date is
// formatted as 2006-01-02.
type Selector struct {
	Kind     string `json:"kind,omitempty"`
	Platform string `json:"platform,omitempty"`
	Flight   string `json:"flight,omitempty"`
	Date     string `json:"date,omitempty"`
}

const dateLayout = "2006-01-02"

// Index answers segment lookups over a flattened segment list.
type Index struct {
	segments []Segment
	byID     map[string]int
	// label name -> value -> positions in segments, ascending
	labels map[string]map[string][]int
}

// NewIndex indexes segs. Later duplicates of a segment id are ignored.
func NewIndex(segs []Segment) *Index {
	idx := &Index{
		segments: segs,
		byID:     make(map[string]int, len(segs)),
		labels:   make(map[string]map[string][]int),
	}
	for i, s := range segs {
		if _, dup := idx.byID[s.SegmentID]; dup {
			continue
		}
		idx.byID[s.SegmentID] = i
		for _, k := range s.Kinds {
			idx.add("kind", k, i)
		}
		idx.add("platform", s.PlatformID, i)
		idx.add("flight", s.FlightID, i)
		idx.add("date", s.Start.UTC().Format(dateLayout), i)
	}
	return idx
}

func (idx *Index) add(label, value string, pos int) {
	values := idx.labels[label]
	if values == nil {
		values = make(map[string][]int)
		idx.labels[label] = values
	}
	positions := values[value]
	if n := len(positions); n > 0 && positions[n-1] == pos {
		return
	}
	values[value] = append(positions, pos)
}

// Len returns the number of indexed segments
func (idx *Index) Len() int {
	return len(idx.byID)
}

// Segments returns all indexed segments
func (idx *Index) Segments() []Segment {
	return idx.segments
}

// Get returns the segment with the given id
func (idx *Index) Get(id string) (Segment, error) {
	i, ok := idx.byID[id]
	if !ok {
		return Segment{}, fmt.Errorf("%q: %w", id, ErrNotFound)
	}
	return idx.segments[i], nil
}

// Find returns the segments matching sel in index order.
func (idx *Index) Find(sel Selector) []Segment {
	var result []int
	first := true
	for _, c := range []struct{ label, value string }{
		{"kind", sel.Kind},
		{"platform", sel.Platform},
		{"flight", sel.Flight},
		{"date", sel.Date},
	} {
		if c.value == "" {
			continue
		}
		positions := idx.labels[c.label][c.value]
		if first {
			result = positions
			first = false
		} else {
			result = intersect(result, positions)
		}
		if len(result) == 0 {
			return nil
		}
	}

	if first {
		out := make([]Segment, 0, len(idx.byID))
		for _, i := range idx.byID {
			result = append(result, i)
		}
		sort.Ints(result)
		for _, i := range result {
			out = append(out, idx.segments[i])
		}
		return out
	}

	out := make([]Segment, len(result))
	for j, i := range result {
		out[j] = idx.segments[i]
	}
	return out
}

// intersect merges two ascending position lists
func intersect(a, b []int) []int {
	out := make([]int, 0)
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			i++
		case a[i] > b[j]:
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}
