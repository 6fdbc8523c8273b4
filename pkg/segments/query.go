package segments

import (
	"sort"
	"time"
)

// Predicate selects segments
type Predicate func(Segment) bool

// OfKind selects segments of the given kind
func OfKind(kind string) Predicate {
	return func(s Segment) bool { return s.HasKind(kind) }
}

// OnDate selects segments starting on the UTC calendar day of date
func OnDate(date time.Time) Predicate {
	return func(s Segment) bool { return sameDay(s.Start, date) }
}

// OnPlatform selects segments flown by platform
func OnPlatform(platform string) Predicate {
	return func(s Segment) bool { return s.PlatformID == platform }
}

// InFlight selects segments of one flight
func InFlight(flightID string) Predicate {
	return func(s Segment) bool { return s.FlightID == flightID }
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// Filter returns the segments matching all predicates, in input order.
func Filter(segs []Segment, preds ...Predicate) []Segment {
	var out []Segment
next:
	for _, s := range segs {
		for _, p := range preds {
			if !p(s) {
				continue next
			}
		}
		out = append(out, s)
	}
	return out
}

// IDs returns the segment ids of segs.
func IDs(segs []Segment) []string {
	ids := make([]string, len(segs))
	for i, s := range segs {
		ids[i] = s.SegmentID
	}
	return ids
}

// SortByStart returns a copy of segs ordered by start time. Segments
// starting together keep their input order.
func SortByStart(segs []Segment) []Segment {
	out := append([]Segment(nil), segs...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// FlightIDs lists the flight ids of all platforms.
func FlightIDs(meta Metadata) []string {
	return flightIDs(meta, func(Flight) bool { return true })
}

// FlightIDsOn lists the flights whose date is the calendar day of date.
func FlightIDsOn(meta Metadata, date time.Time) []string {
	return flightIDs(meta, func(f Flight) bool { return sameDay(f.Date, date) })
}

func flightIDs(meta Metadata, keep func(Flight) bool) []string {
	var ids []string
	for _, platform := range sortedKeys(meta) {
		flights := meta[platform]
		for _, id := range sortedKeys(flights) {
			if keep(flights[id]) {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// Kinds returns the sorted set of segment kinds used in segs.
func Kinds(segs []Segment) []string {
	seen := make(map[string]struct{})
	for _, s := range segs {
		for _, k := range s.Kinds {
			seen[k] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

// IDsByKind maps each kind to the ids of the segments having it.
func IDsByKind(segs []Segment) map[string][]string {
	out := make(map[string][]string)
	for _, s := range segs {
		for _, k := range s.Kinds {
			out[k] = append(out[k], s.SegmentID)
		}
	}
	return out
}

// TotalDuration sums the durations of the segments of the given kind.
func TotalDuration(segs []Segment, kind string) time.Duration {
	var total time.Duration
	for _, s := range segs {
		if s.HasKind(kind) {
			total += s.Duration()
		}
	}
	return total
}

// CommonProperties returns the properties set on every segment.
func CommonProperties(segs []Segment) []string {
	if len(segs) == 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, s := range segs {
		for _, p := range s.Properties() {
			counts[p]++
		}
	}
	var common []string
	for p, n := range counts {
		if n == len(segs) {
			common = append(common, p)
		}
	}
	sort.Strings(common)
	return common
}
