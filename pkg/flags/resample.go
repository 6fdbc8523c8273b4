package flags

import (
	"sort"
	"time"
)

// WindowFraction is the fraction of hits in one resampling window
// [Start, Start+window). Label is Start shifted by the requested offset.
type WindowFraction struct {
	Start    time.Time `json:"start"`
	Label    time.Time `json:"label"`
	Fraction float64   `json:"fraction"`
	Hits     int       `json:"hits"`
	Count    int       `json:"count"`
}

// ResampleFraction partitions m into fixed, non-overlapping windows of the
// given duration and computes Fraction per window. Windows are aligned to
// multiples of window since the zero time, so any window dividing a day
// starts at midnight UTC. Windows without a single non-missing sample are
// left out of the result.
func ResampleFraction(m Mask, window, offset time.Duration) ([]WindowFraction, error) {
	if window <= 0 {
		return nil, ErrInvalidWindow
	}

	type bucket struct{ hits, valid int }
	buckets := make(map[int64]*bucket)
	for _, match := range m {
		if !match.Valid {
			continue
		}
		start := match.Timestamp.Truncate(window).UnixNano()
		b, ok := buckets[start]
		if !ok {
			b = &bucket{}
			buckets[start] = b
		}
		b.valid++
		if match.Hit {
			b.hits++
		}
	}

	starts := make([]int64, 0, len(buckets))
	for start := range buckets {
		starts = append(starts, start)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	out := make([]WindowFraction, 0, len(starts))
	for _, start := range starts {
		b := buckets[start]
		t := time.Unix(0, start).UTC()
		out = append(out, WindowFraction{
			Start:    t,
			Label:    t.Add(offset),
			Fraction: float64(b.hits) / float64(b.valid),
			Hits:     b.hits,
			Count:    b.valid,
		})
	}
	return out, nil
}
