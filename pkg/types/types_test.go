package types

import (
	"testing"
	"time"
)

func minuteSeries(n int) Series {
	base := time.Date(2020, 2, 5, 13, 0, 0, 0, time.UTC)
	s := Series{Metric: Metric{Name: "cloud_ot"}}
	for i := 0; i < n; i++ {
		s.Samples = append(s.Samples, Sample{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Value:     float64(i),
			Valid:     i%3 != 0,
		})
	}
	return s
}

func TestSliceHalfOpen(t *testing.T) {
	s := minuteSeries(10)
	base := s.Samples[0].Timestamp

	sub := s.Slice(base.Add(2*time.Minute), base.Add(5*time.Minute))
	if len(sub.Samples) != 3 {
		t.Fatalf("Expected 3 samples, got %d", len(sub.Samples))
	}
	if !sub.Samples[0].Timestamp.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("Expected start sample included, got %v", sub.Samples[0].Timestamp)
	}
	if sub.Samples[2].Timestamp.Equal(base.Add(5 * time.Minute)) {
		t.Error("End sample must be excluded")
	}

	// slicing must not alias the parent
	sub.Samples[0].Value = -1
	if s.Samples[2].Value == -1 {
		t.Error("Slice shares storage with parent series")
	}
}

func TestSliceOpenEnds(t *testing.T) {
	s := minuteSeries(10)
	base := s.Samples[0].Timestamp

	if got := len(s.Slice(time.Time{}, base.Add(4*time.Minute)).Samples); got != 4 {
		t.Errorf("Expected 4 samples with open start, got %d", got)
	}
	if got := len(s.Slice(base.Add(7*time.Minute), time.Time{}).Samples); got != 3 {
		t.Errorf("Expected 3 samples with open end, got %d", got)
	}
	if got := len(s.Slice(base.Add(time.Hour), base).Samples); got != 0 {
		t.Errorf("Expected empty slice for inverted range, got %d", got)
	}
}

func TestNearest(t *testing.T) {
	s := minuteSeries(5)
	base := s.Samples[0].Timestamp

	cases := []struct {
		at   time.Time
		want time.Time
	}{
		{base.Add(-time.Hour), base},
		{base.Add(70 * time.Second), base.Add(time.Minute)},
		{base.Add(110 * time.Second), base.Add(2 * time.Minute)},
		{base.Add(90 * time.Second), base.Add(time.Minute)},
		{base.Add(time.Hour), base.Add(4 * time.Minute)},
	}
	for _, tc := range cases {
		got, ok := s.Nearest(tc.at)
		if !ok {
			t.Fatal("Expected a sample")
		}
		if !got.Timestamp.Equal(tc.want) {
			t.Errorf("Nearest(%v) = %v, want %v", tc.at, got.Timestamp, tc.want)
		}
	}

	if _, ok := (Series{}).Nearest(base); ok {
		t.Error("Expected no sample for empty series")
	}
}

func TestValidCount(t *testing.T) {
	s := minuteSeries(9)
	if got := s.ValidCount(); got != 6 {
		t.Errorf("Expected 6 valid samples, got %d", got)
	}
}
