package flags

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// minuteMask builds one match per minute starting at start; -1 marks a
// missing sample, 1 a hit and 0 a miss.
func minuteMask(start time.Time, states ...int) Mask {
	m := make(Mask, len(states))
	for i, st := range states {
		m[i] = Match{
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Hit:       st == 1,
			Valid:     st >= 0,
		}
	}
	return m
}

func TestResampleSingleBucketIgnoresMissing(t *testing.T) {
	// 10 minutes, 2 missing, 5 hits out of 8 valid samples
	m := minuteMask(t0, 1, 1, -1, 0, 1, 0, -1, 1, 0, 1)

	out, err := ResampleFraction(m, 10*time.Minute, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, t0, out[0].Start)
	assert.Equal(t, t0, out[0].Label)
	assert.Equal(t, 5.0/8.0, out[0].Fraction)
	assert.Equal(t, 5, out[0].Hits)
	assert.Equal(t, 8, out[0].Count)
}

func TestResampleOmitsEmptyWindows(t *testing.T) {
	m := minuteMask(t0,
		1, 0, // window 13:00
		-1, -1, // window 13:02, only missing
		0, 0, // window 13:04
	)

	out, err := ResampleFraction(m, 2*time.Minute, time.Minute)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, t0, out[0].Start)
	assert.Equal(t, t0.Add(time.Minute), out[0].Label, "label is start shifted by offset")
	assert.Equal(t, 0.5, out[0].Fraction)

	assert.Equal(t, t0.Add(4*time.Minute), out[1].Start)
	assert.Equal(t, 0.0, out[1].Fraction, "a measured clear window is reported as zero")
}

func TestResampleHalfOpenAlignedWindows(t *testing.T) {
	start := time.Date(2020, 2, 5, 13, 3, 30, 0, time.UTC)
	m := minuteMask(start, 1, 1, 0, 0)

	out, err := ResampleFraction(m, 5*time.Minute, 0)
	require.NoError(t, err)
	require.Len(t, out, 2)

	// 13:03:30 and 13:04:30 fall in [13:00, 13:05); 13:05:30 and 13:06:30 in [13:05, 13:10)
	assert.Equal(t, time.Date(2020, 2, 5, 13, 0, 0, 0, time.UTC), out[0].Start)
	assert.Equal(t, 1.0, out[0].Fraction)
	assert.Equal(t, time.Date(2020, 2, 5, 13, 5, 0, 0, time.UTC), out[1].Start)
	assert.Equal(t, 0.0, out[1].Fraction)
}

func TestResampleSampleOnBoundaryStartsWindow(t *testing.T) {
	m := Mask{
		{Timestamp: t0.Add(10*time.Minute - time.Nanosecond), Hit: true, Valid: true},
		{Timestamp: t0.Add(10 * time.Minute), Hit: false, Valid: true},
	}
	out, err := ResampleFraction(m, 10*time.Minute, 0)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, 1, out[0].Count)
	assert.Equal(t, t0.Add(10*time.Minute), out[1].Start)
}

func TestResampleDeterministic(t *testing.T) {
	m := minuteMask(t0, 1, 0, -1, 1, 1, 0, 0, -1, 1, 1, 0, 1, 0)
	first, err := ResampleFraction(m, 3*time.Minute, 90*time.Second)
	require.NoError(t, err)

	// unordered input gives the same windows
	shuffled := append(Mask(nil), m...)
	shuffled[0], shuffled[len(shuffled)-1] = shuffled[len(shuffled)-1], shuffled[0]
	second, err := ResampleFraction(shuffled, 3*time.Minute, 90*time.Second)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	for i := 1; i < len(first); i++ {
		assert.True(t, first[i-1].Start.Before(first[i].Start))
	}
}

func TestResampleInvalidWindow(t *testing.T) {
	_, err := ResampleFraction(minuteMask(t0, 1), 0, 0)
	assert.True(t, errors.Is(err, ErrInvalidWindow))
}

func TestResampleAllMissing(t *testing.T) {
	out, err := ResampleFraction(minuteMask(t0, -1, -1, -1), time.Minute, 0)
	require.NoError(t, err)
	assert.Empty(t, out)
}
