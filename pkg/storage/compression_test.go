package storage

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d70-t/how-to-eurec4a/pkg/types"
)

var blockStart = time.Date(2020, 2, 5, 13, 0, 0, 0, time.UTC)

// maskHour is one hour of a 1 Hz cloud mask: codes change every minute and
// every seventh sample is missing.
func maskHour() []types.Sample {
	samples := make([]types.Sample, 3600)
	for i := range samples {
		samples[i] = types.Sample{
			Timestamp: blockStart.Add(time.Duration(i) * time.Second),
			Value:     float64(i / 60 % 3),
			Valid:     i%7 != 6,
		}
	}
	return samples
}

func newCodec(t testing.TB, level int) *blockCodec {
	t.Helper()
	c, err := newBlockCodec(level)
	require.NoError(t, err)
	t.Cleanup(c.close)
	return c
}

func assertSamplesEqual(t *testing.T, want, got []types.Sample) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		require.True(t, want[i].Timestamp.Equal(got[i].Timestamp), "sample %d at %s, want %s", i, got[i].Timestamp, want[i].Timestamp)
		require.Equal(t, want[i].Valid, got[i].Valid, "sample %d", i)
		if want[i].Valid {
			require.Equal(t, math.Float64bits(want[i].Value), math.Float64bits(got[i].Value), "sample %d", i)
		} else {
			require.Zero(t, got[i].Value, "missing sample %d", i)
		}
	}
}

func TestBlockCodecCloudMask(t *testing.T) {
	c := newCodec(t, 2)
	samples := maskHour()

	frame := c.encode(samples)
	assert.Less(t, len(frame), len(samples)/4, "a regular flag record packs to well below one byte per sample")

	got, err := c.decode(frame)
	require.NoError(t, err)
	assertSamplesEqual(t, samples, got)
}

func TestBlockCodecIrregularSampling(t *testing.T) {
	c := newCodec(t, 3)

	// dropsonde-like spacing, jumps backwards in step and special values
	offsets := []time.Duration{0, 250 * time.Millisecond, time.Second, 7 * time.Second, 7*time.Second + 1, time.Minute}
	values := []float64{1012.5, math.Inf(1), math.Copysign(0, -1), 3e-300, math.MaxFloat64, 998.25}
	samples := make([]types.Sample, len(offsets))
	for i := range offsets {
		samples[i] = types.Sample{Timestamp: blockStart.Add(offsets[i]), Value: values[i], Valid: true}
	}
	samples[3].Valid = false

	got, err := c.decode(c.encode(samples))
	require.NoError(t, err)
	assertSamplesEqual(t, samples, got)
}

func TestBlockCodecEdgeBlocks(t *testing.T) {
	c := newCodec(t, 1)

	got, err := c.decode(c.encode(nil))
	require.NoError(t, err)
	assert.Empty(t, got)

	allMissing := []types.Sample{
		{Timestamp: blockStart},
		{Timestamp: blockStart.Add(time.Second)},
	}
	got, err = c.decode(c.encode(allMissing))
	require.NoError(t, err)
	assertSamplesEqual(t, allMissing, got)
}

func TestBlockCodecLevels(t *testing.T) {
	samples := maskHour()[:600]
	for _, level := range []int{1, 2, 3, 4, 0} {
		c := newCodec(t, level)
		got, err := c.decode(c.encode(samples))
		require.NoError(t, err, "level %d", level)
		assertSamplesEqual(t, samples, got)
	}
}

func TestBlockCodecRejectsCorruptFrames(t *testing.T) {
	c := newCodec(t, 2)
	samples := maskHour()[:100]

	_, err := c.decode([]byte("not zstd"))
	assert.Error(t, err)

	// a well formed frame whose payload stops after the timestamps
	raw, err := c.dec.DecodeAll(c.encode(samples), nil)
	require.NoError(t, err)
	truncated := c.enc.EncodeAll(raw[:len(raw)-40], nil)
	_, err = c.decode(truncated)
	assert.ErrorIs(t, err, errCorruptBlock)
}

func BenchmarkBlockCodecEncode(b *testing.B) {
	c := newCodec(b, 2)
	samples := maskHour()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = c.encode(samples)
	}
}

func BenchmarkBlockCodecDecode(b *testing.B) {
	c := newCodec(b, 2)
	frame := c.encode(maskHour())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = c.decode(frame)
	}
}
