package catalog

import (
	"math"
	"os"
	"testing"
	"time"

	"github.com/ctessum/cdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d70-t/how-to-eurec4a/pkg/types"
)

var noon = time.Date(2020, 2, 5, 12, 0, 0, 0, time.UTC)

func writeVar(t *testing.T, f *cdf.File, name string, values interface{}) {
	t.Helper()
	_, err := f.Writer(name, nil, nil).Write(values)
	require.NoError(t, err)
}

// walesFile builds a WALES-like cloud parameter file with six one minute
// samples.
func walesFile(t *testing.T) []byte {
	t.Helper()
	h := cdf.NewHeader([]string{"time", "range"}, []int{6, 2})
	h.AddAttribute("", "title", "WALES cloud parameters")

	h.AddVariable("time", []string{"time"}, []float64{0})
	h.AddAttribute("time", "units", "seconds since 2020-02-05 12:00:00")

	h.AddVariable("cloud_mask", []string{"time"}, []uint8{0})
	h.AddAttribute("cloud_mask", "_FillValue", []uint8{255})
	h.AddAttribute("cloud_mask", "flag_values", []uint8{0, 1, 2})
	h.AddAttribute("cloud_mask", "flag_meanings", "no_cloud probably_cloudy most_likely_cloudy")

	h.AddVariable("cloud_top_height", []string{"time"}, []float32{0})
	h.AddAttribute("cloud_top_height", "missing_value", []float32{-999})
	h.AddAttribute("cloud_top_height", "units", "m")

	h.AddVariable("backscatter", []string{"time", "range"}, []float32{0})
	h.Define()

	mem := &memFile{}
	f, err := cdf.Create(mem, h)
	require.NoError(t, err)

	writeVar(t, f, "time", []float64{0, 60, 120, 180, 240, 300})
	writeVar(t, f, "cloud_mask", []uint8{0, 1, 2, 255, 2, 0})
	writeVar(t, f, "cloud_top_height", []float32{-999, 850, 1200, float32(math.NaN()), 900, -999})
	writeVar(t, f, "backscatter", make([]float32, 12))
	return mem.data
}

func TestDecode(t *testing.T) {
	series, err := Decode(walesFile(t))
	require.NoError(t, err)
	require.Len(t, series, 2, "two dimensional variables are skipped")

	mask := series[0]
	assert.Equal(t, "cloud_mask", mask.Metric.Name)
	assert.Equal(t, "0 1 2", mask.Attr("flag_values"))
	assert.Equal(t, "no_cloud probably_cloudy most_likely_cloudy", mask.Attr("flag_meanings"))
	require.Len(t, mask.Samples, 6)
	assert.Equal(t, noon, mask.Samples[0].Timestamp)
	assert.Equal(t, noon.Add(5*time.Minute), mask.Samples[5].Timestamp)
	assert.Equal(t, 5, mask.ValidCount())
	assert.False(t, mask.Samples[3].Valid)
	assert.Equal(t, 2.0, mask.Samples[2].Value)

	cth := series[1]
	assert.Equal(t, "cloud_top_height", cth.Metric.Name)
	assert.Equal(t, "m", cth.Attr("units"))
	assert.Equal(t, []bool{false, true, true, false, true, false}, validity(cth))
	assert.Equal(t, 850.0, cth.Samples[1].Value)
}

func validity(s types.Series) []bool {
	out := make([]bool, len(s.Samples))
	for i, sample := range s.Samples {
		out[i] = sample.Valid
	}
	return out
}

func TestDecodeRecordDimension(t *testing.T) {
	h := cdf.NewHeader([]string{"time"}, []int{0})
	h.AddVariable("time", []string{"time"}, []float64{0})
	h.AddAttribute("time", "units", "hours since 2020-02-05")
	h.AddVariable("cloud_ot", []string{"time"}, []int32{0})
	h.AddAttribute("cloud_ot", "scale_factor", []float64{0.5})
	h.AddAttribute("cloud_ot", "_FillValue", []int32{-1})
	h.Define()

	mem := &memFile{}
	f, err := cdf.Create(mem, h)
	require.NoError(t, err)
	// unsorted on purpose
	writeVar(t, f, "time", []float64{13, 12, 14})
	writeVar(t, f, "cloud_ot", []int32{4, -1, 10})

	series, err := Decode(mem.data)
	require.NoError(t, err)
	require.Len(t, series, 1)

	ot := series[0]
	require.Len(t, ot.Samples, 3)
	assert.Equal(t, noon, ot.Samples[0].Timestamp)
	assert.False(t, ot.Samples[0].Valid)
	assert.Equal(t, 2.0, ot.Samples[1].Value)
	assert.Equal(t, 5.0, ot.Samples[2].Value)
}

func TestDecodeWithoutTime(t *testing.T) {
	h := cdf.NewHeader([]string{"range"}, []int{3})
	h.AddVariable("range", []string{"range"}, []float32{0})
	h.Define()
	mem := &memFile{}
	f, err := cdf.Create(mem, h)
	require.NoError(t, err)
	writeVar(t, f, "range", []float32{1, 2, 3})

	_, err = Decode(mem.data)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDecodeGarbage(t *testing.T) {
	_, err := Decode([]byte("not a netCDF file"))
	assert.Error(t, err)
}

func TestParseTimeUnits(t *testing.T) {
	tests := []struct {
		units string
		step  time.Duration
		epoch time.Time
	}{
		{"seconds since 1970-01-01 00:00:00", time.Second, time.Unix(0, 0).UTC()},
		{"seconds since 2020-01-01 00:00:00 UTC", time.Second, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"days since 2020-01-01", 24 * time.Hour, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"minutes since 2020-02-05T12:00:00Z", time.Minute, noon},
		{"milliseconds since 2020-02-05 13:00:00 +01:00", time.Millisecond, noon},
	}
	for _, tt := range tests {
		step, epoch, err := parseTimeUnits(tt.units)
		require.NoError(t, err, tt.units)
		assert.Equal(t, tt.step, step, tt.units)
		assert.True(t, tt.epoch.Equal(epoch), "%s: got %s", tt.units, epoch)
	}

	for _, bad := range []string{"seconds", "fortnights since 2020-01-01", "seconds since yesterday"} {
		_, _, err := parseTimeUnits(bad)
		assert.Error(t, err, bad)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestEncodeRoundTrip(t *testing.T) {
	series, err := Decode(walesFile(t))
	require.NoError(t, err)

	data, err := Encode(series)
	require.NoError(t, err)

	again, err := Decode(data)
	require.NoError(t, err)
	require.Len(t, again, len(series))
	for i := range series {
		assert.Equal(t, series[i].Metric.Name, again[i].Metric.Name)
		assert.Equal(t, validity(series[i]), validity(again[i]))
		for j, sample := range series[i].Samples {
			assert.True(t, sample.Timestamp.Equal(again[i].Samples[j].Timestamp))
			if sample.Valid {
				assert.InDelta(t, sample.Value, again[i].Samples[j].Value, 1e-4)
			}
		}
	}
	assert.Equal(t, "0 1 2", again[0].Attr("flag_values"))
	assert.Equal(t, "m", again[1].Attr("units"))
}

func TestEncodeRejectsMisalignedSeries(t *testing.T) {
	a := types.Series{Metric: types.Metric{Name: "a"}, Samples: []types.Sample{{Timestamp: noon, Valid: true}}}
	b := types.Series{Metric: types.Metric{Name: "b"}, Samples: []types.Sample{{Timestamp: noon.Add(time.Second), Valid: true}}}

	_, err := Encode([]types.Series{a, b})
	assert.Error(t, err)

	_, err = Encode([]types.Series{a, a})
	assert.Error(t, err)

	_, err = Encode(nil)
	assert.Error(t, err)
}
