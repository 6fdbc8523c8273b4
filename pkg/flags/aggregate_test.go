package flags

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d70-t/how-to-eurec4a/pkg/types"
)

const (
	cloudFree        = 0
	probablyCloudy   = 1
	mostLikelyCloudy = 2
)

var t0 = time.Date(2020, 2, 5, 13, 0, 0, 0, time.UTC)

func cloudMaskTable(t *testing.T) *Table {
	t.Helper()
	table, err := NewTable(
		[]string{"cloud_free", "probably_cloudy", "most_likely_cloudy"},
		[]int{cloudFree, probablyCloudy, mostLikelyCloudy},
	)
	require.NoError(t, err)
	return table
}

// flagSeries builds a one-sample-per-second series; nil entries are missing.
func flagSeries(table *Table, codes ...*int) Series {
	s := Series{Name: "cloud_mask", Table: table}
	for i, c := range codes {
		sample := Sample{Timestamp: t0.Add(time.Duration(i) * time.Second)}
		if c != nil {
			sample.Code = *c
			sample.Valid = true
		}
		s.Samples = append(s.Samples, sample)
	}
	return s
}

func code(c int) *int { return &c }

func TestMatchesKeepsMissing(t *testing.T) {
	const a, b = 5, 6
	s := flagSeries(nil, code(a), code(b), nil, code(a))

	mask := Matches(s, a)
	require.Len(t, mask, 4)
	assert.Equal(t, Match{Timestamp: t0, Hit: true, Valid: true}, mask[0])
	assert.Equal(t, Match{Timestamp: t0.Add(time.Second), Hit: false, Valid: true}, mask[1])
	assert.False(t, mask[2].Valid)
	assert.False(t, mask[2].Hit)
	assert.True(t, mask[3].Hit)

	f, err := Fraction(mask)
	require.NoError(t, err)
	assert.Equal(t, 2.0/3.0, f)
}

func TestFractionAllMissing(t *testing.T) {
	s := flagSeries(nil, nil, nil)
	_, err := Fraction(Matches(s, 1))
	var empty *EmptySeriesError
	assert.ErrorAs(t, err, &empty)

	_, err = Fraction(nil)
	assert.ErrorAs(t, err, &empty)
}

func TestMatchesMultipleCodesIsOr(t *testing.T) {
	table := cloudMaskTable(t)
	s := flagSeries(table, code(cloudFree), code(probablyCloudy), code(mostLikelyCloudy), nil)

	minMask, err := MatchesNamed(s, "most_likely_cloudy")
	require.NoError(t, err)
	maxMask, err := MatchesNamed(s, "probably_cloudy", "most_likely_cloudy")
	require.NoError(t, err)

	minCF, err := Fraction(minMask)
	require.NoError(t, err)
	maxCF, err := Fraction(maxMask)
	require.NoError(t, err)

	assert.Equal(t, 1.0/3.0, minCF)
	assert.Equal(t, 2.0/3.0, maxCF)
	assert.False(t, maxMask[3].Valid, "missing must stay missing however many codes are tested")

	for i := range s.Samples {
		single := Matches(s, probablyCloudy)[i].Hit || minMask[i].Hit
		assert.Equal(t, single, maxMask[i].Hit)
	}
}

func TestMatchesUnknownCodeWithTable(t *testing.T) {
	table := cloudMaskTable(t)
	s := flagSeries(table, code(7), code(mostLikelyCloudy))

	mask := Matches(s, 7, mostLikelyCloudy)
	assert.Equal(t, []bool{true, true}, []bool{mask[0].Valid, mask[1].Valid})
	assert.False(t, mask[0].Hit, "codes outside the table never match")
	assert.True(t, mask[1].Hit)

	// without a table raw equality applies
	s.Table = nil
	assert.True(t, Matches(s, 7)[0].Hit)
}

func TestMatchesNamedUnknownFlag(t *testing.T) {
	s := flagSeries(cloudMaskTable(t), code(cloudFree))
	_, err := MatchesNamed(s, "thick_cloud")
	var unknown *UnknownFlagNameError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "thick_cloud", unknown.Name)

	s.Table = nil
	_, err = MatchesNamed(s, "cloud_free")
	assert.ErrorAs(t, err, &unknown)
}

func TestMatchesIdempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	codes := make([]*int, 200)
	for i := range codes {
		if rng.Intn(4) != 0 {
			codes[i] = code(rng.Intn(3))
		}
	}
	s := flagSeries(cloudMaskTable(t), codes...)

	first := Matches(s, probablyCloudy, mostLikelyCloudy)
	second := Matches(s, probablyCloudy, mostLikelyCloudy)
	assert.Equal(t, first, second)
}

func TestFractionBoundsAndNaiveAgreement(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for trial := 0; trial < 50; trial++ {
		n := 1 + rng.Intn(100)
		withGaps := make([]*int, n)
		complete := make([]*int, n)
		for i := 0; i < n; i++ {
			c := rng.Intn(3)
			complete[i] = code(c)
			if i == 0 || rng.Intn(3) != 0 {
				withGaps[i] = code(c)
			}
		}

		f, err := Fraction(Matches(flagSeries(nil, withGaps...), mostLikelyCloudy))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, f, 0.0)
		assert.LessOrEqual(t, f, 1.0)

		// with nothing missing the result is the plain mean of the booleans
		mask := Matches(flagSeries(nil, complete...), mostLikelyCloudy)
		naive := 0.0
		for _, m := range mask {
			if m.Hit {
				naive++
			}
		}
		naive /= float64(len(mask))
		f, err = Fraction(mask)
		require.NoError(t, err)
		assert.InDelta(t, naive, f, 1e-12)
	}
}

func TestMissingIsNotFalse(t *testing.T) {
	s := flagSeries(nil, code(mostLikelyCloudy), nil, nil, code(cloudFree))
	mask := Matches(s, mostLikelyCloudy)

	hits, valid := Counts(mask)
	assert.Equal(t, 1, hits)
	assert.Equal(t, 2, valid)

	f, err := Fraction(mask)
	require.NoError(t, err)
	assert.Equal(t, 0.5, f, "treating missing as false would give 0.25")
}

func opticalThickness(values ...float64) types.Series {
	s := types.Series{Metric: types.Metric{Name: "cloud_ot"}}
	for i, v := range values {
		s.Samples = append(s.Samples, types.Sample{
			Timestamp: t0.Add(time.Duration(i) * time.Second),
			Value:     v,
			Valid:     !math.IsNaN(v),
		})
	}
	return s
}

func TestMatchesFuncThreshold(t *testing.T) {
	s := opticalThickness(0.5, 3, 3.1, math.NaN(), 12)

	thick := MatchesFunc(s, Above(3))
	thin := MatchesFunc(s, AtMost(3))

	assert.Equal(t, []bool{false, false, true, false, true}, hitsOf(thick))
	assert.Equal(t, []bool{true, true, false, false, false}, hitsOf(thin))
	assert.False(t, thick[3].Valid)
	assert.False(t, thin[3].Valid)

	f, err := Fraction(thick)
	require.NoError(t, err)
	assert.Equal(t, 0.5, f)
}

func hitsOf(m Mask) []bool {
	out := make([]bool, len(m))
	for i, match := range m {
		out[i] = match.Hit
	}
	return out
}

func TestMean(t *testing.T) {
	mean, err := Mean(opticalThickness(1, math.NaN(), 3, math.NaN()))
	require.NoError(t, err)
	assert.Equal(t, 2.0, mean)

	_, err = Mean(opticalThickness(math.NaN()))
	var empty *EmptySeriesError
	require.ErrorAs(t, err, &empty)
	assert.Equal(t, "cloud_ot", empty.Series)
}

func TestFromSeries(t *testing.T) {
	s := opticalThickness(0, 2, math.NaN(), 1)
	s.Metric.Name = "cloud_mask"
	s.Attrs = map[string]string{
		AttrFlagValues:   "0 1 2",
		AttrFlagMeanings: "cloud_free probably_cloudy most_likely_cloudy",
	}

	fs, err := FromSeries(s)
	require.NoError(t, err)
	require.NotNil(t, fs.Table)
	assert.Equal(t, "cloud_mask", fs.Name)
	assert.Equal(t, Sample{Timestamp: t0.Add(time.Second), Code: 2, Valid: true}, fs.Samples[1])
	assert.False(t, fs.Samples[2].Valid)

	mask, err := MatchesNamed(fs, "probably_cloudy", "most_likely_cloudy")
	require.NoError(t, err)
	f, err := Fraction(mask)
	require.NoError(t, err)
	assert.Equal(t, 2.0/3.0, f)
}

func TestFromSeriesRejectsFractionalCodes(t *testing.T) {
	_, err := FromSeries(opticalThickness(0, 1.5))
	var codeErr *CodeError
	require.ErrorAs(t, err, &codeErr)
	assert.Equal(t, 1.5, codeErr.Value)
}

func TestFromSeriesWithoutTable(t *testing.T) {
	fs, err := FromSeries(opticalThickness(4, 4))
	require.NoError(t, err)
	assert.Nil(t, fs.Table)
	assert.True(t, Matches(fs, 4)[1].Hit)
}
