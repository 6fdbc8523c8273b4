package catalog

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ctessum/cdf"

	"github.com/d70-t/how-to-eurec4a/pkg/types"
)

// CF attribute names
const (
	attrUnits        = "units"
	attrFillValue    = "_FillValue"
	attrMissingValue = "missing_value"
	attrScaleFactor  = "scale_factor"
	attrAddOffset    = "add_offset"
)

// memFile is an in-memory cdf.ReaderWriterAt
type memFile struct {
	data []byte
}

func (m *memFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *memFile) WriteAt(p []byte, off int64) (int, error) {
	if end := off + int64(len(p)); end > int64(len(m.data)) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	return copy(m.data[off:], p), nil
}

// Decode reads the one dimensional variables along the time coordinate of a
// netCDF classic file. Variables of other shapes and character variables
// are skipped. Fill values, missing values and NaN become missing samples.
func Decode(data []byte) ([]types.Series, error) {
	mem := &memFile{data: data}
	f, err := cdf.Open(mem)
	if err != nil {
		return nil, fmt.Errorf("reading netCDF header: %w", err)
	}
	h := f.Header
	nrec := int(h.NumRecs(int64(len(data))))

	timeVar, err := findTimeVariable(h)
	if err != nil {
		return nil, err
	}
	timeDim := h.Dimensions(timeVar)[0]

	times, timeValid, err := readVariable(f, timeVar, nrec)
	if err != nil {
		return nil, err
	}
	stamps, err := decodeTimes(times, timeValid, attrString(h, timeVar, attrUnits))
	if err != nil {
		return nil, fmt.Errorf("variable %s: %w", timeVar, err)
	}

	// time may be stored unsorted; order samples by it
	order := make([]int, 0, len(stamps))
	for i := range stamps {
		if timeValid[i] {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool { return stamps[order[a]].Before(stamps[order[b]]) })

	var out []types.Series
	for _, v := range h.Variables() {
		if v == timeVar {
			continue
		}
		dims := h.Dimensions(v)
		if len(dims) != 1 || dims[0] != timeDim {
			continue
		}
		if _, isChar := h.ZeroValue(v, 0).(string); isChar {
			continue
		}

		values, valid, err := readVariable(f, v, nrec)
		if err != nil {
			return nil, err
		}
		series := types.Series{
			Metric:  types.Metric{Name: v},
			Attrs:   attributes(h, v),
			Samples: make([]types.Sample, 0, len(order)),
		}
		for _, i := range order {
			if i >= len(values) {
				break
			}
			series.Samples = append(series.Samples, types.Sample{
				Timestamp: stamps[i],
				Value:     values[i],
				Valid:     valid[i],
			})
		}
		out = append(out, series)
	}
	return out, nil
}

// findTimeVariable picks the coordinate variable named time, or else the
// first coordinate variable with CF time units.
func findTimeVariable(h *cdf.Header) (string, error) {
	var candidate string
	for _, v := range h.Variables() {
		dims := h.Dimensions(v)
		if len(dims) != 1 || dims[0] != v {
			continue
		}
		if v == "time" {
			return v, nil
		}
		if candidate == "" && strings.Contains(attrString(h, v, attrUnits), " since ") {
			candidate = v
		}
	}
	if candidate == "" {
		return "", fmt.Errorf("no time coordinate: %w", ErrNotFound)
	}
	return candidate, nil
}

// readVariable reads a numeric 1-D variable as float64 and reports which
// values are present.
func readVariable(f *cdf.File, v string, nrec int) ([]float64, []bool, error) {
	h := f.Header
	var r cdf.Reader
	n := h.Lengths(v)[0]
	if h.IsRecordVariable(v) {
		n = nrec
		if n == 0 {
			return nil, nil, nil
		}
		r = f.Reader(v, []int{0}, []int{n - 1})
	} else {
		r = f.Reader(v, nil, nil)
	}

	buf := h.ZeroValue(v, n)
	if got, err := r.Read(buf); err != nil && !(err == io.EOF && got == n) {
		return nil, nil, fmt.Errorf("reading variable %s: %w", v, err)
	}

	raw := toFloat64s(buf)
	fill := missingMarkers(h, v)
	scale, offset := 1.0, 0.0
	if s, ok := attrFloat(h, v, attrScaleFactor); ok {
		scale = s
	}
	if o, ok := attrFloat(h, v, attrAddOffset); ok {
		offset = o
	}

	values := make([]float64, len(raw))
	valid := make([]bool, len(raw))
	for i, x := range raw {
		if math.IsNaN(x) || fill[x] {
			continue
		}
		values[i] = x*scale + offset
		valid[i] = true
	}
	return values, valid, nil
}

// missingMarkers collects the raw values marking missing data
func missingMarkers(h *cdf.Header, v string) map[float64]bool {
	markers := make(map[float64]bool)
	for _, a := range []string{attrFillValue, attrMissingValue} {
		for _, x := range toFloat64s(h.GetAttribute(v, a)) {
			markers[x] = true
		}
	}
	if len(markers) == 0 {
		// netCDF default fill for the type
		for _, x := range toFloat64s(h.FillValue(v)) {
			markers[x] = true
		}
	}
	return markers
}

// toFloat64s widens any numeric slice returned by cdf. BYTE is signed.
func toFloat64s(vals interface{}) []float64 {
	var out []float64
	switch x := vals.(type) {
	case []uint8:
		out = make([]float64, len(x))
		for i, b := range x {
			out[i] = float64(int8(b))
		}
	case []int8:
		out = make([]float64, len(x))
		for i, b := range x {
			out[i] = float64(b)
		}
	case []int16:
		out = make([]float64, len(x))
		for i, b := range x {
			out[i] = float64(b)
		}
	case []int32:
		out = make([]float64, len(x))
		for i, b := range x {
			out[i] = float64(b)
		}
	case []float32:
		out = make([]float64, len(x))
		for i, b := range x {
			out[i] = float64(b)
		}
	case []float64:
		out = append(out, x...)
	case uint8:
		out = []float64{float64(int8(x))}
	case int8:
		out = []float64{float64(x)}
	case int16:
		out = []float64{float64(x)}
	case int32:
		out = []float64{float64(x)}
	case float32:
		out = []float64{float64(x)}
	case float64:
		out = []float64{x}
	}
	return out
}

func attrString(h *cdf.Header, v, a string) string {
	return formatAttribute(h.GetAttribute(v, a))
}

func attrFloat(h *cdf.Header, v, a string) (float64, bool) {
	vals := toFloat64s(h.GetAttribute(v, a))
	if len(vals) == 0 {
		return 0, false
	}
	return vals[0], true
}

// attributes converts the attributes of v to strings. Numeric arrays are
// joined by spaces, the form flag_values uses.
func attributes(h *cdf.Header, v string) map[string]string {
	names := h.Attributes(v)
	if len(names) == 0 {
		return nil
	}
	attrs := make(map[string]string, len(names))
	for _, a := range names {
		attrs[a] = formatAttribute(h.GetAttribute(v, a))
	}
	return attrs
}

func formatAttribute(val interface{}) string {
	if s, ok := val.(string); ok {
		return strings.TrimRight(s, "\x00")
	}
	nums := toFloat64s(val)
	parts := make([]string, len(nums))
	for i, x := range nums {
		parts[i] = strconv.FormatFloat(x, 'g', -1, 64)
	}
	return strings.Join(parts, " ")
}

var timeUnits = map[string]time.Duration{
	"days":         24 * time.Hour,
	"day":          24 * time.Hour,
	"d":            24 * time.Hour,
	"hours":        time.Hour,
	"hour":         time.Hour,
	"h":            time.Hour,
	"minutes":      time.Minute,
	"minute":       time.Minute,
	"min":          time.Minute,
	"seconds":      time.Second,
	"second":       time.Second,
	"s":            time.Second,
	"sec":          time.Second,
	"milliseconds": time.Millisecond,
	"millisecond":  time.Millisecond,
	"ms":           time.Millisecond,
	"microseconds": time.Microsecond,
	"microsecond":  time.Microsecond,
	"us":           time.Microsecond,
}

var epochLayouts = []string{
	"2006-01-02 15:04:05.999999999 -07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseTimeUnits parses CF units of the form "<unit> since <epoch>"
func parseTimeUnits(units string) (time.Duration, time.Time, error) {
	unit, since, ok := strings.Cut(strings.TrimSpace(units), " since ")
	if !ok {
		return 0, time.Time{}, fmt.Errorf("time units %q are not of the form '<unit> since <epoch>'", units)
	}
	step, ok := timeUnits[strings.ToLower(strings.TrimSpace(unit))]
	if !ok {
		return 0, time.Time{}, fmt.Errorf("unsupported time unit %q", unit)
	}

	since = strings.TrimSpace(since)
	since = strings.TrimSuffix(since, " UTC")
	since = strings.TrimSuffix(since, " utc")
	for _, layout := range epochLayouts {
		if t, err := time.Parse(layout, since); err == nil {
			return step, t.UTC(), nil
		}
	}
	return 0, time.Time{}, fmt.Errorf("unparsable time epoch %q", since)
}

func decodeTimes(values []float64, valid []bool, units string) ([]time.Time, error) {
	step, epoch, err := parseTimeUnits(units)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, len(values))
	for i, x := range values {
		if !valid[i] {
			continue
		}
		out[i] = epoch.Add(time.Duration(math.Round(x * float64(step))))
	}
	return out, nil
}
