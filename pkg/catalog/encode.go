package catalog

import (
	"fmt"
	"math"
	"sort"

	"github.com/ctessum/cdf"

	"github.com/d70-t/how-to-eurec4a/pkg/types"
)

// netCDF default fill value for doubles
const fillDouble = 9.9692099683868690e+36

// attributes describing the stored encoding, which Encode replaces
var encodingAttrs = map[string]bool{
	attrFillValue:    true,
	attrMissingValue: true,
	attrScaleFactor:  true,
	attrAddOffset:    true,
}

// Encode writes series sharing one time axis as a netCDF classic file.
// Values are stored as doubles; missing samples get the default fill value.
func Encode(series []types.Series) ([]byte, error) {
	if len(series) == 0 || len(series[0].Samples) == 0 {
		return nil, fmt.Errorf("nothing to encode")
	}
	axis := series[0].Samples
	seen := map[string]bool{"time": true}
	for _, s := range series {
		if s.Metric.Name == "" || seen[s.Metric.Name] {
			return nil, fmt.Errorf("variable name %q is empty or repeated", s.Metric.Name)
		}
		seen[s.Metric.Name] = true
	}
	for _, s := range series[1:] {
		if len(s.Samples) != len(axis) {
			return nil, fmt.Errorf("variable %s has %d samples, %s has %d", s.Metric.Name, len(s.Samples), series[0].Metric.Name, len(axis))
		}
		for i := range axis {
			if !s.Samples[i].Timestamp.Equal(axis[i].Timestamp) {
				return nil, fmt.Errorf("variable %s is not on the time axis of %s", s.Metric.Name, series[0].Metric.Name)
			}
		}
	}

	epoch := axis[0].Timestamp.UTC().Truncate(1e9)
	h := cdf.NewHeader([]string{"time"}, []int{len(axis)})
	h.AddVariable("time", []string{"time"}, []float64{0})
	h.AddAttribute("time", attrUnits, "seconds since "+epoch.Format("2006-01-02 15:04:05"))
	h.AddAttribute("time", "standard_name", "time")

	for _, s := range series {
		h.AddVariable(s.Metric.Name, []string{"time"}, []float64{0})
		h.AddAttribute(s.Metric.Name, attrFillValue, []float64{fillDouble})

		names := make([]string, 0, len(s.Attrs))
		for a := range s.Attrs {
			if !encodingAttrs[a] && s.Attrs[a] != "" {
				names = append(names, a)
			}
		}
		sort.Strings(names)
		for _, a := range names {
			h.AddAttribute(s.Metric.Name, a, s.Attrs[a])
		}
	}
	h.Define()
	if errs := h.Check(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid netCDF header: %v", errs[0])
	}

	mem := &memFile{}
	f, err := cdf.Create(mem, h)
	if err != nil {
		return nil, err
	}

	times := make([]float64, len(axis))
	for i, sample := range axis {
		times[i] = sample.Timestamp.Sub(epoch).Seconds()
	}
	if _, err := f.Writer("time", nil, nil).Write(times); err != nil {
		return nil, fmt.Errorf("writing time: %w", err)
	}

	for _, s := range series {
		values := make([]float64, len(s.Samples))
		for i, sample := range s.Samples {
			values[i] = fillDouble
			if sample.Valid && !math.IsNaN(sample.Value) {
				values[i] = sample.Value
			}
		}
		if _, err := f.Writer(s.Metric.Name, nil, nil).Write(values); err != nil {
			return nil, fmt.Errorf("writing %s: %w", s.Metric.Name, err)
		}
	}
	return mem.data, nil
}
