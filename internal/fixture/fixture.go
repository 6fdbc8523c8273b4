// Package fixture writes a small self-contained EUREC4A workspace (catalog,
// flight segmentation and one WALES-like netCDF file) for tests.
package fixture

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/d70-t/how-to-eurec4a/internal/config"
	"github.com/d70-t/how-to-eurec4a/pkg/catalog"
	"github.com/d70-t/how-to-eurec4a/pkg/types"
)

// Ref is the catalog reference of the fixture dataset
const Ref = "HALO.WALES.cloudparameter[HALO-0205]"

// Circle is the fixture segment [12:20, 13:20)
const Circle = "HALO-0205_c1"

// Flight day and first sample
var (
	Day   = time.Date(2020, 2, 5, 0, 0, 0, 0, time.UTC)
	First = time.Date(2020, 2, 5, 12, 0, 0, 0, time.UTC)
)

const catalogYAML = `description: EUREC4A fixture catalog
sources:
  HALO:
    description: HALO aircraft
    sources:
      WALES:
        description: WALES lidar
        sources:
          cloudparameter:
            description: WALES cloud top height and cloud mask
            driver: netcdf
            args:
              urlpath: "{{CATALOG_DIR}}/wales/{{ flight_id }}.nc"
            parameters:
              flight_id:
                description: HALO flight id
                type: str
                default: HALO-0205
                allowed: [HALO-0205, HALO-0211]
`

const segmentsYAML = `HALO:
  HALO-0205:
    name: RF09
    mission: EUREC4A
    platform: HALO
    flight_id: HALO-0205
    date: 2020-02-05
    takeoff: 2020-02-05 10:49:01
    landing: 2020-02-05 19:31:42
    segments:
      - kinds: [straight_leg]
        name: leg 1
        segment_id: HALO-0205_sl1
        start: 2020-02-05 12:00:00
        end: 2020-02-05 12:20:00
      - kinds: [circle, circling]
        name: circle 1
        segment_id: HALO-0205_c1
        start: 2020-02-05 12:20:00
        end: 2020-02-05 13:20:00
        dropsondes:
          GOOD: [HALO-0205_s01, HALO-0205_s02]
          BAD: [HALO-0205_s03]
`

// CloudMask returns the state of minute i after First: -1 for missing,
// otherwise the WALES flag code. Inside the circle the first 30 minutes
// are cloudy (2), the rest clear (0) with a five minute gap at 13:00.
func CloudMask(i int) int {
	t := First.Add(time.Duration(i) * time.Minute)
	switch {
	case t.Before(First.Add(20 * time.Minute)):
		return 1
	case t.Before(First.Add(50 * time.Minute)):
		return 2
	case !t.Before(First.Add(60*time.Minute)) && t.Before(First.Add(65*time.Minute)):
		return -1
	case t.Before(First.Add(80 * time.Minute)):
		return 0
	}
	return 1
}

// Samples is the number of one minute samples in the fixture file
const Samples = 150

// Series builds the fixture variables: cloud_mask and cloud_top_height,
// the latter valid only where the mask is cloudy.
func Series() []types.Series {
	mask := types.Series{
		Metric: types.Metric{Name: "cloud_mask"},
		Attrs: map[string]string{
			"flag_values":   "0 1 2",
			"flag_meanings": "no_cloud probably_cloudy most_likely_cloudy",
			"long_name":     "WALES cloud mask",
		},
	}
	cth := types.Series{
		Metric: types.Metric{Name: "cloud_top_height"},
		Attrs:  map[string]string{"units": "m"},
	}
	for i := 0; i < Samples; i++ {
		ts := First.Add(time.Duration(i) * time.Minute)
		code := CloudMask(i)
		mask.Samples = append(mask.Samples, types.Sample{Timestamp: ts, Value: float64(code), Valid: code >= 0})
		cth.Samples = append(cth.Samples, types.Sample{Timestamp: ts, Value: float64(1000 + i), Valid: code == 2})
	}
	return []types.Series{mask, cth}
}

// Workspace writes the fixture files to a temporary directory and returns
// a configuration using them with an in-memory store.
func Workspace(t testing.TB) *config.Config {
	t.Helper()
	dir := t.TempDir()

	data, err := catalog.Encode(Series())
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "wales"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wales", "HALO-0205.nc"), data, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "catalog.yml"), []byte(catalogYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "all_flights.yaml"), []byte(segmentsYAML), 0o644))

	cfg := config.DefaultConfig()
	cfg.Storage.InMemory = true
	cfg.Storage.CompressionLevel = 1
	cfg.Catalog.Location = filepath.Join(dir, "catalog.yml")
	cfg.Catalog.Namespace = "fixture"
	cfg.Segments.Location = filepath.Join(dir, "all_flights.yaml")
	cfg.Segments.Version = "test"
	cfg.Logging.Level = "error"
	return cfg
}
