package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d70-t/how-to-eurec4a/pkg/fetch"
	"github.com/d70-t/how-to-eurec4a/pkg/storage"
	"github.com/d70-t/how-to-eurec4a/pkg/types"
)

type countingFetcher struct {
	inner *fetch.Fetcher
	calls atomic.Int32
}

func (f *countingFetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	f.calls.Add(1)
	return f.inner.Fetch(ctx, location)
}

// walesCatalog writes a catalog with one WALES entry and its data file.
func walesCatalog(t *testing.T) (*Catalog, *countingFetcher) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "wales"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wales", "HALO-0205.nc"), walesFile(t), 0o644))
	writeFile(t, filepath.Join(dir, "catalog.yml"), `
sources:
  HALO:
    sources:
      WALES:
        sources:
          cloudparameter:
            description: WALES cloud mask
            driver: netcdf
            args:
              urlpath: "wales/{flight_id}.nc"
            parameters:
              flight_id:
                type: str
                default: HALO-0205
`)

	f := &countingFetcher{inner: fetch.New(fetch.DefaultConfig(), nil)}
	cat, err := Load(context.Background(), f, filepath.Join(dir, "catalog.yml"))
	require.NoError(t, err)
	return cat, f
}

func openStore(t *testing.T) storage.Storage {
	t.Helper()
	store, err := storage.NewStorage(&storage.Config{InMemory: true, CompressionLevel: 1})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpen(t *testing.T) {
	cat, f := walesCatalog(t)
	opener := NewOpener(cat, f, nil, "test", nil)

	ds, err := opener.OpenString(context.Background(), "HALO.WALES.cloudparameter")
	require.NoError(t, err)
	assert.Equal(t, []string{"cloud_mask", "cloud_top_height"}, ds.Variables())

	mask, err := ds.Flags("cloud_mask")
	require.NoError(t, err)
	assert.Equal(t, []string{"no_cloud", "probably_cloudy", "most_likely_cloudy"}, mask.Table.Names())
	assert.Len(t, mask.Samples, 6)

	_, err = ds.Variable("cloud_ot")
	assert.True(t, errors.Is(err, ErrNotFound))

	// memoized by url
	_, err = opener.OpenString(context.Background(), "HALO.WALES.cloudparameter[HALO-0205]")
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.calls.Load(), "catalog and data file fetched once each")
}

func TestOpenServesFromStore(t *testing.T) {
	cat, f := walesCatalog(t)
	store := openStore(t)

	first, err := NewOpener(cat, f, store, "test", nil).OpenString(context.Background(), "HALO.WALES.cloudparameter")
	require.NoError(t, err)
	assert.Equal(t, 2, store.SeriesCount())

	// a fresh opener has no memo and must read the store
	second, err := NewOpener(cat, f, store, "test", nil).OpenString(context.Background(), "HALO.WALES.cloudparameter")
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.calls.Load())

	assert.Equal(t, first.Variables(), second.Variables())
	for _, name := range first.Variables() {
		a, err := first.Variable(name)
		require.NoError(t, err)
		b, err := second.Variable(name)
		require.NoError(t, err)
		assert.Equal(t, a.Samples, b.Samples, name)
		assert.Equal(t, a.Attrs, b.Attrs, name)
		assert.Equal(t, first.URL, b.Metric.Labels[LabelURL])
	}
}

func TestOpenMissingFile(t *testing.T) {
	cat, f := walesCatalog(t)

	_, err := NewOpener(cat, f, nil, "test", nil).OpenString(context.Background(), "HALO.WALES.cloudparameter[HALO-0211]")
	assert.True(t, errors.Is(err, fetch.ErrNotFound))
}

func TestOpenUnknownEntry(t *testing.T) {
	cat, f := walesCatalog(t)

	_, err := NewOpener(cat, f, nil, "test", nil).OpenString(context.Background(), "HALO.VELOX.cloudmask")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestConcurrentOpensFromSharedStoreResult(t *testing.T) {
	cat, f := walesCatalog(t)
	store := storage.NewCachedStorage(openStore(t), 8, time.Minute)

	ref, err := ParseRef("HALO.WALES.cloudparameter")
	require.NoError(t, err)
	resolved, err := cat.Resolve(ref)
	require.NoError(t, err)

	// enough variables that sorting them always moves some
	at := time.Date(2020, 2, 5, 12, 0, 0, 0, time.UTC)
	var series []types.Series
	for i := 0; i < 40; i++ {
		series = append(series, types.Series{
			Metric:  types.Metric{Name: fmt.Sprintf("channel_%02d", i), Labels: map[string]string{LabelURL: resolved.URL}},
			Samples: []types.Sample{{Timestamp: at, Value: float64(i), Valid: true}},
		})
	}
	require.NoError(t, store.Write(context.Background(), &types.WriteRequest{Namespace: "test", Series: series}))

	var wg sync.WaitGroup
	opened := make([][]string, 8)
	for i := range opened {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ds, err := NewOpener(cat, f, store, "test", nil).Open(context.Background(), ref)
			if assert.NoError(t, err) {
				opened[i] = ds.Variables()
			}
		}(i)
	}
	wg.Wait()

	for _, names := range opened {
		assert.Len(t, names, 40)
		assert.True(t, slices.IsSorted(names), names)
	}
	assert.Equal(t, int32(1), f.calls.Load(), "only the catalog is fetched; data comes from the store")

	// the cached store result stays in series id order, which is not by name
	result, err := store.Query(context.Background(), &types.QueryRequest{Namespace: "test", Selector: map[string]string{LabelURL: resolved.URL}})
	require.NoError(t, err)
	_, hits, _ := store.CacheStats()
	assert.NotZero(t, hits)
	names := make([]string, len(result.Series))
	for i, s := range result.Series {
		names[i] = s.Metric.Name
	}
	assert.False(t, slices.IsSorted(names), "opens must not reorder the cached result")
}
