package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/d70-t/how-to-eurec4a/pkg/types"
)

func TestCache(t *testing.T) {
	cache := NewCache[*types.QueryResult](100, time.Minute)

	if _, ok := cache.Get("HALO.WALES.cloudparameter"); ok {
		t.Error("Expected cache miss, got hit")
	}

	result := &types.QueryResult{
		Series: []types.Series{
			{
				Metric:  types.Metric{Name: "cloud_mask"},
				Samples: []types.Sample{{Timestamp: time.Now(), Value: 2, Valid: true}},
			},
		},
	}

	cache.Put("HALO.WALES.cloudparameter", result)

	cached, ok := cache.Get("HALO.WALES.cloudparameter")
	if !ok {
		t.Fatal("Expected cache hit, got miss")
	}
	if cached.Series[0].Samples[0].Value != 2 {
		t.Errorf("Expected value 2, got %f", cached.Series[0].Samples[0].Value)
	}

	cache.Remove("HALO.WALES.cloudparameter")
	if _, ok := cache.Get("HALO.WALES.cloudparameter"); ok {
		t.Error("Expected miss after Remove")
	}
}

func TestCacheTTL(t *testing.T) {
	cache := NewCache[int](100, time.Minute)
	now := time.Date(2020, 2, 5, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	cache.Put("a", 1)
	if _, ok := cache.Get("a"); !ok {
		t.Error("Expected cache hit")
	}

	now = now.Add(2 * time.Minute)
	if stats := cache.Stats(); stats.Expired != 1 {
		t.Errorf("Expected 1 expired entry, got %d", stats.Expired)
	}
	if _, ok := cache.Get("a"); ok {
		t.Error("Expected cache miss after TTL expiry")
	}
	if cache.Size() != 0 {
		t.Errorf("Expected expired entry to be dropped, size %d", cache.Size())
	}
}

func TestCacheWithoutTTL(t *testing.T) {
	cache := NewCache[int](10, 0)
	now := time.Now()
	cache.now = func() time.Time { return now }

	cache.Put("a", 1)
	now = now.Add(1000 * time.Hour)
	if _, ok := cache.Get("a"); !ok {
		t.Error("Entries must not expire without a TTL")
	}
}

func TestCacheLRUEviction(t *testing.T) {
	cache := NewCache[int](3, time.Minute)

	for i := 0; i < 4; i++ {
		cache.Put(fmt.Sprintf("flight_%d", i), i)
	}

	if cache.Size() != 3 {
		t.Errorf("Expected cache size 3, got %d", cache.Size())
	}
	if _, ok := cache.Get("flight_0"); ok {
		t.Error("Expected flight_0 to be evicted")
	}
	if _, ok := cache.Get("flight_3"); !ok {
		t.Error("Expected flight_3 to be in cache")
	}

	// touching flight_1 makes flight_2 the eviction candidate
	cache.Get("flight_1")
	cache.Put("flight_4", 4)
	if _, ok := cache.Get("flight_2"); ok {
		t.Error("Expected flight_2 to be evicted")
	}
	if _, ok := cache.Get("flight_1"); !ok {
		t.Error("Expected flight_1 to survive")
	}
}

func TestCacheStats(t *testing.T) {
	cache := NewCache[int](100, time.Minute)

	if stats := cache.Stats(); stats.Size != 0 {
		t.Errorf("Expected initial size 0, got %d", stats.Size)
	}

	for i := 0; i < 10; i++ {
		cache.Put(fmt.Sprintf("metric_%d", i), i)
	}

	stats := cache.Stats()
	if stats.Size != 10 {
		t.Errorf("Expected size 10, got %d", stats.Size)
	}
	if stats.Capacity != 100 {
		t.Errorf("Expected capacity 100, got %d", stats.Capacity)
	}
}

func TestQueryKeyIgnoresSelectorOrder(t *testing.T) {
	a := &types.QueryRequest{Namespace: "eurec4a", Selector: map[string]string{"platform": "HALO", "__name__": "cloud_mask"}}
	b := &types.QueryRequest{Namespace: "eurec4a", Selector: map[string]string{"__name__": "cloud_mask", "platform": "HALO"}}
	if queryKey(a) != queryKey(b) {
		t.Error("Expected identical keys for identical selectors")
	}

	c := &types.QueryRequest{Namespace: "other", Selector: a.Selector}
	if queryKey(a) == queryKey(c) {
		t.Error("Expected namespaces to be part of the key")
	}
}

func TestCachedStorage(t *testing.T) {
	store, err := NewStorage(&Config{Path: t.TempDir(), CompressionLevel: 1})
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	cached := NewCachedStorage(store, 10, time.Minute)
	defer cached.Close()

	ctx := context.Background()
	req := &types.QueryRequest{Namespace: "eurec4a", Selector: map[string]string{"__name__": "cloud_mask"}}

	if _, err := cached.Query(ctx, req); err != nil {
		t.Fatalf("Failed to query: %v", err)
	}
	result, err := cached.Query(ctx, req)
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}
	if len(result.Series) != 0 {
		t.Errorf("Expected empty result, got %d series", len(result.Series))
	}

	_, hits, misses := cached.CacheStats()
	if hits != 1 || misses != 1 {
		t.Errorf("Expected 1 hit and 1 miss, got %d and %d", hits, misses)
	}
	if rate := cached.CacheHitRate(); rate != 50 {
		t.Errorf("Expected hit rate 50, got %f", rate)
	}

	// a write invalidates the cached empty result
	err = cached.Write(ctx, &types.WriteRequest{
		Namespace: "eurec4a",
		Series:    []types.Series{cloudMask(time.Date(2020, 2, 5, 13, 0, 0, 0, time.UTC), 10)},
	})
	if err != nil {
		t.Fatalf("Failed to write: %v", err)
	}

	result, err = cached.Query(ctx, req)
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}
	if len(result.Series) != 1 {
		t.Errorf("Expected 1 series after write, got %d", len(result.Series))
	}
	if cached.SeriesCount() != 1 {
		t.Errorf("Expected 1 stored series, got %d", cached.SeriesCount())
	}
}
