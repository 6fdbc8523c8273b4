package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "eurec4a"

// newMetricsRegistry registers the query cache and store figures of svc,
// read on every scrape, next to the go_* and process_* collectors.
func newMetricsRegistry(svc Service) *prometheus.Registry {
	reg := prometheus.NewRegistry()

	cacheHits := func() float64 {
		_, hits, _, _ := svc.CacheStats()
		return float64(hits)
	}
	cacheMisses := func() float64 {
		_, _, misses, _ := svc.CacheStats()
		return float64(misses)
	}
	hitRate := func() float64 {
		_, _, _, rate := svc.CacheStats()
		return rate / 100
	}
	cacheEntries := func() float64 {
		stats, _, _, _ := svc.CacheStats()
		return float64(stats.Size)
	}

	reg.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "query_cache_hits_total",
			Help:      "Store queries answered from the query cache.",
		}, cacheHits),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "query_cache_misses_total",
			Help:      "Store queries that went to badger.",
		}, cacheMisses),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "query_cache_hit_rate",
			Help:      "Fraction of store queries answered from the cache.",
		}, hitRate),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "query_cache_entries",
			Help:      "Query results currently cached.",
		}, cacheEntries),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "stored_series",
			Help:      "Dataset variables held in the series store.",
		}, func() float64 { return float64(svc.SeriesCount()) }),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
