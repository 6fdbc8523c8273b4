// Package app wires catalog, flight segments, flag aggregation and the
// series store into the operations exposed by the CLI and the HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/d70-t/how-to-eurec4a/internal/config"
	"github.com/d70-t/how-to-eurec4a/internal/logger"
	"github.com/d70-t/how-to-eurec4a/pkg/catalog"
	"github.com/d70-t/how-to-eurec4a/pkg/fetch"
	"github.com/d70-t/how-to-eurec4a/pkg/flags"
	"github.com/d70-t/how-to-eurec4a/pkg/segments"
	"github.com/d70-t/how-to-eurec4a/pkg/storage"
	"github.com/d70-t/how-to-eurec4a/pkg/types"
)

// Service is safe for concurrent use.
type Service struct {
	cfg      *config.Config
	fetcher  *fetch.Fetcher
	store    *storage.CachedStorage
	segments *segments.Loader
	log      *logger.Entry

	mu     sync.Mutex
	opener *catalog.Opener
}

// New opens the series store and prepares the loaders. The catalog and the
// segmentation are loaded on first use.
func New(cfg *config.Config, log *logger.Log) (*Service, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	storeCfg := cfg.ToStorageConfig()
	storeCfg.Logger = log.WithComponent("badger")
	store, err := storage.NewStorage(storeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	fetcher := fetch.New(cfg.ToFetchConfig(), log.WithComponent("fetch"))
	return &Service{
		cfg:      cfg,
		fetcher:  fetcher,
		store:    storage.NewCachedStorage(store, cfg.Storage.CacheCapacity, cfg.Storage.CacheTTL),
		segments: segments.NewLoader(fetcher, log.WithComponent("segments")),
		log:      log.WithComponent("app"),
	}, nil
}

// Close closes the series store
func (s *Service) Close() error {
	return s.store.Close()
}

func (s *Service) catalogOpener(ctx context.Context) (*catalog.Opener, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opener != nil {
		return s.opener, nil
	}

	start := time.Now()
	cat, err := catalog.Load(ctx, s.fetcher, s.cfg.Catalog.Location)
	if err != nil {
		return nil, err
	}
	s.opener = catalog.NewOpener(cat, s.fetcher, s.store, s.cfg.Namespace(), s.log.WithComponent("catalog"))

	s.log.WithFields(logger.Fields{
		"location": s.cfg.Catalog.Location,
		"entries":  len(cat.Entries()),
		"duration": time.Since(start).String(),
	}).Info("loaded catalog")
	return s.opener, nil
}

// Catalog returns the configured catalog
func (s *Service) Catalog(ctx context.Context) (*catalog.Catalog, error) {
	opener, err := s.catalogOpener(ctx)
	if err != nil {
		return nil, err
	}
	return opener.Catalog(), nil
}

// Dataset opens the catalog entry named by ref
func (s *Service) Dataset(ctx context.Context, ref string) (*catalog.Dataset, error) {
	opener, err := s.catalogOpener(ctx)
	if err != nil {
		return nil, err
	}
	return opener.OpenString(ctx, ref)
}

// SegmentSnapshot returns the configured segmentation
func (s *Service) SegmentSnapshot(ctx context.Context) (*segments.Snapshot, error) {
	return s.segments.Load(ctx, s.cfg.Segments.Location, s.cfg.Segments.Version)
}

// Segments returns the segments matching sel, ordered by start time
func (s *Service) Segments(ctx context.Context, sel segments.Selector) ([]segments.Segment, error) {
	snap, err := s.SegmentSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	return segments.SortByStart(snap.Index.Find(sel)), nil
}

// Segment returns the segment with the given id
func (s *Service) Segment(ctx context.Context, id string) (segments.Segment, error) {
	snap, err := s.SegmentSnapshot(ctx)
	if err != nil {
		return segments.Segment{}, err
	}
	return snap.Index.Get(id)
}

// CacheStats reports the query cache of the series store
func (s *Service) CacheStats() (stats storage.CacheStats, hits, misses uint64, hitRate float64) {
	stats, hits, misses = s.store.CacheStats()
	return stats, hits, misses, s.store.CacheHitRate()
}

// SeriesCount returns the number of stored series
func (s *Service) SeriesCount() int {
	return s.store.SeriesCount()
}

// CloudFraction opens the requested dataset, cuts the interval and computes
// the fraction of hits, and with a window the fraction per window.
func (s *Service) CloudFraction(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()

	ds, err := s.Dataset(ctx, req.Ref)
	if err != nil {
		return nil, err
	}
	series, err := ds.Variable(req.Variable)
	if err != nil {
		return nil, err
	}

	from, to := req.Start, req.End
	if req.Segment != "" {
		seg, err := s.Segment(ctx, req.Segment)
		if err != nil {
			return nil, err
		}
		from, to = seg.Start, seg.End
	}

	result, err := fraction(series.Slice(from, to), req)
	if err != nil {
		return nil, err
	}
	result.Ref = ds.Ref.String()
	result.URL = ds.URL
	result.Segment = req.Segment
	result.Start, result.End = from, to

	logger.LogPerformance(s.log, "cloud_fraction", time.Since(start), logger.Fields{
		"ref":      result.Ref,
		"variable": req.Variable,
		"segment":  req.Segment,
		"samples":  result.Total,
	})
	return result, nil
}

// fraction aggregates one already sliced series
func fraction(series types.Series, req Request) (*Result, error) {
	var mask flags.Mask
	if req.threshold() {
		mask = flags.MatchesFunc(series, req.predicate())
	} else {
		fs, err := flags.FromSeries(series)
		if err != nil {
			return nil, err
		}
		if len(req.Flags) > 0 {
			mask, err = flags.MatchesNamed(fs, req.Flags...)
			if err != nil {
				return nil, err
			}
		} else {
			mask = flags.Matches(fs, req.Codes...)
		}
	}

	f, err := flags.Fraction(mask)
	if err != nil {
		var empty *flags.EmptySeriesError
		if errors.As(err, &empty) {
			empty.Series = series.Metric.Name
		}
		return nil, err
	}
	hits, valid := flags.Counts(mask)

	result := &Result{
		Variable:  series.Metric.Name,
		Selection: req.Selection(),
		Fraction:  f,
		Hits:      hits,
		Valid:     valid,
		Total:     len(mask),
	}
	if req.threshold() {
		mean, err := flags.Mean(series)
		if err != nil {
			return nil, err
		}
		result.Mean = &mean
	}

	if req.Window > 0 {
		windows, err := flags.ResampleFraction(mask, req.Window, req.Offset)
		if err != nil {
			return nil, err
		}
		result.Window = req.Window
		result.Windows = windows
	}
	return result, nil
}
