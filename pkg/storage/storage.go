package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/d70-t/how-to-eurec4a/pkg/types"
)

// blockDuration is the span of samples stored under one key.
const blockDuration = time.Hour

const (
	blockPrefix = "b/"
	metaPrefix  = "m/"
)

// Storage interface defines the contract for the series store
type Storage interface {
	// Write stores the series of req atomically. Each written series
	// replaces all samples stored for it before.
	Write(ctx context.Context, req *types.WriteRequest) error

	// Query returns the series matching the selector with samples in
	// [StartTime, EndTime)
	Query(ctx context.Context, req *types.QueryRequest) (*types.QueryResult, error)

	// SeriesCount returns the number of stored series
	SeriesCount() int

	// Close closes the storage
	Close() error
}

// Config holds storage configuration
type Config struct {
	Path             string
	RetentionDays    int
	CompressionLevel int
	// InMemory keeps all data in memory; Path is ignored.
	InMemory bool
	// Logger receives badger's log output; nil silences it.
	Logger badger.Logger
}

// DefaultConfig returns default storage configuration
func DefaultConfig() *Config {
	return &Config{
		Path:             "./data",
		RetentionDays:    30,
		CompressionLevel: 3,
	}
}

// badgerStorage keeps one badger value per series and hour of samples,
// plus one metadata value per series from which the index is rebuilt.
type badgerStorage struct {
	cfg   *Config
	db    *badger.DB
	index *Index
	codec *blockCodec
	mu    sync.RWMutex
}

// NewStorage opens the store at cfg.Path and rebuilds its index
func NewStorage(cfg *Config) (Storage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	opts := badger.DefaultOptions(filepath.Join(cfg.Path, "badger"))
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = cfg.Logger

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	codec, err := newBlockCodec(cfg.CompressionLevel)
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &badgerStorage{cfg: cfg, db: db, index: NewIndex(), codec: codec}
	if err := s.loadIndex(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to load index: %w", err)
	}
	return s, nil
}

// loadIndex restores the series metadata persisted by earlier writes.
func (s *badgerStorage) loadIndex() error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(metaPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := it.Item().Value(s.index.Restore); err != nil {
				return err
			}
		}
		return nil
	})
}

// Write implements Storage.Write. All series of a request are committed in
// one transaction, so a failed or canceled write leaves the store as it was.
// Very large requests fail with badger.ErrTxnTooBig.
func (s *badgerStorage) Write(ctx context.Context, req *types.WriteRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var staged []*SeriesMeta
	err := s.db.Update(func(txn *badger.Txn) error {
		for i := range req.Series {
			if err := ctx.Err(); err != nil {
				return err
			}
			series := &req.Series[i]
			if len(series.Samples) == 0 {
				continue
			}
			meta, err := s.writeSeries(txn, req.Namespace, series)
			if err != nil {
				return fmt.Errorf("failed to write series %s: %w", series.Metric.Name, err)
			}
			staged = append(staged, meta)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, meta := range staged {
		s.index.Commit(meta)
	}
	return nil
}

// writeSeries replaces the stored blocks of one series within txn.
func (s *badgerStorage) writeSeries(txn *badger.Txn, namespace string, series *types.Series) (*SeriesMeta, error) {
	meta, err := s.index.Stage(namespace, &series.Metric, series.Attrs)
	if err != nil {
		return nil, fmt.Errorf("failed to index series: %w", err)
	}
	first, last := series.TimeRange()
	meta.MinTime, meta.MaxTime = first.UnixNano(), last.UnixNano()

	if err := dropBlocks(txn, namespace, meta.ID); err != nil {
		return nil, fmt.Errorf("dropping old blocks: %w", err)
	}
	for hour, samples := range splitHours(series.Samples) {
		frame := s.codec.encode(samples)
		if err := txn.SetEntry(s.entry(blockKey(namespace, meta.ID, hour), frame)); err != nil {
			return nil, fmt.Errorf("block %s: %w", time.Unix(hour, 0).UTC().Format(time.RFC3339), err)
		}
	}

	data, err := meta.Marshal()
	if err != nil {
		return nil, err
	}
	if err := txn.SetEntry(s.entry(metaKey(namespace, meta.ID), data)); err != nil {
		return nil, err
	}
	return meta, nil
}

// dropBlocks deletes every hour block of a series.
func dropBlocks(txn *badger.Txn, namespace string, id uint64) error {
	prefix := append(seriesKey(blockPrefix, namespace, id), '/')

	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()

	for _, key := range keys {
		if err := txn.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// splitHours groups samples by the unix second of their hour
func splitHours(samples []types.Sample) map[int64][]types.Sample {
	hours := make(map[int64][]types.Sample)
	for _, sample := range samples {
		hour := sample.Timestamp.Truncate(blockDuration).Unix()
		hours[hour] = append(hours[hour], sample)
	}
	return hours
}

// entry builds a badger entry expiring after the retention period
func (s *badgerStorage) entry(key, value []byte) *badger.Entry {
	e := badger.NewEntry(key, value)
	if s.cfg.RetentionDays > 0 {
		e = e.WithTTL(time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
	}
	return e
}

// Query implements Storage.Query
func (s *badgerStorage) Query(ctx context.Context, req *types.QueryRequest) (*types.QueryResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.index.FindSeries(req.Namespace, req.Selector)
	result := &types.QueryResult{Series: make([]types.Series, 0, len(ids))}

	err := s.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			meta, ok := s.index.GetSeries(id)
			if !ok {
				continue
			}

			samples, err := s.readRange(txn, req, id, meta)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", meta.Metric.Name, err)
			}
			if len(samples) == 0 {
				continue
			}
			result.Series = append(result.Series, types.Series{
				Metric:  meta.Metric,
				Attrs:   meta.Attrs,
				Samples: samples,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// readRange decodes the hour blocks of one series overlapping
// [req.StartTime, req.EndTime) and keeps the samples inside it.
func (s *badgerStorage) readRange(txn *badger.Txn, req *types.QueryRequest, id uint64, meta *SeriesMeta) ([]types.Sample, error) {
	from, to := meta.MinTime, meta.MaxTime
	if !req.StartTime.IsZero() {
		from = max(from, req.StartTime.UnixNano())
	}
	if !req.EndTime.IsZero() {
		to = min(to, req.EndTime.UnixNano()-1)
	}
	if from > to {
		return nil, nil
	}

	var out []types.Sample
	last := time.Unix(0, to).Truncate(blockDuration)
	for hour := time.Unix(0, from).Truncate(blockDuration); !hour.After(last); hour = hour.Add(blockDuration) {
		item, err := txn.Get(blockKey(req.Namespace, id, hour.Unix()))
		if errors.Is(err, badger.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}

		var samples []types.Sample
		err = item.Value(func(frame []byte) error {
			samples, err = s.codec.decode(frame)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("block %s: %w", hour.UTC().Format(time.RFC3339), err)
		}

		for _, sample := range samples {
			ns := sample.Timestamp.UnixNano()
			if ns >= from && ns <= to {
				out = append(out, sample)
			}
		}
	}
	return out, nil
}

// SeriesCount implements Storage.SeriesCount
func (s *badgerStorage) SeriesCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.SeriesCount()
}

// Close implements Storage.Close
func (s *badgerStorage) Close() error {
	if s.codec != nil {
		s.codec.close()
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// blockKey is "b/<namespace>/<series id>/<hour>", integers big endian so
// the blocks of a series sort by time.
func blockKey(namespace string, id uint64, hour int64) []byte {
	key := seriesKey(blockPrefix, namespace, id)
	key = append(key, '/')
	return binary.BigEndian.AppendUint64(key, uint64(hour))
}

// metaKey is "m/<namespace>/<series id>".
func metaKey(namespace string, id uint64) []byte {
	return seriesKey(metaPrefix, namespace, id)
}

func seriesKey(prefix, namespace string, id uint64) []byte {
	key := make([]byte, 0, len(prefix)+len(namespace)+18)
	key = append(key, prefix...)
	key = append(key, namespace...)
	key = append(key, '/')
	return binary.BigEndian.AppendUint64(key, id)
}
