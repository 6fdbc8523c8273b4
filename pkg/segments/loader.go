package segments

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/d70-t/how-to-eurec4a/internal/logger"
	"github.com/d70-t/how-to-eurec4a/pkg/storage"
)

// Fetcher reads a location
type Fetcher interface {
	Fetch(ctx context.Context, location string) ([]byte, error)
}

// Snapshot is one decoded version of a segmentation file
type Snapshot struct {
	Source   string
	Version  string
	Meta     Metadata
	Segments []Segment
	Index    *Index
}

// Loader memoizes decoded segmentation files. The memo key is the source
// location together with a caller supplied version; a new version always
// triggers a reload.
type Loader struct {
	fetcher Fetcher
	cache   *storage.Cache[*Snapshot]
	log     *logger.Entry
	// serializes loads so concurrent callers decode a source once
	mu sync.Mutex
}

// NewLoader creates a Loader reading through f
func NewLoader(f Fetcher, log *logger.Entry) *Loader {
	if log == nil {
		log = logger.GetLogger().WithComponent("segments")
	}
	return &Loader{
		fetcher: f,
		cache:   storage.NewCache[*Snapshot](8, 0),
		log:     log,
	}
}

func memoKey(source, version string) string {
	return source + "\x00" + version
}

// Load returns the snapshot of source at version, decoding it on first use.
func (l *Loader) Load(ctx context.Context, source, version string) (*Snapshot, error) {
	key := memoKey(source, version)
	if snap, ok := l.cache.Get(key); ok {
		return snap, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if snap, ok := l.cache.Get(key); ok {
		return snap, nil
	}

	data, err := l.fetcher.Fetch(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("loading flight segments: %w", err)
	}

	meta, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	segs := Flatten(meta)
	snap := &Snapshot{
		Source:   source,
		Version:  version,
		Meta:     meta,
		Segments: segs,
		Index:    NewIndex(segs),
	}
	l.cache.Put(key, snap)

	l.log.WithFields(logger.Fields{
		"source":    source,
		"version":   version,
		"platforms": len(meta),
		"segments":  len(segs),
	}).Info("loaded flight segments")

	return snap, nil
}

// Invalidate drops the snapshot of source at version
func (l *Loader) Invalidate(source, version string) {
	l.cache.Remove(memoKey(source, version))
}
