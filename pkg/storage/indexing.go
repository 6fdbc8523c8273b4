package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/d70-t/how-to-eurec4a/pkg/types"
)

// nameLabel is the pseudo label under which the variable name is indexed.
const nameLabel = "__name__"

// Index maps stored series to their metadata. Series are scoped by
// namespace; a selector never matches across namespaces.
type Index struct {
	series map[uint64]*SeriesMeta
	// postings holds the sorted series IDs per namespace, label and value
	postings map[postingKey][]uint64
	// members holds the sorted series IDs per namespace
	members map[string][]uint64
}

type postingKey struct {
	namespace, label, value string
}

// SeriesMeta holds metadata about a single stored series. It is persisted
// next to the sample blocks so the index can be rebuilt on open. MinTime
// and MaxTime, in Unix nanoseconds, span the samples of the last write.
type SeriesMeta struct {
	ID        uint64            `json:"id"`
	Namespace string            `json:"namespace"`
	Metric    types.Metric      `json:"metric"`
	Attrs     map[string]string `json:"attrs,omitempty"`
	MinTime   int64             `json:"min_time"`
	MaxTime   int64             `json:"max_time"`
}

func NewIndex() *Index {
	return &Index{
		series:   make(map[uint64]*SeriesMeta),
		postings: make(map[postingKey][]uint64),
		members:  make(map[string][]uint64),
	}
}

// Stage returns the metadata of a series about to be written. It is not
// indexed until passed to Commit.
func (idx *Index) Stage(namespace string, metric *types.Metric, attrs map[string]string) (*SeriesMeta, error) {
	if metric.Name == "" {
		return nil, errors.New("series without name")
	}
	return &SeriesMeta{
		ID:        fingerprint(namespace, metric),
		Namespace: namespace,
		Metric:    *metric,
		Attrs:     attrs,
	}, nil
}

// Commit indexes meta, replacing the metadata of a series with the same ID.
func (idx *Index) Commit(meta *SeriesMeta) {
	if old, ok := idx.series[meta.ID]; ok {
		// same ID, same labels: the postings stay valid
		*old = *meta
		return
	}
	idx.insert(meta)
}

func (idx *Index) insert(meta *SeriesMeta) {
	idx.series[meta.ID] = meta
	idx.members[meta.Namespace] = insertSorted(idx.members[meta.Namespace], meta.ID)

	idx.post(postingKey{meta.Namespace, nameLabel, meta.Metric.Name}, meta.ID)
	for label, value := range meta.Metric.Labels {
		idx.post(postingKey{meta.Namespace, label, value}, meta.ID)
	}
}

func (idx *Index) post(key postingKey, id uint64) {
	idx.postings[key] = insertSorted(idx.postings[key], id)
}

func insertSorted(ids []uint64, id uint64) []uint64 {
	i, found := slices.BinarySearch(ids, id)
	if found {
		return ids
	}
	return slices.Insert(ids, i, id)
}

// GetSeries retrieves series metadata by ID
func (idx *Index) GetSeries(id uint64) (*SeriesMeta, bool) {
	meta, ok := idx.series[id]
	return meta, ok
}

// FindSeries returns the IDs, in ascending order, of the series of a
// namespace carrying every label of the selector. The variable name is
// selected with the "__name__" label; an empty selector matches all series
// of the namespace.
func (idx *Index) FindSeries(namespace string, selector map[string]string) []uint64 {
	if len(selector) == 0 {
		return slices.Clone(idx.members[namespace])
	}

	lists := make([][]uint64, 0, len(selector))
	for label, value := range selector {
		ids := idx.postings[postingKey{namespace, label, value}]
		if len(ids) == 0 {
			return nil
		}
		lists = append(lists, ids)
	}
	sort.Slice(lists, func(i, j int) bool { return len(lists[i]) < len(lists[j]) })

	result := slices.Clone(lists[0])
	for _, ids := range lists[1:] {
		result = slices.DeleteFunc(result, func(id uint64) bool {
			_, found := slices.BinarySearch(ids, id)
			return !found
		})
		if len(result) == 0 {
			return nil
		}
	}
	return result
}

// SeriesCount returns the number of indexed series
func (idx *Index) SeriesCount() int {
	return len(idx.series)
}

// Marshal serializes the metadata for Restore.
func (m *SeriesMeta) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// Restore adds a series serialized with Marshal.
func (idx *Index) Restore(data []byte) error {
	var meta SeriesMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("failed to unmarshal series metadata: %w", err)
	}
	if _, ok := idx.series[meta.ID]; !ok {
		idx.insert(&meta)
	}
	return nil
}

// fingerprint hashes namespace, variable name and the sorted labels.
func fingerprint(namespace string, metric *types.Metric) uint64 {
	labels := make([]string, 0, len(metric.Labels))
	for label := range metric.Labels {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	d := xxhash.New()
	d.WriteString(namespace)
	d.Write([]byte{0xff})
	d.WriteString(metric.Name)
	for _, label := range labels {
		d.Write([]byte{0})
		d.WriteString(label)
		d.Write([]byte{0})
		d.WriteString(metric.Labels[label])
	}
	return d.Sum64()
}
