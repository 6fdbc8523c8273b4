package catalog

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/d70-t/how-to-eurec4a/internal/logger"
	"github.com/d70-t/how-to-eurec4a/pkg/flags"
	"github.com/d70-t/how-to-eurec4a/pkg/storage"
	"github.com/d70-t/how-to-eurec4a/pkg/types"
)

// LabelURL is the series label holding the dataset URL
const LabelURL = "url"

// Dataset is an opened catalog entry: one series per variable along time
type Dataset struct {
	Ref    Ref            `json:"ref"`
	URL    string         `json:"url"`
	Series []types.Series `json:"series"`
}

// Variables returns the variable names in sorted order
func (d *Dataset) Variables() []string {
	names := make([]string, len(d.Series))
	for i, s := range d.Series {
		names[i] = s.Metric.Name
	}
	return names
}

// Variable returns the series of variable name
func (d *Dataset) Variable(name string) (types.Series, error) {
	for _, s := range d.Series {
		if s.Metric.Name == name {
			return s, nil
		}
	}
	return types.Series{}, fmt.Errorf("variable %s in %s: %w", name, d.Ref, ErrNotFound)
}

// Flags returns variable name as a flag series
func (d *Dataset) Flags(name string) (flags.Series, error) {
	s, err := d.Variable(name)
	if err != nil {
		return flags.Series{}, err
	}
	return flags.FromSeries(s)
}

func sortSeries(series []types.Series) {
	sort.Slice(series, func(i, j int) bool { return series[i].Metric.Name < series[j].Metric.Name })
}

// Opener opens catalog entries. Decoded datasets are written to the store
// and served from it on later opens.
type Opener struct {
	catalog   *Catalog
	fetcher   Fetcher
	store     storage.Storage
	namespace string
	memo      *storage.Cache[*Dataset]
	log       *logger.Entry
}

// NewOpener creates an Opener. store may be nil, in which case every open
// past the in-process memo fetches and decodes the data again.
func NewOpener(cat *Catalog, f Fetcher, store storage.Storage, namespace string, log *logger.Entry) *Opener {
	if log == nil {
		log = logger.GetLogger().WithComponent("catalog")
	}
	return &Opener{
		catalog:   cat,
		fetcher:   f,
		store:     store,
		namespace: namespace,
		memo:      storage.NewCache[*Dataset](16, 10*time.Minute),
		log:       log,
	}
}

// Catalog returns the catalog entries are resolved against
func (o *Opener) Catalog() *Catalog {
	return o.catalog
}

// Open resolves ref and returns its dataset
func (o *Opener) Open(ctx context.Context, ref Ref) (*Dataset, error) {
	resolved, err := o.catalog.Resolve(ref)
	if err != nil {
		return nil, err
	}
	if ds, ok := o.memo.Get(resolved.URL); ok {
		return &Dataset{Ref: ref, URL: ds.URL, Series: ds.Series}, nil
	}

	start := time.Now()
	log := o.log.WithFields(logger.Fields{"ref": ref.String(), "url": resolved.URL})

	series, cached, err := o.load(ctx, resolved.URL)
	if err != nil {
		return nil, err
	}
	sortSeries(series)

	ds := &Dataset{Ref: ref, URL: resolved.URL, Series: series}
	o.memo.Put(resolved.URL, ds)

	logger.LogPerformance(log, "open_dataset", time.Since(start), logger.Fields{
		"variables": len(series),
		"cached":    cached,
	})
	return ds, nil
}

func (o *Opener) load(ctx context.Context, url string) ([]types.Series, bool, error) {
	if o.store != nil {
		result, err := o.store.Query(ctx, &types.QueryRequest{
			Namespace: o.namespace,
			Selector:  map[string]string{LabelURL: url},
		})
		if err != nil {
			return nil, false, fmt.Errorf("querying store: %w", err)
		}
		if len(result.Series) > 0 {
			// the result may be shared through the query cache; Open sorts its own copy
			return slices.Clone(result.Series), true, nil
		}
	}

	data, err := o.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, false, err
	}
	series, err := Decode(data)
	if err != nil {
		return nil, false, fmt.Errorf("decoding %s: %w", url, err)
	}
	for i := range series {
		series[i].Metric.Labels = map[string]string{LabelURL: url}
	}

	if o.store != nil {
		err := o.store.Write(ctx, &types.WriteRequest{Namespace: o.namespace, Series: series})
		if err != nil {
			// the decoded data is still usable
			o.log.WithError(err).WithFields(logger.Fields{"url": url}).Warn("failed to store dataset")
		}
	}
	return series, false, nil
}

// OpenString parses and opens a reference in text form
func (o *Opener) OpenString(ctx context.Context, ref string) (*Dataset, error) {
	r, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}
	return o.Open(ctx, r)
}
