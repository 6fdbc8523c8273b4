// Package fetch reads catalog, segment and dataset files from local paths
// and http(s) URLs.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/time/rate"

	"github.com/d70-t/how-to-eurec4a/internal/logger"
)

// ErrNotFound is returned when a location does not exist.
var ErrNotFound = errors.New("not found")

// StatusError reports an unexpected HTTP status.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: %d %s", e.URL, e.Status, http.StatusText(e.Status))
}

// Temporary reports whether retrying the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// Config tunes a Fetcher
type Config struct {
	// Timeout bounds a single HTTP request
	Timeout time.Duration
	// MaxElapsedTime bounds all retries of one Fetch; zero retries forever
	// until the context is done.
	MaxElapsedTime time.Duration
	RatePerSecond  float64
	Burst          int
}

// DefaultConfig returns default fetch configuration
func DefaultConfig() Config {
	return Config{
		Timeout:        5 * time.Minute,
		MaxElapsedTime: 2 * time.Minute,
		RatePerSecond:  4,
		Burst:          4,
	}
}

// Fetcher loads locations with retries and a shared request rate limit.
// It is safe for concurrent use.
type Fetcher struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	log     *logger.Entry
}

// New creates a Fetcher. A nil log uses the process logger.
func New(cfg Config, log *logger.Entry) *Fetcher {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = DefaultConfig().RatePerSecond
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if log == nil {
		log = logger.GetLogger().WithComponent("fetch")
	}
	return &Fetcher{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		log:     log,
	}
}

// IsRemote reports whether location is an http(s) URL.
func IsRemote(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}

// Fetch returns the contents of location, a local path, file:// URL or
// http(s) URL.
func (f *Fetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	if !IsRemote(location) {
		return f.readFile(strings.TrimPrefix(location, "file://"))
	}

	start := time.Now()
	var data []byte

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = f.cfg.MaxElapsedTime

	err := backoff.RetryNotify(
		func() error {
			var err error
			data, err = f.get(ctx, location)
			if err == nil {
				return nil
			}
			var status *StatusError
			if ctx.Err() != nil || errors.Is(err, ErrNotFound) || (errors.As(err, &status) && !status.Temporary()) {
				return backoff.Permanent(err)
			}
			return err
		},
		backoff.WithContext(b, ctx),
		func(err error, d time.Duration) {
			f.log.WithError(err).WithFields(logger.Fields{"url": location}).Warnf("retrying in %v", d)
		},
	)
	if err != nil {
		return nil, err
	}

	logger.LogPerformance(f.log, "fetch", time.Since(start), logger.Fields{
		"url":   location,
		"bytes": len(data),
	})
	return data, nil
}

func (f *Fetcher) get(ctx context.Context, location string) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", location, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("GET %s: %w", location, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, &StatusError{URL: location, Status: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", location, err)
	}
	return data, nil
}

func (f *Fetcher) readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return data, err
}

// Resolve interprets ref relative to the location base refers from.
// Absolute URLs and absolute paths are returned unchanged.
func Resolve(base, ref string) (string, error) {
	if IsRemote(ref) || filepath.IsAbs(ref) {
		return ref, nil
	}
	if IsRemote(base) {
		u, err := url.Parse(base)
		if err != nil {
			return "", fmt.Errorf("invalid base url %q: %w", base, err)
		}
		r, err := url.Parse(ref)
		if err != nil {
			return "", fmt.Errorf("invalid reference %q: %w", ref, err)
		}
		return u.ResolveReference(r).String(), nil
	}
	return filepath.Join(filepath.Dir(strings.TrimPrefix(base, "file://")), ref), nil
}
