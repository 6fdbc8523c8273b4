package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/d70-t/how-to-eurec4a/internal/app"
	"github.com/d70-t/how-to-eurec4a/internal/logger"
	"github.com/d70-t/how-to-eurec4a/pkg/catalog"
	"github.com/d70-t/how-to-eurec4a/pkg/fetch"
	"github.com/d70-t/how-to-eurec4a/pkg/flags"
	"github.com/d70-t/how-to-eurec4a/pkg/report"
	"github.com/d70-t/how-to-eurec4a/pkg/segments"
	"github.com/d70-t/how-to-eurec4a/pkg/storage"
)

// RequestIDHeader carries the request id in requests and responses
const RequestIDHeader = "X-Request-ID"

// Service is what the API serves
type Service interface {
	CloudFraction(ctx context.Context, req app.Request) (*app.Result, error)
	Segments(ctx context.Context, sel segments.Selector) ([]segments.Segment, error)
	Segment(ctx context.Context, id string) (segments.Segment, error)
	Catalog(ctx context.Context) (*catalog.Catalog, error)
	CacheStats() (stats storage.CacheStats, hits, misses uint64, hitRate float64)
	SeriesCount() int
}

// Server implements the HTTP API server
type Server struct {
	svc     Service
	addr    string
	log     *logger.Entry
	server  *http.Server
	metrics http.Handler
	started time.Time
}

// NewServer creates a new API server
func NewServer(addr string, svc Service, timeout time.Duration, log *logger.Entry) *Server {
	if log == nil {
		log = logger.GetLogger().WithComponent("api")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	s := &Server{
		svc:     svc,
		addr:    addr,
		log:     log,
		started: time.Now(),
		metrics: metricsHandler(newMetricsRegistry(svc)),
	}
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
	return s
}

// Handler returns the routes of the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/fraction", s.handleFraction)
	mux.HandleFunc("GET /api/v1/segments", s.handleSegments)
	mux.HandleFunc("GET /api/v1/segments/{id}", s.handleSegment)
	mux.HandleFunc("GET /api/v1/catalog", s.handleCatalog)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics)

	return s.withRequestID(mux)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.WithFields(logger.Fields{"addr": s.addr}).Info("starting API server")
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type ctxKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// withRequestID tags every request with an id, taken from the request
// header when present, and logs the request on completion.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))

		s.log.WithFields(logger.Fields{
			"request_id":  id,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rec.status,
			"duration_ms": float64(time.Since(start).Nanoseconds()) / 1e6,
		}).Debug("handled request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// badRequest marks malformed query parameters
type badRequest struct {
	param string
	err   error
}

func (e *badRequest) Error() string {
	return fmt.Sprintf("invalid parameter %s: %v", e.param, e.err)
}

func (e *badRequest) Unwrap() error { return e.err }

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	var (
		bad     *badRequest
		reqErr  *app.RequestError
		unknown *flags.UnknownFlagNameError
		param   *catalog.ParameterError
		empty   *flags.EmptySeriesError
		code    *flags.CodeError
		table   *flags.MalformedFlagTableError
	)
	switch {
	case errors.As(err, &bad), errors.As(err, &reqErr), errors.As(err, &unknown),
		errors.As(err, &param), errors.Is(err, flags.ErrInvalidWindow), errors.Is(err, catalog.ErrInvalidRef):
		return http.StatusBadRequest
	case errors.As(err, &empty), errors.As(err, &code), errors.As(err, &table):
		return http.StatusUnprocessableEntity
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, segments.ErrNotFound), errors.Is(err, fetch.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	entry := s.log.WithError(err).WithFields(logger.Fields{
		"request_id": requestID(r.Context()),
		"path":       r.URL.Path,
		"status":     status,
	})
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Info("request rejected")
	}

	writeJSON(w, status, map[string]string{
		"error":      err.Error(),
		"request_id": requestID(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// parseTime accepts RFC 3339 and the plain forms used in the segmentation
func parseTime(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, &badRequest{param: name, err: fmt.Errorf("unparsable time %q", value)}
}

func parseDuration(name, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, &badRequest{param: name, err: err}
	}
	return d, nil
}

func parseFloat(name, value string) (*float64, error) {
	if value == "" {
		return nil, nil
	}
	x, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, &badRequest{param: name, err: err}
	}
	return &x, nil
}

func splitList(value string) []string {
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// fractionRequest builds an app.Request from query parameters
func fractionRequest(r *http.Request) (app.Request, error) {
	q := r.URL.Query()
	req := app.Request{
		Ref:      q.Get("ref"),
		Variable: q.Get("variable"),
		Segment:  q.Get("segment"),
		Flags:    splitList(q.Get("flags")),
	}

	for _, c := range splitList(q.Get("codes")) {
		code, err := strconv.Atoi(c)
		if err != nil {
			return req, &badRequest{param: "codes", err: err}
		}
		req.Codes = append(req.Codes, code)
	}

	var err error
	if req.Start, err = parseTime("start", q.Get("start")); err != nil {
		return req, err
	}
	if req.End, err = parseTime("end", q.Get("end")); err != nil {
		return req, err
	}
	if req.Above, err = parseFloat("above", q.Get("above")); err != nil {
		return req, err
	}
	if req.AtMost, err = parseFloat("at_most", q.Get("at_most")); err != nil {
		return req, err
	}
	if req.Window, err = parseDuration("window", q.Get("window")); err != nil {
		return req, err
	}
	if req.Offset, err = parseDuration("offset", q.Get("offset")); err != nil {
		return req, err
	}
	if preset := q.Get("preset"); preset != "" {
		if err := req.ApplyPreset(preset); err != nil {
			return req, err
		}
	}
	return req, nil
}

// handleFraction computes a cloud fraction. format=text|parquet returns a
// report instead of the JSON result.
func (s *Server) handleFraction(w http.ResponseWriter, r *http.Request) {
	req, err := fractionRequest(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.svc.CloudFraction(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", report.FormatJSON:
		writeJSON(w, http.StatusOK, result)
	case report.FormatText, report.FormatParquet:
		var buf bytes.Buffer
		if err := report.Write(&buf, format, result.Rows()); err != nil {
			s.writeError(w, r, err)
			return
		}
		if format == report.FormatText {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		} else {
			w.Header().Set("Content-Type", "application/vnd.apache.parquet")
		}
		w.Write(buf.Bytes())
	default:
		s.writeError(w, r, &badRequest{param: "format", err: fmt.Errorf("unknown format %q", format)})
	}
}

// handleSegments lists segments filtered by kind, platform, flight and date
func (s *Server) handleSegments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sel := segments.Selector{
		Kind:     q.Get("kind"),
		Platform: q.Get("platform"),
		Flight:   q.Get("flight"),
		Date:     q.Get("date"),
	}
	if sel.Date != "" {
		if _, err := time.Parse("2006-01-02", sel.Date); err != nil {
			s.writeError(w, r, &badRequest{param: "date", err: err})
			return
		}
	}

	segs, err := s.svc.Segments(r.Context(), sel)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if segs == nil {
		segs = []segments.Segment{}
	}
	writeJSON(w, http.StatusOK, segs)
}

func (s *Server) handleSegment(w http.ResponseWriter, r *http.Request) {
	seg, err := s.svc.Segment(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, seg)
}

// handleCatalog returns the catalog tree as JSON, or with format=text the
// tree listing. describe=<path> returns the entry descriptions below path.
func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	cat, err := s.svc.Catalog(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	q := r.URL.Query()
	if q.Has("describe") {
		var path []string
		if p := q.Get("describe"); p != "" {
			path = strings.Split(p, ".")
		}
		var buf bytes.Buffer
		if err := cat.Describe(&buf, path...); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write(buf.Bytes())
		return
	}

	switch format := q.Get("format"); format {
	case "", report.FormatJSON:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"location": cat.Location,
			"entries":  cat.Entries(),
			"tree":     cat.Root,
		})
	case report.FormatText:
		var buf bytes.Buffer
		if err := cat.Tree(&buf); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write(buf.Bytes())
	default:
		s.writeError(w, r, &badRequest{param: "format", err: fmt.Errorf("unknown format %q", format)})
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}
