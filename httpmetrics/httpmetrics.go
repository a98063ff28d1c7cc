// Package httpmetrics counts served requests with OpenCensus.
package httpmetrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

var (
	routeKey  = tag.MustNewKey("route")
	methodKey = tag.MustNewKey("method")
	statusKey = tag.MustNewKey("status")
)

type Wrapper struct {
	requestCount     *stats.Int64Measure
	requestLatency   *stats.Float64Measure
	requestCountView *view.View
	latencyView      *view.View

	inner http.Handler
}

func New(inner http.Handler) *Wrapper {
	r := &Wrapper{}

	r.requestCount = stats.Int64("socialfeed/requests", "Requests handled", stats.UnitDimensionless)
	r.requestLatency = stats.Float64("socialfeed/request_latency", "Time to handle a request", stats.UnitMilliseconds)

	r.requestCountView = &view.View{
		Name:        "socialfeed/requests",
		Description: "Counter of requests that have been handled",

		TagKeys: []tag.Key{routeKey, methodKey, statusKey},

		Measure:     r.requestCount,
		Aggregation: view.Count(),
	}
	r.latencyView = &view.View{
		Name:        "socialfeed/request_latency",
		Description: "Distribution of request latencies",

		TagKeys: []tag.Key{routeKey, methodKey},

		Measure:     r.requestLatency,
		Aggregation: view.Distribution(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	}

	r.inner = inner

	return r
}

func (h *Wrapper) RegisterMetrics() error {
	return view.Register(h.requestCountView, h.latencyView)
}

// statusRecorder remembers the status code written through it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Flush passes through so that event streams keep working.
func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// Route maps a request path to a bounded label: its first segment.
func Route(path string) string {
	path = strings.TrimPrefix(path, "/")
	first, _, _ := strings.Cut(path, "/")
	return "/" + first
}

func (h *Wrapper) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	h.inner.ServeHTTP(rec, r)
	elapsed := time.Since(start)

	route := Route(r.URL.Path)
	if glog.V(2) {
		glog.Infof("Served route=%q method=%s status=%d latency=%v", route, r.Method, rec.status, elapsed)
	}

	stats.RecordWithOptions(
		r.Context(),
		stats.WithTags(
			tag.Insert(routeKey, route),
			tag.Insert(methodKey, r.Method),
			tag.Insert(statusKey, strconv.Itoa(rec.status)),
		),
		stats.WithMeasurements(
			h.requestCount.M(1),
			h.requestLatency.M(float64(elapsed)/float64(time.Millisecond)),
		))
}
