package arbor

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// WithTracer wires an OpenTelemetry tracer into the executor: every
// dispatch is wrapped in a span named after the request method and path, following
// the teacher's optional-tracing convention (rivaas router/context.go
// imports otel/trace for the same purpose). Omit to skip tracing entirely
// — the zero value of trace.Tracer is never dereferenced unless set.
func WithTracer(t trace.Tracer) Option {
	return func(r *Router) { r.tracer = t }
}

// Recorder records one dispatch's outcome. It abstracts over the metrics
// backend so the executor never has to know whether it's talking to OTel
// or Prometheus, mirroring the teacher's multi-provider
// router/metrics_providers.go.
type Recorder interface {
	Record(ctx context.Context, method string, status int, dur time.Duration)
}

// WithRecorder installs any Recorder implementation, such as a
// *PrometheusRecorder built by NewPrometheusRecorder. WithMeter installs
// its OTel-backed Recorder in the same slot.
func WithRecorder(rec Recorder) Option {
	return func(r *Router) { r.recorder = rec }
}

// WithMeter wires an OpenTelemetry meter; dispatch records a request
// counter and a latency histogram against it. Omit to skip metrics.
func WithMeter(m metric.Meter) Option {
	return func(r *Router) {
		if m == nil {
			return
		}
		rec := &otelRecorder{}
		rec.counter, _ = m.Int64Counter("arbor.requests",
			metric.WithDescription("total requests dispatched"))
		rec.histogram, _ = m.Float64Histogram("arbor.request.duration",
			metric.WithDescription("request dispatch latency in seconds"), metric.WithUnit("s"))
		r.recorder = rec
	}
}

type otelRecorder struct {
	counter   metric.Int64Counter
	histogram metric.Float64Histogram
}

func (o *otelRecorder) Record(ctx context.Context, method string, status int, dur time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.Int("http.status_code", status),
	)
	if o.counter != nil {
		o.counter.Add(ctx, 1, attrs)
	}
	if o.histogram != nil {
		o.histogram.Record(ctx, dur.Seconds(), attrs)
	}
}

// PrometheusRecorder is the Prometheus client_golang alternative to the
// OTel meter, grounded in the teacher's metrics_providers.go offering
// more than one metrics backend behind the same recording interface.
type PrometheusRecorder struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewPrometheusRecorder builds a PrometheusRecorder and registers its
// CounterVec/HistogramVec pair against reg.
func NewPrometheusRecorder(reg prometheus.Registerer) (*PrometheusRecorder, error) {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arbor_requests_total",
		Help: "Total requests dispatched by an arbor Router.",
	}, []string{"method", "status"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "arbor_request_duration_seconds",
		Help:    "Request dispatch latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "status"})

	if err := reg.Register(requests); err != nil {
		return nil, &ConfigError{Op: "NewPrometheusRecorder", Err: err}
	}
	if err := reg.Register(duration); err != nil {
		return nil, &ConfigError{Op: "NewPrometheusRecorder", Err: err}
	}
	return &PrometheusRecorder{requests: requests, duration: duration}, nil
}

// MustNewPrometheusRecorder panics instead of returning a ConfigError.
func MustNewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	r, err := NewPrometheusRecorder(reg)
	if err != nil {
		panic(err)
	}
	return r
}

// Record implements Recorder.
func (p *PrometheusRecorder) Record(_ context.Context, method string, status int, dur time.Duration) {
	labels := prometheus.Labels{"method": method, "status": strconv.Itoa(status)}
	p.requests.With(labels).Inc()
	p.duration.With(labels).Observe(dur.Seconds())
}

// instrument wraps fn in tracing/metrics when configured, keeping the hot
// path in executor.go free of nil checks when observability is unused.
func (r *Router) instrument(req *http.Request, fn func() *Response) *Response {
	if r.tracer == nil && r.recorder == nil {
		return fn()
	}

	ctx := req.Context()
	start := time.Now()

	if r.tracer != nil {
		var span trace.Span
		ctx, span = r.tracer.Start(ctx, req.Method+" "+req.URL.Path)
		defer span.End()
		req = req.WithContext(ctx)
	}

	resp := fn()

	if r.recorder != nil {
		r.recorder.Record(ctx, req.Method, resp.Status, time.Since(start))
	}

	return resp
}
