// Package metrics exposes checkout counters to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wearwise/checkout/internal/services"
)

const namespace = "checkout"

// Recorder implements services.CheckoutMetrics.
type Recorder struct {
	started      *prometheus.CounterVec
	rejected     *prometheus.CounterVec
	reconciled   *prometheus.CounterVec
	pollAttempts *prometheus.HistogramVec
	finalized    *prometheus.CounterVec
	amount       *prometheus.CounterVec
	requests     *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	gatherer     prometheus.Gatherer
}

var _ services.CheckoutMetrics = (*Recorder)(nil)

// NewRecorder registers the checkout collectors on a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		started: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "started_total",
			Help:      "Checkout attempts that reached a payment provider.",
		}, []string{"provider"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_total",
			Help:      "Checkout attempts rejected before or during initiation.",
		}, []string{"reason"}),
		reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciled_total",
			Help:      "Provider results settled, by outcome.",
		}, []string{"provider", "outcome"}),
		pollAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_attempts",
			Help:      "Status checks needed per poll loop.",
			Buckets:   []float64{1, 2, 3, 4, 5, 7, 10},
		}, []string{"provider"}),
		finalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_finalized_total",
			Help:      "Orders created from succeeded transactions.",
		}, []string{"provider"}),
		amount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "finalized_amount_total",
			Help:      "Sum of finalized order amounts in minor units.",
		}, []string{"provider"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 20000},
		}, []string{"route"}),
		gatherer: reg,
	}
	reg.MustRegister(
		r.started, r.rejected, r.reconciled, r.pollAttempts, r.finalized, r.amount, r.requests, r.latency,
		collectors.NewGoCollector(),
	)
	return r
}

// CheckoutStarted implements services.CheckoutMetrics.
func (r *Recorder) CheckoutStarted(provider string) {
	r.started.WithLabelValues(provider).Inc()
}

// CheckoutRejected implements services.CheckoutMetrics.
func (r *Recorder) CheckoutRejected(reason string) {
	r.rejected.WithLabelValues(reason).Inc()
}

// Reconciled implements services.CheckoutMetrics.
func (r *Recorder) Reconciled(provider, outcome string) {
	r.reconciled.WithLabelValues(provider, outcome).Inc()
}

// PollAttempts implements services.CheckoutMetrics.
func (r *Recorder) PollAttempts(provider string, attempts int) {
	r.pollAttempts.WithLabelValues(provider).Observe(float64(attempts))
}

// OrderFinalized implements services.CheckoutMetrics.
func (r *Recorder) OrderFinalized(provider string, amount int64) {
	r.finalized.WithLabelValues(provider).Inc()
	if amount > 0 {
		r.amount.WithLabelValues(provider).Add(float64(amount))
	}
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

// Middleware counts requests by chi route pattern and status.
func (r *Recorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)

		route := "unmatched"
		if rctx := chi.RouteContext(req.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		r.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		r.latency.WithLabelValues(route).Observe(float64(time.Since(start).Milliseconds()))
	})
}
