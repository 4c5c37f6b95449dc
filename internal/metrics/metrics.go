// Package metrics exposes Prometheus collectors for the scraper service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)

	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scraper_active_workers",
			Help: "Number of session workers currently running.",
		},
	)

	captchaWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_captcha_rate_limit_wait_seconds",
			Help:    "Time spent waiting for a captcha rate-limit slot.",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	captchaSolvesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_captcha_solves_total",
			Help: "Captcha solve attempts, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	captchaAPIDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scraper_captcha_api_duration_seconds",
			Help:    "Latency of captcha model API calls, labeled by status code.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20},
		},
		[]string{"code"},
	)

	captchaCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_captcha_cache_total",
			Help: "Captcha answer cache lookups, labeled by hit or miss.",
		},
		[]string{"result"},
	)

	progressDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_progress_events_dropped_total",
			Help: "Progress events dropped because the hub buffer was full, labeled by stage.",
		},
		[]string{"stage"},
	)

	progressSinkErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_progress_sink_errors_total",
			Help: "Progress batches a sink failed to consume, labeled by sink.",
		},
		[]string{"sink"},
	)

	sessionResetsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_session_resets_total",
			Help: "Session recoveries, labeled by tier (reuse, setup) and result.",
		},
		[]string{"tier", "result"},
	)
)

// Captcha solve outcomes.
const (
	SolveAccepted    = "accepted"
	SolveRejected    = "rejected"
	SolveImplausible = "implausible"
	SolveError       = "error"
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveCaptchaWait records how long a caller waited for a captcha slot.
func ObserveCaptchaWait(duration time.Duration) {
	captchaWaitSeconds.Observe(duration.Seconds())
}

// ObserveCaptchaSolve counts a solve attempt by outcome.
func ObserveCaptchaSolve(outcome string) {
	captchaSolvesTotal.WithLabelValues(outcome).Inc()
}

// ObserveCaptchaAPI records one call to the captcha model API.
func ObserveCaptchaAPI(code int, duration time.Duration) {
	captchaAPIDurationSeconds.WithLabelValues(strconv.Itoa(code)).Observe(duration.Seconds())
}

// ObserveCaptchaCache counts a cache lookup.
func ObserveCaptchaCache(hit bool) {
	result := "hit"
	if !hit {
		result = "miss"
	}
	captchaCacheTotal.WithLabelValues(result).Inc()
}

// ObserveProgressDropped counts a progress event the hub had to drop.
func ObserveProgressDropped(stage string) {
	progressDroppedTotal.WithLabelValues(stage).Inc()
}

// ObserveProgressSinkError counts a batch a progress sink rejected.
func ObserveProgressSinkError(sink string) {
	progressSinkErrorsTotal.WithLabelValues(sink).Inc()
}

// ObserveSessionReset counts a recovery step for the given tier.
func ObserveSessionReset(tier string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	sessionResetsTotal.WithLabelValues(tier, result).Inc()
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			routePattern = rctx.RoutePattern()
		}
		ObserveHTTPRequest(r.Method, routePattern, ww.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}
