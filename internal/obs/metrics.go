package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics shared by all handlers.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Domain metrics for the authorization and audit core.
var (
	authzDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_decisions_total",
			Help: "Authorization decisions by outcome.",
		},
		[]string{"outcome"},
	)

	ledgerAppends = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_ledger_appends_total",
		Help: "Audit ledger entries appended.",
	})

	ledgerAppendDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "audit_ledger_append_duration_seconds",
		Help:    "Latency of the serialized ledger append path.",
		Buckets: prometheus.DefBuckets,
	})

	ledgerVerifyFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_ledger_verify_failures_total",
		Help: "Chain verification runs that detected a break.",
	})

	eventDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "platform_event_deliveries_total",
			Help: "Platform event delivery outcomes.",
		},
		[]string{"state"},
	)

	automationDispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_dispatches_total",
			Help: "Automation router dispatches by handler and outcome.",
		},
		[]string{"handler", "outcome"},
	)
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		authzDecisions, ledgerAppends, ledgerAppendDuration, ledgerVerifyFailures,
		eventDeliveries, automationDispatches,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAuthzDecision records one authorization evaluation.
func ObserveAuthzDecision(allowed bool) {
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	authzDecisions.WithLabelValues(outcome).Inc()
}

// ObserveLedgerAppend records one successful ledger append and its latency.
func ObserveLedgerAppend(d time.Duration) {
	ledgerAppends.Inc()
	ledgerAppendDuration.Observe(d.Seconds())
}

// ObserveVerifyFailure counts a detected chain break.
func ObserveVerifyFailure() {
	ledgerVerifyFailures.Inc()
}

// ObserveEventDelivery records a delivery state transition.
func ObserveEventDelivery(state string) {
	eventDeliveries.WithLabelValues(state).Inc()
}

// ObserveAutomationDispatch records one router dispatch.
func ObserveAutomationDispatch(handler, outcome string) {
	automationDispatches.WithLabelValues(handler, outcome).Inc()
}

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses resource identifiers so metric cardinality stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 3 && parts[0] == "v1" {
		switch parts[1] {
		case "entities", "roles", "assignments", "events":
			if len(parts) == 3 {
				return "/v1/" + parts[1] + "/:id"
			}
			if len(parts) == 4 {
				return "/v1/" + parts[1] + "/:id/" + parts[3]
			}
		}
	}
	return path
}

// statusWriter captures the response code for labeling.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
