// Package metrics provides Prometheus metrics collection for the application.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome/status label values for metrics.
const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

// Metrics holds all Prometheus metrics for the application.
// All Record helpers are safe to call on a nil *Metrics.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestsInFlight prometheus.Gauge
	HTTPRequestDuration  *prometheus.HistogramVec

	// Conversation metrics
	InboundMessagesTotal  *prometheus.CounterVec
	OutboundMessagesTotal *prometheus.CounterVec
	DuplicateWebhooks     prometheus.Counter
	EscalationsTotal      *prometheus.CounterVec
	FAQLookupsTotal       *prometheus.CounterVec
	NegotiationsTotal     *prometheus.CounterVec
	RecontactsTotal       *prometheus.CounterVec
	ActiveConversations   prometheus.Gauge

	// External service metrics
	LLMCallsTotal       *prometheus.CounterVec
	LLMCallDuration     *prometheus.HistogramVec
	CircuitBreakerState *prometheus.GaugeVec
	CircuitBreakerTrips *prometheus.CounterVec

	// Persistence metrics
	BlobOperationDuration *prometheus.HistogramVec
	BlobOperationErrors   *prometheus.CounterVec

	registry prometheus.Gatherer
}

// NewMetrics creates a new Metrics instance with all collectors registered.
func NewMetrics() *Metrics {
	m := newMetricsWithRegistry(prometheus.DefaultRegisterer)
	m.registry = prometheus.DefaultGatherer
	return m
}

// NewMetricsWithRegistry creates metrics using a custom registry (for testing).
func NewMetricsWithRegistry(reg *prometheus.Registry) *Metrics {
	m := newMetricsWithRegistry(reg)
	m.registry = reg
	return m
}

func newMetricsWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadconcierge_http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status code",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "leadconcierge_http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "leadconcierge_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "path"},
		),

		InboundMessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadconcierge_inbound_messages_total",
				Help: "Inbound WhatsApp messages by sender role and processing status",
			},
			[]string{"role", "status"}, // role: "client", "manager"
		),
		OutboundMessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadconcierge_outbound_messages_total",
				Help: "Outbound WhatsApp messages by delivery status",
			},
			[]string{"status"},
		),
		DuplicateWebhooks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "leadconcierge_duplicate_webhooks_total",
				Help: "Webhook retries dropped because the message was already processed",
			},
		),
		EscalationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadconcierge_escalations_total",
				Help: "Manager escalation lifecycle events",
			},
			[]string{"event"}, // "raised", "renotified", "answered", "rejected"
		),
		FAQLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadconcierge_faq_lookups_total",
				Help: "FAQ lookups by result",
			},
			[]string{"result"}, // "hit", "miss"
		),
		NegotiationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadconcierge_negotiations_total",
				Help: "Price offers evaluated by outcome",
			},
			[]string{"outcome"}, // "accept", "counter", "reject"
		),
		RecontactsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadconcierge_recontacts_total",
				Help: "Recontact actions taken on silent leads",
			},
			[]string{"kind"}, // "reminder", "follow_up", "disinterested"
		),
		ActiveConversations: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "leadconcierge_conversations",
				Help: "Number of conversations held in memory",
			},
		),

		LLMCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadconcierge_llm_calls_total",
				Help: "LLM and transcription calls by provider and status",
			},
			[]string{"provider", "status"}, // status: "success", "failure", "circuit_open"
		),
		LLMCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "leadconcierge_llm_call_duration_seconds",
				Help:    "Duration of LLM calls",
				Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 45},
			},
			[]string{"provider"},
		),
		CircuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "leadconcierge_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"service"},
		),
		CircuitBreakerTrips: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadconcierge_circuit_breaker_trips_total",
				Help: "Total number of times a circuit breaker has tripped",
			},
			[]string{"service"},
		),

		BlobOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "leadconcierge_blob_operation_duration_seconds",
				Help:    "Duration of blob store operations",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation"}, // "get", "put", "append", "list", "delete"
		),
		BlobOperationErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadconcierge_blob_operation_errors_total",
				Help: "Total number of blob store errors",
			},
			[]string{"operation"},
		),
	}
}

// Handler returns the Prometheus HTTP handler for scraping metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware returns an HTTP middleware that records request metrics.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		path := normalizePath(r.URL.Path)
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.statusCode = http.StatusOK
		rw.written = true
	}
	return rw.ResponseWriter.Write(b)
}

// normalizePath normalizes URL paths to prevent high cardinality labels.
func normalizePath(path string) string {
	switch path {
	case "/", "/whatsapp", "/test", "/reset_state", "/schedule_recontact", "/health", "/metrics", "/admin/log-level":
		return path
	}
	if strings.HasPrefix(path, "/admin/messages/") {
		return "/admin/messages/:sid"
	}
	return "other"
}

// RecordInbound records a processed inbound message.
func (m *Metrics) RecordInbound(role, status string) {
	if m == nil {
		return
	}
	m.InboundMessagesTotal.WithLabelValues(role, status).Inc()
}

// RecordOutbound records an outbound send attempt.
func (m *Metrics) RecordOutbound(err error) {
	if m == nil {
		return
	}
	status := outcomeSuccess
	if err != nil {
		status = outcomeFailure
	}
	m.OutboundMessagesTotal.WithLabelValues(status).Inc()
}

// RecordDuplicate records a dropped webhook retry.
func (m *Metrics) RecordDuplicate() {
	if m == nil {
		return
	}
	m.DuplicateWebhooks.Inc()
}

// RecordEscalation records an escalation lifecycle event.
func (m *Metrics) RecordEscalation(event string) {
	if m == nil {
		return
	}
	m.EscalationsTotal.WithLabelValues(event).Inc()
}

// RecordFAQLookup records an FAQ hit or miss.
func (m *Metrics) RecordFAQLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.FAQLookupsTotal.WithLabelValues(result).Inc()
}

// RecordNegotiation records the outcome of an evaluated offer.
func (m *Metrics) RecordNegotiation(outcome string) {
	if m == nil {
		return
	}
	m.NegotiationsTotal.WithLabelValues(outcome).Inc()
}

// RecordRecontact records a recontact action.
func (m *Metrics) RecordRecontact(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.RecontactsTotal.WithLabelValues(kind).Add(float64(n))
}

// SetConversations sets the number of in-memory conversations.
func (m *Metrics) SetConversations(n int) {
	if m == nil {
		return
	}
	m.ActiveConversations.Set(float64(n))
}

// RecordLLMCall records an LLM or transcription call.
func (m *Metrics) RecordLLMCall(provider string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	status := outcomeFailure
	if success {
		status = outcomeSuccess
	}
	m.LLMCallsTotal.WithLabelValues(provider, status).Inc()
	m.LLMCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordCircuitOpen records a call rejected by an open breaker.
func (m *Metrics) RecordCircuitOpen(provider string) {
	if m == nil {
		return
	}
	m.LLMCallsTotal.WithLabelValues(provider, "circuit_open").Inc()
}

// SetCircuitBreakerState sets the circuit breaker state for a service.
// State: 0=closed, 1=half-open, 2=open
func (m *Metrics) SetCircuitBreakerState(service string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(service).Set(float64(state))
	if state == 2 {
		m.CircuitBreakerTrips.WithLabelValues(service).Inc()
	}
}

// RecordBlobOperation records a blob store operation.
func (m *Metrics) RecordBlobOperation(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.BlobOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.BlobOperationErrors.WithLabelValues(operation).Inc()
	}
}
