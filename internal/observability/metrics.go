package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors for the webhook API and dispatch flow.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	jobsCreatedTotal    prometheus.Counter
	jobsCompletedTotal  *prometheus.CounterVec
	repliesTotal        *prometheus.CounterVec
	smsSentTotal        *prometheus.CounterVec
	smsFailedTotal      *prometheus.CounterVec
	smsSendDuration     prometheus.Histogram
	activeJobs          prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sms_relay",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sms_relay",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		jobsCreatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "sms_relay",
				Name:      "jobs_created_total",
				Help:      "Total number of jobs accepted at the intake webhook.",
			},
		),
		jobsCompletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sms_relay",
				Name:      "jobs_completed_total",
				Help:      "Total number of jobs that reached a terminal dispatch status.",
			},
			[]string{"status"},
		),
		repliesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sms_relay",
				Name:      "provider_replies_total",
				Help:      "Total number of inbound provider SMS replies by outcome.",
			},
			[]string{"outcome"},
		),
		smsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sms_relay",
				Name:      "sms_sent_total",
				Help:      "Total number of outbound SMS delivered to the gateway by purpose.",
			},
			[]string{"purpose"},
		),
		smsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sms_relay",
				Name:      "sms_failed_total",
				Help:      "Total number of outbound SMS the gateway rejected by purpose.",
			},
			[]string{"purpose"},
		),
		smsSendDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "sms_relay",
				Name:      "sms_send_duration_seconds",
				Help:      "Gateway send duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		activeJobs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "sms_relay",
				Name:      "active_jobs",
				Help:      "Current number of jobs awaiting a provider reply.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.jobsCreatedTotal,
		m.jobsCompletedTotal,
		m.repliesTotal,
		m.smsSentTotal,
		m.smsFailedTotal,
		m.smsSendDuration,
		m.activeJobs,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncJobCreated() {
	if m == nil {
		return
	}
	m.jobsCreatedTotal.Inc()
}

func (m *Metrics) IncJobCompleted(status string) {
	if m == nil {
		return
	}
	m.jobsCompletedTotal.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *Metrics) IncReply(outcome string) {
	if m == nil {
		return
	}
	m.repliesTotal.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) IncSMSSent(purpose string) {
	if m == nil {
		return
	}
	m.smsSentTotal.WithLabelValues(normalizeLabel(purpose)).Inc()
}

func (m *Metrics) IncSMSFailed(purpose string) {
	if m == nil {
		return
	}
	m.smsFailedTotal.WithLabelValues(normalizeLabel(purpose)).Inc()
}

func (m *Metrics) ObserveSMSSendDuration(duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.smsSendDuration.Observe(seconds)
}

func (m *Metrics) SetActiveJobs(n int) {
	if m == nil {
		return
	}
	m.activeJobs.Set(float64(n))
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
