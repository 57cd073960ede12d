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

const namespace = "disbursement_engine"

// Metrics stores Prometheus collectors used by API and worker flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDuration    *prometheus.HistogramVec
	stepsDispatchedTotal   *prometheus.CounterVec
	stepDispatchFailures   *prometheus.CounterVec
	providerCallDuration   *prometheus.HistogramVec
	responsesReconciled    *prometheus.CounterVec
	batchCompletionsTotal  *prometheus.CounterVec
	duplicatesSkippedTotal *prometheus.CounterVec
	deliveryRetriesTotal   *prometheus.CounterVec
	deadLettersTotal       *prometheus.CounterVec
	recurrenceCyclesTotal  *prometheus.CounterVec
	deliveriesInflight     *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		stepsDispatchedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_dispatched_total",
				Help:      "Total number of steps accepted by a settlement provider.",
			},
			[]string{"channel"},
		),
		stepDispatchFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "step_dispatch_failures_total",
				Help:      "Total number of failed step dispatch attempts by channel and error code.",
			},
			[]string{"channel", "code"},
		),
		providerCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_call_duration_seconds",
				Help:      "Settlement provider call duration in seconds grouped by channel.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"channel"},
		),
		responsesReconciled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "responses_reconciled_total",
				Help:      "Total number of provider responses applied to steps by channel and status.",
			},
			[]string{"channel", "status"},
		),
		batchCompletionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batch_completions_total",
				Help:      "Total number of batches that reached a terminal status.",
			},
			[]string{"status"},
		),
		duplicatesSkippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "duplicates_skipped_total",
				Help:      "Total number of events skipped by the idempotency ledger.",
			},
			[]string{"consumer_group"},
		),
		deliveryRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "delivery_retries_total",
				Help:      "Total number of in-process handler retries by topic.",
			},
			[]string{"topic"},
		),
		deadLettersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dead_letters_total",
				Help:      "Total number of messages routed to the dead-letter topic.",
			},
			[]string{"topic"},
		),
		recurrenceCyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recurrence_cycles_total",
				Help:      "Total number of recurrence cycles fired by recurrency.",
			},
			[]string{"recurrency"},
		),
		deliveriesInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "deliveries_inflight",
				Help:      "Current number of broker deliveries being handled grouped by topic.",
			},
			[]string{"topic"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.stepsDispatchedTotal,
		m.stepDispatchFailures,
		m.providerCallDuration,
		m.responsesReconciled,
		m.batchCompletionsTotal,
		m.duplicatesSkippedTotal,
		m.deliveryRetriesTotal,
		m.deadLettersTotal,
		m.recurrenceCyclesTotal,
		m.deliveriesInflight,
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
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncStepDispatched(channel string) {
	if m == nil {
		return
	}
	m.stepsDispatchedTotal.WithLabelValues(normalizeLabel(channel)).Inc()
}

func (m *Metrics) IncStepDispatchFailed(channel string, code string) {
	if m == nil {
		return
	}
	m.stepDispatchFailures.WithLabelValues(normalizeLabel(channel), normalizeLabel(code)).Inc()
}

func (m *Metrics) ObserveProviderCallDuration(channel string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.providerCallDuration.WithLabelValues(normalizeLabel(channel)).Observe(seconds)
}

func (m *Metrics) IncResponseReconciled(channel string, status string) {
	if m == nil {
		return
	}
	m.responsesReconciled.WithLabelValues(normalizeLabel(channel), normalizeLabel(status)).Inc()
}

func (m *Metrics) IncBatchCompleted(status string) {
	if m == nil {
		return
	}
	m.batchCompletionsTotal.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *Metrics) IncDuplicateSkipped(consumerGroup string) {
	if m == nil {
		return
	}
	m.duplicatesSkippedTotal.WithLabelValues(normalizeLabel(consumerGroup)).Inc()
}

func (m *Metrics) IncDeliveryRetry(topic string) {
	if m == nil {
		return
	}
	m.deliveryRetriesTotal.WithLabelValues(normalizeLabel(topic)).Inc()
}

func (m *Metrics) IncDeadLetter(topic string) {
	if m == nil {
		return
	}
	m.deadLettersTotal.WithLabelValues(normalizeLabel(topic)).Inc()
}

func (m *Metrics) IncRecurrenceCycle(recurrency string) {
	if m == nil {
		return
	}
	m.recurrenceCyclesTotal.WithLabelValues(normalizeLabel(recurrency)).Inc()
}

func (m *Metrics) IncDeliveryInFlight(topic string) {
	if m == nil {
		return
	}
	m.deliveriesInflight.WithLabelValues(normalizeLabel(topic)).Inc()
}

func (m *Metrics) DecDeliveryInFlight(topic string) {
	if m == nil {
		return
	}
	m.deliveriesInflight.WithLabelValues(normalizeLabel(topic)).Dec()
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
