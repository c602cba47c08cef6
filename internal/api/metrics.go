package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors exported on /metrics. Each
// server owns its registry so tests can build servers independently.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	logins           *prometheus.CounterVec
	denials          *prometheus.CounterVec
	rateLimited      *prometheus.CounterVec
	rateLimitErrors  prometheus.Counter
	throttled        prometheus.Counter
	recoveryRequests *prometheus.CounterVec
	commands         *prometheus.CounterVec
	commandAcks      prometheus.Counter
	auditDropped     prometheus.Counter
}

// NewMetrics creates and registers the devicehub collectors together with
// the Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devicehub",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "devicehub",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devicehub",
			Name:      "login_attempts_total",
			Help:      "Login attempts by account kind and outcome.",
		}, []string{"kind", "outcome"}),
		denials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devicehub",
			Name:      "access_denials_total",
			Help:      "Device access denials by role and action.",
		}, []string{"role", "action"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devicehub",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-role limiter.",
		}, []string{"role"}),
		rateLimitErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devicehub",
			Name:      "rate_limit_store_errors_total",
			Help:      "Counter store failures; the limiter allowed these requests.",
		}),
		throttled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devicehub",
			Name:      "auth_throttled_total",
			Help:      "Public auth requests rejected by the per-IP throttle.",
		}),
		recoveryRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devicehub",
			Name:      "recovery_requests_total",
			Help:      "Password recovery requests by internal outcome.",
		}, []string{"outcome"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devicehub",
			Name:      "device_commands_total",
			Help:      "Device commands published by command name.",
		}, []string{"command"}),
		commandAcks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devicehub",
			Name:      "device_command_acks_total",
			Help:      "Command acknowledgements received from devices.",
		}),
		auditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devicehub",
			Name:      "audit_dropped_total",
			Help:      "Audit entries dropped because the queue was full.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.logins,
		m.denials,
		m.rateLimited,
		m.rateLimitErrors,
		m.throttled,
		m.recoveryRequests,
		m.commands,
		m.commandAcks,
		m.auditDropped,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
