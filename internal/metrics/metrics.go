package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	registry *prometheus.Registry

	// Dispatch metrics
	UpdatesReceivedTotal prometheus.Counter
	UpdatesFailedTotal   prometheus.Counter
	DispatchBackoffTotal prometheus.Counter

	// Lifecycle metrics
	OnboardsTotal *prometheus.CounterVec
	RenewalsTotal *prometheus.CounterVec

	// Panel metrics
	PanelRequestDuration *prometheus.HistogramVec
	PanelErrorsTotal     *prometheus.CounterVec

	// Telegram metrics
	TelegramMessagesSentTotal prometheus.Counter
	TelegramErrorsTotal       prometheus.Counter
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		UpdatesReceivedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "updates_received_total",
				Help: "Total number of Telegram updates received",
			},
		),
		UpdatesFailedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "updates_failed_total",
				Help: "Total number of updates whose handler returned an error",
			},
		),
		DispatchBackoffTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dispatch_backoff_total",
				Help: "Total number of back-off pauses taken by the dispatch loop",
			},
		),

		OnboardsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "onboards_total",
				Help: "Total number of onboarding attempts by outcome",
			},
			[]string{"outcome"},
		),
		RenewalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "renewals_total",
				Help: "Total number of renewal attempts by outcome",
			},
			[]string{"outcome"},
		),

		PanelRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "panel_request_duration_seconds",
				Help:    "Duration of panel API requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		PanelErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "panel_errors_total",
				Help: "Total number of failed panel API requests",
			},
			[]string{"endpoint"},
		),

		TelegramMessagesSentTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "telegram_messages_sent_total",
				Help: "Total number of Telegram messages sent",
			},
		),
		TelegramErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "telegram_errors_total",
				Help: "Total number of Telegram send errors",
			},
		),
	}

	m.registerMetrics()

	return m
}

// registerMetrics registers all metrics with the registry
func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.UpdatesReceivedTotal)
	m.registry.MustRegister(m.UpdatesFailedTotal)
	m.registry.MustRegister(m.DispatchBackoffTotal)

	m.registry.MustRegister(m.OnboardsTotal)
	m.registry.MustRegister(m.RenewalsTotal)

	m.registry.MustRegister(m.PanelRequestDuration)
	m.registry.MustRegister(m.PanelErrorsTotal)

	m.registry.MustRegister(m.TelegramMessagesSentTotal)
	m.registry.MustRegister(m.TelegramErrorsTotal)
}

// ObservePanelRequest records one panel API call.
func (m *Metrics) ObservePanelRequest(endpoint string, seconds float64, failed bool) {
	m.PanelRequestDuration.WithLabelValues(endpoint).Observe(seconds)
	if failed {
		m.PanelErrorsTotal.WithLabelValues(endpoint).Inc()
	}
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
