// Package metrics holds the Prometheus collectors of the engine. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	swaps              *prometheus.CounterVec
	swapDuration       *prometheus.HistogramVec
	transfers          *prometheus.CounterVec
	commissionPaid     prometheus.Counter
	commissionFailures prometheus.Counter
	nonceCancellations *prometheus.CounterVec
	notifyDropped      prometheus.Counter
	auditFailures      prometheus.Counter
	intents            *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		swaps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "peasy_swaps_total",
			Help: "Swap orchestrations by mode and outcome class",
		}, []string{"mode", "class"}),
		swapDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "peasy_swap_duration_seconds",
			Help:    "Wall time of swap orchestrations",
			Buckets: []float64{.1, .5, 1, 2, 5, 10, 20, 30, 45, 60},
		}, []string{"mode"}),
		transfers: f.NewCounterVec(prometheus.CounterOpts{
			Name: "peasy_transfers_total",
			Help: "Token transfers by kind and status",
		}, []string{"kind", "status"}),
		commissionPaid: f.NewCounter(prometheus.CounterOpts{
			Name: "peasy_commission_paid_native_total",
			Help: "Commission collected in native units",
		}),
		commissionFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "peasy_commission_failures_total",
			Help: "Commission transactions that failed",
		}),
		nonceCancellations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "peasy_nonce_cancellations_total",
			Help: "Replacement self-transfers sent for pending nonces",
		}, []string{"result"}),
		notifyDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "peasy_notifications_dropped_total",
			Help: "Progress notifications dropped because the sink was full",
		}),
		auditFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "peasy_audit_write_failures_total",
			Help: "Financial action record writes that failed",
		}),
		intents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "peasy_intents_total",
			Help: "Dispatched intents by action and result",
		}, []string{"action", "result"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveSwap(mode, class string, d time.Duration) {
	if m == nil {
		return
	}
	m.swaps.WithLabelValues(mode, class).Inc()
	m.swapDuration.WithLabelValues(mode).Observe(d.Seconds())
}

func (m *Metrics) ObserveTransfer(kind, status string) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) CommissionPaid(native float64) {
	if m == nil || native <= 0 {
		return
	}
	m.commissionPaid.Add(native)
}

func (m *Metrics) CommissionFailed() {
	if m == nil {
		return
	}
	m.commissionFailures.Inc()
}

func (m *Metrics) NonceCancelled(ok bool) {
	if m == nil {
		return
	}
	result := "sent"
	if !ok {
		result = "error"
	}
	m.nonceCancellations.WithLabelValues(result).Inc()
}

func (m *Metrics) NotificationDropped() {
	if m == nil {
		return
	}
	m.notifyDropped.Inc()
}

func (m *Metrics) AuditWriteFailed() {
	if m == nil {
		return
	}
	m.auditFailures.Inc()
}

func (m *Metrics) ObserveIntent(action, result string) {
	if m == nil {
		return
	}
	m.intents.WithLabelValues(action, result).Inc()
}
