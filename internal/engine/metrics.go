package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: полное время governance-пайплайна (enrich + drift + rules)
	RequestDuration *prometheus.HistogramVec

	// Traffic: вердикты по типам
	DecisionTotal *prometheus.CounterVec

	// Errors: классификация отказов
	ErrorTotal *prometheus.CounterVec

	// Saturation: состояние Circuit Breaker downstream-вызова (0 - ок, 1 - выбило)
	CircuitBreakerState *prometheus.GaugeVec

	// Audit: заполненность буфера (backpressure)
	AuditBufferFill prometheus.Gauge

	// Безопасность: запросы, прошедшие под аварийным байпасом
	BypassedTotal prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern — без регистратора метрики живут в локальном реестре
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		RequestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "guardian_request_duration_seconds",
			Help:    "Histogram of governance pipeline latencies.",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5},
		}, []string{"agent_id", "decision"}),

		DecisionTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_decisions_total",
			Help: "Total number of governance decisions by type.",
		}, []string{"agent_id", "decision"}),

		ErrorTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_errors_total",
			Help: "Total number of errors by type.",
		}, []string{"type"}), // типы: validation, blocked, rate_limit, timeout

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "guardian_circuit_breaker_state",
			Help: "Current state of the downstream circuit breaker (0=closed, 1=open).",
		}, []string{"executor"}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "guardian_audit_buffer_utilization",
			Help: "Current fill ratio of the audit buffer (0..1).",
		}),

		BypassedTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "guardian_bypassed_decisions_total",
			Help: "Total number of decisions overridden by the emergency kill-switch.",
		}),
	}
}
