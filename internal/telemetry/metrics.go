package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: длительность одного тика (сэмплинг + push + fan-out)
	TickDuration prometheus.Histogram

	// Errors: пропущенные интервалы (тик не успел за период)
	TicksDropped prometheus.Counter

	// Errors: паники/ошибки в колбэках подписчиков (изолированы, тик живет)
	SubscriberExceptions prometheus.Counter

	// Saturation: заполненность кольцевого буфера (backpressure)
	BufferUtilization prometheus.Gauge

	// Traffic: события прореживания буфера
	DecimationEvents prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern — без регистратора метрики живут в локальном реестре
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		TickDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "guardian_tick_duration_seconds",
			Help:    "Histogram of consciousness tick durations.",
			Buckets: []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05, .1},
		}),

		TicksDropped: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "guardian_ticks_dropped_total",
			Help: "Total number of skipped tick intervals.",
		}),

		SubscriberExceptions: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "guardian_subscriber_exceptions_total",
			Help: "Total number of recovered subscriber callback panics.",
		}),

		BufferUtilization: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "guardian_frame_buffer_utilization",
			Help: "Current utilization of the frame ring buffer (0..1).",
		}),

		DecimationEvents: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "guardian_frame_buffer_decimations_total",
			Help: "Total number of ring buffer decimation passes.",
		}),
	}
}
