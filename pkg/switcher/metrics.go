package switcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	operationsTotal *prometheus.CounterVec
	switchDuration  prometheus.Histogram
	busyTotal       prometheus.Counter
	heavyMode       prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)

	return &metrics{
		operationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "modelswitchd_operations_total",
			Help: "Completed control operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		switchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "modelswitchd_switch_duration_seconds",
			Help:    "Wall time of transactional handoffs.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		busyTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "modelswitchd_busy_rejections_total",
			Help: "Operations rejected because another one was in flight.",
		}),
		heavyMode: factory.NewGauge(prometheus.GaugeOpts{
			Name: "modelswitchd_heavy_mode",
			Help: "1 while the controller is in heavy mode.",
		}),
	}
}
