package savecell

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for saved-state cells.
type Metrics struct {
	LoadsTotal    *prometheus.CounterVec
	FlushesTotal  *prometheus.CounterVec
	FlushDuration *prometheus.HistogramVec
	FlushBytes    *prometheus.HistogramVec
}

// NewMetrics registers and returns cell metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LoadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "downtime_state_loads_total",
			Help: "Saved-state loads at startup by result.",
		}, []string{"key", "result"}),
		FlushesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "downtime_state_flushes_total",
			Help: "Saved-state snapshot writes by status.",
		}, []string{"key", "status"}),
		FlushDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "downtime_state_flush_duration_seconds",
			Help:    "Duration of saved-state snapshot writes.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms .. ~2s
		}, []string{"key"}),
		FlushBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "downtime_state_flush_bytes",
			Help:    "Size of saved-state snapshots in bytes.",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8), // 64B .. ~1MB
		}, []string{"key"}),
	}

	reg.MustRegister(
		m.LoadsTotal,
		m.FlushesTotal,
		m.FlushDuration,
		m.FlushBytes,
	)

	return m
}

// Hooks returns cell Hooks that update the metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnLoad: func(key string, err error) {
			result := "ok"
			switch {
			case errors.Is(err, ErrNotFound):
				result = "missing"
			case err != nil:
				result = "error"
			}
			m.LoadsTotal.WithLabelValues(key, result).Inc()
		},
		OnFlush: func(key string, bytes int, duration time.Duration, err error) {
			if err != nil {
				m.FlushesTotal.WithLabelValues(key, "error").Inc()
				return
			}
			m.FlushesTotal.WithLabelValues(key, "success").Inc()
			m.FlushDuration.WithLabelValues(key).Observe(duration.Seconds())
			m.FlushBytes.WithLabelValues(key).Observe(float64(bytes))
		},
	}
}
