// Package metrics exports the metrics of supervised calls to Prometheus.
package metrics

import (
	"github.com/aureliano/prazo/core"
	"github.com/aureliano/prazo/timeout"
	"github.com/prometheus/client_golang/prometheus"
)

// Collector is a core.Observer feeding Prometheus metrics.
type Collector struct {
	calls     *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	fallbacks *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prazo_calls_total",
				Help: "Supervised calls by function, strategy and result",
			},
			[]string{"function", "strategy", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "prazo_call_duration_seconds",
				Help:    "Wall time of supervised calls, including worker start-up",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"function", "strategy"},
		),
		fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prazo_strategy_fallbacks_total",
				Help: "Calls asking for signals that ran in a worker process",
			},
			[]string{"function"},
		),
	}

	for _, col := range []prometheus.Collector{c.calls, c.duration, c.fallbacks} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Observe records mr when it is a timeout.Metric and ignores anything else.
func (c *Collector) Observe(mr core.MetricRecorder) {
	m, ok := mr.(timeout.Metric)
	if !ok {
		return
	}

	strategy := string(m.Strategy)
	if strategy == "" {
		strategy = "none"
	}

	c.calls.WithLabelValues(m.ID, strategy, result(m)).Inc()
	c.duration.WithLabelValues(m.ID, strategy).Observe(m.PolicyDuration().Seconds())
	if m.Fallback {
		c.fallbacks.WithLabelValues(m.ID).Inc()
	}
}

func result(m timeout.Metric) string {
	switch m.Status {
	case timeout.StatusSucceeded:
		return "success"
	case timeout.StatusTimedOut:
		return "timeout"
	default:
		return "error"
	}
}
