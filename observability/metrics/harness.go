package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type HarnessMetrics struct {
	steps      *prometheus.CounterVec
	violations *prometheus.CounterVec
	drawsUsed  prometheus.Gauge
}

var (
	harnessOnce     sync.Once
	harnessRegistry *HarnessMetrics
)

// Harness returns the process-wide simulation metrics, registering them on
// first use.
func Harness() *HarnessMetrics {
	harnessOnce.Do(func() {
		harnessRegistry = &HarnessMetrics{
			steps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "sim_steps_total",
				Help: "Count of simulation steps by action and result.",
			}, []string{"action", "result"}),
			violations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "sim_invariant_violations_total",
				Help: "Count of invariant violations by action.",
			}, []string{"action"}),
			drawsUsed: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "sim_random_draws",
				Help: "Random values consumed by the current run.",
			}),
		}
		prometheus.MustRegister(
			harnessRegistry.steps,
			harnessRegistry.violations,
			harnessRegistry.drawsUsed,
		)
	})
	return harnessRegistry
}

func (m *HarnessMetrics) ObserveStep(action, result string) {
	if m == nil {
		return
	}
	if action == "" {
		action = "unknown"
	}
	m.steps.WithLabelValues(action, result).Inc()
	if result == "failed" {
		m.violations.WithLabelValues(action).Inc()
	}
}

func (m *HarnessMetrics) SetDraws(draws uint64) {
	if m == nil {
		return
	}
	m.drawsUsed.Set(float64(draws))
}
