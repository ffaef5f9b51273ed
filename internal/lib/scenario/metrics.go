package scenario

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	promTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "stakeshadow",
		Name:      "tasks_total",
	}, []string{"task"})
	promRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "stakeshadow",
		Name:      "tasks_rejected_total",
	}, []string{"task"})
	promFailures = promauto.NewCounter(prometheus.CounterOpts{
		Subsystem: "stakeshadow",
		Name:      "failures_total",
	})
	promRound = promauto.NewGauge(prometheus.GaugeOpts{
		Subsystem: "stakeshadow",
		Name:      "round",
	})
	promValidators = promauto.NewGauge(prometheus.GaugeOpts{
		Subsystem: "stakeshadow",
		Name:      "validator_count",
	})
	promSurplus = promauto.NewGauge(prometheus.GaugeOpts{
		Subsystem: "stakeshadow",
		Name:      "surplus",
	})
	promChecks = promauto.NewCounter(prometheus.CounterOpts{
		Subsystem: "stakeshadow",
		Name:      "checks_total",
	})
)
