// Package metrics exposes Prometheus instrumentation for the execution core.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type coreMetrics struct {
	stepsTotal   *prometheus.CounterVec
	stepDuration prometheus.Histogram

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec

	runsTotal   *prometheus.CounterVec
	runDuration prometheus.Histogram
	tokensTotal *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *coreMetrics
)

func getMetrics() *coreMetrics {
	metricsOnce.Do(func() {
		m := &coreMetrics{
			stepsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_steps_total",
					Help: "Total agent steps by outcome.",
				},
				[]string{"status"},
			),
			stepDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "agent_step_duration_seconds",
					Help:    "Step execution duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_executions_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			runsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_runs_total",
					Help: "Total agent runs by terminal state.",
				},
				[]string{"state"},
			),
			runDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "agent_run_duration_seconds",
					Help:    "Run duration in seconds.",
					Buckets: []float64{.1, .5, 1, 5, 15, 60, 300, 900},
				},
			),
			tokensTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_tokens_total",
					Help: "Total tokens consumed by direction.",
				},
				[]string{"direction"},
			),
		}

		prometheus.DefaultRegisterer.MustRegister(
			m.stepsTotal,
			m.stepDuration,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.runsTotal,
			m.runDuration,
			m.tokensTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered forces metric registration. Safe to call repeatedly.
func EnsureRegistered() {
	getMetrics()
}

// RecordStep counts one completed step by outcome.
func RecordStep(status string, duration time.Duration) {
	m := getMetrics()
	m.stepsTotal.WithLabelValues(status).Inc()
	m.stepDuration.Observe(duration.Seconds())
}

// RecordToolExecution counts one tool execution.
func RecordToolExecution(tool string, success bool, duration time.Duration) {
	m := getMetrics()
	status := "success"
	if !success {
		status = "error"
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordRun counts one terminal run.
func RecordRun(state string, duration time.Duration) {
	m := getMetrics()
	m.runsTotal.WithLabelValues(state).Inc()
	m.runDuration.Observe(duration.Seconds())
}

// AddTokens accumulates token usage.
func AddTokens(input, output int) {
	m := getMetrics()
	m.tokensTotal.WithLabelValues("input").Add(float64(input))
	m.tokensTotal.WithLabelValues("output").Add(float64(output))
}
