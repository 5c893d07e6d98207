// Package prometheus implements the MetricsCollector port with promauto
// collectors, exposed by the HTTP server at /metrics.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements MetricsCollector using Prometheus.
type Collector struct {
	runsSubmitted  *prometheus.CounterVec
	runsCompleted  *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	agentsExecuted *prometheus.CounterVec
	agentDuration  *prometheus.HistogramVec
	agentRetries   *prometheus.CounterVec
	agentsInFlight prometheus.Gauge
	phaseDuration  *prometheus.HistogramVec
	storeWrites    *prometheus.CounterVec
	storeDuration  *prometheus.HistogramVec
	deadLetters    *prometheus.CounterVec
}

// NewCollector creates and registers all urbanflow collectors.
func NewCollector() *Collector {
	return &Collector{
		runsSubmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "urbanflow_runs_submitted_total",
				Help: "Total number of pipeline runs submitted",
			},
			[]string{"status"},
		),
		runsCompleted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "urbanflow_runs_completed_total",
				Help: "Total number of pipeline runs finished, by terminal status",
			},
			[]string{"status"},
		),
		runDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "urbanflow_run_duration_seconds",
				Help:    "End-to-end run duration in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"status"},
		),
		agentsExecuted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "urbanflow_agents_executed_total",
				Help: "Total number of agent executions, by terminal status",
			},
			[]string{"agent", "status"},
		),
		agentDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "urbanflow_agent_duration_seconds",
				Help:    "Agent execution duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"agent"},
		),
		agentRetries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "urbanflow_agent_retries_total",
				Help: "Total number of agent retry attempts",
			},
			[]string{"agent"},
		),
		agentsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "urbanflow_agents_in_flight",
				Help: "Number of agent executions currently in flight",
			},
		),
		phaseDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "urbanflow_phase_duration_seconds",
				Help:    "Phase duration in seconds",
				Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"phase"},
		),
		storeWrites: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "urbanflow_store_writes_total",
				Help: "Total number of store write attempts, by outcome",
			},
			[]string{"store", "status"},
		),
		storeDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "urbanflow_store_write_duration_seconds",
				Help:    "Store write duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"store"},
		),
		deadLetters: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "urbanflow_dead_letters_total",
				Help: "Total number of dead-lettered items, by kind",
			},
			[]string{"kind"},
		),
	}
}

// RecordRunSubmitted implements MetricsCollector.
func (c *Collector) RecordRunSubmitted(status string) {
	c.runsSubmitted.WithLabelValues(status).Inc()
}

// RecordRunCompleted implements MetricsCollector.
func (c *Collector) RecordRunCompleted(status string, duration time.Duration) {
	c.runsCompleted.WithLabelValues(status).Inc()
	c.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordAgentExecution implements MetricsCollector.
func (c *Collector) RecordAgentExecution(agent, status string, duration time.Duration) {
	c.agentsExecuted.WithLabelValues(agent, status).Inc()
	c.agentDuration.WithLabelValues(agent).Observe(duration.Seconds())
}

// RecordRetry implements MetricsCollector.
func (c *Collector) RecordRetry(agent string) {
	c.agentRetries.WithLabelValues(agent).Inc()
}

// RecordPhaseDuration implements MetricsCollector.
func (c *Collector) RecordPhaseDuration(phase string, duration time.Duration) {
	c.phaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// RecordStoreWrite implements MetricsCollector.
func (c *Collector) RecordStoreWrite(store, status string, duration time.Duration) {
	c.storeWrites.WithLabelValues(store, status).Inc()
	c.storeDuration.WithLabelValues(store).Observe(duration.Seconds())
}

// RecordDeadLetter implements MetricsCollector.
func (c *Collector) RecordDeadLetter(kind string) {
	c.deadLetters.WithLabelValues(kind).Inc()
}

// SetAgentsInFlight implements MetricsCollector.
func (c *Collector) SetAgentsInFlight(n int) {
	c.agentsInFlight.Set(float64(n))
}
