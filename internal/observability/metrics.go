// Package observability exposes pipeline metrics as Prometheus collectors
// and can push them to a Pushgateway after each cycle.
package observability

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/arkilian/flowgraph/internal/executor"
)

// DefaultJob is the Pushgateway job name used when none is configured.
const DefaultJob = "flowgraph"

// Metrics holds the collectors of one pipeline process.
type Metrics struct {
	reg *prometheus.Registry

	flowRuns     *prometheus.CounterVec   // flowgraph_flow_runs_total{flow,state}
	flowDuration *prometheus.HistogramVec // flowgraph_flow_duration_seconds{flow}
	transitions  *prometheus.CounterVec   // flowgraph_flow_transitions_total{state}
	active       *prometheus.GaugeVec     // flowgraph_flows_active{state}
	rowsAppended *prometheus.CounterVec   // flowgraph_rows_appended_total{table}
	unitsRead    *prometheus.CounterVec   // flowgraph_units_consumed_total{flow}
	parseErrors  *prometheus.CounterVec   // flowgraph_parse_errors_total{flow}
	watermark    *prometheus.GaugeVec     // flowgraph_table_watermark{table}
	cycles       *prometheus.CounterVec   // flowgraph_cycles_total{result}
	cycleSeconds prometheus.Histogram     // flowgraph_cycle_duration_seconds

	pushMu sync.Mutex
}

// NewMetrics creates and registers all collectors on a private registry.
func NewMetrics() (*Metrics, error) {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		flowRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowgraph_flow_runs_total",
			Help: "Flow executions by terminal state.",
		}, []string{"flow", "state"}),
		flowDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flowgraph_flow_duration_seconds",
			Help:    "Wall time of one flow execution.",
			Buckets: prometheus.DefBuckets,
		}, []string{"flow"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowgraph_flow_transitions_total",
			Help: "Flow state machine transitions by destination state.",
		}, []string{"state"}),
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "flowgraph_flows_active",
			Help: "Flows currently in a non-terminal state.",
		}, []string{"state"}),
		rowsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowgraph_rows_appended_total",
			Help: "Rows appended per table.",
		}, []string{"table"}),
		unitsRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowgraph_units_consumed_total",
			Help: "Source units consumed per Source-Flow.",
		}, []string{"flow"}),
		parseErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowgraph_parse_errors_total",
			Help: "Malformed source units skipped per Source-Flow.",
		}, []string{"flow"}),
		watermark: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "flowgraph_table_watermark",
			Help: "Row count of each table after the last cycle.",
		}, []string{"table"}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowgraph_cycles_total",
			Help: "Completed cycles by result (ok, failed, dry_run).",
		}, []string{"result"}),
		cycleSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "flowgraph_cycle_duration_seconds",
			Help:    "Wall time of one execution cycle.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	for _, c := range []prometheus.Collector{
		m.flowRuns, m.flowDuration, m.transitions, m.active, m.rowsAppended,
		m.unitsRead, m.parseErrors, m.watermark, m.cycles, m.cycleSeconds,
	} {
		if err := m.reg.Register(c); err != nil {
			return nil, fmt.Errorf("observability: register collector: %w", err)
		}
	}
	return m, nil
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Transition implements executor.Observer.
func (m *Metrics) Transition(_ string, from, to executor.State) {
	m.transitions.WithLabelValues(to.String()).Inc()
	if from != executor.StatePending && !from.Terminal() {
		m.active.WithLabelValues(from.String()).Dec()
	}
	if !to.Terminal() {
		m.active.WithLabelValues(to.String()).Inc()
	}
}

// ObserveOutcome records the result of one flow.
func (m *Metrics) ObserveOutcome(o *executor.Outcome) {
	m.flowRuns.WithLabelValues(o.Flow, o.State.String()).Inc()
	if o.State == executor.StateSkipped {
		return
	}
	m.flowDuration.WithLabelValues(o.Flow).Observe(o.Duration().Seconds())
	if o.RowsAppended > 0 {
		m.rowsAppended.WithLabelValues(o.Target).Add(float64(o.RowsAppended))
	}
	if o.UnitsConsumed > 0 {
		m.unitsRead.WithLabelValues(o.Flow).Add(float64(o.UnitsConsumed))
	}
	if n := len(o.ParseErrors); n > 0 {
		m.parseErrors.WithLabelValues(o.Flow).Add(float64(n))
	}
}

// ObserveCycle records a finished cycle and the table watermarks after it.
func (m *Metrics) ObserveCycle(result string, seconds float64, watermarks map[string]int64) {
	m.cycles.WithLabelValues(result).Inc()
	m.cycleSeconds.Observe(seconds)
	for table, wm := range watermarks {
		m.watermark.WithLabelValues(table).Set(float64(wm))
	}
}

// Push sends the current registry to a Pushgateway under job.
func (m *Metrics) Push(ctx context.Context, gatewayURL, job string) error {
	if gatewayURL == "" {
		return fmt.Errorf("observability: gateway URL is required")
	}
	if job == "" {
		job = DefaultJob
	}

	m.pushMu.Lock()
	defer m.pushMu.Unlock()

	if err := push.New(gatewayURL, job).Gatherer(m.reg).PushContext(ctx); err != nil {
		return fmt.Errorf("observability: push to %s: %w", gatewayURL, err)
	}
	return nil
}
