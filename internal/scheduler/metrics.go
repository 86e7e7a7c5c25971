package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks scheduler throughput and occupancy. A nil *Metrics is a
// valid no-op receiver so wiring stays optional in tests.
type Metrics struct {
	submitted  prometheus.Counter
	rejected   prometheus.Counter
	terminal   *prometheus.CounterVec
	queueDepth prometheus.Gauge
	running    prometheus.Gauge
}

// NewMetrics registers the scheduler collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_tasks_submitted_total",
			Help: "Tasks accepted into the queue.",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_tasks_rejected_total",
			Help: "Submissions rejected because the queue was full.",
		}),
		terminal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_tasks_terminal_total",
			Help: "Tasks reaching a terminal status.",
		}, []string{"status"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "warden_queue_depth",
			Help: "Tasks currently waiting for a worker slot.",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "warden_tasks_running",
			Help: "Tasks currently holding a worker slot.",
		}),
	}
	reg.MustRegister(m.submitted, m.rejected, m.terminal, m.queueDepth, m.running)
	return m
}

func (m *Metrics) taskSubmitted() {
	if m == nil {
		return
	}
	m.submitted.Inc()
	m.queueDepth.Inc()
}

func (m *Metrics) taskRejected() {
	if m == nil {
		return
	}
	m.rejected.Inc()
}

func (m *Metrics) taskDequeued() {
	if m == nil {
		return
	}
	m.queueDepth.Dec()
}

func (m *Metrics) taskStarted() {
	if m == nil {
		return
	}
	m.running.Inc()
}

func (m *Metrics) taskFinished(status Status) {
	if m == nil {
		return
	}
	m.running.Dec()
	m.terminal.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) taskTerminal(status Status) {
	if m == nil {
		return
	}
	m.terminal.WithLabelValues(string(status)).Inc()
}
