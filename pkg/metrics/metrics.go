// Package metrics exposes transmit-path counters as Prometheus
// collectors. A Collector is safe to pass around as nil: every method
// is a no-op against a nil receiver, so instrumentation costs only a
// nil check on the hot path when the caller hasn't wired a registry.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector tracks frames, completions, and backpressure events across
// every Instance sharing it.
type Collector struct {
	framesSent      prometheus.Counter
	transfersDone   *prometheus.CounterVec
	busyRearms      prometheus.Counter
	queueDepth      prometheus.Gauge
}

// NewCollector builds a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		framesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cyphalcan",
			Subsystem: "tx",
			Name:      "frames_sent_total",
			Help:      "CAN frames handed to the controller.",
		}),
		transfersDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cyphalcan",
			Subsystem: "tx",
			Name:      "transfers_total",
			Help:      "Completed transfers by terminal status.",
		}, []string{"status"}),
		busyRearms: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cyphalcan",
			Subsystem: "tx",
			Name:      "busy_rearms_total",
			Help:      "Scheduler re-arms caused by controller backpressure.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cyphalcan",
			Subsystem: "tx",
			Name:      "queue_depth",
			Help:      "Transfers currently queued or in flight.",
		}),
	}
	reg.MustRegister(c.framesSent, c.transfersDone, c.busyRearms, c.queueDepth)
	return c
}

// NoOp returns a Collector whose methods do nothing and that needs no
// registry, for instances that don't want metrics wired up.
func NoOp() *Collector { return nil }

func (c *Collector) FrameSent() {
	if c == nil {
		return
	}
	c.framesSent.Inc()
}

func (c *Collector) TransferCompleted(status string) {
	if c == nil {
		return
	}
	c.transfersDone.WithLabelValues(status).Inc()
}

func (c *Collector) BusyRearm() {
	if c == nil {
		return
	}
	c.busyRearms.Inc()
}

func (c *Collector) SetQueueDepth(n int) {
	if c == nil {
		return
	}
	c.queueDepth.Set(float64(n))
}
