package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "stargate"

// Metrics holds the collectors shared by transports, the session server and
// the station. Every vector is labelled by component name.
type Metrics struct {
	FramesIn      *prometheus.CounterVec
	FramesOut     *prometheus.CounterVec
	Heartbeats    *prometheus.CounterVec
	SendsFinished *prometheus.CounterVec
	Reconnects    *prometheus.CounterVec
	Status        *prometheus.GaugeVec
	QueueDepth    *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them on reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_in_total",
			Help:      "Inbound frames or packets delivered to delegates.",
		}, []string{"component"}),
		FramesOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_out_total",
			Help:      "Outbound frames or packets written to the network.",
		}, []string{"component"}),
		Heartbeats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_total",
			Help:      "Heartbeat frames written or received.",
		}, []string{"component"}),
		SendsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_finished_total",
			Help:      "Send completions by result.",
		}, []string{"component", "result"}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Reconnect attempts.",
		}, []string{"component"}),
		Status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_status",
			Help:      "Current connection status (-1 error, 0 init, 1 connecting, 2 connected).",
		}, []string{"component"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Messages waiting in a queue.",
		}, []string{"component"}),
	}

	if reg != nil {
		reg.MustRegister(m.FramesIn, m.FramesOut, m.Heartbeats, m.SendsFinished,
			m.Reconnects, m.Status, m.QueueDepth)
	}
	return m
}

// Result returns the result label for a send completion error
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
