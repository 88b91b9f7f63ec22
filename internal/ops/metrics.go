package ops

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the node's Prometheus instruments. Construct once per
// process; registration panics on duplicates.
type Metrics struct {
	statements  *prometheus.CounterVec
	readRepairs prometheus.Counter
	livePeers   prometheus.Gauge
	deadPeers   prometheus.Gauge
	hintsQueued prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		statements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tessera_statements_total",
				Help: "Statements coordinated, by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		readRepairs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tessera_read_repairs_total",
			Help: "Read repairs triggered after divergent SELECT responses",
		}),
		livePeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tessera_peers_live",
			Help: "Gossip entries currently marked Live",
		}),
		deadPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tessera_peers_dead",
			Help: "Gossip entries currently marked Dead",
		}),
		hintsQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tessera_hints_queued",
			Help: "Writes buffered for unreachable peers",
		}),
	}
	reg.MustRegister(m.statements, m.readRepairs, m.livePeers, m.deadPeers, m.hintsQueued)
	return m
}

func (m *Metrics) StatementObserved(kind, outcome string) {
	if m == nil {
		return
	}
	m.statements.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ReadRepairTriggered() {
	if m == nil {
		return
	}
	m.readRepairs.Inc()
}

func (m *Metrics) SetPeerCounts(live, dead int) {
	if m == nil {
		return
	}
	m.livePeers.Set(float64(live))
	m.deadPeers.Set(float64(dead))
}

func (m *Metrics) SetHintsQueued(n int) {
	if m == nil {
		return
	}
	m.hintsQueued.Set(float64(n))
}
