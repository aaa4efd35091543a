package agent

import "github.com/prometheus/client_golang/prometheus"

// metricsSet is the small set of gauges both agent roles keep in their own
// prometheus.Registry. Nothing in this module serves that registry over
// HTTP: cmd/uno exposes no `/metrics` endpoint.
type metricsSet struct {
	Registry *prometheus.Registry

	OnlineCells   prometheus.Gauge
	ReachableNets prometheus.Gauge
	RekeyTotal    prometheus.Counter
}

func newMetricsSet() *metricsSet {
	reg := prometheus.NewRegistry()
	m := &metricsSet{
		Registry: reg,
		OnlineCells: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "uno",
			Name:      "online_cells",
			Help:      "Number of cells currently observed online by this agent.",
		}),
		ReachableNets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "uno",
			Name:      "reachable_networks",
			Help:      "Number of remote routed networks currently reachable.",
		}),
		RekeyTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "uno",
			Name:      "rekeys_total",
			Help:      "Number of rekey operations completed by this registry.",
		}),
	}
	reg.MustRegister(m.OnlineCells, m.ReachableNets, m.RekeyTotal)
	return m
}
