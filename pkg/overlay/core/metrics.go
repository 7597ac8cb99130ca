package core

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the Prometheus collectors every node exposes over its
// debug HTTP mux (SPEC_FULL.md §C). Grounded on
// pobradovic08-route-beacon-ri/internal/metrics/metrics.go's shape of one
// struct of pre-registered collectors handed to every component that
// needs to bump one.
type Metrics struct {
	QueriesHandled      prometheus.Counter
	RegistersHandled    prometheus.Counter
	DeregistersHandled  prometheus.Counter
	InvalidatesHandled  prometheus.Counter
	DownloadsStarted    prometheus.Counter
	DownloadsFailed     prometheus.Counter
	StatusProbesSent    prometheus.Counter
	HistorySize         prometheus.GaugeFunc
}

// NewMetrics registers every collector against reg and returns the bundle.
// Pass a fresh prometheus.NewRegistry() in tests to avoid collisions with
// the global default registry across parallel test nodes.
func NewMetrics(reg prometheus.Registerer, node string, historySize func() float64) *Metrics {
	labels := prometheus.Labels{"node": node}
	m := &Metrics{
		QueriesHandled: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "filemesh_queries_handled_total",
			Help:        "Queries processed by this super-peer's router.",
			ConstLabels: labels,
		}),
		RegistersHandled: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "filemesh_registers_handled_total",
			Help:        "Register requests processed.",
			ConstLabels: labels,
		}),
		DeregistersHandled: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "filemesh_deregisters_handled_total",
			Help:        "Deregister requests processed.",
			ConstLabels: labels,
		}),
		InvalidatesHandled: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "filemesh_invalidates_handled_total",
			Help:        "Invalidate messages processed.",
			ConstLabels: labels,
		}),
		DownloadsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "filemesh_downloads_started_total",
			Help:        "Downloads initiated by this leaf.",
			ConstLabels: labels,
		}),
		DownloadsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "filemesh_downloads_failed_total",
			Help:        "Downloads that failed mid-transfer.",
			ConstLabels: labels,
		}),
		StatusProbesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "filemesh_status_probes_sent_total",
			Help:        "Pull-model status probes sent by this leaf.",
			ConstLabels: labels,
		}),
	}
	if historySize != nil {
		m.HistorySize = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "filemesh_history_size",
			Help:        "Current size of the super-peer message history.",
			ConstLabels: labels,
		}, historySize)
	}
	for _, c := range []prometheus.Collector{
		m.QueriesHandled, m.RegistersHandled, m.DeregistersHandled,
		m.InvalidatesHandled, m.DownloadsStarted, m.DownloadsFailed,
		m.StatusProbesSent,
	} {
		reg.MustRegister(c)
	}
	if m.HistorySize != nil {
		reg.MustRegister(m.HistorySize)
	}
	return m
}
