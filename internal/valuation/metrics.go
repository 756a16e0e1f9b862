package valuation

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes Prometheus collectors for standard price changes.
type Metrics struct {
	priceChanges *prometheus.CounterVec
	entries      prometheus.Counter
}

// NewMetrics registers valuation metrics against registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	priceChanges := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_valuation_price_changes_total",
		Help: "Standard price changes per product partitioned by status.",
	}, []string{"status"})
	entries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "odyssey_valuation_entries_total",
		Help: "Revaluation journal entries posted.",
	})
	registerer.MustRegister(priceChanges, entries)
	return &Metrics{priceChanges: priceChanges, entries: entries}
}

func (m *Metrics) observePriceChange(ok bool, entries int) {
	if m == nil {
		return
	}
	status := "success"
	if !ok {
		status = "failure"
	}
	m.priceChanges.WithLabelValues(status).Inc()
	if entries > 0 {
		m.entries.Add(float64(entries))
	}
}
