package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the retrieval counters and latency histogram.
type Metrics struct {
	RetrieveTotal   *prometheus.CounterVec
	RetrieveLatency *prometheus.HistogramVec
}

// New registers the retrieval metrics with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RetrieveTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rag_retrieve_total",
			Help: "Retrieval requests by outcome, requested version, and language.",
		}, []string{"status", "version", "lang"}),
		RetrieveLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rag_retrieve_latency_seconds",
			Help:    "End-to-end retrieval latency.",
			Buckets: []float64{0.02, 0.05, 0.1, 0.2, 0.3, 0.5, 1, 2},
		}, []string{"version", "lang"}),
	}
	reg.MustRegister(m.RetrieveTotal, m.RetrieveLatency)
	return m
}

// Lang derives the language label from a translation code such as "PT_NAA".
func Lang(versionCode string) string {
	if versionCode == "" {
		return "all"
	}
	if i := strings.IndexByte(versionCode, '_'); i > 0 {
		return strings.ToLower(versionCode[:i])
	}
	return strings.ToLower(versionCode)
}

// ObserveRetrieve records one retrieval outcome.
func (m *Metrics) ObserveRetrieve(status, version string, seconds float64) {
	if m == nil {
		return
	}
	if version == "" {
		version = "all"
	}
	lang := Lang(version)
	m.RetrieveTotal.WithLabelValues(status, version, lang).Inc()
	m.RetrieveLatency.WithLabelValues(version, lang).Observe(seconds)
}
