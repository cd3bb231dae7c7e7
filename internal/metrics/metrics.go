// Package metrics exposes Prometheus instrumentation for an analysis run:
// how many edges were required, matched, left unmatched, or showed up
// unexpectedly, how many lines landed in each coverage bucket, and how long
// a code unit took to classify and reconcile. The teacher's stack carries
// prometheus/client_golang for exactly this shape of counter/gauge/histogram
// instrumentation, so the analyzer reuses it rather than hand-rolling
// counters.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every collector opcov registers. Construct one with
// NewMetrics and register it with a prometheus.Registerer before running an
// analysis.
type Metrics struct {
	EdgesRequired   prometheus.Counter
	EdgesMatched    prometheus.Counter
	EdgesUnexpected prometheus.Counter

	LinesCovered    prometheus.Gauge
	LinesNotCovered prometheus.Gauge
	LinesTrivial    prometheus.Gauge
	LinesIgnored    prometheus.Gauge

	AnalysisDuration prometheus.Histogram
}

// New constructs a Metrics with the opcov_ namespace, unregistered.
func New() *Metrics {
	return &Metrics{
		EdgesRequired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "opcov",
			Subsystem: "edges",
			Name:      "required_total",
			Help:      "Total required edges discovered across analyzed code units.",
		}),
		EdgesMatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "opcov",
			Subsystem: "edges",
			Name:      "matched_total",
			Help:      "Total required edges confirmed by at least one observed trace.",
		}),
		EdgesUnexpected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "opcov",
			Subsystem: "edges",
			Name:      "unexpected_total",
			Help:      "Total observed edges that matched neither a required nor optional edge.",
		}),
		LinesCovered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "opcov",
			Subsystem: "lines",
			Name:      "covered",
			Help:      "Lines whose required edges were all observed, from the most recent report.",
		}),
		LinesNotCovered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "opcov",
			Subsystem: "lines",
			Name:      "not_covered",
			Help:      "Lines with at least one unmatched required edge, from the most recent report.",
		}),
		LinesTrivial: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "opcov",
			Subsystem: "lines",
			Name:      "trivial",
			Help:      "Lines with no required edges at all, from the most recent report.",
		}),
		LinesIgnored: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "opcov",
			Subsystem: "lines",
			Name:      "ignored",
			Help:      "Lines excluded from the report by an ignore directive, from the most recent report.",
		}),
		AnalysisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "opcov",
			Subsystem: "analysis",
			Name:      "duration_seconds",
			Help:      "Time spent classifying and reconciling one code unit.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// MustRegister registers every collector in m with r, panicking on a
// duplicate registration — the same fail-fast contract
// prometheus.MustRegister itself offers, used here so a misconfigured
// registry is caught at startup rather than silently dropping metrics.
func (m *Metrics) MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		m.EdgesRequired,
		m.EdgesMatched,
		m.EdgesUnexpected,
		m.LinesCovered,
		m.LinesNotCovered,
		m.LinesTrivial,
		m.LinesIgnored,
		m.AnalysisDuration,
	)
}
