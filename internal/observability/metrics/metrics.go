package metrics

import "github.com/prometheus/client_golang/prometheus"

// ImportMetrics exposes counters/histograms for CSV imports.
type ImportMetrics struct {
	importsTotal *prometheus.CounterVec
	rowsTotal    *prometheus.CounterVec
	duration     prometheus.Histogram
}

func NewImportMetrics(reg prometheus.Registerer) *ImportMetrics {
	m := &ImportMetrics{
		importsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "buyerleads",
			Subsystem: "import",
			Name:      "total",
			Help:      "CSV import requests by outcome",
		}, []string{"outcome"}),
		rowsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "buyerleads",
			Subsystem: "import",
			Name:      "rows_total",
			Help:      "CSV rows processed by result",
		}, []string{"result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "buyerleads",
			Subsystem: "import",
			Name:      "duration_seconds",
			Help:      "Latency of CSV import processing",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.importsTotal, m.rowsTotal, m.duration)
	return m
}

// ObserveImport records one finished import. outcome is "completed",
// "rejected" or "failed".
func (m *ImportMetrics) ObserveImport(outcome string, imported, rejected int, seconds float64) {
	if m == nil {
		return
	}
	m.importsTotal.WithLabelValues(outcome).Inc()
	if imported > 0 {
		m.rowsTotal.WithLabelValues("imported").Add(float64(imported))
	}
	if rejected > 0 {
		m.rowsTotal.WithLabelValues("rejected").Add(float64(rejected))
	}
	m.duration.Observe(seconds)
}

// RateLimitMetrics counts sliding-window decisions per limiter.
type RateLimitMetrics struct {
	decisions *prometheus.CounterVec
	swept     *prometheus.CounterVec
}

func NewRateLimitMetrics(reg prometheus.Registerer) *RateLimitMetrics {
	m := &RateLimitMetrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "buyerleads",
			Subsystem: "ratelimit",
			Name:      "decisions_total",
			Help:      "Rate limit decisions by limiter",
		}, []string{"limiter", "decision"}),
		swept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "buyerleads",
			Subsystem: "ratelimit",
			Name:      "swept_identities_total",
			Help:      "Idle identities removed by the periodic sweep",
		}, []string{"limiter"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.decisions, m.swept)
	return m
}

func (m *RateLimitMetrics) ObserveDecision(limiter string, allowed bool) {
	if m == nil {
		return
	}
	decision := "denied"
	if allowed {
		decision = "allowed"
	}
	m.decisions.WithLabelValues(limiter, decision).Inc()
}

func (m *RateLimitMetrics) ObserveSweep(limiter string, removed int) {
	if m == nil || removed <= 0 {
		return
	}
	m.swept.WithLabelValues(limiter).Add(float64(removed))
}
