package infra

import (
	"context"

	"gcra-gateway/middleware/ratelimit/domain"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusStats exporta as decisões como métricas.
//
// Não usa a chave como label (cardinalidade).
type PrometheusStats struct {
	decisions  *prometheus.CounterVec
	retryAfter prometheus.Histogram
}

func NewPrometheusStats(namespace string) *PrometheusStats {
	return &PrometheusStats{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "decisions_total",
			Help:      "Rate limit decisions by outcome and HTTP method.",
		}, []string{"decision", "method"}),
		retryAfter: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "retry_after_seconds",
			Help:      "Retry-after handed to denied requests.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),
	}
}

func (p *PrometheusStats) Describe(ch chan<- *prometheus.Desc) {
	p.decisions.Describe(ch)
	p.retryAfter.Describe(ch)
}

func (p *PrometheusStats) Collect(ch chan<- prometheus.Metric) {
	p.decisions.Collect(ch)
	p.retryAfter.Collect(ch)
}

func (p *PrometheusStats) Record(_ context.Context, ev domain.StatsEvent) error {
	field := statsField(ev)
	p.decisions.WithLabelValues(field, ev.Method).Inc()
	if field == "denied" {
		p.retryAfter.Observe(ev.RetryAfter.Seconds())
	}
	return nil
}

// NewStoreCollector expõe o número de chaves rastreadas pelo Store.
func NewStoreCollector(namespace string, s *Store) prometheus.Collector {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ratelimit",
		Name:      "tracked_keys",
		Help:      "Keys currently held by the in-memory limiter store.",
	}, func() float64 { return float64(s.Len()) })
}
