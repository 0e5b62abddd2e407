package cachette

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// promMetrics mirrors the teacher's MetricSet (cache.go's Hit/Latency/Error
// CounterVec/HistogramVec), generalized to the write-through tier's three
// named outcomes. Registration is optional: callers that don't want to
// touch the default Prometheus registry simply never call RegisterMetrics.
type promMetrics struct {
	hits    *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

var hitLabels = []string{"tier"}

func newPromMetrics(namespace string) *promMetrics {
	return &promMetrics{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cachette_hit_total",
			Help:      "Cache reads by which tier satisfied them: local, remote, or miss.",
		}, hitLabels),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cachette_get_latency_seconds",
			Help:      "Get() latency in seconds, labeled by outcome.",
			Buckets:   prometheus.DefBuckets,
		}, hitLabels),
	}
}

// RegisterMetrics registers the tier's Prometheus collectors with reg.
// Call once per process; registering the same tier twice returns the
// AlreadyRegisteredError from the underlying registry unchanged.
func (t *TieredTier) RegisterMetrics(reg prometheus.Registerer, namespace string) error {
	t.prom = newPromMetrics(namespace)
	if err := reg.Register(t.prom.hits); err != nil {
		return err
	}
	return reg.Register(t.prom.latency)
}

func (t *TieredTier) observeHit(tier string, started time.Time) {
	if t.prom == nil {
		return
	}
	t.prom.hits.WithLabelValues(tier).Inc()
	t.prom.latency.WithLabelValues(tier).Observe(time.Since(started).Seconds())
}
