package queue

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce sync.Once

	// QueueDepth approximates the number of ready tasks per kind.
	QueueDepth *prometheus.GaugeVec
	// QueueProcessedTotal counts handler outcomes (ok, retry, dead).
	QueueProcessedTotal *prometheus.CounterVec
	// QueueDLQSize tracks dead-lettered tasks per kind.
	QueueDLQSize *prometheus.GaugeVec
)

// MustRegisterMetrics registers the queue collectors once.
func MustRegisterMetrics(namespace string, reg prometheus.Registerer) {
	metricsOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Approximate number of ready tasks per kind.",
		}, []string{"kind"})
		QueueProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_processed_total",
			Help:      "Tasks processed grouped by outcome.",
		}, []string{"kind", "status"})
		QueueDLQSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_dlq_size",
			Help:      "Number of tasks held in the dead letter list.",
		}, []string{"kind"})
		reg.MustRegister(QueueDepth, QueueProcessedTotal, QueueDLQSize)
	})
}

func countProcessed(kind, status string) {
	if QueueProcessedTotal != nil {
		QueueProcessedTotal.WithLabelValues(kind, status).Inc()
	}
}
