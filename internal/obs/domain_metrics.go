package obs

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// CostRequestsTotal counts pricing requests by outcome (ready, failed, stale, skipped).
	CostRequestsTotal *prometheus.CounterVec
	// CostRequestLatency records pricing round-trip latency in milliseconds.
	CostRequestLatency prometheus.Histogram
	// OptionGroupLoadsTotal counts option group lookups by outcome (hit, fetched, failed, stale).
	OptionGroupLoadsTotal *prometheus.CounterVec
	// QuotationSavesTotal counts quotation save attempts by outcome.
	QuotationSavesTotal *prometheus.CounterVec
	// ActiveSessions tracks open editing sessions.
	ActiveSessions prometheus.Gauge
)

// MustRegisterDomainMetrics initialises and registers the configurator collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		CostRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_requests_total",
			Help:      "Line item cost computations by outcome.",
		}, []string{"result"})
		CostRequestLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cost_request_duration_ms",
			Help:      "Latency of pricing collaborator calls in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		})
		OptionGroupLoadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "option_group_loads_total",
			Help:      "Option group lookups by outcome.",
		}, []string{"result"})
		QuotationSavesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quotation_saves_total",
			Help:      "Quotation save attempts by outcome.",
		}, []string{"result"})
		ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "editing_sessions_active",
			Help:      "Number of open quotation editing sessions.",
		})

		mustRegisterCollector(reg, CostRequestsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CostRequestsTotal = v
			}
		})
		mustRegisterCollector(reg, CostRequestLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Histogram); ok {
				CostRequestLatency = v
			}
		})
		mustRegisterCollector(reg, OptionGroupLoadsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				OptionGroupLoadsTotal = v
			}
		})
		mustRegisterCollector(reg, QuotationSavesTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				QuotationSavesTotal = v
			}
		})
		mustRegisterCollector(reg, ActiveSessions, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Gauge); ok {
				ActiveSessions = v
			}
		})
	})
}

// CountCost increments the cost outcome counter when metrics are registered.
func CountCost(result string) {
	if CostRequestsTotal != nil {
		CostRequestsTotal.WithLabelValues(result).Inc()
	}
}

// ObserveCostLatency records a pricing call duration when metrics are registered.
func ObserveCostLatency(d time.Duration) {
	if CostRequestLatency != nil {
		CostRequestLatency.Observe(DurationMillis(d))
	}
}

// CountOptionLoad increments the option group outcome counter.
func CountOptionLoad(result string) {
	if OptionGroupLoadsTotal != nil {
		OptionGroupLoadsTotal.WithLabelValues(result).Inc()
	}
}

// CountSave increments the quotation save outcome counter.
func CountSave(result string) {
	if QuotationSavesTotal != nil {
		QuotationSavesTotal.WithLabelValues(result).Inc()
	}
}

// AddActiveSessions moves the open session gauge by delta.
func AddActiveSessions(delta float64) {
	if ActiveSessions != nil {
		ActiveSessions.Add(delta)
	}
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
