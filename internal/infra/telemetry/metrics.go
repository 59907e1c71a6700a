package telemetry

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arklim/paid-storage/internal/usecase"
)

// MetricsOptions controls construction of the service collectors.
type MetricsOptions struct {
	Registerer prometheus.Registerer
	Namespace  string
	Buckets    []float64
}

// ServiceMetrics holds the entitlement and gate collectors.
type ServiceMetrics struct {
	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
	ledgerQueries    *prometheus.CounterVec
	ledgerDuration   *prometheus.HistogramVec
	degraded         prometheus.Counter
	settlementEvents *prometheus.CounterVec
	gateDecisions    *prometheus.CounterVec
	rejectedWrites   prometheus.Counter
}

var (
	_ usecase.EntitlementMetrics = (*ServiceMetrics)(nil)
	_ usecase.GateMetrics        = (*ServiceMetrics)(nil)
)

// NewServiceMetrics registers the collectors, reusing any already registered under the same name.
func NewServiceMetrics(opts MetricsOptions) (*ServiceMetrics, error) {
	namespace := opts.Namespace
	if namespace == "" {
		namespace = "paidstore"
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	buckets := opts.Buckets
	if len(buckets) == 0 {
		buckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	}

	var (
		m   ServiceMetrics
		err error
	)

	if m.cacheHits, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "entitlement_cache_hits_total",
		Help:      "Entitlement lookups answered from the local cache.",
	})); err != nil {
		return nil, err
	}
	if m.cacheMisses, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "entitlement_cache_misses_total",
		Help:      "Entitlement lookups that required the mirror or the ledger.",
	})); err != nil {
		return nil, err
	}
	if m.ledgerQueries, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_queries_total",
		Help:      "Live ledger queries partitioned by result.",
	}, []string{"result"})); err != nil {
		return nil, err
	}
	if m.ledgerDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "ledger_query_duration_seconds",
		Help:      "Latency of live ledger queries in seconds.",
		Buckets:   buckets,
	}, []string{"result"})); err != nil {
		return nil, err
	}
	if m.degraded, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "degraded_decisions_total",
		Help:      "Entitlement answers served from stale cache while the ledger was unavailable.",
	})); err != nil {
		return nil, err
	}
	if m.settlementEvents, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "settlement_events_total",
		Help:      "Settlement events received, partitioned by whether they changed the cache.",
	}, []string{"applied"})); err != nil {
		return nil, err
	}
	if m.gateDecisions, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gate_decisions_total",
		Help:      "Access gate decisions partitioned by operation and outcome.",
	}, []string{"operation", "outcome"})); err != nil {
		return nil, err
	}
	if m.rejectedWrites, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_rejected_writes_total",
		Help:      "Writes rejected because they would exceed the tenant quota.",
	})); err != nil {
		return nil, err
	}

	return &m, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, collector T) (T, error) {
	if err := reg.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			existing, ok := already.ExistingCollector.(T)
			if !ok {
				return collector, fmt.Errorf("existing collector has wrong type %T", already.ExistingCollector)
			}
			return existing, nil
		}
		return collector, fmt.Errorf("register collector: %w", err)
	}
	return collector, nil
}

func (m *ServiceMetrics) IncCacheHit()  { m.cacheHits.Inc() }
func (m *ServiceMetrics) IncCacheMiss() { m.cacheMisses.Inc() }
func (m *ServiceMetrics) IncDegraded()  { m.degraded.Inc() }

func (m *ServiceMetrics) ObserveLedgerQuery(result string, duration time.Duration) {
	m.ledgerQueries.WithLabelValues(result).Inc()
	m.ledgerDuration.WithLabelValues(result).Observe(duration.Seconds())
}

func (m *ServiceMetrics) IncSettlementEvent(applied bool) {
	m.settlementEvents.WithLabelValues(strconv.FormatBool(applied)).Inc()
}

func (m *ServiceMetrics) IncDecision(operation, outcome string) {
	m.gateDecisions.WithLabelValues(operation, outcome).Inc()
}

func (m *ServiceMetrics) IncRejectedWrite() { m.rejectedWrites.Inc() }
