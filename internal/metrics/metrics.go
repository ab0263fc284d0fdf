// Package metrics exposes Prometheus instrumentation for registry
// operations and settlements.
package metrics

import (
	"errors"
	"math/big"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/alanyoungcy/polkawar/internal/domain"
)

const namespace = "polkawar"

// Metrics holds the registry collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	settled    *prometheus.CounterVec
	paid       *prometheus.CounterVec
	pools      prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Registry operations by operation and result.",
		}, []string{"operation", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Registry operation latency including ledger calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		settled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Settled rounds by kind.",
		}, []string{"kind"}),
		paid: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "paid_tokens_total",
			Help:      "Tokens paid out of escrow by kind and share.",
		}, []string{"kind", "share"}),
		pools: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pools",
			Help:      "Number of pools in the registry.",
		}),
	}
	reg.MustRegister(m.operations, m.duration, m.settled, m.paid, m.pools)
	return m
}

// Observe records one operation that started at start and ended with err.
func (m *Metrics) Observe(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, Result(err)).Inc()
	m.duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// Settled records a settled round and the amounts it paid.
func (m *Metrics) Settled(st domain.Settlement) {
	if m == nil {
		return
	}
	kind := string(st.Kind)
	m.settled.WithLabelValues(kind).Inc()
	total := st.Total()
	var reward uint256.Int
	reward.Sub(&total, &st.Fee)
	m.paid.WithLabelValues(kind, "reward").Add(tokens(&reward))
	m.paid.WithLabelValues(kind, "fee").Add(tokens(&st.Fee))
}

// SetPools records the registry size.
func (m *Metrics) SetPools(n uint64) {
	if m == nil {
		return
	}
	m.pools.Set(float64(n))
}

// Result classifies err into a low-cardinality label value.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, domain.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, domain.ErrDuplicateParticipant):
		return "duplicate_participant"
	case errors.Is(err, domain.ErrInvalidParticipant), errors.Is(err, domain.ErrInvalidAmount):
		return "invalid_argument"
	case errors.Is(err, domain.ErrInsufficientFunds), errors.Is(err, domain.ErrInsufficientAllowance):
		return "ledger_rejected"
	default:
		return "error"
	}
}

func tokens(v *uint256.Int) float64 {
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f
}
