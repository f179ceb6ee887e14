package metrics

import (
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation outcomes recorded on pool_operations_total.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

type PoolMetrics struct {
	operations    *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	available     *prometheus.GaugeVec
	deposits      *prometheus.GaugeVec
	borrowed      *prometheus.GaugeVec
	fees          *prometheus.GaugeVec
	activeLoans   prometheus.Gauge
	shareSupply   prometheus.Gauge
	events        *prometheus.CounterVec
	auditFailures prometheus.Counter
	streamDropped prometheus.Counter
}

var (
	poolOnce     sync.Once
	poolRegistry *PoolMetrics
)

// Pool returns the process-wide pool metrics, registering them with the default
// prometheus registry on first use.
func Pool() *PoolMetrics {
	poolOnce.Do(func() {
		poolRegistry = &PoolMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "pool_operations_total",
				Help: "Pool operations by name and outcome.",
			}, []string{"op", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "pool_operation_duration_seconds",
				Help:    "Latency of pool operations including commit.",
				Buckets: prometheus.DefBuckets,
			}, []string{"op"}),
			available: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "pool_available_liquidity",
				Help: "Deposits minus outstanding borrows per asset, in base units.",
			}, []string{"asset"}),
			deposits: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "pool_total_deposits",
				Help: "Total deposits per asset, in base units.",
			}, []string{"asset"}),
			borrowed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "pool_total_borrowed",
				Help: "Outstanding borrows per asset, in base units.",
			}, []string{"asset"}),
			fees: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "pool_fees",
				Help: "Fee balances per asset split by beneficiary.",
			}, []string{"asset", "kind"}),
			activeLoans: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "pool_active_loans",
				Help: "Number of borrowers with an open loan.",
			}),
			shareSupply: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "pool_share_supply",
				Help: "Outstanding share token supply, in base units.",
			}),
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "pool_events_total",
				Help: "Committed events by type.",
			}, []string{"type"}),
			auditFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "pool_audit_write_failures_total",
				Help: "Events that could not be written to the audit store.",
			}),
			streamDropped: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "pool_event_stream_dropped_total",
				Help: "Events dropped for slow stream subscribers.",
			}),
		}
		prometheus.MustRegister(
			poolRegistry.operations,
			poolRegistry.latency,
			poolRegistry.available,
			poolRegistry.deposits,
			poolRegistry.borrowed,
			poolRegistry.fees,
			poolRegistry.activeLoans,
			poolRegistry.shareSupply,
			poolRegistry.events,
			poolRegistry.auditFailures,
			poolRegistry.streamDropped,
		)
	})
	return poolRegistry
}

// ObserveOperation records one pool operation.
func (m *PoolMetrics) ObserveOperation(op, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	op = normalise(op)
	m.operations.WithLabelValues(op, normalise(outcome)).Inc()
	m.latency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// AssetSnapshot carries the per-asset balances exported as gauges.
type AssetSnapshot struct {
	Symbol     string
	Deposits   *big.Int
	Borrowed   *big.Int
	Available  *big.Int
	AdminFees  *big.Int
	HolderFees *big.Int
}

func (m *PoolMetrics) SetAsset(snapshot AssetSnapshot) {
	if m == nil {
		return
	}
	asset := normalise(snapshot.Symbol)
	m.deposits.WithLabelValues(asset).Set(toFloat(snapshot.Deposits))
	m.borrowed.WithLabelValues(asset).Set(toFloat(snapshot.Borrowed))
	m.available.WithLabelValues(asset).Set(toFloat(snapshot.Available))
	m.fees.WithLabelValues(asset, "admin").Set(toFloat(snapshot.AdminFees))
	m.fees.WithLabelValues(asset, "holder").Set(toFloat(snapshot.HolderFees))
}

func (m *PoolMetrics) SetActiveLoans(count int) {
	if m == nil {
		return
	}
	m.activeLoans.Set(float64(count))
}

func (m *PoolMetrics) SetShareSupply(supply *big.Int) {
	if m == nil {
		return
	}
	m.shareSupply.Set(toFloat(supply))
}

func (m *PoolMetrics) IncEvent(eventType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(normalise(eventType)).Inc()
}

func (m *PoolMetrics) IncAuditFailure() {
	if m == nil {
		return
	}
	m.auditFailures.Inc()
}

func (m *PoolMetrics) AddStreamDropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.streamDropped.Add(float64(n))
}

func normalise(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return "unknown"
	}
	return label
}

func toFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
