package metrics

import (
	"errors"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gateway-fm/refiner/internal/refine"
	"github.com/gateway-fm/refiner/pkg/types"
)

// PrometheusMetrics holds all Prometheus metrics for the refiner.
// It implements refine.Observer.
type PrometheusMetrics struct {
	// Transaction counters
	TxTotal            *prometheus.CounterVec
	SimulationFailures *prometheus.CounterVec
	FeesWeiTotal       prometheus.Counter
	IterationsTotal    prometheus.Counter

	// Gauges
	WalletBalanceWei prometheus.Gauge
	RunStatus        *prometheus.GaugeVec

	// Histograms
	GasUsed        prometheus.Histogram
	ConfirmLatency prometheus.Histogram
	RPCLatency     *prometheus.HistogramVec

	iterationsPerTx atomic.Uint64
}

var _ refine.Observer = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics creates and registers all Prometheus metrics.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &PrometheusMetrics{
		TxTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "refiner_transactions_total",
				Help: "Refine transactions by status (submitted, confirmed, failed)",
			},
			[]string{"status"},
		),

		SimulationFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "refiner_simulation_failures_total",
				Help: "Failed pre-submission simulations by error kind",
			},
			[]string{"kind"},
		),

		FeesWeiTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "refiner_fees_wei_total",
				Help: "Total refining fees paid in wei",
			},
		),

		IterationsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "refiner_iterations_total",
				Help: "Iterations applied by confirmed refine transactions",
			},
		),

		WalletBalanceWei: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "refiner_wallet_balance_wei",
				Help: "Tracked refiner wallet balance in wei",
			},
		),

		RunStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "refiner_run_status",
				Help: "Current run status (1 if active, 0 otherwise)",
			},
			[]string{"status"},
		),

		GasUsed: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "refiner_gas_used",
				Help:    "Gas used per confirmed refine transaction",
				Buckets: prometheus.ExponentialBuckets(100_000, 2, 8),
			},
		),

		ConfirmLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "refiner_confirmation_latency_seconds",
				Help:    "Submission to receipt latency in seconds",
				Buckets: []float64{1, 2, 5, 10, 15, 20, 30, 60, 120},
			},
		),

		RPCLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "refiner_rpc_latency_seconds",
				Help:    "RPC call latency by method",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "status"},
		),
	}
}

// knownRPCMethods is a fixed set of known RPC methods to prevent cardinality explosion
var knownRPCMethods = map[string]bool{
	"eth_sendRawTransaction":    true,
	"eth_getTransactionCount":   true,
	"eth_blockNumber":           true,
	"eth_chainId":               true,
	"eth_gasPrice":              true,
	"eth_getBalance":            true,
	"eth_getTransactionReceipt": true,
	"eth_call":                  true,
}

// RecordRPCLatency records RPC call latency. Its signature matches rpc.CallObserver.
func (m *PrometheusMetrics) RecordRPCLatency(method string, latency time.Duration, err error) {
	// Bucket unknown methods into 'other' to prevent cardinality explosion
	bucketedMethod := method
	if !knownRPCMethods[method] {
		bucketedMethod = "other"
	}

	status := "success"
	if err != nil {
		status = "error"
	}
	m.RPCLatency.WithLabelValues(bucketedMethod, status).Observe(latency.Seconds())
}

// SetRunStatus updates the run status gauges.
func (m *PrometheusMetrics) SetRunStatus(status types.RunStatus) {
	for _, s := range []types.RunStatus{types.StatusIdle, types.StatusRunning, types.StatusCompleted, types.StatusAborted, types.StatusError} {
		if s == status {
			m.RunStatus.WithLabelValues(string(s)).Set(1)
		} else {
			m.RunStatus.WithLabelValues(string(s)).Set(0)
		}
	}
}

// RunStarted implements refine.Observer.
func (m *PrometheusMetrics) RunStarted(info refine.RunInfo) {
	m.iterationsPerTx.Store(info.Job.IterationsPerTx)
	m.SetRunStatus(types.StatusRunning)
	m.WalletBalanceWei.Set(weiFloat(info.InitialBalance))
}

// TxSubmitted implements refine.Observer.
func (m *PrometheusMetrics) TxSubmitted(int, uint64, common.Hash) {
	m.TxTotal.WithLabelValues("submitted").Inc()
}

// TxConfirmed implements refine.Observer.
func (m *PrometheusMetrics) TxConfirmed(rec refine.TxRecord, _ refine.Progress) {
	m.TxTotal.WithLabelValues("confirmed").Inc()
	m.GasUsed.Observe(float64(rec.GasUsed))
	m.ConfirmLatency.Observe(rec.Latency.Seconds())
	m.FeesWeiTotal.Add(weiFloat(rec.Fee))
	m.WalletBalanceWei.Set(weiFloat(rec.Balance))
	m.IterationsTotal.Add(float64(m.iterationsPerTx.Load()))
}

// RunFinished implements refine.Observer.
func (m *PrometheusMetrics) RunFinished(_ refine.Summary, err error) {
	m.SetRunStatus(refine.StatusOf(err))
	if err == nil {
		return
	}
	var simErr *refine.SimulationError
	if errors.As(err, &simErr) {
		m.SimulationFailures.WithLabelValues(simErr.Kind.String()).Inc()
		return
	}
	m.TxTotal.WithLabelValues("failed").Inc()
}

// weiFloat converts wei to float64 for gauges. Precision loss above 2^53 is accepted.
func weiFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
