package metrics

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/gateway-fm/refiner/internal/refine"
)

func newTestMetrics(t *testing.T) *PrometheusMetrics {
	t.Helper()
	return NewPrometheusMetrics(prometheus.NewRegistry())
}

func TestPrometheusMetrics_RunLifecycle(t *testing.T) {
	m := newTestMetrics(t)

	m.RunStarted(refine.RunInfo{
		Job:            refine.Job{IterationsPerTx: 1000},
		InitialBalance: big.NewInt(1_000_000),
	})
	if got := testutil.ToFloat64(m.RunStatus.WithLabelValues("running")); got != 1 {
		t.Errorf("run_status{running} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.WalletBalanceWei); got != 1_000_000 {
		t.Errorf("wallet_balance_wei = %v, want 1000000", got)
	}

	for i := 0; i < 2; i++ {
		m.TxSubmitted(i, uint64(i), common.Hash{})
		m.TxConfirmed(refine.TxRecord{
			Index:   i,
			GasUsed: 100_000,
			Fee:     big.NewInt(1_000),
			Balance: big.NewInt(int64(1_000_000 - 1_000*(i+1))),
			Latency: 5 * time.Second,
		}, refine.Progress{Confirmed: i + 1})
	}
	m.RunFinished(refine.Summary{}, nil)

	if got := testutil.ToFloat64(m.TxTotal.WithLabelValues("submitted")); got != 2 {
		t.Errorf("transactions_total{submitted} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.TxTotal.WithLabelValues("confirmed")); got != 2 {
		t.Errorf("transactions_total{confirmed} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.FeesWeiTotal); got != 2_000 {
		t.Errorf("fees_wei_total = %v, want 2000", got)
	}
	if got := testutil.ToFloat64(m.IterationsTotal); got != 2_000 {
		t.Errorf("iterations_total = %v, want 2000", got)
	}
	if got := testutil.ToFloat64(m.WalletBalanceWei); got != 998_000 {
		t.Errorf("wallet_balance_wei = %v, want 998000", got)
	}
	if got := testutil.ToFloat64(m.RunStatus.WithLabelValues("completed")); got != 1 {
		t.Errorf("run_status{completed} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RunStatus.WithLabelValues("running")); got != 0 {
		t.Errorf("run_status{running} = %v, want 0", got)
	}
	if got := testutil.CollectAndCount(m.ConfirmLatency); got != 1 {
		t.Errorf("confirmation latency series = %d, want 1", got)
	}
}

func TestPrometheusMetrics_SimulationFailure(t *testing.T) {
	m := newTestMetrics(t)

	m.RunFinished(refine.Summary{}, &refine.SimulationError{Kind: refine.KindInsufficientFunds, Err: errors.New("x")})

	if got := testutil.ToFloat64(m.SimulationFailures.WithLabelValues("insufficient_funds")); got != 1 {
		t.Errorf("simulation_failures_total{insufficient_funds} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RunStatus.WithLabelValues("aborted")); got != 1 {
		t.Errorf("run_status{aborted} = %v, want 1", got)
	}
}

func TestPrometheusMetrics_TxFailure(t *testing.T) {
	m := newTestMetrics(t)

	m.RunFinished(refine.Summary{}, &refine.TxError{Stage: refine.StageConfirm, Err: errors.New("x")})

	if got := testutil.ToFloat64(m.TxTotal.WithLabelValues("failed")); got != 1 {
		t.Errorf("transactions_total{failed} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RunStatus.WithLabelValues("error")); got != 1 {
		t.Errorf("run_status{error} = %v, want 1", got)
	}
}

func TestPrometheusMetrics_RecordRPCLatency(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordRPCLatency("eth_call", 50*time.Millisecond, nil)
	m.RecordRPCLatency("eth_call", 70*time.Millisecond, errors.New("boom"))
	m.RecordRPCLatency("debug_traceTransaction", time.Second, nil)

	if got := testutil.CollectAndCount(m.RPCLatency); got != 3 {
		t.Errorf("rpc latency series = %d, want 3", got)
	}
	if got := testutil.CollectAndCount(m.RPCLatency, "refiner_rpc_latency_seconds"); got != 3 {
		t.Errorf("rpc latency series by name = %d, want 3", got)
	}
}
