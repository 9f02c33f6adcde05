package refine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var testSigner = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

// fakeChain is a scripted Chain. Each submitted tx is mined immediately
// with gasUsed[i % len(gasUsed)].
type fakeChain struct {
	balance   *big.Int
	nonce     uint64
	gasUsed   []uint64
	simFailAt int // -1 = never
	simErr    error
	submitErr map[int]error
	waitErr   map[int]error
	status    map[int]uint64

	simulated []Call
	submitted []Call
	waited    []common.Hash
}

var _ Chain = (*fakeChain)(nil)

func newFakeChain(balance int64, nonce uint64, gasUsed ...uint64) *fakeChain {
	if len(gasUsed) == 0 {
		gasUsed = []uint64{100_000}
	}
	return &fakeChain{
		balance:   big.NewInt(balance),
		nonce:     nonce,
		gasUsed:   gasUsed,
		simFailAt: -1,
		submitErr: map[int]error{},
		waitErr:   map[int]error{},
		status:    map[int]uint64{},
	}
}

func (f *fakeChain) Address() common.Address { return testSigner }

func (f *fakeChain) Balance(context.Context, common.Address) (*big.Int, error) {
	return new(big.Int).Set(f.balance), nil
}

func (f *fakeChain) PendingNonce(context.Context, common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeChain) Simulate(_ context.Context, call Call) error {
	idx := len(f.simulated)
	f.simulated = append(f.simulated, call)
	if idx == f.simFailAt {
		return f.simErr
	}
	return nil
}

func (f *fakeChain) Submit(_ context.Context, call Call) (common.Hash, error) {
	idx := len(f.submitted)
	f.submitted = append(f.submitted, call)
	if err := f.submitErr[idx]; err != nil {
		return common.Hash{}, err
	}
	return common.BigToHash(big.NewInt(int64(idx + 1))), nil
}

func (f *fakeChain) WaitMined(_ context.Context, hash common.Hash) (*Receipt, error) {
	idx := len(f.waited)
	f.waited = append(f.waited, hash)
	if err := f.waitErr[idx]; err != nil {
		return nil, err
	}
	status, ok := f.status[idx]
	if !ok {
		status = 1
	}
	return &Receipt{
		TxHash:      hash,
		BlockNumber: uint64(1000 + idx),
		GasUsed:     f.gasUsed[idx%len(f.gasUsed)],
		Status:      status,
	}, nil
}

// recordingObserver captures every event.
type recordingObserver struct {
	started    []RunInfo
	submitted  []uint64 // nonces
	confirmed  []TxRecord
	progress   []Progress
	finished   []Summary
	finishErrs []error
}

func (r *recordingObserver) RunStarted(info RunInfo) { r.started = append(r.started, info) }
func (r *recordingObserver) TxSubmitted(_ int, nonce uint64, _ common.Hash) {
	r.submitted = append(r.submitted, nonce)
}
func (r *recordingObserver) TxConfirmed(rec TxRecord, p Progress) {
	r.confirmed = append(r.confirmed, rec)
	r.progress = append(r.progress, p)
}
func (r *recordingObserver) RunFinished(s Summary, err error) {
	r.finished = append(r.finished, s)
	r.finishErrs = append(r.finishErrs, err)
}

func testJob(txCount uint64) Job {
	return Job{
		TokenID:         common.HexToHash("0xabc"),
		TxCount:         txCount,
		IterationsPerTx: 1000,
		GasPrice:        big.NewInt(2_000_000_000),
		GasLimit:        15_000_000,
		Simulate:        true,
	}
}

func TestDriver_Run_Completes(t *testing.T) {
	chain := newFakeChain(1_000_000_000_000_000_000, 42, 100_000, 150_000, 120_000)
	obs := &recordingObserver{}
	d := New(chain, WithObserver(obs), WithIterationSource(FixedIterations(7000)), WithRunID("run-1"))

	job := testJob(3)
	result, err := d.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(result.Records) != 3 {
		t.Fatalf("len(Records) = %d, want 3", len(result.Records))
	}

	// Nonces are start+i with no gaps.
	for i, rec := range result.Records {
		if rec.Nonce != 42+uint64(i) {
			t.Errorf("Records[%d].Nonce = %d, want %d", i, rec.Nonce, 42+i)
		}
		if rec.Index != i {
			t.Errorf("Records[%d].Index = %d, want %d", i, rec.Index, i)
		}
		if want := 7000 + 1000*uint64(i+1); rec.CumulativeIterations != want {
			t.Errorf("Records[%d].CumulativeIterations = %d, want %d", i, rec.CumulativeIterations, want)
		}
	}

	// Balance decreases by exactly gasUsed*gasPrice per record.
	balance := big.NewInt(1_000_000_000_000_000_000)
	for i, rec := range result.Records {
		fee := new(big.Int).Mul(new(big.Int).SetUint64(rec.GasUsed), job.GasPrice)
		if rec.Fee.Cmp(fee) != 0 {
			t.Errorf("Records[%d].Fee = %s, want %s", i, rec.Fee, fee)
		}
		balance.Sub(balance, fee)
		if rec.Balance.Cmp(balance) != 0 {
			t.Errorf("Records[%d].Balance = %s, want %s", i, rec.Balance, balance)
		}
	}

	s := result.Summary
	if s.RunID != "run-1" {
		t.Errorf("Summary.RunID = %s, want run-1", s.RunID)
	}
	if s.TxSent != 3 {
		t.Errorf("Summary.TxSent = %d, want 3", s.TxSent)
	}
	if s.TotalIterations != 3000 {
		t.Errorf("Summary.TotalIterations = %d, want 3000", s.TotalIterations)
	}
	if s.FinalBalance.Cmp(balance) != 0 {
		t.Errorf("Summary.FinalBalance = %s, want %s", s.FinalBalance, balance)
	}
	wantFees := new(big.Int).Mul(big.NewInt(370_000), job.GasPrice)
	if s.TotalFees.Cmp(wantFees) != 0 {
		t.Errorf("Summary.TotalFees = %s, want %s", s.TotalFees, wantFees)
	}

	if len(obs.started) != 1 || len(obs.finished) != 1 {
		t.Fatalf("observer started/finished = %d/%d, want 1/1", len(obs.started), len(obs.finished))
	}
	if obs.finishErrs[0] != nil {
		t.Errorf("RunFinished err = %v, want nil", obs.finishErrs[0])
	}
	if obs.started[0].StartingNonce != 42 || obs.started[0].StartingIterations != 7000 {
		t.Errorf("RunInfo = %+v", obs.started[0])
	}
	if len(obs.confirmed) != 3 || len(obs.submitted) != 3 {
		t.Errorf("observer confirmed/submitted = %d/%d, want 3/3", len(obs.confirmed), len(obs.submitted))
	}
	if last := obs.progress[2]; last.Confirmed != 3 || last.NextNonce != 45 || last.Total != 3 {
		t.Errorf("final Progress = %+v", last)
	}
}

func TestDriver_Run_CallsCarryJobParameters(t *testing.T) {
	chain := newFakeChain(1_000_000_000_000_000_000, 0)
	d := New(chain)
	job := testJob(2)

	if _, err := d.Run(context.Background(), job); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(chain.simulated) != 2 || len(chain.submitted) != 2 {
		t.Fatalf("simulated/submitted = %d/%d, want 2/2", len(chain.simulated), len(chain.submitted))
	}
	for i, call := range chain.submitted {
		if call.TokenID != job.TokenID || call.Iterations != 1000 || call.GasLimit != 15_000_000 {
			t.Errorf("submitted[%d] = %+v", i, call)
		}
		if call.GasPrice.Cmp(job.GasPrice) != 0 {
			t.Errorf("submitted[%d].GasPrice = %s, want %s", i, call.GasPrice, job.GasPrice)
		}
		if chain.simulated[i].Nonce != call.Nonce {
			t.Errorf("simulated nonce %d != submitted nonce %d", chain.simulated[i].Nonce, call.Nonce)
		}
	}
}

func TestDriver_Run_ZeroTxCount(t *testing.T) {
	chain := newFakeChain(5_000, 3)
	obs := &recordingObserver{}
	d := New(chain, WithObserver(obs))

	result, err := d.Run(context.Background(), testJob(0))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Records) != 0 {
		t.Errorf("len(Records) = %d, want 0", len(result.Records))
	}
	if result.Summary.FinalBalance.Int64() != 5_000 {
		t.Errorf("FinalBalance = %s, want 5000", result.Summary.FinalBalance)
	}
	if result.Summary.TotalIterations != 0 {
		t.Errorf("TotalIterations = %d, want 0", result.Summary.TotalIterations)
	}
	if len(chain.submitted) != 0 || len(chain.simulated) != 0 {
		t.Error("expected no chain calls beyond the initial snapshot")
	}
	if len(obs.finished) != 1 {
		t.Errorf("RunFinished calls = %d, want 1", len(obs.finished))
	}
}

func TestDriver_Run_SimulationFailureAborts(t *testing.T) {
	tests := []struct {
		name     string
		failAt   int
		err      error
		wantKind ErrorKind
	}{
		{"first tx insufficient funds", 0, errors.New("insufficient funds for gas * price + value"), KindInsufficientFunds},
		{"third tx reverted", 2, errors.New("execution reverted"), KindReverted},
		{"unknown error", 1, errors.New("boom"), KindUnclassified},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := newFakeChain(1_000_000_000_000_000_000, 10)
			chain.simFailAt = tt.failAt
			chain.simErr = tt.err
			obs := &recordingObserver{}
			d := New(chain, WithObserver(obs))

			result, err := d.Run(context.Background(), testJob(5))

			var simErr *SimulationError
			if !errors.As(err, &simErr) {
				t.Fatalf("Run() error = %v, want *SimulationError", err)
			}
			if simErr.Index != tt.failAt {
				t.Errorf("SimulationError.Index = %d, want %d", simErr.Index, tt.failAt)
			}
			if simErr.Kind != tt.wantKind {
				t.Errorf("SimulationError.Kind = %v, want %v", simErr.Kind, tt.wantKind)
			}
			if !errors.Is(err, tt.err) {
				t.Error("SimulationError does not wrap the chain error")
			}
			if len(result.Records) != tt.failAt {
				t.Errorf("len(Records) = %d, want %d", len(result.Records), tt.failAt)
			}
			if len(chain.submitted) != tt.failAt {
				t.Errorf("submissions = %d, want %d", len(chain.submitted), tt.failAt)
			}
			if len(obs.finishErrs) != 1 || !errors.Is(obs.finishErrs[0], tt.err) {
				t.Errorf("RunFinished errs = %v", obs.finishErrs)
			}
		})
	}
}

func TestDriver_Run_SkipsSimulationWhenDisabled(t *testing.T) {
	chain := newFakeChain(1_000_000_000_000_000_000, 0)
	chain.simFailAt = 0
	chain.simErr = errors.New("should not be called")
	d := New(chain)

	job := testJob(2)
	job.Simulate = false
	if _, err := d.Run(context.Background(), job); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(chain.simulated) != 0 {
		t.Errorf("simulations = %d, want 0", len(chain.simulated))
	}
}

func TestDriver_Run_SubmitFailure(t *testing.T) {
	chain := newFakeChain(1_000_000_000_000_000_000, 0)
	chain.submitErr[1] = errors.New("nonce too low")
	d := New(chain)

	result, err := d.Run(context.Background(), testJob(3))

	var txErr *TxError
	if !errors.As(err, &txErr) {
		t.Fatalf("Run() error = %v, want *TxError", err)
	}
	if txErr.Index != 1 || txErr.Stage != StageSubmit || txErr.Kind != KindNonceTooLow {
		t.Errorf("TxError = %+v", txErr)
	}
	if len(result.Records) != 1 {
		t.Errorf("len(Records) = %d, want 1", len(result.Records))
	}
}

func TestDriver_Run_StopIsQuietAtWarn(t *testing.T) {
	chain := newFakeChain(1_000_000_000_000_000_000, 0)
	chain.submitErr[0] = errors.New("insufficient funds for gas * price + value")

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	if _, err := New(chain, WithLogger(logger)).Run(context.Background(), testJob(1)); err == nil {
		t.Fatal("Run() error = nil, want error")
	}
	if buf.Len() != 0 {
		t.Errorf("warn-level log = %q, want empty", buf.String())
	}

	buf.Reset()
	logger = slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	if _, err := New(chain, WithLogger(logger)).Run(context.Background(), testJob(1)); err == nil {
		t.Fatal("Run() error = nil, want error")
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"msg":"refine run stopped"`)) {
		t.Errorf("info-level log = %q, want run stopped entry", buf.String())
	}
}

func TestDriver_Run_ConfirmationFailure(t *testing.T) {
	chain := newFakeChain(1_000_000_000_000_000_000, 0)
	chain.waitErr[0] = errors.New("connection reset")
	d := New(chain)

	result, err := d.Run(context.Background(), testJob(3))

	var txErr *TxError
	if !errors.As(err, &txErr) {
		t.Fatalf("Run() error = %v, want *TxError", err)
	}
	if txErr.Stage != StageConfirm || txErr.Hash == "" {
		t.Errorf("TxError = %+v", txErr)
	}
	if len(result.Records) != 0 {
		t.Errorf("len(Records) = %d, want 0", len(result.Records))
	}
}

func TestDriver_Run_RevertedReceipt(t *testing.T) {
	chain := newFakeChain(1_000_000_000_000_000_000, 0)
	chain.status[1] = 0
	d := New(chain)

	result, err := d.Run(context.Background(), testJob(3))

	if !errors.Is(err, ErrTxReverted) {
		t.Fatalf("Run() error = %v, want %v", err, ErrTxReverted)
	}
	if KindOf(err) != KindReverted {
		t.Errorf("KindOf() = %v, want %v", KindOf(err), KindReverted)
	}
	if len(result.Records) != 1 {
		t.Errorf("len(Records) = %d, want 1", len(result.Records))
	}
	// The reverted tx consumed its nonce.
	if len(chain.submitted) != 2 {
		t.Errorf("submissions = %d, want 2", len(chain.submitted))
	}
}

func TestDriver_Run_ContextCancelled(t *testing.T) {
	chain := newFakeChain(1_000_000_000_000_000_000, 0)
	ctx, cancel := context.WithCancel(context.Background())
	obs := &cancelAfter{n: 2, cancel: cancel}
	d := New(chain, WithObserver(obs))

	result, err := d.Run(ctx, testJob(10))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if len(result.Records) != 2 {
		t.Errorf("len(Records) = %d, want 2", len(result.Records))
	}
	if !obs.finished {
		t.Error("RunFinished not called after cancellation")
	}
}

type cancelAfter struct {
	NopObserver
	n        int
	seen     int
	cancel   context.CancelFunc
	finished bool
}

func (c *cancelAfter) TxConfirmed(TxRecord, Progress) {
	c.seen++
	if c.seen == c.n {
		c.cancel()
	}
}

func (c *cancelAfter) RunFinished(Summary, error) { c.finished = true }

func TestDriver_Run_CustomIterationCounter(t *testing.T) {
	chain := newFakeChain(1_000_000_000_000_000_000, 0)
	counter := func(start, perTx uint64, index int) uint64 {
		return start + perTx*uint64(index)
	}
	d := New(chain, WithIterationCounter(counter), WithIterationSource(FixedIterations(50)))

	result, err := d.Run(context.Background(), testJob(3))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for i, rec := range result.Records {
		if want := 50 + 1000*uint64(i); rec.CumulativeIterations != want {
			t.Errorf("Records[%d].CumulativeIterations = %d, want %d", i, rec.CumulativeIterations, want)
		}
	}
}

func TestDriver_Run_Latency(t *testing.T) {
	chain := newFakeChain(1_000_000_000_000_000_000, 0)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	clock := func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	d := New(chain, withClock(clock))

	result, err := d.Run(context.Background(), testJob(1))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	// clock calls: startedAt, sentAt, confirmedAt, summary
	if got := result.Records[0].Latency; got != time.Second {
		t.Errorf("Latency = %v, want 1s", got)
	}
}

type errChain struct {
	*fakeChain
	balanceErr error
}

func (e *errChain) Balance(context.Context, common.Address) (*big.Int, error) {
	return nil, e.balanceErr
}

func TestDriver_Run_SnapshotFailureSkipsObservers(t *testing.T) {
	chain := &errChain{fakeChain: newFakeChain(0, 0), balanceErr: fmt.Errorf("dial tcp: refused")}
	obs := &recordingObserver{}
	d := New(chain, WithObserver(obs))

	result, err := d.Run(context.Background(), testJob(3))
	if err == nil {
		t.Fatal("Run() error = nil, want error")
	}
	if result != nil {
		t.Errorf("Run() result = %+v, want nil", result)
	}
	if len(obs.started) != 0 || len(obs.finished) != 0 {
		t.Error("observers notified for a run that never started")
	}
}

func TestDriver_Run_InvalidJob(t *testing.T) {
	d := New(newFakeChain(0, 0))
	job := testJob(1)
	job.GasPrice = nil
	if _, err := d.Run(context.Background(), job); err == nil {
		t.Error("Run() error = nil, want error")
	}
}

func TestObservers_FanOut(t *testing.T) {
	a, b := &recordingObserver{}, &recordingObserver{}
	obs := Observers{a, b}

	obs.RunStarted(RunInfo{RunID: "x"})
	obs.TxSubmitted(0, 1, common.Hash{})
	obs.TxConfirmed(TxRecord{}, Progress{})
	obs.RunFinished(Summary{}, nil)

	for i, r := range []*recordingObserver{a, b} {
		if len(r.started) != 1 || len(r.submitted) != 1 || len(r.confirmed) != 1 || len(r.finished) != 1 {
			t.Errorf("observer %d missed events", i)
		}
	}
}
