package chain

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/gateway-fm/refiner/internal/account"
	"github.com/gateway-fm/refiner/internal/refine"
	"github.com/gateway-fm/refiner/internal/rpc"
	"github.com/gateway-fm/refiner/internal/txbuilder"
)

// mockClient is a hand-written rpc.Client.
type mockClient struct {
	mu sync.Mutex

	balance    *big.Int
	nonce      uint64
	chainID    *big.Int
	gasPrice   *big.Int
	callErr    error
	sendErr    error
	receipts   []*rpc.TransactionReceipt // returned in order, then the last forever
	receiptErr error

	calls    []rpc.CallMsg
	sent     [][]byte
	polls    int
	sentHash string
}

var _ rpc.Client = (*mockClient)(nil)

func (m *mockClient) Call(context.Context, string, []interface{}) (json.RawMessage, error) {
	return nil, errors.New("not implemented")
}

func (m *mockClient) SendRawTransaction(_ context.Context, raw []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, raw)
	return m.sentHash, m.sendErr
}

func (m *mockClient) GetNonce(context.Context, string) (uint64, error) { return m.nonce, nil }

func (m *mockClient) GetBlockNumber(context.Context) (uint64, error) { return 1, nil }

func (m *mockClient) GetChainID(context.Context) (*big.Int, error) {
	if m.chainID == nil {
		return nil, errors.New("no chain id")
	}
	return m.chainID, nil
}

func (m *mockClient) GetGasPrice(context.Context) (*big.Int, error) {
	if m.gasPrice == nil {
		return nil, errors.New("no gas price")
	}
	return m.gasPrice, nil
}

func (m *mockClient) GetBalance(context.Context, string) (*big.Int, error) {
	return m.balance, nil
}

func (m *mockClient) EthCall(_ context.Context, msg rpc.CallMsg) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, msg)
	return nil, m.callErr
}

func (m *mockClient) GetTransactionReceipt(context.Context, string) (*rpc.TransactionReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.polls++
	if m.receiptErr != nil {
		return nil, m.receiptErr
	}
	if len(m.receipts) == 0 {
		return nil, nil
	}
	r := m.receipts[0]
	if len(m.receipts) > 1 {
		m.receipts = m.receipts[1:]
	}
	return r, nil
}

var testRegistry = common.HexToAddress("0x3983151E0442906000DAb83c8b1cF3f2D2535F82")

func newTestChain(t *testing.T, m *mockClient) *Client {
	t.Helper()
	acc, err := account.NewAccountFromHex(account.TestPrivateKey)
	if err != nil {
		t.Fatal(err)
	}
	builder, err := txbuilder.NewRefineBuilder(testRegistry)
	if err != nil {
		t.Fatal(err)
	}
	c, err := New(Config{
		RPC:          m,
		Account:      acc,
		Builder:      builder,
		ChainID:      big.NewInt(42),
		PollInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func testCall() refine.Call {
	return refine.Call{
		TokenID:    common.HexToHash("0x01"),
		Iterations: 1000,
		GasLimit:   15_000_000,
		GasPrice:   big.NewInt(1_000_000_000),
		Nonce:      7,
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New(empty) error = nil, want error")
	}

	acc, _ := account.NewAccountFromHex(account.TestPrivateKey)
	builder, _ := txbuilder.NewRefineBuilder(testRegistry)
	if _, err := New(Config{RPC: &mockClient{}, Account: acc, Builder: builder}); err == nil {
		t.Error("New(no chain id) error = nil, want error")
	}
}

func TestResolveChainID(t *testing.T) {
	m := &mockClient{chainID: big.NewInt(4201)}

	id, err := ResolveChainID(context.Background(), m, 42)
	if err != nil || id.Int64() != 42 {
		t.Errorf("ResolveChainID(configured) = %v, %v, want 42", id, err)
	}

	id, err = ResolveChainID(context.Background(), m, 0)
	if err != nil || id.Int64() != 4201 {
		t.Errorf("ResolveChainID(0) = %v, %v, want 4201", id, err)
	}

	if _, err := ResolveChainID(context.Background(), &mockClient{}, 0); err == nil {
		t.Error("ResolveChainID() error = nil, want error")
	}
}

func TestClient_Simulate(t *testing.T) {
	m := &mockClient{}
	c := newTestChain(t, m)

	if err := c.Simulate(context.Background(), testCall()); err != nil {
		t.Fatalf("Simulate() error = %v", err)
	}
	if len(m.calls) != 1 {
		t.Fatalf("EthCall calls = %d, want 1", len(m.calls))
	}
	msg := m.calls[0]
	if msg.From != c.Address().Hex() {
		t.Errorf("From = %s, want %s", msg.From, c.Address().Hex())
	}
	if msg.To != testRegistry.Hex() {
		t.Errorf("To = %s, want %s", msg.To, testRegistry.Hex())
	}
	if msg.Gas != 15_000_000 || msg.GasPrice.Int64() != 1_000_000_000 {
		t.Errorf("Gas, GasPrice = %d, %s", msg.Gas, msg.GasPrice)
	}
	if len(msg.Data) != 68 {
		t.Errorf("len(Data) = %d, want 68", len(msg.Data))
	}
}

func TestClient_SimulateRevertReason(t *testing.T) {
	// Error("not enough")
	revert := `"0x08c379a0` +
		`0000000000000000000000000000000000000000000000000000000000000020` +
		`000000000000000000000000000000000000000000000000000000000000000a` +
		`6e6f7420656e6f75676800000000000000000000000000000000000000000000"`
	rpcErr := &rpc.RPCError{Code: 3, Message: "execution reverted", Data: json.RawMessage(revert)}
	c := newTestChain(t, &mockClient{callErr: rpcErr})

	err := c.Simulate(context.Background(), testCall())
	if !errors.Is(err, rpcErr) {
		t.Fatalf("Simulate() error = %v, want wrapped RPCError", err)
	}
	if !strings.HasSuffix(err.Error(), ": not enough") {
		t.Errorf("Simulate() error = %q, want revert reason", err)
	}
	if refine.Classify(err) != refine.KindReverted {
		t.Errorf("Classify() = %v, want %v", refine.Classify(err), refine.KindReverted)
	}
}

func TestClient_Submit(t *testing.T) {
	m := &mockClient{}
	c := newTestChain(t, m)

	hash, err := c.Submit(context.Background(), testCall())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if len(m.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(m.sent))
	}

	var tx types.Transaction
	if err := tx.UnmarshalBinary(m.sent[0]); err != nil {
		t.Fatalf("UnmarshalBinary() error = %v", err)
	}
	if tx.Hash() != hash {
		t.Errorf("Submit() hash = %s, want %s", hash.Hex(), tx.Hash().Hex())
	}
	if tx.Type() != types.LegacyTxType {
		t.Errorf("Type() = %d, want legacy", tx.Type())
	}
	if tx.Nonce() != 7 {
		t.Errorf("Nonce() = %d, want 7", tx.Nonce())
	}
	if tx.ChainId().Int64() != 42 {
		t.Errorf("ChainId() = %s, want 42", tx.ChainId())
	}
	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(42)), &tx)
	if err != nil || sender != c.Address() {
		t.Errorf("Sender() = %s, %v, want %s", sender.Hex(), err, c.Address().Hex())
	}
}

func TestClient_SubmitError(t *testing.T) {
	sendErr := &rpc.RPCError{Code: -32000, Message: "insufficient funds for gas * price + value"}
	c := newTestChain(t, &mockClient{sendErr: sendErr})

	_, err := c.Submit(context.Background(), testCall())
	if !errors.Is(err, sendErr) {
		t.Errorf("Submit() error = %v, want %v", err, sendErr)
	}
}

func TestClient_WaitMined(t *testing.T) {
	m := &mockClient{receipts: []*rpc.TransactionReceipt{
		nil,
		nil,
		{Status: 1, GasUsed: 90_000, BlockNumber: 77},
	}}
	c := newTestChain(t, m)
	hash := common.HexToHash("0xfeed")

	receipt, err := c.WaitMined(context.Background(), hash)
	if err != nil {
		t.Fatalf("WaitMined() error = %v", err)
	}
	if receipt.TxHash != hash || receipt.GasUsed != 90_000 || receipt.BlockNumber != 77 || receipt.Status != 1 {
		t.Errorf("WaitMined() = %+v", receipt)
	}
	if m.polls != 3 {
		t.Errorf("polls = %d, want 3", m.polls)
	}
}

func TestClient_WaitMinedContextCancelled(t *testing.T) {
	c := newTestChain(t, &mockClient{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.WaitMined(ctx, common.HexToHash("0x01"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitMined() error = %v, want %v", err, context.DeadlineExceeded)
	}
}

func TestClient_WaitMinedPropagatesErrors(t *testing.T) {
	m := &mockClient{receiptErr: errors.New("connection reset")}
	c := newTestChain(t, m)

	_, err := c.WaitMined(context.Background(), common.HexToHash("0x01"))
	if err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Errorf("WaitMined() error = %v, want connection reset", err)
	}
	if m.polls != 1 {
		t.Errorf("polls = %d, want 1 (no retry)", m.polls)
	}
}

func TestClient_CheckGasPrice(t *testing.T) {
	tests := []struct {
		name      string
		price     int64
		wantBelow bool
	}{
		{"below", 999, true},
		{"equal", 1000, false},
		{"above", 1001, false},
	}
	c := newTestChain(t, &mockClient{gasPrice: big.NewInt(1000)})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			network, below, err := c.CheckGasPrice(context.Background(), big.NewInt(tt.price))
			if err != nil {
				t.Fatalf("CheckGasPrice() error = %v", err)
			}
			if network.Int64() != 1000 || below != tt.wantBelow {
				t.Errorf("CheckGasPrice() = %s, %v, want 1000, %v", network, below, tt.wantBelow)
			}
		})
	}

	if _, _, err := newTestChain(t, &mockClient{}).CheckGasPrice(context.Background(), big.NewInt(1)); err == nil {
		t.Error("CheckGasPrice() error = nil, want error")
	}
}

func TestClient_BalanceAndNonce(t *testing.T) {
	m := &mockClient{balance: big.NewInt(12345), nonce: 9}
	c := newTestChain(t, m)

	bal, err := c.Balance(context.Background(), c.Address())
	if err != nil || bal.Int64() != 12345 {
		t.Errorf("Balance() = %v, %v, want 12345", bal, err)
	}
	nonce, err := c.PendingNonce(context.Background(), c.Address())
	if err != nil || nonce != 9 {
		t.Errorf("PendingNonce() = %d, %v, want 9", nonce, err)
	}
}
