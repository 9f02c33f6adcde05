package txbuilder

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	testRegistry = common.HexToAddress("0x3983151E0442906000DAb83c8b1cF3f2D2535F82")
	testTokenID  = common.HexToHash("0x00000000000000000000000000000000000000000000000000000000000000ff")
)

func TestRefineSelector(t *testing.T) {
	want := crypto.Keccak256([]byte("refine(bytes32,uint256)"))[:4]
	if !bytes.Equal(RefineSelector, want) {
		t.Errorf("RefineSelector = %x, want %x", RefineSelector, want)
	}
}

func TestRefineBuilder_Calldata(t *testing.T) {
	b, err := NewRefineBuilder(testRegistry)
	if err != nil {
		t.Fatalf("NewRefineBuilder() error = %v", err)
	}

	data, err := b.Calldata(testTokenID, 5000)
	if err != nil {
		t.Fatalf("Calldata() error = %v", err)
	}
	if len(data) != 4+32+32 {
		t.Fatalf("len(Calldata()) = %d, want 68", len(data))
	}
	if !bytes.Equal(data[:4], RefineSelector) {
		t.Errorf("selector = %x, want %x", data[:4], RefineSelector)
	}
	if !bytes.Equal(data[4:36], testTokenID.Bytes()) {
		t.Errorf("tokenId word = %x, want %x", data[4:36], testTokenID.Bytes())
	}
	if got := new(big.Int).SetBytes(data[36:68]); got.Uint64() != 5000 {
		t.Errorf("iters word = %s, want 5000", got)
	}
}

func TestRefineBuilder_Build(t *testing.T) {
	b, _ := NewRefineBuilder(testRegistry)
	gasPrice := big.NewInt(420_000_000)

	tx, err := b.Build(TxParams{
		Nonce:      9,
		GasPrice:   gasPrice,
		GasLimit:   15_000_000,
		TokenID:    testTokenID,
		Iterations: 1000,
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if tx.Type() != types.LegacyTxType {
		t.Errorf("Type() = %d, want %d", tx.Type(), types.LegacyTxType)
	}
	if tx.Nonce() != 9 {
		t.Errorf("Nonce() = %d, want 9", tx.Nonce())
	}
	if tx.Gas() != 15_000_000 {
		t.Errorf("Gas() = %d, want 15000000", tx.Gas())
	}
	if tx.GasPrice().Cmp(gasPrice) != 0 {
		t.Errorf("GasPrice() = %s, want %s", tx.GasPrice(), gasPrice)
	}
	if *tx.To() != testRegistry {
		t.Errorf("To() = %s, want %s", tx.To().Hex(), testRegistry.Hex())
	}
	if tx.Value().Sign() != 0 {
		t.Errorf("Value() = %s, want 0", tx.Value())
	}

	// The builder must not alias the caller's gas price.
	gasPrice.SetInt64(1)
	if tx.GasPrice().Int64() == 1 {
		t.Error("Build() aliases the GasPrice argument")
	}
}

func TestRefineBuilder_BuildErrors(t *testing.T) {
	b, _ := NewRefineBuilder(testRegistry)

	tests := []struct {
		name   string
		params TxParams
	}{
		{"nil gas price", TxParams{GasLimit: 1}},
		{"zero gas limit", TxParams{GasPrice: big.NewInt(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := b.Build(tt.params); err == nil {
				t.Error("Build() error = nil, want error")
			}
		})
	}
}

func TestRevertReason(t *testing.T) {
	// Error("not owner")
	data := common.FromHex("0x08c379a0" +
		"0000000000000000000000000000000000000000000000000000000000000020" +
		"0000000000000000000000000000000000000000000000000000000000000009" +
		"6e6f74206f776e65720000000000000000000000000000000000000000000000")

	if got := RevertReason(data); got != "not owner" {
		t.Errorf("RevertReason() = %q, want %q", got, "not owner")
	}
	if got := RevertReason([]byte{0x01, 0x02}); got != "" {
		t.Errorf("RevertReason(garbage) = %q, want empty", got)
	}
}
