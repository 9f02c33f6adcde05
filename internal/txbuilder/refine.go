// Package txbuilder builds BurntPix registry transactions.
package txbuilder

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// RegistryABI is the subset of the BurntPix registry used by the refiner.
const RegistryABI = `[{
	"type": "function",
	"name": "refine",
	"stateMutability": "nonpayable",
	"inputs": [
		{"name": "tokenId", "type": "bytes32"},
		{"name": "iters", "type": "uint256"}
	],
	"outputs": []
}]`

// RefineSignature is the canonical signature of the refine call.
const RefineSignature = "refine(bytes32,uint256)"

// RefineSelector is keccak256(RefineSignature)[:4].
var RefineSelector = selector(RefineSignature)

// selector computes the 4-byte function selector from signature.
func selector(sig string) []byte {
	return crypto.Keccak256([]byte(sig))[:4]
}

// TxParams holds parameters for one refine transaction.
type TxParams struct {
	Nonce      uint64
	GasPrice   *big.Int
	GasLimit   uint64
	TokenID    common.Hash
	Iterations uint64
}

// RefineBuilder encodes refine calls against a registry contract.
type RefineBuilder struct {
	registry common.Address
	abi      abi.ABI
}

// NewRefineBuilder creates a builder for the registry at addr.
func NewRefineBuilder(registry common.Address) (*RefineBuilder, error) {
	parsed, err := abi.JSON(strings.NewReader(RegistryABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse registry ABI: %w", err)
	}
	return &RefineBuilder{registry: registry, abi: parsed}, nil
}

// Registry returns the target contract address.
func (b *RefineBuilder) Registry() common.Address {
	return b.registry
}

// Calldata encodes refine(tokenID, iterations).
func (b *RefineBuilder) Calldata(tokenID common.Hash, iterations uint64) ([]byte, error) {
	data, err := b.abi.Pack("refine", [32]byte(tokenID), new(big.Int).SetUint64(iterations))
	if err != nil {
		return nil, fmt.Errorf("failed to encode refine call: %w", err)
	}
	return data, nil
}

// Build creates an unsigned legacy refine transaction.
func (b *RefineBuilder) Build(params TxParams) (*types.Transaction, error) {
	if params.GasPrice == nil {
		return nil, errors.New("gas price is required")
	}
	if params.GasLimit == 0 {
		return nil, errors.New("gas limit must be positive")
	}
	data, err := b.Calldata(params.TokenID, params.Iterations)
	if err != nil {
		return nil, err
	}
	return NewLegacyCallTx(params.Nonce, b.registry, params.GasLimit, params.GasPrice, data), nil
}

// RevertReason extracts the Error(string) message from revert data.
// It returns "" when data carries no standard reason.
func RevertReason(data []byte) string {
	reason, err := abi.UnpackRevert(data)
	if err != nil {
		return ""
	}
	return reason
}
