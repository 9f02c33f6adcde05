// Package account holds the refiner's signing identity.
package account

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrInvalidPrivateKey is returned when a private key cannot be parsed.
var ErrInvalidPrivateKey = errors.New("invalid private key")

// Account holds a signing key and its address.
type Account struct {
	PrivateKey *ecdsa.PrivateKey
	Address    common.Address
}

// NewAccount creates an account from a private key.
func NewAccount(privateKey *ecdsa.PrivateKey) *Account {
	return &Account{
		PrivateKey: privateKey,
		Address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}
}

// NewAccountFromHex creates an account from a hex-encoded private key.
// A leading 0x is accepted.
func NewAccountFromHex(hexKey string) (*Account, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	privateKey, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		// The underlying error may echo key material; keep it out of the message.
		return nil, ErrInvalidPrivateKey
	}
	return NewAccount(privateKey), nil
}

// SignTx signs tx for chainID with the latest signer the chain supports.
func (a *Account) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("chain ID must be positive")
	}
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), a.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign tx: %w", err)
	}
	return signed, nil
}

// TestPrivateKey is the first Anvil/Hardhat default account. Never fund it on a real chain.
const TestPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
