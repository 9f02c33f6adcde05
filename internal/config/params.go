package config

import (
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Job parameter limits and defaults.
const (
	DefaultTxCount       = 100
	DefaultIterations    = 1000
	MaxIterationsAllowed = 5000
	TokenIDLength        = 66 // "0x" + 64 hex chars
)

// Validation errors, checked in this order.
var (
	ErrMissingParams     = errors.New("missing required parameters: burntpix id and gas price must be provided")
	ErrIterationsTooHigh = fmt.Errorf("iterations must not exceed %d", MaxIterationsAllowed)
	ErrInvalidTokenID    = fmt.Errorf("burntpix id must be a %d character hex string (0x + 32 bytes)", TokenIDLength)
)

// Environment keys for the job parameters. Each has an npm-style alias
// so invocations through package scripts keep working.
var paramKeys = struct {
	TokenID, TxCount, GasPrice, Iterations [2]string
}{
	TokenID:    [2]string{"BURNTPIX_ID", "npm_config_burntpix_id"},
	TxCount:    [2]string{"TX_COUNT", "npm_config_tx_count"},
	GasPrice:   [2]string{"GAS_PRICE", "npm_config_gas_price"},
	Iterations: [2]string{"ITERATIONS", "npm_config_iterations"},
}

// Params are the validated job parameters. Immutable after LoadParams.
type Params struct {
	TokenID      common.Hash
	TxCount      uint64
	GasPrice     *big.Int // wei
	GasPriceGwei string   // as given, for display
	Iterations   uint64
}

// rawParams holds the unparsed parameter strings.
type rawParams struct {
	TokenID    string
	TxCount    string
	GasPrice   string
	Iterations string
}

// LoadParams reads and validates job parameters from the environment.
func LoadParams(getenv func(string) string) (Params, error) {
	return readRawParams(getenv).parse()
}

func readRawParams(getenv func(string) string) rawParams {
	lookup := func(keys [2]string) string {
		for _, k := range keys {
			if v := strings.TrimSpace(getenv(k)); v != "" {
				return v
			}
		}
		return ""
	}
	return rawParams{
		TokenID:    lookup(paramKeys.TokenID),
		TxCount:    lookup(paramKeys.TxCount),
		GasPrice:   lookup(paramKeys.GasPrice),
		Iterations: lookup(paramKeys.Iterations),
	}
}

func (r rawParams) parse() (Params, error) {
	if r.TokenID == "" || r.GasPrice == "" {
		return Params{}, ErrMissingParams
	}

	iterations := uint64(DefaultIterations)
	if r.Iterations != "" {
		n, err := strconv.ParseUint(r.Iterations, 10, 64)
		if err != nil {
			return Params{}, fmt.Errorf("invalid iterations %q: %w", r.Iterations, err)
		}
		iterations = n
	}
	if iterations > MaxIterationsAllowed {
		return Params{}, ErrIterationsTooHigh
	}

	if len(r.TokenID) != TokenIDLength {
		return Params{}, ErrInvalidTokenID
	}
	raw, err := hexutil.Decode(r.TokenID)
	if err != nil {
		return Params{}, fmt.Errorf("%w: %v", ErrInvalidTokenID, err)
	}

	txCount := uint64(DefaultTxCount)
	if r.TxCount != "" {
		n, err := strconv.ParseUint(r.TxCount, 10, 64)
		if err != nil {
			return Params{}, fmt.Errorf("invalid tx count %q: %w", r.TxCount, err)
		}
		txCount = n
	}

	gasPrice, err := ParseGwei(r.GasPrice)
	if err != nil {
		return Params{}, fmt.Errorf("invalid gas price %q: %w", r.GasPrice, err)
	}

	p := Params{
		TokenID:      common.BytesToHash(raw),
		TxCount:      txCount,
		GasPrice:     gasPrice,
		GasPriceGwei: r.GasPrice,
		Iterations:   iterations,
	}
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// Validate checks invariants that hold for any Params, however constructed.
func (p Params) Validate() error {
	if p.Iterations == 0 {
		return fmt.Errorf("iterations must be positive")
	}
	if p.Iterations > MaxIterationsAllowed {
		return ErrIterationsTooHigh
	}
	if p.GasPrice == nil || p.GasPrice.Sign() < 0 {
		return fmt.Errorf("gas price must be a non-negative amount")
	}
	return nil
}

var (
	weiPerGwei = big.NewInt(1_000_000_000)
	// Plain decimal only: no sign, exponent, radix prefix or digit separators.
	gweiPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)
)

// ParseGwei converts a decimal gwei amount (e.g. "0.42") to wei.
// The result must be a whole number of wei.
func ParseGwei(s string) (*big.Int, error) {
	if strings.HasPrefix(s, "-") {
		return nil, fmt.Errorf("must not be negative")
	}
	if !gweiPattern.MatchString(s) {
		return nil, fmt.Errorf("not a decimal number")
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, fmt.Errorf("not a decimal number")
	}
	r.Mul(r, new(big.Rat).SetInt(weiPerGwei))
	if !r.IsInt() {
		return nil, fmt.Errorf("more precise than 1 wei")
	}
	return new(big.Int).Set(r.Num()), nil
}
