package refine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gateway-fm/refiner/pkg/types"
)

// ErrorKind is a coarse classification of a chain error.
type ErrorKind int

const (
	KindUnclassified ErrorKind = iota
	KindInsufficientFunds
	KindReverted
	KindNonceTooLow
	KindUnderpriced
	KindIntrinsicGas
	KindGasLimit
)

func (k ErrorKind) String() string {
	switch k {
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindReverted:
		return "reverted"
	case KindNonceTooLow:
		return "nonce_too_low"
	case KindUnderpriced:
		return "underpriced"
	case KindIntrinsicGas:
		return "intrinsic_gas"
	case KindGasLimit:
		return "gas_limit"
	default:
		return "unclassified"
	}
}

// ErrTxReverted is returned when a mined receipt has a failure status.
var ErrTxReverted = errors.New("transaction reverted on chain")

// revertCode is the JSON-RPC error code nodes use for execution reverts.
const revertCode = 3

// signatures map lower-cased message fragments to kinds. First match wins,
// so the more specific fragments come first.
var signatures = []struct {
	kind      ErrorKind
	fragments []string
}{
	{KindInsufficientFunds, []string{"insufficient funds", "insufficient balance"}},
	{KindNonceTooLow, []string{"nonce too low", "nonce has already been used", "already known"}},
	{KindUnderpriced, []string{"underpriced", "fee cap less than block base fee", "max fee per gas less than block base fee"}},
	{KindIntrinsicGas, []string{"intrinsic gas too low"}},
	{KindGasLimit, []string{"exceeds block gas limit", "gas limit reached", "gas required exceeds allowance", "out of gas"}},
	{KindReverted, []string{"execution reverted", "revert"}},
}

// Classify maps err to an ErrorKind by its message and, when available,
// its JSON-RPC error code.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnclassified
	}

	msg := strings.ToLower(err.Error())
	for _, sig := range signatures {
		for _, frag := range sig.fragments {
			if strings.Contains(msg, frag) {
				return sig.kind
			}
		}
	}

	var coded interface{ ErrorCode() int }
	if errors.As(err, &coded) && coded.ErrorCode() == revertCode {
		return KindReverted
	}
	if errors.Is(err, ErrTxReverted) {
		return KindReverted
	}
	return KindUnclassified
}

// SimulationError is returned when the dry run of transaction Index fails.
// No transaction was submitted for Index.
type SimulationError struct {
	Index int
	Kind  ErrorKind
	Err   error
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("simulation of tx %d failed (%s): %v", e.Index, e.Kind, e.Err)
}

func (e *SimulationError) Unwrap() error { return e.Err }

// Stage identifies where a transaction failed after simulation.
type Stage string

const (
	StageSubmit  Stage = "submit"
	StageConfirm Stage = "confirm"
)

// TxError is returned when transaction Index fails to submit or confirm.
type TxError struct {
	Index int
	Stage Stage
	Kind  ErrorKind
	Hash  string // empty if the submission itself failed
	Err   error
}

func (e *TxError) Error() string {
	if e.Hash != "" {
		return fmt.Sprintf("tx %d: %s %s: %v", e.Index, e.Stage, e.Hash, e.Err)
	}
	return fmt.Sprintf("tx %d: %s: %v", e.Index, e.Stage, e.Err)
}

func (e *TxError) Unwrap() error { return e.Err }

// KindOf returns the classification carried by err, or Classify(err).
func KindOf(err error) ErrorKind {
	var simErr *SimulationError
	if errors.As(err, &simErr) {
		return simErr.Kind
	}
	var txErr *TxError
	if errors.As(err, &txErr) {
		return txErr.Kind
	}
	return Classify(err)
}

// StatusOf maps a Run error to the run status reported by the status API.
func StatusOf(err error) types.RunStatus {
	var simErr *SimulationError
	switch {
	case err == nil:
		return types.StatusCompleted
	case errors.As(err, &simErr), errors.Is(err, context.Canceled):
		return types.StatusAborted
	default:
		return types.StatusError
	}
}
