// Package chain implements the refine driver's blockchain collaborator on
// top of the JSON-RPC client.
package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/gateway-fm/refiner/internal/account"
	"github.com/gateway-fm/refiner/internal/refine"
	"github.com/gateway-fm/refiner/internal/rpc"
	"github.com/gateway-fm/refiner/internal/txbuilder"
)

// DefaultPollInterval is how often WaitMined asks for a receipt.
const DefaultPollInterval = time.Second

// Config holds the collaborators of a Client.
type Config struct {
	RPC          rpc.Client
	Account      *account.Account
	Builder      *txbuilder.RefineBuilder
	ChainID      *big.Int
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Client implements refine.Chain.
type Client struct {
	rpc          rpc.Client
	account      *account.Account
	builder      *txbuilder.RefineBuilder
	chainID      *big.Int
	pollInterval time.Duration
	logger       *slog.Logger
}

var _ refine.Chain = (*Client)(nil)

// New creates a chain client.
func New(cfg Config) (*Client, error) {
	if cfg.RPC == nil || cfg.Account == nil || cfg.Builder == nil {
		return nil, errors.New("rpc client, account and builder are required")
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, errors.New("chain ID must be positive")
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		rpc:          cfg.RPC,
		account:      cfg.Account,
		builder:      cfg.Builder,
		chainID:      new(big.Int).Set(cfg.ChainID),
		pollInterval: poll,
		logger:       logger,
	}, nil
}

// ResolveChainID returns configured if positive, otherwise asks the node.
func ResolveChainID(ctx context.Context, client rpc.Client, configured int64) (*big.Int, error) {
	if configured > 0 {
		return big.NewInt(configured), nil
	}
	id, err := client.GetChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chain ID: %w", err)
	}
	return id, nil
}

// Address returns the signer address.
func (c *Client) Address() common.Address {
	return c.account.Address
}

// Balance returns the balance of addr at the latest block.
func (c *Client) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	return c.rpc.GetBalance(ctx, addr.Hex())
}

// PendingNonce returns the next nonce for addr, counting mempool transactions.
func (c *Client) PendingNonce(ctx context.Context, addr common.Address) (uint64, error) {
	return c.rpc.GetNonce(ctx, addr.Hex())
}

// CheckGasPrice compares price with the node's eth_gasPrice. below reports
// whether price is under the network price.
func (c *Client) CheckGasPrice(ctx context.Context, price *big.Int) (network *big.Int, below bool, err error) {
	network, err = c.rpc.GetGasPrice(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to fetch gas price: %w", err)
	}
	return network, price.Cmp(network) < 0, nil
}

// Simulate dry-runs the refine call with eth_call from the signer.
func (c *Client) Simulate(ctx context.Context, call refine.Call) error {
	data, err := c.builder.Calldata(call.TokenID, call.Iterations)
	if err != nil {
		return err
	}
	_, err = c.rpc.EthCall(ctx, rpc.CallMsg{
		From:     c.account.Address.Hex(),
		To:       c.builder.Registry().Hex(),
		Gas:      call.GasLimit,
		GasPrice: call.GasPrice,
		Data:     data,
	})
	if err != nil {
		return withRevertReason(err)
	}
	return nil
}

// Submit builds, signs and broadcasts the refine transaction.
func (c *Client) Submit(ctx context.Context, call refine.Call) (common.Hash, error) {
	tx, err := c.builder.Build(txbuilder.TxParams{
		Nonce:      call.Nonce,
		GasPrice:   call.GasPrice,
		GasLimit:   call.GasLimit,
		TokenID:    call.TokenID,
		Iterations: call.Iterations,
	})
	if err != nil {
		return common.Hash{}, err
	}
	signed, err := c.account.SignTx(tx, c.chainID)
	if err != nil {
		return common.Hash{}, err
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode tx: %w", err)
	}

	hash := signed.Hash()
	reported, err := c.rpc.SendRawTransaction(ctx, raw)
	if err != nil {
		return common.Hash{}, err
	}
	if reported != "" && !strings.EqualFold(reported, hash.Hex()) {
		c.logger.Warn("node reported a different tx hash",
			slog.String("local", hash.Hex()),
			slog.String("node", reported),
		)
	}
	return hash, nil
}

// WaitMined polls for the receipt of hash until it exists or ctx is done.
// A node error while polling is returned as-is; there is no retry.
func (c *Client) WaitMined(ctx context.Context, hash common.Hash) (*refine.Receipt, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.rpc.GetTransactionReceipt(ctx, hash.Hex())
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to fetch receipt: %w", err)
		}
		if receipt != nil {
			return &refine.Receipt{
				TxHash:      hash,
				BlockNumber: receipt.BlockNumber,
				GasUsed:     receipt.GasUsed,
				Status:      receipt.Status,
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// withRevertReason appends the decoded Error(string) reason, if any.
func withRevertReason(err error) error {
	var rpcErr *rpc.RPCError
	if !errors.As(err, &rpcErr) || len(rpcErr.Data) == 0 {
		return err
	}
	var dataHex string
	if json.Unmarshal(rpcErr.Data, &dataHex) != nil {
		return err
	}
	data, decErr := hexutil.Decode(dataHex)
	if decErr != nil {
		return err
	}
	if reason := txbuilder.RevertReason(data); reason != "" {
		return fmt.Errorf("%w: %s", err, reason)
	}
	return err
}
