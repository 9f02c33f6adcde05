// Package rpc provides JSON-RPC client functionality with retry logic.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Client is the interface for JSON-RPC communication.
type Client interface {
	// Call makes a JSON-RPC call.
	Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error)

	// SendRawTransaction sends a signed transaction and returns the hash reported by the node.
	SendRawTransaction(ctx context.Context, txRLP []byte) (string, error)

	// GetNonce fetches the pending nonce for an address.
	GetNonce(ctx context.Context, address string) (uint64, error)


	// GetBlockNumber returns the latest block number.
	GetBlockNumber(ctx context.Context) (uint64, error)

	// GetChainID returns the chain id reported by the node.
	GetChainID(ctx context.Context) (*big.Int, error)

	// GetGasPrice returns the current gas price from the node.
	GetGasPrice(ctx context.Context) (*big.Int, error)

	// GetBalance returns the balance for an address.
	GetBalance(ctx context.Context, address string) (*big.Int, error)

	// EthCall executes a message call against the latest state without creating a transaction.
	EthCall(ctx context.Context, msg CallMsg) ([]byte, error)

	// GetTransactionReceipt returns the receipt for a transaction, or nil if it is not mined yet.
	GetTransactionReceipt(ctx context.Context, txHash string) (*TransactionReceipt, error)
}

// TransactionReceipt represents an Ethereum transaction receipt.
type TransactionReceipt struct {
	TxHash            string   `json:"transactionHash"`
	Status            uint64   `json:"status"`  // 1 = success, 0 = failure
	GasUsed           uint64   `json:"gasUsed"` // Actual gas consumed
	BlockNumber       uint64   `json:"blockNumber"`
	EffectiveGasPrice *big.Int `json:"effectiveGasPrice"` // nil if the node omits it
}

// CallMsg holds the fields of an eth_call request. Empty fields are omitted.
type CallMsg struct {
	From     string
	To       string
	Gas      uint64
	GasPrice *big.Int
	Data     []byte
}

func (m CallMsg) toArg() map[string]string {
	arg := map[string]string{"to": m.To}
	if m.From != "" {
		arg["from"] = m.From
	}
	if m.Gas > 0 {
		arg["gas"] = hexutil.EncodeUint64(m.Gas)
	}
	if m.GasPrice != nil {
		arg["gasPrice"] = hexutil.EncodeBig(m.GasPrice)
	}
	if len(m.Data) > 0 {
		arg["data"] = hexutil.Encode(m.Data)
	}
	return arg
}

// JSONRPCRequest represents a JSON-RPC request.
type JSONRPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

// JSONRPCResponse represents a JSON-RPC response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
	ID      int             `json:"id"`
}

// JSONRPCError represents a JSON-RPC error.
type JSONRPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// CallObserver is notified after every JSON-RPC round trip (including retries).
type CallObserver func(method string, duration time.Duration, err error)

// ClientConfig holds configuration for the RPC client.
type ClientConfig struct {
	URL            string
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Logger         *slog.Logger
	OnCall         CallObserver
}

// DefaultClientConfig returns default configuration.
// Retries are disabled; a failed call surfaces to the caller as-is.
func DefaultClientConfig(url string) ClientConfig {
	return ClientConfig{
		URL:            url,
		Timeout:        30 * time.Second,
		MaxRetries:     0,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}
}

// HTTPClient implements Client using HTTP.
type HTTPClient struct {
	url        string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	logger     *slog.Logger
	onCall     CallObserver
}

// NewHTTPClient creates a new HTTP-based RPC client.
func NewHTTPClient(cfg ClientConfig) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:        16,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPClient{
		url: cfg.URL,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.InitialBackoff,
		maxBackoff: cfg.MaxBackoff,
		logger:     logger,
		onCall:     cfg.OnCall,
	}
}

// Call makes a JSON-RPC call with retry logic.
func (c *HTTPClient) Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	req := JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	backoff := c.backoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, c.maxBackoff)
		}

		start := time.Now()
		result, err := c.doRequest(ctx, body)
		if c.onCall != nil {
			c.onCall(method, time.Since(start), err)
		}
		if err == nil {
			return result, nil
		}

		lastErr = err

		// Don't retry on context cancellation
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		// Don't retry on RPC errors (application-level errors)
		if isRPCError(err) {
			return nil, err
		}

		if c.maxRetries == 0 {
			return nil, err
		}

		// Check if it's a retryable HTTP error (429, 502, 503, 504)
		if isRetryableHTTPError(err) {
			// Use Retry-After header if present, otherwise exponential backoff
			backoff = getRetryDelay(err, backoff)
		}
		c.logger.Debug("RPC call failed, retrying",
			slog.String("method", method),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
			slog.Duration("backoff", backoff),
		)
	}

	return nil, fmt.Errorf("all retries failed: %w", lastErr)
}

func (c *HTTPClient) doRequest(ctx context.Context, body []byte) (json.RawMessage, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// Check HTTP status code BEFORE reading/parsing body
	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		var retryAfter time.Duration
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.ParseFloat(ra, 64); err == nil {
				retryAfter = time.Duration(secs * float64(time.Second))
			}
		}
		return nil, &HTTPStatusError{
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter,
			Body:       string(errBody),
		}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var rpcResp JSONRPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		return nil, &RPCError{
			Code:    rpcResp.Error.Code,
			Message: rpcResp.Error.Message,
			Data:    rpcResp.Error.Data,
		}
	}

	return rpcResp.Result, nil
}

// RPCError is an RPC-specific error.
type RPCError struct {
	Code    int
	Message string
	Data    json.RawMessage // revert data for code 3, if any
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// ErrorCode returns the JSON-RPC error code.
func (e *RPCError) ErrorCode() int { return e.Code }

func isRPCError(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr)
}

// HTTPStatusError represents an HTTP-level error (non-2xx status).
type HTTPStatusError struct {
	StatusCode int
	RetryAfter time.Duration
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d: %s (body: %s)", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// IsRetryable returns true if this HTTP error should be retried.
func (e *HTTPStatusError) IsRetryable() bool {
	// 429 Too Many Requests, 502 Bad Gateway, 503 Service Unavailable, 504 Gateway Timeout
	return e.StatusCode == 429 || e.StatusCode == 502 ||
		e.StatusCode == 503 || e.StatusCode == 504
}

func isRetryableHTTPError(err error) bool {
	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		return httpErr.IsRetryable()
	}
	return false
}

func getRetryDelay(err error, defaultBackoff time.Duration) time.Duration {
	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) && httpErr.RetryAfter > 0 {
		return httpErr.RetryAfter
	}
	return defaultBackoff
}

// SendRawTransaction sends a signed transaction.
func (c *HTTPClient) SendRawTransaction(ctx context.Context, txRLP []byte) (string, error) {
	result, err := c.Call(ctx, "eth_sendRawTransaction", []interface{}{hexutil.Encode(txRLP)})
	if err != nil {
		return "", err
	}
	var hash string
	if err := json.Unmarshal(result, &hash); err != nil {
		return "", fmt.Errorf("failed to unmarshal tx hash: %w", err)
	}
	return hash, nil
}

// GetNonce fetches the nonce for an address, including mempool transactions.
func (c *HTTPClient) GetNonce(ctx context.Context, address string) (uint64, error) {
	return c.callUint64(ctx, "nonce", "eth_getTransactionCount", address, "pending")
}

// GetBlockNumber returns the latest block number.
func (c *HTTPClient) GetBlockNumber(ctx context.Context) (uint64, error) {
	return c.callUint64(ctx, "block number", "eth_blockNumber")
}

// GetChainID returns the chain id.
func (c *HTTPClient) GetChainID(ctx context.Context) (*big.Int, error) {
	return c.callBig(ctx, "chain id", "eth_chainId")
}

// GetGasPrice returns the current gas price from the node.
func (c *HTTPClient) GetGasPrice(ctx context.Context) (*big.Int, error) {
	return c.callBig(ctx, "gas price", "eth_gasPrice")
}

// GetBalance returns the balance for an address at the latest block.
func (c *HTTPClient) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	return c.callBig(ctx, "balance", "eth_getBalance", address, "latest")
}

// EthCall runs msg against the latest block and returns the raw return data.
func (c *HTTPClient) EthCall(ctx context.Context, msg CallMsg) ([]byte, error) {
	result, err := c.Call(ctx, "eth_call", []interface{}{msg.toArg(), "latest"})
	if err != nil {
		return nil, err
	}
	var dataHex string
	if err := json.Unmarshal(result, &dataHex); err != nil {
		return nil, fmt.Errorf("failed to unmarshal call result: %w", err)
	}
	data, err := hexutil.Decode(dataHex)
	if err != nil {
		return nil, fmt.Errorf("failed to decode call result: %w", err)
	}
	return data, nil
}

// GetTransactionReceipt returns the receipt for a transaction.
func (c *HTTPClient) GetTransactionReceipt(ctx context.Context, txHash string) (*TransactionReceipt, error) {
	result, err := c.Call(ctx, "eth_getTransactionReceipt", []any{txHash})
	if err != nil {
		return nil, err
	}

	if len(result) == 0 || string(result) == "null" {
		return nil, nil // Not found yet
	}

	var rawReceipt struct {
		TransactionHash   string `json:"transactionHash"`
		Status            string `json:"status"`
		GasUsed           string `json:"gasUsed"`
		BlockNumber       string `json:"blockNumber"`
		EffectiveGasPrice string `json:"effectiveGasPrice"`
	}
	if err := json.Unmarshal(result, &rawReceipt); err != nil {
		return nil, fmt.Errorf("failed to unmarshal receipt: %w", err)
	}

	status, err := hexutil.DecodeUint64(rawReceipt.Status)
	if err != nil {
		return nil, fmt.Errorf("failed to decode receipt status: %w", err)
	}
	gasUsed, err := hexutil.DecodeUint64(rawReceipt.GasUsed)
	if err != nil {
		return nil, fmt.Errorf("failed to decode gas used: %w", err)
	}
	blockNumber, err := hexutil.DecodeUint64(rawReceipt.BlockNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to decode block number: %w", err)
	}

	receipt := &TransactionReceipt{
		TxHash:      rawReceipt.TransactionHash,
		Status:      status,
		GasUsed:     gasUsed,
		BlockNumber: blockNumber,
	}
	if rawReceipt.EffectiveGasPrice != "" {
		if price, err := hexutil.DecodeBig(rawReceipt.EffectiveGasPrice); err == nil {
			receipt.EffectiveGasPrice = price
		}
	}
	return receipt, nil
}

func (c *HTTPClient) callUint64(ctx context.Context, what, method string, params ...interface{}) (uint64, error) {
	result, err := c.Call(ctx, method, params)
	if err != nil {
		return 0, err
	}
	var s string
	if err := json.Unmarshal(result, &s); err != nil {
		return 0, fmt.Errorf("failed to unmarshal %s: %w", what, err)
	}
	v, err := hexutil.DecodeUint64(s)
	if err != nil {
		return 0, fmt.Errorf("failed to decode %s: %w", what, err)
	}
	return v, nil
}

func (c *HTTPClient) callBig(ctx context.Context, what, method string, params ...interface{}) (*big.Int, error) {
	result, err := c.Call(ctx, method, params)
	if err != nil {
		return nil, err
	}
	var s string
	if err := json.Unmarshal(result, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", what, err)
	}
	v, err := hexutil.DecodeBig(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", what, err)
	}
	return v, nil
}
