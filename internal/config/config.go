// Package config handles configuration loading and validation.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Config holds refiner configuration: the job parameters plus everything
// needed to reach the chain and expose run state.
type Config struct {
	Params

	RPCURL              string
	PrivateKey          string
	Registry            common.Address
	ChainID             int64 // 0 = query eth_chainId
	GasLimit            uint64
	Simulate            bool
	StartingIterations  uint64
	ReceiptPollInterval time.Duration
	RPCTimeout          time.Duration
	RPCMaxRetries       int
	DatabasePath        string // empty = no run history
	ListenAddr          string // empty = no status API
	LogLevel            string
	LogFile             string // empty = stderr
	CurrencySymbol      string
}

// Defaults
const (
	DefaultRPCURL              = "https://rpc.mainnet.lukso.network"
	DefaultRegistryAddress     = "0x3983151E0442906000DAb83c8b1cF3f2D2535F82"
	DefaultGasLimit            = 15_000_000
	DefaultReceiptPollInterval = time.Second
	DefaultRPCTimeout          = 30 * time.Second
	DefaultRPCMaxRetries       = 0
	DefaultLogLevel            = "warn"
	DefaultCurrencySymbol      = "LYX"
	DefaultDotEnvFile          = ".env"
)

// LoadDotEnv loads variables from path into the process environment if the
// file exists. Variables already set are not overridden.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load reads configuration from environment variables and command-line flags.
// Command-line flags take precedence over environment variables.
func Load(args []string, getenv func(string) string) (*Config, error) {
	cfg := &Config{
		RPCURL:              DefaultRPCURL,
		Registry:            common.HexToAddress(DefaultRegistryAddress),
		GasLimit:            DefaultGasLimit,
		Simulate:            true,
		ReceiptPollInterval: DefaultReceiptPollInterval,
		RPCTimeout:          DefaultRPCTimeout,
		RPCMaxRetries:       DefaultRPCMaxRetries,
		LogLevel:            DefaultLogLevel,
		CurrencySymbol:      DefaultCurrencySymbol,
	}

	// Load from environment variables first
	if v := getenv("RPC_URL"); v != "" {
		cfg.RPCURL = v
	}
	cfg.PrivateKey = getenv("PRIVATE_KEY")
	registry := getenv("REGISTRY_ADDRESS")
	if registry == "" {
		registry = DefaultRegistryAddress
	}
	if v := getenv("CHAIN_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid CHAIN_ID %q: %w", v, err)
		}
		cfg.ChainID = id
	}
	if v := getenv("GAS_LIMIT"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid GAS_LIMIT %q: %w", v, err)
		}
		cfg.GasLimit = n
	}
	if v := getenv("SIMULATE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SIMULATE %q: %w", v, err)
		}
		cfg.Simulate = b
	}
	if v := getenv("STARTING_ITERATIONS"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid STARTING_ITERATIONS %q: %w", v, err)
		}
		cfg.StartingIterations = n
	}
	if v := getenv("RECEIPT_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid RECEIPT_POLL_INTERVAL %q: %w", v, err)
		}
		cfg.ReceiptPollInterval = d
	}
	if v := getenv("RPC_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid RPC_TIMEOUT %q: %w", v, err)
		}
		cfg.RPCTimeout = d
	}
	if v := getenv("RPC_MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid RPC_MAX_RETRIES %q: %w", v, err)
		}
		cfg.RPCMaxRetries = n
	}
	cfg.DatabasePath = getenv("DATABASE_PATH")
	cfg.ListenAddr = getenv("LISTEN_ADDR")
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	cfg.LogFile = getenv("LOG_FILE")
	if v := getenv("CURRENCY_SYMBOL"); v != "" {
		cfg.CurrencySymbol = v
	}

	raw := readRawParams(getenv)

	// Define command-line flags
	flags := flag.NewFlagSet("refiner", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	var (
		tokenID    = flags.String("burntpix-id", raw.TokenID, "BurntPix token id (0x + 64 hex chars)")
		txCount    = flags.String("tx-count", raw.TxCount, "Number of refine transactions to send")
		gasPrice   = flags.String("gas-price", raw.GasPrice, "Gas price in gwei")
		iterations = flags.String("iterations", raw.Iterations, "Iterations per transaction (max 5000)")
		rpcURL     = flags.String("rpc", cfg.RPCURL, "JSON-RPC endpoint URL")
		regFlag    = flags.String("registry", registry, "BurntPix registry contract address")
		chainID    = flags.Int64("chainid", cfg.ChainID, "Chain ID (0 = query node)")
		gasLimit   = flags.Uint64("gaslimit", cfg.GasLimit, "Gas limit per transaction")
		simulate   = flags.Bool("simulate", cfg.Simulate, "Simulate each call before submitting")
		startIters = flags.Uint64("starting-iterations", cfg.StartingIterations, "Iterations already applied to the token")
		dbPath     = flags.String("db", cfg.DatabasePath, "SQLite run history path (empty = disabled)")
		listenAddr = flags.String("listen", cfg.ListenAddr, "Status API listen address (empty = disabled)")
		logLevel   = flags.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
		logFile    = flags.String("log-file", cfg.LogFile, "Log file path (empty = stderr)")
	)

	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	// Apply flags to config
	cfg.RPCURL = *rpcURL
	cfg.ChainID = *chainID
	cfg.GasLimit = *gasLimit
	cfg.Simulate = *simulate
	cfg.StartingIterations = *startIters
	cfg.DatabasePath = *dbPath
	cfg.ListenAddr = *listenAddr
	cfg.LogLevel = *logLevel
	cfg.LogFile = *logFile

	params, err := rawParams{
		TokenID:    strings.TrimSpace(*tokenID),
		TxCount:    strings.TrimSpace(*txCount),
		GasPrice:   strings.TrimSpace(*gasPrice),
		Iterations: strings.TrimSpace(*iterations),
	}.parse()
	if err != nil {
		return nil, err
	}
	cfg.Params = params

	if !common.IsHexAddress(*regFlag) {
		return nil, fmt.Errorf("invalid registry address %q", *regFlag)
	}
	cfg.Registry = common.HexToAddress(*regFlag)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Params.Validate(); err != nil {
		return err
	}
	if c.RPCURL == "" {
		return fmt.Errorf("RPC URL is required")
	}
	if c.PrivateKey == "" {
		return fmt.Errorf("PRIVATE_KEY is required")
	}
	if c.ChainID < 0 {
		return fmt.Errorf("chain ID cannot be negative")
	}
	if c.GasLimit == 0 {
		return fmt.Errorf("gas limit must be positive")
	}
	if c.ReceiptPollInterval <= 0 {
		return fmt.Errorf("receipt poll interval must be positive")
	}
	if c.RPCTimeout <= 0 {
		return fmt.Errorf("RPC timeout must be positive")
	}
	if c.RPCMaxRetries < 0 {
		return fmt.Errorf("RPC max retries cannot be negative")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLogLevel maps a LOG_LEVEL value to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q (supported: debug, info, warn, error)", s)
	}
}
