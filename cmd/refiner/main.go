package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gateway-fm/refiner/internal/account"
	"github.com/gateway-fm/refiner/internal/chain"
	"github.com/gateway-fm/refiner/internal/config"
	"github.com/gateway-fm/refiner/internal/display"
	"github.com/gateway-fm/refiner/internal/metrics"
	"github.com/gateway-fm/refiner/internal/refine"
	"github.com/gateway-fm/refiner/internal/rpc"
	"github.com/gateway-fm/refiner/internal/storage"
	"github.com/gateway-fm/refiner/internal/transport"
	"github.com/gateway-fm/refiner/internal/txbuilder"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := config.LoadDotEnv(config.DefaultDotEnvFile); err != nil {
		fail(err)
	}
	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if err != nil {
		fail(err)
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		fail(err)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, cfg, logger)
	stop()
	closeLog()
	os.Exit(code)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "❌ %v\n", err)
	os.Exit(1)
}

// newLogger builds the JSON logger. Output goes to LOG_FILE when set so the
// terminal display is left alone.
func newLogger(cfg *config.Config) (*slog.Logger, func(), error) {
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	var out io.Writer = os.Stderr
	closeFn := func() {}
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = f
		closeFn = func() { _ = f.Close() }
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})), closeFn, nil
}

func jobFromConfig(cfg *config.Config) refine.Job {
	return refine.Job{
		TokenID:         cfg.TokenID,
		Registry:        cfg.Registry,
		TxCount:         cfg.TxCount,
		IterationsPerTx: cfg.Iterations,
		GasPrice:        cfg.GasPrice,
		GasLimit:        cfg.GasLimit,
		Simulate:        cfg.Simulate,
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) int {
	prom := metrics.NewPrometheusMetrics(prometheus.DefaultRegisterer)

	rpcCfg := rpc.DefaultClientConfig(cfg.RPCURL)
	rpcCfg.Timeout = cfg.RPCTimeout
	rpcCfg.MaxRetries = cfg.RPCMaxRetries
	rpcCfg.Logger = logger
	rpcCfg.OnCall = prom.RecordRPCLatency
	client := rpc.NewHTTPClient(rpcCfg)

	acc, err := account.NewAccountFromHex(cfg.PrivateKey)
	if err != nil {
		return report(err)
	}
	chainID, err := chain.ResolveChainID(ctx, client, cfg.ChainID)
	if err != nil {
		return report(err)
	}
	builder, err := txbuilder.NewRefineBuilder(cfg.Registry)
	if err != nil {
		return report(err)
	}
	chainClient, err := chain.New(chain.Config{
		RPC:          client,
		Account:      acc,
		Builder:      builder,
		ChainID:      chainID,
		PollInterval: cfg.ReceiptPollInterval,
		Logger:       logger,
	})
	if err != nil {
		return report(err)
	}

	if network, below, err := chainClient.CheckGasPrice(ctx, cfg.GasPrice); err != nil {
		logger.Debug("gas price check skipped", slog.String("error", err.Error()))
	} else if below {
		logger.Warn("gas price is below the network price",
			slog.String("gasPriceGwei", display.FormatGwei(cfg.GasPrice)),
			slog.String("networkGwei", display.FormatGwei(network)),
		)
	}

	interactive, width := display.DetectTerminal(os.Stdout)
	renderer := display.NewRenderer(display.Options{
		Out:         os.Stdout,
		Interactive: interactive,
		Width:       width,
		Currency:    cfg.CurrencySymbol,
		Logger:      logger,
	})
	tracker := transport.NewTracker()
	observers := refine.Observers{renderer, prom, tracker}

	var history transport.History
	if cfg.DatabasePath != "" {
		store, err := storage.NewSQLiteStorage(cfg.DatabasePath)
		if err != nil {
			return report(err)
		}
		defer store.Close()
		history = store
		observers = append(observers, storage.NewRecorder(store, logger))
		logger.Info("run history enabled", slog.String("path", cfg.DatabasePath))
	}

	if cfg.ListenAddr != "" {
		api := transport.NewServer(transport.ServerConfig{
			Status:  tracker,
			Events:  tracker,
			History: history,
			Health: transport.HealthCheckFunc(func(ctx context.Context) error {
				_, err := client.GetBlockNumber(ctx)
				return err
			}),
			Gatherer: prometheus.DefaultGatherer,
			Logger:   logger,
		})
		defer api.Close()

		srv := &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           api.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("status API listening", slog.String("addr", cfg.ListenAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status API failed", slog.String("error", err.Error()))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	driver := refine.New(chainClient,
		refine.WithObserver(observers),
		refine.WithIterationSource(refine.FixedIterations(cfg.StartingIterations)),
		refine.WithLogger(logger),
	)
	result, err := driver.Run(ctx, jobFromConfig(cfg))
	if err != nil {
		// The display already reported failures of a started run.
		if result == nil {
			return report(err)
		}
		logger.Info("refining stopped",
			slog.String("status", string(refine.StatusOf(err))),
			slog.String("kind", refine.KindOf(err).String()),
			slog.String("error", err.Error()),
		)
		return 1
	}
	return 0
}

func report(err error) int {
	fmt.Fprintf(os.Stderr, "❌ %v\n", err)
	return 1
}
