package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tiersale/config"
	"tiersale/core"
	"tiersale/core/state"
	"tiersale/native/tier"
	"tiersale/observability"
	"tiersale/observability/logging"
	telemetry "tiersale/observability/otel"
	"tiersale/rpc"
	"tiersale/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	dataDirFlag := flag.String("datadir", "", "Override the data directory from the configuration file")
	allowMigrateFlag := flag.Bool("allow-migrate", false, "Allow starting with a mismatched state schema (manual migrations only)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if dir := strings.TrimSpace(*dataDirFlag); dir != "" {
		cfg.DataDir = dir
	}

	logger, closer := logging.Setup("saled", cfg.Log.Env, logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	defer closer.Close()

	if err := run(cfg, logger, *allowMigrateFlag); err != nil {
		logger.Error("saled exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, allowMigrate bool) error {
	saleCfg, err := cfg.Global.SaleConfig()
	if err != nil {
		return fmt.Errorf("global config: %w", err)
	}

	endpoint := cfg.Telemetry.Endpoint
	if env := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); env != "" {
		endpoint = env
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "saled",
		Environment: cfg.Log.Env,
		Network:     cfg.NetworkName,
		Endpoint:    endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.MergeHeaders(cfg.Telemetry.Headers, telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			logger.Warn("telemetry shutdown", slog.Any("error", err))
		}
	}()
	if cfg.Telemetry.Enabled() {
		logger.Info("telemetry enabled",
			slog.String("endpoint", endpoint),
			slog.Bool("traces", cfg.Telemetry.Traces),
			slog.Bool("metrics", cfg.Telemetry.Metrics))
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := state.EnsureStateVersion(db, allowMigrate); err != nil {
		return err
	}

	oracle := tier.NewOracle(db)
	nfts := tier.NewCollection()
	if path := strings.TrimSpace(cfg.TierFixtures); path != "" {
		fixtures, err := tier.LoadFixtures(path)
		if err != nil {
			return err
		}
		if err := fixtures.Apply(oracle, saleCfg.TierContract, nfts, saleCfg.NftContract); err != nil {
			return fmt.Errorf("apply tier fixtures: %w", err)
		}
		logger.Info("tier fixtures applied",
			slog.String("path", path),
			slog.Int("tiers", len(fixtures.Tiers)),
			slog.Int("nfts", len(fixtures.NFTs)))
	}

	node := core.NewNode(db, cfg.Custody())
	node.SetLogger(logger.With(slog.String("component", "node")))
	node.SetMetrics(observability.Sale())
	node.SetTierOracle(oracle)
	node.SetNFTContract(nfts)

	applied, err := node.InitSale(saleCfg)
	if err != nil {
		return fmt.Errorf("initialise sale config: %w", err)
	}
	if applied {
		logger.Info("sale platform initialised", slog.String("owner", saleCfg.Owner.Hex()), slog.Int("tiers", saleCfg.Tiers()))
	}
	if count, err := node.SaleCount(); err == nil {
		observability.Sale().SetSales(count)
	}

	token := strings.TrimSpace(os.Getenv(cfg.RPC.AuthTokenEnv))
	if token == "" {
		logger.Warn("RPC auth token not set; state-changing methods are disabled", slog.String("env", cfg.RPC.AuthTokenEnv))
	}
	server := rpc.NewServer(node, rpc.ServerConfig{
		AuthToken:          token,
		RateLimitPerSecond: cfg.RPC.RateLimitPerSecond,
		RateBurst:          cfg.RPC.RateBurst,
		TrustedProxies:     cfg.RPC.TrustedProxies,
		MaxBodyBytes:       cfg.RPC.MaxBodyBytes,
		ReadHeaderTimeout:  seconds(cfg.RPC.ReadHeaderTimeout),
		ReadTimeout:        seconds(cfg.RPC.ReadTimeout),
		WriteTimeout:       seconds(cfg.RPC.WriteTimeout),
		IdleTimeout:        seconds(cfg.RPC.IdleTimeout),
		EnableFaucet:       cfg.RPC.EnableFaucet,
	}, logger.With(slog.String("component", "rpc")))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() {
		if err := server.Start(cfg.RPCAddress); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("rpc server: %w", err)
		}
	}()

	var metricsServer *http.Server
	if addr := strings.TrimSpace(cfg.MetricsAddress); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("starting metrics server", slog.String("addr", addr))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	logger.Info("saled running",
		slog.String("network", cfg.NetworkName),
		slog.String("rpc", cfg.RPCAddress),
		slog.String("custody", cfg.Custody().Hex()),
		slog.Bool("faucet", cfg.RPC.EnableFaucet))

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("rpc shutdown", slog.Any("error", err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics shutdown", slog.Any("error", err))
		}
	}
	return runErr
}

func seconds(v int) time.Duration {
	return time.Duration(v) * time.Second
}
