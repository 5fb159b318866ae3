// Command server runs the payment authorization and settlement service: the
// HTTP API, the outbound webhook dispatcher, the wallet monitor and the
// periodic expiry sweeps.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/averix/go-payments-backend/internal/chain"
	"github.com/averix/go-payments-backend/internal/config"
	httpapi "github.com/averix/go-payments-backend/internal/http"
	"github.com/averix/go-payments-backend/internal/money"
	"github.com/averix/go-payments-backend/internal/observability"
	"github.com/averix/go-payments-backend/internal/processor"
	"github.com/averix/go-payments-backend/internal/repo"
	"github.com/averix/go-payments-backend/internal/services"
	"github.com/averix/go-payments-backend/internal/sysutil"
	"github.com/averix/go-payments-backend/internal/webhook"
)

const version = "1.0.0"

func main() {
	// .env is optional; real deployments use the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	gin.SetMode(cfg.GinMode)

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		if err := shutdownOTel(context.Background()); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	if cfg.OTEL.Enabled {
		if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
			log.Warn().Err(err).Msg("gorm tracing plugin")
		}
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate schema")
	}

	networks := map[string]chain.NetworkConfig{
		cfg.Chain.Network: {
			Name:           cfg.Chain.Network,
			ChainID:        cfg.Chain.ChainID,
			RPCEndpoint:    cfg.Chain.RPCEndpoint,
			AssetContracts: cfg.Chain.AssetContracts,
		},
	}
	rpc := chain.NewRPCClient(networks, nil)
	watcher := chain.NewWatcher(rpc, chain.WatcherConfig{})
	verifier := chain.NewVerifier(networks, watcher)

	monitor := startWalletMonitor(ctx, rpc, cfg)
	executor := buildRefundExecutor(rpc, networks, cfg)

	dispatcher := webhook.NewDispatcher(db, webhook.Config{
		PollInterval:   cfg.Webhook.PollInterval,
		InitialBackoff: cfg.Webhook.Backoff,
		MaxBackoff:     cfg.Webhook.MaxBackoff,
	}, func(tenantID string) string { return cfg.Webhook.Secrets[tenantID] }, nil)
	go dispatcher.Run(ctx)

	go runSweeps(ctx, db, cfg)

	deps := httpapi.Deps{
		Assets:   money.DefaultRegistry(),
		Verifier: verifier,
		Executor: executor,
		Networks: networks,
	}
	if monitor != nil {
		deps.Wallets = monitor
	}

	r := gin.New()
	httpapi.RegisterRoutes(r, db, deps, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server shutdown")
	}
}

// startWalletMonitor samples the settlement wallet balances when an RPC
// endpoint is configured. Returns nil otherwise.
func startWalletMonitor(ctx context.Context, rpc chain.Client, cfg config.Config) *chain.Monitor {
	if cfg.Chain.RPCEndpoint == "" || cfg.Chain.PayTo == "" {
		return nil
	}
	wallets := make([]chain.WatchedWallet, 0, len(cfg.Chain.AssetContracts))
	for code, contract := range cfg.Chain.AssetContracts {
		wallets = append(wallets, chain.WatchedWallet{
			Name:           "settlement-" + code,
			Network:        cfg.Chain.Network,
			Address:        cfg.Chain.PayTo,
			AssetContract:  contract,
			LowAtomic:      cfg.Chain.WalletLow,
			CriticalAtomic: cfg.Chain.WalletCritical,
		})
	}
	monitor := chain.NewMonitor(rpc, wallets, cfg.Chain.MonitorEvery, func(s chain.WalletStatus) {
		log.Warn().
			Str("wallet", s.Wallet).
			Str("tier", s.Tier).
			Str("balance_atomic", s.BalanceAtomic).
			Msg("wallet balance tier changed")
	})
	go monitor.Run(ctx)
	return monitor
}

// buildRefundExecutor wires the per-rail refund paths from configuration.
// Missing rail config leaves that rail nil; approving such a refund fails
// cleanly instead of at startup.
func buildRefundExecutor(rpc *chain.RPCClient, networks map[string]chain.NetworkConfig, cfg config.Config) services.RefundExecutor {
	exec := &services.RailRefundExecutor{}
	if cfg.Processor.BaseURL != "" {
		exec.Card = processor.NewRefundClient(cfg.Processor.BaseURL, cfg.Processor.Secret)
	}
	if cfg.Chain.WalletKey != "" && cfg.Chain.RPCEndpoint != "" {
		signer, err := chain.NewLocalSigner(cfg.Chain.WalletKey, networks)
		if err != nil {
			log.Fatal().Err(err).Msg("wallet key")
		}
		builder := chain.NewGaslessBuilder(rpc, networks, signer.Address())
		exec.OnChain = chain.NewRefunder(networks, cfg.Chain.Network, signer.Address(), builder, signer, rpc)
	}
	return exec
}

// runSweeps periodically clears expired quotes and idempotency records and
// archives settlements past the retention window.
func runSweeps(ctx context.Context, db *gorm.DB, cfg config.Config) {
	ticker := time.NewTicker(cfg.Payments.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		now := time.Now().UTC()
		if n, err := repo.DeleteExpiredQuotes(ctx, db, now); err != nil {
			log.Warn().Err(err).Msg("quote sweep")
		} else if n > 0 {
			log.Debug().Int64("deleted", n).Msg("expired quotes removed")
		}
		if _, err := repo.PurgeExpiredIdempotency(ctx, db, now); err != nil {
			log.Warn().Err(err).Msg("idempotency sweep")
		}
		if n, err := repo.ArchiveSettlementsBefore(ctx, db, now.Add(-cfg.Payments.Retention), now); err != nil {
			log.Warn().Err(err).Msg("settlement archive sweep")
		} else if n > 0 {
			log.Info().Int64("archived", n).Msg("settlements archived")
		}
	}
}
