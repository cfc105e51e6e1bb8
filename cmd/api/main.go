package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"escrow-ledger/config"
	httpHandler "escrow-ledger/internal/adapter/http/handler"
	"escrow-ledger/internal/app"
	"escrow-ledger/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Str("storage", cfg.Storage.Driver).
		Int("port", cfg.Server.Port).
		Msg("Starting escrow ledger")

	ctx := context.Background()

	ledger, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise ledger")
	}
	defer ledger.Close()

	if cfg.Scheduler.Enabled {
		if err := ledger.Scheduler.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start sweep scheduler")
		}
	}

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		EscrowSvc:      ledger.Escrow,
		RefundSvc:      ledger.Refunds,
		DepositSvc:     ledger.Deposits,
		WithdrawalSvc:  ledger.Withdrawals,
		ReconSvc:       ledger.Reconciliation,
		ReportingSvc:   ledger.Reporting,
		Jobs:           ledger.Scheduler,
		TokenSvc:       ledger.Tokens,
		RateLimitStore: ledger.RateLimitStore,
		HealthCheckers: ledger.HealthCheckers,
		AuditSvc:       ledger.Audit,
		MetricsPath:    metricsPath(cfg.Metrics),
		Mode:           cfg.Server.Mode,
		Logger:         log,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if cfg.Scheduler.Enabled {
		ledger.Scheduler.Stop(shutdownCtx)
	}

	log.Info().Msg("Server exited")
}

func metricsPath(cfg config.MetricsConfig) string {
	if !cfg.Enabled {
		return ""
	}
	return cfg.Path
}
