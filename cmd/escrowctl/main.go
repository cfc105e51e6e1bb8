// Command escrowctl runs ledger sweeps and refund decisions by hand and
// mints operator tokens.
package main

import (
	"context"
	"fmt"
	"os"

	"escrow-ledger/config"
	"escrow-ledger/internal/app"
	"escrow-ledger/internal/core/ports"
	"escrow-ledger/pkg/logger"
)

var Version = "dev"

func main() {
	root := newRootCmd(openLedger)
	root.Version = Version
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// ledgerOps is what the commands need from a wired ledger.
type ledgerOps struct {
	jobs      ports.JobRunner
	refunds   ports.RefundService
	reporting ports.ReportingService
	wallets   ports.WalletRepository
	tokens    ports.TokenService
	close     func()
}

type opener func(ctx context.Context, configPath string) (*ledgerOps, error)

func openLedger(ctx context.Context, configPath string) (*ledgerOps, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	ledger, err := app.New(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return &ledgerOps{
		jobs:      ledger.Scheduler,
		refunds:   ledger.Refunds,
		reporting: ledger.Reporting,
		wallets:   ledger.Wallets,
		tokens:    ledger.Tokens,
		close:     ledger.Close,
	}, nil
}
