// Package app assembles the ledger services from configuration. Both the API
// server and the operator CLI build on it.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"escrow-ledger/config"
	"escrow-ledger/internal/adapter/alert"
	"escrow-ledger/internal/adapter/gateway"
	"escrow-ledger/internal/adapter/gateway/cardpay"
	"escrow-ledger/internal/adapter/gateway/catalog"
	"escrow-ledger/internal/adapter/gateway/fiscal"
	"escrow-ledger/internal/adapter/gateway/payout"
	"escrow-ledger/internal/adapter/storage/memory"
	pgStorage "escrow-ledger/internal/adapter/storage/postgres"
	redisStorage "escrow-ledger/internal/adapter/storage/redis"
	"escrow-ledger/internal/core/ports"
	"escrow-ledger/internal/scheduler"
	"escrow-ledger/internal/service"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	serviceName     = "escrow-ledger"
	redisMaxPingRTT = 500 * time.Millisecond
)

// App holds the wired services and the resources they own.
type App struct {
	Escrow         *service.EscrowServiceImpl
	Refunds        *service.RefundServiceImpl
	Deposits       *service.DepositServiceImpl
	Withdrawals    *service.WithdrawalServiceImpl
	Reconciliation *service.ReconciliationServiceImpl
	Reporting      ports.ReportingService
	Sweeps         *service.SweepServiceImpl
	Scheduler      *scheduler.Scheduler
	Audit          *service.AuditServiceImpl
	Receipts       *service.ReceiptServiceImpl
	Tokens         *service.JWTTokenService
	Wallets        ports.WalletRepository

	RateLimitStore *redisStorage.RateLimitStore // nil without redis
	HealthCheckers []ports.HealthChecker

	closers []func()
	log     zerolog.Logger
}

type stores struct {
	wallets    ports.WalletRepository
	txns       ports.TransactionRepository
	frozen     ports.FrozenFundsRepository
	purchases  ports.PurchaseRepository
	refunds    ports.RefundRepository
	banks      ports.BankRepository
	audit      ports.AuditRepository
	transactor ports.DBTransactor
	health     ports.HealthChecker
	// catalog is set by drivers that can serve items without the catalogue API.
	catalog ports.ItemCatalog
}

// New connects the configured storage, Redis and provider clients and wires
// every service.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{log: log}

	st, err := a.openStorage(ctx, cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Wallets = st.wallets
	a.HealthCheckers = append(a.HealthCheckers, st.health)

	var (
		idempCache ports.IdempotencyCache
		jobLock    ports.JobLock
	)
	if cfg.Storage.Driver != "memory" {
		rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		idempCache, jobLock = redisStores(rdb, a)
	}

	escrowCfg, minWithdrawal, err := ledgerSettings(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	alerter := alert.New(cfg.Kafka, serviceName, log)
	a.closers = append(a.closers, func() {
		if err := alerter.Close(); err != nil {
			log.Warn().Err(err).Msg("closing alerter")
		}
	})

	card := cardpay.NewClient(cfg.CardPay, gateway.NewHTTPClient(cfg.CardPay.Timeout), log)
	payouts := payout.NewClient(cfg.Payout, gateway.NewHTTPClient(cfg.Payout.Timeout), log)
	items, err := itemCatalog(cfg, st, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	publicURL := strings.TrimRight(cfg.Server.PublicURL, "/")

	var fiscalClient ports.FiscalClient
	if cfg.Fiscal.Login != "" {
		fiscalClient = fiscal.NewClient(cfg.Fiscal, publicURL+"/api/v1/webhooks/receipt", gateway.NewHTTPClient(cfg.Fiscal.Timeout), log)
	} else {
		log.Info().Msg("fiscal credentials not configured, receipts are not issued")
	}

	a.Audit = service.NewAuditService(st.audit, log)
	a.Receipts = service.NewReceiptService(fiscalClient, st.txns, alerter, a.Audit, log)
	a.Tokens = service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)

	a.Escrow = service.NewEscrowService(st.wallets, st.txns, st.frozen, st.purchases, st.transactor, items, a.Receipts, escrowCfg, log)
	a.Refunds = service.NewRefundService(st.wallets, st.txns, st.frozen, st.purchases, st.refunds, st.transactor, a.Receipts, alerter, a.Audit, log)
	a.Deposits = service.NewDepositService(st.wallets, st.txns, st.transactor, card, publicURL+"/api/v1/webhooks/card", log)
	a.Withdrawals = service.NewWithdrawalService(st.wallets, st.txns, st.banks, st.transactor, payouts, idempCache, alerter, minWithdrawal, log)
	a.Reconciliation = service.NewReconciliationService(st.wallets, st.txns, st.transactor, card, alerter, a.Audit, cfg.Escrow.PendingTTL, log)
	a.Reporting = service.NewReportingService(st.txns, st.wallets, st.frozen)
	a.Sweeps = service.NewSweepService(st.wallets, st.txns, st.frozen, st.transactor, payouts, alerter, a.Audit, service.SweepConfig{
		BatchSize:   cfg.Scheduler.BatchSize,
		Concurrency: cfg.Scheduler.Concurrency,
		PendingTTL:  cfg.Escrow.PendingTTL,
	}, log)
	a.Scheduler = scheduler.New(a.Sweeps, jobLock, cfg.Scheduler, log)

	return a, nil
}

func (a *App) openStorage(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*stores, error) {
	switch cfg.Storage.Driver {
	case "memory":
		log.Warn().Msg("using in-memory ledger store, data is lost on exit")
		s := memory.New(cfg.Database.LockTimeout)
		return &stores{
			wallets:    memory.NewWalletRepo(s),
			txns:       memory.NewTransactionRepo(s),
			frozen:     memory.NewFrozenFundsRepo(s),
			purchases:  memory.NewPurchaseRepo(s),
			refunds:    memory.NewRefundRepo(s),
			banks:      memory.NewBankRepo(s),
			audit:      memory.NewAuditRepo(s),
			transactor: s,
			health:     s,
			catalog:    memory.NewItemCatalog(s),
		}, nil
	case "postgres", "":
		pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		return &stores{
			wallets:    pgStorage.NewWalletRepo(pool),
			txns:       pgStorage.NewTransactionRepo(pool),
			frozen:     pgStorage.NewFrozenFundsRepo(pool),
			purchases:  pgStorage.NewPurchaseRepo(pool),
			refunds:    pgStorage.NewRefundRepo(pool),
			banks:      pgStorage.NewBankRepo(pool),
			audit:      pgStorage.NewAuditRepo(pool),
			transactor: pgStorage.NewTransactor(pool),
			health:     pgStorage.NewHealthCheck(pool),
		}, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}

// itemCatalog prefers the catalogue API and falls back to the store's own
// catalogue, which only the memory driver has.
func itemCatalog(cfg *config.Config, st *stores, log zerolog.Logger) (ports.ItemCatalog, error) {
	if cfg.Catalog.BaseURL != "" {
		return catalog.NewClient(cfg.Catalog, gateway.NewHTTPClient(cfg.Catalog.Timeout), log), nil
	}
	if st.catalog == nil {
		return nil, fmt.Errorf("catalog.base_url is required with the %s storage driver", cfg.Storage.Driver)
	}
	log.Warn().Msg("catalog.base_url not set, purchases use the in-memory item catalogue")
	return st.catalog, nil
}

func redisStores(rdb *goredis.Client, a *App) (ports.IdempotencyCache, ports.JobLock) {
	a.RateLimitStore = redisStorage.NewRateLimitStore(rdb)
	a.HealthCheckers = append(a.HealthCheckers, redisStorage.NewHealthCheck(rdb, redisMaxPingRTT))
	return redisStorage.NewIdempotencyCache(rdb, "withdraw"), redisStorage.NewJobLock(rdb)
}

func ledgerSettings(cfg *config.Config) (service.EscrowConfig, decimal.Decimal, error) {
	rate, err := cfg.Escrow.Rate()
	if err != nil {
		return service.EscrowConfig{}, decimal.Decimal{}, fmt.Errorf("escrow.commission_rate: %w", err)
	}
	minWithdrawal, err := cfg.Escrow.MinWithdrawalAmount()
	if err != nil {
		return service.EscrowConfig{}, decimal.Decimal{}, fmt.Errorf("escrow.min_withdrawal: %w", err)
	}
	return service.EscrowConfig{CommissionRate: rate, HoldPeriod: cfg.Escrow.HoldPeriod}, minWithdrawal, nil
}

// Close stops background work and releases connections in reverse order of
// acquisition. Receipts still retrying are abandoned; their transactions keep
// receipt_status=pending.
func (a *App) Close() {
	if a.Receipts != nil {
		a.Receipts.Close()
	}
	if a.Audit != nil {
		a.Audit.Wait()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
