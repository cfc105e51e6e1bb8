package handler

import (
	"escrow-ledger/internal/adapter/http/middleware"
	redisStore "escrow-ledger/internal/adapter/storage/redis"
	"escrow-ledger/internal/core/ports"
	"escrow-ledger/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	EscrowSvc      ports.EscrowService
	RefundSvc      ports.RefundService
	DepositSvc     ports.DepositService
	WithdrawalSvc  ports.WithdrawalService
	ReconSvc       ports.ReconciliationService
	ReportingSvc   ports.ReportingService
	Jobs           ports.JobRunner
	TokenSvc       ports.TokenService
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	AuditSvc       ports.AuditService // nil = request auditing disabled
	MetricsPath    string             // empty = metrics endpoint disabled
	Mode           string
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Mode == "" {
		deps.Mode = gin.ReleaseMode
	}
	gin.SetMode(deps.Mode)
	r := gin.New()

	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20))

	if deps.AuditSvc != nil {
		r.Use(middleware.AuditLog(deps.AuditSvc))
	}

	r.GET("/health", HealthCheck(deps.HealthCheckers...))
	if deps.MetricsPath != "" {
		r.GET(deps.MetricsPath, gin.WrapH(metrics.Handler()))
	}

	rules := middleware.DefaultRateLimitRules()
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	v1 := r.Group("/api/v1")

	// Provider callbacks authenticate by payload signature, not bearer token.
	webhookHandler := NewWebhookHandler(deps.ReconSvc, deps.Logger)
	webhooks := v1.Group("/webhooks", rl("webhooks"))
	{
		webhooks.POST("/card", webhookHandler.CardNotification)
		webhooks.POST("/receipt", webhookHandler.ReceiptCallback)
	}

	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)
	authed := v1.Group("", jwtAuth)

	purchaseHandler := NewPurchaseHandler(deps.EscrowSvc)
	walletHandler := NewWalletHandler(deps.ReportingSvc, deps.DepositSvc, deps.WithdrawalSvc)
	refundHandler := NewRefundHandler(deps.RefundSvc)
	{
		authed.POST("/purchases", rl("purchases"), purchaseHandler.Purchase)
		authed.POST("/deposits", rl("deposits"), walletHandler.Deposit)
		authed.POST("/withdrawals", rl("withdraws"), walletHandler.Withdraw)
		authed.GET("/wallet", rl("read"), walletHandler.GetWallet)
		authed.GET("/transactions", rl("read"), walletHandler.ListTransactions)
		authed.POST("/refunds", rl("refunds"), refundHandler.Create)
	}

	adminHandler := NewAdminHandler(deps.Jobs, deps.ReportingSvc)
	admin := authed.Group("/admin", middleware.RequireStaff(), rl("admin"))
	{
		admin.POST("/refunds/:id/processing", refundHandler.MarkProcessing)
		admin.POST("/refunds/:id/approve", refundHandler.Approve)
		admin.POST("/refunds/:id/reject", refundHandler.Reject)
		admin.POST("/refunds/:id/fail", refundHandler.Fail)
		admin.POST("/refunds/:id/complete", refundHandler.Complete)
		admin.POST("/sweeps/:job", adminHandler.RunSweep)
		admin.GET("/wallets/:user_id/check", adminHandler.CheckWallet)
	}

	return r
}
