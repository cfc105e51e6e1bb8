package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"escrow-ledger/internal/core/domain"
	"escrow-ledger/internal/core/ports"
	"escrow-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type routeAction struct {
	action   domain.AuditAction
	resource string
}

var auditedRoutes = map[string]routeAction{
	"/api/v1/purchases":                    {domain.AuditActionPurchase, "purchase"},
	"/api/v1/deposits":                     {domain.AuditActionDeposit, "transaction"},
	"/api/v1/withdrawals":                  {domain.AuditActionWithdraw, "transaction"},
	"/api/v1/refunds":                      {domain.AuditActionRefundRequested, "refund_request"},
	"/api/v1/admin/refunds/:id/processing": {domain.AuditActionRefundDecision, "refund_request"},
	"/api/v1/admin/refunds/:id/reject":     {domain.AuditActionRefundDecision, "refund_request"},
	"/api/v1/admin/refunds/:id/fail":       {domain.AuditActionRefundDecision, "refund_request"},
	"/api/v1/admin/refunds/:id/complete":   {domain.AuditActionRefundDecision, "refund_request"},
	"/api/v1/admin/sweeps/:job":            {domain.AuditActionSweepTriggered, "sweep"},
}

// AuditLog records successful user-facing writes. Ledger-level events such
// as approvals and webhook outcomes are audited by the services themselves.
func AuditLog(auditSvc ports.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Status() < 200 || c.Writer.Status() >= 300 {
			return
		}
		if c.Request.Method != http.MethodPost {
			return
		}

		action, resourceType := mapRouteToAction(c.FullPath())
		if action == "" {
			return
		}

		var actor *uuid.UUID
		if id, ok := UserID(c); ok {
			actor = &id
		}

		details, _ := json.Marshal(map[string]interface{}{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"request_id": c.GetString(response.CtxRequestID),
		})

		auditSvc.Log(c.Request.Context(), &domain.AuditLog{
			ID:           uuid.New(),
			ActorID:      actor,
			Action:       action,
			ResourceType: resourceType,
			ResourceID:   c.Param("id") + c.Param("job"),
			IPAddress:    c.ClientIP(),
			Details:      string(details),
			CreatedAt:    time.Now().UTC(),
		})
	}
}

func mapRouteToAction(route string) (domain.AuditAction, string) {
	ra, ok := auditedRoutes[route]
	if !ok {
		return "", ""
	}
	return ra.action, ra.resource
}
