package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited action.
type AuditAction string

const (
	AuditActionWebhookRejected  AuditAction = "WEBHOOK_REJECTED"
	AuditActionWebhookApplied   AuditAction = "WEBHOOK_APPLIED"
	AuditActionRefundApproved   AuditAction = "REFUND_APPROVED"
	AuditActionRefundRejected   AuditAction = "REFUND_REJECTED"
	AuditActionPayoutRestituted AuditAction = "PAYOUT_RESTITUTED"
	AuditActionReceiptFailed    AuditAction = "RECEIPT_FAILED"
	AuditActionFrozenRepaired   AuditAction = "FROZEN_REPAIRED"

	AuditActionPurchase        AuditAction = "PURCHASE"
	AuditActionDeposit         AuditAction = "DEPOSIT"
	AuditActionWithdraw        AuditAction = "WITHDRAW"
	AuditActionRefundRequested AuditAction = "REFUND_REQUESTED"
	AuditActionRefundDecision  AuditAction = "REFUND_DECISION"
	AuditActionSweepTriggered  AuditAction = "SWEEP_TRIGGERED"
)

// AuditLog records a single audited action in the system.
type AuditLog struct {
	ID           uuid.UUID   `json:"id"`
	ActorID      *uuid.UUID  `json:"actor_id,omitempty"`
	Action       AuditAction `json:"action"`
	ResourceType string      `json:"resource_type"`
	ResourceID   string      `json:"resource_id,omitempty"`
	Details      string      `json:"details,omitempty"` // JSON string
	IPAddress    string      `json:"ip_address"`
	CreatedAt    time.Time   `json:"created_at"`
}
