package domain

import (
	"time"

	"github.com/google/uuid"
)

// RefundStatus is the lifecycle state of a refund request.
type RefundStatus string

const (
	RefundStatusRequested  RefundStatus = "requested"
	RefundStatusProcessing RefundStatus = "processing"
	RefundStatusApproved   RefundStatus = "approved"
	RefundStatusCompleted  RefundStatus = "completed"
	RefundStatusRejected   RefundStatus = "rejected"
	RefundStatusFailed     RefundStatus = "failed"
)

// RefundRequest is one refund attempt against a purchase.
type RefundRequest struct {
	ID             uuid.UUID    `json:"id"`
	PurchaseID     uuid.UUID    `json:"purchase_id"`
	Status         RefundStatus `json:"status"`
	Reason         string       `json:"reason"`
	ContactInfo    string       `json:"contact_info,omitempty"`
	AdminComment   string       `json:"admin_comment,omitempty"`
	KeepProduct    bool         `json:"keep_product"`
	IsAdminCreated bool         `json:"is_admin_created"`
	RequestedAt    time.Time    `json:"requested_at"`
	ProcessedAt    *time.Time   `json:"processed_at,omitempty"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
	ProcessedBy    *uuid.UUID   `json:"processed_by,omitempty"`
}

var refundTransitions = map[RefundStatus][]RefundStatus{
	RefundStatusRequested:  {RefundStatusProcessing, RefundStatusApproved, RefundStatusRejected, RefundStatusFailed},
	RefundStatusProcessing: {RefundStatusApproved, RefundStatusRejected, RefundStatusFailed},
	RefundStatusApproved:   {RefundStatusCompleted},
}

// CanTransition reports whether the request may move to next.
func (r *RefundRequest) CanTransition(next RefundStatus) bool {
	for _, s := range refundTransitions[r.Status] {
		if s == next {
			return true
		}
	}
	return false
}

// IsOpen returns true while staff has not decided the request.
func (r *RefundRequest) IsOpen() bool {
	return r.Status == RefundStatusRequested || r.Status == RefundStatusProcessing
}
