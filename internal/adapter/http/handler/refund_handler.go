package handler

import (
	"context"

	"escrow-ledger/internal/adapter/http/dto"
	"escrow-ledger/internal/adapter/http/middleware"
	"escrow-ledger/internal/core/domain"
	"escrow-ledger/internal/core/ports"
	"escrow-ledger/pkg/apperror"
	"escrow-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RefundHandler handles refund requests and the staff decisions on them.
type RefundHandler struct {
	refundSvc ports.RefundService
}

// NewRefundHandler creates a new RefundHandler.
func NewRefundHandler(refundSvc ports.RefundService) *RefundHandler {
	return &RefundHandler{refundSvc: refundSvc}
}

// Create handles POST /api/v1/refunds.
func (h *RefundHandler) Create(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.RefundCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	purchaseID, err := uuid.Parse(req.PurchaseID)
	if err != nil {
		response.Error(c, apperror.Validation("invalid purchase_id"))
		return
	}

	refund, err := h.refundSvc.Request(c.Request.Context(), ports.RefundCreateRequest{
		PurchaseID:  purchaseID,
		RequesterID: userID,
		IsStaff:     c.GetBool(middleware.CtxIsStaff),
		Reason:      req.Reason,
		ContactInfo: req.ContactInfo,
		KeepProduct: req.KeepProduct,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, refund)
}

// MarkProcessing handles POST /api/v1/admin/refunds/:id/processing.
func (h *RefundHandler) MarkProcessing(c *gin.Context) {
	h.decide(c, false, func(ctx context.Context, id, staff uuid.UUID, _ string) (*domain.RefundRequest, error) {
		return h.refundSvc.MarkProcessing(ctx, id, staff)
	})
}

// Approve handles POST /api/v1/admin/refunds/:id/approve.
func (h *RefundHandler) Approve(c *gin.Context) {
	h.decide(c, false, func(ctx context.Context, id, staff uuid.UUID, _ string) (*domain.RefundRequest, error) {
		return h.refundSvc.Approve(ctx, id, staff)
	})
}

// Reject handles POST /api/v1/admin/refunds/:id/reject.
func (h *RefundHandler) Reject(c *gin.Context) {
	h.decide(c, true, h.refundSvc.Reject)
}

// Fail handles POST /api/v1/admin/refunds/:id/fail.
func (h *RefundHandler) Fail(c *gin.Context) {
	h.decide(c, true, h.refundSvc.Fail)
}

// Complete handles POST /api/v1/admin/refunds/:id/complete.
func (h *RefundHandler) Complete(c *gin.Context) {
	h.decide(c, false, func(ctx context.Context, id, staff uuid.UUID, _ string) (*domain.RefundRequest, error) {
		return h.refundSvc.Complete(ctx, id, staff)
	})
}

type refundDecision func(ctx context.Context, refundID, staffID uuid.UUID, comment string) (*domain.RefundRequest, error)

func (h *RefundHandler) decide(c *gin.Context, withComment bool, fn refundDecision) {
	staffID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	refundID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.ErrNotFound("refund request"))
		return
	}

	var req dto.RefundDecisionRequest
	if withComment && c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, apperror.Validation(err.Error()))
			return
		}
		dto.SanitizeStruct(&req)
	}

	refund, err := fn(c.Request.Context(), refundID, staffID, req.Comment)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, refund)
}
