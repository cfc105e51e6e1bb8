package handler

import (
	"escrow-ledger/internal/adapter/http/dto"
	"escrow-ledger/internal/adapter/http/middleware"
	"escrow-ledger/internal/core/ports"
	"escrow-ledger/pkg/apperror"
	"escrow-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// PurchaseHandler handles wallet purchases.
type PurchaseHandler struct {
	escrowSvc ports.EscrowService
}

// NewPurchaseHandler creates a new PurchaseHandler.
func NewPurchaseHandler(escrowSvc ports.EscrowService) *PurchaseHandler {
	return &PurchaseHandler{escrowSvc: escrowSvc}
}

// Purchase handles POST /api/v1/purchases.
func (h *PurchaseHandler) Purchase(c *gin.Context) {
	buyerID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	purchase, err := h.escrowSvc.Purchase(c.Request.Context(), ports.PurchaseRequest{
		BuyerID:    buyerID,
		ItemID:     uuid.MustParse(req.ItemID),
		BuyerEmail: req.BuyerEmail,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, purchase)
}
