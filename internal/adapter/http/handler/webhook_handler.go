package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"escrow-ledger/internal/adapter/http/dto"
	"escrow-ledger/internal/core/ports"
	"escrow-ledger/pkg/apperror"
	"escrow-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// WebhookHandler receives provider callbacks.
type WebhookHandler struct {
	reconSvc ports.ReconciliationService
	log      zerolog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(reconSvc ports.ReconciliationService, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{reconSvc: reconSvc, log: log}
}

// CardNotification handles POST /api/v1/webhooks/card. Once the body parses,
// the provider always gets 200 "OK"; rejected notifications are audited by
// the service. Infrastructure failures return 500 so the provider retries.
func (h *WebhookHandler) CardNotification(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.String(http.StatusRequestEntityTooLarge, "too large")
		return
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil || fields == nil {
		c.String(http.StatusBadRequest, "bad request")
		return
	}

	result, err := h.reconSvc.HandleCardNotification(c.Request.Context(), fields)
	if err != nil {
		if apperror.HasCode(err, "SEC_007") {
			h.log.Warn().Err(err).Msg("malformed card notification")
			c.String(http.StatusBadRequest, "bad request")
			return
		}
		h.log.Error().Err(err).Msg("card notification failed, provider will retry")
		c.String(http.StatusInternalServerError, "error")
		return
	}

	if result != nil {
		h.log.Debug().Str("outcome", result.Outcome).Str("transaction_id", result.TransactionID.String()).Msg("card notification handled")
	}
	c.String(http.StatusOK, "OK")
}

// ReceiptCallback handles POST /api/v1/webhooks/receipt.
func (h *WebhookHandler) ReceiptCallback(c *gin.Context) {
	var req dto.ReceiptCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	if err := h.reconSvc.HandleReceiptCallback(c.Request.Context(), req.ExternalID, req.Status); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"status": "ok"})
}
