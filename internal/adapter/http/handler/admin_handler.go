package handler

import (
	"escrow-ledger/internal/core/ports"
	"escrow-ledger/pkg/apperror"
	"escrow-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AdminHandler exposes staff-only ledger operations.
type AdminHandler struct {
	jobs         ports.JobRunner
	reportingSvc ports.ReportingService
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(jobs ports.JobRunner, reportingSvc ports.ReportingService) *AdminHandler {
	return &AdminHandler{jobs: jobs, reportingSvc: reportingSvc}
}

// RunSweep handles POST /api/v1/admin/sweeps/:job.
func (h *AdminHandler) RunSweep(c *gin.Context) {
	report, err := h.jobs.Run(c.Request.Context(), c.Param("job"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, report)
}

// CheckWallet handles GET /api/v1/admin/wallets/:user_id/check.
func (h *AdminHandler) CheckWallet(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		response.Error(c, apperror.ErrNotFound("wallet"))
		return
	}

	check, err := h.reportingSvc.CheckWallet(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, check)
}
