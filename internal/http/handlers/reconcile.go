package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/dujiao-next/reconciler/internal/constants"
	"github.com/dujiao-next/reconciler/internal/http/response"
	"github.com/dujiao-next/reconciler/internal/service"

	"github.com/gin-gonic/gin"
)

// CommissionListQuery 运营佣金查询参数
type CommissionListQuery struct {
	AffiliateCode  string `form:"affiliate_code"`
	Status         string `form:"status"`
	TransferStatus string `form:"transfer_status"`
	HasError       bool   `form:"has_error"`
	NeedsAction    bool   `form:"needs_action"`
	Page           int    `form:"page"`
	PageSize       int    `form:"page_size"`
}

// MarkPaidRequest 线下打款登记
type MarkPaidRequest struct {
	TransferRef string `json:"transfer_ref" binding:"required"`
}

// RunPayoutSweep 触发一轮对账巡检，直接返回巡检汇总
func (h *Handler) RunPayoutSweep(c *gin.Context) {
	summary, err := h.ReconcileService.Run(c.Request.Context(), constants.PayoutTriggerAPI)
	if err != nil {
		respondReconcileError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// ListCommissions 查询佣金，needs_action=true 返回已达尝试上限仍未打款的佣金
func (h *Handler) ListCommissions(c *gin.Context) {
	var query CommissionListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		respondError(c, response.CodeBadRequest, "invalid query", nil)
		return
	}
	page, pageSize := normalizePagination(query.Page, query.PageSize)
	rows, total, err := h.CommissionService.List(c.Request.Context(), service.CommissionListInput{
		AffiliateCode:  query.AffiliateCode,
		Status:         strings.ToLower(query.Status),
		TransferStatus: strings.ToLower(query.TransferStatus),
		HasError:       query.HasError,
		NeedsAction:    query.NeedsAction,
		Page:           page,
		PageSize:       pageSize,
	})
	if err != nil {
		respondError(c, response.CodeInternal, "commission query failed", err)
		return
	}
	response.SuccessWithPage(c, rows, response.NewPagination(page, pageSize, total))
}

// ApproveCommission 人工审核佣金
func (h *Handler) ApproveCommission(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	row, err := h.CommissionService.Approve(c.Request.Context(), id)
	if err != nil {
		respondCommissionError(c, err)
		return
	}
	response.Success(c, row)
}

// PayCommission 立即对单笔佣金发起打款
func (h *Handler) PayCommission(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	outcome, err := h.PayoutEngine.PayCommission(c.Request.Context(), id, constants.PayoutTriggerAPI)
	if err != nil {
		respondCommissionError(c, err)
		return
	}
	response.Success(c, outcome)
}

// MarkCommissionPaid 登记线下打款
func (h *Handler) MarkCommissionPaid(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	var req MarkPaidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "transfer_ref is required", nil)
		return
	}
	row, err := h.CommissionService.MarkPaidManually(c.Request.Context(), id, req.TransferRef)
	if err != nil {
		respondCommissionError(c, err)
		return
	}
	response.Success(c, row)
}

func parseIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if err != nil || id == 0 {
		respondError(c, response.CodeBadRequest, "invalid id", nil)
		return 0, false
	}
	return uint(id), true
}
