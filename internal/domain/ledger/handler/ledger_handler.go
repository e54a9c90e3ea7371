package handler

import (
	"net/http"
	"time"

	"pharmacy_orders/internal/domain/ledger/repository"
	"pharmacy_orders/internal/domain/ledger/service"
	orderService "pharmacy_orders/internal/domain/order/service"
	commonHandler "pharmacy_orders/internal/pkg/common"
	"pharmacy_orders/pkg/response"

	"github.com/gin-gonic/gin"
)

type LedgerHandler struct {
	service service.LedgerService
	reports repository.ReportRepository
}

func NewLedgerHandler(s service.LedgerService, reports repository.ReportRepository) *LedgerHandler {
	return &LedgerHandler{service: s, reports: reports}
}

// OrderTransactions 订单账本流水
// @Summary 订单账本流水
// @Tags Ledger
// @Produce json
// @Param id path string true "Order ID"
// @Success 200 {object} response.Response
// @Security Bearer
// @Router /ledger/orders/{id} [get]
func (h *LedgerHandler) OrderTransactions(c *gin.Context) {
	actor := commonHandler.ActorFromContext(c)

	// 先经订单域做租户裁剪，越权与不存在同样返回 404
	if _, err := orderService.GlobalOrderService.GetOrder(c.Request.Context(), actor, c.Param("id")); err != nil {
		response.FromError(c, err)
		return
	}

	txs, err := h.service.GetOrderTransactions(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, txs)
}

type reportQuery struct {
	From string `form:"from"` // YYYY-MM-DD
	To   string `form:"to"`
}

func (q reportQuery) window() (time.Time, time.Time, bool) {
	from, err := time.Parse("2006-01-02", q.From)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	to, err := time.Parse("2006-01-02", q.To)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	// 含当天整天
	return from, to.Add(24*time.Hour - time.Nanosecond), true
}

// CommissionReport 业务员分成汇总（按商家）
// @Summary 业务员分成汇总
// @Tags Ledger
// @Produce json
// @Param from query string true "From date (YYYY-MM-DD)"
// @Param to query string true "To date (YYYY-MM-DD)"
// @Success 200 {object} response.Response
// @Security Bearer
// @Router /ledger/reports/commissions [get]
func (h *LedgerHandler) CommissionReport(c *gin.Context) {
	actor := commonHandler.ActorFromContext(c)

	var query reportQuery
	_ = c.ShouldBindQuery(&query)
	from, to, ok := query.window()
	if !ok {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, "from/to must be YYYY-MM-DD")
		return
	}

	rows, err := h.reports.CommissionByRep(c.Request.Context(), actor.UserID, from, to)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.ErrServerInternal, err.Error())
		return
	}
	response.Success(c, rows)
}

// PayoutReport 商家回款汇总（平台侧）
// @Summary 商家回款汇总
// @Tags Ledger
// @Produce json
// @Param from query string true "From date (YYYY-MM-DD)"
// @Param to query string true "To date (YYYY-MM-DD)"
// @Success 200 {object} response.Response
// @Security Bearer
// @Router /ledger/reports/payouts [get]
func (h *LedgerHandler) PayoutReport(c *gin.Context) {
	var query reportQuery
	_ = c.ShouldBindQuery(&query)
	from, to, ok := query.window()
	if !ok {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, "from/to must be YYYY-MM-DD")
		return
	}

	rows, err := h.reports.VendorPayouts(c.Request.Context(), from, to)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.ErrServerInternal, err.Error())
		return
	}
	response.Success(c, rows)
}
