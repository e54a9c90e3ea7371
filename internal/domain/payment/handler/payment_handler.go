package handler

import (
	"net/http"

	"pharmacy_orders/internal/domain/payment/service"
	commonHandler "pharmacy_orders/internal/pkg/common"
	"pharmacy_orders/pkg/logger"
	"pharmacy_orders/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type PaymentHandler struct {
	service service.PaymentService
}

func NewPaymentHandler(s service.PaymentService) *PaymentHandler {
	return &PaymentHandler{service: s}
}

type InitiateInput struct {
	Channel        string `json:"channel" binding:"required,oneof=alipay wechat"`
	IdempotencyKey string `json:"idempotencyKey"`
}

// Initiate 发起支付
// @Summary 发起支付
// @Tags Payment
// @Accept json
// @Produce json
// @Param orderId path string true "Order ID"
// @Param input body InitiateInput true "Channel"
// @Success 200 {object} response.Response{data=string} "支付参数"
// @Security Bearer
// @Router /payments/{orderId} [post]
func (h *PaymentHandler) Initiate(c *gin.Context) {
	actor := commonHandler.ActorFromContext(c)

	var input InitiateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	payParams, err := h.service.InitiatePayment(c.Request.Context(), actor,
		c.Param("orderId"), input.Channel, input.IdempotencyKey)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"payParams": payParams})
}

// AlipayNotify 支付宝异步回调
// @Summary 支付宝回调
// @Tags Payment
// @Router /payments/notify/alipay [post]
func (h *PaymentHandler) AlipayNotify(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		c.String(http.StatusBadRequest, "fail")
		return
	}

	if err := h.service.HandleNotify(c.Request.Context(), "alipay", c.Request.Form); err != nil {
		logger.Log.Error("alipay notify failed", zap.Error(err))
		c.String(http.StatusBadRequest, "fail")
		return
	}
	// 支付宝要求明文 success 应答
	c.String(http.StatusOK, "success")
}

// WechatNotify 微信支付异步回调
// @Summary 微信支付回调
// @Tags Payment
// @Router /payments/notify/wechat [post]
func (h *PaymentHandler) WechatNotify(c *gin.Context) {
	if err := h.service.HandleNotify(c.Request.Context(), "wechat", c.Request); err != nil {
		logger.Log.Error("wechat notify failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"code": "FAIL", "message": "failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": "SUCCESS"})
}
