package payment

import (
	"pharmacy_orders/internal/domain/payment/handler"
	"pharmacy_orders/internal/domain/payment/service"
	"pharmacy_orders/internal/domain/payment/strategy"
	"pharmacy_orders/internal/pkg/middleware"
	"pharmacy_orders/internal/pkg/registry"
	"pharmacy_orders/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PaymentModule 支付模块
type PaymentModule struct{}

func init() {
	registry.Register(&PaymentModule{})
}

func (m *PaymentModule) Name() string {
	return "payment"
}

func (m *PaymentModule) Priority() int {
	// 在 order 之后：支付入口驱动订单状态机
	return 5
}

func (m *PaymentModule) Init(ctx *registry.ModuleContext) error {
	// 渠道按配置可用性装配，缺配置的渠道跳过而不是拒绝启动
	strategies := make(map[string]strategy.PaymentStrategy)

	if alipay, err := strategy.NewAlipayStrategy(); err == nil {
		strategies["alipay"] = alipay
	} else {
		logger.Log.Warn("alipay channel disabled", zap.Error(err))
	}

	if wechat, err := strategy.NewWechatStrategy(); err == nil {
		strategies["wechat"] = wechat
	} else {
		logger.Log.Warn("wechat channel disabled", zap.Error(err))
	}

	paymentService := service.NewPaymentService(strategies)
	paymentHandler := handler.NewPaymentHandler(paymentService)
	setupRoutes(ctx.Router, paymentHandler)

	return nil
}

func setupRoutes(r *gin.Engine, h *handler.PaymentHandler) {
	group := r.Group("/payments")
	{
		// 渠道回调不走鉴权，验签在策略内完成
		group.POST("/notify/alipay", h.AlipayNotify)
		group.POST("/notify/wechat", h.WechatNotify)

		authed := group.Group("")
		authed.Use(middleware.AuthMiddleware())
		authed.POST("/:orderId", h.Initiate)
	}
}
