package order

import (
	"time"

	deliveryRepo "pharmacy_orders/internal/domain/delivery/repository"
	deliveryService "pharmacy_orders/internal/domain/delivery/service"
	"pharmacy_orders/internal/domain/order/handler"
	"pharmacy_orders/internal/domain/order/repository"
	"pharmacy_orders/internal/domain/order/service"
	userModel "pharmacy_orders/internal/domain/user/model"
	userService "pharmacy_orders/internal/domain/user/service"
	"pharmacy_orders/internal/pkg/config"
	"pharmacy_orders/internal/pkg/middleware"
	"pharmacy_orders/internal/pkg/registry"

	"github.com/gin-gonic/gin"
)

// OrderModule 订单模块
type OrderModule struct{}

func init() {
	registry.Register(&OrderModule{})
}

func (m *OrderModule) Name() string {
	return "order"
}

func (m *OrderModule) Priority() int {
	// 在 user/ledger 之后：状态机依赖租户解析器与账本服务
	return 3
}

func (m *OrderModule) Init(ctx *registry.ModuleContext) error {
	orderRepo := repository.NewOrderRepository(ctx.DB)
	taskRepo := deliveryRepo.NewTaskRepository(ctx.DB)
	codeService := deliveryService.NewCodeService(ctx.Redis)

	idemTTL := time.Duration(config.GlobalConfig.Queue.IdempotencyTTLHours) * time.Hour
	idem := service.NewIdempotencyStore(ctx.Redis, idemTTL)

	orderService := service.NewOrderService(
		orderRepo,
		taskRepo,
		codeService,
		userService.GlobalTenantResolver,
		idem,
		ctx.Collector,
	)
	service.GlobalOrderService = orderService

	orderHandler := handler.NewOrderHandler(orderService)
	setupRoutes(ctx.Router, orderHandler)

	return nil
}

func setupRoutes(r *gin.Engine, h *handler.OrderHandler) {
	orderGroup := r.Group("/orders")
	orderGroup.Use(middleware.AuthMiddleware())
	{
		orderGroup.POST("", h.Create)
		orderGroup.GET("", h.List)
		orderGroup.GET("/:id", h.Get)
		orderGroup.POST("/:id/transition", h.Transition)

		// 仅配送员可以核销收货码
		orderGroup.POST("/:id/verify",
			middleware.RoleMiddleware(userModel.RoleCourier), h.VerifyDelivery)
	}
}
