package delivery

import (
	"pharmacy_orders/internal/domain/delivery/handler"
	"pharmacy_orders/internal/domain/delivery/repository"
	userModel "pharmacy_orders/internal/domain/user/model"
	"pharmacy_orders/internal/pkg/middleware"
	"pharmacy_orders/internal/pkg/registry"

	"github.com/gin-gonic/gin"
)

// DeliveryModule 配送模块
type DeliveryModule struct{}

func init() {
	registry.Register(&DeliveryModule{})
}

func (m *DeliveryModule) Name() string {
	return "delivery"
}

func (m *DeliveryModule) Priority() int {
	return 4
}

func (m *DeliveryModule) Init(ctx *registry.ModuleContext) error {
	taskRepo := repository.NewTaskRepository(ctx.DB)
	deliveryHandler := handler.NewDeliveryHandler(taskRepo)
	setupRoutes(ctx.Router, deliveryHandler)
	return nil
}

func setupRoutes(r *gin.Engine, h *handler.DeliveryHandler) {
	group := r.Group("/delivery")
	group.Use(middleware.AuthMiddleware(), middleware.RoleMiddleware(userModel.RoleCourier))
	{
		group.GET("/tasks", h.MyTasks)
		group.POST("/tasks/:orderId/proof", h.UploadProof)
	}
}
