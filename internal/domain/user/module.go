package user

import (
	"pharmacy_orders/internal/domain/user/handler"
	"pharmacy_orders/internal/domain/user/model"
	"pharmacy_orders/internal/domain/user/repository"
	"pharmacy_orders/internal/domain/user/service"
	"pharmacy_orders/internal/pkg/middleware"
	"pharmacy_orders/internal/pkg/otp"
	"pharmacy_orders/internal/pkg/registry"
	"pharmacy_orders/pkg/cache"

	"github.com/gin-gonic/gin"
)

// UserModule 用户模块
type UserModule struct{}

func init() {
	// 自动注册模块
	registry.Register(&UserModule{})
}

func (m *UserModule) Name() string {
	return "user"
}

func (m *UserModule) Priority() int {
	// 用户模块优先级最高，订单域依赖租户解析器
	return 1
}

func (m *UserModule) Init(ctx *registry.ModuleContext) error {
	// 1. 依赖注入
	userRepo := repository.NewUserRepository(ctx.DB)
	otpService := otp.NewOTPService(ctx.Redis)
	userService := service.NewUserService(userRepo, otpService)
	userHandler := handler.NewUserHandler(userService)

	// 供订单域做租户裁剪
	service.GlobalTenantResolver = service.NewTenantResolver(userRepo, cache.NewRedisCache(ctx.Redis))

	// 2. 路由注册
	setupRoutes(ctx.Router, userHandler)

	return nil
}

func setupRoutes(r *gin.Engine, h *handler.UserHandler) {
	// 公开路由
	authGroup := r.Group("/auth")
	{
		authGroup.POST("/login", h.LoginOrRegister) // 登录/注册
		authGroup.POST("/otp", h.SendOTP)           // 发送验证码
	}

	// 商家管理员工
	staffGroup := r.Group("/staff")
	staffGroup.Use(middleware.AuthMiddleware(), middleware.RoleMiddleware(model.RoleVendor, model.RoleAdmin))
	{
		staffGroup.GET("/", h.GetStaff)
		staffGroup.PUT("/:id/commission", h.UpdateStaffCommission)
	}
}
