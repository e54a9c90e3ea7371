package ledger

import (
	"pharmacy_orders/internal/domain/ledger/handler"
	"pharmacy_orders/internal/domain/ledger/repository"
	"pharmacy_orders/internal/domain/ledger/service"
	"pharmacy_orders/internal/domain/ledger/worker"
	orderRepo "pharmacy_orders/internal/domain/order/repository"
	userModel "pharmacy_orders/internal/domain/user/model"
	userRepo "pharmacy_orders/internal/domain/user/repository"
	"pharmacy_orders/internal/pkg/config"
	"pharmacy_orders/internal/pkg/middleware"
	"pharmacy_orders/internal/pkg/registry"

	"github.com/gin-gonic/gin"
)

// LedgerModule 托管账本模块
type LedgerModule struct{}

func init() {
	registry.Register(&LedgerModule{})
}

func (m *LedgerModule) Name() string {
	return "ledger"
}

func (m *LedgerModule) Priority() int {
	// 在 order 之前：订单送达流转依赖 GlobalLedgerService
	return 2
}

func (m *LedgerModule) Init(ctx *registry.ModuleContext) error {
	ledgerRepo := repository.NewLedgerRepository(ctx.DB)
	reportRepo := repository.NewReportRepository(ctx.SqlxDB)

	// 结算后置动作走异步池，失败重试后进死信日志
	pool := worker.NewWorkerPool([]worker.SettlementConsumer{
		service.NewWalletCreditConsumer(),
		service.NewLoyaltyPointsConsumer(),
	}, 4, 256)
	pool.Start()

	ledgerService := service.NewLedgerService(
		ledgerRepo,
		orderRepo.NewOrderRepository(ctx.DB),
		userRepo.NewUserRepository(ctx.DB),
		pool,
		ctx.Collector,
		config.GlobalConfig.Escrow.PlatformRate,
		config.GlobalConfig.Escrow.Currency,
	)
	service.GlobalLedgerService = ledgerService

	ledgerHandler := handler.NewLedgerHandler(ledgerService, reportRepo)
	setupRoutes(ctx.Router, ledgerHandler)

	return nil
}

func setupRoutes(r *gin.Engine, h *handler.LedgerHandler) {
	ledgerGroup := r.Group("/ledger")
	ledgerGroup.Use(middleware.AuthMiddleware())
	{
		ledgerGroup.GET("/orders/:id", h.OrderTransactions)
		ledgerGroup.GET("/reports/commissions",
			middleware.RoleMiddleware(userModel.RoleVendor, userModel.RoleAdmin), h.CommissionReport)
		ledgerGroup.GET("/reports/payouts",
			middleware.AdminMiddleware(), h.PayoutReport)
	}
}
