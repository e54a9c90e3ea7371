package queue

import (
	"time"

	"pharmacy_orders/internal/domain/queue/handler"
	"pharmacy_orders/internal/domain/queue/service"
	"pharmacy_orders/internal/pkg/config"
	"pharmacy_orders/internal/pkg/middleware"
	"pharmacy_orders/internal/pkg/registry"

	"github.com/gin-gonic/gin"
)

// QueueModule 离线写队列模块
type QueueModule struct{}

func init() {
	registry.Register(&QueueModule{})
}

func (m *QueueModule) Name() string {
	return "queue"
}

func (m *QueueModule) Priority() int {
	// 最后初始化：重放依赖订单域已就绪
	return 6
}

func (m *QueueModule) Init(ctx *registry.ModuleContext) error {
	cfg := config.GlobalConfig.Queue

	queueService := service.NewQueueService(
		ctx.Redis,
		ctx.Collector,
		cfg.MaxRetries,
		time.Duration(cfg.FlushBackoffMs)*time.Millisecond,
	)

	monitor := service.NewConnectivityMonitor(
		ctx.DB,
		ctx.Redis,
		queueService,
		time.Duration(config.GlobalConfig.Connectivity.ProbeIntervalMs)*time.Millisecond,
	)
	monitor.Start()

	queueHandler := handler.NewQueueHandler(queueService, monitor)
	setupRoutes(ctx.Router, queueHandler)

	return nil
}

func setupRoutes(r *gin.Engine, h *handler.QueueHandler) {
	group := r.Group("/queue")
	{
		group.GET("/connectivity", h.Connectivity)

		authed := group.Group("")
		authed.Use(middleware.AuthMiddleware())
		{
			authed.POST("/entries", h.Enqueue)
			authed.GET("/entries", h.List)
			authed.DELETE("/entries/:id", h.Withdraw)
			authed.GET("/dead", h.DeadLetters)
			authed.DELETE("/dead/:id", h.ResolveDead)
			authed.POST("/flush", h.Flush)
		}
	}
}
