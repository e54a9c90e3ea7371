// @title Pharmacy Orders API
// @version 1.0
// @description 药店订单生命周期与托管结算服务
// @BasePath /
// @securityDefinitions.apikey Bearer
// @in header
// @name Authorization
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "pharmacy_orders/docs"
	_ "pharmacy_orders/internal/domain/delivery"
	_ "pharmacy_orders/internal/domain/ledger"
	_ "pharmacy_orders/internal/domain/order"
	_ "pharmacy_orders/internal/domain/payment"
	_ "pharmacy_orders/internal/domain/queue"
	_ "pharmacy_orders/internal/domain/user"
	"pharmacy_orders/internal/pkg/common"
	"pharmacy_orders/internal/pkg/config"
	"pharmacy_orders/internal/pkg/middleware"
	"pharmacy_orders/internal/pkg/push"
	"pharmacy_orders/internal/pkg/registry"
	"pharmacy_orders/internal/pkg/uploader"
	"pharmacy_orders/pkg/database"
	"pharmacy_orders/pkg/logger"
	"pharmacy_orders/pkg/metrics"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
)

func main() {
	config.LoadConfig()
	logger.Init(config.GlobalConfig.App.Debug)
	defer logger.Sync()

	db := database.InitDatabase()
	rdb := database.InitRedis()

	// 报表查询直接走 sqlx，复用 gorm 底下同一个连接池
	sqlDB, err := db.DB()
	if err != nil {
		logger.Log.Fatal("failed to obtain sql.DB", zap.Error(err))
	}
	sqlxDB := sqlx.NewDb(sqlDB, "pgx")

	collector := metrics.NewMetricsCollector()
	poolMonitor := database.NewPoolMonitor(db, collector, 15*time.Second)
	defer poolMonitor.Close()

	// 推送与对象存储缺配置时降级为不可用，不阻塞启动
	if err := push.InitPushService(); err != nil {
		logger.Log.Warn("push service disabled", zap.Error(err))
	}
	if err := uploader.InitUploader(); err != nil {
		logger.Log.Warn("uploader disabled", zap.Error(err))
	}

	gin.SetMode(config.GlobalConfig.Server.Mode)
	router := gin.New()
	router.Use(
		gin.Recovery(),
		cors.Default(),
		middleware.LoggerMiddleware(),
		middleware.MetricsMiddleware(collector),
		middleware.RateLimitMiddleware(),
	)

	router.GET("/healthz", func(c *gin.Context) {
		if err := poolMonitor.HealthCheck(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "up"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.POST("/upload", middleware.AuthMiddleware(), common.UploadFile)

	if err := registry.InitModules(&registry.ModuleContext{
		DB:        db,
		SqlxDB:    sqlxDB,
		Redis:     rdb,
		Router:    router,
		Collector: collector,
	}); err != nil {
		logger.Log.Fatal("module initialization failed", zap.Error(err))
	}

	srv := &http.Server{
		Addr:    ":" + config.GlobalConfig.Server.Port,
		Handler: router,
	}

	go func() {
		logger.Log.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Error("graceful shutdown failed", zap.Error(err))
	}
}
