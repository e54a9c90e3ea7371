package database

import (
	"fmt"
	"time"

	"pharmacy_orders/pkg/logger"
	"pharmacy_orders/pkg/metrics"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PoolMonitor 周期性采集连接池统计并写入 Prometheus 指标
type PoolMonitor struct {
	db        *gorm.DB
	collector *metrics.MetricsCollector
	interval  time.Duration
	stopCh    chan struct{}
}

// NewPoolMonitor 创建并启动连接池监控
func NewPoolMonitor(db *gorm.DB, collector *metrics.MetricsCollector, interval time.Duration) *PoolMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	pm := &PoolMonitor{
		db:        db,
		collector: collector,
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
	go pm.run()
	return pm
}

func (pm *PoolMonitor) run() {
	ticker := time.NewTicker(pm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pm.collect()
		case <-pm.stopCh:
			return
		}
	}
}

func (pm *PoolMonitor) collect() {
	sqlDB, err := pm.db.DB()
	if err != nil {
		logger.Log.Warn("pool monitor: failed to get sql.DB", zap.Error(err))
		return
	}

	stats := sqlDB.Stats()
	pm.collector.SetDBPoolStats(stats.OpenConnections, stats.Idle, stats.WaitCount)

	// 等待时间异常时提醒，阈值与连接池超时同量级
	if stats.WaitDuration > 5*time.Second {
		logger.Log.Warn("pool monitor: high connection wait time",
			zap.Duration("wait_duration", stats.WaitDuration),
			zap.Int("open", stats.OpenConnections),
		)
	}
}

// HealthCheck 探测数据库可达性
func (pm *PoolMonitor) HealthCheck() error {
	sqlDB, err := pm.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database connection: %w", err)
	}
	return sqlDB.Ping()
}

// Close 停止监控
func (pm *PoolMonitor) Close() {
	close(pm.stopCh)
}
