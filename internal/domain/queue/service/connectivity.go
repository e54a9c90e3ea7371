package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"pharmacy_orders/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ConnectivityMonitor 周期探测后端存储可达性。
// 从离线恢复到在线的那一个沿触发队列重放，在线期间不做任何事。
type ConnectivityMonitor struct {
	db    *gorm.DB
	rdb   *redis.Client
	queue QueueService

	interval time.Duration
	online   atomic.Bool

	mu          sync.Mutex
	subscribers []chan bool

	cancel context.CancelFunc
	done   chan struct{}
}

func NewConnectivityMonitor(db *gorm.DB, rdb *redis.Client, queue QueueService, interval time.Duration) *ConnectivityMonitor {
	m := &ConnectivityMonitor{
		db:       db,
		rdb:      rdb,
		queue:    queue,
		interval: interval,
		done:     make(chan struct{}),
	}
	m.online.Store(true)
	return m
}

func (m *ConnectivityMonitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.probe(ctx)
			}
		}
	}()
}

func (m *ConnectivityMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
}

// Online 当前可达性快照
func (m *ConnectivityMonitor) Online() bool {
	return m.online.Load()
}

// Subscribe 返回状态变化通知通道，每次在线状态翻转推送一次
func (m *ConnectivityMonitor) Subscribe() <-chan bool {
	ch := make(chan bool, 4)
	m.mu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.mu.Unlock()
	return ch
}

func (m *ConnectivityMonitor) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()

	current := m.check(probeCtx)
	previous := m.online.Swap(current)
	if current == previous {
		return
	}

	if current {
		logger.Log.Info("connectivity restored, replaying offline queues")
		go m.queue.FlushAll(context.Background())
	} else {
		logger.Log.Warn("connectivity lost, writes will queue")
	}

	m.notify(current)
}

func (m *ConnectivityMonitor) check(ctx context.Context) bool {
	if err := m.rdb.Ping(ctx).Err(); err != nil {
		logger.Log.Debug("redis probe failed", zap.Error(err))
		return false
	}

	sqlDB, err := m.db.DB()
	if err != nil {
		return false
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		logger.Log.Debug("database probe failed", zap.Error(err))
		return false
	}
	return true
}

func (m *ConnectivityMonitor) notify(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subscribers {
		select {
		case ch <- online:
		default:
			// 订阅者不取就丢，探测循环不能被堵住
		}
	}
}
