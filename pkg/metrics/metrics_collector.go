package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector 指标收集器
type MetricsCollector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 订单状态机指标
	transitionsTotal *prometheus.CounterVec
	staleTransitions prometheus.Counter

	// 结算指标
	settlementsTotal    *prometheus.CounterVec
	settlementConflicts prometheus.Counter

	// 离线队列指标
	queueDepth         *prometheus.GaugeVec
	queueFlushDuration prometheus.Histogram
	queueReplayTotal   *prometheus.CounterVec

	// 数据库连接池指标
	dbConnectionsOpen prometheus.Gauge
	dbConnectionsIdle prometheus.Gauge
	dbWaitCount       prometheus.Gauge
}

// NewMetricsCollector 创建注册到默认 registry 的指标收集器
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWith(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWith 指标注册到指定 registry，测试用独立 registry 避免重复注册
func NewMetricsCollectorWith(reg prometheus.Registerer) *MetricsCollector {
	factory := promauto.With(reg)
	return &MetricsCollector{
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		transitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "order_transitions_total",
				Help: "Accepted order state transitions",
			},
			[]string{"from", "to"},
		),
		staleTransitions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "order_stale_transitions_total",
				Help: "Transitions rejected by the optimistic concurrency guard",
			},
		),
		settlementsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_settlements_total",
				Help: "Escrow settlement attempts",
			},
			[]string{"result"},
		),
		settlementConflicts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "escrow_settlement_conflicts_total",
				Help: "Duplicate settlement attempts rejected",
			},
		),
		queueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "offline_queue_depth",
				Help: "Pending entries per device queue",
			},
			[]string{"device"},
		),
		queueFlushDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "offline_queue_flush_duration_seconds",
				Help:    "Duration of a device queue flush",
				Buckets: prometheus.DefBuckets,
			},
		),
		queueReplayTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "offline_queue_replays_total",
				Help: "Queue entry replay outcomes",
			},
			[]string{"outcome"},
		),
		dbConnectionsOpen: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "db_connections_open",
				Help: "Open database connections",
			},
		),
		dbConnectionsIdle: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "db_connections_idle",
				Help: "Idle database connections",
			},
		),
		dbWaitCount: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "db_pool_wait_count",
				Help: "Cumulative connection pool waits",
			},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *MetricsCollector) RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordTransition 记录一次被接受的状态流转
func (m *MetricsCollector) RecordTransition(from, to string) {
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordStaleTransition 记录一次乐观并发冲突
func (m *MetricsCollector) RecordStaleTransition() {
	m.staleTransitions.Inc()
}

// RecordSettlement 记录结算结果 (released / conflict / failed)
func (m *MetricsCollector) RecordSettlement(result string) {
	m.settlementsTotal.WithLabelValues(result).Inc()
	if result == "conflict" {
		m.settlementConflicts.Inc()
	}
}

// SetQueueDepth 更新设备队列深度
func (m *MetricsCollector) SetQueueDepth(device string, depth int64) {
	m.queueDepth.WithLabelValues(device).Set(float64(depth))
}

// RecordFlush 记录一次队列冲刷
func (m *MetricsCollector) RecordFlush(duration time.Duration) {
	m.queueFlushDuration.Observe(duration.Seconds())
}

// RecordReplay 记录条目重放结果 (applied / duplicate / stale / dead_letter)
func (m *MetricsCollector) RecordReplay(outcome string) {
	m.queueReplayTotal.WithLabelValues(outcome).Inc()
}

// SetDBPoolStats 更新连接池指标
func (m *MetricsCollector) SetDBPoolStats(open, idle int, waitCount int64) {
	m.dbConnectionsOpen.Set(float64(open))
	m.dbConnectionsIdle.Set(float64(idle))
	m.dbWaitCount.Set(float64(waitCount))
}
