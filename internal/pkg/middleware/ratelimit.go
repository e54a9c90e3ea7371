package middleware

import (
	"net/http"
	"sync"

	"pharmacy_orders/pkg/response"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// KeyedRateLimiter 按调用方维度（设备或 IP）分桶的限流器
type KeyedRateLimiter struct {
	buckets map[string]*rate.Limiter
	mu      *sync.RWMutex
	r       rate.Limit
	b       int
}

// NewKeyedRateLimiter 创建限流器
// r: 每秒允许的请求数 (QPS)
// b: 桶的大小 (Burst)
func NewKeyedRateLimiter(r rate.Limit, b int) *KeyedRateLimiter {
	return &KeyedRateLimiter{
		buckets: make(map[string]*rate.Limiter),
		mu:      &sync.RWMutex{},
		r:       r,
		b:       b,
	}
}

// GetLimiter 获取指定维度的限流器
func (i *KeyedRateLimiter) GetLimiter(key string) *rate.Limiter {
	i.mu.Lock()
	defer i.mu.Unlock()

	limiter, exists := i.buckets[key]
	if !exists {
		limiter = rate.NewLimiter(i.r, i.b)
		i.buckets[key] = limiter
	}

	return limiter
}

// 断网恢复时一批设备会同时冲刷本地队列，桶放得比常规流量大
var limiter = NewKeyedRateLimiter(200, 1000)

// RateLimitMiddleware 限流中间件。
// 带 X-Device-ID 的请求按设备分桶，否则退回按 IP
func RateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-Device-ID")
		if key == "" {
			key = c.ClientIP()
		}
		l := limiter.GetLimiter(key)
		if !l.Allow() {
			response.Error(c, http.StatusTooManyRequests, response.ErrTooManyRequests, "Too many requests")
			c.Abort()
			return
		}
		c.Next()
	}
}
