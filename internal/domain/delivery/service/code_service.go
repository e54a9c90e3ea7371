package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	orderModel "pharmacy_orders/internal/domain/order/model"
	"pharmacy_orders/pkg/apperrors"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// CodeService 收货码服务。
// 收货码在派单时生成一次并随订单持久化，之后不再更换；
// 校验通过是触达 delivered 状态的唯一途径。
type CodeService interface {
	// Generate 生成 4 位数字收货码并缓存一份给顾客端展示
	Generate(ctx context.Context, orderID string) (string, error)

	// Verify 用提交的码与订单上存储的码做精确比对。
	// 不匹配返回 ErrVerification，不改变任何状态，可重试
	Verify(ctx context.Context, order *orderModel.Order, submitted string) error
}

type codeService struct {
	rdb *redis.Client

	// 每单一个令牌桶，限制暴力试码
	limiters sync.Map
}

// 源系统没有限制试错次数，这里按单限流：突发 5 次，之后每分钟补 1 次
const (
	verifyBurst  = 5
	verifyRefill = rate.Limit(1.0 / 60)

	codeCacheTTL = 72 * time.Hour
)

func NewCodeService(rdb *redis.Client) CodeService {
	return &codeService{rdb: rdb}
}

func (s *codeService) Generate(ctx context.Context, orderID string) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "", err
	}
	code := fmt.Sprintf("%04d", n.Int64())

	// 顾客端取码用，丢了也不影响正确性（订单行上才是权威副本）
	key := fmt.Sprintf("delivery:code:%s", orderID)
	_ = s.rdb.Set(ctx, key, code, codeCacheTTL).Err()

	return code, nil
}

func (s *codeService) Verify(ctx context.Context, order *orderModel.Order, submitted string) error {
	if order.DeliveryOTP == "" {
		return fmt.Errorf("%w: no delivery code issued for this order", apperrors.ErrValidation)
	}

	limiter := s.limiterFor(order.ID)
	if !limiter.Allow() {
		return fmt.Errorf("%w: too many verification attempts", apperrors.ErrVerification)
	}

	if submitted != order.DeliveryOTP {
		return fmt.Errorf("%w: delivery code mismatch", apperrors.ErrVerification)
	}
	return nil
}

func (s *codeService) limiterFor(orderID string) *rate.Limiter {
	if v, ok := s.limiters.Load(orderID); ok {
		return v.(*rate.Limiter)
	}
	limiter := rate.NewLimiter(verifyRefill, verifyBurst)
	actual, _ := s.limiters.LoadOrStore(orderID, limiter)
	return actual.(*rate.Limiter)
}
