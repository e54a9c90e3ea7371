package service

import (
	"context"
	"testing"

	orderModel "pharmacy_orders/internal/domain/order/model"
	"pharmacy_orders/pkg/apperrors"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

// 缓存写失败不影响生成与校验，指向不存在的地址即可测试
func newTestCodeService() CodeService {
	return NewCodeService(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1}))
}

func orderWithCode(id, code string) *orderModel.Order {
	order := &orderModel.Order{DeliveryOTP: code}
	order.ID = id
	return order
}

func TestGenerate(t *testing.T) {
	s := newTestCodeService()

	t.Run("Always four digits", func(t *testing.T) {
		for i := 0; i < 50; i++ {
			code, err := s.Generate(context.Background(), "order-1")
			assert.NoError(t, err)
			assert.Len(t, code, 4)
			for _, r := range code {
				assert.True(t, r >= '0' && r <= '9')
			}
		}
	})
}

func TestVerify(t *testing.T) {
	t.Run("Exact match passes", func(t *testing.T) {
		s := newTestCodeService()
		err := s.Verify(context.Background(), orderWithCode("order-1", "4821"), "4821")
		assert.NoError(t, err)
	})

	t.Run("Mismatch fails without state change and can be retried", func(t *testing.T) {
		s := newTestCodeService()
		order := orderWithCode("order-2", "4821")

		err := s.Verify(context.Background(), order, "1234")
		assert.ErrorIs(t, err, apperrors.ErrVerification)

		// 错误提交后正确的码仍然有效
		err = s.Verify(context.Background(), order, "4821")
		assert.NoError(t, err)
	})

	t.Run("No code issued yet", func(t *testing.T) {
		s := newTestCodeService()
		err := s.Verify(context.Background(), orderWithCode("order-3", ""), "0000")
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})

	t.Run("Brute force attempts are throttled per order", func(t *testing.T) {
		s := newTestCodeService()
		order := orderWithCode("order-4", "4821")

		for i := 0; i < verifyBurst; i++ {
			_ = s.Verify(context.Background(), order, "0000")
		}

		// 突发额度用完后连正确的码也要等令牌恢复
		err := s.Verify(context.Background(), order, "4821")
		assert.ErrorIs(t, err, apperrors.ErrVerification)

		// 其它订单不受影响
		err = s.Verify(context.Background(), orderWithCode("order-5", "4821"), "4821")
		assert.NoError(t, err)
	})
}
