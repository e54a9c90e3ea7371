package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	orderModel "pharmacy_orders/internal/domain/order/model"
	orderService "pharmacy_orders/internal/domain/order/service"
	"pharmacy_orders/internal/domain/queue/model"
	userModel "pharmacy_orders/internal/domain/user/model"
	"pharmacy_orders/pkg/apperrors"
	"pharmacy_orders/pkg/metrics"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockOrderService is a mock of the order service the queue replays into
type MockOrderService struct {
	mock.Mock
}

func (m *MockOrderService) CreateOrder(ctx context.Context, actor *userModel.Actor, input orderService.CreateOrderInput) (*orderModel.Order, error) {
	args := m.Called(ctx, actor, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*orderModel.Order), args.Error(1)
}

func (m *MockOrderService) Apply(ctx context.Context, orderID string, actor *userModel.Actor, intent orderModel.Intent) (*orderModel.Order, error) {
	args := m.Called(ctx, orderID, actor, intent)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*orderModel.Order), args.Error(1)
}

func (m *MockOrderService) GetOrder(ctx context.Context, actor *userModel.Actor, orderID string) (*orderModel.Order, error) {
	args := m.Called(ctx, actor, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*orderModel.Order), args.Error(1)
}

func (m *MockOrderService) ListOrders(ctx context.Context, actor *userModel.Actor, page, limit int) ([]orderModel.Order, int64, error) {
	args := m.Called(ctx, actor, page, limit)
	return args.Get(0).([]orderModel.Order), args.Get(1).(int64), args.Error(2)
}

func (m *MockOrderService) UpdatePaymentStatus(ctx context.Context, orderID string, expected []orderModel.PaymentStatus, next orderModel.PaymentStatus) (bool, error) {
	args := m.Called(ctx, orderID, expected, next)
	return args.Bool(0), args.Error(1)
}

func newQueueService() *queueService {
	collector := metrics.NewMetricsCollectorWith(prometheus.NewRegistry())
	return NewQueueService(nil, collector, 3, 10*time.Millisecond).(*queueService)
}

// newRedisQueue 用进程内 redis 跑完整的入队/重放/死信链路
func newRedisQueue(t *testing.T, maxRetries int) (*queueService, *redis.Client) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	collector := metrics.NewMetricsCollectorWith(prometheus.NewRegistry())
	return NewQueueService(client, collector, maxRetries, time.Millisecond).(*queueService), client
}

func withMockOrderService(t *testing.T) *MockOrderService {
	m := new(MockOrderService)
	prev := orderService.GlobalOrderService
	orderService.GlobalOrderService = m
	t.Cleanup(func() { orderService.GlobalOrderService = prev })
	return m
}

func TestEnqueueValidation(t *testing.T) {
	s := newQueueService()
	ctx := context.Background()

	t.Run("Device id required", func(t *testing.T) {
		err := s.Enqueue(ctx, &model.QueueEntry{Kind: model.KindTransition, IdempotencyKey: "k"})
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})

	t.Run("Idempotency key required", func(t *testing.T) {
		err := s.Enqueue(ctx, &model.QueueEntry{DeviceID: "dev1", Kind: model.KindCreate})
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})

	t.Run("Transition entry needs order and intent", func(t *testing.T) {
		err := s.Enqueue(ctx, &model.QueueEntry{
			DeviceID: "dev1", Kind: model.KindTransition, IdempotencyKey: "k",
		})
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})

	t.Run("Intent inside the entry is validated at enqueue time", func(t *testing.T) {
		err := s.Enqueue(ctx, &model.QueueEntry{
			DeviceID:       "dev1",
			Kind:           model.KindTransition,
			IdempotencyKey: "k",
			OrderID:        "order-1",
			Intent: &orderModel.Intent{
				Type:     orderModel.IntentConfirmDelivery,
				Expected: orderModel.StatusPending, // 对不上意图图谱
				Code:     "4821",
			},
		})
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})

	t.Run("Create entry needs a payload", func(t *testing.T) {
		err := s.Enqueue(ctx, &model.QueueEntry{
			DeviceID: "dev1", Kind: model.KindCreate, IdempotencyKey: "k",
		})
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})

	t.Run("Unknown kind rejected", func(t *testing.T) {
		err := s.Enqueue(ctx, &model.QueueEntry{
			DeviceID: "dev1", Kind: model.EntryKind("update"), IdempotencyKey: "k",
		})
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})
}

func TestReplay(t *testing.T) {
	s := newQueueService()
	ctx := context.Background()

	t.Run("Transition replays through the state machine with the entry key", func(t *testing.T) {
		orders := withMockOrderService(t)
		entry := &model.QueueEntry{
			ID:             "e1",
			DeviceID:       "dev1",
			Kind:           model.KindTransition,
			IdempotencyKey: "dev1-7",
			OrderID:        "order-1",
			ActorID:        "courier-1",
			ActorRole:      userModel.RoleCourier,
			Intent: &orderModel.Intent{
				Type:     orderModel.IntentConfirmPickup,
				Expected: orderModel.StatusDispatched,
			},
		}

		orders.On("Apply", mock.Anything, "order-1",
			mock.MatchedBy(func(actor *userModel.Actor) bool {
				return actor.UserID == "courier-1" && actor.Role == userModel.RoleCourier && actor.DeviceID == "dev1"
			}),
			mock.MatchedBy(func(intent orderModel.Intent) bool {
				return intent.IdempotencyKey == "dev1-7"
			})).Return(&orderModel.Order{}, nil)

		err := s.replay(ctx, entry)

		assert.NoError(t, err)
		orders.AssertExpectations(t)
	})

	t.Run("Create replays with the entry key forced in", func(t *testing.T) {
		orders := withMockOrderService(t)
		payload, _ := json.Marshal(orderService.CreateOrderInput{
			SellerID: "vendor-1",
			Items:    []orderModel.OrderItem{{Name: "Paracetamol", Price: 100, Quantity: 1}},
		})
		entry := &model.QueueEntry{
			ID:             "e2",
			DeviceID:       "dev1",
			Kind:           model.KindCreate,
			IdempotencyKey: "dev1-8",
			ActorID:        "staff-1",
			ActorRole:      userModel.RoleStaff,
			CreatePayload:  payload,
		}

		orders.On("CreateOrder", mock.Anything, mock.Anything,
			mock.MatchedBy(func(input orderService.CreateOrderInput) bool {
				return input.IdempotencyKey == "dev1-8" && input.SellerID == "vendor-1"
			})).Return(&orderModel.Order{}, nil)

		err := s.replay(ctx, entry)

		assert.NoError(t, err)
		orders.AssertExpectations(t)
	})

	t.Run("Stale replay propagates the rejection", func(t *testing.T) {
		orders := withMockOrderService(t)
		entry := &model.QueueEntry{
			Kind:     model.KindTransition,
			DeviceID: "dev1",
			OrderID:  "order-1",
			Intent: &orderModel.Intent{
				Type:     orderModel.IntentCancel,
				Expected: orderModel.StatusPending,
			},
		}

		orders.On("Apply", mock.Anything, "order-1", mock.Anything, mock.Anything).
			Return(nil, apperrors.ErrStaleTransition)

		err := s.replay(ctx, entry)

		assert.ErrorIs(t, err, apperrors.ErrStaleTransition)
	})
}

func cancelEntry(id string) *model.QueueEntry {
	return &model.QueueEntry{
		ID:             id,
		DeviceID:       "dev1",
		Kind:           model.KindTransition,
		IdempotencyKey: "dev1-" + id,
		OrderID:        "order-1",
		ActorID:        "staff-1",
		ActorRole:      userModel.RoleStaff,
		Intent: &orderModel.Intent{
			Type:     orderModel.IntentCancel,
			Expected: orderModel.StatusPending,
		},
	}
}

func TestFlush(t *testing.T) {
	ctx := context.Background()

	t.Run("Successful replay drains the queue", func(t *testing.T) {
		s, _ := newRedisQueue(t, 3)
		orders := withMockOrderService(t)
		orders.On("Apply", mock.Anything, "order-1", mock.Anything, mock.Anything).
			Return(&orderModel.Order{}, nil)

		assert.NoError(t, s.Enqueue(ctx, cancelEntry("e1")))
		assert.NoError(t, s.Enqueue(ctx, cancelEntry("e2")))

		result, err := s.Flush(ctx, "dev1")

		assert.NoError(t, err)
		assert.Equal(t, 2, result.Replayed)
		assert.Equal(t, 0, result.Remained)

		dead, err := s.ListDead(ctx, "dev1")
		assert.NoError(t, err)
		assert.Empty(t, dead)
	})

	t.Run("Rejected entry is dead lettered with the reason", func(t *testing.T) {
		s, _ := newRedisQueue(t, 3)
		orders := withMockOrderService(t)
		orders.On("Apply", mock.Anything, "order-1", mock.Anything, mock.Anything).
			Return(nil, apperrors.ErrStaleTransition)

		assert.NoError(t, s.Enqueue(ctx, cancelEntry("e1")))

		result, err := s.Flush(ctx, "dev1")

		assert.NoError(t, err)
		assert.Equal(t, 1, result.Skipped)
		assert.Equal(t, 0, result.Remained)

		// 条目没有丢：连同拒绝原因进了死信，等用户手工处理
		dead, err := s.ListDead(ctx, "dev1")
		assert.NoError(t, err)
		if assert.Len(t, dead, 1) {
			assert.Equal(t, "e1", dead[0].ID)
			assert.Contains(t, dead[0].LastError, apperrors.ErrStaleTransition.Error())
		}
	})

	t.Run("Transient failures exhaust retries into dead letter", func(t *testing.T) {
		s, _ := newRedisQueue(t, 1)
		orders := withMockOrderService(t)
		orders.On("Apply", mock.Anything, "order-1", mock.Anything, mock.Anything).
			Return(nil, apperrors.ErrTransientIO)

		assert.NoError(t, s.Enqueue(ctx, cancelEntry("e1")))

		result, err := s.Flush(ctx, "dev1")

		assert.NoError(t, err)
		assert.Equal(t, 1, result.Dead)

		dead, err := s.ListDead(ctx, "dev1")
		assert.NoError(t, err)
		if assert.Len(t, dead, 1) {
			assert.Equal(t, 2, dead[0].Retries)
		}
	})

	t.Run("Concurrent flush is refused", func(t *testing.T) {
		s, client := newRedisQueue(t, 3)
		client.SetNX(ctx, lockKeyPrefix+"dev1", "1", time.Minute)

		_, err := s.Flush(ctx, "dev1")

		assert.ErrorIs(t, err, apperrors.ErrFlushInProgress)
	})
}

func TestResolveDead(t *testing.T) {
	ctx := context.Background()
	s, _ := newRedisQueue(t, 3)
	orders := withMockOrderService(t)
	orders.On("Apply", mock.Anything, "order-1", mock.Anything, mock.Anything).
		Return(nil, apperrors.ErrStaleTransition)

	assert.NoError(t, s.Enqueue(ctx, cancelEntry("e1")))
	_, err := s.Flush(ctx, "dev1")
	assert.NoError(t, err)

	t.Run("Resolved entry leaves the dead list", func(t *testing.T) {
		assert.NoError(t, s.Resolve(ctx, "dev1", "e1"))

		dead, err := s.ListDead(ctx, "dev1")
		assert.NoError(t, err)
		assert.Empty(t, dead)
	})

	t.Run("Unknown entry reports not found", func(t *testing.T) {
		assert.ErrorIs(t, s.Resolve(ctx, "dev1", "missing"), apperrors.ErrNotFound)
	})
}
