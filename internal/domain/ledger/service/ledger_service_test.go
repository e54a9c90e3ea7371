package service

import (
	"context"
	"testing"
	"time"

	"pharmacy_orders/internal/domain/ledger/model"
	"pharmacy_orders/internal/domain/ledger/repository"
	"pharmacy_orders/internal/domain/ledger/worker"
	orderModel "pharmacy_orders/internal/domain/order/model"
	userModel "pharmacy_orders/internal/domain/user/model"
	"pharmacy_orders/pkg/apperrors"
	"pharmacy_orders/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockLedgerRepository is a mock of LedgerRepository
type MockLedgerRepository struct {
	mock.Mock
}

func (m *MockLedgerRepository) Create(tx *model.LedgerTransaction) error {
	args := m.Called(tx)
	return args.Error(0)
}

func (m *MockLedgerRepository) GetByOrderID(orderID string) ([]model.LedgerTransaction, error) {
	args := m.Called(orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.LedgerTransaction), args.Error(1)
}

func (m *MockLedgerRepository) UpdateStatusCAS(txID string, expected []model.TxStatus, next model.TxStatus, completedAt *time.Time) (bool, error) {
	args := m.Called(txID, expected, next, completedAt)
	return args.Bool(0), args.Error(1)
}

func (m *MockLedgerRepository) Settle(params repository.SettleParams) (*model.LedgerTransaction, error) {
	args := m.Called(params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.LedgerTransaction), args.Error(1)
}

// MockOrderRepository is a mock of the order repository used for settlement reads
type MockOrderRepository struct {
	mock.Mock
}

func (m *MockOrderRepository) Create(order *orderModel.Order) error {
	args := m.Called(order)
	return args.Error(0)
}

func (m *MockOrderRepository) GetByID(id string) (*orderModel.Order, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*orderModel.Order), args.Error(1)
}

func (m *MockOrderRepository) ListBySeller(sellerID string, offset, limit int) ([]orderModel.Order, int64, error) {
	args := m.Called(sellerID, offset, limit)
	return args.Get(0).([]orderModel.Order), args.Get(1).(int64), args.Error(2)
}

func (m *MockOrderRepository) ListByCustomer(customerID string, offset, limit int) ([]orderModel.Order, int64, error) {
	args := m.Called(customerID, offset, limit)
	return args.Get(0).([]orderModel.Order), args.Get(1).(int64), args.Error(2)
}

func (m *MockOrderRepository) UpdateStatusCAS(orderID string, expected, next orderModel.OrderStatus, updates map[string]interface{}) (bool, error) {
	args := m.Called(orderID, expected, next, updates)
	return args.Bool(0), args.Error(1)
}

func (m *MockOrderRepository) AssignCourierCAS(orderID string, expected orderModel.OrderStatus, courierID, courierName string, updates map[string]interface{}) (bool, error) {
	args := m.Called(orderID, expected, courierID, courierName, updates)
	return args.Bool(0), args.Error(1)
}

func (m *MockOrderRepository) UpdatePaymentStatusCAS(orderID string, expected []orderModel.PaymentStatus, next orderModel.PaymentStatus) (bool, error) {
	args := m.Called(orderID, expected, next)
	return args.Bool(0), args.Error(1)
}

// MockUserRepository is a mock of UserRepository
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Create(user *userModel.User) error {
	args := m.Called(user)
	return args.Error(0)
}

func (m *MockUserRepository) GetByID(id string) (*userModel.User, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*userModel.User), args.Error(1)
}

func (m *MockUserRepository) GetByMobile(mobile string) (*userModel.User, error) {
	args := m.Called(mobile)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*userModel.User), args.Error(1)
}

func (m *MockUserRepository) GetStaffList(employerID string, offset, limit int) ([]userModel.User, int64, error) {
	args := m.Called(employerID, offset, limit)
	return args.Get(0).([]userModel.User), args.Get(1).(int64), args.Error(2)
}

func (m *MockUserRepository) Update(user *userModel.User) error {
	args := m.Called(user)
	return args.Error(0)
}

const (
	testOrderID  = "aaaaaaaa-0000-0000-0000-000000000001"
	testVendorID = "aaaaaaaa-0000-0000-0000-000000000002"
	testRepID    = "aaaaaaaa-0000-0000-0000-000000000003"
)

func newLedgerFixture() (*MockLedgerRepository, *MockOrderRepository, *MockUserRepository, LedgerService) {
	ledgerRepo := new(MockLedgerRepository)
	orders := new(MockOrderRepository)
	users := new(MockUserRepository)
	pool := worker.NewWorkerPool(nil, 1, 8)
	collector := metrics.NewMetricsCollectorWith(prometheus.NewRegistry())

	svc := NewLedgerService(ledgerRepo, orders, users, pool, collector, 5, "NGN")
	return ledgerRepo, orders, users, svc
}

func inTransitOrder() *orderModel.Order {
	order := &orderModel.Order{
		SellerID:   testVendorID,
		Total:      45000,
		Status:     orderModel.StatusInTransit,
		SalesRepID: testRepID,
	}
	order.ID = testOrderID
	return order
}

func TestSettle(t *testing.T) {
	t.Run("Commission split uses the rep rate on file", func(t *testing.T) {
		ledgerRepo, orders, users, svc := newLedgerFixture()
		order := inTransitOrder()

		orders.On("GetByID", testOrderID).Return(order, nil)
		users.On("GetByID", testRepID).Return(&userModel.User{CommissionRate: 5}, nil)

		var got repository.SettleParams
		released := &model.LedgerTransaction{
			OrderID: testOrderID,
			Type:    model.TxEscrow,
			Status:  model.TxStatusReleased,
		}
		ledgerRepo.On("Settle", mock.AnythingOfType("repository.SettleParams")).
			Run(func(args mock.Arguments) {
				got = args.Get(0).(repository.SettleParams)
			}).
			Return(released, nil)

		_, err := svc.Settle(context.Background(), testOrderID)

		assert.NoError(t, err)
		assert.InDelta(t, 2250.0, got.PlatformCommission, 0.001)
		assert.InDelta(t, 2250.0, got.RepCommission, 0.001)
		assert.Equal(t, testRepID, got.RepID)
		assert.Equal(t, "NGN", got.Currency)
		// 商家到手 = 总额 - 平台分成
		assert.InDelta(t, 42750.0, got.Total-got.PlatformCommission, 0.001)
	})

	t.Run("Second settlement returns conflict and changes nothing", func(t *testing.T) {
		ledgerRepo, orders, users, svc := newLedgerFixture()
		order := inTransitOrder()

		orders.On("GetByID", testOrderID).Return(order, nil)
		users.On("GetByID", testRepID).Return(&userModel.User{CommissionRate: 5}, nil)
		ledgerRepo.On("Settle", mock.AnythingOfType("repository.SettleParams")).
			Return(nil, apperrors.ErrSettlementConflict)

		_, err := svc.Settle(context.Background(), testOrderID)

		assert.ErrorIs(t, err, apperrors.ErrSettlementConflict)
	})

	t.Run("Order not in transit surfaces as stale", func(t *testing.T) {
		ledgerRepo, orders, users, svc := newLedgerFixture()
		order := inTransitOrder()

		orders.On("GetByID", testOrderID).Return(order, nil)
		users.On("GetByID", testRepID).Return(&userModel.User{CommissionRate: 5}, nil)
		ledgerRepo.On("Settle", mock.AnythingOfType("repository.SettleParams")).
			Return(nil, apperrors.ErrStaleTransition)

		_, err := svc.Settle(context.Background(), testOrderID)

		assert.ErrorIs(t, err, apperrors.ErrStaleTransition)
	})

	t.Run("No sales rep means no rep commission", func(t *testing.T) {
		ledgerRepo, orders, _, svc := newLedgerFixture()
		order := inTransitOrder()
		order.SalesRepID = ""

		orders.On("GetByID", testOrderID).Return(order, nil)

		var got repository.SettleParams
		ledgerRepo.On("Settle", mock.AnythingOfType("repository.SettleParams")).
			Run(func(args mock.Arguments) {
				got = args.Get(0).(repository.SettleParams)
			}).
			Return(&model.LedgerTransaction{}, nil)

		_, err := svc.Settle(context.Background(), testOrderID)

		assert.NoError(t, err)
		assert.Empty(t, got.RepID)
		assert.Zero(t, got.RepCommission)
	})
}

func TestMarkEscrowHeld(t *testing.T) {
	t.Run("Pending escrow row is promoted", func(t *testing.T) {
		ledgerRepo, _, _, svc := newLedgerFixture()
		pending := model.LedgerTransaction{Type: model.TxEscrow, Status: model.TxStatusPending}
		pending.ID = "tx-1"

		ledgerRepo.On("GetByOrderID", testOrderID).Return([]model.LedgerTransaction{pending}, nil)
		ledgerRepo.On("UpdateStatusCAS", "tx-1",
			[]model.TxStatus{model.TxStatusPending}, model.TxStatusEscrowHeld, (*time.Time)(nil)).
			Return(true, nil)

		err := svc.MarkEscrowHeld(context.Background(), testOrderID)

		assert.NoError(t, err)
		ledgerRepo.AssertExpectations(t)
	})

	t.Run("No pending row is a no-op", func(t *testing.T) {
		ledgerRepo, _, _, svc := newLedgerFixture()
		released := model.LedgerTransaction{Type: model.TxEscrow, Status: model.TxStatusReleased}

		ledgerRepo.On("GetByOrderID", testOrderID).Return([]model.LedgerTransaction{released}, nil)

		err := svc.MarkEscrowHeld(context.Background(), testOrderID)

		assert.NoError(t, err)
		ledgerRepo.AssertNotCalled(t, "UpdateStatusCAS", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}
