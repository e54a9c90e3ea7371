package service

import (
	"context"
	"testing"
	"time"

	deliveryModel "pharmacy_orders/internal/domain/delivery/model"
	ledgerModel "pharmacy_orders/internal/domain/ledger/model"
	ledgerService "pharmacy_orders/internal/domain/ledger/service"
	"pharmacy_orders/internal/domain/order/model"
	userModel "pharmacy_orders/internal/domain/user/model"
	"pharmacy_orders/pkg/apperrors"
	"pharmacy_orders/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockOrderRepository is a mock of OrderRepository
type MockOrderRepository struct {
	mock.Mock
}

func (m *MockOrderRepository) Create(order *model.Order) error {
	args := m.Called(order)
	return args.Error(0)
}

func (m *MockOrderRepository) GetByID(id string) (*model.Order, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

func (m *MockOrderRepository) ListBySeller(sellerID string, offset, limit int) ([]model.Order, int64, error) {
	args := m.Called(sellerID, offset, limit)
	return args.Get(0).([]model.Order), args.Get(1).(int64), args.Error(2)
}

func (m *MockOrderRepository) ListByCustomer(customerID string, offset, limit int) ([]model.Order, int64, error) {
	args := m.Called(customerID, offset, limit)
	return args.Get(0).([]model.Order), args.Get(1).(int64), args.Error(2)
}

func (m *MockOrderRepository) UpdateStatusCAS(orderID string, expected, next model.OrderStatus, updates map[string]interface{}) (bool, error) {
	args := m.Called(orderID, expected, next, updates)
	return args.Bool(0), args.Error(1)
}

func (m *MockOrderRepository) AssignCourierCAS(orderID string, expected model.OrderStatus, courierID, courierName string, updates map[string]interface{}) (bool, error) {
	args := m.Called(orderID, expected, courierID, courierName, updates)
	return args.Bool(0), args.Error(1)
}

func (m *MockOrderRepository) UpdatePaymentStatusCAS(orderID string, expected []model.PaymentStatus, next model.PaymentStatus) (bool, error) {
	args := m.Called(orderID, expected, next)
	return args.Bool(0), args.Error(1)
}

// MockTaskRepository is a mock of delivery TaskRepository
type MockTaskRepository struct {
	mock.Mock
}

func (m *MockTaskRepository) GetByOrderID(orderID string) (*deliveryModel.DeliveryTask, error) {
	args := m.Called(orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*deliveryModel.DeliveryTask), args.Error(1)
}

func (m *MockTaskRepository) ListByDriver(driverID string, offset, limit int) ([]deliveryModel.DeliveryTask, int64, error) {
	args := m.Called(driverID, offset, limit)
	return args.Get(0).([]deliveryModel.DeliveryTask), args.Get(1).(int64), args.Error(2)
}

func (m *MockTaskRepository) UpsertAssigned(orderID, driverID, driverName, otp string, at time.Time) error {
	args := m.Called(orderID, driverID, driverName, otp, at)
	return args.Error(0)
}

func (m *MockTaskRepository) MarkPickedUp(orderID string, at time.Time) error {
	args := m.Called(orderID, at)
	return args.Error(0)
}

func (m *MockTaskRepository) MarkDelivered(orderID string, at time.Time) error {
	args := m.Called(orderID, at)
	return args.Error(0)
}

func (m *MockTaskRepository) SetProofURL(orderID, url string) error {
	args := m.Called(orderID, url)
	return args.Error(0)
}

// MockCodeService is a mock of delivery CodeService
type MockCodeService struct {
	mock.Mock
}

func (m *MockCodeService) Generate(ctx context.Context, orderID string) (string, error) {
	args := m.Called(ctx, orderID)
	return args.String(0), args.Error(1)
}

func (m *MockCodeService) Verify(ctx context.Context, order *model.Order, submitted string) error {
	args := m.Called(ctx, order, submitted)
	return args.Error(0)
}

// MockTenantResolver is a mock of TenantResolver
type MockTenantResolver struct {
	mock.Mock
}

func (m *MockTenantResolver) Resolve(ctx context.Context, actor *userModel.Actor) (string, error) {
	args := m.Called(ctx, actor)
	return args.String(0), args.Error(1)
}

// MockIdempotencyStore is a mock of IdempotencyStore
type MockIdempotencyStore struct {
	mock.Mock
}

func (m *MockIdempotencyStore) Claim(ctx context.Context, key string) (*Outcome, bool, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*Outcome), args.Bool(1), args.Error(2)
}

func (m *MockIdempotencyStore) SaveOutcome(ctx context.Context, key string, outcome Outcome) error {
	args := m.Called(ctx, key, outcome)
	return args.Error(0)
}

func (m *MockIdempotencyStore) Release(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

// MockLedgerService is a mock of ledger LedgerService
type MockLedgerService struct {
	mock.Mock
}

func (m *MockLedgerService) Settle(ctx context.Context, orderID string) (*ledgerModel.LedgerTransaction, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledgerModel.LedgerTransaction), args.Error(1)
}

func (m *MockLedgerService) CreateEscrowHold(ctx context.Context, order *model.Order, provider string) (*ledgerModel.LedgerTransaction, error) {
	args := m.Called(ctx, order, provider)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledgerModel.LedgerTransaction), args.Error(1)
}

func (m *MockLedgerService) MarkEscrowHeld(ctx context.Context, orderID string) error {
	args := m.Called(ctx, orderID)
	return args.Error(0)
}

func (m *MockLedgerService) GetOrderTransactions(ctx context.Context, orderID string) ([]ledgerModel.LedgerTransaction, error) {
	args := m.Called(ctx, orderID)
	return args.Get(0).([]ledgerModel.LedgerTransaction), args.Error(1)
}

type testFixture struct {
	repo     *MockOrderRepository
	tasks    *MockTaskRepository
	codes    *MockCodeService
	resolver *MockTenantResolver
	idem     *MockIdempotencyStore
	ledger   *MockLedgerService
	service  OrderService
}

func newFixture(t *testing.T) *testFixture {
	f := &testFixture{
		repo:     new(MockOrderRepository),
		tasks:    new(MockTaskRepository),
		codes:    new(MockCodeService),
		resolver: new(MockTenantResolver),
		idem:     new(MockIdempotencyStore),
		ledger:   new(MockLedgerService),
	}
	collector := metrics.NewMetricsCollectorWith(prometheus.NewRegistry())
	f.service = NewOrderService(f.repo, f.tasks, f.codes, f.resolver, f.idem, collector)

	prev := ledgerService.GlobalLedgerService
	ledgerService.GlobalLedgerService = f.ledger
	t.Cleanup(func() { ledgerService.GlobalLedgerService = prev })

	return f
}

const (
	testSellerID  = "11111111-1111-1111-1111-111111111111"
	testOrderID   = "22222222-2222-2222-2222-222222222222"
	testCourierID = "33333333-3333-3333-3333-333333333333"
)

func courierActor() *userModel.Actor {
	return &userModel.Actor{UserID: testCourierID, Role: userModel.RoleCourier}
}

func paidOrder(status model.OrderStatus) *model.Order {
	order := &model.Order{
		SellerID:      testSellerID,
		Items:         model.OrderItems{{Name: "Amoxicillin", Price: 45000, Quantity: 1}},
		Total:         45000,
		Status:        status,
		PaymentStatus: model.PaymentEscrowHeld,
	}
	order.ID = testOrderID
	return order
}

func TestCreateOrder(t *testing.T) {
	vendor := &userModel.Actor{UserID: testSellerID, Role: userModel.RoleVendor}

	t.Run("Total is computed server side", func(t *testing.T) {
		f := newFixture(t)
		f.resolver.On("Resolve", mock.Anything, vendor).Return(testSellerID, nil)
		f.repo.On("Create", mock.AnythingOfType("*model.Order")).Return(nil)

		order, err := f.service.CreateOrder(context.Background(), vendor, CreateOrderInput{
			SellerID: testSellerID,
			Items:    []model.OrderItem{{Name: "Paracetamol", Price: 15000, Quantity: 3}},
			Tax:      500,
			Discount: 500,
		})

		assert.NoError(t, err)
		assert.InDelta(t, 45000.0, order.Total, 0.001)
		assert.Equal(t, model.StatusPending, order.Status)
		f.repo.AssertExpectations(t)
	})

	t.Run("Empty order rejected", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.service.CreateOrder(context.Background(), vendor, CreateOrderInput{
			SellerID: testSellerID,
		})

		assert.ErrorIs(t, err, apperrors.ErrValidation)
		f.repo.AssertNotCalled(t, "Create", mock.Anything)
	})

	t.Run("Non-positive price rejected", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.service.CreateOrder(context.Background(), vendor, CreateOrderInput{
			SellerID: testSellerID,
			Items:    []model.OrderItem{{Name: "Paracetamol", Price: 0, Quantity: 1}},
		})

		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})

	t.Run("Discount above subtotal plus tax rejected", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.service.CreateOrder(context.Background(), vendor, CreateOrderInput{
			SellerID: testSellerID,
			Items:    []model.OrderItem{{Name: "Paracetamol", Price: 15000, Quantity: 1}},
			Tax:      500,
			Discount: 20000,
		})

		assert.ErrorIs(t, err, apperrors.ErrValidation)
		f.repo.AssertNotCalled(t, "Create", mock.Anything)
	})

	t.Run("Staff creating for a foreign seller gets not found", func(t *testing.T) {
		f := newFixture(t)
		staff := &userModel.Actor{UserID: "staff-1", Role: userModel.RoleStaff}
		f.resolver.On("Resolve", mock.Anything, staff).Return("other-tenant", nil)

		_, err := f.service.CreateOrder(context.Background(), staff, CreateOrderInput{
			SellerID: testSellerID,
			Items:    []model.OrderItem{{Name: "Paracetamol", Price: 100, Quantity: 1}},
		})

		assert.ErrorIs(t, err, apperrors.ErrNotFound)
		f.repo.AssertNotCalled(t, "Create", mock.Anything)
	})

	t.Run("Duplicate idempotency key replays the first result", func(t *testing.T) {
		f := newFixture(t)
		existing := paidOrder(model.StatusPending)
		f.idem.On("Claim", mock.Anything, "dev1-create-1").
			Return(&Outcome{OrderID: testOrderID, Status: model.StatusPending}, false, nil)
		f.repo.On("GetByID", testOrderID).Return(existing, nil)

		order, err := f.service.CreateOrder(context.Background(), vendor, CreateOrderInput{
			SellerID:       testSellerID,
			Items:          []model.OrderItem{{Name: "Paracetamol", Price: 100, Quantity: 1}},
			IdempotencyKey: "dev1-create-1",
		})

		assert.NoError(t, err)
		assert.Equal(t, testOrderID, order.ID)
		f.repo.AssertNotCalled(t, "Create", mock.Anything)
	})
}

func TestApplyStaleTransition(t *testing.T) {
	t.Run("Expected state mismatch is rejected without side effects", func(t *testing.T) {
		f := newFixture(t)
		order := paidOrder(model.StatusDispatched)
		f.repo.On("GetByID", testOrderID).Return(order, nil)
		f.resolver.On("Resolve", mock.Anything, mock.Anything).Return(testSellerID, nil)

		_, err := f.service.Apply(context.Background(), testOrderID, courierActor(), model.Intent{
			Type:     model.IntentAcceptDelivery,
			Expected: model.StatusProcessing,
		})

		assert.ErrorIs(t, err, apperrors.ErrStaleTransition)
		f.repo.AssertNotCalled(t, "AssignCourierCAS", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Cancel after dispatch is rejected by intent validation", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.service.Apply(context.Background(), testOrderID, courierActor(), model.Intent{
			Type:     model.IntentCancel,
			Expected: model.StatusDispatched,
		})

		assert.ErrorIs(t, err, apperrors.ErrValidation)
		f.repo.AssertNotCalled(t, "GetByID", mock.Anything)
	})
}

func TestAcceptDelivery(t *testing.T) {
	t.Run("Courier wins the assignment and a code is issued", func(t *testing.T) {
		f := newFixture(t)
		order := paidOrder(model.StatusProcessing)
		f.repo.On("GetByID", testOrderID).Return(order, nil)
		f.resolver.On("Resolve", mock.Anything, mock.Anything).Return(testSellerID, nil)
		f.codes.On("Generate", mock.Anything, testOrderID).Return("4821", nil)
		f.repo.On("AssignCourierCAS", testOrderID, model.StatusProcessing, testCourierID, "Ada",
			map[string]interface{}{"delivery_otp": "4821"}).Return(true, nil)
		f.tasks.On("UpsertAssigned", testOrderID, testCourierID, "Ada", "4821", mock.AnythingOfType("time.Time")).Return(nil)

		_, err := f.service.Apply(context.Background(), testOrderID, courierActor(), model.Intent{
			Type:        model.IntentAcceptDelivery,
			Expected:    model.StatusProcessing,
			CourierName: "Ada",
		})

		assert.NoError(t, err)
		f.repo.AssertExpectations(t)
		f.tasks.AssertExpectations(t)
	})

	t.Run("Second courier loses the race", func(t *testing.T) {
		f := newFixture(t)
		order := paidOrder(model.StatusProcessing)
		f.repo.On("GetByID", testOrderID).Return(order, nil)
		f.resolver.On("Resolve", mock.Anything, mock.Anything).Return(testSellerID, nil)
		f.codes.On("Generate", mock.Anything, testOrderID).Return("4821", nil)
		f.repo.On("AssignCourierCAS", testOrderID, model.StatusProcessing, testCourierID, "Ben",
			mock.Anything).Return(false, nil)

		_, err := f.service.Apply(context.Background(), testOrderID, courierActor(), model.Intent{
			Type:        model.IntentAcceptDelivery,
			Expected:    model.StatusProcessing,
			CourierName: "Ben",
		})

		assert.ErrorIs(t, err, apperrors.ErrStaleTransition)
		f.tasks.AssertNotCalled(t, "UpsertAssigned", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Unpaid order cannot be dispatched", func(t *testing.T) {
		f := newFixture(t)
		order := paidOrder(model.StatusProcessing)
		order.PaymentStatus = model.PaymentPending
		f.repo.On("GetByID", testOrderID).Return(order, nil)
		f.resolver.On("Resolve", mock.Anything, mock.Anything).Return(testSellerID, nil)

		_, err := f.service.Apply(context.Background(), testOrderID, courierActor(), model.Intent{
			Type:     model.IntentAcceptDelivery,
			Expected: model.StatusProcessing,
		})

		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})

	t.Run("Non-courier cannot accept", func(t *testing.T) {
		f := newFixture(t)
		order := paidOrder(model.StatusProcessing)
		actor := &userModel.Actor{UserID: testSellerID, Role: userModel.RoleVendor}
		f.repo.On("GetByID", testOrderID).Return(order, nil)
		f.resolver.On("Resolve", mock.Anything, actor).Return(testSellerID, nil)

		_, err := f.service.Apply(context.Background(), testOrderID, actor, model.Intent{
			Type:     model.IntentAcceptDelivery,
			Expected: model.StatusProcessing,
		})

		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}

func TestConfirmDelivery(t *testing.T) {
	assignedOrder := func() *model.Order {
		order := paidOrder(model.StatusInTransit)
		courierID := testCourierID
		order.CourierID = &courierID
		order.DeliveryOTP = "4821"
		return order
	}

	t.Run("Correct code settles and delivers", func(t *testing.T) {
		f := newFixture(t)
		order := assignedOrder()
		f.repo.On("GetByID", testOrderID).Return(order, nil)
		f.resolver.On("Resolve", mock.Anything, mock.Anything).Return(testSellerID, nil)
		f.codes.On("Verify", mock.Anything, order, "4821").Return(nil)
		f.ledger.On("Settle", mock.Anything, testOrderID).Return(&ledgerModel.LedgerTransaction{}, nil)
		f.tasks.On("MarkDelivered", testOrderID, mock.AnythingOfType("time.Time")).Return(nil)

		_, err := f.service.Apply(context.Background(), testOrderID, courierActor(), model.Intent{
			Type:     model.IntentConfirmDelivery,
			Expected: model.StatusInTransit,
			Code:     "4821",
		})

		assert.NoError(t, err)
		f.ledger.AssertExpectations(t)
	})

	t.Run("Wrong code leaves the order untouched", func(t *testing.T) {
		f := newFixture(t)
		order := assignedOrder()
		f.repo.On("GetByID", testOrderID).Return(order, nil)
		f.resolver.On("Resolve", mock.Anything, mock.Anything).Return(testSellerID, nil)
		f.codes.On("Verify", mock.Anything, order, "0000").
			Return(apperrors.ErrVerification)

		_, err := f.service.Apply(context.Background(), testOrderID, courierActor(), model.Intent{
			Type:     model.IntentConfirmDelivery,
			Expected: model.StatusInTransit,
			Code:     "0000",
		})

		assert.ErrorIs(t, err, apperrors.ErrVerification)
		f.ledger.AssertNotCalled(t, "Settle", mock.Anything, mock.Anything)
		f.tasks.AssertNotCalled(t, "MarkDelivered", mock.Anything, mock.Anything)
	})

	t.Run("Duplicate settlement surfaces as conflict", func(t *testing.T) {
		f := newFixture(t)
		order := assignedOrder()
		f.repo.On("GetByID", testOrderID).Return(order, nil)
		f.resolver.On("Resolve", mock.Anything, mock.Anything).Return(testSellerID, nil)
		f.codes.On("Verify", mock.Anything, order, "4821").Return(nil)
		f.ledger.On("Settle", mock.Anything, testOrderID).Return(nil, apperrors.ErrSettlementConflict)

		_, err := f.service.Apply(context.Background(), testOrderID, courierActor(), model.Intent{
			Type:     model.IntentConfirmDelivery,
			Expected: model.StatusInTransit,
			Code:     "4821",
		})

		assert.ErrorIs(t, err, apperrors.ErrSettlementConflict)
	})

	t.Run("Only the assigned courier can confirm", func(t *testing.T) {
		f := newFixture(t)
		order := assignedOrder()
		other := &userModel.Actor{UserID: "other-courier", Role: userModel.RoleCourier}
		f.repo.On("GetByID", testOrderID).Return(order, nil)
		f.resolver.On("Resolve", mock.Anything, other).Return(testSellerID, nil)

		_, err := f.service.Apply(context.Background(), testOrderID, other, model.Intent{
			Type:     model.IntentConfirmDelivery,
			Expected: model.StatusInTransit,
			Code:     "4821",
		})

		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}

func TestApplyIdempotency(t *testing.T) {
	t.Run("Replayed key does not execute the intent again", func(t *testing.T) {
		f := newFixture(t)
		delivered := paidOrder(model.StatusDelivered)
		f.idem.On("Claim", mock.Anything, "dev1-intent-7").
			Return(&Outcome{OrderID: testOrderID, Status: model.StatusDelivered}, false, nil)
		f.repo.On("GetByID", testOrderID).Return(delivered, nil)

		order, err := f.service.Apply(context.Background(), testOrderID, courierActor(), model.Intent{
			Type:           model.IntentConfirmDelivery,
			Expected:       model.StatusInTransit,
			Code:           "4821",
			IdempotencyKey: "dev1-intent-7",
		})

		assert.NoError(t, err)
		assert.Equal(t, model.StatusDelivered, order.Status)
		f.ledger.AssertNotCalled(t, "Settle", mock.Anything, mock.Anything)
		f.codes.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Replayed terminal failure is returned as the same error kind", func(t *testing.T) {
		f := newFixture(t)
		f.idem.On("Claim", mock.Anything, "dev1-intent-8").
			Return(&Outcome{ErrKind: "verification"}, false, nil)

		_, err := f.service.Apply(context.Background(), testOrderID, courierActor(), model.Intent{
			Type:           model.IntentConfirmDelivery,
			Expected:       model.StatusInTransit,
			Code:           "0000",
			IdempotencyKey: "dev1-intent-8",
		})

		assert.ErrorIs(t, err, apperrors.ErrVerification)
	})

	t.Run("Outcome is stored after a fresh execution", func(t *testing.T) {
		f := newFixture(t)
		order := paidOrder(model.StatusProcessing)
		f.idem.On("Claim", mock.Anything, "dev1-intent-9").Return(nil, true, nil)
		f.repo.On("GetByID", testOrderID).Return(order, nil)
		f.resolver.On("Resolve", mock.Anything, mock.Anything).Return(testSellerID, nil)
		f.codes.On("Generate", mock.Anything, testOrderID).Return("4821", nil)
		f.repo.On("AssignCourierCAS", testOrderID, model.StatusProcessing, testCourierID, "",
			mock.Anything).Return(true, nil)
		f.tasks.On("UpsertAssigned", testOrderID, testCourierID, "", "4821", mock.AnythingOfType("time.Time")).Return(nil)
		f.idem.On("SaveOutcome", mock.Anything, "dev1-intent-9", mock.AnythingOfType("service.Outcome")).Return(nil)

		_, err := f.service.Apply(context.Background(), testOrderID, courierActor(), model.Intent{
			Type:           model.IntentAcceptDelivery,
			Expected:       model.StatusProcessing,
			IdempotencyKey: "dev1-intent-9",
		})

		assert.NoError(t, err)
		f.idem.AssertExpectations(t)
	})
}

func TestTenantScoping(t *testing.T) {
	t.Run("Foreign tenant order reads as not found", func(t *testing.T) {
		f := newFixture(t)
		order := paidOrder(model.StatusProcessing)
		staff := &userModel.Actor{UserID: "staff-1", Role: userModel.RoleStaff}
		f.repo.On("GetByID", testOrderID).Return(order, nil)
		f.resolver.On("Resolve", mock.Anything, staff).Return("other-tenant", nil)

		_, err := f.service.GetOrder(context.Background(), staff, testOrderID)

		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("Customer can only read own orders", func(t *testing.T) {
		f := newFixture(t)
		order := paidOrder(model.StatusProcessing)
		order.CustomerID = "customer-1"
		stranger := &userModel.Actor{UserID: "customer-2", Role: userModel.RoleCustomer}
		f.repo.On("GetByID", testOrderID).Return(order, nil)

		_, err := f.service.GetOrder(context.Background(), stranger, testOrderID)

		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}

func TestCancel(t *testing.T) {
	t.Run("Pending order cancels", func(t *testing.T) {
		f := newFixture(t)
		order := paidOrder(model.StatusPending)
		f.repo.On("GetByID", testOrderID).Return(order, nil)
		f.resolver.On("Resolve", mock.Anything, mock.Anything).Return(testSellerID, nil)
		f.repo.On("UpdateStatusCAS", testOrderID, model.StatusPending, model.StatusCancelled,
			mock.Anything).Return(true, nil)

		_, err := f.service.Apply(context.Background(), testOrderID,
			&userModel.Actor{UserID: testSellerID, Role: userModel.RoleVendor},
			model.Intent{Type: model.IntentCancel, Expected: model.StatusPending, Reason: "customer changed mind"})

		assert.NoError(t, err)
		f.repo.AssertExpectations(t)
	})
}
