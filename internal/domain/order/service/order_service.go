package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	deliveryRepo "pharmacy_orders/internal/domain/delivery/repository"
	deliveryService "pharmacy_orders/internal/domain/delivery/service"
	ledgerService "pharmacy_orders/internal/domain/ledger/service"
	"pharmacy_orders/internal/domain/order/model"
	"pharmacy_orders/internal/domain/order/repository"
	userModel "pharmacy_orders/internal/domain/user/model"
	userService "pharmacy_orders/internal/domain/user/service"
	"pharmacy_orders/internal/pkg/push"
	"pharmacy_orders/pkg/apperrors"
	"pharmacy_orders/pkg/logger"
	"pharmacy_orders/pkg/metrics"
	"pharmacy_orders/pkg/utils"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CreateOrderInput 下单入参
type CreateOrderInput struct {
	SellerID        string            `json:"sellerId" binding:"required"`
	CustomerName    string            `json:"customerName"`
	Items           []model.OrderItem `json:"items" binding:"required"`
	Tax             float64           `json:"tax"`
	Discount        float64           `json:"discount"`
	DeliveryAddress string            `json:"deliveryAddress"`
	SalesRepID      string            `json:"salesRepId"`
	Channel         string            `json:"channel"`
	BranchID        string            `json:"branchId"`
	IdempotencyKey  string            `json:"idempotencyKey"`
}

// OrderService 订单生命周期管理器。
// 所有订单状态变更的唯一入口；UI 和离线队列都只是它的调用方。
type OrderService interface {
	CreateOrder(ctx context.Context, actor *userModel.Actor, input CreateOrderInput) (*model.Order, error)
	Apply(ctx context.Context, orderID string, actor *userModel.Actor, intent model.Intent) (*model.Order, error)
	GetOrder(ctx context.Context, actor *userModel.Actor, orderID string) (*model.Order, error)
	ListOrders(ctx context.Context, actor *userModel.Actor, page, limit int) ([]model.Order, int64, error)

	// UpdatePaymentStatus 给支付回调用的窄通道，只动 payment_status 不动状态机
	UpdatePaymentStatus(ctx context.Context, orderID string, expected []model.PaymentStatus, next model.PaymentStatus) (bool, error)
}

// GlobalOrderService 由 order 模块初始化，payment 与 queue 模块通过它驱动状态机
var GlobalOrderService OrderService

type orderService struct {
	repo      repository.OrderRepository
	tasks     deliveryRepo.TaskRepository
	codes     deliveryService.CodeService
	resolver  userService.TenantResolver
	idem      IdempotencyStore
	collector *metrics.MetricsCollector
}

func NewOrderService(
	repo repository.OrderRepository,
	tasks deliveryRepo.TaskRepository,
	codes deliveryService.CodeService,
	resolver userService.TenantResolver,
	idem IdempotencyStore,
	collector *metrics.MetricsCollector,
) OrderService {
	return &orderService{
		repo:      repo,
		tasks:     tasks,
		codes:     codes,
		resolver:  resolver,
		idem:      idem,
		collector: collector,
	}
}

func (s *orderService) CreateOrder(ctx context.Context, actor *userModel.Actor, input CreateOrderInput) (*model.Order, error) {
	if err := validateCreate(input); err != nil {
		return nil, err
	}

	// 离线下单会带幂等键，重放只创建一次
	if input.IdempotencyKey != "" {
		outcome, claimed, err := s.idem.Claim(ctx, input.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if !claimed {
			return s.replayOutcome(outcome)
		}
	}

	order, err := s.doCreate(ctx, actor, input)

	if input.IdempotencyKey != "" {
		s.recordOutcome(ctx, input.IdempotencyKey, order, err)
	}
	return order, err
}

func (s *orderService) doCreate(ctx context.Context, actor *userModel.Actor, input CreateOrderInput) (*model.Order, error) {
	// POS/店员下单时租户必须等于订单归属商家
	if actor.Role == userModel.RoleVendor || actor.Role == userModel.RoleStaff {
		tenantID, err := s.resolver.Resolve(ctx, actor)
		if err != nil {
			return nil, err
		}
		if tenantID != input.SellerID {
			logger.Log.Warn("tenant mismatch on order create",
				zap.String("actor", actor.UserID), zap.String("seller", input.SellerID))
			return nil, apperrors.ErrNotFound
		}
	}

	order := &model.Order{
		SellerID:        input.SellerID,
		CustomerName:    input.CustomerName,
		Items:           input.Items,
		Tax:             input.Tax,
		Discount:        input.Discount,
		Status:          model.StatusPending,
		PaymentStatus:   model.PaymentPending,
		DeliveryAddress: input.DeliveryAddress,
		SalesRepID:      input.SalesRepID,
		Channel:         input.Channel,
		BranchID:        input.BranchID,
	}
	if actor.Role == userModel.RoleCustomer {
		order.CustomerID = actor.UserID
	}
	// 总额只在服务端计算，客户端给的数字不可信
	order.Total = order.ComputedTotal()

	if err := s.repo.Create(order); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrTransientIO, err)
	}

	logger.Log.Info("order created",
		zap.String("order_id", order.ID),
		zap.String("seller_id", order.SellerID),
		zap.Float64("total", order.Total),
	)
	return order, nil
}

func validateCreate(input CreateOrderInput) error {
	if len(input.Items) == 0 {
		return fmt.Errorf("%w: order must contain at least one item", apperrors.ErrValidation)
	}
	for _, item := range input.Items {
		if item.Name == "" || item.Price <= 0 || item.Quantity <= 0 {
			return fmt.Errorf("%w: item requires name, positive price and quantity", apperrors.ErrValidation)
		}
	}
	if input.Tax < 0 || input.Discount < 0 {
		return fmt.Errorf("%w: tax and discount cannot be negative", apperrors.ErrValidation)
	}
	// 应付金额不允许为负
	if input.Discount > model.OrderItems(input.Items).Subtotal()+input.Tax {
		return fmt.Errorf("%w: discount cannot exceed subtotal plus tax", apperrors.ErrValidation)
	}
	return nil
}

func (s *orderService) Apply(ctx context.Context, orderID string, actor *userModel.Actor, intent model.Intent) (*model.Order, error) {
	if err := intent.Validate(); err != nil {
		return nil, err
	}

	if intent.IdempotencyKey != "" {
		outcome, claimed, err := s.idem.Claim(ctx, intent.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if !claimed {
			// 已见过的键：不再执行，返回首次结果（已达成的状态）
			return s.replayOutcome(outcome)
		}
	}

	order, err := s.doApply(ctx, orderID, actor, intent)

	if intent.IdempotencyKey != "" {
		s.recordOutcome(ctx, intent.IdempotencyKey, order, err)
	}
	return order, err
}

func (s *orderService) doApply(ctx context.Context, orderID string, actor *userModel.Actor, intent model.Intent) (*model.Order, error) {
	order, err := s.loadScoped(ctx, orderID, actor)
	if err != nil {
		return nil, err
	}

	// 先按存储状态做一次快速失败；真正的防线是更新语句上的前置条件
	if order.Status != intent.Expected {
		s.collector.RecordStaleTransition()
		return nil, fmt.Errorf("%w: expected %s but order is %s",
			apperrors.ErrStaleTransition, intent.Expected, order.Status)
	}

	switch intent.Type {
	case model.IntentAcceptDelivery:
		return s.acceptDelivery(ctx, order, actor, intent)
	case model.IntentConfirmPickup:
		return s.confirmPickup(ctx, order, actor, intent)
	case model.IntentConfirmDelivery:
		return s.confirmDelivery(ctx, order, actor, intent)
	case model.IntentCancel:
		return s.cancel(ctx, order, intent)
	case model.IntentInitiatePayment, model.IntentPaymentFailed:
		return s.paymentTransition(ctx, order, intent)
	default:
		return nil, fmt.Errorf("%w: unknown intent type %q", apperrors.ErrValidation, intent.Type)
	}
}

// acceptDelivery 骑手接单：对 courier_id 的 CAS，先写者胜出
func (s *orderService) acceptDelivery(ctx context.Context, order *model.Order, actor *userModel.Actor, intent model.Intent) (*model.Order, error) {
	if actor.Role != userModel.RoleCourier {
		return nil, apperrors.ErrNotFound
	}
	if !order.Payable() {
		return nil, fmt.Errorf("%w: order is not paid or escrow-held", apperrors.ErrValidation)
	}

	// 收货码在派单时生成一次，失败则放弃本次流转（码是送达的闸门，不能没有）
	code := order.DeliveryOTP
	if code == "" {
		var err error
		code, err = s.codes.Generate(ctx, order.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrTransientIO, err)
		}
	}

	ok, err := s.repo.AssignCourierCAS(order.ID, intent.Expected, actor.UserID, intent.CourierName,
		map[string]interface{}{"delivery_otp": code})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrTransientIO, err)
	}
	if !ok {
		// 另一个骑手先到了，或状态已变
		s.collector.RecordStaleTransition()
		return nil, fmt.Errorf("%w: order already assigned or state changed", apperrors.ErrStaleTransition)
	}
	s.collector.RecordTransition(string(intent.Expected), string(model.StatusDispatched))

	// 配送任务镜像是尽力而为：失败记日志，不回滚订单
	now := time.Now()
	if err := s.tasks.UpsertAssigned(order.ID, actor.UserID, intent.CourierName, code, now); err != nil {
		logger.Log.Warn("delivery task mirror failed on assign",
			zap.String("order_id", order.ID), zap.Error(err))
	}

	s.notifyCustomer(order, "订单已派出", "您的订单已由骑手接单，收货时请向骑手出示收货码。")

	return s.reload(order.ID)
}

func (s *orderService) confirmPickup(ctx context.Context, order *model.Order, actor *userModel.Actor, intent model.Intent) (*model.Order, error) {
	if err := requireAssignedCourier(order, actor); err != nil {
		return nil, err
	}

	ok, err := s.repo.UpdateStatusCAS(order.ID, intent.Expected, model.StatusInTransit, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrTransientIO, err)
	}
	if !ok {
		s.collector.RecordStaleTransition()
		return nil, fmt.Errorf("%w: order state changed", apperrors.ErrStaleTransition)
	}
	s.collector.RecordTransition(string(intent.Expected), string(model.StatusInTransit))

	if err := s.tasks.MarkPickedUp(order.ID, time.Now()); err != nil {
		logger.Log.Warn("delivery task mirror failed on pickup",
			zap.String("order_id", order.ID), zap.Error(err))
	}

	return s.reload(order.ID)
}

// confirmDelivery 码验通过才允许送达；送达与托管释放在账本层原子完成
func (s *orderService) confirmDelivery(ctx context.Context, order *model.Order, actor *userModel.Actor, intent model.Intent) (*model.Order, error) {
	if err := requireAssignedCourier(order, actor); err != nil {
		return nil, err
	}

	if err := s.codes.Verify(ctx, order, intent.Code); err != nil {
		return nil, err
	}

	if ledgerService.GlobalLedgerService == nil {
		return nil, fmt.Errorf("%w: ledger service not initialized", apperrors.ErrTransientIO)
	}
	if _, err := ledgerService.GlobalLedgerService.Settle(ctx, order.ID); err != nil {
		if errors.Is(err, apperrors.ErrSettlementConflict) {
			// 订单其实已送达结算过（例如镜像重放），把它视作重复确认
			return nil, err
		}
		return nil, err
	}
	s.collector.RecordTransition(string(model.StatusInTransit), string(model.StatusDelivered))

	if err := s.tasks.MarkDelivered(order.ID, time.Now()); err != nil {
		logger.Log.Warn("delivery task mirror failed on delivered",
			zap.String("order_id", order.ID), zap.Error(err))
	}

	s.notifyCustomer(order, "订单已送达", "感谢您的购买，欢迎再次光临。")

	return s.reload(order.ID)
}

func (s *orderService) cancel(ctx context.Context, order *model.Order, intent model.Intent) (*model.Order, error) {
	ok, err := s.repo.UpdateStatusCAS(order.ID, intent.Expected, model.StatusCancelled, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrTransientIO, err)
	}
	if !ok {
		s.collector.RecordStaleTransition()
		return nil, fmt.Errorf("%w: order can no longer be cancelled", apperrors.ErrStaleTransition)
	}
	s.collector.RecordTransition(string(intent.Expected), string(model.StatusCancelled))

	logger.Log.Info("order cancelled",
		zap.String("order_id", order.ID),
		zap.String("reason", intent.Reason),
	)
	return s.reload(order.ID)
}

func (s *orderService) paymentTransition(ctx context.Context, order *model.Order, intent model.Intent) (*model.Order, error) {
	target, _ := intent.Target()
	ok, err := s.repo.UpdateStatusCAS(order.ID, intent.Expected, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrTransientIO, err)
	}
	if !ok {
		s.collector.RecordStaleTransition()
		return nil, fmt.Errorf("%w: order state changed", apperrors.ErrStaleTransition)
	}
	s.collector.RecordTransition(string(intent.Expected), string(target))
	return s.reload(order.ID)
}

func (s *orderService) UpdatePaymentStatus(ctx context.Context, orderID string, expected []model.PaymentStatus, next model.PaymentStatus) (bool, error) {
	ok, err := s.repo.UpdatePaymentStatusCAS(orderID, expected, next)
	if err != nil {
		return false, fmt.Errorf("%w: %v", apperrors.ErrTransientIO, err)
	}
	return ok, nil
}

func (s *orderService) GetOrder(ctx context.Context, actor *userModel.Actor, orderID string) (*model.Order, error) {
	return s.loadScoped(ctx, orderID, actor)
}

func (s *orderService) ListOrders(ctx context.Context, actor *userModel.Actor, page, limit int) ([]model.Order, int64, error) {
	p := utils.Pagination{Page: page, Limit: limit}
	offset, l := p.GetPageOffset()

	if actor.Role == userModel.RoleCustomer {
		return s.repo.ListByCustomer(actor.UserID, offset, l)
	}

	tenantID, err := s.resolver.Resolve(ctx, actor)
	if err != nil {
		return nil, 0, err
	}
	return s.repo.ListBySeller(tenantID, offset, l)
}

// loadScoped 读取订单并做租户裁剪。
// 越权与不存在对调用方不可区分，真实原因只进日志。
func (s *orderService) loadScoped(ctx context.Context, orderID string, actor *userModel.Actor) (*model.Order, error) {
	order, err := s.repo.GetByID(orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", apperrors.ErrTransientIO, err)
	}

	switch actor.Role {
	case userModel.RoleCustomer:
		if order.CustomerID != actor.UserID {
			logger.Log.Warn("customer accessing foreign order",
				zap.String("actor", actor.UserID), zap.String("order_id", orderID))
			return nil, apperrors.ErrNotFound
		}
	case userModel.RoleCourier:
		// 骑手可以看到本商家的可接订单，以及自己已接的订单
		tenantID, err := s.resolver.Resolve(ctx, actor)
		if err != nil {
			return nil, err
		}
		if order.SellerID != tenantID {
			logger.Log.Warn("courier accessing foreign tenant order",
				zap.String("actor", actor.UserID), zap.String("order_id", orderID))
			return nil, apperrors.ErrNotFound
		}
	default:
		tenantID, err := s.resolver.Resolve(ctx, actor)
		if err != nil {
			return nil, err
		}
		if order.SellerID != tenantID {
			logger.Log.Warn("tenant scope mismatch",
				zap.String("actor", actor.UserID), zap.String("order_id", orderID))
			return nil, apperrors.ErrNotFound
		}
	}
	return order, nil
}

func requireAssignedCourier(order *model.Order, actor *userModel.Actor) error {
	if actor.Role != userModel.RoleCourier || order.CourierID == nil || *order.CourierID != actor.UserID {
		return apperrors.ErrNotFound
	}
	return nil
}

func (s *orderService) reload(orderID string) (*model.Order, error) {
	order, err := s.repo.GetByID(orderID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrTransientIO, err)
	}
	return order, nil
}

// replayOutcome 把已记录的结果还原给调用方
func (s *orderService) replayOutcome(outcome *Outcome) (*model.Order, error) {
	if outcome == nil {
		return nil, fmt.Errorf("%w: missing idempotency outcome", apperrors.ErrTransientIO)
	}
	if outcome.ErrKind != "" {
		return nil, errOfKind(outcome.ErrKind)
	}
	if outcome.OrderID == "" {
		return nil, fmt.Errorf("%w: missing idempotency outcome", apperrors.ErrTransientIO)
	}
	// 返回当前状态（可能已被后续意图推进，这正是“已达成的状态”）
	return s.reload(outcome.OrderID)
}

// recordOutcome 终态结果落库；瞬时失败释放占位让重试可以再来
func (s *orderService) recordOutcome(ctx context.Context, key string, order *model.Order, err error) {
	if err != nil && errors.Is(err, apperrors.ErrTransientIO) {
		if relErr := s.idem.Release(ctx, key); relErr != nil {
			logger.Log.Warn("idempotency release failed", zap.String("key", key), zap.Error(relErr))
		}
		return
	}

	outcome := Outcome{ErrKind: errKindOf(err)}
	if order != nil {
		outcome.OrderID = order.ID
		outcome.Status = order.Status
	}
	if saveErr := s.idem.SaveOutcome(ctx, key, outcome); saveErr != nil {
		logger.Log.Warn("idempotency outcome save failed", zap.String("key", key), zap.Error(saveErr))
	}
}

func (s *orderService) notifyCustomer(order *model.Order, title, body string) {
	if push.GlobalPushService == nil || order.CustomerID == "" {
		return
	}
	if err := push.GlobalPushService.PushToAccount(order.CustomerID, title, body, map[string]string{
		"orderId": order.ID,
	}); err != nil {
		logger.Log.Warn("customer push failed", zap.String("order_id", order.ID), zap.Error(err))
	}
}
