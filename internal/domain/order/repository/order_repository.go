package repository

import (
	"pharmacy_orders/internal/domain/order/model"

	"gorm.io/gorm"
)

// OrderRepository 订单存储。所有条件更新都带状态前置条件，
// RowsAffected == 0 由上层判定为过期变更或订单不存在。
type OrderRepository interface {
	Create(order *model.Order) error
	GetByID(id string) (*model.Order, error)
	ListBySeller(sellerID string, offset, limit int) ([]model.Order, int64, error)
	ListByCustomer(customerID string, offset, limit int) ([]model.Order, int64, error)

	// UpdateStatusCAS 仅当存储状态等于 expected 时应用更新，返回是否命中
	UpdateStatusCAS(orderID string, expected, next model.OrderStatus, updates map[string]interface{}) (bool, error)

	// AssignCourierCAS 仅当订单未分配骑手且状态匹配时写入骑手，首个写入者胜出
	AssignCourierCAS(orderID string, expected model.OrderStatus, courierID, courierName string, updates map[string]interface{}) (bool, error)

	// UpdatePaymentStatusCAS 支付状态独立推进，同样带前置条件
	UpdatePaymentStatusCAS(orderID string, expected []model.PaymentStatus, next model.PaymentStatus) (bool, error)
}

type orderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) Create(order *model.Order) error {
	return r.db.Create(order).Error
}

func (r *orderRepository) GetByID(id string) (*model.Order, error) {
	var order model.Order
	if err := r.db.Where("id = ?", id).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) ListBySeller(sellerID string, offset, limit int) ([]model.Order, int64, error) {
	return r.list(r.db.Model(&model.Order{}).Where("seller_id = ?", sellerID), offset, limit)
}

func (r *orderRepository) ListByCustomer(customerID string, offset, limit int) ([]model.Order, int64, error) {
	return r.list(r.db.Model(&model.Order{}).Where("customer_id = ?", customerID), offset, limit)
}

func (r *orderRepository) list(q *gorm.DB, offset, limit int) ([]model.Order, int64, error) {
	var orders []model.Order
	var total int64

	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := q.Offset(offset).Limit(limit).Order("created_at DESC").Find(&orders).Error; err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func (r *orderRepository) UpdateStatusCAS(orderID string, expected, next model.OrderStatus, updates map[string]interface{}) (bool, error) {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["status"] = next

	result := r.db.Model(&model.Order{}).
		Where("id = ? AND status = ?", orderID, expected).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *orderRepository) AssignCourierCAS(orderID string, expected model.OrderStatus, courierID, courierName string, updates map[string]interface{}) (bool, error) {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["status"] = model.StatusDispatched
	updates["courier_id"] = courierID
	updates["courier_name"] = courierName

	// courier_id IS NULL 保证同一笔未分配订单最多一个骑手接单成功
	result := r.db.Model(&model.Order{}).
		Where("id = ? AND status = ? AND courier_id IS NULL", orderID, expected).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *orderRepository) UpdatePaymentStatusCAS(orderID string, expected []model.PaymentStatus, next model.PaymentStatus) (bool, error) {
	result := r.db.Model(&model.Order{}).
		Where("id = ? AND payment_status IN ?", orderID, expected).
		Update("payment_status", next)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
