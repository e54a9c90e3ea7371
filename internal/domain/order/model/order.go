package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	baseModel "pharmacy_orders/pkg/model"
)

// OrderStatus 订单状态
type OrderStatus string

const (
	StatusPending       OrderStatus = "pending"
	StatusProcessing    OrderStatus = "processing"
	StatusDispatched    OrderStatus = "dispatched"
	StatusInTransit     OrderStatus = "in_transit"
	StatusDelivered     OrderStatus = "delivered"
	StatusCancelled     OrderStatus = "cancelled"
	StatusPaymentFailed OrderStatus = "payment_failed"
)

// PaymentStatus 支付状态，独立于订单状态机单独推进
type PaymentStatus string

const (
	PaymentPending             PaymentStatus = "pending"
	PaymentPendingVerification PaymentStatus = "pending_verification"
	PaymentPaid                PaymentStatus = "paid"
	PaymentFailed              PaymentStatus = "failed"
	PaymentRefunded            PaymentStatus = "refunded"
	PaymentEscrowHeld          PaymentStatus = "escrow_held"
)

// OrderItem 订单行
type OrderItem struct {
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
	ProductID string  `json:"productId,omitempty"` // 可选的商品目录引用
}

// OrderItems 以 jsonb 持久化的订单行集合
type OrderItems []OrderItem

func (i OrderItems) Value() (driver.Value, error) {
	return json.Marshal(i)
}

func (i *OrderItems) Scan(value interface{}) error {
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, i)
	case string:
		return json.Unmarshal([]byte(v), i)
	default:
		return fmt.Errorf("unsupported type for OrderItems: %T", value)
	}
}

// Subtotal 订单行小计
func (i OrderItems) Subtotal() float64 {
	var sum float64
	for _, item := range i {
		sum += item.Price * float64(item.Quantity)
	}
	return sum
}

// Order 订单模型。订单从不物理删除，取消是终态而不是删除
type Order struct {
	baseModel.BaseModel
	SellerID string `gorm:"type:uuid;not null;index" json:"sellerId"`

	// CustomerID 可选，POS 下单没有顾客账号。
	// uuid 列不接受空串，空值必须以 NULL 落库
	CustomerID   string     `gorm:"type:uuid;index;default:null" json:"customerId,omitempty"`
	CustomerName string     `json:"customerName"`
	Items        OrderItems `gorm:"type:jsonb" json:"items"`
	Total        float64    `json:"total"`
	Tax          float64    `json:"tax,omitempty"`
	Discount     float64    `json:"discount,omitempty"`
	Refund       float64    `json:"refund,omitempty"`

	Status        OrderStatus   `gorm:"type:varchar(32);default:'pending';index" json:"status"`
	PaymentStatus PaymentStatus `gorm:"type:varchar(32);default:'pending'" json:"paymentStatus"`

	// CourierID 为空表示未分配；接单是对该字段的 compare-and-swap
	CourierID   *string `gorm:"type:uuid" json:"courierId,omitempty"`
	CourierName string  `json:"courierName,omitempty"`

	SalesRepID   string  `gorm:"type:uuid;default:null" json:"salesRepId,omitempty"`
	SalesRepName string  `json:"salesRepName,omitempty"`
	Commission   float64 `json:"commission,omitempty"` // 业务员分成，结算时落库

	DeliveryAddress string `json:"deliveryAddress,omitempty"`

	// DeliveryOTP 一次性收货码，派单时生成一次，之后不再更换。
	// 不随订单序列化，只在顾客侧视图里单独下发
	DeliveryOTP string `gorm:"column:delivery_otp" json:"-"`

	EscrowReleaseDate *time.Time `json:"escrowReleaseDate,omitempty"`

	Channel  string `json:"channel,omitempty"`
	BranchID string `json:"branchId,omitempty"`
}

// ComputedTotal 按行小计 + 税 - 折扣计算应付总额
func (o *Order) ComputedTotal() float64 {
	return o.Items.Subtotal() + o.Tax - o.Discount
}

// Payable 支付状态是否允许派单
func (o *Order) Payable() bool {
	return o.PaymentStatus == PaymentPaid || o.PaymentStatus == PaymentEscrowHeld
}
