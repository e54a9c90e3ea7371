package model

import (
	"time"

	baseModel "pharmacy_orders/pkg/model"
)

// TxType 账本流水类型
type TxType string

const (
	TxPayment    TxType = "payment"
	TxRefund     TxType = "refund"
	TxCommission TxType = "commission"
	TxEscrow     TxType = "escrow"
)

// TxStatus 流水状态
type TxStatus string

const (
	TxStatusPending    TxStatus = "pending"
	TxStatusCompleted  TxStatus = "completed"
	TxStatusEscrowHeld TxStatus = "escrow_held"
	TxStatusReleased   TxStatus = "released"
	TxStatusRefunded   TxStatus = "refunded"
)

// LedgerTransaction 账本流水。
// 每笔订单至多一条 escrow 类型流水流转到 released，
// 且只会发生在订单送达之后。
type LedgerTransaction struct {
	baseModel.BaseModel
	OrderID string `gorm:"type:uuid;index;default:null" json:"orderId,omitempty"`

	// UserID 资金相关主体，POS 订单没有顾客账号时为空。
	// 空值以 NULL 落库，uuid 列不接受空串
	UserID   string `gorm:"type:uuid;default:null" json:"userId,omitempty"`
	VendorID string `gorm:"type:uuid;index;default:null" json:"vendorId,omitempty"`
	Amount   float64 `json:"amount"`
	Currency string  `gorm:"type:varchar(8)" json:"currency"`
	Provider string  `json:"provider"` // alipay / wechat / escrow

	Type   TxType   `gorm:"type:varchar(16);index" json:"type"`
	Status TxStatus `gorm:"type:varchar(16);index" json:"status"`

	// Commission 平台分成（released 时落库）
	Commission float64 `json:"commission,omitempty"`

	CompletedAt *time.Time `json:"completedAt,omitempty"`
}
