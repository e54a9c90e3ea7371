package model

import (
	"time"

	baseModel "pharmacy_orders/pkg/model"
)

// TaskStatus 配送任务状态（骑手侧视角）
type TaskStatus string

const (
	TaskAssigned  TaskStatus = "assigned"
	TaskPickedUp  TaskStatus = "picked_up"
	TaskDelivered TaskStatus = "delivered"
)

// DeliveryTask 骑手侧配送任务，与订单 1:1（按 order_id 关联）。
// 这是订单的尽力而为镜像：镜像失败只记日志，不回滚订单本身，
// 允许短暂分叉是有意的弱一致边界，不是疏漏。
type DeliveryTask struct {
	baseModel.BaseModel
	OrderID    string     `gorm:"type:uuid;uniqueIndex;not null" json:"orderId"`
	Driver     string     `gorm:"type:uuid;default:null" json:"driver,omitempty"`
	DriverName string     `json:"driverName,omitempty"`
	Status     TaskStatus `gorm:"type:varchar(32)" json:"status"`

	AssignedAt  *time.Time `json:"assignedAt,omitempty"`
	PickedUpAt  *time.Time `json:"pickedUpAt,omitempty"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`

	// OTP 收货码副本，只用于客服排查，不随任务下发给骑手
	OTP string `gorm:"column:otp" json:"-"`

	// ProofURL 骑手上传的送达凭证照片
	ProofURL string `json:"proofUrl,omitempty"`
}
