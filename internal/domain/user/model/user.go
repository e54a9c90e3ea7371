package model

import (
	baseModel "pharmacy_orders/pkg/model"
)

// User 平台主体：商家、店员（业务员）、骑手、顾客共用一张表，按 Role 区分
type User struct {
	baseModel.BaseModel
	Mobile   string `gorm:"unique;not null" json:"mobile"`
	Nickname string `json:"nickname"`
	Role     int    `gorm:"default:1" json:"role"`
	Status   int    `gorm:"default:1" json:"status"`

	// EmployerID 店员/骑手所属商家。商家与顾客该字段为空，
	// 空值以 NULL 落库，uuid 列不接受空串
	EmployerID string `gorm:"type:uuid;default:null" json:"employerId,omitempty"`

	// CommissionRate 业务员分成费率（百分数，0-100），仅对 RoleStaff 有意义
	CommissionRate float64 `json:"commissionRate"`

	// BranchID 所属门店（多门店商家）
	BranchID string `json:"branchId,omitempty"`
}

const (
	RoleCustomer = 1 // 顾客
	RoleCourier  = 2 // 骑手
	RoleStaff    = 3 // 店员/业务员
	RoleVendor   = 4 // 商家
	RoleAdmin    = 9 // 平台管理员

	StatusNormal   = 1
	StatusDisabled = 2
)

// Actor 一次请求的操作主体。TenantID 由租户解析器填充，
// 服务层一律通过 Actor 读取身份，禁止使用任何全局会话状态
type Actor struct {
	UserID   string `json:"userId"`
	Role     int    `json:"role"`
	TenantID string `json:"tenantId"`

	// DeviceID 发起请求的设备/会话，离线队列按它分队
	DeviceID string `json:"deviceId,omitempty"`
}
