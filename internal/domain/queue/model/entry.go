package model

import (
	"encoding/json"
	"time"

	orderModel "pharmacy_orders/internal/domain/order/model"
)

// EntryKind 队列条目类型
type EntryKind string

const (
	KindCreate     EntryKind = "create"     // 离线下单
	KindTransition EntryKind = "transition" // 离线状态流转
)

// QueueEntry 离线写队列条目。
// 设备离线期间产生的写意图按产生顺序入队，恢复连接后按同一顺序重放。
// 幂等键由客户端在产生意图时生成，重放多少次都只生效一次。
type QueueEntry struct {
	ID             string    `json:"id"`
	DeviceID       string    `json:"deviceId"`
	Kind           EntryKind `json:"kind"`
	IdempotencyKey string    `json:"idempotencyKey"`

	// KindTransition 时有效
	OrderID string             `json:"orderId,omitempty"`
	Intent  *orderModel.Intent `json:"intent,omitempty"`

	// KindCreate 时有效，延迟到重放时再解码
	CreatePayload json.RawMessage `json:"createPayload,omitempty"`

	// 重放所需的操作者快照
	ActorID   string `json:"actorId"`
	ActorRole int    `json:"actorRole"`

	Retries    int       `json:"retries"`
	LastError  string    `json:"lastError,omitempty"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}
