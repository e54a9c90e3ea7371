package model

import (
	"fmt"

	"pharmacy_orders/pkg/apperrors"
)

// IntentType 状态变更意图
type IntentType string

const (
	IntentInitiatePayment IntentType = "initiate_payment" // pending -> processing
	IntentPaymentFailed   IntentType = "payment_failed"   // pending -> payment_failed
	IntentAcceptDelivery  IntentType = "accept_delivery"  // processing -> dispatched（骑手接单 CAS）
	IntentConfirmPickup   IntentType = "confirm_pickup"   // dispatched -> in_transit
	IntentConfirmDelivery IntentType = "confirm_delivery" // in_transit -> delivered（需收货码）
	IntentCancel          IntentType = "cancel"           // pending/processing -> cancelled
)

// Intent 一次状态变更请求。
// Expected 是调用方声明的当前状态，与存储状态不符即判定为过期变更。
// IdempotencyKey 由客户端生成（离线也能生成），相同键的重放不产生第二次变更。
type Intent struct {
	Type           IntentType `json:"type"`
	Expected       OrderStatus `json:"expected"`
	IdempotencyKey string     `json:"idempotencyKey,omitempty"`

	// 按意图类型使用的附加字段
	Code        string `json:"code,omitempty"`        // confirm_delivery 的收货码
	CourierName string `json:"courierName,omitempty"` // accept_delivery 的骑手展示名
	Reason      string `json:"reason,omitempty"`      // cancel 的原因
}

// intentTargets 每个意图的目标状态
var intentTargets = map[IntentType]OrderStatus{
	IntentInitiatePayment: StatusProcessing,
	IntentPaymentFailed:   StatusPaymentFailed,
	IntentAcceptDelivery:  StatusDispatched,
	IntentConfirmPickup:   StatusInTransit,
	IntentConfirmDelivery: StatusDelivered,
	IntentCancel:          StatusCancelled,
}

// Target 意图的目标状态
func (i *Intent) Target() (OrderStatus, error) {
	target, ok := intentTargets[i.Type]
	if !ok {
		return "", fmt.Errorf("%w: unknown intent type %q", apperrors.ErrValidation, i.Type)
	}
	return target, nil
}

// Validate 基础校验：意图已知、声明了预期状态、且该流转在状态图上存在
func (i *Intent) Validate() error {
	target, err := i.Target()
	if err != nil {
		return err
	}
	if i.Expected == "" {
		return fmt.Errorf("%w: expected current status is required", apperrors.ErrValidation)
	}
	if !CanTransition(i.Expected, target) {
		return fmt.Errorf("%w: transition %s -> %s is not allowed", apperrors.ErrValidation, i.Expected, target)
	}
	if i.Type == IntentConfirmDelivery && i.Code == "" {
		return fmt.Errorf("%w: delivery code is required", apperrors.ErrValidation)
	}
	return nil
}
