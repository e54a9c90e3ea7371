package model

// AllowTransition 订单状态机的允许流转关系。
// 配送完成只能由收货码校验触达，取消只在派单前允许。
var AllowTransition = map[OrderStatus][]OrderStatus{
	StatusPending:    {StatusProcessing, StatusPaymentFailed, StatusCancelled},
	StatusProcessing: {StatusDispatched, StatusCancelled},
	StatusDispatched: {StatusInTransit},
	StatusInTransit:  {StatusDelivered},
	// 终态
	StatusDelivered:     {},
	StatusCancelled:     {},
	StatusPaymentFailed: {},
}

// CanTransition 判断 from -> to 是否是一个允许的状态流转
func CanTransition(from, to OrderStatus) bool {
	allowed, ok := AllowTransition[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal 是否为终态
func Terminal(s OrderStatus) bool {
	return len(AllowTransition[s]) == 0
}
