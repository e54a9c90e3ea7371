package strategy

// PayRequest 渠道下单参数
type PayRequest struct {
	OrderID string
	Amount  float64
	Subject string
}

// NotifyResult 渠道回调验签后的解析结果
type NotifyResult struct {
	OrderID string
	Amount  float64
	Paid    bool
}

type PaymentStrategy interface {
	// Pay 向渠道下单，返回客户端拉起支付所需的参数串（URL 或 JSON）
	Pay(req PayRequest) (string, error)

	// Notify 验签并解析渠道回调
	Notify(params interface{}) (*NotifyResult, error)
}
