package commission

// Calculate 按百分比费率计算分成金额。
// rate 为百分数（5 表示 5%），越界值收敛到 [0, 100]。
// 结算层和报表层共用该函数，保证两边口径一致。
func Calculate(total, rate float64) float64 {
	if total <= 0 {
		return 0
	}
	if rate < 0 {
		rate = 0
	}
	if rate > 100 {
		rate = 100
	}
	return total * rate / 100
}

// VendorPayout 计算商家应得金额：订单总额扣除平台分成。
// 业务员分成是从商家份额中支付的报表口径，不在这里额外扣减。
func VendorPayout(total, platformRate float64) float64 {
	payout := total - Calculate(total, platformRate)
	if payout < 0 {
		return 0
	}
	return payout
}
