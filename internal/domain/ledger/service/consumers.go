package service

import (
	"fmt"

	"pharmacy_orders/internal/domain/ledger/model"
	"pharmacy_orders/internal/domain/ledger/worker"
	"pharmacy_orders/internal/pkg/push"
	"pharmacy_orders/pkg/logger"

	"go.uber.org/zap"
)

// 钱包入账与骑手积分的最终口径上游还没定下来，
// 这里只保留事件出口：消费者收到释放事件后记账/通知，
// 真正的资金动作由接入方实现后替换这两个消费者。

// walletCreditConsumer 商家钱包入账（当前仅记录 + 通知）
type walletCreditConsumer struct{}

func NewWalletCreditConsumer() worker.SettlementConsumer {
	return &walletCreditConsumer{}
}

func (c *walletCreditConsumer) Name() string { return "wallet_credit" }

func (c *walletCreditConsumer) Consume(tx *model.LedgerTransaction) error {
	logger.Log.Info("wallet credit pending integration",
		zap.String("order_id", tx.OrderID),
		zap.String("vendor_id", tx.VendorID),
		zap.Float64("amount", tx.Amount),
	)

	if push.GlobalPushService != nil && tx.VendorID != "" {
		title := "货款已释放"
		body := fmt.Sprintf("订单 %s 的托管货款 %.2f 已释放。", tx.OrderID, tx.Amount)
		if err := push.GlobalPushService.PushToAccount(tx.VendorID, title, body, map[string]string{
			"orderId": tx.OrderID,
		}); err != nil {
			// 推送失败不算消费失败，钱已经释放了
			logger.Log.Warn("vendor release push failed", zap.String("order_id", tx.OrderID), zap.Error(err))
		}
	}
	return nil
}

// loyaltyPointsConsumer 骑手配送积分（当前仅记录）
type loyaltyPointsConsumer struct{}

func NewLoyaltyPointsConsumer() worker.SettlementConsumer {
	return &loyaltyPointsConsumer{}
}

func (c *loyaltyPointsConsumer) Name() string { return "loyalty_points" }

func (c *loyaltyPointsConsumer) Consume(tx *model.LedgerTransaction) error {
	logger.Log.Info("loyalty accrual pending integration",
		zap.String("order_id", tx.OrderID),
	)
	return nil
}
