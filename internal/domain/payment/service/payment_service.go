package service

import (
	"context"
	"fmt"

	ledgerService "pharmacy_orders/internal/domain/ledger/service"
	"pharmacy_orders/internal/domain/order/model"
	orderService "pharmacy_orders/internal/domain/order/service"
	"pharmacy_orders/internal/domain/payment/strategy"
	userModel "pharmacy_orders/internal/domain/user/model"
	"pharmacy_orders/pkg/apperrors"
	"pharmacy_orders/pkg/logger"

	"go.uber.org/zap"
)

// PaymentService 支付入口。
// 发起支付同步推进状态机（pending→processing 或 pending→payment_failed），
// 渠道回调只翻 payment_status，不再触碰状态机。
type PaymentService interface {
	InitiatePayment(ctx context.Context, actor *userModel.Actor, orderID, channel, idempotencyKey string) (string, error)
	HandleNotify(ctx context.Context, channel string, params interface{}) error
}

type paymentService struct {
	strategies map[string]strategy.PaymentStrategy
}

func NewPaymentService(strategies map[string]strategy.PaymentStrategy) PaymentService {
	return &paymentService{strategies: strategies}
}

func (s *paymentService) InitiatePayment(ctx context.Context, actor *userModel.Actor, orderID, channel, idempotencyKey string) (string, error) {
	strat, ok := s.strategies[channel]
	if !ok {
		return "", fmt.Errorf("%w: unsupported payment channel %q", apperrors.ErrValidation, channel)
	}

	order, err := orderService.GlobalOrderService.GetOrder(ctx, actor, orderID)
	if err != nil {
		return "", err
	}
	if order.Status != model.StatusPending {
		return "", fmt.Errorf("%w: order is %s", apperrors.ErrStaleTransition, order.Status)
	}

	payParams, payErr := strat.Pay(strategy.PayRequest{
		OrderID: order.ID,
		Amount:  order.Total,
		Subject: "pharmacy order " + order.ID,
	})

	intent := model.Intent{
		Expected:       model.StatusPending,
		IdempotencyKey: idempotencyKey,
	}
	if payErr != nil {
		intent.Type = model.IntentPaymentFailed
		intent.Reason = payErr.Error()
	} else {
		intent.Type = model.IntentInitiatePayment
	}

	if _, err := orderService.GlobalOrderService.Apply(ctx, orderID, actor, intent); err != nil {
		// 渠道成功但状态机没推进（并发取消等），回调仍会把 payment_status 记对
		logger.Log.Warn("payment transition rejected",
			zap.String("order_id", orderID), zap.Error(err))
		return "", err
	}

	if payErr != nil {
		logger.Log.Warn("payment initiation failed",
			zap.String("order_id", orderID), zap.String("channel", channel), zap.Error(payErr))
		return "", fmt.Errorf("%w: %v", apperrors.ErrTransientIO, payErr)
	}

	// 托管持有流水在发起时建立，回调确认后推进到 escrow_held
	if _, err := ledgerService.GlobalLedgerService.CreateEscrowHold(ctx, order, channel); err != nil {
		logger.Log.Error("escrow hold creation failed",
			zap.String("order_id", orderID), zap.Error(err))
	}

	return payParams, nil
}

func (s *paymentService) HandleNotify(ctx context.Context, channel string, params interface{}) error {
	strat, ok := s.strategies[channel]
	if !ok {
		return fmt.Errorf("%w: unsupported payment channel %q", apperrors.ErrValidation, channel)
	}

	result, err := strat.Notify(params)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}
	orderID := result.OrderID

	if !result.Paid {
		_, err := orderService.GlobalOrderService.UpdatePaymentStatus(ctx, orderID,
			[]model.PaymentStatus{model.PaymentPending}, model.PaymentFailed)
		return err
	}

	// 回调是至少一次投递，重复通知靠 CAS 前置条件吸收
	ok, err = orderService.GlobalOrderService.UpdatePaymentStatus(ctx, orderID,
		[]model.PaymentStatus{model.PaymentPending}, model.PaymentEscrowHeld)
	if err != nil {
		return err
	}
	if !ok {
		logger.Log.Info("duplicate payment notify ignored", zap.String("order_id", orderID))
		return nil
	}

	if err := ledgerService.GlobalLedgerService.MarkEscrowHeld(ctx, orderID); err != nil {
		logger.Log.Error("escrow hold confirmation failed",
			zap.String("order_id", orderID), zap.Error(err))
	}

	logger.Log.Info("payment confirmed",
		zap.String("order_id", orderID),
		zap.String("channel", channel),
		zap.Float64("amount", result.Amount),
	)
	return nil
}
