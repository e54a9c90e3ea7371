package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pharmacy_orders/internal/domain/ledger/model"
	"pharmacy_orders/internal/domain/ledger/repository"
	"pharmacy_orders/internal/domain/ledger/worker"
	orderModel "pharmacy_orders/internal/domain/order/model"
	orderRepo "pharmacy_orders/internal/domain/order/repository"
	userRepo "pharmacy_orders/internal/domain/user/repository"
	"pharmacy_orders/pkg/apperrors"
	"pharmacy_orders/pkg/commission"
	"pharmacy_orders/pkg/logger"
	"pharmacy_orders/pkg/metrics"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// LedgerService 托管账本服务
type LedgerService interface {
	// Settle 释放托管资金：订单送达与托管释放原子落库，
	// 每笔订单只会成功一次，重复调用返回 ErrSettlementConflict
	Settle(ctx context.Context, orderID string) (*model.LedgerTransaction, error)

	// CreateEscrowHold 支付发起时建立托管持有流水
	CreateEscrowHold(ctx context.Context, order *orderModel.Order, provider string) (*model.LedgerTransaction, error)

	// MarkEscrowHeld 支付回调确认后把持有流水推进到 escrow_held
	MarkEscrowHeld(ctx context.Context, orderID string) error

	// GetOrderTransactions 读取订单的账本流水（租户裁剪由调用方完成）
	GetOrderTransactions(ctx context.Context, orderID string) ([]model.LedgerTransaction, error)
}

// GlobalLedgerService 由 ledger 模块初始化，订单域在送达流转时调用
var GlobalLedgerService LedgerService

type ledgerService struct {
	repo      repository.LedgerRepository
	orders    orderRepo.OrderRepository
	users     userRepo.UserRepository
	pool      *worker.WorkerPool
	collector *metrics.MetricsCollector

	platformRate float64
	currency     string
}

func NewLedgerService(
	repo repository.LedgerRepository,
	orders orderRepo.OrderRepository,
	users userRepo.UserRepository,
	pool *worker.WorkerPool,
	collector *metrics.MetricsCollector,
	platformRate float64,
	currency string,
) LedgerService {
	return &ledgerService{
		repo:         repo,
		orders:       orders,
		users:        users,
		pool:         pool,
		collector:    collector,
		platformRate: platformRate,
		currency:     currency,
	}
}

func (s *ledgerService) Settle(ctx context.Context, orderID string) (*model.LedgerTransaction, error) {
	order, err := s.orders.GetByID(orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", apperrors.ErrTransientIO, err)
	}

	// 业务员费率从员工档案读取；订单字段在支付后不再变化，事务外预读是安全的
	var repRate float64
	if order.SalesRepID != "" {
		rep, err := s.users.GetByID(order.SalesRepID)
		if err == nil {
			repRate = rep.CommissionRate
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrTransientIO, err)
		}
	}

	params := repository.SettleParams{
		OrderID:            order.ID,
		VendorID:           order.SellerID,
		CustomerID:         order.CustomerID,
		Currency:           s.currency,
		Total:              order.Total,
		PlatformCommission: commission.Calculate(order.Total, s.platformRate),
		RepID:              order.SalesRepID,
		RepCommission:      commission.Calculate(order.Total, repRate),
		ReleasedAt:         time.Now(),
	}

	released, err := s.repo.Settle(params)
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrSettlementConflict):
			s.collector.RecordSettlement("conflict")
			return nil, err
		case errors.Is(err, apperrors.ErrStaleTransition):
			s.collector.RecordSettlement("stale")
			return nil, err
		default:
			s.collector.RecordSettlement("failed")
			return nil, fmt.Errorf("%w: %v", apperrors.ErrTransientIO, err)
		}
	}

	s.collector.RecordSettlement("released")
	logger.Log.Info("escrow released",
		zap.String("order_id", order.ID),
		zap.String("vendor_id", order.SellerID),
		zap.Float64("total", order.Total),
		zap.Float64("platform_commission", params.PlatformCommission),
		zap.Float64("rep_commission", params.RepCommission),
	)

	// 钱包/积分等副作用走异步消费者，失败由池内重试，不影响已提交的结算
	s.pool.AddTask(worker.SettlementTask{Tx: released})

	return released, nil
}

func (s *ledgerService) CreateEscrowHold(ctx context.Context, order *orderModel.Order, provider string) (*model.LedgerTransaction, error) {
	tx := &model.LedgerTransaction{
		OrderID:  order.ID,
		UserID:   order.CustomerID,
		VendorID: order.SellerID,
		Amount:   order.Total,
		Currency: s.currency,
		Provider: provider,
		Type:     model.TxEscrow,
		Status:   model.TxStatusPending,
	}
	if err := s.repo.Create(tx); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrTransientIO, err)
	}
	return tx, nil
}

func (s *ledgerService) MarkEscrowHeld(ctx context.Context, orderID string) error {
	txs, err := s.repo.GetByOrderID(orderID)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrTransientIO, err)
	}
	for i := range txs {
		if txs[i].Type == model.TxEscrow && txs[i].Status == model.TxStatusPending {
			if _, err := s.repo.UpdateStatusCAS(txs[i].ID,
				[]model.TxStatus{model.TxStatusPending}, model.TxStatusEscrowHeld, nil); err != nil {
				return fmt.Errorf("%w: %v", apperrors.ErrTransientIO, err)
			}
			return nil
		}
	}
	return nil
}

func (s *ledgerService) GetOrderTransactions(ctx context.Context, orderID string) ([]model.LedgerTransaction, error) {
	txs, err := s.repo.GetByOrderID(orderID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrTransientIO, err)
	}
	return txs, nil
}
