package repository

import (
	"errors"
	"fmt"
	"time"

	"pharmacy_orders/internal/domain/ledger/model"
	orderModel "pharmacy_orders/internal/domain/order/model"
	"pharmacy_orders/pkg/apperrors"

	"gorm.io/gorm"
)

// SettleParams 一次托管释放需要落库的全部数字，由服务层提前算好
type SettleParams struct {
	OrderID            string
	VendorID           string
	CustomerID         string
	Currency           string
	Total              float64
	PlatformCommission float64
	RepID              string
	RepCommission      float64
	ReleasedAt         time.Time
}

// LedgerRepository 账本存储
type LedgerRepository interface {
	Create(tx *model.LedgerTransaction) error
	GetByOrderID(orderID string) ([]model.LedgerTransaction, error)
	UpdateStatusCAS(txID string, expected []model.TxStatus, next model.TxStatus, completedAt *time.Time) (bool, error)

	// Settle 原子结算：订单 in_transit -> delivered 与托管流水 -> released
	// 在同一事务内落库，任一失败则整体回滚，释放不可能被观察到只生效一半。
	// 已存在 released 流水返回 ErrSettlementConflict；订单状态不符返回 ErrStaleTransition。
	Settle(params SettleParams) (*model.LedgerTransaction, error)
}

type ledgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) LedgerRepository {
	return &ledgerRepository{db: db}
}

func (r *ledgerRepository) Create(tx *model.LedgerTransaction) error {
	return r.db.Create(tx).Error
}

func (r *ledgerRepository) GetByOrderID(orderID string) ([]model.LedgerTransaction, error) {
	var txs []model.LedgerTransaction
	if err := r.db.Where("order_id = ?", orderID).Order("created_at ASC").Find(&txs).Error; err != nil {
		return nil, err
	}
	return txs, nil
}

func (r *ledgerRepository) UpdateStatusCAS(txID string, expected []model.TxStatus, next model.TxStatus, completedAt *time.Time) (bool, error) {
	updates := map[string]interface{}{"status": next}
	if completedAt != nil {
		updates["completed_at"] = completedAt
	}
	result := r.db.Model(&model.LedgerTransaction{}).
		Where("id = ? AND status IN ?", txID, expected).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *ledgerRepository) Settle(params SettleParams) (*model.LedgerTransaction, error) {
	var released *model.LedgerTransaction

	err := r.db.Transaction(func(tx *gorm.DB) error {
		// 1. 幂等守卫：该订单已有 released 托管流水则拒绝，原结算保持不变
		var count int64
		if err := tx.Model(&model.LedgerTransaction{}).
			Where("order_id = ? AND type = ? AND status = ?", params.OrderID, model.TxEscrow, model.TxStatusReleased).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return apperrors.ErrSettlementConflict
		}

		// 2. 订单 CAS：in_transit -> delivered，同时落结算字段
		result := tx.Model(&orderModel.Order{}).
			Where("id = ? AND status = ?", params.OrderID, orderModel.StatusInTransit).
			Updates(map[string]interface{}{
				"status":              orderModel.StatusDelivered,
				"payment_status":      orderModel.PaymentPaid,
				"commission":          params.RepCommission,
				"escrow_release_date": params.ReleasedAt,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: order is not in transit", apperrors.ErrStaleTransition)
		}

		// 3. 托管流水 -> released；支付回调没来得及建流水时补建一条
		escrowTx := &model.LedgerTransaction{}
		err := tx.Where("order_id = ? AND type = ?", params.OrderID, model.TxEscrow).
			First(escrowTx).Error
		switch {
		case err == nil:
			res := tx.Model(escrowTx).
				Where("status IN ?", []model.TxStatus{model.TxStatusPending, model.TxStatusEscrowHeld}).
				Updates(map[string]interface{}{
					"status":       model.TxStatusReleased,
					"amount":       params.Total - params.PlatformCommission,
					"commission":   params.PlatformCommission,
					"completed_at": params.ReleasedAt,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return apperrors.ErrSettlementConflict
			}
			escrowTx.Status = model.TxStatusReleased
			escrowTx.Amount = params.Total - params.PlatformCommission
			escrowTx.Commission = params.PlatformCommission
			escrowTx.CompletedAt = &params.ReleasedAt

		case errors.Is(err, gorm.ErrRecordNotFound):
			escrowTx = &model.LedgerTransaction{
				OrderID:     params.OrderID,
				UserID:      params.CustomerID,
				VendorID:    params.VendorID,
				Amount:      params.Total - params.PlatformCommission,
				Currency:    params.Currency,
				Provider:    "escrow",
				Type:        model.TxEscrow,
				Status:      model.TxStatusReleased,
				Commission:  params.PlatformCommission,
				CompletedAt: &params.ReleasedAt,
			}
			if err := tx.Create(escrowTx).Error; err != nil {
				return err
			}

		default:
			return err
		}

		// 4. 业务员分成流水（报表口径，从商家份额中支付，不额外扣减）
		if params.RepID != "" && params.RepCommission > 0 {
			commissionTx := &model.LedgerTransaction{
				OrderID:     params.OrderID,
				UserID:      params.RepID,
				VendorID:    params.VendorID,
				Amount:      params.RepCommission,
				Currency:    params.Currency,
				Provider:    "escrow",
				Type:        model.TxCommission,
				Status:      model.TxStatusCompleted,
				CompletedAt: &params.ReleasedAt,
			}
			if err := tx.Create(commissionTx).Error; err != nil {
				return err
			}
		}

		released = escrowTx
		return nil
	})
	if err != nil {
		return nil, err
	}
	return released, nil
}
