package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// CommissionReportRow 业务员分成汇总行
type CommissionReportRow struct {
	RepID       string  `db:"rep_id" json:"repId"`
	OrderCount  int64   `db:"order_count" json:"orderCount"`
	TotalAmount float64 `db:"total_amount" json:"totalAmount"`
}

// VendorPayoutRow 商家回款汇总行
type VendorPayoutRow struct {
	VendorID        string  `db:"vendor_id" json:"vendorId"`
	ReleasedCount   int64   `db:"released_count" json:"releasedCount"`
	ReleasedAmount  float64 `db:"released_amount" json:"releasedAmount"`
	CommissionPaid  float64 `db:"commission_paid" json:"commissionPaid"`
}

// ReportRepository 报表只读查询。
// 走 sqlx 原生 SQL：聚合查询不值得绕 gorm 的模型层，
// 报表口径与结算层共用同一张流水表，数字天然一致。
type ReportRepository interface {
	CommissionByRep(ctx context.Context, vendorID string, from, to time.Time) ([]CommissionReportRow, error)
	VendorPayouts(ctx context.Context, from, to time.Time) ([]VendorPayoutRow, error)
}

type reportRepository struct {
	db *sqlx.DB
}

func NewReportRepository(db *sqlx.DB) ReportRepository {
	return &reportRepository{db: db}
}

func (r *reportRepository) CommissionByRep(ctx context.Context, vendorID string, from, to time.Time) ([]CommissionReportRow, error) {
	const query = `
		SELECT user_id AS rep_id,
		       COUNT(*) AS order_count,
		       COALESCE(SUM(amount), 0) AS total_amount
		FROM ledger_transactions
		WHERE type = 'commission'
		  AND vendor_id = $1
		  AND completed_at BETWEEN $2 AND $3
		GROUP BY user_id
		ORDER BY total_amount DESC`

	rows := []CommissionReportRow{}
	if err := r.db.SelectContext(ctx, &rows, query, vendorID, from, to); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *reportRepository) VendorPayouts(ctx context.Context, from, to time.Time) ([]VendorPayoutRow, error) {
	const query = `
		SELECT vendor_id,
		       COUNT(*) AS released_count,
		       COALESCE(SUM(amount), 0) AS released_amount,
		       COALESCE(SUM(commission), 0) AS commission_paid
		FROM ledger_transactions
		WHERE type = 'escrow'
		  AND status = 'released'
		  AND completed_at BETWEEN $1 AND $2
		  AND vendor_id <> ''
		GROUP BY vendor_id
		ORDER BY released_amount DESC`

	rows := []VendorPayoutRow{}
	if err := r.db.SelectContext(ctx, &rows, query, from, to); err != nil {
		return nil, err
	}
	return rows, nil
}
