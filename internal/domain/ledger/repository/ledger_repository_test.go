package repository

import (
	"strings"
	"testing"

	"pharmacy_orders/internal/domain/ledger/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// newCapturingRepo 记录实际生成的 SQL，用于断言语句形态
func newCapturingRepo(t *testing.T) (LedgerRepository, sqlmock.Sqlmock, *string) {
	var captured string
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherFunc(
		func(expectedSQL, actualSQL string) error {
			captured = actualSQL
			return nil
		})))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 db,
		PreferSimpleProtocol: true,
	}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	return NewLedgerRepository(gdb), mock, &captured
}

func TestCreateLedgerTransaction(t *testing.T) {
	t.Run("Hold without a customer account omits user_id", func(t *testing.T) {
		repo, mock, captured := newCapturingRepo(t)

		mock.ExpectQuery("INSERT").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("tx-1"))

		// POS 订单的托管持有：没有顾客账号
		tx := &model.LedgerTransaction{
			OrderID:  "38c1f7c2-0f6e-4f89-9c60-3fc54efbc010",
			VendorID: "0b9f5d4e-6a1c-4d7b-8f8e-2f4f6f1f9a11",
			Amount:   45000,
			Currency: "NGN",
			Provider: "alipay",
			Type:     model.TxEscrow,
			Status:   model.TxStatusPending,
		}
		err := repo.Create(tx)

		require.NoError(t, err)
		// 空串喂给 uuid 列会被 postgres 拒绝，空值必须整列缺席
		columns := (*captured)[:strings.Index(*captured, "VALUES")]
		assert.NotContains(t, columns, `"user_id"`)
		assert.Contains(t, columns, `"order_id"`)
		assert.Contains(t, columns, `"vendor_id"`)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
