package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/nemonet1337/zaiGoBatch/pkg/inventory"
)

// voucherTables maps each voucher kind to its import table
var voucherTables = map[inventory.VoucherKind]string{
	inventory.VoucherKindSales:      "sales_vouchers",
	inventory.VoucherKindPurchase:   "purchase_vouchers",
	inventory.VoucherKindAdjustment: "inventory_adjustments",
}

// VoucherRepository implements inventory.VoucherRepository for one voucher kind
// 伝票のリポジトリ
type VoucherRepository struct {
	s     *PostgreSQLStorage
	kind  inventory.VoucherKind
	table string
}

var _ inventory.VoucherRepository = (*VoucherRepository)(nil)

// Vouchers returns the repository of kind.
func (s *PostgreSQLStorage) Vouchers(kind inventory.VoucherKind) (*VoucherRepository, error) {
	table, ok := voucherTables[kind]
	if !ok {
		return nil, inventory.NewValidationError("voucher_kind", "未定義の伝票種類です", kind.String())
	}
	return &VoucherRepository{s: s, kind: kind, table: table}, nil
}

// GetByJobDate returns the active voucher lines of jobDate
// 汎用日付の伝票明細を取得
func (r *VoucherRepository) GetByJobDate(ctx context.Context, jobDate time.Time) ([]inventory.Voucher, error) {
	query := `
		SELECT product_code, grade_code, class_code, shipping_mark_code, shipping_mark_name,
		       voucher_number, voucher_type, line_number, job_date, product_name,
		       quantity, unit_price, amount, data_set_id
		FROM ` + r.table + `
		WHERE job_date = $1 AND is_active = TRUE
		ORDER BY voucher_number, line_number`

	rows, err := r.s.db.QueryContext(ctx, query, r.s.dateParam(jobDate))
	if err != nil {
		return nil, fmt.Errorf("%s伝票取得に失敗しました: %w", r.kind, err)
	}
	defer rows.Close()

	var out []inventory.Voucher
	for rows.Next() {
		v := inventory.Voucher{Kind: r.kind}
		err := rows.Scan(
			&v.ProductCode,
			&v.GradeCode,
			&v.ClassCode,
			&v.ShippingMarkCode,
			&v.ShippingMarkName,
			&v.VoucherNumber,
			&v.VoucherType,
			&v.LineNumber,
			&v.JobDate,
			&v.ProductName,
			&v.Quantity,
			&v.UnitPrice,
			&v.Amount,
			&v.DataSetID,
		)
		if err != nil {
			return nil, fmt.Errorf("%s伝票のスキャンに失敗しました: %w", r.kind, err)
		}
		v.JobDate = r.s.fromDate(v.JobDate)
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s伝票取得に失敗しました: %w", r.kind, err)
	}
	return out, nil
}
