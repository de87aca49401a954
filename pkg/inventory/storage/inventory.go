package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiGoBatch/pkg/batch"
	"github.com/nemonet1337/zaiGoBatch/pkg/inventory"
)

const inventoryTable = "inventory_master"

var inventoryColumns = []string{
	"product_code", "grade_code", "class_code", "shipping_mark_code", "shipping_mark_name",
	"product_name", "unit", "standard_price", "average_price", "product_category1", "product_category2",
	"job_date", "current_stock", "current_stock_amount", "daily_stock", "daily_stock_amount",
	"previous_month_quantity", "previous_month_amount", "daily_flag",
	"data_set_id", "parent_data_set_id", "import_type", "is_active",
	"created_by", "created_at", "updated_at",
}

var inventorySelect = "SELECT " + strings.Join(inventoryColumns, ", ") + " FROM " + inventoryTable

const inventoryOrder = " ORDER BY product_code, grade_code, class_code, shipping_mark_code, shipping_mark_name"

// InventoryRepository implements inventory.Repository
// 在庫マスタのリポジトリ
type InventoryRepository struct {
	s *PostgreSQLStorage
}

var _ inventory.Repository = (*InventoryRepository)(nil)

// GetActiveByJobDate returns the active snapshot of jobDate ordered by key
// 汎用日付の有効な在庫マスタを取得
func (r *InventoryRepository) GetActiveByJobDate(ctx context.Context, jobDate time.Time) ([]inventory.InventoryMaster, error) {
	query := inventorySelect + ` WHERE job_date = $1 AND is_active = TRUE` + inventoryOrder
	return r.query(ctx, query, r.s.dateParam(jobDate))
}

// GetActiveInitInventory returns the newest active INIT snapshot on or before jobDate
// 前月末在庫（INIT）を取得
func (r *InventoryRepository) GetActiveInitInventory(ctx context.Context, jobDate time.Time) ([]inventory.InventoryMaster, error) {
	query := inventorySelect + `
		WHERE is_active = TRUE AND import_type = 'INIT'
		  AND job_date = (
			SELECT MAX(job_date) FROM ` + inventoryTable + `
			WHERE is_active = TRUE AND import_type = 'INIT' AND job_date <= $1
		  )` + inventoryOrder
	return r.query(ctx, query, r.s.dateParam(jobDate))
}

func (r *InventoryRepository) query(ctx context.Context, query string, args ...interface{}) ([]inventory.InventoryMaster, error) {
	rows, err := r.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("在庫マスタ取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var out []inventory.InventoryMaster
	for rows.Next() {
		var m inventory.InventoryMaster
		err := rows.Scan(
			&m.ProductCode,
			&m.GradeCode,
			&m.ClassCode,
			&m.ShippingMarkCode,
			&m.ShippingMarkName,
			&m.ProductName,
			&m.Unit,
			&m.StandardPrice,
			&m.AveragePrice,
			&m.ProductCategory1,
			&m.ProductCategory2,
			&m.JobDate,
			&m.CurrentStock,
			&m.CurrentStockAmount,
			&m.DailyStock,
			&m.DailyStockAmount,
			&m.PreviousMonthQuantity,
			&m.PreviousMonthAmount,
			&m.DailyFlag,
			&m.DataSetID,
			&m.ParentDataSetID,
			&m.ImportType,
			&m.IsActive,
			&m.CreatedBy,
			&m.CreatedAt,
			&m.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("在庫マスタのスキャンに失敗しました: %w", err)
		}
		m.JobDate = r.s.fromDate(m.JobDate)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("在庫マスタ取得に失敗しました: %w", err)
	}
	return out, nil
}

// DeactivateByJobDate marks every active row of jobDate inactive
// 汎用日付の在庫マスタを無効化
func (r *InventoryRepository) DeactivateByJobDate(ctx context.Context, jobDate time.Time) (int64, error) {
	query := `UPDATE ` + inventoryTable + ` SET is_active = FALSE, updated_at = $2 WHERE job_date = $1 AND is_active = TRUE`
	return r.exec(ctx, "在庫マスタの無効化", query, r.s.dateParam(jobDate), r.s.timestamp())
}

// DeactivateInitByJobDate marks the active INIT rows of jobDate inactive
func (r *InventoryRepository) DeactivateInitByJobDate(ctx context.Context, jobDate time.Time) (int64, error) {
	query := `UPDATE ` + inventoryTable + ` SET is_active = FALSE, updated_at = $2
		WHERE job_date = $1 AND is_active = TRUE AND import_type = 'INIT'`
	return r.exec(ctx, "前月末在庫の無効化", query, r.s.dateParam(jobDate), r.s.timestamp())
}

// MarkDailyClosed sets the daily flag on the active rows of jobDate
// 日次終了フラグを設定
func (r *InventoryRepository) MarkDailyClosed(ctx context.Context, jobDate time.Time) (int64, error) {
	query := `UPDATE ` + inventoryTable + ` SET daily_flag = $2, updated_at = $3 WHERE job_date = $1 AND is_active = TRUE`
	return r.exec(ctx, "日次終了フラグ更新", query, r.s.dateParam(jobDate), inventory.DailyFlagClosed, r.s.timestamp())
}

func (r *InventoryRepository) exec(ctx context.Context, op, query string, args ...interface{}) (int64, error) {
	result, err := r.s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%sに失敗しました: %w", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("更新行数の取得に失敗しました: %w", err)
	}
	return n, nil
}

// BulkInsert loads rows with COPY inside one transaction
// 在庫マスタを一括登録
func (r *InventoryRepository) BulkInsert(ctx context.Context, rows []inventory.InventoryMaster) (n int64, err error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := r.s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("トランザクション開始に失敗しました: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				r.s.logger.Error("ロールバックに失敗しました", zap.Error(rbErr))
			}
		}
	}()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(inventoryTable, inventoryColumns...))
	if err != nil {
		return 0, fmt.Errorf("COPY準備に失敗しました: %w", err)
	}

	for i := range rows {
		m := &rows[i]
		importType := m.ImportType
		if !importType.Valid() {
			importType = batch.ImportTypeUnknown
		}
		_, err = stmt.ExecContext(ctx,
			m.ProductCode,
			m.GradeCode,
			m.ClassCode,
			m.ShippingMarkCode,
			m.ShippingMarkName,
			m.ProductName,
			m.Unit,
			m.StandardPrice,
			m.AveragePrice,
			m.ProductCategory1,
			m.ProductCategory2,
			r.s.dateParam(m.JobDate),
			m.CurrentStock,
			m.CurrentStockAmount,
			m.DailyStock,
			m.DailyStockAmount,
			m.PreviousMonthQuantity,
			m.PreviousMonthAmount,
			m.DailyFlag,
			m.DataSetID,
			m.ParentDataSetID,
			importType,
			m.IsActive,
			m.CreatedBy,
			m.CreatedAt,
			m.UpdatedAt,
		)
		if err != nil {
			stmt.Close()
			return 0, fmt.Errorf("在庫マスタ登録に失敗しました (%s): %w", m.InventoryKey, err)
		}
	}

	if _, err = stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return 0, fmt.Errorf("COPYの確定に失敗しました: %w", err)
	}
	if err = stmt.Close(); err != nil {
		return 0, fmt.Errorf("COPY終了に失敗しました: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("コミットに失敗しました: %w", err)
	}

	r.s.logger.Debug("在庫マスタ一括登録", zap.Int("rows", len(rows)))
	return int64(len(rows)), nil
}
