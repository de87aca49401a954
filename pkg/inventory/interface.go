package inventory

import (
	"context"
	"time"
)

// Repository persists inventory master snapshots
// 在庫マスタのストレージインターフェース
type Repository interface {
	// 参照 - Reads
	GetActiveByJobDate(ctx context.Context, jobDate time.Time) ([]InventoryMaster, error)
	// GetActiveInitInventory returns the newest active INIT snapshot on or before jobDate.
	GetActiveInitInventory(ctx context.Context, jobDate time.Time) ([]InventoryMaster, error)

	// 更新 - Writes
	DeactivateByJobDate(ctx context.Context, jobDate time.Time) (int64, error)
	DeactivateInitByJobDate(ctx context.Context, jobDate time.Time) (int64, error)
	BulkInsert(ctx context.Context, rows []InventoryMaster) (int64, error)
	MarkDailyClosed(ctx context.Context, jobDate time.Time) (int64, error)
}

// VoucherRepository reads the vouchers of one kind
// 伝票のストレージインターフェース
type VoucherRepository interface {
	GetByJobDate(ctx context.Context, jobDate time.Time) ([]Voucher, error)
}

// InitialInventorySource yields parsed month-end inventory rows
// 前月末在庫の読込元
type InitialInventorySource interface {
	Rows(ctx context.Context) ([]InitialInventoryRow, error)
	Name() string
}
