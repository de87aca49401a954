// Package inventory builds the daily inventory master snapshots: carryover
// from the previous day, initial (month-end) import and daily close marking.
package inventory

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nemonet1337/zaiGoBatch/pkg/batch"
)

const (
	// PlaceholderProductName is used for keys first seen on a voucher
	// 伝票で初めて出現したキーの商品名
	PlaceholderProductName = "商品名未設定"

	// DefaultUnit is the unit of keys first seen on a voucher
	DefaultUnit = "PCS"

	// DailyFlagClosed marks a snapshot row confirmed by the daily close
	// 日次終了処理済み
	DailyFlagClosed = "9"

	// DailyFlagOpen marks a row not yet confirmed
	DailyFlagOpen = "0"
)

// InventoryKey is the five-part identity shared by vouchers and snapshots.
// Equality is structural; build keys with NewInventoryKey so equal codes compare equal.
type InventoryKey struct {
	ProductCode      string `json:"product_code" db:"product_code"`             // 商品コード（5桁）
	GradeCode        string `json:"grade_code" db:"grade_code"`                 // 等級コード（3桁）
	ClassCode        string `json:"class_code" db:"class_code"`                 // 階級コード（3桁）
	ShippingMarkCode string `json:"shipping_mark_code" db:"shipping_mark_code"` // 荷印コード（4桁）
	ShippingMarkName string `json:"shipping_mark_name" db:"shipping_mark_name"` // 荷印名（8文字固定）
}

// String renders the key as P-G-C-SMC-SMN
func (k InventoryKey) String() string {
	return fmt.Sprintf("%s-%s-%s-%s-%s", k.ProductCode, k.GradeCode, k.ClassCode, k.ShippingMarkCode, k.ShippingMarkName)
}

// ParseInventoryKey is the inverse of String. The shipping mark name may contain '-'.
func ParseInventoryKey(s string) (InventoryKey, error) {
	parts := strings.SplitN(s, "-", 5)
	if len(parts) != 5 {
		return InventoryKey{}, NewValidationError("inventory_key", "在庫キーは 商品-等級-階級-荷印-荷印名 の形式で指定してください", s)
	}
	return NewInventoryKey(parts[0], parts[1], parts[2], parts[3], parts[4]), nil
}

// InventoryMaster is one snapshot row per key per job date
// 在庫マスタ（汎用日付ごとのスナップショット）
type InventoryMaster struct {
	InventoryKey

	ProductName           string           `json:"product_name" db:"product_name"`                       // 商品名
	Unit                  string           `json:"unit" db:"unit"`                                       // 単位
	StandardPrice         decimal.Decimal  `json:"standard_price" db:"standard_price"`                   // 標準単価
	AveragePrice          decimal.Decimal  `json:"average_price" db:"average_price"`                     // 移動平均単価
	ProductCategory1      string           `json:"product_category1" db:"product_category1"`             // 商品分類1
	ProductCategory2      string           `json:"product_category2" db:"product_category2"`             // 商品分類2
	JobDate               time.Time        `json:"job_date" db:"job_date"`                               // 汎用日付
	CurrentStock          decimal.Decimal  `json:"current_stock" db:"current_stock"`                     // 現在在庫数
	CurrentStockAmount    decimal.Decimal  `json:"current_stock_amount" db:"current_stock_amount"`       // 現在在庫金額
	DailyStock            decimal.Decimal  `json:"daily_stock" db:"daily_stock"`                         // 当日在庫数
	DailyStockAmount      decimal.Decimal  `json:"daily_stock_amount" db:"daily_stock_amount"`           // 当日在庫金額
	PreviousMonthQuantity decimal.Decimal  `json:"previous_month_quantity" db:"previous_month_quantity"` // 前月末在庫数
	PreviousMonthAmount   decimal.Decimal  `json:"previous_month_amount" db:"previous_month_amount"`     // 前月末在庫金額
	DailyFlag             string           `json:"daily_flag" db:"daily_flag"`                           // 日次終了フラグ
	DataSetID             string           `json:"data_set_id" db:"data_set_id"`                         // データセットID
	ParentDataSetID       string           `json:"parent_data_set_id,omitempty" db:"parent_data_set_id"` // 引継元データセットID
	ImportType            batch.ImportType `json:"import_type" db:"import_type"`                         // インポート種別
	IsActive              bool             `json:"is_active" db:"is_active"`                             // アクティブ
	CreatedBy             string           `json:"created_by" db:"created_by"`                           // 作成者
	CreatedAt             time.Time        `json:"created_at" db:"created_at"`                           // 作成日時
	UpdatedAt             time.Time        `json:"updated_at" db:"updated_at"`                           // 更新日時
}

// Key returns the row's inventory key.
func (m *InventoryMaster) Key() InventoryKey {
	return m.InventoryKey
}

// VoucherKind distinguishes the three voucher sources
// 伝票の種類
type VoucherKind uint8

const (
	VoucherKindSales VoucherKind = iota + 1
	VoucherKindPurchase
	VoucherKindAdjustment
)

func (k VoucherKind) String() string {
	switch k {
	case VoucherKindSales:
		return "売上"
	case VoucherKindPurchase:
		return "仕入"
	case VoucherKindAdjustment:
		return "在庫調整"
	}
	return fmt.Sprintf("VoucherKind(%d)", uint8(k))
}

// Voucher type codes as exported by the accounting package
const (
	VoucherTypeSalesCredit    = "51" // 掛売
	VoucherTypeSalesCash      = "52" // 現売
	VoucherTypePurchaseCredit = "61" // 掛仕入
	VoucherTypePurchaseCash   = "62" // 現金仕入
	VoucherTypeAdjustment     = "70" // 在庫調整
)

// Voucher is one detail line of a sales, purchase or adjustment voucher
// 伝票明細
type Voucher struct {
	InventoryKey

	Kind          VoucherKind     `json:"kind"`                               // 伝票種類
	VoucherNumber string          `json:"voucher_number" db:"voucher_number"` // 伝票番号
	VoucherType   string          `json:"voucher_type" db:"voucher_type"`     // 伝票区分
	LineNumber    int             `json:"line_number" db:"line_number"`       // 行番号
	JobDate       time.Time       `json:"job_date" db:"job_date"`             // 汎用日付
	ProductName   string          `json:"product_name" db:"product_name"`     // 商品名
	Quantity      decimal.Decimal `json:"quantity" db:"quantity"`             // 数量
	UnitPrice     decimal.Decimal `json:"unit_price" db:"unit_price"`         // 単価
	Amount        decimal.Decimal `json:"amount" db:"amount"`                 // 金額
	DataSetID     string          `json:"data_set_id" db:"data_set_id"`       // 取込データセットID
}

// CarryoverResult summarizes one carryover run
// 在庫繰越の結果
type CarryoverResult struct {
	TargetDate      time.Time         `json:"target_date"`
	DataSetID       string            `json:"data_set_id"`
	ParentDataSetID string            `json:"parent_data_set_id,omitempty"`
	Source          SnapshotSource    `json:"source"`
	InheritedCount  int               `json:"inherited_count"`
	NewCount        int               `json:"new_count"`
	SalesCount      int               `json:"sales_count"`
	PurchaseCount   int               `json:"purchase_count"`
	AdjustmentCount int               `json:"adjustment_count"`
	Rows            []InventoryMaster `json:"-"`
}

// TotalCount is the number of rows in the new snapshot.
func (r *CarryoverResult) TotalCount() int {
	return r.InheritedCount + r.NewCount
}

// SnapshotSource tells where the prior state came from
type SnapshotSource string

const (
	SourcePreviousDay SnapshotSource = "previous_day" // 前日在庫
	SourceInitial     SnapshotSource = "initial"      // 前月末在庫（INIT）
	SourceEmpty       SnapshotSource = "empty"        // 引継元なし
)

// InitialInventoryRow is one parsed line of the month-end inventory file
// 前月末在庫ファイルの1行
type InitialInventoryRow struct {
	InventoryKey

	LineNumber    int             `json:"line_number"`
	ProductName   string          `json:"product_name"`
	Unit          string          `json:"unit"`
	Quantity      decimal.Decimal `json:"quantity"`
	Amount        decimal.Decimal `json:"amount"`
	StandardPrice decimal.Decimal `json:"standard_price"`
}
