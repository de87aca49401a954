package inventory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// UncategorizedLabel groups rows without a product category 1
const UncategorizedLabel = "未分類"

// ABC classification thresholds on the cumulative amount share (80-15-5)
var (
	abcThresholdA = decimal.RequireFromString("0.80")
	abcThresholdB = decimal.RequireFromString("0.95")
)

// CategoryTotal aggregates one product category 1
// 商品分類1ごとの在庫集計
type CategoryTotal struct {
	Category string          `json:"category"`
	Rows     int             `json:"rows"`
	Quantity decimal.Decimal `json:"quantity"`
	Amount   decimal.Decimal `json:"amount"`
}

// RankedKey is one key of the ABC ranking
type RankedKey struct {
	Key         InventoryKey    `json:"key"`
	ProductName string          `json:"product_name"`
	Quantity    decimal.Decimal `json:"quantity"`
	Amount      decimal.Decimal `json:"amount"`
	Class       string          `json:"class"` // A, B, C
}

// Valuation is the stock valuation of one job date's active snapshot
// 在庫評価（汎用日付の有効在庫マスタ）
type Valuation struct {
	JobDate       time.Time       `json:"job_date"`
	Rows          int             `json:"rows"`
	TotalQuantity decimal.Decimal `json:"total_quantity"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Categories    []CategoryTotal `json:"categories"`
	Ranking       []RankedKey     `json:"ranking"`
}

// ClassCounts returns the number of keys per ABC class
func (v *Valuation) ClassCounts() map[string]int {
	counts := map[string]int{"A": 0, "B": 0, "C": 0}
	for _, r := range v.Ranking {
		counts[r.Class]++
	}
	return counts
}

// ValuationService values inventory snapshots
// 在庫評価サービス
type ValuationService struct {
	repo   Repository
	logger *zap.Logger
}

// NewValuationService creates a new valuation service
// 新しい在庫評価サービスを作成
func NewValuationService(repo Repository, logger *zap.Logger) *ValuationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ValuationService{
		repo:   repo,
		logger: logger,
	}
}

// Evaluate values the active snapshot of jobDate
// 汎用日付の在庫を評価
func (s *ValuationService) Evaluate(ctx context.Context, jobDate time.Time) (*Valuation, error) {
	rows, err := s.repo.GetActiveByJobDate(ctx, jobDate)
	if err != nil {
		return nil, NewStorageError("get_active_by_job_date", "在庫マスタ取得に失敗しました", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoActiveSnapshot, jobDate.Format("2006-01-02"))
	}

	v := Summarize(jobDate, rows)
	s.logger.Info("在庫評価を実行しました",
		zap.String("job_date", jobDate.Format("2006-01-02")),
		zap.Int("rows", v.Rows),
		zap.String("total_amount", v.TotalAmount.String()),
	)
	return v, nil
}

// Summarize aggregates rows by category and ranks the keys by stock amount
func Summarize(jobDate time.Time, rows []InventoryMaster) *Valuation {
	v := &Valuation{
		JobDate:       jobDate,
		Rows:          len(rows),
		TotalQuantity: decimal.Zero,
		TotalAmount:   decimal.Zero,
	}

	byCategory := make(map[string]*CategoryTotal)
	for i := range rows {
		r := &rows[i]
		v.TotalQuantity = v.TotalQuantity.Add(r.CurrentStock)
		v.TotalAmount = v.TotalAmount.Add(r.CurrentStockAmount)

		name := r.ProductCategory1
		if name == "" {
			name = UncategorizedLabel
		}
		ct, ok := byCategory[name]
		if !ok {
			ct = &CategoryTotal{Category: name, Quantity: decimal.Zero, Amount: decimal.Zero}
			byCategory[name] = ct
		}
		ct.Rows++
		ct.Quantity = ct.Quantity.Add(r.CurrentStock)
		ct.Amount = ct.Amount.Add(r.CurrentStockAmount)

		v.Ranking = append(v.Ranking, RankedKey{
			Key:         r.InventoryKey,
			ProductName: r.ProductName,
			Quantity:    r.CurrentStock,
			Amount:      r.CurrentStockAmount,
		})
	}

	v.Categories = make([]CategoryTotal, 0, len(byCategory))
	for _, ct := range byCategory {
		v.Categories = append(v.Categories, *ct)
	}
	sort.Slice(v.Categories, func(i, j int) bool {
		return v.Categories[i].Category < v.Categories[j].Category
	})

	classifyABC(v.Ranking, v.TotalAmount)
	return v
}

// classifyABC sorts items by amount, largest first, and assigns A up to 80%
// of the total, B up to 95%, C for the rest. A non-positive total makes every key C.
func classifyABC(items []RankedKey, total decimal.Decimal) {
	sort.SliceStable(items, func(i, j int) bool {
		if c := items[i].Amount.Cmp(items[j].Amount); c != 0 {
			return c > 0
		}
		return items[i].Key.String() < items[j].Key.String()
	})

	if !total.IsPositive() {
		for i := range items {
			items[i].Class = "C"
		}
		return
	}

	cumulative := decimal.Zero
	for i := range items {
		cumulative = cumulative.Add(items[i].Amount)
		share := cumulative.Div(total)
		switch {
		case share.LessThanOrEqual(abcThresholdA):
			items[i].Class = "A"
		case share.LessThanOrEqual(abcThresholdB):
			items[i].Class = "B"
		default:
			items[i].Class = "C"
		}
	}
}
