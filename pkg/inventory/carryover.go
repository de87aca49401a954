package inventory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiGoBatch/pkg/batch"
)

// CarryoverService builds the snapshot of a job date from the previous
// day's active snapshot and the day's vouchers
// 前日在庫の繰越処理
type CarryoverService struct {
	inventory   Repository
	sales       VoucherRepository
	purchases   VoucherRepository
	adjustments VoucherRepository
	dataSets    *batch.DataSetManager
	recorder    KeyRecorder
	logger      *zap.Logger
	now         func() time.Time
}

// KeyRecorder receives the inherited/new key counts of each carryover
type KeyRecorder interface {
	ObserveCarryover(inherited, created int)
}

// NewCarryoverService creates a new carryover service
// 繰越サービスを作成
func NewCarryoverService(inv Repository, sales, purchases, adjustments VoucherRepository, dataSets *batch.DataSetManager, logger *zap.Logger) *CarryoverService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CarryoverService{
		inventory:   inv,
		sales:       sales,
		purchases:   purchases,
		adjustments: adjustments,
		dataSets:    dataSets,
		logger:      logger,
		now:         time.Now,
	}
}

// WithNow overrides the clock used for row timestamps.
func (s *CarryoverService) WithNow(now func() time.Time) *CarryoverService {
	if now != nil {
		s.now = now
	}
	return s
}

// WithRecorder sets the metrics sink for key counts.
func (s *CarryoverService) WithRecorder(r KeyRecorder) *CarryoverService {
	s.recorder = r
	return s
}

// Work adapts Execute to batch.RunBatch. tracer may be nil.
func (s *CarryoverService) Work(tracer *Tracer, out *CarryoverResult) batch.WorkFunc {
	return func(ctx context.Context, pc *batch.ProcessContext) (string, error) {
		res, err := s.Execute(ctx, pc, tracer)
		if err != nil {
			return "", err
		}
		if out != nil {
			*out = *res
		}
		return res.Summary(), nil
	}
}

// Execute loads prior state and vouchers, replaces the active snapshot of
// pc.JobDate and records lineage on the run's data set.
func (s *CarryoverService) Execute(ctx context.Context, pc *batch.ProcessContext, tracer *Tracer) (*CarryoverResult, error) {
	target := pc.JobDate
	prevDate := target.AddDate(0, 0, -1)

	s.logger.Info("在庫繰越開始",
		zap.String("run_id", pc.RunID),
		zap.String("target_date", target.Format("2006-01-02")),
		zap.String("data_set_id", pc.DataSetID),
	)

	prior, source, err := s.loadPrior(ctx, prevDate)
	if err != nil {
		return nil, err
	}

	sales, err := s.sales.GetByJobDate(ctx, target)
	if err != nil {
		return nil, NewStorageError("get_sales_vouchers", "売上伝票の取得に失敗しました", err)
	}
	purchases, err := s.purchases.GetByJobDate(ctx, target)
	if err != nil {
		return nil, NewStorageError("get_purchase_vouchers", "仕入伝票の取得に失敗しました", err)
	}
	adjustments, err := s.adjustments.GetByJobDate(ctx, target)
	if err != nil {
		return nil, NewStorageError("get_adjustment_vouchers", "在庫調整の取得に失敗しました", err)
	}

	s.logger.Info("当日伝票数",
		zap.Int("sales", len(sales)),
		zap.Int("purchases", len(purchases)),
		zap.Int("adjustments", len(adjustments)),
	)

	res := s.Merge(prior, target, pc.DataSetID, pc.ExecutedBy, tracer, sales, purchases, adjustments)
	res.Source = source
	res.SalesCount = len(sales)
	res.PurchaseCount = len(purchases)
	res.AdjustmentCount = len(adjustments)

	deactivated, err := s.inventory.DeactivateByJobDate(ctx, target)
	if err != nil {
		return nil, NewStorageError("deactivate_inventory", "既存在庫マスタの無効化に失敗しました", err)
	}
	if deactivated > 0 {
		s.logger.Info("既存在庫マスタを無効化しました", zap.Int64("rows", deactivated))
	}

	inserted, err := s.inventory.BulkInsert(ctx, res.Rows)
	if err != nil {
		return nil, NewStorageError("bulk_insert_inventory", "在庫マスタの登録に失敗しました", err)
	}

	if pc.DataSet != nil {
		pc.DataSet.ParentDataSetID = res.ParentDataSetID
		pc.DataSet.RecordCount = res.TotalCount()
		pc.DataSet.TotalRecordCount = res.TotalCount()
		pc.DataSet.Notes = res.Summary()
		if err := s.dataSets.UpdateDataSet(ctx, pc.DataSet); err != nil {
			return nil, err
		}
	}

	if s.recorder != nil {
		s.recorder.ObserveCarryover(res.InheritedCount, res.NewCount)
	}

	s.logger.Info("在庫繰越完了",
		zap.String("run_id", pc.RunID),
		zap.String("data_set_id", pc.DataSetID),
		zap.String("parent_data_set_id", res.ParentDataSetID),
		zap.String("source", string(res.Source)),
		zap.Int("inherited", res.InheritedCount),
		zap.Int("new", res.NewCount),
		zap.Int64("inserted", inserted),
	)
	return res, nil
}

// loadPrior returns the previous day's snapshot, falling back to the newest
// month-end INIT snapshot, then to nothing.
func (s *CarryoverService) loadPrior(ctx context.Context, prevDate time.Time) ([]InventoryMaster, SnapshotSource, error) {
	prior, err := s.inventory.GetActiveByJobDate(ctx, prevDate)
	if err != nil {
		return nil, "", NewStorageError("get_active_inventory", "前日在庫の取得に失敗しました", err)
	}
	if len(prior) > 0 {
		s.logger.Info("前日在庫を引き継ぎます",
			zap.String("prev_date", prevDate.Format("2006-01-02")),
			zap.Int("rows", len(prior)),
		)
		return prior, SourcePreviousDay, nil
	}

	initial, err := s.inventory.GetActiveInitInventory(ctx, prevDate)
	if err != nil {
		return nil, "", NewStorageError("get_init_inventory", "前月末在庫の取得に失敗しました", err)
	}
	if len(initial) > 0 {
		s.logger.Info("前日在庫がないため前月末在庫（INIT）を引き継ぎます", zap.Int("rows", len(initial)))
		return initial, SourceInitial, nil
	}

	s.logger.Warn("引継元の在庫が存在しません。伝票のキーのみで在庫マスタを作成します",
		zap.String("prev_date", prevDate.Format("2006-01-02")),
	)
	return nil, SourceEmpty, nil
}

// Merge unions the prior keys with every voucher key. Prior keys carry their
// stock, prices and categories forward with the daily figures reset; keys
// seen only on vouchers start from zero with placeholder names.
func (s *CarryoverService) Merge(prior []InventoryMaster, target time.Time, dataSetID, createdBy string, tracer *Tracer, vouchers ...[]Voucher) *CarryoverResult {
	now := s.now().UTC()
	if createdBy == "" {
		createdBy = batch.DefaultCreatedBy
	}

	res := &CarryoverResult{TargetDate: target, DataSetID: dataSetID}
	rows := make(map[InventoryKey]*InventoryMaster, len(prior))

	for i := range prior {
		p := &prior[i]
		key := p.InventoryKey.Normalize()
		if _, dup := rows[key]; dup {
			s.logger.Warn("前日在庫に重複キーがあります", zap.String("key", key.String()))
			continue
		}
		if res.ParentDataSetID == "" {
			res.ParentDataSetID = p.DataSetID
		}

		average := p.AveragePrice
		if average.IsZero() {
			average = unitPrice(p.CurrentStockAmount, p.CurrentStock)
		}
		row := &InventoryMaster{
			InventoryKey:          key,
			ProductName:           p.ProductName,
			Unit:                  p.Unit,
			StandardPrice:         p.StandardPrice,
			AveragePrice:          average,
			ProductCategory1:      p.ProductCategory1,
			ProductCategory2:      p.ProductCategory2,
			JobDate:               target,
			CurrentStock:          p.CurrentStock,
			CurrentStockAmount:    p.CurrentStockAmount,
			DailyStock:            decimal.Zero,
			DailyStockAmount:      decimal.Zero,
			PreviousMonthQuantity: p.PreviousMonthQuantity,
			PreviousMonthAmount:   p.PreviousMonthAmount,
			DailyFlag:             DailyFlagOpen,
			DataSetID:             dataSetID,
			ParentDataSetID:       p.DataSetID,
			ImportType:            batch.ImportTypeCarryover,
			IsActive:              true,
			CreatedBy:             createdBy,
			CreatedAt:             now,
			UpdatedAt:             now,
		}
		rows[key] = row
		res.InheritedCount++
		tracer.Track("繰越(継承)", row, "")
	}

	for _, list := range vouchers {
		for i := range list {
			v := &list[i]
			key := v.InventoryKey.Normalize()
			if _, ok := rows[key]; ok {
				continue
			}
			if err := ValidateInventoryKey(key); err != nil {
				s.logger.Warn("伝票の在庫キーが不正です（そのまま引き継ぎます）",
					zap.String("kind", v.Kind.String()),
					zap.String("voucher_number", v.VoucherNumber),
					zap.String("key", key.String()),
					zap.Error(err),
				)
			}
			row := &InventoryMaster{
				InventoryKey:          key,
				ProductName:           PlaceholderProductName,
				Unit:                  DefaultUnit,
				StandardPrice:         decimal.Zero,
				AveragePrice:          decimal.Zero,
				JobDate:               target,
				CurrentStock:          decimal.Zero,
				CurrentStockAmount:    decimal.Zero,
				DailyStock:            decimal.Zero,
				DailyStockAmount:      decimal.Zero,
				PreviousMonthQuantity: decimal.Zero,
				PreviousMonthAmount:   decimal.Zero,
				DailyFlag:             DailyFlagOpen,
				DataSetID:             dataSetID,
				ImportType:            batch.ImportTypeCarryover,
				IsActive:              true,
				CreatedBy:             createdBy,
				CreatedAt:             now,
				UpdatedAt:             now,
			}
			rows[key] = row
			res.NewCount++
			tracer.Track("繰越(新規)", row, fmt.Sprintf("%s伝票 %s", v.Kind, v.VoucherNumber))
		}
	}

	res.Rows = make([]InventoryMaster, 0, len(rows))
	for _, row := range rows {
		res.Rows = append(res.Rows, *row)
	}
	sort.Slice(res.Rows, func(i, j int) bool {
		return res.Rows[i].InventoryKey.String() < res.Rows[j].InventoryKey.String()
	})
	return res
}

// Summary is the data set note for the run
// データセット備考
func (r *CarryoverResult) Summary() string {
	return fmt.Sprintf("前日在庫引継: 継承%d件, 新規%d件 (売上%d件, 仕入%d件, 在庫調整%d件)",
		r.InheritedCount, r.NewCount, r.SalesCount, r.PurchaseCount, r.AdjustmentCount)
}
