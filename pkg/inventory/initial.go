package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiGoBatch/pkg/batch"
)

// InitialImportService loads a month-end inventory file as the INIT snapshot
// 前月末在庫（INIT）の取込
type InitialImportService struct {
	inventory Repository
	dataSets  *batch.DataSetManager
	logger    *zap.Logger
	now       func() time.Time
}

// NewInitialImportService creates a new initial import service
func NewInitialImportService(inv Repository, dataSets *batch.DataSetManager, logger *zap.Logger) *InitialImportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InitialImportService{inventory: inv, dataSets: dataSets, logger: logger, now: time.Now}
}

// WithNow overrides the clock used for row timestamps.
func (s *InitialImportService) WithNow(now func() time.Time) *InitialImportService {
	if now != nil {
		s.now = now
	}
	return s
}

// Work reads src and imports its rows inside a batch run.
func (s *InitialImportService) Work(src InitialInventorySource) batch.WorkFunc {
	return func(ctx context.Context, pc *batch.ProcessContext) (string, error) {
		rows, err := src.Rows(ctx)
		if err != nil {
			return "", fmt.Errorf("前月末在庫ファイルの読込に失敗しました (%s): %w", src.Name(), err)
		}
		n, err := s.Import(ctx, pc, rows)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("前月末在庫取込: %d件 (%s)", n, src.Name()), nil
	}
}

// Import validates rows, replaces every active row of pc.JobDate with the INIT
// snapshot and returns the number of inserted rows. Every invalid line is
// reported.
func (s *InitialImportService) Import(ctx context.Context, pc *batch.ProcessContext, rows []InitialInventoryRow) (int64, error) {
	if len(rows) == 0 {
		return 0, ErrEmptyInput
	}

	s.logger.Info("前月末在庫取込開始",
		zap.String("run_id", pc.RunID),
		zap.String("job_date", pc.JobDate.Format("2006-01-02")),
		zap.Int("rows", len(rows)),
	)

	masters, err := s.buildRows(pc, rows)
	if err != nil {
		s.logger.Error("前月末在庫の検証エラー", zap.Error(err))
		return 0, err
	}

	// 同一汎用日付の有効行は取込元に関わらず1キー1行
	deactivated, err := s.inventory.DeactivateByJobDate(ctx, pc.JobDate)
	if err != nil {
		return 0, NewStorageError("deactivate_inventory", "既存在庫マスタの無効化に失敗しました", err)
	}
	if deactivated > 0 {
		s.logger.Info("既存在庫マスタを無効化しました", zap.Int64("rows", deactivated))
	}

	inserted, err := s.inventory.BulkInsert(ctx, masters)
	if err != nil {
		return 0, NewStorageError("bulk_insert_inventory", "前月末在庫の登録に失敗しました", err)
	}

	if pc.DataSet != nil {
		pc.DataSet.RecordCount = int(inserted)
		pc.DataSet.TotalRecordCount = len(rows)
		if err := s.dataSets.UpdateDataSet(ctx, pc.DataSet); err != nil {
			return 0, err
		}
	}

	s.logger.Info("前月末在庫取込完了",
		zap.String("data_set_id", pc.DataSetID),
		zap.Int64("inserted", inserted),
	)
	return inserted, nil
}

func (s *InitialImportService) buildRows(pc *batch.ProcessContext, rows []InitialInventoryRow) ([]InventoryMaster, error) {
	now := s.now().UTC()
	createdBy := pc.ExecutedBy
	if createdBy == "" {
		createdBy = batch.DefaultCreatedBy
	}

	var errs error
	seen := make(map[InventoryKey]int, len(rows))
	out := make([]InventoryMaster, 0, len(rows))

	for i, r := range rows {
		line := r.LineNumber
		if line == 0 {
			line = i + 1
		}
		r.InventoryKey = r.InventoryKey.Normalize()
		if err := ValidateInitialRow(r); err != nil {
			errs = multierr.Append(errs, NewRowError(line, err))
			continue
		}
		if first, dup := seen[r.InventoryKey]; dup {
			errs = multierr.Append(errs, NewRowError(line,
				fmt.Errorf("%w: %s (%d行目と重複)", ErrDuplicateKey, r.InventoryKey, first)))
			continue
		}
		seen[r.InventoryKey] = line

		name := strings.TrimSpace(r.ProductName)
		if name == "" {
			name = PlaceholderProductName
		}
		unit := strings.TrimSpace(r.Unit)
		if unit == "" {
			unit = DefaultUnit
		}

		out = append(out, InventoryMaster{
			InventoryKey:          r.InventoryKey,
			ProductName:           name,
			Unit:                  unit,
			StandardPrice:         r.StandardPrice,
			AveragePrice:          unitPrice(r.Amount, r.Quantity),
			JobDate:               pc.JobDate,
			CurrentStock:          r.Quantity,
			CurrentStockAmount:    r.Amount,
			DailyStock:            decimal.Zero,
			DailyStockAmount:      decimal.Zero,
			PreviousMonthQuantity: r.Quantity,
			PreviousMonthAmount:   r.Amount,
			DailyFlag:             DailyFlagOpen,
			DataSetID:             pc.DataSetID,
			ImportType:            batch.ImportTypeInit,
			IsActive:              true,
			CreatedBy:             createdBy,
			CreatedAt:             now,
			UpdatedAt:             now,
		})
	}
	if errs != nil {
		return nil, errs
	}
	return out, nil
}

// RowErrors flattens the line errors returned by Import.
func RowErrors(err error) []*RowError {
	var out []*RowError
	for _, e := range multierr.Errors(err) {
		var re *RowError
		if errors.As(e, &re) {
			out = append(out, re)
		}
	}
	return out
}
