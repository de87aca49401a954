package inventory

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nemonet1337/zaiGoBatch/pkg/batch"
)

// DailyCloseService confirms the active snapshot of a job date
// 日次終了処理（在庫マスタの確定）
type DailyCloseService struct {
	inventory Repository
	dataSets  *batch.DataSetManager
	logger    *zap.Logger
}

// NewDailyCloseService creates a new daily close service
func NewDailyCloseService(inv Repository, dataSets *batch.DataSetManager, logger *zap.Logger) *DailyCloseService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DailyCloseService{inventory: inv, dataSets: dataSets, logger: logger}
}

// Work adapts Close to batch.RunBatch.
func (s *DailyCloseService) Work() batch.WorkFunc {
	return func(ctx context.Context, pc *batch.ProcessContext) (string, error) {
		n, err := s.Close(ctx, pc)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("日次終了処理: 在庫マスタ%d件を確定しました", n), nil
	}
}

// Close sets the daily flag on every active row of pc.JobDate. A job date
// without an active snapshot fails with ErrNoActiveSnapshot.
func (s *DailyCloseService) Close(ctx context.Context, pc *batch.ProcessContext) (int64, error) {
	s.logger.Info("日次終了処理開始",
		zap.String("run_id", pc.RunID),
		zap.String("job_date", pc.JobDate.Format("2006-01-02")),
	)

	n, err := s.inventory.MarkDailyClosed(ctx, pc.JobDate)
	if err != nil {
		return 0, NewStorageError("mark_daily_closed", "日次終了フラグの更新に失敗しました", err)
	}
	if n == 0 {
		s.logger.Error("確定対象の在庫マスタが存在しません", zap.String("job_date", pc.JobDate.Format("2006-01-02")))
		return 0, fmt.Errorf("%s (%w)", batch.MsgDataSetInconsistent, ErrNoActiveSnapshot)
	}

	if pc.DataSet != nil {
		pc.DataSet.RecordCount = int(n)
		pc.DataSet.TotalRecordCount = int(n)
		pc.DataSet.Notes = fmt.Sprintf("日次終了: %d件確定", n)
		if err := s.dataSets.UpdateDataSet(ctx, pc.DataSet); err != nil {
			return 0, err
		}
	}

	s.logger.Info("日次終了処理完了", zap.Int64("rows", n))
	return n, nil
}
