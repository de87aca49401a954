package inventory

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nemonet1337/zaiGoBatch/pkg/batch"
)

// ResetMessage is written to histories failed by a reset. A reset history no
// longer counts as processed, so the job date can be run again.
const ResetMessage = "管理者によるリセット"

// ResetPlan lists what a reset of (JobDate, ProcessType) would change
// リセット対象の一覧
type ResetPlan struct {
	JobDate         time.Time                `json:"job_date"`
	ProcessType     batch.ProcessType        `json:"process_type"`
	DeactivatesRows bool                     `json:"deactivates_rows"`
	Histories       []batch.ProcessHistory   `json:"histories"` // Running と Completed
	LatestDataSet   *batch.DataSetManagement `json:"latest_data_set,omitempty"`
}

// Empty reports whether the plan changes nothing.
func (p *ResetPlan) Empty() bool {
	return !p.DeactivatesRows && len(p.Histories) == 0 && p.LatestDataSet == nil
}

// ResetResult is the outcome of an executed plan
type ResetResult struct {
	DeactivatedRows int64  `json:"deactivated_rows"`
	FailedHistories int    `json:"failed_histories"`
	ArchivedDataSet string `json:"archived_data_set,omitempty"`
}

// ResetService undoes a broken run so the job date can be processed again
// 処理のリセット（管理者用）
type ResetService struct {
	inventory Repository
	histories batch.HistoryRepository
	dataSets  batch.DataSetRepository
	logger    *zap.Logger
	now       func() time.Time
}

// NewResetService creates a new reset service
func NewResetService(inv Repository, histories batch.HistoryRepository, dataSets batch.DataSetRepository, logger *zap.Logger) *ResetService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResetService{inventory: inv, histories: histories, dataSets: dataSets, logger: logger, now: time.Now}
}

// WithNow overrides the clock.
func (s *ResetService) WithNow(now func() time.Time) *ResetService {
	if now != nil {
		s.now = now
	}
	return s
}

// Plan collects the rows a reset would touch without writing anything.
func (s *ResetService) Plan(ctx context.Context, jobDate time.Time, processType batch.ProcessType) (*ResetPlan, error) {
	if !processType.Valid() {
		return nil, batch.NewValidationError("process_type", "処理種別が不正です", processType.String())
	}
	plan := &ResetPlan{
		JobDate:         jobDate,
		ProcessType:     processType,
		DeactivatesRows: processType == batch.ProcessTypeCarryover || processType == batch.ProcessTypeInit,
	}

	histories, err := s.histories.GetByJobDateAndType(ctx, jobDate, processType)
	if err != nil {
		return nil, fmt.Errorf("処理履歴の取得に失敗しました: %w", err)
	}
	for _, h := range histories {
		if h.Status == batch.ProcessStatusRunning || h.Status == batch.ProcessStatusCompleted {
			plan.Histories = append(plan.Histories, h)
		}
	}

	ds, err := s.dataSets.GetLatestByJobDateAndType(ctx, jobDate, processType)
	if err != nil {
		return nil, fmt.Errorf("データセットの取得に失敗しました: %w", err)
	}
	if ds != nil && !ds.IsArchived {
		plan.LatestDataSet = ds
	}
	return plan, nil
}

// Execute applies plan. It stops at the first failing write and returns what
// was done so far.
func (s *ResetService) Execute(ctx context.Context, plan *ResetPlan, executedBy string) (*ResetResult, error) {
	res := &ResetResult{}
	now := s.now().UTC()
	if executedBy == "" {
		executedBy = batch.DefaultCreatedBy
	}

	s.logger.Warn("処理のリセットを実行します",
		zap.String("job_date", plan.JobDate.Format("2006-01-02")),
		zap.String("process_type", plan.ProcessType.String()),
		zap.String("executed_by", executedBy),
	)

	if plan.DeactivatesRows {
		var (
			n   int64
			err error
		)
		if plan.ProcessType == batch.ProcessTypeInit {
			n, err = s.inventory.DeactivateInitByJobDate(ctx, plan.JobDate)
		} else {
			n, err = s.inventory.DeactivateByJobDate(ctx, plan.JobDate)
		}
		if err != nil {
			return res, NewStorageError("reset_deactivate", "在庫マスタの無効化に失敗しました", err)
		}
		res.DeactivatedRows = n
	}

	for i := range plan.Histories {
		h := plan.Histories[i]
		h.Status = batch.ProcessStatusFailed
		if h.EndTime == nil {
			end := now
			h.EndTime = &end
		}
		h.ErrorMessage = ResetMessage
		if err := s.histories.Update(ctx, &h); err != nil {
			return res, fmt.Errorf("処理履歴の更新に失敗しました (ID=%d): %w", h.ID, err)
		}
		res.FailedHistories++
	}

	if ds := plan.LatestDataSet; ds != nil {
		archivedAt := now
		ds.IsArchived = true
		ds.IsActive = false
		ds.ArchivedAt = &archivedAt
		ds.ArchivedBy = executedBy
		ds.UpdatedAt = now
		if ds.Status == batch.DataSetStatusProcessing {
			ds.Status = batch.DataSetStatusFailed
			ds.ErrorMessage = ResetMessage
		}
		if err := s.dataSets.Update(ctx, ds); err != nil {
			return res, fmt.Errorf("データセットのアーカイブに失敗しました (%s): %w", ds.DataSetID, err)
		}
		res.ArchivedDataSet = ds.DataSetID
	}

	s.logger.Info("処理のリセット完了",
		zap.Int64("deactivated_rows", res.DeactivatedRows),
		zap.Int("failed_histories", res.FailedHistories),
		zap.String("archived_data_set", res.ArchivedDataSet),
	)
	return res, nil
}
