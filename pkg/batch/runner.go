package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Runner orchestrates a batch run: validate the job date, register a data
// set, start history, run the domain work, then close history and notify.
type Runner struct {
	validator *DateValidator
	dataSets  *DataSetManager
	history   *HistoryService
	locker    Locker
	recorder  Recorder
	logger    *zap.Logger
	now       func() time.Time
}

// RunnerOption configures a Runner
type RunnerOption func(*Runner)

// WithLocker serializes runs of the same job date and process type.
func WithLocker(l Locker) RunnerOption {
	return func(r *Runner) { r.locker = l }
}

// WithRecorder reports finished runs to r.
func WithRecorder(rec Recorder) RunnerOption {
	return func(r *Runner) { r.recorder = rec }
}

// WithClock overrides the clock used for run timing.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRunner creates a new batch runner
// バッチ実行基盤を作成
func NewRunner(validator *DateValidator, dataSets *DataSetManager, history *HistoryService, logger *zap.Logger, opts ...RunnerOption) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		validator: validator,
		dataSets:  dataSets,
		history:   history,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Validator returns the date validator used by the runner.
func (r *Runner) Validator() *DateValidator { return r.validator }

// DataSets returns the data set manager used by the runner.
func (r *Runner) DataSets() *DataSetManager { return r.dataSets }

// History returns the process history service used by the runner.
func (r *Runner) History() *HistoryService { return r.history }

// InitializeProcess validates the job date, registers a data set and starts
// the process history. A failed validation returns *DateValidationError.
func (r *Runner) InitializeProcess(ctx context.Context, req Request) (*ProcessContext, error) {
	if !req.ProcessType.Valid() {
		return nil, NewValidationError("process_type", "未定義の処理種別です", req.ProcessType.String())
	}

	r.logger.Info("処理初期化開始",
		zap.String("job_date", req.JobDate.Format("2006-01-02")),
		zap.String("process_type", req.ProcessType.String()),
	)

	result, err := r.validator.ValidateJobDate(ctx, req.JobDate, req.ProcessType, req.AllowDuplicate)
	if err != nil {
		return nil, fmt.Errorf("日付検証に失敗しました: %w", err)
	}
	if !result.IsValid {
		return nil, &DateValidationError{JobDate: req.JobDate, ProcessType: req.ProcessType, Result: result}
	}

	jobDate := TruncateDate(req.JobDate, r.validator.Location())
	req.JobDate = jobDate
	r.logger.Info("処理対象日付", zap.String("job_date", jobDate.Format("2006-01-02")))
	if r.validator.IsSpecialDateRange(jobDate) {
		rng := r.validator.GetSpecialDateRange(jobDate)
		r.logger.Info("特殊日付範囲",
			zap.String("start", rng.Start.Format("2006-01-02")),
			zap.String("end", rng.End.Format("2006-01-02")),
		)
	}

	dataSetID := r.dataSets.GenerateDataSetID(jobDate, req.ProcessType)
	ds, err := r.dataSets.CreateDataSet(dataSetID, req)
	if err != nil {
		return nil, err
	}
	if err := r.dataSets.RegisterDataSet(ctx, ds); err != nil {
		return nil, err
	}

	h, err := r.history.StartProcess(ctx, dataSetID, jobDate, req.ProcessType, req.ExecutedBy)
	if err != nil {
		return nil, err
	}

	pc := &ProcessContext{
		RunID:         uuid.NewString(),
		JobDate:       jobDate,
		ProcessType:   req.ProcessType,
		DataSetID:     dataSetID,
		DataSet:       ds,
		History:       h,
		ImportedFiles: req.ImportedFiles,
		ExecutedBy:    h.ExecutedBy,
		Department:    ds.Department,
		StartedAt:     r.now(),
	}
	r.logger.Info("処理初期化完了",
		zap.String("run_id", pc.RunID),
		zap.String("data_set_id", dataSetID),
		zap.Int64("history_id", h.ID),
	)
	return pc, nil
}

// FinalizeProcess closes the history of pc and, for a successful daily close,
// sends the completion notice. Without a history it only logs a warning.
func (r *Runner) FinalizeProcess(ctx context.Context, pc *ProcessContext, success bool, message string) error {
	if pc == nil || pc.History == nil {
		r.logger.Warn("処理履歴が存在しません")
		return nil
	}

	h, err := r.history.CompleteProcess(ctx, pc.History.ID, success, message)
	if err != nil {
		return err
	}
	pc.History = h

	if pc.DataSet != nil {
		if success {
			pc.DataSet.Status = DataSetStatusCompleted
		} else {
			pc.DataSet.Status = DataSetStatusFailed
			pc.DataSet.ErrorMessage = message
		}
		if err := r.dataSets.UpdateDataSet(ctx, pc.DataSet); err != nil {
			return err
		}
	}

	if r.recorder != nil {
		r.recorder.ObserveRun(pc.ProcessType, h.Status, r.now().Sub(pc.StartedAt))
	}

	if pc.ProcessType == ProcessTypeDailyClose && success {
		r.history.SendCompletionEmail(ctx, h)
	}
	return nil
}

// RunBatch runs work between InitializeProcess and FinalizeProcess. A work
// error or panic finalizes the run as failed with the error text.
func (r *Runner) RunBatch(ctx context.Context, req Request, work WorkFunc) (pc *ProcessContext, err error) {
	if r.locker != nil {
		key := LockKey(TruncateDate(req.JobDate, r.validator.Location()), req.ProcessType)
		release, lerr := r.locker.Acquire(ctx, key)
		if lerr != nil {
			return nil, lerr
		}
		defer func() {
			if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
				r.logger.Warn("ロック解放に失敗しました", zap.String("key", key), zap.Error(rerr))
			}
		}()
	}

	pc, err = r.InitializeProcess(ctx, req)
	if err != nil {
		return nil, err
	}

	// 業務処理が失敗しても処理履歴は必ず閉じる
	finalCtx := context.WithoutCancel(ctx)
	defer func() {
		if p := recover(); p != nil {
			msg := fmt.Sprintf("panic: %v", p)
			if ferr := r.FinalizeProcess(finalCtx, pc, false, msg); ferr != nil {
				r.logger.Error("処理終了に失敗しました", zap.Error(ferr))
			}
			panic(p)
		}
	}()

	message, werr := work(ctx, pc)
	if werr != nil {
		r.logger.Error("バッチ処理が失敗しました",
			zap.String("run_id", pc.RunID),
			zap.String("data_set_id", pc.DataSetID),
			zap.Error(werr),
		)
		if ferr := r.FinalizeProcess(finalCtx, pc, false, werr.Error()); ferr != nil {
			return pc, multierr.Append(werr, ferr)
		}
		return pc, werr
	}

	if err := r.FinalizeProcess(finalCtx, pc, true, message); err != nil {
		return pc, err
	}
	r.logger.Info("バッチ処理が正常終了しました",
		zap.String("run_id", pc.RunID),
		zap.String("data_set_id", pc.DataSetID),
		zap.String("process_type", pc.ProcessType.String()),
	)
	return pc, nil
}

// LockKey is the lock name for a job date and process type.
func LockKey(jobDate time.Time, processType ProcessType) string {
	return fmt.Sprintf("batch:%s:%s", jobDate.Format("20060102"), processType)
}
