package batch

import (
	"context"
	"time"
)

// DataSetRepository persists data set management rows
// データセット管理のストレージインターフェース
type DataSetRepository interface {
	// Create fails with ErrDuplicateDataSet when the id is taken.
	Create(ctx context.Context, ds *DataSetManagement) error
	// GetByID fails with ErrDataSetNotFound for an unknown id.
	GetByID(ctx context.Context, dataSetID string) (*DataSetManagement, error)
	// GetLatestByJobDateAndType returns nil when no data set exists.
	GetLatestByJobDateAndType(ctx context.Context, jobDate time.Time, processType ProcessType) (*DataSetManagement, error)
	Update(ctx context.Context, ds *DataSetManagement) error
}

// HistoryRepository persists process history rows
// 処理履歴のストレージインターフェース
type HistoryRepository interface {
	// Create assigns h.ID.
	Create(ctx context.Context, h *ProcessHistory) error
	// GetByID fails with ErrHistoryNotFound for an unknown id.
	GetByID(ctx context.Context, id int64) (*ProcessHistory, error)
	Update(ctx context.Context, h *ProcessHistory) error
	// GetLastSuccessful returns nil when the process type never completed.
	GetLastSuccessful(ctx context.Context, processType ProcessType) (*ProcessHistory, error)
	GetByJobDateAndType(ctx context.Context, jobDate time.Time, processType ProcessType) ([]ProcessHistory, error)
}

// HistorySummarizer aggregates history for dashboards
// 処理履歴の集計
type HistorySummarizer interface {
	Summarize(ctx context.Context, from, to time.Time) ([]ProcessSummaryRow, error)
}

// Mailer delivers a plain text message
// メール送信インターフェース
type Mailer interface {
	Send(ctx context.Context, to []string, subject, body string) error
}

// Locker serializes runs across processes. Acquire returns ErrAlreadyRunning
// when the key is held elsewhere.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(context.Context) error, err error)
}

// Recorder observes finished runs
// バッチ実行結果の計測
type Recorder interface {
	ObserveRun(processType ProcessType, status ProcessStatus, elapsed time.Duration)
}

// WorkFunc is the domain work of a batch run, executed between
// InitializeProcess and FinalizeProcess.
type WorkFunc func(ctx context.Context, pc *ProcessContext) (message string, err error)
