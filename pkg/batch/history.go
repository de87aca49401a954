package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultCompletionSubject is the subject of the daily close notice.
const DefaultCompletionSubject = "在庫管理システム - 日次終了処理完了通知"

// EmailSettings controls the daily close completion notice
// 完了通知メールの設定
type EmailSettings struct {
	Enabled bool
	To      []string
	Subject string
}

// HistoryService records the lifecycle of batch runs
// 処理履歴サービス
type HistoryService struct {
	repo     HistoryRepository
	mailer   Mailer
	logger   *zap.Logger
	email    EmailSettings
	location *time.Location
	now      func() time.Time
}

// NewHistoryService creates a new process history service
// 処理履歴サービスを作成
func NewHistoryService(repo HistoryRepository, mailer Mailer, logger *zap.Logger, email EmailSettings, loc *time.Location) *HistoryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = JST
	}
	if email.Subject == "" {
		email.Subject = DefaultCompletionSubject
	}
	return &HistoryService{
		repo:     repo,
		mailer:   mailer,
		logger:   logger,
		email:    email,
		location: loc,
		now:      time.Now,
	}
}

// WithNow overrides the clock.
func (s *HistoryService) WithNow(now func() time.Time) *HistoryService {
	if now != nil {
		s.now = now
	}
	return s
}

// StartProcess creates a Running history row. Persistence failures are returned.
func (s *HistoryService) StartProcess(ctx context.Context, dataSetID string, jobDate time.Time, processType ProcessType, executedBy string) (*ProcessHistory, error) {
	if executedBy == "" {
		executedBy = DefaultCreatedBy
	}
	h := &ProcessHistory{
		DataSetID:   dataSetID,
		JobDate:     jobDate,
		ProcessType: processType,
		StartTime:   s.now().UTC(),
		Status:      ProcessStatusRunning,
		ExecutedBy:  executedBy,
	}
	if err := s.repo.Create(ctx, h); err != nil {
		s.logger.Error("処理履歴の作成に失敗しました",
			zap.String("data_set_id", dataSetID),
			zap.String("process_type", processType.String()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("処理履歴の作成に失敗しました: %w", err)
	}

	s.logger.Info("処理開始",
		zap.Int64("history_id", h.ID),
		zap.String("data_set_id", dataSetID),
		zap.String("job_date", jobDate.Format("2006-01-02")),
		zap.String("process_type", processType.String()),
	)
	return h, nil
}

// CompleteProcess closes a Running history as Completed or Failed. An unknown
// id or an already closed history is an error and nothing is written.
func (s *HistoryService) CompleteProcess(ctx context.Context, historyID int64, success bool, message string) (*ProcessHistory, error) {
	h, err := s.repo.GetByID(ctx, historyID)
	if err != nil {
		if errors.Is(err, ErrHistoryNotFound) {
			s.logger.Error("処理履歴が見つかりません", zap.Int64("history_id", historyID))
			return nil, fmt.Errorf("%w: ID=%d", ErrHistoryNotFound, historyID)
		}
		return nil, fmt.Errorf("処理履歴の取得に失敗しました: %w", err)
	}
	if h == nil {
		return nil, fmt.Errorf("%w: ID=%d", ErrHistoryNotFound, historyID)
	}
	if h.Status.Terminal() {
		return nil, fmt.Errorf("%w: ID=%d (Status: %s)", ErrHistoryClosed, historyID, h.Status)
	}

	end := s.now().UTC()
	h.EndTime = &end
	if success {
		h.Status = ProcessStatusCompleted
	} else {
		h.Status = ProcessStatusFailed
	}
	h.ErrorMessage = message

	if err := s.repo.Update(ctx, h); err != nil {
		s.logger.Error("処理履歴の更新に失敗しました", zap.Int64("history_id", historyID), zap.Error(err))
		return nil, fmt.Errorf("処理履歴の更新に失敗しました: %w", err)
	}

	s.logger.Info("処理完了",
		zap.Int64("history_id", h.ID),
		zap.String("status", h.Status.String()),
		zap.Duration("elapsed", h.Duration()),
	)
	return h, nil
}

// SendCompletionEmail notifies operators that a daily close finished. It does
// nothing for other process types or when email is disabled. Delivery errors
// are logged and dropped.
func (s *HistoryService) SendCompletionEmail(ctx context.Context, h *ProcessHistory) {
	if h == nil || h.ProcessType != ProcessTypeDailyClose {
		return
	}
	if !s.email.Enabled {
		s.logger.Debug("メール通知は無効です")
		return
	}
	if s.mailer == nil || len(s.email.To) == 0 {
		s.logger.Warn("メール設定が不完全なため送信をスキップしました")
		return
	}

	body := s.completionBody(h)
	if err := s.mailer.Send(ctx, s.email.To, s.email.Subject, body); err != nil {
		s.logger.Error("完了通知メールの送信に失敗しました",
			zap.Int64("history_id", h.ID),
			zap.Strings("to", s.email.To),
			zap.Error(err),
		)
		return
	}
	s.logger.Info("完了通知メールを送信しました",
		zap.Int64("history_id", h.ID),
		zap.Strings("to", s.email.To),
	)
}

func (s *HistoryService) completionBody(h *ProcessHistory) string {
	const layout = "2006/01/02 15:04:05"

	result := "正常終了"
	if h.Status != ProcessStatusCompleted {
		result = "異常終了"
	}
	end := "-"
	if h.EndTime != nil {
		end = h.EndTime.In(s.location).Format(layout)
	}

	var b strings.Builder
	b.WriteString("日次終了処理が完了しました。\n\n")
	fmt.Fprintf(&b, "処理日付: %s\n", h.JobDate.Format("2006/01/02"))
	fmt.Fprintf(&b, "開始時刻: %s\n", h.StartTime.In(s.location).Format(layout))
	fmt.Fprintf(&b, "完了時刻: %s\n", end)
	fmt.Fprintf(&b, "処理時間: %.1f分\n", h.Duration().Minutes())
	fmt.Fprintf(&b, "処理結果: %s\n", result)
	fmt.Fprintf(&b, "実行者: %s\n", h.ExecutedBy)
	if h.ErrorMessage != "" {
		fmt.Fprintf(&b, "メッセージ: %s\n", h.ErrorMessage)
	}
	b.WriteString("\nこのメールは自動送信されています。\n")
	return b.String()
}

// GetLastSuccessfulProcess returns the last completed run of processType, or nil.
func (s *HistoryService) GetLastSuccessfulProcess(ctx context.Context, processType ProcessType) (*ProcessHistory, error) {
	return s.repo.GetLastSuccessful(ctx, processType)
}

// GetProcessHistory returns every run of processType for jobDate.
func (s *HistoryService) GetProcessHistory(ctx context.Context, jobDate time.Time, processType ProcessType) ([]ProcessHistory, error) {
	return s.repo.GetByJobDateAndType(ctx, jobDate, processType)
}
