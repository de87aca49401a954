package batch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestHistoryService(repo HistoryRepository, mailer Mailer, email EmailSettings) *HistoryService {
	return NewHistoryService(repo, mailer, zap.NewNop(), email, JST).
		WithNow(fixedClock(2025, time.June, 10, 16, 0, 0))
}

// TestHistoryService_StartProcess は処理開始のテスト
func TestHistoryService_StartProcess(t *testing.T) {
	ctx := context.Background()
	repo := new(MockHistoryRepository)
	svc := newTestHistoryService(repo, nil, EmailSettings{})

	repo.On("Create", ctx, mock.AnythingOfType("*batch.ProcessHistory")).
		Run(func(args mock.Arguments) {
			args.Get(1).(*ProcessHistory).ID = 42
		}).
		Return(nil)

	// テスト実行
	h, err := svc.StartProcess(ctx, "DS_20250609_160000_CARRYOVER", jstDate(2025, time.June, 9), ProcessTypeCarryover, "")

	// アサーション
	require.NoError(t, err)
	assert.Equal(t, int64(42), h.ID)
	assert.Equal(t, ProcessStatusRunning, h.Status)
	assert.Equal(t, DefaultCreatedBy, h.ExecutedBy)
	assert.Nil(t, h.EndTime)
	repo.AssertExpectations(t)
}

// TestHistoryService_StartProcessError は処理履歴作成失敗のテスト
func TestHistoryService_StartProcessError(t *testing.T) {
	ctx := context.Background()
	repo := new(MockHistoryRepository)
	svc := newTestHistoryService(repo, nil, EmailSettings{})
	boom := errors.New("insert failed")
	repo.On("Create", ctx, mock.Anything).Return(boom)

	h, err := svc.StartProcess(ctx, "DS", jstDate(2025, time.June, 9), ProcessTypeImport, "tanaka")

	assert.Nil(t, h)
	assert.ErrorIs(t, err, boom)
}

// TestHistoryService_CompleteProcess は処理完了のテスト
func TestHistoryService_CompleteProcess(t *testing.T) {
	ctx := context.Background()

	t.Run("正常終了", func(t *testing.T) {
		repo := new(MockHistoryRepository)
		svc := newTestHistoryService(repo, nil, EmailSettings{})
		running := &ProcessHistory{ID: 7, Status: ProcessStatusRunning, StartTime: time.Date(2025, 6, 10, 6, 30, 0, 0, time.UTC)}
		repo.On("GetByID", ctx, int64(7)).Return(running, nil)
		repo.On("Update", ctx, running).Return(nil)

		h, err := svc.CompleteProcess(ctx, 7, true, "")

		require.NoError(t, err)
		assert.Equal(t, ProcessStatusCompleted, h.Status)
		require.NotNil(t, h.EndTime)
		assert.Equal(t, 30*time.Minute, h.Duration())
		repo.AssertExpectations(t)
	})

	t.Run("異常終了", func(t *testing.T) {
		repo := new(MockHistoryRepository)
		svc := newTestHistoryService(repo, nil, EmailSettings{})
		running := &ProcessHistory{ID: 8, Status: ProcessStatusRunning}
		repo.On("GetByID", ctx, int64(8)).Return(running, nil)
		repo.On("Update", ctx, running).Return(nil)

		h, err := svc.CompleteProcess(ctx, 8, false, "在庫マスタの登録に失敗しました")

		require.NoError(t, err)
		assert.Equal(t, ProcessStatusFailed, h.Status)
		assert.Equal(t, "在庫マスタの登録に失敗しました", h.ErrorMessage)
	})

	t.Run("存在しないID", func(t *testing.T) {
		repo := new(MockHistoryRepository)
		svc := newTestHistoryService(repo, nil, EmailSettings{})
		repo.On("GetByID", ctx, int64(999)).Return(nil, ErrHistoryNotFound)

		h, err := svc.CompleteProcess(ctx, 999, true, "")

		assert.Nil(t, h)
		assert.ErrorIs(t, err, ErrHistoryNotFound)
		assert.Contains(t, err.Error(), "ID=999")
		repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	})

	t.Run("終了済みは再オープンしない", func(t *testing.T) {
		repo := new(MockHistoryRepository)
		svc := newTestHistoryService(repo, nil, EmailSettings{})
		done := &ProcessHistory{ID: 9, Status: ProcessStatusCompleted}
		repo.On("GetByID", ctx, int64(9)).Return(done, nil)

		_, err := svc.CompleteProcess(ctx, 9, false, "retry")

		assert.ErrorIs(t, err, ErrHistoryClosed)
		assert.Equal(t, ProcessStatusCompleted, done.Status)
		repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	})
}

func finishedDailyClose() *ProcessHistory {
	end := time.Date(2025, 6, 10, 7, 3, 0, 0, time.UTC)
	return &ProcessHistory{
		ID:          11,
		JobDate:     jstDate(2025, time.June, 9),
		ProcessType: ProcessTypeDailyClose,
		StartTime:   time.Date(2025, 6, 10, 7, 0, 0, 0, time.UTC),
		EndTime:     &end,
		Status:      ProcessStatusCompleted,
		ExecutedBy:  "tanaka",
	}
}

// TestHistoryService_SendCompletionEmail は完了通知メールのテスト
func TestHistoryService_SendCompletionEmail(t *testing.T) {
	ctx := context.Background()
	to := []string{"ops@example.com"}

	t.Run("無効設定では送信しない", func(t *testing.T) {
		mailer := new(MockMailer)
		svc := newTestHistoryService(new(MockHistoryRepository), mailer, EmailSettings{Enabled: false, To: to})

		svc.SendCompletionEmail(ctx, finishedDailyClose())

		mailer.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("日次終了処理以外は送信しない", func(t *testing.T) {
		mailer := new(MockMailer)
		svc := newTestHistoryService(new(MockHistoryRepository), mailer, EmailSettings{Enabled: true, To: to})
		h := finishedDailyClose()
		h.ProcessType = ProcessTypeCarryover

		svc.SendCompletionEmail(ctx, h)

		mailer.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("宛先未設定は送信しない", func(t *testing.T) {
		mailer := new(MockMailer)
		svc := newTestHistoryService(new(MockHistoryRepository), mailer, EmailSettings{Enabled: true})

		svc.SendCompletionEmail(ctx, finishedDailyClose())

		mailer.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("本文", func(t *testing.T) {
		mailer := new(MockMailer)
		svc := newTestHistoryService(new(MockHistoryRepository), mailer, EmailSettings{Enabled: true, To: to})

		var body string
		mailer.On("Send", ctx, to, DefaultCompletionSubject, mock.AnythingOfType("string")).
			Run(func(args mock.Arguments) { body = args.String(3) }).
			Return(nil)

		svc.SendCompletionEmail(ctx, finishedDailyClose())

		mailer.AssertExpectations(t)
		assert.Contains(t, body, "処理日付: 2025/06/09")
		assert.Contains(t, body, "開始時刻: 2025/06/10 16:00:00")
		assert.Contains(t, body, "完了時刻: 2025/06/10 16:03:00")
		assert.Contains(t, body, "処理時間: 3.0分")
		assert.Contains(t, body, "処理結果: 正常終了")
		assert.Contains(t, body, "実行者: tanaka")
		assert.NotContains(t, body, "メッセージ:")
		assert.True(t, strings.HasSuffix(body, "このメールは自動送信されています。\n"))
	})

	t.Run("送信失敗は握りつぶす", func(t *testing.T) {
		mailer := new(MockMailer)
		svc := newTestHistoryService(new(MockHistoryRepository), mailer, EmailSettings{Enabled: true, To: to, Subject: "件名"})
		mailer.On("Send", ctx, to, "件名", mock.Anything).Return(errors.New("smtp: connection refused"))

		assert.NotPanics(t, func() { svc.SendCompletionEmail(ctx, finishedDailyClose()) })
		mailer.AssertExpectations(t)
	})
}
