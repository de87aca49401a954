package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiGoBatch/pkg/batch"
)

func TestResetService_PlanAndExecute(t *testing.T) {
	repo := new(MockRepository)
	histories := new(MockHistoryRepository)
	dataSets := new(MockDataSetRepository)
	svc := NewResetService(repo, histories, dataSets, zap.NewNop()).WithNow(fixedNow)

	jobDate := jstDate(2025, 6, 2)
	histories.On("GetByJobDateAndType", mock.Anything, jobDate, batch.ProcessTypeCarryover).Return([]batch.ProcessHistory{
		{ID: 1, Status: batch.ProcessStatusRunning, JobDate: jobDate, ProcessType: batch.ProcessTypeCarryover},
		{ID: 2, Status: batch.ProcessStatusCompleted, JobDate: jobDate, ProcessType: batch.ProcessTypeCarryover},
	}, nil)
	latest := &batch.DataSetManagement{DataSetID: "DS_20250602_103000_CARRYOVER", Status: batch.DataSetStatusProcessing, IsActive: true}
	dataSets.On("GetLatestByJobDateAndType", mock.Anything, jobDate, batch.ProcessTypeCarryover).Return(latest, nil)

	// テスト実行
	plan, err := svc.Plan(context.Background(), jobDate, batch.ProcessTypeCarryover)

	// アサーション
	require.NoError(t, err)
	assert.True(t, plan.DeactivatesRows)
	require.Len(t, plan.Histories, 2)
	assert.False(t, plan.Empty())

	repo.On("DeactivateByJobDate", mock.Anything, jobDate).Return(int64(3), nil)
	histories.On("Update", mock.Anything, mock.MatchedBy(func(h *batch.ProcessHistory) bool {
		return h.Status == batch.ProcessStatusFailed && h.ErrorMessage == ResetMessage && h.EndTime != nil
	})).Return(nil).Twice()
	dataSets.On("Update", mock.Anything, mock.MatchedBy(func(ds *batch.DataSetManagement) bool {
		return ds.IsArchived && !ds.IsActive && ds.ArchivedBy == "admin" && ds.Status == batch.DataSetStatusFailed
	})).Return(nil)

	// テスト実行
	res, err := svc.Execute(context.Background(), plan, "admin")

	// アサーション
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.DeactivatedRows)
	assert.Equal(t, 2, res.FailedHistories)
	assert.Equal(t, "DS_20250602_103000_CARRYOVER", res.ArchivedDataSet)
	repo.AssertExpectations(t)
	histories.AssertExpectations(t)
	dataSets.AssertExpectations(t)
}

func TestResetService_InitUsesInitDeactivation(t *testing.T) {
	repo := new(MockRepository)
	svc := NewResetService(repo, new(MockHistoryRepository), new(MockDataSetRepository), nil)
	plan := &ResetPlan{JobDate: jstDate(2025, 5, 31), ProcessType: batch.ProcessTypeInit, DeactivatesRows: true}

	repo.On("DeactivateInitByJobDate", mock.Anything, plan.JobDate).Return(int64(10), nil)

	// テスト実行
	res, err := svc.Execute(context.Background(), plan, "")

	// アサーション
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.DeactivatedRows)
	repo.AssertNotCalled(t, "DeactivateByJobDate", mock.Anything, mock.Anything)
}

func TestResetService_PlanForDailyCloseKeepsRows(t *testing.T) {
	histories := new(MockHistoryRepository)
	dataSets := new(MockDataSetRepository)
	svc := NewResetService(new(MockRepository), histories, dataSets, nil)
	jobDate := jstDate(2025, 6, 2)

	histories.On("GetByJobDateAndType", mock.Anything, jobDate, batch.ProcessTypeDailyClose).Return([]batch.ProcessHistory{}, nil)
	dataSets.On("GetLatestByJobDateAndType", mock.Anything, jobDate, batch.ProcessTypeDailyClose).
		Return(&batch.DataSetManagement{DataSetID: "DS_OLD", IsArchived: true}, nil)

	// テスト実行
	plan, err := svc.Plan(context.Background(), jobDate, batch.ProcessTypeDailyClose)

	// アサーション
	require.NoError(t, err)
	assert.False(t, plan.DeactivatesRows)
	assert.Nil(t, plan.LatestDataSet)
	assert.True(t, plan.Empty())
}

func TestResetService_PlanRejectsInvalidType(t *testing.T) {
	svc := NewResetService(nil, nil, nil, nil)

	// テスト実行
	_, err := svc.Plan(context.Background(), jstDate(2025, 6, 2), batch.ProcessType(0))

	// アサーション
	var ve *batch.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestResetService_AllowsRerunOfCarryover(t *testing.T) {
	f := newCarryoverFixture()
	f.repo.rows = []InventoryMaster{priorRow("00001", "DS_PREV", "100", "5000")}
	f.sales["2025-06-02"] = []Voucher{voucherOf(VoucherKindSales, "00002", "S002")}
	histories := newMemHistory()
	clock := func() time.Time { return time.Date(2025, 6, 2, 18, 0, 0, 0, batch.JST) }
	validator := batch.NewDateValidator(histories, zap.NewNop(), batch.DefaultDateValidationConfig()).WithNow(clock)
	history := batch.NewHistoryService(histories, nil, zap.NewNop(), batch.EmailSettings{}, batch.JST).WithNow(clock)
	runner := batch.NewRunner(validator, f.manager, history, zap.NewNop(), batch.WithClock(clock))
	reset := NewResetService(f.repo, histories, f.dataSets, zap.NewNop()).WithNow(clock)
	req := batch.Request{JobDate: jstDate(2025, 6, 2), ProcessType: batch.ProcessTypeCarryover, ExecutedBy: "tester"}
	ctx := context.Background()

	var first CarryoverResult
	_, err := runner.RunBatch(ctx, req, f.svc.Work(nil, &first))
	require.NoError(t, err)

	// リセット前は処理済みとして拒否される
	_, err = runner.RunBatch(ctx, req, f.svc.Work(nil, nil))
	require.Error(t, err)

	// テスト実行
	plan, err := reset.Plan(ctx, req.JobDate, req.ProcessType)
	require.NoError(t, err)
	_, err = reset.Execute(ctx, plan, "admin")
	require.NoError(t, err)

	var second CarryoverResult
	_, err = runner.RunBatch(ctx, req, f.svc.Work(nil, &second))

	// アサーション
	require.NoError(t, err)
	assert.Equal(t, first.InheritedCount, second.InheritedCount)
	assert.Equal(t, first.NewCount, second.NewCount)
	active, err := f.repo.GetActiveByJobDate(ctx, req.JobDate)
	require.NoError(t, err)
	assert.Equal(t, sortedKeys(first.Rows), sortedKeys(active))
	assert.NotEqual(t, first.DataSetID, second.DataSetID)
}
