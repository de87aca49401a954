package batch

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockHistoryRepository はテスト用のHistoryRepositoryモック
type MockHistoryRepository struct {
	mock.Mock
}

func (m *MockHistoryRepository) Create(ctx context.Context, h *ProcessHistory) error {
	args := m.Called(ctx, h)
	return args.Error(0)
}

func (m *MockHistoryRepository) GetByID(ctx context.Context, id int64) (*ProcessHistory, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ProcessHistory), args.Error(1)
}

func (m *MockHistoryRepository) Update(ctx context.Context, h *ProcessHistory) error {
	args := m.Called(ctx, h)
	return args.Error(0)
}

func (m *MockHistoryRepository) GetLastSuccessful(ctx context.Context, processType ProcessType) (*ProcessHistory, error) {
	args := m.Called(ctx, processType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ProcessHistory), args.Error(1)
}

func (m *MockHistoryRepository) GetByJobDateAndType(ctx context.Context, jobDate time.Time, processType ProcessType) ([]ProcessHistory, error) {
	args := m.Called(ctx, jobDate, processType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ProcessHistory), args.Error(1)
}

// MockDataSetRepository はテスト用のDataSetRepositoryモック
type MockDataSetRepository struct {
	mock.Mock
}

func (m *MockDataSetRepository) Create(ctx context.Context, ds *DataSetManagement) error {
	args := m.Called(ctx, ds)
	return args.Error(0)
}

func (m *MockDataSetRepository) GetByID(ctx context.Context, dataSetID string) (*DataSetManagement, error) {
	args := m.Called(ctx, dataSetID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*DataSetManagement), args.Error(1)
}

func (m *MockDataSetRepository) GetLatestByJobDateAndType(ctx context.Context, jobDate time.Time, processType ProcessType) (*DataSetManagement, error) {
	args := m.Called(ctx, jobDate, processType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*DataSetManagement), args.Error(1)
}

func (m *MockDataSetRepository) Update(ctx context.Context, ds *DataSetManagement) error {
	args := m.Called(ctx, ds)
	return args.Error(0)
}

// MockMailer はテスト用のMailerモック
type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) Send(ctx context.Context, to []string, subject, body string) error {
	args := m.Called(ctx, to, subject, body)
	return args.Error(0)
}

// MockLocker はテスト用のLockerモック
type MockLocker struct {
	mock.Mock
}

func (m *MockLocker) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(func(context.Context) error), args.Error(1)
}

// MockRecorder はテスト用のRecorderモック
type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) ObserveRun(processType ProcessType, status ProcessStatus, elapsed time.Duration) {
	m.Called(processType, status, elapsed)
}

// fixedClock returns a clock frozen at the given JST wall time.
func fixedClock(year int, month time.Month, day, hour, min, sec int) func() time.Time {
	t := time.Date(year, month, day, hour, min, sec, 0, JST)
	return func() time.Time { return t }
}

func jstDate(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, JST)
}
