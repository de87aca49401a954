package inventory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/nemonet1337/zaiGoBatch/pkg/batch"
)

// MockRepository はテスト用のRepositoryモック
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) GetActiveByJobDate(ctx context.Context, jobDate time.Time) ([]InventoryMaster, error) {
	args := m.Called(ctx, jobDate)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]InventoryMaster), args.Error(1)
}

func (m *MockRepository) GetActiveInitInventory(ctx context.Context, jobDate time.Time) ([]InventoryMaster, error) {
	args := m.Called(ctx, jobDate)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]InventoryMaster), args.Error(1)
}

func (m *MockRepository) DeactivateByJobDate(ctx context.Context, jobDate time.Time) (int64, error) {
	args := m.Called(ctx, jobDate)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRepository) DeactivateInitByJobDate(ctx context.Context, jobDate time.Time) (int64, error) {
	args := m.Called(ctx, jobDate)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRepository) BulkInsert(ctx context.Context, rows []InventoryMaster) (int64, error) {
	args := m.Called(ctx, rows)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRepository) MarkDailyClosed(ctx context.Context, jobDate time.Time) (int64, error) {
	args := m.Called(ctx, jobDate)
	return args.Get(0).(int64), args.Error(1)
}

// MockVoucherRepository はテスト用のVoucherRepositoryモック
type MockVoucherRepository struct {
	mock.Mock
}

func (m *MockVoucherRepository) GetByJobDate(ctx context.Context, jobDate time.Time) ([]Voucher, error) {
	args := m.Called(ctx, jobDate)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Voucher), args.Error(1)
}

// MockDataSetRepository はテスト用のDataSetRepositoryモック
type MockDataSetRepository struct {
	mock.Mock
}

func (m *MockDataSetRepository) Create(ctx context.Context, ds *batch.DataSetManagement) error {
	args := m.Called(ctx, ds)
	return args.Error(0)
}

func (m *MockDataSetRepository) GetByID(ctx context.Context, dataSetID string) (*batch.DataSetManagement, error) {
	args := m.Called(ctx, dataSetID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*batch.DataSetManagement), args.Error(1)
}

func (m *MockDataSetRepository) GetLatestByJobDateAndType(ctx context.Context, jobDate time.Time, processType batch.ProcessType) (*batch.DataSetManagement, error) {
	args := m.Called(ctx, jobDate, processType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*batch.DataSetManagement), args.Error(1)
}

func (m *MockDataSetRepository) Update(ctx context.Context, ds *batch.DataSetManagement) error {
	args := m.Called(ctx, ds)
	return args.Error(0)
}

// MockHistoryRepository はテスト用のHistoryRepositoryモック
type MockHistoryRepository struct {
	mock.Mock
}

func (m *MockHistoryRepository) Create(ctx context.Context, h *batch.ProcessHistory) error {
	args := m.Called(ctx, h)
	return args.Error(0)
}

func (m *MockHistoryRepository) GetByID(ctx context.Context, id int64) (*batch.ProcessHistory, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*batch.ProcessHistory), args.Error(1)
}

func (m *MockHistoryRepository) Update(ctx context.Context, h *batch.ProcessHistory) error {
	args := m.Called(ctx, h)
	return args.Error(0)
}

func (m *MockHistoryRepository) GetLastSuccessful(ctx context.Context, processType batch.ProcessType) (*batch.ProcessHistory, error) {
	args := m.Called(ctx, processType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*batch.ProcessHistory), args.Error(1)
}

func (m *MockHistoryRepository) GetByJobDateAndType(ctx context.Context, jobDate time.Time, processType batch.ProcessType) ([]batch.ProcessHistory, error) {
	args := m.Called(ctx, jobDate, processType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]batch.ProcessHistory), args.Error(1)
}

// memRepository is an in-memory Repository keeping deactivated rows around
type memRepository struct {
	mu   sync.Mutex
	rows []InventoryMaster
}

func (r *memRepository) GetActiveByJobDate(_ context.Context, jobDate time.Time) ([]InventoryMaster, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []InventoryMaster
	for _, row := range r.rows {
		if row.IsActive && row.JobDate.Equal(jobDate) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *memRepository) GetActiveInitInventory(_ context.Context, jobDate time.Time) ([]InventoryMaster, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest time.Time
	for _, row := range r.rows {
		if row.IsActive && row.ImportType == batch.ImportTypeInit && !row.JobDate.After(jobDate) && row.JobDate.After(latest) {
			latest = row.JobDate
		}
	}
	var out []InventoryMaster
	for _, row := range r.rows {
		if row.IsActive && row.ImportType == batch.ImportTypeInit && row.JobDate.Equal(latest) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *memRepository) deactivate(jobDate time.Time, match func(InventoryMaster) bool) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for i := range r.rows {
		if r.rows[i].IsActive && r.rows[i].JobDate.Equal(jobDate) && match(r.rows[i]) {
			r.rows[i].IsActive = false
			n++
		}
	}
	return n
}

func (r *memRepository) DeactivateByJobDate(_ context.Context, jobDate time.Time) (int64, error) {
	return r.deactivate(jobDate, func(InventoryMaster) bool { return true }), nil
}

func (r *memRepository) DeactivateInitByJobDate(_ context.Context, jobDate time.Time) (int64, error) {
	return r.deactivate(jobDate, func(m InventoryMaster) bool { return m.ImportType == batch.ImportTypeInit }), nil
}

func (r *memRepository) BulkInsert(_ context.Context, rows []InventoryMaster) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, rows...)
	return int64(len(rows)), nil
}

func (r *memRepository) MarkDailyClosed(_ context.Context, jobDate time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for i := range r.rows {
		if r.rows[i].IsActive && r.rows[i].JobDate.Equal(jobDate) {
			r.rows[i].DailyFlag = DailyFlagClosed
			n++
		}
	}
	return n, nil
}

// memVouchers returns fixed vouchers keyed by yyyy-MM-dd
type memVouchers map[string][]Voucher

func (v memVouchers) GetByJobDate(_ context.Context, jobDate time.Time) ([]Voucher, error) {
	return v[jobDate.Format("2006-01-02")], nil
}

// memDataSets records every stored data set by id
type memDataSets struct {
	mu   sync.Mutex
	sets map[string]batch.DataSetManagement
}

func newMemDataSets() *memDataSets {
	return &memDataSets{sets: make(map[string]batch.DataSetManagement)}
}

func (d *memDataSets) Create(_ context.Context, ds *batch.DataSetManagement) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.sets[ds.DataSetID]; ok {
		return batch.ErrDuplicateDataSet
	}
	d.sets[ds.DataSetID] = *ds
	return nil
}

func (d *memDataSets) GetByID(_ context.Context, id string) (*batch.DataSetManagement, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ds, ok := d.sets[id]
	if !ok {
		return nil, batch.ErrDataSetNotFound
	}
	return &ds, nil
}

func (d *memDataSets) GetLatestByJobDateAndType(_ context.Context, jobDate time.Time, pt batch.ProcessType) (*batch.DataSetManagement, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var latest *batch.DataSetManagement
	for _, ds := range d.sets {
		if ds.JobDate.Equal(jobDate) && ds.ProcessType == pt && (latest == nil || ds.CreatedAt.After(latest.CreatedAt)) {
			ds := ds
			latest = &ds
		}
	}
	return latest, nil
}

func (d *memDataSets) Update(_ context.Context, ds *batch.DataSetManagement) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.sets[ds.DataSetID]; !ok {
		return batch.ErrDataSetNotFound
	}
	d.sets[ds.DataSetID] = *ds
	return nil
}

func jstDate(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, batch.JST)
}

func fixedNow() time.Time {
	return time.Date(2025, 6, 2, 10, 30, 0, 0, batch.JST)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func keyOf(product string) InventoryKey {
	return NewInventoryKey(product, "000", "000", "0000", "")
}

func sortedKeys(rows []InventoryMaster) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.InventoryKey.String())
	}
	sort.Strings(out)
	return out
}

// memHistory is an in-memory batch.HistoryRepository
type memHistory struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]batch.ProcessHistory
}

func newMemHistory() *memHistory {
	return &memHistory{rows: make(map[int64]batch.ProcessHistory)}
}

func (h *memHistory) Create(_ context.Context, p *batch.ProcessHistory) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	p.ID = h.nextID
	h.rows[p.ID] = *p
	return nil
}

func (h *memHistory) GetByID(_ context.Context, id int64) (*batch.ProcessHistory, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.rows[id]
	if !ok {
		return nil, batch.ErrHistoryNotFound
	}
	return &p, nil
}

func (h *memHistory) Update(_ context.Context, p *batch.ProcessHistory) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rows[p.ID]; !ok {
		return batch.ErrHistoryNotFound
	}
	h.rows[p.ID] = *p
	return nil
}

func (h *memHistory) GetLastSuccessful(_ context.Context, pt batch.ProcessType) (*batch.ProcessHistory, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var last *batch.ProcessHistory
	for _, p := range h.rows {
		if p.ProcessType == pt && p.Status == batch.ProcessStatusCompleted && (last == nil || p.JobDate.After(last.JobDate)) {
			p := p
			last = &p
		}
	}
	return last, nil
}

func (h *memHistory) GetByJobDateAndType(_ context.Context, jobDate time.Time, pt batch.ProcessType) ([]batch.ProcessHistory, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []batch.ProcessHistory
	for _, p := range h.rows {
		if p.ProcessType == pt && p.JobDate.Equal(jobDate) {
			out = append(out, p)
		}
	}
	return out, nil
}
